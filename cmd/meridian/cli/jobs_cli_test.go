package cli

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/meridian-erp/meridian-erp/jobs"
)

func TestBuildTaskKnownJobs(t *testing.T) {
	names := []string{
		jobs.TaskLedgerIntegrityScan,
		jobs.TaskVendorBalanceCheck,
		jobs.TaskGLCacheWarmup,
	}
	for _, name := range names {
		task, err := buildTask(name)
		require.NoError(t, err, name)
		require.Equal(t, name, task.Type())
		require.True(t, json.Valid(task.Payload()), name)
	}
}

func TestBuildTaskIntegrityScanDefaultsToAllCompanies(t *testing.T) {
	task, err := buildTask(jobs.TaskLedgerIntegrityScan)
	require.NoError(t, err)

	var payload jobs.IntegrityScanPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	require.Zero(t, payload.CompanyID)
}

func TestBuildTaskWarmupTargetsActiveCompanies(t *testing.T) {
	task, err := buildTask(jobs.TaskGLCacheWarmup)
	require.NoError(t, err)

	var payload jobs.CacheWarmupPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	require.Equal(t, "active", payload.CompanyScope)
}

func TestBuildTaskUnsupportedJob(t *testing.T) {
	_, err := buildTask("reports:nightly")
	require.Error(t, err)
	require.Contains(t, err.Error(), "unsupported job")
}

func TestTriggerRequiresClient(t *testing.T) {
	cli := &JobsCLI{}
	_, err := cli.Trigger(context.Background(), jobs.TaskLedgerIntegrityScan)
	require.Error(t, err)

	_, err = cli.InspectQueue(context.Background())
	require.Error(t, err)

	_, err = cli.ListScheduled(context.Background(), 5)
	require.Error(t, err)
}
