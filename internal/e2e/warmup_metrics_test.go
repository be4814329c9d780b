package e2e

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/meridian-erp/meridian-erp/internal/gl"
	jobmetrics "github.com/meridian-erp/meridian-erp/internal/jobs"
	"github.com/meridian-erp/meridian-erp/internal/shared"
	"github.com/meridian-erp/meridian-erp/jobs"
)

type stubReports struct {
	scopes []shared.Scope
	err    error
}

func (s *stubReports) TrialBalance(_ context.Context, scope shared.Scope, _, _ time.Time) (gl.TrialBalance, error) {
	s.scopes = append(s.scopes, scope)
	return gl.TrialBalance{}, s.err
}

type stubCompanies struct {
	ids []int64
}

func (s *stubCompanies) ActiveCompanyIDs(_ context.Context) ([]int64, error) {
	return append([]int64(nil), s.ids...), nil
}

func TestCacheWarmupJobRecordsMetrics(t *testing.T) {
	reports := &stubReports{}
	companies := &stubCompanies{ids: []int64{11, 22, 33}}
	reg := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(reg)

	job := jobs.NewCacheWarmupJob(reports, companies, nil, metrics)
	task, err := jobs.NewCacheWarmupTask("active")
	if err != nil {
		t.Fatalf("create task: %v", err)
	}

	if err := job.Handle(context.Background(), task); err != nil {
		t.Fatalf("job handle: %v", err)
	}
	if len(reports.scopes) != 3 {
		t.Fatalf("expected 3 warmed scopes, got %d", len(reports.scopes))
	}
	for i, scope := range reports.scopes {
		if scope.CompanyID != companies.ids[i] {
			t.Fatalf("expected company %d at position %d, got %d", companies.ids[i], i, scope.CompanyID)
		}
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	if !assertCounter(t, families, "meridian_jobs_total", map[string]string{"job": jobs.TaskGLCacheWarmup, "status": "success"}, 1) {
		t.Fatalf("expected meridian_jobs_total increment for cache warmup")
	}
	if !metricExists(families, "meridian_job_duration_seconds") {
		t.Fatalf("expected meridian_job_duration_seconds to be recorded")
	}
}

func TestCacheWarmupJobRecordsFailure(t *testing.T) {
	reports := &stubReports{err: context.DeadlineExceeded}
	companies := &stubCompanies{ids: []int64{11}}
	reg := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(reg)

	job := jobs.NewCacheWarmupJob(reports, companies, nil, metrics)
	task, err := jobs.NewCacheWarmupTask("active")
	if err != nil {
		t.Fatalf("create task: %v", err)
	}

	if err := job.Handle(context.Background(), task); err == nil {
		t.Fatal("expected handle to fail when the report builder errors")
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	if !assertCounter(t, families, "meridian_jobs_total", map[string]string{"job": jobs.TaskGLCacheWarmup, "status": "failure"}, 1) {
		t.Fatalf("expected meridian_jobs_total failure increment")
	}
	if !assertCounter(t, families, "meridian_jobs_failures_total", map[string]string{"job": jobs.TaskGLCacheWarmup}, 1) {
		t.Fatalf("expected meridian_jobs_failures_total increment")
	}
}

func assertCounter(t *testing.T, families []*dto.MetricFamily, name string, labels map[string]string, expected float64) bool {
	t.Helper()
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, metric := range fam.GetMetric() {
			if matchLabels(metric.GetLabel(), labels) {
				if metric.GetCounter() == nil {
					return false
				}
				if metric.GetCounter().GetValue() == expected {
					return true
				}
			}
		}
	}
	return false
}

func metricExists(families []*dto.MetricFamily, name string) bool {
	for _, fam := range families {
		if fam.GetName() == name {
			return true
		}
	}
	return false
}

func matchLabels(pairs []*dto.LabelPair, expected map[string]string) bool {
	if len(expected) == 0 {
		return true
	}
	seen := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		seen[pair.GetName()] = pair.GetValue()
	}
	for k, v := range expected {
		if seen[k] != v {
			return false
		}
	}
	return true
}
