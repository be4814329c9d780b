package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	jobmetrics "github.com/meridian-erp/meridian-erp/internal/jobs"
)

const (
	// TaskVendorBalanceCheck replays vendor subledger movements against the
	// stored running balances.
	TaskVendorBalanceCheck = "ledger:vendor_balance_check"
)

// VendorBalanceCheckPayload narrows the replay to one company. Zero means
// every company.
type VendorBalanceCheckPayload struct {
	CompanyID int64 `json:"company_id"`
}

// NewVendorBalanceCheckTask constructs an Asynq task for the balance replay.
func NewVendorBalanceCheckTask(companyID int64) (*asynq.Task, error) {
	body, err := json.Marshal(VendorBalanceCheckPayload{CompanyID: companyID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskVendorBalanceCheck, body, asynq.Queue(QueueDefault)), nil
}

// VendorBalanceCheckJob replays each vendor's movement history from zero and
// compares every stored balance_after against the recomputed running total.
// Movements append under a vendor row lock, so a broken chain means a write
// bypassed the posting services.
type VendorBalanceCheckJob struct {
	Pool    *pgxpool.Pool
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewVendorBalanceCheckJob wires dependencies for the replay handler.
func NewVendorBalanceCheckJob(pool *pgxpool.Pool, logger *slog.Logger, metrics *jobmetrics.Metrics) *VendorBalanceCheckJob {
	return &VendorBalanceCheckJob{
		Pool:    pool,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes the vendor balance replay.
func (j *VendorBalanceCheckJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil {
		return errors.New("vendor balance check: handler not configured")
	}
	var payload VendorBalanceCheckPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	start := j.now()
	tracker := j.metrics().Track(TaskVendorBalanceCheck)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger().With(slog.Int64("company_id", payload.CompanyID))
	logger.Info("starting vendor balance check")

	chain, err := j.fetchMovements(ctx, payload.CompanyID)
	if err != nil {
		resultErr = err
		logger.Error("load vendor movements", slog.Any("error", err))
		return resultErr
	}

	vendors, findings := replayVendorChains(chain)
	for _, f := range findings {
		logger.Warn("vendor balance chain broken",
			slog.Int64("company_id", f.CompanyID),
			slog.Int64("vendor_id", f.VendorID),
			slog.Int64("movement_id", f.MovementID),
			slog.String("expected", f.Expected.String()),
			slog.String("actual", f.Actual.String()),
		)
		j.metrics().AddDiscrepancies("vendor_balance", f.CompanyID, 1)
	}

	logger.Info("completed vendor balance check",
		slog.Int("vendors", vendors),
		slog.Int("discrepancies", len(findings)),
		slog.Duration("duration", time.Since(start)),
	)
	return resultErr
}

type vendorMovementRow struct {
	ID           int64
	CompanyID    int64
	VendorID     int64
	Debit        decimal.Decimal
	Credit       decimal.Decimal
	BalanceAfter decimal.Decimal
}

type vendorFinding struct {
	CompanyID  int64
	VendorID   int64
	MovementID int64
	Expected   decimal.Decimal
	Actual     decimal.Decimal
}

func (j *VendorBalanceCheckJob) fetchMovements(ctx context.Context, companyID int64) ([]vendorMovementRow, error) {
	if j.Pool == nil {
		return nil, errors.New("vendor balance check: pool not configured")
	}
	rows, err := j.Pool.Query(ctx, `
SELECT id, company_id, vendor_id, debit, credit, balance_after
FROM vendor_ledger
WHERE $1 = 0 OR company_id = $1
ORDER BY company_id, vendor_id, id`, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	movements := make([]vendorMovementRow, 0)
	for rows.Next() {
		var m vendorMovementRow
		if err := rows.Scan(&m.ID, &m.CompanyID, &m.VendorID, &m.Debit, &m.Credit, &m.BalanceAfter); err != nil {
			return nil, err
		}
		movements = append(movements, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return movements, nil
}

// replayVendorChains walks movements ordered by company, vendor, id and
// recomputes each running balance. The first broken link per vendor is
// reported and the rest of that vendor's chain skipped, since every later
// balance inherits the corruption.
func replayVendorChains(movements []vendorMovementRow) (int, []vendorFinding) {
	type chainKey struct {
		company int64
		vendor  int64
	}
	findings := make([]vendorFinding, 0)
	vendors := 0

	var (
		current chainKey
		running decimal.Decimal
		skip    bool
	)
	for i, m := range movements {
		key := chainKey{company: m.CompanyID, vendor: m.VendorID}
		if i == 0 || key != current {
			current = key
			running = decimal.Zero
			skip = false
			vendors++
		}
		if skip {
			continue
		}
		running = running.Add(m.Credit).Sub(m.Debit)
		if !running.Equal(m.BalanceAfter) {
			findings = append(findings, vendorFinding{
				CompanyID:  m.CompanyID,
				VendorID:   m.VendorID,
				MovementID: m.ID,
				Expected:   running,
				Actual:     m.BalanceAfter,
			})
			skip = true
		}
	}
	return vendors, findings
}

func (j *VendorBalanceCheckJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskVendorBalanceCheck))
	}
	return slog.Default().With(slog.String("job", TaskVendorBalanceCheck))
}

func (j *VendorBalanceCheckJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *VendorBalanceCheckJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
