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
	// TaskLedgerIntegrityScan recomputes posted entry totals from their lines.
	TaskLedgerIntegrityScan = "ledger:integrity_scan"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// IntegrityScanPayload narrows the scan to one company. Zero means every
// company in the database.
type IntegrityScanPayload struct {
	CompanyID int64 `json:"company_id"`
}

// NewIntegrityScanTask constructs an Asynq task for the integrity scan.
func NewIntegrityScanTask(companyID int64) (*asynq.Task, error) {
	body, err := json.Marshal(IntegrityScanPayload{CompanyID: companyID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLedgerIntegrityScan, body, asynq.Queue(QueueDefault)), nil
}

// IntegrityScanJob re-adds every posted entry's lines and compares the sums
// against the stored header totals. The job only reads; a discrepancy is a
// bug report, not something to repair in place.
type IntegrityScanJob struct {
	Pool    *pgxpool.Pool
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewIntegrityScanJob wires dependencies for the scan handler.
func NewIntegrityScanJob(pool *pgxpool.Pool, logger *slog.Logger, metrics *jobmetrics.Metrics) *IntegrityScanJob {
	return &IntegrityScanJob{
		Pool:    pool,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes the integrity scan.
func (j *IntegrityScanJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil {
		return errors.New("integrity scan: handler not configured")
	}
	var payload IntegrityScanPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	start := j.now()
	tracker := j.metrics().Track(TaskLedgerIntegrityScan)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger().With(slog.Int64("company_id", payload.CompanyID))
	logger.Info("starting ledger integrity scan")

	totals, err := j.fetchEntryTotals(ctx, payload.CompanyID)
	if err != nil {
		resultErr = err
		logger.Error("load entry totals", slog.Any("error", err))
		return resultErr
	}

	findings := verifyEntryTotals(totals)
	for _, f := range findings {
		logger.Warn("ledger discrepancy detected",
			slog.String("check", f.Check),
			slog.Int64("company_id", f.CompanyID),
			slog.Int64("entry_id", f.EntryID),
			slog.String("entry_number", f.EntryNumber),
			slog.String("expected", f.Expected.String()),
			slog.String("actual", f.Actual.String()),
		)
		j.metrics().AddDiscrepancies(f.Check, f.CompanyID, 1)
	}

	logger.Info("completed ledger integrity scan",
		slog.Int("entries", len(totals)),
		slog.Int("discrepancies", len(findings)),
		slog.Duration("duration", time.Since(start)),
	)
	return resultErr
}

type entryTotals struct {
	CompanyID    int64
	EntryID      int64
	EntryNumber  string
	HeaderDebit  decimal.Decimal
	HeaderCredit decimal.Decimal
	LineDebit    decimal.Decimal
	LineCredit   decimal.Decimal
}

type integrityFinding struct {
	Check       string
	CompanyID   int64
	EntryID     int64
	EntryNumber string
	Expected    decimal.Decimal
	Actual      decimal.Decimal
}

func (j *IntegrityScanJob) fetchEntryTotals(ctx context.Context, companyID int64) ([]entryTotals, error) {
	if j.Pool == nil {
		return nil, errors.New("integrity scan: pool not configured")
	}
	rows, err := j.Pool.Query(ctx, `
SELECT e.company_id, e.id, e.entry_number, e.total_debit, e.total_credit,
       COALESCE(SUM(l.debit), 0) AS line_debit,
       COALESCE(SUM(l.credit), 0) AS line_credit
FROM journal_entries e
LEFT JOIN journal_lines l ON l.entry_id = e.id
WHERE e.status = 'POSTED' AND ($1 = 0 OR e.company_id = $1)
GROUP BY e.company_id, e.id, e.entry_number, e.total_debit, e.total_credit
ORDER BY e.company_id, e.id`, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	totals := make([]entryTotals, 0)
	for rows.Next() {
		var t entryTotals
		if err := rows.Scan(&t.CompanyID, &t.EntryID, &t.EntryNumber,
			&t.HeaderDebit, &t.HeaderCredit, &t.LineDebit, &t.LineCredit); err != nil {
			return nil, err
		}
		totals = append(totals, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return totals, nil
}

// verifyEntryTotals flags headers that disagree with themselves or with the
// sum of their lines.
func verifyEntryTotals(totals []entryTotals) []integrityFinding {
	findings := make([]integrityFinding, 0)
	for _, t := range totals {
		if !t.HeaderDebit.Equal(t.HeaderCredit) {
			findings = append(findings, integrityFinding{
				Check:       "unbalanced_header",
				CompanyID:   t.CompanyID,
				EntryID:     t.EntryID,
				EntryNumber: t.EntryNumber,
				Expected:    t.HeaderDebit,
				Actual:      t.HeaderCredit,
			})
		}
		if !t.LineDebit.Equal(t.HeaderDebit) {
			findings = append(findings, integrityFinding{
				Check:       "line_debit_mismatch",
				CompanyID:   t.CompanyID,
				EntryID:     t.EntryID,
				EntryNumber: t.EntryNumber,
				Expected:    t.HeaderDebit,
				Actual:      t.LineDebit,
			})
		}
		if !t.LineCredit.Equal(t.HeaderCredit) {
			findings = append(findings, integrityFinding{
				Check:       "line_credit_mismatch",
				CompanyID:   t.CompanyID,
				EntryID:     t.EntryID,
				EntryNumber: t.EntryNumber,
				Expected:    t.HeaderCredit,
				Actual:      t.LineCredit,
			})
		}
	}
	return findings
}

func (j *IntegrityScanJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskLedgerIntegrityScan))
	}
	return slog.Default().With(slog.String("job", TaskLedgerIntegrityScan))
}

func (j *IntegrityScanJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *IntegrityScanJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
