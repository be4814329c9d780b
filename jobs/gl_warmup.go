package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-erp/meridian-erp/internal/fiscal"
	"github.com/meridian-erp/meridian-erp/internal/gl"
	jobmetrics "github.com/meridian-erp/meridian-erp/internal/jobs"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

const (
	// TaskGLCacheWarmup pre-builds the current month's trial balance per company.
	TaskGLCacheWarmup = "gl:cache_warmup"
)

// CacheWarmupPayload configures the warmup scope.
type CacheWarmupPayload struct {
	CompanyScope string `json:"company_scope"`
}

// NewCacheWarmupTask creates an Asynq task for the report cache warmup.
func NewCacheWarmupTask(scope string) (*asynq.Task, error) {
	if scope == "" {
		scope = "active"
	}
	body, err := json.Marshal(CacheWarmupPayload{CompanyScope: scope})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskGLCacheWarmup, body, asynq.Queue(QueueDefault)), nil
}

// ReportBuilder describes the behaviour required to populate report caches.
type ReportBuilder interface {
	TrialBalance(ctx context.Context, scope shared.Scope, from, to time.Time) (gl.TrialBalance, error)
}

// CompanySource lists the companies whose reports should be warmed.
type CompanySource interface {
	ActiveCompanyIDs(ctx context.Context) ([]int64, error)
}

// CacheWarmupJob builds the current-month trial balance for every active
// company so the first reader of the day hits a warm cache.
type CacheWarmupJob struct {
	Reports   ReportBuilder
	Companies CompanySource
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
	clock     func() time.Time
}

// NewCacheWarmupJob wires dependencies for the warmup handler.
func NewCacheWarmupJob(reports ReportBuilder, companies CompanySource, logger *slog.Logger, metrics *jobmetrics.Metrics) *CacheWarmupJob {
	return &CacheWarmupJob{
		Reports:   reports,
		Companies: companies,
		Logger:    logger,
		Metrics:   metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes the warmup round.
func (j *CacheWarmupJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Reports == nil || j.Companies == nil {
		return errors.New("cache warmup: dependencies not configured")
	}
	var payload CacheWarmupPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.CompanyScope == "" {
		payload.CompanyScope = "active"
	}

	tracker := j.metrics().Track(TaskGLCacheWarmup)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger().With(slog.String("company_scope", payload.CompanyScope))
	logger.Info("starting report cache warmup")

	companies, err := j.Companies.ActiveCompanyIDs(ctx)
	if err != nil {
		resultErr = err
		logger.Error("load active companies", slog.Any("error", err))
		return resultErr
	}
	if len(companies) == 0 {
		logger.Info("no companies discovered for warmup")
		return resultErr
	}

	now := j.now()
	from, to := fiscal.MonthWindow(now.Year(), now.Month())
	warmed := 0
	for _, companyID := range companies {
		if err := j.warmCompany(ctx, companyID, from, to); err != nil {
			resultErr = err
			logger.Error("warm company", slog.Int64("company_id", companyID), slog.Any("error", err))
			return resultErr
		}
		warmed++
	}

	logger.Info("completed report cache warmup",
		slog.Int("companies", warmed),
		slog.Duration("duration", time.Since(now)),
	)
	return resultErr
}

func (j *CacheWarmupJob) warmCompany(ctx context.Context, companyID int64, from, to time.Time) error {
	// Each company gets its own timeout so one slow scope cannot stall the round.
	scopeCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	_, err := j.Reports.TrialBalance(scopeCtx, shared.Scope{CompanyID: companyID}, from, to)
	return err
}

func (j *CacheWarmupJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskGLCacheWarmup))
	}
	return slog.Default().With(slog.String("job", TaskGLCacheWarmup))
}

func (j *CacheWarmupJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *CacheWarmupJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}

// PoolCompanySource lists active companies straight from the database.
type PoolCompanySource struct {
	Pool *pgxpool.Pool
}

// ActiveCompanyIDs returns the ids of companies marked active.
func (s PoolCompanySource) ActiveCompanyIDs(ctx context.Context) ([]int64, error) {
	if s.Pool == nil {
		return nil, errors.New("cache warmup: pool not configured")
	}
	rows, err := s.Pool.Query(ctx, `SELECT id FROM companies WHERE active ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make([]int64, 0)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}
