package fiscal

import (
	"context"
	"log/slog"
	"time"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Supported fiscal year window.
const (
	MinYear = 1990
	MaxYear = 2100
)

// GenerateYearResult reports what a calendar generation run produced.
type GenerateYearResult struct {
	Year    FiscalYear `json:"year"`
	Created int        `json:"created"`
}

// Service orchestrates fiscal calendar operations.
type Service struct {
	repo   Repository
	logger *slog.Logger
	now    func() time.Time
}

// NewService builds the fiscal service.
func NewService(repo Repository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, logger: logger, now: time.Now}
}

// ResolvePeriod returns the period covering the date regardless of status.
func (s *Service) ResolvePeriod(ctx context.Context, scope shared.Scope, date time.Time) (Period, error) {
	return s.repo.PeriodByDate(ctx, scope.CompanyID, date)
}

// GetPeriod returns a single period in company scope.
func (s *Service) GetPeriod(ctx context.Context, scope shared.Scope, periodID int64) (Period, error) {
	return s.repo.PeriodByID(ctx, scope.CompanyID, periodID)
}

// ListPeriods returns the company's periods, optionally restricted to a year.
func (s *Service) ListPeriods(ctx context.Context, scope shared.Scope, year int) ([]Period, error) {
	return s.repo.ListPeriods(ctx, scope.CompanyID, year)
}

// GenerateYear lazily creates the fiscal year row and its twelve monthly
// periods. Re-running is safe: existing periods are left untouched and the
// result reports how many were actually created.
func (s *Service) GenerateYear(ctx context.Context, scope shared.Scope, year int) (GenerateYearResult, error) {
	if year < MinYear || year > MaxYear {
		return GenerateYearResult{}, ErrYearOutOfRange
	}

	var res GenerateYearResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		startsOn, _ := MonthWindow(year, time.January)
		_, endsOn := MonthWindow(year, time.December)
		fy, err := tx.UpsertYear(ctx, scope.CompanyID, year, startsOn, endsOn)
		if err != nil {
			return err
		}
		res.Year = fy
		for month := time.January; month <= time.December; month++ {
			start, end := MonthWindow(year, month)
			created, err := tx.InsertPeriodIfAbsent(ctx, Period{
				CompanyID:    scope.CompanyID,
				FiscalYearID: fy.ID,
				Code:         PeriodCode(year, month),
				StartsOn:     start,
				EndsOn:       end,
				Status:       PeriodStatusOpen,
			})
			if err != nil {
				return err
			}
			if created {
				res.Created++
			}
		}
		return nil
	})
	if err != nil {
		return GenerateYearResult{}, err
	}

	s.logger.Info("fiscal year generated",
		slog.Int64("company_id", scope.CompanyID),
		slog.Int("year", year),
		slog.Int("periods_created", res.Created),
		slog.Int64("actor_id", scope.ActorID))
	return res, nil
}

// SetPeriodStatus applies one transition of the period state machine and
// stamps who drove it. The update is conditional on the status observed
// under lock, so a concurrent transition surfaces as ErrTransitionConflict
// instead of silently winning.
func (s *Service) SetPeriodStatus(ctx context.Context, scope shared.Scope, periodID int64, target PeriodStatus) (Period, error) {
	var updated Period
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetPeriodForUpdate(ctx, scope.CompanyID, periodID)
		if err != nil {
			return err
		}
		if err := ValidateTransition(current.Status, target); err != nil {
			return err
		}
		updated, err = tx.UpdatePeriodStatus(ctx, TransitionUpdate{
			PeriodID:  periodID,
			CompanyID: scope.CompanyID,
			Expected:  current.Status,
			Target:    target,
			ActorID:   scope.ActorID,
			At:        s.now().UTC(),
		})
		return err
	})
	if err != nil {
		return Period{}, err
	}

	s.logger.Info("period status changed",
		slog.Int64("company_id", scope.CompanyID),
		slog.String("period", updated.Code),
		slog.String("status", string(updated.Status)),
		slog.Int64("actor_id", scope.ActorID))
	return updated, nil
}
