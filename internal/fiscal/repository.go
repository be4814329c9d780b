package fiscal

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository encapsulates DB operations for the fiscal calendar.
type Repository interface {
	PeriodByDate(ctx context.Context, companyID int64, date time.Time) (Period, error)
	PeriodByID(ctx context.Context, companyID, periodID int64) (Period, error)
	ListPeriods(ctx context.Context, companyID int64, year int) ([]Period, error)
	GetYear(ctx context.Context, companyID int64, year int) (FiscalYear, error)
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes calendar mutations available within a transaction.
type TxRepository interface {
	UpsertYear(ctx context.Context, companyID int64, year int, startsOn, endsOn time.Time) (FiscalYear, error)
	InsertPeriodIfAbsent(ctx context.Context, p Period) (bool, error)
	GetPeriodForUpdate(ctx context.Context, companyID, periodID int64) (Period, error)
	UpdatePeriodStatus(ctx context.Context, upd TransitionUpdate) (Period, error)
}

// TransitionUpdate describes a conditional period status change. Expected is
// the status the row must still hold for the update to apply.
type TransitionUpdate struct {
	PeriodID  int64
	CompanyID int64
	Expected  PeriodStatus
	Target    PeriodStatus
	ActorID   int64
	At        time.Time
}

type repository struct {
	db *pgxpool.Pool
}

// NewRepository builds the pgx-backed calendar repository.
func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

const periodColumns = `id, company_id, fiscal_year_id, code, starts_on, ends_on, status,
closed_by, closed_at, locked_by, locked_at, reopened_by, reopened_at, created_at, updated_at`

func scanPeriod(row pgx.Row) (Period, error) {
	var p Period
	err := row.Scan(&p.ID, &p.CompanyID, &p.FiscalYearID, &p.Code, &p.StartsOn, &p.EndsOn, &p.Status,
		&p.ClosedBy, &p.ClosedAt, &p.LockedBy, &p.LockedAt, &p.ReopenedBy, &p.ReopenedAt, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func (r *repository) PeriodByDate(ctx context.Context, companyID int64, date time.Time) (Period, error) {
	p, err := scanPeriod(r.db.QueryRow(ctx, `SELECT `+periodColumns+`
FROM accounting_periods WHERE company_id=$1 AND $2 BETWEEN starts_on AND ends_on ORDER BY starts_on LIMIT 1`,
		companyID, DateOnly(date)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Period{}, ErrNoPeriod
		}
		return Period{}, err
	}
	return p, nil
}

func (r *repository) PeriodByID(ctx context.Context, companyID, periodID int64) (Period, error) {
	p, err := scanPeriod(r.db.QueryRow(ctx, `SELECT `+periodColumns+`
FROM accounting_periods WHERE id=$1 AND company_id=$2`, periodID, companyID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Period{}, ErrPeriodNotFound
		}
		return Period{}, err
	}
	return p, nil
}

func (r *repository) ListPeriods(ctx context.Context, companyID int64, year int) ([]Period, error) {
	rows, err := r.db.Query(ctx, `SELECT `+periodColumns+`
FROM accounting_periods WHERE company_id=$1 AND ($2 = 0 OR EXTRACT(YEAR FROM starts_on) = $2) ORDER BY starts_on ASC`,
		companyID, year)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var periods []Period
	for rows.Next() {
		p, err := scanPeriod(rows)
		if err != nil {
			return nil, err
		}
		periods = append(periods, p)
	}
	return periods, rows.Err()
}

func (r *repository) GetYear(ctx context.Context, companyID int64, year int) (FiscalYear, error) {
	var fy FiscalYear
	err := r.db.QueryRow(ctx, `SELECT id, company_id, year, starts_on, ends_on, created_at
FROM fiscal_years WHERE company_id=$1 AND year=$2`, companyID, year).
		Scan(&fy.ID, &fy.CompanyID, &fy.Year, &fy.StartsOn, &fy.EndsOn, &fy.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return FiscalYear{}, ErrYearNotFound
		}
		return FiscalYear{}, err
	}
	return fy, nil
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return err
	}
	wrapper := &txRepository{tx: tx}
	if err := fn(ctx, wrapper); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

type txRepository struct {
	tx pgx.Tx
}

// UpsertYear creates the fiscal year row on first use and returns the
// existing one otherwise. The no-op DO UPDATE keeps RETURNING populated when
// the row already exists.
func (r *txRepository) UpsertYear(ctx context.Context, companyID int64, year int, startsOn, endsOn time.Time) (FiscalYear, error) {
	var fy FiscalYear
	err := r.tx.QueryRow(ctx, `INSERT INTO fiscal_years (company_id, year, starts_on, ends_on)
VALUES ($1,$2,$3,$4)
ON CONFLICT (company_id, year) DO UPDATE SET year = EXCLUDED.year
RETURNING id, company_id, year, starts_on, ends_on, created_at`,
		companyID, year, startsOn, endsOn).
		Scan(&fy.ID, &fy.CompanyID, &fy.Year, &fy.StartsOn, &fy.EndsOn, &fy.CreatedAt)
	if err != nil {
		return FiscalYear{}, err
	}
	return fy, nil
}

func (r *txRepository) InsertPeriodIfAbsent(ctx context.Context, p Period) (bool, error) {
	cmd, err := r.tx.Exec(ctx, `INSERT INTO accounting_periods (company_id, fiscal_year_id, code, starts_on, ends_on, status)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (company_id, code) DO NOTHING`,
		p.CompanyID, p.FiscalYearID, p.Code, p.StartsOn, p.EndsOn, string(p.Status))
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() == 1, nil
}

func (r *txRepository) GetPeriodForUpdate(ctx context.Context, companyID, periodID int64) (Period, error) {
	p, err := scanPeriod(r.tx.QueryRow(ctx, `SELECT `+periodColumns+`
FROM accounting_periods WHERE id=$1 AND company_id=$2 FOR UPDATE`, periodID, companyID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Period{}, ErrPeriodNotFound
		}
		return Period{}, err
	}
	return p, nil
}

func (r *txRepository) UpdatePeriodStatus(ctx context.Context, upd TransitionUpdate) (Period, error) {
	p, err := scanPeriod(r.tx.QueryRow(ctx, `UPDATE accounting_periods SET status=$4,
closed_by   = CASE WHEN $4='CLOSED' THEN $5 ELSE closed_by END,
closed_at   = CASE WHEN $4='CLOSED' THEN $6 ELSE closed_at END,
locked_by   = CASE WHEN $4='LOCKED' THEN $5 ELSE locked_by END,
locked_at   = CASE WHEN $4='LOCKED' THEN $6 ELSE locked_at END,
reopened_by = CASE WHEN $4='OPEN' THEN $5 ELSE reopened_by END,
reopened_at = CASE WHEN $4='OPEN' THEN $6 ELSE reopened_at END,
updated_at  = NOW()
WHERE id=$1 AND company_id=$2 AND status=$3
RETURNING `+periodColumns,
		upd.PeriodID, upd.CompanyID, string(upd.Expected), string(upd.Target), upd.ActorID, upd.At))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Period{}, ErrTransitionConflict
		}
		return Period{}, err
	}
	return p, nil
}
