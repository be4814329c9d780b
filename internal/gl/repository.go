package gl

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/fiscal"
)

// Repository reads posted journal data for reporting.
type Repository interface {
	GetAccount(ctx context.Context, companyID, accountID int64) (AccountRef, error)
	OpeningBalance(ctx context.Context, companyID, accountID int64, before time.Time) (decimal.Decimal, error)
	AccountMovements(ctx context.Context, companyID, accountID int64, from, to time.Time) ([]LedgerRow, error)
	AccountBalances(ctx context.Context, companyID int64, from, to time.Time) ([]AccountBalance, error)
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository builds the pgx-backed reporting repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

func (r *repository) GetAccount(ctx context.Context, companyID, accountID int64) (AccountRef, error) {
	var acct AccountRef
	err := r.pool.QueryRow(ctx, `SELECT id, code, name, type
FROM accounts WHERE id=$1 AND company_id=$2`, accountID, companyID).
		Scan(&acct.ID, &acct.Code, &acct.Name, &acct.Type)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return AccountRef{}, ErrAccountNotFound
		}
		return AccountRef{}, err
	}
	return acct, nil
}

func (r *repository) OpeningBalance(ctx context.Context, companyID, accountID int64, before time.Time) (decimal.Decimal, error) {
	var opening decimal.Decimal
	err := r.pool.QueryRow(ctx, `SELECT COALESCE(SUM(l.debit - l.credit), 0)
FROM journal_lines l
JOIN journal_entries e ON e.id = l.entry_id
WHERE e.company_id=$1 AND l.account_id=$2 AND e.status='POSTED' AND e.entry_date < $3`,
		companyID, accountID, fiscal.DateOnly(before)).Scan(&opening)
	if err != nil {
		return decimal.Decimal{}, err
	}
	return opening, nil
}

func (r *repository) AccountMovements(ctx context.Context, companyID, accountID int64, from, to time.Time) ([]LedgerRow, error) {
	rows, err := r.pool.Query(ctx, `SELECT e.id, e.entry_number, e.entry_date, e.description, l.debit, l.credit
FROM journal_lines l
JOIN journal_entries e ON e.id = l.entry_id
WHERE e.company_id=$1 AND l.account_id=$2 AND e.status='POSTED'
  AND e.entry_date >= $3 AND e.entry_date <= $4
ORDER BY e.entry_date ASC, e.id ASC, l.line_no ASC`,
		companyID, accountID, fiscal.DateOnly(from), fiscal.DateOnly(to))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []LedgerRow
	for rows.Next() {
		var row LedgerRow
		if err := rows.Scan(&row.EntryID, &row.EntryNumber, &row.EntryDate, &row.Description, &row.Debit, &row.Credit); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (r *repository) AccountBalances(ctx context.Context, companyID int64, from, to time.Time) ([]AccountBalance, error) {
	rows, err := r.pool.Query(ctx, `SELECT a.id, a.code, a.name, a.type,
  COALESCE(SUM(l.debit - l.credit) FILTER (WHERE e.entry_date < $2), 0) AS opening,
  COALESCE(SUM(l.debit)  FILTER (WHERE e.entry_date >= $2), 0) AS debit,
  COALESCE(SUM(l.credit) FILTER (WHERE e.entry_date >= $2), 0) AS credit
FROM accounts a
JOIN journal_lines l ON l.account_id = a.id
JOIN journal_entries e ON e.id = l.entry_id AND e.status='POSTED' AND e.entry_date <= $3
WHERE a.company_id = $1
GROUP BY a.id, a.code, a.name, a.type
ORDER BY a.code ASC`,
		companyID, fiscal.DateOnly(from), fiscal.DateOnly(to))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []AccountBalance
	for rows.Next() {
		var acc AccountBalance
		if err := rows.Scan(&acc.AccountID, &acc.Code, &acc.Name, &acc.Type, &acc.Opening, &acc.Debit, &acc.Credit); err != nil {
			return nil, err
		}
		out = append(out, acc)
	}
	return out, rows.Err()
}
