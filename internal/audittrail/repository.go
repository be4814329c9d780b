package audittrail

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository membaca baris audit beserta nomor entry-nya.
type Repository interface {
	EntryTrail(ctx context.Context, companyID, entryID int64) ([]TimelineRow, error)
	TimelineWindow(ctx context.Context, companyID int64, filters TimelineFilters, offset, limit int) ([]TimelineRow, error)
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository membuat repository audit berbasis pgx.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

const timelineColumns = `a.occurred_at, a.actor_id, a.action, a.entry_id, e.entry_number, a.notes`

func (r *repository) EntryTrail(ctx context.Context, companyID, entryID int64) ([]TimelineRow, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+timelineColumns+`
FROM journal_audit_logs a
JOIN journal_entries e ON e.id = a.entry_id
WHERE a.company_id=$1 AND a.entry_id=$2
ORDER BY a.id ASC`, companyID, entryID)
	if err != nil {
		return nil, err
	}
	return scanTimeline(rows)
}

func (r *repository) TimelineWindow(ctx context.Context, companyID int64, filters TimelineFilters, offset, limit int) ([]TimelineRow, error) {
	query := `SELECT ` + timelineColumns + `
FROM journal_audit_logs a
JOIN journal_entries e ON e.id = a.entry_id
WHERE a.company_id=$1`
	args := []any{companyID}

	if filters.EntryID > 0 {
		args = append(args, filters.EntryID)
		query += fmt.Sprintf(" AND a.entry_id=$%d", len(args))
	}
	if filters.Action != "" {
		args = append(args, string(filters.Action))
		query += fmt.Sprintf(" AND a.action=$%d", len(args))
	}
	if filters.ActorID > 0 {
		args = append(args, filters.ActorID)
		query += fmt.Sprintf(" AND a.actor_id=$%d", len(args))
	}
	if !filters.From.IsZero() {
		args = append(args, filters.From)
		query += fmt.Sprintf(" AND a.occurred_at >= $%d", len(args))
	}
	if !filters.To.IsZero() {
		args = append(args, filters.To)
		query += fmt.Sprintf(" AND a.occurred_at <= $%d", len(args))
	}

	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY a.occurred_at DESC, a.id DESC LIMIT $%d", len(args))
	args = append(args, offset)
	query += fmt.Sprintf(" OFFSET $%d", len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return scanTimeline(rows)
}

func scanTimeline(rows pgx.Rows) ([]TimelineRow, error) {
	defer rows.Close()
	var out []TimelineRow
	for rows.Next() {
		var row TimelineRow
		if err := rows.Scan(&row.At, &row.ActorID, &row.Action, &row.EntryID, &row.EntryNumber, &row.Notes); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
