package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-erp/meridian-erp/internal/fiscal"
	"github.com/meridian-erp/meridian-erp/internal/platform/db"
)

// Repository encapsulates DB operations for journal entries.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetEntry(ctx context.Context, companyID, entryID int64) (JournalEntry, []JournalLine, error)
	GetEntryBySource(ctx context.Context, companyID int64, sourceType, sourceRef string) (JournalEntry, error)
	ListEntries(ctx context.Context, companyID int64, filter EntryFilter) ([]JournalEntry, int, error)
}

// TxRepository exposes the mutations available inside one posting
// transaction. Adapters obtain one over their own pgx.Tx via NewTxRepository
// so subsidiary rows and journal rows commit or roll back together.
type TxRepository interface {
	CompanyBaseCurrency(ctx context.Context, companyID int64) (string, error)
	PeriodForDateForUpdate(ctx context.Context, companyID int64, date time.Time) (fiscal.Period, error)
	NextSequence(ctx context.Context, companyID int64, doc DocType, year int) (int64, error)
	InsertEntry(ctx context.Context, e JournalEntry) (JournalEntry, error)
	InsertLines(ctx context.Context, entryID int64, lines []JournalLine) error
	GetEntryForUpdate(ctx context.Context, companyID, entryID int64) (JournalEntry, error)
	GetLines(ctx context.Context, entryID int64) ([]JournalLine, error)
	UpdateEntryStatus(ctx context.Context, upd StatusUpdate) error
	InsertAuditLog(ctx context.Context, log AuditLog) error
}

// StatusUpdate is a conditional lifecycle transition: the row must still be
// in one of the Expected statuses or the update reports a conflict.
type StatusUpdate struct {
	EntryID   int64
	CompanyID int64
	Expected  []EntryStatus
	Target    EntryStatus
	ActorID   int64
	At        time.Time

	ReversalReason  string
	ReversedByEntry *int64
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository builds the pgx-backed journal repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
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

const entryColumns = `id, company_id, entry_number, entry_date, fiscal_year_id, period_id, entry_type,
currency, exchange_rate, total_debit, total_credit, total_debit_fc, total_credit_fc, status, description,
source_type, source_ref, is_reversal, reversal_of, reversal_reason, reversed_by_entry,
created_by, created_at, approved_by, approved_at, posted_by, posted_at, cancelled_by, cancelled_at, updated_at`

func scanEntry(row pgx.Row) (JournalEntry, error) {
	var e JournalEntry
	var sourceType, sourceRef, reversalReason *string
	err := row.Scan(&e.ID, &e.CompanyID, &e.EntryNumber, &e.EntryDate, &e.FiscalYearID, &e.PeriodID, &e.EntryType,
		&e.Currency, &e.ExchangeRate, &e.TotalDebit, &e.TotalCredit, &e.TotalDebitFC, &e.TotalCreditFC, &e.Status, &e.Description,
		&sourceType, &sourceRef, &e.IsReversal, &e.ReversalOf, &reversalReason, &e.ReversedByEntry,
		&e.CreatedBy, &e.CreatedAt, &e.ApprovedBy, &e.ApprovedAt, &e.PostedBy, &e.PostedAt, &e.CancelledBy, &e.CancelledAt, &e.UpdatedAt)
	if err != nil {
		return JournalEntry{}, err
	}
	if sourceType != nil {
		e.SourceType = *sourceType
	}
	if sourceRef != nil {
		e.SourceRef = *sourceRef
	}
	if reversalReason != nil {
		e.ReversalReason = *reversalReason
	}
	return e, nil
}

func (r *repository) GetEntry(ctx context.Context, companyID, entryID int64) (JournalEntry, []JournalLine, error) {
	entry, err := scanEntry(r.pool.QueryRow(ctx, `SELECT `+entryColumns+`
FROM journal_entries WHERE id=$1 AND company_id=$2`, entryID, companyID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return JournalEntry{}, nil, ErrEntryNotFound
		}
		return JournalEntry{}, nil, err
	}
	lines, err := queryLines(ctx, r.pool, entry.ID)
	if err != nil {
		return JournalEntry{}, nil, err
	}
	return entry, lines, nil
}

func (r *repository) GetEntryBySource(ctx context.Context, companyID int64, sourceType, sourceRef string) (JournalEntry, error) {
	entry, err := scanEntry(r.pool.QueryRow(ctx, `SELECT `+entryColumns+`
FROM journal_entries WHERE company_id=$1 AND source_type=$2 AND source_ref=$3`, companyID, sourceType, sourceRef))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return JournalEntry{}, ErrEntryNotFound
		}
		return JournalEntry{}, err
	}
	return entry, nil
}

func (r *repository) ListEntries(ctx context.Context, companyID int64, filter EntryFilter) ([]JournalEntry, int, error) {
	where := `WHERE company_id=$1
AND ($2 = '' OR status = $2)
AND ($3 = '' OR entry_type = $3)
AND ($4::date IS NULL OR entry_date >= $4)
AND ($5::date IS NULL OR entry_date <= $5)`
	args := []any{companyID, string(filter.Status), string(filter.EntryType), nullDate(filter.DateFrom), nullDate(filter.DateTo)}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM journal_entries `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	page := filter.Page
	if page <= 0 {
		page = 1
	}
	perPage := filter.PerPage
	if perPage <= 0 {
		perPage = 20
	}
	args = append(args, perPage, (page-1)*perPage)
	rows, err := r.pool.Query(ctx, `SELECT `+entryColumns+` FROM journal_entries `+where+`
ORDER BY entry_date DESC, id DESC LIMIT $6 OFFSET $7`, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var entries []JournalEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, 0, err
		}
		entries = append(entries, e)
	}
	return entries, total, rows.Err()
}

type txRepository struct {
	tx pgx.Tx
}

// NewTxRepository wraps an open transaction so adapters can submit journal
// work inside their own atomic scope.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepository{tx: tx}
}

func (r *txRepository) CompanyBaseCurrency(ctx context.Context, companyID int64) (string, error) {
	var currency string
	err := r.tx.QueryRow(ctx, `SELECT base_currency FROM companies WHERE id=$1`, companyID).Scan(&currency)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", fmt.Errorf("ledger: company %d not found", companyID)
		}
		return "", err
	}
	return currency, nil
}

func (r *txRepository) PeriodForDateForUpdate(ctx context.Context, companyID int64, date time.Time) (fiscal.Period, error) {
	var p fiscal.Period
	err := r.tx.QueryRow(ctx, `SELECT id, company_id, fiscal_year_id, code, starts_on, ends_on, status,
closed_by, closed_at, locked_by, locked_at, reopened_by, reopened_at, created_at, updated_at
FROM accounting_periods WHERE company_id=$1 AND $2 BETWEEN starts_on AND ends_on FOR UPDATE`,
		companyID, fiscal.DateOnly(date)).
		Scan(&p.ID, &p.CompanyID, &p.FiscalYearID, &p.Code, &p.StartsOn, &p.EndsOn, &p.Status,
			&p.ClosedBy, &p.ClosedAt, &p.LockedBy, &p.LockedAt, &p.ReopenedBy, &p.ReopenedAt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fiscal.Period{}, ErrNoOpenPeriod
		}
		return fiscal.Period{}, err
	}
	return p, nil
}

// NextSequence bumps the per-company/doc-type/year counter and returns the
// new value. Contending transactions serialize on the sequence row.
func (r *txRepository) NextSequence(ctx context.Context, companyID int64, doc DocType, year int) (int64, error) {
	var seq int64
	err := r.tx.QueryRow(ctx, `INSERT INTO document_sequences (company_id, doc_type, year, next_seq)
VALUES ($1,$2,$3,1)
ON CONFLICT (company_id, doc_type, year) DO UPDATE SET next_seq = document_sequences.next_seq + 1
RETURNING next_seq`, companyID, string(doc), year).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("ledger: next sequence %s/%d: %w", doc, year, err)
	}
	return seq, nil
}

func (r *txRepository) InsertEntry(ctx context.Context, e JournalEntry) (JournalEntry, error) {
	row := r.tx.QueryRow(ctx, `INSERT INTO journal_entries
(company_id, entry_number, entry_date, fiscal_year_id, period_id, entry_type, currency, exchange_rate,
 total_debit, total_credit, total_debit_fc, total_credit_fc, status, description, source_type, source_ref,
 is_reversal, reversal_of, reversal_reason, created_by, posted_by, posted_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22)
RETURNING id, created_at, updated_at`,
		e.CompanyID, e.EntryNumber, fiscal.DateOnly(e.EntryDate), e.FiscalYearID, e.PeriodID, string(e.EntryType),
		e.Currency, e.ExchangeRate, e.TotalDebit, e.TotalCredit, e.TotalDebitFC, e.TotalCreditFC,
		string(e.Status), e.Description, nullStr(e.SourceType), nullStr(e.SourceRef),
		e.IsReversal, e.ReversalOf, nullStr(e.ReversalReason), e.CreatedBy, e.PostedBy, e.PostedAt)
	if err := row.Scan(&e.ID, &e.CreatedAt, &e.UpdatedAt); err != nil {
		if db.IsUniqueViolation(err, "uq_journal_entries_source") {
			return JournalEntry{}, ErrSourceAlreadyPosted
		}
		return JournalEntry{}, err
	}
	return e, nil
}

func (r *txRepository) InsertLines(ctx context.Context, entryID int64, lines []JournalLine) error {
	batch := &pgx.Batch{}
	for _, line := range lines {
		batch.Queue(`INSERT INTO journal_lines (entry_id, line_no, account_id, cost_center_id, debit, credit, debit_fc, credit_fc, memo)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
			entryID, line.LineNo, line.AccountID, line.CostCenterID, line.Debit, line.Credit, line.DebitFC, line.CreditFC, nullStr(line.Memo))
	}
	results := r.tx.SendBatch(ctx, batch)
	defer func() {
		_ = results.Close()
	}()
	for range lines {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("ledger: insert lines: %w", err)
		}
	}
	return nil
}

func (r *txRepository) GetEntryForUpdate(ctx context.Context, companyID, entryID int64) (JournalEntry, error) {
	entry, err := scanEntry(r.tx.QueryRow(ctx, `SELECT `+entryColumns+`
FROM journal_entries WHERE id=$1 AND company_id=$2 FOR UPDATE`, entryID, companyID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return JournalEntry{}, ErrEntryNotFound
		}
		return JournalEntry{}, err
	}
	return entry, nil
}

func (r *txRepository) GetLines(ctx context.Context, entryID int64) ([]JournalLine, error) {
	return queryLines(ctx, r.tx, entryID)
}

func (r *txRepository) UpdateEntryStatus(ctx context.Context, upd StatusUpdate) error {
	expected := make([]string, 0, len(upd.Expected))
	for _, st := range upd.Expected {
		expected = append(expected, string(st))
	}
	cmd, err := r.tx.Exec(ctx, `UPDATE journal_entries SET status=$4,
approved_by     = CASE WHEN $4='APPROVED' THEN $5 ELSE approved_by END,
approved_at     = CASE WHEN $4='APPROVED' THEN $6 ELSE approved_at END,
posted_by       = CASE WHEN $4='POSTED' THEN $5 ELSE posted_by END,
posted_at       = CASE WHEN $4='POSTED' THEN $6 ELSE posted_at END,
cancelled_by    = CASE WHEN $4='CANCELLED' THEN $5 ELSE cancelled_by END,
cancelled_at    = CASE WHEN $4='CANCELLED' THEN $6 ELSE cancelled_at END,
reversal_reason = CASE WHEN $4='REVERSED' THEN $7 ELSE reversal_reason END,
reversed_by_entry = CASE WHEN $4='REVERSED' THEN $8 ELSE reversed_by_entry END,
updated_at=NOW()
WHERE id=$1 AND company_id=$2 AND status = ANY($3)`,
		upd.EntryID, upd.CompanyID, expected, string(upd.Target), upd.ActorID, upd.At,
		nullStr(upd.ReversalReason), upd.ReversedByEntry)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrStatusConflict
	}
	return nil
}

func (r *txRepository) InsertAuditLog(ctx context.Context, log AuditLog) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO journal_audit_logs (company_id, entry_id, action, actor_id, notes, occurred_at)
VALUES ($1,$2,$3,$4,$5,$6)`,
		log.CompanyID, log.EntryID, string(log.Action), log.ActorID, nullStr(log.Notes), log.OccurredAt)
	if err != nil {
		return fmt.Errorf("ledger: insert audit log: %w", err)
	}
	return nil
}

type queryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func queryLines(ctx context.Context, q queryer, entryID int64) ([]JournalLine, error) {
	rows, err := q.Query(ctx, `SELECT id, entry_id, line_no, account_id, cost_center_id, debit, credit, debit_fc, credit_fc, memo, created_at
FROM journal_lines WHERE entry_id=$1 ORDER BY line_no ASC`, entryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []JournalLine
	for rows.Next() {
		var line JournalLine
		var memo *string
		if err := rows.Scan(&line.ID, &line.EntryID, &line.LineNo, &line.AccountID, &line.CostCenterID,
			&line.Debit, &line.Credit, &line.DebitFC, &line.CreditFC, &memo, &line.CreatedAt); err != nil {
			return nil, err
		}
		if memo != nil {
			line.Memo = *memo
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

// Helpers

func nullStr(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullDate(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return fiscal.DateOnly(t)
}
