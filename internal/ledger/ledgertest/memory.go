// Package ledgertest provides an in-memory ledger repository for service
// and adapter tests. Transactions snapshot the store and roll back on
// error, so tests can assert that failed submits leave nothing behind.
package ledgertest

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/meridian-erp/meridian-erp/internal/fiscal"
	"github.com/meridian-erp/meridian-erp/internal/ledger"
)

// MemoryRepository implements ledger.Repository against process-local maps.
type MemoryRepository struct {
	currencies map[int64]string
	periods    map[int64]fiscal.Period
	entries    map[int64]ledger.JournalEntry
	lines      map[int64][]ledger.JournalLine
	audits     []ledger.AuditLog
	seqs       map[string]int64
	nextID     int64
}

// NewMemoryRepository builds an empty in-memory store.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		currencies: make(map[int64]string),
		periods:    make(map[int64]fiscal.Period),
		entries:    make(map[int64]ledger.JournalEntry),
		lines:      make(map[int64][]ledger.JournalLine),
		seqs:       make(map[string]int64),
	}
}

// SeedCompany registers a company with its base currency.
func (r *MemoryRepository) SeedCompany(companyID int64, baseCurrency string) {
	r.currencies[companyID] = baseCurrency
}

// SeedPeriod registers one monthly period and returns it.
func (r *MemoryRepository) SeedPeriod(companyID int64, year int, month time.Month, status fiscal.PeriodStatus) fiscal.Period {
	starts, ends := fiscal.MonthWindow(year, month)
	r.nextID++
	p := fiscal.Period{
		ID:           r.nextID,
		CompanyID:    companyID,
		FiscalYearID: int64(year),
		Code:         fiscal.PeriodCode(year, month),
		StartsOn:     starts,
		EndsOn:       ends,
		Status:       status,
	}
	r.periods[p.ID] = p
	return p
}

// SetPeriodStatus flips a seeded period, e.g. to close it mid-test.
func (r *MemoryRepository) SetPeriodStatus(periodID int64, status fiscal.PeriodStatus) {
	p := r.periods[periodID]
	p.Status = status
	r.periods[periodID] = p
}

// EntryCount reports how many entry headers the store holds.
func (r *MemoryRepository) EntryCount() int {
	return len(r.entries)
}

// Entry returns a stored entry header by id.
func (r *MemoryRepository) Entry(id int64) (ledger.JournalEntry, bool) {
	e, ok := r.entries[id]
	return e, ok
}

// Audits returns the audit rows recorded for one entry, oldest first.
func (r *MemoryRepository) Audits(entryID int64) []ledger.AuditLog {
	var out []ledger.AuditLog
	for _, a := range r.audits {
		if a.EntryID == entryID {
			out = append(out, a)
		}
	}
	return out
}

// Tx returns a ledger.TxRepository bound directly to the store, for adapter
// tests that manage their own transaction boundary.
func (r *MemoryRepository) Tx() ledger.TxRepository {
	return &memoryTx{repo: r}
}

type snapshot struct {
	entries map[int64]ledger.JournalEntry
	lines   map[int64][]ledger.JournalLine
	audits  []ledger.AuditLog
	seqs    map[string]int64
	nextID  int64
}

func (r *MemoryRepository) snapshot() snapshot {
	s := snapshot{
		entries: make(map[int64]ledger.JournalEntry, len(r.entries)),
		lines:   make(map[int64][]ledger.JournalLine, len(r.lines)),
		audits:  append([]ledger.AuditLog(nil), r.audits...),
		seqs:    make(map[string]int64, len(r.seqs)),
		nextID:  r.nextID,
	}
	for id, e := range r.entries {
		s.entries[id] = e
	}
	for id, ls := range r.lines {
		s.lines[id] = append([]ledger.JournalLine(nil), ls...)
	}
	for k, v := range r.seqs {
		s.seqs[k] = v
	}
	return s
}

// Restore rolls the store back to a snapshot taken before a transaction.
func (r *MemoryRepository) restore(s snapshot) {
	r.entries = s.entries
	r.lines = s.lines
	r.audits = s.audits
	r.seqs = s.seqs
	r.nextID = s.nextID
}

// WithTx runs fn against the store and rolls back all writes if it errors.
func (r *MemoryRepository) WithTx(ctx context.Context, fn func(context.Context, ledger.TxRepository) error) error {
	snap := r.snapshot()
	if err := fn(ctx, &memoryTx{repo: r}); err != nil {
		r.restore(snap)
		return err
	}
	return nil
}

func (r *MemoryRepository) GetEntry(ctx context.Context, companyID, entryID int64) (ledger.JournalEntry, []ledger.JournalLine, error) {
	e, ok := r.entries[entryID]
	if !ok || e.CompanyID != companyID {
		return ledger.JournalEntry{}, nil, ledger.ErrEntryNotFound
	}
	return e, append([]ledger.JournalLine(nil), r.lines[entryID]...), nil
}

func (r *MemoryRepository) GetEntryBySource(ctx context.Context, companyID int64, sourceType, sourceRef string) (ledger.JournalEntry, error) {
	for _, e := range r.entries {
		if e.CompanyID == companyID && e.SourceType == sourceType && e.SourceRef == sourceRef {
			return e, nil
		}
	}
	return ledger.JournalEntry{}, ledger.ErrEntryNotFound
}

func (r *MemoryRepository) ListEntries(ctx context.Context, companyID int64, filter ledger.EntryFilter) ([]ledger.JournalEntry, int, error) {
	var matched []ledger.JournalEntry
	for _, e := range r.entries {
		if e.CompanyID != companyID {
			continue
		}
		if filter.Status != "" && e.Status != filter.Status {
			continue
		}
		if filter.EntryType != "" && e.EntryType != filter.EntryType {
			continue
		}
		if !filter.DateFrom.IsZero() && e.EntryDate.Before(fiscal.DateOnly(filter.DateFrom)) {
			continue
		}
		if !filter.DateTo.IsZero() && e.EntryDate.After(fiscal.DateOnly(filter.DateTo)) {
			continue
		}
		matched = append(matched, e)
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].EntryDate.Equal(matched[j].EntryDate) {
			return matched[i].EntryDate.After(matched[j].EntryDate)
		}
		return matched[i].ID > matched[j].ID
	})

	total := len(matched)
	page := filter.Page
	if page <= 0 {
		page = 1
	}
	perPage := filter.PerPage
	if perPage <= 0 {
		perPage = 20
	}
	start := (page - 1) * perPage
	if start >= total {
		return nil, total, nil
	}
	end := start + perPage
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

type memoryTx struct {
	repo *MemoryRepository
}

func (tx *memoryTx) CompanyBaseCurrency(ctx context.Context, companyID int64) (string, error) {
	currency, ok := tx.repo.currencies[companyID]
	if !ok {
		return "", fmt.Errorf("ledger: company %d not found", companyID)
	}
	return currency, nil
}

func (tx *memoryTx) PeriodForDateForUpdate(ctx context.Context, companyID int64, date time.Time) (fiscal.Period, error) {
	for _, p := range tx.repo.periods {
		if p.CompanyID == companyID && p.Covers(date) {
			return p, nil
		}
	}
	return fiscal.Period{}, ledger.ErrNoOpenPeriod
}

func (tx *memoryTx) NextSequence(ctx context.Context, companyID int64, doc ledger.DocType, year int) (int64, error) {
	key := fmt.Sprintf("%d:%s:%d", companyID, doc, year)
	tx.repo.seqs[key]++
	return tx.repo.seqs[key], nil
}

func (tx *memoryTx) InsertEntry(ctx context.Context, e ledger.JournalEntry) (ledger.JournalEntry, error) {
	if e.SourceType != "" && e.SourceRef != "" {
		for _, existing := range tx.repo.entries {
			if existing.CompanyID == e.CompanyID && existing.SourceType == e.SourceType && existing.SourceRef == e.SourceRef {
				return ledger.JournalEntry{}, ledger.ErrSourceAlreadyPosted
			}
		}
	}
	tx.repo.nextID++
	e.ID = tx.repo.nextID
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	e.UpdatedAt = e.CreatedAt
	tx.repo.entries[e.ID] = e
	return e, nil
}

func (tx *memoryTx) InsertLines(ctx context.Context, entryID int64, lines []ledger.JournalLine) error {
	stored := make([]ledger.JournalLine, 0, len(lines))
	for _, line := range lines {
		tx.repo.nextID++
		line.ID = tx.repo.nextID
		line.EntryID = entryID
		stored = append(stored, line)
	}
	tx.repo.lines[entryID] = stored
	return nil
}

func (tx *memoryTx) GetEntryForUpdate(ctx context.Context, companyID, entryID int64) (ledger.JournalEntry, error) {
	e, ok := tx.repo.entries[entryID]
	if !ok || e.CompanyID != companyID {
		return ledger.JournalEntry{}, ledger.ErrEntryNotFound
	}
	return e, nil
}

func (tx *memoryTx) GetLines(ctx context.Context, entryID int64) ([]ledger.JournalLine, error) {
	return append([]ledger.JournalLine(nil), tx.repo.lines[entryID]...), nil
}

func (tx *memoryTx) UpdateEntryStatus(ctx context.Context, upd ledger.StatusUpdate) error {
	e, ok := tx.repo.entries[upd.EntryID]
	if !ok || e.CompanyID != upd.CompanyID {
		return ledger.ErrStatusConflict
	}
	allowed := false
	for _, st := range upd.Expected {
		if e.Status == st {
			allowed = true
			break
		}
	}
	if !allowed {
		return ledger.ErrStatusConflict
	}

	e.Status = upd.Target
	at := upd.At
	switch upd.Target {
	case ledger.StatusApproved:
		e.ApprovedBy = &upd.ActorID
		e.ApprovedAt = &at
	case ledger.StatusPosted:
		e.PostedBy = &upd.ActorID
		e.PostedAt = &at
	case ledger.StatusCancelled:
		e.CancelledBy = &upd.ActorID
		e.CancelledAt = &at
	case ledger.StatusReversed:
		if upd.ReversalReason != "" {
			e.ReversalReason = upd.ReversalReason
		}
		e.ReversedByEntry = upd.ReversedByEntry
	}
	e.UpdatedAt = at
	tx.repo.entries[upd.EntryID] = e
	return nil
}

func (tx *memoryTx) InsertAuditLog(ctx context.Context, log ledger.AuditLog) error {
	tx.repo.nextID++
	log.ID = tx.repo.nextID
	tx.repo.audits = append(tx.repo.audits, log)
	return nil
}

// BumpSpy counts cache invalidations for assertions.
type BumpSpy struct {
	Count int
}

func (s *BumpSpy) Bump(ctx context.Context) { s.Count++ }
