package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/fiscal"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Invalidator lets the service drop read-side report caches after a commit
// changes posted balances. A nil invalidator is a no-op.
type Invalidator interface {
	Bump(ctx context.Context)
}

// Service orchestrates the journal entry lifecycle.
type Service struct {
	repo   Repository
	logger *slog.Logger
	cache  Invalidator
	now    func() time.Time
}

// NewService builds the ledger service.
func NewService(repo Repository, logger *slog.Logger, cache Invalidator) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, logger: logger, cache: cache, now: time.Now}
}

// CreateEntry validates and persists a manual journal entry, as a draft or
// posted immediately. Everything runs in one transaction: the caller sees a
// fully formed entry or nothing.
func (s *Service) CreateEntry(ctx context.Context, scope shared.Scope, input EntryInput) (JournalEntry, error) {
	if input.EntryType == "" {
		input.EntryType = TypeManual
	}
	start := time.Now()
	var entry JournalEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		entry, err = s.SubmitEntryTx(ctx, tx, scope, input)
		return err
	})
	if err != nil {
		recordEntryFailure("create", err)
		return JournalEntry{}, err
	}
	observePostingDuration("create", time.Since(start))
	if entry.Status == StatusPosted {
		RecordEntryPosted(entry.EntryType)
		s.bump(ctx)
	}
	s.logger.Info("journal entry created",
		slog.Int64("company_id", scope.CompanyID),
		slog.String("entry_number", entry.EntryNumber),
		slog.String("status", string(entry.Status)),
		slog.Int64("actor_id", scope.ActorID))
	return entry, nil
}

// SubmitEntryTx is the shared build-and-submit primitive used by manual
// entries, reversals and every subsidiary adapter. It runs the full
// creation protocol inside the caller's transaction: structural validation,
// balance check against the company's base-currency tolerance, period gate
// under row lock, numbering, then the atomic header/lines/audit insert.
func (s *Service) SubmitEntryTx(ctx context.Context, tx TxRepository, scope shared.Scope, input EntryInput) (JournalEntry, error) {
	if input.ExchangeRate.IsZero() {
		input.ExchangeRate = decimal.NewFromInt(1)
	}
	if err := input.Validate(); err != nil {
		return JournalEntry{}, err
	}

	baseCurrency, err := tx.CompanyBaseCurrency(ctx, scope.CompanyID)
	if err != nil {
		return JournalEntry{}, err
	}
	totalDebit, totalCredit := input.Totals()
	if !shared.WithinTolerance(baseCurrency, totalDebit, totalCredit) {
		return JournalEntry{}, &UnbalancedError{TotalDebit: totalDebit, TotalCredit: totalCredit, Currency: baseCurrency}
	}

	period, err := tx.PeriodForDateForUpdate(ctx, scope.CompanyID, input.EntryDate)
	if err != nil {
		return JournalEntry{}, err
	}
	if period.Status != fiscal.PeriodStatusOpen {
		return JournalEntry{}, ErrPeriodClosed
	}

	doc := DocTypeFor(input.EntryType)
	year := fiscal.DateOnly(input.EntryDate).Year()
	seq, err := tx.NextSequence(ctx, scope.CompanyID, doc, year)
	if err != nil {
		return JournalEntry{}, err
	}

	now := s.now().UTC()
	entry := JournalEntry{
		CompanyID:    scope.CompanyID,
		EntryNumber:  FormatNumber(doc, year, seq),
		EntryDate:    fiscal.DateOnly(input.EntryDate),
		FiscalYearID: period.FiscalYearID,
		PeriodID:     period.ID,
		EntryType:    input.EntryType,
		Currency:     input.Currency,
		ExchangeRate: input.ExchangeRate,
		TotalDebit:   totalDebit,
		TotalCredit:  totalCredit,
		Status:       StatusDraft,
		Description:  input.Description,
		SourceType:   input.SourceType,
		IsReversal:   input.reversalOf != nil,
		ReversalOf:   input.reversalOf,
		CreatedBy:    scope.ActorID,
	}
	if input.SourceRef != uuid.Nil {
		entry.SourceRef = input.SourceRef.String()
	}
	if input.reversalOf != nil {
		entry.ReversalReason = input.reversalReason
	}
	if fcDebit, fcCredit, present := input.TotalsFC(); present {
		entry.TotalDebitFC = &fcDebit
		entry.TotalCreditFC = &fcCredit
	}
	if input.PostImmediately {
		entry.Status = StatusPosted
		entry.PostedBy = &scope.ActorID
		entry.PostedAt = &now
	}

	entry, err = tx.InsertEntry(ctx, entry)
	if err != nil {
		return JournalEntry{}, err
	}

	lines := make([]JournalLine, 0, len(input.Lines))
	for i, in := range input.Lines {
		lines = append(lines, JournalLine{
			EntryID:      entry.ID,
			LineNo:       i + 1,
			AccountID:    in.AccountID,
			CostCenterID: in.CostCenterID,
			Debit:        in.Debit,
			Credit:       in.Credit,
			DebitFC:      in.DebitFC,
			CreditFC:     in.CreditFC,
			Memo:         in.Memo,
		})
	}
	if err := tx.InsertLines(ctx, entry.ID, lines); err != nil {
		return JournalEntry{}, err
	}

	if err := tx.InsertAuditLog(ctx, AuditLog{
		CompanyID:  scope.CompanyID,
		EntryID:    entry.ID,
		Action:     AuditCreated,
		ActorID:    scope.ActorID,
		Notes:      fmt.Sprintf("created as %s", entry.Status),
		OccurredAt: now,
	}); err != nil {
		return JournalEntry{}, err
	}
	if entry.Status == StatusPosted {
		if err := tx.InsertAuditLog(ctx, AuditLog{
			CompanyID:  scope.CompanyID,
			EntryID:    entry.ID,
			Action:     AuditPosted,
			ActorID:    scope.ActorID,
			Notes:      "posted on creation",
			OccurredAt: now,
		}); err != nil {
			return JournalEntry{}, err
		}
	}
	return entry, nil
}

// ApproveEntry moves a draft through the optional four-eyes step.
func (s *Service) ApproveEntry(ctx context.Context, scope shared.Scope, entryID int64) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		entry, err := tx.GetEntryForUpdate(ctx, scope.CompanyID, entryID)
		if err != nil {
			return err
		}
		if entry.Status != StatusDraft {
			return ErrCannotApprove
		}
		now := s.now().UTC()
		if err := tx.UpdateEntryStatus(ctx, StatusUpdate{
			EntryID:   entryID,
			CompanyID: scope.CompanyID,
			Expected:  []EntryStatus{StatusDraft},
			Target:    StatusApproved,
			ActorID:   scope.ActorID,
			At:        now,
		}); err != nil {
			return err
		}
		return tx.InsertAuditLog(ctx, AuditLog{
			CompanyID:  scope.CompanyID,
			EntryID:    entryID,
			Action:     AuditApproved,
			ActorID:    scope.ActorID,
			OccurredAt: now,
		})
	})
	if err != nil {
		return err
	}
	s.logger.Info("journal entry approved",
		slog.Int64("company_id", scope.CompanyID),
		slog.Int64("entry_id", entryID),
		slog.Int64("actor_id", scope.ActorID))
	return nil
}

// PostEntry promotes a draft or approved entry to posted. The period gate
// is re-evaluated under lock inside the same transaction, so an entry can
// never slip into a period that closed mid-flight. Exactly one of two
// concurrent posts succeeds; the other observes ErrAlreadyPosted.
func (s *Service) PostEntry(ctx context.Context, scope shared.Scope, entryID int64) error {
	start := time.Now()
	var posted JournalEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		entry, err := tx.GetEntryForUpdate(ctx, scope.CompanyID, entryID)
		if err != nil {
			return err
		}
		switch entry.Status {
		case StatusPosted, StatusReversed:
			return ErrAlreadyPosted
		case StatusCancelled:
			return ErrCannotPostCancelled
		}
		posted = entry

		period, err := tx.PeriodForDateForUpdate(ctx, scope.CompanyID, entry.EntryDate)
		if err != nil {
			return err
		}
		if period.Status != fiscal.PeriodStatusOpen {
			return ErrPeriodClosed
		}

		now := s.now().UTC()
		if err := tx.UpdateEntryStatus(ctx, StatusUpdate{
			EntryID:   entryID,
			CompanyID: scope.CompanyID,
			Expected:  []EntryStatus{StatusDraft, StatusApproved},
			Target:    StatusPosted,
			ActorID:   scope.ActorID,
			At:        now,
		}); err != nil {
			return err
		}
		return tx.InsertAuditLog(ctx, AuditLog{
			CompanyID:  scope.CompanyID,
			EntryID:    entryID,
			Action:     AuditPosted,
			ActorID:    scope.ActorID,
			OccurredAt: now,
		})
	})
	if err != nil {
		recordEntryFailure("post", err)
		return err
	}
	observePostingDuration("post", time.Since(start))
	RecordEntryPosted(posted.EntryType)
	s.bump(ctx)
	s.logger.Info("journal entry posted",
		slog.Int64("company_id", scope.CompanyID),
		slog.Int64("entry_id", entryID),
		slog.Int64("actor_id", scope.ActorID))
	return nil
}

// CancelEntry retires a draft or approved entry. Lines stay in place; only
// the status and stamps change. The optional reason lands in the audit row.
func (s *Service) CancelEntry(ctx context.Context, scope shared.Scope, entryID int64, reason string) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		entry, err := tx.GetEntryForUpdate(ctx, scope.CompanyID, entryID)
		if err != nil {
			return err
		}
		if !entry.Cancellable() {
			return ErrCannotCancel
		}
		now := s.now().UTC()
		if err := tx.UpdateEntryStatus(ctx, StatusUpdate{
			EntryID:   entryID,
			CompanyID: scope.CompanyID,
			Expected:  []EntryStatus{StatusDraft, StatusApproved},
			Target:    StatusCancelled,
			ActorID:   scope.ActorID,
			At:        now,
		}); err != nil {
			return err
		}
		return tx.InsertAuditLog(ctx, AuditLog{
			CompanyID:  scope.CompanyID,
			EntryID:    entryID,
			Action:     AuditCancelled,
			ActorID:    scope.ActorID,
			Notes:      reason,
			OccurredAt: now,
		})
	})
	if err != nil {
		return err
	}
	s.logger.Info("journal entry cancelled",
		slog.Int64("company_id", scope.CompanyID),
		slog.Int64("entry_id", entryID),
		slog.Int64("actor_id", scope.ActorID))
	return nil
}

// ReverseEntry creates the mirror image of a posted entry, dated at
// reversalDate, and stamps the original as reversed. The original's lines
// are never touched; the pair nets to zero on every account.
func (s *Service) ReverseEntry(ctx context.Context, scope shared.Scope, entryID int64, reversalDate time.Time, reason string) (JournalEntry, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		recordEntryFailure("reverse", ErrMissingReason)
		return JournalEntry{}, ErrMissingReason
	}
	if reversalDate.IsZero() {
		recordEntryFailure("reverse", ErrInvalidEntry)
		return JournalEntry{}, fmt.Errorf("%w: reversal date required", ErrInvalidEntry)
	}

	start := time.Now()
	var reversal JournalEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		original, err := tx.GetEntryForUpdate(ctx, scope.CompanyID, entryID)
		if err != nil {
			return err
		}
		if original.IsReversal {
			return ErrReversalNotReversible
		}
		if original.Status == StatusReversed || original.ReversedByEntry != nil {
			return ErrAlreadyReversed
		}
		if original.Status != StatusPosted {
			return ErrNotPosted
		}

		lines, err := tx.GetLines(ctx, original.ID)
		if err != nil {
			return err
		}

		input := EntryInput{
			EntryDate:       reversalDate,
			EntryType:       TypeReversal,
			Currency:        original.Currency,
			ExchangeRate:    original.ExchangeRate,
			Description:     fmt.Sprintf("Reversal of %s: %s", original.EntryNumber, reason),
			PostImmediately: true,
			Lines:           mirrorLines(lines),
			reversalOf:      &original.ID,
			reversalReason:  reason,
		}
		reversal, err = s.SubmitEntryTx(ctx, tx, scope, input)
		if err != nil {
			return err
		}

		now := s.now().UTC()
		if err := tx.UpdateEntryStatus(ctx, StatusUpdate{
			EntryID:         original.ID,
			CompanyID:       scope.CompanyID,
			Expected:        []EntryStatus{StatusPosted},
			Target:          StatusReversed,
			ActorID:         scope.ActorID,
			At:              now,
			ReversalReason:  reason,
			ReversedByEntry: &reversal.ID,
		}); err != nil {
			return err
		}
		return tx.InsertAuditLog(ctx, AuditLog{
			CompanyID:  scope.CompanyID,
			EntryID:    original.ID,
			Action:     AuditReversed,
			ActorID:    scope.ActorID,
			Notes:      fmt.Sprintf("reversed by %s: %s", reversal.EntryNumber, reason),
			OccurredAt: now,
		})
	})
	if err != nil {
		recordEntryFailure("reverse", err)
		return JournalEntry{}, err
	}
	observePostingDuration("reverse", time.Since(start))
	RecordEntryPosted(TypeReversal)
	s.bump(ctx)
	s.logger.Info("journal entry reversed",
		slog.Int64("company_id", scope.CompanyID),
		slog.Int64("entry_id", entryID),
		slog.String("reversal_number", reversal.EntryNumber),
		slog.Int64("actor_id", scope.ActorID))
	return reversal, nil
}

// GetEntry loads one entry with its lines.
func (s *Service) GetEntry(ctx context.Context, scope shared.Scope, entryID int64) (JournalEntry, []JournalLine, error) {
	return s.repo.GetEntry(ctx, scope.CompanyID, entryID)
}

// GetEntryBySource resolves the entry a business document produced, if any.
func (s *Service) GetEntryBySource(ctx context.Context, scope shared.Scope, sourceType, sourceRef string) (JournalEntry, error) {
	return s.repo.GetEntryBySource(ctx, scope.CompanyID, sourceType, sourceRef)
}

// ListEntries pages through the company's entries.
func (s *Service) ListEntries(ctx context.Context, scope shared.Scope, filter EntryFilter) ([]JournalEntry, shared.Pagination, error) {
	entries, total, err := s.repo.ListEntries(ctx, scope.CompanyID, filter)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return entries, shared.NewPagination(filter.Page, filter.PerPage, total), nil
}

func (s *Service) bump(ctx context.Context) {
	if s.cache != nil {
		s.cache.Bump(ctx)
	}
}

func mirrorLines(lines []JournalLine) []LineInput {
	mirrored := make([]LineInput, 0, len(lines))
	for _, line := range lines {
		mirrored = append(mirrored, LineInput{
			AccountID:    line.AccountID,
			CostCenterID: line.CostCenterID,
			Debit:        line.Credit,
			Credit:       line.Debit,
			DebitFC:      line.CreditFC,
			CreditFC:     line.DebitFC,
			Memo:         line.Memo,
		})
	}
	return mirrored
}
