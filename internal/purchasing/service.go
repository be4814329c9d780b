package purchasing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/ledger"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Service posts purchasing documents through the shared ledger primitive.
type Service struct {
	repo   Repository
	ledger *ledger.Service
	cache  ledger.Invalidator
	logger *slog.Logger
}

// NewService builds the purchasing service.
func NewService(repo Repository, ledgerSvc *ledger.Service, cache ledger.Invalidator, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, ledger: ledgerSvc, cache: cache, logger: logger}
}

// InvoiceLineInput is one purchased item line in document currency.
type InvoiceLineInput struct {
	ItemID   int64
	Qty      decimal.Decimal
	UnitCost decimal.Decimal
}

// InvoiceInput describes a purchase invoice to post. Ref is the supplier's
// document reference; when present it makes the posting idempotent.
type InvoiceInput struct {
	VendorID     int64
	DocDate      time.Time
	Currency     string
	ExchangeRate decimal.Decimal
	TaxAmount    decimal.Decimal
	TaxAccountID *int64
	Ref          string
	Memo         string
	Lines        []InvoiceLineInput
}

func (in InvoiceInput) validate() error {
	if in.VendorID <= 0 {
		return fmt.Errorf("%w: vendor required", ErrInvalidDocument)
	}
	if in.DocDate.IsZero() {
		return fmt.Errorf("%w: document date required", ErrInvalidDocument)
	}
	if in.Currency == "" {
		return fmt.Errorf("%w: currency required", ErrInvalidDocument)
	}
	if len(in.Lines) == 0 {
		return fmt.Errorf("%w: at least one line required", ErrInvalidDocument)
	}
	for i, line := range in.Lines {
		no := i + 1
		if line.ItemID <= 0 {
			return fmt.Errorf("%w: line %d: item required", ErrInvalidDocument, no)
		}
		if !line.Qty.IsPositive() {
			return fmt.Errorf("%w: line %d: quantity must be positive", ErrInvalidDocument, no)
		}
		if line.UnitCost.IsNegative() {
			return fmt.Errorf("%w: line %d: negative unit cost", ErrInvalidDocument, no)
		}
	}
	if in.TaxAmount.IsNegative() {
		return fmt.Errorf("%w: negative tax amount", ErrInvalidDocument)
	}
	return nil
}

// PostInvoice validates a purchase invoice, posts its journal entry and
// appends the vendor balance, all in one transaction. Retrying with the
// same Ref replays the original result instead of double-posting.
func (s *Service) PostInvoice(ctx context.Context, scope shared.Scope, input InvoiceInput) (PurchaseInvoice, ledger.JournalEntry, error) {
	if err := input.validate(); err != nil {
		return PurchaseInvoice{}, ledger.JournalEntry{}, err
	}
	if input.TaxAmount.IsPositive() && input.TaxAccountID == nil {
		return PurchaseInvoice{}, ledger.JournalEntry{}, &ledger.ConfigError{Entity: "purchase invoice", Field: "tax account"}
	}
	rate := input.ExchangeRate
	if rate.IsZero() {
		rate = decimal.NewFromInt(1)
	}
	ref := ledger.DeriveSourceRef(scope.CompanyID, string(ledger.TypePurchaseInvoice), input.Ref)

	var (
		invoice PurchaseInvoice
		entry   ledger.JournalEntry
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		vendor, err := tx.GetVendorForUpdate(ctx, scope.CompanyID, input.VendorID)
		if err != nil {
			return err
		}
		if vendor.PayableAccountID == nil {
			return &ledger.ConfigError{Entity: fmt.Sprintf("vendor %s", vendor.Name), Field: "payable account"}
		}

		ltx := tx.Ledger()
		baseCurrency, err := ltx.CompanyBaseCurrency(ctx, scope.CompanyID)
		if err != nil {
			return err
		}
		foreign := !strings.EqualFold(input.Currency, baseCurrency)
		toBase := func(v decimal.Decimal) decimal.Decimal {
			if !foreign {
				return v
			}
			return shared.RoundAmount(baseCurrency, v.Mul(rate))
		}

		itemIDs := make([]int64, 0, len(input.Lines))
		for _, line := range input.Lines {
			itemIDs = append(itemIDs, line.ItemID)
		}
		items, err := tx.GetItems(ctx, scope.CompanyID, itemIDs)
		if err != nil {
			return err
		}

		var (
			subtotal  decimal.Decimal
			baseTotal decimal.Decimal
			docLines  []PurchaseInvoiceLine
			glLines   []ledger.LineInput
		)
		for _, line := range input.Lines {
			item, ok := items[line.ItemID]
			if !ok {
				return fmt.Errorf("%w: item %d", ErrItemNotFound, line.ItemID)
			}
			account, ok := item.DebitAccount()
			if !ok {
				return &ledger.ConfigError{Entity: fmt.Sprintf("item %s", item.SKU), Field: "posting account"}
			}
			lineTotal := shared.RoundAmount(input.Currency, line.Qty.Mul(line.UnitCost))
			subtotal = subtotal.Add(lineTotal)

			base := toBase(lineTotal)
			baseTotal = baseTotal.Add(base)
			gl := ledger.LineInput{AccountID: account, Debit: base, Memo: item.Name}
			if foreign {
				fc := lineTotal
				gl.DebitFC = &fc
			}
			glLines = append(glLines, gl)
			docLines = append(docLines, PurchaseInvoiceLine{
				ItemID:    line.ItemID,
				Qty:       line.Qty,
				UnitCost:  line.UnitCost,
				LineTotal: lineTotal,
			})
		}

		if input.TaxAmount.IsPositive() {
			taxBase := toBase(input.TaxAmount)
			baseTotal = baseTotal.Add(taxBase)
			gl := ledger.LineInput{AccountID: *input.TaxAccountID, Debit: taxBase, Memo: "input tax"}
			if foreign {
				fc := input.TaxAmount
				gl.DebitFC = &fc
			}
			glLines = append(glLines, gl)
		}

		total := subtotal.Add(input.TaxAmount)
		payable := ledger.LineInput{AccountID: *vendor.PayableAccountID, Credit: baseTotal, Memo: vendor.Name}
		if foreign {
			fc := total
			payable.CreditFC = &fc
		}
		glLines = append(glLines, payable)

		description := input.Memo
		if description == "" {
			description = fmt.Sprintf("Purchase invoice %s", vendor.Name)
		}
		entry, err = s.ledger.SubmitEntryTx(ctx, ltx, scope, ledger.EntryInput{
			EntryDate:       input.DocDate,
			EntryType:       ledger.TypePurchaseInvoice,
			Currency:        input.Currency,
			ExchangeRate:    rate,
			Description:     description,
			SourceType:      string(ledger.TypePurchaseInvoice),
			SourceRef:       ref,
			PostImmediately: true,
			Lines:           glLines,
		})
		if err != nil {
			return err
		}

		invoice, err = tx.InsertInvoice(ctx, PurchaseInvoice{
			CompanyID:      scope.CompanyID,
			Number:         entry.EntryNumber,
			VendorID:       vendor.ID,
			DocDate:        input.DocDate,
			Currency:       input.Currency,
			ExchangeRate:   rate,
			Subtotal:       subtotal,
			TaxAmount:      input.TaxAmount,
			Total:          total,
			Status:         DocStatusPosted,
			JournalEntryID: entry.ID,
			CreatedBy:      scope.ActorID,
		})
		if err != nil {
			return err
		}
		if err := tx.InsertInvoiceLines(ctx, invoice.ID, docLines); err != nil {
			return err
		}

		return s.appendVendorLedger(ctx, tx, vendorMovement{
			scope:      scope,
			vendorID:   vendor.ID,
			entryDate:  input.DocDate,
			sourceType: string(ledger.TypePurchaseInvoice),
			sourceRef:  ref,
			credit:     baseTotal,
			entryID:    entry.ID,
		})
	})
	if err != nil {
		if errors.Is(err, ledger.ErrSourceAlreadyPosted) {
			return s.replayInvoice(ctx, scope, ref, err)
		}
		return PurchaseInvoice{}, ledger.JournalEntry{}, err
	}

	ledger.RecordEntryPosted(ledger.TypePurchaseInvoice)
	s.bump(ctx)
	s.logger.Info("purchase invoice posted",
		slog.Int64("company_id", scope.CompanyID),
		slog.String("number", invoice.Number),
		slog.Int64("vendor_id", invoice.VendorID),
		slog.String("total", invoice.Total.String()),
		slog.Int64("actor_id", scope.ActorID))
	return invoice, entry, nil
}

// replayInvoice resolves the result of a previous posting with the same
// source reference, so retries are idempotent.
func (s *Service) replayInvoice(ctx context.Context, scope shared.Scope, ref uuid.UUID, cause error) (PurchaseInvoice, ledger.JournalEntry, error) {
	entry, err := s.ledger.GetEntryBySource(ctx, scope, string(ledger.TypePurchaseInvoice), ref.String())
	if err != nil {
		return PurchaseInvoice{}, ledger.JournalEntry{}, cause
	}
	invoice, err := s.repo.GetInvoiceByEntry(ctx, scope.CompanyID, entry.ID)
	if err != nil {
		return PurchaseInvoice{}, ledger.JournalEntry{}, cause
	}
	s.logger.Info("purchase invoice replayed",
		slog.Int64("company_id", scope.CompanyID),
		slog.String("number", invoice.Number))
	return invoice, entry, nil
}

// ReturnLineInput is one returned item line in document currency.
type ReturnLineInput struct {
	ItemID   int64
	Qty      decimal.Decimal
	UnitCost decimal.Decimal
}

// ReturnInput describes a purchase return to post.
type ReturnInput struct {
	VendorID     int64
	DocDate      time.Time
	Currency     string
	ExchangeRate decimal.Decimal
	Ref          string
	Memo         string
	Lines        []ReturnLineInput
}

func (in ReturnInput) validate() error {
	if in.VendorID <= 0 {
		return fmt.Errorf("%w: vendor required", ErrInvalidDocument)
	}
	if in.DocDate.IsZero() {
		return fmt.Errorf("%w: document date required", ErrInvalidDocument)
	}
	if in.Currency == "" {
		return fmt.Errorf("%w: currency required", ErrInvalidDocument)
	}
	if len(in.Lines) == 0 {
		return fmt.Errorf("%w: at least one line required", ErrInvalidDocument)
	}
	for i, line := range in.Lines {
		no := i + 1
		if line.ItemID <= 0 {
			return fmt.Errorf("%w: line %d: item required", ErrInvalidDocument, no)
		}
		if !line.Qty.IsPositive() {
			return fmt.Errorf("%w: line %d: quantity must be positive", ErrInvalidDocument, no)
		}
		if line.UnitCost.IsNegative() {
			return fmt.Errorf("%w: line %d: negative unit cost", ErrInvalidDocument, no)
		}
	}
	return nil
}

// PostReturn posts a return of goods: payable debited, item accounts
// credited, vendor balance reduced. Same transaction shape as PostInvoice.
func (s *Service) PostReturn(ctx context.Context, scope shared.Scope, input ReturnInput) (PurchaseReturn, ledger.JournalEntry, error) {
	if err := input.validate(); err != nil {
		return PurchaseReturn{}, ledger.JournalEntry{}, err
	}
	rate := input.ExchangeRate
	if rate.IsZero() {
		rate = decimal.NewFromInt(1)
	}
	ref := ledger.DeriveSourceRef(scope.CompanyID, string(ledger.TypePurchaseReturn), input.Ref)

	var (
		ret   PurchaseReturn
		entry ledger.JournalEntry
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		vendor, err := tx.GetVendorForUpdate(ctx, scope.CompanyID, input.VendorID)
		if err != nil {
			return err
		}
		if vendor.PayableAccountID == nil {
			return &ledger.ConfigError{Entity: fmt.Sprintf("vendor %s", vendor.Name), Field: "payable account"}
		}

		ltx := tx.Ledger()
		baseCurrency, err := ltx.CompanyBaseCurrency(ctx, scope.CompanyID)
		if err != nil {
			return err
		}
		foreign := !strings.EqualFold(input.Currency, baseCurrency)
		toBase := func(v decimal.Decimal) decimal.Decimal {
			if !foreign {
				return v
			}
			return shared.RoundAmount(baseCurrency, v.Mul(rate))
		}

		itemIDs := make([]int64, 0, len(input.Lines))
		for _, line := range input.Lines {
			itemIDs = append(itemIDs, line.ItemID)
		}
		items, err := tx.GetItems(ctx, scope.CompanyID, itemIDs)
		if err != nil {
			return err
		}

		var (
			total     decimal.Decimal
			baseTotal decimal.Decimal
			docLines  []PurchaseReturnLine
			glLines   []ledger.LineInput
		)
		for _, line := range input.Lines {
			item, ok := items[line.ItemID]
			if !ok {
				return fmt.Errorf("%w: item %d", ErrItemNotFound, line.ItemID)
			}
			account, ok := item.DebitAccount()
			if !ok {
				return &ledger.ConfigError{Entity: fmt.Sprintf("item %s", item.SKU), Field: "posting account"}
			}
			lineTotal := shared.RoundAmount(input.Currency, line.Qty.Mul(line.UnitCost))
			total = total.Add(lineTotal)

			base := toBase(lineTotal)
			baseTotal = baseTotal.Add(base)
			gl := ledger.LineInput{AccountID: account, Credit: base, Memo: item.Name}
			if foreign {
				fc := lineTotal
				gl.CreditFC = &fc
			}
			glLines = append(glLines, gl)
			docLines = append(docLines, PurchaseReturnLine{
				ItemID:    line.ItemID,
				Qty:       line.Qty,
				UnitCost:  line.UnitCost,
				LineTotal: lineTotal,
			})
		}

		payable := ledger.LineInput{AccountID: *vendor.PayableAccountID, Debit: baseTotal, Memo: vendor.Name}
		if foreign {
			fc := total
			payable.DebitFC = &fc
		}
		glLines = append([]ledger.LineInput{payable}, glLines...)

		description := input.Memo
		if description == "" {
			description = fmt.Sprintf("Purchase return %s", vendor.Name)
		}
		entry, err = s.ledger.SubmitEntryTx(ctx, ltx, scope, ledger.EntryInput{
			EntryDate:       input.DocDate,
			EntryType:       ledger.TypePurchaseReturn,
			Currency:        input.Currency,
			ExchangeRate:    rate,
			Description:     description,
			SourceType:      string(ledger.TypePurchaseReturn),
			SourceRef:       ref,
			PostImmediately: true,
			Lines:           glLines,
		})
		if err != nil {
			return err
		}

		ret, err = tx.InsertReturn(ctx, PurchaseReturn{
			CompanyID:      scope.CompanyID,
			Number:         entry.EntryNumber,
			VendorID:       vendor.ID,
			DocDate:        input.DocDate,
			Currency:       input.Currency,
			ExchangeRate:   rate,
			Total:          total,
			Status:         DocStatusPosted,
			JournalEntryID: entry.ID,
			CreatedBy:      scope.ActorID,
		})
		if err != nil {
			return err
		}
		if err := tx.InsertReturnLines(ctx, ret.ID, docLines); err != nil {
			return err
		}

		return s.appendVendorLedger(ctx, tx, vendorMovement{
			scope:      scope,
			vendorID:   vendor.ID,
			entryDate:  input.DocDate,
			sourceType: string(ledger.TypePurchaseReturn),
			sourceRef:  ref,
			debit:      baseTotal,
			entryID:    entry.ID,
		})
	})
	if err != nil {
		if errors.Is(err, ledger.ErrSourceAlreadyPosted) {
			return s.replayReturn(ctx, scope, ref, err)
		}
		return PurchaseReturn{}, ledger.JournalEntry{}, err
	}

	ledger.RecordEntryPosted(ledger.TypePurchaseReturn)
	s.bump(ctx)
	s.logger.Info("purchase return posted",
		slog.Int64("company_id", scope.CompanyID),
		slog.String("number", ret.Number),
		slog.Int64("vendor_id", ret.VendorID),
		slog.String("total", ret.Total.String()),
		slog.Int64("actor_id", scope.ActorID))
	return ret, entry, nil
}

func (s *Service) replayReturn(ctx context.Context, scope shared.Scope, ref uuid.UUID, cause error) (PurchaseReturn, ledger.JournalEntry, error) {
	entry, err := s.ledger.GetEntryBySource(ctx, scope, string(ledger.TypePurchaseReturn), ref.String())
	if err != nil {
		return PurchaseReturn{}, ledger.JournalEntry{}, cause
	}
	ret, err := s.repo.GetReturnByEntry(ctx, scope.CompanyID, entry.ID)
	if err != nil {
		return PurchaseReturn{}, ledger.JournalEntry{}, cause
	}
	s.logger.Info("purchase return replayed",
		slog.Int64("company_id", scope.CompanyID),
		slog.String("number", ret.Number))
	return ret, entry, nil
}

type vendorMovement struct {
	scope      shared.Scope
	vendorID   int64
	entryDate  time.Time
	sourceType string
	sourceRef  uuid.UUID
	debit      decimal.Decimal
	credit     decimal.Decimal
	entryID    int64
}

// appendVendorLedger writes the next balance row. The caller holds the
// vendor row lock, so balance_after arithmetic is race-free.
func (s *Service) appendVendorLedger(ctx context.Context, tx TxRepository, mv vendorMovement) error {
	balance, err := tx.LatestVendorBalance(ctx, mv.scope.CompanyID, mv.vendorID)
	if err != nil {
		return err
	}
	return tx.AppendVendorLedger(ctx, VendorLedgerRow{
		CompanyID:      mv.scope.CompanyID,
		VendorID:       mv.vendorID,
		EntryDate:      mv.entryDate,
		SourceType:     mv.sourceType,
		SourceRef:      mv.sourceRef.String(),
		Debit:          mv.debit,
		Credit:         mv.credit,
		BalanceAfter:   balance.Add(mv.credit).Sub(mv.debit),
		JournalEntryID: mv.entryID,
	})
}

// GetInvoice loads one invoice with its lines.
func (s *Service) GetInvoice(ctx context.Context, scope shared.Scope, invoiceID int64) (PurchaseInvoice, []PurchaseInvoiceLine, error) {
	return s.repo.GetInvoice(ctx, scope.CompanyID, invoiceID)
}

// VendorLedger pages through a vendor's balance log, newest first.
func (s *Service) VendorLedger(ctx context.Context, scope shared.Scope, vendorID int64, page, perPage int) ([]VendorLedgerRow, shared.Pagination, error) {
	if _, err := s.repo.GetVendor(ctx, scope.CompanyID, vendorID); err != nil {
		return nil, shared.Pagination{}, err
	}
	rows, total, err := s.repo.ListVendorLedger(ctx, scope.CompanyID, vendorID, page, perPage)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return rows, shared.NewPagination(page, perPage, total), nil
}

func (s *Service) bump(ctx context.Context) {
	if s.cache != nil {
		s.cache.Bump(ctx)
	}
}
