package treasury

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

// Service posts treasury documents through the shared ledger primitive.
type Service struct {
	repo   Repository
	ledger *ledger.Service
	cache  ledger.Invalidator
	logger *slog.Logger
}

// NewService builds the treasury service.
func NewService(repo Repository, ledgerSvc *ledger.Service, cache ledger.Invalidator, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, ledger: ledgerSvc, cache: cache, logger: logger}
}

// PaymentInput describes a vendor payment to post. Ref is the external
// payment reference; when present it makes the posting idempotent.
type PaymentInput struct {
	VendorID      int64
	PayDate       time.Time
	Method        PaymentMethod
	CashBoxID     *int64
	BankAccountID *int64
	Currency      string
	ExchangeRate  decimal.Decimal
	Amount        decimal.Decimal
	Ref           string
	Memo          string
}

func (in PaymentInput) validate() error {
	if in.VendorID <= 0 {
		return fmt.Errorf("%w: vendor required", ErrInvalidDocument)
	}
	if in.PayDate.IsZero() {
		return fmt.Errorf("%w: payment date required", ErrInvalidDocument)
	}
	if in.Currency == "" {
		return fmt.Errorf("%w: currency required", ErrInvalidDocument)
	}
	if !in.Amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidDocument)
	}
	switch in.Method {
	case MethodCash:
		if in.CashBoxID == nil {
			return fmt.Errorf("%w: cash payment requires a cash box", ErrInvalidDocument)
		}
	case MethodBank:
		if in.BankAccountID == nil {
			return fmt.Errorf("%w: bank payment requires a bank account", ErrInvalidDocument)
		}
	default:
		return fmt.Errorf("%w: unknown payment method %q", ErrInvalidDocument, in.Method)
	}
	return nil
}

// PostPayment posts a payment to a supplier: the payable account is
// debited, the cash box or bank GL account credited, and the vendor
// balance log appended, all in one transaction. Retrying with the same Ref
// replays the original result instead of double-posting.
func (s *Service) PostPayment(ctx context.Context, scope shared.Scope, input PaymentInput) (VendorPayment, ledger.JournalEntry, error) {
	if err := input.validate(); err != nil {
		return VendorPayment{}, ledger.JournalEntry{}, err
	}
	rate := input.ExchangeRate
	if rate.IsZero() {
		rate = decimal.NewFromInt(1)
	}
	ref := ledger.DeriveSourceRef(scope.CompanyID, string(ledger.TypePayment), input.Ref)

	var (
		payment VendorPayment
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
		instrumentAccount, err := s.resolveInstrument(ctx, tx, scope, input)
		if err != nil {
			return err
		}

		ltx := tx.Ledger()
		baseCurrency, err := ltx.CompanyBaseCurrency(ctx, scope.CompanyID)
		if err != nil {
			return err
		}
		foreign := !strings.EqualFold(input.Currency, baseCurrency)
		base := input.Amount
		if foreign {
			base = shared.RoundAmount(baseCurrency, input.Amount.Mul(rate))
		}

		payable := ledger.LineInput{AccountID: *vendor.PayableAccountID, Debit: base, Memo: vendor.Name}
		instrument := ledger.LineInput{AccountID: instrumentAccount, Credit: base, Memo: "payment out"}
		if foreign {
			fc := input.Amount
			payable.DebitFC = &fc
			instrument.CreditFC = &fc
		}

		description := input.Memo
		if description == "" {
			description = fmt.Sprintf("Vendor payment %s", vendor.Name)
		}
		entry, err = s.ledger.SubmitEntryTx(ctx, ltx, scope, ledger.EntryInput{
			EntryDate:       input.PayDate,
			EntryType:       ledger.TypePayment,
			Currency:        input.Currency,
			ExchangeRate:    rate,
			Description:     description,
			SourceType:      string(ledger.TypePayment),
			SourceRef:       ref,
			PostImmediately: true,
			Lines:           []ledger.LineInput{payable, instrument},
		})
		if err != nil {
			return err
		}

		payment, err = tx.InsertPayment(ctx, VendorPayment{
			CompanyID:      scope.CompanyID,
			Number:         entry.EntryNumber,
			VendorID:       vendor.ID,
			PayDate:        input.PayDate,
			Method:         input.Method,
			CashBoxID:      input.CashBoxID,
			BankAccountID:  input.BankAccountID,
			Currency:       input.Currency,
			ExchangeRate:   rate,
			Amount:         input.Amount,
			JournalEntryID: entry.ID,
			Memo:           input.Memo,
			CreatedBy:      scope.ActorID,
		})
		if err != nil {
			return err
		}

		balance, err := tx.LatestVendorBalance(ctx, scope.CompanyID, vendor.ID)
		if err != nil {
			return err
		}
		return tx.AppendVendorLedger(ctx, VendorMovement{
			CompanyID:      scope.CompanyID,
			VendorID:       vendor.ID,
			EntryDate:      input.PayDate,
			SourceType:     string(ledger.TypePayment),
			SourceRef:      ref.String(),
			Debit:          base,
			BalanceAfter:   balance.Sub(base),
			JournalEntryID: entry.ID,
		})
	})
	if err != nil {
		if errors.Is(err, ledger.ErrSourceAlreadyPosted) {
			return s.replayPayment(ctx, scope, ref, err)
		}
		return VendorPayment{}, ledger.JournalEntry{}, err
	}

	ledger.RecordEntryPosted(ledger.TypePayment)
	s.bump(ctx)
	s.logger.Info("vendor payment posted",
		slog.Int64("company_id", scope.CompanyID),
		slog.String("number", payment.Number),
		slog.Int64("vendor_id", payment.VendorID),
		slog.String("amount", payment.Amount.String()),
		slog.Int64("actor_id", scope.ActorID))
	return payment, entry, nil
}

// resolveInstrument loads the instrument the payment draws from, checks
// its currency against the document and returns its GL account.
func (s *Service) resolveInstrument(ctx context.Context, tx TxRepository, scope shared.Scope, input PaymentInput) (int64, error) {
	switch input.Method {
	case MethodCash:
		box, err := tx.GetCashBox(ctx, scope.CompanyID, *input.CashBoxID)
		if err != nil {
			return 0, err
		}
		if !strings.EqualFold(box.Currency, input.Currency) {
			return 0, fmt.Errorf("%w: cash box %s holds %s, document is %s",
				ErrCurrencyMismatch, box.Name, box.Currency, input.Currency)
		}
		if box.GLAccountID == nil {
			return 0, &ledger.ConfigError{Entity: fmt.Sprintf("cash box %s", box.Name), Field: "GL account"}
		}
		return *box.GLAccountID, nil
	default:
		acct, err := tx.GetBankAccount(ctx, scope.CompanyID, *input.BankAccountID)
		if err != nil {
			return 0, err
		}
		if !strings.EqualFold(acct.Currency, input.Currency) {
			return 0, fmt.Errorf("%w: bank account %s holds %s, document is %s",
				ErrCurrencyMismatch, acct.Name, acct.Currency, input.Currency)
		}
		if acct.GLAccountID == nil {
			return 0, &ledger.ConfigError{Entity: fmt.Sprintf("bank account %s", acct.Name), Field: "GL account"}
		}
		return *acct.GLAccountID, nil
	}
}

// replayPayment resolves the result of a previous posting with the same
// source reference, so retries are idempotent.
func (s *Service) replayPayment(ctx context.Context, scope shared.Scope, ref uuid.UUID, cause error) (VendorPayment, ledger.JournalEntry, error) {
	entry, err := s.ledger.GetEntryBySource(ctx, scope, string(ledger.TypePayment), ref.String())
	if err != nil {
		return VendorPayment{}, ledger.JournalEntry{}, cause
	}
	payment, err := s.repo.GetPaymentByEntry(ctx, scope.CompanyID, entry.ID)
	if err != nil {
		return VendorPayment{}, ledger.JournalEntry{}, cause
	}
	s.logger.Info("vendor payment replayed",
		slog.Int64("company_id", scope.CompanyID),
		slog.String("number", payment.Number))
	return payment, entry, nil
}

// DepositInput describes a cash deposit to post: money leaves a cash box
// and lands on a bank account of the same currency.
type DepositInput struct {
	CashBoxID     int64
	BankAccountID int64
	DepositDate   time.Time
	Currency      string
	ExchangeRate  decimal.Decimal
	Amount        decimal.Decimal
	Ref           string
	Memo          string
}

func (in DepositInput) validate() error {
	if in.CashBoxID <= 0 {
		return fmt.Errorf("%w: cash box required", ErrInvalidDocument)
	}
	if in.BankAccountID <= 0 {
		return fmt.Errorf("%w: bank account required", ErrInvalidDocument)
	}
	if in.DepositDate.IsZero() {
		return fmt.Errorf("%w: deposit date required", ErrInvalidDocument)
	}
	if in.Currency == "" {
		return fmt.Errorf("%w: currency required", ErrInvalidDocument)
	}
	if !in.Amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidDocument)
	}
	return nil
}

// PostDeposit posts a movement of till money into a bank: the bank GL
// account is debited and the cash box GL account credited. Foreign-currency
// deposits carry the document amount as mirror fields on both lines.
func (s *Service) PostDeposit(ctx context.Context, scope shared.Scope, input DepositInput) (CashDeposit, ledger.JournalEntry, error) {
	if err := input.validate(); err != nil {
		return CashDeposit{}, ledger.JournalEntry{}, err
	}
	rate := input.ExchangeRate
	if rate.IsZero() {
		rate = decimal.NewFromInt(1)
	}
	ref := ledger.DeriveSourceRef(scope.CompanyID, string(ledger.TypeCashDeposit), input.Ref)

	var (
		deposit CashDeposit
		entry   ledger.JournalEntry
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		box, err := tx.GetCashBox(ctx, scope.CompanyID, input.CashBoxID)
		if err != nil {
			return err
		}
		if !strings.EqualFold(box.Currency, input.Currency) {
			return fmt.Errorf("%w: cash box %s holds %s, document is %s",
				ErrCurrencyMismatch, box.Name, box.Currency, input.Currency)
		}
		if box.GLAccountID == nil {
			return &ledger.ConfigError{Entity: fmt.Sprintf("cash box %s", box.Name), Field: "GL account"}
		}
		bank, err := tx.GetBankAccount(ctx, scope.CompanyID, input.BankAccountID)
		if err != nil {
			return err
		}
		if !strings.EqualFold(bank.Currency, input.Currency) {
			return fmt.Errorf("%w: bank account %s holds %s, document is %s",
				ErrCurrencyMismatch, bank.Name, bank.Currency, input.Currency)
		}
		if bank.GLAccountID == nil {
			return &ledger.ConfigError{Entity: fmt.Sprintf("bank account %s", bank.Name), Field: "GL account"}
		}

		ltx := tx.Ledger()
		baseCurrency, err := ltx.CompanyBaseCurrency(ctx, scope.CompanyID)
		if err != nil {
			return err
		}
		foreign := !strings.EqualFold(input.Currency, baseCurrency)
		base := input.Amount
		if foreign {
			base = shared.RoundAmount(baseCurrency, input.Amount.Mul(rate))
		}

		bankLine := ledger.LineInput{AccountID: *bank.GLAccountID, Debit: base, Memo: fmt.Sprintf("deposit to %s", bank.Name)}
		boxLine := ledger.LineInput{AccountID: *box.GLAccountID, Credit: base, Memo: fmt.Sprintf("deposit from %s", box.Name)}
		if foreign {
			fc := input.Amount
			bankLine.DebitFC = &fc
			boxLine.CreditFC = &fc
		}

		description := input.Memo
		if description == "" {
			description = fmt.Sprintf("Cash deposit %s to %s", box.Name, bank.Name)
		}
		entry, err = s.ledger.SubmitEntryTx(ctx, ltx, scope, ledger.EntryInput{
			EntryDate:       input.DepositDate,
			EntryType:       ledger.TypeCashDeposit,
			Currency:        input.Currency,
			ExchangeRate:    rate,
			Description:     description,
			SourceType:      string(ledger.TypeCashDeposit),
			SourceRef:       ref,
			PostImmediately: true,
			Lines:           []ledger.LineInput{bankLine, boxLine},
		})
		if err != nil {
			return err
		}

		deposit, err = tx.InsertDeposit(ctx, CashDeposit{
			CompanyID:      scope.CompanyID,
			Number:         entry.EntryNumber,
			CashBoxID:      box.ID,
			BankAccountID:  bank.ID,
			DepositDate:    input.DepositDate,
			Currency:       input.Currency,
			ExchangeRate:   rate,
			Amount:         input.Amount,
			AmountBase:     base,
			JournalEntryID: entry.ID,
			Memo:           input.Memo,
			CreatedBy:      scope.ActorID,
		})
		return err
	})
	if err != nil {
		if errors.Is(err, ledger.ErrSourceAlreadyPosted) {
			return s.replayDeposit(ctx, scope, ref, err)
		}
		return CashDeposit{}, ledger.JournalEntry{}, err
	}

	ledger.RecordEntryPosted(ledger.TypeCashDeposit)
	s.bump(ctx)
	s.logger.Info("cash deposit posted",
		slog.Int64("company_id", scope.CompanyID),
		slog.String("number", deposit.Number),
		slog.String("amount", deposit.Amount.String()),
		slog.Int64("actor_id", scope.ActorID))
	return deposit, entry, nil
}

func (s *Service) replayDeposit(ctx context.Context, scope shared.Scope, ref uuid.UUID, cause error) (CashDeposit, ledger.JournalEntry, error) {
	entry, err := s.ledger.GetEntryBySource(ctx, scope, string(ledger.TypeCashDeposit), ref.String())
	if err != nil {
		return CashDeposit{}, ledger.JournalEntry{}, cause
	}
	deposit, err := s.repo.GetDepositByEntry(ctx, scope.CompanyID, entry.ID)
	if err != nil {
		return CashDeposit{}, ledger.JournalEntry{}, cause
	}
	s.logger.Info("cash deposit replayed",
		slog.Int64("company_id", scope.CompanyID),
		slog.String("number", deposit.Number))
	return deposit, entry, nil
}

func (s *Service) bump(ctx context.Context) {
	if s.cache != nil {
		s.cache.Bump(ctx)
	}
}
