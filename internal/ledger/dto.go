package ledger

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DeriveSourceRef builds the deterministic source reference adapters use
// for replay protection. An empty external ref yields a random one, which
// disables replay protection for that call.
func DeriveSourceRef(companyID int64, sourceType, ref string) uuid.UUID {
	if strings.TrimSpace(ref) == "" {
		return uuid.New()
	}
	return uuid.NewSHA1(uuid.Nil, []byte(fmt.Sprintf("%d:%s:%s", companyID, sourceType, ref)))
}

// LineInput is one leg of an entry to be submitted. Debit and Credit are
// base-currency amounts; the FC mirrors carry the document currency for
// foreign entries and must sit on the same side as the base amount.
type LineInput struct {
	AccountID    int64
	CostCenterID *int64
	Debit        decimal.Decimal
	Credit       decimal.Decimal
	DebitFC      *decimal.Decimal
	CreditFC     *decimal.Decimal
	Memo         string
}

// EntryInput describes a journal entry to submit through the shared
// primitive. Manual entries leave SourceType/SourceRef empty; adapters set
// them so a business document can never post twice.
type EntryInput struct {
	EntryDate       time.Time
	EntryType       EntryType
	Currency        string
	ExchangeRate    decimal.Decimal
	Description     string
	SourceType      string
	SourceRef       uuid.UUID
	PostImmediately bool
	Lines           []LineInput

	reversalOf     *int64
	reversalReason string
}

// Validate runs the structural checks. Balance and period checks need
// database state and run inside the submit transaction.
func (in EntryInput) Validate() error {
	if in.EntryDate.IsZero() {
		return fmt.Errorf("%w: entry date required", ErrInvalidEntry)
	}
	if in.EntryType == "" {
		return fmt.Errorf("%w: entry type required", ErrInvalidEntry)
	}
	if in.Currency == "" {
		return fmt.Errorf("%w: currency required", ErrInvalidEntry)
	}
	if in.ExchangeRate.IsNegative() || in.ExchangeRate.IsZero() {
		return fmt.Errorf("%w: exchange rate must be positive", ErrInvalidEntry)
	}
	if len(in.Lines) < 2 {
		return fmt.Errorf("%w: at least two lines required", ErrInvalidEntry)
	}
	for i, line := range in.Lines {
		no := i + 1
		if line.AccountID <= 0 {
			return fmt.Errorf("%w: line %d: account required", ErrInvalidEntry, no)
		}
		if line.Debit.IsNegative() || line.Credit.IsNegative() {
			return fmt.Errorf("%w: line %d: negative amount", ErrInvalidEntry, no)
		}
		debitSet := line.Debit.IsPositive()
		creditSet := line.Credit.IsPositive()
		if debitSet && creditSet {
			return fmt.Errorf("%w: line %d: debit and credit both set", ErrInvalidEntry, no)
		}
		if !debitSet && !creditSet {
			return fmt.Errorf("%w: line %d: amount required", ErrInvalidEntry, no)
		}
		if line.DebitFC != nil && line.DebitFC.IsNegative() || line.CreditFC != nil && line.CreditFC.IsNegative() {
			return fmt.Errorf("%w: line %d: negative foreign amount", ErrInvalidEntry, no)
		}
		if debitSet && line.CreditFC != nil || creditSet && line.DebitFC != nil {
			return fmt.Errorf("%w: line %d: foreign mirror on wrong side", ErrInvalidEntry, no)
		}
	}
	return nil
}

// Totals sums the base-currency legs.
func (in EntryInput) Totals() (debit, credit decimal.Decimal) {
	for _, line := range in.Lines {
		debit = debit.Add(line.Debit)
		credit = credit.Add(line.Credit)
	}
	return debit, credit
}

// TotalsFC sums the foreign mirrors. present is false when no line carries
// a foreign amount.
func (in EntryInput) TotalsFC() (debit, credit decimal.Decimal, present bool) {
	for _, line := range in.Lines {
		if line.DebitFC != nil {
			debit = debit.Add(*line.DebitFC)
			present = true
		}
		if line.CreditFC != nil {
			credit = credit.Add(*line.CreditFC)
			present = true
		}
	}
	return debit, credit, present
}

// EntryFilter narrows entry listings.
type EntryFilter struct {
	Status    EntryStatus
	EntryType EntryType
	DateFrom  time.Time
	DateTo    time.Time
	Page      int
	PerPage   int
}
