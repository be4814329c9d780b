package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidEntry indicates structurally malformed input.
	ErrInvalidEntry = errors.New("ledger: invalid entry")
	// ErrEntryNotFound indicates the entry does not exist in company scope.
	ErrEntryNotFound = errors.New("ledger: entry not found")
	// ErrNoOpenPeriod indicates no period covers the entry date.
	ErrNoOpenPeriod = errors.New("ledger: no period covers date")
	// ErrPeriodClosed indicates the covering period is not open.
	ErrPeriodClosed = errors.New("ledger: period not open")
	// ErrAlreadyPosted indicates the entry was posted before.
	ErrAlreadyPosted = errors.New("ledger: entry already posted")
	// ErrCannotPostCancelled indicates posting of a cancelled entry.
	ErrCannotPostCancelled = errors.New("ledger: cannot post cancelled entry")
	// ErrCannotCancel indicates cancelling a posted or reversed entry.
	ErrCannotCancel = errors.New("ledger: cannot cancel posted or reversed entry")
	// ErrCannotApprove indicates approval of a non-draft entry.
	ErrCannotApprove = errors.New("ledger: only draft entries can be approved")
	// ErrMissingReason indicates a reversal without a reason.
	ErrMissingReason = errors.New("ledger: reversal reason required")
	// ErrNotPosted indicates reversal of an entry that is not posted.
	ErrNotPosted = errors.New("ledger: entry not posted")
	// ErrAlreadyReversed indicates the entry has a reversal already.
	ErrAlreadyReversed = errors.New("ledger: entry already reversed")
	// ErrReversalNotReversible indicates an attempt to reverse a reversal.
	ErrReversalNotReversible = errors.New("ledger: reversal entries cannot be reversed")
	// ErrStatusConflict indicates the status moved under a concurrent writer.
	ErrStatusConflict = errors.New("ledger: entry status changed concurrently")
	// ErrSourceAlreadyPosted indicates the source document produced an entry before.
	ErrSourceAlreadyPosted = errors.New("ledger: source document already posted")
)

// Stable machine codes surfaced in problem responses.
const (
	CodeInvalidEntry          = "INVALID_ENTRY"
	CodeUnbalanced            = "UNBALANCED_ENTRY"
	CodeNoOpenPeriod          = "NO_OPEN_PERIOD"
	CodePeriodClosed          = "PERIOD_CLOSED"
	CodeNotFound              = "NOT_FOUND"
	CodeAlreadyPosted         = "ALREADY_POSTED"
	CodeCannotPostCancelled   = "CANNOT_POST_CANCELLED"
	CodeCannotCancel          = "CANNOT_CANCEL_POSTED_OR_REVERSED"
	CodeCannotApprove         = "CANNOT_APPROVE"
	CodeMissingReason         = "MISSING_REASON"
	CodeNotPosted             = "NOT_POSTED"
	CodeAlreadyReversed       = "ALREADY_REVERSED"
	CodeConflict              = "CONFLICT"
	CodeReversalNotReversible = "REVERSAL_NOT_REVERSIBLE"
	CodeSourceAlreadyPosted   = "SOURCE_ALREADY_POSTED"
	CodeMissingAccountConfig  = "MISSING_ACCOUNT_CONFIGURATION"
)

// UnbalancedError reports both totals so callers can render the drift.
type UnbalancedError struct {
	TotalDebit  decimal.Decimal
	TotalCredit decimal.Decimal
	Currency    string
}

func (e *UnbalancedError) Error() string {
	return fmt.Sprintf("ledger: entry unbalanced: debit %s, credit %s %s",
		e.TotalDebit.String(), e.TotalCredit.String(), e.Currency)
}

// ConfigError marks a missing GL account mapping on master data. Adapters
// fail hard on it rather than posting to a default account.
type ConfigError struct {
	Entity string
	Field  string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("ledger: %s has no %s configured", e.Entity, e.Field)
}
