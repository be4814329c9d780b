// Package ledger owns the journal entry aggregate: creation, approval,
// posting, cancellation and reversal of double-entry records, plus the
// append-only audit trail that documents every transition. All writes go
// through one submit primitive so subsidiary documents and manual entries
// share numbering, balancing and period gating.
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// EntryStatus enumerates journal entry lifecycle states.
type EntryStatus string

const (
	StatusDraft     EntryStatus = "DRAFT"
	StatusApproved  EntryStatus = "APPROVED"
	StatusPosted    EntryStatus = "POSTED"
	StatusCancelled EntryStatus = "CANCELLED"
	StatusReversed  EntryStatus = "REVERSED"
)

// EntryType states which business flow produced the entry.
type EntryType string

const (
	TypeManual          EntryType = "MANUAL"
	TypePurchaseInvoice EntryType = "PURCHASE_INVOICE"
	TypePayment         EntryType = "PAYMENT"
	TypePurchaseReturn  EntryType = "PURCHASE_RETURN"
	TypeCashDeposit     EntryType = "CASH_DEPOSIT"
	TypeReversal        EntryType = "REVERSAL"
)

// AuditAction enumerates recorded lifecycle transitions.
type AuditAction string

const (
	AuditCreated   AuditAction = "CREATED"
	AuditApproved  AuditAction = "APPROVED"
	AuditPosted    AuditAction = "POSTED"
	AuditCancelled AuditAction = "CANCELLED"
	AuditReversed  AuditAction = "REVERSED"
)

// JournalEntry is the aggregate header. Totals are denormalized in base
// currency and never recomputed incrementally; foreign-currency totals are
// carried only for non-base entries.
type JournalEntry struct {
	ID            int64            `json:"id"`
	CompanyID     int64            `json:"company_id"`
	EntryNumber   string           `json:"entry_number"`
	EntryDate     time.Time        `json:"entry_date"`
	FiscalYearID  int64            `json:"fiscal_year_id"`
	PeriodID      int64            `json:"period_id"`
	EntryType     EntryType        `json:"entry_type"`
	Currency      string           `json:"currency"`
	ExchangeRate  decimal.Decimal  `json:"exchange_rate"`
	TotalDebit    decimal.Decimal  `json:"total_debit"`
	TotalCredit   decimal.Decimal  `json:"total_credit"`
	TotalDebitFC  *decimal.Decimal `json:"total_debit_fc,omitempty"`
	TotalCreditFC *decimal.Decimal `json:"total_credit_fc,omitempty"`
	Status        EntryStatus      `json:"status"`
	Description   string           `json:"description"`
	SourceType    string           `json:"source_type,omitempty"`
	SourceRef     string           `json:"source_ref,omitempty"`

	IsReversal      bool   `json:"is_reversal"`
	ReversalOf      *int64 `json:"reversal_of,omitempty"`
	ReversalReason  string `json:"reversal_reason,omitempty"`
	ReversedByEntry *int64 `json:"reversed_by_entry,omitempty"`

	CreatedBy   int64      `json:"created_by"`
	CreatedAt   time.Time  `json:"created_at"`
	ApprovedBy  *int64     `json:"approved_by,omitempty"`
	ApprovedAt  *time.Time `json:"approved_at,omitempty"`
	PostedBy    *int64     `json:"posted_by,omitempty"`
	PostedAt    *time.Time `json:"posted_at,omitempty"`
	CancelledBy *int64     `json:"cancelled_by,omitempty"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// JournalLine is one debit or credit leg, exclusively owned by its entry.
type JournalLine struct {
	ID           int64            `json:"id"`
	EntryID      int64            `json:"entry_id"`
	LineNo       int              `json:"line_no"`
	AccountID    int64            `json:"account_id"`
	CostCenterID *int64           `json:"cost_center_id,omitempty"`
	Debit        decimal.Decimal  `json:"debit"`
	Credit       decimal.Decimal  `json:"credit"`
	DebitFC      *decimal.Decimal `json:"debit_fc,omitempty"`
	CreditFC     *decimal.Decimal `json:"credit_fc,omitempty"`
	Memo         string           `json:"memo,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
}

// AuditLog is one immutable lifecycle record for an entry.
type AuditLog struct {
	ID         int64       `json:"id"`
	CompanyID  int64       `json:"company_id"`
	EntryID    int64       `json:"entry_id"`
	Action     AuditAction `json:"action"`
	ActorID    int64       `json:"actor_id"`
	Notes      string      `json:"notes,omitempty"`
	OccurredAt time.Time   `json:"occurred_at"`
}

// Postable reports whether the posting engine accepts the current status.
func (e JournalEntry) Postable() bool {
	return e.Status == StatusDraft || e.Status == StatusApproved
}

// Cancellable reports whether the entry may still be cancelled.
func (e JournalEntry) Cancellable() bool {
	return e.Status == StatusDraft || e.Status == StatusApproved
}
