// Package treasury posts money-movement documents into the general
// ledger: vendor payments drawn from a cash box or bank account, and cash
// deposits moving till money into a bank. Postings write the document, its
// journal entry and (for payments) the vendor balance log in one
// transaction.
package treasury

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentMethod selects the instrument a payment is drawn from.
type PaymentMethod string

const (
	MethodCash PaymentMethod = "CASH"
	MethodBank PaymentMethod = "BANK"
)

// Vendor is the supplier read-model as treasury needs it: enough to debit
// the payable and keep the balance log.
type Vendor struct {
	ID               int64  `json:"id"`
	CompanyID        int64  `json:"company_id"`
	Name             string `json:"name"`
	PayableAccountID *int64 `json:"payable_account_id,omitempty"`
}

// CashBox is a till or petty-cash drawer. GLAccountID may be unset;
// posting against such a box is a configuration error.
type CashBox struct {
	ID          int64  `json:"id"`
	CompanyID   int64  `json:"company_id"`
	Name        string `json:"name"`
	Currency    string `json:"currency"`
	GLAccountID *int64 `json:"gl_account_id,omitempty"`
}

// BankAccount is a company bank account read-model.
type BankAccount struct {
	ID          int64  `json:"id"`
	CompanyID   int64  `json:"company_id"`
	Name        string `json:"name"`
	Currency    string `json:"currency"`
	GLAccountID *int64 `json:"gl_account_id,omitempty"`
}

// VendorPayment is a posted payment to a supplier. Exactly one of
// CashBoxID/BankAccountID is set, matching Method.
type VendorPayment struct {
	ID             int64           `json:"id"`
	CompanyID      int64           `json:"company_id"`
	Number         string          `json:"number"`
	VendorID       int64           `json:"vendor_id"`
	PayDate        time.Time       `json:"pay_date"`
	Method         PaymentMethod   `json:"method"`
	CashBoxID      *int64          `json:"cash_box_id,omitempty"`
	BankAccountID  *int64          `json:"bank_account_id,omitempty"`
	Currency       string          `json:"currency"`
	ExchangeRate   decimal.Decimal `json:"exchange_rate"`
	Amount         decimal.Decimal `json:"amount"`
	JournalEntryID int64           `json:"journal_entry_id"`
	Memo           string          `json:"memo,omitempty"`
	CreatedBy      int64           `json:"created_by"`
	CreatedAt      time.Time       `json:"created_at"`
}

// CashDeposit is a posted movement of till money into a bank account.
// Amount is in document currency, AmountBase in company base currency.
type CashDeposit struct {
	ID             int64           `json:"id"`
	CompanyID      int64           `json:"company_id"`
	Number         string          `json:"number"`
	CashBoxID      int64           `json:"cash_box_id"`
	BankAccountID  int64           `json:"bank_account_id"`
	DepositDate    time.Time       `json:"deposit_date"`
	Currency       string          `json:"currency"`
	ExchangeRate   decimal.Decimal `json:"exchange_rate"`
	Amount         decimal.Decimal `json:"amount"`
	AmountBase     decimal.Decimal `json:"amount_base"`
	JournalEntryID int64           `json:"journal_entry_id"`
	Memo           string          `json:"memo,omitempty"`
	CreatedBy      int64           `json:"created_by"`
	CreatedAt      time.Time       `json:"created_at"`
}

// VendorMovement is the append treasury makes to the shared vendor balance
// log. Columns match the purchasing ledger rows; only payments write here.
type VendorMovement struct {
	CompanyID      int64
	VendorID       int64
	EntryDate      time.Time
	SourceType     string
	SourceRef      string
	Debit          decimal.Decimal
	Credit         decimal.Decimal
	BalanceAfter   decimal.Decimal
	JournalEntryID int64
}
