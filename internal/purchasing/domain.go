// Package purchasing posts supplier-side documents into the general
// ledger: purchase invoices and purchase returns. Each posting writes the
// document, its journal entry and the vendor balance log in one
// transaction.
package purchasing

import (
	"time"

	"github.com/shopspring/decimal"
)

// Vendor is the supplier read-model. PayableAccountID may be unset; posting
// against such a vendor is a configuration error, never a default account.
type Vendor struct {
	ID               int64  `json:"id"`
	CompanyID        int64  `json:"company_id"`
	Name             string `json:"name"`
	PayableAccountID *int64 `json:"payable_account_id,omitempty"`
}

// Item is the purchasable read-model. Line postings debit the inventory
// account when set, otherwise the expense account.
type Item struct {
	ID                 int64  `json:"id"`
	CompanyID          int64  `json:"company_id"`
	SKU                string `json:"sku"`
	Name               string `json:"name"`
	InventoryAccountID *int64 `json:"inventory_account_id,omitempty"`
	ExpenseAccountID   *int64 `json:"expense_account_id,omitempty"`
}

// DebitAccount resolves the GL account a purchase line posts to.
func (i Item) DebitAccount() (int64, bool) {
	if i.InventoryAccountID != nil {
		return *i.InventoryAccountID, true
	}
	if i.ExpenseAccountID != nil {
		return *i.ExpenseAccountID, true
	}
	return 0, false
}

// DocStatus enumerates subsidiary document statuses. Adapter documents are
// born POSTED; their accounting life continues on the journal side.
type DocStatus string

const (
	DocStatusPosted DocStatus = "POSTED"
)

// PurchaseInvoice is a posted supplier invoice.
type PurchaseInvoice struct {
	ID             int64           `json:"id"`
	CompanyID      int64           `json:"company_id"`
	Number         string          `json:"number"`
	VendorID       int64           `json:"vendor_id"`
	DocDate        time.Time       `json:"doc_date"`
	Currency       string          `json:"currency"`
	ExchangeRate   decimal.Decimal `json:"exchange_rate"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	TaxAmount      decimal.Decimal `json:"tax_amount"`
	Total          decimal.Decimal `json:"total"`
	Status         DocStatus       `json:"status"`
	JournalEntryID int64           `json:"journal_entry_id"`
	CreatedBy      int64           `json:"created_by"`
	CreatedAt      time.Time       `json:"created_at"`
}

// PurchaseInvoiceLine is one invoice line in document currency.
type PurchaseInvoiceLine struct {
	ID        int64           `json:"id"`
	InvoiceID int64           `json:"invoice_id"`
	ItemID    int64           `json:"item_id"`
	Qty       decimal.Decimal `json:"qty"`
	UnitCost  decimal.Decimal `json:"unit_cost"`
	LineTotal decimal.Decimal `json:"line_total"`
}

// PurchaseReturn is a posted return of goods to a supplier.
type PurchaseReturn struct {
	ID             int64           `json:"id"`
	CompanyID      int64           `json:"company_id"`
	Number         string          `json:"number"`
	VendorID       int64           `json:"vendor_id"`
	DocDate        time.Time       `json:"doc_date"`
	Currency       string          `json:"currency"`
	ExchangeRate   decimal.Decimal `json:"exchange_rate"`
	Total          decimal.Decimal `json:"total"`
	Status         DocStatus       `json:"status"`
	JournalEntryID int64           `json:"journal_entry_id"`
	CreatedBy      int64           `json:"created_by"`
	CreatedAt      time.Time       `json:"created_at"`
}

// PurchaseReturnLine is one returned item in document currency.
type PurchaseReturnLine struct {
	ID        int64           `json:"id"`
	ReturnID  int64           `json:"return_id"`
	ItemID    int64           `json:"item_id"`
	Qty       decimal.Decimal `json:"qty"`
	UnitCost  decimal.Decimal `json:"unit_cost"`
	LineTotal decimal.Decimal `json:"line_total"`
}

// VendorLedgerRow is one append-only movement on a vendor's balance, in
// company base currency. BalanceAfter carries the running balance so state
// is readable without replay, while history stays replayable.
type VendorLedgerRow struct {
	ID             int64           `json:"id"`
	CompanyID      int64           `json:"company_id"`
	VendorID       int64           `json:"vendor_id"`
	EntryDate      time.Time       `json:"entry_date"`
	SourceType     string          `json:"source_type"`
	SourceRef      string          `json:"source_ref"`
	Debit          decimal.Decimal `json:"debit"`
	Credit         decimal.Decimal `json:"credit"`
	BalanceAfter   decimal.Decimal `json:"balance_after"`
	JournalEntryID int64           `json:"journal_entry_id"`
	CreatedAt      time.Time       `json:"created_at"`
}
