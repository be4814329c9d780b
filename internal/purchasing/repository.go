package purchasing

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/fiscal"
	"github.com/meridian-erp/meridian-erp/internal/ledger"
)

// Repository encapsulates DB operations for purchasing documents.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetVendor(ctx context.Context, companyID, vendorID int64) (Vendor, error)
	GetInvoice(ctx context.Context, companyID, invoiceID int64) (PurchaseInvoice, []PurchaseInvoiceLine, error)
	GetInvoiceByEntry(ctx context.Context, companyID, entryID int64) (PurchaseInvoice, error)
	GetReturnByEntry(ctx context.Context, companyID, entryID int64) (PurchaseReturn, error)
	ListVendorLedger(ctx context.Context, companyID, vendorID int64, page, perPage int) ([]VendorLedgerRow, int, error)
}

// TxRepository exposes the writes of one posting transaction. Ledger()
// returns the journal repository bound to the same transaction, so the
// document row, the vendor balance row and the journal entry commit or
// roll back together.
type TxRepository interface {
	Ledger() ledger.TxRepository
	GetVendorForUpdate(ctx context.Context, companyID, vendorID int64) (Vendor, error)
	GetItems(ctx context.Context, companyID int64, itemIDs []int64) (map[int64]Item, error)
	InsertInvoice(ctx context.Context, inv PurchaseInvoice) (PurchaseInvoice, error)
	InsertInvoiceLines(ctx context.Context, invoiceID int64, lines []PurchaseInvoiceLine) error
	InsertReturn(ctx context.Context, ret PurchaseReturn) (PurchaseReturn, error)
	InsertReturnLines(ctx context.Context, returnID int64, lines []PurchaseReturnLine) error
	LatestVendorBalance(ctx context.Context, companyID, vendorID int64) (decimal.Decimal, error)
	AppendVendorLedger(ctx context.Context, row VendorLedgerRow) error
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository builds the pgx-backed purchasing repository.
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

func (r *repository) GetVendor(ctx context.Context, companyID, vendorID int64) (Vendor, error) {
	return scanVendor(r.pool.QueryRow(ctx, `SELECT id, company_id, name, payable_account_id
FROM vendors WHERE id=$1 AND company_id=$2`, vendorID, companyID))
}

const invoiceColumns = `id, company_id, number, vendor_id, doc_date, currency, exchange_rate,
subtotal, tax_amount, total, status, journal_entry_id, created_by, created_at`

func scanInvoice(row pgx.Row) (PurchaseInvoice, error) {
	var inv PurchaseInvoice
	err := row.Scan(&inv.ID, &inv.CompanyID, &inv.Number, &inv.VendorID, &inv.DocDate, &inv.Currency, &inv.ExchangeRate,
		&inv.Subtotal, &inv.TaxAmount, &inv.Total, &inv.Status, &inv.JournalEntryID, &inv.CreatedBy, &inv.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PurchaseInvoice{}, ErrInvoiceNotFound
		}
		return PurchaseInvoice{}, err
	}
	return inv, nil
}

func (r *repository) GetInvoice(ctx context.Context, companyID, invoiceID int64) (PurchaseInvoice, []PurchaseInvoiceLine, error) {
	inv, err := scanInvoice(r.pool.QueryRow(ctx, `SELECT `+invoiceColumns+`
FROM purchase_invoices WHERE id=$1 AND company_id=$2`, invoiceID, companyID))
	if err != nil {
		return PurchaseInvoice{}, nil, err
	}
	rows, err := r.pool.Query(ctx, `SELECT id, invoice_id, item_id, qty, unit_cost, line_total
FROM purchase_invoice_lines WHERE invoice_id=$1 ORDER BY id ASC`, inv.ID)
	if err != nil {
		return PurchaseInvoice{}, nil, err
	}
	defer rows.Close()
	var lines []PurchaseInvoiceLine
	for rows.Next() {
		var line PurchaseInvoiceLine
		if err := rows.Scan(&line.ID, &line.InvoiceID, &line.ItemID, &line.Qty, &line.UnitCost, &line.LineTotal); err != nil {
			return PurchaseInvoice{}, nil, err
		}
		lines = append(lines, line)
	}
	return inv, lines, rows.Err()
}

func (r *repository) GetInvoiceByEntry(ctx context.Context, companyID, entryID int64) (PurchaseInvoice, error) {
	return scanInvoice(r.pool.QueryRow(ctx, `SELECT `+invoiceColumns+`
FROM purchase_invoices WHERE journal_entry_id=$1 AND company_id=$2`, entryID, companyID))
}

func (r *repository) GetReturnByEntry(ctx context.Context, companyID, entryID int64) (PurchaseReturn, error) {
	var ret PurchaseReturn
	err := r.pool.QueryRow(ctx, `SELECT id, company_id, number, vendor_id, doc_date, currency, exchange_rate,
total, status, journal_entry_id, created_by, created_at
FROM purchase_returns WHERE journal_entry_id=$1 AND company_id=$2`, entryID, companyID).
		Scan(&ret.ID, &ret.CompanyID, &ret.Number, &ret.VendorID, &ret.DocDate, &ret.Currency, &ret.ExchangeRate,
			&ret.Total, &ret.Status, &ret.JournalEntryID, &ret.CreatedBy, &ret.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PurchaseReturn{}, ErrInvoiceNotFound
		}
		return PurchaseReturn{}, err
	}
	return ret, nil
}

func (r *repository) ListVendorLedger(ctx context.Context, companyID, vendorID int64, page, perPage int) ([]VendorLedgerRow, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM vendor_ledger WHERE company_id=$1 AND vendor_id=$2`,
		companyID, vendorID).Scan(&total); err != nil {
		return nil, 0, err
	}
	if page <= 0 {
		page = 1
	}
	if perPage <= 0 {
		perPage = 20
	}
	rows, err := r.pool.Query(ctx, `SELECT id, company_id, vendor_id, entry_date, source_type, source_ref,
debit, credit, balance_after, journal_entry_id, created_at
FROM vendor_ledger WHERE company_id=$1 AND vendor_id=$2
ORDER BY id DESC LIMIT $3 OFFSET $4`, companyID, vendorID, perPage, (page-1)*perPage)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []VendorLedgerRow
	for rows.Next() {
		var row VendorLedgerRow
		if err := rows.Scan(&row.ID, &row.CompanyID, &row.VendorID, &row.EntryDate, &row.SourceType, &row.SourceRef,
			&row.Debit, &row.Credit, &row.BalanceAfter, &row.JournalEntryID, &row.CreatedAt); err != nil {
			return nil, 0, err
		}
		out = append(out, row)
	}
	return out, total, rows.Err()
}

type txRepository struct {
	tx pgx.Tx
}

func (r *txRepository) Ledger() ledger.TxRepository {
	return ledger.NewTxRepository(r.tx)
}

func scanVendor(row pgx.Row) (Vendor, error) {
	var v Vendor
	err := row.Scan(&v.ID, &v.CompanyID, &v.Name, &v.PayableAccountID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Vendor{}, ErrVendorNotFound
		}
		return Vendor{}, err
	}
	return v, nil
}

// GetVendorForUpdate locks the vendor row for the rest of the transaction.
// Balance appends for one vendor serialize on this lock.
func (r *txRepository) GetVendorForUpdate(ctx context.Context, companyID, vendorID int64) (Vendor, error) {
	return scanVendor(r.tx.QueryRow(ctx, `SELECT id, company_id, name, payable_account_id
FROM vendors WHERE id=$1 AND company_id=$2 FOR UPDATE`, vendorID, companyID))
}

func (r *txRepository) GetItems(ctx context.Context, companyID int64, itemIDs []int64) (map[int64]Item, error) {
	rows, err := r.tx.Query(ctx, `SELECT id, company_id, sku, name, inventory_account_id, expense_account_id
FROM items WHERE company_id=$1 AND id = ANY($2)`, companyID, itemIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := make(map[int64]Item, len(itemIDs))
	for rows.Next() {
		var item Item
		if err := rows.Scan(&item.ID, &item.CompanyID, &item.SKU, &item.Name, &item.InventoryAccountID, &item.ExpenseAccountID); err != nil {
			return nil, err
		}
		items[item.ID] = item
	}
	return items, rows.Err()
}

func (r *txRepository) InsertInvoice(ctx context.Context, inv PurchaseInvoice) (PurchaseInvoice, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO purchase_invoices
(company_id, number, vendor_id, doc_date, currency, exchange_rate, subtotal, tax_amount, total, status, journal_entry_id, created_by)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
RETURNING id, created_at`,
		inv.CompanyID, inv.Number, inv.VendorID, fiscal.DateOnly(inv.DocDate), inv.Currency, inv.ExchangeRate,
		inv.Subtotal, inv.TaxAmount, inv.Total, string(inv.Status), inv.JournalEntryID, inv.CreatedBy).
		Scan(&inv.ID, &inv.CreatedAt)
	if err != nil {
		return PurchaseInvoice{}, err
	}
	return inv, nil
}

func (r *txRepository) InsertInvoiceLines(ctx context.Context, invoiceID int64, lines []PurchaseInvoiceLine) error {
	batch := &pgx.Batch{}
	for _, line := range lines {
		batch.Queue(`INSERT INTO purchase_invoice_lines (invoice_id, item_id, qty, unit_cost, line_total)
VALUES ($1,$2,$3,$4,$5)`, invoiceID, line.ItemID, line.Qty, line.UnitCost, line.LineTotal)
	}
	return execBatch(ctx, r.tx, batch, len(lines))
}

func (r *txRepository) InsertReturn(ctx context.Context, ret PurchaseReturn) (PurchaseReturn, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO purchase_returns
(company_id, number, vendor_id, doc_date, currency, exchange_rate, total, status, journal_entry_id, created_by)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
RETURNING id, created_at`,
		ret.CompanyID, ret.Number, ret.VendorID, fiscal.DateOnly(ret.DocDate), ret.Currency, ret.ExchangeRate,
		ret.Total, string(ret.Status), ret.JournalEntryID, ret.CreatedBy).
		Scan(&ret.ID, &ret.CreatedAt)
	if err != nil {
		return PurchaseReturn{}, err
	}
	return ret, nil
}

func (r *txRepository) InsertReturnLines(ctx context.Context, returnID int64, lines []PurchaseReturnLine) error {
	batch := &pgx.Batch{}
	for _, line := range lines {
		batch.Queue(`INSERT INTO purchase_return_lines (return_id, item_id, qty, unit_cost, line_total)
VALUES ($1,$2,$3,$4,$5)`, returnID, line.ItemID, line.Qty, line.UnitCost, line.LineTotal)
	}
	return execBatch(ctx, r.tx, batch, len(lines))
}

// LatestVendorBalance reads the newest balance_after under the vendor row
// lock taken by GetVendorForUpdate. Zero when the vendor has no history.
func (r *txRepository) LatestVendorBalance(ctx context.Context, companyID, vendorID int64) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := r.tx.QueryRow(ctx, `SELECT balance_after FROM vendor_ledger
WHERE company_id=$1 AND vendor_id=$2 ORDER BY id DESC LIMIT 1`, companyID, vendorID).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, nil
		}
		return decimal.Decimal{}, err
	}
	return balance, nil
}

func (r *txRepository) AppendVendorLedger(ctx context.Context, row VendorLedgerRow) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO vendor_ledger
(company_id, vendor_id, entry_date, source_type, source_ref, debit, credit, balance_after, journal_entry_id)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		row.CompanyID, row.VendorID, fiscal.DateOnly(row.EntryDate), row.SourceType, row.SourceRef,
		row.Debit, row.Credit, row.BalanceAfter, row.JournalEntryID)
	return err
}

func execBatch(ctx context.Context, tx pgx.Tx, batch *pgx.Batch, n int) error {
	results := tx.SendBatch(ctx, batch)
	defer func() {
		_ = results.Close()
	}()
	for i := 0; i < n; i++ {
		if _, err := results.Exec(); err != nil {
			return err
		}
	}
	return nil
}
