package treasury

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/fiscal"
	"github.com/meridian-erp/meridian-erp/internal/ledger"
)

// Repository encapsulates DB operations for treasury documents.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetPaymentByEntry(ctx context.Context, companyID, entryID int64) (VendorPayment, error)
	GetDepositByEntry(ctx context.Context, companyID, entryID int64) (CashDeposit, error)
}

// TxRepository exposes the writes of one posting transaction. Ledger()
// returns the journal repository bound to the same transaction.
type TxRepository interface {
	Ledger() ledger.TxRepository
	GetVendorForUpdate(ctx context.Context, companyID, vendorID int64) (Vendor, error)
	GetCashBox(ctx context.Context, companyID, boxID int64) (CashBox, error)
	GetBankAccount(ctx context.Context, companyID, accountID int64) (BankAccount, error)
	InsertPayment(ctx context.Context, p VendorPayment) (VendorPayment, error)
	InsertDeposit(ctx context.Context, d CashDeposit) (CashDeposit, error)
	LatestVendorBalance(ctx context.Context, companyID, vendorID int64) (decimal.Decimal, error)
	AppendVendorLedger(ctx context.Context, m VendorMovement) error
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository builds the pgx-backed treasury repository.
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

const paymentColumns = `id, company_id, number, vendor_id, pay_date, method, cash_box_id, bank_account_id,
currency, exchange_rate, amount, journal_entry_id, memo, created_by, created_at`

func scanPayment(row pgx.Row) (VendorPayment, error) {
	var p VendorPayment
	err := row.Scan(&p.ID, &p.CompanyID, &p.Number, &p.VendorID, &p.PayDate, &p.Method, &p.CashBoxID, &p.BankAccountID,
		&p.Currency, &p.ExchangeRate, &p.Amount, &p.JournalEntryID, &p.Memo, &p.CreatedBy, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return VendorPayment{}, ErrPaymentNotFound
		}
		return VendorPayment{}, err
	}
	return p, nil
}

func (r *repository) GetPaymentByEntry(ctx context.Context, companyID, entryID int64) (VendorPayment, error) {
	return scanPayment(r.pool.QueryRow(ctx, `SELECT `+paymentColumns+`
FROM vendor_payments WHERE journal_entry_id=$1 AND company_id=$2`, entryID, companyID))
}

const depositColumns = `id, company_id, number, cash_box_id, bank_account_id, deposit_date,
currency, exchange_rate, amount, amount_base, journal_entry_id, memo, created_by, created_at`

func scanDeposit(row pgx.Row) (CashDeposit, error) {
	var d CashDeposit
	err := row.Scan(&d.ID, &d.CompanyID, &d.Number, &d.CashBoxID, &d.BankAccountID, &d.DepositDate,
		&d.Currency, &d.ExchangeRate, &d.Amount, &d.AmountBase, &d.JournalEntryID, &d.Memo, &d.CreatedBy, &d.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return CashDeposit{}, ErrDepositNotFound
		}
		return CashDeposit{}, err
	}
	return d, nil
}

func (r *repository) GetDepositByEntry(ctx context.Context, companyID, entryID int64) (CashDeposit, error) {
	return scanDeposit(r.pool.QueryRow(ctx, `SELECT `+depositColumns+`
FROM cash_deposits WHERE journal_entry_id=$1 AND company_id=$2`, entryID, companyID))
}

type txRepository struct {
	tx pgx.Tx
}

func (r *txRepository) Ledger() ledger.TxRepository {
	return ledger.NewTxRepository(r.tx)
}

// GetVendorForUpdate locks the vendor row for the rest of the transaction,
// serializing balance appends for one vendor.
func (r *txRepository) GetVendorForUpdate(ctx context.Context, companyID, vendorID int64) (Vendor, error) {
	var v Vendor
	err := r.tx.QueryRow(ctx, `SELECT id, company_id, name, payable_account_id
FROM vendors WHERE id=$1 AND company_id=$2 FOR UPDATE`, vendorID, companyID).
		Scan(&v.ID, &v.CompanyID, &v.Name, &v.PayableAccountID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Vendor{}, ErrVendorNotFound
		}
		return Vendor{}, err
	}
	return v, nil
}

func (r *txRepository) GetCashBox(ctx context.Context, companyID, boxID int64) (CashBox, error) {
	var box CashBox
	err := r.tx.QueryRow(ctx, `SELECT id, company_id, name, currency, gl_account_id
FROM cash_boxes WHERE id=$1 AND company_id=$2`, boxID, companyID).
		Scan(&box.ID, &box.CompanyID, &box.Name, &box.Currency, &box.GLAccountID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return CashBox{}, ErrCashBoxNotFound
		}
		return CashBox{}, err
	}
	return box, nil
}

func (r *txRepository) GetBankAccount(ctx context.Context, companyID, accountID int64) (BankAccount, error) {
	var acct BankAccount
	err := r.tx.QueryRow(ctx, `SELECT id, company_id, name, currency, gl_account_id
FROM bank_accounts WHERE id=$1 AND company_id=$2`, accountID, companyID).
		Scan(&acct.ID, &acct.CompanyID, &acct.Name, &acct.Currency, &acct.GLAccountID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return BankAccount{}, ErrBankAccountNotFound
		}
		return BankAccount{}, err
	}
	return acct, nil
}

func (r *txRepository) InsertPayment(ctx context.Context, p VendorPayment) (VendorPayment, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO vendor_payments
(company_id, number, vendor_id, pay_date, method, cash_box_id, bank_account_id, currency, exchange_rate, amount, journal_entry_id, memo, created_by)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
RETURNING id, created_at`,
		p.CompanyID, p.Number, p.VendorID, fiscal.DateOnly(p.PayDate), string(p.Method), p.CashBoxID, p.BankAccountID,
		p.Currency, p.ExchangeRate, p.Amount, p.JournalEntryID, p.Memo, p.CreatedBy).
		Scan(&p.ID, &p.CreatedAt)
	if err != nil {
		return VendorPayment{}, err
	}
	return p, nil
}

func (r *txRepository) InsertDeposit(ctx context.Context, d CashDeposit) (CashDeposit, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO cash_deposits
(company_id, number, cash_box_id, bank_account_id, deposit_date, currency, exchange_rate, amount, amount_base, journal_entry_id, memo, created_by)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
RETURNING id, created_at`,
		d.CompanyID, d.Number, d.CashBoxID, d.BankAccountID, fiscal.DateOnly(d.DepositDate),
		d.Currency, d.ExchangeRate, d.Amount, d.AmountBase, d.JournalEntryID, d.Memo, d.CreatedBy).
		Scan(&d.ID, &d.CreatedAt)
	if err != nil {
		return CashDeposit{}, err
	}
	return d, nil
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

func (r *txRepository) AppendVendorLedger(ctx context.Context, m VendorMovement) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO vendor_ledger
(company_id, vendor_id, entry_date, source_type, source_ref, debit, credit, balance_after, journal_entry_id)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		m.CompanyID, m.VendorID, fiscal.DateOnly(m.EntryDate), m.SourceType, m.SourceRef,
		m.Debit, m.Credit, m.BalanceAfter, m.JournalEntryID)
	return err
}
