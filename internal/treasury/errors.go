package treasury

import "errors"

var (
	// ErrVendorNotFound indicates the vendor is absent from company scope.
	ErrVendorNotFound = errors.New("treasury: vendor not found")
	// ErrCashBoxNotFound indicates the cash box does not exist.
	ErrCashBoxNotFound = errors.New("treasury: cash box not found")
	// ErrBankAccountNotFound indicates the bank account does not exist.
	ErrBankAccountNotFound = errors.New("treasury: bank account not found")
	// ErrPaymentNotFound indicates the payment does not exist.
	ErrPaymentNotFound = errors.New("treasury: payment not found")
	// ErrDepositNotFound indicates the deposit does not exist.
	ErrDepositNotFound = errors.New("treasury: deposit not found")
	// ErrInvalidDocument indicates structurally malformed input.
	ErrInvalidDocument = errors.New("treasury: invalid document")
	// ErrCurrencyMismatch indicates the document currency differs from the
	// currency of the cash box or bank account it moves money through.
	ErrCurrencyMismatch = errors.New("treasury: currency mismatch")
)

const (
	CodeVendorNotFound      = "VENDOR_NOT_FOUND"
	CodeCashBoxNotFound     = "CASH_BOX_NOT_FOUND"
	CodeBankAccountNotFound = "BANK_ACCOUNT_NOT_FOUND"
	CodePaymentNotFound     = "PAYMENT_NOT_FOUND"
	CodeDepositNotFound     = "DEPOSIT_NOT_FOUND"
	CodeInvalidDocument     = "INVALID_DOCUMENT"
	CodeCurrencyMismatch    = "CURRENCY_MISMATCH"
)
