package purchasing

import "errors"

var (
	// ErrVendorNotFound indicates the vendor is absent from company scope.
	ErrVendorNotFound = errors.New("purchasing: vendor not found")
	// ErrItemNotFound indicates a line references an unknown item.
	ErrItemNotFound = errors.New("purchasing: item not found")
	// ErrInvoiceNotFound indicates the invoice does not exist.
	ErrInvoiceNotFound = errors.New("purchasing: invoice not found")
	// ErrInvalidDocument indicates structurally malformed input.
	ErrInvalidDocument = errors.New("purchasing: invalid document")
)

const (
	CodeVendorNotFound  = "VENDOR_NOT_FOUND"
	CodeItemNotFound    = "ITEM_NOT_FOUND"
	CodeInvoiceNotFound = "INVOICE_NOT_FOUND"
	CodeInvalidDocument = "INVALID_DOCUMENT"
)
