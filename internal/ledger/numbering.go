package ledger

import "fmt"

// DocType identifies a numbered document family. Sequences are scoped per
// company, family and year; numbers are monotonic in practice but not
// gap-free when transactions roll back.
type DocType string

const (
	DocJournal         DocType = "JE"
	DocPurchaseInvoice DocType = "PI"
	DocPayment         DocType = "PAY"
	DocPurchaseReturn  DocType = "PR"
	DocCashDeposit     DocType = "CD"
	DocReversal        DocType = "REV"
)

// DocTypeFor maps an entry type to its numbering family.
func DocTypeFor(t EntryType) DocType {
	switch t {
	case TypePurchaseInvoice:
		return DocPurchaseInvoice
	case TypePayment:
		return DocPayment
	case TypePurchaseReturn:
		return DocPurchaseReturn
	case TypeCashDeposit:
		return DocCashDeposit
	case TypeReversal:
		return DocReversal
	default:
		return DocJournal
	}
}

// FormatNumber renders the canonical document number, e.g. "JE-2025-000042".
func FormatNumber(doc DocType, year int, seq int64) string {
	return fmt.Sprintf("%s-%04d-%06d", doc, year, seq)
}
