package shared

// Ledger permissions.
const (
	PermLedgerEntryCreate  = "ledger.entry.create"
	PermLedgerEntryPost    = "ledger.entry.post"
	PermLedgerEntryCancel  = "ledger.entry.cancel"
	PermLedgerEntryReverse = "ledger.entry.reverse"
	PermLedgerView         = "ledger.view"
)

// Subsidiary posting permissions.
const (
	PermPurchasingPost = "purchasing.post"
	PermTreasuryPost   = "treasury.post"
)

// Fiscal calendar permissions.
const (
	PermFiscalView   = "fiscal.view"
	PermFiscalManage = "fiscal.manage"
)

// Read-side permissions.
const (
	PermGLView    = "gl.view"
	PermAuditView = "audit.view"
)

// LedgerScopes lists all permissions related to ledger postings.
func LedgerScopes() []string {
	return []string{
		PermLedgerEntryCreate,
		PermLedgerEntryPost,
		PermLedgerEntryCancel,
		PermLedgerEntryReverse,
		PermLedgerView,
		PermPurchasingPost,
		PermTreasuryPost,
	}
}

// ControlScopes lists calendar and read-side permissions.
func ControlScopes() []string {
	return []string{
		PermFiscalView,
		PermFiscalManage,
		PermGLView,
		PermAuditView,
	}
}
