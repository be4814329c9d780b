package purchasing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/fiscal"
	"github.com/meridian-erp/meridian-erp/internal/ledger"
	"github.com/meridian-erp/meridian-erp/internal/ledger/ledgertest"
	"github.com/meridian-erp/meridian-erp/internal/shared"
	_ "github.com/meridian-erp/meridian-erp/testing"
)

const testCompany int64 = 1

var testScope = shared.Scope{CompanyID: testCompany, ActorID: 7}

type memoryPurchRepo struct {
	ledger       *ledgertest.MemoryRepository
	vendors      map[int64]Vendor
	items        map[int64]Item
	invoices     map[int64]PurchaseInvoice
	invoiceLines map[int64][]PurchaseInvoiceLine
	returns      map[int64]PurchaseReturn
	returnLines  map[int64][]PurchaseReturnLine
	movements    []VendorLedgerRow
	nextID       int64
}

func newMemoryPurchRepo(lr *ledgertest.MemoryRepository) *memoryPurchRepo {
	return &memoryPurchRepo{
		ledger:       lr,
		vendors:      make(map[int64]Vendor),
		items:        make(map[int64]Item),
		invoices:     make(map[int64]PurchaseInvoice),
		invoiceLines: make(map[int64][]PurchaseInvoiceLine),
		returns:      make(map[int64]PurchaseReturn),
		returnLines:  make(map[int64][]PurchaseReturnLine),
	}
}

type purchSnapshot struct {
	invoices     map[int64]PurchaseInvoice
	invoiceLines map[int64][]PurchaseInvoiceLine
	returns      map[int64]PurchaseReturn
	returnLines  map[int64][]PurchaseReturnLine
	movements    []VendorLedgerRow
	nextID       int64
}

func (r *memoryPurchRepo) snapshot() purchSnapshot {
	s := purchSnapshot{
		invoices:     make(map[int64]PurchaseInvoice, len(r.invoices)),
		invoiceLines: make(map[int64][]PurchaseInvoiceLine, len(r.invoiceLines)),
		returns:      make(map[int64]PurchaseReturn, len(r.returns)),
		returnLines:  make(map[int64][]PurchaseReturnLine, len(r.returnLines)),
		movements:    append([]VendorLedgerRow(nil), r.movements...),
		nextID:       r.nextID,
	}
	for id, inv := range r.invoices {
		s.invoices[id] = inv
	}
	for id, lines := range r.invoiceLines {
		s.invoiceLines[id] = append([]PurchaseInvoiceLine(nil), lines...)
	}
	for id, ret := range r.returns {
		s.returns[id] = ret
	}
	for id, lines := range r.returnLines {
		s.returnLines[id] = append([]PurchaseReturnLine(nil), lines...)
	}
	return s
}

func (r *memoryPurchRepo) restore(s purchSnapshot) {
	r.invoices = s.invoices
	r.invoiceLines = s.invoiceLines
	r.returns = s.returns
	r.returnLines = s.returnLines
	r.movements = s.movements
	r.nextID = s.nextID
}

func (r *memoryPurchRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	snap := r.snapshot()
	err := r.ledger.WithTx(ctx, func(ctx context.Context, ltx ledger.TxRepository) error {
		return fn(ctx, &memoryPurchTx{repo: r, ledger: ltx})
	})
	if err != nil {
		r.restore(snap)
	}
	return err
}

func (r *memoryPurchRepo) GetVendor(ctx context.Context, companyID, vendorID int64) (Vendor, error) {
	v, ok := r.vendors[vendorID]
	if !ok || v.CompanyID != companyID {
		return Vendor{}, ErrVendorNotFound
	}
	return v, nil
}

func (r *memoryPurchRepo) GetInvoice(ctx context.Context, companyID, invoiceID int64) (PurchaseInvoice, []PurchaseInvoiceLine, error) {
	inv, ok := r.invoices[invoiceID]
	if !ok || inv.CompanyID != companyID {
		return PurchaseInvoice{}, nil, ErrInvoiceNotFound
	}
	return inv, append([]PurchaseInvoiceLine(nil), r.invoiceLines[invoiceID]...), nil
}

func (r *memoryPurchRepo) GetInvoiceByEntry(ctx context.Context, companyID, entryID int64) (PurchaseInvoice, error) {
	for _, inv := range r.invoices {
		if inv.CompanyID == companyID && inv.JournalEntryID == entryID {
			return inv, nil
		}
	}
	return PurchaseInvoice{}, ErrInvoiceNotFound
}

func (r *memoryPurchRepo) GetReturnByEntry(ctx context.Context, companyID, entryID int64) (PurchaseReturn, error) {
	for _, ret := range r.returns {
		if ret.CompanyID == companyID && ret.JournalEntryID == entryID {
			return ret, nil
		}
	}
	return PurchaseReturn{}, ErrInvoiceNotFound
}

func (r *memoryPurchRepo) ListVendorLedger(ctx context.Context, companyID, vendorID int64, page, perPage int) ([]VendorLedgerRow, int, error) {
	var matched []VendorLedgerRow
	for i := len(r.movements) - 1; i >= 0; i-- {
		row := r.movements[i]
		if row.CompanyID == companyID && row.VendorID == vendorID {
			matched = append(matched, row)
		}
	}
	total := len(matched)
	if page <= 0 {
		page = 1
	}
	if perPage <= 0 {
		perPage = 20
	}
	start := (page - 1) * perPage
	if start >= total {
		return nil, total, nil
	}
	end := start + perPage
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

type memoryPurchTx struct {
	repo   *memoryPurchRepo
	ledger ledger.TxRepository
}

func (tx *memoryPurchTx) Ledger() ledger.TxRepository { return tx.ledger }

func (tx *memoryPurchTx) GetVendorForUpdate(ctx context.Context, companyID, vendorID int64) (Vendor, error) {
	return tx.repo.GetVendor(ctx, companyID, vendorID)
}

func (tx *memoryPurchTx) GetItems(ctx context.Context, companyID int64, itemIDs []int64) (map[int64]Item, error) {
	items := make(map[int64]Item, len(itemIDs))
	for _, id := range itemIDs {
		if item, ok := tx.repo.items[id]; ok && item.CompanyID == companyID {
			items[id] = item
		}
	}
	return items, nil
}

func (tx *memoryPurchTx) InsertInvoice(ctx context.Context, inv PurchaseInvoice) (PurchaseInvoice, error) {
	tx.repo.nextID++
	inv.ID = tx.repo.nextID
	inv.CreatedAt = time.Now().UTC()
	tx.repo.invoices[inv.ID] = inv
	return inv, nil
}

func (tx *memoryPurchTx) InsertInvoiceLines(ctx context.Context, invoiceID int64, lines []PurchaseInvoiceLine) error {
	stored := make([]PurchaseInvoiceLine, 0, len(lines))
	for _, line := range lines {
		tx.repo.nextID++
		line.ID = tx.repo.nextID
		line.InvoiceID = invoiceID
		stored = append(stored, line)
	}
	tx.repo.invoiceLines[invoiceID] = stored
	return nil
}

func (tx *memoryPurchTx) InsertReturn(ctx context.Context, ret PurchaseReturn) (PurchaseReturn, error) {
	tx.repo.nextID++
	ret.ID = tx.repo.nextID
	ret.CreatedAt = time.Now().UTC()
	tx.repo.returns[ret.ID] = ret
	return ret, nil
}

func (tx *memoryPurchTx) InsertReturnLines(ctx context.Context, returnID int64, lines []PurchaseReturnLine) error {
	stored := make([]PurchaseReturnLine, 0, len(lines))
	for _, line := range lines {
		tx.repo.nextID++
		line.ID = tx.repo.nextID
		line.ReturnID = returnID
		stored = append(stored, line)
	}
	tx.repo.returnLines[returnID] = stored
	return nil
}

func (tx *memoryPurchTx) LatestVendorBalance(ctx context.Context, companyID, vendorID int64) (decimal.Decimal, error) {
	for i := len(tx.repo.movements) - 1; i >= 0; i-- {
		row := tx.repo.movements[i]
		if row.CompanyID == companyID && row.VendorID == vendorID {
			return row.BalanceAfter, nil
		}
	}
	return decimal.Zero, nil
}

func (tx *memoryPurchTx) AppendVendorLedger(ctx context.Context, row VendorLedgerRow) error {
	tx.repo.nextID++
	row.ID = tx.repo.nextID
	row.CreatedAt = time.Now().UTC()
	tx.repo.movements = append(tx.repo.movements, row)
	return nil
}

func dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("parse decimal %q: %v", s, err)
	}
	return d
}

func ptr(v int64) *int64 { return &v }

func newPurchFixture(t *testing.T) (*Service, *memoryPurchRepo, *ledgertest.BumpSpy) {
	t.Helper()
	lr := ledgertest.NewMemoryRepository()
	lr.SeedCompany(testCompany, "USD")
	lr.SeedPeriod(testCompany, 2025, time.March, fiscal.PeriodStatusOpen)

	repo := newMemoryPurchRepo(lr)
	repo.vendors[10] = Vendor{ID: 10, CompanyID: testCompany, Name: "Acme Supplies", PayableAccountID: ptr(2100)}
	repo.vendors[11] = Vendor{ID: 11, CompanyID: testCompany, Name: "No Account Ltd"}
	repo.items[100] = Item{ID: 100, CompanyID: testCompany, SKU: "WIDGET", Name: "Widget", InventoryAccountID: ptr(1400)}
	repo.items[101] = Item{ID: 101, CompanyID: testCompany, SKU: "FREIGHT", Name: "Freight", ExpenseAccountID: ptr(6200)}
	repo.items[102] = Item{ID: 102, CompanyID: testCompany, SKU: "ORPHAN", Name: "Orphan"}

	spy := &ledgertest.BumpSpy{}
	ledgerSvc := ledger.NewService(lr, nil, spy)
	return NewService(repo, ledgerSvc, spy, nil), repo, spy
}

func invoiceFixture(t *testing.T) InvoiceInput {
	t.Helper()
	return InvoiceInput{
		VendorID:     10,
		DocDate:      time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC),
		Currency:     "USD",
		TaxAmount:    dec(t, "5"),
		TaxAccountID: ptr(1300),
		Ref:          "INV-ACME-77",
		Lines: []InvoiceLineInput{
			{ItemID: 100, Qty: dec(t, "3"), UnitCost: dec(t, "10")},
			{ItemID: 101, Qty: dec(t, "1"), UnitCost: dec(t, "20")},
		},
	}
}

func TestPostInvoice(t *testing.T) {
	svc, repo, spy := newPurchFixture(t)

	invoice, entry, err := svc.PostInvoice(context.Background(), testScope, invoiceFixture(t))
	if err != nil {
		t.Fatalf("post invoice: %v", err)
	}
	if invoice.Number != "PI-2025-000001" || invoice.Number != entry.EntryNumber {
		t.Fatalf("unexpected numbers invoice=%s entry=%s", invoice.Number, entry.EntryNumber)
	}
	if !invoice.Subtotal.Equal(dec(t, "50")) || !invoice.Total.Equal(dec(t, "55")) {
		t.Fatalf("unexpected totals %s/%s", invoice.Subtotal, invoice.Total)
	}
	if invoice.JournalEntryID != entry.ID || invoice.Status != DocStatusPosted {
		t.Fatalf("journal linkage missing: %+v", invoice)
	}
	if entry.Status != ledger.StatusPosted || entry.EntryType != ledger.TypePurchaseInvoice {
		t.Fatalf("unexpected entry %+v", entry)
	}
	if !entry.TotalDebit.Equal(dec(t, "55")) || !entry.TotalCredit.Equal(dec(t, "55")) {
		t.Fatalf("entry must balance at 55, got %s/%s", entry.TotalDebit, entry.TotalCredit)
	}

	lines := repo.ledgerLines(t, entry.ID)
	wantDebits := map[int64]string{1400: "30", 6200: "20", 1300: "5"}
	for account, want := range wantDebits {
		if got := lines[account]; !got.Equal(dec(t, want)) {
			t.Fatalf("account %d: want debit %s, got %s", account, want, got)
		}
	}
	if got := lines[2100]; !got.Equal(dec(t, "-55")) {
		t.Fatalf("payable must carry credit 55, got net %s", got)
	}

	if len(repo.movements) != 1 {
		t.Fatalf("expected one vendor ledger row, got %d", len(repo.movements))
	}
	row := repo.movements[0]
	if !row.Credit.Equal(dec(t, "55")) || !row.BalanceAfter.Equal(dec(t, "55")) {
		t.Fatalf("unexpected vendor movement %+v", row)
	}
	if row.JournalEntryID != entry.ID {
		t.Fatalf("vendor movement must link the journal entry")
	}
	if spy.Count != 1 {
		t.Fatalf("expected one cache bump, got %d", spy.Count)
	}
}

// ledgerLines sums debit-minus-credit per account for one entry.
func (r *memoryPurchRepo) ledgerLines(t *testing.T, entryID int64) map[int64]decimal.Decimal {
	t.Helper()
	_, lines, err := r.ledger.GetEntry(context.Background(), testCompany, entryID)
	if err != nil {
		t.Fatalf("load entry lines: %v", err)
	}
	net := make(map[int64]decimal.Decimal)
	for _, line := range lines {
		net[line.AccountID] = net[line.AccountID].Add(line.Debit).Sub(line.Credit)
	}
	return net
}

func TestPostInvoiceVendorWithoutPayable(t *testing.T) {
	svc, repo, spy := newPurchFixture(t)

	input := invoiceFixture(t)
	input.VendorID = 11
	_, _, err := svc.PostInvoice(context.Background(), testScope, input)

	var config *ledger.ConfigError
	if !errors.As(err, &config) {
		t.Fatalf("expected ConfigError, got %v", err)
	}
	if config.Field != "payable account" {
		t.Fatalf("error must name the missing mapping, got %+v", config)
	}
	if len(repo.invoices) != 0 || len(repo.movements) != 0 {
		t.Fatal("failed posting must write no purchasing rows")
	}
	if repo.ledger.EntryCount() != 0 {
		t.Fatal("failed posting must write no journal rows")
	}
	if spy.Count != 0 {
		t.Fatalf("failed posting must not invalidate caches, got %d", spy.Count)
	}
}

func TestPostInvoiceItemWithoutAccounts(t *testing.T) {
	svc, repo, _ := newPurchFixture(t)

	input := invoiceFixture(t)
	input.Lines = []InvoiceLineInput{{ItemID: 102, Qty: dec(t, "1"), UnitCost: dec(t, "10")}}
	_, _, err := svc.PostInvoice(context.Background(), testScope, input)

	var config *ledger.ConfigError
	if !errors.As(err, &config) {
		t.Fatalf("expected ConfigError, got %v", err)
	}
	if repo.ledger.EntryCount() != 0 || len(repo.invoices) != 0 {
		t.Fatal("failed posting must write nothing")
	}
}

func TestPostInvoiceUnknownItem(t *testing.T) {
	svc, _, _ := newPurchFixture(t)

	input := invoiceFixture(t)
	input.Lines = []InvoiceLineInput{{ItemID: 999, Qty: dec(t, "1"), UnitCost: dec(t, "10")}}
	_, _, err := svc.PostInvoice(context.Background(), testScope, input)
	if !errors.Is(err, ErrItemNotFound) {
		t.Fatalf("expected ErrItemNotFound, got %v", err)
	}
}

func TestPostInvoiceTaxWithoutAccount(t *testing.T) {
	svc, _, _ := newPurchFixture(t)

	input := invoiceFixture(t)
	input.TaxAccountID = nil
	_, _, err := svc.PostInvoice(context.Background(), testScope, input)

	var config *ledger.ConfigError
	if !errors.As(err, &config) {
		t.Fatalf("expected ConfigError, got %v", err)
	}
}

func TestPostInvoiceReplay(t *testing.T) {
	svc, repo, _ := newPurchFixture(t)

	first, firstEntry, err := svc.PostInvoice(context.Background(), testScope, invoiceFixture(t))
	if err != nil {
		t.Fatalf("first post: %v", err)
	}
	second, secondEntry, err := svc.PostInvoice(context.Background(), testScope, invoiceFixture(t))
	if err != nil {
		t.Fatalf("replay must succeed, got %v", err)
	}
	if second.ID != first.ID || secondEntry.ID != firstEntry.ID {
		t.Fatalf("replay must return the original posting: %d/%d vs %d/%d",
			second.ID, secondEntry.ID, first.ID, firstEntry.ID)
	}
	if repo.ledger.EntryCount() != 1 || len(repo.movements) != 1 || len(repo.invoices) != 1 {
		t.Fatal("replay must not write additional rows")
	}
}

func TestPostInvoiceClosedPeriod(t *testing.T) {
	svc, repo, _ := newPurchFixture(t)
	period := repo.ledger.SeedPeriod(testCompany, 2025, time.April, fiscal.PeriodStatusOpen)
	repo.ledger.SetPeriodStatus(period.ID, fiscal.PeriodStatusClosed)

	input := invoiceFixture(t)
	input.DocDate = time.Date(2025, 4, 2, 0, 0, 0, 0, time.UTC)
	_, _, err := svc.PostInvoice(context.Background(), testScope, input)
	if !errors.Is(err, ledger.ErrPeriodClosed) {
		t.Fatalf("expected ErrPeriodClosed, got %v", err)
	}
	if repo.ledger.EntryCount() != 0 || len(repo.invoices) != 0 || len(repo.movements) != 0 {
		t.Fatal("closed-period posting must write nothing")
	}
}

func TestPostInvoiceForeignCurrency(t *testing.T) {
	svc, repo, _ := newPurchFixture(t)

	input := InvoiceInput{
		VendorID:     10,
		DocDate:      time.Date(2025, 3, 12, 0, 0, 0, 0, time.UTC),
		Currency:     "SAR",
		ExchangeRate: dec(t, "3.75"),
		Ref:          "INV-SAR-1",
		Lines: []InvoiceLineInput{
			{ItemID: 100, Qty: dec(t, "1"), UnitCost: dec(t, "500")},
		},
	}
	invoice, entry, err := svc.PostInvoice(context.Background(), testScope, input)
	if err != nil {
		t.Fatalf("post invoice: %v", err)
	}
	if !entry.TotalDebit.Equal(dec(t, "1875")) {
		t.Fatalf("base total must be 1875, got %s", entry.TotalDebit)
	}
	if entry.TotalDebitFC == nil || !entry.TotalDebitFC.Equal(dec(t, "500")) {
		t.Fatalf("foreign total must be 500, got %v", entry.TotalDebitFC)
	}
	if !invoice.Total.Equal(dec(t, "500")) {
		t.Fatalf("document total stays in document currency, got %s", invoice.Total)
	}
	row := repo.movements[0]
	if !row.Credit.Equal(dec(t, "1875")) || !row.BalanceAfter.Equal(dec(t, "1875")) {
		t.Fatalf("vendor balance is kept in base currency, got %+v", row)
	}
}

func TestPostReturn(t *testing.T) {
	svc, repo, _ := newPurchFixture(t)

	if _, _, err := svc.PostInvoice(context.Background(), testScope, invoiceFixture(t)); err != nil {
		t.Fatalf("post invoice: %v", err)
	}

	ret, entry, err := svc.PostReturn(context.Background(), testScope, ReturnInput{
		VendorID: 10,
		DocDate:  time.Date(2025, 3, 18, 0, 0, 0, 0, time.UTC),
		Currency: "USD",
		Ref:      "RET-ACME-1",
		Lines: []ReturnLineInput{
			{ItemID: 100, Qty: dec(t, "1"), UnitCost: dec(t, "10")},
		},
	})
	if err != nil {
		t.Fatalf("post return: %v", err)
	}
	if ret.Number != "PR-2025-000001" || entry.EntryType != ledger.TypePurchaseReturn {
		t.Fatalf("unexpected return %+v entry %+v", ret, entry)
	}

	net := repo.ledgerLines(t, entry.ID)
	if !net[2100].Equal(dec(t, "10")) {
		t.Fatalf("payable must carry debit 10, got %s", net[2100])
	}
	if !net[1400].Equal(dec(t, "-10")) {
		t.Fatalf("inventory must carry credit 10, got %s", net[1400])
	}

	last := repo.movements[len(repo.movements)-1]
	if !last.Debit.Equal(dec(t, "10")) || !last.BalanceAfter.Equal(dec(t, "45")) {
		t.Fatalf("vendor balance must drop 55 to 45, got %+v", last)
	}
}

func TestVendorLedgerListing(t *testing.T) {
	svc, _, _ := newPurchFixture(t)

	if _, _, err := svc.PostInvoice(context.Background(), testScope, invoiceFixture(t)); err != nil {
		t.Fatalf("post invoice: %v", err)
	}
	second := invoiceFixture(t)
	second.Ref = "INV-ACME-78"
	if _, _, err := svc.PostInvoice(context.Background(), testScope, second); err != nil {
		t.Fatalf("post second invoice: %v", err)
	}

	rows, paging, err := svc.VendorLedger(context.Background(), testScope, 10, 1, 20)
	if err != nil {
		t.Fatalf("vendor ledger: %v", err)
	}
	if paging.Total != 2 || len(rows) != 2 {
		t.Fatalf("expected two movements, got %d (total %d)", len(rows), paging.Total)
	}
	if !rows[0].BalanceAfter.Equal(dec(t, "110")) {
		t.Fatalf("newest row must carry the running balance 110, got %s", rows[0].BalanceAfter)
	}

	if _, _, err := svc.VendorLedger(context.Background(), testScope, 999, 1, 20); !errors.Is(err, ErrVendorNotFound) {
		t.Fatalf("expected ErrVendorNotFound, got %v", err)
	}
}

func TestPostReturnValidation(t *testing.T) {
	svc, _, _ := newPurchFixture(t)

	_, _, err := svc.PostReturn(context.Background(), testScope, ReturnInput{
		VendorID: 10,
		DocDate:  time.Date(2025, 3, 18, 0, 0, 0, 0, time.UTC),
		Currency: "USD",
	})
	if !errors.Is(err, ErrInvalidDocument) {
		t.Fatalf("expected ErrInvalidDocument for empty lines, got %v", err)
	}
}
