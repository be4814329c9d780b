package ledger_test

import (
	"context"
	"errors"
	"strings"
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

func newFixture(t *testing.T) (*ledger.Service, *ledgertest.MemoryRepository, *ledgertest.BumpSpy) {
	t.Helper()
	repo := ledgertest.NewMemoryRepository()
	repo.SeedCompany(testCompany, "USD")
	repo.SeedPeriod(testCompany, 2025, time.March, fiscal.PeriodStatusOpen)
	spy := &ledgertest.BumpSpy{}
	return ledger.NewService(repo, nil, spy), repo, spy
}

func dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("parse decimal %q: %v", s, err)
	}
	return d
}

func line(t *testing.T, account int64, debit, credit string) ledger.LineInput {
	t.Helper()
	return ledger.LineInput{AccountID: account, Debit: dec(t, debit), Credit: dec(t, credit)}
}

func rentInput(t *testing.T, amount string) ledger.EntryInput {
	t.Helper()
	return ledger.EntryInput{
		EntryDate:    time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC),
		EntryType:    ledger.TypeManual,
		Currency:     "USD",
		ExchangeRate: decimal.NewFromInt(1),
		Description:  "office rent",
		Lines: []ledger.LineInput{
			line(t, 6100, amount, "0"),
			line(t, 1000, "0", amount),
		},
	}
}

func TestCreateEntryDraft(t *testing.T) {
	svc, repo, spy := newFixture(t)

	entry, err := svc.CreateEntry(context.Background(), testScope, rentInput(t, "1000"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if entry.Status != ledger.StatusDraft {
		t.Fatalf("expected DRAFT, got %s", entry.Status)
	}
	if entry.EntryNumber != "JE-2025-000001" {
		t.Fatalf("unexpected entry number %s", entry.EntryNumber)
	}
	if !entry.TotalDebit.Equal(dec(t, "1000")) || !entry.TotalCredit.Equal(dec(t, "1000")) {
		t.Fatalf("unexpected totals %s/%s", entry.TotalDebit, entry.TotalCredit)
	}
	if entry.CreatedBy != testScope.ActorID {
		t.Fatalf("expected creator %d, got %d", testScope.ActorID, entry.CreatedBy)
	}

	audits := repo.Audits(entry.ID)
	if len(audits) != 1 || audits[0].Action != ledger.AuditCreated {
		t.Fatalf("expected one CREATED audit row, got %+v", audits)
	}
	if spy.Count != 0 {
		t.Fatalf("draft creation must not invalidate caches, got %d bumps", spy.Count)
	}
}

func TestCreateEntryPostImmediately(t *testing.T) {
	svc, repo, spy := newFixture(t)

	input := rentInput(t, "1000")
	input.PostImmediately = true
	entry, err := svc.CreateEntry(context.Background(), testScope, input)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if entry.Status != ledger.StatusPosted {
		t.Fatalf("expected POSTED, got %s", entry.Status)
	}
	if entry.PostedBy == nil || *entry.PostedBy != testScope.ActorID || entry.PostedAt == nil {
		t.Fatalf("posting stamps missing: %+v", entry)
	}

	audits := repo.Audits(entry.ID)
	if len(audits) != 2 || audits[0].Action != ledger.AuditCreated || audits[1].Action != ledger.AuditPosted {
		t.Fatalf("expected CREATED then POSTED audit rows, got %+v", audits)
	}
	if spy.Count != 1 {
		t.Fatalf("expected one cache bump, got %d", spy.Count)
	}
}

func TestCreateEntryUnbalancedRejected(t *testing.T) {
	svc, repo, _ := newFixture(t)

	input := rentInput(t, "1000")
	input.Lines[1] = line(t, 1000, "0", "900")
	_, err := svc.CreateEntry(context.Background(), testScope, input)

	var unbalanced *ledger.UnbalancedError
	if !errors.As(err, &unbalanced) {
		t.Fatalf("expected UnbalancedError, got %v", err)
	}
	if !unbalanced.TotalDebit.Equal(dec(t, "1000")) || !unbalanced.TotalCredit.Equal(dec(t, "900")) {
		t.Fatalf("expected totals 1000/900 in error, got %s/%s", unbalanced.TotalDebit, unbalanced.TotalCredit)
	}
	if repo.EntryCount() != 0 {
		t.Fatalf("rejected entry must leave no rows, found %d", repo.EntryCount())
	}
}

func TestCreateEntryWithinTolerance(t *testing.T) {
	svc, _, _ := newFixture(t)

	input := rentInput(t, "1000.00")
	input.Lines[1] = line(t, 1000, "0", "999.995")
	entry, err := svc.CreateEntry(context.Background(), testScope, input)
	if err != nil {
		t.Fatalf("sub-cent drift must pass the tolerance gate: %v", err)
	}
	if entry.Status != ledger.StatusDraft {
		t.Fatalf("expected DRAFT, got %s", entry.Status)
	}
}

func TestCreateEntryClosedPeriod(t *testing.T) {
	svc, repo, _ := newFixture(t)
	repo.SeedPeriod(testCompany, 2025, time.April, fiscal.PeriodStatusClosed)

	input := rentInput(t, "1000")
	input.EntryDate = time.Date(2025, 4, 10, 0, 0, 0, 0, time.UTC)
	_, err := svc.CreateEntry(context.Background(), testScope, input)
	if !errors.Is(err, ledger.ErrPeriodClosed) {
		t.Fatalf("expected ErrPeriodClosed, got %v", err)
	}
	if repo.EntryCount() != 0 {
		t.Fatalf("closed-period entry must leave no rows, found %d", repo.EntryCount())
	}
}

func TestCreateEntryNoPeriod(t *testing.T) {
	svc, _, _ := newFixture(t)

	input := rentInput(t, "1000")
	input.EntryDate = time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	_, err := svc.CreateEntry(context.Background(), testScope, input)
	if !errors.Is(err, ledger.ErrNoOpenPeriod) {
		t.Fatalf("expected ErrNoOpenPeriod, got %v", err)
	}
}

func TestEntryNumbersIncrement(t *testing.T) {
	svc, _, _ := newFixture(t)

	first, err := svc.CreateEntry(context.Background(), testScope, rentInput(t, "100"))
	if err != nil {
		t.Fatalf("first create: %v", err)
	}
	second, err := svc.CreateEntry(context.Background(), testScope, rentInput(t, "200"))
	if err != nil {
		t.Fatalf("second create: %v", err)
	}
	if first.EntryNumber != "JE-2025-000001" || second.EntryNumber != "JE-2025-000002" {
		t.Fatalf("unexpected numbers %s, %s", first.EntryNumber, second.EntryNumber)
	}
}

func TestApproveThenPost(t *testing.T) {
	svc, repo, _ := newFixture(t)

	entry, err := svc.CreateEntry(context.Background(), testScope, rentInput(t, "1000"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := svc.ApproveEntry(context.Background(), testScope, entry.ID); err != nil {
		t.Fatalf("approve: %v", err)
	}
	approved, _ := repo.Entry(entry.ID)
	if approved.Status != ledger.StatusApproved || approved.ApprovedBy == nil {
		t.Fatalf("approval not recorded: %+v", approved)
	}

	if err := svc.PostEntry(context.Background(), testScope, entry.ID); err != nil {
		t.Fatalf("post: %v", err)
	}
	posted, _ := repo.Entry(entry.ID)
	if posted.Status != ledger.StatusPosted {
		t.Fatalf("expected POSTED, got %s", posted.Status)
	}

	audits := repo.Audits(entry.ID)
	if len(audits) != 3 || audits[1].Action != ledger.AuditApproved || audits[2].Action != ledger.AuditPosted {
		t.Fatalf("expected CREATED/APPROVED/POSTED trail, got %+v", audits)
	}
}

func TestApproveNonDraft(t *testing.T) {
	svc, _, _ := newFixture(t)

	input := rentInput(t, "1000")
	input.PostImmediately = true
	entry, err := svc.CreateEntry(context.Background(), testScope, input)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := svc.ApproveEntry(context.Background(), testScope, entry.ID); !errors.Is(err, ledger.ErrCannotApprove) {
		t.Fatalf("expected ErrCannotApprove, got %v", err)
	}
}

func TestPostEntryTwice(t *testing.T) {
	svc, _, spy := newFixture(t)

	entry, err := svc.CreateEntry(context.Background(), testScope, rentInput(t, "1000"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := svc.PostEntry(context.Background(), testScope, entry.ID); err != nil {
		t.Fatalf("first post: %v", err)
	}
	if err := svc.PostEntry(context.Background(), testScope, entry.ID); !errors.Is(err, ledger.ErrAlreadyPosted) {
		t.Fatalf("expected ErrAlreadyPosted, got %v", err)
	}
	if spy.Count != 1 {
		t.Fatalf("failed post must not invalidate caches, got %d bumps", spy.Count)
	}
}

func TestPostCancelledEntry(t *testing.T) {
	svc, _, _ := newFixture(t)

	entry, err := svc.CreateEntry(context.Background(), testScope, rentInput(t, "1000"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := svc.CancelEntry(context.Background(), testScope, entry.ID, "duplicate"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if err := svc.PostEntry(context.Background(), testScope, entry.ID); !errors.Is(err, ledger.ErrCannotPostCancelled) {
		t.Fatalf("expected ErrCannotPostCancelled, got %v", err)
	}
}

func TestPostReChecksPeriod(t *testing.T) {
	svc, repo, _ := newFixture(t)

	entry, err := svc.CreateEntry(context.Background(), testScope, rentInput(t, "1000"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	repo.SetPeriodStatus(entry.PeriodID, fiscal.PeriodStatusClosed)

	if err := svc.PostEntry(context.Background(), testScope, entry.ID); !errors.Is(err, ledger.ErrPeriodClosed) {
		t.Fatalf("expected ErrPeriodClosed, got %v", err)
	}
	stored, _ := repo.Entry(entry.ID)
	if stored.Status != ledger.StatusDraft {
		t.Fatalf("failed post must keep the draft, got %s", stored.Status)
	}
}

func TestCancelRecordsReason(t *testing.T) {
	svc, repo, _ := newFixture(t)

	entry, err := svc.CreateEntry(context.Background(), testScope, rentInput(t, "1000"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := svc.CancelEntry(context.Background(), testScope, entry.ID, "entered twice"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	stored, _ := repo.Entry(entry.ID)
	if stored.Status != ledger.StatusCancelled || stored.CancelledBy == nil {
		t.Fatalf("cancellation not recorded: %+v", stored)
	}

	audits := repo.Audits(entry.ID)
	last := audits[len(audits)-1]
	if last.Action != ledger.AuditCancelled || last.Notes != "entered twice" {
		t.Fatalf("expected CANCELLED audit with reason, got %+v", last)
	}
}

func TestCancelPostedEntry(t *testing.T) {
	svc, _, _ := newFixture(t)

	input := rentInput(t, "1000")
	input.PostImmediately = true
	entry, err := svc.CreateEntry(context.Background(), testScope, input)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := svc.CancelEntry(context.Background(), testScope, entry.ID, "oops"); !errors.Is(err, ledger.ErrCannotCancel) {
		t.Fatalf("expected ErrCannotCancel, got %v", err)
	}
}

func TestReverseEntry(t *testing.T) {
	svc, repo, spy := newFixture(t)

	input := rentInput(t, "100000")
	input.PostImmediately = true
	original, err := svc.CreateEntry(context.Background(), testScope, input)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	reversal, err := svc.ReverseEntry(context.Background(), testScope, original.ID,
		time.Date(2025, 3, 20, 0, 0, 0, 0, time.UTC), "wrong account")
	if err != nil {
		t.Fatalf("reverse: %v", err)
	}
	if !reversal.IsReversal || reversal.Status != ledger.StatusPosted {
		t.Fatalf("reversal must be posted and flagged: %+v", reversal)
	}
	if reversal.ReversalOf == nil || *reversal.ReversalOf != original.ID {
		t.Fatalf("reversal linkage missing: %+v", reversal)
	}
	if !strings.HasPrefix(reversal.EntryNumber, "REV-2025-") {
		t.Fatalf("unexpected reversal number %s", reversal.EntryNumber)
	}
	if !strings.Contains(reversal.Description, original.EntryNumber) {
		t.Fatalf("reversal description must reference the original, got %q", reversal.Description)
	}

	_, originalLines, err := svc.GetEntry(context.Background(), testScope, original.ID)
	if err != nil {
		t.Fatalf("get original: %v", err)
	}
	_, reversalLines, err := svc.GetEntry(context.Background(), testScope, reversal.ID)
	if err != nil {
		t.Fatalf("get reversal: %v", err)
	}
	if len(reversalLines) != len(originalLines) {
		t.Fatalf("line count mismatch: %d vs %d", len(reversalLines), len(originalLines))
	}
	for i, orig := range originalLines {
		mirror := reversalLines[i]
		if mirror.AccountID != orig.AccountID {
			t.Fatalf("line %d account mismatch", i+1)
		}
		net := orig.Debit.Sub(orig.Credit).Add(mirror.Debit.Sub(mirror.Credit))
		if !net.IsZero() {
			t.Fatalf("line %d does not net to zero: %s", i+1, net)
		}
	}

	stored, _ := repo.Entry(original.ID)
	if stored.Status != ledger.StatusReversed {
		t.Fatalf("original must be REVERSED, got %s", stored.Status)
	}
	if stored.ReversedByEntry == nil || *stored.ReversedByEntry != reversal.ID {
		t.Fatalf("original must point at the reversal: %+v", stored)
	}
	if spy.Count != 2 {
		t.Fatalf("expected bumps for post and reversal, got %d", spy.Count)
	}
}

func TestReverseRequiresReason(t *testing.T) {
	svc, _, _ := newFixture(t)
	date := time.Date(2025, 3, 20, 0, 0, 0, 0, time.UTC)

	if _, err := svc.ReverseEntry(context.Background(), testScope, 1, date, ""); !errors.Is(err, ledger.ErrMissingReason) {
		t.Fatalf("expected ErrMissingReason for empty reason, got %v", err)
	}
	if _, err := svc.ReverseEntry(context.Background(), testScope, 1, date, "   "); !errors.Is(err, ledger.ErrMissingReason) {
		t.Fatalf("expected ErrMissingReason for blank reason, got %v", err)
	}
}

func TestReverseDraftEntry(t *testing.T) {
	svc, _, _ := newFixture(t)

	entry, err := svc.CreateEntry(context.Background(), testScope, rentInput(t, "1000"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	_, err = svc.ReverseEntry(context.Background(), testScope, entry.ID,
		time.Date(2025, 3, 20, 0, 0, 0, 0, time.UTC), "not yet posted")
	if !errors.Is(err, ledger.ErrNotPosted) {
		t.Fatalf("expected ErrNotPosted, got %v", err)
	}
}

func TestReverseEntryTwice(t *testing.T) {
	svc, _, _ := newFixture(t)

	input := rentInput(t, "1000")
	input.PostImmediately = true
	entry, err := svc.CreateEntry(context.Background(), testScope, input)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	date := time.Date(2025, 3, 20, 0, 0, 0, 0, time.UTC)
	if _, err := svc.ReverseEntry(context.Background(), testScope, entry.ID, date, "first"); err != nil {
		t.Fatalf("first reverse: %v", err)
	}
	if _, err := svc.ReverseEntry(context.Background(), testScope, entry.ID, date, "second"); !errors.Is(err, ledger.ErrAlreadyReversed) {
		t.Fatalf("expected ErrAlreadyReversed, got %v", err)
	}
}

func TestReverseReversalRejected(t *testing.T) {
	svc, _, _ := newFixture(t)

	input := rentInput(t, "1000")
	input.PostImmediately = true
	entry, err := svc.CreateEntry(context.Background(), testScope, input)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	date := time.Date(2025, 3, 20, 0, 0, 0, 0, time.UTC)
	reversal, err := svc.ReverseEntry(context.Background(), testScope, entry.ID, date, "undo")
	if err != nil {
		t.Fatalf("reverse: %v", err)
	}
	if _, err := svc.ReverseEntry(context.Background(), testScope, reversal.ID, date, "undo the undo"); !errors.Is(err, ledger.ErrReversalNotReversible) {
		t.Fatalf("expected ErrReversalNotReversible, got %v", err)
	}
}

func TestForeignCurrencyTotals(t *testing.T) {
	svc, _, _ := newFixture(t)

	fc := dec(t, "500")
	input := ledger.EntryInput{
		EntryDate:    time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC),
		EntryType:    ledger.TypeManual,
		Currency:     "SAR",
		ExchangeRate: dec(t, "3.75"),
		Description:  "foreign settlement",
		Lines: []ledger.LineInput{
			{AccountID: 2100, Debit: dec(t, "1875"), DebitFC: &fc},
			{AccountID: 1100, Credit: dec(t, "1875"), CreditFC: &fc},
		},
	}
	entry, err := svc.CreateEntry(context.Background(), testScope, input)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !entry.TotalDebit.Equal(dec(t, "1875")) || !entry.TotalCredit.Equal(dec(t, "1875")) {
		t.Fatalf("unexpected base totals %s/%s", entry.TotalDebit, entry.TotalCredit)
	}
	if entry.TotalDebitFC == nil || !entry.TotalDebitFC.Equal(fc) {
		t.Fatalf("expected foreign debit total 500, got %v", entry.TotalDebitFC)
	}
	if entry.TotalCreditFC == nil || !entry.TotalCreditFC.Equal(fc) {
		t.Fatalf("expected foreign credit total 500, got %v", entry.TotalCreditFC)
	}
}

func TestSourceDocumentPostsOnce(t *testing.T) {
	svc, _, _ := newFixture(t)

	input := rentInput(t, "1000")
	input.SourceType = "PURCHASE_INVOICE"
	input.SourceRef = mustUUID(t, "6ba7b810-9dad-11d1-80b4-00c04fd430c8")
	input.PostImmediately = true
	if _, err := svc.CreateEntry(context.Background(), testScope, input); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	_, err := svc.CreateEntry(context.Background(), testScope, input)
	if !errors.Is(err, ledger.ErrSourceAlreadyPosted) {
		t.Fatalf("expected ErrSourceAlreadyPosted, got %v", err)
	}
}

func TestGetEntryScopedToCompany(t *testing.T) {
	svc, _, _ := newFixture(t)

	entry, err := svc.CreateEntry(context.Background(), testScope, rentInput(t, "1000"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	other := shared.Scope{CompanyID: 2, ActorID: 9}
	if _, _, err := svc.GetEntry(context.Background(), other, entry.ID); !errors.Is(err, ledger.ErrEntryNotFound) {
		t.Fatalf("expected ErrEntryNotFound across companies, got %v", err)
	}
}

func TestListEntriesFilterByStatus(t *testing.T) {
	svc, _, _ := newFixture(t)

	posted := rentInput(t, "100")
	posted.PostImmediately = true
	if _, err := svc.CreateEntry(context.Background(), testScope, posted); err != nil {
		t.Fatalf("create posted: %v", err)
	}
	if _, err := svc.CreateEntry(context.Background(), testScope, rentInput(t, "200")); err != nil {
		t.Fatalf("create draft: %v", err)
	}

	entries, paging, err := svc.ListEntries(context.Background(), testScope, ledger.EntryFilter{Status: ledger.StatusPosted})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 1 || paging.Total != 1 {
		t.Fatalf("expected one posted entry, got %d (total %d)", len(entries), paging.Total)
	}
	if entries[0].Status != ledger.StatusPosted {
		t.Fatalf("expected POSTED, got %s", entries[0].Status)
	}
}
