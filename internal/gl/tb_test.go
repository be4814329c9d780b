package gl

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	_ "github.com/meridian-erp/meridian-erp/testing"
)

func dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("parse decimal %q: %v", s, err)
	}
	return d
}

func TestBuildTrialBalance(t *testing.T) {
	accounts := []AccountBalance{
		{AccountID: 1, Code: "1000", Name: "Cash", Type: "ASSET", Opening: dec(t, "1000"), Debit: dec(t, "200"), Credit: dec(t, "150")},
		{AccountID: 2, Code: "1001", Name: "Bank", Type: "ASSET", Opening: dec(t, "500"), Debit: dec(t, "100"), Credit: dec(t, "50")},
		{AccountID: 3, Code: "2000", Name: "Accounts Payable", Type: "LIABILITY", Debit: dec(t, "10"), Credit: dec(t, "400")},
	}

	from := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC)
	tb := BuildTrialBalance(from, to, accounts)

	if len(tb.Groups) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(tb.Groups))
	}
	if tb.Groups[0].Key != "10" || tb.Groups[1].Key != "20" {
		t.Fatalf("groups must sort by key, got %s/%s", tb.Groups[0].Key, tb.Groups[1].Key)
	}
	if !tb.TotalDebit.Equal(dec(t, "310")) {
		t.Fatalf("unexpected total debit: %s", tb.TotalDebit)
	}
	if !tb.TotalCredit.Equal(dec(t, "600")) {
		t.Fatalf("unexpected total credit: %s", tb.TotalCredit)
	}
	if !tb.TotalOpening.Equal(dec(t, "1500")) {
		t.Fatalf("unexpected total opening: %s", tb.TotalOpening)
	}
	if !tb.TotalClosing.Equal(dec(t, "1210")) {
		t.Fatalf("unexpected total closing: %s", tb.TotalClosing)
	}
}

func TestBuildTrialBalanceDottedCodes(t *testing.T) {
	accounts := []AccountBalance{
		{AccountID: 1, Code: "1000.01", Name: "Till A", Type: "ASSET", Debit: dec(t, "10")},
		{AccountID: 2, Code: "1000.02", Name: "Till B", Type: "ASSET", Debit: dec(t, "20")},
		{AccountID: 3, Code: "61", Name: "Rent", Type: "EXPENSE", Debit: dec(t, "5")},
	}

	tb := BuildTrialBalance(time.Time{}, time.Time{}, accounts)
	if len(tb.Groups) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(tb.Groups))
	}
	if tb.Groups[0].Key != "1000" {
		t.Fatalf("dotted codes group on the prefix before the dot, got %s", tb.Groups[0].Key)
	}
	if len(tb.Groups[0].Accounts) != 2 || !tb.Groups[0].Debit.Equal(dec(t, "30")) {
		t.Fatalf("unexpected group %+v", tb.Groups[0])
	}
}

func TestAccountBalanceClosing(t *testing.T) {
	acc := AccountBalance{Opening: dec(t, "100"), Debit: dec(t, "40"), Credit: dec(t, "15")}
	if !acc.Closing().Equal(dec(t, "125")) {
		t.Fatalf("closing = opening + debit - credit, got %s", acc.Closing())
	}
}
