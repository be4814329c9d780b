package ledger_test

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/ledger"
)

func mustUUID(t *testing.T, s string) uuid.UUID {
	t.Helper()
	id, err := uuid.Parse(s)
	if err != nil {
		t.Fatalf("parse uuid %q: %v", s, err)
	}
	return id
}

func validInput(t *testing.T) ledger.EntryInput {
	t.Helper()
	return ledger.EntryInput{
		EntryDate:    time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC),
		EntryType:    ledger.TypeManual,
		Currency:     "USD",
		ExchangeRate: decimal.NewFromInt(1),
		Lines: []ledger.LineInput{
			line(t, 6100, "100", "0"),
			line(t, 1000, "0", "100"),
		},
	}
}

func TestEntryInputValidate(t *testing.T) {
	fc := decimal.NewFromInt(50)
	cases := []struct {
		name   string
		mutate func(t *testing.T, in *ledger.EntryInput)
		valid  bool
	}{
		{name: "valid", mutate: func(t *testing.T, in *ledger.EntryInput) {}, valid: true},
		{name: "missing date", mutate: func(t *testing.T, in *ledger.EntryInput) {
			in.EntryDate = time.Time{}
		}},
		{name: "missing currency", mutate: func(t *testing.T, in *ledger.EntryInput) {
			in.Currency = ""
		}},
		{name: "zero exchange rate", mutate: func(t *testing.T, in *ledger.EntryInput) {
			in.ExchangeRate = decimal.Zero
		}},
		{name: "single line", mutate: func(t *testing.T, in *ledger.EntryInput) {
			in.Lines = in.Lines[:1]
		}},
		{name: "missing account", mutate: func(t *testing.T, in *ledger.EntryInput) {
			in.Lines[0].AccountID = 0
		}},
		{name: "negative amount", mutate: func(t *testing.T, in *ledger.EntryInput) {
			in.Lines[0].Debit = decimal.NewFromInt(-100)
		}},
		{name: "both sides set", mutate: func(t *testing.T, in *ledger.EntryInput) {
			in.Lines[0].Credit = decimal.NewFromInt(100)
		}},
		{name: "neither side set", mutate: func(t *testing.T, in *ledger.EntryInput) {
			in.Lines[0].Debit = decimal.Zero
		}},
		{name: "foreign mirror on wrong side", mutate: func(t *testing.T, in *ledger.EntryInput) {
			in.Lines[0].CreditFC = &fc
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := validInput(t)
			tc.mutate(t, &in)
			err := in.Validate()
			if tc.valid && err != nil {
				t.Fatalf("expected valid, got %v", err)
			}
			if !tc.valid && !errors.Is(err, ledger.ErrInvalidEntry) {
				t.Fatalf("expected ErrInvalidEntry, got %v", err)
			}
		})
	}
}

func TestEntryInputTotals(t *testing.T) {
	in := validInput(t)
	in.Lines = append(in.Lines, line(t, 6200, "50", "0"), line(t, 1000, "0", "50"))

	debit, credit := in.Totals()
	if !debit.Equal(decimal.NewFromInt(150)) || !credit.Equal(decimal.NewFromInt(150)) {
		t.Fatalf("unexpected totals %s/%s", debit, credit)
	}
}

func TestEntryInputTotalsFC(t *testing.T) {
	in := validInput(t)
	if _, _, present := in.TotalsFC(); present {
		t.Fatal("base-only entry must not report foreign totals")
	}

	fc := decimal.NewFromInt(40)
	in.Lines[0].DebitFC = &fc
	in.Lines[1].CreditFC = &fc
	debit, credit, present := in.TotalsFC()
	if !present {
		t.Fatal("expected foreign totals present")
	}
	if !debit.Equal(fc) || !credit.Equal(fc) {
		t.Fatalf("unexpected foreign totals %s/%s", debit, credit)
	}
}
