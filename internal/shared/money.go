package shared

import (
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
)

// DefaultCurrencyScale applies when a currency code cannot be resolved.
const DefaultCurrencyScale = 2

// CurrencyScale returns the number of decimal places conventionally carried
// by amounts in the given ISO 4217 currency (2 for USD, 0 for JPY, 3 for KWD).
func CurrencyScale(code string) int32 {
	unit, err := currency.ParseISO(strings.ToUpper(strings.TrimSpace(code)))
	if err != nil {
		return DefaultCurrencyScale
	}
	scale, _ := currency.Standard.Rounding(unit)
	return int32(scale)
}

// BalanceTolerance returns the largest acceptable |debit - credit| drift for
// the currency: one unit of its smallest conventional denomination, so 0.01
// for two-decimal currencies and 0.001 for three-decimal ones.
func BalanceTolerance(code string) decimal.Decimal {
	return decimal.New(1, -CurrencyScale(code))
}

// RoundAmount rounds an amount to the currency's conventional scale using
// half-up rounding.
func RoundAmount(code string, v decimal.Decimal) decimal.Decimal {
	return v.Round(CurrencyScale(code))
}

// WithinTolerance reports whether debit and credit agree within the
// currency's balance tolerance.
func WithinTolerance(code string, debit, credit decimal.Decimal) bool {
	return debit.Sub(credit).Abs().LessThanOrEqual(BalanceTolerance(code))
}
