package domain

import (
	"fmt"
	"strings"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

// DefaultCurrency is used when a source does not state one.
const DefaultCurrency = "INR"

// LookupCurrency returns the ISO 4217 currency for code.
func LookupCurrency(code string) (*money.Currency, error) {
	cur := money.GetCurrency(strings.ToUpper(strings.TrimSpace(code)))
	if cur == nil {
		return nil, fmt.Errorf("unknown currency %q", code)
	}
	return cur, nil
}

// MinorUnits converts amount to an integer count of the currency's minor units,
// rounding half away from zero. Unknown currencies are treated as two-decimal.
func MinorUnits(amount decimal.Decimal, currency string) int64 {
	fraction := int32(2)
	if cur, err := LookupCurrency(currency); err == nil {
		fraction = int32(cur.Fraction)
	}
	return amount.Round(fraction).Shift(fraction).IntPart()
}

// FormatAmount renders amount using the currency's display conventions.
func FormatAmount(amount decimal.Decimal, currency string) string {
	cur, err := LookupCurrency(currency)
	if err != nil {
		return amount.StringFixed(2) + " " + currency
	}
	minor := amount.Round(int32(cur.Fraction)).Shift(int32(cur.Fraction)).IntPart()
	return cur.Formatter().Format(minor)
}
