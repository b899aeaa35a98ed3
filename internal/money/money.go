// Package money holds the fixed-point helpers used on every money path.
// Amounts carry two decimal places and are never converted to floats.
package money

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/Damqn23/auction-marketplace/internal/domain"
)

// Places is the number of fractional digits kept for currency amounts.
const Places = 2

var (
	hundred = decimal.NewFromInt(100)

	// amountPattern matches NUMERIC(12,2) values without sign or exponent.
	amountPattern = regexp.MustCompile(`^\d{1,10}(\.\d{1,2})?$`)
)

// Parse converts a user-supplied amount string into a decimal. It accepts
// plain non-negative numbers with at most two decimals.
func Parse(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if !amountPattern.MatchString(s) {
		return decimal.Zero, fmt.Errorf("%w: %q is not a valid amount", domain.ErrInvalidAmount, s)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q: %v", domain.ErrInvalidAmount, s, err)
	}
	return d, nil
}

// MustParse is Parse for constants and tests.
func MustParse(s string) decimal.Decimal {
	d, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return d
}

// IsCents reports whether d is positive and has at most two decimals.
func IsCents(d decimal.Decimal) bool {
	return d.IsPositive() && d.Equal(d.Truncate(Places))
}

// RoundUpCents rounds d toward positive infinity to whole cents.
func RoundUpCents(d decimal.Decimal) decimal.Decimal {
	return d.RoundCeil(Places)
}

// MinRequiredBid returns base increased by pct percent, rounded up to cents.
func MinRequiredBid(base, pct decimal.Decimal) decimal.Decimal {
	factor := hundred.Add(pct).Div(hundred)
	return RoundUpCents(base.Mul(factor))
}

// Fee returns pct percent of price rounded to cents, half to even.
func Fee(price, pct decimal.Decimal) decimal.Decimal {
	return price.Mul(pct).Div(hundred).RoundBank(Places)
}

// Format renders d with exactly two decimals.
func Format(d decimal.Decimal) string {
	return d.StringFixed(Places)
}

// Dollars renders d for notification texts, e.g. "$102.00".
func Dollars(d decimal.Decimal) string {
	return "$" + Format(d)
}
