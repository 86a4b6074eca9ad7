// Package money converts ledger amounts between decimal values and integer minor
// units, and formats them for display.
package money

import (
	"errors"
	"math"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

// CNY is the ledger currency.
const CNY = "CNY"

// ErrOutOfRange is returned for amounts whose minor units do not fit in an int64
var ErrOutOfRange = errors.New("amount out of range")

var (
	maxMinor = decimal.NewFromInt(math.MaxInt64)
	minMinor = decimal.NewFromInt(math.MinInt64)
)

// ToMinor converts a decimal amount to minor units of the currency, rounding half
// away from zero to the currency's fraction.
func ToMinor(amount decimal.Decimal, currencyCode string) (int64, error) {
	minor := amount.Shift(fraction(currencyCode)).Round(0)
	if minor.GreaterThan(maxMinor) || minor.LessThan(minMinor) {
		return 0, ErrOutOfRange
	}
	return minor.IntPart(), nil
}

// FromMinor converts minor units back to a decimal amount.
func FromMinor(amountMinor int64, currencyCode string) decimal.Decimal {
	return decimal.New(amountMinor, -fraction(currencyCode))
}

// Display formats an amount with grouping and the currency symbol (e.g., "1,234.56 元").
func Display(amount decimal.Decimal, currencyCode string) string {
	minor, err := ToMinor(amount, currencyCode)
	if err != nil {
		return amount.StringFixed(fraction(currencyCode))
	}
	return money.New(minor, code(currencyCode)).Display()
}

func fraction(currencyCode string) int32 {
	return int32(money.GetCurrency(code(currencyCode)).Fraction)
}

func code(currencyCode string) string {
	if money.GetCurrency(currencyCode) == nil {
		return CNY
	}
	return currencyCode
}
