package money

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidAmount   = errors.New("invalid amount")
	ErrTooManyDecimals = errors.New("amount has too many decimal places")
)

const Places = 2

var (
	MaxTransaction = decimal.RequireFromString("100000.00")
	MaxBalance     = decimal.RequireFromString("1000000.00")
)

// Parse reads a decimal amount string. It accepts at most two fractional
// digits and never rounds.
func Parse(input string) (decimal.Decimal, error) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return decimal.Zero, ErrInvalidAmount
	}
	value, err := decimal.NewFromString(trimmed)
	if err != nil {
		return decimal.Zero, ErrInvalidAmount
	}
	if !HasValidPrecision(value) {
		return decimal.Zero, ErrTooManyDecimals
	}
	return Quantize(value), nil
}

func HasValidPrecision(value decimal.Decimal) bool {
	return value.Equal(value.Truncate(Places))
}

func Quantize(value decimal.Decimal) decimal.Decimal {
	return value.Round(Places)
}

func Format(value decimal.Decimal) string {
	return value.StringFixed(Places)
}

// ValidTransaction reports whether amount is positive, has at most two
// fractional digits and does not exceed MaxTransaction.
func ValidTransaction(amount decimal.Decimal) bool {
	return amount.IsPositive() && HasValidPrecision(amount) && amount.LessThanOrEqual(MaxTransaction)
}
