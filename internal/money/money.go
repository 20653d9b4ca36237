package money

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

// Places is the minor-unit precision of every stored amount.
const Places = 2

var (
	ErrInvalidAmount   = errors.New("invalid amount")
	ErrTooManyDecimals = errors.New("amount has too many decimal places")
	ErrNotPositive     = errors.New("amount must be positive")
)

// Parse reads an exact decimal amount with at most two decimal places.
func Parse(input string) (decimal.Decimal, error) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return decimal.Zero, ErrInvalidAmount
	}
	if strings.ContainsAny(trimmed, "eE") {
		return decimal.Zero, ErrInvalidAmount
	}
	value, err := decimal.NewFromString(trimmed)
	if err != nil {
		return decimal.Zero, ErrInvalidAmount
	}
	if !HasMinorPrecision(value) {
		return decimal.Zero, ErrTooManyDecimals
	}
	return value, nil
}

// ParsePositive is Parse followed by a strictly-positive check.
func ParsePositive(input string) (decimal.Decimal, error) {
	value, err := Parse(input)
	if err != nil {
		return decimal.Zero, err
	}
	if !value.IsPositive() {
		return decimal.Zero, ErrNotPositive
	}
	return value, nil
}

func HasMinorPrecision(value decimal.Decimal) bool {
	return value.Equal(value.Truncate(Places))
}

// Round rounds half away from zero, which is half-up for credits.
func Round(value decimal.Decimal) decimal.Decimal {
	return value.Round(Places)
}

func Format(value decimal.Decimal) string {
	return value.StringFixed(Places)
}

// ToMinor converts to integer minor units (pence, cents).
func ToMinor(value decimal.Decimal) (int64, error) {
	if !HasMinorPrecision(value) {
		return 0, ErrTooManyDecimals
	}
	return value.Shift(Places).IntPart(), nil
}

func FromMinor(minor int64) decimal.Decimal {
	return decimal.New(minor, -Places)
}
