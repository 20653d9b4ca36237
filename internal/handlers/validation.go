package handlers

import (
	"errors"

	"github.com/shopspring/decimal"

	"referralpay/internal/money"
)

var errInvalidAmount = errors.New("invalid amount")

// parseAmount accepts a positive decimal string with at most two places.
func parseAmount(raw string) (decimal.Decimal, error) {
	amount, err := money.ParsePositive(raw)
	if err != nil {
		return decimal.Zero, errInvalidAmount
	}
	return amount, nil
}
