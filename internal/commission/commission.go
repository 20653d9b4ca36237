// Package commission holds the fixed six-tier referral commission schedule.
//
// Rates apply directly to the signup fee; they are not compounded on the
// amount paid to the previous tier. Each tier's commission is rounded to
// minor units when it is computed, so the sum of paid tiers plus the
// leftover always equals the fee exactly.
package commission

import (
	"errors"

	"github.com/shopspring/decimal"

	"referralpay/internal/money"
)

const MaxTier = 6

var ErrInvalidTier = errors.New("tier must be between 1 and 6")

// DecayFactor relates each tier's rate to the one before it.
var DecayFactor = decimal.RequireFromString("0.85")

var rates = [MaxTier]decimal.Decimal{
	decimal.RequireFromString("0.10"),
	decimal.RequireFromString("0.085"),
	decimal.RequireFromString("0.07225"),
	decimal.RequireFromString("0.0614"),
	decimal.RequireFromString("0.0522"),
	decimal.RequireFromString("0.044"),
}

func Rate(tier int) (decimal.Decimal, error) {
	if tier < 1 || tier > MaxTier {
		return decimal.Zero, ErrInvalidTier
	}
	return rates[tier-1], nil
}

// Commission returns fee x rate(tier), rounded half-up to 2 decimals.
func Commission(fee decimal.Decimal, tier int) (decimal.Decimal, error) {
	rate, err := Rate(tier)
	if err != nil {
		return decimal.Zero, err
	}
	return money.Round(fee.Mul(rate)), nil
}

func Leftover(fee, distributed decimal.Decimal) decimal.Decimal {
	return money.Round(fee.Sub(distributed))
}

// Schedule returns the commission for every tier of a full chain.
func Schedule(fee decimal.Decimal) []decimal.Decimal {
	out := make([]decimal.Decimal, 0, MaxTier)
	for tier := 1; tier <= MaxTier; tier++ {
		amount, _ := Commission(fee, tier)
		out = append(out, amount)
	}
	return out
}
