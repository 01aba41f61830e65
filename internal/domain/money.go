package domain

import "github.com/shopspring/decimal"

// RoundMoney normalises an amount to two decimal places, rounding half away
// from zero so repeated evaluations of the same inputs always agree.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// MinorUnits converts a decimal currency amount into integer minor units for
// the payment gateway boundary.
func MinorUnits(d decimal.Decimal) int64 {
	return d.Shift(2).Round(0).IntPart()
}
