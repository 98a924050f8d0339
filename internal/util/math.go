package util

import (
	"github.com/shopspring/decimal"
)

// FloorToStep rounds qty down to a multiple of step without float artefacts
func FloorToStep(qty, step float64) decimal.Decimal {
	q := decimal.NewFromFloat(qty)
	if step <= 0 {
		return q
	}
	s := decimal.NewFromFloat(step)
	return q.Div(s).Floor().Mul(s)
}

// RoundToStep rounds qty to the nearest multiple of step
func RoundToStep(qty, step float64) decimal.Decimal {
	q := decimal.NewFromFloat(qty)
	if step <= 0 {
		return q
	}
	s := decimal.NewFromFloat(step)
	return q.Div(s).Round(0).Mul(s)
}

// PositionQuantity sizes an order: balance * percent/100 * leverage / price, floored to step
func PositionQuantity(balance, percent float64, leverage int, price, step float64) decimal.Decimal {
	if balance <= 0 || percent <= 0 || leverage <= 0 || price <= 0 {
		return decimal.Zero
	}
	notional := decimal.NewFromFloat(balance).
		Mul(decimal.NewFromFloat(percent)).
		Div(decimal.NewFromInt(100)).
		Mul(decimal.NewFromInt(int64(leverage)))
	qty, _ := notional.Div(decimal.NewFromFloat(price)).Float64()
	return FloorToStep(qty, step)
}
