package virtual

import "github.com/shopspring/decimal"

// SlippageModel maps a trade size to a fractional price impact (0.001 =
// 10 bps). The impact is signed by trade direction when applied, so a buy
// pays up and a sell receives less. Only applied during backtests.
type SlippageModel func(size decimal.Decimal) decimal.Decimal

// NoSlippage is the default model.
func NoSlippage(decimal.Decimal) decimal.Decimal {
	return decimal.Zero
}

// ProportionalSlippage returns a model whose impact grows linearly with
// size: impact = size * bpsPerUnit / 10000.
func ProportionalSlippage(bpsPerUnit decimal.Decimal) SlippageModel {
	scale := decimal.NewFromInt(10000)
	return func(size decimal.Decimal) decimal.Decimal {
		return size.Abs().Mul(bpsPerUnit).Div(scale)
	}
}

// FixedSlippage returns a model with a constant impact in basis points.
func FixedSlippage(bps decimal.Decimal) SlippageModel {
	impact := bps.Div(decimal.NewFromInt(10000))
	return func(decimal.Decimal) decimal.Decimal {
		return impact
	}
}
