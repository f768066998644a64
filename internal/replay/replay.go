// Package replay drives the virtual broker through a historical candle
// series one bar at a time and summarizes the account at the end.
package replay

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"tradesim/internal/domain"
	"tradesim/internal/ports"
)

// Result holds the outcome of a replay.
type Result struct {
	Instrument         string
	StartTime          time.Time
	EndTime            time.Time
	Steps              int
	TotalTrades        int
	TotalFees          decimal.Decimal
	InitialBalance     decimal.Decimal
	FinalBalance       decimal.Decimal
	FinalNAV           decimal.Decimal
	MaxDrawdown        decimal.Decimal
	ReturnOnInvestment decimal.Decimal
	Trades             []*domain.Trade
	ClosedPositions    []*domain.Position
}

// Run steps the broker through the series, one update per bar close, and
// collects summary statistics. Orders are expected to be placed by the
// caller before or between runs.
func Run(ctx context.Context, b ports.Broker, instrument string, candles []*domain.Candle) (*Result, error) {
	if len(candles) == 0 {
		return nil, fmt.Errorf("no candles to replay")
	}

	res := &Result{
		Instrument:     instrument,
		StartTime:      candles[0].OpenTime,
		EndTime:        candles[len(candles)-1].CloseTime,
		InitialBalance: b.NAV(),
	}
	peak := res.InitialBalance

	for _, c := range candles {
		if err := b.Update(ctx, instrument, c.CloseTime, nil); err != nil {
			return nil, fmt.Errorf("replay stopped at %s: %w", c.CloseTime, err)
		}
		res.Steps++

		nav := b.NAV()
		if nav.GreaterThan(peak) {
			peak = nav
		}
		if peak.IsPositive() {
			drawdown := peak.Sub(nav).Div(peak)
			if drawdown.GreaterThan(res.MaxDrawdown) {
				res.MaxDrawdown = drawdown
			}
		}
	}

	trades := b.Trades(instrument)
	res.TotalTrades = len(trades)
	for _, t := range trades {
		res.Trades = append(res.Trades, t)
		res.TotalFees = res.TotalFees.Add(t.Fee)
	}
	sort.Slice(res.Trades, func(i, j int) bool { return res.Trades[i].ID < res.Trades[j].ID })

	res.ClosedPositions = b.ClosedPositions(instrument)
	res.FinalBalance = b.Balance()
	res.FinalNAV = b.NAV()
	if res.InitialBalance.IsPositive() {
		res.ReturnOnInvestment = res.FinalNAV.Sub(res.InitialBalance).Div(res.InitialBalance)
	}
	return res, nil
}
