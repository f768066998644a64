package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position is the aggregated holding for one instrument. NetSize is signed
// (positive for long); AvgPrice is the volume-weighted entry price and only
// changes when the position grows or flips sign.
type Position struct {
	Instrument string          `json:"instrument"`
	NetSize    decimal.Decimal `json:"net_size"`
	AvgPrice   decimal.Decimal `json:"avg_price"`
	LastPrice  decimal.Decimal `json:"last_price"`
	LastTime   time.Time       `json:"last_time"`
	EntryTime  time.Time       `json:"entry_time"`
	ExitPrice  decimal.Decimal `json:"exit_price"`
	ExitTime   time.Time       `json:"exit_time"`
	// Realised accumulates the PnL credited to equity by fills that reduced
	// or flipped this position.
	Realised decimal.Decimal `json:"realised"`
}

// Direction returns the side of the position.
func (p *Position) Direction() Direction {
	if p.NetSize.IsNegative() {
		return Short
	}
	return Long
}

// Notional is the absolute dollar exposure at the last mark price.
func (p *Position) Notional() decimal.Decimal {
	return p.NetSize.Abs().Mul(p.LastPrice)
}

// UnrealisedPNL is the floating profit at the last mark price.
func (p *Position) UnrealisedPNL() decimal.Decimal {
	return p.NetSize.Mul(p.LastPrice.Sub(p.AvgPrice))
}

// Copy returns a value copy for defensive snapshots.
func (p *Position) Copy() *Position {
	c := *p
	return &c
}
