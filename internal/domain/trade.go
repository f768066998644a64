package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trade represents a single fill. Trades are immutable once created;
// corrections happen via new offsetting trades, never edits.
type Trade struct {
	ID         int64           `json:"id"`
	OrderID    int64           `json:"order_id"`
	Instrument string          `json:"instrument"`
	Direction  Direction       `json:"direction"`
	Size       decimal.Decimal `json:"size"`
	Price      decimal.Decimal `json:"price"`
	Time       time.Time       `json:"time"`
	LastPrice  decimal.Decimal `json:"last_price"` // reference price at fill
	Fee        decimal.Decimal `json:"fee"`
	Maker      bool            `json:"maker"` // true when the fill added liquidity (limit fill)
}

// Copy returns a value copy for defensive snapshots.
func (t *Trade) Copy() *Trade {
	c := *t
	return &c
}

// PublicTrade is a trade print from a live feed, matched against resting
// limit orders during paper trading.
type PublicTrade struct {
	Instrument string          `json:"instrument"`
	Price      decimal.Decimal `json:"price"`
	Size       decimal.Decimal `json:"size"`
	Time       time.Time       `json:"time"`
}
