package domain

import (
	"errors"

	"github.com/shopspring/decimal"
)

// ErrInsufficientLiquidity is returned when the book cannot absorb the
// requested size.
var ErrInsufficientLiquidity = errors.New("order book has insufficient liquidity for requested size")

// Level is one price level of an order book side.
type Level struct {
	Price decimal.Decimal `json:"price"`
	Size  decimal.Decimal `json:"size"`
}

// OrderBook holds bid/ask levels, best price first on each side. It may be
// a real snapshot from a live feed or a synthetic book derived from a
// reference price and spread.
type OrderBook struct {
	Instrument string  `json:"instrument"`
	Bids       []Level `json:"bids"`
	Asks       []Level `json:"asks"`
}

// syntheticDepth is the per-side size of an emulated book level, large
// enough to absorb any simulated order without multi-level walking.
var syntheticDepth = decimal.New(1, 15)

// NewSyntheticBook emulates a book around mid with a fixed absolute spread:
// bid = mid - spread/2, ask = mid + spread/2, one effectively infinite
// level per side.
func NewSyntheticBook(instrument string, mid, spread decimal.Decimal) *OrderBook {
	half := spread.Div(decimal.NewFromInt(2))
	return &OrderBook{
		Instrument: instrument,
		Bids:       []Level{{Price: mid.Sub(half), Size: syntheticDepth}},
		Asks:       []Level{{Price: mid.Add(half), Size: syntheticDepth}},
	}
}

// NewSyntheticBookPct is NewSyntheticBook with the spread expressed as a
// fraction of mid (0.001 = 10 bps).
func NewSyntheticBookPct(instrument string, mid, spreadPct decimal.Decimal) *OrderBook {
	return NewSyntheticBook(instrument, mid, mid.Mul(spreadPct))
}

// BestBid returns the top bid price, or zero when the side is empty.
func (b *OrderBook) BestBid() decimal.Decimal {
	if len(b.Bids) == 0 {
		return decimal.Zero
	}
	return b.Bids[0].Price
}

// BestAsk returns the top ask price, or zero when the side is empty.
func (b *OrderBook) BestAsk() decimal.Decimal {
	if len(b.Asks) == 0 {
		return decimal.Zero
	}
	return b.Asks[0].Price
}

// Mid returns the midpoint of the top of book.
func (b *OrderBook) Mid() decimal.Decimal {
	return b.BestBid().Add(b.BestAsk()).Div(decimal.NewFromInt(2))
}

// AveragePrice walks the side opposite the trade direction, consuming
// liquidity level by level until size is filled, and returns the
// size-weighted average price. A buy consumes asks, a sell consumes bids.
func (b *OrderBook) AveragePrice(dir Direction, size decimal.Decimal) (decimal.Decimal, error) {
	levels := b.Asks
	if dir == Short {
		levels = b.Bids
	}
	if !size.IsPositive() {
		return decimal.Zero, errors.New("requested size must be positive")
	}

	remaining := size
	cost := decimal.Zero
	for _, lvl := range levels {
		take := decimal.Min(remaining, lvl.Size)
		cost = cost.Add(take.Mul(lvl.Price))
		remaining = remaining.Sub(take)
		if remaining.IsZero() {
			return cost.Div(size), nil
		}
	}
	return decimal.Zero, ErrInsufficientLiquidity
}

// Copy returns a deep copy of the book.
func (b *OrderBook) Copy() *OrderBook {
	c := &OrderBook{Instrument: b.Instrument}
	c.Bids = append([]Level(nil), b.Bids...)
	c.Asks = append([]Level(nil), b.Asks...)
	return c
}
