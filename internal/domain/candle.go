package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Candle represents a single OHLCV bar.
type Candle struct {
	OpenTime    time.Time       `json:"open_time"`
	CloseTime   time.Time       `json:"close_time"`
	Instrument  string          `json:"instrument"`
	Granularity string          `json:"granularity"`
	Open        decimal.Decimal `json:"open"`
	High        decimal.Decimal `json:"high"`
	Low         decimal.Decimal `json:"low"`
	Close       decimal.Decimal `json:"close"`
	Volume      decimal.Decimal `json:"volume"`
}

// Contains reports whether price traded within the bar's [low, high] range,
// bounds inclusive.
func (c *Candle) Contains(price decimal.Decimal) bool {
	return price.GreaterThanOrEqual(c.Low) && price.LessThanOrEqual(c.High)
}
