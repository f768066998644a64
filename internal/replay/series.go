package replay

import (
	"context"
	"fmt"
	"time"

	"tradesim/internal/domain"
	"tradesim/internal/ports"
)

// SeriesProvider serves a preloaded candle series as a ports.DataProvider,
// for offline replays and tests. It honors the time bounds the engine
// passes, so the engine never sees bars past its own clock.
type SeriesProvider struct {
	instrument string
	candles    []*domain.Candle
	book       *domain.OrderBook
}

// NewSeriesProvider wraps a series, assumed sorted by open time.
func NewSeriesProvider(instrument string, candles []*domain.Candle) *SeriesProvider {
	return &SeriesProvider{instrument: instrument, candles: candles}
}

// SetOrderBook installs a book snapshot returned by OrderBook, for
// paper-mode tests.
func (p *SeriesProvider) SetOrderBook(book *domain.OrderBook) {
	p.book = book
}

// Candles returns the subset of the series within [start, end], capped to
// the last limit bars when limit is positive.
func (p *SeriesProvider) Candles(_ context.Context, instrument, _ string, limit int, start, end time.Time) ([]*domain.Candle, error) {
	if instrument != p.instrument {
		return nil, fmt.Errorf("%w: %s", ports.ErrInsufficientData, instrument)
	}

	var out []*domain.Candle
	for _, c := range p.candles {
		if !start.IsZero() && c.OpenTime.Before(start) {
			continue
		}
		if !end.IsZero() && c.OpenTime.After(end) {
			continue
		}
		out = append(out, c)
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// OrderBook returns the installed snapshot, or an error when none is set.
func (p *SeriesProvider) OrderBook(_ context.Context, instrument string) (*domain.OrderBook, error) {
	if p.book == nil || instrument != p.instrument {
		return nil, fmt.Errorf("%w: no order book for %s", ports.ErrFeedUnavailable, instrument)
	}
	return p.book.Copy(), nil
}
