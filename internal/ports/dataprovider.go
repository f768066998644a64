package ports

import (
	"context"
	"time"

	"tradesim/internal/domain"
)

// DataProvider is the market-data collaborator consumed by the engine.
// Implementations fetch candles and book snapshots; the engine caches
// returned series per instrument and never looks past the simulation clock.
type DataProvider interface {
	// Candles returns an OHLC series for the instrument. limit of 0 means
	// no count cap; zero start/end mean unbounded.
	Candles(ctx context.Context, instrument, granularity string, limit int, start, end time.Time) ([]*domain.Candle, error)

	// OrderBook returns the current top-of-book snapshot.
	OrderBook(ctx context.Context, instrument string) (*domain.OrderBook, error)
}
