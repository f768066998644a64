package ports

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"tradesim/internal/domain"
)

// TradeRepository stores and retrieves fill history for reporting.
type TradeRepository interface {
	// SaveTrade persists a single fill.
	SaveTrade(ctx context.Context, trade *domain.Trade) error
	// TradesByInstrument retrieves the most recent fills for an instrument,
	// up to limit (0 = no limit), newest first.
	TradesByInstrument(ctx context.Context, instrument string, limit int) ([]*domain.Trade, error)
}

// PositionRepository stores and retrieves closed positions.
type PositionRepository interface {
	// SaveClosedPosition persists a position that has been closed out.
	SaveClosedPosition(ctx context.Context, pos *domain.Position) error
	// ClosedPositions retrieves closed positions for an instrument
	// (empty string matches all), oldest first.
	ClosedPositions(ctx context.Context, instrument string) ([]*domain.Position, error)
	// TotalRealised sums realized PnL over all stored closed positions.
	TotalRealised(ctx context.Context) (decimal.Decimal, error)
}

// SnapshotStore persists opaque engine state blobs for resuming a
// paper-trading session. Blobs are a same-process resume mechanism, not an
// interchange format.
type SnapshotStore interface {
	// SaveSnapshot upserts the blob for a session.
	SaveSnapshot(ctx context.Context, session uuid.UUID, data []byte) error
	// LoadSnapshot returns the blob for a session, or (nil, nil) when the
	// session has no stored state.
	LoadSnapshot(ctx context.Context, session uuid.UUID) ([]byte, error)
}
