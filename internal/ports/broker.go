package ports

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"tradesim/internal/domain"
)

// Broker is the contract exposed by broker implementations (the virtual
// simulation engine, or real exchange adapters). All read methods return
// defensive copies; mutating a returned value never changes broker state.
type Broker interface {
	// PlaceOrder accepts an order, assigns it an id, and either stores it
	// as pending or synchronously cancels it with a reason when invalid.
	// An error is returned only for contract violations (unknown type).
	PlaceOrder(ctx context.Context, order *domain.Order) error

	// Orders returns a snapshot of one status bucket, optionally filtered
	// by instrument (empty string matches all).
	Orders(instrument string, status domain.OrderStatus) map[int64]*domain.Order

	// Order returns a copy of a single order by id, for callers tracking a
	// specific submission or its spawned children. Unknown ids return
	// ErrOrderNotFound.
	Order(id int64) (*domain.Order, error)

	// CancelOrder cancels a pending or open order and cascades to its OCO
	// siblings. Unknown or terminal ids fail silently.
	CancelOrder(ctx context.Context, id int64, reason string)

	// Trades returns the full fill history, optionally filtered.
	Trades(instrument string) map[int64]*domain.Trade

	// Positions returns the currently open positions keyed by instrument
	// (in hedge mode, by instrument plus side suffix).
	Positions(instrument string) map[string]*domain.Position

	// ClosedPositions returns the exit history, oldest first.
	ClosedPositions(instrument string) []*domain.Position

	// NAV is equity plus floating PnL; Balance is realized equity only.
	NAV() decimal.Decimal
	Balance() decimal.Decimal
	MarginAvailable() decimal.Decimal

	// Update advances the simulation by one step for one instrument: it
	// promotes and matches orders against the latest bar (or the given
	// public trade print during paper trading), updates positions and
	// margin, and runs forced liquidation on a margin breach.
	Update(ctx context.Context, instrument string, now time.Time, print *domain.PublicTrade) error
}
