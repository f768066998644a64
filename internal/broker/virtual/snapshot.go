package virtual

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"tradesim/internal/domain"
	"tradesim/internal/ports"
)

// SnapshotVersion is bumped whenever the snapshot layout changes in a way
// old blobs cannot satisfy.
const SnapshotVersion = 1

// Snapshot is an explicit, versioned copy of the whole engine state,
// decoupled from the live in-memory representation. It is a same-process
// resume mechanism for paper-trading sessions, not an interchange format.
type Snapshot struct {
	Version     int                         `json:"version"`
	SessionID   uuid.UUID                   `json:"session_id"`
	TakenAt     time.Time                   `json:"taken_at"`
	SimTime     time.Time                   `json:"sim_time"`
	Equity      decimal.Decimal             `json:"equity"`
	NextOrderID int64                       `json:"next_order_id"`
	NextTradeID int64                       `json:"next_trade_id"`
	Orders      []*domain.Order             `json:"orders"`
	Trades      []*domain.Trade             `json:"trades"`
	Positions   map[string]*domain.Position `json:"positions"`
	Closed      []*domain.Position          `json:"closed_positions"`
	LastPrices  map[string]decimal.Decimal  `json:"last_prices"`
}

// Snapshot captures the current engine state. Must only be called between
// update calls, never concurrently with one.
func (b *Broker) Snapshot(session uuid.UUID) *Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := &Snapshot{
		Version:     SnapshotVersion,
		SessionID:   session,
		TakenAt:     time.Now().UTC(),
		SimTime:     b.simTime,
		Equity:      b.equity,
		NextOrderID: b.nextOrderID,
		NextTradeID: b.nextTradeID,
		Positions:   make(map[string]*domain.Position, len(b.positions)),
		LastPrices:  make(map[string]decimal.Decimal, len(b.lastPrices)),
	}

	ids := make([]int64, 0, len(b.orders))
	for id := range b.orders {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		s.Orders = append(s.Orders, b.orders[id].Copy())
	}

	for _, id := range b.fillSeq {
		s.Trades = append(s.Trades, b.trades[id].Copy())
	}
	for key, pos := range b.positions {
		s.Positions[key] = pos.Copy()
	}
	for _, pos := range b.closed {
		s.Closed = append(s.Closed, pos.Copy())
	}
	for instrument, price := range b.lastPrices {
		s.LastPrices[instrument] = price
	}
	return s
}

// Restore replaces the engine state with a snapshot's. Candle caches are
// dropped and refetched lazily on the next update.
func (b *Broker) Restore(s *Snapshot) error {
	if s.Version != SnapshotVersion {
		return fmt.Errorf("%w: got version %d, want %d", ports.ErrSnapshotVersion, s.Version, SnapshotVersion)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.simTime = s.SimTime
	b.equity = s.Equity
	b.nextOrderID = s.NextOrderID
	b.nextTradeID = s.NextTradeID

	b.orders = make(map[int64]*domain.Order, len(s.Orders))
	b.byInstr = make(map[string][]int64)
	for _, o := range s.Orders {
		c := o.Copy()
		b.orders[c.ID] = c
		b.byInstr[c.Instrument] = append(b.byInstr[c.Instrument], c.ID)
	}

	b.trades = make(map[int64]*domain.Trade, len(s.Trades))
	b.fillSeq = b.fillSeq[:0]
	for _, t := range s.Trades {
		c := t.Copy()
		b.trades[c.ID] = c
		b.fillSeq = append(b.fillSeq, c.ID)
	}

	b.positions = make(map[string]*domain.Position, len(s.Positions))
	for key, pos := range s.Positions {
		b.positions[key] = pos.Copy()
	}
	b.closed = nil
	for _, pos := range s.Closed {
		b.closed = append(b.closed, pos.Copy())
	}

	b.lastPrices = make(map[string]decimal.Decimal, len(s.LastPrices))
	for instrument, price := range s.LastPrices {
		b.lastPrices[instrument] = price
	}
	b.candles = make(map[string][]*domain.Candle)
	b.liquidating = false
	return nil
}

// Encode serializes the snapshot for a ports.SnapshotStore.
func (s *Snapshot) Encode() ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return data, nil
}

// DecodeSnapshot parses a blob previously produced by Encode.
func DecodeSnapshot(data []byte) (*Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: %v", ports.ErrSnapshotCorrupted, err)
	}
	return &s, nil
}
