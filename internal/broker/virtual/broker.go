// Package virtual implements an exchange emulator for backtesting and
// paper trading: order acceptance and lifecycle, book-traversal fills,
// position and PnL accounting, margin computation and forced liquidation,
// and commission/slippage policy. It is driven one step at a time by an
// external data collaborator and performs no internal parallelism.
package virtual

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"tradesim/internal/domain"
	"tradesim/internal/ports"
)

// flatTolerance is the net size below which a position counts as closed.
var flatTolerance = decimal.New(1, -9)

// Config holds the account and simulation parameters of the engine.
type Config struct {
	InitialBalance decimal.Decimal
	Leverage       int64
	// MarginCloseout is the margin_available/NAV fraction below which all
	// positions are force-liquidated. Only active when Leverage > 1.
	MarginCloseout decimal.Decimal
	// Hedging permits simultaneous long and short positions per instrument.
	// When disabled (the default) fills net against the existing position.
	Hedging    bool
	Commission CommissionSchedule
	// Spread is the absolute bid/ask spread of the emulated book. SpreadPct,
	// when positive, takes precedence and is a fraction of mid.
	Spread    decimal.Decimal
	SpreadPct decimal.Decimal
	// Slippage perturbs walked-book fill prices during backtests. Never
	// applied in paper mode, where execution prices are real.
	Slippage SlippageModel
	// Paper switches the engine to live-replay semantics: fills use the
	// provider's order book and limit orders match public trade prints.
	Paper bool
	// Granularity of the candle series requested from the data provider.
	Granularity string

	Logger ports.Logger
	Data   ports.DataProvider
}

// Broker is the virtual broker. It implements ports.Broker.
//
// All state mutation happens synchronously inside one Update call. The
// mutex exists only because independent callers may drive different
// instruments; the account aggregates (equity, NAV, margin) are shared
// across all of them.
type Broker struct {
	cfg  Config
	log  ports.Logger
	data ports.DataProvider

	mu sync.Mutex

	// Single arena of orders keyed by id, with a per-instrument index in
	// id order. Status transitions are field mutations, not bucket moves.
	orders  map[int64]*domain.Order
	byInstr map[string][]int64

	trades  map[int64]*domain.Trade
	fillSeq []int64 // trade ids in execution order

	// positions are keyed by instrument, or instrument+"/long|short" in
	// hedge mode.
	positions map[string]*domain.Position
	closed    []*domain.Position

	equity     decimal.Decimal
	lastPrices map[string]decimal.Decimal
	simTime    time.Time

	candles map[string][]*domain.Candle

	nextOrderID int64
	nextTradeID int64

	// liquidating guards against recursive margin calls while liquidation
	// fills are themselves being processed.
	liquidating bool
}

// NewBroker validates cfg and returns a broker with a fresh account.
func NewBroker(cfg Config) (*Broker, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("%w: logger is required", ports.ErrConfigurationError)
	}
	if cfg.Data == nil {
		return nil, fmt.Errorf("%w: data provider is required", ports.ErrConfigurationError)
	}
	if cfg.InitialBalance.IsNegative() {
		return nil, fmt.Errorf("%w: initial balance cannot be negative", ports.ErrConfigurationError)
	}
	if cfg.Leverage < 1 {
		return nil, fmt.Errorf("%w: leverage must be at least 1", ports.ErrConfigurationError)
	}
	if cfg.MarginCloseout.IsNegative() || cfg.MarginCloseout.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return nil, fmt.Errorf("%w: margin closeout fraction must be in [0, 1)", ports.ErrConfigurationError)
	}
	if cfg.Spread.IsNegative() || cfg.SpreadPct.IsNegative() {
		return nil, fmt.Errorf("%w: spread cannot be negative", ports.ErrConfigurationError)
	}
	if err := cfg.Commission.Validate(); err != nil {
		return nil, err
	}
	if cfg.Granularity == "" {
		cfg.Granularity = "1m"
	}

	return &Broker{
		cfg:         cfg,
		log:         cfg.Logger,
		data:        cfg.Data,
		orders:      make(map[int64]*domain.Order),
		byInstr:     make(map[string][]int64),
		trades:      make(map[int64]*domain.Trade),
		positions:   make(map[string]*domain.Position),
		equity:      cfg.InitialBalance,
		lastPrices:  make(map[string]decimal.Decimal),
		candles:     make(map[string][]*domain.Candle),
		nextOrderID: 1,
		nextTradeID: 1,
	}, nil
}

// --- account scalars ---

// Balance returns realized equity, excluding floating PnL.
func (b *Broker) Balance() decimal.Decimal {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.equity
}

// NAV returns equity plus floating PnL.
func (b *Broker) NAV() decimal.Decimal {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.nav()
}

// FloatingPNL returns the sum of unrealized PnL over open positions.
func (b *Broker) FloatingPNL() decimal.Decimal {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.floatingPNL()
}

// MarginUsed returns the sum of position notionals divided by leverage.
func (b *Broker) MarginUsed() decimal.Decimal {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.marginUsed()
}

// MarginAvailable returns NAV minus margin used.
func (b *Broker) MarginAvailable() decimal.Decimal {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.marginAvailable()
}

// LastPrice returns the last mark price seen for an instrument, or zero.
func (b *Broker) LastPrice(instrument string) decimal.Decimal {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastPrices[instrument]
}

func (b *Broker) floatingPNL() decimal.Decimal {
	total := decimal.Zero
	for _, pos := range b.positions {
		total = total.Add(pos.UnrealisedPNL())
	}
	return total
}

func (b *Broker) nav() decimal.Decimal {
	return b.equity.Add(b.floatingPNL())
}

func (b *Broker) marginUsed() decimal.Decimal {
	lev := decimal.NewFromInt(b.cfg.Leverage)
	total := decimal.Zero
	for _, pos := range b.positions {
		total = total.Add(pos.Notional().Div(lev))
	}
	return total
}

func (b *Broker) marginAvailable() decimal.Decimal {
	return b.nav().Sub(b.marginUsed())
}

// simulatePostFill computes NAV and margin used as they would stand right
// after a fill of size at price hit the given position bucket, with that
// bucket marked at the fill price. Fees are ignored. Mirrors the ledger
// arithmetic in applyFill without mutating anything.
func (b *Broker) simulatePostFill(key string, dir domain.Direction, size, price decimal.Decimal) (nav, used decimal.Decimal) {
	lev := decimal.NewFromInt(b.cfg.Leverage)
	equity := b.equity
	floating := decimal.Zero
	used = decimal.Zero
	signed := size.Mul(dir.Decimal())

	seen := false
	for k, pos := range b.positions {
		net, avg, mark := pos.NetSize, pos.AvgPrice, pos.LastPrice
		if k == key {
			seen = true
			mark = price
			newNet := net.Add(signed)
			switch {
			case net.Sign() == signed.Sign():
				notional := avg.Mul(net.Abs()).Add(price.Mul(size))
				avg = notional.Div(newNet.Abs())
			case newNet.Sign() == net.Sign() || newNet.IsZero():
				equity = equity.Add(size.Mul(price.Sub(avg)).Mul(pos.Direction().Decimal()))
			default:
				equity = equity.Add(net.Abs().Mul(price.Sub(avg)).Mul(pos.Direction().Decimal()))
				avg = price
			}
			net = newNet
		}
		floating = floating.Add(net.Mul(mark.Sub(avg)))
		used = used.Add(net.Abs().Mul(mark).Div(lev))
	}
	if !seen {
		used = used.Add(size.Mul(price).Div(lev))
	}
	return equity.Add(floating), used
}

// --- snapshot reads ---

// Orders returns a defensive copy of one status bucket, optionally
// filtered by instrument.
func (b *Broker) Orders(instrument string, status domain.OrderStatus) map[int64]*domain.Order {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[int64]*domain.Order)
	for id, o := range b.orders {
		if o.Status != status {
			continue
		}
		if instrument != "" && o.Instrument != instrument {
			continue
		}
		out[id] = o.Copy()
	}
	return out
}

// Order returns a copy of a single order by id.
func (b *Broker) Order(id int64) (*domain.Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	o, ok := b.orders[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ports.ErrOrderNotFound, id)
	}
	return o.Copy(), nil
}

// Trades returns the full fill history, optionally filtered by instrument.
func (b *Broker) Trades(instrument string) map[int64]*domain.Trade {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[int64]*domain.Trade)
	for id, t := range b.trades {
		if instrument != "" && t.Instrument != instrument {
			continue
		}
		out[id] = t.Copy()
	}
	return out
}

// Positions returns currently open positions. Keys are instruments, with a
// "/long" or "/short" suffix in hedge mode.
func (b *Broker) Positions(instrument string) map[string]*domain.Position {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]*domain.Position)
	for key, pos := range b.positions {
		if instrument != "" && pos.Instrument != instrument {
			continue
		}
		out[key] = pos.Copy()
	}
	return out
}

// ClosedPositions returns the exit history in close order, optionally
// filtered by instrument.
func (b *Broker) ClosedPositions(instrument string) []*domain.Position {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []*domain.Position
	for _, pos := range b.closed {
		if instrument != "" && pos.Instrument != instrument {
			continue
		}
		out = append(out, pos.Copy())
	}
	return out
}

// --- ledger ---

// positionKey routes a fill to its position bucket. In hedge mode a
// reduce-only trade works against the opposite side's book.
func (b *Broker) positionKey(instrument string, dir domain.Direction, reduceOnly bool) string {
	if !b.cfg.Hedging {
		return instrument
	}
	side := dir
	if reduceOnly {
		side = dir.Opposite()
	}
	return instrument + "/" + side.String()
}

// applyFill updates the position bucket for a trade and credits realized
// PnL to equity. The average entry price only changes when the position
// grows or flips sign.
func (b *Broker) applyFill(ctx context.Context, t *domain.Trade, key string) {
	signed := t.Size.Mul(t.Direction.Decimal())
	pos, ok := b.positions[key]
	if !ok {
		b.positions[key] = &domain.Position{
			Instrument: t.Instrument,
			NetSize:    signed,
			AvgPrice:   t.Price,
			LastPrice:  t.Price,
			LastTime:   t.Time,
			EntryTime:  t.Time,
		}
		return
	}

	newNet := pos.NetSize.Add(signed)
	switch {
	case pos.NetSize.Sign() == signed.Sign():
		// Increase: blend the average price by size.
		notional := pos.AvgPrice.Mul(pos.NetSize.Abs()).Add(t.Price.Mul(t.Size))
		pos.AvgPrice = notional.Div(newNet.Abs())
		pos.NetSize = newNet

	case newNet.Sign() == pos.NetSize.Sign() || newNet.IsZero():
		// Reduce: realize PnL on the closed units, average price unchanged.
		realized := t.Size.Mul(t.Price.Sub(pos.AvgPrice)).Mul(pos.Direction().Decimal())
		b.equity = b.equity.Add(realized)
		pos.Realised = pos.Realised.Add(realized)
		pos.NetSize = newNet

	default:
		// Flip through zero: realize PnL on the prior side only, then the
		// residual opens at the fill price.
		closedUnits := pos.NetSize.Abs()
		realized := closedUnits.Mul(t.Price.Sub(pos.AvgPrice)).Mul(pos.Direction().Decimal())
		b.equity = b.equity.Add(realized)
		pos.Realised = pos.Realised.Add(realized)
		pos.NetSize = newNet
		pos.AvgPrice = t.Price
		pos.EntryTime = t.Time
	}

	pos.LastPrice = t.Price
	pos.LastTime = t.Time

	if pos.NetSize.Abs().LessThan(flatTolerance) {
		pos.NetSize = decimal.Zero
		pos.ExitPrice = t.Price
		pos.ExitTime = t.Time
		b.closed = append(b.closed, pos)
		delete(b.positions, key)
		b.log.Info(ctx, "position closed", map[string]interface{}{
			"instrument": t.Instrument,
			"exit_price": t.Price.String(),
			"equity":     b.equity.String(),
		})
	}
}

// markToMarket refreshes the mark price of every position bucket of an
// instrument.
func (b *Broker) markToMarket(instrument string, price decimal.Decimal, now time.Time) {
	for _, pos := range b.positions {
		if pos.Instrument == instrument {
			pos.LastPrice = price
			pos.LastTime = now
		}
	}
}

// --- margin call ---

// checkMarginCall force-liquidates every open position when available
// margin as a fraction of NAV drops below the configured closeout level.
func (b *Broker) checkMarginCall(ctx context.Context, now time.Time) {
	if b.cfg.Leverage <= 1 || b.liquidating || len(b.positions) == 0 {
		return
	}
	nav := b.nav()
	if nav.IsPositive() {
		ratio := b.marginAvailable().Div(nav)
		if ratio.GreaterThanOrEqual(b.cfg.MarginCloseout) {
			return
		}
		b.log.Warn(ctx, "margin closeout breached, liquidating all positions", map[string]interface{}{
			"margin_ratio": ratio.String(),
			"closeout":     b.cfg.MarginCloseout.String(),
			"nav":          nav.String(),
		})
	} else {
		b.log.Warn(ctx, "account NAV exhausted, liquidating all positions", map[string]interface{}{
			"nav": nav.String(),
		})
	}
	b.liquidate(ctx, now)
}

// liquidate closes every position through synthetic opposite-direction
// market orders. The re-entrancy guard is released on every exit path so a
// partially failed liquidation cannot deadlock future updates.
func (b *Broker) liquidate(ctx context.Context, now time.Time) {
	b.liquidating = true
	defer func() { b.liquidating = false }()

	keys := make([]string, 0, len(b.positions))
	for key := range b.positions {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		pos, ok := b.positions[key]
		if !ok {
			continue
		}
		size := pos.NetSize.Abs()
		dir := pos.Direction().Opposite()
		book := b.syntheticBook(pos.Instrument, pos.LastPrice)
		price, err := b.marketFillPrice(book, dir, size)
		if err != nil {
			b.log.Error(ctx, err, "liquidation fill failed, position left open", map[string]interface{}{
				"instrument": pos.Instrument,
			})
			continue
		}

		o := &domain.Order{
			Instrument: pos.Instrument,
			Direction:  dir,
			Size:       size,
			Type:       domain.OrderTypeMarket,
			ReduceOnly: true,
			Status:     domain.StatusOpen,
			SubmitTime: now,
		}
		o.ID = b.allocateOrderID()
		b.orders[o.ID] = o
		b.byInstr[o.Instrument] = append(b.byInstr[o.Instrument], o.ID)

		b.fillOrder(ctx, o, price, now, false)
		b.log.Warn(ctx, "position liquidated by margin call", map[string]interface{}{
			"instrument": pos.Instrument,
			"order_id":   o.ID,
			"price":      price.String(),
			"equity":     b.equity.String(),
		})
	}
}

func (b *Broker) allocateOrderID() int64 {
	id := b.nextOrderID
	b.nextOrderID++
	return id
}

func (b *Broker) allocateTradeID() int64 {
	id := b.nextTradeID
	b.nextTradeID++
	return id
}

// activeOrderIDs returns ids of non-terminal orders for an instrument in
// ascending id order, so matching is deterministic.
func (b *Broker) activeOrderIDs(instrument string) []int64 {
	ids := b.byInstr[instrument]
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if o, ok := b.orders[id]; ok && !o.Status.Terminal() {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
