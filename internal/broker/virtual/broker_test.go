package virtual

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradesim/internal/domain"
	"tradesim/internal/ports"
	"tradesim/internal/replay"
)

const testInstrument = "BTCUSDT"

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type nopLogger struct{}

func (nopLogger) Debug(context.Context, string, ...map[string]interface{})        {}
func (nopLogger) Info(context.Context, string, ...map[string]interface{})         {}
func (nopLogger) Warn(context.Context, string, ...map[string]interface{})         {}
func (nopLogger) Error(context.Context, error, string, ...map[string]interface{}) {}

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// bar builds the i-th hourly candle of the test session.
func bar(i int, open, high, low, close string) *domain.Candle {
	start := t0.Add(time.Duration(i) * time.Hour)
	return &domain.Candle{
		OpenTime:    start,
		CloseTime:   start.Add(time.Hour),
		Instrument:  testInstrument,
		Granularity: "1h",
		Open:        d(open),
		High:        d(high),
		Low:         d(low),
		Close:       d(close),
		Volume:      d("1"),
	}
}

func flat(i int, price string) *domain.Candle {
	return bar(i, price, price, price, price)
}

func newTestBroker(t *testing.T, cfg Config, candles []*domain.Candle) *Broker {
	t.Helper()
	if cfg.Logger == nil {
		cfg.Logger = nopLogger{}
	}
	if cfg.Data == nil {
		cfg.Data = replay.NewSeriesProvider(testInstrument, candles)
	}
	if cfg.InitialBalance.IsZero() {
		cfg.InitialBalance = d("1000")
	}
	if cfg.Leverage == 0 {
		cfg.Leverage = 1
	}
	if cfg.Granularity == "" {
		cfg.Granularity = "1h"
	}
	b, err := NewBroker(cfg)
	require.NoError(t, err)
	return b
}

func place(t *testing.T, b *Broker, o *domain.Order) *domain.Order {
	t.Helper()
	require.NoError(t, b.PlaceOrder(context.Background(), o))
	return o
}

func step(t *testing.T, b *Broker, c *domain.Candle) {
	t.Helper()
	require.NoError(t, b.Update(context.Background(), testInstrument, c.CloseTime, nil))
}

func marketOrder(dir domain.Direction, size string) *domain.Order {
	return &domain.Order{
		Instrument: testInstrument,
		Direction:  dir,
		Size:       d(size),
		Type:       domain.OrderTypeMarket,
	}
}

func eqDec(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.True(t, got.Equal(d(want)), "want %s, got %s", want, got)
}

func onlyPosition(t *testing.T, b *Broker) *domain.Position {
	t.Helper()
	positions := b.Positions(testInstrument)
	require.Len(t, positions, 1)
	for _, pos := range positions {
		return pos
	}
	return nil
}

func TestMarketBuyOpensPosition(t *testing.T) {
	b := newTestBroker(t, Config{}, []*domain.Candle{flat(0, "100")})

	o := place(t, b, marketOrder(domain.Long, "10"))
	step(t, b, flat(0, "100"))

	require.Equal(t, domain.StatusFilled, o.Status)
	eqDec(t, "100", o.FillPrice)

	trades := b.Trades(testInstrument)
	require.Len(t, trades, 1)
	for _, tr := range trades {
		eqDec(t, "100", tr.Price)
		eqDec(t, "10", tr.Size)
		assert.False(t, tr.Maker)
	}

	pos := onlyPosition(t, b)
	eqDec(t, "10", pos.NetSize)
	eqDec(t, "100", pos.AvgPrice)
	require.Equal(t, domain.Long, pos.Direction())

	eqDec(t, "1000", b.Balance())
	eqDec(t, "1000", b.NAV())
	eqDec(t, "1000", b.MarginUsed())
	eqDec(t, "0", b.MarginAvailable())
}

// A sell that nets down an existing long must succeed even with zero
// available margin, since it frees margin instead of consuming it.
func TestMarketSellClosesPositionAndRealizesPNL(t *testing.T) {
	bars := []*domain.Candle{flat(0, "100"), flat(1, "110")}
	b := newTestBroker(t, Config{}, bars)

	place(t, b, marketOrder(domain.Long, "10"))
	step(t, b, bars[0])
	eqDec(t, "0", b.MarginAvailable())

	sell := place(t, b, marketOrder(domain.Short, "10"))
	step(t, b, bars[1])

	require.Equal(t, domain.StatusFilled, sell.Status)
	eqDec(t, "110", sell.FillPrice)
	eqDec(t, "1100", b.Balance())
	eqDec(t, "1100", b.NAV())
	eqDec(t, "0", b.MarginUsed())
	require.Empty(t, b.Positions(testInstrument))

	closed := b.ClosedPositions(testInstrument)
	require.Len(t, closed, 1)
	eqDec(t, "0", closed[0].NetSize)
	eqDec(t, "100", closed[0].AvgPrice)
	eqDec(t, "110", closed[0].ExitPrice)
	eqDec(t, "100", closed[0].Realised)
}

func TestMarketOrderRejectedOnInsufficientMargin(t *testing.T) {
	b := newTestBroker(t, Config{}, []*domain.Candle{flat(0, "100")})

	o := place(t, b, marketOrder(domain.Long, "20"))
	step(t, b, flat(0, "100"))

	require.Equal(t, domain.StatusCancelled, o.Status)
	assert.Contains(t, o.Reason, "insufficient margin")
	require.Empty(t, b.Trades(testInstrument))
	require.Empty(t, b.Positions(testInstrument))
	eqDec(t, "1000", b.Balance())
}

func TestPartialReduceKeepsAveragePrice(t *testing.T) {
	bars := []*domain.Candle{flat(0, "100"), flat(1, "102")}
	b := newTestBroker(t, Config{}, bars)

	place(t, b, marketOrder(domain.Long, "10"))
	step(t, b, bars[0])
	place(t, b, marketOrder(domain.Short, "4"))
	step(t, b, bars[1])

	pos := onlyPosition(t, b)
	eqDec(t, "6", pos.NetSize)
	eqDec(t, "100", pos.AvgPrice)
	eqDec(t, "8", pos.Realised)
	eqDec(t, "1008", b.Balance())
}

func TestFlipThroughZeroResetsEntry(t *testing.T) {
	bars := []*domain.Candle{flat(0, "100"), flat(1, "102")}
	b := newTestBroker(t, Config{}, bars)

	place(t, b, marketOrder(domain.Long, "10"))
	step(t, b, bars[0])
	place(t, b, marketOrder(domain.Short, "15"))
	step(t, b, bars[1])

	// Realized on the closed 10 units only; the residual 5 opens short at
	// the fill price.
	eqDec(t, "1020", b.Balance())
	pos := onlyPosition(t, b)
	eqDec(t, "-5", pos.NetSize)
	eqDec(t, "102", pos.AvgPrice)
	require.Equal(t, domain.Short, pos.Direction())
	require.Equal(t, bars[1].CloseTime, pos.EntryTime)
}

func TestLedgerReconciliation(t *testing.T) {
	bars := []*domain.Candle{flat(0, "100"), flat(1, "102"), flat(2, "101"), flat(3, "103")}
	b := newTestBroker(t, Config{}, bars)

	checkLedger := func() {
		t.Helper()
		require.True(t, b.NAV().Equal(b.Balance().Add(b.FloatingPNL())),
			"nav %s != balance %s + floating %s", b.NAV(), b.Balance(), b.FloatingPNL())
		net := decimal.Zero
		for _, tr := range b.Trades(testInstrument) {
			net = net.Add(tr.Size.Mul(tr.Direction.Decimal()))
		}
		open := decimal.Zero
		for _, pos := range b.Positions(testInstrument) {
			open = open.Add(pos.NetSize)
		}
		require.True(t, net.Equal(open), "signed fills %s, open net %s", net, open)
	}

	place(t, b, marketOrder(domain.Long, "10"))
	step(t, b, bars[0])
	checkLedger()

	place(t, b, marketOrder(domain.Short, "4"))
	step(t, b, bars[1])
	checkLedger()

	place(t, b, marketOrder(domain.Short, "15"))
	step(t, b, bars[2])
	checkLedger()

	place(t, b, marketOrder(domain.Long, "9"))
	step(t, b, bars[3])
	checkLedger()
	require.Empty(t, b.Positions(testInstrument))
}

func TestForcedLiquidationOnMarginCloseout(t *testing.T) {
	bars := []*domain.Candle{flat(0, "100"), flat(1, "85"), flat(2, "85")}
	b := newTestBroker(t, Config{
		Leverage:       10,
		MarginCloseout: d("0.5"),
	}, bars)

	place(t, b, marketOrder(domain.Long, "50"))
	step(t, b, bars[0])

	// At the entry bar the margin ratio sits exactly on the closeout level
	// and the position survives.
	require.Len(t, b.Positions(testInstrument), 1)
	eqDec(t, "500", b.MarginAvailable())

	step(t, b, bars[1])

	require.Empty(t, b.Positions(testInstrument))
	eqDec(t, "250", b.Balance())
	eqDec(t, "250", b.NAV())

	trades := b.Trades(testInstrument)
	require.Len(t, trades, 2)

	closed := b.ClosedPositions(testInstrument)
	require.Len(t, closed, 1)
	eqDec(t, "85", closed[0].ExitPrice)
	eqDec(t, "-750", closed[0].Realised)

	// The liquidation guard is released: the account trades normally on the
	// next step.
	after := place(t, b, marketOrder(domain.Long, "10"))
	step(t, b, bars[2])
	require.Equal(t, domain.StatusFilled, after.Status)
	eqDec(t, "85", after.FillPrice)
}

func TestHedgingKeepsSeparateSides(t *testing.T) {
	bars := []*domain.Candle{flat(0, "100"), flat(1, "100"), flat(2, "100")}
	b := newTestBroker(t, Config{Hedging: true}, bars)

	place(t, b, marketOrder(domain.Long, "4"))
	step(t, b, bars[0])
	place(t, b, marketOrder(domain.Short, "2"))
	step(t, b, bars[1])

	positions := b.Positions(testInstrument)
	require.Len(t, positions, 2)
	eqDec(t, "4", positions[testInstrument+"/long"].NetSize)
	eqDec(t, "-2", positions[testInstrument+"/short"].NetSize)
	eqDec(t, "600", b.MarginUsed())

	// A reduce order works against the side opposite its own direction.
	place(t, b, &domain.Order{
		Instrument: testInstrument,
		Direction:  domain.Short,
		Size:       d("1"),
		Type:       domain.OrderTypeReduce,
	})
	step(t, b, bars[2])

	positions = b.Positions(testInstrument)
	require.Len(t, positions, 2)
	eqDec(t, "3", positions[testInstrument+"/long"].NetSize)
	eqDec(t, "-2", positions[testInstrument+"/short"].NetSize)
}

func TestReduceOrderWithNoPositionCancelled(t *testing.T) {
	b := newTestBroker(t, Config{}, []*domain.Candle{flat(0, "100")})

	o := place(t, b, &domain.Order{
		Instrument: testInstrument,
		Direction:  domain.Short,
		Size:       d("5"),
		Type:       domain.OrderTypeReduce,
	})
	step(t, b, flat(0, "100"))

	require.Equal(t, domain.StatusCancelled, o.Status)
	assert.Contains(t, o.Reason, "no position to reduce")
	require.Empty(t, b.Trades(testInstrument))
}

func TestGettersReturnDefensiveCopies(t *testing.T) {
	b := newTestBroker(t, Config{}, []*domain.Candle{flat(0, "100")})
	place(t, b, marketOrder(domain.Long, "10"))
	step(t, b, flat(0, "100"))

	for _, pos := range b.Positions(testInstrument) {
		pos.NetSize = d("999")
	}
	eqDec(t, "10", onlyPosition(t, b).NetSize)

	for _, o := range b.Orders(testInstrument, domain.StatusFilled) {
		o.Size = d("999")
		o.Status = domain.StatusCancelled
	}
	require.Len(t, b.Orders(testInstrument, domain.StatusFilled), 1)

	for _, tr := range b.Trades(testInstrument) {
		tr.Price = d("999")
	}
	for _, tr := range b.Trades(testInstrument) {
		eqDec(t, "100", tr.Price)
	}
}

func TestUpdateWithoutMarketDataSkipsStep(t *testing.T) {
	b := newTestBroker(t, Config{}, nil)
	place(t, b, marketOrder(domain.Long, "10"))

	require.NoError(t, b.Update(context.Background(), testInstrument, t0.Add(time.Hour), nil))
	require.Empty(t, b.Trades(testInstrument))
}

func TestNewBrokerValidation(t *testing.T) {
	base := func() Config {
		return Config{
			InitialBalance: d("1000"),
			Leverage:       1,
			Logger:         nopLogger{},
			Data:           replay.NewSeriesProvider(testInstrument, nil),
		}
	}

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"nil logger", func(c *Config) { c.Logger = nil }},
		{"nil data provider", func(c *Config) { c.Data = nil }},
		{"negative balance", func(c *Config) { c.InitialBalance = d("-1") }},
		{"zero leverage", func(c *Config) { c.Leverage = 0 }},
		{"closeout of one", func(c *Config) { c.MarginCloseout = d("1") }},
		{"negative spread", func(c *Config) { c.Spread = d("-1") }},
		{"unknown commission scheme", func(c *Config) { c.Commission.Scheme = "tiered" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base()
			tc.mutate(&cfg)
			_, err := NewBroker(cfg)
			require.ErrorIs(t, err, ports.ErrConfigurationError)
		})
	}

	_, err := NewBroker(base())
	require.NoError(t, err)
}
