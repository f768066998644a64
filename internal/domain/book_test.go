package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func requireDec(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.True(t, got.Equal(dec(want)), "want %s, got %s", want, got)
}

func TestSyntheticBook(t *testing.T) {
	book := NewSyntheticBook("ETHUSDT", dec("100"), dec("2"))
	requireDec(t, "99", book.BestBid())
	requireDec(t, "101", book.BestAsk())
	requireDec(t, "100", book.Mid())

	pct := NewSyntheticBookPct("ETHUSDT", dec("100"), dec("0.01"))
	requireDec(t, "99.5", pct.BestBid())
	requireDec(t, "100.5", pct.BestAsk())
}

func TestAveragePriceWalksLevels(t *testing.T) {
	book := &OrderBook{
		Instrument: "ETHUSDT",
		Bids: []Level{
			{Price: dec("99"), Size: dec("5")},
			{Price: dec("98"), Size: dec("10")},
		},
		Asks: []Level{
			{Price: dec("101"), Size: dec("5")},
			{Price: dec("102"), Size: dec("10")},
		},
	}

	buy, err := book.AveragePrice(Long, dec("10"))
	require.NoError(t, err)
	requireDec(t, "101.5", buy)

	sell, err := book.AveragePrice(Short, dec("10"))
	require.NoError(t, err)
	requireDec(t, "98.5", sell)

	top, err := book.AveragePrice(Long, dec("5"))
	require.NoError(t, err)
	requireDec(t, "101", top)
}

func TestAveragePriceErrors(t *testing.T) {
	book := NewSyntheticBook("ETHUSDT", dec("100"), dec("0"))

	_, err := book.AveragePrice(Long, dec("0"))
	require.Error(t, err)

	thin := &OrderBook{Asks: []Level{{Price: dec("101"), Size: dec("1")}}}
	_, err = thin.AveragePrice(Long, dec("2"))
	require.ErrorIs(t, err, ErrInsufficientLiquidity)
}

func TestOrderBookCopyIsDeep(t *testing.T) {
	book := NewSyntheticBook("ETHUSDT", dec("100"), dec("2"))
	clone := book.Copy()
	clone.Bids[0].Price = dec("1")
	requireDec(t, "99", book.BestBid())
}
