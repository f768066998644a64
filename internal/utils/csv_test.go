package utils

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"tradesim/internal/domain"
)

func TestCandleCSVRoundTrip(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	candles := []*domain.Candle{
		{
			OpenTime: start, CloseTime: start.Add(time.Hour),
			Instrument: "ETHUSDT", Granularity: "1h",
			Open: decimal.RequireFromString("2250.5"), High: decimal.RequireFromString("2260"),
			Low: decimal.RequireFromString("2240.25"), Close: decimal.RequireFromString("2255"),
			Volume: decimal.RequireFromString("1234.5678"),
		},
		{
			OpenTime: start.Add(time.Hour), CloseTime: start.Add(2 * time.Hour),
			Instrument: "ETHUSDT", Granularity: "1h",
			Open: decimal.RequireFromString("2255"), High: decimal.RequireFromString("2270"),
			Low: decimal.RequireFromString("2250"), Close: decimal.RequireFromString("2268.75"),
			Volume: decimal.RequireFromString("987"),
		},
	}

	filename := filepath.Join(t.TempDir(), "candles.csv")
	require.NoError(t, WriteCandlesToCSV(candles, filename))

	loaded, err := ReadCandlesFromCSV(filename)
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	for i, c := range loaded {
		require.True(t, c.OpenTime.Equal(candles[i].OpenTime))
		require.True(t, c.CloseTime.Equal(candles[i].CloseTime))
		require.Equal(t, candles[i].Instrument, c.Instrument)
		require.Equal(t, candles[i].Granularity, c.Granularity)
		require.True(t, c.Open.Equal(candles[i].Open))
		require.True(t, c.High.Equal(candles[i].High))
		require.True(t, c.Low.Equal(candles[i].Low))
		require.True(t, c.Close.Equal(candles[i].Close))
		require.True(t, c.Volume.Equal(candles[i].Volume))
	}
}

func TestReadCandlesFromCSVErrors(t *testing.T) {
	_, err := ReadCandlesFromCSV(filepath.Join(t.TempDir(), "missing.csv"))
	require.Error(t, err)

	empty := filepath.Join(t.TempDir(), "empty.csv")
	require.NoError(t, os.WriteFile(empty, nil, 0644))
	_, err = ReadCandlesFromCSV(empty)
	require.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.csv")
	require.NoError(t, os.WriteFile(bad, []byte("open_time,close_time\nx,y\n"), 0644))
	_, err = ReadCandlesFromCSV(bad)
	require.Error(t, err)
}
