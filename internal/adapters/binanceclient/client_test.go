package binanceclient

import (
	"context"
	"testing"
	"time"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradesim/internal/ports"
)

type mockLogger struct{}

func (mockLogger) Debug(context.Context, string, ...map[string]interface{})        {}
func (mockLogger) Info(context.Context, string, ...map[string]interface{})         {}
func (mockLogger) Warn(context.Context, string, ...map[string]interface{})         {}
func (mockLogger) Error(context.Context, error, string, ...map[string]interface{}) {}

func TestNewRequiresLogger(t *testing.T) {
	_, err := New(Config{})
	require.ErrorIs(t, err, ports.ErrConfigurationError)
}

func TestNewSelectsBaseURL(t *testing.T) {
	c, err := New(Config{UseTestnet: true, Logger: mockLogger{}})
	require.NoError(t, err)
	assert.Equal(t, baseURLTestnet, c.futuresClient.BaseURL)

	c, err = New(Config{Logger: mockLogger{}})
	require.NoError(t, err)
	assert.Equal(t, baseURLProduction, c.futuresClient.BaseURL)
}

func TestHandleErrorMapsAPICodes(t *testing.T) {
	c, err := New(Config{Logger: mockLogger{}})
	require.NoError(t, err)
	ctx := context.Background()

	cases := []struct {
		code int64
		want error
	}{
		{-1003, ports.ErrRateLimited},
		{-1021, ports.ErrTimeout},
		{-1022, ports.ErrAuthenticationFailed},
		{-2014, ports.ErrAuthenticationFailed},
		{-2015, ports.ErrAuthenticationFailed},
		{-9999, ports.ErrFeedUnavailable},
	}
	for _, tc := range cases {
		got := c.handleError(ctx, &common.APIError{Code: tc.code, Message: "x"}, "op")
		assert.ErrorIs(t, got, tc.want, "code %d", tc.code)
	}

	require.NoError(t, c.handleError(ctx, nil, "op"))
	assert.ErrorIs(t, c.handleError(ctx, context.DeadlineExceeded, "op"), ports.ErrTimeout)
}

func TestTranslateKline(t *testing.T) {
	open := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	kline := &futures.Kline{
		OpenTime:  open.UnixMilli(),
		CloseTime: open.Add(time.Hour).UnixMilli(),
		Open:      "2250.50",
		High:      "2260.00",
		Low:       "2240.25",
		Close:     "2255.00",
		Volume:    "1234.5678",
	}

	c, err := translateKline(kline, "ETHUSDT", "1h")
	require.NoError(t, err)
	assert.Equal(t, "ETHUSDT", c.Instrument)
	assert.Equal(t, "1h", c.Granularity)
	assert.True(t, c.OpenTime.Equal(open))
	assert.True(t, c.Open.Equal(decimal.RequireFromString("2250.5")))
	assert.True(t, c.Volume.Equal(decimal.RequireFromString("1234.5678")))

	kline.High = "not-a-price"
	_, err = translateKline(kline, "ETHUSDT", "1h")
	require.Error(t, err)
}

func TestTranslateLevel(t *testing.T) {
	lvl, err := translateLevel("100.5", "3")
	require.NoError(t, err)
	assert.True(t, lvl.Price.Equal(decimal.RequireFromString("100.5")))
	assert.True(t, lvl.Size.Equal(decimal.RequireFromString("3")))

	_, err = translateLevel("x", "3")
	require.Error(t, err)
	_, err = translateLevel("100", "y")
	require.Error(t, err)
}
