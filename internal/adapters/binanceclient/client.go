// Package binanceclient adapts Binance futures market data to the
// ports.DataProvider interface, for feeding replays and paper-trading
// sessions. Order placement is deliberately absent: the virtual broker is
// the execution venue.
package binanceclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"

	"tradesim/internal/domain"
	"tradesim/internal/ports"
)

const (
	baseURLProduction = "https://fapi.binance.com"
	baseURLTestnet    = "https://testnet.binancefuture.com"

	// Binance caps klines per request; ranged fetches page by close time.
	maxKlinesPerRequest = 1500
	defaultBookDepth    = 20
)

// Client implements ports.DataProvider using the go-binance library.
type Client struct {
	futuresClient *futures.Client
	logger        ports.Logger
}

// Config holds configuration specific to the Binance adapter. API keys are
// optional: klines and depth are public endpoints.
type Config struct {
	APIKey     string
	SecretKey  string
	UseTestnet bool
	Logger     ports.Logger
}

// New creates a new Binance market-data adapter.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("%w: logger is required for Binance client", ports.ErrConfigurationError)
	}

	client := futures.NewClient(cfg.APIKey, cfg.SecretKey)
	if cfg.UseTestnet {
		client.BaseURL = baseURLTestnet
	} else {
		client.BaseURL = baseURLProduction
	}
	cfg.Logger.Info(context.Background(), "Binance client configured", map[string]interface{}{"baseURL": client.BaseURL})

	return &Client{futuresClient: client, logger: cfg.Logger}, nil
}

// handleError translates common Binance API errors into standardized ports errors.
func (c *Client) handleError(ctx context.Context, err error, operation string) error {
	if err == nil {
		return nil
	}

	fields := map[string]interface{}{"operation": operation, "originalError": err.Error()}

	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		fields["apiErrorCode"] = apiErr.Code
		fields["apiErrorMessage"] = apiErr.Message

		var mappedErr error
		switch apiErr.Code {
		case -1003:
			mappedErr = ports.ErrRateLimited
		case -1021:
			mappedErr = ports.ErrTimeout
		case -1022:
			mappedErr = ports.ErrAuthenticationFailed
		case -2014, -2015:
			mappedErr = ports.ErrAuthenticationFailed
		default:
			mappedErr = ports.ErrFeedUnavailable
		}
		c.logger.Error(ctx, mappedErr, "Binance API error", fields)
		return fmt.Errorf("%w: binance code %d: %s", mappedErr, apiErr.Code, apiErr.Message)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		c.logger.Error(ctx, ports.ErrTimeout, "Binance request timed out", fields)
		return fmt.Errorf("%w: %v", ports.ErrTimeout, err)
	}
	c.logger.Error(ctx, err, "Binance request failed", fields)
	return fmt.Errorf("%w: %v", ports.ErrConnectionFailed, err)
}

// Candles fetches an OHLC series, paging through the ranged endpoint when
// start is set. limit of 0 fetches the maximum per request.
func (c *Client) Candles(ctx context.Context, instrument, granularity string, limit int, start, end time.Time) ([]*domain.Candle, error) {
	op := "Candles"
	if limit <= 0 || limit > maxKlinesPerRequest {
		limit = maxKlinesPerRequest
	}

	var all []*domain.Candle
	from := start
	for {
		svc := c.futuresClient.NewKlinesService().
			Symbol(instrument).
			Interval(granularity).
			Limit(limit)
		if !from.IsZero() {
			svc = svc.StartTime(from.UnixMilli())
		}
		if !end.IsZero() {
			svc = svc.EndTime(end.UnixMilli())
		}

		klines, err := svc.Do(ctx)
		if err != nil {
			return nil, c.handleError(ctx, err, op)
		}
		if len(klines) == 0 {
			break
		}
		for _, bk := range klines {
			candle, err := translateKline(bk, instrument, granularity)
			if err != nil {
				return nil, c.handleError(ctx, fmt.Errorf("failed to translate kline: %w", err), op)
			}
			all = append(all, candle)
		}

		// Single-page request, or the range is exhausted.
		if from.IsZero() || len(klines) < limit {
			break
		}
		from = time.UnixMilli(klines[len(klines)-1].CloseTime)
		if !end.IsZero() && from.After(end) {
			break
		}
	}
	return all, nil
}

// OrderBook fetches the current depth snapshot.
func (c *Client) OrderBook(ctx context.Context, instrument string) (*domain.OrderBook, error) {
	op := "OrderBook"
	depth, err := c.futuresClient.NewDepthService().Symbol(instrument).Limit(defaultBookDepth).Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	book := &domain.OrderBook{Instrument: instrument}
	for _, bid := range depth.Bids {
		lvl, err := translateLevel(bid.Price, bid.Quantity)
		if err != nil {
			return nil, c.handleError(ctx, fmt.Errorf("failed to translate bid level: %w", err), op)
		}
		book.Bids = append(book.Bids, lvl)
	}
	for _, ask := range depth.Asks {
		lvl, err := translateLevel(ask.Price, ask.Quantity)
		if err != nil {
			return nil, c.handleError(ctx, fmt.Errorf("failed to translate ask level: %w", err), op)
		}
		book.Asks = append(book.Asks, lvl)
	}
	return book, nil
}

func translateKline(bk *futures.Kline, instrument, granularity string) (*domain.Candle, error) {
	open, err := decimal.NewFromString(bk.Open)
	if err != nil {
		return nil, fmt.Errorf("bad open price %q: %w", bk.Open, err)
	}
	high, err := decimal.NewFromString(bk.High)
	if err != nil {
		return nil, fmt.Errorf("bad high price %q: %w", bk.High, err)
	}
	low, err := decimal.NewFromString(bk.Low)
	if err != nil {
		return nil, fmt.Errorf("bad low price %q: %w", bk.Low, err)
	}
	cls, err := decimal.NewFromString(bk.Close)
	if err != nil {
		return nil, fmt.Errorf("bad close price %q: %w", bk.Close, err)
	}
	volume, err := decimal.NewFromString(bk.Volume)
	if err != nil {
		return nil, fmt.Errorf("bad volume %q: %w", bk.Volume, err)
	}

	return &domain.Candle{
		OpenTime:    time.UnixMilli(bk.OpenTime),
		CloseTime:   time.UnixMilli(bk.CloseTime),
		Instrument:  instrument,
		Granularity: granularity,
		Open:        open,
		High:        high,
		Low:         low,
		Close:       cls,
		Volume:      volume,
	}, nil
}

func translateLevel(price, qty string) (domain.Level, error) {
	p, err := decimal.NewFromString(price)
	if err != nil {
		return domain.Level{}, fmt.Errorf("bad price %q: %w", price, err)
	}
	q, err := decimal.NewFromString(qty)
	if err != nil {
		return domain.Level{}, fmt.Errorf("bad quantity %q: %w", qty, err)
	}
	return domain.Level{Price: p, Size: q}, nil
}
