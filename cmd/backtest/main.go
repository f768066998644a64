package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"tradesim/config"
	"tradesim/internal/adapters/binanceclient"
	"tradesim/internal/adapters/logger"
	"tradesim/internal/adapters/sqlite"
	"tradesim/internal/broker/virtual"
	"tradesim/internal/domain"
	"tradesim/internal/replay"
	"tradesim/internal/utils"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}

	appLogger := logger.NewStdLogger(cfg.LogLevel)
	ctx := context.Background()
	appLogger.Info(ctx, "Logger initialized", map[string]interface{}{"level": cfg.LogLevel.String()})

	candles, err := loadCandles(ctx, cfg, appLogger)
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to load candles")
		log.Fatalf("FATAL: Failed to load candles: %v", err)
	}
	if len(candles) == 0 {
		log.Fatalf("FATAL: No candles available for %s", cfg.Instrument)
	}
	appLogger.Info(ctx, "Candles loaded", map[string]interface{}{
		"instrument": cfg.Instrument,
		"count":      len(candles),
		"from":       candles[0].OpenTime,
		"to":         candles[len(candles)-1].CloseTime,
	})

	brokerCfg := cfg.BrokerConfig()
	brokerCfg.Logger = appLogger
	brokerCfg.Data = replay.NewSeriesProvider(cfg.Instrument, candles)
	broker, err := virtual.NewBroker(brokerCfg)
	if err != nil {
		log.Fatalf("FATAL: Failed to construct virtual broker: %v", err)
	}

	// Open a position on the first bar, with a 2% stop-loss and 4%
	// take-profit bracket, and let the engine manage the exits.
	first := candles[0]
	size := cfg.InitialBalance.Mul(decimal.NewFromInt(cfg.Leverage)).
		Div(first.Open).Mul(decimal.RequireFromString("0.5"))
	order := &domain.Order{
		Instrument:      cfg.Instrument,
		Direction:       domain.Long,
		Size:            size,
		Type:            domain.OrderTypeMarket,
		Price:           domain.Dec(first.Open),
		StopLossPrice:   domain.Dec(first.Open.Mul(decimal.RequireFromString("0.98"))),
		TakeProfitPrice: domain.Dec(first.Open.Mul(decimal.RequireFromString("1.04"))),
		SubmitTime:      first.OpenTime.Add(-time.Second),
	}
	if err := broker.PlaceOrder(ctx, order); err != nil {
		log.Fatalf("FATAL: Failed to place order: %v", err)
	}

	result, err := replay.Run(ctx, broker, cfg.Instrument, candles)
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Replay failed")
		log.Fatalf("FATAL: Replay failed: %v", err)
	}

	printResult(result)

	if err := persist(ctx, cfg, appLogger, broker, result); err != nil {
		appLogger.Error(ctx, err, "Failed to persist results")
		log.Fatalf("FATAL: Failed to persist results: %v", err)
	}
}

func loadCandles(ctx context.Context, cfg *config.Config, appLogger *logger.StdLogger) ([]*domain.Candle, error) {
	if cfg.DataFile != "" {
		appLogger.Info(ctx, "Loading candles from file", map[string]interface{}{"file": cfg.DataFile})
		return utils.ReadCandlesFromCSV(cfg.DataFile)
	}

	client, err := binanceclient.New(binanceclient.Config{
		APIKey:     cfg.APIKey,
		SecretKey:  cfg.SecretKey,
		UseTestnet: cfg.IsTestnet,
		Logger:     appLogger,
	})
	if err != nil {
		return nil, err
	}
	end := time.Now()
	start := end.AddDate(0, 0, -cfg.HistoryDays)
	return client.Candles(ctx, cfg.Instrument, cfg.Granularity, 0, start, end)
}

func persist(ctx context.Context, cfg *config.Config, appLogger *logger.StdLogger, broker *virtual.Broker, result *replay.Result) error {
	repo, err := sqlite.NewRepository(sqlite.Config{DBPath: cfg.DBPath, Logger: appLogger})
	if err != nil {
		return err
	}
	defer repo.Close()

	for _, t := range result.Trades {
		if err := repo.SaveTrade(ctx, t); err != nil {
			return err
		}
	}
	for _, p := range result.ClosedPositions {
		if err := repo.SaveClosedPosition(ctx, p); err != nil {
			return err
		}
	}

	session := uuid.New()
	blob, err := broker.Snapshot(session).Encode()
	if err != nil {
		return err
	}
	if err := repo.SaveSnapshot(ctx, session, blob); err != nil {
		return err
	}
	appLogger.Info(ctx, "Results persisted", map[string]interface{}{
		"db":      cfg.DBPath,
		"session": session.String(),
		"trades":  len(result.Trades),
	})
	return nil
}

func printResult(r *replay.Result) {
	fmt.Println("--- Replay Result ---")
	fmt.Printf("Instrument:      %s\n", r.Instrument)
	fmt.Printf("Period:          %s -> %s (%d steps)\n", r.StartTime.Format(time.RFC3339), r.EndTime.Format(time.RFC3339), r.Steps)
	fmt.Printf("Trades:          %d (fees %s)\n", r.TotalTrades, r.TotalFees)
	fmt.Printf("Initial balance: %s\n", r.InitialBalance)
	fmt.Printf("Final balance:   %s\n", r.FinalBalance)
	fmt.Printf("Final NAV:       %s\n", r.FinalNAV)
	fmt.Printf("Max drawdown:    %s\n", r.MaxDrawdown)
	fmt.Printf("ROI:             %s\n", r.ReturnOnInvestment)
}
