package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"tradesim/config"
	"tradesim/internal/adapters/binanceclient"
	"tradesim/internal/adapters/logger"
	"tradesim/internal/utils"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}

	appLogger := logger.NewStdLogger(cfg.LogLevel)
	ctx := context.Background()

	client, err := binanceclient.New(binanceclient.Config{
		APIKey:     cfg.APIKey,
		SecretKey:  cfg.SecretKey,
		UseTestnet: cfg.IsTestnet,
		Logger:     appLogger,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize Binance client: %v", err)
	}

	end := time.Now()
	start := end.AddDate(0, 0, -cfg.HistoryDays)
	appLogger.Info(ctx, "Fetching candles", map[string]interface{}{
		"instrument":  cfg.Instrument,
		"granularity": cfg.Granularity,
		"from":        start,
		"to":          end,
	})

	candles, err := client.Candles(ctx, cfg.Instrument, cfg.Granularity, 0, start, end)
	if err != nil {
		appLogger.Error(ctx, err, "Error fetching candles")
		log.Fatalf("FATAL: Error fetching candles: %v", err)
	}
	appLogger.Info(ctx, "Fetched candles", map[string]interface{}{"count": len(candles)})

	if err := os.MkdirAll("data", 0755); err != nil {
		log.Fatalf("FATAL: Failed to create data directory: %v", err)
	}
	filename := fmt.Sprintf("data/%s_%s_%s_to_%s.csv",
		cfg.Instrument, cfg.Granularity, start.Format("20060102"), end.Format("20060102"))
	if err := utils.WriteCandlesToCSV(candles, filename); err != nil {
		appLogger.Error(ctx, err, "Error writing CSV")
		log.Fatalf("FATAL: Error writing CSV: %v", err)
	}
	appLogger.Info(ctx, "Saved candles", map[string]interface{}{"filename": filename})
}
