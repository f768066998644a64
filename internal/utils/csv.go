package utils

import (
	"encoding/csv"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"

	"tradesim/internal/domain"
)

var candleHeader = []string{"open_time", "close_time", "instrument", "granularity", "open", "high", "low", "close", "volume"}

// WriteCandlesToCSV saves a candle series for offline replay.
func WriteCandlesToCSV(candles []*domain.Candle, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	writer.Write(candleHeader)
	for _, c := range candles {
		writer.Write([]string{
			c.OpenTime.Format(time.RFC3339),
			c.CloseTime.Format(time.RFC3339),
			c.Instrument,
			c.Granularity,
			c.Open.String(),
			c.High.String(),
			c.Low.String(),
			c.Close.String(),
			c.Volume.String(),
		})
	}
	return writer.Error()
}

// ReadCandlesFromCSV loads a series previously saved by WriteCandlesToCSV.
func ReadCandlesFromCSV(filename string) ([]*domain.Candle, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	records, err := csv.NewReader(file).ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("csv file %s is empty", filename)
	}

	var candles []*domain.Candle
	for i, rec := range records[1:] {
		if len(rec) != len(candleHeader) {
			return nil, fmt.Errorf("csv row %d has %d columns, want %d", i+2, len(rec), len(candleHeader))
		}
		c := &domain.Candle{Instrument: rec[2], Granularity: rec[3]}
		if c.OpenTime, err = time.Parse(time.RFC3339, rec[0]); err != nil {
			return nil, fmt.Errorf("csv row %d: bad open_time: %w", i+2, err)
		}
		if c.CloseTime, err = time.Parse(time.RFC3339, rec[1]); err != nil {
			return nil, fmt.Errorf("csv row %d: bad close_time: %w", i+2, err)
		}
		if c.Open, err = decimal.NewFromString(rec[4]); err != nil {
			return nil, fmt.Errorf("csv row %d: bad open: %w", i+2, err)
		}
		if c.High, err = decimal.NewFromString(rec[5]); err != nil {
			return nil, fmt.Errorf("csv row %d: bad high: %w", i+2, err)
		}
		if c.Low, err = decimal.NewFromString(rec[6]); err != nil {
			return nil, fmt.Errorf("csv row %d: bad low: %w", i+2, err)
		}
		if c.Close, err = decimal.NewFromString(rec[7]); err != nil {
			return nil, fmt.Errorf("csv row %d: bad close: %w", i+2, err)
		}
		if c.Volume, err = decimal.NewFromString(rec[8]); err != nil {
			return nil, fmt.Errorf("csv row %d: bad volume: %w", i+2, err)
		}
		candles = append(candles, c)
	}
	return candles, nil
}
