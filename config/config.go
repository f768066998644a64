package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"tradesim/internal/adapters/logger"
	"tradesim/internal/broker/virtual"
)

// Config holds all application configuration.
type Config struct {
	// Instrument & data feed
	Instrument  string
	Granularity string
	HistoryDays int    // how far back to fetch when no data file is given
	DataFile    string // CSV candle file for offline replay; empty = fetch from Binance

	// Binance API (optional, public market data works without keys)
	APIKey    string
	SecretKey string
	IsTestnet bool

	// Account parameters
	InitialBalance decimal.Decimal
	Leverage       int64
	MarginCloseout decimal.Decimal
	Hedging        bool

	// Commission & execution
	CommissionScheme virtual.CommissionScheme
	MakerRate        decimal.Decimal
	TakerRate        decimal.Decimal
	Spread           decimal.Decimal
	SpreadPct        decimal.Decimal
	SlippageBps      decimal.Decimal

	// Persistence
	DBPath string

	// Logging
	LogLevel logger.LogLevel
}

// LoadConfig loads configuration from environment variables (.env file).
func LoadConfig() (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load()

	cfg := &Config{}
	var err error
	var errs []string

	cfg.Instrument = getEnv("INSTRUMENT", "ETHUSDT")
	if cfg.Instrument == "" {
		errs = append(errs, "INSTRUMENT must be set")
	}
	cfg.Granularity = getEnv("GRANULARITY", "1h")
	cfg.HistoryDays = getEnvAsInt("HISTORY_DAYS", 30)
	if cfg.HistoryDays <= 0 {
		errs = append(errs, "HISTORY_DAYS must be positive")
	}
	cfg.DataFile = getEnv("DATA_FILE", "")

	cfg.APIKey = getEnv("BINANCE_API_KEY", "")
	cfg.SecretKey = getEnv("BINANCE_API_SECRET", "")
	cfg.IsTestnet = getEnvAsBool("IS_TESTNET", true)

	cfg.InitialBalance, err = getEnvAsDecimal("INITIAL_BALANCE", "1000")
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid INITIAL_BALANCE: %v", err))
	} else if cfg.InitialBalance.IsNegative() {
		errs = append(errs, "INITIAL_BALANCE cannot be negative")
	}

	leverage := getEnvAsInt("LEVERAGE", 1)
	if leverage < 1 {
		errs = append(errs, "LEVERAGE must be at least 1")
	}
	cfg.Leverage = int64(leverage)

	cfg.MarginCloseout, err = getEnvAsDecimal("MARGIN_CLOSEOUT", "0.5")
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid MARGIN_CLOSEOUT: %v", err))
	} else if cfg.MarginCloseout.IsNegative() || cfg.MarginCloseout.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		errs = append(errs, "MARGIN_CLOSEOUT must be in [0.0, 1.0)")
	}

	cfg.Hedging = getEnvAsBool("HEDGING", false)

	scheme := getEnv("COMMISSION_SCHEME", string(virtual.CommissionPercentage))
	switch virtual.CommissionScheme(scheme) {
	case virtual.CommissionPercentage, virtual.CommissionFixedPerUnit, virtual.CommissionFlat:
		cfg.CommissionScheme = virtual.CommissionScheme(scheme)
	default:
		errs = append(errs, fmt.Sprintf("unknown COMMISSION_SCHEME %q", scheme))
	}

	cfg.MakerRate, err = getEnvAsDecimal("COMMISSION_MAKER_RATE", "0")
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid COMMISSION_MAKER_RATE: %v", err))
	} else if cfg.MakerRate.IsNegative() {
		errs = append(errs, "COMMISSION_MAKER_RATE cannot be negative")
	}
	cfg.TakerRate, err = getEnvAsDecimal("COMMISSION_TAKER_RATE", "0")
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid COMMISSION_TAKER_RATE: %v", err))
	} else if cfg.TakerRate.IsNegative() {
		errs = append(errs, "COMMISSION_TAKER_RATE cannot be negative")
	}

	cfg.Spread, err = getEnvAsDecimal("SPREAD", "0")
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid SPREAD: %v", err))
	} else if cfg.Spread.IsNegative() {
		errs = append(errs, "SPREAD cannot be negative")
	}
	cfg.SpreadPct, err = getEnvAsDecimal("SPREAD_PCT", "0")
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid SPREAD_PCT: %v", err))
	} else if cfg.SpreadPct.IsNegative() {
		errs = append(errs, "SPREAD_PCT cannot be negative")
	}
	cfg.SlippageBps, err = getEnvAsDecimal("SLIPPAGE_BPS", "0")
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid SLIPPAGE_BPS: %v", err))
	} else if cfg.SlippageBps.IsNegative() {
		errs = append(errs, "SLIPPAGE_BPS cannot be negative")
	}

	cfg.DBPath = getEnv("DB_PATH", "./data/tradesim.db")
	if cfg.DBPath == "" {
		errs = append(errs, "DB_PATH must be set")
	}

	cfg.LogLevel = logger.ParseLevel(getEnv("LOG_LEVEL", "INFO"))

	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return cfg, nil
}

// BrokerConfig assembles the engine configuration from the loaded values.
// The caller supplies the wired logger and data provider.
func (c *Config) BrokerConfig() virtual.Config {
	var slippage virtual.SlippageModel
	if c.SlippageBps.IsPositive() {
		slippage = virtual.FixedSlippage(c.SlippageBps)
	}
	return virtual.Config{
		InitialBalance: c.InitialBalance,
		Leverage:       c.Leverage,
		MarginCloseout: c.MarginCloseout,
		Hedging:        c.Hedging,
		Commission: virtual.CommissionSchedule{
			Scheme:    c.CommissionScheme,
			MakerRate: c.MakerRate,
			TakerRate: c.TakerRate,
		},
		Spread:      c.Spread,
		SpreadPct:   c.SpreadPct,
		Slippage:    slippage,
		Granularity: c.Granularity,
	}
}

// --- Env Var Helpers ---

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDecimal(key, defaultValue string) (decimal.Decimal, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		valueStr = defaultValue
	}
	value, err := decimal.NewFromString(valueStr)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid decimal value %q for key %s: %w", valueStr, key, err)
	}
	return value, nil
}
