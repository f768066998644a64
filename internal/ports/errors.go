package ports

import "errors"

// Standard application-level errors.
// Adapters should wrap underlying infrastructure errors with these standard errors.
var (
	// General Errors
	ErrTimeout            = errors.New("operation timed out")
	ErrConfigurationError = errors.New("invalid or missing configuration")

	// Engine contract violations. Order-level problems (bad size, inverted
	// stops, insufficient margin) are NOT errors: they cancel the order with
	// a reason. These errors mean the caller broke the contract.
	ErrUnsupportedOrderType = errors.New("unrecognized order type")
	ErrOrderNotFound        = errors.New("order not found")
	ErrInsufficientData     = errors.New("no market data available for instrument")
	ErrSnapshotVersion      = errors.New("snapshot version not supported")
	ErrSnapshotCorrupted    = errors.New("snapshot failed integrity check")

	// Data Feed Specific Errors
	ErrFeedUnavailable      = errors.New("market data feed is unavailable")
	ErrConnectionFailed     = errors.New("failed to connect to the data feed")
	ErrRateLimited          = errors.New("API rate limit exceeded")
	ErrAuthenticationFailed = errors.New("feed authentication failed (check API keys)")

	// Database Specific Errors
	ErrDuplicateEntry = errors.New("database record already exists")
	ErrDBConnection   = errors.New("database connection error")
	ErrQueryFailed    = errors.New("database query failed")
	ErrUpdateFailed   = errors.New("database update failed")
)
