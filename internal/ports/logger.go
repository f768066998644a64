package ports

import "context"

// Logger is the structured logging contract used across the engine and its
// adapters. Fields are merged into the log line as key/value pairs. Tests
// typically inject a no-op implementation.
type Logger interface {
	// Debug logs high-volume diagnostic detail, such as per-fill traces.
	Debug(ctx context.Context, msg string, fields ...map[string]interface{})
	// Info logs normal lifecycle events.
	Info(ctx context.Context, msg string, fields ...map[string]interface{})
	// Warn logs recoverable anomalies.
	Warn(ctx context.Context, msg string, fields ...map[string]interface{})
	// Error logs a failure together with its underlying error.
	Error(ctx context.Context, err error, msg string, fields ...map[string]interface{})
}
