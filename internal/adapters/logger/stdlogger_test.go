package logger

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStdLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := NewStdLoggerWithWriter(&buf, LevelInfo)
	ctx := context.Background()

	l.Debug(ctx, "hidden")
	require.Empty(t, buf.String())

	l.Info(ctx, "shown")
	assert.Contains(t, buf.String(), "[INFO] shown")
}

func TestStdLoggerFieldsSorted(t *testing.T) {
	var buf bytes.Buffer
	l := NewStdLoggerWithWriter(&buf, LevelDebug)

	l.Info(context.Background(), "order accepted", map[string]interface{}{
		"size":     "10",
		"order_id": 1,
		"price":    "100",
	})
	assert.Contains(t, buf.String(), "order accepted | order_id=1 price=100 size=10")
}

func TestStdLoggerError(t *testing.T) {
	var buf bytes.Buffer
	l := NewStdLoggerWithWriter(&buf, LevelError)

	l.Error(context.Background(), errors.New("boom"), "update failed", map[string]interface{}{"step": 3})
	out := buf.String()
	assert.Contains(t, out, "[ERROR] update failed")
	assert.Contains(t, out, "error: boom")
	assert.Contains(t, out, "step=3")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelDebug, ParseLevel("debug"))
	assert.Equal(t, LevelInfo, ParseLevel("INFO"))
	assert.Equal(t, LevelWarn, ParseLevel("warning"))
	assert.Equal(t, LevelError, ParseLevel("ERROR"))
	assert.Equal(t, LevelInfo, ParseLevel("nonsense"))
}
