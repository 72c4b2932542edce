package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer

	logger, err := newLogger(&buf, "test", "json", "warn")
	require.NoError(t, err)

	logger.Info("hidden")
	logger.Warn("shown", slog.String("key", "2024-01-01-00-00-00"))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "shown", line["msg"])
	require.Equal(t, "2024-01-01-00-00-00", line["key"])
}

func TestNew_Text(t *testing.T) {
	var buf bytes.Buffer

	logger, err := newLogger(&buf, "test", "text", "debug")
	require.NoError(t, err)

	logger.Debug("flushed buffer", slog.Int("records", 3))
	require.Contains(t, buf.String(), "flushed buffer")
	require.Contains(t, buf.String(), "records=3")
}

func TestNew_OtelFiltersLevel(t *testing.T) {
	logger, err := newLogger(nil, "test", "otel", "error")
	require.NoError(t, err)

	require.False(t, logger.Enabled(context.Background(), slog.LevelInfo))
	require.False(t, logger.With("a", 1).WithGroup("g").Enabled(context.Background(), slog.LevelWarn))
}

func TestNew_Errors(t *testing.T) {
	_, err := newLogger(nil, "test", "xml", "info")
	require.Error(t, err)

	_, err = newLogger(nil, "test", "json", "loud")
	require.Error(t, err)
}
