package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger(t *testing.T, config *Config) (*Logger, *bytes.Buffer) {
	t.Helper()

	output := &bytes.Buffer{}
	cfg := *config
	cfg.writer = output

	logger, err := New(&cfg)
	require.NoError(t, err)
	require.NotNil(t, logger)

	return logger, output
}

func TestNew(t *testing.T) {
	t.Run("unspecified format defaults to json", func(t *testing.T) {
		logger, output := newTestLogger(t, &Config{Level: "info"})

		logger.Info("started", slog.String("key", "value"))

		var logEntry map[string]interface{}
		err := json.Unmarshal(output.Bytes(), &logEntry)
		require.NoError(t, err)

		assert.Equal(t, "INFO", logEntry["level"])
		assert.Equal(t, "started", logEntry["msg"])
		assert.Equal(t, "value", logEntry["key"])
		assert.Contains(t, logEntry, "time")
	})

	t.Run("json format with debug level", func(t *testing.T) {
		logger, output := newTestLogger(t, &Config{Level: "debug", Format: "json"})

		logger.Debug("test debug message", slog.String("key", "value"))

		var logEntry map[string]interface{}
		err := json.Unmarshal(output.Bytes(), &logEntry)
		require.NoError(t, err)

		assert.Equal(t, "DEBUG", logEntry["level"])
		assert.Equal(t, "test debug message", logEntry["msg"])
	})

	t.Run("level filters lower records", func(t *testing.T) {
		logger, output := newTestLogger(t, &Config{Level: "warn", Format: "json"})

		logger.Info("info message")
		logger.Warn("warn message", slog.String("severity", "high"))

		lines := strings.Split(strings.TrimSpace(output.String()), "\n")
		require.Len(t, lines, 1)

		var logEntry map[string]interface{}
		err := json.Unmarshal([]byte(lines[0]), &logEntry)
		require.NoError(t, err)

		assert.Equal(t, "WARN", logEntry["level"])
		assert.Equal(t, "high", logEntry["severity"])
	})

	t.Run("console format uses tint", func(t *testing.T) {
		logger, output := newTestLogger(t, &Config{
			Level:      "info",
			Format:     "console",
			TimeFormat: time.RFC3339,
		})

		logger.Info("console test")

		// tint renders the level as "INF"
		logOutput := output.String()
		assert.Contains(t, logOutput, "INF")
		assert.Contains(t, logOutput, "console test")
	})

	t.Run("source location enabled", func(t *testing.T) {
		logger, output := newTestLogger(t, &Config{
			Level:        "info",
			Format:       "json",
			EnableSource: true,
		})

		logger.Info("message with source")

		var logEntry map[string]interface{}
		err := json.Unmarshal(output.Bytes(), &logEntry)
		require.NoError(t, err)

		require.Contains(t, logEntry, "source")
		source := logEntry["source"].(map[string]interface{})
		assert.Contains(t, source, "file")
		assert.Contains(t, source, "line")
	})
}

func TestNewDefault(t *testing.T) {
	logger := NewDefault()
	require.NotNil(t, logger)
	assert.NotNil(t, logger.Logger)
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		level    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		// parseLevel is case-sensitive, unknown values default to info
		{"DEBUG", slog.LevelInfo},
		{"invalid", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run("level "+tt.level, func(t *testing.T) {
			assert.Equal(t, tt.expected, parseLevel(tt.level))
		})
	}
}

func TestLogger_WithGroup(t *testing.T) {
	logger, output := newTestLogger(t, &Config{Level: "info", Format: "json"})

	groupLogger := logger.WithGroup("mygroup")
	groupLogger.Info("test message", slog.String("key", "value"))

	var logEntry map[string]interface{}
	err := json.Unmarshal(output.Bytes(), &logEntry)
	require.NoError(t, err)

	require.Contains(t, logEntry, "mygroup")
	group := logEntry["mygroup"].(map[string]interface{})
	assert.Equal(t, "value", group["key"])
}

func TestLogger_WithAttrs(t *testing.T) {
	logger, output := newTestLogger(t, &Config{Level: "info", Format: "json"})

	attrLogger := logger.WithAttrs(
		slog.String("request_id", "12345"),
		slog.String("task_id", "task-67890"),
	)
	attrLogger.Info("test message")

	var logEntry map[string]interface{}
	err := json.Unmarshal(output.Bytes(), &logEntry)
	require.NoError(t, err)

	assert.Equal(t, "12345", logEntry["request_id"])
	assert.Equal(t, "task-67890", logEntry["task_id"])
}

func TestLogger_With(t *testing.T) {
	logger, output := newTestLogger(t, &Config{Level: "info", Format: "json"})

	contextLogger := logger.With(
		slog.String("service", "api"),
		slog.Int("version", 1),
	)
	contextLogger.Info("operation complete")

	var logEntry map[string]interface{}
	err := json.Unmarshal(output.Bytes(), &logEntry)
	require.NoError(t, err)

	assert.Equal(t, "api", logEntry["service"])
	assert.Equal(t, float64(1), logEntry["version"])
	assert.Equal(t, "operation complete", logEntry["msg"])
}
