package utils

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected LogLevel
	}{
		{"debug", LevelDebug},
		{"DEBUG", LevelDebug},
		{"info", LevelInfo},
		{"INFO", LevelInfo},
		{"warn", LevelWarn},
		{"WARN", LevelWarn},
		{"warning", LevelWarn},
		{"error", LevelError},
		{"ERROR", LevelError},
		{"unknown", LevelInfo}, // default
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseLogLevel(tt.input))
		})
	}
}

func TestLogLevel_String(t *testing.T) {
	tests := []struct {
		level    LogLevel
		expected string
	}{
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarn, "WARN"},
		{LevelError, "ERROR"},
		{LogLevel(99), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.level.String())
		})
	}
}

func TestDefaultLogger_LogLevels(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := NewDefaultLogger(LevelDebug, buf)

	logger.Debug("debug message")
	logger.Info("info message")
	logger.Warn("warn message")
	logger.Error("error message")

	output := buf.String()
	assert.Contains(t, output, "[DEBUG]")
	assert.Contains(t, output, "[INFO]")
	assert.Contains(t, output, "[WARN]")
	assert.Contains(t, output, "[ERROR]")
	assert.Contains(t, output, "debug message")
	assert.Contains(t, output, "info message")
	assert.Contains(t, output, "warn message")
	assert.Contains(t, output, "error message")
}

func TestDefaultLogger_FilterByLevel(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := NewDefaultLogger(LevelWarn, buf)

	logger.Debug("debug message")
	logger.Info("info message")
	logger.Warn("warn message")
	logger.Error("error message")

	output := buf.String()
	assert.NotContains(t, output, "debug message")
	assert.NotContains(t, output, "info message")
	assert.Contains(t, output, "warn message")
	assert.Contains(t, output, "error message")
}

func TestDefaultLogger_FieldsAreSorted(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := NewDefaultLogger(LevelInfo, buf)
	logger.SetClock(NewMockClock(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)))

	logger.WithField("session", "s1").WithFields(map[string]interface{}{
		"mode":  "threads",
		"bytes": 42,
	}).Info("archived %d waits", 3)

	assert.Equal(t, "[2024-01-01 12:00:00.000] [INFO] bytes=42 mode=threads session=s1 archived 3 waits\n", buf.String())
}

func TestDefaultLogger_DerivedLoggersShareLevel(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := NewDefaultLogger(LevelInfo, buf)
	child := logger.WithField("component", "http")

	child.Debug("hidden")
	assert.Empty(t, buf.String())

	logger.SetLevel(LevelDebug)
	child.Debug("shown")
	assert.Contains(t, buf.String(), "component=http shown")
}

func TestDefaultLogger_WithFieldsDoesNotMutateParent(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := NewDefaultLogger(LevelInfo, buf)
	_ = logger.WithField("bucket", "b1")

	logger.Info("plain")
	assert.NotContains(t, buf.String(), "bucket")
}

func TestDefaultLogger_Formatting(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := NewDefaultLogger(LevelInfo, buf)

	logger.Info("count: %d, name: %s", 42, "test")
	logger.Info("100% literal")

	output := buf.String()
	assert.Contains(t, output, "count: 42, name: test")
	assert.Contains(t, output, "100% literal")
}

func TestDefaultLogger_SetLevel(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := NewDefaultLogger(LevelInfo, buf)

	logger.Debug("debug 1")
	assert.NotContains(t, buf.String(), "debug 1")

	logger.SetLevel(LevelDebug)
	logger.Debug("debug 2")
	assert.Contains(t, buf.String(), "debug 2")
}

func TestDefaultLogger_JSON(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := NewDefaultLogger(LevelInfo, buf)
	logger.SetFormat(FormatJSON)
	logger.SetClock(NewMockClock(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)))

	logger.WithFields(map[string]interface{}{
		"frames": 2,
		"error":  errors.New("short frame"),
	}).Warn("replayed %s", "rec.gz")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "replayed rec.gz", entry["msg"])
	assert.Equal(t, "2024-01-01T12:00:00Z", entry["time"])
	assert.Equal(t, float64(2), entry["frames"])
	assert.Equal(t, "short frame", entry["error"])
}

func TestDefaultLogger_JSONUnencodableField(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := NewDefaultLogger(LevelInfo, buf)
	logger.SetFormat(FormatJSON)

	logger.WithField("ch", make(chan int)).Info("still logged")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "still logged", entry["msg"])
	assert.Contains(t, entry["error"], "unencodable")
}

func TestParseLogFormat(t *testing.T) {
	f, err := ParseLogFormat("")
	require.NoError(t, err)
	assert.Equal(t, FormatText, f)

	f, err = ParseLogFormat("JSON")
	require.NoError(t, err)
	assert.Equal(t, FormatJSON, f)

	_, err = ParseLogFormat("logfmt")
	assert.Error(t, err)
}

func TestOpenLogger(t *testing.T) {
	t.Run("Stderr", func(t *testing.T) {
		l, closer, err := OpenLogger("debug", "text", "stderr")
		require.NoError(t, err)
		assert.NotNil(t, l)
		assert.NoError(t, closer.Close())
	})

	t.Run("File", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "logs", "lockgraph.log")
		l, closer, err := OpenLogger("info", "json", path)
		require.NoError(t, err)
		l.Info("to file")
		l.Debug("filtered")
		require.NoError(t, closer.Close())

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(data), `"msg":"to file"`)
		assert.NotContains(t, string(data), "filtered")
	})

	t.Run("BadFormat", func(t *testing.T) {
		_, _, err := OpenLogger("info", "xml", "stdout")
		assert.Error(t, err)
	})
}

func TestNullLogger(t *testing.T) {
	logger := &NullLogger{}

	logger.Debug("debug")
	logger.Info("info")
	logger.Warn("warn")
	logger.Error("error")

	assert.Equal(t, logger, logger.WithField("key", "value"))
	assert.Equal(t, logger, logger.WithFields(map[string]interface{}{"key": "value"}))
}

func TestGlobalLogger(t *testing.T) {
	original := GetGlobalLogger()
	defer SetGlobalLogger(original)

	buf := &bytes.Buffer{}
	SetGlobalLogger(NewDefaultLogger(LevelInfo, buf))
	GetGlobalLogger().Info("global log")

	assert.Contains(t, buf.String(), "global log")
}

func TestLoggerInterface(t *testing.T) {
	var _ Logger = &DefaultLogger{}
	var _ Logger = &NullLogger{}
}

func TestDefaultLogger_TimestampFormat(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := NewDefaultLogger(LevelInfo, buf)

	logger.Info("test message")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)
	_, err := time.Parse("[2006-01-02 15:04:05.000]", lines[0][:25])
	assert.NoError(t, err)
}
