package logging

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCLIHandler_Levels(t *testing.T) {
	tests := []struct {
		name      string
		level     slog.Level
		logFunc   func(*slog.Logger)
		shouldLog bool
		color     string
	}{
		{"info at info", slog.LevelInfo, func(l *slog.Logger) { l.Info("m") }, true, colorGreen},
		{"debug filtered at info", slog.LevelInfo, func(l *slog.Logger) { l.Debug("m") }, false, ""},
		{"debug at debug", slog.LevelDebug, func(l *slog.Logger) { l.Debug("m") }, true, colorCyan},
		{"warn at info", slog.LevelInfo, func(l *slog.Logger) { l.Warn("m") }, true, colorYellow},
		{"error at info", slog.LevelInfo, func(l *slog.Logger) { l.Error("m") }, true, colorRed},
		{"info filtered at error", slog.LevelError, func(l *slog.Logger) { l.Info("m") }, false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := slog.New(NewCLIHandler(&buf, tt.level))
			tt.logFunc(logger)

			if !tt.shouldLog {
				assert.Zero(t, buf.Len())
				return
			}
			assert.Contains(t, buf.String(), tt.color)
			assert.Contains(t, buf.String(), colorReset)
		})
	}
}

func TestCLIHandler_Attributes(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewCLIHandler(&buf, slog.LevelInfo))

	logger.Info("imported", "rows", 42, "source", "file.csv")

	out := buf.String()
	assert.Contains(t, out, "imported")
	assert.Contains(t, out, "rows=42")
	assert.Contains(t, out, "source=file.csv")
}

func TestCLIHandler_WithGroup(t *testing.T) {
	var buf bytes.Buffer
	handler := NewCLIHandler(&buf, slog.LevelInfo)

	logger := slog.New(handler.WithGroup("import"))
	logger.Info("started")
	assert.Contains(t, buf.String(), "[import] started")

	buf.Reset()
	nested := slog.New(handler.WithGroup("analyze").WithGroup("clv"))
	nested.Info("fitted")
	assert.Contains(t, buf.String(), "[analyze.clv] fitted")
}

func TestCLIHandler_WithGroup_Empty(t *testing.T) {
	var buf bytes.Buffer
	handler := NewCLIHandler(&buf, slog.LevelInfo)
	assert.Equal(t, handler, handler.WithGroup(""))
}

func TestSetDefaultCLILogger(t *testing.T) {
	original := slog.Default()
	defer slog.SetDefault(original)

	SetDefaultCLILogger("debug")
	require.NotNil(t, slog.Default())
	slog.Default().Debug("visible at debug")
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"unknown", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"  debug  ", slog.LevelDebug},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseLogLevel(tt.input), tt.input)
	}
}
