package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srab2001/featuregate/internal/config"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		want  slog.Level
	}{
		{name: "Should parse lowercase debug", input: "debug", want: slog.LevelDebug},
		{name: "Should parse uppercase WARN", input: "WARN", want: slog.LevelWarn},
		{name: "Should parse error", input: "error", want: slog.LevelError},
		{name: "Should default to info on garbage", input: "loud", want: slog.LevelInfo},
		{name: "Should default to info on empty", input: "", want: slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, ParseLevel(tt.input))
		})
	}
}

func TestNewWithWriter(t *testing.T) {
	t.Parallel()

	t.Run("Should emit JSON with global attributes", func(t *testing.T) {
		t.Parallel()

		// Arrange
		var buf bytes.Buffer
		cfg := &config.AppConfig{Name: "featuregate", Version: "1.2.3", Environment: "staging", LogLevel: "info", LogFormat: "json"}

		// Act
		log := NewWithWriter(cfg, &buf)
		log.Info("hello", slog.String("flag", "export_pdf"))

		// Assert
		var record map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
		assert.Equal(t, "hello", record["msg"])
		assert.Equal(t, "featuregate", record["service"])
		assert.Equal(t, "1.2.3", record["version"])
		assert.Equal(t, "staging", record["env"])
		assert.Equal(t, "export_pdf", record["flag"])
	})

	t.Run("Should emit text and respect the configured level", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		cfg := &config.AppConfig{Name: "svc", LogLevel: "warn", LogFormat: "text"}

		log := NewWithWriter(cfg, &buf)
		log.Info("dropped")
		log.Warn("kept")

		assert.NotContains(t, buf.String(), "dropped")
		assert.Contains(t, buf.String(), "msg=kept")
	})

	t.Run("Should panic on nil config", func(t *testing.T) {
		t.Parallel()
		assert.Panics(t, func() { NewWithWriter(nil, &bytes.Buffer{}) })
	})
}

func TestComponent(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	parent := slog.New(slog.NewTextHandler(&buf, nil))

	Component(parent, "rollout").Info("tick")

	assert.Contains(t, buf.String(), "component=rollout")
	assert.NotNil(t, Component(nil, "x"), "nil parent should fall back to the default logger")
}
