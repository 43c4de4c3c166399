// internal/observability/logger_test.go
package observability

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	json "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xkilldash9x/harvest-cli/internal/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// initBuffered initializes the global logger against an in-memory console.
func initBuffered(t *testing.T, cfg config.LoggerConfig) *bytes.Buffer {
	t.Helper()
	ResetForTest()
	t.Cleanup(ResetForTest)

	var buf bytes.Buffer
	Initialize(cfg, zapcore.AddSync(&buf))
	return &buf
}

func TestInitialize(t *testing.T) {
	t.Run("console format colorizes levels", func(t *testing.T) {
		buf := initBuffered(t, config.LoggerConfig{
			Level:       "debug",
			Format:      "console",
			ServiceName: "harvest",
			Colors:      config.ColorConfig{Info: "green", Warn: "yellow"},
		})

		GetLogger().Named("login").Info("Session restored.")
		Sync()

		out := buf.String()
		assert.Contains(t, out, colorGreen+"INFO"+colorReset)
		assert.Contains(t, out, "harvest.login.")
		assert.Contains(t, out, "Session restored.")
	})

	t.Run("unknown color leaves the level plain", func(t *testing.T) {
		buf := initBuffered(t, config.LoggerConfig{
			Level:  "info",
			Format: "console",
			Colors: config.ColorConfig{Info: "chartreuse"},
		})

		GetLogger().Info("plain")
		Sync()

		assert.Contains(t, buf.String(), "INFO")
		assert.NotContains(t, buf.String(), colorReset)
	})

	t.Run("json format carries structured fields", func(t *testing.T) {
		buf := initBuffered(t, config.LoggerConfig{
			Level:       "info",
			Format:      "json",
			ServiceName: "harvest",
		})

		GetLogger().Warn("Extraction ceiling reached.", zap.Int("rows", 42))
		Sync()

		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
		assert.Equal(t, "warn", entry["level"])
		assert.Equal(t, "harvest", entry["logger"])
		assert.Equal(t, "Extraction ceiling reached.", entry["msg"])
		assert.EqualValues(t, 42, entry["rows"])
	})

	t.Run("level filter drops debug entries", func(t *testing.T) {
		buf := initBuffered(t, config.LoggerConfig{Level: "warn", Format: "json"})

		GetLogger().Debug("hidden")
		GetLogger().Info("hidden too")
		Sync()

		assert.Empty(t, buf.String())
	})

	t.Run("invalid level falls back to info", func(t *testing.T) {
		buf := initBuffered(t, config.LoggerConfig{Level: "loud", Format: "json"})

		GetLogger().Debug("hidden")
		GetLogger().Info("shown")
		Sync()

		assert.NotContains(t, buf.String(), "hidden")
		assert.Contains(t, buf.String(), "shown")
	})

	t.Run("log file receives json lines", func(t *testing.T) {
		logFile := filepath.Join(t.TempDir(), "harvest.log")
		initBuffered(t, config.LoggerConfig{
			Level:   "debug",
			Format:  "console",
			LogFile: logFile,
			MaxSize: 1,
		})

		GetLogger().Error("Login failed.", zap.String("reason", "no password field"))
		Sync()

		content, err := os.ReadFile(logFile)
		require.NoError(t, err)
		assert.Contains(t, string(content), `"msg":"Login failed."`)
		assert.Contains(t, string(content), `"reason":"no password field"`)
	})

	t.Run("only the first initialization applies", func(t *testing.T) {
		buf := initBuffered(t, config.LoggerConfig{Level: "info", Format: "json", ServiceName: "first"})
		first := GetLogger()

		var other bytes.Buffer
		Initialize(config.LoggerConfig{Level: "debug", Format: "json", ServiceName: "second"}, zapcore.AddSync(&other))
		second := GetLogger()

		assert.Same(t, first, second)
		second.Info("once")
		Sync()
		assert.Contains(t, buf.String(), `"logger":"first"`)
		assert.Empty(t, other.String())
	})
}

func TestGetLogger_Fallback(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)

	logger := GetLogger()
	require.NotNil(t, logger)
	assert.NotPanics(t, func() { logger.Info("still works") })
	// Sync without initialization is a no-op.
	assert.NotPanics(t, Sync)
}
