package utils

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewLogger_WritesJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "app.log")
	logger, err := NewLogger(LoggerConfig{
		Level:      "warn",
		OutputPath: path,
		Format:     "json",
		Service:    "fleet-requests",
	})
	require.NoError(t, err)

	logger.Info("dropped below level")
	logger.Warn("vehicle unavailable", zap.String("vehicle_id", "v1"))
	require.NoError(t, logger.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "vehicle unavailable", entry["msg"])
	assert.Equal(t, "v1", entry["vehicle_id"])
	assert.Equal(t, "fleet-requests", entry["service"])
	assert.Contains(t, entry, "timestamp")
}

func TestNewLogger_UnknownLevelFallsBackToInfo(t *testing.T) {
	logger, err := NewLogger(LoggerConfig{Level: "loud", OutputPath: "stderr"})
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zap.InfoLevel))
	assert.False(t, logger.Core().Enabled(zap.DebugLevel))
}

func TestKeyValueLogger(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	kv := NewKeyValueLogger(zap.New(core))

	kv.Info("trip started", "trip_id", "t1")
	kv.Warn("lark delivery skipped", "user_id", "u1")
	kv.Error("publish failed", "topic", "fleet.trips")

	entries := logs.AllUntimed()
	require.Len(t, entries, 3)
	assert.Equal(t, zap.InfoLevel, entries[0].Level)
	assert.Equal(t, "t1", entries[0].ContextMap()["trip_id"])
	assert.Equal(t, zap.WarnLevel, entries[1].Level)
	assert.Equal(t, "u1", entries[1].ContextMap()["user_id"])
	assert.Equal(t, zap.ErrorLevel, entries[2].Level)
	assert.Equal(t, "fleet.trips", entries[2].ContextMap()["topic"])
}
