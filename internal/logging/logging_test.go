package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestDefaultLevels(t *testing.T) {
	_, level, err := New(Config{Outputs: []string{"stderr"}})
	require.NoError(t, err)
	assert.Equal(t, zapcore.InfoLevel, level.Level())

	_, level, err = New(Config{Development: true, Outputs: []string{"stderr"}})
	require.NoError(t, err)
	assert.Equal(t, zapcore.DebugLevel, level.Level())
}

func TestInvalidLevel(t *testing.T) {
	_, _, err := New(Config{Level: "loud"})
	assert.Error(t, err)
}

func TestProductionWritesJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.log")
	logger, level, err := New(Config{Level: "warn", Outputs: []string{path}})
	require.NoError(t, err)

	logger.Named(Audit).Info("dropped")
	logger.Named(Audit).Error("audit write failed", zap.String("request_id", "req-1"))
	level.SetLevel(zapcore.DebugLevel)
	logger.Debug("now visible")
	require.NoError(t, logger.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "audit", entry["logger"])
	assert.Equal(t, "req-1", entry["request_id"])
	assert.Contains(t, entry["ts"], "T", "timestamps are ISO8601")
}
