package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestProductionWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewWithSink("info", EnvProduction, zapcore.AddSync(&buf))
	require.NoError(t, err)

	logger.Info("rotated", zap.Int64("user_id", 7))
	logger.Debug("hidden")
	require.NoError(t, logger.Sync())

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "INFO", entry["level"])
	assert.Equal(t, "rotated", entry["msg"])
	assert.EqualValues(t, 7, entry["user_id"])
	assert.Contains(t, entry, "timestamp")
}

func TestDevelopmentDPanicPanics(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewWithSink("debug", "development", zapcore.AddSync(&buf))
	require.NoError(t, err)

	assert.Panics(t, func() { logger.DPanic("invariant") })
}

func TestProductionDPanicDoesNotPanic(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewWithSink("info", EnvProduction, zapcore.AddSync(&buf))
	require.NoError(t, err)

	assert.NotPanics(t, func() { logger.DPanic("invariant") })
	assert.Contains(t, buf.String(), "DPANIC")
}

func TestParseLevel(t *testing.T) {
	lvl, err := ParseLevel("WARN")
	require.NoError(t, err)
	assert.Equal(t, zapcore.WarnLevel, lvl)

	_, err = ParseLevel("verbose")
	assert.Error(t, err)
}
