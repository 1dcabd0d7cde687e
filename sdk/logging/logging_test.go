package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.ErrorLevel, ParseLevel("ERROR"))
	assert.Equal(t, zapcore.WarnLevel, ParseLevel("warn"))
	assert.Equal(t, zapcore.DebugLevel, ParseLevel("debug"))
	assert.Equal(t, zapcore.InfoLevel, ParseLevel(""))
	assert.Equal(t, zapcore.InfoLevel, ParseLevel("verbose"))
}

func TestNewFromHandler(t *testing.T) {
	type record struct {
		level Level
		msg   string
	}
	var got []record
	log := NewFromHandler(func(level Level, message string) {
		got = append(got, record{level, message})
	}, "info")

	log.Debugw("hidden")
	log.Infow("connected", "clientId", "d:abc123:t:d", "attempt", 2)
	log.With("component", "dm").Errorw("manage failed")

	require.Len(t, got, 2)
	assert.Equal(t, LevelInfo, got[0].level)
	assert.Equal(t, "connected attempt=2 clientId=d:abc123:t:d", got[0].msg)
	assert.Equal(t, LevelError, got[1].level)
	assert.Equal(t, "manage failed component=dm", got[1].msg)
}

func TestNewToWriter(t *testing.T) {
	var buf bytes.Buffer
	log := NewToWriter(&buf, "warn")
	log.Infow("dropped")
	log.Warnw("kept", "topic", "iot-2/evt/x/fmt/json")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "kept", entry["msg"])
	assert.Equal(t, "iot-2/evt/x/fmt/json", entry["topic"])
}

func TestLevelString(t *testing.T) {
	assert.Equal(t, "ERROR", LevelError.String())
	assert.Equal(t, "DEBUG", LevelDebug.String())
	assert.Equal(t, "LEVEL(9)", Level(9).String())
}
