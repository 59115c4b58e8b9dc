package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlogLogger_WritesStructuredFields(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := NewSlogLogger(&buf, LogLevelDebug, nil)

	log.Module("router").Info("cache hit",
		String("url", "/api/leaderboard"),
		Int("status", 200),
		Error(errors.New("boom")))

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "cache hit", record["msg"])
	assert.Equal(t, "router", record["module"])
	assert.Equal(t, "/api/leaderboard", record["url"])
	assert.InDelta(t, 200, record["status"], 0)
	assert.Equal(t, "boom", record["error"])
}

func TestSlogLogger_LevelFilter(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := NewSlogLogger(&buf, LogLevelError, nil)

	log.Debug("dropped")
	log.Warn("dropped too")
	assert.Empty(t, buf.String())

	log.Error("kept")
	assert.Contains(t, buf.String(), "kept")
}

func TestSlogLogger_Timezone(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	tz := time.FixedZone("UTC+3", 3*60*60)
	NewSlogLogger(&buf, LogLevelInfo, tz).Info("tick")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	ts, ok := record["time"].(string)
	require.True(t, ok)
	assert.Contains(t, ts, "+03:00")
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	assert.Equal(t, LogLevelDebug, ParseLevel("debug"))
	assert.Equal(t, LogLevelError, ParseLevel("error"))
	assert.Equal(t, LogLevelInfo, ParseLevel("verbose"))
	assert.Equal(t, LogLevelInfo, ParseLevel(""))
}

func TestError_NilSafe(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "", Error(nil).Value.String())
}
