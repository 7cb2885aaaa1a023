package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerWritesJSONWithFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&Config{Level: "debug", Format: "json", Output: &buf})

	l.WithFields(map[string]interface{}{"worker_id": "w-1"}).
		Error(errors.New("smtp down"), "notification failed", "notification_id", "n-42")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "error", entry["level"])
	assert.Equal(t, "notification failed", entry["message"])
	assert.Equal(t, "smtp down", entry["error"])
	assert.Equal(t, "w-1", entry["worker_id"])
	assert.Equal(t, "n-42", entry["notification_id"])
}

func TestLoggerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&Config{Level: "warn", Output: &buf})

	l.Info("hidden")
	assert.Zero(t, buf.Len())

	l.Warn("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestUnknownLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&Config{Level: "chatty", Output: &buf})

	l.Debug("hidden")
	l.Info("visible")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "visible")
}
