package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBufferLogger(level LogLevel) (*AgentRelayLogger, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	cfg := DefaultLoggerConfig()
	cfg.Level = level
	cfg.Output = buf
	cfg.AddSource = false
	return NewLogger(cfg), buf
}

func decodeEntries(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var entries []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		entries = append(entries, entry)
	}
	return entries
}

func TestLogger_KeyValueArgs(t *testing.T) {
	l, buf := newBufferLogger(LogLevelInfo)

	l.Info("Message acknowledged", "message_id", "m1", "retries", 2)

	entries := decodeEntries(t, buf)
	require.Len(t, entries, 1)
	assert.Equal(t, "Message acknowledged", entries[0]["msg"])
	assert.Equal(t, "m1", entries[0]["message_id"])
	assert.Equal(t, 2.0, entries[0]["retries"])
}

func TestLogger_LevelFiltering(t *testing.T) {
	l, buf := newBufferLogger(LogLevelWarn)

	l.Debug("dropped")
	l.Info("dropped too")
	l.Warn("kept")

	entries := decodeEntries(t, buf)
	require.Len(t, entries, 1)
	assert.Equal(t, "kept", entries[0]["msg"])
	assert.Equal(t, "WARN", entries[0]["level"])
}

func TestLogger_WithComponentAndTrace(t *testing.T) {
	base, buf := newBufferLogger(LogLevelInfo)

	bound := base.WithComponent("router").WithTrace("t-1", "writer").WithContext("cycle", 3)
	bound.Info("hello")
	base.Info("plain")

	entries := decodeEntries(t, buf)
	require.Len(t, entries, 2)
	assert.Equal(t, "router", entries[0]["component"])
	assert.Equal(t, "t-1", entries[0]["trace_id"])
	assert.Equal(t, "writer", entries[0]["agent"])
	assert.Equal(t, 3.0, entries[0]["cycle"])
	assert.NotContains(t, entries[1], "component", "With* must not mutate the base logger")
}

func TestLogger_LogDelivery(t *testing.T) {
	l, buf := newBufferLogger(LogLevelInfo)

	l.LogDelivery("m1", "writer", 0, true, "")
	l.LogDelivery("m2", "writer", 3, false, "ack timeout after retries")

	entries := decodeEntries(t, buf)
	require.Len(t, entries, 2)
	assert.Equal(t, "Message delivered", entries[0]["msg"])
	assert.Equal(t, true, entries[0]["success"])
	assert.Equal(t, "Message delivery failed", entries[1]["msg"])
	assert.Equal(t, "WARN", entries[1]["level"])
	assert.Equal(t, "ack timeout after retries", entries[1]["reason"])
	assert.Equal(t, 3.0, entries[1]["retries"])
}

func TestLogger_LogRecovery(t *testing.T) {
	l, buf := newBufferLogger(LogLevelInfo)

	l.LogRecovery("step_repetition", "reset_and_skip", true, nil)
	l.LogRecovery("role_violation", "", false, errors.New("no strategy"))

	entries := decodeEntries(t, buf)
	require.Len(t, entries, 2)
	assert.Equal(t, "Recovery completed", entries[0]["msg"])
	assert.Equal(t, "reset_and_skip", entries[0]["strategy"])
	assert.Equal(t, "Recovery failed", entries[1]["msg"])
	assert.Equal(t, "no strategy", entries[1]["error"])
}

func TestLogger_LogLLMCall(t *testing.T) {
	l, buf := newBufferLogger(LogLevelInfo)

	l.LogLLMCall("mock-model", 42, 80*time.Millisecond, false, nil)
	l.LogLLMCall("mock-model", 0, 0, false, errors.New("rate limited"))

	entries := decodeEntries(t, buf)
	require.Len(t, entries, 2)
	assert.Equal(t, "LLM call completed", entries[0]["msg"])
	assert.Equal(t, "mock-model", entries[0]["model"])
	assert.Equal(t, 42.0, entries[0]["token_count"])
	assert.Equal(t, "LLM call failed", entries[1]["msg"])
	assert.Equal(t, "ERROR", entries[1]["level"])
}

func TestLogger_TextFormat(t *testing.T) {
	buf := &bytes.Buffer{}
	cfg := DefaultLoggerConfig()
	cfg.Format = "text"
	cfg.Output = buf
	cfg.AddSource = false

	NewLogger(cfg).Info("hello", "k", "v")

	assert.Contains(t, buf.String(), "msg=hello")
	assert.Contains(t, buf.String(), "k=v")
}

func TestLogLevel_String(t *testing.T) {
	assert.Equal(t, "DEBUG", LogLevelDebug.String())
	assert.Equal(t, "ERROR", LogLevelError.String())
	assert.Equal(t, "UNKNOWN", LogLevel(42).String())
}
