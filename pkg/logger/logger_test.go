package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogger_WritesJSONWithFields(t *testing.T) {
	var buf bytes.Buffer
	l := New(Options{Output: &buf, Level: LevelInfo}).With(Component("http"))

	l.Debug("hidden")
	l.Warn("alert approved", AlertID("a-1"), Subject("English"), Err(errors.New("dispatch failed")))

	var entry LogEntry
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "WARN", entry.Level)
	assert.Equal(t, "alert approved", entry.Message)
	assert.Equal(t, "http", entry.Fields["component"])
	assert.Equal(t, "a-1", entry.Fields["alert_id"])
	assert.Equal(t, "dispatch failed", entry.Fields["error"])
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelDebug, ParseLevel("debug"))
	assert.Equal(t, LevelWarn, ParseLevel(" warning "))
	assert.Equal(t, LevelError, ParseLevel("FATAL"))
	assert.Equal(t, LevelInfo, ParseLevel("verbose"))
}

func TestContextPropagation(t *testing.T) {
	var buf bytes.Buffer
	l := New(Options{Output: &buf}).WithRequestID("req-9")
	ctx := WithContext(context.Background(), l)

	FromContext(ctx).Info("hello")
	assert.Contains(t, buf.String(), `"request_id":"req-9"`)
	assert.NotNil(t, FromContext(context.Background()))
}
