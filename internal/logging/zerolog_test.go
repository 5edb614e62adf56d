package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OCAP2/arrowlink/internal/dispatcher"
)

var _ dispatcher.Logger = (*ZerologAdapter)(nil)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestZerologAdapter_Levels(t *testing.T) {
	tests := []struct {
		level string
		log   func(a *ZerologAdapter)
	}{
		{"debug", func(a *ZerologAdapter) { a.Debug("msg", "k", "v") }},
		{"info", func(a *ZerologAdapter) { a.Info("msg", "k", "v") }},
		{"warn", func(a *ZerologAdapter) { a.Warn("msg", "k", "v") }},
		{"error", func(a *ZerologAdapter) { a.Error("msg", "k", "v") }},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			var buf bytes.Buffer
			a := NewZerologAdapter(NewZerolog(&buf, "debug"))

			tt.log(a)

			entry := decodeLine(t, &buf)
			assert.Equal(t, tt.level, entry["level"])
			assert.Equal(t, "msg", entry["message"])
			assert.Equal(t, "v", entry["k"])
			assert.Equal(t, ServiceName, entry["service"])
		})
	}
}

func TestZerologAdapter_FiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	a := NewZerologAdapter(NewZerolog(&buf, "WARN"))

	a.Info("hidden")
	assert.Empty(t, buf.String())

	a.Warn("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestZerolog_UnknownLevelDefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	a := NewZerologAdapter(NewZerolog(&buf, "chatty"))

	a.Debug("hidden")
	assert.Empty(t, buf.String())
	a.Info("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestToFields(t *testing.T) {
	fields := toFields([]any{"a", 1, 2, "skipped", "err", errors.New("boom"), "dangling"})

	assert.Equal(t, map[string]any{"a": 1, "err": "boom"}, fields)
}
