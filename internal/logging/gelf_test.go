package logging

import (
	"context"
	"log/slog"
	"sync"
	"testing"

	"github.com/Graylog2/go-gelf/gelf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureWriter struct {
	mu   sync.Mutex
	msgs []*gelf.Message
}

func (w *captureWriter) WriteMessage(m *gelf.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.msgs = append(w.msgs, m)
	return nil
}

func TestGELFHandler_Message(t *testing.T) {
	w := &captureWriter{}
	logger := slog.New(newGELFHandler(w, slog.LevelDebug)).With("role", "host")

	logger.WithGroup("link").Warn("Peer disconnected", "reason", "eof", "attempt", 2, slog.Group("pose", "x", 1.5))

	require.Len(t, w.msgs, 1)
	m := w.msgs[0]
	assert.Equal(t, "1.1", m.Version)
	assert.Equal(t, "Peer disconnected", m.Short)
	assert.Equal(t, gelfWarning, m.Level)
	assert.Equal(t, ServiceName, m.Facility)
	assert.Equal(t, "host", m.Extra["_role"])
	assert.Equal(t, "eof", m.Extra["_link.reason"])
	assert.Equal(t, int64(2), m.Extra["_link.attempt"])
	assert.Equal(t, 1.5, m.Extra["_link.pose.x"])
	assert.NotZero(t, m.TimeUnix)
}

func TestGELFHandler_Enabled(t *testing.T) {
	h := newGELFHandler(&captureWriter{}, slog.LevelWarn)

	assert.False(t, h.Enabled(context.Background(), slog.LevelInfo))
	assert.True(t, h.Enabled(context.Background(), slog.LevelError))
	assert.NoError(t, h.Close())
}

func TestGELFLevel(t *testing.T) {
	assert.Equal(t, gelfDebug, gelfLevel(slog.LevelDebug))
	assert.Equal(t, gelfInfo, gelfLevel(slog.LevelInfo))
	assert.Equal(t, gelfWarning, gelfLevel(slog.LevelWarn))
	assert.Equal(t, gelfError, gelfLevel(slog.LevelError+4))
}

func TestGELFField_ReservedID(t *testing.T) {
	extra := map[string]any{}
	addGELFField(extra, "", slog.String("id", "x"))
	assert.Equal(t, map[string]any{"_id_": "x"}, extra)
}
