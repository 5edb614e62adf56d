package linkstats

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OCAP2/arrowlink/pkg/core"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Config{Type: "sqlite", Path: ":memory:"}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_Latency(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for _, ms := range []int64{40, 10, 25} {
		require.NoError(t, s.RecordLatency(ctx, "s-1", "host", ms, at))
	}
	require.NoError(t, s.RecordLatency(ctx, "s-2", "host", 900, at))

	sum, err := s.Latency(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), sum.Count)
	assert.Equal(t, int64(10), sum.Min)
	assert.Equal(t, int64(40), sum.Max)
	assert.InDelta(t, 25.0, sum.Avg, 1e-9)

	empty, err := s.Latency(ctx, "nope")
	require.NoError(t, err)
	assert.Equal(t, LatencySummary{}, empty)
}

func TestStore_Events(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.RecordEvent(ctx, "s-1", "peer", KindDisconnected, map[string]string{"reason": "eof"}, t0.Add(time.Minute)))
	require.NoError(t, s.RecordEvent(ctx, "s-1", "peer", KindConnected, map[string]string{"remote": "pipe"}, t0))

	evs, err := s.Events(ctx, "s-1")
	require.NoError(t, err)
	require.Len(t, evs, 2)
	assert.Equal(t, KindConnected, evs[0].Kind)
	assert.Equal(t, KindDisconnected, evs[1].Kind)

	var detail map[string]string
	require.NoError(t, json.Unmarshal(evs[1].Detail, &detail))
	assert.Equal(t, "eof", detail["reason"])
}

func TestOpen_FileBackedSqlite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stats.db")
	s, err := Open(Config{Type: "sqlite", Path: path}, nil)
	require.NoError(t, err)
	require.NoError(t, s.RecordLatency(context.Background(), "s-1", "host", 5, time.Now()))
	require.NoError(t, s.Close())

	reopened, err := Open(Config{Path: path}, nil)
	require.NoError(t, err)
	defer reopened.Close()
	sum, err := reopened.Latency(context.Background(), "s-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), sum.Count)
}

func TestOpen_Errors(t *testing.T) {
	_, err := Open(Config{Type: "mongo"}, nil)
	assert.ErrorIs(t, err, ErrUnknownBackend)

	_, err = Open(Config{Type: "postgres"}, nil)
	assert.Error(t, err)
}

func TestRecorder_PersistsLinkEventsOnly(t *testing.T) {
	s := openTestStore(t)
	id := "s-9"
	rec := NewRecorder(s, LinkInfoFunc{
		ID:      func() string { return id },
		RoleFor: func() core.Role { return core.RoleHost },
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rec.Run(ctx) }()

	now := time.Now()
	rec.Emit(core.Connected{At: now, Role: core.RoleHost, Remote: "10.0.0.2"})
	rec.Emit(core.OwnPoseChanged{At: now, Pose: core.Pose{X: 1, Found: true}})
	rec.Emit(core.PeerPoseChanged{At: now, Pose: core.Pose{X: 2, Found: true}})
	rec.Emit(core.BearingChanged{At: now, Degrees: 10})
	rec.Emit(core.LatencyMeasured{At: now, Millis: 33})
	rec.Emit(core.PeerDisconnected{At: now.Add(time.Second), Reason: "stream failure"})
	id = "s-10" // later link changes do not rewrite queued events

	require.Eventually(t, func() bool {
		evs, err := s.Events(context.Background(), "s-9")
		return err == nil && len(evs) == 2
	}, 2*time.Second, 5*time.Millisecond)

	sum, err := s.Latency(context.Background(), "s-9")
	require.NoError(t, err)
	assert.Equal(t, int64(1), sum.Count)
	assert.Equal(t, int64(33), sum.Max)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.Equal(t, 0, rec.Pending())
}
