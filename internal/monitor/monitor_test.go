package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OCAP2/arrowlink/internal/linkstats"
	"github.com/OCAP2/arrowlink/internal/registry"
	"github.com/OCAP2/arrowlink/pkg/core"
)

type stubSession struct {
	state core.LinkState
	err   error
	pings int
}

func (s *stubSession) ID() string            { return "s-1" }
func (s *stubSession) State() core.LinkState { return s.state }
func (s *stubSession) Remote() string        { return "pipe" }
func (s *stubSession) MeasureLatency() error {
	s.pings++
	return s.err
}

func TestRouter_Status(t *testing.T) {
	reg := registry.New(core.RoleHost)
	reg.SetSession(&stubSession{state: core.StateConnected})
	reg.SetOwnPose(core.Pose{X: 1, Y: 2, Z: 30, Found: true})
	reg.SetLatency(17)

	store, err := linkstats.Open(linkstats.Config{Path: ":memory:"}, nil)
	require.NoError(t, err)
	defer store.Close()
	require.NoError(t, store.RecordLatency(context.Background(), "s-1", "host", 17, time.Now()))

	svc := NewService(Dependencies{Registry: reg, LinkStats: store})
	rec := httptest.NewRecorder()
	svc.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "connected", body["state"])
	assert.Equal(t, "host", body["role"])
	assert.Equal(t, "s-1", body["sessionId"])
	assert.Equal(t, float64(17), body["latencyMillis"])
	summary, ok := body["latencySummary"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(1), summary["Count"])
}

func TestRouter_Latency(t *testing.T) {
	reg := registry.New(core.RolePeer)
	svc := NewService(Dependencies{Registry: reg})
	router := svc.Router()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/latency", nil))
	assert.Equal(t, http.StatusConflict, rec.Code)

	sess := &stubSession{state: core.StateConnected}
	reg.SetSession(sess)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/latency", nil))
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, 1, sess.pings)

	sess.err = errors.New("not connected")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/latency", nil))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "not connected")

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/latency", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestService_StartWritesStatusFile(t *testing.T) {
	reg := registry.New(core.RoleHost)
	path := filepath.Join(t.TempDir(), "status.json")
	svc := NewService(Dependencies{Registry: reg, StatusFile: path, Interval: 5 * time.Millisecond})

	require.NoError(t, svc.Start())
	require.NoError(t, svc.Start())
	assert.True(t, svc.IsRunning())

	require.Eventually(t, func() bool {
		raw, err := os.ReadFile(path)
		return err == nil && len(raw) > 0 && json.Valid(raw)
	}, 2*time.Second, 5*time.Millisecond)

	svc.Stop()
	assert.False(t, svc.IsRunning())
	svc.Stop()
}
