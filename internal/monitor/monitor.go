// Package monitor reports the live link status: a periodic status line in the
// log, an optional status file, and a small HTTP API.
package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"github.com/OCAP2/arrowlink/internal/linkstats"
	"github.com/OCAP2/arrowlink/internal/registry"
)

// Dependencies holds all dependencies for the monitor service
type Dependencies struct {
	Registry   *registry.Registry
	Logger     *slog.Logger
	LinkStats  *linkstats.Store // optional
	StatusFile string           // optional; rewritten on every tick
	Interval   time.Duration
}

// Status is the document served by GET /status.
type Status struct {
	registry.Snapshot
	LatencySummary *linkstats.LatencySummary `json:"latencySummary,omitempty"`
}

// Service manages status monitoring
type Service struct {
	deps      Dependencies
	isRunning bool
	mu        sync.RWMutex
	stopChan  chan struct{}
	done      chan struct{}
}

// NewService creates a new monitor service
func NewService(deps Dependencies) *Service {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Interval <= 0 {
		deps.Interval = 30 * time.Second
	}
	return &Service{deps: deps}
}

// IsRunning returns whether the status monitor is running
func (s *Service) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// Status returns the current link status.
func (s *Service) Status(ctx context.Context) Status {
	st := Status{Snapshot: s.deps.Registry.Snapshot()}
	if s.deps.LinkStats != nil && st.SessionID != "" {
		sum, err := s.deps.LinkStats.Latency(ctx, st.SessionID)
		if err != nil {
			s.deps.Logger.Debug("Latency summary unavailable", "error", err)
		} else if sum.Count > 0 {
			st.LatencySummary = &sum
		}
	}
	return st
}

// Start starts the status monitor goroutine
func (s *Service) Start() error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = true
	s.stopChan = make(chan struct{})
	s.done = make(chan struct{})
	stop, done := s.stopChan, s.done
	s.mu.Unlock()

	go func() {
		defer close(done)
		defer func() {
			s.mu.Lock()
			s.isRunning = false
			s.mu.Unlock()
		}()

		logger := s.deps.Logger
		logger.Debug("Starting status monitor", "interval", s.deps.Interval)

		ticker := time.NewTicker(s.deps.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				s.report(logger)
			}
		}
	}()

	return nil
}

func (s *Service) report(logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	st := s.Status(ctx)

	attrs := []any{
		"state", st.State,
		"own", st.OwnPose.String(),
		"peer", st.PeerPose.String(),
	}
	if st.Heading != nil {
		attrs = append(attrs, "heading", *st.Heading)
	}
	if st.LatencyMillis != nil {
		attrs = append(attrs, "latencyMs", *st.LatencyMillis)
	}
	if st.Sampler != nil {
		attrs = append(attrs, "ticks", st.Sampler.Ticks, "skipped", st.Sampler.Skipped)
	}
	logger.Info("Link status", attrs...)

	if s.deps.StatusFile == "" {
		return
	}
	raw, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		logger.Error("Error encoding status", "error", err)
		return
	}
	if err := os.WriteFile(s.deps.StatusFile, append(raw, '\n'), 0644); err != nil {
		logger.Error("Error writing status file", "error", err)
	}
}

// Stop stops the status monitor and waits for it to exit.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	close(s.stopChan)
	done := s.done
	s.mu.Unlock()
	<-done
}

// Router exposes the status API.
func (s *Service) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/latency", s.handleLatency).Methods(http.MethodPost)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}).Methods(http.MethodGet)
	return r
}

func (s *Service) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Status(r.Context()))
}

// errNoSession mirrors the session's not-connected condition without importing it.
var errNoSession = errors.New("no active session")

func (s *Service) handleLatency(w http.ResponseWriter, _ *http.Request) {
	sess := s.deps.Registry.Session()
	err := errNoSession
	if sess != nil {
		err = sess.MeasureLatency()
	}
	if err != nil {
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "ping sent"})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
