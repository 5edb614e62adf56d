// Package sampler periodically turns camera captures into poses. Ticks that
// arrive while a capture is still running are skipped, never queued.
package sampler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/OCAP2/arrowlink/internal/geometry"
	"github.com/OCAP2/arrowlink/internal/vision"
	"github.com/OCAP2/arrowlink/pkg/core"
)

const (
	DefaultInterval       = 200 * time.Millisecond
	DefaultCaptureTimeout = time.Second
)

// ErrBusy is returned by SampleOnce while another cycle is in flight.
var ErrBusy = errors.New("sampling cycle in flight")

// Stats counts sampler activity since construction.
type Stats struct {
	Ticks       uint64 `json:"ticks"`
	Cycles      uint64 `json:"cycles"`
	Skipped     uint64 `json:"skipped"`
	Unavailable uint64 `json:"unavailable"`
	NotFound    uint64 `json:"notFound"`
	Degenerate  uint64 `json:"degenerate"`
	Failed      uint64 `json:"failed"`
}

// Option configures a Sampler.
type Option func(*Sampler)

// WithInterval sets the tick period.
func WithInterval(d time.Duration) Option {
	return func(s *Sampler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithCaptureTimeout bounds a single Capture call.
func WithCaptureTimeout(d time.Duration) Option {
	return func(s *Sampler) {
		if d > 0 {
			s.captureTimeout = d
		}
	}
}

// Sampler drives a Detector on a fixed period and publishes the computed pose.
type Sampler struct {
	detector       vision.Detector
	engine         *geometry.Engine
	publish        func(core.Pose)
	logger         *slog.Logger
	interval       time.Duration
	captureTimeout time.Duration

	inFlight atomic.Bool
	wg       sync.WaitGroup

	ticks       atomic.Uint64
	cycles      atomic.Uint64
	skipped     atomic.Uint64
	unavailable atomic.Uint64
	notFound    atomic.Uint64
	degenerate  atomic.Uint64
	failed      atomic.Uint64

	tickCounter        metric.Int64Counter
	skippedCounter     metric.Int64Counter
	unavailableCounter metric.Int64Counter
}

// New creates a sampler. publish receives every pose, including not-found ones.
func New(detector vision.Detector, engine *geometry.Engine, publish func(core.Pose), logger *slog.Logger, opts ...Option) (*Sampler, error) {
	if detector == nil || engine == nil || publish == nil {
		return nil, errors.New("sampler: detector, engine and publish are required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Sampler{
		detector:       detector,
		engine:         engine,
		publish:        publish,
		logger:         logger,
		interval:       DefaultInterval,
		captureTimeout: DefaultCaptureTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}

	m := meter()
	var err error
	s.tickCounter, err = m.Int64Counter("sampler.ticks",
		metric.WithDescription("Sampling ticks fired"))
	if err != nil {
		return nil, fmt.Errorf("creating ticks counter: %w", err)
	}
	s.skippedCounter, err = m.Int64Counter("sampler.ticks.skipped",
		metric.WithDescription("Ticks skipped because a cycle was still running"))
	if err != nil {
		return nil, fmt.Errorf("creating skipped counter: %w", err)
	}
	s.unavailableCounter, err = m.Int64Counter("sampler.capture.unavailable",
		metric.WithDescription("Captures that found the camera unavailable"))
	if err != nil {
		return nil, fmt.Errorf("creating unavailable counter: %w", err)
	}
	return s, nil
}

// Interval returns the tick period.
func (s *Sampler) Interval() time.Duration {
	return s.interval
}

// Run ticks until ctx is done, then waits for any running cycle.
func (s *Sampler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("Sampler started", "interval", s.interval)
	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			s.logger.Info("Sampler stopped", "ticks", s.ticks.Load(), "skipped", s.skipped.Load())
			return ctx.Err()
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Sampler) tick(ctx context.Context) {
	s.ticks.Add(1)
	s.tickCounter.Add(ctx, 1)

	if !s.inFlight.CompareAndSwap(false, true) {
		s.skipped.Add(1)
		s.skippedCounter.Add(ctx, 1)
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.inFlight.Store(false)
		s.cycle(ctx)
	}()
}

func (s *Sampler) cycle(ctx context.Context) {
	pose, err := s.sample(ctx)
	if err != nil {
		if errors.Is(err, vision.ErrUnavailable) {
			s.logger.Debug("Camera unavailable, tick skipped", "error", err)
		} else if ctx.Err() == nil {
			s.logger.Warn("Capture failed", "error", err)
		}
		return
	}
	s.publish(pose)
}

// SampleOnce runs one cycle synchronously and returns its pose without
// publishing it. It fails with ErrBusy if a cycle is already running.
func (s *Sampler) SampleOnce(ctx context.Context) (core.Pose, error) {
	if !s.inFlight.CompareAndSwap(false, true) {
		return core.Pose{}, ErrBusy
	}
	defer s.inFlight.Store(false)
	return s.sample(ctx)
}

func (s *Sampler) sample(ctx context.Context) (core.Pose, error) {
	s.cycles.Add(1)

	cctx, cancel := context.WithTimeout(ctx, s.captureTimeout)
	defer cancel()

	corners, found, err := s.detector.Capture(cctx)
	if err != nil {
		if errors.Is(err, vision.ErrUnavailable) {
			s.unavailable.Add(1)
			s.unavailableCounter.Add(ctx, 1)
		} else {
			s.failed.Add(1)
		}
		return core.Pose{}, fmt.Errorf("capture: %w", err)
	}
	if !found {
		s.notFound.Add(1)
		return core.NotFound(), nil
	}

	pose, err := s.engine.Compute(corners)
	if err != nil {
		if errors.Is(err, geometry.ErrDegenerate) {
			s.degenerate.Add(1)
			return core.NotFound(), nil
		}
		s.failed.Add(1)
		return core.Pose{}, err
	}
	return pose, nil
}

// Stats returns a copy of the counters.
func (s *Sampler) Stats() Stats {
	return Stats{
		Ticks:       s.ticks.Load(),
		Cycles:      s.cycles.Load(),
		Skipped:     s.skipped.Load(),
		Unavailable: s.unavailable.Load(),
		NotFound:    s.notFound.Load(),
		Degenerate:  s.degenerate.Load(),
		Failed:      s.failed.Load(),
	}
}
