package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/OCAP2/arrowlink/internal/config"
	"github.com/OCAP2/arrowlink/internal/events"
	"github.com/OCAP2/arrowlink/internal/geometry"
	"github.com/OCAP2/arrowlink/internal/influx"
	"github.com/OCAP2/arrowlink/internal/linkstats"
	"github.com/OCAP2/arrowlink/internal/logging"
	"github.com/OCAP2/arrowlink/internal/monitor"
	"github.com/OCAP2/arrowlink/internal/otel"
	"github.com/OCAP2/arrowlink/internal/registry"
	"github.com/OCAP2/arrowlink/internal/sampler"
	"github.com/OCAP2/arrowlink/internal/session"
	"github.com/OCAP2/arrowlink/internal/transport"
	"github.com/OCAP2/arrowlink/internal/vision"
	"github.com/OCAP2/arrowlink/pkg/core"
)

var errPeerLost = errors.New("peer disconnected")

// app holds every component of one running device.
type app struct {
	opts   options
	stdout io.Writer

	logger    *slog.Logger
	slogMgr   *logging.SlogManager
	zlog      zerolog.Logger
	telemetry *otel.Provider
	gelf      *logging.GELFHandler
	files     []*os.File

	reg      *registry.Registry
	sess     *session.Session
	sampler  *sampler.Sampler
	store    *linkstats.Store
	recorder *linkstats.Recorder
	influx   *influx.Manager
	monitor  *monitor.Service
	ui       *events.Mailbox
	servers  []*http.Server

	down chan core.PeerDisconnected
}

func newApp(opts options, stdout io.Writer) (*app, error) {
	a := &app{
		opts:   opts,
		stdout: stdout,
		reg:    registry.New(opts.role),
		down:   make(chan core.PeerDisconnected, 1),
	}
	steps := []func() error{
		a.setupLogging,
		a.setupSession,
		a.setupSampler,
		a.setupStats,
		a.setupSinks,
		a.setupMonitor,
	}
	for _, step := range steps {
		if err := step(); err != nil {
			a.close()
			return nil, err
		}
	}
	return a, nil
}

func (a *app) setupLogging() error {
	level := config.GetString("logLevel")
	logsDir := config.GetString("logsDir")
	role := a.opts.role.String()
	start := time.Now()

	if err := os.MkdirAll(logsDir, 0755); err != nil {
		return fmt.Errorf("creating logs directory: %w", err)
	}
	logFile, err := a.openFile(logging.LogFilePath(logsDir, logging.ServiceName, role, start))
	if err != nil {
		return err
	}

	// The dashboard owns the terminal; otherwise mirror the log to stdout.
	var out io.Writer = logFile
	if !a.opts.tui {
		out = io.MultiWriter(logFile, a.stdout)
	}

	oc := config.GetOTelConfig()
	otelCfg := otel.Config{
		Enabled:      oc.Enabled,
		ServiceName:  oc.ServiceName,
		Role:         role,
		BatchTimeout: oc.BatchTimeout,
		Endpoint:     oc.Endpoint,
		Insecure:     oc.Insecure,
	}
	if oc.Enabled {
		otelFile, err := a.openFile(logging.LogFilePath(logsDir, logging.ServiceName+".otel", role, start))
		if err != nil {
			return err
		}
		otelCfg.LogWriter = otelFile

		metricsFile, err := a.openFile(logging.LogFilePath(logsDir, logging.ServiceName+".metrics", role, start))
		if err != nil {
			return err
		}
		otelCfg.MetricWriter = metricsFile
		otelCfg.MetricInterval = oc.MetricInterval
	}
	a.telemetry, err = otel.New(otelCfg)
	if err != nil {
		return fmt.Errorf("setting up OTel: %w", err)
	}

	var lvl slog.Level
	_ = lvl.UnmarshalText([]byte(level))

	var gelfErr error
	if gc := config.GetGraylogConfig(); gc.Enabled {
		a.gelf, gelfErr = logging.NewGELFHandler(gc.Address, lvl)
	}

	a.slogMgr = logging.NewSlogManager()
	a.slogMgr.Setup(out, level, a.telemetry.LoggerProvider(),
		logging.WithGraylog(a.gelf),
		logging.WithContext(a.reg.LogAttrs),
	)
	a.logger = a.slogMgr.Logger()
	if gelfErr != nil {
		a.logger.Warn("Graylog disabled", "error", gelfErr)
	}

	a.zlog = logging.NewZerolog(out, level)
	return nil
}

func (a *app) openFile(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	a.files = append(a.files, f)
	return f, nil
}

func (a *app) setupSession() error {
	var opts []session.Option
	if config.GetString("logging.backend") == "zerolog" {
		opts = append(opts, session.WithDispatchLogger(logging.NewZerologAdapter(a.zlog)))
	}
	sess, err := session.New(a.reg, a.logger, opts...)
	if err != nil {
		return err
	}
	a.sess = sess
	return nil
}

// startPose places the simulated marker so the two devices see each other at
// different spots of the shared frame.
func startPose(role core.Role) core.Pose {
	if role == core.RoleHost {
		return core.Pose{X: -8, Y: 0, Z: 45, Found: true}
	}
	return core.Pose{X: 8, Y: 4, Z: 50, RotationDeg: 90, Found: true}
}

func (a *app) setupSampler() error {
	cal := config.GetCalibration()
	engine, err := geometry.New(cal)
	if err != nil {
		return fmt.Errorf("calibration: %w", err)
	}

	detector := vision.NewSynthetic(cal, startPose(a.opts.role))
	detector.SetDrift(vision.Drift{Radius: 6, Period: 30 * time.Second, SpinDegPS: 4})

	sc := config.GetSamplerConfig()
	a.sampler, err = sampler.New(detector, engine, a.sess.PublishOwnPose, a.logger,
		sampler.WithInterval(sc.Interval),
		sampler.WithCaptureTimeout(sc.CaptureTimeout),
	)
	if err != nil {
		return err
	}
	a.reg.SetSampler(a.sampler)
	return nil
}

// setupStats opens the optional latency history and metrics export. Neither
// is required for the link, so failures are logged and the feature skipped.
func (a *app) setupStats() error {
	if sc := config.GetStorageConfig(); sc.Enabled {
		store, err := linkstats.Open(linkstats.Config{Type: sc.Type, Path: sc.Path, DSN: sc.DSN}, a.logger)
		if err != nil {
			a.logger.Warn("Link statistics disabled", "error", err)
		} else {
			a.store = store
			a.recorder = linkstats.NewRecorder(store, a.reg)
		}
	}

	if ic := config.GetInfluxConfig(); ic.Enabled {
		m := influx.NewManager(a.zlog, influx.Config{
			URL:        ic.URL,
			Token:      ic.Token,
			Org:        ic.Org,
			Bucket:     ic.Bucket,
			BackupPath: ic.BackupPath,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := m.Connect(ctx); err != nil {
			a.logger.Warn("Metrics export disabled", "error", err)
			_ = m.Close()
		} else {
			a.influx = m
		}
	}
	return nil
}

func (a *app) setupSinks() error {
	sinks := events.Fanout{
		events.NewLogSink(a.logger),
		events.Func(func(e core.Event) {
			if ev, ok := e.(core.PeerDisconnected); ok {
				select {
				case a.down <- ev:
				default:
				}
			}
		}),
	}
	if a.opts.tui {
		a.ui = events.NewMailbox()
		sinks = append(sinks, a.ui)
	}
	if a.recorder != nil {
		sinks = append(sinks, a.recorder)
	}
	if a.influx != nil {
		sinks = append(sinks, influx.NewSink(a.influx, a.reg))
	}
	a.reg.SetSink(sinks)
	return nil
}

func (a *app) setupMonitor() error {
	sc := config.GetStatusConfig()
	a.monitor = monitor.NewService(monitor.Dependencies{
		Registry:  a.reg,
		Logger:    a.logger,
		LinkStats: a.store,
		Interval:  sc.LogInterval,
	})
	if sc.Enabled {
		a.serve(sc.Address, a.monitor.Router())
	}
	return nil
}

func (a *app) serve(addr string, h http.Handler) {
	srv := &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: 5 * time.Second}
	a.servers = append(a.servers, srv)
	go func() {
		a.logger.Info("HTTP listener started", "address", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("HTTP listener failed", "address", addr, "error", err)
		}
	}()
}

// establish opens the link over the configured transport, giving up after
// the establish timeout.
func (a *app) establish(ctx context.Context, lc config.LinkConfig) error {
	if lc.EstablishTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, lc.EstablishTimeout)
		defer cancel()
	}

	a.logger.Info("Establishing link",
		"role", a.opts.role.String(), "transport", lc.Transport, "address", lc.Address)

	switch {
	case a.opts.role == core.RoleHost && lc.Transport == "tcp":
		acc, err := transport.ListenTCP(lc.Address)
		if err != nil {
			return err
		}
		defer acc.Close()
		a.logger.Info("Waiting for peer", "address", acc.Addr())
		return a.sess.Host(ctx, acc)

	case a.opts.role == core.RoleHost && lc.Transport == "ws":
		acc := transport.NewWebSocketAcceptor(lc.Path, a.logger)
		defer acc.Close()
		r := mux.NewRouter()
		acc.Register(r)
		a.serve(lc.Address, r)
		return a.sess.Host(ctx, acc)

	case lc.Transport == "tcp":
		return a.sess.Join(ctx, transport.TCPDialer{Addr: lc.Address})

	case lc.Transport == "ws":
		return a.sess.Join(ctx, transport.WebSocketDialer{URL: "ws://" + lc.Address + lc.Path})

	default:
		return fmt.Errorf("unknown link transport %q", lc.Transport)
	}
}

func (a *app) run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	// Sampling runs while the link is being established so the own pose is
	// current when the peer arrives.
	g.Go(func() error {
		return ignoreCanceled(a.sampler.Run(gctx))
	})
	if a.recorder != nil {
		g.Go(func() error {
			return ignoreCanceled(a.recorder.Run(gctx))
		})
	}
	if err := a.monitor.Start(); err != nil {
		cancel()
		_ = g.Wait()
		return err
	}
	defer a.monitor.Stop()

	if err := a.establish(gctx, config.GetLinkConfig()); err != nil {
		cancel()
		_ = g.Wait()
		return err
	}

	if a.ui != nil {
		g.Go(func() error {
			defer cancel()
			return runDashboard(gctx, a.reg, a.sess.MeasureLatency, a.ui, a.stdout)
		})
	} else {
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return nil
			case ev := <-a.down:
				return fmt.Errorf("%w: %s", errPeerLost, ev.Reason)
			}
		})
	}

	return g.Wait()
}

func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for _, srv := range a.servers {
		_ = srv.Shutdown(ctx)
	}
	if a.sess != nil {
		_ = a.sess.Close()
	}
	if a.ui != nil {
		a.ui.Close()
	}
	if a.influx != nil {
		_ = a.influx.Close()
	}
	if a.store != nil {
		_ = a.store.Close()
	}
	if a.logger != nil {
		a.logger.Info("Shutting down")
	}
	if a.slogMgr != nil {
		_ = a.slogMgr.Flush(ctx)
	}
	if a.telemetry != nil {
		_ = a.telemetry.Shutdown(ctx)
	}
	if a.gelf != nil {
		_ = a.gelf.Close()
	}
	for _, f := range a.files {
		_ = f.Close()
	}
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
