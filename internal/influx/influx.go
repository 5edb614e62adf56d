// Package influx exports link metrics (latency samples and link state changes)
// to InfluxDB v2. When the server cannot be reached, points are appended to a
// gzip'd line-protocol backup file instead.
package influx

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	influxdb2_api "github.com/influxdata/influxdb-client-go/v2/api"
	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/influxdata/influxdb-client-go/v2/domain"
	"github.com/rs/zerolog"

	"github.com/OCAP2/arrowlink/internal/events"
	"github.com/OCAP2/arrowlink/pkg/core"
)

// Measurement names.
const (
	MeasurementLatency = "link_latency"
	MeasurementState   = "link_state"
)

// Config addresses the InfluxDB server.
type Config struct {
	URL        string
	Token      string
	Org        string
	Bucket     string
	BackupPath string // used when the server is unreachable; empty disables the fallback
}

// Manager handles the InfluxDB connection and writes.
type Manager struct {
	Client  influxdb2.Client
	Writer  influxdb2_api.WriteAPI
	IsValid bool
	Logger  zerolog.Logger

	cfg        Config
	mu         sync.Mutex
	backup     *gzip.Writer
	backupFile *os.File
}

// NewManager creates a new InfluxDB manager.
func NewManager(log zerolog.Logger, cfg Config) *Manager {
	return &Manager{Logger: log, cfg: cfg}
}

// Connect establishes a connection to InfluxDB, falling back to the backup
// file when the server does not answer.
func (m *Manager) Connect(ctx context.Context) error {
	if m.cfg.URL == "" {
		return errors.New("influx url is empty")
	}

	m.Client = influxdb2.NewClientWithOptions(
		m.cfg.URL,
		m.cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(100).
			SetFlushInterval(1000),
	)

	running, err := m.Client.Ping(ctx)
	if err != nil || !running {
		m.IsValid = false
		if m.cfg.BackupPath == "" {
			return fmt.Errorf("influxdb unreachable at %s: %v", m.cfg.URL, err)
		}
		m.Logger.Warn().Str("backupPath", m.cfg.BackupPath).
			Msg("Failed to reach InfluxDB, writing to backup file")

		file, err := os.OpenFile(m.cfg.BackupPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return fmt.Errorf("error creating backup file: %w", err)
		}
		m.backupFile = file
		m.backup = gzip.NewWriter(file)
		return nil
	}

	if err := m.ensureBucket(ctx); err != nil {
		return err
	}

	m.Writer = m.Client.WriteAPI(m.cfg.Org, m.cfg.Bucket)
	go func(errorsCh <-chan error) {
		for writeErr := range errorsCh {
			m.Logger.Error().Err(writeErr).Str("bucket", m.cfg.Bucket).
				Msg("Error sending data to InfluxDB")
		}
	}(m.Writer.Errors())

	m.IsValid = true
	m.Logger.Info().Str("bucket", m.cfg.Bucket).Msg("InfluxDB client initialized")
	return nil
}

func (m *Manager) ensureBucket(ctx context.Context) error {
	org, err := m.Client.OrganizationsAPI().FindOrganizationByName(ctx, m.cfg.Org)
	if err != nil {
		m.Logger.Info().Str("org", m.cfg.Org).Msg("Organization not found, creating")
		org, err = m.Client.OrganizationsAPI().CreateOrganizationWithName(ctx, m.cfg.Org)
		if err != nil {
			return fmt.Errorf("creating organization %q: %w", m.cfg.Org, err)
		}
	}

	if _, err := m.Client.BucketsAPI().FindBucketByName(ctx, m.cfg.Bucket); err == nil {
		return nil
	}

	m.Logger.Info().Str("bucket", m.cfg.Bucket).Msg("Bucket not found, creating")
	rule := domain.RetentionRuleTypeExpire
	_, err = m.Client.BucketsAPI().CreateBucketWithName(ctx, org, m.cfg.Bucket, domain.RetentionRule{
		Type:         &rule,
		EverySeconds: 60 * 60 * 24 * 30, // 30 days
	})
	if err != nil {
		return fmt.Errorf("creating bucket %q: %w", m.cfg.Bucket, err)
	}
	return nil
}

// WritePoint hands point to the async writer or appends it to the backup file.
func (m *Manager) WritePoint(point *influxdb2_write.Point) error {
	if m.IsValid {
		m.Writer.WritePoint(point)
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.backup == nil {
		return errors.New("influxDB client not initialized and backup writer not available")
	}
	line := strings.TrimRight(influxdb2_write.PointToLineProtocol(point, time.Millisecond), "\n")
	if _, err := m.backup.Write([]byte(line + "\n")); err != nil {
		return fmt.Errorf("error writing to InfluxDB backup file: %w", err)
	}
	return nil
}

// Close flushes pending points and releases the client and backup file.
func (m *Manager) Close() error {
	if m.Writer != nil {
		m.Writer.Flush()
	}
	if m.Client != nil {
		m.Client.Close()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.backup == nil {
		return nil
	}
	err := errors.Join(m.backup.Close(), m.backupFile.Close())
	m.backup = nil
	return err
}

// LatencyPoint builds the point for one round trip.
func LatencyPoint(sessionID string, role core.Role, millis int64, at time.Time) *influxdb2_write.Point {
	return influxdb2.NewPoint(MeasurementLatency,
		map[string]string{"session": sessionID, "role": role.String()},
		map[string]any{"millis": millis},
		at,
	)
}

// StatePoint builds the point for a link coming up (up=true) or going down.
func StatePoint(sessionID string, role core.Role, up bool, reason string, at time.Time) *influxdb2_write.Point {
	fields := map[string]any{"up": up}
	if reason != "" {
		fields["reason"] = reason
	}
	return influxdb2.NewPoint(MeasurementState,
		map[string]string{"session": sessionID, "role": role.String()},
		fields,
		at,
	)
}

// LinkInfo reports the identity of the current link.
type LinkInfo interface {
	SessionID() string
	Role() core.Role
}

// Sink turns link events into points. Poses are not exported.
type Sink struct {
	m    *Manager
	info LinkInfo
}

// NewSink creates a sink writing through m.
func NewSink(m *Manager, info LinkInfo) *Sink {
	return &Sink{m: m, info: info}
}

// Emit writes the point for e, if any.
func (s *Sink) Emit(e core.Event) {
	var point *influxdb2_write.Point
	switch ev := e.(type) {
	case core.LatencyMeasured:
		point = LatencyPoint(s.info.SessionID(), s.info.Role(), ev.Millis, ev.At)
	case core.Connected:
		point = StatePoint(s.info.SessionID(), ev.Role, true, "", ev.At)
	case core.PeerDisconnected:
		point = StatePoint(s.info.SessionID(), s.info.Role(), false, ev.Reason, ev.At)
	default:
		return
	}
	if err := s.m.WritePoint(point); err != nil {
		s.m.Logger.Debug().Err(err).Str("event", e.EventName()).Msg("Metric point dropped")
	}
}

var _ events.Sink = (*Sink)(nil)
