// Package linkstats keeps a small history of link quality: latency samples
// and connect/disconnect events. Poses are never stored.
package linkstats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ErrUnknownBackend is returned by Open for an unsupported Config.Type.
var ErrUnknownBackend = errors.New("unknown storage backend")

// Config selects and addresses the database.
type Config struct {
	Type string // "sqlite" or "postgres"
	Path string // sqlite file; ":memory:" for a private in-memory database
	DSN  string // postgres connection string
}

// Store persists link statistics through gorm.
type Store struct {
	db     *gorm.DB
	logger *slog.Logger
}

// Open connects to the configured database and migrates the schema.
func Open(cfg Config, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}

	var (
		db  *gorm.DB
		err error
	)
	switch cfg.Type {
	case "", "sqlite":
		db, err = openSqlite(cfg.Path)
	case "postgres":
		db, err = openPostgres(cfg.DSN)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Type)
	}
	if err != nil {
		return nil, err
	}

	s, err := New(db, log)
	if err != nil {
		return nil, err
	}
	log.Info("Link statistics store ready", "backend", db.Dialector.Name())
	return s, nil
}

// New wraps an open gorm connection and migrates the schema.
func New(db *gorm.DB, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	if err := db.AutoMigrate(Models...); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}
	return &Store{db: db, logger: log}, nil
}

func openSqlite(path string) (*gorm.DB, error) {
	dsn := path
	memory := path == "" || path == ":memory:"
	if memory {
		dsn = "file:linkstats-" + uuid.NewString() + "?mode=memory&cache=shared"
	}
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		PrepareStmt:            true,
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}

	if memory {
		return db, nil
	}
	pragmas := []string{
		"PRAGMA journal_mode = WAL;",
		"PRAGMA synchronous = NORMAL;",
	}
	for _, pragma := range pragmas {
		if err := db.Exec(pragma).Error; err != nil {
			return nil, fmt.Errorf("error setting PRAGMA: %w", err)
		}
	}
	return db, nil
}

func openPostgres(dsn string) (*gorm.DB, error) {
	if dsn == "" {
		return nil, errors.New("postgres storage requires a dsn")
	}
	db, err := gorm.Open(postgres.New(postgres.Config{
		DSN:                  dsn,
		PreferSimpleProtocol: true,
	}), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("opening postgres: %w", err)
	}
	return db, nil
}

// RecordLatency stores one round trip.
func (s *Store) RecordLatency(ctx context.Context, sessionID, role string, millis int64, at time.Time) error {
	row := LatencySample{SessionID: sessionID, Role: role, Millis: millis, MeasuredAt: at.UTC()}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("recording latency: %w", err)
	}
	return nil
}

// RecordEvent stores a link event with detail encoded as JSON.
func (s *Store) RecordEvent(ctx context.Context, sessionID, role, kind string, detail map[string]string, at time.Time) error {
	raw, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("encoding detail: %w", err)
	}
	row := LinkEvent{
		SessionID: sessionID,
		Role:      role,
		Kind:      kind,
		Detail:    datatypes.JSON(raw),
		At:        at.UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("recording link event: %w", err)
	}
	return nil
}

// Latency summarises the samples recorded for sessionID.
func (s *Store) Latency(ctx context.Context, sessionID string) (LatencySummary, error) {
	var sum LatencySummary
	err := s.db.WithContext(ctx).Model(&LatencySample{}).
		Select("COUNT(*) AS count, COALESCE(MIN(millis), 0) AS min, COALESCE(MAX(millis), 0) AS max, COALESCE(AVG(millis), 0) AS avg").
		Where("session_id = ?", sessionID).
		Scan(&sum).Error
	if err != nil {
		return LatencySummary{}, fmt.Errorf("summarising latency: %w", err)
	}
	return sum, nil
}

// Events returns the events of sessionID, oldest first.
func (s *Store) Events(ctx context.Context, sessionID string) ([]LinkEvent, error) {
	var out []LinkEvent
	err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("at ASC, id ASC").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("listing link events: %w", err)
	}
	return out, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
