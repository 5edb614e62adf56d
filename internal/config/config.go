// Package config loads arrowlink.cfg.json through viper and exposes typed views
// of each section.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/OCAP2/arrowlink/internal/geometry"
)

// FileName is the config file looked up in the config directory.
const FileName = "arrowlink.cfg.json"

// SetDefaults registers every default value. Load calls it; tests and hosts
// that run without a file may call it directly.
func SetDefaults() {
	viper.SetDefault("logLevel", "info")
	viper.SetDefault("logsDir", "./logs")
	viper.SetDefault("logging.backend", "slog")

	viper.SetDefault("graylog.enabled", false)
	viper.SetDefault("graylog.address", "localhost:12201")

	viper.SetDefault("otel.enabled", false)
	viper.SetDefault("otel.serviceName", "arrowlink")
	viper.SetDefault("otel.batchTimeout", "5s")
	viper.SetDefault("otel.endpoint", "")
	viper.SetDefault("otel.insecure", true)
	viper.SetDefault("otel.metricInterval", "30s")

	viper.SetDefault("calibration.markerSide", 18.0)
	viper.SetDefault("calibration.imageWidth", 640)
	viper.SetDefault("calibration.imageHeight", 480)
	viper.SetDefault("calibration.verticalFov", 54.8)
	viper.SetDefault("calibration.lensOffsetX", 0.0)
	viper.SetDefault("calibration.lensOffsetY", 0.0)
	viper.SetDefault("calibration.referenceHeight", 100.0)
	viper.SetDefault("calibration.screenOffsetX", 5.35)
	viper.SetDefault("calibration.screenOffsetY", 2.0)

	viper.SetDefault("sampler.interval", "200ms")
	viper.SetDefault("sampler.captureTimeout", "1s")

	viper.SetDefault("link.transport", "tcp")
	viper.SetDefault("link.address", "127.0.0.1:7420")
	viper.SetDefault("link.role", "host")
	viper.SetDefault("link.establishTimeout", "60s")
	viper.SetDefault("link.path", "/link")

	viper.SetDefault("storage.enabled", false)
	viper.SetDefault("storage.type", "sqlite")
	viper.SetDefault("storage.path", "./linkstats.db")
	viper.SetDefault("storage.dsn", "")

	viper.SetDefault("influx.enabled", false)
	viper.SetDefault("influx.url", "http://localhost:8086")
	viper.SetDefault("influx.token", "")
	viper.SetDefault("influx.org", "arrowlink")
	viper.SetDefault("influx.bucket", "link")
	viper.SetDefault("influx.backupPath", "")

	viper.SetDefault("status.enabled", false)
	viper.SetDefault("status.address", "127.0.0.1:7421")
	viper.SetDefault("status.logInterval", "30s")
}

// Load reads configuration from JSON file and sets default values.
// configDir is the directory containing the config file. A missing file is
// reported with an error satisfying IsNotFound; defaults stay in effect.
func Load(configDir string) error {
	SetDefaults()

	viper.SetConfigName(FileName)
	viper.AddConfigPath(configDir)
	viper.SetConfigType("json")

	if err := viper.ReadInConfig(); err != nil {
		return fmt.Errorf("error reading config file: %w", err)
	}
	return nil
}

// IsNotFound reports whether err means the config file does not exist.
func IsNotFound(err error) bool {
	var nf viper.ConfigFileNotFoundError
	return errors.As(err, &nf)
}

// GetString returns a string config value.
func GetString(key string) string {
	return viper.GetString(key)
}

// GetInt returns an int config value.
func GetInt(key string) int {
	return viper.GetInt(key)
}

// GetBool returns a bool config value.
func GetBool(key string) bool {
	return viper.GetBool(key)
}

// OTelConfig holds OpenTelemetry settings.
type OTelConfig struct {
	Enabled        bool
	ServiceName    string
	BatchTimeout   time.Duration
	Endpoint       string
	Insecure       bool
	MetricInterval time.Duration
}

// GetOTelConfig returns the otel section.
func GetOTelConfig() OTelConfig {
	return OTelConfig{
		Enabled:        viper.GetBool("otel.enabled"),
		ServiceName:    viper.GetString("otel.serviceName"),
		BatchTimeout:   viper.GetDuration("otel.batchTimeout"),
		Endpoint:       viper.GetString("otel.endpoint"),
		Insecure:       viper.GetBool("otel.insecure"),
		MetricInterval: viper.GetDuration("otel.metricInterval"),
	}
}

// GraylogConfig holds GELF shipping settings.
type GraylogConfig struct {
	Enabled bool
	Address string
}

// GetGraylogConfig returns the graylog section.
func GetGraylogConfig() GraylogConfig {
	return GraylogConfig{
		Enabled: viper.GetBool("graylog.enabled"),
		Address: viper.GetString("graylog.address"),
	}
}

// GetCalibration returns the camera and marker constants for the geometry engine.
func GetCalibration() geometry.Calibration {
	return geometry.Calibration{
		MarkerSide:      viper.GetFloat64("calibration.markerSide"),
		ImageWidth:      viper.GetFloat64("calibration.imageWidth"),
		ImageHeight:     viper.GetFloat64("calibration.imageHeight"),
		VerticalFOVDeg:  viper.GetFloat64("calibration.verticalFov"),
		LensOffsetX:     viper.GetFloat64("calibration.lensOffsetX"),
		LensOffsetY:     viper.GetFloat64("calibration.lensOffsetY"),
		ReferenceHeight: viper.GetFloat64("calibration.referenceHeight"),
		ScreenOffsetX:   viper.GetFloat64("calibration.screenOffsetX"),
		ScreenOffsetY:   viper.GetFloat64("calibration.screenOffsetY"),
	}
}

// SamplerConfig holds the pose sampling cadence.
type SamplerConfig struct {
	Interval       time.Duration
	CaptureTimeout time.Duration
}

// GetSamplerConfig returns the sampler section.
func GetSamplerConfig() SamplerConfig {
	return SamplerConfig{
		Interval:       viper.GetDuration("sampler.interval"),
		CaptureTimeout: viper.GetDuration("sampler.captureTimeout"),
	}
}

// LinkConfig describes how the two devices reach each other.
type LinkConfig struct {
	Transport        string
	Address          string
	Role             string
	EstablishTimeout time.Duration
	Path             string
}

// GetLinkConfig returns the link section.
func GetLinkConfig() LinkConfig {
	return LinkConfig{
		Transport:        viper.GetString("link.transport"),
		Address:          viper.GetString("link.address"),
		Role:             viper.GetString("link.role"),
		EstablishTimeout: viper.GetDuration("link.establishTimeout"),
		Path:             viper.GetString("link.path"),
	}
}

// StorageConfig selects the link statistics store.
type StorageConfig struct {
	Enabled bool
	Type    string // "sqlite" or "postgres"
	Path    string // sqlite file, ":memory:" allowed
	DSN     string // postgres connection string
}

// GetStorageConfig returns the storage section.
func GetStorageConfig() StorageConfig {
	return StorageConfig{
		Enabled: viper.GetBool("storage.enabled"),
		Type:    viper.GetString("storage.type"),
		Path:    viper.GetString("storage.path"),
		DSN:     viper.GetString("storage.dsn"),
	}
}

// InfluxConfig holds the InfluxDB v2 connection.
type InfluxConfig struct {
	Enabled bool
	URL     string
	Token   string
	Org     string
	Bucket  string
	// BackupPath receives gzip'd line protocol while the server is unreachable.
	BackupPath string
}

// GetInfluxConfig returns the influx section.
func GetInfluxConfig() InfluxConfig {
	return InfluxConfig{
		Enabled:    viper.GetBool("influx.enabled"),
		URL:        viper.GetString("influx.url"),
		Token:      viper.GetString("influx.token"),
		Org:        viper.GetString("influx.org"),
		Bucket:     viper.GetString("influx.bucket"),
		BackupPath: viper.GetString("influx.backupPath"),
	}
}

// StatusConfig configures the local status endpoint.
type StatusConfig struct {
	Enabled     bool
	Address     string
	LogInterval time.Duration
}

// GetStatusConfig returns the status section.
func GetStatusConfig() StatusConfig {
	return StatusConfig{
		Enabled:     viper.GetBool("status.enabled"),
		Address:     viper.GetString("status.address"),
		LogInterval: viper.GetDuration("status.logInterval"),
	}
}
