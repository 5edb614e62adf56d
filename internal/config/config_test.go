package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte(body), 0644))
	return dir
}

func TestLoad_WithValidConfigFile(t *testing.T) {
	t.Cleanup(viper.Reset)

	dir := writeConfig(t, `{
		"logLevel": "debug",
		"link": { "transport": "ws", "address": "10.0.0.1:9000" }
	}`)

	err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "debug", viper.GetString("logLevel"))
	assert.Equal(t, "ws", viper.GetString("link.transport"))
	assert.Equal(t, "10.0.0.1:9000", viper.GetString("link.address"))
	assert.Equal(t, "/link", viper.GetString("link.path"))
}

func TestLoad_DefaultValues(t *testing.T) {
	t.Cleanup(viper.Reset)

	require.NoError(t, Load(writeConfig(t, `{}`)))

	assert.Equal(t, "info", viper.GetString("logLevel"))
	assert.Equal(t, "./logs", viper.GetString("logsDir"))
	assert.Equal(t, "slog", viper.GetString("logging.backend"))
	assert.Equal(t, false, viper.GetBool("graylog.enabled"))
	assert.Equal(t, "localhost:12201", viper.GetString("graylog.address"))
	assert.Equal(t, "host", viper.GetString("link.role"))
	assert.Equal(t, false, viper.GetBool("storage.enabled"))
	assert.Equal(t, "sqlite", viper.GetString("storage.type"))
	assert.Equal(t, false, viper.GetBool("influx.enabled"))
	assert.Equal(t, "link", viper.GetString("influx.bucket"))
	assert.Equal(t, false, viper.GetBool("status.enabled"))
}

func TestLoad_MissingFile(t *testing.T) {
	t.Cleanup(viper.Reset)

	err := Load(t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error reading config file")
	assert.True(t, IsNotFound(err))

	// Defaults are still usable.
	assert.Equal(t, 200*time.Millisecond, GetSamplerConfig().Interval)
}

func TestLoad_MalformedFile(t *testing.T) {
	t.Cleanup(viper.Reset)

	err := Load(writeConfig(t, `{ "logLevel": `))
	require.Error(t, err)
	assert.False(t, IsNotFound(err))
}

func TestGetString(t *testing.T) {
	t.Cleanup(viper.Reset)
	viper.Set("testKey", "testValue")
	assert.Equal(t, "testValue", GetString("testKey"))
}

func TestGetInt(t *testing.T) {
	t.Cleanup(viper.Reset)
	viper.Set("testInt", 42)
	assert.Equal(t, 42, GetInt("testInt"))
}

func TestGetBool(t *testing.T) {
	t.Cleanup(viper.Reset)
	viper.Set("testBool", true)
	assert.Equal(t, true, GetBool("testBool"))
}

func TestGetCalibration_Defaults(t *testing.T) {
	t.Cleanup(viper.Reset)
	require.NoError(t, Load(writeConfig(t, `{}`)))

	cal := GetCalibration()
	assert.Equal(t, 18.0, cal.MarkerSide)
	assert.Equal(t, 640.0, cal.ImageWidth)
	assert.Equal(t, 480.0, cal.ImageHeight)
	assert.Equal(t, 54.8, cal.VerticalFOVDeg)
	assert.Equal(t, 5.35, cal.ScreenOffsetX)
	assert.Equal(t, 2.0, cal.ScreenOffsetY)
	assert.NoError(t, cal.Validate())
}

func TestGetCalibration_Override(t *testing.T) {
	t.Cleanup(viper.Reset)
	require.NoError(t, Load(writeConfig(t, `{
		"calibration": { "markerSide": 5, "imageWidth": 1280, "imageHeight": 720, "lensOffsetX": 1.25 }
	}`)))

	cal := GetCalibration()
	assert.Equal(t, 5.0, cal.MarkerSide)
	assert.Equal(t, 1280.0, cal.ImageWidth)
	assert.Equal(t, 720.0, cal.ImageHeight)
	assert.Equal(t, 1.25, cal.LensOffsetX)
	assert.Equal(t, 54.8, cal.VerticalFOVDeg)
}

func TestGetLinkConfig(t *testing.T) {
	t.Cleanup(viper.Reset)
	require.NoError(t, Load(writeConfig(t, `{ "link": { "role": "join", "establishTimeout": "5s" } }`)))

	lc := GetLinkConfig()
	assert.Equal(t, "tcp", lc.Transport)
	assert.Equal(t, "127.0.0.1:7420", lc.Address)
	assert.Equal(t, "join", lc.Role)
	assert.Equal(t, 5*time.Second, lc.EstablishTimeout)
}

func TestGetSamplerConfig_Override(t *testing.T) {
	t.Cleanup(viper.Reset)
	require.NoError(t, Load(writeConfig(t, `{ "sampler": { "interval": "50ms", "captureTimeout": "2s" } }`)))

	sc := GetSamplerConfig()
	assert.Equal(t, 50*time.Millisecond, sc.Interval)
	assert.Equal(t, 2*time.Second, sc.CaptureTimeout)
}

func TestGetStorageConfig_Override(t *testing.T) {
	t.Cleanup(viper.Reset)
	require.NoError(t, Load(writeConfig(t, `{
		"storage": { "enabled": true, "type": "postgres", "dsn": "host=db user=link" }
	}`)))

	sc := GetStorageConfig()
	assert.True(t, sc.Enabled)
	assert.Equal(t, "postgres", sc.Type)
	assert.Equal(t, "host=db user=link", sc.DSN)
	assert.Equal(t, "./linkstats.db", sc.Path)
}

func TestGetInfluxAndStatusConfig(t *testing.T) {
	t.Cleanup(viper.Reset)
	require.NoError(t, Load(writeConfig(t, `{
		"influx": { "enabled": true, "token": "t0k", "backupPath": "influx.lp.gz" },
		"status": { "enabled": true, "logInterval": "1m" }
	}`)))

	ic := GetInfluxConfig()
	assert.True(t, ic.Enabled)
	assert.Equal(t, "http://localhost:8086", ic.URL)
	assert.Equal(t, "t0k", ic.Token)
	assert.Equal(t, "arrowlink", ic.Org)
	assert.Equal(t, "influx.lp.gz", ic.BackupPath)

	st := GetStatusConfig()
	assert.True(t, st.Enabled)
	assert.Equal(t, "127.0.0.1:7421", st.Address)
	assert.Equal(t, time.Minute, st.LogInterval)
}

func TestGetOTelConfig_Defaults(t *testing.T) {
	t.Cleanup(viper.Reset)
	require.NoError(t, Load(writeConfig(t, `{}`)))

	cfg := GetOTelConfig()
	assert.Equal(t, false, cfg.Enabled)
	assert.Equal(t, "arrowlink", cfg.ServiceName)
	assert.Equal(t, 5*time.Second, cfg.BatchTimeout)
	assert.Equal(t, "", cfg.Endpoint)
	assert.Equal(t, true, cfg.Insecure)
	assert.Equal(t, 30*time.Second, cfg.MetricInterval)
}

func TestGetOTelConfig_Override(t *testing.T) {
	t.Cleanup(viper.Reset)
	require.NoError(t, Load(writeConfig(t, `{
		"otel": {
			"enabled": true,
			"serviceName": "my-service",
			"batchTimeout": "30s",
			"endpoint": "localhost:4317",
			"insecure": false
		}
	}`)))

	oc := GetOTelConfig()
	assert.Equal(t, true, oc.Enabled)
	assert.Equal(t, "my-service", oc.ServiceName)
	assert.Equal(t, 30*time.Second, oc.BatchTimeout)
	assert.Equal(t, "localhost:4317", oc.Endpoint)
	assert.Equal(t, false, oc.Insecure)

	gc := GetGraylogConfig()
	assert.False(t, gc.Enabled)
}
