package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestEmptyCollectorConfigDefaults(t *testing.T) {
	cfg := EmptyCollectorConfig()

	assert.Equal(t, "/dev/ttyACM0", cfg.GetSerialPort())
	assert.Equal(t, 9600, cfg.GetBaudRate())
	assert.Equal(t, 5*time.Second, cfg.GetSerialTimeout())
	assert.Equal(t, 15*time.Second, cfg.GetUpdateInterval())
	assert.Equal(t, 60*time.Second, cfg.GetQueryInterval())
	assert.Equal(t, 24*time.Hour, cfg.GetReportWindow())
	assert.Equal(t, "default", cfg.GetAudioDevice())
	assert.Equal(t, 44100, cfg.GetSampleRate())
	assert.Equal(t, 1, cfg.GetChannels())
	assert.Equal(t, 1024, cfg.GetBlockSize())
	assert.Equal(t, 2, cfg.GetDominantRank())
	assert.Equal(t, "hivemind", cfg.GetDatabaseName())
	assert.Equal(t, ".", cfg.GetDatabaseDir())
	assert.Equal(t, 100.0, cfg.GetClampMax())
	assert.Equal(t, "static", cfg.GetReportDir())
	assert.Equal(t, "2006-01-02-15-04-05", cfg.GetTimeFormat())
	assert.Equal(t, time.Local, cfg.GetLocation())
	assert.False(t, cfg.GetPlotPNG())

	want := []string{InternalTemperature, ExternalTemperature, InternalHumidity, ExternalHumidity}
	if diff := cmp.Diff(want, cfg.GetExpectedMetrics()); diff != "" {
		t.Errorf("GetExpectedMetrics() mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, MetricPair{Internal: InternalTemperature, External: ExternalTemperature}, cfg.GetTemperatureMetrics())
	assert.Equal(t, MetricPair{Internal: InternalHumidity, External: ExternalHumidity}, cfg.GetHumidityMetrics())
}

func TestLoadCollectorConfig(t *testing.T) {
	path := writeConfig(t, "hive.json", `{
  "serial_port": "/dev/ttyUSB0",
  "baud_rate": 115200,
  "update_interval": "30s",
  "report_window": "1h",
  "expected_metrics": ["Internal_C", "External_C"],
  "temperature_metrics": {"internal": "Internal_C", "external": "External_C"},
  "timezone": "UTC",
  "plot_png": true
}`)

	cfg, err := LoadCollectorConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "/dev/ttyUSB0", cfg.GetSerialPort())
	assert.Equal(t, 115200, cfg.GetBaudRate())
	assert.Equal(t, 30*time.Second, cfg.GetUpdateInterval())
	assert.Equal(t, time.Hour, cfg.GetReportWindow())
	assert.Equal(t, []string{"Internal_C", "External_C"}, cfg.GetExpectedMetrics())
	assert.Equal(t, "Internal_C", cfg.GetTemperatureMetrics().Internal)
	assert.Equal(t, time.UTC, cfg.GetLocation())
	assert.True(t, cfg.GetPlotPNG())

	// unset fields keep their defaults
	assert.Equal(t, 60*time.Second, cfg.GetQueryInterval())
	assert.Equal(t, 1024, cfg.GetBlockSize())
}

func TestLoadCollectorConfig_Errors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		body    string
		wantErr string
	}{
		{"wrong extension", "hive.yaml", `{}`, ".json extension"},
		{"bad json", "hive.json", `{"baud_rate": }`, "failed to parse config JSON"},
		{"bad duration", "hive.json", `{"update_interval": "soon"}`, "invalid update_interval"},
		{"negative duration", "hive.json", `{"report_window": "-1h"}`, "report_window must be positive"},
		{"zero block", "hive.json", `{"block_size": 0}`, "block_size must be positive"},
		{"rank beyond block", "hive.json", `{"block_size": 4, "dominant_rank": 5}`, "exceeds block_size"},
		{"empty db name", "hive.json", `{"database_name": ""}`, "database_name"},
		{"bad timezone", "hive.json", `{"timezone": "Mars/Olympus"}`, "invalid timezone"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			path := writeConfig(t, tc.file, tc.body)
			_, err := LoadCollectorConfig(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestLoadCollectorConfig_MissingFile(t *testing.T) {
	_, err := LoadCollectorConfig(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "failed to stat config file"))
}

func TestLoadCollectorConfig_TooLarge(t *testing.T) {
	body := `{"serial_port": "` + strings.Repeat("x", 1024*1024) + `"}`
	path := writeConfig(t, "big.json", body)
	_, err := LoadCollectorConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too large")
}

func TestShippedDefaultsLoad(t *testing.T) {
	cfg, err := LoadCollectorConfig(filepath.Join("..", "..", DefaultConfigPath))
	require.NoError(t, err)

	empty := EmptyCollectorConfig()
	assert.Equal(t, empty.GetUpdateInterval(), cfg.GetUpdateInterval())
	assert.Equal(t, empty.GetExpectedMetrics(), cfg.GetExpectedMetrics())
	assert.Equal(t, empty.GetDominantRank(), cfg.GetDominantRank())
}
