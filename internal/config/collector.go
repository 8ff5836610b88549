package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultConfigPath is the path to the example collector configuration that
// ships with the repository.
const DefaultConfigPath = "config/collector.defaults.json"

// Well-known sensor metric names emitted by the hive firmware.
const (
	InternalTemperature = "internal_temperature"
	ExternalTemperature = "external_temperature"
	InternalHumidity    = "internal_humidity"
	ExternalHumidity    = "external_humidity"
)

// MetricPair names the internal and external metric plotted together in one
// report channel.
type MetricPair struct {
	Internal string `json:"internal"`
	External string `json:"external"`
}

// CollectorConfig is the root configuration of the hive collector. Every field
// is optional; the Get* accessors fall back to defaults for unset values so
// partial configs are safe.
type CollectorConfig struct {
	// Serial link to the microcontroller
	SerialPort    *string `json:"serial_port,omitempty"`
	BaudRate      *int    `json:"baud_rate,omitempty"`
	SerialTimeout *string `json:"serial_timeout,omitempty"` // duration string like "5s"

	// Scheduling
	UpdateInterval *string `json:"update_interval,omitempty"`
	QueryInterval  *string `json:"query_interval,omitempty"`
	ReportWindow   *string `json:"report_window,omitempty"`

	// Audio capture
	AudioDevice  *string `json:"audio_device,omitempty"`
	SampleRate   *int    `json:"sample_rate,omitempty"`
	Channels     *int    `json:"channels,omitempty"`
	BlockSize    *int    `json:"block_size,omitempty"`
	DominantRank *int    `json:"dominant_rank,omitempty"`

	// Persistence
	DatabaseName *string `json:"database_name,omitempty"`
	DatabaseDir  *string `json:"database_dir,omitempty"`

	// Sensor policy
	ClampMax           *float64    `json:"clamp_max,omitempty"`
	ExpectedMetrics    []string    `json:"expected_metrics,omitempty"`
	TemperatureMetrics *MetricPair `json:"temperature_metrics,omitempty"`
	HumidityMetrics    *MetricPair `json:"humidity_metrics,omitempty"`

	// Reports
	ReportDir  *string `json:"report_dir,omitempty"`
	TimeFormat *string `json:"time_format,omitempty"`
	Timezone   *string `json:"timezone,omitempty"`
	PlotPNG    *bool   `json:"plot_png,omitempty"`
}

// EmptyCollectorConfig returns a CollectorConfig with all fields unset.
func EmptyCollectorConfig() *CollectorConfig {
	return &CollectorConfig{}
}

// LoadCollectorConfig loads a CollectorConfig from a JSON file.
// The file must have a .json extension and be under 1MB.
func LoadCollectorConfig(path string) (*CollectorConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyCollectorConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration values are valid.
func (c *CollectorConfig) Validate() error {
	durations := []struct {
		name string
		v    *string
	}{
		{"serial_timeout", c.SerialTimeout},
		{"update_interval", c.UpdateInterval},
		{"query_interval", c.QueryInterval},
		{"report_window", c.ReportWindow},
	}
	for _, d := range durations {
		if d.v == nil || *d.v == "" {
			continue
		}
		parsed, err := time.ParseDuration(*d.v)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", d.name, *d.v, err)
		}
		if parsed <= 0 {
			return fmt.Errorf("%s must be positive, got %s", d.name, *d.v)
		}
	}

	positives := []struct {
		name string
		v    *int
	}{
		{"baud_rate", c.BaudRate},
		{"sample_rate", c.SampleRate},
		{"channels", c.Channels},
		{"block_size", c.BlockSize},
		{"dominant_rank", c.DominantRank},
	}
	for _, p := range positives {
		if p.v != nil && *p.v <= 0 {
			return fmt.Errorf("%s must be positive, got %d", p.name, *p.v)
		}
	}

	if c.DominantRank != nil && c.BlockSize != nil && *c.DominantRank > *c.BlockSize {
		return fmt.Errorf("dominant_rank %d exceeds block_size %d", *c.DominantRank, *c.BlockSize)
	}

	if c.DatabaseName != nil && *c.DatabaseName == "" {
		return fmt.Errorf("database_name must not be empty")
	}

	if c.Timezone != nil && *c.Timezone != "" {
		if _, err := time.LoadLocation(*c.Timezone); err != nil {
			return fmt.Errorf("invalid timezone %q: %w", *c.Timezone, err)
		}
	}

	return nil
}

func durationOr(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func stringOr(v *string, def string) string {
	if v == nil || *v == "" {
		return def
	}
	return *v
}

func intOr(v *int, def int) int {
	if v == nil || *v <= 0 {
		return def
	}
	return *v
}

// GetSerialPort returns the microcontroller device path.
func (c *CollectorConfig) GetSerialPort() string {
	return stringOr(c.SerialPort, "/dev/ttyACM0")
}

// GetBaudRate returns the serial baud rate.
func (c *CollectorConfig) GetBaudRate() int {
	return intOr(c.BaudRate, 9600)
}

// GetSerialTimeout bounds a single serial line read.
func (c *CollectorConfig) GetSerialTimeout() time.Duration {
	return durationOr(c.SerialTimeout, 5*time.Second)
}

// GetUpdateInterval returns how often a sample is taken.
func (c *CollectorConfig) GetUpdateInterval() time.Duration {
	return durationOr(c.UpdateInterval, 15*time.Second)
}

// GetQueryInterval returns how often the reports are re-rendered.
func (c *CollectorConfig) GetQueryInterval() time.Duration {
	return durationOr(c.QueryInterval, 60*time.Second)
}

// GetReportWindow returns the trailing duration included in reports.
func (c *CollectorConfig) GetReportWindow() time.Duration {
	return durationOr(c.ReportWindow, 24*time.Hour)
}

// GetAudioDevice returns the ALSA capture device name.
func (c *CollectorConfig) GetAudioDevice() string {
	return stringOr(c.AudioDevice, "default")
}

// GetSampleRate returns the audio sample rate in Hz.
func (c *CollectorConfig) GetSampleRate() int {
	return intOr(c.SampleRate, 44100)
}

// GetChannels returns the audio channel count.
func (c *CollectorConfig) GetChannels() int {
	return intOr(c.Channels, 1)
}

// GetBlockSize returns the number of samples per analysed audio block.
func (c *CollectorConfig) GetBlockSize() int {
	return intOr(c.BlockSize, 1024)
}

// GetDominantRank returns which power rank (1 = strongest) is reported as the
// dominant frequency.
func (c *CollectorConfig) GetDominantRank() int {
	return intOr(c.DominantRank, 2)
}

// GetDatabaseName returns the record store name.
func (c *CollectorConfig) GetDatabaseName() string {
	return stringOr(c.DatabaseName, "hivemind")
}

// GetDatabaseDir returns the directory holding the record store.
func (c *CollectorConfig) GetDatabaseDir() string {
	return stringOr(c.DatabaseDir, ".")
}

// GetClampMax returns the upper bound applied to every sensor metric.
func (c *CollectorConfig) GetClampMax() float64 {
	if c.ClampMax == nil {
		return 100
	}
	return *c.ClampMax
}

// GetExpectedMetrics returns the metrics zero-filled when the serial read fails.
func (c *CollectorConfig) GetExpectedMetrics() []string {
	if len(c.ExpectedMetrics) == 0 {
		return []string{InternalTemperature, ExternalTemperature, InternalHumidity, ExternalHumidity}
	}
	return append([]string(nil), c.ExpectedMetrics...)
}

// GetTemperatureMetrics returns the metrics written to the temperature report.
func (c *CollectorConfig) GetTemperatureMetrics() MetricPair {
	if c.TemperatureMetrics == nil {
		return MetricPair{Internal: InternalTemperature, External: ExternalTemperature}
	}
	return *c.TemperatureMetrics
}

// GetHumidityMetrics returns the metrics written to the humidity report.
func (c *CollectorConfig) GetHumidityMetrics() MetricPair {
	if c.HumidityMetrics == nil {
		return MetricPair{Internal: InternalHumidity, External: ExternalHumidity}
	}
	return *c.HumidityMetrics
}

// GetReportDir returns the directory the report files are written to.
func (c *CollectorConfig) GetReportDir() string {
	return stringOr(c.ReportDir, "static")
}

// GetTimeFormat returns the layout of the human-readable record timestamp.
func (c *CollectorConfig) GetTimeFormat() string {
	return stringOr(c.TimeFormat, "2006-01-02-15-04-05")
}

// GetLocation returns the timezone used for human-readable timestamps.
// Validate rejects unknown names, so a load failure here falls back to Local.
func (c *CollectorConfig) GetLocation() *time.Location {
	name := stringOr(c.Timezone, "Local")
	if name == "Local" {
		return time.Local
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.Local
	}
	return loc
}

// GetPlotPNG reports whether PNG plots are rendered alongside the reports.
func (c *CollectorConfig) GetPlotPNG() bool {
	if c.PlotPNG == nil {
		return false
	}
	return *c.PlotPNG
}
