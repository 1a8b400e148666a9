package app

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roman-kulish/vehicle-tracklog/internal/sensor"
	"github.com/roman-kulish/vehicle-tracklog/internal/sensor/ublox"
	"github.com/roman-kulish/vehicle-tracklog/internal/sensor/vectornav"
)

const (
	DefaultGPSRateHz       = 10
	DefaultIMURateHz       = 50
	DefaultMinFixQuality   = "2d"
	DefaultFlushIntervalMs = 1000
	DefaultFlushRecords    = 64
	DefaultOutputDir       = "data"
)

// Duration wraps time.Duration with YAML support ("30s", "5m", "1h")
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	duration, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("app.Duration: failed to parse: %s", err)
	}

	*d = Duration(duration)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Config represents the main application configuration
type Config struct {
	Settings Settings       `yaml:"settings"`
	GPS      GPSConfig      `yaml:"gps"`
	IMU      IMUConfig      `yaml:"imu"`
	Anchor   AnchorConfig   `yaml:"anchor"`
	Recorder RecorderConfig `yaml:"recorder"`
	Archive  ArchiveConfig  `yaml:"archive"`
}

// Settings represents global application settings
type Settings struct {
	LogLevel string `yaml:"logLevel"`
}

// GPSConfig represents the GPS source configuration
type GPSConfig struct {
	RateHz int          `yaml:"rateHz"` // polling rate (default: 10)
	Buffer int          `yaml:"buffer"` // parsed samples channel capacity
	Gpsd   ublox.Config `yaml:"gpsd"`
}

// IMUConfig represents the IMU source configuration
type IMUConfig struct {
	RateHz int              `yaml:"rateHz"` // polling rate (default: 50)
	Buffer int              `yaml:"buffer"` // parsed samples channel capacity
	Serial vectornav.Config `yaml:"serial"`
}

// AnchorConfig represents the time anchor configuration
type AnchorConfig struct {
	MinFixQuality string `yaml:"minFixQuality"` // "none", "2d" or "3d" (default: 2d)
}

// RecorderConfig represents the record file writer configuration
type RecorderConfig struct {
	OutputDir        string   `yaml:"outputDir"`
	FlushIntervalMs  int      `yaml:"flushIntervalMs"`  // durable flush cadence (default: 1000)
	FlushRecords     int      `yaml:"flushRecords"`     // early flush threshold (default: 64)
	RolloverInterval Duration `yaml:"rolloverInterval"` // 0 disables mid-run rollover
}

// ArchiveConfig represents the archival sweep configuration
type ArchiveConfig struct {
	DestDir       string   `yaml:"destDir"`       // long-term storage mount
	HoldingDir    string   `yaml:"holdingDir"`    // default: <outputDir>/holding
	SweepInterval Duration `yaml:"sweepInterval"` // default: 1m
	CatalogPath   string   `yaml:"catalogPath"`   // default: <outputDir>/catalog.db
}

// LoadConfig reads, defaults and validates the configuration file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading configuration file: %w", err)
	}

	var config Config
	if err = yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parsing configuration file: %w", err)
	}

	config.applyDefaults()
	if err = config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.GPS.RateHz == 0 {
		c.GPS.RateHz = DefaultGPSRateHz
	}
	if c.IMU.RateHz == 0 {
		c.IMU.RateHz = DefaultIMURateHz
	}
	if c.Anchor.MinFixQuality == "" {
		c.Anchor.MinFixQuality = DefaultMinFixQuality
	}
	if c.Recorder.OutputDir == "" {
		c.Recorder.OutputDir = DefaultOutputDir
	}
	if c.Recorder.FlushIntervalMs == 0 {
		c.Recorder.FlushIntervalMs = DefaultFlushIntervalMs
	}
	if c.Recorder.FlushRecords == 0 {
		c.Recorder.FlushRecords = DefaultFlushRecords
	}
	if c.Archive.SweepInterval == 0 {
		c.Archive.SweepInterval = Duration(time.Minute)
	}
	if c.Archive.HoldingDir == "" {
		c.Archive.HoldingDir = filepath.Join(c.Recorder.OutputDir, "holding")
	}
	if c.Archive.CatalogPath == "" {
		c.Archive.CatalogPath = filepath.Join(c.Recorder.OutputDir, "catalog.db")
	}
}

// Validate checks the configuration for contradictions
func (c *Config) Validate() error {
	if c.GPS.RateHz < 0 || c.IMU.RateHz < 0 {
		return fmt.Errorf("app.Config: sampling rates must be positive: gps=%d, imu=%d", c.GPS.RateHz, c.IMU.RateHz)
	}
	if _, err := sensor.ParseFixQuality(c.Anchor.MinFixQuality); err != nil {
		return fmt.Errorf("app.Config: invalid minFixQuality: %w", err)
	}
	if c.Recorder.FlushIntervalMs < 0 {
		return fmt.Errorf("app.Config: flushIntervalMs must be positive: %d", c.Recorder.FlushIntervalMs)
	}
	if c.Archive.DestDir == "" {
		return fmt.Errorf("app.Config: archive destDir is required")
	}
	if c.Archive.DestDir == c.Recorder.OutputDir {
		return fmt.Errorf("app.Config: archive destDir must differ from outputDir")
	}
	if err := c.GPS.Gpsd.Validate(); err != nil {
		return fmt.Errorf("app.Config: %w", err)
	}
	if err := c.IMU.Serial.Validate(); err != nil {
		return fmt.Errorf("app.Config: %w", err)
	}
	return nil
}

// MinFixQuality returns the parsed anchor quality threshold
func (c *Config) MinFixQuality() sensor.FixQuality {
	q, _ := sensor.ParseFixQuality(c.Anchor.MinFixQuality)
	return q
}
