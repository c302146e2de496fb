package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Config holds application configuration
type Config struct {
	LogLevel string `yaml:"log_level" json:"log_level" default:"info"`

	// ScanTimeout ends a CLI scan as completed; 0 scans until interrupted.
	// The SearchForDevice toggle ignores it.
	ScanTimeout time.Duration `yaml:"scan_timeout" json:"scan_timeout" default:"10s"`
	// ConnectTimeout bounds dialing plus profile discovery
	ConnectTimeout time.Duration `yaml:"connect_timeout" json:"connect_timeout" default:"20s"`
	// CommandTimeout bounds one control point round trip
	CommandTimeout time.Duration `yaml:"command_timeout" json:"command_timeout" default:"10s"`
	// SettingsTimeout bounds each settings query of a negotiation separately
	SettingsTimeout time.Duration `yaml:"settings_timeout" json:"settings_timeout" default:"10s"`
	// StreamStartTimeout fails a started stream that delivers no data in time; 0 disables it
	StreamStartTimeout time.Duration `yaml:"stream_start_timeout" json:"stream_start_timeout" default:"0s"`

	NamePrefix     string `yaml:"name_prefix" json:"name_prefix" default:"Polar"`
	FilterByPrefix bool   `yaml:"filter_by_prefix" json:"filter_by_prefix" default:"true"`

	OutputFormat string `yaml:"output_format" json:"output_format" default:"table"` // table, json
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// Load reads a YAML file over the defaults. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate reports the first invalid setting
func (c *Config) Validate() error {
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return err
	}

	switch c.OutputFormat {
	case "table", "json":
	default:
		return fmt.Errorf("unsupported output format %q (expected table or json)", c.OutputFormat)
	}

	for name, d := range map[string]time.Duration{
		"scan_timeout":         c.ScanTimeout,
		"connect_timeout":      c.ConnectTimeout,
		"command_timeout":      c.CommandTimeout,
		"settings_timeout":     c.SettingsTimeout,
		"stream_start_timeout": c.StreamStartTimeout,
	} {
		if d < 0 {
			return fmt.Errorf("%s must not be negative, got %s", name, d)
		}
	}

	if c.FilterByPrefix && c.NamePrefix == "" {
		return errors.New("filter_by_prefix requires a name_prefix")
	}
	return nil
}

// Level returns the parsed log level, falling back to info
func (c *Config) Level() logrus.Level {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(c.Level())

	// Use structured logging format
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}
