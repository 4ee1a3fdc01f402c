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

// Supported values
var (
	Backends      = []string{"goble", "tinygo", "sim"}
	LogFormats    = []string{"text", "json"}
	OutputFormats = []string{"table", "json"}
	RegistryModes = []string{"strict", "permissive"}
)

// Config holds application configuration
type Config struct {
	LogLevel        string        `yaml:"log_level" default:"info"`
	LogFormat       string        `yaml:"log_format" default:"text"`
	Backend         string        `yaml:"backend" default:"goble"`
	ScanDuration    time.Duration `yaml:"scan_duration" default:"10s"`
	AllowDuplicates bool          `yaml:"allow_duplicates" default:"true"`
	RegistryMode    string        `yaml:"registry_mode" default:"strict"`
	EventBuffer     int           `yaml:"event_buffer" default:"128"`
	StartGrace      time.Duration `yaml:"start_grace" default:"100ms"`
	MetricsAddr     string        `yaml:"metrics_addr"`
	OutputFormat    string        `yaml:"output_format" default:"table"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// Load reads a YAML file over the defaults. An empty path yields the defaults.
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

// Validate checks every field against its supported values
func (c *Config) Validate() error {
	var errs []error

	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}
	if !oneOf(c.LogFormat, LogFormats) {
		errs = append(errs, fmt.Errorf("log_format: %q is not one of %v", c.LogFormat, LogFormats))
	}
	if !oneOf(c.Backend, Backends) {
		errs = append(errs, fmt.Errorf("backend: %q is not one of %v", c.Backend, Backends))
	}
	if !oneOf(c.RegistryMode, RegistryModes) {
		errs = append(errs, fmt.Errorf("registry_mode: %q is not one of %v", c.RegistryMode, RegistryModes))
	}
	if !oneOf(c.OutputFormat, OutputFormats) {
		errs = append(errs, fmt.Errorf("output_format: %q is not one of %v", c.OutputFormat, OutputFormats))
	}
	if c.ScanDuration <= 0 {
		errs = append(errs, fmt.Errorf("scan_duration: must be positive, got %s", c.ScanDuration))
	}
	if c.StartGrace < 0 {
		errs = append(errs, fmt.Errorf("start_grace: must not be negative, got %s", c.StartGrace))
	}
	if c.EventBuffer <= 0 {
		errs = append(errs, fmt.Errorf("event_buffer: must be positive, got %d", c.EventBuffer))
	}

	return errors.Join(errs...)
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()

	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if c.LogFormat == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.RFC3339,
		})
	}

	return logger
}

func oneOf(v string, allowed []string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}
