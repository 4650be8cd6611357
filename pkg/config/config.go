package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Environment variables understood by ApplyEnv.
const (
	EnvLogLevel    = "VSPTY_LOG_LEVEL"
	EnvSymlinkPath = "VSPTY_SYMLINK"
	EnvEventFIFO   = "VSPTY_EVENT_FIFO"
	EnvEventEmit   = "VSPTY_EVENT_EMIT"
)

// Config holds application configuration
type Config struct {
	LogLevel logrus.Level `yaml:"log_level" json:"log_level"`

	// PTY bridge
	SymlinkPath     string        `yaml:"symlink_path" json:"symlink_path" default:"/data/data/com.octo4a/files/serialpipe"`
	PacketMode      bool          `yaml:"packet_mode" json:"packet_mode" default:"true"`
	RawMode         bool          `yaml:"raw_mode" json:"raw_mode" default:"true"`
	InitialBaudrate int           `yaml:"initial_baudrate" json:"initial_baudrate" default:"0"`
	ReadSize        int           `yaml:"read_size" json:"read_size" default:"511"`
	Delivery        string        `yaml:"delivery" json:"delivery" default:"sync"`
	QueueSize       uint32        `yaml:"queue_size" json:"queue_size" default:"64"`
	StopTimeout     time.Duration `yaml:"stop_timeout" json:"stop_timeout" default:"5s"`

	// Event FIFO
	EventFIFOPath string `yaml:"event_fifo" json:"event_fifo" default:"/data/data/com.octo4a/files/home/eventPipe"`
	EmitEvents    bool   `yaml:"emit_events" json:"emit_events" default:"true"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	cfg.LogLevel = logrus.InfoLevel
	return cfg
}

// Load reads a YAML file over the defaults and validates the result.
// Unknown keys are rejected so that typos do not pass silently.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from the VSPTY_* environment variables.
// lookup is normally os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		level, err := logrus.ParseLevel(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvLogLevel, err)
		}
		c.LogLevel = level
	}
	if v, ok := lookup(EnvSymlinkPath); ok && v != "" {
		c.SymlinkPath = v
	}
	if v, ok := lookup(EnvEventFIFO); ok && v != "" {
		c.EventFIFOPath = v
	}
	if v, ok := lookup(EnvEventEmit); ok && v != "" {
		emit, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s: %w", EnvEventEmit, err)
		}
		c.EmitEvents = emit
	}
	return nil
}

// Validate checks field ranges and enumerations.
func (c *Config) Validate() error {
	var errs []error
	if c.SymlinkPath == "" {
		errs = append(errs, errors.New("symlink_path must not be empty"))
	}
	if c.EventFIFOPath == "" {
		errs = append(errs, errors.New("event_fifo must not be empty"))
	}
	if c.ReadSize < 2 || c.ReadSize > 4096 {
		errs = append(errs, fmt.Errorf("read_size %d out of range [2, 4096]", c.ReadSize))
	}
	switch c.Delivery {
	case "sync":
	case "queued":
		if c.QueueSize == 0 {
			errs = append(errs, errors.New("queue_size must be positive for queued delivery"))
		}
	default:
		errs = append(errs, fmt.Errorf("delivery %q is not one of sync, queued", c.Delivery))
	}
	if c.InitialBaudrate < 0 {
		errs = append(errs, fmt.Errorf("initial_baudrate %d must not be negative", c.InitialBaudrate))
	}
	if c.StopTimeout <= 0 {
		errs = append(errs, fmt.Errorf("stop_timeout %s must be positive", c.StopTimeout))
	}
	return errors.Join(errs...)
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(c.LogLevel)

	// Use structured logging format
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}
