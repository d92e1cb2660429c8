package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/cuemby/gamefeed/pkg/events"
	"github.com/cuemby/gamefeed/pkg/health"
	"github.com/cuemby/gamefeed/pkg/integrity"
	"github.com/cuemby/gamefeed/pkg/log"
	"github.com/cuemby/gamefeed/pkg/recorder"
	"github.com/cuemby/gamefeed/pkg/storage"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "GAMEFEED_"

// Config is the full gamefeed configuration
type Config struct {
	Log       LogConfig        `yaml:"log" envPrefix:"LOG_"`
	Bus       BusConfig        `yaml:"bus" envPrefix:"BUS_"`
	Store     storage.Config   `yaml:"store" envPrefix:"STORE_"`
	Recorder  RecorderConfig   `yaml:"recorder" envPrefix:"RECORDER_"`
	Integrity integrity.Config `yaml:"integrity" envPrefix:"INTEGRITY_"`
	Server    ServerConfig     `yaml:"server" envPrefix:"SERVER_"`
	Probe     health.Config    `yaml:"probe" envPrefix:"PROBE_"`
}

// LogConfig configures the global logger
type LogConfig struct {
	Level log.Level `yaml:"level" env:"LEVEL"`
	JSON  bool      `yaml:"json" env:"JSON"`
}

// BusConfig configures the event bus
type BusConfig struct {
	QueueSize   int           `yaml:"queue_size" env:"QUEUE_SIZE"`
	StopTimeout time.Duration `yaml:"stop_timeout" env:"STOP_TIMEOUT"`
}

// RecorderConfig configures the recorder and whether a session starts with
// the pipeline
type RecorderConfig struct {
	Enabled  bool            `yaml:"enabled" env:"ENABLED"`
	Dir      string          `yaml:"dir" env:"DIR"`
	Username string          `yaml:"username" env:"USERNAME"`
	Limits   recorder.Limits `yaml:"limits" envPrefix:"LIMITS_"`
}

// ServerConfig configures the health and metrics HTTP server
type ServerConfig struct {
	Enabled bool   `yaml:"enabled" env:"ENABLED"`
	Addr    string `yaml:"addr" env:"ADDR"`
}

// Default returns the configuration used when nothing is overridden
func Default() Config {
	return Config{
		Log: LogConfig{Level: log.InfoLevel},
		Bus: BusConfig{
			QueueSize:   events.DefaultQueueSize,
			StopTimeout: events.DefaultStopTimeout,
		},
		Store: storage.Config{
			Dir:           "data/events",
			BufferSize:    storage.DefaultBufferSize,
			FlushInterval: storage.DefaultFlushInterval,
			Source:        storage.DefaultSource,
		},
		Recorder: RecorderConfig{
			Enabled:  true,
			Dir:      "data/recordings",
			Username: recorder.DefaultUsername,
		},
		Integrity: integrity.DefaultConfig(),
		Server: ServerConfig{
			Enabled: true,
			Addr:    ":9010",
		},
		Probe: health.DefaultConfig(),
	}
}

// Load builds a Config from the defaults, the YAML file at path (if not
// empty) and GAMEFEED_* environment variables, in that order, and validates
// the result.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config: %w", err)
		}
		if err := decodeYAML(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return Config{}, fmt.Errorf("failed to parse environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decodeYAML(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Validate checks every section
func (c Config) Validate() error {
	switch c.Log.Level {
	case log.DebugLevel, log.InfoLevel, log.WarnLevel, log.ErrorLevel:
	default:
		return fmt.Errorf("invalid log level %q", c.Log.Level)
	}
	if c.Bus.QueueSize < 1 {
		return fmt.Errorf("bus queue_size must be at least 1")
	}
	if c.Bus.StopTimeout <= 0 {
		return fmt.Errorf("bus stop_timeout must be positive")
	}
	if err := c.Store.Validate(); err != nil {
		return fmt.Errorf("invalid store config: %w", err)
	}
	if err := c.RecorderConfig().Validate(); err != nil {
		return fmt.Errorf("invalid recorder config: %w", err)
	}
	if c.Server.Enabled && c.Server.Addr == "" {
		return fmt.Errorf("server addr is required when the server is enabled")
	}
	if c.Probe.Retries < 1 {
		return fmt.Errorf("probe retries must be at least 1")
	}
	return nil
}

// LogConfig returns the logger configuration writing to w
func (c Config) LogConfig(w io.Writer) log.Config {
	return log.Config{
		Level:      c.Log.Level,
		JSONOutput: c.Log.JSON,
		Output:     w,
	}
}

// BusConfig returns the event bus configuration
func (c Config) BusConfig() events.Config {
	return events.Config{
		QueueSize:   c.Bus.QueueSize,
		StopTimeout: c.Bus.StopTimeout,
	}
}

// RecorderConfig returns the recorder configuration, including the
// integrity threshold
func (c Config) RecorderConfig() recorder.Config {
	return recorder.Config{
		Dir:       c.Recorder.Dir,
		Username:  c.Recorder.Username,
		Limits:    c.Recorder.Limits,
		Integrity: c.Integrity,
	}
}

// StoreConfig returns the event store configuration for a session
func (c Config) StoreConfig(sessionID string) storage.Config {
	cfg := c.Store
	if cfg.SessionID == "" {
		cfg.SessionID = sessionID
	}
	return cfg
}
