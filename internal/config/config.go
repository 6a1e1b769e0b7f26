package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config is vncproxyd's full configuration.
type Config struct {
	Log       LogConfig       `yaml:"log"`
	Listen    ListenConfig    `yaml:"listen"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Registry  RegistryConfig  `yaml:"registry"`
	Forwarder ForwarderConfig `yaml:"forwarder"`
	Cleanup   CleanupConfig   `yaml:"cleanup"`
}

// LogConfig controls zerolog's global level and output format.
type LogConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL" default:"info"`
	Format string `yaml:"format" env:"LOG_FORMAT" default:"console"`
	Debug  bool   `yaml:"debug" env:"DEBUG" default:"false"`
}

// ConfigureZerolog applies LogConfig to the global zerolog level and to the
// output format of the package-level logger: JSON when Format is "json",
// console output otherwise.
func (c *LogConfig) ConfigureZerolog() {
	if strings.EqualFold(c.Format, "json") {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	} else {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}

	level := zerolog.InfoLevel
	if c.Debug {
		level = zerolog.DebugLevel
	} else {
		switch strings.ToLower(c.Level) {
		case "trace":
			level = zerolog.TraceLevel
		case "debug":
			level = zerolog.DebugLevel
		case "info":
			level = zerolog.InfoLevel
		case "warn", "warning":
			level = zerolog.WarnLevel
		case "error":
			level = zerolog.ErrorLevel
		}
	}
	zerolog.SetGlobalLevel(level)
}

// ListenConfig is the client-facing TCP listener address.
type ListenConfig struct {
	Address string `yaml:"address" env:"LISTEN_ADDRESS" default:":5900"`
}

// MetricsConfig is the address the /metrics Prometheus endpoint listens on.
// Leaving Address empty disables the endpoint entirely.
type MetricsConfig struct {
	Address string `yaml:"address" env:"METRICS_ADDRESS" default:":9090"`
}

// RegistryConfig locates the mapping registry's backing store and an
// optional seed file applied at startup, mirroring vnc_proxy.c's -f
// mapping-file option.
type RegistryConfig struct {
	DSN      string `yaml:"dsn" env:"REGISTRY_DSN" default:"vncproxy.db"`
	SeedFile string `yaml:"seed_file" env:"REGISTRY_SEED_FILE"`
}

// ForwarderConfig tunes the forwarding engine's buffering and backpressure.
type ForwarderConfig struct {
	DialTimeout  time.Duration `yaml:"dial_timeout" env:"DIAL_TIMEOUT" default:"5s"`
	ReadBufSize  int           `yaml:"read_buf_size" env:"READ_BUF_SIZE" default:"32768"`
	SoftCapBytes int           `yaml:"soft_cap_bytes" env:"SOFT_CAP_BYTES" default:"1048576"`
}

// CleanupConfig controls the periodic stale-session sweep.
type CleanupConfig struct {
	Interval time.Duration `yaml:"interval" env:"CLEANUP_INTERVAL" default:"1s"`
}

// Load reads vncproxyd's configuration from configFile (optional) layered
// with environment variables.
func Load(configFile string) (*Config, error) {
	cfg := &Config{}
	loader := NewLoader(LoaderConfig{ConfigFile: configFile, ServiceName: "vncproxyd"})
	if err := loader.Load(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}
	return cfg, nil
}

// Validate rejects configurations the daemon cannot run with.
func (c *Config) Validate() error {
	if c.Listen.Address == "" {
		return fmt.Errorf("listen.address is required")
	}
	if c.Registry.DSN == "" {
		return fmt.Errorf("registry.dsn is required")
	}
	if c.Forwarder.ReadBufSize <= 0 {
		return fmt.Errorf("forwarder.read_buf_size must be positive")
	}
	if c.Forwarder.SoftCapBytes <= 0 {
		return fmt.Errorf("forwarder.soft_cap_bytes must be positive")
	}
	if c.Cleanup.Interval <= 0 {
		return fmt.Errorf("cleanup.interval must be positive")
	}
	return nil
}
