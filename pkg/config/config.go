// Package config provides configuration management for the lockgraph
// service.
package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	Log       LogConfig       `mapstructure:"log"`
	Session   SessionConfig   `mapstructure:"session"`
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // text or json
	Output string `mapstructure:"output"` // stdout, stderr or a file path
}

// SessionConfig describes the profiled session and the ingest pipeline.
type SessionConfig struct {
	TimerCountsPerSecond int64         `mapstructure:"timer_counts_per_second"`
	CollectTwoTimestamps bool          `mapstructure:"collect_two_timestamps"`
	MonitorInfo          bool          `mapstructure:"monitor_info"`
	MinRefresh           time.Duration `mapstructure:"min_refresh"`
	MaxRefresh           time.Duration `mapstructure:"max_refresh"`
	QueueLow             int           `mapstructure:"queue_low"`
	QueueHigh            int           `mapstructure:"queue_high"`
}

// ServerConfig holds the HTTP API configuration.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxFrameBytes   int64         `mapstructure:"max_frame_bytes"`
	FrameRate       float64       `mapstructure:"frame_rate"` // frames per second, 0 is unlimited
	FrameBurst      int           `mapstructure:"frame_burst"`
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	Type     string `mapstructure:"type"` // postgres, mysql or sqlite
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"` // file path for sqlite
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	MaxConns int    `mapstructure:"max_conns"`
}

// StorageConfig holds object storage configuration.
type StorageConfig struct {
	Type      string `mapstructure:"type"` // cos or local
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	SecretID  string `mapstructure:"secret_id"`
	SecretKey string `mapstructure:"secret_key"`
	Domain    string `mapstructure:"domain"`     // e.g., "myqcloud.com"
	Scheme    string `mapstructure:"scheme"`     // e.g., "https" or "http"
	LocalPath string `mapstructure:"local_path"` // for local storage
	BaseURL   string `mapstructure:"base_url"`   // overrides the COS bucket URL
}

// ArchiveConfig controls periodic snapshot archiving. Archiving needs both
// a database and a storage backend.
type ArchiveConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Interval    time.Duration `mapstructure:"interval"`
	Format      string        `mapstructure:"format"`
	Compression string        `mapstructure:"compression"` // none, gzip or zstd
	Mode        string        `mapstructure:"mode"`        // threads or monitors
	Retention   time.Duration `mapstructure:"retention"`   // zero keeps everything
}

// TelemetryConfig configures OpenTelemetry tracing. The standard OTEL_*
// environment variables override it.
type TelemetryConfig struct {
	Enabled      bool              `mapstructure:"enabled"`
	ServiceName  string            `mapstructure:"service_name"`
	Endpoint     string            `mapstructure:"endpoint"`
	Protocol     string            `mapstructure:"protocol"` // grpc or http/protobuf
	Insecure     bool              `mapstructure:"insecure"`
	Headers      map[string]string `mapstructure:"headers"`
	Sampler      string            `mapstructure:"sampler"`
	SamplerRatio float64           `mapstructure:"sampler_ratio"`
	Attributes   map[string]string `mapstructure:"attributes"`
}

var (
	archiveFormats      = []string{"json", "csv", "xml", "html", "pprof"}
	archiveCompressions = []string{"none", "gzip", "zstd"}
)

// Load reads configuration from the specified file path.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/lockgraph")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			fmt.Fprintln(os.Stderr, "Config file not found, using defaults")
		} else if os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "Config file %s not found, using defaults\n", configPath)
		} else {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// LOCKGRAPH_SESSION_MIN_REFRESH overrides session.min_refresh.
	v.SetEnvPrefix("LOCKGRAPH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// LoadFromReader loads configuration from raw bytes (useful for testing).
func LoadFromReader(configType string, content []byte) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigType(configType)
	if err := v.ReadConfig(bytes.NewReader(content)); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	v := viper.New()
	setDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("config: invalid defaults: %v", err))
	}
	return &cfg
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.output", "stderr")

	// Session defaults: nanosecond timer, monitor info on
	v.SetDefault("session.timer_counts_per_second", int64(time.Second))
	v.SetDefault("session.collect_two_timestamps", false)
	v.SetDefault("session.monitor_info", true)
	v.SetDefault("session.min_refresh", 900*time.Millisecond)
	v.SetDefault("session.max_refresh", 1400*time.Millisecond)
	v.SetDefault("session.queue_low", 2)
	v.SetDefault("session.queue_high", 8)

	// Server defaults
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.max_frame_bytes", 16<<20)
	v.SetDefault("server.frame_rate", 0)
	v.SetDefault("server.frame_burst", 64)

	// Database defaults
	v.SetDefault("database.type", "sqlite")
	v.SetDefault("database.database", "./data/lockgraph.db")
	v.SetDefault("database.max_conns", 10)

	// Storage defaults
	v.SetDefault("storage.type", "local")
	v.SetDefault("storage.local_path", "./storage")

	// Archive defaults
	v.SetDefault("archive.enabled", false)
	v.SetDefault("archive.interval", time.Minute)
	v.SetDefault("archive.format", "json")
	v.SetDefault("archive.compression", "gzip")
	v.SetDefault("archive.mode", "threads")

	// Telemetry defaults
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.service_name", "lockgraph")
	v.SetDefault("telemetry.protocol", "grpc")
	v.SetDefault("telemetry.sampler", "parentbased_always_on")
	v.SetDefault("telemetry.sampler_ratio", 1.0)
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Session.TimerCountsPerSecond <= 0 {
		return fmt.Errorf("session timer_counts_per_second must be positive")
	}
	if c.Session.QueueLow < 0 || c.Session.QueueHigh < 1 {
		return fmt.Errorf("session queue watermarks must be positive")
	}
	if c.Session.QueueLow >= c.Session.QueueHigh {
		return fmt.Errorf("session queue_low (%d) must be below queue_high (%d)",
			c.Session.QueueLow, c.Session.QueueHigh)
	}
	if c.Session.MaxRefresh > 0 && c.Session.MaxRefresh < c.Session.MinRefresh {
		return fmt.Errorf("session max_refresh must not be below min_refresh")
	}

	if c.Server.FrameRate < 0 {
		return fmt.Errorf("server frame_rate must not be negative")
	}
	if c.Server.FrameRate > 0 && c.Server.FrameBurst < 1 {
		return fmt.Errorf("server frame_burst must be positive when frame_rate is set")
	}

	if r := c.Telemetry.SamplerRatio; r < 0 || r > 1 {
		return fmt.Errorf("telemetry sampler_ratio must be within [0, 1]")
	}

	// Storage config validation is delegated to storage package

	switch c.Database.Type {
	case "postgres", "postgresql", "mysql":
		if c.Database.Host == "" {
			return fmt.Errorf("database host is required")
		}
	case "sqlite", "sqlite3":
		if c.Database.Database == "" {
			return fmt.Errorf("sqlite database path is required")
		}
	default:
		return fmt.Errorf("unsupported database type: %s", c.Database.Type)
	}

	if c.Archive.Enabled {
		if c.Archive.Interval <= 0 {
			return fmt.Errorf("archive interval must be positive")
		}
		if !contains(archiveFormats, c.Archive.Format) {
			return fmt.Errorf("unsupported archive format: %s", c.Archive.Format)
		}
		if !contains(archiveCompressions, c.Archive.Compression) {
			return fmt.Errorf("unsupported archive compression: %s", c.Archive.Compression)
		}
		if c.Archive.Mode != "threads" && c.Archive.Mode != "monitors" {
			return fmt.Errorf("unsupported archive mode: %s", c.Archive.Mode)
		}
	}

	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
