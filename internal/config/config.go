// Package config provides configuration management for radiarr using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultServerPort          = 8080
	defaultServerTimeout       = 30 * time.Second
	defaultShutdownTimeout     = 15 * time.Second
	defaultMaxOpenConns        = 25
	defaultMaxIdleConns        = 10
	defaultConnMaxIdleTime     = 30 * time.Minute
	defaultSourceAddress       = "0.0.0.0:8000"
	defaultMaxHeadSize         = 8 * 1024
	defaultSourceReadTimeout   = 30 * time.Second
	defaultMaxSourceConns      = 1024
	defaultChunkSize           = 16 * 1024
	defaultBitrate             = 128_000
	defaultBurstLength         = 8
	defaultChannelCapacity     = 64
	defaultRelayConnectTimeout = 10 * time.Second
	defaultLeaseTimeout        = 60 * time.Second
	defaultHealthCheckInterval = 15 * time.Second
	defaultReconcileInterval   = 30 * time.Second
	defaultSweepSchedule       = "@every 30s"
	defaultStationCacheTTL     = 5 * time.Minute
)

// Config holds all configuration for the application.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Source   SourceConfig   `mapstructure:"source"`
	Relay    RelayConfig    `mapstructure:"relay"`
	Session  SessionConfig  `mapstructure:"session"`
	FFmpeg   FFmpegConfig   `mapstructure:"ffmpeg"`
	Cache    CacheConfig    `mapstructure:"cache"`
}

// ServerConfig holds HTTP server configuration for the listener and control plane.
type ServerConfig struct {
	Host        string        `mapstructure:"host"`
	Port        int           `mapstructure:"port"`
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	// WriteTimeout applies to every response including listener streams,
	// so it defaults to 0 (disabled).
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // sqlite, postgres, mysql
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	LogLevel        string        `mapstructure:"log_level"` // silent, error, warn, info
}

// StorageConfig holds playlist audio file storage configuration.
type StorageConfig struct {
	Backend string   `mapstructure:"backend"` // local, s3
	BaseDir string   `mapstructure:"base_dir"`
	S3      S3Config `mapstructure:"s3"`
}

// S3Config holds S3-compatible object storage settings.
type S3Config struct {
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	Endpoint  string `mapstructure:"endpoint"`
	Prefix    string `mapstructure:"prefix"`
	PathStyle bool   `mapstructure:"path_style"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// SourceConfig holds the raw TCP source ingestion settings.
type SourceConfig struct {
	Addresses      []string      `mapstructure:"addresses"`
	MaxHeadSize    ByteSize      `mapstructure:"max_head_size"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	MaxConnections int           `mapstructure:"max_connections"`
}

// RelayConfig holds broadcast channel and stream framing settings.
type RelayConfig struct {
	// ChunkSize is the frame size used when slicing inbound audio.
	ChunkSize ByteSize `mapstructure:"chunk_size"`
	// Bitrate is the playlist output bitrate in bits per second.
	Bitrate         int           `mapstructure:"bitrate"`
	BurstLength     int           `mapstructure:"burst_length"`
	ChannelCapacity int           `mapstructure:"channel_capacity"`
	UserAgent       string        `mapstructure:"user_agent"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
}

// SessionConfig holds media session and ownership lease settings.
type SessionConfig struct {
	// DeploymentID identifies this node; empty means hostname.
	DeploymentID        string        `mapstructure:"deployment_id"`
	LeaseTimeout        time.Duration `mapstructure:"lease_timeout"`
	HealthCheckInterval time.Duration `mapstructure:"health_check_interval"`
	ReconcileInterval   time.Duration `mapstructure:"reconcile_interval"`
	SweepSchedule       string        `mapstructure:"sweep_schedule"`
	AutoStart           bool          `mapstructure:"auto_start"`
}

// FFmpegConfig holds FFmpeg binary configuration.
type FFmpegConfig struct {
	BinaryPath string `mapstructure:"binary_path"` // empty = search PATH
}

// CacheConfig holds in-memory cache settings.
type CacheConfig struct {
	StationTTL time.Duration `mapstructure:"station_ttl"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Environment variables are prefixed with RADIARR_ and use underscores for nesting.
// Example: RADIARR_SERVER_PORT=8080.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/radiarr")
		v.AddConfigPath("$HOME/.radiarr")
	}

	v.SetEnvPrefix("RADIARR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	return FromViper(v)
}

// FromViper unmarshals and validates configuration held by v.
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(byteSizeHook())); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// SetDefaults configures default values for all configuration options.
// This should be called before reading the config file to ensure defaults are in place.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.read_timeout", defaultServerTimeout)
	v.SetDefault("server.write_timeout", time.Duration(0))
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)
	v.SetDefault("server.cors_origins", []string{"*"})

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "radiarr.db")
	v.SetDefault("database.max_open_conns", defaultMaxOpenConns)
	v.SetDefault("database.max_idle_conns", defaultMaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.conn_max_idle_time", defaultConnMaxIdleTime)
	v.SetDefault("database.log_level", "warn")

	v.SetDefault("storage.backend", "local")
	v.SetDefault("storage.base_dir", "./data/audio")
	v.SetDefault("storage.s3.bucket", "")
	v.SetDefault("storage.s3.region", "us-east-1")
	v.SetDefault("storage.s3.endpoint", "")
	v.SetDefault("storage.s3.prefix", "stations")
	v.SetDefault("storage.s3.path_style", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	v.SetDefault("source.addresses", []string{defaultSourceAddress})
	v.SetDefault("source.max_head_size", defaultMaxHeadSize)
	v.SetDefault("source.read_timeout", defaultSourceReadTimeout)
	v.SetDefault("source.max_connections", defaultMaxSourceConns)

	v.SetDefault("relay.chunk_size", defaultChunkSize)
	v.SetDefault("relay.bitrate", defaultBitrate)
	v.SetDefault("relay.burst_length", defaultBurstLength)
	v.SetDefault("relay.channel_capacity", defaultChannelCapacity)
	v.SetDefault("relay.user_agent", "")
	v.SetDefault("relay.connect_timeout", defaultRelayConnectTimeout)

	v.SetDefault("session.deployment_id", "")
	v.SetDefault("session.lease_timeout", defaultLeaseTimeout)
	v.SetDefault("session.health_check_interval", defaultHealthCheckInterval)
	v.SetDefault("session.reconcile_interval", defaultReconcileInterval)
	v.SetDefault("session.sweep_schedule", defaultSweepSchedule)
	v.SetDefault("session.auto_start", true)

	v.SetDefault("ffmpeg.binary_path", "")

	v.SetDefault("cache.station_ttl", defaultStationCacheTTL)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	const maxPort = 65535
	if c.Server.Port < 1 || c.Server.Port > maxPort {
		return fmt.Errorf("server.port must be between 1 and %d", maxPort)
	}

	validDrivers := map[string]bool{"sqlite": true, "postgres": true, "mysql": true}
	if !validDrivers[c.Database.Driver] {
		return fmt.Errorf("database.driver must be one of: sqlite, postgres, mysql")
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}

	switch c.Storage.Backend {
	case "local":
		if c.Storage.BaseDir == "" {
			return fmt.Errorf("storage.base_dir is required for the local backend")
		}
	case "s3":
		if c.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required for the s3 backend")
		}
	default:
		return fmt.Errorf("storage.backend must be one of: local, s3")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	if len(c.Source.Addresses) == 0 {
		return fmt.Errorf("source.addresses must list at least one address")
	}
	if c.Source.MaxHeadSize < 64 {
		return fmt.Errorf("source.max_head_size must be at least 64 bytes")
	}
	if c.Source.MaxConnections < 1 {
		return fmt.Errorf("source.max_connections must be at least 1")
	}

	if c.Relay.ChunkSize < 512 {
		return fmt.Errorf("relay.chunk_size must be at least 512 bytes")
	}
	if c.Relay.Bitrate < 8000 {
		return fmt.Errorf("relay.bitrate must be at least 8000 bps")
	}
	if c.Relay.BurstLength < 1 {
		return fmt.Errorf("relay.burst_length must be at least 1")
	}
	if c.Relay.ChannelCapacity < 1 {
		return fmt.Errorf("relay.channel_capacity must be at least 1")
	}

	if c.Session.HealthCheckInterval <= 0 {
		return fmt.Errorf("session.health_check_interval must be positive")
	}
	if c.Session.LeaseTimeout <= c.Session.HealthCheckInterval {
		return fmt.Errorf("session.lease_timeout must be greater than session.health_check_interval")
	}
	if c.Session.ReconcileInterval <= 0 {
		return fmt.Errorf("session.reconcile_interval must be positive")
	}
	if c.Session.SweepSchedule == "" {
		return fmt.Errorf("session.sweep_schedule is required")
	}

	return nil
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ChunkInterval returns how long one chunk of audio lasts at the configured bitrate.
func (c *RelayConfig) ChunkInterval() time.Duration {
	if c.Bitrate <= 0 {
		return time.Second
	}
	return time.Duration(c.ChunkSize.Int64()*8) * time.Second / time.Duration(c.Bitrate)
}
