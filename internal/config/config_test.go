package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validTestConfig() *Config {
	return &Config{
		Server:   ServerConfig{Port: 8080},
		Database: DatabaseConfig{Driver: "sqlite", DSN: "test.db"},
		Storage:  StorageConfig{Backend: "local", BaseDir: "./data"},
		Logging:  LoggingConfig{Level: "info", Format: "json"},
		Source: SourceConfig{
			Addresses:      []string{"127.0.0.1:8000"},
			MaxHeadSize:    8 * Kilobyte,
			MaxConnections: 16,
		},
		Relay: RelayConfig{
			ChunkSize:       16 * Kilobyte,
			Bitrate:         128_000,
			BurstLength:     8,
			ChannelCapacity: 64,
		},
		Session: SessionConfig{
			LeaseTimeout:        time.Minute,
			HealthCheckInterval: 15 * time.Second,
			ReconcileInterval:   30 * time.Second,
			SweepSchedule:       "@every 30s",
		},
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := FromViper(newDefaultViper())
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, time.Duration(0), cfg.Server.WriteTimeout)

	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "radiarr.db", cfg.Database.DSN)

	assert.Equal(t, []string{"0.0.0.0:8000"}, cfg.Source.Addresses)
	assert.Equal(t, 8*Kilobyte, cfg.Source.MaxHeadSize)
	assert.Equal(t, 30*time.Second, cfg.Source.ReadTimeout)

	assert.Equal(t, 16*Kilobyte, cfg.Relay.ChunkSize)
	assert.Equal(t, 8, cfg.Relay.BurstLength)
	assert.Equal(t, 64, cfg.Relay.ChannelCapacity)
	assert.Equal(t, 128_000, cfg.Relay.Bitrate)

	assert.Equal(t, time.Minute, cfg.Session.LeaseTimeout)
	assert.Equal(t, "@every 30s", cfg.Session.SweepSchedule)
	assert.True(t, cfg.Session.AutoStart)
}

func newDefaultViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	return v
}

func TestLoad_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
server:
  port: 9090
relay:
  chunk_size: 32KB
  burst_length: 4
session:
  lease_timeout: 2m
source:
  addresses:
    - 127.0.0.1:8001
    - 127.0.0.1:8002
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 32*Kilobyte, cfg.Relay.ChunkSize)
	assert.Equal(t, 4, cfg.Relay.BurstLength)
	assert.Equal(t, 2*time.Minute, cfg.Session.LeaseTimeout)
	assert.Equal(t, []string{"127.0.0.1:8001", "127.0.0.1:8002"}, cfg.Source.Addresses)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("RADIARR_RELAY_BURST_LENGTH", "3")
	t.Setenv("RADIARR_LOGGING_LEVEL", "debug")

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logging:\n  format: text\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Relay.BurstLength)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"bad port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"bad driver", func(c *Config) { c.Database.Driver = "oracle" }, "database.driver"},
		{"s3 without bucket", func(c *Config) { c.Storage.Backend = "s3" }, "storage.s3.bucket"},
		{"bad backend", func(c *Config) { c.Storage.Backend = "ftp" }, "storage.backend"},
		{"bad level", func(c *Config) { c.Logging.Level = "trace" }, "logging.level"},
		{"no source address", func(c *Config) { c.Source.Addresses = nil }, "source.addresses"},
		{"tiny chunk", func(c *Config) { c.Relay.ChunkSize = 16 }, "relay.chunk_size"},
		{"zero burst", func(c *Config) { c.Relay.BurstLength = 0 }, "relay.burst_length"},
		{
			"lease shorter than health check",
			func(c *Config) { c.Session.LeaseTimeout = 10 * time.Second },
			"session.lease_timeout",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validTestConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestRelayConfig_ChunkInterval(t *testing.T) {
	rc := RelayConfig{ChunkSize: 16 * Kilobyte, Bitrate: 128_000}
	// 16384 bytes * 8 bits / 128000 bps = 1.024s
	assert.Equal(t, 1024*time.Millisecond, rc.ChunkInterval())
}

func TestServerConfig_Address(t *testing.T) {
	sc := ServerConfig{Host: "127.0.0.1", Port: 8080}
	assert.Equal(t, "127.0.0.1:8080", sc.Address())
}
