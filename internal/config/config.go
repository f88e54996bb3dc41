// Package config handles YAML configuration loading with environment variable expansion.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"time"

	"go.yaml.in/yaml/v3"
)

// Config is the top-level shop configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Cache     CacheConfig     `yaml:"cache"`
	Auth      AuthConfig      `yaml:"auth"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Seed      SeedConfig      `yaml:"seed"`
}

// TelemetryConfig holds observability settings.
type TelemetryConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

// MetricsConfig controls Prometheus metrics.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// TracingConfig controls OpenTelemetry tracing.
type TracingConfig struct {
	Enabled    bool    `yaml:"enabled"`
	Endpoint   string  `yaml:"endpoint"`    // OTLP gRPC endpoint
	SampleRate float64 `yaml:"sample_rate"` // 0.0 to 1.0
}

// Cache backends and invalidation modes.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"

	InvalidationSync       = "sync"
	InvalidationBackground = "background"
)

// CacheConfig holds response cache and ban flag settings.
type CacheConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Backend      string        `yaml:"backend"`      // "memory" or "redis"
	Invalidation string        `yaml:"invalidation"` // "sync" or "background"
	TTL          time.Duration `yaml:"ttl"`          // entity and listing entries
	BanTTL       time.Duration `yaml:"ban_ttl"`      // default ban length
	MaxSize      int           `yaml:"max_size"`     // memory backend only
	Breaker      BreakerConfig `yaml:"breaker"`
}

// BreakerConfig tunes the circuit breaker in front of the cache store.
type BreakerConfig struct {
	Enabled        bool          `yaml:"enabled"`
	ErrorThreshold float64       `yaml:"error_threshold"`
	MinSamples     int           `yaml:"min_samples"`
	WindowSeconds  int           `yaml:"window_seconds"`
	OpenTimeout    time.Duration `yaml:"open_timeout"`
}

// RedisConfig holds the Redis connection used by the redis cache backend.
type RedisConfig struct {
	URL       string `yaml:"url"` // takes precedence over addr/password/db
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
	PoolSize  int    `yaml:"pool_size"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	BaseURL         string        `yaml:"base_url"` // public URL used in emailed links
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds SQLite settings.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"` // file path or ":memory:"
}

// AuthConfig holds token settings.
type AuthConfig struct {
	AccessSecret  string        `yaml:"access_secret"`
	RefreshSecret string        `yaml:"refresh_secret"`
	Issuer        string        `yaml:"issuer"`
	AccessTTL     time.Duration `yaml:"access_ttl"`
	RefreshTTL    time.Duration `yaml:"refresh_ttl"`
	SecureCookies bool          `yaml:"secure_cookies"`
	RatePerMinute int64         `yaml:"rate_per_minute"` // credential requests per client; 0 = unlimited
}

// SeedConfig holds first-run data.
type SeedConfig struct {
	Admin AdminSeed `yaml:"admin"`
}

// AdminSeed describes the admin account created on first run. It is skipped
// when Email or Password is empty.
type AdminSeed struct {
	Email       string `yaml:"email"`
	Username    string `yaml:"username"`
	DisplayName string `yaml:"display_name"`
	Password    string `yaml:"password"`
}

var envPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnv replaces ${VAR} patterns with environment variable values.
func expandEnv(data []byte) []byte {
	return envPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		varName := string(match[2 : len(match)-1])
		if val, ok := os.LookupEnv(varName); ok {
			return []byte(val)
		}
		return match
	})
}

// Load reads and parses a YAML config file, expanding environment variables.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	data = expandEnv(data)

	cfg := &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			BaseURL:         "http://localhost:8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			DSN: "goshop.db",
		},
		Redis: RedisConfig{
			Addr:      "localhost:6379",
			KeyPrefix: "goshop:",
		},
		Cache: CacheConfig{
			Enabled:      true,
			Backend:      BackendMemory,
			Invalidation: InvalidationSync,
			TTL:          5 * time.Minute,
			BanTTL:       90 * time.Second,
			MaxSize:      10_000,
			Breaker: BreakerConfig{
				Enabled:        true,
				ErrorThreshold: 0.5,
				MinSamples:     20,
				WindowSeconds:  10,
				OpenTimeout:    5 * time.Second,
			},
		},
		Auth: AuthConfig{
			Issuer:        "goshop",
			AccessTTL:     15 * time.Minute,
			RefreshTTL:    7 * 24 * time.Hour,
			RatePerMinute: 20,
		},
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Validate checks the settings that have no safe default.
func (c *Config) Validate() error {
	var errs []error
	switch c.Cache.Backend {
	case BackendMemory, BackendRedis:
	default:
		errs = append(errs, fmt.Errorf("cache.backend %q: want %q or %q", c.Cache.Backend, BackendMemory, BackendRedis))
	}
	switch c.Cache.Invalidation {
	case InvalidationSync, InvalidationBackground:
	default:
		errs = append(errs, fmt.Errorf("cache.invalidation %q: want %q or %q", c.Cache.Invalidation, InvalidationSync, InvalidationBackground))
	}
	if c.Cache.TTL <= 0 {
		errs = append(errs, errors.New("cache.ttl must be positive"))
	}
	if c.Cache.BanTTL <= 0 {
		errs = append(errs, errors.New("cache.ban_ttl must be positive"))
	}
	if c.Auth.AccessSecret == "" || c.Auth.RefreshSecret == "" {
		errs = append(errs, errors.New("auth.access_secret and auth.refresh_secret are required"))
	}
	return errors.Join(errs...)
}
