// Package config loads the gateway configuration from YAML and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Security log backends.
const (
	BackendNone     = "none"
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendMongo    = "mongo"
	BackendRedis    = "redis"
)

// Config is the full gateway configuration.
type Config struct {
	Edition     string            `yaml:"edition"` // "opensource" or "commercial"
	Server      ServerConfig      `yaml:"server"`
	Log         LogConfig         `yaml:"log"`
	Verifier    VerifierConfig    `yaml:"verifier"`
	RateLimit   RateLimitConfig   `yaml:"rate_limit"`
	SecurityLog SecurityLogConfig `yaml:"security_log"`
	Client      ClientConfig      `yaml:"client"`
	Offline     OfflineConfig     `yaml:"offline"`
}

type ServerConfig struct {
	ListenAddr      string        `yaml:"listen_addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "console"
}

type VerifierConfig struct {
	MaxClockSkew time.Duration `yaml:"max_clock_skew"`
	// SharedSecret overrides the compiled-in signing secret when set.
	SharedSecret string `yaml:"shared_secret"`
}

type RateLimitConfig struct {
	Backend       string        `yaml:"backend"` // "memory" or "redis"
	MaxRequests   int           `yaml:"max_requests"`
	Window        time.Duration `yaml:"window"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
	RedisURL      string        `yaml:"redis_url"`
	KeyPrefix     string        `yaml:"key_prefix"`
}

type SecurityLogConfig struct {
	Backend       string        `yaml:"backend"` // "none", "memory", "postgres" or "mongo"
	QueueSize     int           `yaml:"queue_size"`
	Retention     time.Duration `yaml:"retention"`
	PostgresDSN   string        `yaml:"postgres_dsn"`
	PostgresTable string        `yaml:"postgres_table"`
	MongoURI      string        `yaml:"mongo_uri"`
	MongoDatabase string        `yaml:"mongo_database"`
}

type ClientConfig struct {
	Timeout time.Duration `yaml:"timeout"`
	// RatePerSecond throttles outbound calls to commercial backends. Zero disables it.
	RatePerSecond float64 `yaml:"rate_per_second"`
	Burst         int     `yaml:"burst"`
}

type OfflineConfig struct {
	PublicKey string `yaml:"public_key"` // base64 Ed25519
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Edition: "opensource",
		Server: ServerConfig{
			ListenAddr:      ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Verifier: VerifierConfig{
			MaxClockSkew: 5 * time.Minute,
		},
		RateLimit: RateLimitConfig{
			Backend:       BackendMemory,
			MaxRequests:   100,
			Window:        time.Minute,
			SweepInterval: 5 * time.Minute,
			KeyPrefix:     "cnw:ratelimit:",
		},
		SecurityLog: SecurityLogConfig{
			Backend:       BackendMemory,
			QueueSize:     1024,
			Retention:     30 * 24 * time.Hour,
			PostgresTable: "cnw_security_events",
			MongoDatabase: "cnw",
		},
		Client: ClientConfig{
			Timeout: 10 * time.Second,
			Burst:   10,
		},
	}
}

// Load reads path over the defaults. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from CNW_* environment variables. Setting a
// store URL without naming a backend selects that store.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("CNW_EDITION"); v != "" {
		c.Edition = strings.ToLower(strings.TrimSpace(v))
	}
	if v := os.Getenv("CNW_LISTEN_ADDR"); v != "" {
		c.Server.ListenAddr = v
	}
	if v := os.Getenv("CNW_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("CNW_LOG_FORMAT"); v != "" {
		c.Log.Format = v
	}
	if v := os.Getenv("CNW_REDIS_URL"); v != "" {
		c.RateLimit.RedisURL = v
		c.RateLimit.Backend = BackendRedis
	}
	if v := os.Getenv("CNW_POSTGRES_DSN"); v != "" {
		c.SecurityLog.PostgresDSN = v
		c.SecurityLog.Backend = BackendPostgres
	}
	if v := os.Getenv("CNW_MONGO_URI"); v != "" {
		c.SecurityLog.MongoURI = v
		if os.Getenv("CNW_POSTGRES_DSN") == "" {
			c.SecurityLog.Backend = BackendMongo
		}
	}
	if v := os.Getenv("CNW_SECURITY_LOG_BACKEND"); v != "" {
		c.SecurityLog.Backend = strings.ToLower(v)
	}
	if v := os.Getenv("CNW_OFFLINE_PUBLIC_KEY"); v != "" {
		c.Offline.PublicKey = v
	}
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Edition != "opensource" && c.Edition != "commercial" {
		errs = append(errs, fmt.Errorf("edition must be opensource or commercial, got %q", c.Edition))
	}
	if c.Server.ListenAddr == "" {
		errs = append(errs, errors.New("server.listen_addr is required"))
	}
	if c.Verifier.MaxClockSkew <= 0 {
		errs = append(errs, errors.New("verifier.max_clock_skew must be positive"))
	}
	if c.RateLimit.MaxRequests <= 0 {
		errs = append(errs, errors.New("rate_limit.max_requests must be positive"))
	}
	if c.RateLimit.Window <= 0 {
		errs = append(errs, errors.New("rate_limit.window must be positive"))
	}

	switch c.RateLimit.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.RateLimit.RedisURL == "" {
			errs = append(errs, errors.New("rate_limit.redis_url is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("rate_limit.backend must be memory or redis, got %q", c.RateLimit.Backend))
	}

	switch c.SecurityLog.Backend {
	case BackendNone, BackendMemory:
	case BackendPostgres:
		if c.SecurityLog.PostgresDSN == "" {
			errs = append(errs, errors.New("security_log.postgres_dsn is required for the postgres backend"))
		}
	case BackendMongo:
		if c.SecurityLog.MongoURI == "" {
			errs = append(errs, errors.New("security_log.mongo_uri is required for the mongo backend"))
		}
		if c.SecurityLog.MongoDatabase == "" {
			errs = append(errs, errors.New("security_log.mongo_database is required for the mongo backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("security_log.backend must be none, memory, postgres or mongo, got %q", c.SecurityLog.Backend))
	}

	if c.Client.Timeout <= 0 {
		errs = append(errs, errors.New("client.timeout must be positive"))
	}
	if c.Client.RatePerSecond < 0 {
		errs = append(errs, errors.New("client.rate_per_second must not be negative"))
	}
	return errors.Join(errs...)
}
