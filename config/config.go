// Package config provides loading of tmapi.yaml configuration files and
// assembles a tmapi.System from them.
//
// A minimal configuration selects the backends:
//
//	store:
//	  backend: sqlite
//	  sqlite:
//	    path: /var/lib/tmapi/tm.db
//	locker:
//	  backend: etcd
//	  etcd:
//	    endpoints: ["localhost:2379"]
//	logging:
//	  level: info
//	  format: json
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/zero-day-ai/tmapi/identity"
)

// Store backends.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendSQLite = "sqlite"
)

// Locker backends.
const (
	LockerLocal = "local"
	LockerEtcd  = "etcd"
)

// Log formats.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// Config represents a tmapi.yaml configuration file.
type Config struct {
	Store    StoreConfig    `yaml:"store"`
	Locker   LockerConfig   `yaml:"locker"`
	Identity IdentityConfig `yaml:"identity"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// StoreConfig selects the record and binding store.
type StoreConfig struct {
	// Backend is "memory", "redis" or "sqlite". Default: "memory".
	Backend string `yaml:"backend"`

	Redis  *RedisConfig  `yaml:"redis,omitempty"`
	SQLite *SQLiteConfig `yaml:"sqlite,omitempty"`
}

// RedisConfig configures the Redis store.
type RedisConfig struct {
	// URL is the Redis connection string. Default: "redis://localhost:6379".
	URL string `yaml:"url"`

	// Prefix namespaces the store's keys. Default: "tmapi".
	Prefix string `yaml:"prefix,omitempty"`

	// ConnectTimeout bounds connection establishment.
	// Format: Go duration string (e.g., "5s")
	// Default: 5s
	ConnectTimeout string `yaml:"connect_timeout,omitempty"`

	// TLS enables client certificates.
	TLS *identity.TLSConfig `yaml:"tls,omitempty"`
}

// GetConnectTimeout parses the connect timeout string and returns a
// duration. Returns the default value if not set or invalid.
func (r *RedisConfig) GetConnectTimeout() time.Duration {
	if r == nil || r.ConnectTimeout == "" {
		return 5 * time.Second
	}
	d, err := time.ParseDuration(r.ConnectTimeout)
	if err != nil {
		return 5 * time.Second
	}
	return d
}

// SQLiteConfig configures the SQLite store.
type SQLiteConfig struct {
	Path     string `yaml:"path"`
	PoolSize int    `yaml:"pool_size,omitempty"`
}

// LockerConfig selects how writers to a topic map are serialised.
type LockerConfig struct {
	// Backend is "local" for a single process or "etcd" for several
	// processes sharing one store. Default: "local".
	Backend string `yaml:"backend"`

	Etcd *identity.EtcdConfig `yaml:"etcd,omitempty"`
}

// IdentityConfig tunes identifier resolution.
type IdentityConfig struct {
	// MaxRetries bounds the retries after a concurrent bind conflict.
	// Default: 3
	MaxRetries int `yaml:"max_retries,omitempty"`
}

// LoggingConfig configures the slog logger.
type LoggingConfig struct {
	// Level is "debug", "info", "warn" or "error". Default: "info".
	Level string `yaml:"level"`

	// Format is "text" or "json". Default: "text".
	Format string `yaml:"format"`
}

// Load reads and parses a tmapi.yaml file from the given path.
// If the path is a directory, it looks for tmapi.yaml or tmapi.yml in that directory.
func Load(path string) (*Config, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat path: %w", err)
	}

	configPath := path
	if info.IsDir() {
		configPath = ""
		for _, name := range []string{"tmapi.yaml", "tmapi.yml"} {
			candidate := filepath.Join(path, name)
			if _, err := os.Stat(candidate); err == nil {
				configPath = candidate
				break
			}
		}
		if configPath == "" {
			return nil, fmt.Errorf("no tmapi.yaml or tmapi.yml found in %s", path)
		}
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes data, applies defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.Store.Backend == "" {
		c.Store.Backend = BackendMemory
	}
	if c.Store.Backend == BackendRedis {
		if c.Store.Redis == nil {
			c.Store.Redis = &RedisConfig{}
		}
		if c.Store.Redis.URL == "" {
			c.Store.Redis.URL = "redis://localhost:6379"
		}
		if c.Store.Redis.Prefix == "" {
			c.Store.Redis.Prefix = "tmapi"
		}
	}

	if c.Locker.Backend == "" {
		c.Locker.Backend = LockerLocal
	}
	if c.Locker.Backend == LockerEtcd && c.Locker.Etcd != nil {
		if c.Locker.Etcd.Prefix == "" {
			c.Locker.Etcd.Prefix = "/tmapi/locks/"
		}
		if c.Locker.Etcd.TTL <= 0 {
			c.Locker.Etcd.TTL = 10
		}
		if c.Locker.Etcd.DialTimeout <= 0 {
			c.Locker.Etcd.DialTimeout = 5 * time.Second
		}
	}

	if c.Identity.MaxRetries <= 0 {
		c.Identity.MaxRetries = identity.DefaultMaxRetries
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = FormatText
	}
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var errs []error

	switch c.Store.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.Store.Redis == nil || c.Store.Redis.URL == "" {
			errs = append(errs, errors.New("store.redis.url is required for the redis backend"))
		}
	case BackendSQLite:
		if c.Store.SQLite == nil || c.Store.SQLite.Path == "" {
			errs = append(errs, errors.New("store.sqlite.path is required for the sqlite backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store backend %q", c.Store.Backend))
	}

	switch c.Locker.Backend {
	case LockerLocal:
	case LockerEtcd:
		if c.Locker.Etcd == nil || len(c.Locker.Etcd.Endpoints) == 0 {
			errs = append(errs, errors.New("locker.etcd.endpoints is required for the etcd locker"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown locker backend %q", c.Locker.Backend))
	}

	if c.Identity.MaxRetries < 0 {
		errs = append(errs, errors.New("identity.max_retries must not be negative"))
	}
	if _, err := c.Logging.level(); err != nil {
		errs = append(errs, err)
	}
	if c.Logging.Format != FormatText && c.Logging.Format != FormatJSON {
		errs = append(errs, fmt.Errorf("unknown log format %q", c.Logging.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}
