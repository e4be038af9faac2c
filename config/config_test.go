package config

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zero-day-ai/tmapi"
	"github.com/zero-day-ai/tmapi/identity"
	"github.com/zero-day-ai/tmapi/locator"
)

func TestParse(t *testing.T) {
	data := []byte(`
store:
  backend: sqlite
  sqlite:
    path: /tmp/tm.db
    pool_size: 2
locker:
  backend: etcd
  etcd:
    endpoints: ["etcd-1:2379", "etcd-2:2379"]
    dial_timeout: 2s
identity:
  max_retries: 5
logging:
  level: debug
  format: json
`)
	cfg, err := Parse(data)
	require.NoError(t, err)

	assert.Equal(t, BackendSQLite, cfg.Store.Backend)
	require.NotNil(t, cfg.Store.SQLite)
	assert.Equal(t, "/tmp/tm.db", cfg.Store.SQLite.Path)
	assert.Equal(t, 2, cfg.Store.SQLite.PoolSize)

	assert.Equal(t, LockerEtcd, cfg.Locker.Backend)
	require.NotNil(t, cfg.Locker.Etcd)
	assert.Equal(t, []string{"etcd-1:2379", "etcd-2:2379"}, cfg.Locker.Etcd.Endpoints)
	assert.Equal(t, 2*time.Second, cfg.Locker.Etcd.DialTimeout)
	assert.Equal(t, "/tmapi/locks/", cfg.Locker.Etcd.Prefix)
	assert.Equal(t, 10, cfg.Locker.Etcd.TTL)

	assert.Equal(t, 5, cfg.Identity.MaxRetries)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, FormatJSON, cfg.Logging.Format)
}

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`{}`))
	require.NoError(t, err)

	assert.Equal(t, BackendMemory, cfg.Store.Backend)
	assert.Equal(t, LockerLocal, cfg.Locker.Backend)
	assert.Equal(t, identity.DefaultMaxRetries, cfg.Identity.MaxRetries)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, FormatText, cfg.Logging.Format)

	cfg, err = Parse([]byte("store:\n  backend: redis\n"))
	require.NoError(t, err)
	require.NotNil(t, cfg.Store.Redis)
	assert.Equal(t, "redis://localhost:6379", cfg.Store.Redis.URL)
	assert.Equal(t, "tmapi", cfg.Store.Redis.Prefix)
	assert.Equal(t, 5*time.Second, cfg.Store.Redis.GetConnectTimeout())
}

func TestParseInvalid(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr string
	}{
		{"malformed yaml", "store: [", "failed to parse config file"},
		{"unknown store", "store:\n  backend: badger\n", `unknown store backend "badger"`},
		{"sqlite without path", "store:\n  backend: sqlite\n", "store.sqlite.path is required"},
		{"unknown locker", "locker:\n  backend: zookeeper\n", `unknown locker backend "zookeeper"`},
		{"etcd without endpoints", "locker:\n  backend: etcd\n", "locker.etcd.endpoints is required"},
		{"bad level", "logging:\n  level: loud\n", `invalid log level "loud"`},
		{"bad format", "logging:\n  format: xml\n", `unknown log format "xml"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateReportsEveryProblem(t *testing.T) {
	cfg := &Config{
		Store:   StoreConfig{Backend: "badger"},
		Locker:  LockerConfig{Backend: "zookeeper"},
		Logging: LoggingConfig{Level: "info", Format: "xml"},
	}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "badger")
	assert.Contains(t, err.Error(), "zookeeper")
	assert.Contains(t, err.Error(), "xml")
}

func TestGetConnectTimeout(t *testing.T) {
	tests := []struct {
		name string
		cfg  *RedisConfig
		want time.Duration
	}{
		{"nil", nil, 5 * time.Second},
		{"empty", &RedisConfig{}, 5 * time.Second},
		{"set", &RedisConfig{ConnectTimeout: "250ms"}, 250 * time.Millisecond},
		{"invalid", &RedisConfig{ConnectTimeout: "soon"}, 5 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cfg.GetConnectTimeout())
		})
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(dir)
	assert.ErrorContains(t, err, "no tmapi.yaml or tmapi.yml found")

	path := filepath.Join(dir, "tmapi.yml")
	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: warn\n"), 0o600))

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Logging.Level)

	cfg, err = Load(path)
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Logging.Level)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	assert.ErrorContains(t, err, "failed to stat path")
}

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := LoggingConfig{Level: "warn", Format: FormatJSON}.Logger(&buf)
	require.NoError(t, err)

	logger.Info("hidden")
	logger.Warn("shown", "topic_map", "tm-1")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "shown", entry["msg"])
	assert.Equal(t, "tm-1", entry["topic_map"])
}

func exercise(t *testing.T, sys *tmapi.System) {
	t.Helper()
	ctx := context.Background()
	tm, err := sys.CreateTopicMap(ctx, locator.MustNew("http://example.org/tm/"))
	require.NoError(t, err)
	topic, err := tm.CreateTopicBySubjectIdentifier(ctx, locator.MustNew("http://example.org/a"))
	require.NoError(t, err)
	again, err := tm.CreateTopicByItemIdentifier(ctx, locator.MustNew("http://example.org/a"))
	require.NoError(t, err)
	assert.Equal(t, topic.ID(), again.ID())
}

func TestOpen(t *testing.T) {
	mr := miniredis.RunT(t)

	tests := []struct {
		name string
		cfg  *Config
	}{
		{"memory", &Config{}},
		{"sqlite", &Config{Store: StoreConfig{
			Backend: BackendSQLite,
			SQLite:  &SQLiteConfig{Path: filepath.Join(t.TempDir(), "tm.db")},
		}}},
		{"redis", &Config{Store: StoreConfig{
			Backend: BackendRedis,
			Redis:   &RedisConfig{URL: "redis://" + mr.Addr(), Prefix: "test"},
		}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sys, err := Open(context.Background(), tt.cfg)
			require.NoError(t, err)
			defer func() { assert.NoError(t, sys.Close()) }()
			exercise(t, sys)
		})
	}
}

func TestOpenErrors(t *testing.T) {
	_, err := Open(context.Background(), &Config{Store: StoreConfig{Backend: "badger"}})
	assert.ErrorContains(t, err, "unknown store backend")

	_, err = Open(context.Background(), &Config{Store: StoreConfig{
		Backend: BackendRedis,
		Redis:   &RedisConfig{URL: "redis://127.0.0.1:1", ConnectTimeout: "100ms"},
	}})
	assert.ErrorContains(t, err, "failed to open redis store")
}
