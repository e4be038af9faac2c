package config

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/zero-day-ai/tmapi"
	"github.com/zero-day-ai/tmapi/identity"
	"github.com/zero-day-ai/tmapi/store"
	"github.com/zero-day-ai/tmapi/store/memstore"
	"github.com/zero-day-ai/tmapi/store/redisstore"
	"github.com/zero-day-ai/tmapi/store/sqlitestore"
)

func (l LoggingConfig) level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", l.Level, err)
	}
	return level, nil
}

// Logger builds a logger writing to w.
func (l LoggingConfig) Logger(w io.Writer) (*slog.Logger, error) {
	level, err := l.level()
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if l.Format == FormatJSON {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

// OpenStore connects the configured store backend and verifies it responds.
func OpenStore(ctx context.Context, cfg StoreConfig, logger *slog.Logger) (store.Store, error) {
	var (
		s   store.Store
		err error
	)
	switch cfg.Backend {
	case BackendMemory, "":
		s = memstore.New()
	case BackendRedis:
		opts := redisstore.Options{}
		if cfg.Redis != nil {
			opts.URL = cfg.Redis.URL
			opts.Prefix = cfg.Redis.Prefix
			opts.ConnectTimeout = cfg.Redis.GetConnectTimeout()
			opts.TLS, err = cfg.Redis.TLS.ClientConfig()
			if err != nil {
				return nil, fmt.Errorf("failed to configure TLS: %w", err)
			}
		}
		s, err = redisstore.New(opts)
	case BackendSQLite:
		sc := sqlitestore.Config{Logger: logger}
		if cfg.SQLite != nil {
			sc.Path = cfg.SQLite.Path
			sc.PoolSize = cfg.SQLite.PoolSize
		}
		s, err = sqlitestore.Open(sc)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", cfg.Backend, err)
	}

	if err := s.Ping(ctx); err != nil {
		tmapi.CloseWithLog(s, logger, cfg.Backend+" store")
		return nil, fmt.Errorf("%s store not reachable: %w", cfg.Backend, err)
	}
	logger.Info("store opened", "backend", cfg.Backend)
	return s, nil
}

// OpenLocker creates the configured locker.
func OpenLocker(cfg LockerConfig, logger *slog.Logger) (identity.Locker, error) {
	switch cfg.Backend {
	case LockerLocal, "":
		return identity.NewLocalLocker(), nil
	case LockerEtcd:
		if cfg.Etcd == nil {
			return nil, fmt.Errorf("locker.etcd is required for the etcd locker")
		}
		return identity.NewEtcdLocker(*cfg.Etcd, logger)
	default:
		return nil, fmt.Errorf("unknown locker backend %q", cfg.Backend)
	}
}

// Open assembles a System from cfg, applying defaults first. Logs go to
// stderr unless opts carry tmapi.WithLogger; opts are applied after the
// configured settings.
func Open(ctx context.Context, cfg *Config, opts ...tmapi.Option) (*tmapi.System, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger, err := cfg.Logging.Logger(os.Stderr)
	if err != nil {
		return nil, err
	}

	s, err := OpenStore(ctx, cfg.Store, logger)
	if err != nil {
		return nil, err
	}
	locker, err := OpenLocker(cfg.Locker, logger)
	if err != nil {
		tmapi.CloseWithLog(s, logger, cfg.Store.Backend+" store")
		return nil, fmt.Errorf("failed to create locker: %w", err)
	}

	base := []tmapi.Option{
		tmapi.WithLogger(logger),
		tmapi.WithStore(s),
		tmapi.WithLocker(locker),
		tmapi.WithMaxRetries(cfg.Identity.MaxRetries),
	}
	sys, err := tmapi.NewSystem(append(base, opts...)...)
	if err != nil {
		tmapi.CloseWithLog(s, logger, cfg.Store.Backend+" store")
		if c, ok := locker.(io.Closer); ok {
			tmapi.CloseWithLog(c, logger, cfg.Locker.Backend+" locker")
		}
		return nil, err
	}
	return sys, nil
}
