// Package sqlitestore implements store.Store on an embedded SQLite database
// using zombiezen.com/go/sqlite.
//
// Records are kept as JSON bodies keyed by construct ID, in creation order.
// Identifier bindings live in their own table whose primary key is
// (topic_map, namespace, address), so an address can only ever be owned by
// one construct per namespace.
package sqlitestore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime"
	"sync/atomic"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/zero-day-ai/tmapi/store"
)

var _ store.Store = (*Store)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS records (
	seq       INTEGER PRIMARY KEY AUTOINCREMENT,
	id        TEXT NOT NULL UNIQUE,
	kind      TEXT NOT NULL,
	topic_map TEXT NOT NULL,
	body      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS records_topic_map ON records (topic_map, seq);
CREATE TABLE IF NOT EXISTS bindings (
	topic_map TEXT NOT NULL,
	namespace TEXT NOT NULL,
	address   TEXT NOT NULL,
	construct TEXT NOT NULL,
	PRIMARY KEY (topic_map, namespace, address)
);
CREATE INDEX IF NOT EXISTS bindings_construct ON bindings (construct, namespace);
`

// Config holds the parameters for opening a store.
type Config struct {
	// Path is the filesystem path to the database file. The parent
	// directory must exist.
	Path string

	// PoolSize is the number of pooled connections. Defaults to
	// max(runtime.NumCPU(), 4).
	PoolSize int

	// Logger receives open/close messages. If nil, a no-op logger is used.
	Logger *slog.Logger
}

// Store is a SQLite-backed store.Store.
type Store struct {
	pool   *sqlitex.Pool
	logger *slog.Logger
	path   string
	closed atomic.Bool
}

// Open creates the connection pool. The database file and schema are
// created if they do not exist.
func Open(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlitestore: Path is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = max(runtime.NumCPU(), 4)
	}

	pool, err := sqlitex.NewPool(cfg.Path, sqlitex.PoolOptions{
		PoolSize:    poolSize,
		PrepareConn: prepareConnection,
	})
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: opening %s: %w", cfg.Path, err)
	}

	logger.Info("sqlite store opened",
		"path", cfg.Path,
		"pool_size", poolSize,
	)

	return &Store{pool: pool, logger: logger, path: cfg.Path}, nil
}

func prepareConnection(conn *sqlite.Conn) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=OFF",
		"PRAGMA temp_store=MEMORY",
	}
	for _, pragma := range pragmas {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("sqlitestore: %s: %w", pragma, err)
		}
	}
	if err := sqlitex.ExecuteScript(conn, schema, nil); err != nil {
		return fmt.Errorf("sqlitestore: schema: %w", err)
	}
	return nil
}

func (s *Store) take(ctx context.Context) (*sqlite.Conn, error) {
	if s.closed.Load() {
		return nil, store.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: take: %w", err)
	}
	return conn, nil
}

// read runs fn on a pooled connection without a transaction.
func (s *Store) read(ctx context.Context, fn func(conn *sqlite.Conn) error) error {
	conn, err := s.take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)
	return fn(conn)
}

// write runs fn inside an immediate transaction. Returning an error from fn
// rolls the transaction back.
func (s *Store) write(ctx context.Context, fn func(conn *sqlite.Conn) error) (err error) {
	conn, err := s.take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	endFn, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("sqlitestore: begin: %w", err)
	}
	defer endFn(&err)
	return fn(conn)
}

// Create implements store.Store.
func (s *Store) Create(ctx context.Context, rec *store.Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("sqlitestore: marshal record: %w", err)
	}
	return s.write(ctx, func(conn *sqlite.Conn) error {
		exists, err := recordExists(conn, rec.ID)
		if err != nil {
			return err
		}
		if exists {
			return store.ErrExists
		}
		return sqlitex.Execute(conn,
			"INSERT INTO records (id, kind, topic_map, body) VALUES (?, ?, ?, ?)",
			&sqlitex.ExecOptions{Args: []any{rec.ID, string(rec.Kind), rec.TopicMap, string(body)}})
	})
}

// Get implements store.Store.
func (s *Store) Get(ctx context.Context, id string) (*store.Record, error) {
	var rec *store.Record
	err := s.read(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, "SELECT body FROM records WHERE id = ?", &sqlitex.ExecOptions{
			Args: []any{id},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				var err error
				rec, err = decode(stmt.ColumnText(0))
				return err
			},
		})
	})
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, store.ErrNotFound
	}
	return rec, nil
}

// Update implements store.Store.
func (s *Store) Update(ctx context.Context, rec *store.Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("sqlitestore: marshal record: %w", err)
	}
	return s.write(ctx, func(conn *sqlite.Conn) error {
		if err := sqlitex.Execute(conn, "UPDATE records SET body = ? WHERE id = ?",
			&sqlitex.ExecOptions{Args: []any{string(body), rec.ID}}); err != nil {
			return err
		}
		if conn.Changes() == 0 {
			return store.ErrNotFound
		}
		return nil
	})
}

// Delete implements store.Store.
func (s *Store) Delete(ctx context.Context, id string) error {
	return s.write(ctx, func(conn *sqlite.Conn) error {
		if err := sqlitex.Execute(conn, "DELETE FROM records WHERE id = ?",
			&sqlitex.ExecOptions{Args: []any{id}}); err != nil {
			return err
		}
		if conn.Changes() == 0 {
			return store.ErrNotFound
		}
		return sqlitex.Execute(conn, "DELETE FROM bindings WHERE construct = ?",
			&sqlitex.ExecOptions{Args: []any{id}})
	})
}

// Filter implements store.Store.
func (s *Store) Filter(ctx context.Context, p store.Predicate) ([]*store.Record, error) {
	query := "SELECT body FROM records ORDER BY seq"
	var args []any
	if p.TopicMap != "" {
		query = "SELECT body FROM records WHERE topic_map = ? ORDER BY seq"
		args = []any{p.TopicMap}
	}

	var out []*store.Record
	err := s.read(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
			Args: args,
			ResultFunc: func(stmt *sqlite.Stmt) error {
				rec, err := decode(stmt.ColumnText(0))
				if err != nil {
					return err
				}
				if p.Match(rec) {
					out = append(out, rec)
				}
				return nil
			},
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Bind implements store.Store.
func (s *Store) Bind(ctx context.Context, b store.Binding) error {
	return s.write(ctx, func(conn *sqlite.Conn) error {
		owner, err := lookup(conn, b.TopicMap, b.Namespace, b.Address)
		if err != nil {
			return err
		}
		switch owner {
		case b.Construct:
			return nil
		case "":
			return sqlitex.Execute(conn,
				"INSERT INTO bindings (topic_map, namespace, address, construct) VALUES (?, ?, ?, ?)",
				&sqlitex.ExecOptions{Args: []any{b.TopicMap, string(b.Namespace), b.Address, b.Construct}})
		default:
			return store.ErrConflict
		}
	})
}

// Unbind implements store.Store.
func (s *Store) Unbind(ctx context.Context, b store.Binding) error {
	return s.write(ctx, func(conn *sqlite.Conn) error {
		err := sqlitex.Execute(conn,
			"DELETE FROM bindings WHERE topic_map = ? AND namespace = ? AND address = ? AND construct = ?",
			&sqlitex.ExecOptions{Args: []any{b.TopicMap, string(b.Namespace), b.Address, b.Construct}})
		if err != nil {
			return err
		}
		if conn.Changes() == 0 {
			return store.ErrNotFound
		}
		return nil
	})
}

// Lookup implements store.Store.
func (s *Store) Lookup(ctx context.Context, topicMap string, ns store.Namespace, address string) (string, error) {
	var owner string
	err := s.read(ctx, func(conn *sqlite.Conn) error {
		var err error
		owner, err = lookup(conn, topicMap, ns, address)
		return err
	})
	if err != nil {
		return "", err
	}
	if owner == "" {
		return "", store.ErrNotFound
	}
	return owner, nil
}

// Bindings implements store.Store.
func (s *Store) Bindings(ctx context.Context, construct string, ns store.Namespace) ([]string, error) {
	addrs := []string{}
	err := s.read(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn,
			"SELECT address FROM bindings WHERE construct = ? AND namespace = ? ORDER BY address",
			&sqlitex.ExecOptions{
				Args: []any{construct, string(ns)},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					addrs = append(addrs, stmt.ColumnText(0))
					return nil
				},
			})
	})
	if err != nil {
		return nil, err
	}
	return addrs, nil
}

// Ping implements store.Store.
func (s *Store) Ping(ctx context.Context) error {
	return s.read(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.ExecuteTransient(conn, "SELECT 1", nil)
	})
}

// Close closes every pooled connection. It blocks until borrowed
// connections are returned.
func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	if err := s.pool.Close(); err != nil {
		s.logger.Error("sqlite store close error",
			"path", s.path,
			"error", err,
		)
		return fmt.Errorf("sqlitestore: closing %s: %w", s.path, err)
	}
	s.logger.Info("sqlite store closed", "path", s.path)
	return nil
}

func recordExists(conn *sqlite.Conn, id string) (bool, error) {
	var exists bool
	err := sqlitex.Execute(conn, "SELECT 1 FROM records WHERE id = ?", &sqlitex.ExecOptions{
		Args: []any{id},
		ResultFunc: func(*sqlite.Stmt) error {
			exists = true
			return nil
		},
	})
	return exists, err
}

func lookup(conn *sqlite.Conn, topicMap string, ns store.Namespace, address string) (string, error) {
	var owner string
	err := sqlitex.Execute(conn,
		"SELECT construct FROM bindings WHERE topic_map = ? AND namespace = ? AND address = ?",
		&sqlitex.ExecOptions{
			Args: []any{topicMap, string(ns), address},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				owner = stmt.ColumnText(0)
				return nil
			},
		})
	return owner, err
}

func decode(body string) (*store.Record, error) {
	var rec store.Record
	if err := json.Unmarshal([]byte(body), &rec); err != nil {
		return nil, fmt.Errorf("sqlitestore: unmarshal record: %w", err)
	}
	return &rec, nil
}
