// Package redisstore implements store.Store on Redis using go-redis/v9.
//
// Key layout, relative to the configured prefix:
//
//	{prefix}:rec:{id}                     JSON-encoded store.Record
//	{prefix}:seq                          creation sequence counter
//	{prefix}:map:{topicMap}               sorted set of record IDs by sequence
//	{prefix}:all                          sorted set of every record ID
//	{prefix}:bind:{ns}:{topicMap}:{addr}  owning construct ID, topicMap query-escaped
//	{prefix}:owned:{id}                   set of binding keys owned by id
//
// Uniqueness of identifier bindings is enforced server side: binding,
// unbinding, creation and deletion run as Lua scripts, so several engine
// processes may share one Redis database.
package redisstore

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/zero-day-ai/tmapi/store"
)

var _ store.Store = (*Store)(nil)

// Options configures the Redis connection.
type Options struct {
	// URL is the Redis connection string (e.g., "redis://localhost:6379/0").
	URL string

	// Prefix namespaces every key written by the store. Default: "tmapi".
	Prefix string

	// TLS configuration for secure connections.
	TLS *tls.Config

	// ConnectTimeout is the maximum time to wait for connection establishment.
	ConnectTimeout time.Duration

	// ReadTimeout is the maximum time to wait for read operations.
	ReadTimeout time.Duration

	// WriteTimeout is the maximum time to wait for write operations.
	WriteTimeout time.Duration
}

// Store is a Redis-backed store.Store.
type Store struct {
	client *redis.Client
	prefix string
}

var (
	createScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then return 0 end
local seq = redis.call('INCR', KEYS[2])
redis.call('SET', KEYS[1], ARGV[1])
redis.call('ZADD', KEYS[3], seq, ARGV[2])
redis.call('ZADD', KEYS[4], seq, ARGV[2])
return 1`)

	deleteScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return 0 end
for _, key in ipairs(redis.call('SMEMBERS', KEYS[2])) do
  if redis.call('GET', key) == ARGV[1] then redis.call('DEL', key) end
end
redis.call('DEL', KEYS[1], KEYS[2])
redis.call('ZREM', KEYS[3], ARGV[1])
redis.call('ZREM', KEYS[4], ARGV[1])
return 1`)

	bindScript = redis.NewScript(`
local owner = redis.call('GET', KEYS[1])
if owner then
  if owner == ARGV[1] then return 1 end
  return 0
end
redis.call('SET', KEYS[1], ARGV[1])
redis.call('SADD', KEYS[2], KEYS[1])
return 1`)

	unbindScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) ~= ARGV[1] then return 0 end
redis.call('DEL', KEYS[1])
redis.call('SREM', KEYS[2], KEYS[1])
return 1`)
)

// New connects to Redis and verifies the connection.
func New(opts Options) (*Store, error) {
	if opts.URL == "" {
		opts.URL = "redis://localhost:6379"
	}
	if opts.Prefix == "" {
		opts.Prefix = "tmapi"
	}
	if opts.ConnectTimeout == 0 {
		opts.ConnectTimeout = 5 * time.Second
	}
	if opts.ReadTimeout == 0 {
		opts.ReadTimeout = 3 * time.Second
	}
	if opts.WriteTimeout == 0 {
		opts.WriteTimeout = 3 * time.Second
	}

	redisOpts, err := redis.ParseURL(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	if opts.TLS != nil {
		redisOpts.TLSConfig = opts.TLS
	}
	redisOpts.DialTimeout = opts.ConnectTimeout
	redisOpts.ReadTimeout = opts.ReadTimeout
	redisOpts.WriteTimeout = opts.WriteTimeout

	client := redis.NewClient(redisOpts)

	ctx, cancel := context.WithTimeout(context.Background(), opts.ConnectTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Store{client: client, prefix: opts.Prefix}, nil
}

func (s *Store) recKey(id string) string   { return s.prefix + ":rec:" + id }
func (s *Store) seqKey() string            { return s.prefix + ":seq" }
func (s *Store) mapKey(tm string) string   { return s.prefix + ":map:" + tm }
func (s *Store) allKey() string            { return s.prefix + ":all" }
func (s *Store) ownedKey(id string) string { return s.prefix + ":owned:" + id }
func (s *Store) bindPrefix() string        { return s.prefix + ":bind:" }

// bindKey query-escapes the topic map ID so that the first ':' after it
// always starts the address.
func (s *Store) bindKey(b store.Binding) string {
	return s.bindPrefix() + string(b.Namespace) + ":" + url.QueryEscape(b.TopicMap) + ":" + b.Address
}

// Create implements store.Store.
func (s *Store) Create(ctx context.Context, rec *store.Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}
	keys := []string{s.recKey(rec.ID), s.seqKey(), s.mapKey(rec.TopicMap), s.allKey()}
	created, err := createScript.Run(ctx, s.client, keys, data, rec.ID).Int()
	if err != nil {
		return fmt.Errorf("failed to create record %s: %w", rec.ID, err)
	}
	if created == 0 {
		return store.ErrExists
	}
	return nil
}

// Get implements store.Store.
func (s *Store) Get(ctx context.Context, id string) (*store.Record, error) {
	data, err := s.client.Get(ctx, s.recKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get record %s: %w", id, err)
	}
	return decode(data)
}

// Update implements store.Store.
func (s *Store) Update(ctx context.Context, rec *store.Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}
	ok, err := s.client.SetXX(ctx, s.recKey(rec.ID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to update record %s: %w", rec.ID, err)
	}
	if !ok {
		return store.ErrNotFound
	}
	return nil
}

// Delete implements store.Store.
func (s *Store) Delete(ctx context.Context, id string) error {
	rec, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	keys := []string{s.recKey(id), s.ownedKey(id), s.mapKey(rec.TopicMap), s.allKey()}
	deleted, err := deleteScript.Run(ctx, s.client, keys, id).Int()
	if err != nil {
		return fmt.Errorf("failed to delete record %s: %w", id, err)
	}
	if deleted == 0 {
		return store.ErrNotFound
	}
	return nil
}

// Filter implements store.Store.
func (s *Store) Filter(ctx context.Context, p store.Predicate) ([]*store.Record, error) {
	index := s.allKey()
	if p.TopicMap != "" {
		index = s.mapKey(p.TopicMap)
	}
	ids, err := s.client.ZRange(ctx, index, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.recKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load records: %w", err)
	}

	var out []*store.Record
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			// deleted between ZRANGE and MGET
			continue
		}
		rec, err := decode([]byte(raw))
		if err != nil {
			return nil, err
		}
		if p.Match(rec) {
			out = append(out, rec)
		}
	}
	return out, nil
}

// Bind implements store.Store.
func (s *Store) Bind(ctx context.Context, b store.Binding) error {
	keys := []string{s.bindKey(b), s.ownedKey(b.Construct)}
	bound, err := bindScript.Run(ctx, s.client, keys, b.Construct).Int()
	if err != nil {
		return fmt.Errorf("failed to bind %s %s: %w", b.Namespace, b.Address, err)
	}
	if bound == 0 {
		return store.ErrConflict
	}
	return nil
}

// Unbind implements store.Store.
func (s *Store) Unbind(ctx context.Context, b store.Binding) error {
	keys := []string{s.bindKey(b), s.ownedKey(b.Construct)}
	unbound, err := unbindScript.Run(ctx, s.client, keys, b.Construct).Int()
	if err != nil {
		return fmt.Errorf("failed to unbind %s %s: %w", b.Namespace, b.Address, err)
	}
	if unbound == 0 {
		return store.ErrNotFound
	}
	return nil
}

// Lookup implements store.Store.
func (s *Store) Lookup(ctx context.Context, topicMap string, ns store.Namespace, address string) (string, error) {
	key := s.bindKey(store.Binding{TopicMap: topicMap, Namespace: ns, Address: address})
	owner, err := s.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", store.ErrNotFound
		}
		return "", fmt.Errorf("failed to look up %s %s: %w", ns, address, err)
	}
	return owner, nil
}

// Bindings implements store.Store.
func (s *Store) Bindings(ctx context.Context, construct string, ns store.Namespace) ([]string, error) {
	keys, err := s.client.SMembers(ctx, s.ownedKey(construct)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list bindings of %s: %w", construct, err)
	}
	nsPrefix := s.bindPrefix() + string(ns) + ":"
	addrs := []string{}
	for _, key := range keys {
		rest, ok := strings.CutPrefix(key, nsPrefix)
		if !ok {
			continue
		}
		if _, addr, found := strings.Cut(rest, ":"); found {
			addrs = append(addrs, addr)
		}
	}
	slices.Sort(addrs)
	return addrs, nil
}

// Ping implements store.Store.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to ping Redis: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (s *Store) Close() error {
	err := s.client.Close()
	if errors.Is(err, redis.ErrClosed) {
		return nil
	}
	return err
}

func decode(data []byte) (*store.Record, error) {
	var rec store.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal record: %w", err)
	}
	return &rec, nil
}
