// Package memstore provides an in-memory implementation of store.Store.
//
// It is the default backend of the engine and the one used by tests. Data
// lives for the lifetime of the Store value only.
package memstore

import (
	"context"
	"slices"
	"sort"
	"sync"

	"github.com/zero-day-ai/tmapi/store"
)

var _ store.Store = (*Store)(nil)

type bindingKey struct {
	topicMap  string
	namespace store.Namespace
	address   string
}

type entry struct {
	seq uint64
	rec *store.Record
}

// Store is an in-memory store.Store. The zero value is not usable; call New.
type Store struct {
	mu       sync.RWMutex
	closed   bool
	nextSeq  uint64
	records  map[string]*entry
	byMap    map[string]map[string]struct{}
	bindings map[bindingKey]string
	owned    map[string]map[bindingKey]struct{}
}

// New returns an empty store.
func New() *Store {
	return &Store{
		records:  make(map[string]*entry),
		byMap:    make(map[string]map[string]struct{}),
		bindings: make(map[bindingKey]string),
		owned:    make(map[string]map[bindingKey]struct{}),
	}
}

func (s *Store) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.closed {
		return store.ErrClosed
	}
	return nil
}

// Create implements store.Store.
func (s *Store) Create(ctx context.Context, rec *store.Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}
	if _, ok := s.records[rec.ID]; ok {
		return store.ErrExists
	}
	s.nextSeq++
	s.records[rec.ID] = &entry{seq: s.nextSeq, rec: rec.Clone()}
	ids, ok := s.byMap[rec.TopicMap]
	if !ok {
		ids = make(map[string]struct{})
		s.byMap[rec.TopicMap] = ids
	}
	ids[rec.ID] = struct{}{}
	return nil
}

// Get implements store.Store.
func (s *Store) Get(ctx context.Context, id string) (*store.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	e, ok := s.records[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return e.rec.Clone(), nil
}

// Update implements store.Store.
func (s *Store) Update(ctx context.Context, rec *store.Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}
	e, ok := s.records[rec.ID]
	if !ok {
		return store.ErrNotFound
	}
	if e.rec.TopicMap != rec.TopicMap {
		return store.ErrInvalidRecord
	}
	e.rec = rec.Clone()
	return nil
}

// Delete implements store.Store.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}
	e, ok := s.records[id]
	if !ok {
		return store.ErrNotFound
	}
	delete(s.records, id)
	delete(s.byMap[e.rec.TopicMap], id)
	if len(s.byMap[e.rec.TopicMap]) == 0 {
		delete(s.byMap, e.rec.TopicMap)
	}
	for key := range s.owned[id] {
		delete(s.bindings, key)
	}
	delete(s.owned, id)
	return nil
}

// Filter implements store.Store.
func (s *Store) Filter(ctx context.Context, p store.Predicate) ([]*store.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	var matches []*entry
	collect := func(id string) {
		if e := s.records[id]; e != nil && p.Match(e.rec) {
			matches = append(matches, e)
		}
	}
	if p.TopicMap != "" {
		for id := range s.byMap[p.TopicMap] {
			collect(id)
		}
	} else {
		for id := range s.records {
			collect(id)
		}
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].seq < matches[j].seq })
	out := make([]*store.Record, len(matches))
	for i, e := range matches {
		out[i] = e.rec.Clone()
	}
	return out, nil
}

// Bind implements store.Store.
func (s *Store) Bind(ctx context.Context, b store.Binding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}
	key := bindingKey{topicMap: b.TopicMap, namespace: b.Namespace, address: b.Address}
	if owner, ok := s.bindings[key]; ok {
		if owner == b.Construct {
			return nil
		}
		return store.ErrConflict
	}
	s.bindings[key] = b.Construct
	keys, ok := s.owned[b.Construct]
	if !ok {
		keys = make(map[bindingKey]struct{})
		s.owned[b.Construct] = keys
	}
	keys[key] = struct{}{}
	return nil
}

// Unbind implements store.Store.
func (s *Store) Unbind(ctx context.Context, b store.Binding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}
	key := bindingKey{topicMap: b.TopicMap, namespace: b.Namespace, address: b.Address}
	if owner, ok := s.bindings[key]; !ok || owner != b.Construct {
		return store.ErrNotFound
	}
	delete(s.bindings, key)
	delete(s.owned[b.Construct], key)
	return nil
}

// Lookup implements store.Store.
func (s *Store) Lookup(ctx context.Context, topicMap string, ns store.Namespace, address string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return "", err
	}
	owner, ok := s.bindings[bindingKey{topicMap: topicMap, namespace: ns, address: address}]
	if !ok {
		return "", store.ErrNotFound
	}
	return owner, nil
}

// Bindings implements store.Store.
func (s *Store) Bindings(ctx context.Context, construct string, ns store.Namespace) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	addrs := []string{}
	for key := range s.owned[construct] {
		if key.namespace == ns {
			addrs = append(addrs, key.address)
		}
	}
	slices.Sort(addrs)
	return addrs, nil
}

// Ping implements store.Store.
func (s *Store) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.check(ctx)
}

// Close implements store.Store. Closing twice is a no-op.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
