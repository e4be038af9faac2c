// Package identity implements the identity index and merge engine of a topic
// map.
//
// Every topic map keeps three identifier namespaces: subject identifiers,
// subject locators and item identifiers. A subject identifier and an item
// identifier with the same address denote the same subject, so lookups in one
// namespace fall back to the other before a new topic is created. When an
// identifier added to a topic is already held by another topic, the two
// topics are merged.
//
// All writes for a topic map are serialised through a Locker. Lookups and the
// create-or-bind that follows them run inside the same critical section, and
// creation retries a bounded number of times when the store reports that
// another process bound the identifier first.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/zero-day-ai/tmapi/store"
)

// DefaultMaxRetries bounds the create-or-bind retry loop.
const DefaultMaxRetries = 3

// Index resolves identifiers to topics and merges topics that turn out to
// denote the same subject. It is safe for concurrent use.
type Index struct {
	store      store.Store
	locker     Locker
	logger     *slog.Logger
	newID      func() string
	maxRetries int
}

// Option configures an Index.
type Option func(*Index)

// WithLocker sets the lock used to serialise writes per topic map.
// Defaults to a LocalLocker.
func WithLocker(l Locker) Option {
	return func(x *Index) {
		if l != nil {
			x.locker = l
		}
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(x *Index) {
		if logger != nil {
			x.logger = logger
		}
	}
}

// WithIDGenerator replaces the UUID generator used for new topics.
func WithIDGenerator(fn func() string) Option {
	return func(x *Index) {
		if fn != nil {
			x.newID = fn
		}
	}
}

// WithMaxRetries sets how often creation is retried after losing a race for
// an identifier.
func WithMaxRetries(n int) Option {
	return func(x *Index) {
		if n >= 0 {
			x.maxRetries = n
		}
	}
}

// New creates an Index over s.
func New(s store.Store, opts ...Option) *Index {
	x := &Index{
		store:      s,
		locker:     NewLocalLocker(),
		logger:     slog.Default(),
		newID:      uuid.NewString,
		maxRetries: DefaultMaxRetries,
	}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

// NewID returns a fresh construct ID.
func (x *Index) NewID() string {
	return x.newID()
}

type heldKey struct {
	index    *Index
	topicMap string
}

// Do runs fn while holding the write lock of topicMap. Calls to Do from
// within fn with the context it was given do not lock again.
func (x *Index) Do(ctx context.Context, topicMap string, fn func(ctx context.Context) error) error {
	key := heldKey{index: x, topicMap: topicMap}
	if ctx.Value(key) != nil {
		return fn(ctx)
	}
	unlock, err := x.locker.Lock(ctx, topicMap)
	if err != nil {
		return fmt.Errorf("identity: lock topic map %s: %w", topicMap, err)
	}
	defer unlock()
	return fn(context.WithValue(ctx, key, struct{}{}))
}

// Owner returns the construct bound to address in ns, or nil if the address
// is unbound.
func (x *Index) Owner(ctx context.Context, topicMap string, ns store.Namespace, address string) (*store.Record, error) {
	id, err := x.store.Lookup(ctx, topicMap, ns, address)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	rec, err := x.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("identity: %s %s bound to %s: %w", ns, address, id, err)
	}
	return rec, nil
}

// Resolution is the outcome of a resolve-or-create call.
type Resolution struct {
	// Topic is the ID of the resolved topic.
	Topic string

	// Created reports whether the topic was created by the call.
	Created bool
}

// ResolveSubjectIdentifier returns the topic whose subject identifier is
// address. A topic holding address as an item identifier gains it as a
// subject identifier. Otherwise a new topic is created.
func (x *Index) ResolveSubjectIdentifier(ctx context.Context, topicMap, address string) (Resolution, error) {
	return x.resolve(ctx, topicMap, address, store.SubjectIdentifiers, store.ItemIdentifiers)
}

// ResolveItemIdentifier returns the topic whose item identifier is address.
// If address identifies a construct other than a topic it returns
// ErrItemIdentifierInUse. A topic holding address as a subject identifier
// gains it as an item identifier. Otherwise a new topic is created.
func (x *Index) ResolveItemIdentifier(ctx context.Context, topicMap, address string) (Resolution, error) {
	return x.resolve(ctx, topicMap, address, store.ItemIdentifiers, store.SubjectIdentifiers)
}

// ResolveSubjectLocator returns the topic whose subject locator is address,
// creating it if needed. Subject locators never alias other identifiers.
func (x *Index) ResolveSubjectLocator(ctx context.Context, topicMap, address string) (Resolution, error) {
	return x.resolve(ctx, topicMap, address, store.SubjectLocators, "")
}

func (x *Index) resolve(ctx context.Context, topicMap, address string, ns, alias store.Namespace) (Resolution, error) {
	var res Resolution
	err := x.Do(ctx, topicMap, func(ctx context.Context) error {
		for attempt := 0; attempt <= x.maxRetries; attempt++ {
			owner, err := x.Owner(ctx, topicMap, ns, address)
			if err != nil {
				return err
			}
			if owner != nil {
				if owner.Kind != store.KindTopic {
					return fmt.Errorf("%w: %s is held by %s %s", ErrItemIdentifierInUse, address, owner.Kind, owner.ID)
				}
				res.Topic = owner.ID
				return nil
			}

			if alias != "" {
				owner, err = x.Owner(ctx, topicMap, alias, address)
				if err != nil {
					return err
				}
				if owner != nil && owner.Kind == store.KindTopic {
					err = x.bind(ctx, topicMap, ns, address, owner.ID)
					if errors.Is(err, store.ErrConflict) {
						x.logger.Warn("identifier bound concurrently, retrying",
							"topic_map", topicMap, "namespace", ns, "address", address, "attempt", attempt)
						continue
					}
					if err != nil {
						return err
					}
					x.logger.Debug("identifier aliased",
						"topic_map", topicMap, "namespace", ns, "alias", alias, "address", address, "topic", owner.ID)
					res.Topic = owner.ID
					return nil
				}
			}

			id, err := x.createTopic(ctx, topicMap, ns, address)
			if errors.Is(err, store.ErrConflict) {
				x.logger.Warn("identifier bound concurrently, retrying",
					"topic_map", topicMap, "namespace", ns, "address", address, "attempt", attempt)
				continue
			}
			if err != nil {
				return err
			}
			x.logger.Debug("topic created",
				"topic_map", topicMap, "namespace", ns, "address", address, "topic", id)
			res = Resolution{Topic: id, Created: true}
			return nil
		}
		return fmt.Errorf("%w: %s %s", ErrRetriesExhausted, ns, address)
	})
	return res, err
}

// createTopic creates a topic bound to address. If the bind loses a race the
// topic is discarded and store.ErrConflict is returned.
func (x *Index) createTopic(ctx context.Context, topicMap string, ns store.Namespace, address string) (string, error) {
	rec := &store.Record{ID: x.newID(), Kind: store.KindTopic, TopicMap: topicMap}
	if err := x.store.Create(ctx, rec); err != nil {
		return "", fmt.Errorf("identity: create topic: %w", err)
	}
	err := x.bind(ctx, topicMap, ns, address, rec.ID)
	if err == nil {
		return rec.ID, nil
	}
	if derr := x.store.Delete(ctx, rec.ID); derr != nil {
		x.logger.Error("failed to discard topic after bind failure",
			"topic_map", topicMap, "topic", rec.ID, "error", derr)
	}
	return "", err
}

func (x *Index) bind(ctx context.Context, topicMap string, ns store.Namespace, address, construct string) error {
	err := x.store.Bind(ctx, store.Binding{
		TopicMap:  topicMap,
		Namespace: ns,
		Address:   address,
		Construct: construct,
	})
	if err != nil && !errors.Is(err, store.ErrConflict) {
		return fmt.Errorf("identity: bind %s %s: %w", ns, address, err)
	}
	return err
}

// topic loads id and checks that it is a topic of topicMap.
func (x *Index) topic(ctx context.Context, topicMap, id string) (*store.Record, error) {
	rec, err := x.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotTopic, id)
		}
		return nil, err
	}
	if rec.Kind != store.KindTopic || rec.TopicMap != topicMap {
		return nil, fmt.Errorf("%w: %s", ErrNotTopic, id)
	}
	return rec, nil
}
