package tmapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/uuid"

	"github.com/zero-day-ai/tmapi/identity"
	"github.com/zero-day-ai/tmapi/locator"
	"github.com/zero-day-ai/tmapi/store"
	"github.com/zero-day-ai/tmapi/store/memstore"
)

// systemLockKey serialises topic map creation across the system.
const systemLockKey = "tmapi/system"

// System manages a set of topic maps addressed by IRI. It owns the store and
// the locker it was configured with.
//
// System is safe for concurrent use.
type System struct {
	store  store.Store
	locker identity.Locker
	index  *identity.Index
	logger *slog.Logger
	tel    *telemetry
	newID  func() string
}

// NewSystem creates a System. Without options it keeps everything in
// memory and serialises writers within the process.
func NewSystem(opts ...Option) (*System, error) {
	cfg := &systemConfig{maxRetries: identity.DefaultMaxRetries}
	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.store == nil {
		cfg.store = memstore.New()
	}
	if cfg.locker == nil {
		cfg.locker = identity.NewLocalLocker()
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}
	if cfg.newID == nil {
		cfg.newID = uuid.NewString
	}

	tel, err := newTelemetry(cfg.tracer, cfg.meter)
	if err != nil {
		return nil, &Error{Op: "NewSystem", Kind: KindStorage, Err: err}
	}

	index := identity.New(cfg.store,
		identity.WithLocker(cfg.locker),
		identity.WithLogger(cfg.logger),
		identity.WithIDGenerator(cfg.newID),
		identity.WithMaxRetries(cfg.maxRetries),
	)

	return &System{
		store:  cfg.store,
		locker: cfg.locker,
		index:  index,
		logger: cfg.logger,
		tel:    tel,
		newID:  cfg.newID,
	}, nil
}

// CreateTopicMap creates an empty topic map addressed by iri. It fails with
// ErrTopicMapExists if the IRI is taken.
func (s *System) CreateTopicMap(ctx context.Context, iri locator.Locator) (tm *TopicMap, err error) {
	const op = "System.CreateTopicMap"
	if iri.IsZero() {
		return nil, constraintError(op, "topic map IRI must not be null")
	}

	ctx, end := s.tel.start(ctx, op, "")
	defer end(&err)

	err = s.index.Do(ctx, systemLockKey, func(ctx context.Context) error {
		_, err := s.store.Lookup(ctx, "", store.TopicMapLocators, iri.Reference())
		if err == nil {
			return topicMapExists(op, iri)
		}
		if !errors.Is(err, store.ErrNotFound) {
			return err
		}

		id := s.newID()
		rec := &store.Record{ID: id, Kind: store.KindTopicMap, TopicMap: id, Value: iri.Reference()}
		if err := s.store.Create(ctx, rec); err != nil {
			return err
		}
		err = s.store.Bind(ctx, store.Binding{
			Namespace: store.TopicMapLocators,
			Address:   iri.Reference(),
			Construct: id,
		})
		if err != nil {
			if derr := s.store.Delete(ctx, id); derr != nil {
				s.logger.Error("failed to discard topic map", "iri", iri, "error", derr)
			}
			if errors.Is(err, store.ErrConflict) {
				return topicMapExists(op, iri)
			}
			return err
		}

		tm = s.newTopicMap(id, iri)
		return nil
	})
	if err != nil {
		return nil, wrapError(op, err)
	}

	s.logger.Info("topic map created", "iri", iri, "topic_map", tm.id)
	return tm, nil
}

func topicMapExists(op string, iri locator.Locator) *Error {
	return &Error{
		Op:      op,
		Kind:    KindConstraint,
		Err:     ErrTopicMapExists,
		Context: map[string]any{"iri": iri.Reference()},
	}
}

// TopicMap returns the topic map addressed by iri, or nil if there is none.
func (s *System) TopicMap(ctx context.Context, iri locator.Locator) (*TopicMap, error) {
	const op = "System.TopicMap"
	if iri.IsZero() {
		return nil, nil
	}
	id, err := s.store.Lookup(ctx, "", store.TopicMapLocators, iri.Reference())
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapError(op, err)
	}
	tm, err := s.topicMapByID(ctx, id)
	if err != nil {
		return nil, wrapError(op, err)
	}
	return tm, nil
}

// Locators returns the IRIs of all topic maps in creation order.
func (s *System) Locators(ctx context.Context) ([]locator.Locator, error) {
	recs, err := s.store.Filter(ctx, store.Predicate{Kinds: []store.Kind{store.KindTopicMap}})
	if err != nil {
		return nil, wrapError("System.Locators", err)
	}
	locs := make([]locator.Locator, 0, len(recs))
	for _, rec := range recs {
		loc, err := locator.New(rec.Value)
		if err != nil {
			return nil, wrapError("System.Locators", err)
		}
		locs = append(locs, loc)
	}
	return locs, nil
}

// CreateLocator parses an absolute IRI.
func (s *System) CreateLocator(ref string) (locator.Locator, error) {
	loc, err := locator.New(ref)
	if err != nil {
		return locator.Locator{}, constraintError("System.CreateLocator", "%v", err)
	}
	return loc, nil
}

// Close releases the store and, if it holds resources, the locker.
func (s *System) Close() error {
	var errs []error
	if err := s.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}
	if closer, ok := s.locker.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close locker: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (s *System) topicMapByID(ctx context.Context, id string) (*TopicMap, error) {
	rec, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.Kind != store.KindTopicMap {
		return nil, fmt.Errorf("construct %s is a %s, not a topic map", id, rec.Kind)
	}
	iri, err := locator.New(rec.Value)
	if err != nil {
		return nil, err
	}
	return s.newTopicMap(id, iri), nil
}

func (s *System) newTopicMap(id string, iri locator.Locator) *TopicMap {
	tm := &TopicMap{sys: s, iri: iri}
	tm.construct = &construct{tm: tm, id: id, kind: store.KindTopicMap}
	tm.reifiable = reifiable{c: tm.construct}
	return tm
}
