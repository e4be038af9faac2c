package identity

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zero-day-ai/tmapi/store"
	"github.com/zero-day-ai/tmapi/store/memstore"
)

const tm = "tm1"

func newTestIndex(t *testing.T, opts ...Option) (*Index, store.Store) {
	t.Helper()
	s := memstore.New()
	t.Cleanup(func() { _ = s.Close() })
	return New(s, opts...), s
}

func countTopics(t *testing.T, s store.Store) int {
	t.Helper()
	recs, err := s.Filter(context.Background(), store.OfKind(tm, store.KindTopic))
	require.NoError(t, err)
	return len(recs)
}

func TestResolveSubjectIdentifierIdempotent(t *testing.T) {
	x, s := newTestIndex(t)
	ctx := context.Background()

	first, err := x.ResolveSubjectIdentifier(ctx, tm, "http://example.org/a")
	require.NoError(t, err)
	assert.True(t, first.Created)

	second, err := x.ResolveSubjectIdentifier(ctx, tm, "http://example.org/a")
	require.NoError(t, err)
	assert.False(t, second.Created)
	assert.Equal(t, first.Topic, second.Topic)
	assert.Equal(t, 1, countTopics(t, s))
}

func TestCrossIdentifierAliasing(t *testing.T) {
	tests := []struct {
		name      string
		first     func(*Index, context.Context, string, string) (Resolution, error)
		second    func(*Index, context.Context, string, string) (Resolution, error)
		wantBound []store.Namespace
	}{
		{
			name:      "item identifier then subject identifier",
			first:     (*Index).ResolveItemIdentifier,
			second:    (*Index).ResolveSubjectIdentifier,
			wantBound: []store.Namespace{store.ItemIdentifiers, store.SubjectIdentifiers},
		},
		{
			name:      "subject identifier then item identifier",
			first:     (*Index).ResolveSubjectIdentifier,
			second:    (*Index).ResolveItemIdentifier,
			wantBound: []store.Namespace{store.ItemIdentifiers, store.SubjectIdentifiers},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			x, s := newTestIndex(t)
			ctx := context.Background()
			const addr = "http://example.org/L1"

			a, err := tt.first(x, ctx, tm, addr)
			require.NoError(t, err)
			b, err := tt.second(x, ctx, tm, addr)
			require.NoError(t, err)

			assert.Equal(t, a.Topic, b.Topic)
			assert.False(t, b.Created)
			assert.Equal(t, 1, countTopics(t, s))
			for _, ns := range tt.wantBound {
				addrs, err := x.Identifiers(ctx, a.Topic, ns)
				require.NoError(t, err)
				assert.Equal(t, []string{addr}, addrs, "namespace %s", ns)
			}
		})
	}
}

func TestSubjectLocatorNeverAliases(t *testing.T) {
	x, s := newTestIndex(t)
	ctx := context.Background()
	const addr = "http://example.org/doc"

	byII, err := x.ResolveItemIdentifier(ctx, tm, addr)
	require.NoError(t, err)
	bySL, err := x.ResolveSubjectLocator(ctx, tm, addr)
	require.NoError(t, err)

	assert.NotEqual(t, byII.Topic, bySL.Topic)
	assert.True(t, bySL.Created)
	assert.Equal(t, 2, countTopics(t, s))

	again, err := x.ResolveSubjectLocator(ctx, tm, addr)
	require.NoError(t, err)
	assert.Equal(t, bySL.Topic, again.Topic)
}

func TestResolveItemIdentifierHeldByOtherKind(t *testing.T) {
	x, s := newTestIndex(t)
	ctx := context.Background()
	const addr = "http://example.org/assoc"

	require.NoError(t, s.Create(ctx, &store.Record{ID: "a1", Kind: store.KindAssociation, TopicMap: tm, Type: "t0"}))
	require.NoError(t, s.Bind(ctx, store.Binding{TopicMap: tm, Namespace: store.ItemIdentifiers, Address: addr, Construct: "a1"}))

	_, err := x.ResolveItemIdentifier(ctx, tm, addr)
	assert.ErrorIs(t, err, ErrItemIdentifierInUse)

	// A subject identifier with the same address is a different subject.
	res, err := x.ResolveSubjectIdentifier(ctx, tm, addr)
	require.NoError(t, err)
	assert.True(t, res.Created)
}

func TestIdentifiersAreScopedPerTopicMap(t *testing.T) {
	x, _ := newTestIndex(t)
	ctx := context.Background()

	a, err := x.ResolveSubjectIdentifier(ctx, "tm1", "http://example.org/a")
	require.NoError(t, err)
	b, err := x.ResolveSubjectIdentifier(ctx, "tm2", "http://example.org/a")
	require.NoError(t, err)
	assert.NotEqual(t, a.Topic, b.Topic)
}

func TestConcurrentResolutionCreatesOneTopic(t *testing.T) {
	x, s := newTestIndex(t)
	ctx := context.Background()

	const workers = 16
	var wg sync.WaitGroup
	results := make([]Resolution, workers)
	errs := make([]error, workers)
	for i := range workers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				results[i], errs[i] = x.ResolveSubjectIdentifier(ctx, tm, "http://example.org/race")
			} else {
				results[i], errs[i] = x.ResolveItemIdentifier(ctx, tm, "http://example.org/race")
			}
		}(i)
	}
	wg.Wait()

	created := 0
	for i := range workers {
		require.NoError(t, errs[i])
		assert.Equal(t, results[0].Topic, results[i].Topic)
		if results[i].Created {
			created++
		}
	}
	assert.Equal(t, 1, created)
	assert.Equal(t, 1, countTopics(t, s))
}

// rivalStore simulates another process binding the identifier between the
// lookup and the bind of a resolution.
type rivalStore struct {
	store.Store
	rivals int
}

func (r *rivalStore) Bind(ctx context.Context, b store.Binding) error {
	if r.rivals > 0 {
		r.rivals--
		if err := r.Store.Create(ctx, &store.Record{ID: "rival", Kind: store.KindTopic, TopicMap: b.TopicMap}); err != nil {
			return err
		}
		rival := b
		rival.Construct = "rival"
		if err := r.Store.Bind(ctx, rival); err != nil {
			return err
		}
	}
	return r.Store.Bind(ctx, b)
}

func TestResolveRetriesAfterLostRace(t *testing.T) {
	rs := &rivalStore{Store: memstore.New(), rivals: 1}
	x := New(rs)
	ctx := context.Background()

	res, err := x.ResolveSubjectIdentifier(ctx, tm, "http://example.org/contended")
	require.NoError(t, err)
	assert.Equal(t, "rival", res.Topic)
	assert.False(t, res.Created)
	assert.Equal(t, 1, countTopics(t, rs.Store), "losing topic must be discarded")
}

// conflictStore reports every bind as lost without ever exposing an owner.
type conflictStore struct {
	store.Store
}

func (conflictStore) Bind(context.Context, store.Binding) error { return store.ErrConflict }

func TestResolveRetriesExhausted(t *testing.T) {
	cs := conflictStore{Store: memstore.New()}
	x := New(cs, WithMaxRetries(2))

	_, err := x.ResolveSubjectIdentifier(context.Background(), tm, "http://example.org/x")
	assert.ErrorIs(t, err, ErrRetriesExhausted)
	assert.Equal(t, 0, countTopics(t, cs.Store))
}

type failingStore struct {
	store.Store
	err error
}

func (f failingStore) Lookup(context.Context, string, store.Namespace, string) (string, error) {
	return "", f.err
}

func TestResolvePropagatesStoreErrors(t *testing.T) {
	boom := errors.New("boom")
	x := New(failingStore{Store: memstore.New(), err: boom})

	_, err := x.ResolveSubjectIdentifier(context.Background(), tm, "http://example.org/x")
	assert.ErrorIs(t, err, boom)
}

func TestDoIsReentrant(t *testing.T) {
	x, _ := newTestIndex(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	err := x.Do(ctx, tm, func(ctx context.Context) error {
		_, err := x.ResolveSubjectIdentifier(ctx, tm, "http://example.org/nested")
		return err
	})
	require.NoError(t, err)
}

func TestDoSerialisesWriters(t *testing.T) {
	x, _ := newTestIndex(t)
	ctx := context.Background()

	var mu sync.Mutex
	inside, maxInside := 0, 0
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = x.Do(ctx, tm, func(context.Context) error {
				mu.Lock()
				inside++
				maxInside = max(maxInside, inside)
				mu.Unlock()
				time.Sleep(time.Millisecond)
				mu.Lock()
				inside--
				mu.Unlock()
				return nil
			})
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxInside)
}

func TestWithIDGenerator(t *testing.T) {
	n := 0
	x, _ := newTestIndex(t, WithIDGenerator(func() string {
		n++
		return "topic-" + string(rune('0'+n))
	}))

	res, err := x.ResolveSubjectLocator(context.Background(), tm, "http://example.org/doc")
	require.NoError(t, err)
	assert.Equal(t, "topic-1", res.Topic)
	assert.Equal(t, "topic-2", x.NewID())
}
