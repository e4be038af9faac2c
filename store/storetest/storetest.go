// Package storetest provides a conformance suite for store.Store
// implementations. Each backend runs it from its own tests:
//
//	func TestConformance(t *testing.T) {
//	    storetest.Run(t, func(t *testing.T) store.Store { return memstore.New() })
//	}
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zero-day-ai/tmapi/store"
)

// Factory opens a fresh, empty store for a single test. The suite closes it.
type Factory func(t *testing.T) store.Store

// Run executes the conformance suite against stores produced by open.
func Run(t *testing.T, open Factory) {
	t.Helper()

	tests := []struct {
		name string
		fn   func(t *testing.T, s store.Store)
	}{
		{"CreateGet", testCreateGet},
		{"CreateDuplicate", testCreateDuplicate},
		{"CreateInvalid", testCreateInvalid},
		{"Update", testUpdate},
		{"Delete", testDelete},
		{"FilterOrderAndPredicates", testFilter},
		{"BindLookup", testBindLookup},
		{"BindConflict", testBindConflict},
		{"Unbind", testUnbind},
		{"DeleteReleasesBindings", testDeleteReleasesBindings},
		{"ConcurrentBind", testConcurrentBind},
		{"Ping", testPing},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := open(t)
			t.Cleanup(func() { _ = s.Close() })
			tt.fn(t, s)
		})
	}
}

func topic(id, tm string) *store.Record {
	return &store.Record{ID: id, Kind: store.KindTopic, TopicMap: tm}
}

func testCreateGet(t *testing.T, s store.Store) {
	ctx := context.Background()
	rec := &store.Record{
		ID:       "n1",
		Kind:     store.KindName,
		TopicMap: "tm1",
		Parent:   "t1",
		Type:     "t2",
		Value:    "Example",
		Scope:    []string{"t3", "t4"},
	}
	require.NoError(t, s.Create(ctx, rec))

	got, err := s.Get(ctx, "n1")
	require.NoError(t, err)
	assert.Equal(t, rec, got)

	// Mutating the returned copy must not affect the stored record.
	got.Scope[0] = "changed"
	again, err := s.Get(ctx, "n1")
	require.NoError(t, err)
	assert.Equal(t, "t3", again.Scope[0])

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testCreateDuplicate(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, topic("t1", "tm1")))
	assert.ErrorIs(t, s.Create(ctx, topic("t1", "tm1")), store.ErrExists)
}

func testCreateInvalid(t *testing.T, s store.Store) {
	ctx := context.Background()
	assert.ErrorIs(t, s.Create(ctx, &store.Record{Kind: store.KindTopic, TopicMap: "tm1"}), store.ErrInvalidRecord)
	assert.ErrorIs(t, s.Create(ctx, &store.Record{ID: "x", TopicMap: "tm1"}), store.ErrInvalidRecord)

	reifiedTopic := topic("t1", "tm1")
	reifiedTopic.Reifier = "t2"
	assert.ErrorIs(t, s.Create(ctx, reifiedTopic), store.ErrInvalidRecord)

	reifiesTopic := topic("t1", "tm1")
	reifiesTopic.Reified, reifiesTopic.ReifiedKind = "t3", store.KindTopic
	assert.ErrorIs(t, s.Create(ctx, reifiesTopic), store.ErrInvalidRecord)

	reifyingName := &store.Record{ID: "n1", Kind: store.KindName, TopicMap: "tm1", Reified: "a1", ReifiedKind: store.KindAssociation}
	assert.ErrorIs(t, s.Create(ctx, reifyingName), store.ErrInvalidRecord)

	require.NoError(t, s.Create(ctx, topic("t1", "tm1")))
	rec, err := s.Get(ctx, "t1")
	require.NoError(t, err)
	rec.Reifier = "t2"
	assert.ErrorIs(t, s.Update(ctx, rec), store.ErrInvalidRecord)
}

func testUpdate(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, topic("t1", "tm1")))

	rec, err := s.Get(ctx, "t1")
	require.NoError(t, err)
	rec.Types = []string{"t2"}
	rec.Reified = "a1"
	rec.ReifiedKind = store.KindAssociation
	require.NoError(t, s.Update(ctx, rec))

	got, err := s.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, []string{"t2"}, got.Types)
	assert.Equal(t, "a1", got.Reified)
	assert.Equal(t, store.KindAssociation, got.ReifiedKind)

	assert.ErrorIs(t, s.Update(ctx, topic("missing", "tm1")), store.ErrNotFound)
}

func testDelete(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, topic("t1", "tm1")))
	require.NoError(t, s.Delete(ctx, "t1"))

	_, err := s.Get(ctx, "t1")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.ErrorIs(t, s.Delete(ctx, "t1"), store.ErrNotFound)

	recs, err := s.Filter(ctx, store.OfKind("tm1"))
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func testFilter(t *testing.T, s store.Store) {
	ctx := context.Background()
	records := []*store.Record{
		topic("t1", "tm1"),
		topic("t2", "tm1"),
		{ID: "a1", Kind: store.KindAssociation, TopicMap: "tm1", Type: "t1", Scope: []string{"t2"}},
		{ID: "r1", Kind: store.KindRole, TopicMap: "tm1", Parent: "a1", Type: "t2", Player: "t1"},
		topic("t9", "tm2"),
		{ID: "t3", Kind: store.KindTopic, TopicMap: "tm1", Types: []string{"t1"}},
	}
	for _, rec := range records {
		require.NoError(t, s.Create(ctx, rec))
	}

	ids := func(p store.Predicate) []string {
		recs, err := s.Filter(ctx, p)
		require.NoError(t, err)
		out := make([]string, len(recs))
		for i, r := range recs {
			out[i] = r.ID
		}
		return out
	}

	assert.Equal(t, []string{"t1", "t2", "a1", "r1", "t3"}, ids(store.Predicate{TopicMap: "tm1"}))
	assert.Equal(t, []string{"t1", "t2", "t3"}, ids(store.OfKind("tm1", store.KindTopic)))
	assert.Equal(t, []string{"t9"}, ids(store.OfKind("tm2", store.KindTopic)))
	assert.Equal(t, []string{"r1"}, ids(store.Predicate{TopicMap: "tm1", Parent: "a1"}))
	assert.Equal(t, []string{"r1"}, ids(store.Predicate{TopicMap: "tm1", Player: "t1"}))
	assert.Equal(t, []string{"a1"}, ids(store.Predicate{TopicMap: "tm1", Theme: "t2"}))
	assert.Equal(t, []string{"t3"}, ids(store.Predicate{TopicMap: "tm1", InstanceOf: "t1"}))
	assert.Equal(t, []string{"a1", "r1", "t3"}, ids(store.Predicate{TopicMap: "tm1", References: "t1"}))
	assert.Equal(t, []string{"t1", "t2", "t9", "t3"}, ids(store.Predicate{Kinds: []store.Kind{store.KindTopic}}))
	assert.Empty(t, ids(store.OfKind("tm3")))
}

func testBindLookup(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, topic("t1", "tm1")))

	b := store.Binding{TopicMap: "tm1", Namespace: store.SubjectIdentifiers, Address: "http://example.org/a", Construct: "t1"}
	require.NoError(t, s.Bind(ctx, b))
	require.NoError(t, s.Bind(ctx, b), "rebinding to the same construct is a no-op")

	owner, err := s.Lookup(ctx, "tm1", store.SubjectIdentifiers, "http://example.org/a")
	require.NoError(t, err)
	assert.Equal(t, "t1", owner)

	// Same address, other namespace and other topic map are independent.
	_, err = s.Lookup(ctx, "tm1", store.ItemIdentifiers, "http://example.org/a")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.Lookup(ctx, "tm2", store.SubjectIdentifiers, "http://example.org/a")
	assert.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, s.Bind(ctx, store.Binding{TopicMap: "tm1", Namespace: store.ItemIdentifiers, Address: "http://example.org/a", Construct: "t1"}))
	require.NoError(t, s.Bind(ctx, store.Binding{TopicMap: "tm1", Namespace: store.SubjectIdentifiers, Address: "http://example.org/0", Construct: "t1"}))

	addrs, err := s.Bindings(ctx, "t1", store.SubjectIdentifiers)
	require.NoError(t, err)
	assert.Equal(t, []string{"http://example.org/0", "http://example.org/a"}, addrs)

	addrs, err = s.Bindings(ctx, "t1", store.SubjectLocators)
	require.NoError(t, err)
	assert.Empty(t, addrs)
}

func testBindConflict(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, topic("t1", "tm1")))
	require.NoError(t, s.Create(ctx, topic("t2", "tm1")))

	require.NoError(t, s.Bind(ctx, store.Binding{TopicMap: "tm1", Namespace: store.SubjectLocators, Address: "http://example.org/doc", Construct: "t1"}))
	err := s.Bind(ctx, store.Binding{TopicMap: "tm1", Namespace: store.SubjectLocators, Address: "http://example.org/doc", Construct: "t2"})
	assert.ErrorIs(t, err, store.ErrConflict)

	owner, err := s.Lookup(ctx, "tm1", store.SubjectLocators, "http://example.org/doc")
	require.NoError(t, err)
	assert.Equal(t, "t1", owner)
}

func testUnbind(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, topic("t1", "tm1")))
	b := store.Binding{TopicMap: "tm1", Namespace: store.ItemIdentifiers, Address: "http://example.org/ii", Construct: "t1"}
	require.NoError(t, s.Bind(ctx, b))

	other := b
	other.Construct = "t2"
	assert.ErrorIs(t, s.Unbind(ctx, other), store.ErrNotFound)

	require.NoError(t, s.Unbind(ctx, b))
	_, err := s.Lookup(ctx, "tm1", store.ItemIdentifiers, "http://example.org/ii")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.ErrorIs(t, s.Unbind(ctx, b), store.ErrNotFound)

	addrs, err := s.Bindings(ctx, "t1", store.ItemIdentifiers)
	require.NoError(t, err)
	assert.Empty(t, addrs)
}

func testDeleteReleasesBindings(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, &store.Record{ID: "tm1", Kind: store.KindTopicMap, TopicMap: "tm1", Value: "http://example.org/tm/"}))
	require.NoError(t, s.Bind(ctx, store.Binding{Namespace: store.TopicMapLocators, Address: "http://example.org/tm/", Construct: "tm1"}))
	require.NoError(t, s.Create(ctx, topic("t1", "tm1")))
	require.NoError(t, s.Bind(ctx, store.Binding{TopicMap: "tm1", Namespace: store.SubjectIdentifiers, Address: "http://example.org/si", Construct: "t1"}))
	require.NoError(t, s.Bind(ctx, store.Binding{TopicMap: "tm1", Namespace: store.ItemIdentifiers, Address: "http://example.org/ii", Construct: "t1"}))

	require.NoError(t, s.Delete(ctx, "t1"))
	require.NoError(t, s.Delete(ctx, "tm1"))

	for _, ns := range []store.Namespace{store.SubjectIdentifiers, store.ItemIdentifiers} {
		_, err := s.Lookup(ctx, "tm1", ns, "http://example.org/"+string(ns))
		assert.ErrorIs(t, err, store.ErrNotFound)
	}
	_, err := s.Lookup(ctx, "", store.TopicMapLocators, "http://example.org/tm/")
	assert.ErrorIs(t, err, store.ErrNotFound)

	// The released address can be bound again.
	require.NoError(t, s.Create(ctx, topic("t2", "tm1")))
	require.NoError(t, s.Bind(ctx, store.Binding{TopicMap: "tm1", Namespace: store.SubjectIdentifiers, Address: "http://example.org/si", Construct: "t2"}))
}

func testConcurrentBind(t *testing.T, s store.Store) {
	ctx := context.Background()
	const writers = 8

	var wg sync.WaitGroup
	results := make(chan error, writers)
	for i := range writers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results <- s.Bind(ctx, store.Binding{
				TopicMap:  "tm1",
				Namespace: store.SubjectIdentifiers,
				Address:   "http://example.org/contended",
				Construct: fmt.Sprintf("t%d", i),
			})
		}(i)
	}
	wg.Wait()
	close(results)

	var won, lost int
	for err := range results {
		switch {
		case err == nil:
			won++
		case assert.ErrorIs(t, err, store.ErrConflict):
			lost++
		}
	}
	assert.Equal(t, 1, won)
	assert.Equal(t, writers-1, lost)
}

func testPing(t *testing.T, s store.Store) {
	require.NoError(t, s.Ping(context.Background()))
}
