package tmapi

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zero-day-ai/tmapi/locator"
	"github.com/zero-day-ai/tmapi/store"
)

func TestScope(t *testing.T) {
	tm := newTestMap(t)
	ctx := context.Background()
	typ := mustTopic(t, tm, "http://example.org/type")
	en := mustTopic(t, tm, "http://example.org/en")
	de := mustTopic(t, tm, "http://example.org/de")

	assoc, err := tm.CreateAssociation(ctx, typ)
	require.NoError(t, err)
	scope, err := assoc.Scope(ctx)
	require.NoError(t, err)
	assert.Empty(t, scope)

	require.NoError(t, assoc.AddTheme(ctx, en))
	require.NoError(t, assoc.AddTheme(ctx, en))
	require.NoError(t, assoc.AddTheme(ctx, de))
	scope, err = assoc.Scope(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{en.ID(), de.ID()}, ids(scope))

	require.NoError(t, assoc.RemoveTheme(ctx, en))
	scope, err = assoc.Scope(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{de.ID()}, ids(scope))

	occ, err := typ.CreateOccurrence(ctx, typ, "x", locator.Locator{}, en, en, de)
	require.NoError(t, err)
	scope, err = occ.Scope(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{en.ID(), de.ID()}, ids(scope))

	assert.ErrorIs(t, assoc.AddTheme(ctx, nil), ErrModelConstraint)
	_, err = tm.CreateAssociation(ctx, typ, nil)
	assert.ErrorIs(t, err, ErrModelConstraint)
}

func TestVariantScope(t *testing.T) {
	tm := newTestMap(t)
	ctx := context.Background()
	topic := mustTopic(t, tm, "http://example.org/a")
	en := mustTopic(t, tm, "http://example.org/en")
	sort := mustTopic(t, tm, "http://example.org/sort")
	display := mustTopic(t, tm, "http://example.org/display")

	name, err := topic.CreateName(ctx, "Alpha", nil, en)
	require.NoError(t, err)

	t.Run("empty scope", func(t *testing.T) {
		_, err := name.CreateVariant(ctx, "alpha", locator.Locator{})
		assert.ErrorIs(t, err, ErrModelConstraint)
	})

	t.Run("no new theme", func(t *testing.T) {
		_, err := name.CreateVariant(ctx, "alpha", locator.Locator{}, en)
		assert.ErrorIs(t, err, ErrModelConstraint)
	})

	t.Run("superset of the name scope", func(t *testing.T) {
		variant, err := name.CreateVariant(ctx, "alpha", locator.Locator{}, sort, display)
		require.NoError(t, err)

		scope, err := variant.Scope(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{en.ID(), sort.ID(), display.ID()}, ids(scope))

		parent, err := variant.Parent(ctx)
		require.NoError(t, err)
		assert.Equal(t, name.ID(), parent.ID())

		assert.ErrorIs(t, variant.RemoveTheme(ctx, en), ErrModelConstraint)
		require.NoError(t, variant.RemoveTheme(ctx, display))
		assert.ErrorIs(t, variant.RemoveTheme(ctx, sort), ErrModelConstraint)
		require.NoError(t, variant.RemoveTheme(ctx, display))

		scope, err = variant.Scope(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{en.ID(), sort.ID()}, ids(scope))
	})
}

func TestVariantDatatypeInference(t *testing.T) {
	tm := newTestMap(t)
	ctx := context.Background()
	topic := mustTopic(t, tm, "http://example.org/a")
	sort := mustTopic(t, tm, "http://example.org/sort")
	name, err := topic.CreateName(ctx, "Alpha", nil)
	require.NoError(t, err)

	text, err := name.CreateVariant(ctx, "text", locator.Locator{}, sort)
	require.NoError(t, err)
	dt, err := text.Datatype(ctx)
	require.NoError(t, err)
	assert.Equal(t, locator.XSDString, dt.Reference())

	ref, err := name.CreateVariant(ctx, loc("http://example.org/alpha.png"), locator.Locator{}, sort)
	require.NoError(t, err)
	dt, err = ref.Datatype(ctx)
	require.NoError(t, err)
	assert.Equal(t, locator.XSDAnyURI, dt.Reference())
	value, err := ref.Value(ctx)
	require.NoError(t, err)
	assert.Equal(t, "http://example.org/alpha.png", value)

	_, err = text.LocatorValue(ctx)
	assert.Error(t, err)

	require.NoError(t, text.SetValue(ctx, "TEXT", locator.Locator{}))
	value, err = text.Value(ctx)
	require.NoError(t, err)
	assert.Equal(t, "TEXT", value)
}

func TestNameRemoveCascades(t *testing.T) {
	tm := newTestMap(t)
	ctx := context.Background()
	topic := mustTopic(t, tm, "http://example.org/a")
	theme := mustTopic(t, tm, "http://example.org/sort")
	name, err := topic.CreateName(ctx, "Alpha", nil)
	require.NoError(t, err)
	v1, err := name.CreateVariant(ctx, "alpha", locator.Locator{}, theme)
	require.NoError(t, err)
	v2, err := name.CreateVariant(ctx, "ALPHA", locator.Locator{}, theme)
	require.NoError(t, err)

	variants, err := name.Variants(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{v1.ID(), v2.ID()}, ids(variants))

	require.NoError(t, name.Remove(ctx))

	for _, id := range []string{name.ID(), v1.ID(), v2.ID()} {
		found, err := tm.ConstructByID(ctx, id)
		require.NoError(t, err)
		assert.Nil(t, found)
	}
	for _, id := range []string{topic.ID(), theme.ID()} {
		found, err := tm.ConstructByID(ctx, id)
		require.NoError(t, err)
		assert.NotNil(t, found)
	}

	_, err = v1.Value(ctx)
	assert.ErrorIs(t, err, ErrConstructRemoved)
	assert.ErrorIs(t, err, &Error{Kind: KindNotFound})
}

func TestAssociationRoles(t *testing.T) {
	tm := newTestMap(t)
	ctx := context.Background()
	composedBy := mustTopic(t, tm, "http://example.org/composed-by")
	composer := mustTopic(t, tm, "http://example.org/composer")
	work := mustTopic(t, tm, "http://example.org/work")
	puccini := mustTopic(t, tm, "http://example.org/puccini")
	tosca := mustTopic(t, tm, "http://example.org/tosca")
	boheme := mustTopic(t, tm, "http://example.org/boheme")

	assoc, err := tm.CreateAssociation(ctx, composedBy)
	require.NoError(t, err)
	r1, err := assoc.CreateRole(ctx, composer, puccini)
	require.NoError(t, err)
	r2, err := assoc.CreateRole(ctx, work, tosca)
	require.NoError(t, err)
	r3, err := assoc.CreateRole(ctx, work, boheme)
	require.NoError(t, err)

	roles, err := assoc.Roles(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{r1.ID(), r2.ID(), r3.ID()}, ids(roles))
	roles, err = assoc.Roles(ctx, work)
	require.NoError(t, err)
	assert.Equal(t, []string{r2.ID(), r3.ID()}, ids(roles))

	types, err := assoc.RoleTypes(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{composer.ID(), work.ID()}, ids(types))

	parent, err := r2.Association(ctx)
	require.NoError(t, err)
	assert.Equal(t, assoc.ID(), parent.ID())

	require.NoError(t, r3.SetPlayer(ctx, puccini))
	player, err := r3.Player(ctx)
	require.NoError(t, err)
	assert.Equal(t, puccini.ID(), player.ID())

	require.NoError(t, r3.SetType(ctx, composer))
	typ, err := r3.Type(ctx)
	require.NoError(t, err)
	assert.Equal(t, composer.ID(), typ.ID())

	_, err = assoc.CreateRole(ctx, nil, puccini)
	assert.ErrorIs(t, err, ErrModelConstraint)
	_, err = assoc.CreateRole(ctx, work, nil)
	assert.ErrorIs(t, err, ErrModelConstraint)
	assert.ErrorIs(t, r3.SetPlayer(ctx, nil), ErrModelConstraint)
	assert.ErrorIs(t, r3.SetType(ctx, nil), ErrModelConstraint)

	require.NoError(t, assoc.Remove(ctx))
	for _, r := range []*Role{r1, r2, r3} {
		found, err := tm.ConstructByID(ctx, r.ID())
		require.NoError(t, err)
		assert.Nil(t, found)
	}
	assocs, err := tm.Associations(ctx)
	require.NoError(t, err)
	assert.Empty(t, assocs)
}

func TestRolePlayerFromOtherTopicMap(t *testing.T) {
	tm := newTestMap(t)
	ctx := context.Background()
	other, err := tm.sys.CreateTopicMap(ctx, loc("http://example.org/other/"))
	require.NoError(t, err)

	typ := mustTopic(t, tm, "http://example.org/type")
	foreign := mustTopic(t, other, "http://example.org/player")

	assoc, err := tm.CreateAssociation(ctx, typ)
	require.NoError(t, err)
	role, err := assoc.CreateRole(ctx, typ, foreign)
	require.NoError(t, err)

	player, err := role.Player(ctx)
	require.NoError(t, err)
	assert.Equal(t, foreign.ID(), player.ID())
	assert.Equal(t, other.ID(), player.TopicMap().ID())

	assert.ErrorIs(t, role.SetType(ctx, foreign), ErrModelConstraint)
}

func TestReification(t *testing.T) {
	tm := newTestMap(t)
	ctx := context.Background()
	typ := mustTopic(t, tm, "http://example.org/type")
	reifier := mustTopic(t, tm, "http://example.org/reifier")

	assoc, err := tm.CreateAssociation(ctx, typ)
	require.NoError(t, err)
	name, err := typ.CreateName(ctx, "Type", nil)
	require.NoError(t, err)

	current, err := assoc.Reifier(ctx)
	require.NoError(t, err)
	assert.Nil(t, current)

	require.NoError(t, assoc.SetReifier(ctx, reifier))
	require.NoError(t, assoc.SetReifier(ctx, reifier))
	current, err = assoc.Reifier(ctx)
	require.NoError(t, err)
	assert.Equal(t, reifier.ID(), current.ID())

	reified, err := reifier.Reified(ctx)
	require.NoError(t, err)
	require.IsType(t, &Association{}, reified)
	assert.Equal(t, assoc.ID(), reified.ID())

	t.Run("one construct per reifier", func(t *testing.T) {
		err := name.SetReifier(ctx, reifier)
		assert.ErrorIs(t, err, ErrModelConstraint)

		var tmErr *Error
		require.ErrorAs(t, err, &tmErr)
		assert.Equal(t, "Name.SetReifier", tmErr.Op)
		assert.Equal(t, reifier.ID(), tmErr.Context["reifier"])
		assert.Equal(t, assoc.ID(), tmErr.Context["reified"])
	})

	t.Run("clear", func(t *testing.T) {
		require.NoError(t, assoc.SetReifier(ctx, nil))
		reified, err := reifier.Reified(ctx)
		require.NoError(t, err)
		assert.Nil(t, reified)

		require.NoError(t, name.SetReifier(ctx, reifier))
		reified, err = reifier.Reified(ctx)
		require.NoError(t, err)
		require.IsType(t, &Name{}, reified)
		assert.Equal(t, name.ID(), reified.ID())
	})

	t.Run("removing the reified construct clears the link", func(t *testing.T) {
		require.NoError(t, name.Remove(ctx))
		reified, err := reifier.Reified(ctx)
		require.NoError(t, err)
		assert.Nil(t, reified)
	})

	t.Run("topic map", func(t *testing.T) {
		require.NoError(t, tm.SetReifier(ctx, reifier))
		reified, err := reifier.Reified(ctx)
		require.NoError(t, err)
		assert.Same(t, tm, reified)
	})
}

func TestItemIdentifiersOnConstructs(t *testing.T) {
	tm := newTestMap(t)
	ctx := context.Background()
	typ := mustTopic(t, tm, "http://example.org/type")
	assoc, err := tm.CreateAssociation(ctx, typ)
	require.NoError(t, err)

	ii := loc("http://example.org/tm/#assoc")
	require.NoError(t, assoc.AddItemIdentifier(ctx, ii))
	require.NoError(t, assoc.AddItemIdentifier(ctx, ii))

	found, err := tm.ConstructByItemIdentifier(ctx, ii)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, store.KindAssociation, found.Kind())
	assert.Equal(t, assoc.ID(), found.ID())

	iis, err := assoc.ItemIdentifiers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []locator.Locator{ii}, iis)

	t.Run("held by another construct", func(t *testing.T) {
		other, err := tm.CreateAssociation(ctx, typ)
		require.NoError(t, err)
		err = other.AddItemIdentifier(ctx, ii)
		assert.ErrorIs(t, err, ErrIdentityConstraint)
		assert.ErrorIs(t, err, &Error{Kind: KindIdentity})
	})

	t.Run("topic cannot take it either", func(t *testing.T) {
		_, err := tm.CreateTopicByItemIdentifier(ctx, ii)
		assert.ErrorIs(t, err, ErrIdentityConstraint)
	})

	require.NoError(t, assoc.RemoveItemIdentifier(ctx, ii))
	found, err = tm.ConstructByItemIdentifier(ctx, ii)
	require.NoError(t, err)
	assert.Nil(t, found)

	assert.ErrorIs(t, assoc.AddItemIdentifier(ctx, locator.Locator{}), ErrModelConstraint)
}

func TestStaleHandles(t *testing.T) {
	tm := newTestMap(t)
	ctx := context.Background()
	typ := mustTopic(t, tm, "http://example.org/type")
	assoc, err := tm.CreateAssociation(ctx, typ)
	require.NoError(t, err)
	require.NoError(t, assoc.Remove(ctx))

	tests := []struct {
		name string
		call func() error
	}{
		{"type", func() error { _, err := assoc.Type(ctx); return err }},
		{"scope", func() error { _, err := assoc.Scope(ctx); return err }},
		{"reifier", func() error { _, err := assoc.Reifier(ctx); return err }},
		{"add theme", func() error { return assoc.AddTheme(ctx, typ) }},
		{"create role", func() error { _, err := assoc.CreateRole(ctx, typ, typ); return err }},
		{"remove", func() error { return assoc.Remove(ctx) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call()
			assert.ErrorIs(t, err, ErrConstructRemoved)
		})
	}
}
