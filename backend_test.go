package tmapi

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zero-day-ai/tmapi/locator"
	"github.com/zero-day-ai/tmapi/store"
	"github.com/zero-day-ai/tmapi/store/redisstore"
	"github.com/zero-day-ai/tmapi/store/sqlitestore"
)

// TestBackends runs one model scenario against every store implementation.
func TestBackends(t *testing.T) {
	backends := []struct {
		name string
		open func(t *testing.T) store.Store
	}{
		{
			name: "redis",
			open: func(t *testing.T) store.Store {
				mr := miniredis.RunT(t)
				s, err := redisstore.New(redisstore.Options{URL: "redis://" + mr.Addr()})
				require.NoError(t, err)
				return s
			},
		},
		{
			name: "sqlite",
			open: func(t *testing.T) store.Store {
				s, err := sqlitestore.Open(sqlitestore.Config{Path: filepath.Join(t.TempDir(), "tm.db")})
				require.NoError(t, err)
				return s
			},
		},
	}

	for _, backend := range backends {
		t.Run(backend.name, func(t *testing.T) {
			sys := newTestSystem(t, WithStore(backend.open(t)))
			ctx := context.Background()

			tm, err := sys.CreateTopicMap(ctx, loc(testIRI))
			require.NoError(t, err)
			require.NoError(t, tm.SetTitle(ctx, "Example"))
			require.NoError(t, tm.SetBaseAddress(ctx, loc("http://example.org/base/")))

			reopened, err := sys.TopicMap(ctx, loc(testIRI))
			require.NoError(t, err)
			title, err := reopened.Title(ctx)
			require.NoError(t, err)
			assert.Equal(t, "Example", title)
			base, err := reopened.BaseAddress(ctx)
			require.NoError(t, err)
			assert.Equal(t, "http://example.org/base/", base.Reference())

			a := mustTopic(t, tm, "http://example.org/a")
			b, err := tm.CreateTopicByItemIdentifier(ctx, loc("http://example.org/b"))
			require.NoError(t, err)
			typ := mustTopic(t, tm, "http://example.org/type")

			name, err := b.CreateName(ctx, "B", nil)
			require.NoError(t, err)
			_, err = name.CreateVariant(ctx, "b", locator.Locator{}, typ)
			require.NoError(t, err)
			assoc, err := tm.CreateAssociation(ctx, typ, typ)
			require.NoError(t, err)
			role, err := assoc.CreateRole(ctx, typ, b)
			require.NoError(t, err)
			require.NoError(t, assoc.SetReifier(ctx, b))

			require.NoError(t, a.AddSubjectIdentifier(ctx, loc("http://example.org/b")))

			topics, err := tm.Topics(ctx)
			require.NoError(t, err)
			assert.NotContains(t, ids(topics), b.ID())

			player, err := role.Player(ctx)
			require.NoError(t, err)
			assert.Equal(t, a.ID(), player.ID())

			reifier, err := assoc.Reifier(ctx)
			require.NoError(t, err)
			assert.Equal(t, a.ID(), reifier.ID())

			found, err := tm.ConstructByItemIdentifier(ctx, loc("http://example.org/b"))
			require.NoError(t, err)
			assert.Equal(t, a.ID(), found.ID())

			names, err := a.Names(ctx, nil)
			require.NoError(t, err)
			require.Len(t, names, 1)

			themed, err := tm.AssociationsByTheme(ctx, typ)
			require.NoError(t, err)
			assert.Equal(t, []string{assoc.ID()}, ids(themed))

			assert.ErrorIs(t, a.Remove(ctx), ErrTopicInUse)
			require.NoError(t, assoc.Remove(ctx))
			require.NoError(t, a.Remove(ctx))

			_, err = names[0].Value(ctx)
			assert.ErrorIs(t, err, ErrConstructRemoved)

			require.NoError(t, tm.Remove(ctx))
			missing, err := sys.TopicMap(ctx, loc(testIRI))
			require.NoError(t, err)
			assert.Nil(t, missing)
		})
	}
}
