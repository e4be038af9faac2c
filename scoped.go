package tmapi

import (
	"context"
	"slices"

	"github.com/zero-day-ai/tmapi/store"
)

// Scoped is implemented by constructs that carry a scope: associations,
// names, occurrences and variants. An empty scope is the unconstrained
// scope.
type Scoped interface {
	Construct
	Scope(ctx context.Context) ([]*Topic, error)
	AddTheme(ctx context.Context, theme *Topic) error
	RemoveTheme(ctx context.Context, theme *Topic) error
}

type scoped struct {
	c *construct
}

// Scope returns the themes of the construct.
func (s scoped) Scope(ctx context.Context) ([]*Topic, error) {
	rec, err := s.c.load(ctx)
	if err != nil {
		return nil, wrapError(s.c.opName("Scope"), err)
	}
	return s.c.tm.topics(rec.Scope), nil
}

// AddTheme adds theme to the scope. Adding a theme twice has no effect.
func (s scoped) AddTheme(ctx context.Context, theme *Topic) error {
	op := s.c.opName("AddTheme")
	if err := s.c.tm.checkTopic(op, "theme", theme); err != nil {
		return err
	}
	return s.c.tm.write(ctx, op, func(ctx context.Context) error {
		if err := s.c.tm.exist(ctx, theme.id); err != nil {
			return err
		}
		return s.update(ctx, func(rec *store.Record) error {
			if !slices.Contains(rec.Scope, theme.id) {
				rec.Scope = append(rec.Scope, theme.id)
			}
			return nil
		})
	})
}

// RemoveTheme removes theme from the scope.
func (s scoped) RemoveTheme(ctx context.Context, theme *Topic) error {
	op := s.c.opName("RemoveTheme")
	if err := s.c.tm.checkTopic(op, "theme", theme); err != nil {
		return err
	}
	return s.c.tm.write(ctx, op, func(ctx context.Context) error {
		return s.update(ctx, func(rec *store.Record) error {
			rec.Scope = slices.DeleteFunc(rec.Scope, func(id string) bool { return id == theme.id })
			return nil
		})
	})
}

func (s scoped) update(ctx context.Context, fn func(*store.Record) error) error {
	rec, err := s.c.load(ctx)
	if err != nil {
		return err
	}
	if err := fn(rec); err != nil {
		return err
	}
	return s.c.tm.sys.store.Update(ctx, rec)
}
