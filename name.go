package tmapi

import (
	"context"
	"slices"

	"github.com/zero-day-ai/tmapi/locator"
	"github.com/zero-day-ai/tmapi/store"
)

// Name is a name of a topic. Names own their variants.
type Name struct {
	*construct
	scoped
	typed
	reifiable
}

var (
	_ Scoped    = (*Name)(nil)
	_ Typed     = (*Name)(nil)
	_ Reifiable = (*Name)(nil)
)

func newName(tm *TopicMap, id string) *Name {
	c := &construct{tm: tm, id: id, kind: store.KindName}
	return &Name{construct: c, scoped: scoped{c}, typed: typed{c}, reifiable: reifiable{c}}
}

// Parent returns the topic the name belongs to.
func (n *Name) Parent(ctx context.Context) (Construct, error) {
	topic, err := n.Topic(ctx)
	if err != nil {
		return nil, err
	}
	return topic, nil
}

// Topic returns the topic the name belongs to.
func (n *Name) Topic(ctx context.Context) (*Topic, error) {
	rec, err := n.load(ctx)
	if err != nil {
		return nil, wrapError("Name.Parent", err)
	}
	return newTopic(n.tm, rec.Parent), nil
}

// Value returns the name string.
func (n *Name) Value(ctx context.Context) (string, error) {
	rec, err := n.load(ctx)
	if err != nil {
		return "", wrapError("Name.Value", err)
	}
	return rec.Value, nil
}

// SetValue replaces the name string.
func (n *Name) SetValue(ctx context.Context, value string) error {
	return n.tm.write(ctx, "Name.SetValue", func(ctx context.Context) error {
		rec, err := n.load(ctx)
		if err != nil {
			return err
		}
		rec.Value = value
		return n.tm.sys.store.Update(ctx, rec)
	})
}

// CreateVariant adds a variant to the name. The variant's scope is the
// name's scope plus the given themes, which must add at least one theme the
// name does not already have. value and datatype follow the rules of
// Topic.CreateOccurrence.
func (n *Name) CreateVariant(ctx context.Context, value any, datatype locator.Locator, scope ...*Topic) (*Variant, error) {
	const op = "Name.CreateVariant"
	v, dt, err := literal(op, value, datatype)
	if err != nil {
		return nil, err
	}
	themes, err := n.tm.checkScope(op, scope)
	if err != nil {
		return nil, err
	}
	if len(themes) == 0 {
		return nil, constraintError(op, "variant scope must not be empty")
	}

	id := n.tm.sys.newID()
	err = n.tm.write(ctx, op, func(ctx context.Context) error {
		rec, err := n.load(ctx)
		if err != nil {
			return err
		}
		if err := n.tm.exist(ctx, themes...); err != nil {
			return err
		}
		variantScope := slices.Clone(rec.Scope)
		extends := false
		for _, theme := range themes {
			if !slices.Contains(variantScope, theme) {
				variantScope = append(variantScope, theme)
				extends = true
			}
		}
		if !extends {
			return constraintError(op, "variant scope must be a true superset of the name scope")
		}
		return n.tm.sys.store.Create(ctx, &store.Record{
			ID:       id,
			Kind:     store.KindVariant,
			TopicMap: n.tm.id,
			Parent:   n.id,
			Value:    v,
			Datatype: dt,
			Scope:    variantScope,
		})
	})
	if err != nil {
		return nil, err
	}
	return newVariant(n.tm, id), nil
}

// Variants returns the variants of the name.
func (n *Name) Variants(ctx context.Context) ([]*Variant, error) {
	recs, err := n.tm.sys.store.Filter(ctx, store.Predicate{
		TopicMap: n.tm.id,
		Kinds:    []store.Kind{store.KindVariant},
		Parent:   n.id,
	})
	if err != nil {
		return nil, wrapError("Name.Variants", err)
	}
	out := make([]*Variant, len(recs))
	for i, rec := range recs {
		out[i] = newVariant(n.tm, rec.ID)
	}
	return out, nil
}

// Remove deletes the name and its variants.
func (n *Name) Remove(ctx context.Context) error {
	return n.remove(ctx, "Name.Remove")
}
