package tmapi

import (
	"context"
	"slices"

	"github.com/zero-day-ai/tmapi/locator"
	"github.com/zero-day-ai/tmapi/store"
)

// Variant is an alternative form of a name, valid in a scope that extends
// the name's scope.
type Variant struct {
	*construct
	scoped
	reifiable
}

var (
	_ Scoped    = (*Variant)(nil)
	_ Reifiable = (*Variant)(nil)
)

func newVariant(tm *TopicMap, id string) *Variant {
	c := &construct{tm: tm, id: id, kind: store.KindVariant}
	return &Variant{construct: c, scoped: scoped{c}, reifiable: reifiable{c}}
}

// Parent returns the name the variant belongs to.
func (v *Variant) Parent(ctx context.Context) (Construct, error) {
	name, err := v.Name(ctx)
	if err != nil {
		return nil, err
	}
	return name, nil
}

// Name returns the name the variant belongs to.
func (v *Variant) Name(ctx context.Context) (*Name, error) {
	rec, err := v.load(ctx)
	if err != nil {
		return nil, wrapError("Variant.Parent", err)
	}
	return newName(v.tm, rec.Parent), nil
}

// Value returns the value in its lexical form.
func (v *Variant) Value(ctx context.Context) (string, error) {
	return loadValue(ctx, v.construct, "Variant.Value")
}

// Datatype returns the datatype of the value.
func (v *Variant) Datatype(ctx context.Context) (locator.Locator, error) {
	return loadDatatype(ctx, v.construct, "Variant.Datatype")
}

// LocatorValue returns the value as a locator.
func (v *Variant) LocatorValue(ctx context.Context) (locator.Locator, error) {
	return loadLocator(ctx, v.construct, "Variant.LocatorValue")
}

// SetValue replaces value and datatype; a zero datatype is inferred from
// the value.
func (v *Variant) SetValue(ctx context.Context, value any, datatype locator.Locator) error {
	return storeValue(ctx, v.construct, "Variant.SetValue", value, datatype)
}

// RemoveTheme removes a theme the variant adds to its name's scope. Themes
// of the name, and the last variant-only theme, cannot be removed.
func (v *Variant) RemoveTheme(ctx context.Context, theme *Topic) error {
	const op = "Variant.RemoveTheme"
	if err := v.tm.checkTopic(op, "theme", theme); err != nil {
		return err
	}
	return v.tm.write(ctx, op, func(ctx context.Context) error {
		rec, err := v.load(ctx)
		if err != nil {
			return err
		}
		name, err := v.tm.sys.store.Get(ctx, rec.Parent)
		if err != nil {
			return err
		}
		if !slices.Contains(rec.Scope, theme.id) {
			return nil
		}
		if slices.Contains(name.Scope, theme.id) {
			return constraintError(op, "theme %s belongs to the name scope", theme.id)
		}
		remaining := slices.DeleteFunc(slices.Clone(rec.Scope), func(id string) bool { return id == theme.id })
		extra := 0
		for _, id := range remaining {
			if !slices.Contains(name.Scope, id) {
				extra++
			}
		}
		if extra == 0 {
			return constraintError(op, "variant scope must be a true superset of the name scope")
		}
		rec.Scope = remaining
		return v.tm.sys.store.Update(ctx, rec)
	})
}

// Remove deletes the variant.
func (v *Variant) Remove(ctx context.Context) error {
	return v.remove(ctx, "Variant.Remove")
}
