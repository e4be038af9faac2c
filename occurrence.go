package tmapi

import (
	"context"

	"github.com/zero-day-ai/tmapi/locator"
	"github.com/zero-day-ai/tmapi/store"
)

// Occurrence is a typed piece of information about a topic.
type Occurrence struct {
	*construct
	scoped
	typed
	reifiable
}

var (
	_ Scoped    = (*Occurrence)(nil)
	_ Typed     = (*Occurrence)(nil)
	_ Reifiable = (*Occurrence)(nil)
)

func newOccurrence(tm *TopicMap, id string) *Occurrence {
	c := &construct{tm: tm, id: id, kind: store.KindOccurrence}
	return &Occurrence{construct: c, scoped: scoped{c}, typed: typed{c}, reifiable: reifiable{c}}
}

// Parent returns the topic the occurrence belongs to.
func (o *Occurrence) Parent(ctx context.Context) (Construct, error) {
	rec, err := o.load(ctx)
	if err != nil {
		return nil, wrapError("Occurrence.Parent", err)
	}
	return newTopic(o.tm, rec.Parent), nil
}

// Value returns the value in its lexical form.
func (o *Occurrence) Value(ctx context.Context) (string, error) {
	return loadValue(ctx, o.construct, "Occurrence.Value")
}

// Datatype returns the datatype of the value.
func (o *Occurrence) Datatype(ctx context.Context) (locator.Locator, error) {
	return loadDatatype(ctx, o.construct, "Occurrence.Datatype")
}

// LocatorValue returns the value as a locator.
func (o *Occurrence) LocatorValue(ctx context.Context) (locator.Locator, error) {
	return loadLocator(ctx, o.construct, "Occurrence.LocatorValue")
}

// SetValue replaces value and datatype; a zero datatype is inferred from
// the value.
func (o *Occurrence) SetValue(ctx context.Context, value any, datatype locator.Locator) error {
	return storeValue(ctx, o.construct, "Occurrence.SetValue", value, datatype)
}

// Remove deletes the occurrence.
func (o *Occurrence) Remove(ctx context.Context) error {
	return o.remove(ctx, "Occurrence.Remove")
}

func loadValue(ctx context.Context, c *construct, op string) (string, error) {
	rec, err := c.load(ctx)
	if err != nil {
		return "", wrapError(op, err)
	}
	return rec.Value, nil
}

func loadDatatype(ctx context.Context, c *construct, op string) (locator.Locator, error) {
	rec, err := c.load(ctx)
	if err != nil {
		return locator.Locator{}, wrapError(op, err)
	}
	dt, err := locator.New(rec.Datatype)
	if err != nil {
		return locator.Locator{}, wrapError(op, err)
	}
	return dt, nil
}

func loadLocator(ctx context.Context, c *construct, op string) (locator.Locator, error) {
	rec, err := c.load(ctx)
	if err != nil {
		return locator.Locator{}, wrapError(op, err)
	}
	loc, err := c.tm.iri.Resolve(rec.Value)
	if err != nil {
		return locator.Locator{}, constraintError(op, "value %q is not a locator: %v", rec.Value, err)
	}
	return loc, nil
}

func storeValue(ctx context.Context, c *construct, op string, value any, dt locator.Locator) error {
	v, d, err := literal(op, value, dt)
	if err != nil {
		return err
	}
	return c.tm.write(ctx, op, func(ctx context.Context) error {
		rec, err := c.load(ctx)
		if err != nil {
			return err
		}
		rec.Value, rec.Datatype = v, d
		return c.tm.sys.store.Update(ctx, rec)
	})
}
