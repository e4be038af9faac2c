package tmapi

import "context"

// Typed is implemented by constructs with a single type topic: associations,
// roles, names and occurrences.
type Typed interface {
	Construct
	Type(ctx context.Context) (*Topic, error)
	SetType(ctx context.Context, typ *Topic) error
}

type typed struct {
	c *construct
}

// Type returns the type topic.
func (t typed) Type(ctx context.Context) (*Topic, error) {
	rec, err := t.c.load(ctx)
	if err != nil {
		return nil, wrapError(t.c.opName("Type"), err)
	}
	typ, err := t.c.tm.topicRef(ctx, rec.Type)
	if err != nil {
		return nil, wrapError(t.c.opName("Type"), err)
	}
	return typ, nil
}

// SetType replaces the type. The type must be a topic of the same topic map.
func (t typed) SetType(ctx context.Context, typ *Topic) error {
	op := t.c.opName("SetType")
	if err := t.c.tm.checkTopic(op, "type", typ); err != nil {
		return err
	}
	return t.c.tm.write(ctx, op, func(ctx context.Context) error {
		if err := t.c.tm.exist(ctx, typ.id); err != nil {
			return err
		}
		rec, err := t.c.load(ctx)
		if err != nil {
			return err
		}
		rec.Type = typ.id
		return t.c.tm.sys.store.Update(ctx, rec)
	})
}
