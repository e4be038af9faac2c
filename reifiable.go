package tmapi

import (
	"context"

	"github.com/zero-day-ai/tmapi/store"
)

// Reifiable is implemented by constructs a topic can reify: the topic map,
// associations, roles, names, occurrences and variants.
type Reifiable interface {
	Construct
	Reifier(ctx context.Context) (*Topic, error)
	SetReifier(ctx context.Context, reifier *Topic) error
}

type reifiable struct {
	c *construct
}

// Reifier returns the topic reifying the construct, or nil.
func (r reifiable) Reifier(ctx context.Context) (*Topic, error) {
	rec, err := r.c.load(ctx)
	if err != nil {
		return nil, wrapError(r.c.opName("Reifier"), err)
	}
	if rec.Reifier == "" {
		return nil, nil
	}
	return newTopic(r.c.tm, rec.Reifier), nil
}

// SetReifier makes reifier the topic reifying the construct; nil clears the
// link. A topic reifies at most one construct, so assigning a topic that
// already reifies something else is a constraint violation.
func (r reifiable) SetReifier(ctx context.Context, reifier *Topic) error {
	op := r.c.opName("SetReifier")
	if reifier != nil {
		if err := r.c.tm.checkTopic(op, "reifier", reifier); err != nil {
			return err
		}
	}
	return r.c.tm.write(ctx, op, func(ctx context.Context) error {
		s := r.c.tm.sys.store
		rec, err := r.c.load(ctx)
		if err != nil {
			return err
		}
		if reifier != nil && rec.Reifier == reifier.id {
			return nil
		}

		var topic *store.Record
		if reifier != nil {
			topic, err = s.Get(ctx, reifier.id)
			if err != nil {
				return err
			}
			if topic.Reified != "" {
				return constraintError(op, "topic %s already reifies %s %s", reifier.id, topic.ReifiedKind, topic.Reified).
					WithContext(map[string]any{"reifier": reifier.id, "reified": topic.Reified})
			}
		}

		if rec.Reifier != "" {
			if err := r.c.tm.clearLink(ctx, rec.Reifier, func(t *store.Record) { t.Reified, t.ReifiedKind = "", "" }); err != nil {
				return err
			}
			rec.Reifier = ""
		}
		if topic != nil {
			topic.Reified, topic.ReifiedKind = rec.ID, rec.Kind
			if err := s.Update(ctx, topic); err != nil {
				return err
			}
			rec.Reifier = topic.ID
		}
		return s.Update(ctx, rec)
	})
}
