package tmapi

import (
	"context"
	"slices"

	"github.com/zero-day-ai/tmapi/locator"
	"github.com/zero-day-ai/tmapi/store"
)

// Topic represents a subject. Topics carry subject identifiers, subject
// locators and item identifiers; two topics sharing any of them are merged.
type Topic struct {
	*construct
}

var _ Construct = (*Topic)(nil)

func newTopic(tm *TopicMap, id string) *Topic {
	return &Topic{construct: &construct{tm: tm, id: id, kind: store.KindTopic}}
}

// Parent returns the topic map.
func (t *Topic) Parent(context.Context) (Construct, error) { return t.tm, nil }

// SubjectIdentifiers returns the topic's subject identifiers, sorted.
func (t *Topic) SubjectIdentifiers(ctx context.Context) ([]locator.Locator, error) {
	locs, err := t.identifiers(ctx, store.SubjectIdentifiers)
	return locs, wrapError("Topic.SubjectIdentifiers", err)
}

// SubjectLocators returns the topic's subject locators, sorted.
func (t *Topic) SubjectLocators(ctx context.Context) ([]locator.Locator, error) {
	locs, err := t.identifiers(ctx, store.SubjectLocators)
	return locs, wrapError("Topic.SubjectLocators", err)
}

// AddSubjectIdentifier adds loc as a subject identifier. A topic already
// holding loc as subject or item identifier is merged into t.
func (t *Topic) AddSubjectIdentifier(ctx context.Context, loc locator.Locator) error {
	const op = "Topic.AddSubjectIdentifier"
	if loc.IsZero() {
		return constraintError(op, "subject identifier must not be null")
	}
	return t.tm.write(ctx, op, func(ctx context.Context) error {
		merged, err := t.tm.sys.index.AddSubjectIdentifier(ctx, t.tm.id, t.id, loc.Reference())
		t.tm.sys.tel.merged(ctx, len(merged))
		return err
	})
}

// AddSubjectLocator adds loc as a subject locator. A topic already holding
// loc as subject locator is merged into t.
func (t *Topic) AddSubjectLocator(ctx context.Context, loc locator.Locator) error {
	const op = "Topic.AddSubjectLocator"
	if loc.IsZero() {
		return constraintError(op, "subject locator must not be null")
	}
	return t.tm.write(ctx, op, func(ctx context.Context) error {
		merged, err := t.tm.sys.index.AddSubjectLocator(ctx, t.tm.id, t.id, loc.Reference())
		t.tm.sys.tel.merged(ctx, len(merged))
		return err
	})
}

// RemoveSubjectIdentifier removes loc from the subject identifiers.
func (t *Topic) RemoveSubjectIdentifier(ctx context.Context, loc locator.Locator) error {
	return t.removeIdentifier(ctx, "Topic.RemoveSubjectIdentifier", store.SubjectIdentifiers, loc)
}

// RemoveSubjectLocator removes loc from the subject locators.
func (t *Topic) RemoveSubjectLocator(ctx context.Context, loc locator.Locator) error {
	return t.removeIdentifier(ctx, "Topic.RemoveSubjectLocator", store.SubjectLocators, loc)
}

// Types returns the topics t is an instance of.
func (t *Topic) Types(ctx context.Context) ([]*Topic, error) {
	rec, err := t.load(ctx)
	if err != nil {
		return nil, wrapError("Topic.Types", err)
	}
	return t.tm.topics(rec.Types), nil
}

// AddType makes t an instance of typ. The type must belong to the same
// topic map; a topic may be its own type.
func (t *Topic) AddType(ctx context.Context, typ *Topic) error {
	const op = "Topic.AddType"
	if err := t.tm.checkTopic(op, "type", typ); err != nil {
		return err
	}
	return t.tm.write(ctx, op, func(ctx context.Context) error {
		if err := t.tm.exist(ctx, typ.id); err != nil {
			return err
		}
		rec, err := t.load(ctx)
		if err != nil {
			return err
		}
		if slices.Contains(rec.Types, typ.id) {
			return nil
		}
		rec.Types = append(rec.Types, typ.id)
		return t.tm.sys.store.Update(ctx, rec)
	})
}

// RemoveType removes typ from the types of t.
func (t *Topic) RemoveType(ctx context.Context, typ *Topic) error {
	const op = "Topic.RemoveType"
	if err := t.tm.checkTopic(op, "type", typ); err != nil {
		return err
	}
	return t.tm.write(ctx, op, func(ctx context.Context) error {
		rec, err := t.load(ctx)
		if err != nil {
			return err
		}
		rec.Types = slices.DeleteFunc(rec.Types, func(id string) bool { return id == typ.id })
		return t.tm.sys.store.Update(ctx, rec)
	})
}

// CreateName adds a name to t. A nil type selects the default name type,
// the topic identified by http://psi.topicmaps.org/iso13250/model/topic-name,
// which is created on first use.
func (t *Topic) CreateName(ctx context.Context, value string, typ *Topic, scope ...*Topic) (*Name, error) {
	const op = "Topic.CreateName"
	if typ != nil {
		if err := t.tm.checkTopic(op, "name type", typ); err != nil {
			return nil, err
		}
	}
	themes, err := t.tm.checkScope(op, scope)
	if err != nil {
		return nil, err
	}

	id := t.tm.sys.newID()
	err = t.tm.write(ctx, op, func(ctx context.Context) error {
		if _, err := t.load(ctx); err != nil {
			return err
		}
		typeID := ""
		if typ == nil {
			res, err := t.tm.sys.index.ResolveSubjectIdentifier(ctx, t.tm.id, locator.TopicNamePSI)
			if err != nil {
				return err
			}
			if res.Created {
				t.tm.sys.tel.created(ctx, 1)
			}
			typeID = res.Topic
		} else {
			typeID = typ.id
		}
		if err := t.tm.exist(ctx, append([]string{typeID}, themes...)...); err != nil {
			return err
		}
		return t.tm.sys.store.Create(ctx, &store.Record{
			ID:       id,
			Kind:     store.KindName,
			TopicMap: t.tm.id,
			Parent:   t.id,
			Type:     typeID,
			Value:    value,
			Scope:    themes,
		})
	})
	if err != nil {
		return nil, err
	}
	return newName(t.tm, id), nil
}

// CreateOccurrence adds an occurrence to t. value is a string or a
// locator.Locator. A zero datatype is inferred: xsd:anyURI for locators,
// xsd:string otherwise.
func (t *Topic) CreateOccurrence(ctx context.Context, typ *Topic, value any, datatype locator.Locator, scope ...*Topic) (*Occurrence, error) {
	const op = "Topic.CreateOccurrence"
	if err := t.tm.checkTopic(op, "occurrence type", typ); err != nil {
		return nil, err
	}
	v, dt, err := literal(op, value, datatype)
	if err != nil {
		return nil, err
	}
	themes, err := t.tm.checkScope(op, scope)
	if err != nil {
		return nil, err
	}

	id := t.tm.sys.newID()
	err = t.tm.write(ctx, op, func(ctx context.Context) error {
		if err := t.tm.exist(ctx, append([]string{t.id, typ.id}, themes...)...); err != nil {
			return err
		}
		return t.tm.sys.store.Create(ctx, &store.Record{
			ID:       id,
			Kind:     store.KindOccurrence,
			TopicMap: t.tm.id,
			Parent:   t.id,
			Type:     typ.id,
			Value:    v,
			Datatype: dt,
			Scope:    themes,
		})
	})
	if err != nil {
		return nil, err
	}
	return newOccurrence(t.tm, id), nil
}

// Names returns the names of t, restricted to type typ unless typ is nil.
func (t *Topic) Names(ctx context.Context, typ *Topic) ([]*Name, error) {
	recs, err := t.children(ctx, store.KindName, typ)
	if err != nil {
		return nil, wrapError("Topic.Names", err)
	}
	out := make([]*Name, len(recs))
	for i, rec := range recs {
		out[i] = newName(t.tm, rec.ID)
	}
	return out, nil
}

// Occurrences returns the occurrences of t, restricted to type typ unless
// typ is nil.
func (t *Topic) Occurrences(ctx context.Context, typ *Topic) ([]*Occurrence, error) {
	recs, err := t.children(ctx, store.KindOccurrence, typ)
	if err != nil {
		return nil, wrapError("Topic.Occurrences", err)
	}
	out := make([]*Occurrence, len(recs))
	for i, rec := range recs {
		out[i] = newOccurrence(t.tm, rec.ID)
	}
	return out, nil
}

func (t *Topic) children(ctx context.Context, kind store.Kind, typ *Topic) ([]*store.Record, error) {
	p := store.Predicate{TopicMap: t.tm.id, Kinds: []store.Kind{kind}, Parent: t.id}
	if typ != nil {
		p.Type = typ.id
	}
	return t.tm.sys.store.Filter(ctx, p)
}

// RolesPlayed returns the roles played by t. roleType restricts the roles
// by type; assocType additionally restricts them by the type of their
// association. Filtering by association type alone is not supported.
func (t *Topic) RolesPlayed(ctx context.Context, roleType, assocType *Topic) ([]*Role, error) {
	const op = "Topic.RolesPlayed"
	if assocType != nil && roleType == nil {
		return nil, unsupportedError(op, "association type filter requires a role type")
	}

	p := store.Predicate{TopicMap: t.tm.id, Kinds: []store.Kind{store.KindRole}, Player: t.id}
	if roleType != nil {
		p.Type = roleType.id
	}
	recs, err := t.tm.sys.store.Filter(ctx, p)
	if err != nil {
		return nil, wrapError(op, err)
	}

	out := make([]*Role, 0, len(recs))
	for _, rec := range recs {
		if assocType != nil {
			assoc, err := t.tm.sys.store.Get(ctx, rec.Parent)
			if err != nil {
				return nil, wrapError(op, err)
			}
			if assoc.Type != assocType.id {
				continue
			}
		}
		out = append(out, newRole(t.tm, rec.ID))
	}
	return out, nil
}

// Reified returns the construct t reifies, or nil.
func (t *Topic) Reified(ctx context.Context) (Reifiable, error) {
	rec, err := t.load(ctx)
	if err != nil {
		return nil, wrapError("Topic.Reified", err)
	}
	switch rec.ReifiedKind {
	case store.KindTopicMap:
		return t.tm, nil
	case store.KindAssociation:
		return newAssociation(t.tm, rec.Reified), nil
	case store.KindRole:
		return newRole(t.tm, rec.Reified), nil
	case store.KindName:
		return newName(t.tm, rec.Reified), nil
	case store.KindOccurrence:
		return newOccurrence(t.tm, rec.Reified), nil
	case store.KindVariant:
		return newVariant(t.tm, rec.Reified), nil
	}
	return nil, nil
}

// MergeIn merges other into t.
func (t *Topic) MergeIn(ctx context.Context, other *Topic) error {
	return t.tm.MergeTopics(ctx, t, other)
}

// Remove deletes the topic with its names and occurrences. It fails with
// ErrTopicInUse while the topic is used as a type, role player, theme or
// reifier elsewhere in the topic map.
func (t *Topic) Remove(ctx context.Context) error {
	const op = "Topic.Remove"
	return t.tm.write(ctx, op, func(ctx context.Context) error {
		rec, err := t.load(ctx)
		if err != nil {
			return err
		}
		if err := t.checkUnused(ctx, op); err != nil {
			return err
		}
		n, err := t.tm.removeRecord(ctx, rec)
		t.tm.sys.tel.removed(ctx, n)
		return err
	})
}

// checkUnused fails when a construct outside t's own names, occurrences and
// variants refers to t.
func (t *Topic) checkUnused(ctx context.Context, op string) error {
	s := t.tm.sys.store
	owned := map[string]bool{t.id: true}
	children, err := s.Filter(ctx, store.Predicate{TopicMap: t.tm.id, Parent: t.id})
	if err != nil {
		return err
	}
	for _, child := range children {
		owned[child.ID] = true
		if child.Kind != store.KindName {
			continue
		}
		variants, err := s.Filter(ctx, store.Predicate{TopicMap: t.tm.id, Parent: child.ID})
		if err != nil {
			return err
		}
		for _, v := range variants {
			owned[v.ID] = true
		}
	}

	refs, err := s.Filter(ctx, store.Predicate{TopicMap: t.tm.id, References: t.id})
	if err != nil {
		return err
	}
	for _, ref := range refs {
		if owned[ref.ID] {
			continue
		}
		return &Error{
			Op:      op,
			Kind:    KindConstraint,
			Err:     ErrTopicInUse,
			Context: map[string]any{"topic": t.id, "used_by": ref.ID, "kind": string(ref.Kind)},
		}
	}
	return nil
}
