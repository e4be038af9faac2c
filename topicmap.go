package tmapi

import (
	"context"
	"errors"
	"unicode/utf8"

	"github.com/zero-day-ai/tmapi/identity"
	"github.com/zero-day-ai/tmapi/locator"
	"github.com/zero-day-ai/tmapi/store"
)

// TopicMap is the entry point for creating and finding constructs. It is
// itself a reifiable construct.
type TopicMap struct {
	*construct
	reifiable

	sys *System
	iri locator.Locator
}

var _ Reifiable = (*TopicMap)(nil)

// write runs fn as one atomic unit with respect to other writers of the
// topic map and records it as op. It fails with ErrConstructRemoved once the
// topic map has been removed.
func (tm *TopicMap) write(ctx context.Context, op string, fn func(ctx context.Context) error) (err error) {
	ctx, end := tm.sys.tel.start(ctx, op, tm.id)
	defer end(&err)
	return wrapError(op, tm.sys.index.Do(ctx, tm.id, func(ctx context.Context) error {
		if _, err := tm.sys.store.Get(ctx, tm.id); err != nil {
			return err
		}
		return fn(ctx)
	}))
}

// Locator returns the IRI the topic map was created with.
func (tm *TopicMap) Locator() locator.Locator { return tm.iri }

// Length limits of topic map metadata, in characters.
const (
	maxTitleLength       = 128
	maxBaseAddressLength = 512
)

// Title returns the topic map's title, or "" if none is set.
func (tm *TopicMap) Title(ctx context.Context) (string, error) {
	rec, err := tm.load(ctx)
	if err != nil {
		return "", wrapError("TopicMap.Title", err)
	}
	return rec.Title, nil
}

// SetTitle replaces the title. An empty title clears it.
func (tm *TopicMap) SetTitle(ctx context.Context, title string) error {
	const op = "TopicMap.SetTitle"
	if n := utf8.RuneCountInString(title); n > maxTitleLength {
		return constraintError(op, "title has %d characters, at most %d allowed", n, maxTitleLength)
	}
	return tm.write(ctx, op, func(ctx context.Context) error {
		rec, err := tm.load(ctx)
		if err != nil {
			return err
		}
		rec.Title = title
		return tm.sys.store.Update(ctx, rec)
	})
}

// BaseAddress returns the base address relative references are resolved
// against by ResolveLocator, or the zero Locator if none is set.
func (tm *TopicMap) BaseAddress(ctx context.Context) (locator.Locator, error) {
	const op = "TopicMap.BaseAddress"
	rec, err := tm.load(ctx)
	if err != nil {
		return locator.Locator{}, wrapError(op, err)
	}
	if rec.BaseAddress == "" {
		return locator.Locator{}, nil
	}
	loc, err := locator.New(rec.BaseAddress)
	if err != nil {
		return locator.Locator{}, wrapError(op, err)
	}
	return loc, nil
}

// SetBaseAddress replaces the base address. The zero Locator clears it.
func (tm *TopicMap) SetBaseAddress(ctx context.Context, base locator.Locator) error {
	const op = "TopicMap.SetBaseAddress"
	ref := base.Reference()
	if n := utf8.RuneCountInString(ref); n > maxBaseAddressLength {
		return constraintError(op, "base address has %d characters, at most %d allowed", n, maxBaseAddressLength)
	}
	return tm.write(ctx, op, func(ctx context.Context) error {
		rec, err := tm.load(ctx)
		if err != nil {
			return err
		}
		rec.BaseAddress = ref
		return tm.sys.store.Update(ctx, rec)
	})
}

// Parent returns nil; a topic map has no parent.
func (tm *TopicMap) Parent(context.Context) (Construct, error) { return nil, nil }

// CreateLocator resolves ref against the topic map's IRI.
func (tm *TopicMap) CreateLocator(ref string) (locator.Locator, error) {
	const op = "TopicMap.CreateLocator"
	if ref == "" {
		return locator.Locator{}, constraintError(op, "reference must not be empty")
	}
	loc, err := tm.iri.Resolve(ref)
	if err != nil {
		return locator.Locator{}, constraintError(op, "%v", err)
	}
	return loc, nil
}

// ResolveLocator resolves ref against the topic map's base address, or
// against its IRI when no base address is set.
func (tm *TopicMap) ResolveLocator(ctx context.Context, ref string) (locator.Locator, error) {
	const op = "TopicMap.ResolveLocator"
	if ref == "" {
		return locator.Locator{}, constraintError(op, "reference must not be empty")
	}
	base, err := tm.BaseAddress(ctx)
	if err != nil {
		return locator.Locator{}, err
	}
	if base.IsZero() {
		base = tm.iri
	}
	loc, err := base.Resolve(ref)
	if err != nil {
		return locator.Locator{}, constraintError(op, "%v", err)
	}
	return loc, nil
}

// CreateTopic creates a topic with a generated item identifier of the form
// <topic map IRI>#id-<uuid>.
func (tm *TopicMap) CreateTopic(ctx context.Context) (*Topic, error) {
	const op = "TopicMap.CreateTopic"
	ii, err := tm.iri.Resolve("#id-" + tm.sys.newID())
	if err != nil {
		return nil, constraintError(op, "%v", err)
	}
	return tm.resolve(ctx, op, ii, tm.sys.index.ResolveItemIdentifier)
}

// CreateTopicBySubjectIdentifier returns the topic with subject identifier
// loc. A topic with an item identifier equal to loc gains loc as subject
// identifier. Otherwise a new topic is created.
func (tm *TopicMap) CreateTopicBySubjectIdentifier(ctx context.Context, loc locator.Locator) (*Topic, error) {
	return tm.resolve(ctx, "TopicMap.CreateTopicBySubjectIdentifier", loc, tm.sys.index.ResolveSubjectIdentifier)
}

// CreateTopicByItemIdentifier returns the topic with item identifier loc. A
// topic with a subject identifier equal to loc gains loc as item identifier.
// Otherwise a new topic is created. It fails with ErrIdentityConstraint when
// loc identifies a construct that is not a topic.
func (tm *TopicMap) CreateTopicByItemIdentifier(ctx context.Context, loc locator.Locator) (*Topic, error) {
	return tm.resolve(ctx, "TopicMap.CreateTopicByItemIdentifier", loc, tm.sys.index.ResolveItemIdentifier)
}

// CreateTopicBySubjectLocator returns the topic with subject locator loc,
// creating it if needed.
func (tm *TopicMap) CreateTopicBySubjectLocator(ctx context.Context, loc locator.Locator) (*Topic, error) {
	return tm.resolve(ctx, "TopicMap.CreateTopicBySubjectLocator", loc, tm.sys.index.ResolveSubjectLocator)
}

type resolver func(ctx context.Context, topicMap, address string) (identity.Resolution, error)

func (tm *TopicMap) resolve(ctx context.Context, op string, loc locator.Locator, fn resolver) (*Topic, error) {
	if loc.IsZero() {
		return nil, constraintError(op, "locator must not be null")
	}
	var res identity.Resolution
	err := tm.write(ctx, op, func(ctx context.Context) error {
		var err error
		res, err = fn(ctx, tm.id, loc.Reference())
		if res.Created {
			tm.sys.tel.created(ctx, 1)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return newTopic(tm, res.Topic), nil
}

// CreateAssociation creates an association of type typ. An empty scope is
// the unconstrained scope.
func (tm *TopicMap) CreateAssociation(ctx context.Context, typ *Topic, scope ...*Topic) (*Association, error) {
	const op = "TopicMap.CreateAssociation"
	if err := tm.checkTopic(op, "association type", typ); err != nil {
		return nil, err
	}
	themes, err := tm.checkScope(op, scope)
	if err != nil {
		return nil, err
	}

	id := tm.sys.newID()
	err = tm.write(ctx, op, func(ctx context.Context) error {
		if err := tm.exist(ctx, append([]string{typ.id}, themes...)...); err != nil {
			return err
		}
		return tm.sys.store.Create(ctx, &store.Record{
			ID:       id,
			Kind:     store.KindAssociation,
			TopicMap: tm.id,
			Type:     typ.id,
			Scope:    themes,
		})
	})
	if err != nil {
		return nil, err
	}
	return newAssociation(tm, id), nil
}

// Topics returns all topics in creation order.
func (tm *TopicMap) Topics(ctx context.Context) ([]*Topic, error) {
	recs, err := tm.sys.store.Filter(ctx, store.OfKind(tm.id, store.KindTopic))
	if err != nil {
		return nil, wrapError("TopicMap.Topics", err)
	}
	out := make([]*Topic, len(recs))
	for i, rec := range recs {
		out[i] = newTopic(tm, rec.ID)
	}
	return out, nil
}

// Associations returns all associations in creation order.
func (tm *TopicMap) Associations(ctx context.Context) ([]*Association, error) {
	return tm.associations(ctx, "TopicMap.Associations", store.OfKind(tm.id, store.KindAssociation), nil)
}

// TopicsByType returns the topics having typ among their types, in creation
// order. A nil typ selects the topics without any type.
func (tm *TopicMap) TopicsByType(ctx context.Context, typ *Topic) ([]*Topic, error) {
	const op = "TopicMap.TopicsByType"
	p := store.OfKind(tm.id, store.KindTopic)
	if typ != nil {
		if err := tm.checkTopic(op, "type", typ); err != nil {
			return nil, err
		}
		p.InstanceOf = typ.id
	}
	recs, err := tm.sys.store.Filter(ctx, p)
	if err != nil {
		return nil, wrapError(op, err)
	}
	out := make([]*Topic, 0, len(recs))
	for _, rec := range recs {
		if typ == nil && len(rec.Types) > 0 {
			continue
		}
		out = append(out, newTopic(tm, rec.ID))
	}
	return out, nil
}

// AssociationsByType returns the associations of type typ in creation order.
func (tm *TopicMap) AssociationsByType(ctx context.Context, typ *Topic) ([]*Association, error) {
	const op = "TopicMap.AssociationsByType"
	if err := tm.checkTopic(op, "association type", typ); err != nil {
		return nil, err
	}
	p := store.OfKind(tm.id, store.KindAssociation)
	p.Type = typ.id
	return tm.associations(ctx, op, p, nil)
}

// AssociationsByTheme returns the associations whose scope contains theme,
// in creation order. A nil theme selects the associations in the
// unconstrained scope.
func (tm *TopicMap) AssociationsByTheme(ctx context.Context, theme *Topic) ([]*Association, error) {
	const op = "TopicMap.AssociationsByTheme"
	p := store.OfKind(tm.id, store.KindAssociation)
	if theme == nil {
		return tm.associations(ctx, op, p, func(rec *store.Record) bool { return len(rec.Scope) == 0 })
	}
	if err := tm.checkTopic(op, "theme", theme); err != nil {
		return nil, err
	}
	p.Theme = theme.id
	return tm.associations(ctx, op, p, nil)
}

func (tm *TopicMap) associations(ctx context.Context, op string, p store.Predicate, keep func(*store.Record) bool) ([]*Association, error) {
	recs, err := tm.sys.store.Filter(ctx, p)
	if err != nil {
		return nil, wrapError(op, err)
	}
	out := make([]*Association, 0, len(recs))
	for _, rec := range recs {
		if keep == nil || keep(rec) {
			out = append(out, newAssociation(tm, rec.ID))
		}
	}
	return out, nil
}

// ConstructByItemIdentifier returns the construct with item identifier loc,
// or nil.
func (tm *TopicMap) ConstructByItemIdentifier(ctx context.Context, loc locator.Locator) (Construct, error) {
	rec, err := tm.owner(ctx, store.ItemIdentifiers, loc)
	if err != nil || rec == nil {
		return nil, wrapError("TopicMap.ConstructByItemIdentifier", err)
	}
	return tm.wrap(rec), nil
}

// ConstructByID returns the construct with the given ID, or nil if it does
// not exist in this topic map.
func (tm *TopicMap) ConstructByID(ctx context.Context, id string) (Construct, error) {
	rec, err := tm.sys.store.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapError("TopicMap.ConstructByID", err)
	}
	if rec.TopicMap != tm.id {
		return nil, nil
	}
	return tm.wrap(rec), nil
}

// TopicBySubjectIdentifier returns the topic with subject identifier loc,
// or nil.
func (tm *TopicMap) TopicBySubjectIdentifier(ctx context.Context, loc locator.Locator) (*Topic, error) {
	rec, err := tm.owner(ctx, store.SubjectIdentifiers, loc)
	if err != nil || rec == nil {
		return nil, wrapError("TopicMap.TopicBySubjectIdentifier", err)
	}
	return newTopic(tm, rec.ID), nil
}

// TopicBySubjectLocator returns the topic with subject locator loc, or nil.
func (tm *TopicMap) TopicBySubjectLocator(ctx context.Context, loc locator.Locator) (*Topic, error) {
	rec, err := tm.owner(ctx, store.SubjectLocators, loc)
	if err != nil || rec == nil {
		return nil, wrapError("TopicMap.TopicBySubjectLocator", err)
	}
	return newTopic(tm, rec.ID), nil
}

func (tm *TopicMap) owner(ctx context.Context, ns store.Namespace, loc locator.Locator) (*store.Record, error) {
	if loc.IsZero() {
		return nil, nil
	}
	return tm.sys.index.Owner(ctx, tm.id, ns, loc.Reference())
}

// MergeTopics merges loser into survivor. Afterwards loser's handle is
// stale and survivor carries the identifiers, types, names, occurrences and
// roles of both.
func (tm *TopicMap) MergeTopics(ctx context.Context, survivor, loser *Topic) error {
	const op = "TopicMap.MergeTopics"
	if err := tm.checkTopic(op, "surviving topic", survivor); err != nil {
		return err
	}
	if err := tm.checkTopic(op, "merged topic", loser); err != nil {
		return err
	}
	return tm.write(ctx, op, func(ctx context.Context) error {
		if survivor.id == loser.id {
			return nil
		}
		if err := tm.sys.index.Merge(ctx, tm.id, survivor.id, loser.id); err != nil {
			return err
		}
		tm.sys.tel.merged(ctx, 1)
		return nil
	})
}

// Remove deletes the topic map and every construct in it.
func (tm *TopicMap) Remove(ctx context.Context) error {
	const op = "TopicMap.Remove"
	return tm.write(ctx, op, func(ctx context.Context) error {
		recs, err := tm.sys.store.Filter(ctx, store.Predicate{TopicMap: tm.id})
		if err != nil {
			return err
		}
		removed := 0
		for i := len(recs) - 1; i >= 0; i-- {
			if err := tm.sys.store.Delete(ctx, recs[i].ID); err != nil && !errors.Is(err, store.ErrNotFound) {
				tm.sys.tel.removed(ctx, removed)
				return err
			}
			removed++
		}
		tm.sys.tel.removed(ctx, removed)
		tm.sys.logger.Info("topic map removed", "iri", tm.iri, "topic_map", tm.id, "constructs", removed)
		return nil
	})
}
