package tmapi

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/zero-day-ai/tmapi/locator"
	"github.com/zero-day-ai/tmapi/store"
)

// Construct is implemented by every topic map construct.
type Construct interface {
	// ID returns the construct's identifier, stable for its lifetime.
	ID() string

	// Kind returns the construct kind.
	Kind() store.Kind

	// TopicMap returns the topic map the construct belongs to.
	TopicMap() *TopicMap

	// Parent returns the owning construct, or nil for a topic map.
	Parent(ctx context.Context) (Construct, error)

	// ItemIdentifiers returns the construct's item identifiers.
	ItemIdentifiers(ctx context.Context) ([]locator.Locator, error)

	// AddItemIdentifier adds an item identifier. On a topic, an identifier
	// already held by another topic merges that topic into this one.
	AddItemIdentifier(ctx context.Context, loc locator.Locator) error

	// RemoveItemIdentifier removes an item identifier.
	RemoveItemIdentifier(ctx context.Context, loc locator.Locator) error

	// Remove deletes the construct and everything it owns.
	Remove(ctx context.Context) error
}

// construct is the state shared by all handles: the owning topic map and
// the record ID. Everything else lives in the store.
type construct struct {
	tm   *TopicMap
	id   string
	kind store.Kind
}

// ID returns the construct's identifier.
func (c *construct) ID() string { return c.id }

// Kind returns the construct kind.
func (c *construct) Kind() store.Kind { return c.kind }

// TopicMap returns the owning topic map.
func (c *construct) TopicMap() *TopicMap { return c.tm }

func (c *construct) String() string { return fmt.Sprintf("%s(%s)", c.kind, c.id) }

func (c *construct) load(ctx context.Context) (*store.Record, error) {
	return c.tm.sys.store.Get(ctx, c.id)
}

func (c *construct) opName(method string) string {
	switch c.kind {
	case store.KindTopicMap:
		return "TopicMap." + method
	case store.KindTopic:
		return "Topic." + method
	case store.KindAssociation:
		return "Association." + method
	case store.KindRole:
		return "Role." + method
	case store.KindName:
		return "Name." + method
	case store.KindOccurrence:
		return "Occurrence." + method
	case store.KindVariant:
		return "Variant." + method
	}
	return "Construct." + method
}

// ItemIdentifiers returns the construct's item identifiers, sorted.
func (c *construct) ItemIdentifiers(ctx context.Context) ([]locator.Locator, error) {
	locs, err := c.identifiers(ctx, store.ItemIdentifiers)
	return locs, wrapError(c.opName("ItemIdentifiers"), err)
}

// AddItemIdentifier adds loc as an item identifier.
func (c *construct) AddItemIdentifier(ctx context.Context, loc locator.Locator) error {
	op := c.opName("AddItemIdentifier")
	if loc.IsZero() {
		return constraintError(op, "item identifier must not be null")
	}
	return c.tm.write(ctx, op, func(ctx context.Context) error {
		merged, err := c.tm.sys.index.AddItemIdentifier(ctx, c.tm.id, c.id, loc.Reference())
		c.tm.sys.tel.merged(ctx, len(merged))
		return err
	})
}

// RemoveItemIdentifier removes loc from the construct's item identifiers.
func (c *construct) RemoveItemIdentifier(ctx context.Context, loc locator.Locator) error {
	return c.removeIdentifier(ctx, c.opName("RemoveItemIdentifier"), store.ItemIdentifiers, loc)
}

func (c *construct) removeIdentifier(ctx context.Context, op string, ns store.Namespace, loc locator.Locator) error {
	if loc.IsZero() {
		return constraintError(op, "identifier must not be null")
	}
	return c.tm.write(ctx, op, func(ctx context.Context) error {
		return c.tm.sys.index.RemoveIdentifier(ctx, c.tm.id, c.id, ns, loc.Reference())
	})
}

func (c *construct) identifiers(ctx context.Context, ns store.Namespace) ([]locator.Locator, error) {
	addrs, err := c.tm.sys.index.Identifiers(ctx, c.id, ns)
	if err != nil {
		return nil, err
	}
	return toLocators(addrs)
}

// remove deletes the construct and its owned children inside a write.
func (c *construct) remove(ctx context.Context, op string) error {
	return c.tm.write(ctx, op, func(ctx context.Context) error {
		rec, err := c.load(ctx)
		if err != nil {
			return err
		}
		n, err := c.tm.removeRecord(ctx, rec)
		c.tm.sys.tel.removed(ctx, n)
		return err
	})
}

// removeRecord deletes rec after its owned children, clearing reification
// links in both directions. Referenced constructs are left alone. It returns
// the number of records deleted.
func (tm *TopicMap) removeRecord(ctx context.Context, rec *store.Record) (int, error) {
	s := tm.sys.store
	removed := 0

	children, err := s.Filter(ctx, store.Predicate{TopicMap: tm.id, Parent: rec.ID})
	if err != nil {
		return removed, err
	}
	for _, child := range children {
		n, err := tm.removeRecord(ctx, child)
		removed += n
		if err != nil {
			return removed, err
		}
	}

	if rec.Reifier != "" {
		if err := tm.clearLink(ctx, rec.Reifier, func(r *store.Record) { r.Reified, r.ReifiedKind = "", "" }); err != nil {
			return removed, err
		}
	}
	if rec.Reified != "" {
		if err := tm.clearLink(ctx, rec.Reified, func(r *store.Record) { r.Reifier = "" }); err != nil {
			return removed, err
		}
	}

	if err := s.Delete(ctx, rec.ID); err != nil {
		return removed, err
	}
	return removed + 1, nil
}

func (tm *TopicMap) clearLink(ctx context.Context, id string, clear func(*store.Record)) error {
	other, err := tm.sys.store.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	clear(other)
	return tm.sys.store.Update(ctx, other)
}

// wrap returns a handle for rec.
func (tm *TopicMap) wrap(rec *store.Record) Construct {
	switch rec.Kind {
	case store.KindTopicMap:
		return tm
	case store.KindTopic:
		return newTopic(tm, rec.ID)
	case store.KindAssociation:
		return newAssociation(tm, rec.ID)
	case store.KindRole:
		return newRole(tm, rec.ID)
	case store.KindName:
		return newName(tm, rec.ID)
	case store.KindOccurrence:
		return newOccurrence(tm, rec.ID)
	case store.KindVariant:
		return newVariant(tm, rec.ID)
	}
	return nil
}

// checkTopic reports a constraint violation when t is nil or belongs to
// another topic map.
func (tm *TopicMap) checkTopic(op, what string, t *Topic) error {
	if t == nil {
		return constraintError(op, "%s must not be nil", what)
	}
	if t.tm.id != tm.id {
		return constraintError(op, "%s %s belongs to another topic map", what, t.id)
	}
	return nil
}

// checkScope validates themes and returns their IDs with duplicates removed.
func (tm *TopicMap) checkScope(op string, themes []*Topic) ([]string, error) {
	ids := make([]string, 0, len(themes))
	for _, theme := range themes {
		if err := tm.checkTopic(op, "theme", theme); err != nil {
			return nil, err
		}
		if !slices.Contains(ids, theme.id) {
			ids = append(ids, theme.id)
		}
	}
	return ids, nil
}

// exist verifies inside a write that the referenced topics were not removed
// in the meantime.
func (tm *TopicMap) exist(ctx context.Context, ids ...string) error {
	for _, id := range ids {
		if _, err := tm.sys.store.Get(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

func (tm *TopicMap) topics(ids []string) []*Topic {
	out := make([]*Topic, len(ids))
	for i, id := range ids {
		out[i] = newTopic(tm, id)
	}
	return out
}

// topicRef returns a handle for a topic that may live in another topic map.
func (tm *TopicMap) topicRef(ctx context.Context, id string) (*Topic, error) {
	if id == "" {
		return nil, nil
	}
	rec, err := tm.sys.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.TopicMap == tm.id {
		return newTopic(tm, id), nil
	}
	other, err := tm.sys.topicMapByID(ctx, rec.TopicMap)
	if err != nil {
		return nil, err
	}
	return newTopic(other, id), nil
}

func toLocators(addrs []string) ([]locator.Locator, error) {
	locs := make([]locator.Locator, 0, len(addrs))
	for _, addr := range addrs {
		loc, err := locator.New(addr)
		if err != nil {
			return nil, err
		}
		locs = append(locs, loc)
	}
	return locs, nil
}

// literal converts a name, occurrence or variant value to its stored form.
// Without an explicit datatype, locator values are xsd:anyURI and strings
// xsd:string.
func literal(op string, value any, datatype locator.Locator) (string, string, error) {
	var v, dt string
	switch val := value.(type) {
	case string:
		v, dt = val, locator.XSDString
	case locator.Locator:
		if val.IsZero() {
			return "", "", constraintError(op, "value must not be null")
		}
		v, dt = val.Reference(), locator.XSDAnyURI
	case nil:
		return "", "", constraintError(op, "value must not be nil")
	default:
		return "", "", constraintError(op, "unsupported value type %T", value)
	}
	if !datatype.IsZero() {
		dt = datatype.Reference()
	}
	return v, dt, nil
}
