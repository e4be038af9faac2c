package tmapi

import (
	"context"
	"slices"

	"github.com/zero-day-ai/tmapi/store"
)

// Association relates topics through roles.
type Association struct {
	*construct
	scoped
	typed
	reifiable
}

var (
	_ Scoped    = (*Association)(nil)
	_ Typed     = (*Association)(nil)
	_ Reifiable = (*Association)(nil)
)

func newAssociation(tm *TopicMap, id string) *Association {
	c := &construct{tm: tm, id: id, kind: store.KindAssociation}
	return &Association{construct: c, scoped: scoped{c}, typed: typed{c}, reifiable: reifiable{c}}
}

// Parent returns the topic map.
func (a *Association) Parent(context.Context) (Construct, error) { return a.tm, nil }

// CreateRole adds a role of type typ played by player. Both are required.
// Unlike SetType they are not checked to belong to the association's topic
// map.
func (a *Association) CreateRole(ctx context.Context, typ, player *Topic) (*Role, error) {
	const op = "Association.CreateRole"
	if typ == nil {
		return nil, constraintError(op, "role type must not be nil")
	}
	if player == nil {
		return nil, constraintError(op, "role player must not be nil")
	}

	id := a.tm.sys.newID()
	err := a.tm.write(ctx, op, func(ctx context.Context) error {
		if err := a.tm.exist(ctx, a.id, typ.id, player.id); err != nil {
			return err
		}
		return a.tm.sys.store.Create(ctx, &store.Record{
			ID:       id,
			Kind:     store.KindRole,
			TopicMap: a.tm.id,
			Parent:   a.id,
			Type:     typ.id,
			Player:   player.id,
		})
	})
	if err != nil {
		return nil, err
	}
	return newRole(a.tm, id), nil
}

// Roles returns the roles of the association, restricted to type typ
// unless typ is nil.
func (a *Association) Roles(ctx context.Context, typ *Topic) ([]*Role, error) {
	p := store.Predicate{TopicMap: a.tm.id, Kinds: []store.Kind{store.KindRole}, Parent: a.id}
	if typ != nil {
		p.Type = typ.id
	}
	recs, err := a.tm.sys.store.Filter(ctx, p)
	if err != nil {
		return nil, wrapError("Association.Roles", err)
	}
	out := make([]*Role, len(recs))
	for i, rec := range recs {
		out[i] = newRole(a.tm, rec.ID)
	}
	return out, nil
}

// RoleTypes returns the distinct types of the association's roles.
func (a *Association) RoleTypes(ctx context.Context) ([]*Topic, error) {
	const op = "Association.RoleTypes"
	recs, err := a.tm.sys.store.Filter(ctx, store.Predicate{
		TopicMap: a.tm.id,
		Kinds:    []store.Kind{store.KindRole},
		Parent:   a.id,
	})
	if err != nil {
		return nil, wrapError(op, err)
	}
	var seen []string
	var out []*Topic
	for _, rec := range recs {
		if slices.Contains(seen, rec.Type) {
			continue
		}
		seen = append(seen, rec.Type)
		typ, err := a.tm.topicRef(ctx, rec.Type)
		if err != nil {
			return nil, wrapError(op, err)
		}
		out = append(out, typ)
	}
	return out, nil
}

// Remove deletes the association and its roles.
func (a *Association) Remove(ctx context.Context) error {
	return a.remove(ctx, "Association.Remove")
}
