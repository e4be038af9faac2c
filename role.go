package tmapi

import (
	"context"

	"github.com/zero-day-ai/tmapi/store"
)

// Role is the part a topic plays in an association.
type Role struct {
	*construct
	typed
	reifiable
}

var (
	_ Typed     = (*Role)(nil)
	_ Reifiable = (*Role)(nil)
)

func newRole(tm *TopicMap, id string) *Role {
	c := &construct{tm: tm, id: id, kind: store.KindRole}
	return &Role{construct: c, typed: typed{c}, reifiable: reifiable{c}}
}

// Parent returns the association the role belongs to.
func (r *Role) Parent(ctx context.Context) (Construct, error) {
	assoc, err := r.Association(ctx)
	if err != nil {
		return nil, err
	}
	return assoc, nil
}

// Association returns the association the role belongs to.
func (r *Role) Association(ctx context.Context) (*Association, error) {
	rec, err := r.load(ctx)
	if err != nil {
		return nil, wrapError("Role.Parent", err)
	}
	return newAssociation(r.tm, rec.Parent), nil
}

// Player returns the topic playing the role.
func (r *Role) Player(ctx context.Context) (*Topic, error) {
	rec, err := r.load(ctx)
	if err != nil {
		return nil, wrapError("Role.Player", err)
	}
	player, err := r.tm.topicRef(ctx, rec.Player)
	if err != nil {
		return nil, wrapError("Role.Player", err)
	}
	return player, nil
}

// SetPlayer replaces the player. Like CreateRole, it does not require the
// player to belong to the same topic map.
func (r *Role) SetPlayer(ctx context.Context, player *Topic) error {
	const op = "Role.SetPlayer"
	if player == nil {
		return constraintError(op, "role player must not be nil")
	}
	return r.tm.write(ctx, op, func(ctx context.Context) error {
		if err := r.tm.exist(ctx, player.id); err != nil {
			return err
		}
		rec, err := r.load(ctx)
		if err != nil {
			return err
		}
		rec.Player = player.id
		return r.tm.sys.store.Update(ctx, rec)
	})
}

// Remove deletes the role.
func (r *Role) Remove(ctx context.Context) error {
	return r.remove(ctx, "Role.Remove")
}
