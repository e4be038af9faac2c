package identity

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/zero-day-ai/tmapi/store"
)

// Merge merges loser into survivor. Identifiers and types are unioned, every
// reference to loser is repointed to survivor, the construct reified by loser
// is transferred and loser is deleted. Merge fails with ErrReificationClash
// when both topics reify different constructs.
//
// Merge is all or nothing: when a store call fails part way, the changes
// already made are undone before the error is returned.
func (x *Index) Merge(ctx context.Context, topicMap, survivor, loser string) error {
	if survivor == loser {
		return nil
	}
	return x.Do(ctx, topicMap, func(ctx context.Context) error {
		s, err := x.topic(ctx, topicMap, survivor)
		if err != nil {
			return err
		}
		l, err := x.topic(ctx, topicMap, loser)
		if err != nil {
			return err
		}
		if s.Reified != "" && l.Reified != "" && s.Reified != l.Reified {
			return fmt.Errorf("%w: %s reifies %s, %s reifies %s",
				ErrReificationClash, survivor, s.Reified, loser, l.Reified)
		}

		refs, err := x.store.Filter(ctx, store.Predicate{TopicMap: topicMap, References: loser})
		if err != nil {
			return err
		}
		var moved []store.Binding
		for _, ns := range store.Namespaces {
			addrs, err := x.store.Bindings(ctx, loser, ns)
			if err != nil {
				return err
			}
			for _, addr := range addrs {
				moved = append(moved, store.Binding{TopicMap: topicMap, Namespace: ns, Address: addr, Construct: loser})
			}
		}

		var undo undoLog
		if err := x.applyMerge(ctx, &undo, s, l, refs, moved); err != nil {
			undo.rollback(context.WithoutCancel(ctx), x.logger)
			return err
		}
		x.logger.Info("topics merged", "topic_map", topicMap, "survivor", survivor, "merged", loser)
		return nil
	})
}

// applyMerge performs the writes of a merge, recording the inverse of each
// successful write in undo.
func (x *Index) applyMerge(ctx context.Context, undo *undoLog, s, l *store.Record, refs []*store.Record, moved []store.Binding) error {
	survivor, loser := s.ID, l.ID

	for _, rec := range refs {
		if rec.ID == loser || rec.ID == survivor {
			continue
		}
		orig := rec.Clone()
		repoint(rec, loser, survivor)
		if err := x.store.Update(ctx, rec); err != nil {
			return fmt.Errorf("identity: repoint %s %s: %w", rec.Kind, rec.ID, err)
		}
		undo.push(func(ctx context.Context) error { return x.store.Update(ctx, orig) })
	}

	orig := s.Clone()
	for _, t := range l.Types {
		if t == loser {
			t = survivor
		}
		if !slices.Contains(s.Types, t) {
			s.Types = append(s.Types, t)
		}
	}
	repoint(s, loser, survivor)
	if s.Reified == "" && l.Reified != "" {
		s.Reified, s.ReifiedKind = l.Reified, l.ReifiedKind
	}
	if err := x.store.Update(ctx, s); err != nil {
		return fmt.Errorf("identity: update survivor %s: %w", survivor, err)
	}
	undo.push(func(ctx context.Context) error { return x.store.Update(ctx, orig) })

	for _, b := range moved {
		if err := x.store.Unbind(ctx, b); err != nil {
			return fmt.Errorf("identity: release %s %s: %w", b.Namespace, b.Address, err)
		}
		undo.push(func(ctx context.Context) error { return x.store.Bind(ctx, b) })

		to := b
		to.Construct = survivor
		if err := x.store.Bind(ctx, to); err != nil {
			return fmt.Errorf("identity: transfer %s %s: %w", b.Namespace, b.Address, err)
		}
		undo.push(func(ctx context.Context) error { return x.store.Unbind(ctx, to) })
	}

	if err := x.store.Delete(ctx, loser); err != nil {
		return fmt.Errorf("identity: delete merged topic %s: %w", loser, err)
	}
	return nil
}

// undoLog collects compensating writes, applied in reverse order.
type undoLog struct {
	steps []func(ctx context.Context) error
}

func (u *undoLog) push(step func(ctx context.Context) error) {
	u.steps = append(u.steps, step)
}

func (u *undoLog) rollback(ctx context.Context, logger *slog.Logger) {
	for i := len(u.steps) - 1; i >= 0; i-- {
		if err := u.steps[i](ctx); err != nil {
			logger.Error("merge rollback step failed", "step", i, "error", err)
		}
	}
}

// repoint replaces every reference to from in rec with to. Scope and type
// sets stay free of duplicates.
func repoint(rec *store.Record, from, to string) {
	swap := func(ref *string) {
		if *ref == from {
			*ref = to
		}
	}
	swap(&rec.Parent)
	swap(&rec.Type)
	swap(&rec.Player)
	swap(&rec.Reifier)
	swap(&rec.Reified)
	rec.Scope = replaceInSet(rec.Scope, from, to)
	rec.Types = replaceInSet(rec.Types, from, to)
}

func replaceInSet(set []string, from, to string) []string {
	i := slices.Index(set, from)
	if i < 0 {
		return set
	}
	if slices.Contains(set, to) {
		return slices.Delete(set, i, i+1)
	}
	set[i] = to
	return set
}
