package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/zero-day-ai/tmapi/store"
)

// AddSubjectIdentifier adds address as a subject identifier of topic. Topics
// already holding address as a subject or item identifier are merged into
// topic. It returns the IDs of the merged topics.
func (x *Index) AddSubjectIdentifier(ctx context.Context, topicMap, topic, address string) ([]string, error) {
	var merged []string
	err := x.Do(ctx, topicMap, func(ctx context.Context) error {
		if _, err := x.topic(ctx, topicMap, topic); err != nil {
			return err
		}
		for _, ns := range []store.Namespace{store.SubjectIdentifiers, store.ItemIdentifiers} {
			owner, err := x.Owner(ctx, topicMap, ns, address)
			if err != nil {
				return err
			}
			if owner == nil || owner.ID == topic || owner.Kind != store.KindTopic {
				continue
			}
			if err := x.Merge(ctx, topicMap, topic, owner.ID); err != nil {
				return err
			}
			merged = append(merged, owner.ID)
		}
		return x.bind(ctx, topicMap, store.SubjectIdentifiers, address, topic)
	})
	return merged, err
}

// AddSubjectLocator adds address as a subject locator of topic, merging the
// topic that already holds it.
func (x *Index) AddSubjectLocator(ctx context.Context, topicMap, topic, address string) ([]string, error) {
	var merged []string
	err := x.Do(ctx, topicMap, func(ctx context.Context) error {
		if _, err := x.topic(ctx, topicMap, topic); err != nil {
			return err
		}
		owner, err := x.Owner(ctx, topicMap, store.SubjectLocators, address)
		if err != nil {
			return err
		}
		if owner != nil && owner.ID != topic {
			if err := x.Merge(ctx, topicMap, topic, owner.ID); err != nil {
				return err
			}
			merged = append(merged, owner.ID)
		}
		return x.bind(ctx, topicMap, store.SubjectLocators, address, topic)
	})
	return merged, err
}

// AddItemIdentifier adds address as an item identifier of construct. When
// both construct and the current holder of address are topics, or construct
// is a topic and another topic holds address as a subject identifier, the
// other topic is merged into construct. Any other clash returns
// ErrItemIdentifierInUse.
func (x *Index) AddItemIdentifier(ctx context.Context, topicMap, construct, address string) ([]string, error) {
	var merged []string
	err := x.Do(ctx, topicMap, func(ctx context.Context) error {
		rec, err := x.store.Get(ctx, construct)
		if err != nil {
			return err
		}
		if rec.TopicMap != topicMap {
			return fmt.Errorf("identity: construct %s belongs to topic map %s", construct, rec.TopicMap)
		}
		isTopic := rec.Kind == store.KindTopic

		owner, err := x.Owner(ctx, topicMap, store.ItemIdentifiers, address)
		if err != nil {
			return err
		}
		if owner != nil && owner.ID != construct {
			if !isTopic || owner.Kind != store.KindTopic {
				return fmt.Errorf("%w: %s is held by %s %s", ErrItemIdentifierInUse, address, owner.Kind, owner.ID)
			}
			if err := x.Merge(ctx, topicMap, construct, owner.ID); err != nil {
				return err
			}
			merged = append(merged, owner.ID)
		}

		if isTopic {
			owner, err = x.Owner(ctx, topicMap, store.SubjectIdentifiers, address)
			if err != nil {
				return err
			}
			if owner != nil && owner.ID != construct {
				if err := x.Merge(ctx, topicMap, construct, owner.ID); err != nil {
					return err
				}
				merged = append(merged, owner.ID)
			}
		}

		err = x.bind(ctx, topicMap, store.ItemIdentifiers, address, construct)
		if errors.Is(err, store.ErrConflict) {
			return fmt.Errorf("%w: %s", ErrItemIdentifierInUse, address)
		}
		return err
	})
	return merged, err
}

// RemoveIdentifier releases address from construct in ns. Removing an
// identifier the construct does not hold is a no-op.
func (x *Index) RemoveIdentifier(ctx context.Context, topicMap, construct string, ns store.Namespace, address string) error {
	return x.Do(ctx, topicMap, func(ctx context.Context) error {
		err := x.store.Unbind(ctx, store.Binding{
			TopicMap:  topicMap,
			Namespace: ns,
			Address:   address,
			Construct: construct,
		})
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("identity: unbind %s %s: %w", ns, address, err)
		}
		return nil
	})
}

// Identifiers returns the addresses construct holds in ns, sorted.
func (x *Index) Identifiers(ctx context.Context, construct string, ns store.Namespace) ([]string, error) {
	return x.store.Bindings(ctx, construct, ns)
}
