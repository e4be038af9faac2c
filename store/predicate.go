package store

import "slices"

// Predicate selects records. Zero-valued fields match any record.
type Predicate struct {
	// TopicMap restricts results to one topic map.
	TopicMap string

	// Kinds restricts results to the listed kinds.
	Kinds []Kind

	// Parent matches the record's parent.
	Parent string

	// Type matches the record's type.
	Type string

	// Player matches a role's player.
	Player string

	// Theme matches records whose scope contains the theme.
	Theme string

	// InstanceOf matches topics having this type.
	InstanceOf string

	// References matches records referring to the construct in any way.
	References string
}

// Match reports whether rec satisfies p.
func (p Predicate) Match(rec *Record) bool {
	switch {
	case rec == nil:
		return false
	case p.TopicMap != "" && rec.TopicMap != p.TopicMap:
		return false
	case len(p.Kinds) > 0 && !slices.Contains(p.Kinds, rec.Kind):
		return false
	case p.Parent != "" && rec.Parent != p.Parent:
		return false
	case p.Type != "" && rec.Type != p.Type:
		return false
	case p.Player != "" && rec.Player != p.Player:
		return false
	case p.Theme != "" && !slices.Contains(rec.Scope, p.Theme):
		return false
	case p.InstanceOf != "" && !slices.Contains(rec.Types, p.InstanceOf):
		return false
	case p.References != "" && !rec.References(p.References):
		return false
	}
	return true
}

// OfKind is a convenience constructor for a predicate selecting the given
// kinds in one topic map.
func OfKind(topicMap string, kinds ...Kind) Predicate {
	return Predicate{TopicMap: topicMap, Kinds: kinds}
}
