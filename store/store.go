// Package store defines the persistence collaborator of the topic map engine.
//
// Every construct of a topic map is persisted as a Record, and every
// identifier (item identifier, subject identifier, subject locator) as a
// Binding from an address to the construct that owns it. Backends must
// enforce that a (topic map, namespace, address) triple is bound to at most
// one construct; the identity index relies on that guarantee to reject racing
// writers.
//
// Three backends ship with the module:
//
//   - memstore: in-process maps, the default
//   - redisstore: Redis via go-redis, for sharing a topic map between processes
//   - sqlitestore: SQLite with a UNIQUE index on bindings
//
// All implementations must be safe for concurrent use.
package store

import (
	"context"
	"errors"
	"fmt"
	"slices"
)

// Common errors returned by Store implementations.
var (
	// ErrNotFound is returned when a record or binding does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrExists is returned by Create when a record with the same ID exists.
	ErrExists = errors.New("store: record already exists")

	// ErrConflict is returned by Bind when the address is already bound to a
	// different construct.
	ErrConflict = errors.New("store: identifier bound to another construct")

	// ErrInvalidRecord is returned when a record is missing its ID or kind,
	// or carries a reification link its kind cannot hold.
	ErrInvalidRecord = errors.New("store: invalid record")

	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("store: closed")
)

// Kind identifies the construct kind a Record persists.
type Kind string

// Construct kinds.
const (
	KindTopicMap    Kind = "topic_map"
	KindTopic       Kind = "topic"
	KindAssociation Kind = "association"
	KindRole        Kind = "role"
	KindName        Kind = "name"
	KindOccurrence  Kind = "occurrence"
	KindVariant     Kind = "variant"
)

// Reifiable reports whether constructs of kind k can be reified.
func (k Kind) Reifiable() bool {
	switch k {
	case KindTopicMap, KindAssociation, KindRole, KindName, KindOccurrence, KindVariant:
		return true
	}
	return false
}

// Namespace identifies an identifier namespace.
type Namespace string

// Identifier namespaces.
const (
	// ItemIdentifiers are shared by all construct kinds.
	ItemIdentifiers Namespace = "ii"

	// SubjectIdentifiers belong to topics only.
	SubjectIdentifiers Namespace = "si"

	// SubjectLocators belong to topics only.
	SubjectLocators Namespace = "sl"

	// TopicMapLocators binds topic map IRIs at the system level. Bindings in
	// this namespace use an empty TopicMap.
	TopicMapLocators Namespace = "tm"
)

// Namespaces lists the construct identifier namespaces.
var Namespaces = []Namespace{ItemIdentifiers, SubjectIdentifiers, SubjectLocators}

// Record is the persisted state of a single construct. Fields that do not
// apply to a kind are left empty.
type Record struct {
	// ID is the construct identifier, unique across all topic maps.
	ID string `json:"id"`

	// Kind is the construct kind.
	Kind Kind `json:"kind"`

	// TopicMap is the ID of the owning topic map. For topic map records it is
	// the record's own ID.
	TopicMap string `json:"topic_map"`

	// Parent is the owning construct: the association of a role, the topic of
	// a name or occurrence, the name of a variant.
	Parent string `json:"parent,omitempty"`

	// Type is the type topic of associations, roles, names and occurrences.
	Type string `json:"type,omitempty"`

	// Player is the topic playing a role.
	Player string `json:"player,omitempty"`

	// Value holds name, occurrence and variant values, and the IRI of a topic map.
	Value string `json:"value,omitempty"`

	// Datatype is the datatype IRI of occurrence and variant values.
	Datatype string `json:"datatype,omitempty"`

	// Scope holds the theme topic IDs of scoped constructs.
	Scope []string `json:"scope,omitempty"`

	// Types holds the type topic IDs of a topic.
	Types []string `json:"types,omitempty"`

	// Reifier is the topic reifying this construct.
	Reifier string `json:"reifier,omitempty"`

	// Reified is the construct reified by this topic.
	Reified string `json:"reified,omitempty"`

	// ReifiedKind is the kind of Reified.
	ReifiedKind Kind `json:"reified_kind,omitempty"`

	// Title is the optional title of a topic map.
	Title string `json:"title,omitempty"`

	// BaseAddress is the optional base address of a topic map.
	BaseAddress string `json:"base_address,omitempty"`
}

// Clone returns a deep copy of r.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	c.Scope = slices.Clone(r.Scope)
	c.Types = slices.Clone(r.Types)
	return &c
}

// Validate checks the fields every record needs and that reification links
// only join a topic to a reifiable construct.
func (r *Record) Validate() error {
	if r == nil || r.ID == "" || r.Kind == "" || r.TopicMap == "" {
		return ErrInvalidRecord
	}
	if r.Reifier != "" && !r.Kind.Reifiable() {
		return fmt.Errorf("%w: %s %s cannot be reified", ErrInvalidRecord, r.Kind, r.ID)
	}
	if r.Reified != "" && (r.Kind != KindTopic || !r.ReifiedKind.Reifiable()) {
		return fmt.Errorf("%w: %s %s cannot reify a %q", ErrInvalidRecord, r.Kind, r.ID, r.ReifiedKind)
	}
	return nil
}

// References reports whether r points at the construct id through any
// non-owning reference or its parent.
func (r *Record) References(id string) bool {
	if id == "" {
		return false
	}
	return r.Parent == id || r.Type == id || r.Player == id || r.Reifier == id ||
		r.Reified == id || slices.Contains(r.Scope, id) || slices.Contains(r.Types, id)
}

// Binding binds an address in a namespace to the construct that owns it.
type Binding struct {
	TopicMap  string    `json:"topic_map"`
	Namespace Namespace `json:"namespace"`
	Address   string    `json:"address"`
	Construct string    `json:"construct"`
}

// Store persists records and identifier bindings.
type Store interface {
	// Create persists a new record. Returns ErrExists if the ID is taken.
	Create(ctx context.Context, rec *Record) error

	// Get returns a copy of the record. Returns ErrNotFound if absent.
	Get(ctx context.Context, id string) (*Record, error)

	// Update replaces an existing record. Returns ErrNotFound if absent.
	Update(ctx context.Context, rec *Record) error

	// Delete removes a record together with all of its bindings.
	// Returns ErrNotFound if absent.
	Delete(ctx context.Context, id string) error

	// Filter returns copies of the records matching p in creation order.
	Filter(ctx context.Context, p Predicate) ([]*Record, error)

	// Bind binds b.Address to b.Construct. Binding an address to the
	// construct that already owns it is a no-op; binding it to any other
	// construct returns ErrConflict.
	Bind(ctx context.Context, b Binding) error

	// Unbind removes the binding if it is owned by b.Construct.
	// Returns ErrNotFound otherwise.
	Unbind(ctx context.Context, b Binding) error

	// Lookup returns the construct bound to address in the namespace.
	// Returns ErrNotFound if the address is unbound.
	Lookup(ctx context.Context, topicMap string, ns Namespace, address string) (string, error)

	// Bindings returns the addresses bound to construct in the namespace,
	// sorted lexically.
	Bindings(ctx context.Context, construct string, ns Namespace) ([]string, error)

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases the backend's resources.
	Close() error
}
