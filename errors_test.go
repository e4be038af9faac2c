package tmapi

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zero-day-ai/tmapi/identity"
	"github.com/zero-day-ai/tmapi/store"
)

// TestSentinelErrors verifies that all sentinel errors are defined correctly.
func TestSentinelErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "ErrModelConstraint", err: ErrModelConstraint, want: "model constraint violated"},
		{name: "ErrIdentityConstraint", err: ErrIdentityConstraint, want: "identity constraint violated"},
		{name: "ErrUnsupportedQuery", err: ErrUnsupportedQuery, want: "unsupported query"},
		{name: "ErrTopicInUse", err: ErrTopicInUse, want: "topic in use"},
		{name: "ErrTopicMapExists", err: ErrTopicMapExists, want: "topic map already exists"},
		{name: "ErrConstructRemoved", err: ErrConstructRemoved, want: "construct removed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NotNil(t, tt.err)
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

// TestErrorError verifies the Error() method formatting.
func TestErrorError(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "basic error",
			err:  &Error{Op: "Topic.AddType", Kind: KindConstraint, Err: ErrModelConstraint},
			want: "tmapi: Topic.AddType (constraint): model constraint violated",
		},
		{
			name: "error with context",
			err: &Error{
				Op:      "System.CreateTopicMap",
				Kind:    KindConstraint,
				Err:     ErrTopicMapExists,
				Context: map[string]any{"iri": "http://example.org/tm/"},
			},
			want: "tmapi: System.CreateTopicMap (constraint): topic map already exists [context: map[iri:http://example.org/tm/]]",
		},
		{
			name: "nil underlying error",
			err:  &Error{Op: "TopicMap.Remove", Kind: KindStorage},
			want: "tmapi: TopicMap.Remove: storage",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

// TestErrorIs verifies kind matching and delegation to the wrapped error.
func TestErrorIs(t *testing.T) {
	err := constraintError("Topic.AddType", "type must not be nil")

	assert.ErrorIs(t, err, ErrModelConstraint)
	assert.ErrorIs(t, err, &Error{Kind: KindConstraint})
	assert.ErrorIs(t, err, &Error{Op: "Topic.AddType", Kind: KindConstraint})
	assert.NotErrorIs(t, err, &Error{Op: "Topic.RemoveType", Kind: KindConstraint})
	assert.NotErrorIs(t, err, &Error{Kind: KindStorage})
	assert.NotErrorIs(t, err, ErrUnsupportedQuery)
	assert.False(t, err.Is(nil))
}

// TestErrorAs verifies errors.As through additional wrapping.
func TestErrorAs(t *testing.T) {
	wrapped := fmt.Errorf("outer: %w", unsupportedError("Topic.RolesPlayed", "nope"))

	var tmErr *Error
	require.ErrorAs(t, wrapped, &tmErr)
	assert.Equal(t, "Topic.RolesPlayed", tmErr.Op)
	assert.Equal(t, KindUnsupported, tmErr.Kind)
}

// TestErrorWithContext verifies that context is copied, not shared.
func TestErrorWithContext(t *testing.T) {
	base := &Error{Op: "Op", Kind: KindStorage, Err: errors.New("boom"), Context: map[string]any{"a": 1}}
	extended := base.WithContext(map[string]any{"b": 2})

	assert.Equal(t, map[string]any{"a": 1, "b": 2}, extended.Context)
	assert.Equal(t, map[string]any{"a": 1}, base.Context)
}

// TestWrapError verifies how lower layer errors are classified.
func TestWrapError(t *testing.T) {
	boom := errors.New("disk on fire")

	tests := []struct {
		name     string
		err      error
		wantKind string
		wantIs   []error
	}{
		{
			name:     "item identifier in use",
			err:      fmt.Errorf("%w: x", identity.ErrItemIdentifierInUse),
			wantKind: KindIdentity,
			wantIs:   []error{ErrIdentityConstraint, identity.ErrItemIdentifierInUse},
		},
		{
			name:     "reification clash",
			err:      identity.ErrReificationClash,
			wantKind: KindConstraint,
			wantIs:   []error{ErrModelConstraint, identity.ErrReificationClash},
		},
		{
			name:     "missing record",
			err:      store.ErrNotFound,
			wantKind: KindNotFound,
			wantIs:   []error{ErrConstructRemoved, store.ErrNotFound},
		},
		{
			name:     "storage failure",
			err:      boom,
			wantKind: KindStorage,
			wantIs:   []error{boom},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := wrapError("Op", tt.err)
			var tmErr *Error
			require.ErrorAs(t, err, &tmErr)
			assert.Equal(t, tt.wantKind, tmErr.Kind)
			for _, target := range tt.wantIs {
				assert.ErrorIs(t, err, target)
			}
		})
	}

	assert.NoError(t, wrapError("Op", nil))

	already := constraintError("Inner", "x")
	assert.Same(t, already, wrapError("Outer", already))
}
