package tmapi

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/zero-day-ai/tmapi/identity"
	"github.com/zero-day-ai/tmapi/store"
)

// Sentinel errors for topic map operations.
// These errors can be used with errors.Is() for error checking.
var (
	// ErrModelConstraint indicates that a required argument was nil or a
	// reference crossed topic map boundaries.
	ErrModelConstraint = errors.New("model constraint violated")

	// ErrIdentityConstraint indicates that an item identifier is already held
	// by a construct that cannot be merged with the requester.
	ErrIdentityConstraint = errors.New("identity constraint violated")

	// ErrUnsupportedQuery indicates a filter combination the model does not
	// support.
	ErrUnsupportedQuery = errors.New("unsupported query")

	// ErrTopicInUse indicates that a topic cannot be removed while it is
	// used as a type, player, theme or reifier.
	ErrTopicInUse = errors.New("topic in use")

	// ErrTopicMapExists indicates that a topic map with the same IRI exists.
	ErrTopicMapExists = errors.New("topic map already exists")

	// ErrConstructRemoved indicates that a handle refers to a construct that
	// was removed or merged away.
	ErrConstructRemoved = errors.New("construct removed")
)

// Error kinds categorize errors by their type.
const (
	// KindConstraint represents violations of the data model.
	KindConstraint = "constraint"

	// KindIdentity represents item identifier collisions.
	KindIdentity = "identity"

	// KindUnsupported represents unsupported queries.
	KindUnsupported = "unsupported"

	// KindNotFound represents stale construct handles.
	KindNotFound = "not_found"

	// KindStorage represents failures of the underlying store.
	KindStorage = "storage"
)

// Error is a structured error that records the operation that failed and the
// category of the failure.
//
// Error supports unwrapping, so errors.Is(err, ErrModelConstraint) works on
// any error returned by this package.
//
// Example usage:
//
//	_, err := topic.CreateOccurrence(ctx, nil, "x", locator.Locator{})
//	var tmErr *tmapi.Error
//	if errors.As(err, &tmErr) && tmErr.Kind == tmapi.KindConstraint {
//		// handle invalid input
//	}
type Error struct {
	// Op is the operation that failed (e.g., "Topic.CreateName").
	Op string

	// Kind categorizes the error (e.g., KindConstraint, KindStorage).
	Kind string

	// Err is the underlying error that caused this error.
	Err error

	// Context provides additional context about the error (optional).
	Context map[string]any
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("tmapi: %s: %s", e.Op, e.Kind)
	}
	if len(e.Context) > 0 {
		return fmt.Sprintf("tmapi: %s (%s): %v [context: %+v]", e.Op, e.Kind, e.Err, e.Context)
	}
	return fmt.Sprintf("tmapi: %s (%s): %v", e.Op, e.Kind, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches a target *Error by Kind (and Op, if the target sets one), then
// falls back to the underlying error.
func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}
	if t, ok := target.(*Error); ok {
		if t.Kind != "" && e.Kind == t.Kind {
			if t.Op == "" || e.Op == t.Op {
				return true
			}
		}
	}
	return errors.Is(e.Err, target)
}

// WithContext returns a copy of e with ctx merged into its context.
func (e *Error) WithContext(ctx map[string]any) *Error {
	newErr := *e
	newErr.Context = make(map[string]any, len(e.Context)+len(ctx))
	for k, v := range e.Context {
		newErr.Context[k] = v
	}
	for k, v := range ctx {
		newErr.Context[k] = v
	}
	return &newErr
}

func constraintError(op, format string, args ...any) *Error {
	return &Error{
		Op:   op,
		Kind: KindConstraint,
		Err:  fmt.Errorf("%w: %s", ErrModelConstraint, fmt.Sprintf(format, args...)),
	}
}

func unsupportedError(op, format string, args ...any) *Error {
	return &Error{
		Op:   op,
		Kind: KindUnsupported,
		Err:  fmt.Errorf("%w: %s", ErrUnsupportedQuery, fmt.Sprintf(format, args...)),
	}
}

// wrapError classifies err for op. Errors that already are *Error pass
// through unchanged.
func wrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	var tmErr *Error
	if errors.As(err, &tmErr) {
		return err
	}

	switch {
	case errors.Is(err, identity.ErrItemIdentifierInUse):
		return &Error{Op: op, Kind: KindIdentity, Err: fmt.Errorf("%w: %w", ErrIdentityConstraint, err)}
	case errors.Is(err, identity.ErrReificationClash), errors.Is(err, identity.ErrNotTopic):
		return &Error{Op: op, Kind: KindConstraint, Err: fmt.Errorf("%w: %w", ErrModelConstraint, err)}
	case errors.Is(err, store.ErrNotFound):
		return &Error{Op: op, Kind: KindNotFound, Err: fmt.Errorf("%w: %w", ErrConstructRemoved, err)}
	default:
		return &Error{Op: op, Kind: KindStorage, Err: err}
	}
}

// CloseWithLog closes closer and logs a failure at warning level. It is
// meant for cleanup paths where the close error cannot be returned.
// If logger is nil, slog.Default() is used.
//
//	defer tmapi.CloseWithLog(s, logger, "redis store")
func CloseWithLog(closer io.Closer, logger *slog.Logger, name string) {
	if closer == nil {
		return
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := closer.Close(); err != nil {
		logger.Warn("failed to close resource",
			"resource", name,
			"error", err)
	}
}
