package identity

import "errors"

var (
	// ErrItemIdentifierInUse is returned when an item identifier is already
	// owned by a construct that cannot be merged with the requester, such as
	// an association or a name.
	ErrItemIdentifierInUse = errors.New("identity: item identifier owned by another construct")

	// ErrReificationClash is returned by Merge when both topics reify
	// different constructs.
	ErrReificationClash = errors.New("identity: both topics reify a construct")

	// ErrNotTopic is returned when a topic operation is given the ID of a
	// construct that is not a topic of the topic map.
	ErrNotTopic = errors.New("identity: construct is not a topic of the topic map")

	// ErrRetriesExhausted is returned when concurrent writers kept winning
	// the race for an identifier.
	ErrRetriesExhausted = errors.New("identity: identifier contention retries exhausted")
)
