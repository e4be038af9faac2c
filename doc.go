// Package tmapi implements the Topic Maps data model (ISO 13250, TMAPI 2.0).
//
// A topic map is a graph of topics, associations, roles, names, occurrences
// and variants. Topics are addressed by subject identifiers, subject
// locators and item identifiers; whenever two topics turn out to share an
// identifier they are merged, so a topic map never holds two topics for the
// same subject.
//
// # Getting Started
//
// Create a System, then a topic map inside it:
//
//	sys, err := tmapi.NewSystem()
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer sys.Close()
//
//	tm, err := sys.CreateTopicMap(ctx, locator.MustNew("http://example.org/tm/"))
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	puccini, err := tm.CreateTopicBySubjectIdentifier(ctx, locator.MustNew("http://example.org/puccini"))
//	name, err := puccini.CreateName(ctx, "Giacomo Puccini", nil)
//
// # Constructs and Capabilities
//
// Every construct implements Construct. Depending on its kind it also
// implements some of:
//
//   - Typed: associations, roles, names and occurrences have one type topic
//   - Scoped: associations, names, occurrences and variants have a scope
//   - Reifiable: every construct except topics can be reified by a topic
//
// Handles are lightweight: they hold the owning TopicMap and the construct
// ID, and read their state from the store on every call. A handle whose
// construct was removed, or whose topic was merged into another, returns
// errors matching ErrConstructRemoved.
//
// # Storage and Concurrency
//
// State lives in a store.Store. The default keeps it in memory; the
// store/redisstore and store/sqlitestore packages persist it, and the config
// package builds a System from a YAML file.
//
// Writes to a topic map are serialised by an identity.Locker. Within one
// process the default lock is enough. Processes sharing a Redis or SQLite
// store should use identity.EtcdLocker. Reads are not locked.
//
// # Errors
//
// Errors are *Error values that wrap one of the sentinel errors:
// ErrModelConstraint, ErrIdentityConstraint, ErrUnsupportedQuery,
// ErrTopicInUse, ErrTopicMapExists and ErrConstructRemoved. Failures of the
// store are passed through with Kind KindStorage. Lookups that find nothing
// return nil without an error.
//
// # Observability
//
// WithLogger, WithTracer and WithMeter plug in log/slog and OpenTelemetry.
// Every write opens a span named after the operation, and the engine keeps
// counters for created, merged and removed constructs.
package tmapi
