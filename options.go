package tmapi

import (
	"log/slog"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/zero-day-ai/tmapi/identity"
	"github.com/zero-day-ai/tmapi/store"
)

// Option configures a System.
type Option func(*systemConfig)

// systemConfig holds configuration for a System instance.
type systemConfig struct {
	store      store.Store
	locker     identity.Locker
	logger     *slog.Logger
	tracer     trace.Tracer
	meter      metric.Meter
	maxRetries int
	newID      func() string
}

// WithStore sets the persistence backend. The System takes ownership of the
// store and closes it on Close. Defaults to an in-memory store.
func WithStore(s store.Store) Option {
	return func(c *systemConfig) {
		c.store = s
	}
}

// WithLocker sets the lock that serialises writers per topic map.
// Use an identity.EtcdLocker when several processes share one store.
func WithLocker(l identity.Locker) Option {
	return func(c *systemConfig) {
		c.locker = l
	}
}

// WithLogger sets a custom logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *systemConfig) {
		c.logger = logger
	}
}

// WithTracer sets an OpenTelemetry tracer. Every write opens a span named
// after the operation.
func WithTracer(tracer trace.Tracer) Option {
	return func(c *systemConfig) {
		c.tracer = tracer
	}
}

// WithMeter sets an OpenTelemetry meter for the engine's counters and
// write duration histogram.
func WithMeter(meter metric.Meter) Option {
	return func(c *systemConfig) {
		c.meter = meter
	}
}

// WithMaxRetries bounds how often topic creation is retried after another
// process won the race for an identifier.
func WithMaxRetries(n int) Option {
	return func(c *systemConfig) {
		c.maxRetries = n
	}
}

// WithIDGenerator replaces the UUID generator used for construct IDs and
// generated item identifiers.
func WithIDGenerator(fn func() string) Option {
	return func(c *systemConfig) {
		c.newID = fn
	}
}
