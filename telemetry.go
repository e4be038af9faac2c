package tmapi

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const instrumentationName = "github.com/zero-day-ai/tmapi"

// telemetry holds the tracer and metric instruments of a System.
type telemetry struct {
	tracer trace.Tracer

	topicsCreated     metric.Int64Counter
	topicsMerged      metric.Int64Counter
	constructsRemoved metric.Int64Counter
	writeDuration     metric.Float64Histogram
}

func newTelemetry(tracer trace.Tracer, meter metric.Meter) (*telemetry, error) {
	if tracer == nil {
		tracer = tracenoop.NewTracerProvider().Tracer(instrumentationName)
	}
	if meter == nil {
		meter = metricnoop.NewMeterProvider().Meter(instrumentationName)
	}

	t := &telemetry{tracer: tracer}
	var err error

	t.topicsCreated, err = meter.Int64Counter(
		"tmapi.topics.created",
		metric.WithDescription("Number of topics created"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("create topics counter: %w", err)
	}

	t.topicsMerged, err = meter.Int64Counter(
		"tmapi.topics.merged",
		metric.WithDescription("Number of topics merged into another topic"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("create merge counter: %w", err)
	}

	t.constructsRemoved, err = meter.Int64Counter(
		"tmapi.constructs.removed",
		metric.WithDescription("Number of constructs removed, including cascaded children"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("create removal counter: %w", err)
	}

	t.writeDuration, err = meter.Float64Histogram(
		"tmapi.write.duration",
		metric.WithDescription("Duration of write operations in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("create duration histogram: %w", err)
	}

	return t, nil
}

// start opens a span for op. The returned function ends the span, marks it
// failed when *errp is non-nil and records the write duration.
func (t *telemetry) start(ctx context.Context, op, topicMap string) (context.Context, func(errp *error)) {
	begin := time.Now()
	ctx, span := t.tracer.Start(ctx, "tmapi."+op,
		trace.WithAttributes(attribute.String("tmapi.topic_map", topicMap)))

	return ctx, func(errp *error) {
		status := "ok"
		if errp != nil && *errp != nil {
			status = "error"
			span.RecordError(*errp)
			span.SetStatus(codes.Error, (*errp).Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()

		t.writeDuration.Record(ctx, float64(time.Since(begin).Microseconds())/1000,
			metric.WithAttributes(
				attribute.String("tmapi.op", op),
				attribute.String("tmapi.status", status),
			))
	}
}

func (t *telemetry) created(ctx context.Context, n int) {
	if n > 0 {
		t.topicsCreated.Add(ctx, int64(n))
	}
}

func (t *telemetry) merged(ctx context.Context, n int) {
	if n > 0 {
		t.topicsMerged.Add(ctx, int64(n))
	}
}

func (t *telemetry) removed(ctx context.Context, n int) {
	if n > 0 {
		t.constructsRemoved.Add(ctx, int64(n))
	}
}
