package flow

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/joeycumines/actionflow/internal/world"
)

const instrumentationName = "github.com/joeycumines/actionflow/internal/flow"

// telemetry records protocol counters and async drive spans against the
// global OpenTelemetry providers. Configure them with otel.SetMeterProvider and
// otel.SetTracerProvider before constructing the engine; the defaults are
// no-ops.
type telemetry struct {
	tracer  trace.Tracer
	steps   metric.Int64Counter
	entries metric.Int64Counter
}

func newTelemetry() *telemetry {
	meter := otel.Meter(instrumentationName)
	t := &telemetry{tracer: otel.Tracer(instrumentationName)}
	// instrument creation only fails on invalid names
	t.steps, _ = meter.Int64Counter("flow.steps",
		metric.WithDescription("Protocol steps dispatched, by phase and payload type."))
	t.entries, _ = meter.Int64Counter("flow.async.entries",
		metric.WithDescription("Async actions driven, by outcome."))
	return t
}

func (t *telemetry) record(tr Trace) {
	if t.steps == nil {
		return
	}
	t.steps.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("phase", tr.Phase.String()),
		attribute.String("payload", fmt.Sprintf("%T", tr.Payload)),
	))
}

// startEntry starts a span for one async entry. The returned func ends it.
func (t *telemetry) startEntry(ctx context.Context, drive string, node world.NodeID, action AsyncAction) (context.Context, func(error)) {
	if t == nil {
		return ctx, func(error) {}
	}
	ctx, span := t.tracer.Start(ctx, "flow.async.entry", trace.WithAttributes(
		attribute.String("flow.drive", drive),
		attribute.Int64("flow.node", int64(node)),
		attribute.String("flow.action", fmt.Sprintf("%T", action)),
	))
	return ctx, func(err error) {
		outcome := "ok"
		if err != nil {
			outcome = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		if t.entries != nil {
			t.entries.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
		}
		span.End()
	}
}
