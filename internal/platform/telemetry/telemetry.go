// Package telemetry wires OpenTelemetry tracing into the core's external
// calls. cmd/guardian wires a stdouttrace exporter when tracing is
// enabled (GUARDIAN_TRACE_ENABLED); an OTLP/gRPC or OTLP/HTTP exporter
// could replace it there without any change to this package, since Init
// only depends on the TracerProvider shape.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/carewatch/guardian"

// Init installs an SDK TracerProvider and returns a shutdown func. Passing
// a nil exporter-backed provider (tp == nil) makes Tracer fall back to the
// otel global no-op provider, so telemetry is always safe to skip.
func Init(tp *sdktrace.TracerProvider) func(context.Context) error {
	if tp == nil {
		return func(context.Context) error { return nil }
	}
	otel.SetTracerProvider(tp)
	return tp.Shutdown
}

// Tracer returns the package-wide tracer. Safe to call even if Init was
// never invoked (resolves to the no-op global tracer).
func Tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}

// StartSpan starts a span named operation and returns the derived context
// plus the span so callers can set attributes / record errors and End it.
func StartSpan(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	ctx, span := Tracer().Start(ctx, operation)
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	return ctx, span
}

// RecordError records err on the span and marks its status as errored.
func RecordError(span trace.Span, err error) {
	if err == nil || span == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// Meter returns the package-wide meter. Safe to call even if no
// MeterProvider was ever installed (resolves to the otel no-op global
// meter, same as Tracer does for tracing).
func Meter() metric.Meter {
	return otel.GetMeterProvider().Meter(instrumentationName)
}

// Counters are the small set of operational counters the core emits:
// incidents created (router), actions dispatched (executor), and guard
// rejections (controller, for each action Guard.Approve rejects), so a metrics backend can alert on incident and
// admission behavior without parsing the timeline stream.
type Counters struct {
	IncidentsCreated  metric.Int64Counter
	ActionsDispatched metric.Int64Counter
	GuardRejections   metric.Int64Counter
}

// NewCounters registers the Counters instruments against Meter(). Errors
// registering an instrument are swallowed into a no-op counter rather
// than propagated — metrics must never be able to fail a cold start.
func NewCounters() Counters {
	m := Meter()
	created, _ := m.Int64Counter("guardian.incidents_created",
		metric.WithDescription("Incidents created by the Trigger Router"))
	dispatched, _ := m.Int64Counter("guardian.actions_dispatched",
		metric.WithDescription("Actions dispatched by the Action Executor, by action_type"))
	rejected, _ := m.Int64Counter("guardian.guard_rejections",
		metric.WithDescription("Actions rejected by the Safety Guard, by action_type and reason"))
	return Counters{IncidentsCreated: created, ActionsDispatched: dispatched, GuardRejections: rejected}
}
