package telemetry

import (
	"context"

	"github.com/vango-dev/hmr/pkg/hmr"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Default tracer name.
const defaultTracerName = "hmr"

// TracingConfig configures the OpenTelemetry interceptor.
type TracingConfig struct {
	// TracerName is the name of the tracer (default: "hmr").
	TracerName string

	// TracerProvider resolves the tracer. Default: the global provider.
	TracerProvider trace.TracerProvider

	// Filter determines which module loads to trace. Update batches are
	// always traced. If nil, every load is traced.
	Filter func(id hmr.ModuleID) bool

	// Attributes are added to every span.
	Attributes []attribute.KeyValue
}

// TracingOption configures the OpenTelemetry interceptor.
type TracingOption func(*TracingConfig)

// WithTracerName sets the tracer name.
func WithTracerName(name string) TracingOption {
	return func(c *TracingConfig) {
		c.TracerName = name
	}
}

// WithTracerProvider sets the tracer provider.
func WithTracerProvider(tp trace.TracerProvider) TracingOption {
	return func(c *TracingConfig) {
		c.TracerProvider = tp
	}
}

// WithModuleFilter sets a filter function for module loads.
func WithModuleFilter(filter func(id hmr.ModuleID) bool) TracingOption {
	return func(c *TracingConfig) {
		c.Filter = filter
	}
}

// WithAttributes adds constant attributes to every span.
func WithAttributes(attrs ...attribute.KeyValue) TracingOption {
	return func(c *TracingConfig) {
		c.Attributes = append(c.Attributes, attrs...)
	}
}

// Tracing creates spans for module loads and update batches.
type Tracing struct {
	tracer trace.Tracer
	filter func(id hmr.ModuleID) bool
	attrs  []attribute.KeyValue
}

var _ hmr.Interceptor = (*Tracing)(nil)

// NewTracing creates the tracing interceptor.
//
// The tracer uses the global OpenTelemetry tracer provider unless one is
// given. Configure it in main() before starting the runtime:
//
//	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
//	otel.SetTracerProvider(tp)
func NewTracing(opts ...TracingOption) *Tracing {
	config := TracingConfig{TracerName: defaultTracerName}
	for _, opt := range opts {
		opt(&config)
	}
	tp := config.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &Tracing{
		tracer: tp.Tracer(config.TracerName),
		filter: config.Filter,
		attrs:  config.Attributes,
	}
}

// InterceptLoad wraps a module load in a span. The body runs with the span
// in its context.
func (t *Tracing) InterceptLoad(ctx context.Context, id hmr.ModuleID, next hmr.LoadStep) error {
	if t.filter != nil && !t.filter(id) {
		return next(ctx)
	}

	attrs := append([]attribute.KeyValue{attribute.String("hmr.module", string(id))}, t.attrs...)
	ctx, span := t.tracer.Start(ctx, "hmr.load",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...),
	)
	defer span.End()

	err := next(ctx)
	setResult(span, err)
	return err
}

// InterceptUpdate wraps an update batch in a span.
func (t *Tracing) InterceptUpdate(ctx context.Context, generation uint64, next hmr.UpdateStep) (*hmr.UpdateResult, error) {
	attrs := append([]attribute.KeyValue{attribute.Int64("hmr.generation", int64(generation))}, t.attrs...)
	ctx, span := t.tracer.Start(ctx, "hmr.update",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...),
	)
	defer span.End()

	res, err := next(ctx)
	if res != nil {
		span.SetAttributes(
			attribute.String("hmr.outcome", res.Outcome.String()),
			attribute.Int("hmr.patched_count", len(res.Patched)),
		)
		if res.Reason != "" {
			span.SetAttributes(attribute.String("hmr.reload_reason", res.Reason))
		}
		if err == nil && res.Err != nil {
			span.RecordError(res.Err)
			span.SetStatus(codes.Error, res.Err.Error())
			return res, err
		}
	}
	setResult(span, err)
	return res, err
}

func setResult(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetStatus(codes.Ok, "")
}
