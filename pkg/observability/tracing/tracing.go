package tracing

import (
    "context"
    "io"
    "sync/atomic"

    "go.opentelemetry.io/otel"
    "go.opentelemetry.io/otel/attribute"
    "go.opentelemetry.io/otel/codes"
    "go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
    sdktrace "go.opentelemetry.io/otel/sdk/trace"
    "go.opentelemetry.io/otel/trace"
    "go.opentelemetry.io/otel/trace/noop"
)

const tracerName = "go-kvcluster"

// AttrNode is the span attribute carrying the connection id.
const AttrNode = attribute.Key("kvcluster.node")

var enabled atomic.Bool

// Setup installs a global tracer provider exporting to w (stdout when nil)
// when enable=true. It returns a shutdown function which should be deferred.
func Setup(enable bool, w io.Writer) (func(context.Context) error, error) {
    enabled.Store(enable)
    if !enable {
        return func(context.Context) error { return nil }, nil
    }
    opts := []stdouttrace.Option{stdouttrace.WithPrettyPrint()}
    if w != nil { opts = append(opts, stdouttrace.WithWriter(w)) }
    exp, err := stdouttrace.New(opts...)
    if err != nil {
        enabled.Store(false)
        return nil, err
    }
    tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
    otel.SetTracerProvider(tp)
    return func(ctx context.Context) error {
        enabled.Store(false)
        return tp.Shutdown(ctx)
    }, nil
}

// StartSpan starts a span when tracing is enabled, otherwise a no-op span.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
    if !enabled.Load() {
        return noop.NewTracerProvider().Tracer(tracerName).Start(ctx, name)
    }
    return otel.Tracer(tracerName).Start(ctx, name, trace.WithAttributes(attrs...))
}

// End records err on span, if any, and ends it.
func End(span trace.Span, err error) {
    if err != nil {
        span.RecordError(err)
        span.SetStatus(codes.Error, err.Error())
    }
    span.End()
}
