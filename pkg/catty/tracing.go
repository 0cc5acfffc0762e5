package catty

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// tracing opens one server span per dispatched request, continuing a trace
// carried in the request headers.
type tracing struct {
	tracer     trace.Tracer
	propagator propagation.TextMapPropagator
}

func newTracing(name string) *tracing {
	return &tracing{
		tracer:     otel.Tracer(name),
		propagator: propagation.TraceContext{},
	}
}

func (t *tracing) start(ctx context.Context, req *Request, route string) (context.Context, trace.Span) {
	parent := t.propagator.Extract(ctx, &headerCarrier{headers: &req.Headers})
	ctx, span := t.tracer.Start(parent, req.Method+" "+route, trace.WithSpanKind(trace.SpanKindServer))
	span.SetAttributes(
		attribute.String("http.method", req.Method),
		attribute.String("http.target", req.Path),
		attribute.String("http.route", route),
		attribute.String("http.flavor", req.Version),
		attribute.Int("http.request_content_length", len(req.Body)),
		attribute.String("net.peer.ip", req.Client.RemoteHost()),
	)
	return ctx, span
}

func (t *tracing) finish(span trace.Span, req *Request, status int, err error) {
	defer span.End()
	if id := req.RequestID(); id != "" {
		span.SetAttributes(attribute.String("http.request_id", id))
	}
	span.SetAttributes(attribute.Int("http.status_code", status))

	switch {
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	case status >= 500:
		span.SetStatus(codes.Error, statusText(status))
	default:
		span.SetStatus(codes.Ok, "")
	}
}

// headerCarrier adapts request Headers to propagation.TextMapCarrier.
// Propagators use lower-case keys, so lookups here ignore case.
type headerCarrier struct {
	headers *Headers
}

func (hc *headerCarrier) Get(key string) string {
	for _, f := range hc.headers.All() {
		if strings.EqualFold(f[0], key) {
			return f[1]
		}
	}
	return ""
}

func (hc *headerCarrier) Set(key, value string) {
	hc.headers.Set(key, value)
}

func (hc *headerCarrier) Keys() []string {
	keys := make([]string, 0, hc.headers.Len())
	for _, f := range hc.headers.All() {
		keys = append(keys, f[0])
	}
	return keys
}
