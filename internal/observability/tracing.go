// Package observability provides tracing and metrics hooks for TAP requests.
package observability

import (
	"context"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// TracerName is the instrumentation scope used for TAP client spans.
const TracerName = "tapkit"

// Attribute keys set on request spans.
const (
	AttrContext = "tap.context"
	AttrJobID   = "tap.job_id"
	AttrPhase   = "tap.phase"
)

// Tracer wraps an OpenTelemetry tracer with TAP-specific span helpers.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer creates a Tracer from the given provider, falling back to the
// global provider when tp is nil.
func NewTracer(tp trace.TracerProvider) *Tracer {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &Tracer{tracer: tp.Tracer(TracerName)}
}

// NewNoopTracer creates a tracer that records nothing.
func NewNoopTracer() *Tracer {
	return &Tracer{tracer: tracenoop.NewTracerProvider().Tracer(TracerName)}
}

// StartRequest starts a client span for one TAP HTTP call.
func (t *Tracer) StartRequest(ctx context.Context, method, url, contextName string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "tap.request",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.method", method),
			attribute.String("http.url", url),
			attribute.String(AttrContext, contextName),
		))
}

// StartPoll starts a span covering one status poll of an async job.
func (t *Tracer) StartPoll(ctx context.Context, jobID string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "tap.job.poll", trace.WithAttributes(attribute.String(AttrJobID, jobID)))
}

// SetHTTPStatus records the response status on the span. Statuses other than
// 2xx and 3xx mark the span as failed.
func SetHTTPStatus(span trace.Span, statusCode int) {
	span.SetAttributes(attribute.Int("http.status_code", statusCode))
	if statusCode >= 400 {
		span.SetStatus(codes.Error, http.StatusText(statusCode))
	}
}

// SetPhase records the observed job phase on the span.
func SetPhase(span trace.Span, phase string) {
	span.SetAttributes(attribute.String(AttrPhase, phase))
}

// RecordError marks the span as failed with err.
func RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
