// Package trace provides lightweight request/session tracing.
// Each capture session gets a trace ID that follows the recording through
// transcription, generation, and persistence, so one voice note can be
// followed across goroutines in the logs.
package trace

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
)

// Header keys for HTTP propagation.
const (
	TraceIDHeader = "x-trace-id"
	SpanIDHeader  = "x-span-id"
)

type ctxKey struct{}

var traceCtxKey = ctxKey{}

// Context holds trace identifiers for one unit of work.
type Context struct {
	TraceID      string
	SpanID       string
	ParentSpanID string
}

// New creates a trace context with fresh IDs.
func New() Context {
	return Context{
		TraceID: newID(16),
		SpanID:  newID(8),
	}
}

// Child derives a new span under the same trace.
func (c Context) Child() Context {
	return Context{
		TraceID:      c.TraceID,
		SpanID:       newID(8),
		ParentSpanID: c.SpanID,
	}
}

// FromContext extracts trace context from a context.Context.
func FromContext(ctx context.Context) (Context, bool) {
	tc, ok := ctx.Value(traceCtxKey).(Context)
	return tc, ok
}

// WithContext injects trace context into a context.Context.
func WithContext(ctx context.Context, tc Context) context.Context {
	return context.WithValue(ctx, traceCtxKey, tc)
}

// Ensure returns the existing trace context or attaches a new one.
func Ensure(ctx context.Context) (context.Context, Context) {
	if tc, ok := FromContext(ctx); ok {
		return ctx, tc
	}
	tc := New()
	return WithContext(ctx, tc), tc
}

// Span derives a child trace context for a named stage and returns a logger
// already carrying the stage name and IDs.
func Span(ctx context.Context, stage string) (context.Context, *slog.Logger) {
	parent, ok := FromContext(ctx)
	tc := parent.Child()
	if !ok {
		tc = New()
	}
	ctx = WithContext(ctx, tc)
	return ctx, Logger(ctx).With("stage", stage)
}

// Logger returns a slog.Logger carrying the trace IDs in ctx.
func Logger(ctx context.Context) *slog.Logger {
	tc, ok := FromContext(ctx)
	if !ok {
		return slog.Default()
	}
	args := make([]any, 0, 6)
	args = append(args, "trace_id", tc.TraceID, "span_id", tc.SpanID)
	if tc.ParentSpanID != "" {
		args = append(args, "parent_span_id", tc.ParentSpanID)
	}
	return slog.Default().With(args...)
}

func newID(bytes int) string {
	b := make([]byte, bytes)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
