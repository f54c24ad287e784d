package trace

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNewGeneratesDistinctIDs(t *testing.T) {
	a, b := New(), New()

	if a.TraceID == "" || a.SpanID == "" {
		t.Fatal("New() produced empty IDs")
	}
	if a.TraceID == b.TraceID {
		t.Error("two traces share a trace ID")
	}
	if len(a.TraceID) != 32 {
		t.Errorf("trace ID length = %d, want 32 hex chars", len(a.TraceID))
	}
	if len(a.SpanID) != 16 {
		t.Errorf("span ID length = %d, want 16 hex chars", len(a.SpanID))
	}
}

func TestChildKeepsTraceID(t *testing.T) {
	parent := New()
	child := parent.Child()

	if child.TraceID != parent.TraceID {
		t.Error("child should inherit trace ID")
	}
	if child.ParentSpanID != parent.SpanID {
		t.Error("child parent span should be parent's span")
	}
	if child.SpanID == parent.SpanID {
		t.Error("child should get a fresh span ID")
	}
}

func TestContextRoundTrip(t *testing.T) {
	tc := New()
	ctx := WithContext(context.Background(), tc)

	got, ok := FromContext(ctx)
	if !ok {
		t.Fatal("FromContext() not found")
	}
	if got.TraceID != tc.TraceID {
		t.Errorf("TraceID = %q, want %q", got.TraceID, tc.TraceID)
	}
}

func TestEnsureCreatesWhenMissing(t *testing.T) {
	ctx, tc := Ensure(context.Background())
	if tc.TraceID == "" {
		t.Fatal("Ensure() created empty trace")
	}

	_, again := Ensure(ctx)
	if again.TraceID != tc.TraceID {
		t.Error("Ensure() should reuse existing trace context")
	}
}

func TestMiddlewarePropagatesHeader(t *testing.T) {
	var seen Context
	handler := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = FromContext(r.Context())
	}))

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set(TraceIDHeader, "abc123")
	req.Header.Set(SpanIDHeader, "def456")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if seen.TraceID != "abc123" {
		t.Errorf("TraceID = %q, want propagated abc123", seen.TraceID)
	}
	if seen.ParentSpanID != "def456" {
		t.Errorf("ParentSpanID = %q, want def456", seen.ParentSpanID)
	}
	if rec.Header().Get(TraceIDHeader) != "abc123" {
		t.Error("response should echo the trace ID")
	}
}

func TestMiddlewareCreatesWhenAbsent(t *testing.T) {
	var seen Context
	handler := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = FromContext(r.Context())
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))

	if seen.TraceID == "" {
		t.Error("middleware should mint a trace ID when none inbound")
	}
}
