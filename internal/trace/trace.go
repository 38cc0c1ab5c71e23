// Package trace carries lightweight trace and span identifiers through
// context.Context so that log lines from one extraction or comparison cycle
// can be correlated.
package trace

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Header names used when propagating identifiers over HTTP.
const (
	TraceIDKey = "x-trace-id"
	SpanIDKey  = "x-span-id"
)

type ctxKey struct{}

// Context holds trace identifiers for a single span.
type Context struct {
	TraceID      string
	SpanID       string
	ParentSpanID string
}

// New creates a root context with fresh ids.
func New() Context {
	return Context{TraceID: newTraceID(), SpanID: newSpanID()}
}

// NewChild derives a context that shares parent's trace id.
func NewChild(parent Context) Context {
	if parent.TraceID == "" {
		return New()
	}
	return Context{TraceID: parent.TraceID, SpanID: newSpanID(), ParentSpanID: parent.SpanID}
}

func FromContext(ctx context.Context) (Context, bool) {
	tc, ok := ctx.Value(ctxKey{}).(Context)
	return tc, ok
}

func WithContext(ctx context.Context, tc Context) context.Context {
	return context.WithValue(ctx, ctxKey{}, tc)
}

// newTraceID returns 32 hex chars (128 bits).
func newTraceID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// newSpanID returns 16 hex chars (64 bits).
func newSpanID() string {
	return newTraceID()[:16]
}

// Span is a timed operation within a trace.
type Span struct {
	Name  string
	Ctx   Context
	start time.Time
	end   time.Time
	attrs []slog.Attr
}

// StartSpan begins a span as a child of whatever trace ctx carries.
func StartSpan(ctx context.Context, name string) (context.Context, *Span) {
	parent, _ := FromContext(ctx)
	tc := NewChild(parent)
	return WithContext(ctx, tc), &Span{Name: name, Ctx: tc, start: time.Now()}
}

func (s *Span) End() { s.end = time.Now() }

func (s *Span) SetAttr(key string, val any) {
	s.attrs = append(s.attrs, slog.Any(key, val))
}

// Duration is zero until End has been called.
func (s *Span) Duration() time.Duration {
	if s.end.IsZero() {
		return 0
	}
	return s.end.Sub(s.start)
}

// LogValue implements slog.LogValuer.
func (s *Span) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("span_name", s.Name),
		slog.String("trace_id", s.Ctx.TraceID),
		slog.String("span_id", s.Ctx.SpanID),
		slog.Duration("duration", s.Duration()),
	}
	if s.Ctx.ParentSpanID != "" {
		attrs = append(attrs, slog.String("parent_span_id", s.Ctx.ParentSpanID))
	}
	return slog.GroupValue(append(attrs, s.attrs...)...)
}

// Logger returns the default logger annotated with ctx's trace ids.
func Logger(ctx context.Context) *slog.Logger {
	tc, ok := FromContext(ctx)
	if !ok {
		return slog.Default()
	}
	args := []any{"trace_id", tc.TraceID, "span_id", tc.SpanID}
	if tc.ParentSpanID != "" {
		args = append(args, "parent_span_id", tc.ParentSpanID)
	}
	return slog.Default().With(args...)
}
