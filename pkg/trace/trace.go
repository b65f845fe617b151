// Package trace implements the W3C trace-context carrier: generation and
// validation of trace and span identifiers, traceparent interop, and an
// ambient context primitive so every artifact produced by one evaluation
// carries the same trace-id.
package trace

import (
	"context"
	"crypto/rand"
	"fmt"
	"strings"

	oteltrace "go.opentelemetry.io/otel/trace"
)

// Context is an immutable W3C trace context: a 32-hex trace-id, a 16-hex
// span-id, and their traceparent concatenation.
type Context struct {
	TraceID     string
	SpanID      string
	Traceparent string
}

// NewTraceID generates a cryptographically random, non-zero 32-hex trace-id.
func NewTraceID() string {
	var b [16]byte
	for {
		_, _ = rand.Read(b[:])
		id := oteltrace.TraceID(b)
		if id.IsValid() {
			return id.String()
		}
	}
}

// NewSpanID generates a cryptographically random, non-zero 16-hex span-id.
func NewSpanID() string {
	var b [8]byte
	for {
		_, _ = rand.Read(b[:])
		id := oteltrace.SpanID(b)
		if id.IsValid() {
			return id.String()
		}
	}
}

// ValidTraceID reports whether s is strict lower-hex, 32 chars, non-zero.
func ValidTraceID(s string) bool {
	_, err := oteltrace.TraceIDFromHex(s)
	return err == nil
}

// ValidSpanID reports whether s is strict lower-hex, 16 chars, non-zero.
func ValidSpanID(s string) bool {
	_, err := oteltrace.SpanIDFromHex(s)
	return err == nil
}

// New constructs a trace context from the given trace-id. An invalid or
// all-zero trace-id causes regeneration, never rejection.
func New(traceID string) Context {
	if !ValidTraceID(traceID) {
		traceID = NewTraceID()
	}
	spanID := NewSpanID()
	return Context{
		TraceID:     traceID,
		SpanID:      spanID,
		Traceparent: Traceparent(traceID, spanID),
	}
}

// Traceparent renders the W3C header form "00-{trace}-{span}-01". The
// sampled flag is always emitted.
func Traceparent(traceID, spanID string) string {
	return fmt.Sprintf("00-%s-%s-01", traceID, spanID)
}

// ParseTraceparent parses a foreign traceparent header. It returns false
// for any version other than 00, malformed hex, or all-zero components,
// so callers can decide whether to regenerate.
func ParseTraceparent(header string) (Context, bool) {
	parts := strings.Split(strings.TrimSpace(header), "-")
	if len(parts) != 4 {
		return Context{}, false
	}
	if parts[0] != "00" {
		return Context{}, false
	}
	if !ValidTraceID(parts[1]) || !ValidSpanID(parts[2]) {
		return Context{}, false
	}
	if len(parts[3]) != 2 || !isLowerHex(parts[3]) {
		return Context{}, false
	}
	return Context{
		TraceID:     parts[1],
		SpanID:      parts[2],
		Traceparent: Traceparent(parts[1], parts[2]),
	}, true
}

func isLowerHex(s string) bool {
	for _, r := range s {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return false
		}
	}
	return true
}

// SpanContext converts the carrier into an OpenTelemetry SpanContext with
// the sampled flag set.
func (c Context) SpanContext() oteltrace.SpanContext {
	tid, _ := oteltrace.TraceIDFromHex(c.TraceID)
	sid, _ := oteltrace.SpanIDFromHex(c.SpanID)
	return oteltrace.NewSpanContext(oteltrace.SpanContextConfig{
		TraceID:    tid,
		SpanID:     sid,
		TraceFlags: oteltrace.FlagsSampled,
		Remote:     true,
	})
}

// WithContext binds the trace context into ctx. Any subtask launched with
// the returned context observes the same trace-id.
func WithContext(ctx context.Context, c Context) context.Context {
	return oteltrace.ContextWithSpanContext(ctx, c.SpanContext())
}

// FromContext recovers the ambient trace context, if any.
func FromContext(ctx context.Context) (Context, bool) {
	sc := oteltrace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return Context{}, false
	}
	traceID := sc.TraceID().String()
	spanID := sc.SpanID().String()
	return Context{
		TraceID:     traceID,
		SpanID:      spanID,
		Traceparent: Traceparent(traceID, spanID),
	}, true
}
