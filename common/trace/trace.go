// Package trace provides run ID generation and context propagation so every
// log line emitted during one invocation can be correlated, and so history
// entries written by the same invocation share a key.
package trace

import (
	"context"

	"github.com/google/uuid"
)

// traceKey is the unexported context key used to store the run ID.
type traceKey struct{}

// GenerateID returns a new run ID.
func GenerateID() string {
	return "r_" + uuid.NewString()
}

// WithTraceID returns a child context carrying the given run ID.
func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceKey{}, id)
}

// FromContext extracts the run ID from ctx, returning "" if absent.
func FromContext(ctx context.Context) string {
	if v, ok := ctx.Value(traceKey{}).(string); ok {
		return v
	}
	return ""
}

// Ensure returns ctx unchanged when it already carries a run ID, otherwise a
// child context with a freshly generated one.
func Ensure(ctx context.Context) (context.Context, string) {
	if id := FromContext(ctx); id != "" {
		return ctx, id
	}
	id := GenerateID()
	return WithTraceID(ctx, id), id
}
