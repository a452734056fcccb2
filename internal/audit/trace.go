package audit

import (
	"context"

	"github.com/google/uuid"
)

type traceKey struct{}

// NewTraceID generates the identifier that correlates every event of one
// citizen query.
func NewTraceID() string {
	return "tr_" + uuid.New().String()[:12]
}

// WithTraceID returns a context carrying traceID.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceKey{}, traceID)
}

// TraceIDFromContext returns the trace ID stored in ctx, or "".
func TraceIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(traceKey{}).(string)
	return id
}
