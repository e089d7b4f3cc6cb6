package types

import (
	"context"
)

// Context Keys
type contextKey string

const requestIDKey contextKey = "request_id"

// WithRequestID stores a trace/request ID in the context. One is assigned
// per delivery pass (by the dispatcher for scheduled passes, by the retry
// scheduler when a timer fires) so every downstream call carries the same
// correlation ID.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// GetRequestID retrieves the request ID from the context.
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}
