package core

import "context"

type tickIDKey struct{}

// WithTickID tags ctx with the correlation id of the tick or operator call in progress
func WithTickID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, tickIDKey{}, id)
}

// TickIDFromContext returns the id set by WithTickID, or ""
func TickIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(tickIDKey{}).(string); ok {
		return id
	}
	return ""
}
