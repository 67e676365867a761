// Package identity carries the acting user id through request contexts.
package identity

import "context"

type actorKey struct{}

// WithActor returns a context whose acting user is userID.
func WithActor(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, actorKey{}, userID)
}

// Actor returns the acting user id, or 0 when none was attached (system jobs).
func Actor(ctx context.Context) int64 {
	if id, ok := ctx.Value(actorKey{}).(int64); ok {
		return id
	}
	return 0
}
