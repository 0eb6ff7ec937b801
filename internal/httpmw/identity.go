package httpmw

import "context"

type userIDKey struct{}

// WithUserID stores the authenticated user id. Empty ids leave ctx unchanged
// so downstream code sees an anonymous request.
func WithUserID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, userIDKey{}, id)
}

// UserIDFromContext returns the authenticated user id, or "" for anonymous requests
func UserIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(userIDKey{}).(string)
	return id
}
