package middleware

import "context"

// principal is the authenticated caller as established by Auth.
type principal struct {
	userID string
	role   string
}

type principalKey struct{}

func principalFrom(ctx context.Context) principal {
	if ctx == nil {
		return principal{}
	}
	p, _ := ctx.Value(principalKey{}).(principal)
	return p
}

func withPrincipal(ctx context.Context, p principal) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, principalKey{}, p)
}

// UserIDFromContext returns the caller's user id, or "" for anonymous requests.
func UserIDFromContext(ctx context.Context) string { return principalFrom(ctx).userID }

// RoleFromContext returns the caller's role, or "" for anonymous requests.
func RoleFromContext(ctx context.Context) string { return principalFrom(ctx).role }

func WithUserID(ctx context.Context, userID string) context.Context {
	p := principalFrom(ctx)
	p.userID = userID
	return withPrincipal(ctx, p)
}

func WithRole(ctx context.Context, role string) context.Context {
	p := principalFrom(ctx)
	p.role = role
	return withPrincipal(ctx, p)
}
