package auth

import (
	"context"

	"freelance-erp/internal/storage"
)

type contextKey int

const (
	tenantKey contextKey = iota
	userKey
)

// WithTenant records the document key the request operates on.
func WithTenant(ctx context.Context, tenant string) context.Context {
	return context.WithValue(ctx, tenantKey, tenant)
}

func TenantFrom(ctx context.Context) (string, bool) {
	t, ok := ctx.Value(tenantKey).(string)
	return t, ok && t != ""
}

// WithUser records the signed-in web user.
func WithUser(ctx context.Context, user storage.User) context.Context {
	return context.WithValue(ctx, userKey, user)
}

func UserFrom(ctx context.Context) (storage.User, bool) {
	u, ok := ctx.Value(userKey).(storage.User)
	return u, ok
}
