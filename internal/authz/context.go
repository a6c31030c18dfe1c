package authz

import "context"

type identityContextKey struct{}
type tenantContextKey struct{}

// ContextWithIdentity attaches the authenticated identity to the context.
func ContextWithIdentity(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, identity)
}

// IdentityFromContext extracts the authenticated identity from the context.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	if ctx == nil {
		return Identity{}, false
	}
	v, ok := ctx.Value(identityContextKey{}).(Identity)
	if !ok || v.UserID == "" {
		return Identity{}, false
	}
	return v, true
}

// ContextWithTenant stores the resolved tenant id for downstream handlers.
func ContextWithTenant(ctx context.Context, tenantID string) context.Context {
	if tenantID == "" {
		return ctx
	}
	return context.WithValue(ctx, tenantContextKey{}, tenantID)
}

// TenantFromContext returns the tenant id attached on permission grant.
func TenantFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	v, ok := ctx.Value(tenantContextKey{}).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
