package server

import "context"

type tenantCtxKey struct{}

func withTenant(ctx context.Context, tenant Tenant) context.Context {
	return context.WithValue(ctx, tenantCtxKey{}, tenant)
}

func currentTenant(ctx context.Context) (Tenant, bool) {
	t, ok := ctx.Value(tenantCtxKey{}).(Tenant)
	return t, ok
}

// tenantIDFromContext adapts currentTenant to the controllers' getter.
func tenantIDFromContext(ctx context.Context) (string, bool) {
	t, ok := currentTenant(ctx)
	if !ok || t.ID == "" {
		return "", false
	}
	return t.ID, true
}

// Principal is the caller as asserted by the identity proxy in front of the
// server.
type Principal struct {
	RoleSlug string
}

type principalContextKey struct{}

func withPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

func currentPrincipal(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalContextKey{}).(Principal)
	return p, ok
}

type tenantSinkKey struct{}

// withTenantSink lets an outer middleware observe the tenant an inner one
// resolves.
func withTenantSink(ctx context.Context, sink *string) context.Context {
	return context.WithValue(ctx, tenantSinkKey{}, sink)
}

func reportTenant(ctx context.Context, tenantID string) {
	if sink, ok := ctx.Value(tenantSinkKey{}).(*string); ok && sink != nil {
		*sink = tenantID
	}
}
