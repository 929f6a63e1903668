package tenant

import "context"

// TenantContext carries the verified tenant identity through the request lifecycle.
// It is populated once at the boundary (auth middleware or task payload) and passed
// down into services that require tenant-aware behavior; the core never re-derives it.
type TenantContext struct {
	TenantID string
	UserID   string
}

type tenantContextKey struct{}

// WithTenantContext attaches the given TenantContext to the provided context and
// returns a derived context.
func WithTenantContext(ctx context.Context, tc TenantContext) context.Context {
	return context.WithValue(ctx, tenantContextKey{}, tc)
}

// FromContext attempts to retrieve a TenantContext from the given context. The second
// return value indicates whether a TenantContext was present.
func FromContext(ctx context.Context) (TenantContext, bool) {
	value := ctx.Value(tenantContextKey{})
	if value == nil {
		return TenantContext{}, false
	}

	tc, ok := value.(TenantContext)
	if !ok {
		return TenantContext{}, false
	}

	return tc, true
}
