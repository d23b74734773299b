package shared

import (
	"context"
	"slices"

	"github.com/google/uuid"
)

// DefaultTenantID is used when a request carries no tenant claim, e.g. in
// single-tenant deployments and background jobs.
var DefaultTenantID = uuid.MustParse("00000000-0000-0000-0000-000000000001")

// Scope identifies who an operation runs on behalf of. It is carried
// explicitly in the context for the lifetime of one inbound operation.
type Scope struct {
	TenantID   uuid.UUID
	AccountIDs []string // empty means every account of the tenant
	Subject    string
	Admin      bool
}

// CanAccess reports whether the scope covers the given cloud account.
func (s Scope) CanAccess(accountID string) bool {
	if s.Admin || len(s.AccountIDs) == 0 {
		return true
	}
	return slices.Contains(s.AccountIDs, accountID)
}

type scopeKey struct{}

// WithScope returns a child context carrying the scope.
func WithScope(ctx context.Context, s Scope) context.Context {
	if s.TenantID == uuid.Nil {
		s.TenantID = DefaultTenantID
	}
	return context.WithValue(ctx, scopeKey{}, s)
}

// ScopeFromContext returns the scope stored in ctx, if any.
func ScopeFromContext(ctx context.Context) (Scope, bool) {
	s, ok := ctx.Value(scopeKey{}).(Scope)
	return s, ok
}

// TenantFromContext returns the tenant of the current scope, falling back
// to DefaultTenantID.
func TenantFromContext(ctx context.Context) uuid.UUID {
	if s, ok := ScopeFromContext(ctx); ok && s.TenantID != uuid.Nil {
		return s.TenantID
	}
	return DefaultTenantID
}
