// Package tenant identifies the tenant a request belongs to and carries the
// tenant id through the request context.
package tenant

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/mbd888/trustgate/internal/validation"
)

// DefaultHeader is the request header carrying the tenant id.
const DefaultHeader = "X-Tenant-ID"

// ContextKeyTenantID is the gin context key holding the resolved tenant id.
const ContextKeyTenantID = "tenantId"

type contextKey struct{}

// Directory reports whether a tenant id is configured and active.
type Directory interface {
	KnownTenant(id string) bool
}

// WithID returns a context carrying tenantID.
func WithID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, contextKey{}, tenantID)
}

// FromContext returns the tenant id carried by ctx, or "".
func FromContext(ctx context.Context) string {
	if id, ok := ctx.Value(contextKey{}).(string); ok {
		return id
	}
	return ""
}

// Middleware reads the tenant header and, when enabled and the tenant is
// known to dir, stores the id in both the gin context and the request
// context. Unknown or malformed ids are ignored so the request falls back
// to default policies.
func Middleware(enabled bool, header string, dir Directory) gin.HandlerFunc {
	if header == "" {
		header = DefaultHeader
	}
	return func(c *gin.Context) {
		if !enabled {
			c.Next()
			return
		}

		id := strings.TrimSpace(c.GetHeader(header))
		if id != "" && len(id) <= 64 && validation.IsSafeIdentifier(id) && dir != nil && dir.KnownTenant(id) {
			c.Set(ContextKeyTenantID, id)
			c.Request = c.Request.WithContext(WithID(c.Request.Context(), id))
		}
		c.Next()
	}
}

// GetTenantID returns the tenant id resolved by Middleware, or "".
func GetTenantID(c *gin.Context) string {
	if v, ok := c.Get(ContextKeyTenantID); ok {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}
