package auth

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/trustgate/internal/tenant"
)

const (
	// ContextKeyAPIKey is the key for storing API key in gin context
	ContextKeyAPIKey = "apiKey"
	// HeaderAPIKey carries the key sent by client SDKs.
	HeaderAPIKey = "X-API-Key"
)

// Middleware extracts and validates the API key from the request and sets
// apiKey in context if valid. It never rejects; see RequireAuth.
func Middleware(m *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}
		raw := c.GetHeader(HeaderAPIKey)
		if raw == "" {
			raw = c.GetHeader("Authorization")
		}
		if raw != "" {
			if key, err := m.ValidateKey(c.Request.Context(), raw); err == nil {
				c.Set(ContextKeyAPIKey, key)
			}
		}
		c.Next()
	}
}

// RequireAuth rejects requests without a valid key once any key is
// configured. A tenant-bound key scopes the request to its tenant and is
// rejected when the request names a different one.
func RequireAuth(m *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !m.Enabled(c.Request.Context()) {
			c.Next()
			return
		}
		key, ok := GetAPIKey(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "API key required. Include 'X-API-Key: <key>' header.",
			})
			return
		}
		if key.TenantID != "" {
			if current := tenant.GetTenantID(c); current != "" && current != key.TenantID {
				c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
					"error":   "forbidden",
					"message": "API key is not valid for this tenant.",
				})
				return
			}
			c.Set(tenant.ContextKeyTenantID, key.TenantID)
			c.Request = c.Request.WithContext(tenant.WithID(c.Request.Context(), key.TenantID))
		}
		c.Next()
	}
}

// GetAPIKey returns the API key from context (if authenticated)
func GetAPIKey(c *gin.Context) (*APIKey, bool) {
	v, exists := c.Get(ContextKeyAPIKey)
	if !exists {
		return nil, false
	}
	key, ok := v.(*APIKey)
	return key, ok
}

// IsAuthenticated checks if the request is authenticated
func IsAuthenticated(c *gin.Context) bool {
	_, ok := GetAPIKey(c)
	return ok
}
