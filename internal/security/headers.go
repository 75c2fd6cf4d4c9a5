// Package security provides security middleware for the verification API
// and outbound endpoint validation.
package security

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// ExposedHeaders are readable by browser clients on cross-origin responses.
var ExposedHeaders = []string{"X-Request-ID", "X-Verification-ID", "Retry-After"}

// HeadersMiddleware adds security headers to all responses. hsts adds
// Strict-Transport-Security and should only be set behind TLS.
func HeadersMiddleware(hsts bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")

		// JSON API only: nothing may load, frame or be framed
		h.Set("Content-Security-Policy", "default-src 'none'; connect-src 'self' ws: wss:; frame-ancestors 'none'")

		// Decisions and telemetry stats are per request
		h.Set("Cache-Control", "no-store")

		h.Set("Permissions-Policy", "geolocation=(), microphone=(), camera=()")
		if hsts {
			h.Set("Strict-Transport-Security", "max-age=63072000; includeSubDomains")
		}

		c.Next()
	}
}

// CORSMiddleware handles CORS for API endpoints. An empty origin list
// allows any origin. tenantHeader is added to the allowed request headers.
func CORSMiddleware(allowedOrigins []string, tenantHeader string) gin.HandlerFunc {
	allowHeaders := []string{"Authorization", "Content-Type", "X-API-Key", "X-Request-ID"}
	if tenantHeader != "" {
		allowHeaders = append(allowHeaders, tenantHeader)
	}
	allow := strings.Join(allowHeaders, ", ")
	expose := strings.Join(ExposedHeaders, ", ")

	origins := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		origins[o] = true
	}
	wildcard := len(allowedOrigins) == 0 || origins["*"]

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		h := c.Writer.Header()
		h.Add("Vary", "Origin")

		if origin != "" && (wildcard || origins[origin]) {
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			h.Set("Access-Control-Allow-Headers", allow)
			h.Set("Access-Control-Expose-Headers", expose)
			h.Set("Access-Control-Max-Age", "3600")
			// Credentials only for explicitly listed origins
			if !wildcard {
				h.Set("Access-Control-Allow-Credentials", "true")
			}
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
