package security

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func serve(r *gin.Engine, method, origin string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, "/api/v1/sfe/verify", nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHeadersMiddleware(t *testing.T) {
	for _, hsts := range []bool{false, true} {
		r := gin.New()
		r.Use(HeadersMiddleware(hsts))
		r.GET("/api/v1/sfe/verify", func(c *gin.Context) { c.Status(http.StatusOK) })

		w := serve(r, http.MethodGet, "")
		assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
		assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
		assert.Equal(t, "no-referrer", w.Header().Get("Referrer-Policy"))
		assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
		assert.Contains(t, w.Header().Get("Content-Security-Policy"), "default-src 'none'")
		assert.Equal(t, hsts, w.Header().Get("Strict-Transport-Security") != "")
	}
}

func TestCORSMiddleware(t *testing.T) {
	tests := []struct {
		name        string
		allowed     []string
		origin      string
		wantOrigin  bool
		wantCredits bool
	}{
		{"listed origin", []string{"https://bank.example"}, "https://bank.example", true, true},
		{"unlisted origin", []string{"https://bank.example"}, "https://evil.example", false, false},
		{"wildcard", []string{"*"}, "https://anything.example", true, false},
		{"no configuration allows any", nil, "https://anything.example", true, false},
		{"no origin header", []string{"*"}, "", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := gin.New()
			r.Use(CORSMiddleware(tt.allowed, "X-Tenant-ID"))
			r.GET("/api/v1/sfe/verify", func(c *gin.Context) { c.Status(http.StatusOK) })

			w := serve(r, http.MethodGet, tt.origin)
			assert.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, tt.wantOrigin, w.Header().Get("Access-Control-Allow-Origin") == tt.origin && tt.origin != "")
			assert.Equal(t, tt.wantCredits, w.Header().Get("Access-Control-Allow-Credentials") == "true")
			assert.Contains(t, w.Header().Values("Vary"), "Origin")
		})
	}
}

func TestCORSPreflight(t *testing.T) {
	r := gin.New()
	r.Use(CORSMiddleware([]string{"*"}, "X-Tenant-ID"))
	r.POST("/api/v1/sfe/verify", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := serve(r, http.MethodOptions, "https://bank.example")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "GET, POST, OPTIONS", w.Header().Get("Access-Control-Allow-Methods"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), "X-Tenant-ID")
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), "X-API-Key")
	assert.Contains(t, w.Header().Get("Access-Control-Expose-Headers"), "X-Verification-ID")
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Credentials"))
}
