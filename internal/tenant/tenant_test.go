package tenant

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeDirectory map[string]bool

func (d fakeDirectory) KnownTenant(id string) bool { return d[id] }

func runMiddleware(t *testing.T, enabled bool, header string) (string, string) {
	t.Helper()

	var ginID, ctxID string
	r := gin.New()
	r.Use(Middleware(enabled, "", fakeDirectory{"bank-a": true}))
	r.GET("/", func(c *gin.Context) {
		ginID = GetTenantID(c)
		ctxID = FromContext(c.Request.Context())
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if header != "" {
		req.Header.Set(DefaultHeader, header)
	}
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	return ginID, ctxID
}

func TestMiddleware_KnownTenant(t *testing.T) {
	ginID, ctxID := runMiddleware(t, true, "bank-a")
	assert.Equal(t, "bank-a", ginID)
	assert.Equal(t, "bank-a", ctxID)
}

func TestMiddleware_UnknownTenantIgnored(t *testing.T) {
	ginID, ctxID := runMiddleware(t, true, "bank-z")
	assert.Empty(t, ginID)
	assert.Empty(t, ctxID)
}

func TestMiddleware_MalformedTenantIgnored(t *testing.T) {
	ginID, _ := runMiddleware(t, true, "bank a;--")
	assert.Empty(t, ginID)
}

func TestMiddleware_DisabledIgnoresHeader(t *testing.T) {
	ginID, ctxID := runMiddleware(t, false, "bank-a")
	assert.Empty(t, ginID)
	assert.Empty(t, ctxID)
}

func TestMiddleware_CustomHeader(t *testing.T) {
	r := gin.New()
	r.Use(Middleware(true, "X-Org", fakeDirectory{"bank-a": true}))
	var got string
	r.GET("/", func(c *gin.Context) { got = GetTenantID(c) })

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Org", "bank-a")
	r.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, "bank-a", got)
}

func TestContextRoundTrip(t *testing.T) {
	ctx := WithID(context.Background(), "bank-b")
	assert.Equal(t, "bank-b", FromContext(ctx))
	assert.Empty(t, FromContext(context.Background()))
}
