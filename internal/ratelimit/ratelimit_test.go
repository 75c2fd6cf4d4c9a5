package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/trustgate/internal/metrics"
	"github.com/mbd888/trustgate/internal/tenant"
)

// fakeClock is advanced by hand.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.t = f.t.Add(d)
}

func newTestLimiter(t *testing.T, rpm, burst int) (*Limiter, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	l := newLimiter(Config{RequestsPerMinute: rpm, BurstSize: burst, CleanupInterval: time.Hour}, clock.Now)
	t.Cleanup(l.Stop)
	return l, clock
}

func TestLimiter_Burst(t *testing.T) {
	l, clock := newTestLimiter(t, 60, 5)

	for i := 0; i < 5; i++ {
		assert.True(t, l.Allow("bank-a"), "request %d within burst", i)
	}
	ok, wait := l.Reserve("bank-a")
	assert.False(t, ok)
	assert.Equal(t, time.Second, wait)

	// 60/min refills one token per second
	clock.Advance(time.Second)
	assert.True(t, l.Allow("bank-a"))
	assert.False(t, l.Allow("bank-a"))
}

func TestLimiter_RefillCappedAtBurst(t *testing.T) {
	l, clock := newTestLimiter(t, 600, 2)

	assert.True(t, l.Allow("k"))
	assert.True(t, l.Allow("k"))
	clock.Advance(time.Hour)

	assert.True(t, l.Allow("k"))
	assert.True(t, l.Allow("k"))
	assert.False(t, l.Allow("k"))
}

func TestLimiter_IndependentKeys(t *testing.T) {
	l, _ := newTestLimiter(t, 60, 3)

	for i := 0; i < 3; i++ {
		l.Allow("client-a")
	}
	assert.False(t, l.Allow("client-a"))
	assert.True(t, l.Allow("client-b"))
}

func TestLimiter_ZeroRate(t *testing.T) {
	l, _ := newTestLimiter(t, 0, 1)

	assert.True(t, l.Allow("k"))
	ok, wait := l.Reserve("k")
	assert.False(t, ok)
	assert.Equal(t, time.Minute, wait)
}

func TestLimiter_SweepDropsIdleBuckets(t *testing.T) {
	l, clock := newTestLimiter(t, 60, 1)
	l.Allow("old")
	clock.Advance(3 * time.Hour)
	l.Allow("fresh")

	l.sweep()
	assert.Equal(t, 1, l.Len())
}

func TestLimiter_StopIdempotent(t *testing.T) {
	l := New(DefaultConfig())
	l.Stop()
	assert.NotPanics(t, l.Stop)
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 600, cfg.RequestsPerMinute)
	assert.Equal(t, 50, cfg.BurstSize)
	assert.Equal(t, time.Minute, cfg.CleanupInterval)
	assert.Equal(t, 2*time.Minute, cfg.IdleTTL)
}

type directory map[string]bool

func (d directory) KnownTenant(id string) bool { return d[id] }

func newRouter(l *Limiter) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(tenant.Middleware(true, tenant.DefaultHeader, directory{"bank-a": true, "bank-b": true}))
	r.Use(l.Middleware())
	r.GET("/test", func(c *gin.Context) {
		c.String(http.StatusOK, Key(c))
	})
	return r
}

func doRequest(r *gin.Engine, tenantID string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.RemoteAddr = "203.0.113.7:4000"
	if tenantID != "" {
		req.Header.Set(tenant.DefaultHeader, tenantID)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestMiddleware_KeysByTenant(t *testing.T) {
	l, _ := newTestLimiter(t, 6, 1)
	r := newRouter(l)
	before := testutil.ToFloat64(metrics.RateLimitedTotal.WithLabelValues("tenant"))

	w := doRequest(r, "bank-a")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "tenant:bank-a", w.Body.String())

	w = doRequest(r, "bank-a")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "10", w.Header().Get("Retry-After"), "6/min refills every 10s")
	assert.Contains(t, w.Body.String(), "rate_limit_exceeded")
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.RateLimitedTotal.WithLabelValues("tenant")))

	// Same client IP, different tenant: separate bucket
	assert.Equal(t, http.StatusOK, doRequest(r, "bank-b").Code)
}

func TestMiddleware_UnknownTenantFallsBackToIP(t *testing.T) {
	l, _ := newTestLimiter(t, 60, 1)
	r := newRouter(l)

	w := doRequest(r, "bank-z")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ip:203.0.113.7", w.Body.String())

	// No tenant header shares the IP bucket
	w = doRequest(r, "")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
}
