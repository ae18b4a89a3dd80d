package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ai4hf/passport/internal/audit"
	"github.com/ai4hf/passport/internal/telemetry"
)

func newTestLimiter(t *testing.T, rpm, burst int) (*MemoryLimiter, *time.Time) {
	t.Helper()
	l := NewMemoryLimiter(RateLimitConfig{RequestsPerMinute: rpm, BurstSize: burst, CleanupInterval: time.Hour})
	t.Cleanup(l.Stop)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	return l, &now
}

// ---------------------------------------------------------------------------
// MemoryLimiter
// ---------------------------------------------------------------------------

func TestMemoryLimiter_AllowsUpToBurst(t *testing.T) {
	l, _ := newTestLimiter(t, 60, 3)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		d, err := l.Allow(ctx, "k")
		require.NoError(t, err)
		assert.True(t, d.Allowed, "request %d", i+1)
		assert.Equal(t, 2-i, d.Remaining)
	}
	d, err := l.Allow(ctx, "k")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, time.Second, d.RetryAfter)
}

func TestMemoryLimiter_Refills(t *testing.T) {
	l, now := newTestLimiter(t, 60, 1)
	ctx := context.Background()

	d, _ := l.Allow(ctx, "k")
	require.True(t, d.Allowed)
	d, _ = l.Allow(ctx, "k")
	require.False(t, d.Allowed)

	*now = now.Add(time.Second)
	d, _ = l.Allow(ctx, "k")
	assert.True(t, d.Allowed)
}

func TestMemoryLimiter_KeysIndependent(t *testing.T) {
	l, _ := newTestLimiter(t, 60, 1)
	ctx := context.Background()

	d, _ := l.Allow(ctx, "a")
	require.True(t, d.Allowed)
	d, _ = l.Allow(ctx, "b")
	assert.True(t, d.Allowed)
}

func TestMemoryLimiter_EvictsIdle(t *testing.T) {
	l, now := newTestLimiter(t, 60, 1)
	_, _ = l.Allow(context.Background(), "k")

	*now = now.Add(11 * time.Minute)
	l.evictIdle(10 * time.Minute)

	l.mu.Lock()
	defer l.mu.Unlock()
	assert.Empty(t, l.buckets)
}

func TestMemoryLimiter_StopTwice(t *testing.T) {
	l := NewMemoryLimiter(RateLimitConfig{RequestsPerMinute: 1})
	l.Stop()
	l.Stop()
}

// ---------------------------------------------------------------------------
// RateLimitMiddleware
// ---------------------------------------------------------------------------

type failingLimiter struct{}

func (failingLimiter) Allow(context.Context, string) (Decision, error) {
	return Decision{}, errors.New("redis down")
}

func newRateLimitRouter(l Limiter, actorID string) *gin.Engine {
	r := gin.New()
	r.POST("/assemble", func(c *gin.Context) {
		if actorID != "" {
			c.Set(ActorKey, audit.Actor{ID: actorID})
		}
		c.Next()
	}, RateLimitMiddleware(l, 30), func(c *gin.Context) { c.Status(http.StatusOK) })
	return r
}

func post(r *gin.Engine) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/assemble", nil))
	return w
}

func TestRateLimitMiddleware_AllowedThenBlocked(t *testing.T) {
	l, _ := newTestLimiter(t, 30, 1)
	r := newRateLimitRouter(l, "P1")
	before := testutil.ToFloat64(telemetry.RateLimitRejectionsTotal)

	w := post(r)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "30", w.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))

	w = post(r)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "2", w.Header().Get("Retry-After"))
	assert.Equal(t, 1.0, testutil.ToFloat64(telemetry.RateLimitRejectionsTotal)-before)
}

func TestRateLimitMiddleware_FailsOpen(t *testing.T) {
	w := post(newRateLimitRouter(failingLimiter{}, ""))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRateLimitKey(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	c.Request.RemoteAddr = "10.1.2.3:5555"
	assert.Equal(t, "ip:10.1.2.3", rateLimitKey(c))

	c.Set(ActorKey, audit.Actor{ID: "P7"})
	assert.Equal(t, "actor:P7", rateLimitKey(c))
}
