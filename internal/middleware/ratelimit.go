// ratelimit.go throttles passport assembly per actor (or per client IP before
// authentication) and answers 429 when the budget is spent.
package middleware

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis_rate/v10"

	"github.com/ai4hf/passport/internal/telemetry"
)

// Decision is the outcome of one rate limit check.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Limiter decides whether a key may proceed.
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

// RateLimitConfig holds the token bucket parameters.
type RateLimitConfig struct {
	RequestsPerMinute int
	BurstSize         int
	// CleanupInterval is how often idle buckets are dropped (memory limiter only).
	CleanupInterval time.Duration
}

// ---------------------------------------------------------------------------
// In-memory token bucket
// ---------------------------------------------------------------------------

type bucket struct {
	tokens     float64
	lastUpdate time.Time
}

// MemoryLimiter is a per-process token bucket. It is used when Redis is not
// configured and in tests.
type MemoryLimiter struct {
	config  RateLimitConfig
	now     func() time.Time
	mu      sync.Mutex
	buckets map[string]*bucket
	stopCh  chan struct{}
	once    sync.Once
}

// NewMemoryLimiter starts a limiter and its cleanup goroutine.
func NewMemoryLimiter(cfg RateLimitConfig) *MemoryLimiter {
	if cfg.BurstSize < 1 {
		cfg.BurstSize = 1
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = 5 * time.Minute
	}
	l := &MemoryLimiter{
		config:  cfg,
		now:     time.Now,
		buckets: make(map[string]*bucket),
		stopCh:  make(chan struct{}),
	}
	go l.cleanupLoop()
	return l
}

func (l *MemoryLimiter) cleanupLoop() {
	ticker := time.NewTicker(l.config.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.evictIdle(10 * time.Minute)
		case <-l.stopCh:
			return
		}
	}
}

func (l *MemoryLimiter) evictIdle(idle time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	for key, b := range l.buckets {
		if now.Sub(b.lastUpdate) > idle {
			delete(l.buckets, key)
		}
	}
}

// Stop ends the cleanup goroutine. It is safe to call more than once.
func (l *MemoryLimiter) Stop() {
	l.once.Do(func() { close(l.stopCh) })
}

func (l *MemoryLimiter) perSecond() float64 {
	return float64(l.config.RequestsPerMinute) / 60.0
}

// Allow spends one token for key.
func (l *MemoryLimiter) Allow(_ context.Context, key string) (Decision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: float64(l.config.BurstSize), lastUpdate: now}
		l.buckets[key] = b
	}
	b.tokens = math.Min(float64(l.config.BurstSize), b.tokens+now.Sub(b.lastUpdate).Seconds()*l.perSecond())
	b.lastUpdate = now

	if b.tokens >= 1 {
		b.tokens--
		return Decision{Allowed: true, Remaining: int(b.tokens)}, nil
	}

	retry := time.Minute
	if rate := l.perSecond(); rate > 0 {
		retry = time.Duration((1 - b.tokens) / rate * float64(time.Second))
	}
	return Decision{Allowed: false, RetryAfter: retry}, nil
}

// ---------------------------------------------------------------------------
// Redis (GCRA via redis_rate)
// ---------------------------------------------------------------------------

// RedisLimiter shares the budget across server replicas.
type RedisLimiter struct {
	limiter *redis_rate.Limiter
	limit   redis_rate.Limit
	prefix  string
}

// NewRedisLimiter wraps a redis_rate limiter.
func NewRedisLimiter(limiter *redis_rate.Limiter, cfg RateLimitConfig) *RedisLimiter {
	limit := redis_rate.PerMinute(cfg.RequestsPerMinute)
	if cfg.BurstSize > 0 {
		limit.Burst = cfg.BurstSize
	}
	return &RedisLimiter{limiter: limiter, limit: limit, prefix: "passport:ratelimit:"}
}

// Allow spends one unit of the shared budget.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	res, err := l.limiter.Allow(ctx, l.prefix+key, l.limit)
	if err != nil {
		return Decision{}, err
	}
	return Decision{
		Allowed:    res.Allowed > 0,
		Remaining:  res.Remaining,
		RetryAfter: res.RetryAfter,
	}, nil
}

// ---------------------------------------------------------------------------
// Middleware
// ---------------------------------------------------------------------------

// RateLimitMiddleware applies limiter to each request. Limiter errors fail
// open so a Redis outage does not block assembly.
func RateLimitMiddleware(limiter Limiter, requestsPerMinute int) gin.HandlerFunc {
	limitHeader := strconv.Itoa(requestsPerMinute)
	return func(c *gin.Context) {
		key := rateLimitKey(c)
		d, err := limiter.Allow(c.Request.Context(), key)
		if err != nil {
			Logger(c).Warn("rate limiter unavailable; allowing request", "key", key, "error", err)
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", limitHeader)
		c.Header("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
		if !d.Allowed {
			retry := int(math.Ceil(d.RetryAfter.Seconds()))
			if retry < 1 {
				retry = 1
			}
			telemetry.RateLimitRejectionsTotal.Inc()
			c.Header("Retry-After", strconv.Itoa(retry))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "Rate limit exceeded",
				"retry_after": retry,
			})
			return
		}
		c.Next()
	}
}

// rateLimitKey prefers the authenticated actor over the client IP.
func rateLimitKey(c *gin.Context) string {
	if a, ok := ActorFrom(c); ok && a.ID != "" {
		return "actor:" + a.ID
	}
	ip := c.ClientIP()
	if ip == "" {
		ip = c.Request.RemoteAddr
	}
	return "ip:" + ip
}
