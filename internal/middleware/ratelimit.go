// ratelimit.go throttles the unauthenticated auth endpoints per client IP so
// password guessing and registration floods are cut off before any bcrypt
// or database work.
package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis_rate/v10"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/opsconsole/opsconsole/internal/config"
	"github.com/opsconsole/opsconsole/internal/safego"
	"github.com/opsconsole/opsconsole/internal/telemetry"
)

const (
	visitorIdleTimeout = 10 * time.Minute
	cleanupInterval    = 5 * time.Minute
	redisKeyPrefix     = "opsconsole:ratelimit:"
)

// Quota is the outcome of a single rate limit check.
type Quota struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Limiter decides whether the client identified by key may proceed.
type Limiter interface {
	Allow(ctx context.Context, key string) (Quota, error)
	Backend() string
	Close() error
}

// NewLimiter builds the limiter selected by cfg.Backend.
func NewLimiter(cfg config.RateLimitingConfig) (Limiter, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemoryLimiter(cfg.RequestsPerMinute, cfg.Burst), nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		return NewRedisLimiter(client, cfg.RequestsPerMinute, cfg.Burst), nil
	default:
		return nil, fmt.Errorf("unknown rate limiting backend %q", cfg.Backend)
	}
}

// ---------------------------------------------------------------------------
// In-process token buckets
// ---------------------------------------------------------------------------

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// MemoryLimiter keeps one token bucket per key in process memory. Idle
// buckets are evicted in the background until Close is called.
type MemoryLimiter struct {
	limit rate.Limit
	burst int

	mu       sync.Mutex
	visitors map[string]*visitor
	now      func() time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewMemoryLimiter allows requestsPerMinute sustained with bursts of burst.
func NewMemoryLimiter(requestsPerMinute, burst int) *MemoryLimiter {
	if burst < 1 {
		burst = 1
	}
	ml := &MemoryLimiter{
		limit:    rate.Limit(float64(requestsPerMinute) / 60.0),
		burst:    burst,
		visitors: make(map[string]*visitor),
		now:      time.Now,
		stopCh:   make(chan struct{}),
	}
	safego.GoNamed("ratelimit-cleanup", ml.cleanupLoop)
	return ml
}

func (ml *MemoryLimiter) Backend() string { return "memory" }

// Allow consumes one token from key's bucket.
func (ml *MemoryLimiter) Allow(_ context.Context, key string) (Quota, error) {
	ml.mu.Lock()
	defer ml.mu.Unlock()

	now := ml.now()
	v, ok := ml.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(ml.limit, ml.burst)}
		ml.visitors[key] = v
	}
	v.lastSeen = now

	if !v.limiter.AllowN(now, 1) {
		return Quota{Allowed: false, RetryAfter: ml.retryAfter(v.limiter, now)}, nil
	}
	return Quota{Allowed: true, Remaining: int(math.Floor(v.limiter.TokensAt(now)))}, nil
}

func (ml *MemoryLimiter) retryAfter(l *rate.Limiter, now time.Time) time.Duration {
	if ml.limit <= 0 {
		return time.Minute
	}
	missing := 1 - l.TokensAt(now)
	return time.Duration(missing / float64(ml.limit) * float64(time.Second))
}

func (ml *MemoryLimiter) cleanupLoop() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			ml.evictIdle()
		case <-ml.stopCh:
			return
		}
	}
}

func (ml *MemoryLimiter) evictIdle() {
	ml.mu.Lock()
	defer ml.mu.Unlock()
	cutoff := ml.now().Add(-visitorIdleTimeout)
	for key, v := range ml.visitors {
		if v.lastSeen.Before(cutoff) {
			delete(ml.visitors, key)
		}
	}
}

// Close stops the eviction goroutine.
func (ml *MemoryLimiter) Close() error {
	ml.stopOnce.Do(func() { close(ml.stopCh) })
	return nil
}

// ---------------------------------------------------------------------------
// Redis-backed GCRA, shared across replicas
// ---------------------------------------------------------------------------

// RedisLimiter enforces the limit in Redis so every replica behind a load
// balancer draws from the same budget.
type RedisLimiter struct {
	client  *redis.Client
	limiter *redis_rate.Limiter
	limit   redis_rate.Limit
}

// NewRedisLimiter allows requestsPerMinute per key with bursts of burst.
func NewRedisLimiter(client *redis.Client, requestsPerMinute, burst int) *RedisLimiter {
	if burst < 1 {
		burst = 1
	}
	return &RedisLimiter{
		client:  client,
		limiter: redis_rate.NewLimiter(client),
		limit:   redis_rate.Limit{Rate: requestsPerMinute, Burst: burst, Period: time.Minute},
	}
}

func (rl *RedisLimiter) Backend() string { return "redis" }

// Allow consumes one token from key's shared bucket.
func (rl *RedisLimiter) Allow(ctx context.Context, key string) (Quota, error) {
	res, err := rl.limiter.Allow(ctx, redisKeyPrefix+key, rl.limit)
	if err != nil {
		return Quota{}, fmt.Errorf("redis rate limit check: %w", err)
	}
	return Quota{
		Allowed:    res.Allowed > 0,
		Remaining:  res.Remaining,
		RetryAfter: res.RetryAfter,
	}, nil
}

// Close releases the Redis connection pool.
func (rl *RedisLimiter) Close() error {
	err := rl.client.Close()
	if errors.Is(err, redis.ErrClosed) {
		return nil
	}
	return err
}

// ---------------------------------------------------------------------------
// Middleware
// ---------------------------------------------------------------------------

// RateLimitMiddleware rejects requests over the limit with 429 and a
// Retry-After header. The key is the client IP. A limiter error (Redis down)
// lets the request through and logs a warning.
func RateLimitMiddleware(limiter Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := "ip:" + c.ClientIP()

		q, err := limiter.Allow(c.Request.Context(), key)
		if err != nil {
			slog.Warn("rate limiter unavailable, allowing request", "backend", limiter.Backend(), "error", err)
			c.Next()
			return
		}

		if !q.Allowed {
			telemetry.RateLimitRejectionsTotal.WithLabelValues(limiter.Backend()).Inc()
			retry := int(math.Ceil(q.RetryAfter.Seconds()))
			if retry < 1 {
				retry = 1
			}
			c.Header("Retry-After", strconv.Itoa(retry))
			c.Header("X-RateLimit-Remaining", "0")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "Rate limit exceeded",
				"retry_after": retry,
			})
			return
		}

		c.Header("X-RateLimit-Remaining", strconv.Itoa(q.Remaining))
		c.Next()
	}
}
