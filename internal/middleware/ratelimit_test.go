package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/opsconsole/opsconsole/internal/config"
)

// ---------------------------------------------------------------------------
// MemoryLimiter
// ---------------------------------------------------------------------------

func newFrozenLimiter(t *testing.T, rpm, burst int) (*MemoryLimiter, *time.Time) {
	t.Helper()
	ml := NewMemoryLimiter(rpm, burst)
	t.Cleanup(func() { ml.Close() })
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	ml.now = func() time.Time { return now }
	return ml, &now
}

func TestMemoryLimiter_BurstThenReject(t *testing.T) {
	ml, _ := newFrozenLimiter(t, 60, 3)
	ctx := context.Background()

	for i := range 3 {
		q, err := ml.Allow(ctx, "ip:1.2.3.4")
		if err != nil || !q.Allowed {
			t.Fatalf("request %d: Allow = %+v, %v; want allowed", i, q, err)
		}
		if q.Remaining != 2-i {
			t.Errorf("request %d: Remaining = %d, want %d", i, q.Remaining, 2-i)
		}
	}

	q, _ := ml.Allow(ctx, "ip:1.2.3.4")
	if q.Allowed {
		t.Fatal("fourth request allowed, want rejected")
	}
	if q.RetryAfter <= 0 || q.RetryAfter > time.Second {
		t.Errorf("RetryAfter = %v, want (0, 1s] at 1 req/s", q.RetryAfter)
	}
}

func TestMemoryLimiter_Refills(t *testing.T) {
	ml, now := newFrozenLimiter(t, 60, 1)
	ctx := context.Background()

	ml.Allow(ctx, "k")
	if q, _ := ml.Allow(ctx, "k"); q.Allowed {
		t.Fatal("second immediate request allowed")
	}

	*now = now.Add(time.Second)
	if q, _ := ml.Allow(ctx, "k"); !q.Allowed {
		t.Error("request after refill interval rejected")
	}
}

func TestMemoryLimiter_KeysAreIndependent(t *testing.T) {
	ml, _ := newFrozenLimiter(t, 60, 1)
	ctx := context.Background()

	ml.Allow(ctx, "ip:a")
	if q, _ := ml.Allow(ctx, "ip:b"); !q.Allowed {
		t.Error("second client throttled by first client's usage")
	}
}

func TestMemoryLimiter_EvictsIdleVisitors(t *testing.T) {
	ml, now := newFrozenLimiter(t, 60, 1)
	ml.Allow(context.Background(), "idle")

	*now = now.Add(visitorIdleTimeout + time.Minute)
	ml.evictIdle()

	ml.mu.Lock()
	defer ml.mu.Unlock()
	if len(ml.visitors) != 0 {
		t.Errorf("visitors = %d after eviction, want 0", len(ml.visitors))
	}
}

func TestMemoryLimiter_CloseIsIdempotent(t *testing.T) {
	ml := NewMemoryLimiter(10, 1)
	if err := ml.Close(); err != nil {
		t.Fatal(err)
	}
	if err := ml.Close(); err != nil {
		t.Fatal(err)
	}
}

// ---------------------------------------------------------------------------
// NewLimiter / RedisLimiter
// ---------------------------------------------------------------------------

func TestNewLimiter_Backends(t *testing.T) {
	mem, err := NewLimiter(config.RateLimitingConfig{Backend: "memory", RequestsPerMinute: 10, Burst: 5})
	if err != nil || mem.Backend() != "memory" {
		t.Fatalf("memory backend: %v, %v", mem, err)
	}
	mem.Close()

	red, err := NewLimiter(config.RateLimitingConfig{Backend: "redis", RequestsPerMinute: 10, Burst: 5,
		Redis: config.RedisConfig{Addr: "127.0.0.1:1"}})
	if err != nil || red.Backend() != "redis" {
		t.Fatalf("redis backend: %v, %v", red, err)
	}
	red.Close()

	if _, err := NewLimiter(config.RateLimitingConfig{Backend: "memcached"}); err == nil {
		t.Error("unknown backend accepted")
	}
}

func TestRedisLimiter_UnreachableReturnsError(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 200 * time.Millisecond, MaxRetries: -1})
	rl := NewRedisLimiter(client, 10, 5)
	defer rl.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := rl.Allow(ctx, "ip:1.2.3.4"); err == nil {
		t.Error("Allow against unreachable redis returned nil error")
	}
}

// ---------------------------------------------------------------------------
// RateLimitMiddleware
// ---------------------------------------------------------------------------

type scriptedLimiter struct {
	quota Quota
	err   error
}

func (s scriptedLimiter) Allow(context.Context, string) (Quota, error) { return s.quota, s.err }
func (s scriptedLimiter) Backend() string { return "scripted" }
func (s scriptedLimiter) Close() error { return nil }

func serveRateLimited(l Limiter) *httptest.ResponseRecorder {
	r := gin.New()
	r.POST("/login", RateLimitMiddleware(l), func(c *gin.Context) { c.Status(http.StatusOK) })
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/login", nil))
	return w
}

func TestRateLimitMiddleware_Allowed(t *testing.T) {
	w := serveRateLimited(scriptedLimiter{quota: Quota{Allowed: true, Remaining: 4}})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if got := w.Header().Get("X-RateLimit-Remaining"); got != "4" {
		t.Errorf("X-RateLimit-Remaining = %q, want 4", got)
	}
}

func TestRateLimitMiddleware_Rejected(t *testing.T) {
	w := serveRateLimited(scriptedLimiter{quota: Quota{Allowed: false, RetryAfter: 2500 * time.Millisecond}})
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", w.Code)
	}
	if got := w.Header().Get("Retry-After"); got != strconv.Itoa(3) {
		t.Errorf("Retry-After = %q, want 3", got)
	}
}

func TestRateLimitMiddleware_FailsOpen(t *testing.T) {
	w := serveRateLimited(scriptedLimiter{err: errors.New("redis down")})
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 when limiter errors", w.Code)
	}
}

func TestRateLimitMiddleware_MemoryEndToEnd(t *testing.T) {
	ml := NewMemoryLimiter(1, 2)
	defer ml.Close()

	r := gin.New()
	r.POST("/login", RateLimitMiddleware(ml), func(c *gin.Context) { c.Status(http.StatusOK) })

	codes := make([]int, 3)
	for i := range codes {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/login", nil))
		codes[i] = w.Code
	}
	if codes[0] != 200 || codes[1] != 200 || codes[2] != 429 {
		t.Errorf("codes = %v, want [200 200 429]", codes)
	}
}
