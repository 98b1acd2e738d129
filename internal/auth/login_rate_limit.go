package auth

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"todo-auth/internal/observability"
)

const (
	defaultLoginRateLimitMax    = 10
	defaultLoginRateLimitWindow = time.Minute
	loginRateLimitKeyPrefix     = "login_rate_limit:"
)

// RateLimitBackend counts login attempts per key. retryAfter is only
// meaningful when allowed is false.
type RateLimitBackend interface {
	Allow(ctx context.Context, key string, now time.Time) (allowed bool, retryAfter time.Duration, err error)
}

// LoginRateLimiter throttles login attempts per client IP, independently of
// the per-account lockout.
type LoginRateLimiter struct {
	backend RateLimitBackend
	logger  *zap.Logger
	now     func() time.Time
}

func NewLoginRateLimiter(backend RateLimitBackend, logger *zap.Logger) *LoginRateLimiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LoginRateLimiter{backend: backend, logger: logger, now: time.Now}
}

func (l *LoginRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := observability.ClientIP(r)

		allowed, retryAfter, err := l.backend.Allow(r.Context(), ip, l.now().UTC())
		if err != nil {
			// Fail open. The account lockout still applies.
			l.logger.Error("login_rate_limit_failed", zap.String("ip", ip), zap.Error(err))
			sentry.CaptureException(err)
			next.ServeHTTP(w, r)
			return
		}

		if !allowed {
			l.logger.Warn("login_rate_limited", zap.String("ip", ip), zap.Duration("retry_after", retryAfter))
			w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(retryAfter)))
			writeError(w, http.StatusTooManyRequests, "too many login attempts")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func retryAfterSeconds(d time.Duration) int {
	seconds := int((d + time.Second - 1) / time.Second)
	if seconds < 1 {
		return 1
	}
	return seconds
}

func normalizeLimit(maxHits int, window time.Duration) (int, time.Duration) {
	if maxHits <= 0 {
		maxHits = defaultLoginRateLimitMax
	}
	if window <= 0 {
		window = defaultLoginRateLimitWindow
	}
	return maxHits, window
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// MemoryRateLimitBackend keeps a token bucket per key in process memory.
// maxHits attempts may burst; the bucket then refills one token per
// window/maxHits.
type MemoryRateLimitBackend struct {
	mu         sync.Mutex
	limit      rate.Limit
	burst      int
	window     time.Duration
	limiters   map[string]*limiterEntry
	maxEntries int
}

func NewMemoryRateLimitBackend(maxHits int, window time.Duration) *MemoryRateLimitBackend {
	maxHits, window = normalizeLimit(maxHits, window)

	return &MemoryRateLimitBackend{
		limit:      rate.Every(window / time.Duration(maxHits)),
		burst:      maxHits,
		window:     window,
		limiters:   make(map[string]*limiterEntry),
		maxEntries: 5000,
	}
}

func (b *MemoryRateLimitBackend) Allow(_ context.Context, key string, now time.Time) (bool, time.Duration, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	entry, ok := b.limiters[key]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(b.limit, b.burst)}
		b.limiters[key] = entry
		b.evictIdle(now)
	}
	entry.lastSeen = now

	reservation := entry.limiter.ReserveN(now, 1)
	if !reservation.OK() {
		return false, b.window, nil
	}

	delay := reservation.DelayFrom(now)
	if delay > 0 {
		reservation.CancelAt(now)
		if delay < time.Second {
			delay = time.Second
		}
		return false, delay, nil
	}

	return true, 0, nil
}

// evictIdle drops keys untouched for a full window once the map grows past
// maxEntries. An idle bucket is full again by then, so forgetting it is exact.
func (b *MemoryRateLimitBackend) evictIdle(now time.Time) {
	if len(b.limiters) <= b.maxEntries {
		return
	}

	threshold := now.Add(-b.window)
	for key, entry := range b.limiters {
		if entry.lastSeen.Before(threshold) {
			delete(b.limiters, key)
		}
	}
}

// RedisRateLimitBackend is a fixed window counter shared by every instance.
type RedisRateLimitBackend struct {
	client  redis.UniversalClient
	maxHits int64
	window  time.Duration
}

func NewRedisRateLimitBackend(client redis.UniversalClient, maxHits int, window time.Duration) *RedisRateLimitBackend {
	maxHits, window = normalizeLimit(maxHits, window)
	return &RedisRateLimitBackend{client: client, maxHits: int64(maxHits), window: window}
}

func (b *RedisRateLimitBackend) Allow(ctx context.Context, key string, _ time.Time) (bool, time.Duration, error) {
	redisKey := loginRateLimitKeyPrefix + key

	count, err := b.client.Incr(ctx, redisKey).Result()
	if err != nil {
		return false, 0, fmt.Errorf("increment login rate limit: %w", err)
	}
	if count == 1 {
		if err := b.client.Expire(ctx, redisKey, b.window).Err(); err != nil {
			return false, 0, fmt.Errorf("expire login rate limit: %w", err)
		}
	}

	if count <= b.maxHits {
		return true, 0, nil
	}

	ttl, err := b.client.PTTL(ctx, redisKey).Result()
	if err != nil {
		return false, 0, fmt.Errorf("read login rate limit ttl: %w", err)
	}
	if ttl < 0 {
		// The key lost its expiry, e.g. the EXPIRE after the first INCR failed.
		if err := b.client.Expire(ctx, redisKey, b.window).Err(); err != nil {
			return false, 0, fmt.Errorf("expire login rate limit: %w", err)
		}
		ttl = b.window
	}
	if ttl < time.Second {
		ttl = time.Second
	}

	return false, ttl, nil
}
