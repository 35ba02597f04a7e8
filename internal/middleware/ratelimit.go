// ratelimit.go enforces per-caller request ceilings for the auth, search and
// write traffic classes. Callers are keyed by user id when authenticated and
// by client address otherwise; each class counts separately.
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/crm-platform/crm/internal/apierror"
	"github.com/crm-platform/crm/internal/config"
	"github.com/crm-platform/crm/internal/telemetry"
)

// RateClass is one independently counted traffic class.
type RateClass struct {
	Name   string
	Limit  int
	Window time.Duration
}

// RateClasses holds the three classes the router applies.
type RateClasses struct {
	Auth   RateClass
	Search RateClass
	Write  RateClass
}

// NewRateClasses builds the classes from configuration.
func NewRateClasses(cfg config.RateLimitingConfig) RateClasses {
	return RateClasses{
		Auth:   RateClass{Name: "auth", Limit: cfg.Auth.Requests, Window: cfg.Auth.Window},
		Search: RateClass{Name: "search", Limit: cfg.Search.Requests, Window: cfg.Search.Window},
		Write:  RateClass{Name: "write", Limit: cfg.Write.Requests, Window: cfg.Write.Window},
	}
}

// RateResult is the outcome of one limiter check.
type RateResult struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Limiter counts requests per key within a window.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (RateResult, error)
}

// NewLimiter returns the limiter selected by cfg.Backend.
func NewLimiter(cfg config.RateLimitingConfig, rdb *redis.Client) Limiter {
	if cfg.Backend == "redis" && rdb != nil {
		return NewRedisLimiter(rdb)
	}
	return NewMemoryLimiter(5 * time.Minute)
}

// MemoryLimiter is a sliding-log limiter for a single instance. It remembers
// the timestamp of every admitted request still inside the window.
type MemoryLimiter struct {
	mu      sync.Mutex
	entries map[string]*hitLog
	now     func() time.Time
	stopCh  chan struct{}
	once    sync.Once
}

// hitLog is one key's admitted requests, oldest first. window is the last
// window the key was checked with; sweep keeps the log while it can still
// affect a decision.
type hitLog struct {
	hits   []time.Time
	window time.Duration
}

// NewMemoryLimiter creates a limiter that prunes idle keys every cleanupInterval.
func NewMemoryLimiter(cleanupInterval time.Duration) *MemoryLimiter {
	ml := &MemoryLimiter{
		entries: make(map[string]*hitLog),
		now:     time.Now,
		stopCh:  make(chan struct{}),
	}
	if cleanupInterval > 0 {
		go ml.cleanup(cleanupInterval)
	}
	return ml
}

func (ml *MemoryLimiter) cleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ml.sweep()
		case <-ml.stopCh:
			return
		}
	}
}

// sweep drops keys whose newest hit has left that key's own window.
func (ml *MemoryLimiter) sweep() {
	ml.mu.Lock()
	defer ml.mu.Unlock()

	now := ml.now()
	for key, log := range ml.entries {
		if len(log.hits) == 0 || !log.hits[len(log.hits)-1].After(now.Add(-log.window)) {
			delete(ml.entries, key)
		}
	}
}

// Stop ends the cleanup goroutine.
func (ml *MemoryLimiter) Stop() {
	ml.once.Do(func() { close(ml.stopCh) })
}

// Allow admits the request when fewer than limit requests were admitted for
// key during the trailing window.
func (ml *MemoryLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) (RateResult, error) {
	ml.mu.Lock()
	defer ml.mu.Unlock()

	now := ml.now()
	cutoff := now.Add(-window)

	log, ok := ml.entries[key]
	if !ok {
		log = &hitLog{}
		ml.entries[key] = log
	}
	log.window = window

	i := 0
	for i < len(log.hits) && !log.hits[i].After(cutoff) {
		i++
	}
	log.hits = log.hits[i:]

	if len(log.hits) >= limit {
		var retry time.Duration
		if len(log.hits) > 0 {
			retry = log.hits[0].Add(window).Sub(now)
		}
		return RateResult{Allowed: false, Remaining: 0, RetryAfter: retry}, nil
	}

	log.hits = append(log.hits, now)
	return RateResult{Allowed: true, Remaining: limit - len(log.hits)}, nil
}

// slidingLogScript keeps one sorted-set member per admitted request, scored
// by its admission time in milliseconds. Members at or before now-window are
// trimmed first, so the count is exact for the trailing window.
//
// KEYS[1] key; ARGV now_ms, window_ms, limit, member.
// Returns {allowed, count, oldest_ms}.
var slidingLogScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
if count < limit then
  redis.call('ZADD', key, now, ARGV[4])
  redis.call('PEXPIRE', key, window)
  return {1, count + 1, 0}
end

local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
local oldestScore = now
if oldest[2] then
  oldestScore = tonumber(oldest[2])
end
return {0, count, oldestScore}
`)

// RedisLimiter is the same sliding log shared across instances through Redis.
type RedisLimiter struct {
	rdb    redis.Scripter
	prefix string
	now    func() time.Time
}

// NewRedisLimiter wraps a go-redis client.
func NewRedisLimiter(rdb redis.Scripter) *RedisLimiter {
	return &RedisLimiter{rdb: rdb, prefix: "crm:ratelimit:", now: time.Now}
}

// Allow admits the request when fewer than limit requests were admitted for
// key during the trailing window.
func (rl *RedisLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (RateResult, error) {
	now := rl.now().UnixMilli()
	windowMS := window.Milliseconds()
	if windowMS < 1 {
		windowMS = 1
	}

	vals, err := slidingLogScript.Run(ctx, rl.rdb, []string{rl.prefix + key},
		now, windowMS, limit, strconv.FormatInt(now, 10)+"-"+uuid.NewString(),
	).Int64Slice()
	if err != nil {
		return RateResult{}, fmt.Errorf("redis sliding window: %w", err)
	}
	if len(vals) != 3 {
		return RateResult{}, fmt.Errorf("redis sliding window: unexpected reply %v", vals)
	}

	if vals[0] == 1 {
		return RateResult{Allowed: true, Remaining: limit - int(vals[1])}, nil
	}
	return RateResult{
		Allowed:    false,
		Remaining:  0,
		RetryAfter: time.Duration(vals[2]+windowMS-now) * time.Millisecond,
	}, nil
}

// RateLimit rejects callers over the class threshold with 429. A limiter
// backend failure admits the request.
func RateLimit(limiter Limiter, class RateClass) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := class.Name + ":" + rateLimitKey(c)

		res, err := limiter.Allow(c.Request.Context(), key, class.Limit, class.Window)
		if err != nil {
			slog.Warn("rate limiter unavailable, admitting request",
				"class", class.Name,
				"error", err,
			)
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(class.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))

		if !res.Allowed {
			retry := int(math.Ceil(res.RetryAfter.Seconds()))
			if retry < 1 {
				retry = 1
			}
			c.Header("Retry-After", strconv.Itoa(retry))
			telemetry.RateLimitRejectionsTotal.WithLabelValues(class.Name).Inc()
			apierror.Respond(c, apierror.ErrRateLimited)
			return
		}

		c.Next()
	}
}

// rateLimitKey prefers the authenticated user over the client address.
func rateLimitKey(c *gin.Context) string {
	if id := c.GetString(ContextUserID); id != "" {
		return "user:" + id
	}
	ip := c.ClientIP()
	if ip == "" {
		ip = c.Request.RemoteAddr
	}
	return "ip:" + ip
}
