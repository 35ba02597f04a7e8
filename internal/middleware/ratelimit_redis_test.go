package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crm-platform/crm/internal/config"
)

func newTestRedisLimiter(t *testing.T) (*RedisLimiter, *miniredis.Miniredis, *fakeClock) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	clock := &fakeClock{t: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	rl := NewRedisLimiter(rdb)
	rl.now = clock.now
	return rl, mr, clock
}

func TestRedisLimiter_SlidingWindow(t *testing.T) {
	rl, _, clock := newTestRedisLimiter(t)
	ctx := context.Background()

	for i := 1; i <= 20; i++ {
		res, err := rl.Allow(ctx, "write:user:1", 20, time.Minute)
		require.NoError(t, err)
		require.True(t, res.Allowed, "request %d", i)
		assert.Equal(t, 20-i, res.Remaining)
	}

	res, err := rl.Allow(ctx, "write:user:1", 20, time.Minute)
	require.NoError(t, err)
	assert.False(t, res.Allowed, "21st request inside the window")
	assert.Equal(t, time.Minute, res.RetryAfter)

	// A token bucket would refill here; the sliding count must not.
	clock.t = clock.t.Add(3100 * time.Millisecond)
	for i := 0; i < 5; i++ {
		res, err := rl.Allow(ctx, "write:user:1", 20, time.Minute)
		require.NoError(t, err)
		assert.False(t, res.Allowed, "extra request %d after 3.1s", i+1)
	}

	clock.t = clock.t.Add(time.Minute)
	res, err = rl.Allow(ctx, "write:user:1", 20, time.Minute)
	require.NoError(t, err)
	assert.True(t, res.Allowed, "request after the window passed")
	assert.Equal(t, 19, res.Remaining)
}

func TestRedisLimiter_OldestHitLeavesFirst(t *testing.T) {
	rl, _, clock := newTestRedisLimiter(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res, err := rl.Allow(ctx, "k", 3, time.Minute)
		require.NoError(t, err)
		require.True(t, res.Allowed)
		clock.t = clock.t.Add(10 * time.Second)
	}

	res, err := rl.Allow(ctx, "k", 3, time.Minute)
	require.NoError(t, err)
	require.False(t, res.Allowed)
	// Oldest hit was at 12:00:00 and now is 12:00:30.
	assert.Equal(t, 30*time.Second, res.RetryAfter)

	clock.t = clock.t.Add(31 * time.Second)
	res, err = rl.Allow(ctx, "k", 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestRedisLimiter_KeysAndExpiry(t *testing.T) {
	rl, mr, _ := newTestRedisLimiter(t)
	ctx := context.Background()

	res, err := rl.Allow(ctx, "a", 1, time.Minute)
	require.NoError(t, err)
	require.True(t, res.Allowed)

	res, err = rl.Allow(ctx, "a", 1, time.Minute)
	require.NoError(t, err)
	assert.False(t, res.Allowed)

	res, err = rl.Allow(ctx, "b", 1, time.Minute)
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	assert.True(t, mr.Exists("crm:ratelimit:a"))
	assert.Equal(t, time.Minute, mr.TTL("crm:ratelimit:a"))
}

func TestRedisLimiter_UnavailableAdmits(t *testing.T) {
	rl, mr, _ := newTestRedisLimiter(t)
	mr.Close()

	_, err := rl.Allow(context.Background(), "k", 1, time.Minute)
	require.Error(t, err)

	r := newRateLimitedRouter(rl, RateClass{Name: "write", Limit: 1, Window: time.Minute})
	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/", nil))
		assert.Equal(t, http.StatusCreated, w.Code)
	}
}

func TestNewLimiter_SelectsBackend(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	_, ok := NewLimiter(testRateLimiting("redis"), rdb).(*RedisLimiter)
	assert.True(t, ok, "redis backend")

	ml, ok := NewLimiter(testRateLimiting("memory"), rdb).(*MemoryLimiter)
	require.True(t, ok, "memory backend")
	ml.Stop()

	ml, ok = NewLimiter(testRateLimiting("redis"), nil).(*MemoryLimiter)
	require.True(t, ok, "redis backend without a client falls back to memory")
	ml.Stop()
}

func testRateLimiting(backend string) config.RateLimitingConfig {
	class := config.RateClassConfig{Requests: 1, Window: time.Minute}
	return config.RateLimitingConfig{Enabled: true, Backend: backend, Auth: class, Search: class, Write: class}
}
