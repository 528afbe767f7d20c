package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func mustAllow(t *testing.T, limiter *FixedWindowLimiter, key string, limit int) bool {
	t.Helper()
	ok, err := limiter.AllowN(context.Background(), key, limit)
	if err != nil {
		t.Fatalf("allow %s: %v", key, err)
	}
	return ok
}

func TestFixedWindowLimiterRedis(t *testing.T) {
	redis := miniredis.RunT(t)
	limiter, err := NewRedisFixedWindowLimiter(redis.Addr(), "", "test:ratelimit", 2, time.Minute)
	if err != nil {
		t.Fatalf("new redis limiter: %v", err)
	}
	if !mustAllow(t, limiter, "user-1", 0) {
		t.Fatalf("first request should pass")
	}
	if !mustAllow(t, limiter, "user-1", 0) {
		t.Fatalf("second request should pass")
	}
	if mustAllow(t, limiter, "user-1", 0) {
		t.Fatalf("third request should be blocked")
	}
	if !mustAllow(t, limiter, "user-2", 0) {
		t.Fatalf("other keys keep their own budget")
	}
}

func TestFixedWindowLimiterPerKeyLimit(t *testing.T) {
	redis := miniredis.RunT(t)
	limiter, err := NewRedisFixedWindowLimiter(redis.Addr(), "", "test:ratelimit", 1, time.Minute)
	if err != nil {
		t.Fatalf("new redis limiter: %v", err)
	}
	for i := 0; i < 3; i++ {
		if !mustAllow(t, limiter, "pro-user", 3) {
			t.Fatalf("request %d should pass under plan limit", i+1)
		}
	}
	if mustAllow(t, limiter, "pro-user", 3) {
		t.Fatalf("fourth request should be blocked")
	}
	if !mustAllow(t, limiter, "free-user", 0) || mustAllow(t, limiter, "free-user", 0) {
		t.Fatalf("zero limit should fall back to default of 1")
	}
}

func TestFixedWindowLimiterWindowRollover(t *testing.T) {
	redis := miniredis.RunT(t)
	limiter, err := NewRedisFixedWindowLimiter(redis.Addr(), "", "test:ratelimit", 1, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("new redis limiter: %v", err)
	}
	if !mustAllow(t, limiter, "user-1", 0) {
		t.Fatalf("first request should pass")
	}
	time.Sleep(60 * time.Millisecond)
	if !mustAllow(t, limiter, "user-1", 0) {
		t.Fatalf("next window should reset the budget")
	}
}

func TestFixedWindowLimiterRedisFailClosed(t *testing.T) {
	redis := miniredis.RunT(t)
	limiter, err := NewRedisFixedWindowLimiter(redis.Addr(), "", "test:ratelimit", 1, time.Second)
	if err != nil {
		t.Fatalf("new redis limiter: %v", err)
	}
	redis.Close()
	ok, err := limiter.AllowN(context.Background(), "user-1", 0)
	if ok {
		t.Fatalf("limiter should fail closed on redis errors")
	}
	if err == nil {
		t.Fatalf("expected redis error to be reported")
	}
}

func TestFixedWindowLimiterRequiresRedisAddr(t *testing.T) {
	limiter, err := NewRedisFixedWindowLimiter("", "", "test:ratelimit", 1, time.Second)
	if err == nil || limiter != nil {
		t.Fatalf("expected constructor error for empty redis addr")
	}
}
