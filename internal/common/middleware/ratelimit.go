package middleware

import (
	"context"
	"sync"
	"time"
)

// RateLimiter 限流器接口，拦截器只依赖 Allow。
type RateLimiter interface {
	Allow(ctx context.Context) bool
}

// TokenBucket 令牌桶限流：按时间流逝懒补令牌，无后台 goroutine。
type TokenBucket struct {
	mu         sync.Mutex
	capacity   float64
	tokens     float64
	refillRate float64 // 每秒补充令牌数
	last       time.Time
}

func NewTokenBucket(capacity, refillRate int64) *TokenBucket {
	return &TokenBucket{
		capacity:   float64(capacity),
		tokens:     float64(capacity),
		refillRate: float64(refillRate),
		last:       time.Now(),
	}
}

func (tb *TokenBucket) Allow(ctx context.Context) bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := time.Now()
	tb.tokens += now.Sub(tb.last).Seconds() * tb.refillRate
	if tb.tokens > tb.capacity {
		tb.tokens = tb.capacity
	}
	tb.last = now

	if tb.tokens < 1 {
		return false
	}
	tb.tokens--
	return true
}

// SlidingWindow 滑动窗口限流：窗口内最多放行 maxRequests 个请求。
// 精确但 O(窗口内请求数)，适合低频后台接口；高频入口用 TokenBucket。
type SlidingWindow struct {
	mu          sync.Mutex
	stamps      []time.Time
	window      time.Duration
	maxRequests int
}

func NewSlidingWindow(window time.Duration, maxRequests int) *SlidingWindow {
	return &SlidingWindow{window: window, maxRequests: maxRequests}
}

func (sw *SlidingWindow) Allow(ctx context.Context) bool {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	cutoff := time.Now().Add(-sw.window)
	kept := sw.stamps[:0]
	for _, ts := range sw.stamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	sw.stamps = kept

	if len(sw.stamps) >= sw.maxRequests {
		return false
	}
	sw.stamps = append(sw.stamps, time.Now())
	return true
}
