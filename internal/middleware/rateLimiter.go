package middleware

import (
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// RateLimiter is a lock-free token bucket. Refill credit is tracked in
// milliseconds so sub-second rates work.
type RateLimiter struct {
	tokens   int32
	burst    int32
	refillMs int64
	lastTick int64
}

func NewRateLimiter(burst int32, refill time.Duration) *RateLimiter {
	return &RateLimiter{
		tokens:   burst,
		burst:    burst,
		refillMs: refill.Milliseconds(),
		lastTick: time.Now().UnixMilli(),
	}
}

func (l *RateLimiter) Allow() bool {
	now := time.Now().UnixMilli()
	last := atomic.LoadInt64(&l.lastTick)

	if elapsed := now - last; elapsed >= l.refillMs {
		generated := int32(elapsed / l.refillMs)
		// Advance the tick by whole tokens only, keeping fractional credit.
		if atomic.CompareAndSwapInt64(&l.lastTick, last, last+int64(generated)*l.refillMs) {
			for {
				current := atomic.LoadInt32(&l.tokens)
				refilled := current + generated
				if refilled > l.burst {
					refilled = l.burst
				}
				if atomic.CompareAndSwapInt32(&l.tokens, current, refilled) {
					break
				}
			}
		}
	}

	for {
		current := atomic.LoadInt32(&l.tokens)
		if current <= 0 {
			return false
		}
		if atomic.CompareAndSwapInt32(&l.tokens, current, current-1) {
			return true
		}
	}
}

// KeyedLimiter keeps one bucket per caller key.
type KeyedLimiter struct {
	burst   int32
	refill  time.Duration
	buckets sync.Map
}

func NewKeyedLimiter(burst int32, refill time.Duration) *KeyedLimiter {
	return &KeyedLimiter{burst: burst, refill: refill}
}

func (k *KeyedLimiter) Allow(key string) bool {
	if v, ok := k.buckets.Load(key); ok {
		return v.(*RateLimiter).Allow()
	}
	v, _ := k.buckets.LoadOrStore(key, NewRateLimiter(k.burst, k.refill))
	return v.(*RateLimiter).Allow()
}

// Limit throttles by client IP and answers 429 when the bucket is dry.
func (k *KeyedLimiter) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := getIP(r)
		if !k.Allow(ip) {
			log.Printf("[LIMIT] Throttling %s %s from %s", r.Method, r.URL.Path, ip)
			deny(w, http.StatusTooManyRequests, "rate_limited", "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}
