package rate

import (
	"context"
	"math"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

// MemoryLimiter es un token bucket por clave (golang.org/x/time/rate), en proceso.
// Max tokens de ráfaga que se reponen a Max/Window. Las claves inactivas expiran.
type MemoryLimiter struct {
	max    int
	window time.Duration
	every  rate.Limit

	mu      sync.Mutex
	buckets *gocache.Cache
	now     func() time.Time
}

func NewMemoryLimiter(max int, window time.Duration) *MemoryLimiter {
	return &MemoryLimiter{
		max:     max,
		window:  window,
		every:   rate.Limit(float64(max) / window.Seconds()),
		buckets: gocache.New(2*window, 4*window),
		now:     time.Now,
	}
}

func (l *MemoryLimiter) bucket(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	if v, ok := l.buckets.Get(key); ok {
		b := v.(*rate.Limiter)
		l.buckets.SetDefault(key, b)
		return b
	}
	b := rate.NewLimiter(l.every, l.max)
	l.buckets.SetDefault(key, b)
	return b
}

func (l *MemoryLimiter) Allow(_ context.Context, key string) (Result, error) {
	b := l.bucket(key)
	now := l.now()
	r := b.ReserveN(now, 1)
	if !r.OK() {
		return Result{Allowed: false, RetryAfter: l.window}, nil
	}
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return Result{
			Allowed:    false,
			RetryAfter: time.Duration(math.Ceil(delay.Seconds())) * time.Second,
			WindowTTL:  l.window,
		}, nil
	}
	return Result{
		Allowed:   true,
		Remaining: int64(max(0, math.Floor(b.TokensAt(now)))),
		WindowTTL: l.window,
	}, nil
}
