package server

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/alfredjeanlab/gatekeeper/internal/clock"
)

// limiterIdle is how long a client's bucket survives without requests.
const limiterIdle = 30 * time.Minute

// rateLimiter keeps one token bucket per client.
type rateLimiter struct {
	clock clock.Clock
	limit rate.Limit
	burst int

	mu      sync.Mutex
	buckets map[string]*bucket
	swept   time.Time
}

type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

func newRateLimiter(c clock.Clock, perMinute float64, burst int) *rateLimiter {
	return &rateLimiter{
		clock:   c,
		limit:   rate.Limit(perMinute / 60),
		burst:   burst,
		buckets: make(map[string]*bucket),
	}
}

// allow takes a token for key. When none is left it returns how long until
// the next one.
func (l *rateLimiter) allow(key string) (bool, time.Duration) {
	now := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.swept) > limiterIdle {
		for k, b := range l.buckets {
			if now.Sub(b.seen) > limiterIdle {
				delete(l.buckets, k)
			}
		}
		l.swept = now
	}

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[key] = b
	}
	b.seen = now

	res := b.lim.ReserveN(now, 1)
	if d := res.DelayFrom(now); d > 0 {
		res.CancelAt(now)
		return false, d
	}
	return true, 0
}
