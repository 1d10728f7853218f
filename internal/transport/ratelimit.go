package transport

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"
)

const defaultLimiterEntries = 4096

// userLimiter is a token bucket per user id. The least recently seen
// users are evicted once the table is full.
type userLimiter struct {
	mu      sync.Mutex
	every   rate.Limit
	burst   int
	buckets *lru.Cache[string, *rate.Limiter]
}

// newUserLimiter returns nil when perSecond is not positive, which
// disables limiting.
func newUserLimiter(perSecond float64, burst int) *userLimiter {
	if perSecond <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	buckets, err := lru.New[string, *rate.Limiter](defaultLimiterEntries)
	if err != nil {
		return nil
	}
	return &userLimiter{every: rate.Limit(perSecond), burst: burst, buckets: buckets}
}

func (l *userLimiter) Allow(userID string) bool {
	if l == nil {
		return true
	}
	l.mu.Lock()
	lim, ok := l.buckets.Get(userID)
	if !ok {
		lim = rate.NewLimiter(l.every, l.burst)
		l.buckets.Add(userID, lim)
	}
	l.mu.Unlock()
	return lim.Allow()
}
