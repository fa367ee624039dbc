package middleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Nexar-Turismo/nexarturismo-sub002/internal/contextkeys"
	"github.com/Nexar-Turismo/nexarturismo-sub002/internal/domain"
	"github.com/Nexar-Turismo/nexarturismo-sub002/internal/handler"
	"github.com/Nexar-Turismo/nexarturismo-sub002/internal/metrics"
	"golang.org/x/time/rate"
)

// bucketIdleAfter is how long an untouched bucket survives a sweep.
const bucketIdleAfter = 3 * time.Minute

// Limit is the shape of one caller's token bucket.
type Limit struct {
	RPS   float64
	Burst int
}

// RateLimiter keeps a token bucket per caller. Authenticated requests are
// charged to their user id, so one account cannot spread its load over many
// addresses; anonymous ones are charged to the client IP.
type RateLimiter struct {
	scope string
	limit rate.Limit
	burst int
	now   func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a limiter whose rejections are counted under scope.
// Call Run to have idle buckets swept.
func NewRateLimiter(scope string, l Limit) *RateLimiter {
	return &RateLimiter{
		scope:   scope,
		limit:   rate.Limit(l.RPS),
		burst:   l.Burst,
		now:     time.Now,
		buckets: make(map[string]*bucket),
	}
}

// Run sweeps idle buckets every interval until ctx is done.
func (rl *RateLimiter) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.Sweep()
		}
	}
}

// Sweep drops buckets not used for a while and reports how many went.
func (rl *RateLimiter) Sweep() int {
	cutoff := rl.now().Add(-bucketIdleAfter)
	rl.mu.Lock()
	defer rl.mu.Unlock()
	n := 0
	for key, b := range rl.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(rl.buckets, key)
			n++
		}
	}
	return n
}

// Middleware rejects callers over budget with 429 and a Retry-After telling
// them when their next token is due. Mount it after Auth to key by user.
func (rl *RateLimiter) Middleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller, key := callerKey(r)
			wait, ok := rl.reserve(key)
			if !ok {
				metrics.RateLimited.WithLabelValues(rl.scope, caller).Inc()
				w.Header().Set("Retry-After", retryAfter(wait))
				handler.Error(w, domain.ErrRateLimited("rate limit exceeded, try again later"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// reserve takes a token for key. When none is available it gives the
// reservation back and returns the wait until one would be.
func (rl *RateLimiter) reserve(key string) (time.Duration, bool) {
	now := rl.now()
	rl.mu.Lock()
	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.buckets[key] = b
	}
	b.lastSeen = now
	rl.mu.Unlock()

	res := b.limiter.ReserveN(now, 1)
	if !res.OK() {
		return time.Second, false
	}
	if wait := res.DelayFrom(now); wait > 0 {
		res.CancelAt(now)
		return wait, false
	}
	return 0, true
}

func (rl *RateLimiter) size() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.buckets)
}

func callerKey(r *http.Request) (caller, key string) {
	if id := contextkeys.UserIDFrom(r.Context()); id != "" {
		return "user", "user:" + id
	}
	return "ip", "ip:" + extractClientIP(r)
}

// retryAfter renders a wait as whole seconds, never less than one.
func retryAfter(wait time.Duration) string {
	secs := int(math.Ceil(wait.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}

// extractClientIP returns the client IP, preferring proxy headers if available.
func extractClientIP(r *http.Request) string {
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
