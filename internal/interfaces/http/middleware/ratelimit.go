package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/xammer/billops/internal/domain/shared"
	"github.com/xammer/billops/internal/interfaces/http/dto"
)

// RateLimiter is a fixed window request counter per caller. Counters live
// in process memory, so each instance enforces its own limit.
type RateLimiter struct {
	mu        sync.Mutex
	clients   map[string]*window
	limit     int
	window    time.Duration
	lastSweep time.Time
	now       func() time.Time
}

type window struct {
	start time.Time
	used  int
}

// NewRateLimiter allows limit requests per key in every window.
func NewRateLimiter(limit int, per time.Duration) *RateLimiter {
	return &RateLimiter{
		clients: make(map[string]*window),
		limit:   limit,
		window:  per,
		now:     time.Now,
	}
}

// Allow records one request for key. It returns the requests left in the
// current window and, when refused, how long until the window resets.
func (rl *RateLimiter) Allow(key string) (remaining int, retryAfter time.Duration, ok bool) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	rl.sweep(now)

	w, exists := rl.clients[key]
	if !exists || now.Sub(w.start) >= rl.window {
		w = &window{start: now}
		rl.clients[key] = w
	}
	if w.used >= rl.limit {
		return 0, w.start.Add(rl.window).Sub(now), false
	}
	w.used++
	return rl.limit - w.used, 0, true
}

// sweep drops expired windows at most once per window.
func (rl *RateLimiter) sweep(now time.Time) {
	if now.Sub(rl.lastSweep) < rl.window {
		return
	}
	rl.lastSweep = now
	for key, w := range rl.clients {
		if now.Sub(w.start) >= rl.window {
			delete(rl.clients, key)
		}
	}
}

// RateLimit refuses callers over their limit with 429. Authenticated
// callers are keyed by tenant and subject, anonymous ones by client IP.
func RateLimit(limiter *RateLimiter) gin.HandlerFunc {
	limit := strconv.Itoa(limiter.limit)

	return func(c *gin.Context) {
		remaining, retryAfter, ok := limiter.Allow(rateLimitKey(c))
		c.Header("X-RateLimit-Limit", limit)
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
		if !ok {
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(retryAfter.Seconds()))))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, dto.NewErrorResponse(
				dto.ErrCodeRateLimited, "Too many requests. Please try again later.", GetRequestID(c)))
			return
		}
		c.Next()
	}
}

func rateLimitKey(c *gin.Context) string {
	if scope, ok := shared.ScopeFromContext(c.Request.Context()); ok && scope.Subject != "" && scope.Subject != AnonymousSubject {
		return scope.TenantID.String() + ":" + scope.Subject
	}
	return "ip:" + c.ClientIP()
}
