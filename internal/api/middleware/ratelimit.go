package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// ──────────────────────────────────────────────────────────────────────────────
// Per-client rate limiter
// ──────────────────────────────────────────────────────────────────────────────

// clientLimiter tracks one client's request rate.
type clientLimiter struct {
	*rate.Limiter
	lastHit time.Time
}

// rateLimiter holds per-client limiters.
type rateLimiter struct {
	mu      sync.Mutex
	clients map[string]*clientLimiter
	limit   rate.Limit
	burst   int
	now     func() time.Time
}

// newRateLimiter creates a limiter with the given requests-per-second
// allowance. Burst capacity is max(10, rps).
func newRateLimiter(rps int) *rateLimiter {
	return &rateLimiter{
		clients: make(map[string]*clientLimiter),
		limit:   rate.Limit(rps),
		burst:   max(10, rps),
		now:     time.Now,
	}
}

// get returns key's limiter, creating it on first use.
func (rl *rateLimiter) get(key string) *clientLimiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	l := rl.clients[key]
	if l == nil {
		l = &clientLimiter{Limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.clients[key] = l
	}
	l.lastHit = rl.now()
	return l
}

// allow reports whether key may proceed and consumes one token.
func (rl *rateLimiter) allow(key string) bool {
	return rl.get(key).AllowN(rl.now(), 1)
}

// evict drops limiters idle since before cutoff.
func (rl *rateLimiter) evict(cutoff time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for key, l := range rl.clients {
		if l.lastHit.Before(cutoff) {
			delete(rl.clients, key)
		}
	}
}

// clientKey identifies the caller: the wallet address once JWTMiddleware has
// run, otherwise the client IP.
func clientKey(c *gin.Context) string {
	if addr := GetAddress(c); addr != (common.Address{}) {
		return addr.Hex()
	}
	return c.ClientIP()
}

// RateLimitMiddleware enforces a per-client limit of rps requests per second.
// Clients over the limit receive 429 Too Many Requests.
func RateLimitMiddleware(rps int) gin.HandlerFunc {
	rl := newRateLimiter(rps)

	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for range ticker.C {
			rl.evict(rl.now().Add(-10 * time.Minute))
		}
	}()

	return func(c *gin.Context) {
		if !rl.allow(clientKey(c)) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"success": false,
				"error":   "too many requests, slow down",
				"code":    "ERR_RATE_LIMITED",
			})
			return
		}
		c.Next()
	}
}
