package middleware

import (
	"net/http"
	"sync"
	"time"

	"deskflow/internal/metrics"

	"github.com/gin-gonic/gin"
)

// tokenBucket is a simple refillable bucket.
type tokenBucket struct {
	mu         sync.Mutex
	tokens     float64
	lastRefill time.Time
	ratePerSec float64
	burst      float64
}

func newBucket(requestsPerMinute, burst int) *tokenBucket {
	if requestsPerMinute <= 0 {
		requestsPerMinute = 60
	}
	if burst <= 0 {
		burst = requestsPerMinute
	}
	return &tokenBucket{
		tokens:     float64(burst),
		lastRefill: time.Now(),
		ratePerSec: float64(requestsPerMinute) / 60.0,
		burst:      float64(burst),
	}
}

func (b *tokenBucket) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := time.Now()
	b.tokens += now.Sub(b.lastRefill).Seconds() * b.ratePerSec
	if b.tokens > b.burst {
		b.tokens = b.burst
	}
	b.lastRefill = now
	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

// RateLimitMiddleware applies a per-client-IP token bucket. Buckets are
// kept in memory; a multi-instance deployment rate limits per instance.
func RateLimitMiddleware(requestsPerMinute, burst int) gin.HandlerFunc {
	var (
		mu      sync.Mutex
		buckets = make(map[string]*tokenBucket)
	)
	return func(c *gin.Context) {
		key := c.ClientIP()
		mu.Lock()
		bucket, ok := buckets[key]
		if !ok {
			bucket = newBucket(requestsPerMinute, burst)
			buckets[key] = bucket
		}
		mu.Unlock()

		if !bucket.allow() {
			metrics.IncRateLimitDrop("global")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":   "Too Many Requests",
				"message": "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}
