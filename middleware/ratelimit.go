package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

type keyedLimiter struct {
	mu       sync.Mutex
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimit provides per-IP token-bucket rate limiting.
// r = requests per second, b = burst size.
func RateLimit(r rate.Limit, b int) gin.HandlerFunc {
	return RateLimitBy(r, b, func(c *gin.Context) string { return c.ClientIP() })
}

// AttemptLimit throttles answer and code guesses per player and quest, so a
// team cannot brute-force activation codes.
func AttemptLimit(r rate.Limit, b int) gin.HandlerFunc {
	return RateLimitBy(r, b, func(c *gin.Context) string {
		who := GetPlayer(c)
		if who == "" {
			who = c.ClientIP()
		}
		return who + "|" + c.Param("name")
	})
}

// RateLimitBy limits requests sharing the same key.
func RateLimitBy(r rate.Limit, b int, key func(*gin.Context) string) gin.HandlerFunc {
	limiters := &sync.Map{}

	// Cleanup goroutine: remove stale entries every 5 minutes.
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for range ticker.C {
			cutoff := time.Now().Add(-10 * time.Minute)
			limiters.Range(func(k, v interface{}) bool {
				kl := v.(*keyedLimiter)
				kl.mu.Lock()
				stale := kl.lastSeen.Before(cutoff)
				kl.mu.Unlock()
				if stale {
					limiters.Delete(k)
				}
				return true
			})
		}
	}()

	allow := func(k string) bool {
		v, _ := limiters.LoadOrStore(k, &keyedLimiter{limiter: rate.NewLimiter(r, b)})
		kl := v.(*keyedLimiter)
		kl.mu.Lock()
		kl.lastSeen = time.Now()
		kl.mu.Unlock()
		return kl.limiter.Allow()
	}

	return func(c *gin.Context) {
		if !allow(key(c)) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}
