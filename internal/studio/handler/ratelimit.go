package handler

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// KeyFunc picks the bucket a request is charged to.
type KeyFunc func(c *gin.Context) string

// ClientIP charges each client address its own bucket.
func ClientIP(c *gin.Context) string { return c.ClientIP() }

// RateRule configures one token-bucket limiter. Scope labels rejections in
// the sonic_rate_limited_total metric.
type RateRule struct {
	Scope string
	Limit rate.Limit
	Burst int
	Key   KeyFunc // ClientIP when nil
}

// GlobalRule allows rps requests per second per client with a burst of
// twice that.
func GlobalRule(rps int) RateRule {
	return RateRule{Scope: "global", Limit: rate.Limit(rps), Burst: rps * 2}
}

// SessionRule allows perMinute new sessions per client per minute. Every
// session mints credit, so it is far stricter than GlobalRule.
func SessionRule(perMinute int) RateRule {
	if perMinute < 1 {
		perMinute = 1
	}
	return RateRule{
		Scope: "sessions",
		Limit: rate.Every(time.Minute / time.Duration(perMinute)),
		Burst: perMinute,
	}
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter returns a Gin middleware enforcing rule. Buckets idle for ten
// minutes are dropped by a sweep that runs until ctx is done.
func RateLimiter(ctx context.Context, rule RateRule) gin.HandlerFunc {
	key := rule.Key
	if key == nil {
		key = ClientIP
	}
	retryAfter := "1"
	if rule.Limit > 0 && rule.Limit < 1 {
		retryAfter = strconv.Itoa(int(math.Ceil(1 / float64(rule.Limit))))
	}

	var mu sync.Mutex
	buckets := make(map[string]*bucket)

	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				mu.Lock()
				for k, b := range buckets {
					if time.Since(b.lastSeen) > 10*time.Minute {
						delete(buckets, k)
					}
				}
				mu.Unlock()
			case <-ctx.Done():
				return
			}
		}
	}()

	return func(c *gin.Context) {
		k := key(c)

		mu.Lock()
		b, ok := buckets[k]
		if !ok {
			b = &bucket{limiter: rate.NewLimiter(rule.Limit, rule.Burst)}
			buckets[k] = b
		}
		b.lastSeen = time.Now()
		mu.Unlock()

		if !b.limiter.Allow() {
			RecordRateLimited(rule.Scope)
			c.Header("Retry-After", retryAfter)
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
				"scope": rule.Scope,
			})
			return
		}
		c.Next()
	}
}
