package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/edenscrape/config"
	"github.com/use-agent/edenscrape/models"
	"golang.org/x/time/rate"
)

const (
	limiterTTL      = time.Hour
	limiterSweepGap = 5 * time.Minute
)

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type limiterSet struct {
	cfg config.RateLimitConfig

	mu        sync.Mutex
	entries   map[string]*limiterEntry
	lastSweep time.Time
}

// get returns the limiter for identity. Entries idle for longer than
// limiterTTL are swept at most once per limiterSweepGap.
func (s *limiterSet) get(identity string, now time.Time) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	if now.Sub(s.lastSweep) >= limiterSweepGap {
		cutoff := now.Add(-limiterTTL)
		for id, e := range s.entries {
			if e.lastSeen.Before(cutoff) {
				delete(s.entries, id)
			}
		}
		s.lastSweep = now
	}

	e, ok := s.entries[identity]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(rate.Limit(s.cfg.RequestsPerSecond), s.cfg.Burst)}
		s.entries[identity] = e
	}
	e.lastSeen = now
	return e.limiter
}

// RateLimit returns per-identity (API key or IP) token-bucket rate limiting
// middleware powered by golang.org/x/time/rate. It guards run creation;
// status polling is not limited.
func RateLimit(cfg config.RateLimitConfig) gin.HandlerFunc {
	set := &limiterSet{cfg: cfg, entries: make(map[string]*limiterEntry), lastSweep: time.Now()}

	return func(c *gin.Context) {
		identity := c.ClientIP()
		if key := c.GetString(APIKeyContextKey); key != "" {
			identity = key
		}

		if !set.get(identity, time.Now()).Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, models.ErrorResponse{
				Error: models.NewScrapeError(models.ErrCodeRateLimited,
					"rate limit exceeded, please slow down", nil).ToDetail(),
			})
			return
		}

		c.Next()
	}
}
