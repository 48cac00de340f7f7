package router

import (
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/tqviet/task-service/internal/metrics"
	"golang.org/x/time/rate"
)

// LoggerMiddleware logs HTTP requests with slog
func LoggerMiddleware(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)

		// Label by route template, not the raw path, so parameterized
		// routes stay a single series
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.HTTPLatency.WithLabelValues(route, c.Request.Method).Observe(latency.Seconds())

		logger.Info("HTTP Request",
			slog.Int("status", c.Writer.Status()),
			slog.String("method", c.Request.Method),
			slog.String("path", path),
			slog.String("query", query),
			slog.String("ip", c.ClientIP()),
			slog.Duration("latency", latency),
			slog.Int("body_size", c.Writer.Size()),
		)

		if len(c.Errors) > 0 {
			for _, e := range c.Errors {
				logger.Error("Request error",
					slog.String("error", e.Error()),
					slog.Uint64("type", uint64(e.Type)),
				)
			}
		}
	}
}

// CORSMiddleware handles Cross-Origin Resource Sharing
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With, Idempotency-Key, X-API-Key, X-Client-Id")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE, PATCH")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

// AuthMiddleware rejects requests whose X-API-Key header does not match the
// configured key. Rejection happens before any store access.
func AuthMiddleware(apiKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader("X-API-Key")
		if key == "" || subtle.ConstantTimeCompare([]byte(key), []byte(apiKey)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}

		c.Next()
	}
}

// RateLimitMiddleware enforces a fixed-window per-client limit in Redis
// (INCR + EXPIRE on a per-minute key). When Redis is unreachable it fails
// open onto a process-local token bucket keyed by client id.
func RateLimitMiddleware(rdb *redis.Client, logger *slog.Logger, requestsPerMinute int) gin.HandlerFunc {
	local := newLocalLimiters(requestsPerMinute)

	return func(c *gin.Context) {
		clientID := c.GetHeader("X-Client-Id")
		if clientID == "" {
			clientID = "anonymous"
		}

		window := time.Now().Unix() / 60
		key := fmt.Sprintf("rl:%s:%d", clientID, window)

		count, err := rdb.Incr(c.Request.Context(), key).Result()
		if err != nil {
			logger.Warn("Redis rate limit failed, using local fallback",
				slog.String("client_id", clientID),
				slog.String("error", err.Error()),
			)
			if !local.allow(clientID) {
				c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Rate limit exceeded"})
				return
			}
			c.Next()
			return
		}

		if count == 1 {
			// Slightly past the window so a slow clock can't strand the key
			rdb.Expire(c.Request.Context(), key, 70*time.Second)
		}

		if count > int64(requestsPerMinute) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Rate limit exceeded"})
			return
		}

		c.Next()
	}
}

// localLimiters is the in-memory fail-open fallback for the Redis limiter
type localLimiters struct {
	mu        sync.Mutex
	perMinute int
	limiters  map[string]*rate.Limiter
}

func newLocalLimiters(perMinute int) *localLimiters {
	return &localLimiters{
		perMinute: perMinute,
		limiters:  make(map[string]*rate.Limiter),
	}
}

func (l *localLimiters) allow(clientID string) bool {
	l.mu.Lock()
	limiter, ok := l.limiters[clientID]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(float64(l.perMinute)/60.0), l.perMinute)
		l.limiters[clientID] = limiter
	}
	l.mu.Unlock()
	return limiter.Allow()
}
