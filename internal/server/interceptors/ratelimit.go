package interceptors

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"coresuite/backend/internal/ratelimit"
)

// RateLimit throttles by client IP. Limiter errors fail open and are logged.
func RateLimit(limiter ratelimit.Limiter, logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *gin.Context) {
		if limiter == nil {
			c.Next()
			return
		}
		ip := c.ClientIP()
		ok, err := limiter.Allow(c.Request.Context(), ip)
		if err != nil {
			logger.Warn("ratelimit: limiter unavailable", zap.Error(err))
			c.Next()
			return
		}
		if !ok {
			logger.Warn("ratelimit: limit exceeded", zap.String("client_ip", ip), zap.String("path", c.Request.URL.Path))
			Fail(c, http.StatusTooManyRequests, "too many requests")
			return
		}
		c.Next()
	}
}
