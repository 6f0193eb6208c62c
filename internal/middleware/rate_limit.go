package middleware

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	apierrors "github.com/zfogg/orbit/internal/errors"
	"github.com/zfogg/orbit/internal/logger"
	"github.com/zfogg/orbit/internal/metrics"
	"go.uber.org/zap"
)

// WindowCounter counts hits on key within a fixed window
type WindowCounter interface {
	IncrWindow(ctx context.Context, key string, window time.Duration) (int64, error)
}

// RateLimitMiddleware allows maxRequests per window per caller, keyed by
// authenticated user and falling back to client IP. Counter failures reject
// the request with 503.
func RateLimitMiddleware(counter WindowCounter, scope string, maxRequests int, window time.Duration, m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		caller := c.GetString("user_id")
		if caller == "" {
			caller = "ip:" + c.ClientIP()
		}
		key := fmt.Sprintf("rate_limit:%s:%s", scope, caller)

		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		count, err := counter.IncrWindow(ctx, key, window)
		if err != nil {
			logger.Log.Error("Rate limit check failed, rejecting request",
				zap.String("key", key),
				zap.Error(err),
			)
			apiErr := apierrors.ServiceUnavailable("rate limiter")
			c.AbortWithStatusJSON(apiErr.Status, apiErr)
			return
		}

		if count > int64(maxRequests) {
			logger.Log.Warn("Rate limit exceeded",
				zap.String("key", key),
				zap.Int("max_requests", maxRequests),
				zap.Int64("current_requests", count),
			)
			if m != nil {
				m.RateLimitExceeded.WithLabelValues(scope).Inc()
			}
			c.Header("Retry-After", fmt.Sprintf("%.0f", window.Seconds()))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, apierrors.RateLimited(window))
			return
		}

		c.Next()
	}
}
