package middleware

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	appErrors "github.com/littledevelop/student-teacher-appointment-backend/pkg/errors"
	"github.com/littledevelop/student-teacher-appointment-backend/pkg/ratelimit"
	"github.com/littledevelop/student-teacher-appointment-backend/pkg/response"
)

// RateLimit throttles requests per client IP, or per user once JWT has run.
// When the limiter backend fails the request is refused with 503.
func RateLimit(limiter ratelimit.Limiter, scope string, log *zap.Logger) gin.HandlerFunc {
	if log == nil {
		log = zap.NewNop()
	}
	return func(c *gin.Context) {
		if limiter == nil {
			c.Next()
			return
		}
		key := scope + ":ip:" + c.ClientIP()
		if claims, ok := Claims(c); ok {
			key = scope + ":user:" + claims.UserID
		}

		allowed, err := limiter.Allow(c.Request.Context(), key)
		if err != nil {
			log.Error("rate limiter unavailable", zap.String("scope", scope), zap.Error(err))
			response.Abort(c, appErrors.Clone(appErrors.ErrUnavailable, "rate limiter unavailable"))
			return
		}
		if !allowed {
			response.Abort(c, appErrors.ErrTooManyRequests)
			return
		}
		c.Next()
	}
}
