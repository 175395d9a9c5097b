package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/littledevelop/student-teacher-appointment-backend/internal/policy"
	appErrors "github.com/littledevelop/student-teacher-appointment-backend/pkg/errors"
	"github.com/littledevelop/student-teacher-appointment-backend/pkg/response"
)

// Policy rejects callers whose role holds no grant for op before the handler
// runs. Services repeat the check, so this only saves a round trip.
func Policy(op policy.Operation) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := Claims(c)
		if !ok {
			response.Abort(c, appErrors.Clone(appErrors.ErrAuth, ""))
			return
		}
		if _, err := policy.Authorize(op, claims.Role); err != nil {
			response.Abort(c, err)
			return
		}
		c.Next()
	}
}
