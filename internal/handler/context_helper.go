package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/littledevelop/student-teacher-appointment-backend/internal/middleware"
	"github.com/littledevelop/student-teacher-appointment-backend/internal/models"
	appErrors "github.com/littledevelop/student-teacher-appointment-backend/pkg/errors"
	"github.com/littledevelop/student-teacher-appointment-backend/pkg/response"
)

// currentActor returns the caller, rendering AUTH_ERROR when the route was
// registered without JWT.
func currentActor(c *gin.Context) (models.Actor, bool) {
	actor, ok := middleware.Actor(c)
	if !ok || actor.ID == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrAuth, ""))
		return models.Actor{}, false
	}
	return actor, true
}

func requestMeta(c *gin.Context) models.LoginRequest {
	return models.LoginRequest{IP: c.ClientIP(), UserAgent: c.GetHeader("User-Agent")}
}

// bindJSON decodes the body into dst, rendering a validation error on
// malformed input.
func bindJSON(c *gin.Context, dst interface{}, message string) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, message))
		return false
	}
	return true
}

// queryInt parses an optional integer query parameter. Unparseable values
// fall back to zero so services apply their defaults.
func queryInt(c *gin.Context, key string) int {
	v, err := strconv.Atoi(c.Query(key))
	if err != nil {
		return 0
	}
	return v
}
