package service

import (
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/littledevelop/student-teacher-appointment-backend/internal/models"
	"github.com/littledevelop/student-teacher-appointment-backend/internal/policy"
	appErrors "github.com/littledevelop/student-teacher-appointment-backend/pkg/errors"
)

// internalError logs a persistence failure with the operation and ids
// involved and hides it behind INTERNAL_ERROR.
func internalError(logger *zap.Logger, op string, err error, fields ...zap.Field) error {
	logger.Error(op+" failed", append(fields, zap.String("op", op), zap.Error(err))...)
	return appErrors.Internal(err, "failed to "+strings.ReplaceAll(op, "_", " "))
}

// validationError renders validator failures as a single readable message.
func validationError(err error, fallback string) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		parts := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			parts = append(parts, strings.ToLower(fe.Field())+" is "+describeTag(fe.Tag()))
		}
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, strings.Join(parts, "; "))
	}
	return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, fallback)
}

func describeTag(tag string) string {
	switch tag {
	case "required":
		return "required"
	case "email":
		return "not a valid email"
	case "min", "max":
		return "out of range"
	case "oneof":
		return "not an allowed value"
	default:
		return "invalid"
	}
}

// authorize evaluates the policy table for the actor. It runs before any
// lookup so that cross-role calls never reveal whether a record exists.
func authorize(op policy.Operation, actor models.Actor) (policy.Scope, error) {
	if actor.ID == "" {
		return policy.ScopeNone, appErrors.Clone(appErrors.ErrAuth, "missing identity")
	}
	return policy.Authorize(op, actor.Role)
}

func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func notFound(what string) error {
	return appErrors.Clone(appErrors.ErrNotFound, what+" not found")
}

func invalid(message string) error {
	return appErrors.Clone(appErrors.ErrValidation, message)
}

func conflict(message string) error {
	return appErrors.Clone(appErrors.ErrConflict, message)
}
