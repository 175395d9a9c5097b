package handler

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/littledevelop/student-teacher-appointment-backend/internal/models"
	"github.com/littledevelop/student-teacher-appointment-backend/internal/service"
	"github.com/littledevelop/student-teacher-appointment-backend/pkg/response"
)

type availabilityService interface {
	Create(ctx context.Context, actor models.Actor, req service.CreateAvailabilityRequest) (*models.Availability, error)
	AvailableSlots(ctx context.Context, actor models.Actor, teacherID, date string) ([]models.Availability, error)
	ListOwn(ctx context.Context, actor models.Actor, startDate, endDate string) ([]models.Availability, error)
	Update(ctx context.Context, actor models.Actor, id string, req service.UpdateAvailabilityRequest) (*models.Availability, error)
	Delete(ctx context.Context, actor models.Actor, id string) error
}

// AvailabilityHandler exposes teacher availability slots.
type AvailabilityHandler struct {
	service availabilityService
}

// NewAvailabilityHandler constructs the handler.
func NewAvailabilityHandler(svc availabilityService) *AvailabilityHandler {
	return &AvailabilityHandler{service: svc}
}

// Create godoc
// @Summary Publish availability
// @Tags Availability
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body service.CreateAvailabilityRequest true "Slot"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /availability [post]
func (h *AvailabilityHandler) Create(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	var req service.CreateAvailabilityRequest
	if !bindJSON(c, &req, "invalid availability payload") {
		return
	}
	slot, err := h.service.Create(c.Request.Context(), actor, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, slot)
}

// Slots godoc
// @Summary Open slots of a teacher
// @Tags Availability
// @Produce json
// @Security BearerAuth
// @Param teacher_id query string true "Teacher ID"
// @Param date query string true "YYYY-MM-DD"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /availability/slots [get]
func (h *AvailabilityHandler) Slots(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	slots, err := h.service.AvailableSlots(c.Request.Context(), actor, c.Query("teacher_id"), c.Query("date"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, slots)
}

// ListOwn godoc
// @Summary Own availability
// @Tags Availability
// @Produce json
// @Security BearerAuth
// @Param start_date query string false "YYYY-MM-DD"
// @Param end_date query string false "YYYY-MM-DD"
// @Success 200 {object} response.Envelope
// @Router /availability [get]
func (h *AvailabilityHandler) ListOwn(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	slots, err := h.service.ListOwn(c.Request.Context(), actor, c.Query("start_date"), c.Query("end_date"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, slots)
}

// Update godoc
// @Summary Update availability
// @Tags Availability
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Availability ID"
// @Param payload body service.UpdateAvailabilityRequest true "Fields to change"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /availability/{id} [put]
func (h *AvailabilityHandler) Update(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	var req service.UpdateAvailabilityRequest
	if !bindJSON(c, &req, "invalid availability payload") {
		return
	}
	slot, err := h.service.Update(c.Request.Context(), actor, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, slot)
}

// Delete godoc
// @Summary Delete availability
// @Tags Availability
// @Security BearerAuth
// @Param id path string true "Availability ID"
// @Success 204
// @Failure 404 {object} response.Envelope
// @Router /availability/{id} [delete]
func (h *AvailabilityHandler) Delete(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	if err := h.service.Delete(c.Request.Context(), actor, c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
