package service

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/littledevelop/student-teacher-appointment-backend/internal/models"
	"github.com/littledevelop/student-teacher-appointment-backend/internal/policy"
	"github.com/littledevelop/student-teacher-appointment-backend/internal/repository"
)

var clockPattern = regexp.MustCompile(`^([0-1]?\d|2[0-3]):[0-5]\d$`)

const slotsTTL = 5 * time.Minute

type availabilityRepository interface {
	Create(ctx context.Context, slot *models.Availability) error
	FindOwned(ctx context.Context, id, teacherID string) (*models.Availability, error)
	List(ctx context.Context, filter models.AvailabilityFilter) ([]models.Availability, error)
	Update(ctx context.Context, slot *models.Availability) error
	Delete(ctx context.Context, id, teacherID string) error
}

// CreateAvailabilityRequest publishes a slot.
type CreateAvailabilityRequest struct {
	Date        string  `json:"date" validate:"required,datetime=2006-01-02"`
	StartTime   string  `json:"start_time" validate:"required"`
	EndTime     string  `json:"end_time" validate:"required"`
	IsAvailable *bool   `json:"is_available"`
	Title       *string `json:"title" validate:"omitempty,max=200"`
	Notes       *string `json:"notes" validate:"omitempty,max=2000"`
}

// UpdateAvailabilityRequest changes the provided fields of a slot.
type UpdateAvailabilityRequest struct {
	Date        *string `json:"date" validate:"omitempty,datetime=2006-01-02"`
	StartTime   *string `json:"start_time"`
	EndTime     *string `json:"end_time"`
	IsAvailable *bool   `json:"is_available"`
	Title       *string `json:"title" validate:"omitempty,max=200"`
	Notes       *string `json:"notes" validate:"omitempty,max=2000"`
}

// AvailabilityService manages teacher-published slots.
type AvailabilityService struct {
	repo      availabilityRepository
	cache     *CacheService
	events    eventRecorder
	validator *validator.Validate
	logger    *zap.Logger
}

// NewAvailabilityService creates an instance of AvailabilityService.
func NewAvailabilityService(repo availabilityRepository, cache *CacheService, events eventRecorder, validate *validator.Validate, logger *zap.Logger) *AvailabilityService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if events == nil {
		events = nopRecorder{}
	}
	return &AvailabilityService{repo: repo, cache: cache, events: events, validator: validate, logger: logger}
}

// Create publishes a slot for the calling teacher.
func (s *AvailabilityService) Create(ctx context.Context, actor models.Actor, req CreateAvailabilityRequest) (*models.Availability, error) {
	if _, err := authorize(policy.CreateAvailability, actor); err != nil {
		return nil, err
	}
	req.Date = strings.TrimSpace(req.Date)
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "date, start time and end time are required")
	}
	start, end, err := normalizeWindow(req.StartTime, req.EndTime)
	if err != nil {
		return nil, err
	}

	slot := &models.Availability{
		TeacherID:   actor.ID,
		Date:        req.Date,
		StartTime:   start,
		EndTime:     end,
		IsAvailable: true,
		Title:       models.DefaultAvailabilityTitle,
	}
	if req.IsAvailable != nil {
		slot.IsAvailable = *req.IsAvailable
	}
	if req.Title != nil && strings.TrimSpace(*req.Title) != "" {
		slot.Title = strings.TrimSpace(*req.Title)
	}
	if req.Notes != nil {
		slot.Notes = strings.TrimSpace(*req.Notes)
	}

	if err := s.repo.Create(ctx, slot); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, conflict("availability slot already exists")
		}
		return nil, internalError(s.logger, "create_availability", err, zap.String("teacher_id", actor.ID))
	}
	s.invalidate(ctx, actor.ID, slot.Date)
	s.events.RecordEvent("availability.created")
	return slot, nil
}

// AvailableSlots returns the open slots of a teacher on a date, earliest
// first.
func (s *AvailabilityService) AvailableSlots(ctx context.Context, actor models.Actor, teacherID, date string) ([]models.Availability, error) {
	if _, err := authorize(policy.ViewSlots, actor); err != nil {
		return nil, err
	}
	teacherID = strings.TrimSpace(teacherID)
	date = strings.TrimSpace(date)
	if teacherID == "" || date == "" {
		return nil, invalid("teacher_id and date are required")
	}
	if !validID(teacherID) {
		return []models.Availability{}, nil
	}

	key := slotsKey(teacherID, date)
	var cached []models.Availability
	if hit, _ := s.cache.Get(ctx, key, &cached); hit {
		return cached, nil
	}

	slots, err := s.repo.List(ctx, models.AvailabilityFilter{TeacherID: teacherID, StartDate: date, EndDate: date, AvailableOnly: true})
	if err != nil {
		return nil, internalError(s.logger, "list_available_slots", err, zap.String("teacher_id", teacherID), zap.String("date", date))
	}
	if slots == nil {
		slots = []models.Availability{}
	}
	_ = s.cache.Set(ctx, key, slots, slotsTTL)
	return slots, nil
}

// ListOwn returns the calling teacher's slots in an optional inclusive date
// range.
func (s *AvailabilityService) ListOwn(ctx context.Context, actor models.Actor, startDate, endDate string) ([]models.Availability, error) {
	if _, err := authorize(policy.ListOwnAvailability, actor); err != nil {
		return nil, err
	}
	filter := models.AvailabilityFilter{TeacherID: actor.ID, StartDate: strings.TrimSpace(startDate), EndDate: strings.TrimSpace(endDate)}
	if filter.StartDate != "" && filter.EndDate != "" && filter.StartDate > filter.EndDate {
		return nil, invalid("start_date must not be after end_date")
	}
	slots, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, internalError(s.logger, "list_availability", err, zap.String("teacher_id", actor.ID))
	}
	if slots == nil {
		slots = []models.Availability{}
	}
	return slots, nil
}

// Update changes a slot owned by the caller. Absent and foreign slots are
// both reported as not found.
func (s *AvailabilityService) Update(ctx context.Context, actor models.Actor, id string, req UpdateAvailabilityRequest) (*models.Availability, error) {
	if _, err := authorize(policy.UpdateAvailability, actor); err != nil {
		return nil, err
	}
	slot, err := s.findOwned(ctx, actor.ID, id)
	if err != nil {
		return nil, err
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid availability update")
	}

	oldDate := slot.Date
	if req.Date != nil {
		slot.Date = strings.TrimSpace(*req.Date)
	}
	start, end := slot.StartTime, slot.EndTime
	if req.StartTime != nil {
		start = *req.StartTime
	}
	if req.EndTime != nil {
		end = *req.EndTime
	}
	if slot.StartTime, slot.EndTime, err = normalizeWindow(start, end); err != nil {
		return nil, err
	}
	if req.IsAvailable != nil {
		slot.IsAvailable = *req.IsAvailable
	}
	if req.Title != nil {
		slot.Title = strings.TrimSpace(*req.Title)
		if slot.Title == "" {
			slot.Title = models.DefaultAvailabilityTitle
		}
	}
	if req.Notes != nil {
		slot.Notes = strings.TrimSpace(*req.Notes)
	}

	if err := s.repo.Update(ctx, slot); err != nil {
		switch {
		case errors.Is(err, repository.ErrDuplicate):
			return nil, conflict("availability slot already exists")
		case errors.Is(err, sql.ErrNoRows):
			return nil, notFound("availability")
		}
		return nil, internalError(s.logger, "update_availability", err, zap.String("availability_id", id), zap.String("teacher_id", actor.ID))
	}
	s.invalidate(ctx, actor.ID, oldDate, slot.Date)
	s.events.RecordEvent("availability.updated")
	return slot, nil
}

// Delete removes a slot owned by the caller.
func (s *AvailabilityService) Delete(ctx context.Context, actor models.Actor, id string) error {
	if _, err := authorize(policy.DeleteAvailability, actor); err != nil {
		return err
	}
	slot, err := s.findOwned(ctx, actor.ID, id)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, slot.ID, actor.ID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return notFound("availability")
		}
		return internalError(s.logger, "delete_availability", err, zap.String("availability_id", id), zap.String("teacher_id", actor.ID))
	}
	s.invalidate(ctx, actor.ID, slot.Date)
	s.events.RecordEvent("availability.deleted")
	return nil
}

func (s *AvailabilityService) findOwned(ctx context.Context, teacherID, id string) (*models.Availability, error) {
	if !validID(id) {
		return nil, notFound("availability")
	}
	slot, err := s.repo.FindOwned(ctx, id, teacherID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound("availability")
		}
		return nil, internalError(s.logger, "load_availability", err, zap.String("availability_id", id), zap.String("teacher_id", teacherID))
	}
	return slot, nil
}

func (s *AvailabilityService) invalidate(ctx context.Context, teacherID string, dates ...string) {
	keys := make([]string, 0, len(dates))
	for _, d := range dates {
		keys = append(keys, slotsKey(teacherID, d))
	}
	_ = s.cache.Delete(ctx, keys...)
}

// normalizeWindow validates both clock times, zero-pads them to HH:MM and
// requires start to be strictly before end.
func normalizeWindow(start, end string) (string, string, error) {
	start, end = strings.TrimSpace(start), strings.TrimSpace(end)
	if !clockPattern.MatchString(start) || !clockPattern.MatchString(end) {
		return "", "", invalid("times must use HH:MM format")
	}
	start, end = padClock(start), padClock(end)
	if start >= end {
		return "", "", invalid("start time must be before end time")
	}
	return start, end, nil
}

// normalizeClock checks an HH:MM value and zero-pads the hour so stored
// times compare as strings.
func normalizeClock(v string) (string, error) {
	v = strings.TrimSpace(v)
	if !clockPattern.MatchString(v) {
		return "", invalid("time must use HH:MM format")
	}
	return padClock(v), nil
}

func padClock(v string) string {
	if len(v) == len("9:00") {
		return "0" + v
	}
	return v
}
