package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/littledevelop/student-teacher-appointment-backend/internal/models"
	"github.com/littledevelop/student-teacher-appointment-backend/internal/policy"
	"github.com/littledevelop/student-teacher-appointment-backend/internal/repository"
	"github.com/littledevelop/student-teacher-appointment-backend/pkg/export"
)

type appointmentRepository interface {
	Create(ctx context.Context, appt *models.Appointment) error
	FindByID(ctx context.Context, id string) (*models.Appointment, error)
	FindViewByID(ctx context.Context, id string) (*models.AppointmentView, error)
	ExistsActive(ctx context.Context, studentID, teacherID, date, t, excludeID string) (bool, error)
	Update(ctx context.Context, appt *models.Appointment) error
	List(ctx context.Context, scope models.AppointmentScope) ([]models.AppointmentView, error)
	Delete(ctx context.Context, id string) error
}

type userLookup interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

// BookAppointmentRequest is a student's booking of a teacher.
type BookAppointmentRequest struct {
	TeacherID string `json:"teacher_id" validate:"required"`
	Date      string `json:"date" validate:"required,max=32"`
	Time      string `json:"time" validate:"required,max=16"`
	Purpose   string `json:"purpose" validate:"required,max=2000"`
}

// UpdateAppointmentStatusRequest is a teacher's decision on a booking.
type UpdateAppointmentStatusRequest struct {
	Status      models.AppointmentStatus `json:"status"`
	MeetingLink *string                  `json:"meeting_link" validate:"omitempty,max=512"`
}

// UpdateAppointmentRequest carries the fields a student may change. Nil
// fields are left untouched.
type UpdateAppointmentRequest struct {
	Date    *string `json:"date" validate:"omitempty,max=32"`
	Time    *string `json:"time" validate:"omitempty,max=16"`
	Purpose *string `json:"purpose" validate:"omitempty,max=2000"`
	Status  *string `json:"status"`
}

// AppointmentService implements booking, status transitions and
// ownership-scoped appointment queries.
type AppointmentService struct {
	repo      appointmentRepository
	users     userLookup
	notify    notifier
	events    eventRecorder
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// NewAppointmentService creates an instance of AppointmentService.
func NewAppointmentService(repo appointmentRepository, users userLookup, notify notifier, events eventRecorder, validate *validator.Validate, logger *zap.Logger) *AppointmentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if notify == nil {
		notify = NewNotificationService(nil, logger)
	}
	if events == nil {
		events = nopRecorder{}
	}
	return &AppointmentService{repo: repo, users: users, notify: notify, events: events, validator: validate, logger: logger, now: time.Now}
}

// Book creates a pending appointment for the calling student.
func (s *AppointmentService) Book(ctx context.Context, actor models.Actor, req BookAppointmentRequest) (*models.Appointment, error) {
	if _, err := authorize(policy.BookAppointment, actor); err != nil {
		return nil, err
	}
	req.TeacherID = strings.TrimSpace(req.TeacherID)
	req.Date = strings.TrimSpace(req.Date)
	req.Time = strings.TrimSpace(req.Time)
	req.Purpose = strings.TrimSpace(req.Purpose)
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "teacher, date, time and purpose are required")
	}
	clock, err := normalizeClock(req.Time)
	if err != nil {
		return nil, err
	}
	req.Time = clock

	teacher, err := s.approvedTeacher(ctx, req.TeacherID)
	if err != nil {
		return nil, err
	}

	exists, err := s.repo.ExistsActive(ctx, actor.ID, teacher.ID, req.Date, req.Time, "")
	if err != nil {
		return nil, internalError(s.logger, "check_appointment_conflict", err, zap.String("student_id", actor.ID), zap.String("teacher_id", teacher.ID))
	}
	if exists {
		return nil, conflict("appointment already exists for this time slot")
	}

	appt := &models.Appointment{
		StudentID: actor.ID,
		TeacherID: teacher.ID,
		Date:      req.Date,
		Time:      req.Time,
		Purpose:   req.Purpose,
		Status:    models.AppointmentPending,
	}
	if err := s.repo.Create(ctx, appt); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, conflict("appointment already exists for this time slot")
		}
		return nil, internalError(s.logger, "create_appointment", err, zap.String("student_id", actor.ID), zap.String("teacher_id", teacher.ID))
	}
	s.events.RecordEvent("appointment.booked")

	var studentName string
	if student, err := s.users.FindByID(ctx, actor.ID); err == nil {
		studentName = student.Name
	}
	s.notify.AppointmentBooked(ctx, teacher.Ref(), studentName, *appt)
	return appt, nil
}

func (s *AppointmentService) approvedTeacher(ctx context.Context, id string) (*models.User, error) {
	const msg = "teacher must reference an approved teacher"
	if !validID(id) {
		return nil, invalid(msg)
	}
	teacher, err := s.users.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, invalid(msg)
		}
		return nil, internalError(s.logger, "load_teacher", err, zap.String("teacher_id", id))
	}
	if teacher.Role != models.RoleTeacher || !teacher.Approved {
		return nil, invalid(msg)
	}
	return teacher, nil
}

// UpdateStatus lets the owning teacher approve or cancel a booking.
func (s *AppointmentService) UpdateStatus(ctx context.Context, actor models.Actor, id string, req UpdateAppointmentStatusRequest) (*models.AppointmentView, error) {
	if _, err := authorize(policy.UpdateAppointmentStatus, actor); err != nil {
		return nil, err
	}
	view, err := s.findView(ctx, id)
	if err != nil {
		return nil, err
	}
	if view.TeacherID != actor.ID {
		return nil, notFound("appointment")
	}
	if req.Status != models.AppointmentApproved && req.Status != models.AppointmentCancelled {
		return nil, invalid("status must be approved or cancelled")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid meeting link")
	}

	view.Status = req.Status
	if req.MeetingLink != nil {
		view.MeetingLink = strings.TrimSpace(*req.MeetingLink)
	}
	if err := s.save(ctx, &view.Appointment); err != nil {
		return nil, err
	}
	s.events.RecordEvent("appointment." + string(view.Status))

	if view.Student != nil {
		var teacherName string
		if view.Teacher != nil {
			teacherName = view.Teacher.Name
		}
		s.notify.AppointmentStatusChanged(ctx, *view.Student, teacherName, view.Appointment)
	}
	view.Teacher = nil
	return view, nil
}

// UpdateByStudent applies a student's partial update. The only status a
// student can set is cancelled; any other status value is ignored.
func (s *AppointmentService) UpdateByStudent(ctx context.Context, actor models.Actor, id string, req UpdateAppointmentRequest) (*models.Appointment, error) {
	if _, err := authorize(policy.UpdateOwnAppointment, actor); err != nil {
		return nil, err
	}
	if !validID(id) {
		return nil, notFound("appointment")
	}
	appt, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound("appointment")
		}
		return nil, internalError(s.logger, "load_appointment", err, zap.String("appointment_id", id))
	}
	if appt.StudentID != actor.ID {
		return nil, notFound("appointment")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid appointment update")
	}

	moved := false
	if req.Date != nil {
		v := strings.TrimSpace(*req.Date)
		if v == "" {
			return nil, invalid("date cannot be empty")
		}
		moved = moved || v != appt.Date
		appt.Date = v
	}
	if req.Time != nil {
		v := strings.TrimSpace(*req.Time)
		if v == "" {
			return nil, invalid("time cannot be empty")
		}
		v, err = normalizeClock(v)
		if err != nil {
			return nil, err
		}
		moved = moved || v != appt.Time
		appt.Time = v
	}
	if req.Purpose != nil {
		v := strings.TrimSpace(*req.Purpose)
		if v == "" {
			return nil, invalid("purpose cannot be empty")
		}
		appt.Purpose = v
	}
	cancelled := false
	if req.Status != nil && models.AppointmentStatus(strings.TrimSpace(*req.Status)) == models.AppointmentCancelled {
		cancelled = appt.Status != models.AppointmentCancelled
		appt.Status = models.AppointmentCancelled
	}

	if moved && appt.Status.Active() {
		exists, err := s.repo.ExistsActive(ctx, appt.StudentID, appt.TeacherID, appt.Date, appt.Time, appt.ID)
		if err != nil {
			return nil, internalError(s.logger, "check_appointment_conflict", err, zap.String("appointment_id", appt.ID))
		}
		if exists {
			return nil, conflict("appointment already exists for this time slot")
		}
	}
	if err := s.save(ctx, appt); err != nil {
		return nil, err
	}
	if cancelled {
		s.events.RecordEvent("appointment.cancelled")
	} else {
		s.events.RecordEvent("appointment.updated")
	}
	return appt, nil
}

// ListForRole returns the appointments visible to the caller, newest first.
// Students see the teacher of each booking, teachers the student, admins
// both.
func (s *AppointmentService) ListForRole(ctx context.Context, actor models.Actor) ([]models.AppointmentView, error) {
	scope, err := authorize(policy.ListAppointments, actor)
	if err != nil {
		return nil, err
	}
	var filter models.AppointmentScope
	if scope == policy.ScopeOwn {
		switch actor.Role {
		case models.RoleStudent:
			filter.StudentID = actor.ID
		case models.RoleTeacher:
			filter.TeacherID = actor.ID
		}
	}
	views, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, internalError(s.logger, "list_appointments", err, zap.String("user_id", actor.ID))
	}
	for i := range views {
		counterpartOnly(&views[i], actor.Role)
	}
	return views, nil
}

// Get returns one appointment the caller is party to, or any for admins.
func (s *AppointmentService) Get(ctx context.Context, actor models.Actor, id string) (*models.AppointmentView, error) {
	scope, err := authorize(policy.ViewAppointment, actor)
	if err != nil {
		return nil, err
	}
	view, err := s.findView(ctx, id)
	if err != nil {
		return nil, err
	}
	if scope == policy.ScopeOwn && view.StudentID != actor.ID && view.TeacherID != actor.ID {
		return nil, notFound("appointment")
	}
	counterpartOnly(view, actor.Role)
	return view, nil
}

// Delete removes an appointment. Admin only.
func (s *AppointmentService) Delete(ctx context.Context, actor models.Actor, id string) error {
	if _, err := authorize(policy.DeleteAppointment, actor); err != nil {
		return err
	}
	if !validID(id) {
		return notFound("appointment")
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return notFound("appointment")
		}
		return internalError(s.logger, "delete_appointment", err, zap.String("appointment_id", id))
	}
	s.events.RecordEvent("appointment.deleted")
	return nil
}

// Export renders every appointment as CSV or PDF. Admin only.
func (s *AppointmentService) Export(ctx context.Context, actor models.Actor, rawFormat string) ([]byte, export.Format, error) {
	if _, err := authorize(policy.ExportAppointments, actor); err != nil {
		return nil, "", err
	}
	format, err := export.ParseFormat(rawFormat)
	if err != nil {
		return nil, "", invalid(err.Error())
	}
	views, err := s.repo.List(ctx, models.AppointmentScope{})
	if err != nil {
		return nil, "", internalError(s.logger, "export_appointments", err)
	}

	table := export.Table{
		Title: "Appointments",
		Columns: []export.Column{
			{Key: "date", Title: "Date", Width: 1},
			{Key: "time", Title: "Time", Width: 0.7},
			{Key: "student", Title: "Student", Width: 1.6},
			{Key: "teacher", Title: "Teacher", Width: 1.6},
			{Key: "purpose", Title: "Purpose", Width: 2.4},
			{Key: "status", Title: "Status", Width: 0.9},
			{Key: "meeting_link", Title: "Meeting Link", Width: 1.8},
		},
		Rows: make([]map[string]string, 0, len(views)),
	}
	for _, v := range views {
		table.Rows = append(table.Rows, map[string]string{
			"date":         v.Date,
			"time":         v.Time,
			"student":      refLabel(v.Student),
			"teacher":      refLabel(v.Teacher),
			"purpose":      v.Purpose,
			"status":       string(v.Status),
			"meeting_link": v.MeetingLink,
		})
	}
	data, err := export.Render(format, table, s.now().UTC())
	if err != nil {
		return nil, "", internalError(s.logger, "render_appointment_export", err, zap.String("format", string(format)))
	}
	s.events.RecordEvent("appointment.exported")
	return data, format, nil
}

func (s *AppointmentService) findView(ctx context.Context, id string) (*models.AppointmentView, error) {
	if !validID(id) {
		return nil, notFound("appointment")
	}
	view, err := s.repo.FindViewByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound("appointment")
		}
		return nil, internalError(s.logger, "load_appointment", err, zap.String("appointment_id", id))
	}
	return view, nil
}

func (s *AppointmentService) save(ctx context.Context, appt *models.Appointment) error {
	if err := s.repo.Update(ctx, appt); err != nil {
		switch {
		case errors.Is(err, repository.ErrDuplicate):
			return conflict("appointment already exists for this time slot")
		case errors.Is(err, sql.ErrNoRows):
			return notFound("appointment")
		}
		return internalError(s.logger, "update_appointment", err, zap.String("appointment_id", appt.ID))
	}
	return nil
}

func counterpartOnly(v *models.AppointmentView, role models.UserRole) {
	switch role {
	case models.RoleStudent:
		v.Student = nil
	case models.RoleTeacher:
		v.Teacher = nil
	}
}

func refLabel(ref *models.UserRef) string {
	if ref == nil {
		return ""
	}
	return ref.Name + " <" + ref.Email + ">"
}
