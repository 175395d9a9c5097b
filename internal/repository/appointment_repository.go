package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/littledevelop/student-teacher-appointment-backend/internal/models"
)

const appointmentColumns = `id, student_id, teacher_id, date, time, purpose, status, meeting_link, created_at, updated_at`

const appointmentViewSelect = `SELECT a.id, a.student_id, a.teacher_id, a.date, a.time, a.purpose, a.status, a.meeting_link, a.created_at, a.updated_at,
	s.id AS student_ref_id, s.name AS student_name, s.email AS student_email, s.role AS student_role,
	t.id AS teacher_ref_id, t.name AS teacher_name, t.email AS teacher_email, t.role AS teacher_role
	FROM appointments a
	LEFT JOIN users s ON s.id = a.student_id
	LEFT JOIN users t ON t.id = a.teacher_id`

type userRefColumns struct {
	ID    sql.NullString
	Name  sql.NullString
	Email sql.NullString
	Role  sql.NullString
}

func (c userRefColumns) ref() *models.UserRef {
	if !c.ID.Valid {
		return nil
	}
	return &models.UserRef{ID: c.ID.String, Name: c.Name.String, Email: c.Email.String, Role: models.UserRole(c.Role.String)}
}

type appointmentViewRow struct {
	models.Appointment
	StudentRefID sql.NullString `db:"student_ref_id"`
	StudentName  sql.NullString `db:"student_name"`
	StudentEmail sql.NullString `db:"student_email"`
	StudentRole  sql.NullString `db:"student_role"`
	TeacherRefID sql.NullString `db:"teacher_ref_id"`
	TeacherName  sql.NullString `db:"teacher_name"`
	TeacherEmail sql.NullString `db:"teacher_email"`
	TeacherRole  sql.NullString `db:"teacher_role"`
}

func (r appointmentViewRow) view() models.AppointmentView {
	return models.AppointmentView{
		Appointment: r.Appointment,
		Student:     userRefColumns{r.StudentRefID, r.StudentName, r.StudentEmail, r.StudentRole}.ref(),
		Teacher:     userRefColumns{r.TeacherRefID, r.TeacherName, r.TeacherEmail, r.TeacherRole}.ref(),
	}
}

// AppointmentRepository persists appointments.
type AppointmentRepository struct {
	db *sqlx.DB
}

// NewAppointmentRepository constructs the repository.
func NewAppointmentRepository(db *sqlx.DB) *AppointmentRepository {
	return &AppointmentRepository{db: db}
}

// Create inserts a booking. A second active booking for the same student,
// teacher, date and time violates appointments_active_booking_uniq and
// yields ErrDuplicate.
func (r *AppointmentRepository) Create(ctx context.Context, appt *models.Appointment) error {
	if appt.ID == "" {
		appt.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if appt.CreatedAt.IsZero() {
		appt.CreatedAt = now
	}
	appt.UpdatedAt = now

	query := `INSERT INTO appointments (` + appointmentColumns + `) VALUES (:id, :student_id, :teacher_id, :date, :time, :purpose, :status, :meeting_link, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, appt); err != nil {
		if err = translate(err); errors.Is(err, ErrDuplicate) {
			return err
		}
		return fmt.Errorf("create appointment: %w", err)
	}
	return nil
}

// FindByID returns the appointment or sql.ErrNoRows.
func (r *AppointmentRepository) FindByID(ctx context.Context, id string) (*models.Appointment, error) {
	query := `SELECT ` + appointmentColumns + ` FROM appointments WHERE id = $1`
	var appt models.Appointment
	if err := r.db.GetContext(ctx, &appt, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find appointment: %w", err)
	}
	return &appt, nil
}

// FindViewByID returns the appointment with both parties resolved.
func (r *AppointmentRepository) FindViewByID(ctx context.Context, id string) (*models.AppointmentView, error) {
	var row appointmentViewRow
	if err := r.db.GetContext(ctx, &row, appointmentViewSelect+` WHERE a.id = $1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find appointment view: %w", err)
	}
	view := row.view()
	return &view, nil
}

// ExistsActive reports whether a pending or approved appointment occupies the
// tuple. excludeID skips one row so an appointment does not collide with
// itself on update.
func (r *AppointmentRepository) ExistsActive(ctx context.Context, studentID, teacherID, date, t, excludeID string) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM appointments WHERE student_id = $1 AND teacher_id = $2 AND date = $3 AND time = $4 AND status IN ('pending', 'approved') AND id::text <> $5)`
	var exists bool
	if err := r.db.GetContext(ctx, &exists, query, studentID, teacherID, date, t, excludeID); err != nil {
		return false, fmt.Errorf("check active appointment: %w", err)
	}
	return exists, nil
}

// Update writes the mutable fields of appt.
func (r *AppointmentRepository) Update(ctx context.Context, appt *models.Appointment) error {
	appt.UpdatedAt = time.Now().UTC()
	const query = `UPDATE appointments SET date = :date, time = :time, purpose = :purpose, status = :status, meeting_link = :meeting_link, updated_at = :updated_at WHERE id = :id`
	res, err := r.db.NamedExecContext(ctx, query, appt)
	if err != nil {
		if err = translate(err); errors.Is(err, ErrDuplicate) {
			return err
		}
		return fmt.Errorf("update appointment: %w", err)
	}
	return expectAffected(res)
}

// List returns appointments newest first, restricted by scope when its
// fields are set.
func (r *AppointmentRepository) List(ctx context.Context, scope models.AppointmentScope) ([]models.AppointmentView, error) {
	var conditions []string
	var args []interface{}
	if scope.StudentID != "" {
		args = append(args, scope.StudentID)
		conditions = append(conditions, fmt.Sprintf("a.student_id = $%d", len(args)))
	}
	if scope.TeacherID != "" {
		args = append(args, scope.TeacherID)
		conditions = append(conditions, fmt.Sprintf("a.teacher_id = $%d", len(args)))
	}

	query := appointmentViewSelect
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY a.created_at DESC"

	var rows []appointmentViewRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	views := make([]models.AppointmentView, len(rows))
	for i, row := range rows {
		views[i] = row.view()
	}
	return views, nil
}

// Delete removes the appointment or returns sql.ErrNoRows.
func (r *AppointmentRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM appointments WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete appointment: %w", err)
	}
	return expectAffected(res)
}
