package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/littledevelop/student-teacher-appointment-backend/internal/models"
)

const availabilityColumns = `id, teacher_id, date, start_time, end_time, is_available, title, notes, created_at, updated_at`

// AvailabilityRepository persists teacher slots. Every mutating query is
// scoped by teacher so foreign rows behave as missing.
type AvailabilityRepository struct {
	db *sqlx.DB
}

// NewAvailabilityRepository constructs the repository.
func NewAvailabilityRepository(db *sqlx.DB) *AvailabilityRepository {
	return &AvailabilityRepository{db: db}
}

// Create inserts a slot. The (teacher, date, start, end) constraint surfaces
// as ErrDuplicate.
func (r *AvailabilityRepository) Create(ctx context.Context, slot *models.Availability) error {
	if slot.ID == "" {
		slot.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if slot.CreatedAt.IsZero() {
		slot.CreatedAt = now
	}
	slot.UpdatedAt = now

	query := `INSERT INTO availabilities (` + availabilityColumns + `) VALUES (:id, :teacher_id, :date, :start_time, :end_time, :is_available, :title, :notes, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, slot); err != nil {
		if err = translate(err); errors.Is(err, ErrDuplicate) {
			return err
		}
		return fmt.Errorf("create availability: %w", err)
	}
	return nil
}

// FindOwned returns the slot when it belongs to teacherID, else sql.ErrNoRows.
func (r *AvailabilityRepository) FindOwned(ctx context.Context, id, teacherID string) (*models.Availability, error) {
	query := `SELECT ` + availabilityColumns + ` FROM availabilities WHERE id = $1 AND teacher_id = $2`
	var slot models.Availability
	if err := r.db.GetContext(ctx, &slot, query, id, teacherID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find availability: %w", err)
	}
	return &slot, nil
}

// List returns a teacher's slots ordered by date then start time.
func (r *AvailabilityRepository) List(ctx context.Context, filter models.AvailabilityFilter) ([]models.Availability, error) {
	query := `SELECT ` + availabilityColumns + ` FROM availabilities WHERE teacher_id = $1`
	args := []interface{}{filter.TeacherID}
	if filter.StartDate != "" {
		args = append(args, filter.StartDate)
		query += fmt.Sprintf(" AND date >= $%d", len(args))
	}
	if filter.EndDate != "" {
		args = append(args, filter.EndDate)
		query += fmt.Sprintf(" AND date <= $%d", len(args))
	}
	if filter.AvailableOnly {
		query += " AND is_available = TRUE"
	}
	query += " ORDER BY date ASC, start_time ASC"

	var slots []models.Availability
	if err := r.db.SelectContext(ctx, &slots, query, args...); err != nil {
		return nil, fmt.Errorf("list availability: %w", err)
	}
	return slots, nil
}

// Update writes the mutable fields of slot, scoped by its teacher.
func (r *AvailabilityRepository) Update(ctx context.Context, slot *models.Availability) error {
	slot.UpdatedAt = time.Now().UTC()
	const query = `UPDATE availabilities SET date = :date, start_time = :start_time, end_time = :end_time, is_available = :is_available, title = :title, notes = :notes, updated_at = :updated_at WHERE id = :id AND teacher_id = :teacher_id`
	res, err := r.db.NamedExecContext(ctx, query, slot)
	if err != nil {
		if err = translate(err); errors.Is(err, ErrDuplicate) {
			return err
		}
		return fmt.Errorf("update availability: %w", err)
	}
	return expectAffected(res)
}

// Delete removes a slot owned by teacherID.
func (r *AvailabilityRepository) Delete(ctx context.Context, id, teacherID string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM availabilities WHERE id = $1 AND teacher_id = $2`, id, teacherID)
	if err != nil {
		return fmt.Errorf("delete availability: %w", err)
	}
	return expectAffected(res)
}
