package models

import "time"

// DefaultAvailabilityTitle is applied when a slot is created without a title.
const DefaultAvailabilityTitle = "Available for appointments"

// Availability is a teacher-published time window on a date.
type Availability struct {
	ID          string    `db:"id" json:"id"`
	TeacherID   string    `db:"teacher_id" json:"teacher_id"`
	Date        string    `db:"date" json:"date"`
	StartTime   string    `db:"start_time" json:"start_time"`
	EndTime     string    `db:"end_time" json:"end_time"`
	IsAvailable bool      `db:"is_available" json:"is_available"`
	Title       string    `db:"title" json:"title"`
	Notes       string    `db:"notes" json:"notes"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// AvailabilityFilter narrows a teacher's slot listing. Dates are inclusive.
type AvailabilityFilter struct {
	TeacherID     string
	StartDate     string
	EndDate       string
	AvailableOnly bool
}
