package models

import "time"

// AppointmentStatus is the lifecycle state of a booking.
type AppointmentStatus string

const (
	AppointmentPending   AppointmentStatus = "pending"
	AppointmentApproved  AppointmentStatus = "approved"
	AppointmentCancelled AppointmentStatus = "cancelled"
)

// Active reports whether the status occupies the booking tuple.
func (s AppointmentStatus) Active() bool {
	return s == AppointmentPending || s == AppointmentApproved
}

// Appointment is a booking of a teacher by a student.
type Appointment struct {
	ID          string            `db:"id" json:"id"`
	StudentID   string            `db:"student_id" json:"student_id"`
	TeacherID   string            `db:"teacher_id" json:"teacher_id"`
	Date        string            `db:"date" json:"date"`
	Time        string            `db:"time" json:"time"`
	Purpose     string            `db:"purpose" json:"purpose"`
	Status      AppointmentStatus `db:"status" json:"status"`
	MeetingLink string            `db:"meeting_link" json:"meeting_link"`
	CreatedAt   time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time         `db:"updated_at" json:"updated_at"`
}

// AppointmentView is an appointment with its parties resolved. Which party
// is populated depends on who is looking.
type AppointmentView struct {
	Appointment
	Student *UserRef `json:"student,omitempty"`
	Teacher *UserRef `json:"teacher,omitempty"`
}

// AppointmentScope selects the rows an appointment listing covers.
type AppointmentScope struct {
	StudentID string
	TeacherID string
}
