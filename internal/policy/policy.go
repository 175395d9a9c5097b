// Package policy holds the authorization table consulted at the entry of
// every role-gated operation.
package policy

import (
	"github.com/littledevelop/student-teacher-appointment-backend/internal/models"
	appErrors "github.com/littledevelop/student-teacher-appointment-backend/pkg/errors"
)

// Operation names a gated use case.
type Operation string

const (
	BookAppointment         Operation = "appointment.book"
	UpdateAppointmentStatus Operation = "appointment.update_status"
	UpdateOwnAppointment    Operation = "appointment.update_by_student"
	ListAppointments        Operation = "appointment.list"
	ViewAppointment         Operation = "appointment.view"
	DeleteAppointment       Operation = "appointment.delete"
	ExportAppointments      Operation = "appointment.export"

	CreateAvailability  Operation = "availability.create"
	ListOwnAvailability Operation = "availability.list_own"
	UpdateAvailability  Operation = "availability.update"
	DeleteAvailability  Operation = "availability.delete"
	ViewSlots           Operation = "availability.view_slots"

	SendMessage      Operation = "message.send"
	ReadMessages     Operation = "message.read"
	DeleteMessage    Operation = "message.delete"
	ViewConversation Operation = "message.conversation"

	ListTeachers Operation = "user.list_teachers"
	ManageUsers  Operation = "user.manage"
	ViewMetrics  Operation = "system.metrics"
)

// Scope is how far an allowed caller reaches. ScopeOwn means the operation
// must further match a reference field against the caller id.
type Scope int

const (
	ScopeNone Scope = iota
	ScopeOwn
	ScopeAll
)

type grants map[models.UserRole]Scope

var everyone = grants{models.RoleStudent: ScopeOwn, models.RoleTeacher: ScopeOwn, models.RoleAdmin: ScopeOwn}

var table = map[Operation]grants{
	BookAppointment:         {models.RoleStudent: ScopeOwn},
	UpdateAppointmentStatus: {models.RoleTeacher: ScopeOwn},
	UpdateOwnAppointment:    {models.RoleStudent: ScopeOwn},
	ListAppointments:        {models.RoleStudent: ScopeOwn, models.RoleTeacher: ScopeOwn, models.RoleAdmin: ScopeAll},
	ViewAppointment:         {models.RoleStudent: ScopeOwn, models.RoleTeacher: ScopeOwn, models.RoleAdmin: ScopeAll},
	DeleteAppointment:       {models.RoleAdmin: ScopeAll},
	ExportAppointments:      {models.RoleAdmin: ScopeAll},

	CreateAvailability:  {models.RoleTeacher: ScopeOwn},
	ListOwnAvailability: {models.RoleTeacher: ScopeOwn},
	UpdateAvailability:  {models.RoleTeacher: ScopeOwn},
	DeleteAvailability:  {models.RoleTeacher: ScopeOwn},
	ViewSlots:           {models.RoleStudent: ScopeAll, models.RoleTeacher: ScopeAll, models.RoleAdmin: ScopeAll},

	SendMessage:      everyone,
	ReadMessages:     everyone,
	DeleteMessage:    everyone,
	ViewConversation: everyone,

	ListTeachers: {models.RoleStudent: ScopeAll, models.RoleTeacher: ScopeAll, models.RoleAdmin: ScopeAll},
	ManageUsers:  {models.RoleAdmin: ScopeAll},
	ViewMetrics:  {models.RoleAdmin: ScopeAll},
}

// Authorize returns the scope role holds for op, or an UNAUTHORIZED error
// when it holds none. Unknown operations deny.
func Authorize(op Operation, role models.UserRole) (Scope, error) {
	if scope := table[op][role]; scope != ScopeNone {
		return scope, nil
	}
	return ScopeNone, appErrors.Clone(appErrors.ErrUnauthorized, "role "+string(role)+" may not perform "+string(op))
}

// Can reports whether role may perform op at all.
func Can(op Operation, role models.UserRole) bool {
	_, err := Authorize(op, role)
	return err == nil
}
