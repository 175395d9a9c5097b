package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/littledevelop/student-teacher-appointment-backend/internal/models"
	appErrors "github.com/littledevelop/student-teacher-appointment-backend/pkg/errors"
	"github.com/littledevelop/student-teacher-appointment-backend/pkg/export"
)

type appointmentFixture struct {
	svc      *AppointmentService
	repo     *mockAppointmentRepo
	users    *mockUserRepo
	notify   *mockNotifier
	events   *mockEvents
	student  *models.User
	teacher  *models.User
	admin    *models.User
	pending  *models.User
	outsider *models.User
}

func newAppointmentFixture() *appointmentFixture {
	f := &appointmentFixture{
		student:  testUser(models.RoleStudent, "Sam Student", true),
		teacher:  testUser(models.RoleTeacher, "Tara Teacher", true),
		admin:    testUser(models.RoleAdmin, "Ada Admin", true),
		pending:  testUser(models.RoleTeacher, "Pat Pending", false),
		outsider: testUser(models.RoleTeacher, "Otto Other", true),
		notify:   &mockNotifier{},
		events:   &mockEvents{},
	}
	f.users = newMockUserRepo(f.student, f.teacher, f.admin, f.pending, f.outsider)
	f.repo = newMockAppointmentRepo(f.users)
	f.svc = NewAppointmentService(f.repo, f.users, f.notify, f.events, nil, nil)
	return f
}

func (f *appointmentFixture) book(t *testing.T, date, clock string) *models.Appointment {
	t.Helper()
	appt, err := f.svc.Book(context.Background(), actorOf(f.student), BookAppointmentRequest{
		TeacherID: f.teacher.ID, Date: date, Time: clock, Purpose: "Discuss project",
	})
	require.NoError(t, err)
	return appt
}

func TestAppointmentServiceBookCreatesPending(t *testing.T) {
	f := newAppointmentFixture()

	appt := f.book(t, "2024-05-01", "10:00")

	assert.Equal(t, models.AppointmentPending, appt.Status)
	assert.Equal(t, f.student.ID, appt.StudentID)
	assert.Equal(t, f.teacher.ID, appt.TeacherID)
	assert.Len(t, f.repo.items, 1)
	require.Len(t, f.notify.sent, 1)
	assert.Equal(t, "booked", f.notify.sent[0].kind)
	assert.Equal(t, f.teacher.Email, f.notify.sent[0].to)
	assert.Contains(t, f.events.names, "appointment.booked")
}

func TestAppointmentServiceBookConflictsWhileActive(t *testing.T) {
	f := newAppointmentFixture()
	first := f.book(t, "2024-05-01", "10:00")

	_, err := f.svc.Book(context.Background(), actorOf(f.student), BookAppointmentRequest{
		TeacherID: f.teacher.ID, Date: "2024-05-01", Time: "10:00", Purpose: "Again",
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrConflict))

	_, err = f.svc.UpdateStatus(context.Background(), actorOf(f.teacher), first.ID, UpdateAppointmentStatusRequest{Status: models.AppointmentApproved})
	require.NoError(t, err)

	_, err = f.svc.Book(context.Background(), actorOf(f.student), BookAppointmentRequest{
		TeacherID: f.teacher.ID, Date: "2024-05-01", Time: "10:00", Purpose: "Again",
	})
	assert.True(t, errors.Is(err, appErrors.ErrConflict), "approved bookings still occupy the slot")
}

func TestAppointmentServiceBookSucceedsAfterCancel(t *testing.T) {
	f := newAppointmentFixture()
	first := f.book(t, "2024-05-01", "10:00")

	status := string(models.AppointmentCancelled)
	_, err := f.svc.UpdateByStudent(context.Background(), actorOf(f.student), first.ID, UpdateAppointmentRequest{Status: &status})
	require.NoError(t, err)

	second := f.book(t, "2024-05-01", "10:00")
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, models.AppointmentPending, second.Status)
}

func TestAppointmentServiceBookNormalizesTime(t *testing.T) {
	f := newAppointmentFixture()
	ctx := context.Background()

	first := f.book(t, "2024-05-01", " 9:00 ")
	assert.Equal(t, "09:00", first.Time)

	_, err := f.svc.Book(ctx, actorOf(f.student), BookAppointmentRequest{
		TeacherID: f.teacher.ID, Date: "2024-05-01", Time: "09:00", Purpose: "Again",
	})
	assert.True(t, errors.Is(err, appErrors.ErrConflict))

	for _, clock := range []string{"9am", "25:00", "10:60", "10-00"} {
		_, err := f.svc.Book(ctx, actorOf(f.student), BookAppointmentRequest{
			TeacherID: f.teacher.ID, Date: "2024-05-02", Time: clock, Purpose: "x",
		})
		assert.True(t, errors.Is(err, appErrors.ErrValidation), clock)
	}
	assert.Len(t, f.repo.items, 1)
}

func TestAppointmentServiceBookRaceMapsUniqueViolation(t *testing.T) {
	f := newAppointmentFixture()
	f.book(t, "2024-05-01", "10:00")
	// Both requests passed the existence check; only the index stops the second.
	f.repo.skipCheck = true

	_, err := f.svc.Book(context.Background(), actorOf(f.student), BookAppointmentRequest{
		TeacherID: f.teacher.ID, Date: "2024-05-01", Time: "10:00", Purpose: "Race",
	})
	assert.True(t, errors.Is(err, appErrors.ErrConflict))
	assert.Len(t, f.repo.items, 1)
}

func TestAppointmentServiceBookValidation(t *testing.T) {
	f := newAppointmentFixture()
	ctx := context.Background()

	cases := map[string]BookAppointmentRequest{
		"missing purpose":     {TeacherID: f.teacher.ID, Date: "2024-05-01", Time: "10:00"},
		"blank date":          {TeacherID: f.teacher.ID, Date: "  ", Time: "10:00", Purpose: "x"},
		"unapproved teacher":  {TeacherID: f.pending.ID, Date: "2024-05-01", Time: "10:00", Purpose: "x"},
		"student as teacher":  {TeacherID: f.student.ID, Date: "2024-05-01", Time: "10:00", Purpose: "x"},
		"unknown teacher":     {TeacherID: uuid.NewString(), Date: "2024-05-01", Time: "10:00", Purpose: "x"},
		"malformed teacherId": {TeacherID: "nope", Date: "2024-05-01", Time: "10:00", Purpose: "x"},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.Book(ctx, actorOf(f.student), req)
			require.Error(t, err)
			assert.True(t, errors.Is(err, appErrors.ErrValidation), err.Error())
		})
	}
	assert.Empty(t, f.repo.items)
}

func TestAppointmentServiceRoleCheckPrecedesExistence(t *testing.T) {
	f := newAppointmentFixture()
	appt := f.book(t, "2024-05-01", "10:00")
	ctx := context.Background()
	status := "cancelled"

	for _, id := range []string{appt.ID, uuid.NewString()} {
		_, err := f.svc.UpdateByStudent(ctx, actorOf(f.teacher), id, UpdateAppointmentRequest{Status: &status})
		assert.True(t, errors.Is(err, appErrors.ErrUnauthorized), "teacher calling student update")

		_, err = f.svc.UpdateStatus(ctx, actorOf(f.student), id, UpdateAppointmentStatusRequest{Status: models.AppointmentApproved})
		assert.True(t, errors.Is(err, appErrors.ErrUnauthorized), "student calling teacher update")

		err = f.svc.Delete(ctx, actorOf(f.teacher), id)
		assert.True(t, errors.Is(err, appErrors.ErrUnauthorized), "teacher deleting")
	}
	assert.Equal(t, models.AppointmentPending, f.repo.items[appt.ID].Status)
}

func TestAppointmentServiceUpdateStatus(t *testing.T) {
	f := newAppointmentFixture()
	appt := f.book(t, "2024-05-01", "10:00")
	ctx := context.Background()

	t.Run("foreign teacher gets not found", func(t *testing.T) {
		_, err := f.svc.UpdateStatus(ctx, actorOf(f.outsider), appt.ID, UpdateAppointmentStatusRequest{Status: models.AppointmentApproved})
		assert.True(t, errors.Is(err, appErrors.ErrNotFound))
	})

	t.Run("rejects other statuses", func(t *testing.T) {
		_, err := f.svc.UpdateStatus(ctx, actorOf(f.teacher), appt.ID, UpdateAppointmentStatusRequest{Status: models.AppointmentPending})
		assert.True(t, errors.Is(err, appErrors.ErrValidation))
	})

	t.Run("approves with meeting link", func(t *testing.T) {
		link := " https://meet.test/abc "
		view, err := f.svc.UpdateStatus(ctx, actorOf(f.teacher), appt.ID, UpdateAppointmentStatusRequest{Status: models.AppointmentApproved, MeetingLink: &link})
		require.NoError(t, err)
		assert.Equal(t, models.AppointmentApproved, view.Status)
		assert.Equal(t, "https://meet.test/abc", view.MeetingLink)
		require.NotNil(t, view.Student)
		assert.Equal(t, f.student.Name, view.Student.Name)
		assert.Nil(t, view.Teacher)
		assert.Equal(t, "https://meet.test/abc", f.repo.items[appt.ID].MeetingLink)
	})

	last := f.notify.sent[len(f.notify.sent)-1]
	assert.Equal(t, "status:approved", last.kind)
	assert.Equal(t, f.student.Email, last.to)
}

func TestAppointmentServiceUpdateByStudent(t *testing.T) {
	f := newAppointmentFixture()
	ctx := context.Background()
	appt := f.book(t, "2024-05-01", "10:00")
	f.book(t, "2024-05-01", "11:00")

	t.Run("ignores statuses other than cancelled", func(t *testing.T) {
		status := "approved"
		purpose := "New purpose"
		updated, err := f.svc.UpdateByStudent(ctx, actorOf(f.student), appt.ID, UpdateAppointmentRequest{Status: &status, Purpose: &purpose})
		require.NoError(t, err)
		assert.Equal(t, models.AppointmentPending, updated.Status)
		assert.Equal(t, "New purpose", updated.Purpose)
		assert.Equal(t, "10:00", updated.Time)
	})

	t.Run("moving onto an occupied slot conflicts", func(t *testing.T) {
		clock := "11:00"
		_, err := f.svc.UpdateByStudent(ctx, actorOf(f.student), appt.ID, UpdateAppointmentRequest{Time: &clock})
		assert.True(t, errors.Is(err, appErrors.ErrConflict))
		assert.Equal(t, "10:00", f.repo.items[appt.ID].Time)
	})

	t.Run("unpadded time is normalized before the conflict check", func(t *testing.T) {
		clock := "9:00"
		moved, err := f.svc.UpdateByStudent(ctx, actorOf(f.student), appt.ID, UpdateAppointmentRequest{Time: &clock})
		require.NoError(t, err)
		assert.Equal(t, "09:00", moved.Time)

		other := f.book(t, "2024-05-01", "12:00")
		same := "09:00"
		_, err = f.svc.UpdateByStudent(ctx, actorOf(f.student), other.ID, UpdateAppointmentRequest{Time: &same})
		assert.True(t, errors.Is(err, appErrors.ErrConflict))

		bad := "9 o'clock"
		_, err = f.svc.UpdateByStudent(ctx, actorOf(f.student), other.ID, UpdateAppointmentRequest{Time: &bad})
		assert.True(t, errors.Is(err, appErrors.ErrValidation))
		assert.Equal(t, "12:00", f.repo.items[other.ID].Time)
	})

	t.Run("other student gets not found", func(t *testing.T) {
		other := testUser(models.RoleStudent, "Olive Other", true)
		f.users.users[other.ID] = other
		status := "cancelled"
		_, err := f.svc.UpdateByStudent(ctx, actorOf(other), appt.ID, UpdateAppointmentRequest{Status: &status})
		assert.True(t, errors.Is(err, appErrors.ErrNotFound))
	})

	t.Run("cancels", func(t *testing.T) {
		status := "cancelled"
		updated, err := f.svc.UpdateByStudent(ctx, actorOf(f.student), appt.ID, UpdateAppointmentRequest{Status: &status})
		require.NoError(t, err)
		assert.Equal(t, models.AppointmentCancelled, updated.Status)
	})
}

func TestAppointmentServiceListForRole(t *testing.T) {
	f := newAppointmentFixture()
	ctx := context.Background()
	older := f.book(t, "2024-05-01", "10:00")
	newer := f.book(t, "2024-05-02", "10:00")

	t.Run("student sees teacher projection newest first", func(t *testing.T) {
		views, err := f.svc.ListForRole(ctx, actorOf(f.student))
		require.NoError(t, err)
		require.Len(t, views, 2)
		assert.Equal(t, newer.ID, views[0].ID)
		assert.Equal(t, older.ID, views[1].ID)
		assert.Nil(t, views[0].Student)
		require.NotNil(t, views[0].Teacher)
		assert.Equal(t, f.teacher.Email, views[0].Teacher.Email)
	})

	t.Run("teacher sees student projection", func(t *testing.T) {
		views, err := f.svc.ListForRole(ctx, actorOf(f.teacher))
		require.NoError(t, err)
		require.Len(t, views, 2)
		assert.Nil(t, views[0].Teacher)
		require.NotNil(t, views[0].Student)
		assert.Equal(t, f.student.Name, views[0].Student.Name)
	})

	t.Run("other teacher sees nothing", func(t *testing.T) {
		views, err := f.svc.ListForRole(ctx, actorOf(f.outsider))
		require.NoError(t, err)
		assert.Empty(t, views)
	})

	t.Run("admin sees all with both parties", func(t *testing.T) {
		views, err := f.svc.ListForRole(ctx, actorOf(f.admin))
		require.NoError(t, err)
		require.Len(t, views, 2)
		assert.NotNil(t, views[0].Student)
		assert.NotNil(t, views[0].Teacher)
	})

	t.Run("storage failure is internal", func(t *testing.T) {
		f.repo.listErr = errors.New("connection reset")
		defer func() { f.repo.listErr = nil }()
		_, err := f.svc.ListForRole(ctx, actorOf(f.admin))
		assert.Equal(t, appErrors.ErrInternal.Code, appErrors.CodeOf(err))
		assert.NotContains(t, appErrors.FromError(err).Message, "connection reset")
	})
}

func TestAppointmentServiceGet(t *testing.T) {
	f := newAppointmentFixture()
	ctx := context.Background()
	appt := f.book(t, "2024-05-01", "10:00")

	view, err := f.svc.Get(ctx, actorOf(f.teacher), appt.ID)
	require.NoError(t, err)
	assert.Equal(t, appt.ID, view.ID)

	_, err = f.svc.Get(ctx, actorOf(f.outsider), appt.ID)
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))

	view, err = f.svc.Get(ctx, actorOf(f.admin), appt.ID)
	require.NoError(t, err)
	assert.NotNil(t, view.Student)
}

func TestAppointmentServiceDelete(t *testing.T) {
	f := newAppointmentFixture()
	ctx := context.Background()
	appt := f.book(t, "2024-05-01", "10:00")

	require.NoError(t, f.svc.Delete(ctx, actorOf(f.admin), appt.ID))
	assert.Empty(t, f.repo.items)

	err := f.svc.Delete(ctx, actorOf(f.admin), appt.ID)
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))
}

func TestAppointmentServiceExport(t *testing.T) {
	f := newAppointmentFixture()
	ctx := context.Background()
	f.book(t, "2024-05-01", "10:00")

	data, format, err := f.svc.Export(ctx, actorOf(f.admin), "csv")
	require.NoError(t, err)
	assert.Equal(t, export.FormatCSV, format)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "Date")
	assert.Contains(t, lines[1], "Tara Teacher")

	_, _, err = f.svc.Export(ctx, actorOf(f.admin), "xlsx")
	assert.True(t, errors.Is(err, appErrors.ErrValidation))

	_, _, err = f.svc.Export(ctx, actorOf(f.student), "csv")
	assert.True(t, errors.Is(err, appErrors.ErrUnauthorized))
}
