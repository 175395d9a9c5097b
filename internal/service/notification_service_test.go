package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/littledevelop/student-teacher-appointment-backend/internal/models"
	"github.com/littledevelop/student-teacher-appointment-backend/pkg/jobs"
	"github.com/littledevelop/student-teacher-appointment-backend/pkg/mail"
)

type fakeQueue struct {
	jobs []jobs.Job
	err  error
}

func (q *fakeQueue) Enqueue(ctx context.Context, jobType string, payload interface{}) (string, error) {
	if q.err != nil {
		return "", q.err
	}
	q.jobs = append(q.jobs, jobs.Job{ID: "job-1", Type: jobType, Payload: payload})
	return "job-1", nil
}

type fakeSender struct {
	sent []mail.Message
	err  error
}

func (s *fakeSender) Send(msg mail.Message) error {
	s.sent = append(s.sent, msg)
	return s.err
}

func TestNotificationServiceEnqueuesMail(t *testing.T) {
	queue := &fakeQueue{}
	svc := NewNotificationService(queue, nil)
	ctx := context.Background()
	student := models.UserRef{Name: "Sam", Email: "sam@school.test", Role: models.RoleStudent}
	teacher := models.UserRef{Name: "Tia", Email: "tia@school.test", Role: models.RoleTeacher}
	appt := models.Appointment{Date: "2024-05-01", Time: "10:00", Purpose: "Project review", Status: models.AppointmentApproved, MeetingLink: "https://meet.test/abc"}

	svc.AppointmentBooked(ctx, teacher, "", appt)
	svc.AppointmentStatusChanged(ctx, student, "Tia", appt)
	svc.PasswordReset(ctx, student, "https://app.test/reset?token=t", time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	svc.AccountApproved(ctx, teacher)
	svc.AccountApproved(ctx, models.UserRef{Name: "No Mail"})

	require.Len(t, queue.jobs, 4)
	for _, job := range queue.jobs {
		assert.Equal(t, MailJobType, job.Type)
	}

	booked := queue.jobs[0].Payload.(mail.Message)
	assert.Equal(t, "tia@school.test", booked.To)
	assert.Contains(t, booked.Body, "A student requested an appointment on 2024-05-01 at 10:00")

	status := queue.jobs[1].Payload.(mail.Message)
	assert.Equal(t, "Appointment approved", status.Subject)
	assert.Contains(t, status.Body, "https://meet.test/abc")

	reset := queue.jobs[2].Payload.(mail.Message)
	assert.Contains(t, reset.Body, "https://app.test/reset?token=t")

	approved := queue.jobs[3].Payload.(mail.Message)
	assert.Contains(t, approved.Body, "Your teacher account has been approved")
}

func TestNotificationServiceQueueFailureIsSwallowed(t *testing.T) {
	svc := NewNotificationService(&fakeQueue{err: jobs.ErrNotStarted}, nil)
	assert.NotPanics(t, func() {
		svc.AccountApproved(context.Background(), models.UserRef{Email: "a@school.test"})
	})

	var disabled *NotificationService
	assert.NotPanics(t, func() {
		disabled.AccountApproved(context.Background(), models.UserRef{Email: "a@school.test"})
	})
	NewNotificationService(nil, nil).AccountApproved(context.Background(), models.UserRef{Email: "a@school.test"})
}

func TestMailHandler(t *testing.T) {
	sender := &fakeSender{}
	handle := MailHandler(sender)
	msg := mail.Message{To: "a@school.test", Subject: "s", Body: "b"}

	require.NoError(t, handle(context.Background(), jobs.Job{Type: MailJobType, Payload: msg}))
	assert.Equal(t, []mail.Message{msg}, sender.sent)

	assert.Error(t, handle(context.Background(), jobs.Job{Type: MailJobType, Payload: "not a message"}))

	sender.err = errors.New("relay refused")
	assert.ErrorIs(t, handle(context.Background(), jobs.Job{Type: MailJobType, Payload: msg}), sender.err)
}
