package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/littledevelop/student-teacher-appointment-backend/internal/models"
	"github.com/littledevelop/student-teacher-appointment-backend/pkg/jobs"
	"github.com/littledevelop/student-teacher-appointment-backend/pkg/mail"
)

// MailJobType is the job type carrying a mail.Message payload.
const MailJobType = "mail.send"

type jobEnqueuer interface {
	Enqueue(ctx context.Context, jobType string, payload interface{}) (string, error)
}

// notifier is what the domain services need from NotificationService.
type notifier interface {
	AppointmentBooked(ctx context.Context, teacher models.UserRef, studentName string, appt models.Appointment)
	AppointmentStatusChanged(ctx context.Context, student models.UserRef, teacherName string, appt models.Appointment)
	PasswordReset(ctx context.Context, user models.UserRef, link string, expiresAt time.Time)
	AccountApproved(ctx context.Context, user models.UserRef)
}

// NotificationService renders e-mails and hands them to the background
// queue. Delivery failures never fail the calling request.
type NotificationService struct {
	queue  jobEnqueuer
	logger *zap.Logger
}

// NewNotificationService constructs the service. A nil queue disables mail.
func NewNotificationService(queue jobEnqueuer, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{queue: queue, logger: logger}
}

// MailHandler delivers queued mail.Message payloads through sender.
func MailHandler(sender mail.Sender) jobs.Handler {
	return func(_ context.Context, job jobs.Job) error {
		msg, ok := job.Payload.(mail.Message)
		if !ok {
			return fmt.Errorf("unexpected payload %T for %s", job.Payload, job.Type)
		}
		return sender.Send(msg)
	}
}

// AppointmentBooked tells the teacher about a new pending request.
func (s *NotificationService) AppointmentBooked(ctx context.Context, teacher models.UserRef, studentName string, appt models.Appointment) {
	body := fmt.Sprintf("Hello %s,\n\n%s requested an appointment on %s at %s.\n\nPurpose: %s\n\nPlease review it in your dashboard.\n",
		teacher.Name, orDefault(studentName, "A student"), appt.Date, appt.Time, appt.Purpose)
	s.enqueue(ctx, mail.Message{To: teacher.Email, Subject: "New appointment request", Body: body})
}

// AppointmentStatusChanged tells the student the teacher's decision.
func (s *NotificationService) AppointmentStatusChanged(ctx context.Context, student models.UserRef, teacherName string, appt models.Appointment) {
	var b strings.Builder
	fmt.Fprintf(&b, "Hello %s,\n\nYour appointment with %s on %s at %s is now %s.\n",
		student.Name, orDefault(teacherName, "your teacher"), appt.Date, appt.Time, appt.Status)
	if appt.Status == models.AppointmentApproved && appt.MeetingLink != "" {
		fmt.Fprintf(&b, "\nMeeting link: %s\n", appt.MeetingLink)
	}
	s.enqueue(ctx, mail.Message{To: student.Email, Subject: "Appointment " + string(appt.Status), Body: b.String()})
}

// PasswordReset mails a reset link.
func (s *NotificationService) PasswordReset(ctx context.Context, user models.UserRef, link string, expiresAt time.Time) {
	body := fmt.Sprintf("Hello %s,\n\nUse the link below to choose a new password. It expires at %s.\n\n%s\n\nIf you did not request this you can ignore this message.\n",
		user.Name, expiresAt.UTC().Format(time.RFC1123), link)
	s.enqueue(ctx, mail.Message{To: user.Email, Subject: "Reset your password", Body: body})
}

// AccountApproved tells a user an admin approved the account.
func (s *NotificationService) AccountApproved(ctx context.Context, user models.UserRef) {
	body := fmt.Sprintf("Hello %s,\n\nYour %s account has been approved. You can now use all features.\n", user.Name, user.Role)
	s.enqueue(ctx, mail.Message{To: user.Email, Subject: "Account approved", Body: body})
}

func (s *NotificationService) enqueue(ctx context.Context, msg mail.Message) {
	if s == nil || s.queue == nil || msg.To == "" {
		return
	}
	id, err := s.queue.Enqueue(ctx, MailJobType, msg)
	if err != nil {
		s.logger.Warn("failed to enqueue mail", zap.String("subject", msg.Subject), zap.Error(err))
		return
	}
	s.logger.Debug("mail enqueued", zap.String("job_id", id), zap.String("subject", msg.Subject))
}

func orDefault(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
