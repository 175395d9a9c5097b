// Package mail delivers plain text e-mail over SMTP.
package mail

import (
	"fmt"
	"mime"
	"net/smtp"
	"strings"
	"time"

	"github.com/littledevelop/student-teacher-appointment-backend/pkg/config"
)

// Message is a single outbound e-mail.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Sender delivers messages.
type Sender interface {
	Send(msg Message) error
}

// SMTPSender sends mail through an SMTP relay. Authentication is used only
// when a username is configured, so Mailpit style dev relays work unchanged.
type SMTPSender struct {
	addr     string
	from     string
	fromName string
	auth     smtp.Auth
	send     func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewSMTPSender builds a sender from cfg.
func NewSMTPSender(cfg config.MailConfig) *SMTPSender {
	from := strings.TrimSpace(cfg.From)
	if from == "" {
		from = "no-reply@appointments.local"
	}
	s := &SMTPSender{
		addr:     fmt.Sprintf("%s:%d", strings.TrimSpace(cfg.Host), cfg.Port),
		from:     from,
		fromName: cfg.FromName,
		send:     smtp.SendMail,
	}
	if cfg.Username != "" {
		s.auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}
	return s
}

// Send implements Sender.
func (s *SMTPSender) Send(msg Message) error {
	to := sanitizeHeader(msg.To)
	if to == "" {
		return fmt.Errorf("recipient required")
	}
	raw := buildMessage(s.fromHeader(), to, msg.Subject, msg.Body, time.Now())
	if err := s.send(s.addr, s.auth, s.from, []string{to}, []byte(raw)); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

func (s *SMTPSender) fromHeader() string {
	if s.fromName == "" {
		return s.from
	}
	return fmt.Sprintf("%s <%s>", mime.QEncoding.Encode("utf-8", s.fromName), s.from)
}

func buildMessage(from, to, subject, body string, at time.Time) string {
	return fmt.Sprintf(
		"From: %s\r\nTo: %s\r\nSubject: %s\r\nDate: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n%s\r\n",
		from,
		to,
		mime.QEncoding.Encode("utf-8", sanitizeHeader(subject)),
		at.Format(time.RFC1123Z),
		body,
	)
}

// header values must not smuggle extra headers
func sanitizeHeader(v string) string {
	return strings.TrimSpace(strings.NewReplacer("\r", "", "\n", "").Replace(v))
}
