package service

import (
	"context"
	"database/sql"
	"errors"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/littledevelop/student-teacher-appointment-backend/internal/models"
	"github.com/littledevelop/student-teacher-appointment-backend/internal/policy"
)

const (
	defaultInboxLimit        = 10
	defaultConversationLimit = 50
	maxMessageLimit          = 100
)

type messageRepository interface {
	Create(ctx context.Context, msg *models.Message) error
	List(ctx context.Context, filter models.MessageFilter) ([]models.MessageView, int, error)
	ListInvolving(ctx context.Context, userID string) ([]models.MessageView, error)
	ListBetween(ctx context.Context, userID, otherID string, limit, offset int) ([]models.MessageView, int, error)
	MarkRead(ctx context.Context, id, receiverID string, at time.Time) (*models.Message, error)
	MarkThreadRead(ctx context.Context, receiverID, senderID string, at time.Time) (int64, error)
	Delete(ctx context.Context, id, userID string) error
	CountUnread(ctx context.Context, userID string) (int, error)
}

type appointmentLookup interface {
	FindByID(ctx context.Context, id string) (*models.Appointment, error)
}

// SendMessageRequest is a direct message to another user.
type SendMessageRequest struct {
	ReceiverID    string  `json:"receiver_id" validate:"required"`
	Subject       string  `json:"subject" validate:"required,max=200"`
	Content       string  `json:"content" validate:"required,max=5000"`
	AppointmentID *string `json:"appointment_id"`
}

// MessageService implements direct messaging and the conversation views
// derived from it.
type MessageService struct {
	repo         messageRepository
	users        userLookup
	appointments appointmentLookup
	events       eventRecorder
	validator    *validator.Validate
	logger       *zap.Logger
	now          func() time.Time
}

// NewMessageService creates an instance of MessageService.
func NewMessageService(repo messageRepository, users userLookup, appointments appointmentLookup, events eventRecorder, validate *validator.Validate, logger *zap.Logger) *MessageService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if events == nil {
		events = nopRecorder{}
	}
	return &MessageService{repo: repo, users: users, appointments: appointments, events: events, validator: validate, logger: logger, now: time.Now}
}

// Send delivers a message from the caller to another existing user.
func (s *MessageService) Send(ctx context.Context, actor models.Actor, req SendMessageRequest) (*models.MessageView, error) {
	if _, err := authorize(policy.SendMessage, actor); err != nil {
		return nil, err
	}
	req.ReceiverID = strings.TrimSpace(req.ReceiverID)
	req.Subject = strings.TrimSpace(req.Subject)
	req.Content = strings.TrimSpace(req.Content)
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "receiver, subject and content are required")
	}
	if req.ReceiverID == actor.ID {
		return nil, invalid("cannot send a message to yourself")
	}

	receiver, err := s.loadUser(ctx, req.ReceiverID, "receiver")
	if err != nil {
		return nil, err
	}

	msg := &models.Message{
		SenderID:   actor.ID,
		ReceiverID: receiver.ID,
		Subject:    req.Subject,
		Content:    req.Content,
	}
	if req.AppointmentID != nil && strings.TrimSpace(*req.AppointmentID) != "" {
		apptID := strings.TrimSpace(*req.AppointmentID)
		if err := s.checkAppointment(ctx, actor.ID, apptID); err != nil {
			return nil, err
		}
		msg.AppointmentID = &apptID
	}

	if err := s.repo.Create(ctx, msg); err != nil {
		return nil, internalError(s.logger, "send_message", err, zap.String("sender_id", actor.ID), zap.String("receiver_id", receiver.ID))
	}
	s.events.RecordEvent("message.sent")

	view := &models.MessageView{Message: *msg}
	receiverRef := receiver.Ref()
	view.Receiver = &receiverRef
	if sender, err := s.users.FindByID(ctx, actor.ID); err == nil {
		senderRef := sender.Ref()
		view.Sender = &senderRef
	}
	return view, nil
}

// checkAppointment requires the referenced appointment to exist and involve
// the sender.
func (s *MessageService) checkAppointment(ctx context.Context, senderID, id string) error {
	if !validID(id) || s.appointments == nil {
		return invalid("appointment_id does not reference an appointment")
	}
	appt, err := s.appointments.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return invalid("appointment_id does not reference an appointment")
		}
		return internalError(s.logger, "load_message_appointment", err, zap.String("appointment_id", id))
	}
	if appt.StudentID != senderID && appt.TeacherID != senderID {
		return invalid("appointment_id does not reference an appointment")
	}
	return nil
}

func (s *MessageService) loadUser(ctx context.Context, id, what string) (*models.User, error) {
	if !validID(id) {
		return nil, notFound(what)
	}
	user, err := s.users.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound(what)
		}
		return nil, internalError(s.logger, "load_"+what, err, zap.String("user_id", id))
	}
	return user, nil
}

// List returns one inbox page of messages sent or received by the caller.
func (s *MessageService) List(ctx context.Context, actor models.Actor, page, limit int, unreadOnly bool) ([]models.MessageView, *models.Pagination, error) {
	if _, err := authorize(policy.ReadMessages, actor); err != nil {
		return nil, nil, err
	}
	page, limit, _ = pageWindow(page, limit, defaultInboxLimit)
	views, total, err := s.repo.List(ctx, models.MessageFilter{UserID: actor.ID, UnreadOnly: unreadOnly, Page: page, PageSize: limit})
	if err != nil {
		return nil, nil, internalError(s.logger, "list_messages", err, zap.String("user_id", actor.ID))
	}
	if views == nil {
		views = []models.MessageView{}
	}
	return views, models.NewPagination(page, limit, total), nil
}

// MarkRead flags a message addressed to the caller as read. Repeating it is
// harmless and keeps the first read time.
func (s *MessageService) MarkRead(ctx context.Context, actor models.Actor, id string) (*models.Message, error) {
	if _, err := authorize(policy.ReadMessages, actor); err != nil {
		return nil, err
	}
	if !validID(id) {
		return nil, notFound("message")
	}
	msg, err := s.repo.MarkRead(ctx, id, actor.ID, s.now().UTC())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound("message")
		}
		return nil, internalError(s.logger, "mark_message_read", err, zap.String("message_id", id), zap.String("user_id", actor.ID))
	}
	s.events.RecordEvent("message.read")
	return msg, nil
}

// Delete removes a message the caller sent or received.
func (s *MessageService) Delete(ctx context.Context, actor models.Actor, id string) error {
	if _, err := authorize(policy.DeleteMessage, actor); err != nil {
		return err
	}
	if !validID(id) {
		return notFound("message")
	}
	if err := s.repo.Delete(ctx, id, actor.ID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return notFound("message")
		}
		return internalError(s.logger, "delete_message", err, zap.String("message_id", id), zap.String("user_id", actor.ID))
	}
	s.events.RecordEvent("message.deleted")
	return nil
}

// UnreadCount returns how many messages addressed to the caller are unread.
func (s *MessageService) UnreadCount(ctx context.Context, actor models.Actor) (int, error) {
	if _, err := authorize(policy.ReadMessages, actor); err != nil {
		return 0, err
	}
	n, err := s.repo.CountUnread(ctx, actor.ID)
	if err != nil {
		return 0, internalError(s.logger, "count_unread_messages", err, zap.String("user_id", actor.ID))
	}
	return n, nil
}

// GetConversations returns one page of the caller's conversations, most
// recently active first.
func (s *MessageService) GetConversations(ctx context.Context, actor models.Actor, page, limit int) ([]models.Conversation, *models.Pagination, error) {
	if _, err := authorize(policy.ViewConversation, actor); err != nil {
		return nil, nil, err
	}
	msgs, err := s.repo.ListInvolving(ctx, actor.ID)
	if err != nil {
		return nil, nil, internalError(s.logger, "list_conversations", err, zap.String("user_id", actor.ID))
	}
	conversations := AggregateConversations(actor.ID, msgs)

	page, limit, offset := pageWindow(page, limit, defaultConversationLimit)
	total := len(conversations)
	if offset < 0 || offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return conversations[offset:end], models.NewPagination(page, limit, total), nil
}

// GetConversationMessages returns one page of the thread with otherID in
// chronological order. Viewing a thread marks every unread message the
// other user sent to the caller as read.
func (s *MessageService) GetConversationMessages(ctx context.Context, actor models.Actor, otherID string, page, limit int) ([]models.MessageView, *models.Pagination, error) {
	if _, err := authorize(policy.ViewConversation, actor); err != nil {
		return nil, nil, err
	}
	otherID = strings.TrimSpace(otherID)
	if !validID(otherID) {
		return nil, nil, invalid("otherUserId must be a valid user id")
	}

	page, limit, offset := pageWindow(page, limit, defaultConversationLimit)
	views, total, err := s.repo.ListBetween(ctx, actor.ID, otherID, limit, offset)
	if err != nil {
		return nil, nil, internalError(s.logger, "list_conversation_messages", err, zap.String("user_id", actor.ID), zap.String("other_user_id", otherID))
	}

	readAt := s.now().UTC()
	marked, err := s.repo.MarkThreadRead(ctx, actor.ID, otherID, readAt)
	if err != nil {
		return nil, nil, internalError(s.logger, "mark_conversation_read", err, zap.String("user_id", actor.ID), zap.String("other_user_id", otherID))
	}
	if marked > 0 {
		s.events.RecordEvent("conversation.read")
	}

	chronological := make([]models.MessageView, len(views))
	for i, v := range views {
		if v.ReceiverID == actor.ID && v.SenderID == otherID && !v.IsRead {
			v.IsRead = true
			at := readAt
			v.ReadAt = &at
		}
		chronological[len(views)-1-i] = v
	}
	return chronological, models.NewPagination(page, limit, total), nil
}

// AggregateConversations groups msgs, which must be ordered newest first,
// into one conversation per counterpart of userID. Messages whose sender or
// receiver no longer resolves are skipped.
func AggregateConversations(userID string, msgs []models.MessageView) []models.Conversation {
	index := make(map[string]int)
	conversations := make([]models.Conversation, 0)
	for _, m := range msgs {
		if m.Sender == nil || m.Receiver == nil {
			continue
		}
		other := m.Sender
		if m.SenderID == userID {
			other = m.Receiver
		}

		i, ok := index[other.ID]
		if !ok {
			i = len(conversations)
			index[other.ID] = i
			conversations = append(conversations, models.Conversation{OtherUser: *other, LastMessage: m})
		} else if m.CreatedAt.After(conversations[i].LastMessage.CreatedAt) {
			conversations[i].LastMessage = m
		}

		c := &conversations[i]
		c.MessageCount++
		if m.ReceiverID == userID && !m.IsRead {
			c.UnreadCount++
		}
	}

	sort.SliceStable(conversations, func(a, b int) bool {
		return conversations[a].LastMessage.CreatedAt.After(conversations[b].LastMessage.CreatedAt)
	})
	return conversations
}

// pageWindow applies 1-indexed paging defaults and returns page, limit and
// offset. Pages are capped so the offset stays within a 32-bit range.
func pageWindow(page, limit, fallback int) (int, int, int) {
	if limit <= 0 {
		limit = fallback
	}
	if limit > maxMessageLimit {
		limit = maxMessageLimit
	}
	if page < 1 {
		page = 1
	}
	if page > math.MaxInt32/limit {
		page = math.MaxInt32 / limit
	}
	return page, limit, (page - 1) * limit
}
