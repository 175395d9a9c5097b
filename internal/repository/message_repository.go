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

const messageViewSelect = `SELECT m.id, m.sender_id, m.receiver_id, m.subject, m.content, m.is_read, m.read_at, m.appointment_id, m.created_at,
	s.id AS sender_ref_id, s.name AS sender_name, s.email AS sender_email, s.role AS sender_role,
	r.id AS receiver_ref_id, r.name AS receiver_name, r.email AS receiver_email, r.role AS receiver_role
	FROM messages m
	LEFT JOIN users s ON s.id = m.sender_id
	LEFT JOIN users r ON r.id = m.receiver_id`

type messageViewRow struct {
	models.Message
	SenderRefID   sql.NullString `db:"sender_ref_id"`
	SenderName    sql.NullString `db:"sender_name"`
	SenderEmail   sql.NullString `db:"sender_email"`
	SenderRole    sql.NullString `db:"sender_role"`
	ReceiverRefID sql.NullString `db:"receiver_ref_id"`
	ReceiverName  sql.NullString `db:"receiver_name"`
	ReceiverEmail sql.NullString `db:"receiver_email"`
	ReceiverRole  sql.NullString `db:"receiver_role"`
}

func (r messageViewRow) view() models.MessageView {
	return models.MessageView{
		Message:  r.Message,
		Sender:   userRefColumns{r.SenderRefID, r.SenderName, r.SenderEmail, r.SenderRole}.ref(),
		Receiver: userRefColumns{r.ReceiverRefID, r.ReceiverName, r.ReceiverEmail, r.ReceiverRole}.ref(),
	}
}

func messageViews(rows []messageViewRow) []models.MessageView {
	views := make([]models.MessageView, len(rows))
	for i, row := range rows {
		views[i] = row.view()
	}
	return views
}

// MessageRepository persists direct messages.
type MessageRepository struct {
	db *sqlx.DB
}

// NewMessageRepository constructs the repository.
func NewMessageRepository(db *sqlx.DB) *MessageRepository {
	return &MessageRepository{db: db}
}

// Create inserts a message.
func (r *MessageRepository) Create(ctx context.Context, msg *models.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO messages (id, sender_id, receiver_id, subject, content, is_read, read_at, appointment_id, created_at) VALUES (:id, :sender_id, :receiver_id, :subject, :content, :is_read, :read_at, :appointment_id, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, msg); err != nil {
		return fmt.Errorf("create message: %w", err)
	}
	return nil
}

// List returns one page of messages sent or received by the user, newest
// first. UnreadOnly narrows to unread messages received by the user.
func (r *MessageRepository) List(ctx context.Context, filter models.MessageFilter) ([]models.MessageView, int, error) {
	where := ` WHERE (m.sender_id = $1 OR m.receiver_id = $1)`
	if filter.UnreadOnly {
		where = ` WHERE m.receiver_id = $1 AND m.is_read = FALSE`
	}
	_, pageSize, offset := normalizePage(filter.Page, filter.PageSize, 10, 100)

	var rows []messageViewRow
	query := messageViewSelect + where + fmt.Sprintf(` ORDER BY m.created_at DESC LIMIT %d OFFSET %d`, pageSize, offset)
	if err := r.db.SelectContext(ctx, &rows, query, filter.UserID); err != nil {
		return nil, 0, fmt.Errorf("list messages: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM messages m`+where, filter.UserID); err != nil {
		return nil, 0, fmt.Errorf("count messages: %w", err)
	}
	return messageViews(rows), total, nil
}

// ListInvolving returns every message the user sent or received, newest
// first.
func (r *MessageRepository) ListInvolving(ctx context.Context, userID string) ([]models.MessageView, error) {
	var rows []messageViewRow
	query := messageViewSelect + ` WHERE m.sender_id = $1 OR m.receiver_id = $1 ORDER BY m.created_at DESC`
	if err := r.db.SelectContext(ctx, &rows, query, userID); err != nil {
		return nil, fmt.Errorf("list messages involving user: %w", err)
	}
	return messageViews(rows), nil
}

// ListBetween returns one page of the two-way thread between userID and
// otherID, newest first, together with the thread size.
func (r *MessageRepository) ListBetween(ctx context.Context, userID, otherID string, limit, offset int) ([]models.MessageView, int, error) {
	const where = ` WHERE (m.sender_id = $1 AND m.receiver_id = $2) OR (m.sender_id = $2 AND m.receiver_id = $1)`

	var rows []messageViewRow
	query := messageViewSelect + where + fmt.Sprintf(` ORDER BY m.created_at DESC LIMIT %d OFFSET %d`, limit, offset)
	if err := r.db.SelectContext(ctx, &rows, query, userID, otherID); err != nil {
		return nil, 0, fmt.Errorf("list conversation: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM messages m`+where, userID, otherID); err != nil {
		return nil, 0, fmt.Errorf("count conversation: %w", err)
	}
	return messageViews(rows), total, nil
}

// MarkRead flags a message received by receiverID as read. The first read
// time is kept when the message was already read. Missing or foreign
// messages return sql.ErrNoRows.
func (r *MessageRepository) MarkRead(ctx context.Context, id, receiverID string, at time.Time) (*models.Message, error) {
	const query = `UPDATE messages SET is_read = TRUE, read_at = COALESCE(read_at, $3) WHERE id = $1 AND receiver_id = $2
		RETURNING id, sender_id, receiver_id, subject, content, is_read, read_at, appointment_id, created_at`
	var msg models.Message
	if err := r.db.GetContext(ctx, &msg, query, id, receiverID, at); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("mark message read: %w", err)
	}
	return &msg, nil
}

// MarkThreadRead flags every unread message from senderID to receiverID as
// read and returns how many changed.
func (r *MessageRepository) MarkThreadRead(ctx context.Context, receiverID, senderID string, at time.Time) (int64, error) {
	const query = `UPDATE messages SET is_read = TRUE, read_at = $3 WHERE receiver_id = $1 AND sender_id = $2 AND is_read = FALSE`
	res, err := r.db.ExecContext(ctx, query, receiverID, senderID, at)
	if err != nil {
		return 0, fmt.Errorf("mark conversation read: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("mark conversation read: %w", err)
	}
	return n, nil
}

// Delete removes a message the user sent or received.
func (r *MessageRepository) Delete(ctx context.Context, id, userID string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM messages WHERE id = $1 AND (sender_id = $2 OR receiver_id = $2)`, id, userID)
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return expectAffected(res)
}

// CountUnread returns the number of unread messages addressed to userID.
func (r *MessageRepository) CountUnread(ctx context.Context, userID string) (int, error) {
	var n int
	if err := r.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM messages WHERE receiver_id = $1 AND is_read = FALSE`, userID); err != nil {
		return 0, fmt.Errorf("count unread messages: %w", err)
	}
	return n, nil
}
