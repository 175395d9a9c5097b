package models

import "time"

// Message is a direct message between two users.
type Message struct {
	ID            string     `db:"id" json:"id"`
	SenderID      string     `db:"sender_id" json:"sender_id"`
	ReceiverID    string     `db:"receiver_id" json:"receiver_id"`
	Subject       string     `db:"subject" json:"subject"`
	Content       string     `db:"content" json:"content"`
	IsRead        bool       `db:"is_read" json:"is_read"`
	ReadAt        *time.Time `db:"read_at" json:"read_at,omitempty"`
	AppointmentID *string    `db:"appointment_id" json:"appointment_id,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
}

// MessageView is a message with sender and receiver resolved. A nil
// projection means the referenced user no longer exists.
type MessageView struct {
	Message
	Sender   *UserRef `json:"sender,omitempty"`
	Receiver *UserRef `json:"receiver,omitempty"`
}

// MessageFilter selects an inbox page.
type MessageFilter struct {
	UserID     string
	UnreadOnly bool
	Page       int
	PageSize   int
}

// Conversation groups the messages a user exchanged with one other user.
// It is derived on every request and never stored.
type Conversation struct {
	OtherUser    UserRef     `json:"other_user"`
	LastMessage  MessageView `json:"last_message"`
	UnreadCount  int         `json:"unread_count"`
	MessageCount int         `json:"message_count"`
}
