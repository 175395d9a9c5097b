package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/littledevelop/student-teacher-appointment-backend/internal/models"
	"github.com/littledevelop/student-teacher-appointment-backend/internal/service"
	"github.com/littledevelop/student-teacher-appointment-backend/pkg/response"
)

type messageService interface {
	Send(ctx context.Context, actor models.Actor, req service.SendMessageRequest) (*models.MessageView, error)
	List(ctx context.Context, actor models.Actor, page, limit int, unreadOnly bool) ([]models.MessageView, *models.Pagination, error)
	MarkRead(ctx context.Context, actor models.Actor, id string) (*models.Message, error)
	Delete(ctx context.Context, actor models.Actor, id string) error
	UnreadCount(ctx context.Context, actor models.Actor) (int, error)
	GetConversations(ctx context.Context, actor models.Actor, page, limit int) ([]models.Conversation, *models.Pagination, error)
	GetConversationMessages(ctx context.Context, actor models.Actor, otherID string, page, limit int) ([]models.MessageView, *models.Pagination, error)
}

// MessageHandler exposes direct messages and conversations.
type MessageHandler struct {
	service messageService
}

// NewMessageHandler constructs the handler.
func NewMessageHandler(svc messageService) *MessageHandler {
	return &MessageHandler{service: svc}
}

// Send godoc
// @Summary Send message
// @Tags Messages
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body service.SendMessageRequest true "Message"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /messages [post]
func (h *MessageHandler) Send(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	var req service.SendMessageRequest
	if !bindJSON(c, &req, "invalid message payload") {
		return
	}
	msg, err := h.service.Send(c.Request.Context(), actor, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, msg)
}

// List godoc
// @Summary Inbox
// @Description Messages sent or received by the caller, newest first
// @Tags Messages
// @Produce json
// @Security BearerAuth
// @Param page query int false "Page number"
// @Param limit query int false "Page size"
// @Param unread_only query bool false "Only unread messages addressed to the caller"
// @Success 200 {object} response.Envelope
// @Router /messages [get]
func (h *MessageHandler) List(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	unreadOnly, _ := strconv.ParseBool(c.Query("unread_only"))
	msgs, pagination, err := h.service.List(c.Request.Context(), actor, queryInt(c, "page"), queryInt(c, "limit"), unreadOnly)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, msgs, pagination)
}

// MarkRead godoc
// @Summary Mark message read
// @Tags Messages
// @Produce json
// @Security BearerAuth
// @Param id path string true "Message ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /messages/{id}/read [put]
func (h *MessageHandler) MarkRead(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	msg, err := h.service.MarkRead(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, msg)
}

// Delete godoc
// @Summary Delete message
// @Tags Messages
// @Security BearerAuth
// @Param id path string true "Message ID"
// @Success 204
// @Failure 404 {object} response.Envelope
// @Router /messages/{id} [delete]
func (h *MessageHandler) Delete(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	if err := h.service.Delete(c.Request.Context(), actor, c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// UnreadCount godoc
// @Summary Unread message count
// @Tags Messages
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Router /messages/unread/count [get]
func (h *MessageHandler) UnreadCount(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	n, err := h.service.UnreadCount(c.Request.Context(), actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"unread_count": n})
}

// Conversations godoc
// @Summary Conversations
// @Description One entry per counterpart, most recently active first
// @Tags Messages
// @Produce json
// @Security BearerAuth
// @Param page query int false "Page number"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /messages/conversations [get]
func (h *MessageHandler) Conversations(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	conversations, pagination, err := h.service.GetConversations(c.Request.Context(), actor, queryInt(c, "page"), queryInt(c, "limit"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, conversations, pagination)
}

// ConversationMessages godoc
// @Summary Conversation thread
// @Description Messages exchanged with another user in chronological order. Marks the other user's messages read.
// @Tags Messages
// @Produce json
// @Security BearerAuth
// @Param otherUserId path string true "Other user ID"
// @Param page query int false "Page number"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /messages/conversations/{otherUserId} [get]
func (h *MessageHandler) ConversationMessages(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	msgs, pagination, err := h.service.GetConversationMessages(c.Request.Context(), actor, c.Param("otherUserId"), queryInt(c, "page"), queryInt(c, "limit"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, msgs, pagination)
}
