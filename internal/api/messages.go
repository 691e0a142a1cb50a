// Package api exposes the messaging service over REST.
package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"classifieds-messaging/backend/internal/conversation"
	"classifieds-messaging/backend/internal/service"
	"classifieds-messaging/backend/pkg/errors"
	"classifieds-messaging/backend/pkg/middleware"

	"github.com/gin-gonic/gin"
)

// MessagingService is the part of the service reachable over REST
type MessagingService interface {
	SendMessage(ctx context.Context, senderID string, req service.SendRequest) (*service.SendResult, error)
	GetConversation(ctx context.Context, viewerID, counterpartyID string, sinceID uint64, limit int) (*service.Page, error)
	GetHistory(ctx context.Context, viewerID, counterpartyID string, beforeID uint64, limit int) (*service.Page, error)
	ListConversations(ctx context.Context, userID string, limit int) ([]conversation.Summary, error)
	Sync(ctx context.Context, userID string, sinceID uint64, limit int) (*service.Page, error)
	UnreadCount(ctx context.Context, userID string) (int64, error)
	QuotaUsage(ctx context.Context, userID string) (*service.QuotaStatus, error)
	MarkRead(ctx context.Context, readerID, senderID string) (int64, error)
	Typing(ctx context.Context, fromID, toID string, active bool) error
	Block(ctx context.Context, blockerID, blockedID string) error
	Unblock(ctx context.Context, blockerID, blockedID string) error
}

// MessageController handles the direct-messaging endpoints
type MessageController struct {
	svc MessagingService
}

// NewMessageController creates a new message controller
func NewMessageController(svc MessagingService) *MessageController {
	return &MessageController{svc: svc}
}

// RegisterRoutes registers the routes on an authenticated group
func (h *MessageController) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/messages", h.SendMessage)
	rg.GET("/conversations", h.ListConversations)
	rg.GET("/conversations/:counterpartyId/messages", h.GetMessages)
	rg.POST("/conversations/:counterpartyId/read", h.MarkRead)
	rg.POST("/conversations/:counterpartyId/typing", h.Typing)
	rg.GET("/sync", h.Sync)
	rg.GET("/unread", h.Unread)
	rg.GET("/quota", h.Quota)
	rg.PUT("/blocks/:userId", h.Block)
	rg.DELETE("/blocks/:userId", h.Unblock)
}

// SendMessageResponse is returned for an accepted message
type SendMessageResponse struct {
	MessageID      uint64    `json:"message_id"`
	CreatedAt      time.Time `json:"created_at"`
	RemainingQuota any       `json:"remaining_quota"`
	Warning        string    `json:"warning,omitempty"`
	Message        any       `json:"message"`
}

// QuotaResponse reports today's allowance
type QuotaResponse struct {
	Limit     any  `json:"limit"`
	Used      int  `json:"used"`
	Remaining any  `json:"remaining"`
	Premium   bool `json:"premium"`
}

type typingRequest struct {
	Active bool `json:"active"`
}

// SendMessage accepts a message from the authenticated user
func (h *MessageController) SendMessage(c *gin.Context) {
	var req service.SendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errors.NewBadRequestError("invalid_input", "Invalid request body"))
		return
	}

	res, err := h.svc.SendMessage(c.Request.Context(), middleware.UserID(c), req)
	if err != nil {
		c.Error(service.ToAppError(err))
		return
	}

	c.JSON(http.StatusCreated, SendMessageResponse{
		MessageID:      res.Message.ID,
		CreatedAt:      res.Message.CreatedAt,
		RemainingQuota: res.QuotaValue(),
		Warning:        res.Warning,
		Message:        res.Message,
	})
}

// ListConversations returns the caller's inbox
func (h *MessageController) ListConversations(c *gin.Context) {
	limit, ok := queryInt(c, "limit")
	if !ok {
		return
	}

	summaries, err := h.svc.ListConversations(c.Request.Context(), middleware.UserID(c), int(limit))
	if err != nil {
		c.Error(service.ToAppError(err))
		return
	}
	if summaries == nil {
		summaries = []conversation.Summary{}
	}
	c.JSON(http.StatusOK, summaries)
}

// GetMessages serves one conversation. since_id polls forward, before_id
// pages backward, neither returns the latest page.
func (h *MessageController) GetMessages(c *gin.Context) {
	sinceID, ok := queryInt(c, "since_id")
	if !ok {
		return
	}
	beforeID, ok := queryInt(c, "before_id")
	if !ok {
		return
	}
	limit, ok := queryInt(c, "limit")
	if !ok {
		return
	}
	if sinceID > 0 && beforeID > 0 {
		c.Error(errors.NewBadRequestError("invalid_input", "since_id and before_id are mutually exclusive"))
		return
	}

	var (
		page *service.Page
		err  error
	)
	ctx, viewer, counterparty := c.Request.Context(), middleware.UserID(c), c.Param("counterpartyId")
	if beforeID > 0 {
		page, err = h.svc.GetHistory(ctx, viewer, counterparty, uint64(beforeID), int(limit))
	} else {
		page, err = h.svc.GetConversation(ctx, viewer, counterparty, uint64(sinceID), int(limit))
	}
	if err != nil {
		c.Error(service.ToAppError(err))
		return
	}
	c.JSON(http.StatusOK, page)
}

// MarkRead marks everything the counterparty sent to the caller as read
func (h *MessageController) MarkRead(c *gin.Context) {
	n, err := h.svc.MarkRead(c.Request.Context(), middleware.UserID(c), c.Param("counterpartyId"))
	if err != nil {
		c.Error(service.ToAppError(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": n})
}

// Typing relays a typing indicator to the counterparty
func (h *MessageController) Typing(c *gin.Context) {
	var req typingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errors.NewBadRequestError("invalid_input", "Invalid request body"))
		return
	}

	if err := h.svc.Typing(c.Request.Context(), middleware.UserID(c), c.Param("counterpartyId"), req.Active); err != nil {
		c.Error(service.ToAppError(err))
		return
	}
	c.Status(http.StatusNoContent)
}

// Sync returns messages from every conversation newer than since_id
func (h *MessageController) Sync(c *gin.Context) {
	sinceID, ok := queryInt(c, "since_id")
	if !ok {
		return
	}
	limit, ok := queryInt(c, "limit")
	if !ok {
		return
	}

	page, err := h.svc.Sync(c.Request.Context(), middleware.UserID(c), uint64(sinceID), int(limit))
	if err != nil {
		c.Error(service.ToAppError(err))
		return
	}
	c.JSON(http.StatusOK, page)
}

// Unread returns the caller's total unread count
func (h *MessageController) Unread(c *gin.Context) {
	n, err := h.svc.UnreadCount(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		c.Error(service.ToAppError(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"unread": n})
}

// Quota reports today's allowance without consuming it
func (h *MessageController) Quota(c *gin.Context) {
	status, err := h.svc.QuotaUsage(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		c.Error(service.ToAppError(err))
		return
	}

	resp := QuotaResponse{Limit: status.Limit, Used: status.Used, Remaining: status.Remaining, Premium: status.Premium}
	if status.Premium {
		resp.Limit, resp.Remaining = "unlimited", "unlimited"
	}
	c.JSON(http.StatusOK, resp)
}

// Block stops all messaging between the caller and userId
func (h *MessageController) Block(c *gin.Context) {
	if err := h.svc.Block(c.Request.Context(), middleware.UserID(c), c.Param("userId")); err != nil {
		c.Error(service.ToAppError(err))
		return
	}
	c.Status(http.StatusNoContent)
}

// Unblock lifts a block the caller placed
func (h *MessageController) Unblock(c *gin.Context) {
	if err := h.svc.Unblock(c.Request.Context(), middleware.UserID(c), c.Param("userId")); err != nil {
		c.Error(service.ToAppError(err))
		return
	}
	c.Status(http.StatusNoContent)
}

// queryInt parses an optional non-negative integer query parameter.
// On failure it records an invalid_input error and returns false.
func queryInt(c *gin.Context, name string) (int64, bool) {
	raw := c.Query(name)
	if raw == "" {
		return 0, true
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		c.Error(errors.NewBadRequestError("invalid_input", name+" must be a non-negative integer"))
		return 0, false
	}
	return v, true
}
