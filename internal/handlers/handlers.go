// Package handlers exposes friend messaging over HTTP.
package handlers

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zfogg/orbit/internal/messaging"
	"github.com/zfogg/orbit/internal/metrics"
	"github.com/zfogg/orbit/internal/models"
	"github.com/zfogg/orbit/internal/receipts"
)

// DefaultRequestTimeout bounds the store and storage work of one request
const DefaultRequestTimeout = 15 * time.Second

// MessagingService is the messaging behaviour the handlers need
type MessagingService interface {
	GetOrCreateConversation(ctx context.Context, callerID, userA, userB string) (*models.Conversation, bool, error)
	Conversation(ctx context.Context, conversationID, requesterID string) (*models.Conversation, error)
	SendText(ctx context.Context, conversationID, senderID, content string) (*models.FriendMessage, error)
	SendMedia(ctx context.Context, upload messaging.MediaUpload) (*models.FriendMessage, error)
	ListMessages(ctx context.Context, conversationID, requesterID string, limit, offset int) (*messaging.MessagePage, error)
	ListConversations(ctx context.Context, userID string) ([]receipts.ConversationSummary, error)
	DeleteMessage(ctx context.Context, messageID, requesterID string) error
}

// ReceiptEngine is the read-receipt behaviour the handlers need
type ReceiptEngine interface {
	MarkRead(ctx context.Context, messageID, readerID string) (receipts.MarkResult, error)
	GetReadStatus(ctx context.Context, messageID, requesterID string) (receipts.ReadStatus, error)
	ComputeUnreadCounts(ctx context.Context, userID string) (receipts.UnreadCounts, error)
	MarkAllUnreadInConversation(ctx context.Context, conversationID, userID string) (receipts.BulkResult, error)
}

// LiveServer streams a conversation over a websocket
type LiveServer interface {
	Serve(c *gin.Context, conversationID, userID string)
}

// Handlers contains all HTTP handlers for the API
type Handlers struct {
	messages MessagingService
	receipts ReceiptEngine
	live     LiveServer
	metrics  *metrics.Metrics
	timeout  time.Duration
}

// NewHandlers creates a new handlers instance
func NewHandlers(messages MessagingService, engine ReceiptEngine) *Handlers {
	return &Handlers{
		messages: messages,
		receipts: engine,
		timeout:  DefaultRequestTimeout,
	}
}

// SetLiveServer sets the websocket relay for /friend-conversations/:id/live
func (h *Handlers) SetLiveServer(live LiveServer) {
	h.live = live
}

// SetMetrics enables business metrics
func (h *Handlers) SetMetrics(m *metrics.Metrics) {
	h.metrics = m
}

// SetRequestTimeout overrides DefaultRequestTimeout
func (h *Handlers) SetRequestTimeout(d time.Duration) {
	if d > 0 {
		h.timeout = d
	}
}

// Middlewares wraps the routes that need more than the auth check
type Middlewares struct {
	Auth     gin.HandlerFunc
	LiveAuth gin.HandlerFunc
	SendRate gin.HandlerFunc
}

// RegisterRoutes mounts every friend messaging route on rg
func (h *Handlers) RegisterRoutes(rg *gin.RouterGroup, mw Middlewares) {
	send := func(handler gin.HandlerFunc) []gin.HandlerFunc {
		chain := []gin.HandlerFunc{mw.Auth}
		if mw.SendRate != nil {
			chain = append(chain, mw.SendRate)
		}
		return append(chain, handler)
	}

	messages := rg.Group("/friend-messages")
	{
		messages.GET("", mw.Auth, h.ListMessages)
		messages.POST("", send(h.SendMessage)...)
		messages.POST("/upload", send(h.UploadMedia)...)
		messages.DELETE("/:id", mw.Auth, h.DeleteMessage)
		messages.GET("/:id/read-status", mw.Auth, h.GetReadStatus)
		messages.POST("/:id/read-status", mw.Auth, h.MarkRead)
	}

	conversations := rg.Group("/friend-conversations")
	{
		conversations.GET("", mw.Auth, h.ListConversations)
		conversations.POST("", mw.Auth, h.CreateConversation)
		conversations.POST("/:id/read", mw.Auth, h.MarkConversationRead)
		if h.live != nil {
			liveAuth := mw.LiveAuth
			if liveAuth == nil {
				liveAuth = mw.Auth
			}
			conversations.GET("/:id/live", liveAuth, h.LiveConversation)
		}
	}

	rg.GET("/friends/messages", mw.Auth, h.GetUnreadCounts)
}

// requestContext derives the per-request deadline
func (h *Handlers) requestContext(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), h.timeout)
}
