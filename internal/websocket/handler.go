package websocket

import (
	"context"
	"net/http"
	"slices"
	"time"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
	"github.com/zfogg/orbit/internal/logger"
	"go.uber.org/zap"
)

// Handler upgrades authorized requests into live conversation viewers
type Handler struct {
	hub            *Hub
	originPatterns []string
}

// NewHandler creates a Handler. originPatterns follow
// websocket.AcceptOptions; a "*" entry accepts any origin.
func NewHandler(hub *Hub, originPatterns []string) *Handler {
	return &Handler{
		hub:            hub,
		originPatterns: originPatterns,
	}
}

// Serve upgrades the request and streams conversationID to userID until the
// socket closes. The caller has already authenticated the user and checked
// that they take part in the conversation.
func (h *Handler) Serve(c *gin.Context, conversationID, userID string) {
	conn, err := websocket.Accept(hijackableWriter(c.Writer), c.Request, &websocket.AcceptOptions{
		OriginPatterns:     h.originPatterns,
		InsecureSkipVerify: slices.Contains(h.originPatterns, "*"),
		CompressionMode:    websocket.CompressionContextTakeover,
	})
	if err != nil {
		// Accept has already written the HTTP error response
		logger.Log.Warn("WebSocket upgrade failed",
			zap.String("conversation_id", conversationID),
			zap.Error(err))
		return
	}

	client := NewClient(h.hub, conn, userID, conversationID)
	client.RemoteAddr = c.ClientIP()

	if err := client.Send(NewMessage(MessageTypeSystem, SystemPayload{
		Event: EventConnected,
		Data: map[string]interface{}{
			"user_id":         userID,
			"conversation_id": conversationID,
			"server_time":     time.Now().UTC().UnixMilli(),
		},
	})); err != nil {
		client.Close()
		return
	}

	go client.WritePump()

	if err := h.hub.Join(c.Request.Context(), client); err != nil {
		logger.Log.Error("Failed to join live conversation",
			zap.String("conversation_id", conversationID),
			zap.String("user_id", userID),
			zap.Error(err))
		client.closeWith(websocket.StatusInternalError, "delivery unavailable")
		return
	}

	client.ReadPump() // blocks until the client disconnects
}

// hijackableWriter returns the net/http writer under gin's. Accept flushes
// headers on gin's writer, after which gin refuses to hijack.
func hijackableWriter(w gin.ResponseWriter) http.ResponseWriter {
	if u, ok := w.(interface{ Unwrap() http.ResponseWriter }); ok {
		return u.Unwrap()
	}
	return w
}

// Shutdown gracefully shuts down every live viewer
func (h *Handler) Shutdown(ctx context.Context) error {
	return h.hub.Shutdown(ctx)
}

// Hub returns the hub for external access
func (h *Handler) Hub() *Hub {
	return h.hub
}
