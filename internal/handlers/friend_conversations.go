package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zfogg/orbit/internal/util"
)

// ListConversations returns the caller's conversations, most recent first,
// each with the other participant, the last message and the unread count
// GET /friend-conversations?userId=
func (h *Handlers) ListConversations(c *gin.Context) {
	userID, ok := util.RequireSelfParam(c, "userId", c.Query("userId"))
	if !ok {
		return
	}

	ctx, cancel := h.requestContext(c)
	defer cancel()

	conversations, err := h.messages.ListConversations(ctx, userID)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversations": conversations})
}

type createConversationRequest struct {
	User1ID string `json:"user1Id" binding:"required"`
	User2ID string `json:"user2Id" binding:"required"`
}

// CreateConversation returns the conversation between two users, creating it
// on first contact. Argument order does not matter.
// POST /friend-conversations
func (h *Handlers) CreateConversation(c *gin.Context) {
	userID, ok := util.GetUserIDFromContext(c)
	if !ok {
		return
	}

	var req createConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		util.RespondBadRequest(c, "user1Id and user2Id are required")
		return
	}
	if userID != req.User1ID && userID != req.User2ID {
		util.RespondUnauthorized(c, "token does not match either participant")
		return
	}

	ctx, cancel := h.requestContext(c)
	defer cancel()

	conv, created, err := h.messages.GetOrCreateConversation(ctx, userID, req.User1ID, req.User2ID)
	if err != nil {
		respondDomainError(c, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{"conversation": conv, "created": created})
}

// MarkConversationRead marks every unread message from the other participant.
// Individual failures are reported in the tally, not as an error status.
// POST /friend-conversations/:id/read
func (h *Handlers) MarkConversationRead(c *gin.Context) {
	userID, ok := util.GetUserIDFromContext(c)
	if !ok {
		return
	}

	ctx, cancel := h.requestContext(c)
	defer cancel()

	result, err := h.receipts.MarkAllUnreadInConversation(ctx, c.Param("id"), userID)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	if h.metrics != nil && result.Succeeded > 0 {
		h.metrics.ReadReceiptsTotal.WithLabelValues("created").Add(float64(result.Succeeded))
	}
	c.JSON(http.StatusOK, result)
}

// LiveConversation upgrades to a websocket streaming the conversation
// GET /friend-conversations/:id/live
func (h *Handlers) LiveConversation(c *gin.Context) {
	userID, ok := util.GetUserIDFromContext(c)
	if !ok {
		return
	}

	ctx, cancel := h.requestContext(c)
	conv, err := h.messages.Conversation(ctx, c.Param("id"), userID)
	cancel()
	if err != nil {
		respondDomainError(c, err)
		return
	}

	h.live.Serve(c, conv.ID, userID)
}

// GetUnreadCounts returns the caller's unread counts per conversation
// GET /friends/messages?userId=
func (h *Handlers) GetUnreadCounts(c *gin.Context) {
	userID, ok := util.RequireSelfParam(c, "userId", c.Query("userId"))
	if !ok {
		return
	}

	ctx, cancel := h.requestContext(c)
	defer cancel()

	start := time.Now()
	counts, err := h.receipts.ComputeUnreadCounts(ctx, userID)
	if h.metrics != nil {
		h.metrics.UnreadCountsDuration.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		respondDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, counts)
}
