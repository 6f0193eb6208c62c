package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/zfogg/orbit/internal/messaging"
	"github.com/zfogg/orbit/internal/models"
	"github.com/zfogg/orbit/internal/util"
)

// multipart overhead allowed on top of the largest attachment
const uploadOverhead = 1 << 20

// ListMessages returns a page of conversation history, oldest first
// GET /friend-messages?conversationId=&limit=&offset=
func (h *Handlers) ListMessages(c *gin.Context) {
	userID, ok := util.GetUserIDFromContext(c)
	if !ok {
		return
	}

	conversationID := c.Query("conversationId")
	if conversationID == "" {
		util.RespondValidationError(c, "conversationId", "conversationId is required")
		return
	}
	limit, ok := util.ParseNonNegativeInt(c.Query("limit"), messaging.DefaultPageSize)
	if !ok {
		util.RespondValidationError(c, "limit", "limit must be a non-negative integer")
		return
	}
	offset, ok := util.ParseNonNegativeInt(c.Query("offset"), 0)
	if !ok {
		util.RespondValidationError(c, "offset", "offset must be a non-negative integer")
		return
	}

	ctx, cancel := h.requestContext(c)
	defer cancel()

	page, err := h.messages.ListMessages(ctx, conversationID, userID, limit, offset)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

type sendMessageRequest struct {
	ConversationID string `json:"conversationId" binding:"required"`
	SenderID       string `json:"senderId"`
	Content        string `json:"content"`
}

// SendMessage sends a text message
// POST /friend-messages
func (h *Handlers) SendMessage(c *gin.Context) {
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		util.RespondBadRequest(c, "conversationId and content are required")
		return
	}
	senderID, ok := util.RequireSelf(c, req.SenderID)
	if !ok {
		return
	}

	ctx, cancel := h.requestContext(c)
	defer cancel()

	msg, err := h.messages.SendText(ctx, req.ConversationID, senderID, req.Content)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	h.recordSent(msg.Type)
	c.JSON(http.StatusCreated, gin.H{"message": msg})
}

// UploadMedia sends an image, video or audio message. The attachment is
// validated before anything is written to storage.
// POST /friend-messages/upload (multipart: conversationId, senderId, type, caption, file)
func (h *Handlers) UploadMedia(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, messaging.MaxVideoBytes+uploadOverhead)

	senderID, ok := util.RequireSelf(c, c.PostForm("senderId"))
	if !ok {
		return
	}
	conversationID := c.PostForm("conversationId")
	if conversationID == "" {
		util.RespondValidationError(c, "conversationId", "conversationId is required")
		return
	}
	msgType := models.MessageType(c.PostForm("type"))
	if !msgType.IsMedia() {
		util.RespondValidationError(c, "type", "type must be one of image, video, audio")
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			util.RespondValidationError(c, "file", "upload is too large")
			return
		}
		util.RespondValidationError(c, "file", "file is required")
		return
	}
	if rule, ok := messaging.RuleFor(msgType); ok && fileHeader.Size > rule.MaxBytes {
		util.RespondValidationError(c, "file", "file exceeds the size limit for "+string(msgType))
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		util.RespondBadRequest(c, "failed to read uploaded file")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		util.RespondBadRequest(c, "failed to read uploaded file")
		return
	}

	ctx, cancel := h.requestContext(c)
	defer cancel()

	msg, err := h.messages.SendMedia(ctx, messaging.MediaUpload{
		ConversationID: conversationID,
		SenderID:       senderID,
		Type:           msgType,
		ContentType:    fileHeader.Header.Get("Content-Type"),
		Filename:       fileHeader.Filename,
		Caption:        c.PostForm("caption"),
		Data:           data,
	})
	if err != nil {
		respondDomainError(c, err)
		return
	}
	h.recordSent(msg.Type)
	c.JSON(http.StatusCreated, gin.H{"message": msg})
}

// DeleteMessage deletes one of the caller's own messages
// DELETE /friend-messages/:id
func (h *Handlers) DeleteMessage(c *gin.Context) {
	userID, ok := util.GetUserIDFromContext(c)
	if !ok {
		return
	}

	ctx, cancel := h.requestContext(c)
	defer cancel()

	if err := h.messages.DeleteMessage(ctx, c.Param("id"), userID); err != nil {
		respondDomainError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GetReadStatus tells the sender whether their message was read
// GET /friend-messages/:id/read-status
func (h *Handlers) GetReadStatus(c *gin.Context) {
	userID, ok := util.GetUserIDFromContext(c)
	if !ok {
		return
	}

	ctx, cancel := h.requestContext(c)
	defer cancel()

	status, err := h.receipts.GetReadStatus(ctx, c.Param("id"), userID)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

// MarkRead records that the caller read a message sent to them
// POST /friend-messages/:id/read-status
func (h *Handlers) MarkRead(c *gin.Context) {
	userID, ok := util.GetUserIDFromContext(c)
	if !ok {
		return
	}

	ctx, cancel := h.requestContext(c)
	defer cancel()

	result, err := h.receipts.MarkRead(ctx, c.Param("id"), userID)
	if err != nil {
		h.recordReceipt("rejected")
		respondDomainError(c, err)
		return
	}
	if result.AlreadyRead {
		h.recordReceipt("already_read")
	} else {
		h.recordReceipt("created")
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handlers) recordSent(t models.MessageType) {
	if h.metrics != nil {
		h.metrics.MessagesSentTotal.WithLabelValues(string(t)).Inc()
	}
}

func (h *Handlers) recordReceipt(result string) {
	if h.metrics != nil {
		h.metrics.ReadReceiptsTotal.WithLabelValues(result).Inc()
	}
}
