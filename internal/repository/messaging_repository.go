package repository

import (
	"context"
	"time"

	"github.com/zfogg/orbit/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// inClauseChunk bounds the number of bind parameters per IN (...) query
const inClauseChunk = 500

// MessagingRepository is the query interface over conversations, messages and read receipts
type MessagingRepository interface {
	// Conversations
	GetConversation(ctx context.Context, conversationID string) (*models.Conversation, error)
	FindConversationByPair(ctx context.Context, user1ID, user2ID string) (*models.Conversation, error)
	CreateConversation(ctx context.Context, conv *models.Conversation) error
	ListConversationsForUser(ctx context.Context, userID string) ([]models.Conversation, error)
	TouchConversation(ctx context.Context, conversationID string, at time.Time) error

	// Messages
	CreateMessage(ctx context.Context, msg *models.FriendMessage) error
	GetMessage(ctx context.Context, messageID string) (*models.FriendMessage, error)
	DeleteMessage(ctx context.Context, messageID string) error
	ListMessages(ctx context.Context, conversationID string, limit, offset int) ([]models.FriendMessage, error)
	MessagesSince(ctx context.Context, conversationID string, since time.Time) ([]models.FriendMessage, error)
	LastMessages(ctx context.Context, conversationIDs []string) (map[string]models.FriendMessage, error)
	ListMessagesFromOthers(ctx context.Context, conversationIDs []string, userID string) ([]models.FriendMessage, error)

	// Read receipts
	FindReceipt(ctx context.Context, messageID, readerID string) (*models.MessageReadReceipt, error)
	FindReceiptForMessage(ctx context.Context, messageID string) (*models.MessageReadReceipt, error)
	CreateReceipt(ctx context.Context, receipt *models.MessageReadReceipt) (bool, error)
	ListReceiptsForReader(ctx context.Context, readerID string, messageIDs []string) ([]models.MessageReadReceipt, error)
}

type messagingRepository struct {
	db *gorm.DB
}

// NewMessagingRepository creates a new messaging repository
func NewMessagingRepository(db *gorm.DB) MessagingRepository {
	return &messagingRepository{db: db}
}

// GetConversation gets a conversation by ID
func (r *messagingRepository) GetConversation(ctx context.Context, conversationID string) (*models.Conversation, error) {
	var conv models.Conversation
	if err := r.db.WithContext(ctx).Where("id = ?", conversationID).First(&conv).Error; err != nil {
		return nil, translate(err)
	}
	return &conv, nil
}

// FindConversationByPair looks up the conversation for an already normalized pair
func (r *messagingRepository) FindConversationByPair(ctx context.Context, user1ID, user2ID string) (*models.Conversation, error) {
	var conv models.Conversation
	err := r.db.WithContext(ctx).
		Where("user1_id = ? AND user2_id = ?", user1ID, user2ID).
		First(&conv).Error
	if err != nil {
		return nil, translate(err)
	}
	return &conv, nil
}

// CreateConversation inserts a conversation; ErrDuplicate when the pair already has one
func (r *messagingRepository) CreateConversation(ctx context.Context, conv *models.Conversation) error {
	if conv == nil || conv.User1ID == "" || conv.User2ID == "" {
		return ErrInvalidInput
	}
	return translate(r.db.WithContext(ctx).Create(conv).Error)
}

// ListConversationsForUser returns the user's conversations, most recently active first
func (r *messagingRepository) ListConversationsForUser(ctx context.Context, userID string) ([]models.Conversation, error) {
	var convs []models.Conversation
	err := r.db.WithContext(ctx).
		Where("user1_id = ? OR user2_id = ?", userID, userID).
		Order(clause.OrderBy{Expression: clause.Expr{SQL: "CASE WHEN last_message_at IS NULL THEN 1 ELSE 0 END, last_message_at DESC, created_at DESC"}}).
		Find(&convs).Error
	return convs, err
}

// TouchConversation bumps last_message_at
func (r *messagingRepository) TouchConversation(ctx context.Context, conversationID string, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.Conversation{}).
		Where("id = ?", conversationID).
		Update("last_message_at", at).Error
}

// CreateMessage inserts a message
func (r *messagingRepository) CreateMessage(ctx context.Context, msg *models.FriendMessage) error {
	if msg == nil || msg.ConversationID == "" || msg.SenderID == "" {
		return ErrInvalidInput
	}
	return translate(r.db.WithContext(ctx).Create(msg).Error)
}

// GetMessage gets a message by ID
func (r *messagingRepository) GetMessage(ctx context.Context, messageID string) (*models.FriendMessage, error) {
	var msg models.FriendMessage
	if err := r.db.WithContext(ctx).Where("id = ?", messageID).First(&msg).Error; err != nil {
		return nil, translate(err)
	}
	return &msg, nil
}

// DeleteMessage removes a message and its read receipts
func (r *messagingRepository) DeleteMessage(ctx context.Context, messageID string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("message_id = ?", messageID).Delete(&models.MessageReadReceipt{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", messageID).Delete(&models.FriendMessage{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// ListMessages returns a newest-first page of a conversation
func (r *messagingRepository) ListMessages(ctx context.Context, conversationID string, limit, offset int) ([]models.FriendMessage, error) {
	var msgs []models.FriendMessage
	err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Offset(offset).
		Find(&msgs).Error
	return msgs, err
}

// MessagesSince returns messages created at or after since, oldest first.
// Callers drop the ones they already saw at the since timestamp.
func (r *messagingRepository) MessagesSince(ctx context.Context, conversationID string, since time.Time) ([]models.FriendMessage, error) {
	var msgs []models.FriendMessage
	err := r.db.WithContext(ctx).
		Where("conversation_id = ? AND created_at >= ?", conversationID, since).
		Order("created_at ASC").
		Order("id ASC").
		Find(&msgs).Error
	return msgs, err
}

// LastMessages returns the newest message of each conversation that has one
func (r *messagingRepository) LastMessages(ctx context.Context, conversationIDs []string) (map[string]models.FriendMessage, error) {
	out := make(map[string]models.FriendMessage, len(conversationIDs))
	for _, chunk := range chunkIDs(conversationIDs) {
		latest := r.db.Model(&models.FriendMessage{}).
			Select("conversation_id, MAX(created_at) AS created_at").
			Where("conversation_id IN ?", chunk).
			Group("conversation_id")

		var msgs []models.FriendMessage
		err := r.db.WithContext(ctx).
			Joins("JOIN (?) AS latest ON latest.conversation_id = friend_messages.conversation_id AND latest.created_at = friend_messages.created_at", latest).
			Find(&msgs).Error
		if err != nil {
			return nil, err
		}
		// rows tied on created_at resolve to the highest id, matching ListMessages
		for _, m := range msgs {
			if cur, ok := out[m.ConversationID]; !ok || m.ID > cur.ID {
				out[m.ConversationID] = m
			}
		}
	}
	return out, nil
}

// ListMessagesFromOthers returns the id/conversation/sender of every message in
// the given conversations not sent by userID
func (r *messagingRepository) ListMessagesFromOthers(ctx context.Context, conversationIDs []string, userID string) ([]models.FriendMessage, error) {
	msgs := []models.FriendMessage{}
	for _, chunk := range chunkIDs(conversationIDs) {
		var page []models.FriendMessage
		err := r.db.WithContext(ctx).
			Select("id", "conversation_id", "sender_id", "created_at").
			Where("conversation_id IN ? AND sender_id <> ?", chunk, userID).
			Order("created_at ASC").
			Find(&page).Error
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, page...)
	}
	return msgs, nil
}

// FindReceipt returns the receipt for (message, reader)
func (r *messagingRepository) FindReceipt(ctx context.Context, messageID, readerID string) (*models.MessageReadReceipt, error) {
	var receipt models.MessageReadReceipt
	err := r.db.WithContext(ctx).
		Where("message_id = ? AND reader_id = ?", messageID, readerID).
		First(&receipt).Error
	if err != nil {
		return nil, translate(err)
	}
	return &receipt, nil
}

// FindReceiptForMessage returns the earliest receipt of a message by anyone
func (r *messagingRepository) FindReceiptForMessage(ctx context.Context, messageID string) (*models.MessageReadReceipt, error) {
	var receipt models.MessageReadReceipt
	err := r.db.WithContext(ctx).
		Where("message_id = ?", messageID).
		Order("read_at ASC").
		First(&receipt).Error
	if err != nil {
		return nil, translate(err)
	}
	return &receipt, nil
}

// CreateReceipt inserts a receipt unless one exists for (message, reader).
// Returns false when the row already existed.
func (r *messagingRepository) CreateReceipt(ctx context.Context, receipt *models.MessageReadReceipt) (bool, error) {
	if receipt == nil || receipt.MessageID == "" || receipt.ReaderID == "" {
		return false, ErrInvalidInput
	}
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "message_id"}, {Name: "reader_id"}},
			DoNothing: true,
		}).
		Create(receipt)
	if res.Error != nil {
		return false, translate(res.Error)
	}
	return res.RowsAffected > 0, nil
}

// ListReceiptsForReader returns the reader's receipts among messageIDs
func (r *messagingRepository) ListReceiptsForReader(ctx context.Context, readerID string, messageIDs []string) ([]models.MessageReadReceipt, error) {
	receipts := []models.MessageReadReceipt{}
	for _, chunk := range chunkIDs(messageIDs) {
		var page []models.MessageReadReceipt
		err := r.db.WithContext(ctx).
			Where("reader_id = ? AND message_id IN ?", readerID, chunk).
			Find(&page).Error
		if err != nil {
			return nil, err
		}
		receipts = append(receipts, page...)
	}
	return receipts, nil
}

// chunkIDs splits ids into slices of at most inClauseChunk
func chunkIDs(ids []string) [][]string {
	var chunks [][]string
	for start := 0; start < len(ids); start += inClauseChunk {
		end := start + inClauseChunk
		if end > len(ids) {
			end = len(ids)
		}
		chunks = append(chunks, ids[start:end])
	}
	return chunks
}
