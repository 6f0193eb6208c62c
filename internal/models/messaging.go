package models

import (
	"time"

	"gorm.io/gorm"
)

// MessageType is the kind of payload a friend message carries
type MessageType string

const (
	MessageTypeText  MessageType = "text"
	MessageTypeImage MessageType = "image"
	MessageTypeVideo MessageType = "video"
	MessageTypeAudio MessageType = "audio"
)

// IsMedia reports whether the message type is backed by an uploaded blob
func (t MessageType) IsMedia() bool {
	return t == MessageTypeImage || t == MessageTypeVideo || t == MessageTypeAudio
}

// Valid reports whether t is a known message type
func (t MessageType) Valid() bool {
	return t == MessageTypeText || t.IsMedia()
}

// Conversation is the unique channel between two users.
// User1ID is always the lexically lower id so an unordered pair maps to one row.
type Conversation struct {
	ID            string     `gorm:"primaryKey;type:uuid" json:"id"`
	User1ID       string     `gorm:"type:uuid;not null;uniqueIndex:idx_friend_conversations_pair,priority:1;index" json:"user1_id"`
	User2ID       string     `gorm:"type:uuid;not null;uniqueIndex:idx_friend_conversations_pair,priority:2;index" json:"user2_id"`
	LastMessageAt *time.Time `gorm:"index" json:"last_message_at"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName keeps friend conversations apart from other conversation kinds
func (Conversation) TableName() string {
	return "friend_conversations"
}

// HasParticipant reports whether userID is one of the two participants
func (c *Conversation) HasParticipant(userID string) bool {
	return userID != "" && (c.User1ID == userID || c.User2ID == userID)
}

// OtherParticipant returns the participant that is not userID
func (c *Conversation) OtherParticipant(userID string) string {
	if c.User1ID == userID {
		return c.User2ID
	}
	return c.User1ID
}

// NormalizePair orders two user ids so the lower one comes first
func NormalizePair(a, b string) (string, string) {
	if b < a {
		return b, a
	}
	return a, b
}

// FriendMessage is a single message in a conversation
type FriendMessage struct {
	ID             string        `gorm:"primaryKey;type:uuid" json:"id"`
	ConversationID string        `gorm:"type:uuid;not null;index:idx_friend_messages_conversation_created,priority:1" json:"conversation_id"`
	Conversation   *Conversation `gorm:"foreignKey:ConversationID;constraint:OnDelete:CASCADE" json:"-"`
	SenderID       string        `gorm:"type:uuid;not null;index" json:"sender_id"`
	Type           MessageType   `gorm:"type:varchar(16);not null;default:text" json:"type"`
	Content        string        `gorm:"type:text" json:"content,omitempty"`

	// Media fields (image/video/audio messages)
	MediaURL  string `json:"media_url,omitempty"`
	MediaKey  string `json:"-"`
	MediaMIME string `json:"media_mime,omitempty"`
	MediaSize int64  `json:"media_size,omitempty"`

	CreatedAt time.Time `gorm:"index:idx_friend_messages_conversation_created,priority:2" json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName for friend messages
func (FriendMessage) TableName() string {
	return "friend_messages"
}

// MessageReadReceipt asserts that a reader has seen a message.
// One row per (message, reader); never written for the message's sender.
type MessageReadReceipt struct {
	ID        string         `gorm:"primaryKey;type:uuid" json:"id"`
	MessageID string         `gorm:"type:uuid;not null;uniqueIndex:idx_message_read_receipts_unique,priority:1" json:"message_id"`
	Message   *FriendMessage `gorm:"foreignKey:MessageID;constraint:OnDelete:CASCADE" json:"-"`
	ReaderID  string         `gorm:"type:uuid;not null;uniqueIndex:idx_message_read_receipts_unique,priority:2;index" json:"reader_id"`
	ReadAt    time.Time      `gorm:"not null" json:"read_at"`
}

// TableName for read receipts
func (MessageReadReceipt) TableName() string {
	return "message_read_receipts"
}

func (c *Conversation) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = generateUUID()
	}
	return nil
}

func (m *FriendMessage) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = generateUUID()
	}
	if m.Type == "" {
		m.Type = MessageTypeText
	}
	return nil
}

func (r *MessageReadReceipt) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = generateUUID()
	}
	if r.ReadAt.IsZero() {
		r.ReadAt = time.Now().UTC()
	}
	return nil
}
