package realtime

import (
	"time"

	"github.com/zfogg/orbit/internal/models"
)

// EventType is the kind of row change carried by a ChangeEvent
type EventType string

const (
	EventInsert EventType = "INSERT"
	EventDelete EventType = "DELETE"
)

// ChannelStatus is reported by a provider over the lifetime of a channel
type ChannelStatus string

const (
	StatusSubscribed   ChannelStatus = "SUBSCRIBED"
	StatusChannelError ChannelStatus = "CHANNEL_ERROR"
	StatusClosed       ChannelStatus = "CLOSED"
)

// ChangeEvent describes a message inserted into or deleted from a conversation
type ChangeEvent struct {
	Type           EventType             `json:"type"`
	ConversationID string                `json:"conversation_id"`
	MessageID      string                `json:"message_id"`
	Message        *models.FriendMessage `json:"message,omitempty"`
	OccurredAt     time.Time             `json:"occurred_at"`
}

// InsertEvent builds the event for a newly stored message
func InsertEvent(msg *models.FriendMessage) ChangeEvent {
	return ChangeEvent{
		Type:           EventInsert,
		ConversationID: msg.ConversationID,
		MessageID:      msg.ID,
		Message:        msg,
		OccurredAt:     msg.CreatedAt,
	}
}

// DeleteEvent builds the event for a removed message
func DeleteEvent(conversationID, messageID string) ChangeEvent {
	return ChangeEvent{
		Type:           EventDelete,
		ConversationID: conversationID,
		MessageID:      messageID,
		OccurredAt:     time.Now().UTC(),
	}
}

// Topic is the channel name carrying a conversation's change events
func Topic(conversationID string) string {
	return "friend_messages:" + conversationID
}
