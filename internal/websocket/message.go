package websocket

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/zfogg/orbit/internal/models"
	"github.com/zfogg/orbit/internal/realtime"
)

// FlexibleTime handles both Unix millisecond timestamps and RFC3339 strings
type FlexibleTime struct {
	time.Time
}

// UnmarshalJSON implements custom unmarshaling for timestamps
func (ft *FlexibleTime) UnmarshalJSON(b []byte) error {
	var ms int64
	if err := json.Unmarshal(b, &ms); err == nil {
		ft.Time = time.UnixMilli(ms)
		return nil
	}

	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return fmt.Errorf("timestamp must be Unix milliseconds (integer) or RFC3339 string")
	}

	t, err := time.Parse(time.RFC3339, str)
	if err != nil {
		return err
	}
	ft.Time = t
	return nil
}

// MarshalJSON always outputs RFC3339
func (ft FlexibleTime) MarshalJSON() ([]byte, error) {
	return json.Marshal(ft.Time)
}

// Message types for the live conversation socket
const (
	// System messages
	MessageTypeSystem = "system"
	MessageTypePing   = "ping"
	MessageTypePong   = "pong"
	MessageTypeError  = "error"

	// Conversation changes
	MessageTypeMessageCreated = "message_created"
	MessageTypeMessageDeleted = "message_deleted"
	MessageTypeMessageRead    = "message_read"

	// Client requests
	MessageTypeMarkRead = "mark_read"
)

// System events
const (
	EventConnected      = "connected"
	EventDeliveryMode   = "delivery_mode"
	EventServerShutdown = "server_shutdown"
)

// Message is the envelope for everything sent over the socket
type Message struct {
	Type string `json:"type"`

	Payload interface{} `json:"payload,omitempty"`

	// ID is a client-chosen identifier echoed back in ReplyTo
	ID      string `json:"id,omitempty"`
	ReplyTo string `json:"reply_to,omitempty"`

	Timestamp FlexibleTime `json:"timestamp"`
}

// NewMessage creates a new message with the current timestamp
func NewMessage(msgType string, payload interface{}) *Message {
	return &Message{
		Type:      msgType,
		Payload:   payload,
		Timestamp: FlexibleTime{Time: time.Now().UTC()},
	}
}

// NewReply creates a reply message to an original message
func NewReply(original *Message, msgType string, payload interface{}) *Message {
	msg := NewMessage(msgType, payload)
	msg.ReplyTo = original.ID
	return msg
}

// NewErrorMessage creates an error message
func NewErrorMessage(code string, message string) *Message {
	return NewMessage(MessageTypeError, ErrorPayload{Code: code, Message: message})
}

// NewEventMessage converts a conversation change into a socket message.
// The boolean is false for event types the socket does not relay.
func NewEventMessage(event realtime.ChangeEvent) (*Message, bool) {
	var msg *Message
	switch event.Type {
	case realtime.EventInsert:
		if event.Message == nil {
			return nil, false
		}
		msg = NewMessage(MessageTypeMessageCreated, MessageCreatedPayload{
			ConversationID: event.ConversationID,
			Message:        event.Message,
		})
	case realtime.EventDelete:
		msg = NewMessage(MessageTypeMessageDeleted, MessageDeletedPayload{
			ConversationID: event.ConversationID,
			MessageID:      event.MessageID,
		})
	default:
		return nil, false
	}
	if !event.OccurredAt.IsZero() {
		msg.Timestamp = FlexibleTime{Time: event.OccurredAt.UTC()}
	}
	return msg, true
}

// ErrorPayload represents an error message payload
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PingPayload represents a ping message payload
type PingPayload struct {
	ClientTime int64 `json:"client_time"`
}

// PongPayload represents a pong message payload
type PongPayload struct {
	ClientTime int64 `json:"client_time"`
	ServerTime int64 `json:"server_time"`
	Latency    int64 `json:"latency_ms"`
}

// SystemPayload represents system event payloads
type SystemPayload struct {
	Event   string                 `json:"event"`
	Message string                 `json:"message,omitempty"`
	Data    map[string]interface{} `json:"data,omitempty"`
}

type MessageCreatedPayload struct {
	ConversationID string                `json:"conversation_id"`
	Message        *models.FriendMessage `json:"message"`
}

type MessageDeletedPayload struct {
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id"`
}

// MessageReadPayload tells the room a message now has a receipt
type MessageReadPayload struct {
	ConversationID string    `json:"conversation_id"`
	MessageID      string    `json:"message_id"`
	ReaderID       string    `json:"reader_id"`
	ReadAt         time.Time `json:"read_at"`
}

// MarkReadPayload is sent by clients to acknowledge a message
type MarkReadPayload struct {
	MessageID string `json:"message_id"`
}

// ParsePayload unmarshals the payload into a specific type
func (m *Message) ParsePayload(target interface{}) error {
	if m.Payload == nil {
		return nil
	}

	// Re-marshal and unmarshal to properly type the payload
	data, err := json.Marshal(m.Payload)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, target)
}
