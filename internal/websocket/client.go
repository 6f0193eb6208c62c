package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/zfogg/orbit/internal/logger"
	"github.com/zfogg/orbit/internal/receipts"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Clients only send small control messages
	maxMessageSize = 16 * 1024

	sendBufferSize = 256
)

var (
	errClientClosed = errors.New("client connection closed")
	errSendBuffer   = errors.New("send buffer full")
)

// Client is one viewer's websocket connection to a conversation
type Client struct {
	conn *websocket.Conn
	hub  *Hub

	UserID         string
	ConversationID string

	// Buffered channel of outbound messages
	send chan []byte

	ConnectedAt time.Time
	RemoteAddr  string

	rateLimiter *RateLimiter

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.RWMutex
	closed bool
}

// RateLimiter implements a simple token bucket rate limiter
type RateLimiter struct {
	tokens    float64
	maxTokens float64
	refill    float64
	lastTime  time.Time
	mu        sync.Mutex
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(maxPerSecond int, burst int) *RateLimiter {
	return &RateLimiter{
		tokens:    float64(burst),
		maxTokens: float64(burst),
		refill:    float64(maxPerSecond),
		lastTime:  time.Now(),
	}
}

// Allow checks if an action is allowed and consumes a token
func (r *RateLimiter) Allow() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	r.tokens += now.Sub(r.lastTime).Seconds() * r.refill
	r.lastTime = now
	if r.tokens > r.maxTokens {
		r.tokens = r.maxTokens
	}

	if r.tokens >= 1 {
		r.tokens--
		return true
	}
	return false
}

// NewClient creates a Client watching conversationID
func NewClient(hub *Hub, conn *websocket.Conn, userID, conversationID string) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	config := hub.GetRateLimitConfig()

	return &Client{
		hub:            hub,
		conn:           conn,
		UserID:         userID,
		ConversationID: conversationID,
		send:           make(chan []byte, sendBufferSize),
		ConnectedAt:    time.Now(),
		rateLimiter:    NewRateLimiter(config.MaxMessagesPerSecond, config.BurstSize),
		ctx:            ctx,
		cancel:         cancel,
	}
}

// ReadPump reads client requests until the connection ends, then leaves the hub
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Leave(c)
		c.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)

	for {
		readCtx, readCancel := context.WithTimeout(c.ctx, pongWait)
		_, data, err := c.conn.Read(readCtx)
		readCancel()

		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
				logger.Log.Debug("Live viewer disconnected",
					zap.String("user_id", c.UserID),
					zap.String("conversation_id", c.ConversationID))
			} else if c.ctx.Err() == nil {
				logger.Log.Warn("Live viewer read error",
					zap.String("user_id", c.UserID),
					zap.String("conversation_id", c.ConversationID),
					zap.Error(err))
			}
			return
		}

		if !c.rateLimiter.Allow() {
			c.SendError("rate_limited", "Too many messages, please slow down")
			continue
		}

		var message Message
		if err := json.Unmarshal(data, &message); err != nil {
			c.SendError("invalid_json", "Failed to parse message")
			continue
		}

		c.handleMessage(&message)
	}
}

// WritePump drains the send buffer to the connection and keeps it alive with pings
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-c.ctx.Done():
			return

		case message := <-c.send:
			ctx, cancel := context.WithTimeout(c.ctx, writeWait)
			err := c.conn.Write(ctx, websocket.MessageText, message)
			cancel()

			if err != nil {
				if c.ctx.Err() == nil {
					logger.Log.Warn("Live viewer write error", zap.String("user_id", c.UserID), zap.Error(err))
				}
				return
			}

		case <-ticker.C:
			ctx, cancel := context.WithTimeout(c.ctx, writeWait)
			err := c.conn.Ping(ctx)
			cancel()

			if err != nil {
				logger.Log.Debug("Ping failed for live viewer", zap.String("user_id", c.UserID), zap.Error(err))
				return
			}
		}
	}
}

// handleMessage routes a client request
func (c *Client) handleMessage(message *Message) {
	switch message.Type {
	case MessageTypePing, "heartbeat":
		c.handlePing(message)
	case MessageTypeMarkRead:
		c.handleMarkRead(message)
	default:
		c.SendError("unknown_type", fmt.Sprintf("Unknown message type: %s", message.Type))
	}
}

// handlePing responds to ping messages with pong
func (c *Client) handlePing(message *Message) {
	var ping PingPayload
	if err := message.ParsePayload(&ping); err != nil {
		ping.ClientTime = 0
	}

	serverTime := time.Now().UnixMilli()
	_ = c.Send(NewReply(message, MessageTypePong, PongPayload{
		ClientTime: ping.ClientTime,
		ServerTime: serverTime,
		Latency:    serverTime - ping.ClientTime,
	}))
}

// handleMarkRead marks a message read for this viewer
func (c *Client) handleMarkRead(message *Message) {
	var req MarkReadPayload
	if err := message.ParsePayload(&req); err != nil || req.MessageID == "" {
		c.SendError("invalid_payload", "mark_read requires message_id")
		return
	}

	r, ok := c.hub.roomOf(c)
	if !ok || c.hub.reader == nil {
		c.SendError("not_watching", "Not watching a conversation")
		return
	}

	result, err := c.hub.markRead(r, req.MessageID, c.UserID)
	if err != nil {
		code, text := markReadErrorCode(err)
		reply := NewReply(message, MessageTypeError, ErrorPayload{Code: code, Message: text})
		_ = c.Send(reply)
		return
	}

	_ = c.Send(NewReply(message, MessageTypeMessageRead, MessageReadPayload{
		ConversationID: c.ConversationID,
		MessageID:      result.MessageID,
		ReaderID:       c.UserID,
		ReadAt:         result.ReadAt,
	}))
}

func markReadErrorCode(err error) (string, string) {
	switch {
	case errors.Is(err, receipts.ErrMessageNotFound), errors.Is(err, receipts.ErrConversationNotFound):
		return "not_found", "Message not found"
	case errors.Is(err, receipts.ErrSelfRead):
		return "self_read", "Cannot mark your own message as read"
	case errors.Is(err, receipts.ErrNotParticipant):
		return "forbidden", "Not a participant of this conversation"
	default:
		return "internal_error", "Failed to mark message read"
	}
}

// Send queues a message for this client
func (c *Client) Send(message *Message) error {
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}
	return c.enqueue(data)
}

// enqueue never blocks; a viewer that cannot keep up is disconnected
func (c *Client) enqueue(data []byte) error {
	c.mu.RLock()
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		return errClientClosed
	}

	select {
	case c.send <- data:
		return nil
	case <-c.ctx.Done():
		return errClientClosed
	default:
		go c.Close()
		return errSendBuffer
	}
}

// SendError sends an error message to the client
func (c *Client) SendError(code, message string) {
	_ = c.Send(NewErrorMessage(code, message))
}

// Close closes the client connection
func (c *Client) Close() {
	c.closeWith(websocket.StatusNormalClosure, "closing")
}

func (c *Client) closeWith(status websocket.StatusCode, reason string) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	if c.conn != nil {
		_ = c.conn.Close(status, reason)
	}
}

// closeForShutdown tells the viewer the server is going away, then closes
func (c *Client) closeForShutdown(ctx context.Context) {
	if c.conn != nil && !c.IsClosed() {
		data, err := json.Marshal(NewMessage(MessageTypeSystem, SystemPayload{Event: EventServerShutdown}))
		if err == nil {
			writeCtx, cancel := context.WithTimeout(ctx, writeWait)
			_ = c.conn.Write(writeCtx, websocket.MessageText, data)
			cancel()
		}
	}
	c.closeWith(websocket.StatusGoingAway, "server shutdown")
}

// IsClosed returns whether the client connection is closed
func (c *Client) IsClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}
