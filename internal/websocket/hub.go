// Package websocket relays conversation changes to live viewers.
// Uses github.com/coder/websocket - the modern, context-aware WebSocket library for Go.
package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/zfogg/orbit/internal/logger"
	"github.com/zfogg/orbit/internal/models"
	"github.com/zfogg/orbit/internal/realtime"
	"github.com/zfogg/orbit/internal/receipts"
	"go.uber.org/zap"
)

// ErrHubClosed is returned by Join after Shutdown
var ErrHubClosed = errors.New("websocket hub is shut down")

// Deliverer starts a change stream for a conversation
type Deliverer interface {
	Deliver(ctx context.Context, conversationID string, onUpdate realtime.Handler, poller realtime.Poller) (realtime.Delivery, error)
}

// Reader records read receipts on behalf of viewers
type Reader interface {
	MarkRead(ctx context.Context, messageID, readerID string) (receipts.MarkResult, error)
}

// Metrics receives viewer and delivery counts
type Metrics interface {
	ViewerJoined()
	ViewerLeft()
	DeliveryStarted(mode string)
}

type noopMetrics struct{}

func (noopMetrics) ViewerJoined()          {}
func (noopMetrics) ViewerLeft()            {}
func (noopMetrics) DeliveryStarted(string) {}

// RateLimitConfig defines rate limiting parameters for client messages
type RateLimitConfig struct {
	MaxMessagesPerSecond int
	BurstSize            int
}

// DefaultRateLimitConfig returns sensible defaults
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		MaxMessagesPerSecond: 10,
		BurstSize:            20,
	}
}

const markReadTimeout = 5 * time.Second

// room is the set of viewers of one conversation sharing a single delivery
type room struct {
	conversationID string
	clients        map[*Client]struct{}

	start    sync.Once
	ready    chan struct{}
	delivery realtime.Delivery
	err      error

	// prev is the room this one replaced while it was still stopping
	prev    *room
	stopped chan struct{}
}

// awaitPrev blocks until the replaced room has released its delivery
func (r *room) awaitPrev() {
	if r.prev != nil {
		<-r.prev.stopped
		r.prev = nil
	}
}

// begin runs fn at most once for the room's lifetime
func (r *room) begin(fn func()) {
	r.start.Do(func() {
		defer close(r.ready)
		fn()
	})
}

// Hub tracks live viewers per conversation. The first viewer of a
// conversation starts a delivery; the last one leaving closes it.
type Hub struct {
	deliverer Deliverer
	poller    realtime.Poller
	reader    Reader
	logger    *zap.Logger
	metrics   Metrics

	rateLimitConfig RateLimitConfig

	mu       sync.RWMutex
	rooms    map[string]*room
	stopping map[string]*room
	closed   bool
}

// HubOption configures a Hub
type HubOption func(*Hub)

// WithMetrics reports viewer and delivery counts to m
func WithMetrics(m Metrics) HubOption {
	return func(h *Hub) {
		if m != nil {
			h.metrics = m
		}
	}
}

// WithRateLimit overrides the per-client message rate
func WithRateLimit(cfg RateLimitConfig) HubOption {
	return func(h *Hub) {
		h.rateLimitConfig = cfg
	}
}

// NewHub creates a Hub. poller backs polling deliveries when the realtime
// pool is full; reader marks relayed messages read for their recipients.
func NewHub(deliverer Deliverer, poller realtime.Poller, reader Reader, log *zap.Logger, opts ...HubOption) *Hub {
	if log == nil {
		log = logger.Log
	}
	h := &Hub{
		deliverer:       deliverer,
		poller:          poller,
		reader:          reader,
		logger:          log,
		metrics:         noopMetrics{},
		rateLimitConfig: DefaultRateLimitConfig(),
		rooms:           make(map[string]*room),
		stopping:        make(map[string]*room),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Join adds client to its conversation's room, starting the delivery when
// the room is new, and tells the client which delivery mode is in use.
func (h *Hub) Join(ctx context.Context, client *Client) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return ErrHubClosed
	}
	r, ok := h.rooms[client.ConversationID]
	if !ok {
		r = &room{
			conversationID: client.ConversationID,
			clients:        make(map[*Client]struct{}),
			ready:          make(chan struct{}),
			prev:           h.stopping[client.ConversationID],
			stopped:        make(chan struct{}),
		}
		h.rooms[client.ConversationID] = r
	}
	r.clients[client] = struct{}{}
	h.mu.Unlock()
	h.metrics.ViewerJoined()

	r.begin(func() {
		r.awaitPrev()
		// The room outlives the request of whoever opened it.
		r.delivery, r.err = h.deliverer.Deliver(context.WithoutCancel(ctx), r.conversationID, h.relay(r), h.poller)
		if r.err == nil {
			h.metrics.DeliveryStarted(string(r.delivery.Mode()))
			h.logger.Info("Conversation delivery started",
				zap.String("conversation_id", r.conversationID),
				zap.String("mode", string(r.delivery.Mode())))
		}
	})
	if r.err != nil {
		h.Leave(client)
		return fmt.Errorf("failed to start delivery: %w", r.err)
	}

	return client.Send(NewMessage(MessageTypeSystem, SystemPayload{
		Event: EventDeliveryMode,
		Data: map[string]interface{}{
			"conversation_id": r.conversationID,
			"mode":            string(r.delivery.Mode()),
		},
	}))
}

// Leave removes client from its room and closes the delivery when the room
// empties. Unknown clients are ignored.
func (h *Hub) Leave(client *Client) {
	h.mu.Lock()
	r, ok := h.rooms[client.ConversationID]
	if !ok {
		h.mu.Unlock()
		return
	}
	if _, member := r.clients[client]; !member {
		h.mu.Unlock()
		return
	}
	delete(r.clients, client)
	empty := len(r.clients) == 0
	if empty {
		delete(h.rooms, client.ConversationID)
		h.stopping[client.ConversationID] = r
	}
	h.mu.Unlock()
	h.metrics.ViewerLeft()

	if empty {
		h.stopRoom(r)
	}
}

func (h *Hub) stopRoom(r *room) {
	defer h.finishStop(r)

	// Blocks on a delivery still starting; marks a room that never started.
	r.begin(func() {
		r.awaitPrev()
		r.err = ErrHubClosed
	})
	if r.delivery == nil {
		return
	}
	if err := r.delivery.Close(); err != nil {
		h.logger.Warn("Failed to close conversation delivery",
			zap.String("conversation_id", r.conversationID),
			zap.Error(err))
		return
	}
	h.logger.Info("Conversation delivery closed", zap.String("conversation_id", r.conversationID))
}

// finishStop lets a room waiting on r start its delivery
func (h *Hub) finishStop(r *room) {
	h.mu.Lock()
	if h.stopping[r.conversationID] == r {
		delete(h.stopping, r.conversationID)
	}
	h.mu.Unlock()
	close(r.stopped)
}

// viewers returns a snapshot of the room's clients
func (h *Hub) viewers(r *room) []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Client, 0, len(r.clients))
	for c := range r.clients {
		out = append(out, c)
	}
	return out
}

// relay fans a conversation's change events out to its viewers
func (h *Hub) relay(r *room) realtime.Handler {
	return func(event realtime.ChangeEvent) {
		msg, ok := NewEventMessage(event)
		if !ok {
			return
		}
		viewers := h.viewers(r)
		h.broadcast(viewers, msg)

		if event.Type == realtime.EventInsert {
			h.markReadForViewers(r, event.Message, viewers)
		}
	}
}

func (h *Hub) broadcast(viewers []*Client, msg *Message) {
	if len(viewers) == 0 {
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("Failed to encode websocket message", zap.String("type", msg.Type), zap.Error(err))
		return
	}
	for _, c := range viewers {
		if err := c.enqueue(data); err != nil {
			h.logger.Debug("Dropped websocket message",
				zap.String("user_id", c.UserID),
				zap.String("type", msg.Type),
				zap.Error(err))
		}
	}
}

// markReadForViewers records a receipt for every viewing recipient of msg.
// A sender watching their own message gets nothing.
func (h *Hub) markReadForViewers(r *room, msg *models.FriendMessage, viewers []*Client) {
	if h.reader == nil || msg == nil {
		return
	}
	seen := make(map[string]struct{}, len(viewers))
	for _, c := range viewers {
		if c.UserID == msg.SenderID {
			continue
		}
		if _, dup := seen[c.UserID]; dup {
			continue
		}
		seen[c.UserID] = struct{}{}
		h.markRead(r, msg.ID, c.UserID)
	}
}

// markRead records a receipt and tells the room about new ones
func (h *Hub) markRead(r *room, messageID, readerID string) (receipts.MarkResult, error) {
	ctx, cancel := context.WithTimeout(context.Background(), markReadTimeout)
	defer cancel()

	result, err := h.reader.MarkRead(ctx, messageID, readerID)
	if err != nil {
		h.logger.Warn("Failed to mark relayed message read",
			zap.String("conversation_id", r.conversationID),
			zap.String("message_id", messageID),
			zap.String("reader_id", readerID),
			zap.Error(err))
		return result, err
	}
	if !result.AlreadyRead {
		h.broadcast(h.viewers(r), NewMessage(MessageTypeMessageRead, MessageReadPayload{
			ConversationID: r.conversationID,
			MessageID:      result.MessageID,
			ReaderID:       readerID,
			ReadAt:         result.ReadAt,
		}))
	}
	return result, nil
}

// roomOf returns the room client currently belongs to
func (h *Hub) roomOf(client *Client) (*room, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	r, ok := h.rooms[client.ConversationID]
	if !ok {
		return nil, false
	}
	_, member := r.clients[client]
	return r, member
}

// ViewerCount returns how many clients are watching conversationID
func (h *Hub) ViewerCount(conversationID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if r, ok := h.rooms[conversationID]; ok {
		return len(r.clients)
	}
	return 0
}

// DeliveryMode reports the delivery mode of a watched conversation
func (h *Hub) DeliveryMode(conversationID string) (realtime.DeliveryMode, bool) {
	h.mu.RLock()
	r, ok := h.rooms[conversationID]
	h.mu.RUnlock()
	if !ok {
		return "", false
	}
	select {
	case <-r.ready:
	default:
		return "", false
	}
	if r.delivery == nil {
		return "", false
	}
	return r.delivery.Mode(), true
}

// GetRateLimitConfig returns the current rate limit configuration
func (h *Hub) GetRateLimitConfig() RateLimitConfig {
	return h.rateLimitConfig
}

// Shutdown closes every viewer and every delivery. Join fails afterwards.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.closed = true
	rooms := h.rooms
	h.rooms = make(map[string]*room)
	h.mu.Unlock()

	h.logger.Info("🔌 Shutting down websocket hub", zap.Int("rooms", len(rooms)))

	var wg sync.WaitGroup
	for _, r := range rooms {
		for c := range r.clients {
			h.metrics.ViewerLeft()
			wg.Add(1)
			go func(c *Client) {
				defer wg.Done()
				c.closeForShutdown(ctx)
			}(c)
		}
		wg.Add(1)
		go func(r *room) {
			defer wg.Done()
			h.stopRoom(r)
		}(r)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.logger.Info("🔌 Websocket hub shutdown complete")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown timeout: %w", ctx.Err())
	}
}
