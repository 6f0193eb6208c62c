// Package receipts tracks which friend messages a user has read and derives
// per-conversation unread counts from the receipts.
package receipts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zfogg/orbit/internal/logger"
	"github.com/zfogg/orbit/internal/models"
	"github.com/zfogg/orbit/internal/repository"
	"go.uber.org/zap"
)

// Store is the subset of the messaging repository the engine reads and writes
type Store interface {
	GetMessage(ctx context.Context, messageID string) (*models.FriendMessage, error)
	GetConversation(ctx context.Context, conversationID string) (*models.Conversation, error)
	ListConversationsForUser(ctx context.Context, userID string) ([]models.Conversation, error)
	ListMessagesFromOthers(ctx context.Context, conversationIDs []string, userID string) ([]models.FriendMessage, error)
	FindReceipt(ctx context.Context, messageID, readerID string) (*models.MessageReadReceipt, error)
	FindReceiptForMessage(ctx context.Context, messageID string) (*models.MessageReadReceipt, error)
	CreateReceipt(ctx context.Context, receipt *models.MessageReadReceipt) (bool, error)
	ListReceiptsForReader(ctx context.Context, readerID string, messageIDs []string) ([]models.MessageReadReceipt, error)
}

// CountCache stores computed unread counts per user. Invalidation advances
// the user's generation; SetUnreadCounts must refuse a write computed under
// an older generation.
type CountCache interface {
	GetUnreadCounts(ctx context.Context, userID string) (*UnreadCounts, bool, error)
	UnreadGeneration(ctx context.Context, userID string) (int64, error)
	SetUnreadCounts(ctx context.Context, userID string, generation int64, counts UnreadCounts, ttl time.Duration) (bool, error)
	InvalidateUnreadCounts(ctx context.Context, userIDs ...string) error
}

// MarkResult is the outcome of a successful MarkRead
type MarkResult struct {
	MessageID   string    `json:"message_id"`
	ReadAt      time.Time `json:"read_at"`
	AlreadyRead bool      `json:"already_read"`
}

// ReadStatus is what a sender sees about their own message
type ReadStatus struct {
	MessageID string     `json:"message_id"`
	Read      bool       `json:"read"`
	ReadAt    *time.Time `json:"read_at"`
	ReaderID  string     `json:"reader_id,omitempty"`
}

// UnreadCounts maps conversation id to unread message count
type UnreadCounts struct {
	Conversations map[string]int `json:"conversations"`
	Total         int            `json:"total"`
}

// BulkResult tallies a mark-all-read pass. Failed maps message id to error text.
type BulkResult struct {
	Attempted int               `json:"attempted"`
	Succeeded int               `json:"succeeded"`
	Failed    map[string]string `json:"failed,omitempty"`
}

// Engine marks messages read and computes unread counts
type Engine struct {
	store    Store
	cache    CountCache
	cacheTTL time.Duration
	logger   *zap.Logger
	now      func() time.Time
}

// Option configures an Engine
type Option func(*Engine)

// WithCache caches unread counts for ttl
func WithCache(cache CountCache, ttl time.Duration) Option {
	return func(e *Engine) {
		e.cache = cache
		e.cacheTTL = ttl
	}
}

// WithClock overrides the receipt timestamp source
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// NewEngine creates a read-receipt engine
func NewEngine(store Store, log *zap.Logger, opts ...Option) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	e := &Engine{
		store:  store,
		logger: log,
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// MarkRead records that readerID has read messageID.
// Marking an already read message succeeds with AlreadyRead set.
func (e *Engine) MarkRead(ctx context.Context, messageID, readerID string) (MarkResult, error) {
	msg, err := e.store.GetMessage(ctx, messageID)
	if err != nil {
		return MarkResult{}, mapNotFound(err, ErrMessageNotFound)
	}
	conv, err := e.store.GetConversation(ctx, msg.ConversationID)
	if err != nil {
		return MarkResult{}, mapNotFound(err, ErrConversationNotFound)
	}

	result, err := e.markOne(ctx, msg, conv, readerID)
	if err != nil {
		return MarkResult{}, err
	}
	if !result.AlreadyRead {
		e.invalidate(ctx, readerID)
	}
	return result, nil
}

func (e *Engine) markOne(ctx context.Context, msg *models.FriendMessage, conv *models.Conversation, readerID string) (MarkResult, error) {
	if !conv.HasParticipant(readerID) {
		return MarkResult{}, ErrNotParticipant
	}
	if msg.SenderID == readerID {
		return MarkResult{}, ErrSelfRead
	}

	existing, err := e.store.FindReceipt(ctx, msg.ID, readerID)
	if err == nil {
		return MarkResult{MessageID: msg.ID, ReadAt: existing.ReadAt, AlreadyRead: true}, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return MarkResult{}, fmt.Errorf("find receipt: %w", err)
	}

	receipt := &models.MessageReadReceipt{
		MessageID: msg.ID,
		ReaderID:  readerID,
		ReadAt:    e.now(),
	}
	created, err := e.store.CreateReceipt(ctx, receipt)
	if err != nil && !errors.Is(err, repository.ErrDuplicate) {
		return MarkResult{}, fmt.Errorf("create receipt: %w", err)
	}
	if created {
		return MarkResult{MessageID: msg.ID, ReadAt: receipt.ReadAt}, nil
	}

	// Lost a race with a concurrent insert
	result := MarkResult{MessageID: msg.ID, ReadAt: receipt.ReadAt, AlreadyRead: true}
	if winner, err := e.store.FindReceipt(ctx, msg.ID, readerID); err == nil {
		result.ReadAt = winner.ReadAt
	}
	return result, nil
}

// GetReadStatus reports whether the other participant has read the message.
// Only the sender may ask.
func (e *Engine) GetReadStatus(ctx context.Context, messageID, requesterID string) (ReadStatus, error) {
	msg, err := e.store.GetMessage(ctx, messageID)
	if err != nil {
		return ReadStatus{}, mapNotFound(err, ErrMessageNotFound)
	}
	if msg.SenderID != requesterID {
		return ReadStatus{}, ErrNotSender
	}

	status := ReadStatus{MessageID: msg.ID}
	receipt, err := e.store.FindReceiptForMessage(ctx, msg.ID)
	if errors.Is(err, repository.ErrNotFound) {
		return status, nil
	}
	if err != nil {
		return ReadStatus{}, fmt.Errorf("find receipt: %w", err)
	}

	readAt := receipt.ReadAt
	status.Read = true
	status.ReadAt = &readAt
	status.ReaderID = receipt.ReaderID
	return status, nil
}

// ComputeUnreadCounts returns the unread count of every conversation userID
// participates in. A user with no conversations gets an empty result.
func (e *Engine) ComputeUnreadCounts(ctx context.Context, userID string) (UnreadCounts, error) {
	// an invalidation after the generation read voids the cache write
	cacheable := false
	var generation int64
	if e.cache != nil {
		cached, ok, err := e.cache.GetUnreadCounts(ctx, userID)
		if err != nil {
			e.logger.Warn("Unread count cache read failed", logger.WithUserID(userID), zap.Error(err))
		} else if ok && cached != nil {
			return *cached, nil
		}
		if generation, err = e.cache.UnreadGeneration(ctx, userID); err != nil {
			e.logger.Warn("Unread count generation read failed", logger.WithUserID(userID), zap.Error(err))
		} else {
			cacheable = true
		}
	}

	convs, err := e.store.ListConversationsForUser(ctx, userID)
	if err != nil {
		return UnreadCounts{}, fmt.Errorf("list conversations: %w", err)
	}
	result := UnreadCounts{Conversations: map[string]int{}}
	if len(convs) == 0 {
		return result, nil
	}

	convIDs := make([]string, len(convs))
	for i, c := range convs {
		convIDs[i] = c.ID
	}

	msgs, err := e.store.ListMessagesFromOthers(ctx, convIDs, userID)
	if err != nil {
		return UnreadCounts{}, fmt.Errorf("list messages: %w", err)
	}

	read := map[string]struct{}{}
	if len(msgs) > 0 {
		msgIDs := make([]string, len(msgs))
		for i, m := range msgs {
			msgIDs[i] = m.ID
		}
		receipts, err := e.store.ListReceiptsForReader(ctx, userID, msgIDs)
		if err != nil {
			return UnreadCounts{}, fmt.Errorf("list receipts: %w", err)
		}
		read = ReceiptSet(receipts)
	}

	result.Conversations = CountUnreadByConversation(convIDs, msgs, userID, read)
	for _, n := range result.Conversations {
		result.Total += n
	}

	if cacheable {
		stored, err := e.cache.SetUnreadCounts(ctx, userID, generation, result, e.cacheTTL)
		if err != nil {
			e.logger.Warn("Unread count cache write failed", logger.WithUserID(userID), zap.Error(err))
		} else if !stored {
			e.logger.Debug("Unread counts changed while computing, not cached", logger.WithUserID(userID))
		}
	}
	return result, nil
}

// MarkAllUnreadInConversation marks every message from the other participant
// that userID has not read. Individual failures do not stop the batch and are
// not retried.
func (e *Engine) MarkAllUnreadInConversation(ctx context.Context, conversationID, userID string) (BulkResult, error) {
	conv, err := e.store.GetConversation(ctx, conversationID)
	if err != nil {
		return BulkResult{}, mapNotFound(err, ErrConversationNotFound)
	}
	if !conv.HasParticipant(userID) {
		return BulkResult{}, ErrNotParticipant
	}

	msgs, err := e.store.ListMessagesFromOthers(ctx, []string{conv.ID}, userID)
	if err != nil {
		return BulkResult{}, fmt.Errorf("list messages: %w", err)
	}
	result := BulkResult{Failed: map[string]string{}}
	if len(msgs) == 0 {
		return result, nil
	}

	msgIDs := make([]string, len(msgs))
	for i, m := range msgs {
		msgIDs[i] = m.ID
	}
	receipts, err := e.store.ListReceiptsForReader(ctx, userID, msgIDs)
	if err != nil {
		return BulkResult{}, fmt.Errorf("list receipts: %w", err)
	}

	for _, m := range UnreadMessages(msgs, userID, ReceiptSet(receipts)) {
		msg := m
		result.Attempted++
		if _, err := e.markOne(ctx, &msg, conv, userID); err != nil {
			result.Failed[msg.ID] = err.Error()
			e.logger.Warn("Failed to mark message read",
				logger.WithMessageID(msg.ID),
				logger.WithConversationID(conv.ID),
				logger.WithUserID(userID),
				zap.Error(err))
			continue
		}
		result.Succeeded++
	}

	if result.Succeeded > 0 {
		e.invalidate(ctx, userID)
	}
	if len(result.Failed) > 0 {
		e.logger.Warn("Mark-all-read finished with failures",
			logger.WithConversationID(conv.ID),
			zap.Int("attempted", result.Attempted),
			zap.Int("succeeded", result.Succeeded))
	}
	return result, nil
}

// Invalidate drops cached unread counts for the given users
func (e *Engine) Invalidate(ctx context.Context, userIDs ...string) {
	e.invalidate(ctx, userIDs...)
}

func (e *Engine) invalidate(ctx context.Context, userIDs ...string) {
	if e.cache == nil || len(userIDs) == 0 {
		return
	}
	if err := e.cache.InvalidateUnreadCounts(ctx, userIDs...); err != nil {
		e.logger.Warn("Unread count cache invalidation failed", zap.Strings("user_ids", userIDs), zap.Error(err))
	}
}

func mapNotFound(err, notFound error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return notFound
	}
	return err
}
