// Package messaging implements friend conversations and message delivery on
// top of the repository, media storage and realtime publishing.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/zfogg/orbit/internal/logger"
	"github.com/zfogg/orbit/internal/models"
	"github.com/zfogg/orbit/internal/realtime"
	"github.com/zfogg/orbit/internal/receipts"
	"github.com/zfogg/orbit/internal/repository"
	"github.com/zfogg/orbit/internal/storage"
	"go.uber.org/zap"
)

const (
	MaxTextLength   = 4000
	DefaultPageSize = 50
	MaxPageSize     = 100
)

// Store is the persistence the service needs
type Store interface {
	GetConversation(ctx context.Context, conversationID string) (*models.Conversation, error)
	FindConversationByPair(ctx context.Context, user1ID, user2ID string) (*models.Conversation, error)
	CreateConversation(ctx context.Context, conv *models.Conversation) error
	ListConversationsForUser(ctx context.Context, userID string) ([]models.Conversation, error)
	TouchConversation(ctx context.Context, conversationID string, at time.Time) error
	CreateMessage(ctx context.Context, msg *models.FriendMessage) error
	GetMessage(ctx context.Context, messageID string) (*models.FriendMessage, error)
	DeleteMessage(ctx context.Context, messageID string) error
	ListMessages(ctx context.Context, conversationID string, limit, offset int) ([]models.FriendMessage, error)
	MessagesSince(ctx context.Context, conversationID string, since time.Time) ([]models.FriendMessage, error)
	LastMessages(ctx context.Context, conversationIDs []string) (map[string]models.FriendMessage, error)
}

// UserStore resolves profiles
type UserStore interface {
	GetUsers(ctx context.Context, userIDs []string) ([]models.User, error)
}

// UnreadCounter is the read-receipt engine surface used for conversation lists
type UnreadCounter interface {
	ComputeUnreadCounts(ctx context.Context, userID string) (receipts.UnreadCounts, error)
	Invalidate(ctx context.Context, userIDs ...string)
}

// Publisher emits change events to realtime subscribers
type Publisher interface {
	Publish(ctx context.Context, event realtime.ChangeEvent) error
}

// MediaUpload is an attachment to send as a message
type MediaUpload struct {
	ConversationID string
	SenderID       string
	Type           models.MessageType
	ContentType    string
	Filename       string
	Caption        string
	Data           []byte
}

// MessagePage is one page of a conversation's history, oldest first
type MessagePage struct {
	Messages []models.FriendMessage `json:"messages"`
	Limit    int                    `json:"limit"`
	Offset   int                    `json:"offset"`
	HasMore  bool                   `json:"has_more"`
}

// Service implements friend messaging
type Service struct {
	store     Store
	users     UserStore
	media     storage.MediaStore
	unread    UnreadCounter
	publisher Publisher
	logger    *zap.Logger
}

// NewService creates a messaging service. media and publisher may be nil.
func NewService(store Store, users UserStore, media storage.MediaStore, unread UnreadCounter, publisher Publisher, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		store:     store,
		users:     users,
		media:     media,
		unread:    unread,
		publisher: publisher,
		logger:    log,
	}
}

// GetOrCreateConversation returns the conversation between userA and userB,
// creating it on first contact. The caller must be one of the pair.
func (s *Service) GetOrCreateConversation(ctx context.Context, callerID, userA, userB string) (*models.Conversation, bool, error) {
	if userA == "" || userB == "" {
		return nil, false, invalid("user_ids", "both participants are required")
	}
	if userA == userB {
		return nil, false, invalid("user_ids", "cannot start a conversation with yourself")
	}
	if callerID != userA && callerID != userB {
		return nil, false, ErrNotParticipant
	}

	user1, user2 := models.NormalizePair(userA, userB)
	if conv, err := s.store.FindConversationByPair(ctx, user1, user2); err == nil {
		return conv, false, nil
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, false, fmt.Errorf("find conversation: %w", err)
	}

	users, err := s.users.GetUsers(ctx, []string{user1, user2})
	if err != nil {
		return nil, false, fmt.Errorf("load participants: %w", err)
	}
	if len(users) != 2 {
		return nil, false, ErrUserNotFound
	}

	conv := &models.Conversation{User1ID: user1, User2ID: user2}
	err = s.store.CreateConversation(ctx, conv)
	if errors.Is(err, repository.ErrDuplicate) {
		// Created concurrently by the other participant
		existing, findErr := s.store.FindConversationByPair(ctx, user1, user2)
		if findErr != nil {
			return nil, false, fmt.Errorf("find conversation after conflict: %w", findErr)
		}
		return existing, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("create conversation: %w", err)
	}

	s.logger.Info("Conversation created", logger.WithConversationID(conv.ID))
	return conv, true, nil
}

// Conversation returns a conversation the requester participates in
func (s *Service) Conversation(ctx context.Context, conversationID, requesterID string) (*models.Conversation, error) {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	if !conv.HasParticipant(requesterID) {
		return nil, ErrNotParticipant
	}
	return conv, nil
}

// SendText stores a text message from senderID
func (s *Service) SendText(ctx context.Context, conversationID, senderID, content string) (*models.FriendMessage, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, invalid("content", "message content is required")
	}
	if n := utf8.RuneCountInString(content); n > MaxTextLength {
		return nil, invalid("content", "message is %d characters; the limit is %d", n, MaxTextLength)
	}

	conv, err := s.Conversation(ctx, conversationID, senderID)
	if err != nil {
		return nil, err
	}

	msg := &models.FriendMessage{
		ConversationID: conv.ID,
		SenderID:       senderID,
		Type:           models.MessageTypeText,
		Content:        content,
	}
	if err := s.store.CreateMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("create message: %w", err)
	}

	s.afterInsert(ctx, conv, msg)
	return msg, nil
}

// SendMedia validates, stores and sends an attachment. Nothing is written to
// storage unless validation passes; the object is removed again if the
// message row cannot be inserted.
func (s *Service) SendMedia(ctx context.Context, upload MediaUpload) (*models.FriendMessage, error) {
	if !upload.Type.IsMedia() {
		return nil, invalid("type", "type must be one of image, video, audio")
	}
	contentType, err := ValidateMedia(upload.Type, upload.ContentType, upload.Data)
	if err != nil {
		return nil, err
	}
	caption := strings.TrimSpace(upload.Caption)
	if utf8.RuneCountInString(caption) > MaxTextLength {
		return nil, invalid("content", "caption is longer than %d characters", MaxTextLength)
	}

	conv, err := s.Conversation(ctx, upload.ConversationID, upload.SenderID)
	if err != nil {
		return nil, err
	}
	if s.media == nil {
		return nil, ErrMediaUnavailable
	}

	stored, err := s.media.UploadMedia(ctx, upload.Data, contentType, string(upload.Type), conv.ID, upload.Filename)
	if err != nil {
		return nil, fmt.Errorf("upload media: %w", err)
	}

	msg := &models.FriendMessage{
		ConversationID: conv.ID,
		SenderID:       upload.SenderID,
		Type:           upload.Type,
		Content:        caption,
		MediaURL:       stored.URL,
		MediaKey:       stored.Key,
		MediaMIME:      contentType,
		MediaSize:      stored.Size,
	}
	if err := s.store.CreateMessage(ctx, msg); err != nil {
		if delErr := s.media.DeleteFile(ctx, stored.Key); delErr != nil {
			s.logger.Error("Failed to remove orphaned media after insert failure",
				zap.String("key", stored.Key),
				zap.Error(delErr))
		}
		return nil, fmt.Errorf("create media message: %w", err)
	}

	s.afterInsert(ctx, conv, msg)
	return msg, nil
}

// afterInsert bumps conversation activity, drops the recipient's cached
// counts and publishes the INSERT. Failures are logged only.
func (s *Service) afterInsert(ctx context.Context, conv *models.Conversation, msg *models.FriendMessage) {
	if err := s.store.TouchConversation(ctx, conv.ID, msg.CreatedAt); err != nil {
		s.logger.Warn("Failed to update conversation activity",
			logger.WithConversationID(conv.ID), zap.Error(err))
	}
	if s.unread != nil {
		s.unread.Invalidate(ctx, conv.OtherParticipant(msg.SenderID))
	}
	s.publish(ctx, realtime.InsertEvent(msg))
}

func (s *Service) publish(ctx context.Context, event realtime.ChangeEvent) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Warn("Failed to publish change event",
			logger.WithConversationID(event.ConversationID),
			logger.WithMessageID(event.MessageID),
			zap.String("event", string(event.Type)),
			zap.Error(err))
	}
}

// ListMessages returns a page of history. Pages are taken newest-first and
// returned oldest-first.
func (s *Service) ListMessages(ctx context.Context, conversationID, requesterID string, limit, offset int) (*MessagePage, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	if offset < 0 {
		offset = 0
	}

	if _, err := s.Conversation(ctx, conversationID, requesterID); err != nil {
		return nil, err
	}

	msgs, err := s.store.ListMessages(ctx, conversationID, limit+1, offset)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}

	page := &MessagePage{Limit: limit, Offset: offset}
	if len(msgs) > limit {
		page.HasMore = true
		msgs = msgs[:limit]
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	if msgs == nil {
		msgs = []models.FriendMessage{}
	}
	page.Messages = msgs
	return page, nil
}

// ListConversations returns userID's conversations with the other
// participant's profile, the last message and the unread count
func (s *Service) ListConversations(ctx context.Context, userID string) ([]receipts.ConversationSummary, error) {
	convs, err := s.store.ListConversationsForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	if len(convs) == 0 {
		return []receipts.ConversationSummary{}, nil
	}

	convIDs := make([]string, len(convs))
	otherIDs := make([]string, len(convs))
	for i, c := range convs {
		convIDs[i] = c.ID
		otherIDs[i] = c.OtherParticipant(userID)
	}

	last, err := s.store.LastMessages(ctx, convIDs)
	if err != nil {
		return nil, fmt.Errorf("load last messages: %w", err)
	}

	users, err := s.users.GetUsers(ctx, otherIDs)
	if err != nil {
		return nil, fmt.Errorf("load profiles: %w", err)
	}
	profiles := make(map[string]models.Profile, len(users))
	for i := range users {
		profiles[users[i].ID] = users[i].Profile()
	}

	counts := map[string]int{}
	if s.unread != nil {
		unread, err := s.unread.ComputeUnreadCounts(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("compute unread counts: %w", err)
		}
		counts = unread.Conversations
	}

	return receipts.SummarizeConversations(userID, convs, last, profiles, counts), nil
}

// DeleteMessage removes a message sent by requesterID
func (s *Service) DeleteMessage(ctx context.Context, messageID, requesterID string) error {
	msg, err := s.store.GetMessage(ctx, messageID)
	if errors.Is(err, repository.ErrNotFound) {
		return ErrMessageNotFound
	}
	if err != nil {
		return fmt.Errorf("get message: %w", err)
	}
	if msg.SenderID != requesterID {
		return ErrNotSender
	}

	if err := s.store.DeleteMessage(ctx, msg.ID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrMessageNotFound
		}
		return fmt.Errorf("delete message: %w", err)
	}

	if msg.MediaKey != "" && s.media != nil {
		if err := s.media.DeleteFile(ctx, msg.MediaKey); err != nil {
			s.logger.Warn("Failed to delete message media",
				logger.WithMessageID(msg.ID),
				zap.String("key", msg.MediaKey),
				zap.Error(err))
		}
	}

	if s.unread != nil {
		if conv, err := s.store.GetConversation(ctx, msg.ConversationID); err == nil {
			s.unread.Invalidate(ctx, conv.OtherParticipant(requesterID))
		}
	}
	s.publish(ctx, realtime.DeleteEvent(msg.ConversationID, msg.ID))
	return nil
}

// MessagesSince returns messages created at or after since, oldest first
func (s *Service) MessagesSince(ctx context.Context, conversationID string, since time.Time) ([]models.FriendMessage, error) {
	return s.store.MessagesSince(ctx, conversationID, since)
}

var _ realtime.Poller = (*Service)(nil)
