package messaging

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"github.com/zfogg/orbit/internal/database/dbtest"
	"github.com/zfogg/orbit/internal/models"
	"github.com/zfogg/orbit/internal/realtime"
	"github.com/zfogg/orbit/internal/receipts"
	"github.com/zfogg/orbit/internal/repository"
	"github.com/zfogg/orbit/internal/storage"
)

type fakeMedia struct {
	mu       sync.Mutex
	uploads  []string
	deleted  []string
	failWith error
}

func (m *fakeMedia) UploadMedia(_ context.Context, data []byte, contentType, kind, conversationID, filename string) (*storage.UploadResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return nil, m.failWith
	}
	key := "friend-messages/" + kind + "/" + conversationID + "/" + filename
	m.uploads = append(m.uploads, key)
	return &storage.UploadResult{Key: key, URL: "https://cdn.test/" + key, ContentType: contentType, Size: int64(len(data))}, nil
}

func (m *fakeMedia) DeleteFile(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, key)
	return nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []realtime.ChangeEvent
}

func (p *fakePublisher) Publish(_ context.Context, event realtime.ChangeEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

// brokenInsertStore fails every message insert
type brokenInsertStore struct {
	repository.MessagingRepository
}

func (brokenInsertStore) CreateMessage(context.Context, *models.FriendMessage) error {
	return errors.New("insert failed")
}

type ServiceTestSuite struct {
	suite.Suite
	repo      repository.MessagingRepository
	users     repository.UserRepository
	engine    *receipts.Engine
	media     *fakeMedia
	publisher *fakePublisher
	service   *Service
	ctx       context.Context

	alice *models.User
	bob   *models.User
	carol *models.User
}

func (s *ServiceTestSuite) SetupTest() {
	db := dbtest.Open(s.T())
	s.repo = repository.NewMessagingRepository(db)
	s.users = repository.NewUserRepository(db)
	s.engine = receipts.NewEngine(s.repo, nil)
	s.media = &fakeMedia{}
	s.publisher = &fakePublisher{}
	s.service = NewService(s.repo, s.users, s.media, s.engine, s.publisher, nil)
	s.ctx = context.Background()

	create := func(name string) *models.User {
		u := &models.User{Username: name, DisplayName: strings.ToUpper(name[:1]) + name[1:]}
		s.Require().NoError(s.users.CreateUser(s.ctx, u))
		return u
	}
	s.alice = create("alice")
	s.bob = create("bob")
	s.carol = create("carol")
}

func (s *ServiceTestSuite) conversation(a, b *models.User) *models.Conversation {
	conv, _, err := s.service.GetOrCreateConversation(s.ctx, a.ID, a.ID, b.ID)
	s.Require().NoError(err)
	return conv
}

func (s *ServiceTestSuite) TestGetOrCreateNormalizesOrder() {
	first, created, err := s.service.GetOrCreateConversation(s.ctx, s.alice.ID, s.alice.ID, s.bob.ID)
	s.Require().NoError(err)
	s.True(created)

	second, created, err := s.service.GetOrCreateConversation(s.ctx, s.bob.ID, s.bob.ID, s.alice.ID)
	s.Require().NoError(err)
	s.False(created)
	s.Equal(first.ID, second.ID)

	lower, higher := models.NormalizePair(s.alice.ID, s.bob.ID)
	s.Equal(lower, second.User1ID)
	s.Equal(higher, second.User2ID)
}

func (s *ServiceTestSuite) TestGetOrCreateValidation() {
	_, _, err := s.service.GetOrCreateConversation(s.ctx, s.alice.ID, s.alice.ID, s.alice.ID)
	var verr *ValidationError
	s.ErrorAs(err, &verr)

	_, _, err = s.service.GetOrCreateConversation(s.ctx, s.carol.ID, s.alice.ID, s.bob.ID)
	s.ErrorIs(err, ErrNotParticipant)

	_, _, err = s.service.GetOrCreateConversation(s.ctx, s.alice.ID, s.alice.ID, "00000000-0000-0000-0000-000000000000")
	s.ErrorIs(err, ErrUserNotFound)
}

func (s *ServiceTestSuite) TestSendTextPublishesAndTouches() {
	conv := s.conversation(s.alice, s.bob)

	msg, err := s.service.SendText(s.ctx, conv.ID, s.alice.ID, "  hello bob  ")
	s.Require().NoError(err)
	s.Equal("hello bob", msg.Content)
	s.Equal(models.MessageTypeText, msg.Type)

	s.Require().Len(s.publisher.events, 1)
	s.Equal(realtime.EventInsert, s.publisher.events[0].Type)
	s.Equal(msg.ID, s.publisher.events[0].MessageID)

	stored, err := s.repo.GetConversation(s.ctx, conv.ID)
	s.Require().NoError(err)
	s.NotNil(stored.LastMessageAt)
}

func (s *ServiceTestSuite) TestSendTextRejects() {
	conv := s.conversation(s.alice, s.bob)

	_, err := s.service.SendText(s.ctx, conv.ID, s.alice.ID, "   ")
	var verr *ValidationError
	s.ErrorAs(err, &verr)

	_, err = s.service.SendText(s.ctx, conv.ID, s.alice.ID, strings.Repeat("é", MaxTextLength+1))
	s.ErrorAs(err, &verr)

	_, err = s.service.SendText(s.ctx, conv.ID, s.carol.ID, "let me in")
	s.ErrorIs(err, ErrNotParticipant)

	_, err = s.service.SendText(s.ctx, "00000000-0000-0000-0000-000000000000", s.alice.ID, "hi")
	s.ErrorIs(err, ErrConversationNotFound)

	s.Empty(s.publisher.events)
}

func (s *ServiceTestSuite) TestSendMedia() {
	conv := s.conversation(s.alice, s.bob)

	msg, err := s.service.SendMedia(s.ctx, MediaUpload{
		ConversationID: conv.ID,
		SenderID:       s.alice.ID,
		Type:           models.MessageTypeImage,
		ContentType:    "image/png",
		Filename:       "cat.png",
		Caption:        "look",
		Data:           pngBytes,
	})
	s.Require().NoError(err)
	s.Equal(models.MessageTypeImage, msg.Type)
	s.Equal("image/png", msg.MediaMIME)
	s.Contains(msg.MediaURL, "https://cdn.test/")
	s.Equal("look", msg.Content)
	s.Len(s.media.uploads, 1)
	s.Len(s.publisher.events, 1)
}

func (s *ServiceTestSuite) TestSendMediaRejectsBeforeStorage() {
	conv := s.conversation(s.alice, s.bob)

	_, err := s.service.SendMedia(s.ctx, MediaUpload{
		ConversationID: conv.ID,
		SenderID:       s.alice.ID,
		Type:           models.MessageTypeVideo,
		ContentType:    "image/png",
		Data:           pngBytes,
	})
	var verr *ValidationError
	s.ErrorAs(err, &verr)
	s.Empty(s.media.uploads)

	_, err = s.service.SendMedia(s.ctx, MediaUpload{
		ConversationID: conv.ID,
		SenderID:       s.carol.ID,
		Type:           models.MessageTypeImage,
		ContentType:    "image/png",
		Data:           pngBytes,
	})
	s.ErrorIs(err, ErrNotParticipant)
	s.Empty(s.media.uploads)
}

func (s *ServiceTestSuite) TestSendMediaRollsBackUpload() {
	conv := s.conversation(s.alice, s.bob)
	service := NewService(brokenInsertStore{s.repo}, s.users, s.media, s.engine, s.publisher, nil)

	_, err := service.SendMedia(s.ctx, MediaUpload{
		ConversationID: conv.ID,
		SenderID:       s.alice.ID,
		Type:           models.MessageTypeAudio,
		ContentType:    "audio/mpeg",
		Filename:       "note.mp3",
		Data:           mp3Bytes,
	})
	s.Error(err)
	s.Require().Len(s.media.uploads, 1)
	s.Equal(s.media.uploads, s.media.deleted)
	s.Empty(s.publisher.events)
}

func (s *ServiceTestSuite) TestSendMediaWithoutStorage() {
	conv := s.conversation(s.alice, s.bob)
	service := NewService(s.repo, s.users, nil, s.engine, nil, nil)

	_, err := service.SendMedia(s.ctx, MediaUpload{
		ConversationID: conv.ID,
		SenderID:       s.alice.ID,
		Type:           models.MessageTypeImage,
		ContentType:    "image/png",
		Data:           pngBytes,
	})
	s.ErrorIs(err, ErrMediaUnavailable)
}

func (s *ServiceTestSuite) TestListMessagesPaginates() {
	conv := s.conversation(s.alice, s.bob)
	base := time.Now().UTC().Add(-time.Hour)
	var ids []string
	for i := 0; i < 5; i++ {
		msg := &models.FriendMessage{ConversationID: conv.ID, SenderID: s.alice.ID, Content: "m", CreatedAt: base.Add(time.Duration(i) * time.Second)}
		s.Require().NoError(s.repo.CreateMessage(s.ctx, msg))
		ids = append(ids, msg.ID)
	}

	page, err := s.service.ListMessages(s.ctx, conv.ID, s.bob.ID, 2, 0)
	s.Require().NoError(err)
	s.True(page.HasMore)
	s.Require().Len(page.Messages, 2)
	s.Equal(ids[3], page.Messages[0].ID)
	s.Equal(ids[4], page.Messages[1].ID)

	page, err = s.service.ListMessages(s.ctx, conv.ID, s.bob.ID, 2, 4)
	s.Require().NoError(err)
	s.False(page.HasMore)
	s.Require().Len(page.Messages, 1)
	s.Equal(ids[0], page.Messages[0].ID)

	page, err = s.service.ListMessages(s.ctx, conv.ID, s.bob.ID, 0, 0)
	s.Require().NoError(err)
	s.Equal(DefaultPageSize, page.Limit)
	s.Len(page.Messages, 5)

	page, err = s.service.ListMessages(s.ctx, conv.ID, s.bob.ID, 1000, 0)
	s.Require().NoError(err)
	s.Equal(MaxPageSize, page.Limit)

	_, err = s.service.ListMessages(s.ctx, conv.ID, s.carol.ID, 10, 0)
	s.ErrorIs(err, ErrNotParticipant)
}

func (s *ServiceTestSuite) TestListConversations() {
	ab := s.conversation(s.alice, s.bob)
	ac := s.conversation(s.alice, s.carol)

	_, err := s.service.SendText(s.ctx, ab.ID, s.bob.ID, "first")
	s.Require().NoError(err)
	time.Sleep(5 * time.Millisecond)
	last, err := s.service.SendText(s.ctx, ab.ID, s.bob.ID, "second")
	s.Require().NoError(err)

	summaries, err := s.service.ListConversations(s.ctx, s.alice.ID)
	s.Require().NoError(err)
	s.Require().Len(summaries, 2)

	s.Equal(ab.ID, summaries[0].ID)
	s.Equal("bob", summaries[0].OtherParticipant.Username)
	s.Equal(2, summaries[0].UnreadCount)
	s.Require().NotNil(summaries[0].LastMessage)
	s.Equal(last.ID, summaries[0].LastMessage.ID)

	s.Equal(ac.ID, summaries[1].ID)
	s.Equal("carol", summaries[1].OtherParticipant.Username)
	s.Zero(summaries[1].UnreadCount)
	s.Nil(summaries[1].LastMessage)

	empty, err := NewService(s.repo, s.users, nil, nil, nil, nil).ListConversations(s.ctx, "00000000-0000-0000-0000-000000000000")
	s.Require().NoError(err)
	s.Empty(empty)
}

func (s *ServiceTestSuite) TestDeleteMessage() {
	conv := s.conversation(s.alice, s.bob)
	msg, err := s.service.SendMedia(s.ctx, MediaUpload{
		ConversationID: conv.ID,
		SenderID:       s.alice.ID,
		Type:           models.MessageTypeImage,
		ContentType:    "image/jpeg",
		Filename:       "a.jpg",
		Data:           jpegBytes,
	})
	s.Require().NoError(err)

	s.ErrorIs(s.service.DeleteMessage(s.ctx, msg.ID, s.bob.ID), ErrNotSender)

	s.Require().NoError(s.service.DeleteMessage(s.ctx, msg.ID, s.alice.ID))
	s.Equal(s.media.uploads, s.media.deleted)
	s.Require().Len(s.publisher.events, 2)
	s.Equal(realtime.EventDelete, s.publisher.events[1].Type)

	s.ErrorIs(s.service.DeleteMessage(s.ctx, msg.ID, s.alice.ID), ErrMessageNotFound)
}

func (s *ServiceTestSuite) TestMessagesSince() {
	conv := s.conversation(s.alice, s.bob)
	before := time.Now().UTC().Add(-time.Second)
	msg, err := s.service.SendText(s.ctx, conv.ID, s.alice.ID, "ping")
	s.Require().NoError(err)

	msgs, err := s.service.MessagesSince(s.ctx, conv.ID, before)
	s.Require().NoError(err)
	s.Require().Len(msgs, 1)
	s.Equal(msg.ID, msgs[0].ID)
}

func TestServiceTestSuite(t *testing.T) {
	suite.Run(t, new(ServiceTestSuite))
}
