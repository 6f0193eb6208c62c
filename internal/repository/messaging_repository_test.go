package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"github.com/zfogg/orbit/internal/database/dbtest"
	"github.com/zfogg/orbit/internal/models"
	"gorm.io/gorm"
)

type MessagingRepositoryTestSuite struct {
	suite.Suite
	db    *gorm.DB
	repo  MessagingRepository
	users UserRepository
	ctx   context.Context

	alice *models.User
	bob   *models.User
	carol *models.User
}

func (s *MessagingRepositoryTestSuite) SetupTest() {
	s.db = dbtest.Open(s.T())
	s.repo = NewMessagingRepository(s.db)
	s.users = NewUserRepository(s.db)
	s.ctx = context.Background()

	s.alice = s.createUser("alice")
	s.bob = s.createUser("bob")
	s.carol = s.createUser("carol")
}

func (s *MessagingRepositoryTestSuite) createUser(name string) *models.User {
	u := &models.User{Username: name, DisplayName: name}
	s.Require().NoError(s.users.CreateUser(s.ctx, u))
	return u
}

func (s *MessagingRepositoryTestSuite) createConversation(a, b *models.User) *models.Conversation {
	u1, u2 := models.NormalizePair(a.ID, b.ID)
	conv := &models.Conversation{User1ID: u1, User2ID: u2}
	s.Require().NoError(s.repo.CreateConversation(s.ctx, conv))
	return conv
}

func (s *MessagingRepositoryTestSuite) createMessage(conv *models.Conversation, sender *models.User, content string, at time.Time) *models.FriendMessage {
	msg := &models.FriendMessage{ConversationID: conv.ID, SenderID: sender.ID, Content: content, CreatedAt: at}
	s.Require().NoError(s.repo.CreateMessage(s.ctx, msg))
	return msg
}

func (s *MessagingRepositoryTestSuite) TestGetUsersSkipsUnknown() {
	users, err := s.users.GetUsers(s.ctx, []string{s.alice.ID, "00000000-0000-0000-0000-000000000000"})
	s.NoError(err)
	s.Len(users, 1)

	_, err = s.users.GetUser(s.ctx, "00000000-0000-0000-0000-000000000000")
	s.ErrorIs(err, ErrNotFound)
}

func (s *MessagingRepositoryTestSuite) TestConversationPair() {
	conv := s.createConversation(s.alice, s.bob)

	u1, u2 := models.NormalizePair(s.bob.ID, s.alice.ID)
	found, err := s.repo.FindConversationByPair(s.ctx, u1, u2)
	s.Require().NoError(err)
	s.Equal(conv.ID, found.ID)

	err = s.repo.CreateConversation(s.ctx, &models.Conversation{User1ID: u1, User2ID: u2})
	s.ErrorIs(err, ErrDuplicate)

	_, err = s.repo.FindConversationByPair(s.ctx, s.alice.ID, s.carol.ID)
	s.ErrorIs(err, ErrNotFound)
}

func (s *MessagingRepositoryTestSuite) TestListConversationsOrdersByActivity() {
	ab := s.createConversation(s.alice, s.bob)
	ac := s.createConversation(s.alice, s.carol)
	bc := s.createConversation(s.bob, s.carol)

	now := time.Now().UTC()
	s.Require().NoError(s.repo.TouchConversation(s.ctx, ab.ID, now.Add(-time.Hour)))
	s.Require().NoError(s.repo.TouchConversation(s.ctx, ac.ID, now))

	convs, err := s.repo.ListConversationsForUser(s.ctx, s.alice.ID)
	s.Require().NoError(err)
	s.Require().Len(convs, 2)
	s.Equal(ac.ID, convs[0].ID)
	s.Equal(ab.ID, convs[1].ID)

	convs, err = s.repo.ListConversationsForUser(s.ctx, s.carol.ID)
	s.Require().NoError(err)
	s.Len(convs, 2)
	s.Equal(ac.ID, convs[0].ID)
	s.Equal(bc.ID, convs[1].ID)
}

func (s *MessagingRepositoryTestSuite) TestListMessagesNewestFirst() {
	conv := s.createConversation(s.alice, s.bob)
	base := time.Now().UTC().Add(-time.Minute)
	first := s.createMessage(conv, s.alice, "one", base)
	second := s.createMessage(conv, s.bob, "two", base.Add(time.Second))
	third := s.createMessage(conv, s.alice, "three", base.Add(2*time.Second))

	page, err := s.repo.ListMessages(s.ctx, conv.ID, 2, 0)
	s.Require().NoError(err)
	s.Require().Len(page, 2)
	s.Equal(third.ID, page[0].ID)
	s.Equal(second.ID, page[1].ID)

	page, err = s.repo.ListMessages(s.ctx, conv.ID, 2, 2)
	s.Require().NoError(err)
	s.Require().Len(page, 1)
	s.Equal(first.ID, page[0].ID)

	since, err := s.repo.MessagesSince(s.ctx, conv.ID, second.CreatedAt)
	s.Require().NoError(err)
	s.Require().Len(since, 2)
	s.Equal(second.ID, since[0].ID)
	s.Equal(third.ID, since[1].ID)
}

func (s *MessagingRepositoryTestSuite) TestLastMessages() {
	ab := s.createConversation(s.alice, s.bob)
	ac := s.createConversation(s.alice, s.carol)
	bc := s.createConversation(s.bob, s.carol)
	base := time.Now().UTC().Add(-time.Minute)

	s.createMessage(ab, s.alice, "old", base)
	latest := s.createMessage(ab, s.bob, "new", base.Add(time.Second))
	only := s.createMessage(ac, s.carol, "hey", base)

	last, err := s.repo.LastMessages(s.ctx, []string{ab.ID, ac.ID, bc.ID})
	s.Require().NoError(err)
	s.Len(last, 2)
	s.Equal(latest.ID, last[ab.ID].ID)
	s.Equal(only.ID, last[ac.ID].ID)
	_, ok := last[bc.ID]
	s.False(ok)
}

func (s *MessagingRepositoryTestSuite) TestLastMessagesBreaksTiesOnID() {
	conv := s.createConversation(s.alice, s.bob)
	at := time.Now().UTC().Add(-time.Minute)

	a := s.createMessage(conv, s.alice, "same instant", at)
	b := s.createMessage(conv, s.bob, "same instant", at)
	want := a.ID
	if b.ID > want {
		want = b.ID
	}

	for i := 0; i < 3; i++ {
		last, err := s.repo.LastMessages(s.ctx, []string{conv.ID})
		s.Require().NoError(err)
		s.Equal(want, last[conv.ID].ID)
	}

	page, err := s.repo.ListMessages(s.ctx, conv.ID, 1, 0)
	s.Require().NoError(err)
	s.Require().Len(page, 1)
	s.Equal(want, page[0].ID)
}

func (s *MessagingRepositoryTestSuite) TestListMessagesFromOthers() {
	ab := s.createConversation(s.alice, s.bob)
	ac := s.createConversation(s.alice, s.carol)
	now := time.Now().UTC()

	s.createMessage(ab, s.alice, "mine", now)
	fromBob := s.createMessage(ab, s.bob, "bob", now)
	fromCarol := s.createMessage(ac, s.carol, "carol", now)

	msgs, err := s.repo.ListMessagesFromOthers(s.ctx, []string{ab.ID, ac.ID}, s.alice.ID)
	s.Require().NoError(err)
	ids := []string{}
	for _, m := range msgs {
		ids = append(ids, m.ID)
		s.NotEqual(s.alice.ID, m.SenderID)
	}
	s.ElementsMatch([]string{fromBob.ID, fromCarol.ID}, ids)

	msgs, err = s.repo.ListMessagesFromOthers(s.ctx, nil, s.alice.ID)
	s.NoError(err)
	s.Empty(msgs)
}

func (s *MessagingRepositoryTestSuite) TestCreateReceiptIsIdempotent() {
	conv := s.createConversation(s.alice, s.bob)
	msg := s.createMessage(conv, s.alice, "hi", time.Now().UTC())

	created, err := s.repo.CreateReceipt(s.ctx, &models.MessageReadReceipt{MessageID: msg.ID, ReaderID: s.bob.ID})
	s.Require().NoError(err)
	s.True(created)

	created, err = s.repo.CreateReceipt(s.ctx, &models.MessageReadReceipt{MessageID: msg.ID, ReaderID: s.bob.ID})
	s.Require().NoError(err)
	s.False(created)

	var count int64
	s.db.Model(&models.MessageReadReceipt{}).Count(&count)
	s.Equal(int64(1), count)

	receipt, err := s.repo.FindReceipt(s.ctx, msg.ID, s.bob.ID)
	s.Require().NoError(err)
	s.Equal(s.bob.ID, receipt.ReaderID)

	receipt, err = s.repo.FindReceiptForMessage(s.ctx, msg.ID)
	s.Require().NoError(err)
	s.Equal(s.bob.ID, receipt.ReaderID)

	_, err = s.repo.FindReceipt(s.ctx, msg.ID, s.alice.ID)
	s.ErrorIs(err, ErrNotFound)
}

func (s *MessagingRepositoryTestSuite) TestListReceiptsForReader() {
	conv := s.createConversation(s.alice, s.bob)
	now := time.Now().UTC()
	m1 := s.createMessage(conv, s.alice, "1", now)
	m2 := s.createMessage(conv, s.alice, "2", now)

	_, err := s.repo.CreateReceipt(s.ctx, &models.MessageReadReceipt{MessageID: m1.ID, ReaderID: s.bob.ID})
	s.Require().NoError(err)

	receipts, err := s.repo.ListReceiptsForReader(s.ctx, s.bob.ID, []string{m1.ID, m2.ID})
	s.Require().NoError(err)
	s.Require().Len(receipts, 1)
	s.Equal(m1.ID, receipts[0].MessageID)

	receipts, err = s.repo.ListReceiptsForReader(s.ctx, s.carol.ID, []string{m1.ID, m2.ID})
	s.NoError(err)
	s.Empty(receipts)
}

func (s *MessagingRepositoryTestSuite) TestDeleteMessageRemovesReceipts() {
	conv := s.createConversation(s.alice, s.bob)
	msg := s.createMessage(conv, s.alice, "bye", time.Now().UTC())
	_, err := s.repo.CreateReceipt(s.ctx, &models.MessageReadReceipt{MessageID: msg.ID, ReaderID: s.bob.ID})
	s.Require().NoError(err)

	s.Require().NoError(s.repo.DeleteMessage(s.ctx, msg.ID))

	_, err = s.repo.GetMessage(s.ctx, msg.ID)
	s.ErrorIs(err, ErrNotFound)
	_, err = s.repo.FindReceipt(s.ctx, msg.ID, s.bob.ID)
	s.ErrorIs(err, ErrNotFound)

	s.ErrorIs(s.repo.DeleteMessage(s.ctx, msg.ID), ErrNotFound)
}

func (s *MessagingRepositoryTestSuite) TestInvalidInput() {
	s.ErrorIs(s.repo.CreateConversation(s.ctx, nil), ErrInvalidInput)
	s.ErrorIs(s.repo.CreateMessage(s.ctx, &models.FriendMessage{}), ErrInvalidInput)
	_, err := s.repo.CreateReceipt(s.ctx, &models.MessageReadReceipt{})
	s.ErrorIs(err, ErrInvalidInput)
}

func TestChunkIDs(t *testing.T) {
	ids := make([]string, inClauseChunk*2+1)
	chunks := chunkIDs(ids)
	if len(chunks) != 3 || len(chunks[2]) != 1 {
		t.Fatalf("unexpected chunking: %d chunks", len(chunks))
	}
	if len(chunkIDs(nil)) != 0 {
		t.Fatal("expected no chunks for empty input")
	}
}

func TestMessagingRepositoryTestSuite(t *testing.T) {
	suite.Run(t, new(MessagingRepositoryTestSuite))
}
