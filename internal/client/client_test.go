package client

import (
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/suite"
	"github.com/zfogg/orbit/internal/auth"
	"github.com/zfogg/orbit/internal/database/dbtest"
	apierrors "github.com/zfogg/orbit/internal/errors"
	"github.com/zfogg/orbit/internal/handlers"
	"github.com/zfogg/orbit/internal/messaging"
	"github.com/zfogg/orbit/internal/models"
	"github.com/zfogg/orbit/internal/receipts"
	"github.com/zfogg/orbit/internal/repository"
	"github.com/zfogg/orbit/internal/storage"
)

type memoryMedia struct{ keys []string }

func (m *memoryMedia) UploadMedia(_ context.Context, data []byte, contentType, kind, conversationID, filename string) (*storage.UploadResult, error) {
	key := kind + "/" + conversationID + "/" + filename
	m.keys = append(m.keys, key)
	return &storage.UploadResult{Key: key, URL: "https://cdn.test/" + key, ContentType: contentType, Size: int64(len(data))}, nil
}

func (m *memoryMedia) DeleteFile(context.Context, string) error { return nil }

type ClientTestSuite struct {
	suite.Suite
	server     *httptest.Server
	media      *memoryMedia
	alice, bob *models.User
	asAlice    *Client
	asBob      *Client
	ctx        context.Context
}

func (s *ClientTestSuite) SetupTest() {
	gin.SetMode(gin.TestMode)
	s.ctx = context.Background()

	db := dbtest.Open(s.T())
	repo := repository.NewMessagingRepository(db)
	users := repository.NewUserRepository(db)
	engine := receipts.NewEngine(repo, nil)
	s.media = &memoryMedia{}
	service := messaging.NewService(repo, users, s.media, engine, nil, nil)

	verifier := auth.NewVerifier([]byte("client-secret"))
	router := gin.New()
	handlers.NewHandlers(service, engine).RegisterRoutes(router.Group(""), handlers.Middlewares{
		Auth: auth.Middleware(verifier, false),
	})
	s.server = httptest.NewServer(router)
	s.T().Cleanup(s.server.Close)

	login := func(name string) (*models.User, *Client) {
		u := &models.User{Username: name, DisplayName: name}
		s.Require().NoError(users.CreateUser(s.ctx, u))
		token, err := verifier.Issue(u.ID, u.Username, time.Hour)
		s.Require().NoError(err)
		return u, New(s.server.URL, token, 5*time.Second, nil)
	}
	s.alice, s.asAlice = login("alice")
	s.bob, s.asBob = login("bob")
}

func (s *ClientTestSuite) TestConversationRoundTrip() {
	conv, created, err := s.asAlice.OpenConversation(s.ctx, s.alice.ID, s.bob.ID)
	s.Require().NoError(err)
	s.True(created)

	again, created, err := s.asBob.OpenConversation(s.ctx, s.bob.ID, s.alice.ID)
	s.Require().NoError(err)
	s.False(created)
	s.Equal(conv.ID, again.ID)

	msg, err := s.asAlice.Send(s.ctx, conv.ID, "hey bob")
	s.Require().NoError(err)
	s.Equal(models.MessageTypeText, msg.Type)

	counts, err := s.asBob.UnreadCounts(s.ctx, s.bob.ID)
	s.Require().NoError(err)
	s.Equal(1, counts.Total)

	list, err := s.asBob.Conversations(s.ctx, s.bob.ID)
	s.Require().NoError(err)
	s.Require().Len(list, 1)
	s.Equal(1, list[0].UnreadCount)
	s.Equal(s.alice.ID, list[0].OtherParticipant.ID)

	page, err := s.asBob.History(s.ctx, conv.ID, 10, 0)
	s.Require().NoError(err)
	s.Require().Len(page.Messages, 1)
	s.False(page.HasMore)

	mark, err := s.asBob.MarkRead(s.ctx, msg.ID)
	s.Require().NoError(err)
	s.False(mark.AlreadyRead)

	status, err := s.asAlice.ReadStatus(s.ctx, msg.ID)
	s.Require().NoError(err)
	s.True(status.Read)

	bulk, err := s.asBob.MarkConversationRead(s.ctx, conv.ID)
	s.Require().NoError(err)
	s.Equal(0, bulk.Attempted)

	s.Require().NoError(s.asAlice.Delete(s.ctx, msg.ID))
}

func (s *ClientTestSuite) TestAPIErrorsAreDecoded() {
	conv, _, err := s.asAlice.OpenConversation(s.ctx, s.alice.ID, s.bob.ID)
	s.Require().NoError(err)
	msg, err := s.asAlice.Send(s.ctx, conv.ID, "mine")
	s.Require().NoError(err)

	_, err = s.asAlice.MarkRead(s.ctx, msg.ID)
	var apiErr *apierrors.APIError
	s.Require().ErrorAs(err, &apiErr)
	s.Equal(apierrors.ErrSelfRead, apiErr.Code)
	s.Equal(400, apiErr.Status)

	err = s.asBob.Delete(s.ctx, msg.ID)
	s.Require().ErrorAs(err, &apiErr)
	s.Equal(apierrors.ErrForbidden, apiErr.Code)

	anonymous := New(s.server.URL, "", time.Second, nil)
	_, err = anonymous.UnreadCounts(s.ctx, s.bob.ID)
	s.Require().ErrorAs(err, &apiErr)
	s.Equal(apierrors.ErrUnauthorized, apiErr.Code)
}

func (s *ClientTestSuite) TestSendFile() {
	conv, _, err := s.asAlice.OpenConversation(s.ctx, s.alice.ID, s.bob.ID)
	s.Require().NoError(err)

	path := filepath.Join(s.T().TempDir(), "pic.png")
	png := append([]byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"), make([]byte, 32)...)
	s.Require().NoError(os.WriteFile(path, png, 0o600))

	msg, err := s.asAlice.SendFile(s.ctx, conv.ID, models.MessageTypeImage, path, "sunset")
	s.Require().NoError(err)
	s.Equal(models.MessageTypeImage, msg.Type)
	s.Equal("image/png", msg.MediaMIME)
	s.Len(s.media.keys, 1)
}

func TestClientTestSuite(t *testing.T) {
	suite.Run(t, new(ClientTestSuite))
}
