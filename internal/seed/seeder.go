// Package seed fills a database with users, conversations and messages for
// local development and end-to-end tests.
package seed

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/zfogg/orbit/internal/auth"
	"github.com/zfogg/orbit/internal/logger"
	"github.com/zfogg/orbit/internal/messaging"
	"github.com/zfogg/orbit/internal/models"
	"github.com/zfogg/orbit/internal/receipts"
	"github.com/zfogg/orbit/internal/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// TestUsers are the fixed accounts created by SeedTest
var TestUsers = []struct {
	Username    string
	DisplayName string
}{
	{"alice", "Alice Smith"},
	{"bob", "Bob Johnson"},
	{"charlie", "Charlie Brown"},
	{"diana", "Diana Prince"},
	{"eve", "Eve Wilson"},
}

// Seeder handles database seeding operations. Messages go through the
// messaging service so conversation ordering and receipts stay consistent.
type Seeder struct {
	db       *gorm.DB
	users    repository.UserRepository
	service  *messaging.Service
	receipts *receipts.Engine
	logger   *zap.Logger
}

// NewSeeder creates a new seeder instance
func NewSeeder(db *gorm.DB) *Seeder {
	_ = gofakeit.Seed(time.Now().UnixNano())

	repo := repository.NewMessagingRepository(db)
	users := repository.NewUserRepository(db)
	engine := receipts.NewEngine(repo, logger.Log)
	return &Seeder{
		db:       db,
		users:    users,
		service:  messaging.NewService(repo, users, nil, engine, nil, logger.Log),
		receipts: engine,
		logger:   logger.Log,
	}
}

// SeedTest creates TestUsers and a small, deterministic set of conversations.
// Running it twice does not duplicate anything.
func (s *Seeder) SeedTest(ctx context.Context) ([]models.User, error) {
	users := make([]models.User, 0, len(TestUsers))
	for _, tu := range TestUsers {
		u, err := s.findOrCreateUser(ctx, tu.Username, tu.DisplayName)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}

	alice, bob, charlie, diana := users[0], users[1], users[2], users[3]
	script := []struct {
		from, to models.User
		lines    []string
		readBy   bool
	}{
		{alice, bob, []string{"hey bob", "are you around later?"}, true},
		{bob, alice, []string{"yep, after 6"}, false},
		{charlie, alice, []string{"did you see the new mix?", "link in a sec"}, false},
		{diana, bob, []string{"lunch tomorrow?"}, false},
	}

	fresh := map[string]bool{}
	for _, step := range script {
		conv, created, err := s.service.GetOrCreateConversation(ctx, step.from.ID, step.from.ID, step.to.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to open conversation %s/%s: %w", step.from.Username, step.to.Username, err)
		}
		if created {
			fresh[conv.ID] = true
		}
		if !fresh[conv.ID] {
			continue
		}
		for _, line := range step.lines {
			msg, err := s.service.SendText(ctx, conv.ID, step.from.ID, line)
			if err != nil {
				return nil, fmt.Errorf("failed to send seed message: %w", err)
			}
			if step.readBy {
				if _, err := s.receipts.MarkRead(ctx, msg.ID, step.to.ID); err != nil {
					return nil, fmt.Errorf("failed to mark seed message read: %w", err)
				}
			}
		}
	}

	s.logger.Info("Seeded test data", zap.Int("users", len(users)))
	return users, nil
}

// SeedDev creates userCount random users, pairs them into conversations and
// fills each with a short random exchange, some of it read
func (s *Seeder) SeedDev(ctx context.Context, userCount int) ([]models.User, error) {
	if userCount < 2 {
		return nil, fmt.Errorf("need at least 2 users, got %d", userCount)
	}

	users := make([]models.User, 0, userCount)
	for len(users) < userCount {
		u := &models.User{
			Username:    gofakeit.Username(),
			DisplayName: gofakeit.Name(),
			AvatarURL:   fmt.Sprintf("https://api.dicebear.com/7.x/avataaars/png?seed=%s", gofakeit.Word()),
		}
		err := s.users.CreateUser(ctx, u)
		if errors.Is(err, repository.ErrDuplicate) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to create user: %w", err)
		}
		users = append(users, *u)
	}

	shuffled := make([]models.User, len(users))
	copy(shuffled, users)
	rand.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	conversations, messages := 0, 0
	for i := 0; i+1 < len(shuffled); i++ {
		a, b := shuffled[i], shuffled[i+1]
		conv, _, err := s.service.GetOrCreateConversation(ctx, a.ID, a.ID, b.ID)
		if err != nil {
			s.logger.Warn("Failed to create seed conversation", zap.Error(err))
			continue
		}
		conversations++

		for n := gofakeit.Number(1, 8); n > 0; n-- {
			from, to := a, b
			if gofakeit.Bool() {
				from, to = b, a
			}
			msg, err := s.service.SendText(ctx, conv.ID, from.ID, gofakeit.HipsterSentence())
			if err != nil {
				return nil, fmt.Errorf("failed to send seed message: %w", err)
			}
			messages++
			if gofakeit.Number(0, 2) == 0 {
				if _, err := s.receipts.MarkRead(ctx, msg.ID, to.ID); err != nil {
					return nil, fmt.Errorf("failed to mark seed message read: %w", err)
				}
			}
		}
	}

	s.logger.Info("Seeded development data",
		zap.Int("users", len(users)),
		zap.Int("conversations", conversations),
		zap.Int("messages", messages))
	return users, nil
}

// Tokens signs a bearer token per user, keyed by username
func Tokens(v *auth.Verifier, users []models.User, ttl time.Duration) (map[string]string, error) {
	out := make(map[string]string, len(users))
	for _, u := range users {
		token, err := v.Issue(u.ID, u.Username, ttl)
		if err != nil {
			return nil, err
		}
		out[u.Username] = token
	}
	return out, nil
}

// Clean removes all messaging data and users (use with caution!)
func (s *Seeder) Clean(ctx context.Context) error {
	// Delete in reverse order of dependencies
	for _, table := range []string{"message_read_receipts", "friend_messages", "friend_conversations", "users"} {
		if err := s.db.WithContext(ctx).Exec("DELETE FROM " + table).Error; err != nil {
			return fmt.Errorf("failed to clean %s: %w", table, err)
		}
	}
	return nil
}

func (s *Seeder) findOrCreateUser(ctx context.Context, username, displayName string) (*models.User, error) {
	var existing models.User
	err := s.db.WithContext(ctx).Where("username = ?", username).First(&existing).Error
	if err == nil {
		return &existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to look up %s: %w", username, err)
	}

	u := &models.User{
		Username:    username,
		DisplayName: displayName,
		AvatarURL:   fmt.Sprintf("https://api.dicebear.com/7.x/avataaars/png?seed=%s", username),
	}
	if err := s.users.CreateUser(ctx, u); err != nil {
		return nil, fmt.Errorf("failed to create test user %s: %w", username, err)
	}
	return u, nil
}
