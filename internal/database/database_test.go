package database_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zfogg/orbit/internal/database"
	"github.com/zfogg/orbit/internal/database/dbtest"
	"github.com/zfogg/orbit/internal/models"
	"gorm.io/gorm"
)

func TestMigrateCreatesTables(t *testing.T) {
	db := dbtest.Open(t)

	for _, table := range []string{"users", "friend_conversations", "friend_messages", "message_read_receipts"} {
		assert.True(t, db.Migrator().HasTable(table), table)
	}
	assert.NoError(t, database.Health(context.Background(), db))
}

func TestConversationPairIsUnique(t *testing.T) {
	db := dbtest.Open(t)

	require.NoError(t, db.Create(&models.Conversation{User1ID: "a", User2ID: "b"}).Error)
	err := db.Create(&models.Conversation{User1ID: "a", User2ID: "b"}).Error
	assert.ErrorIs(t, err, gorm.ErrDuplicatedKey)
}

func TestReadReceiptPairIsUnique(t *testing.T) {
	db := dbtest.Open(t)

	conv := &models.Conversation{User1ID: "a", User2ID: "b"}
	require.NoError(t, db.Create(conv).Error)
	msg := &models.FriendMessage{ConversationID: conv.ID, SenderID: "a", Content: "hi"}
	require.NoError(t, db.Create(msg).Error)

	require.NoError(t, db.Create(&models.MessageReadReceipt{MessageID: msg.ID, ReaderID: "b"}).Error)
	err := db.Create(&models.MessageReadReceipt{MessageID: msg.ID, ReaderID: "b"}).Error
	assert.ErrorIs(t, err, gorm.ErrDuplicatedKey)
}

func TestMigrateNilDatabase(t *testing.T) {
	assert.Error(t, database.Migrate(nil))
	assert.NoError(t, database.Close(nil))
}

func TestMigratorDownAndUp(t *testing.T) {
	db := dbtest.Open(t)
	m := database.NewMigrator(db)

	status := m.Status()
	require.Len(t, status, 4)
	assert.Equal(t, "users", status[0].Table)
	for _, s := range status {
		assert.True(t, s.Exists, s.Table)
	}

	require.NoError(t, m.Down())
	for _, s := range m.Status() {
		assert.False(t, s.Exists, s.Table)
	}

	require.NoError(t, m.Up())
	assert.True(t, db.Migrator().HasTable("message_read_receipts"))
}
