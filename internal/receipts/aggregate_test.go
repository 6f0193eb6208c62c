package receipts

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zfogg/orbit/internal/models"
)

func TestUnreadMessagesSkipsOwnAndRead(t *testing.T) {
	msgs := []models.FriendMessage{
		{ID: "m1", ConversationID: "c1", SenderID: "a"},
		{ID: "m2", ConversationID: "c1", SenderID: "b"},
		{ID: "m3", ConversationID: "c1", SenderID: "a"},
		{ID: "m4", ConversationID: "c1", SenderID: "a"},
	}
	read := ReceiptSet([]models.MessageReadReceipt{{MessageID: "m3", ReaderID: "b"}})

	unread := UnreadMessages(msgs, "b", read)
	require.Len(t, unread, 2)
	assert.Equal(t, "m1", unread[0].ID)
	assert.Equal(t, "m4", unread[1].ID)
}

func TestCountUnreadByConversation(t *testing.T) {
	msgs := []models.FriendMessage{
		{ID: "m1", ConversationID: "c1", SenderID: "a"},
		{ID: "m2", ConversationID: "c1", SenderID: "a"},
		{ID: "m3", ConversationID: "c2", SenderID: "c"},
		{ID: "m4", ConversationID: "stray", SenderID: "c"},
	}
	read := ReceiptSet([]models.MessageReadReceipt{{MessageID: "m2"}})

	counts := CountUnreadByConversation([]string{"c1", "c2", "c3"}, msgs, "b", read)
	assert.Equal(t, map[string]int{"c1": 1, "c2": 1, "c3": 0}, counts)

	assert.Empty(t, CountUnreadByConversation(nil, nil, "b", nil))
}

func TestSummarizeConversations(t *testing.T) {
	now := time.Now().UTC()
	earlier := now.Add(-time.Hour)

	convs := []models.Conversation{
		{ID: "quiet", User1ID: "a", User2ID: "d", CreatedAt: now},
		{ID: "old", User1ID: "a", User2ID: "b", LastMessageAt: &earlier},
		{ID: "new", User1ID: "a", User2ID: "c", LastMessageAt: &now},
	}
	last := map[string]models.FriendMessage{
		"old": {ID: "m1", ConversationID: "old", Content: "hey"},
		"new": {ID: "m2", ConversationID: "new", Content: "yo"},
	}
	profiles := map[string]models.Profile{
		"b": {ID: "b", Username: "bob"},
		"c": {ID: "c", Username: "carol"},
	}
	counts := map[string]int{"new": 2}

	out := SummarizeConversations("a", convs, last, profiles, counts)
	require.Len(t, out, 3)

	assert.Equal(t, "new", out[0].ID)
	assert.Equal(t, "carol", out[0].OtherParticipant.Username)
	assert.Equal(t, 2, out[0].UnreadCount)
	require.NotNil(t, out[0].LastMessage)
	assert.Equal(t, "m2", out[0].LastMessage.ID)

	assert.Equal(t, "old", out[1].ID)
	assert.Equal(t, 0, out[1].UnreadCount)

	assert.Equal(t, "quiet", out[2].ID)
	assert.Nil(t, out[2].LastMessage)
	assert.Equal(t, "d", out[2].OtherParticipant.ID, "missing profile falls back to the id")
}
