package receipts

import (
	"sort"
	"time"

	"github.com/zfogg/orbit/internal/models"
)

// ConversationSummary is one row of a user's conversation list
type ConversationSummary struct {
	ID               string                `json:"id"`
	OtherParticipant models.Profile        `json:"other_participant"`
	LastMessage      *models.FriendMessage `json:"last_message"`
	LastMessageAt    *time.Time            `json:"last_message_at"`
	UnreadCount      int                   `json:"unread_count"`
	CreatedAt        time.Time             `json:"created_at"`
}

// ReceiptSet indexes receipts by message id. O(n).
func ReceiptSet(receipts []models.MessageReadReceipt) map[string]struct{} {
	set := make(map[string]struct{}, len(receipts))
	for _, r := range receipts {
		set[r.MessageID] = struct{}{}
	}
	return set
}

// UnreadMessages returns the messages readerID has not read, skipping the
// reader's own messages. Input order is preserved. O(n).
func UnreadMessages(msgs []models.FriendMessage, readerID string, read map[string]struct{}) []models.FriendMessage {
	unread := make([]models.FriendMessage, 0, len(msgs))
	for _, m := range msgs {
		if m.SenderID == readerID {
			continue
		}
		if _, ok := read[m.ID]; ok {
			continue
		}
		unread = append(unread, m)
	}
	return unread
}

// CountUnreadByConversation counts unread messages per conversation.
// Every id in conversationIDs gets an entry, zero when nothing is unread. O(n+c).
func CountUnreadByConversation(conversationIDs []string, msgs []models.FriendMessage, readerID string, read map[string]struct{}) map[string]int {
	counts := make(map[string]int, len(conversationIDs))
	for _, id := range conversationIDs {
		counts[id] = 0
	}
	for _, m := range UnreadMessages(msgs, readerID, read) {
		if _, ok := counts[m.ConversationID]; ok {
			counts[m.ConversationID]++
		}
	}
	return counts
}

// SummarizeConversations joins conversations with their last message, the
// other participant's profile and the unread count for userID.
// Output is ordered by last activity, newest first; conversations without
// messages sort last by creation time. O(c log c).
func SummarizeConversations(
	userID string,
	convs []models.Conversation,
	last map[string]models.FriendMessage,
	profiles map[string]models.Profile,
	counts map[string]int,
) []ConversationSummary {
	out := make([]ConversationSummary, 0, len(convs))
	for _, c := range convs {
		other := c.OtherParticipant(userID)
		profile, ok := profiles[other]
		if !ok {
			profile = models.Profile{ID: other}
		}

		summary := ConversationSummary{
			ID:               c.ID,
			OtherParticipant: profile,
			LastMessageAt:    c.LastMessageAt,
			UnreadCount:      counts[c.ID],
			CreatedAt:        c.CreatedAt,
		}
		if m, ok := last[c.ID]; ok {
			msg := m
			summary.LastMessage = &msg
			if summary.LastMessageAt == nil {
				at := m.CreatedAt
				summary.LastMessageAt = &at
			}
		}
		out = append(out, summary)
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].LastMessageAt, out[j].LastMessageAt
		switch {
		case a != nil && b != nil:
			return a.After(*b)
		case a != nil:
			return true
		case b != nil:
			return false
		default:
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
	})
	return out
}
