package cache

import (
	"context"
	"errors"
	"time"

	"github.com/zfogg/orbit/internal/receipts"
)

// jsonStore is the key/value surface UnreadCache needs
type jsonStore interface {
	GetJSON(ctx context.Context, key string, dest any) error
	GetInt(ctx context.Context, key string) (int64, error)
	SetJSONIfCounter(ctx context.Context, key, counterKey string, expected int64, value any, ttl time.Duration) (bool, error)
	BumpAndDel(ctx context.Context, counterKeys, keys []string) error
}

// UnreadCache keeps computed unread counts in Redis. Every invalidation bumps
// a per-user generation, and a write only lands if the generation it was
// computed under is still current.
type UnreadCache struct {
	store jsonStore
}

// NewUnreadCache creates an unread count cache
func NewUnreadCache(store jsonStore) *UnreadCache {
	return &UnreadCache{store: store}
}

func unreadKey(userID string) string {
	return "unread_counts:" + userID
}

func generationKey(userID string) string {
	return "unread_counts_gen:" + userID
}

// GetUnreadCounts returns the cached counts for userID
func (c *UnreadCache) GetUnreadCounts(ctx context.Context, userID string) (*receipts.UnreadCounts, bool, error) {
	var counts receipts.UnreadCounts
	err := c.store.GetJSON(ctx, unreadKey(userID), &counts)
	if errors.Is(err, ErrMiss) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if counts.Conversations == nil {
		counts.Conversations = map[string]int{}
	}
	return &counts, true, nil
}

// UnreadGeneration returns the current invalidation generation of userID
func (c *UnreadCache) UnreadGeneration(ctx context.Context, userID string) (int64, error) {
	return c.store.GetInt(ctx, generationKey(userID))
}

// SetUnreadCounts caches counts for userID if no invalidation happened since
// generation was read
func (c *UnreadCache) SetUnreadCounts(ctx context.Context, userID string, generation int64, counts receipts.UnreadCounts, ttl time.Duration) (bool, error) {
	return c.store.SetJSONIfCounter(ctx, unreadKey(userID), generationKey(userID), generation, counts, ttl)
}

// InvalidateUnreadCounts drops the cached counts of the given users and
// bumps their generation
func (c *UnreadCache) InvalidateUnreadCounts(ctx context.Context, userIDs ...string) error {
	gens := make([]string, 0, len(userIDs))
	keys := make([]string, 0, len(userIDs))
	for _, id := range userIDs {
		if id != "" {
			gens = append(gens, generationKey(id))
			keys = append(keys, unreadKey(id))
		}
	}
	return c.store.BumpAndDel(ctx, gens, keys)
}

var _ receipts.CountCache = (*UnreadCache)(nil)
