package cache

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zfogg/orbit/internal/receipts"
)

type memoryStore struct {
	values   map[string][]byte
	ttls     map[string]time.Duration
	counters map[string]int64
	err      error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		values:   map[string][]byte{},
		ttls:     map[string]time.Duration{},
		counters: map[string]int64{},
	}
}

func (m *memoryStore) GetJSON(_ context.Context, key string, dest any) error {
	if m.err != nil {
		return m.err
	}
	raw, ok := m.values[key]
	if !ok {
		return ErrMiss
	}
	return json.Unmarshal(raw, dest)
}

func (m *memoryStore) GetInt(_ context.Context, key string) (int64, error) {
	if m.err != nil {
		return 0, m.err
	}
	return m.counters[key], nil
}

func (m *memoryStore) SetJSONIfCounter(_ context.Context, key, counterKey string, expected int64, value any, ttl time.Duration) (bool, error) {
	if m.counters[counterKey] != expected {
		return false, nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return false, err
	}
	m.values[key] = raw
	m.ttls[key] = ttl
	return true, nil
}

func (m *memoryStore) BumpAndDel(_ context.Context, counterKeys, keys []string) error {
	for _, k := range counterKeys {
		m.counters[k]++
	}
	for _, k := range keys {
		delete(m.values, k)
	}
	return nil
}

func TestUnreadCacheRoundTrip(t *testing.T) {
	store := newMemoryStore()
	c := NewUnreadCache(store)
	ctx := context.Background()

	_, ok, err := c.GetUnreadCounts(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, ok)

	counts := receipts.UnreadCounts{Conversations: map[string]int{"c1": 3}, Total: 3}
	stored, err := c.SetUnreadCounts(ctx, "u1", 0, counts, 30*time.Second)
	require.NoError(t, err)
	assert.True(t, stored)
	assert.Equal(t, 30*time.Second, store.ttls["unread_counts:u1"])

	got, ok, err := c.GetUnreadCounts(ctx, "u1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, counts, *got)

	require.NoError(t, c.InvalidateUnreadCounts(ctx, "u1", ""))
	_, ok, err = c.GetUnreadCounts(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUnreadCacheEmptyConversations(t *testing.T) {
	c := NewUnreadCache(newMemoryStore())
	ctx := context.Background()

	_, err := c.SetUnreadCounts(ctx, "u1", 0, receipts.UnreadCounts{}, time.Minute)
	require.NoError(t, err)
	got, ok, err := c.GetUnreadCounts(ctx, "u1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotNil(t, got.Conversations)
}

func TestUnreadCacheRefusesWriteAfterInvalidation(t *testing.T) {
	c := NewUnreadCache(newMemoryStore())
	ctx := context.Background()

	gen, err := c.UnreadGeneration(ctx, "u1")
	require.NoError(t, err)

	require.NoError(t, c.InvalidateUnreadCounts(ctx, "u1"))

	stale := receipts.UnreadCounts{Conversations: map[string]int{"c1": 3}, Total: 3}
	stored, err := c.SetUnreadCounts(ctx, "u1", gen, stale, time.Minute)
	require.NoError(t, err)
	assert.False(t, stored)

	_, ok, err := c.GetUnreadCounts(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, ok)

	gen, err = c.UnreadGeneration(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), gen)
	stored, err = c.SetUnreadCounts(ctx, "u1", gen, receipts.UnreadCounts{Conversations: map[string]int{"c1": 0}}, time.Minute)
	require.NoError(t, err)
	assert.True(t, stored)
}

func TestUnreadCacheStoreError(t *testing.T) {
	store := newMemoryStore()
	store.err = errors.New("connection refused")

	_, ok, err := NewUnreadCache(store).GetUnreadCounts(context.Background(), "u1")
	assert.Error(t, err)
	assert.False(t, ok)
}
