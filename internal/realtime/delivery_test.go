package realtime

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zfogg/orbit/internal/models"
)

type fakePoller struct {
	mu    sync.Mutex
	msgs  []models.FriendMessage
	calls int
}

func (p *fakePoller) add(msg models.FriendMessage) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, msg)
}

func (p *fakePoller) MessagesSince(_ context.Context, conversationID string, since time.Time) ([]models.FriendMessage, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	var out []models.FriendMessage
	for _, m := range p.msgs {
		if m.ConversationID == conversationID && !m.CreatedAt.Before(since) {
			out = append(out, m)
		}
	}
	return out, nil
}

type eventSink struct {
	mu     sync.Mutex
	events []ChangeEvent
}

func (s *eventSink) handle(ev ChangeEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *eventSink) ids() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, len(s.events))
	for i, ev := range s.events {
		ids[i] = ev.MessageID
	}
	return ids
}

func TestDeliverRealtimeWhenSlotFree(t *testing.T) {
	mgr := NewManager(newFakeProvider(), 2, nil)

	d, err := mgr.Deliver(context.Background(), "a", nil, &fakePoller{})
	require.NoError(t, err)
	assert.Equal(t, ModeRealtime, d.Mode())
	assert.Equal(t, 1, mgr.ActiveCount())

	require.NoError(t, d.Close())
	require.NoError(t, d.Close())
	assert.Equal(t, 0, mgr.ActiveCount())
}

func TestDeliverSharedSlotLeftToOwner(t *testing.T) {
	mgr := NewManager(newFakeProvider(), 2, nil)

	owner, err := mgr.Deliver(context.Background(), "a", nil, nil)
	require.NoError(t, err)
	guest, err := mgr.Deliver(context.Background(), "a", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, ModeRealtime, guest.Mode())

	require.NoError(t, guest.Close())
	assert.True(t, mgr.IsSubscribed("a"))

	require.NoError(t, owner.Close())
	assert.False(t, mgr.IsSubscribed("a"))
}

func TestDeliverFallsBackToPolling(t *testing.T) {
	mgr := NewManager(newFakeProvider(), 1, nil, WithPollInterval(10*time.Millisecond))
	ctx := context.Background()

	_, err := mgr.Subscribe(ctx, "busy", nil)
	require.NoError(t, err)

	poller := &fakePoller{}
	sink := &eventSink{}
	d, err := mgr.Deliver(ctx, "quiet", sink.handle, poller)
	require.NoError(t, err)
	assert.Equal(t, ModePolling, d.Mode())
	assert.Equal(t, 1, mgr.ActiveCount(), "polling does not take a slot")

	base := time.Now().UTC().Add(time.Second)
	poller.add(models.FriendMessage{ID: "m1", ConversationID: "quiet", CreatedAt: base})
	poller.add(models.FriendMessage{ID: "m2", ConversationID: "quiet", CreatedAt: base.Add(time.Millisecond)})
	poller.add(models.FriendMessage{ID: "other", ConversationID: "busy", CreatedAt: base})

	assert.Eventually(t, func() bool {
		return len(sink.ids()) == 2
	}, time.Second, 5*time.Millisecond)

	// later polls do not repeat delivered messages
	poller.add(models.FriendMessage{ID: "m3", ConversationID: "quiet", CreatedAt: base.Add(time.Second)})
	assert.Eventually(t, func() bool {
		return len(sink.ids()) == 3
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, d.Close())
	assert.Equal(t, []string{"m1", "m2", "m3"}, sink.ids())
	for _, ev := range sink.events {
		assert.Equal(t, EventInsert, ev.Type)
	}
}

func TestPollingDeliversLateMessageWithSameTimestamp(t *testing.T) {
	poller := &fakePoller{}
	sink := &eventSink{}
	d := StartPolling("a", sink.handle, poller, 5*time.Millisecond, nil)

	at := time.Now().UTC().Add(time.Second)
	poller.add(models.FriendMessage{ID: "m1", ConversationID: "a", CreatedAt: at})
	assert.Eventually(t, func() bool {
		return len(sink.ids()) == 1
	}, time.Second, 5*time.Millisecond)

	// committed after m1 was polled, stamped with the same instant
	poller.add(models.FriendMessage{ID: "m2", ConversationID: "a", CreatedAt: at})
	assert.Eventually(t, func() bool {
		return len(sink.ids()) == 2
	}, time.Second, 5*time.Millisecond)

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, d.Close())
	assert.Equal(t, []string{"m1", "m2"}, sink.ids())
}

func TestDeliverWithoutPollerAtCapacity(t *testing.T) {
	mgr := NewManager(newFakeProvider(), 1, nil)
	_, err := mgr.Subscribe(context.Background(), "busy", nil)
	require.NoError(t, err)

	_, err = mgr.Deliver(context.Background(), "quiet", nil, nil)
	assert.Error(t, err)
}

func TestPollingCloseStopsLoop(t *testing.T) {
	poller := &fakePoller{}
	d := StartPolling("a", nil, poller, 5*time.Millisecond, nil)
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, d.Close())

	poller.mu.Lock()
	calls := poller.calls
	poller.mu.Unlock()

	time.Sleep(20 * time.Millisecond)
	poller.mu.Lock()
	defer poller.mu.Unlock()
	assert.Equal(t, calls, poller.calls)
}
