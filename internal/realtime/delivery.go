package realtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/zfogg/orbit/internal/logger"
	"github.com/zfogg/orbit/internal/models"
	"go.uber.org/zap"
)

// DefaultPollInterval is how often PollingDelivery queries the store
const DefaultPollInterval = 3 * time.Second

// DeliveryMode names the strategy a Delivery uses
type DeliveryMode string

const (
	ModeRealtime DeliveryMode = "realtime"
	ModePolling  DeliveryMode = "polling"
)

// Delivery streams a conversation's change events until closed
type Delivery interface {
	Mode() DeliveryMode
	Close() error
}

// Poller returns a conversation's messages created after since, oldest first
type Poller interface {
	MessagesSince(ctx context.Context, conversationID string, since time.Time) ([]models.FriendMessage, error)
}

// Deliver picks a delivery strategy for conversationID. A free slot yields a
// RealtimeDelivery; a full pool yields a PollingDelivery over poller.
func (m *Manager) Deliver(ctx context.Context, conversationID string, onUpdate Handler, poller Poller) (Delivery, error) {
	result, err := m.Subscribe(ctx, conversationID, onUpdate)
	if err != nil {
		return nil, err
	}

	switch result {
	case Subscribed, AlreadySubscribed:
		return &RealtimeDelivery{
			manager:        m,
			conversationID: conversationID,
			owner:          result == Subscribed,
		}, nil
	case CapacityExceeded:
		if poller == nil {
			return nil, fmt.Errorf("realtime pool full and no poller for conversation %s", conversationID)
		}
		return StartPolling(conversationID, onUpdate, poller, m.pollInterval, m.logger), nil
	default:
		return nil, fmt.Errorf("unexpected subscribe result %s", result)
	}
}

// RealtimeDelivery is backed by a manager slot
type RealtimeDelivery struct {
	manager        *Manager
	conversationID string
	owner          bool
	once           sync.Once
}

func (d *RealtimeDelivery) Mode() DeliveryMode {
	return ModeRealtime
}

// Close frees the slot when this delivery opened it. A delivery that found
// the conversation already subscribed leaves the slot to its owner.
func (d *RealtimeDelivery) Close() error {
	var err error
	d.once.Do(func() {
		if d.owner {
			err = d.manager.Unsubscribe(d.conversationID)
		}
	})
	return err
}

// PollingDelivery emits INSERT events for messages found by periodic queries
type PollingDelivery struct {
	conversationID string
	onUpdate       Handler
	poller         Poller
	interval       time.Duration
	logger         *zap.Logger

	since time.Time
	// ids already delivered whose created_at equals since
	seen map[string]struct{}

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// StartPolling begins polling for messages created from now on
func StartPolling(conversationID string, onUpdate Handler, poller Poller, interval time.Duration, log *zap.Logger) *PollingDelivery {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	d := &PollingDelivery{
		conversationID: conversationID,
		onUpdate:       onUpdate,
		poller:         poller,
		interval:       interval,
		logger:         log,
		since:          time.Now().UTC(),
		seen:           make(map[string]struct{}),
		ctx:            ctx,
		cancel:         cancel,
		done:           make(chan struct{}),
	}
	go d.run()
	log.Info("Polling delivery started",
		logger.WithConversationID(conversationID),
		zap.Duration("interval", interval))
	return d
}

func (d *PollingDelivery) Mode() DeliveryMode {
	return ModePolling
}

func (d *PollingDelivery) run() {
	defer close(d.done)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			d.poll()
		case <-d.ctx.Done():
			return
		}
	}
}

func (d *PollingDelivery) poll() {
	ctx, cancel := context.WithTimeout(d.ctx, d.interval)
	defer cancel()

	msgs, err := d.poller.MessagesSince(ctx, d.conversationID, d.since)
	if err != nil {
		if d.ctx.Err() == nil {
			d.logger.Warn("Polling for messages failed",
				logger.WithConversationID(d.conversationID),
				zap.Error(err))
		}
		return
	}

	for i := range msgs {
		msg := msgs[i]
		switch {
		case msg.CreatedAt.After(d.since):
			d.since = msg.CreatedAt
			d.seen = map[string]struct{}{msg.ID: {}}
		case msg.CreatedAt.Equal(d.since):
			if _, dup := d.seen[msg.ID]; dup {
				continue
			}
			d.seen[msg.ID] = struct{}{}
		default:
			continue
		}
		if d.onUpdate != nil {
			d.onUpdate(InsertEvent(&msg))
		}
	}
}

// Close stops the poll loop and waits for it to exit
func (d *PollingDelivery) Close() error {
	d.cancel()
	<-d.done
	return nil
}
