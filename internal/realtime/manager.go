// Package realtime manages the bounded pool of realtime conversation channels
// and the delivery strategies built on top of it.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/zfogg/orbit/internal/logger"
	"go.uber.org/zap"
)

// DefaultMaxConnections is the provider's concurrent channel ceiling
const DefaultMaxConnections = 2

var (
	ErrManagerClosed         = errors.New("realtime manager is closed")
	ErrSubscriptionCancelled = errors.New("subscription cancelled while opening")
)

// SubscribeResult is the outcome of Manager.Subscribe
type SubscribeResult int

const (
	Subscribed SubscribeResult = iota
	AlreadySubscribed
	CapacityExceeded
)

func (r SubscribeResult) String() string {
	switch r {
	case Subscribed:
		return "subscribed"
	case AlreadySubscribed:
		return "already_subscribed"
	case CapacityExceeded:
		return "capacity_exceeded"
	default:
		return fmt.Sprintf("SubscribeResult(%d)", int(r))
	}
}

// Metrics receives slot pool observations
type Metrics interface {
	SetActiveSlots(n int)
	CapacityExceeded()
	ChannelError()
}

type noopMetrics struct{}

func (noopMetrics) SetActiveSlots(int) {}
func (noopMetrics) CapacityExceeded()  {}
func (noopMetrics) ChannelError()      {}

// slot is a reserved or open channel for one conversation
type slot struct {
	channel Channel
	opening bool
}

// Manager owns the slot map. A slot is reserved under the lock before the
// provider is contacted, so concurrent callers never exceed max.
type Manager struct {
	provider     Provider
	max          int
	pollInterval time.Duration
	logger       *zap.Logger
	metrics      Metrics

	mu     sync.Mutex
	slots  map[string]*slot
	closed bool
}

// ManagerOption configures a Manager
type ManagerOption func(*Manager)

// WithMetrics records pool observations to m
func WithMetrics(m Metrics) ManagerOption {
	return func(mgr *Manager) {
		if m != nil {
			mgr.metrics = m
		}
	}
}

// WithPollInterval sets the interval of polling deliveries
func WithPollInterval(d time.Duration) ManagerOption {
	return func(mgr *Manager) {
		if d > 0 {
			mgr.pollInterval = d
		}
	}
}

// NewManager creates a manager allowing at most maxConnections open channels
func NewManager(provider Provider, maxConnections int, log *zap.Logger, opts ...ManagerOption) *Manager {
	if maxConnections <= 0 {
		maxConnections = DefaultMaxConnections
	}
	if log == nil {
		log = zap.NewNop()
	}
	m := &Manager{
		provider:     provider,
		max:          maxConnections,
		pollInterval: DefaultPollInterval,
		logger:       log,
		metrics:      noopMetrics{},
		slots:        make(map[string]*slot),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Subscribe opens a channel for conversationID and routes its events to onUpdate.
// A full pool yields CapacityExceeded, not an error; no existing slot is evicted.
func (m *Manager) Subscribe(ctx context.Context, conversationID string, onUpdate Handler) (SubscribeResult, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return 0, ErrManagerClosed
	}
	if _, ok := m.slots[conversationID]; ok {
		m.mu.Unlock()
		return AlreadySubscribed, nil
	}
	if len(m.slots) >= m.max {
		m.mu.Unlock()
		m.metrics.CapacityExceeded()
		m.logger.Info("Realtime slot pool full",
			logger.WithConversationID(conversationID),
			zap.Int("max_connections", m.max))
		return CapacityExceeded, nil
	}
	reserved := &slot{opening: true}
	m.slots[conversationID] = reserved
	m.metrics.SetActiveSlots(len(m.slots))
	m.mu.Unlock()

	ch, err := m.provider.Open(ctx, Topic(conversationID), onUpdate, m.statusHandler(conversationID))

	m.mu.Lock()
	current, stillReserved := m.slots[conversationID]
	stillReserved = stillReserved && current == reserved
	if err != nil {
		if stillReserved {
			delete(m.slots, conversationID)
			m.metrics.SetActiveSlots(len(m.slots))
		}
		m.mu.Unlock()
		return 0, fmt.Errorf("open realtime channel: %w", err)
	}
	if !stillReserved {
		m.mu.Unlock()
		_ = ch.Close()
		if m.isClosed() {
			return 0, ErrManagerClosed
		}
		return 0, ErrSubscriptionCancelled
	}
	reserved.channel = ch
	reserved.opening = false
	m.mu.Unlock()

	m.logger.Debug("Realtime channel opened", logger.WithConversationID(conversationID))
	return Subscribed, nil
}

func (m *Manager) statusHandler(conversationID string) StatusHandler {
	return func(status ChannelStatus, err error) {
		if status != StatusChannelError {
			return
		}
		// Left registered; reconnect policy belongs to the caller
		m.metrics.ChannelError()
		m.logger.Error("Realtime channel error",
			logger.WithConversationID(conversationID),
			zap.Error(err))
	}
}

// Unsubscribe closes the conversation's channel and frees its slot.
// Unknown ids are a no-op.
func (m *Manager) Unsubscribe(conversationID string) error {
	m.mu.Lock()
	s, ok := m.slots[conversationID]
	if ok {
		delete(m.slots, conversationID)
		m.metrics.SetActiveSlots(len(m.slots))
	}
	m.mu.Unlock()

	if !ok || s.channel == nil {
		return nil
	}
	if err := s.channel.Close(); err != nil {
		return fmt.Errorf("close realtime channel: %w", err)
	}
	m.logger.Debug("Realtime channel closed", logger.WithConversationID(conversationID))
	return nil
}

// IsSubscribed reports whether conversationID holds a slot
func (m *Manager) IsSubscribed(conversationID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.slots[conversationID]
	return ok
}

// ActiveCount returns the number of held slots
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.slots)
}

// MaxConnections returns the pool ceiling
func (m *Manager) MaxConnections() int {
	return m.max
}

func (m *Manager) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Close releases every slot and rejects further subscriptions. Channels are
// closed in parallel; ctx bounds how long Close waits for them. Channels
// still opening are closed by their own Subscribe call.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	slots := m.slots
	m.slots = make(map[string]*slot)
	m.metrics.SetActiveSlots(0)
	m.mu.Unlock()

	var (
		wg   sync.WaitGroup
		emu  sync.Mutex
		errs []error
	)
	for id, s := range slots {
		if s.channel == nil {
			continue
		}
		wg.Add(1)
		go func(id string, ch Channel) {
			defer wg.Done()
			if err := ch.Close(); err != nil {
				emu.Lock()
				errs = append(errs, fmt.Errorf("close %s: %w", id, err))
				emu.Unlock()
			}
		}(id, s.channel)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	if len(slots) > 0 {
		m.logger.Info("Realtime manager closed", zap.Int("released_slots", len(slots)))
	}
	emu.Lock()
	defer emu.Unlock()
	return errors.Join(errs...)
}
