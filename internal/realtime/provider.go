package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Handler receives change events for a subscribed conversation
type Handler func(ChangeEvent)

// StatusHandler receives channel status transitions. err is set for StatusChannelError.
type StatusHandler func(status ChannelStatus, err error)

// Channel is an open subscription to one topic
type Channel interface {
	Close() error
}

// Provider opens realtime channels and publishes change events
type Provider interface {
	Open(ctx context.Context, topic string, handler Handler, onStatus StatusHandler) (Channel, error)
	Publish(ctx context.Context, event ChangeEvent) error
}

// errorBackoff throttles the read loop after a receive error
const errorBackoff = time.Second

// RedisProvider implements Provider on Redis pub/sub
type RedisProvider struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisProvider creates a provider backed by client
func NewRedisProvider(client *redis.Client, logger *zap.Logger) *RedisProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisProvider{client: client, logger: logger}
}

// Open subscribes to topic and starts delivering events to handler.
// It returns once Redis has confirmed the subscription.
func (p *RedisProvider) Open(ctx context.Context, topic string, handler Handler, onStatus StatusHandler) (Channel, error) {
	if onStatus == nil {
		onStatus = func(ChannelStatus, error) {}
	}

	ps := p.client.Subscribe(ctx, topic)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}
	onStatus(StatusSubscribed, nil)

	ch := &redisChannel{
		topic:  topic,
		pubsub: ps,
		done:   make(chan struct{}),
		logger: p.logger,
	}
	ch.wg.Add(1)
	go ch.run(handler, onStatus)
	return ch, nil
}

// Publish sends event to its conversation's topic
func (p *RedisProvider) Publish(ctx context.Context, event ChangeEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal change event: %w", err)
	}
	if err := p.client.Publish(ctx, Topic(event.ConversationID), payload).Err(); err != nil {
		return fmt.Errorf("publish change event: %w", err)
	}
	return nil
}

type redisChannel struct {
	topic  string
	pubsub *redis.PubSub
	closed atomic.Bool
	done   chan struct{}
	wg     sync.WaitGroup
	logger *zap.Logger
}

func (c *redisChannel) run(handler Handler, onStatus StatusHandler) {
	defer c.wg.Done()
	defer onStatus(StatusClosed, nil)

	for {
		msg, err := c.pubsub.ReceiveMessage(context.Background())
		if err != nil {
			if c.closed.Load() || errors.Is(err, redis.ErrClosed) {
				return
			}
			onStatus(StatusChannelError, err)
			select {
			case <-c.done:
				return
			case <-time.After(errorBackoff):
			}
			continue
		}

		var event ChangeEvent
		if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
			onStatus(StatusChannelError, fmt.Errorf("decode change event: %w", err))
			continue
		}
		if handler != nil {
			handler(event)
		}
	}
}

// Close unsubscribes and waits for the read loop to exit
func (c *redisChannel) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(c.done)
	err := c.pubsub.Close()
	c.wg.Wait()
	if err != nil {
		c.logger.Debug("Pub/sub close returned error", zap.String("topic", c.topic), zap.Error(err))
	}
	return err
}
