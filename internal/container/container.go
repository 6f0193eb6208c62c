// Package container holds the process-wide dependencies of the orbit server
// and tears them down in reverse registration order.
package container

import (
	"context"
	"errors"
	"sync"

	"github.com/zfogg/orbit/internal/cache"
	"github.com/zfogg/orbit/internal/logger"
	"github.com/zfogg/orbit/internal/messaging"
	"github.com/zfogg/orbit/internal/realtime"
	"github.com/zfogg/orbit/internal/receipts"
	"github.com/zfogg/orbit/internal/storage"
	"github.com/zfogg/orbit/internal/websocket"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Container holds all application dependencies
type Container struct {
	// Core infrastructure
	db     *gorm.DB
	logger *zap.Logger
	cache  *cache.RedisClient

	media    storage.MediaStore
	realtime *realtime.Manager

	// Domain services
	receipts  *receipts.Engine
	messaging *messaging.Service
	live      *websocket.Handler

	cleanupFuncs []cleanupFunc
	mu           sync.RWMutex
}

type cleanupFunc struct {
	name string
	fn   func(context.Context) error
}

// New creates an empty container
func New() *Container {
	return &Container{}
}

// SetDB registers the database connection
func (c *Container) SetDB(db *gorm.DB) *Container {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.db = db
	return c
}

// DB returns the database connection
func (c *Container) DB() *gorm.DB {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.db
}

// SetLogger registers the logger
func (c *Container) SetLogger(l *zap.Logger) *Container {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logger = l
	return c
}

// Logger returns the registered logger, or the global one
func (c *Container) Logger() *zap.Logger {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loggerLocked()
}

func (c *Container) loggerLocked() *zap.Logger {
	if c.logger != nil {
		return c.logger
	}
	if logger.Log != nil {
		return logger.Log
	}
	return zap.NewNop()
}

// SetCache registers the Redis client
func (c *Container) SetCache(client *cache.RedisClient) *Container {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache = client
	return c
}

// Cache returns the Redis client
func (c *Container) Cache() *cache.RedisClient {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cache
}

// SetMediaStore registers the attachment store
func (c *Container) SetMediaStore(media storage.MediaStore) *Container {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.media = media
	return c
}

// MediaStore returns the attachment store. Nil disables media messages.
func (c *Container) MediaStore() storage.MediaStore {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.media
}

// SetRealtime registers the realtime connection manager
func (c *Container) SetRealtime(m *realtime.Manager) *Container {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.realtime = m
	return c
}

// Realtime returns the realtime connection manager
func (c *Container) Realtime() *realtime.Manager {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.realtime
}

// SetReceipts registers the read-receipt engine
func (c *Container) SetReceipts(e *receipts.Engine) *Container {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.receipts = e
	return c
}

// Receipts returns the read-receipt engine
func (c *Container) Receipts() *receipts.Engine {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.receipts
}

// SetMessaging registers the messaging service
func (c *Container) SetMessaging(s *messaging.Service) *Container {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messaging = s
	return c
}

// Messaging returns the messaging service
func (c *Container) Messaging() *messaging.Service {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.messaging
}

// SetLive registers the websocket handler
func (c *Container) SetLive(h *websocket.Handler) *Container {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.live = h
	return c
}

// Live returns the websocket handler. Nil when live conversations are off.
func (c *Container) Live() *websocket.Handler {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.live
}

// OnCleanup registers a shutdown step. Steps run LIFO, so register a
// dependency before the things that use it.
func (c *Container) OnCleanup(name string, fn func(context.Context) error) *Container {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cleanupFuncs = append(c.cleanupFuncs, cleanupFunc{name: name, fn: fn})
	return c
}

// Cleanup runs every shutdown step, even after a failure, and returns the
// joined errors. Steps are dropped once run.
func (c *Container) Cleanup(ctx context.Context) error {
	c.mu.Lock()
	steps := c.cleanupFuncs
	c.cleanupFuncs = nil
	log := c.loggerLocked()
	c.mu.Unlock()

	var errs []error
	for i := len(steps) - 1; i >= 0; i-- {
		if err := steps[i].fn(ctx); err != nil {
			log.Error("Cleanup step failed",
				zap.String("step", steps[i].name),
				zap.Error(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Validate checks that the required dependencies are registered
func (c *Container) Validate() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var missing []string
	if c.db == nil {
		missing = append(missing, "database (DB)")
	}
	if c.receipts == nil {
		missing = append(missing, "read-receipt engine")
	}
	if c.messaging == nil {
		missing = append(missing, "messaging service")
	}
	if c.cache == nil {
		missing = append(missing, "Redis client")
	}
	if c.realtime == nil {
		missing = append(missing, "realtime manager")
	}
	if len(missing) > 0 {
		return NewInitializationError("Missing required dependencies", missing)
	}

	if c.media == nil {
		c.loggerLocked().Warn("Media storage not configured: image, video and audio messages disabled")
	}
	return nil
}
