package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrMiss is returned by GetJSON when the key does not exist
var ErrMiss = errors.New("cache miss")

// RedisClient wraps the redis.Client with centralized connection pooling
type RedisClient struct {
	client *redis.Client
}

// NewRedisClient creates a pooled Redis client and verifies the connection
func NewRedisClient(ctx context.Context, addr, password string, log *zap.Logger) (*RedisClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           0,
		MaxRetries:   3,
		PoolSize:     10,
		MinIdleConns: 5,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		DialTimeout:  5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", addr, err)
	}

	if log != nil {
		log.Info("Redis client connected", zap.String("address", addr))
	}
	return &RedisClient{client: client}, nil
}

// Client exposes the underlying client for pub/sub
func (rc *RedisClient) Client() *redis.Client {
	return rc.client
}

// Close closes the Redis connection gracefully
func (rc *RedisClient) Close() error {
	if rc == nil || rc.client == nil {
		return nil
	}
	return rc.client.Close()
}

// Ping checks the connection
func (rc *RedisClient) Ping(ctx context.Context) error {
	return rc.client.Ping(ctx).Err()
}

// GetJSON decodes the value at key into dest. Missing keys return ErrMiss.
func (rc *RedisClient) GetJSON(ctx context.Context, key string, dest any) error {
	raw, err := rc.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrMiss
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dest)
}

// IncrWindow increments key and starts its expiry on the first hit of a window
func (rc *RedisClient) IncrWindow(ctx context.Context, key string, window time.Duration) (int64, error) {
	pipe := rc.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

// GetInt reads an integer counter. Missing keys read as 0.
func (rc *RedisClient) GetInt(ctx context.Context, key string) (int64, error) {
	n, err := rc.client.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return n, err
}

// setIfCounterScript writes KEYS[1] only while the counter at KEYS[2] still
// holds ARGV[1]
var setIfCounterScript = redis.NewScript(`
local current = tonumber(redis.call('GET', KEYS[2]) or '0')
if current ~= tonumber(ARGV[1]) then
	return 0
end
if tonumber(ARGV[3]) > 0 then
	redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
else
	redis.call('SET', KEYS[1], ARGV[2])
end
return 1
`)

// SetJSONIfCounter stores value at key unless counterKey has moved past
// expected. It reports whether the value was written.
func (rc *RedisClient) SetJSONIfCounter(ctx context.Context, key, counterKey string, expected int64, value any, ttl time.Duration) (bool, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return false, fmt.Errorf("marshal cache value: %w", err)
	}
	n, err := setIfCounterScript.Run(ctx, rc.client, []string{key, counterKey}, expected, raw, ttl.Milliseconds()).Int64()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// BumpAndDel increments every counter key and deletes every key in one
// transaction
func (rc *RedisClient) BumpAndDel(ctx context.Context, counterKeys, keys []string) error {
	if len(counterKeys) == 0 && len(keys) == 0 {
		return nil
	}
	pipe := rc.client.TxPipeline()
	for _, k := range counterKeys {
		pipe.Incr(ctx, k)
	}
	if len(keys) > 0 {
		pipe.Del(ctx, keys...)
	}
	_, err := pipe.Exec(ctx)
	return err
}
