package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/example/medical-ai/internal/logging"
)

// ErrCacheMiss is returned by Cache.Get when the key is absent or expired.
var ErrCacheMiss = errors.New("cache miss")

// Cache abstracts the key/value operations used by the use cases to make
// testing easier.
type Cache interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	Delete(ctx context.Context, keys ...string) error
	Ping(ctx context.Context) error
}

// RedisCache is a concrete implementation backed by go-redis.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache constructs a new Redis-backed cache adapter.
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

// Set writes a value to Redis.
func (c *RedisCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	return c.client.Set(ctx, key, value, expiration).Err()
}

// Get retrieves a cached value from Redis.
func (c *RedisCache) Get(ctx context.Context, key string) (string, error) {
	value, err := c.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrCacheMiss
	}
	return value, err
}

// Delete removes keys from Redis.
func (c *RedisCache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}

// Ping checks the Redis connection.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close releases the Redis client.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

// MemoryCache keeps values in process memory. It is used when no Redis
// address is configured.
type MemoryCache struct {
	store *gocache.Cache
}

// NewMemoryCache creates an in-process cache that sweeps expired entries
// every cleanupInterval.
func NewMemoryCache(cleanupInterval time.Duration) *MemoryCache {
	return &MemoryCache{store: gocache.New(gocache.NoExpiration, cleanupInterval)}
}

// Set stores a value. A zero expiration keeps it until deleted.
func (c *MemoryCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	var s string
	switch v := value.(type) {
	case string:
		s = v
	case []byte:
		s = string(v)
	default:
		s = fmt.Sprint(v)
	}
	if expiration <= 0 {
		expiration = gocache.NoExpiration
	}
	c.store.Set(key, s, expiration)
	return nil
}

// Get retrieves a value.
func (c *MemoryCache) Get(ctx context.Context, key string) (string, error) {
	v, ok := c.store.Get(key)
	if !ok {
		return "", ErrCacheMiss
	}
	return v.(string), nil
}

// Delete removes keys.
func (c *MemoryCache) Delete(ctx context.Context, keys ...string) error {
	for _, key := range keys {
		c.store.Delete(key)
	}
	return nil
}

// Ping always succeeds.
func (c *MemoryCache) Ping(ctx context.Context) error {
	return nil
}

// cacheClient wraps a Cache with retries on transient errors and JSON
// encoding. Cache failures are logged and never fail a request.
type cacheClient struct {
	cache          Cache
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

func newCacheClient(cache Cache, logger *zap.Logger) *cacheClient {
	return &cacheClient{
		cache:          cache,
		logger:         logger,
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

// getJSON decodes the cached value of key into dst and reports whether it
// was found.
func (c *cacheClient) getJSON(ctx context.Context, key string, dst interface{}) bool {
	if c.cache == nil {
		return false
	}
	requestID := logging.RequestID(ctx)
	var raw string
	err := c.withRetry(ctx, requestID, "cache.get", func() error {
		value, err := c.cache.Get(ctx, key)
		if err != nil {
			return err
		}
		raw = value
		return nil
	})
	if err != nil {
		if !errors.Is(err, ErrCacheMiss) {
			logging.WithOperation(c.logger, "cache.get", requestID).Warn("failed to read cache", zap.String("key", key), zap.Error(err))
		}
		return false
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		logging.WithOperation(c.logger, "cache.get", requestID).Warn("failed to decode cached value", zap.String("key", key), zap.Error(err))
		return false
	}
	return true
}

func (c *cacheClient) setJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) {
	if c.cache == nil {
		return
	}
	requestID := logging.RequestID(ctx)
	serialized, err := json.Marshal(value)
	if err != nil {
		logging.WithOperation(c.logger, "cache.set", requestID).Error("failed to serialize cache value", zap.String("key", key), zap.Error(err))
		return
	}
	if err := c.withRetry(ctx, requestID, "cache.set", func() error {
		return c.cache.Set(ctx, key, string(serialized), ttl)
	}); err != nil {
		logging.WithOperation(c.logger, "cache.set", requestID).Warn("failed to write cache", zap.String("key", key), zap.Error(err))
	}
}

func (c *cacheClient) delete(ctx context.Context, keys ...string) {
	if c.cache == nil || len(keys) == 0 {
		return
	}
	requestID := logging.RequestID(ctx)
	if err := c.withRetry(ctx, requestID, "cache.delete", func() error {
		return c.cache.Delete(ctx, keys...)
	}); err != nil {
		logging.WithOperation(c.logger, "cache.delete", requestID).Warn("failed to invalidate cache", zap.Strings("keys", keys), zap.Error(err))
	}
}

func (c *cacheClient) withRetry(ctx context.Context, requestID, operation string, fn func() error) error {
	backoff := c.initialBackoff
	var err error
	for attempt := 0; attempt < c.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, requestID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= c.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil || errors.Is(err, ErrCacheMiss) {
			return err
		}
		if !isTransientError(err) {
			return logging.NewOperationError(operation, requestID, err)
		}
		logging.WithOperation(c.logger, operation, requestID).Warn("transient cache error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, requestID, err)
}

func isTransientError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var temporary interface{ Temporary() bool }
	if errors.As(err, &temporary) && temporary.Temporary() {
		return true
	}

	return false
}

func predictionCacheKey(id string) string {
	return "prediction:" + id
}

const statsCacheKey = "stats:summary"

func userStatsCacheKey(email string) string {
	return "stats:user:" + email
}
