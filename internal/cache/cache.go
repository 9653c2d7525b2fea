// Package cache memoises generation results in Redis, keyed by a digest of
// the request. A nil *Cache is a valid no-op so callers need no guards when
// caching is disabled.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/quizforge/quizforge/api/schemas"
)

const keyPrefix = "quizforge:result:"

// Stats is a point-in-time snapshot of cache effectiveness.
type Stats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
	Keys   int64 `json:"keys"`
}

// Cache is a Redis-backed result store with a fixed TTL.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger

	hits   atomic.Int64
	misses atomic.Int64
}

// New connects to addr. Returns nil (caching disabled) when addr is empty.
func New(addr, password string, db int, ttl time.Duration, logger *zap.Logger) *Cache {
	if addr == "" {
		return nil
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Cache{
		client: redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db}),
		ttl:    ttl,
		logger: logger.Named("cache"),
	}
}

// Key digests the request fields that determine the output.
func Key(req schemas.GenerationRequest) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%d|%s|%s", req.Text, req.NumQuestions, req.BloomLevel, req.Difficulty)
	return keyPrefix + hex.EncodeToString(h.Sum(nil))
}

// Get returns the cached set for key, or nil on a miss. Redis errors are
// treated as misses; the cache never fails a generation.
func (c *Cache) Get(ctx context.Context, key string) *schemas.QuestionSet {
	if c == nil {
		return nil
	}
	payload, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("Cache read failed", zap.Error(err))
		}
		c.misses.Add(1)
		return nil
	}

	var set schemas.QuestionSet
	if err := json.Unmarshal(payload, &set); err != nil {
		c.logger.Warn("Cache entry corrupt, dropping", zap.String("key", key), zap.Error(err))
		c.client.Del(ctx, key)
		c.misses.Add(1)
		return nil
	}
	c.hits.Add(1)
	return &set
}

// Put stores a generated set under key.
func (c *Cache) Put(ctx context.Context, key string, set *schemas.QuestionSet) {
	if c == nil {
		return
	}
	payload, err := json.Marshal(set)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, key, payload, c.ttl).Err(); err != nil {
		c.logger.Warn("Cache write failed", zap.Error(err))
	}
}

// Stats counts hits, misses, and live keys.
func (c *Cache) Stats(ctx context.Context) Stats {
	if c == nil {
		return Stats{}
	}
	s := Stats{Hits: c.hits.Load(), Misses: c.misses.Load()}

	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, keyPrefix+"*", 100).Result()
		if err != nil {
			c.logger.Warn("Cache key scan failed", zap.Error(err))
			break
		}
		s.Keys += int64(len(keys))
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return s
}

// Clear deletes every cached result and resets the counters.
func (c *Cache) Clear(ctx context.Context) error {
	if c == nil {
		return nil
	}
	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, keyPrefix+"*", 100).Result()
		if err != nil {
			return fmt.Errorf("cache scan: %w", err)
		}
		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("cache delete: %w", err)
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	c.hits.Store(0)
	c.misses.Store(0)
	return nil
}

// Close releases the Redis connection.
func (c *Cache) Close() error {
	if c == nil {
		return nil
	}
	return c.client.Close()
}
