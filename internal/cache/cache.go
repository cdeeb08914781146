/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package cache provides the catalog cache: an in-process TTL store with an
// optional shared Redis tier behind it.
package cache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Default TTL values for different cache types
const (
	DefaultTTL           = 5 * time.Minute
	DefaultCleanupPeriod = 5 * time.Minute
)

// Key prefixes for cached catalog data
const (
	KeyPrefix        = "palm:cache:"
	KeyFlashcards    = KeyPrefix + "flashcards:"    // + episode or "all"
	KeyCharacters    = KeyPrefix + "characters"     //
	KeyExpression    = KeyPrefix + "expression:"    // + page_id
	KeyVocabulary    = KeyPrefix + "n1_vocabulary:" // + page_id
	KeyBooks         = KeyPrefix + "books"          //
	KeyBookSequences = KeyPrefix + "book_sequences:"
	KeyDatabaseInfo  = KeyPrefix + "database_info"
)

// Config contains cache configuration.
type Config struct {
	RedisEnabled  bool
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	TTL           time.Duration
	CleanupPeriod time.Duration

	// If true, stop using Redis after the first error
	DisableOnError bool
}

// DefaultConfig returns default cache configuration.
func DefaultConfig() Config {
	return Config{
		RedisAddr:      "localhost:6379",
		TTL:            DefaultTTL,
		CleanupPeriod:  DefaultCleanupPeriod,
		DisableOnError: true,
	}
}

type entry struct {
	data    []byte
	expires time.Time
}

// Cache stores JSON-encoded values. Reads hit memory first, then Redis.
type Cache struct {
	client *redis.Client
	logger zerolog.Logger
	config Config
	now    func() time.Time

	mu      sync.RWMutex
	entries map[string]entry

	redisMu       sync.RWMutex
	redisDisabled bool

	hits, misses, sets, evictions atomic.Int64
}

// New creates a cache. A Redis failure at startup is logged and the cache
// runs memory-only.
func New(cfg Config, logger zerolog.Logger) *Cache {
	c := newCache(cfg, logger)
	if !cfg.RedisEnabled {
		return c
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		c.logger.Warn().Err(err).Msg("Redis cache unavailable, using memory only")
		_ = client.Close()
		return c
	}

	c.logger.Info().Str("addr", cfg.RedisAddr).Msg("Redis cache tier initialized")
	c.client = client
	return c
}

// NewMemory creates a memory-only cache.
func NewMemory(cfg Config, logger zerolog.Logger) *Cache {
	return newCache(cfg, logger)
}

func newCache(cfg Config, logger zerolog.Logger) *Cache {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.CleanupPeriod <= 0 {
		cfg.CleanupPeriod = DefaultCleanupPeriod
	}
	return &Cache{
		logger:  logger.With().Str("component", "cache").Logger(),
		config:  cfg,
		now:     time.Now,
		entries: make(map[string]entry),
	}
}

// Close closes the Redis connection.
func (c *Cache) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// RedisAvailable reports whether the shared tier is in use.
func (c *Cache) RedisAvailable() bool {
	c.redisMu.RLock()
	defer c.redisMu.RUnlock()
	return c.client != nil && !c.redisDisabled
}

func (c *Cache) handleRedisError(err error, operation string) {
	if err == nil || errors.Is(err, redis.Nil) {
		return
	}
	c.logger.Debug().Err(err).Str("operation", operation).Msg("redis cache operation failed")
	if c.config.DisableOnError {
		c.redisMu.Lock()
		c.redisDisabled = true
		c.redisMu.Unlock()
		c.logger.Warn().Msg("disabling Redis cache tier due to error")
	}
}

// Get loads key into dest. It reports whether the key was found.
func (c *Cache) Get(ctx context.Context, key string, dest any) bool {
	if data, ok := c.getMemory(key); ok {
		if err := json.Unmarshal(data, dest); err == nil {
			c.hits.Add(1)
			return true
		}
	}

	if c.RedisAvailable() {
		data, err := c.client.Get(ctx, key).Bytes()
		if err == nil {
			if json.Unmarshal(data, dest) == nil {
				ttl := c.config.TTL
				if remaining, err := c.client.PTTL(ctx, key).Result(); err == nil && remaining > 0 {
					ttl = remaining
				}
				c.putMemory(key, data, ttl)
				c.hits.Add(1)
				return true
			}
		} else {
			c.handleRedisError(err, "get")
		}
	}

	c.misses.Add(1)
	return false
}

// Set stores value under key. A non-positive ttl uses the configured default.
func (c *Cache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.config.TTL
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal cache value: %w", err)
	}

	c.putMemory(key, data, ttl)
	c.sets.Add(1)

	if c.RedisAvailable() {
		if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
			c.handleRedisError(err, "set")
		}
	}
	return nil
}

// Delete removes keys from both tiers.
func (c *Cache) Delete(ctx context.Context, keys ...string) {
	c.mu.Lock()
	for _, k := range keys {
		delete(c.entries, k)
	}
	c.mu.Unlock()

	if c.RedisAvailable() && len(keys) > 0 {
		c.handleRedisError(c.client.Del(ctx, keys...).Err(), "delete")
	}
}

// DeletePrefix removes every key starting with prefix.
func (c *Cache) DeletePrefix(ctx context.Context, prefix string) {
	c.mu.Lock()
	for k := range c.entries {
		if strings.HasPrefix(k, prefix) {
			delete(c.entries, k)
		}
	}
	c.mu.Unlock()

	if !c.RedisAvailable() {
		return
	}
	iter := c.client.Scan(ctx, 0, prefix+"*", 100).Iterator()
	var batch []string
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
	}
	if err := iter.Err(); err != nil {
		c.handleRedisError(err, "scan")
		return
	}
	if len(batch) > 0 {
		c.handleRedisError(c.client.Del(ctx, batch...).Err(), "delete_prefix")
	}
}

// Clear drops every catalog key.
func (c *Cache) Clear(ctx context.Context) {
	c.DeletePrefix(ctx, KeyPrefix)
	c.logger.Info().Msg("cache cleared")
}

func (c *Cache) getMemory(key string) ([]byte, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if c.now().After(e.expires) {
		c.mu.Lock()
		if cur, still := c.entries[key]; still && cur.expires.Equal(e.expires) {
			delete(c.entries, key)
			c.evictions.Add(1)
		}
		c.mu.Unlock()
		return nil, false
	}
	return e.data, true
}

func (c *Cache) putMemory(key string, data []byte, ttl time.Duration) {
	c.mu.Lock()
	c.entries[key] = entry{data: data, expires: c.now().Add(ttl)}
	c.mu.Unlock()
}

// Cleanup evicts expired memory entries and returns how many were removed.
func (c *Cache) Cleanup() int {
	now := c.now()
	removed := 0
	c.mu.Lock()
	for k, e := range c.entries {
		if now.After(e.expires) {
			delete(c.entries, k)
			removed++
		}
	}
	c.mu.Unlock()
	c.evictions.Add(int64(removed))
	return removed
}

// RunCleanup evicts expired entries every CleanupPeriod until ctx is done.
func (c *Cache) RunCleanup(ctx context.Context) {
	ticker := time.NewTicker(c.config.CleanupPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := c.Cleanup(); n > 0 {
				c.logger.Debug().Int("evicted", n).Msg("cache cleanup")
			}
		}
	}
}

// Stats describes cache effectiveness.
type Stats struct {
	Hits      int64    `json:"hits"`
	Misses    int64    `json:"misses"`
	Sets      int64    `json:"sets"`
	Evictions int64    `json:"evictions"`
	HitRate   string   `json:"hitRate"`
	Size      int      `json:"size"`
	Keys      []string `json:"keys"`
	Redis     bool     `json:"redis"`
}

// Stats returns a snapshot of the counters and the memory tier's keys.
func (c *Cache) Stats() Stats {
	s := Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Sets:      c.sets.Load(),
		Evictions: c.evictions.Load(),
		Redis:     c.RedisAvailable(),
	}
	rate := 0.0
	if total := s.Hits + s.Misses; total > 0 {
		rate = float64(s.Hits) / float64(total) * 100
	}
	s.HitRate = fmt.Sprintf("%.2f%%", rate)

	c.mu.RLock()
	for k := range c.entries {
		s.Keys = append(s.Keys, k)
	}
	c.mu.RUnlock()
	sort.Strings(s.Keys)
	s.Size = len(s.Keys)
	return s
}
