/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/friendsincode/palmcards/internal/events"
)

// RedisConfig contains Redis pub/sub configuration.
type RedisConfig struct {
	Addr          string
	Password      string
	DB            int
	ChannelPrefix string
	DialTimeout   time.Duration
}

// DefaultRedisConfig returns default Redis configuration.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:          "localhost:6379",
		ChannelPrefix: "palm:events:",
		DialTimeout:   5 * time.Second,
	}
}

// RedisBroker publishes events on "<prefix><event type>" channels.
type RedisBroker struct {
	client *redis.Client
	pubsub *redis.PubSub
	prefix string
	logger zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRedisBroker connects to Redis and verifies the connection.
func NewRedisBroker(cfg RedisConfig, logger zerolog.Logger) (*RedisBroker, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: cfg.DialTimeout,
	})

	pingCtx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis %s: %w", cfg.Addr, err)
	}

	ctx, stop := context.WithCancel(context.Background())
	return &RedisBroker{
		client: client,
		prefix: cfg.ChannelPrefix,
		logger: logger.With().Str("component", "redis_pubsub").Logger(),
		ctx:    ctx,
		cancel: stop,
	}, nil
}

// Publish implements Broker.
func (r *RedisBroker) Publish(ctx context.Context, eventType events.EventType, data []byte) error {
	return r.client.Publish(ctx, r.prefix+string(eventType), data).Err()
}

// Subscribe implements Broker with a pattern subscription.
func (r *RedisBroker) Subscribe(handler func(events.EventType, []byte)) error {
	r.pubsub = r.client.PSubscribe(r.ctx, r.prefix+"*")
	if _, err := r.pubsub.Receive(r.ctx); err != nil {
		return fmt.Errorf("redis psubscribe: %w", err)
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ch := r.pubsub.Channel()
		for {
			select {
			case <-r.ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					r.logger.Warn().Msg("redis pubsub channel closed")
					return
				}
				handler(events.EventType(strings.TrimPrefix(msg.Channel, r.prefix)), []byte(msg.Payload))
			}
		}
	}()
	return nil
}

// Close stops the receiver and closes the client.
func (r *RedisBroker) Close() error {
	r.cancel()
	if r.pubsub != nil {
		_ = r.pubsub.Close()
	}
	r.wg.Wait()
	return r.client.Close()
}
