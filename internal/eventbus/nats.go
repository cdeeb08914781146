/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/friendsincode/palmcards/internal/events"
)

// NATSConfig contains NATS connection configuration.
type NATSConfig struct {
	URL           string
	Name          string
	SubjectPrefix string
	MaxReconnects int
	ReconnectWait time.Duration
	Timeout       time.Duration
}

// DefaultNATSConfig returns default NATS configuration.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		Name:          "palmcards",
		SubjectPrefix: "palm.events",
		MaxReconnects: -1, // Unlimited
		ReconnectWait: 2 * time.Second,
		Timeout:       5 * time.Second,
	}
}

// NATSBroker publishes events on "<prefix>.<event type>" subjects.
type NATSBroker struct {
	conn   *nats.Conn
	sub    *nats.Subscription
	prefix string
	logger zerolog.Logger
}

// NewNATSBroker connects to NATS.
func NewNATSBroker(cfg NATSConfig, logger zerolog.Logger) (*NATSBroker, error) {
	logger = logger.With().Str("component", "nats").Logger()

	conn, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn().Err(err).Msg("nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info().Str("url", c.ConnectedUrl()).Msg("nats reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", cfg.URL, err)
	}

	logger.Info().Str("url", conn.ConnectedUrl()).Msg("nats broker connected")
	return &NATSBroker{conn: conn, prefix: cfg.SubjectPrefix, logger: logger}, nil
}

func (n *NATSBroker) subject(eventType events.EventType) string {
	return n.prefix + "." + string(eventType)
}

// Publish implements Broker.
func (n *NATSBroker) Publish(_ context.Context, eventType events.EventType, data []byte) error {
	return n.conn.Publish(n.subject(eventType), data)
}

// Subscribe implements Broker with a wildcard subscription.
func (n *NATSBroker) Subscribe(handler func(events.EventType, []byte)) error {
	sub, err := n.conn.Subscribe(n.prefix+".>", func(msg *nats.Msg) {
		handler(events.EventType(strings.TrimPrefix(msg.Subject, n.prefix+".")), msg.Data)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}
	n.sub = sub
	return nil
}

// Close drains the subscription and closes the connection.
func (n *NATSBroker) Close() error {
	if n.sub != nil {
		_ = n.sub.Unsubscribe()
	}
	if err := n.conn.Drain(); err != nil {
		n.conn.Close()
		return err
	}
	return nil
}
