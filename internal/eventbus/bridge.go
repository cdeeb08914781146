/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package eventbus fans local bus events out to other instances through an
// external broker (NATS or Redis pub/sub) and replays remote events locally.
package eventbus

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/friendsincode/palmcards/internal/events"
)

// originKey marks payloads replayed from another node so they are not
// forwarded again.
const originKey = "_origin_node"

// Broker transports encoded events between nodes.
type Broker interface {
	Publish(ctx context.Context, eventType events.EventType, data []byte) error
	Subscribe(handler func(eventType events.EventType, data []byte)) error
	Close() error
}

// Bridge connects an in-process bus to a Broker.
type Bridge struct {
	bus    *events.Bus
	broker Broker
	nodeID string
	logger zerolog.Logger
	types  []events.EventType

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewBridge creates a bridge for the given event types (all types if none given).
func NewBridge(bus *events.Bus, broker Broker, nodeID string, logger zerolog.Logger, types ...events.EventType) *Bridge {
	if nodeID == "" {
		nodeID = generateNodeID()
	}
	if len(types) == 0 {
		types = events.AllTypes
	}
	return &Bridge{
		bus:    bus,
		broker: broker,
		nodeID: nodeID,
		logger: logger.With().Str("component", "eventbus").Str("node_id", nodeID).Logger(),
		types:  types,
	}
}

// NodeID returns the identity stamped on outgoing messages.
func (b *Bridge) NodeID() string { return b.nodeID }

// Start begins forwarding in both directions.
func (b *Bridge) Start(ctx context.Context) error {
	if err := b.broker.Subscribe(b.receive); err != nil {
		return fmt.Errorf("subscribe broker: %w", err)
	}

	ctx, b.cancel = context.WithCancel(ctx)
	for _, et := range b.types {
		sub := b.bus.Subscribe(et)
		b.wg.Add(1)
		go b.forward(ctx, et, sub)
	}
	b.logger.Info().Int("event_types", len(b.types)).Msg("event bridge started")
	return nil
}

func (b *Bridge) forward(ctx context.Context, eventType events.EventType, sub events.Subscriber) {
	defer b.wg.Done()
	defer b.bus.Unsubscribe(eventType, sub)

	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-sub:
			if !ok {
				return
			}
			if _, remote := payload[originKey]; remote {
				continue
			}
			data, err := marshalMessage(eventType, payload, b.nodeID)
			if err != nil {
				b.logger.Error().Err(err).Str("event_type", string(eventType)).Msg("encode event")
				continue
			}
			pubCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
			if err := b.broker.Publish(pubCtx, eventType, data); err != nil {
				b.logger.Warn().Err(err).Str("event_type", string(eventType)).Msg("publish to broker failed")
			}
			cancel()
		}
	}
}

func (b *Bridge) receive(eventType events.EventType, data []byte) {
	msg, err := unmarshalMessage(data)
	if err != nil {
		b.logger.Error().Err(err).Msg("decode broker message")
		return
	}
	if msg.NodeID == b.nodeID {
		return
	}
	if msg.EventType != "" {
		eventType = msg.EventType
	}
	payload := msg.Payload
	if payload == nil {
		payload = events.Payload{}
	}
	payload[originKey] = msg.NodeID
	b.bus.Publish(eventType, payload)
}

// Close stops forwarding and closes the broker.
func (b *Bridge) Close() error {
	if b.cancel != nil {
		b.cancel()
	}
	b.wg.Wait()
	return b.broker.Close()
}

// message is the wire envelope shared by every broker.
type message struct {
	EventType events.EventType `json:"event_type"`
	Payload   events.Payload   `json:"payload"`
	Timestamp time.Time        `json:"timestamp"`
	NodeID    string           `json:"node_id"`
	MessageID string           `json:"message_id"`
}

func marshalMessage(eventType events.EventType, payload events.Payload, nodeID string) ([]byte, error) {
	return json.Marshal(message{
		EventType: eventType,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
		NodeID:    nodeID,
		MessageID: uuid.NewString(),
	})
}

func unmarshalMessage(data []byte) (*message, error) {
	var msg message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("unmarshal event message: %w", err)
	}
	return &msg, nil
}

func generateNodeID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "palmcards"
	}
	return host + "-" + uuid.NewString()[:8]
}
