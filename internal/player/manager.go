/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package player owns the named playback sessions served over the API.
package player

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/friendsincode/palmcards/internal/bridge"
	"github.com/friendsincode/palmcards/internal/events"
	"github.com/friendsincode/palmcards/internal/playback"
	"github.com/friendsincode/palmcards/internal/telemetry"
)

// ErrSessionNotFound is returned for unknown or deleted session IDs.
var ErrSessionNotFound = errors.New("player: session not found")

// Config configures new sessions.
type Config struct {
	IdleTTL       time.Duration
	PreloadWindow int
	PoolCapacity  int
}

// Option configures a Manager.
type Option func(*Manager)

// WithNow replaces the wall clock used for idle tracking.
func WithNow(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithSequencerOptions appends options to every session's sequencer.
func WithSequencerOptions(opts ...playback.Option) Option {
	return func(m *Manager) { m.seqOpts = append(m.seqOpts, opts...) }
}

// Manager creates, looks up and reaps sessions.
type Manager struct {
	cfg     Config
	bus     *events.Bus
	logger  zerolog.Logger
	now     func() time.Time
	seqOpts []playback.Option

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager creates a session manager. bus may be nil.
func NewManager(cfg Config, bus *events.Bus, logger zerolog.Logger, opts ...Option) *Manager {
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 30 * time.Minute
	}
	if cfg.PreloadWindow <= 0 {
		cfg.PreloadWindow = playback.DefaultPreloadWindow
	}
	m := &Manager{
		cfg:      cfg,
		bus:      bus,
		logger:   logger.With().Str("component", "player-manager").Logger(),
		now:      time.Now,
		sessions: make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create starts a new idle session with an empty playlist.
func (m *Manager) Create() *Session {
	id := uuid.NewString()
	logger := m.logger.With().Str("session_id", id).Logger()
	now := m.now()

	s := &Session{
		ID:      id,
		Created: now,
		logger:  logger,
		subs:    make(map[int]chan Frame),
	}
	s.touch(now)
	s.remote = NewRemoteBackend(s.emitDirective, logger)

	opts := []playback.Option{
		playback.WithPreloadWindow(m.cfg.PreloadWindow),
		playback.WithPoolCapacity(m.cfg.PoolCapacity),
		playback.WithLogger(logger),
		playback.WithFaultHandler(m.faultHandler(id)),
	}
	s.seq = playback.NewSequencer(s.remote, append(opts, m.seqOpts...)...)
	s.bridge = bridge.New(s.seq,
		bridge.WithHost(s),
		bridge.WithMediaSession(s),
		bridge.WithBus(m.bus, id),
		bridge.WithLogger(logger),
	)

	m.mu.Lock()
	m.sessions[id] = s
	n := len(m.sessions)
	m.mu.Unlock()

	telemetry.PlayerSessionsActive.Set(float64(n))
	m.publish(events.EventSessionCreated, events.Payload{"session_id": id})
	logger.Info().Msg("player session created")
	return s
}

// Get returns a session and marks it as used.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	s.touch(m.now())
	return s, nil
}

// Delete cleans up and removes a session.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	n := len(m.sessions)
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	m.closeSession(s, "deleted")
	telemetry.PlayerSessionsActive.Set(float64(n))
	return nil
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Reap removes sessions idle for longer than the configured TTL. Sessions
// with attached subscribers are never idle.
func (m *Manager) Reap() int {
	cutoff := m.now().Add(-m.cfg.IdleTTL)

	m.mu.Lock()
	var stale []*Session
	for id, s := range m.sessions {
		if s.Subscribers() > 0 || s.LastSeen().After(cutoff) {
			continue
		}
		stale = append(stale, s)
		delete(m.sessions, id)
	}
	n := len(m.sessions)
	m.mu.Unlock()

	for _, s := range stale {
		m.closeSession(s, "idle")
	}
	if len(stale) > 0 {
		telemetry.PlayerSessionsActive.Set(float64(n))
		m.logger.Info().Int("reaped", len(stale)).Int("remaining", n).Msg("reaped idle player sessions")
	}
	return len(stale)
}

// RunReaper calls Reap every interval until ctx is cancelled.
func (m *Manager) RunReaper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Reap()
		}
	}
}

// Close removes every session.
func (m *Manager) Close() {
	m.mu.Lock()
	all := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range all {
		m.closeSession(s, "shutdown")
	}
	telemetry.PlayerSessionsActive.Set(0)
}

func (m *Manager) closeSession(s *Session, reason string) {
	s.close()
	m.publish(events.EventSessionClosed, events.Payload{"session_id": s.ID, "reason": reason})
	s.logger.Info().Str("reason", reason).Msg("player session closed")
}

func (m *Manager) faultHandler(id string) func(playback.Fault) {
	return func(f playback.Fault) {
		payload := events.Payload{
			"session_id": id,
			"index":      f.Index,
			"track":      f.Kind.String(),
			"url":        f.URL,
		}
		if f.Err != nil {
			payload["error"] = f.Err.Error()
		}
		m.publish(events.EventPlaybackError, payload)
	}
}

func (m *Manager) publish(t events.EventType, p events.Payload) {
	if m.bus != nil {
		m.bus.Publish(t, p)
	}
}
