/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package bridge connects a playback sequencer to its host: it dispatches
// host commands, answers with acknowledgements, and pushes snapshots and
// now-playing metadata outward on lifecycle changes.
package bridge

import (
	"errors"
	"fmt"
	"sync"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/friendsincode/palmcards/internal/events"
	"github.com/friendsincode/palmcards/internal/playback"
)

// Host receives every playback snapshot, e.g. a native shell or a websocket.
type Host interface {
	UpdatePlaybackState(playback.Snapshot)
}

// MediaSession receives now-playing metadata for lock-screen controls.
type MediaSession interface {
	SetNowPlaying(NowPlaying)
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithHost attaches a host.
func WithHost(h Host) Option {
	return func(b *Bridge) { b.host = h }
}

// WithMediaSession attaches a media session.
func WithMediaSession(m MediaSession) Option {
	return func(b *Bridge) { b.session = m }
}

// WithBus publishes snapshots and now-playing events tagged with sessionID.
func WithBus(bus *events.Bus, sessionID string) Option {
	return func(b *Bridge) {
		b.bus = bus
		b.sessionID = sessionID
	}
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(b *Bridge) { b.logger = l }
}

// Bridge is the lifecycle bridge for one sequencer.
type Bridge struct {
	seq       *playback.Sequencer
	bus       *events.Bus
	sessionID string
	logger    zerolog.Logger

	mu         sync.RWMutex
	host       Host
	session    MediaSession
	background bool

	unsubscribe func()
}

// New attaches a bridge to seq.
func New(seq *playback.Sequencer, opts ...Option) *Bridge {
	b := &Bridge{seq: seq, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(b)
	}
	b.unsubscribe = seq.OnChange(b.onSnapshot)
	return b
}

// SetHost replaces the host. nil detaches it.
func (b *Bridge) SetHost(h Host) {
	b.mu.Lock()
	b.host = h
	b.mu.Unlock()
}

// SetMediaSession replaces the media session. nil detaches it.
func (b *Bridge) SetMediaSession(m MediaSession) {
	b.mu.Lock()
	b.session = m
	b.mu.Unlock()
}

// Close detaches the bridge from the sequencer.
func (b *Bridge) Close() {
	if b.unsubscribe != nil {
		b.unsubscribe()
	}
}

// Snapshot returns the sequencer state.
func (b *Bridge) Snapshot() playback.Snapshot {
	return b.seq.Snapshot()
}

// Background reports whether the host is backgrounded.
func (b *Bridge) Background() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.background
}

// SetPlaylist loads cards and acknowledges with the card count.
func (b *Bridge) SetPlaylist(cards []playback.Card, label string) Ack {
	b.seq.Load(cards, label)
	n := len(cards)
	return Ack{Success: true, Action: ActionSetPlaylist, Cards: &n}
}

// HandleJSON decodes and dispatches a command. Malformed payloads produce a
// failed acknowledgement.
func (b *Bridge) HandleJSON(data []byte) Ack {
	var cmd Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		b.logger.Debug().Err(err).Msg("malformed host command")
		return Ack{Success: false, Action: "unknown", Message: "malformed command: " + err.Error()}
	}
	return b.HandleCommand(cmd)
}

// HandleCommand dispatches cmd onto the sequencer. It never panics.
func (b *Bridge) HandleCommand(cmd Command) (ack Ack) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error().Interface("panic", r).Str("action", cmd.Action).Msg("host command panicked")
			ack = Ack{Success: false, Action: cmd.Action, Message: fmt.Sprintf("internal error: %v", r)}
		}
	}()

	if err := cmd.Validate(); err != nil {
		if errors.Is(err, ErrUnknownAction) {
			b.logger.Warn().Str("action", cmd.Action).Msg("unknown host command")
		}
		return Ack{Success: false, Action: cmd.Action, Message: err.Error()}
	}

	ack = Ack{Success: true, Action: cmd.Action}
	switch cmd.Action {
	case ActionPlay:
		b.seq.Play()
	case ActionPause:
		b.seq.Pause()
	case ActionResume:
		b.seq.Resume()
	case ActionStop:
		b.seq.Stop()
	case ActionNext:
		b.seq.Next()
	case ActionPrevious:
		b.seq.Previous()
	case ActionGoTo:
		idx := *cmd.Index
		ack.Index = &idx
		if !b.seq.GoTo(idx) {
			ack.Success = false
			ack.Message = fmt.Sprintf("index %d out of range", idx)
		}
	case ActionSetMode:
		mode, err := playback.ParseMode(cmd.Mode)
		if err != nil {
			return Ack{Success: false, Action: cmd.Action, Message: err.Error()}
		}
		b.seq.SetMode(mode)
		ack.Mode = string(mode)
	case ActionGetState:
		snap := b.seq.Snapshot()
		ack.State = &snap
	case ActionCleanup:
		b.seq.Cleanup()
	}

	if ack.Success && cmd.Action != ActionGetState && cmd.Action != ActionCleanup {
		if b.seq.Snapshot().TotalCards == 0 {
			ack.Message = "playlist is empty"
		}
	}
	b.logger.Debug().Str("action", cmd.Action).Bool("success", ack.Success).Msg("host command")
	return ack
}

// OnBackgroundEnter marks the host as backgrounded. Playback continues; if a
// track is playing its metadata goes to the media session.
func (b *Bridge) OnBackgroundEnter() {
	b.mu.Lock()
	b.background = true
	b.mu.Unlock()

	snap := b.seq.Snapshot()
	if snap.IsPlaying {
		b.publishNowPlaying(snap)
	}
}

// OnForegroundEnter clears the background flag and pushes a fresh snapshot
// so the UI can resynchronize.
func (b *Bridge) OnForegroundEnter() {
	b.mu.Lock()
	b.background = false
	b.mu.Unlock()

	b.push(b.seq.Snapshot())
}

func (b *Bridge) onSnapshot(snap playback.Snapshot) {
	b.push(snap)
	if b.Background() && snap.IsPlaying && snap.State.Playing() {
		b.publishNowPlaying(snap)
	}
}

func (b *Bridge) push(snap playback.Snapshot) {
	b.mu.RLock()
	host := b.host
	b.mu.RUnlock()

	if host != nil {
		host.UpdatePlaybackState(snap)
	}
	if b.bus != nil {
		b.bus.Publish(events.EventPlaybackState, events.Payload{
			"session_id": b.sessionID,
			"snapshot":   snap,
		})
	}
}

func (b *Bridge) publishNowPlaying(snap playback.Snapshot) {
	np := Describe(snap)

	b.mu.RLock()
	session := b.session
	b.mu.RUnlock()

	if session != nil {
		session.SetNowPlaying(np)
	}
	if b.bus != nil {
		b.bus.Publish(events.EventNowPlaying, events.Payload{
			"session_id": b.sessionID,
			"title":      np.Title,
			"artist":     np.Artist,
			"album":      np.Album,
			"artwork":    np.Artwork,
		})
	}
}
