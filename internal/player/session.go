/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package player

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/friendsincode/palmcards/internal/bridge"
	"github.com/friendsincode/palmcards/internal/playback"
)

// Frame types exchanged over a session's websocket.
const (
	FrameSnapshot   = "snapshot"
	FrameNowPlaying = "now_playing"
	FrameAudio      = "audio"
	FrameAck        = "ack"
	FrameCommand    = "command"
	FrameEnded      = "ended"
	FrameError      = "error"
	FrameBackground = "background"
	FrameForeground = "foreground"
)

const subscriberBuffer = 64

// Frame is one websocket message.
type Frame struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

type inboundFrame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type handleReport struct {
	Handle  string `json:"handle"`
	Play    uint64 `json:"play"`
	Message string `json:"message,omitempty"`
}

// Session is one sequencer with its bridge and remote audio backend. It is
// the bridge's Host and MediaSession and fans both out to its subscribers.
type Session struct {
	ID      string
	Created time.Time

	seq    *playback.Sequencer
	bridge *bridge.Bridge
	remote *RemoteBackend
	logger zerolog.Logger

	lastSeen atomic.Int64

	mu      sync.Mutex
	subs    map[int]chan Frame
	nextSub int
	closed  bool
}

// Bridge returns the session's lifecycle bridge.
func (s *Session) Bridge() *bridge.Bridge { return s.bridge }

// Remote returns the session's audio backend.
func (s *Session) Remote() *RemoteBackend { return s.remote }

// Snapshot returns the sequencer state.
func (s *Session) Snapshot() playback.Snapshot { return s.seq.Snapshot() }

// LastSeen returns the last time the session was used.
func (s *Session) LastSeen() time.Time {
	return time.Unix(0, s.lastSeen.Load())
}

func (s *Session) touch(t time.Time) {
	s.lastSeen.Store(t.UnixNano())
}

// Subscribe registers a frame listener. The current snapshot is queued
// first, followed by the directives that rebuild the client's audio.
func (s *Session) Subscribe() (<-chan Frame, func()) {
	snap := Frame{Type: FrameSnapshot, Payload: s.seq.Snapshot()}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		ch := make(chan Frame, 1)
		ch <- snap
		close(ch)
		return ch, func() {}
	}
	replay := s.remote.Replay()
	ch := make(chan Frame, subscriberBuffer+len(replay)+1)
	ch <- snap
	for _, d := range replay {
		ch <- Frame{Type: FrameAudio, Payload: d}
	}
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			if c, ok := s.subs[id]; ok {
				delete(s.subs, id)
				close(c)
			}
			s.mu.Unlock()
		})
	}
}

// Closed reports whether the session has been closed.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Subscribers returns the number of attached listeners.
func (s *Session) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// UpdatePlaybackState implements bridge.Host.
func (s *Session) UpdatePlaybackState(snap playback.Snapshot) {
	s.broadcast(Frame{Type: FrameSnapshot, Payload: snap})
}

// SetNowPlaying implements bridge.MediaSession.
func (s *Session) SetNowPlaying(np bridge.NowPlaying) {
	s.broadcast(Frame{Type: FrameNowPlaying, Payload: np})
}

func (s *Session) emitDirective(d Directive) {
	s.broadcast(Frame{Type: FrameAudio, Payload: d})
}

// broadcast queues f for every subscriber. A full subscriber misses
// snapshots, but one that cannot take an audio directive is disconnected;
// it gets the open handles replayed when it subscribes again.
func (s *Session) broadcast(f Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, ch := range s.subs {
		select {
		case ch <- f:
		default:
			if f.Type == FrameAudio {
				s.logger.Warn().Int("subscriber", id).Msg("subscriber too slow for audio directives, disconnecting")
				delete(s.subs, id)
				close(ch)
				continue
			}
			s.logger.Warn().Int("subscriber", id).Str("frame", f.Type).Msg("subscriber buffer full, dropping frame")
		}
	}
}

// HandleFrame processes one client frame. Commands and lifecycle frames
// are answered with an ack frame; audio reports have no reply.
func (s *Session) HandleFrame(data []byte) (Frame, bool) {
	var in inboundFrame
	if err := json.Unmarshal(data, &in); err != nil {
		return ackFrame(bridge.Ack{Action: "unknown", Message: "malformed frame: " + err.Error()}), true
	}

	switch in.Type {
	case FrameCommand:
		return ackFrame(s.bridge.HandleJSON(in.Payload)), true
	case FrameEnded, FrameError:
		var rep handleReport
		if err := json.Unmarshal(in.Payload, &rep); err != nil || rep.Handle == "" {
			return ackFrame(bridge.Ack{Action: in.Type, Message: "handle is required"}), true
		}
		var err error
		if in.Type == FrameEnded {
			err = s.remote.Ended(rep.Handle, rep.Play)
		} else {
			err = s.remote.Failed(rep.Handle, rep.Play, rep.Message)
		}
		if err != nil {
			s.logger.Debug().Err(err).Str("frame", in.Type).Msg("ignoring audio report")
		}
		return Frame{}, false
	case FrameBackground:
		s.bridge.OnBackgroundEnter()
		return ackFrame(bridge.Ack{Success: true, Action: in.Type}), true
	case FrameForeground:
		s.bridge.OnForegroundEnter()
		return ackFrame(bridge.Ack{Success: true, Action: in.Type}), true
	default:
		return ackFrame(bridge.Ack{Action: in.Type, Message: "unknown frame type"}), true
	}
}

func ackFrame(a bridge.Ack) Frame {
	return Frame{Type: FrameAck, Payload: a}
}

func (s *Session) close() {
	s.bridge.Close()
	s.seq.Cleanup()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for id, ch := range s.subs {
		close(ch)
		delete(s.subs, id)
	}
}
