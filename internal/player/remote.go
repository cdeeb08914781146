/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package player

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/friendsincode/palmcards/internal/playback"
)

// Directive ops sent to the client that renders audio.
const (
	OpLoad   = "load"
	OpPlay   = "play"
	OpPause  = "pause"
	OpResume = "resume"
	OpStop   = "stop"
	OpUnload = "unload"
)

var (
	// ErrUnknownHandle is returned for reports about handles that were
	// closed or never opened.
	ErrUnknownHandle = errors.New("player: unknown audio handle")
	// ErrStaleReport is returned for reports about an earlier play of a
	// handle that has since been restarted.
	ErrStaleReport = errors.New("player: report for an earlier play")
)

// Directive tells the client what to do with one audio element. Play
// directives carry a sequence number that the client echoes in its
// ended and error reports.
type Directive struct {
	Op     string `json:"op"`
	Handle string `json:"handle"`
	URL    string `json:"url,omitempty"`
	Play   uint64 `json:"play,omitempty"`
}

// RemoteBackend is a playback.Backend whose handles are rendered by a
// connected client. The client reports the end of each track, or an error,
// by handle ID.
type RemoteBackend struct {
	emit   func(Directive)
	logger zerolog.Logger

	mu      sync.Mutex
	handles map[string]*remoteHandle
}

// NewRemoteBackend creates a backend that sends directives through emit.
func NewRemoteBackend(emit func(Directive), logger zerolog.Logger) *RemoteBackend {
	return &RemoteBackend{
		emit:    emit,
		logger:  logger,
		handles: make(map[string]*remoteHandle),
	}
}

// Open registers a handle and asks the client to preload url.
func (b *RemoteBackend) Open(url string) (playback.Handle, error) {
	if url == "" {
		return nil, playback.ErrNoAudio
	}
	h := &remoteHandle{id: uuid.NewString(), url: url, backend: b}

	b.mu.Lock()
	b.handles[h.id] = h
	b.mu.Unlock()

	b.emit(Directive{Op: OpLoad, Handle: h.id, URL: url})
	return h, nil
}

// Ended reports that the client finished the given play of handle.
func (b *RemoteBackend) Ended(handle string, play uint64) error {
	return b.finish(handle, play, nil)
}

// Failed reports that the client could not perform the given play of handle.
func (b *RemoteBackend) Failed(handle string, play uint64, reason string) error {
	if reason == "" {
		reason = "playback failed"
	}
	return b.finish(handle, play, errors.New(reason))
}

// Len returns the number of open handles.
func (b *RemoteBackend) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.handles)
}

// Replay returns the directives that bring a newly connected client up to
// date: a load for every open handle, and the track in progress started
// again, and paused again if it was paused.
func (b *RemoteBackend) Replay() []Directive {
	b.mu.Lock()
	handles := make([]*remoteHandle, 0, len(b.handles))
	for _, h := range b.handles {
		handles = append(handles, h)
	}
	b.mu.Unlock()

	out := make([]Directive, 0, len(handles)+2)
	for _, h := range handles {
		out = append(out, Directive{Op: OpLoad, Handle: h.id, URL: h.url})
		h.mu.Lock()
		if h.done != nil {
			out = append(out, Directive{Op: OpPlay, Handle: h.id, URL: h.url, Play: h.plays})
			if h.paused {
				out = append(out, Directive{Op: OpPause, Handle: h.id})
			}
		}
		h.mu.Unlock()
	}
	return out
}

func (b *RemoteBackend) finish(id string, play uint64, err error) error {
	b.mu.Lock()
	h, ok := b.handles[id]
	b.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownHandle, id)
	}

	h.mu.Lock()
	if play != h.plays {
		current := h.plays
		h.mu.Unlock()
		return fmt.Errorf("%w: handle %s play %d, current %d", ErrStaleReport, id, play, current)
	}
	done := h.done
	h.done = nil
	h.mu.Unlock()

	if done == nil {
		b.logger.Debug().Str("handle", id).Msg("report for handle that is not playing")
		return nil
	}
	done(err)
	return nil
}

func (b *RemoteBackend) forget(id string) {
	b.mu.Lock()
	delete(b.handles, id)
	b.mu.Unlock()
}

type remoteHandle struct {
	id      string
	url     string
	backend *RemoteBackend

	mu     sync.Mutex
	done   func(error)
	plays  uint64
	paused bool
}

func (h *remoteHandle) Play(done func(error)) error {
	h.mu.Lock()
	h.plays++
	play := h.plays
	h.done = done
	h.paused = false
	h.mu.Unlock()
	h.backend.emit(Directive{Op: OpPlay, Handle: h.id, URL: h.url, Play: play})
	return nil
}

func (h *remoteHandle) Pause() {
	h.setPaused(true)
	h.backend.emit(Directive{Op: OpPause, Handle: h.id})
}

func (h *remoteHandle) Resume() {
	h.setPaused(false)
	h.backend.emit(Directive{Op: OpResume, Handle: h.id})
}

func (h *remoteHandle) setPaused(p bool) {
	h.mu.Lock()
	h.paused = p
	h.mu.Unlock()
}

func (h *remoteHandle) Stop() {
	h.takeDone()
	h.backend.emit(Directive{Op: OpStop, Handle: h.id})
}

func (h *remoteHandle) Close() {
	h.takeDone()
	h.backend.forget(h.id)
	h.backend.emit(Directive{Op: OpUnload, Handle: h.id})
}

func (h *remoteHandle) takeDone() func(error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	done := h.done
	h.done = nil
	h.paused = false
	return done
}
