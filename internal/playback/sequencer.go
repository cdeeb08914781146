/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package playback implements the flashcard playlist sequencer: a playlist
// cursor, a pool of preloaded audio handles and the state machine that plays
// each card's primary track and, in expression mode, its secondary track.
package playback

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/palmcards/internal/telemetry"
)

// Fault describes a track that could not be played. Playback has already
// moved on when it is reported.
type Fault struct {
	Index int
	Kind  TrackKind
	URL   string
	Err   error
}

// Option configures a Sequencer.
type Option func(*Sequencer)

// WithClock replaces the system clock.
func WithClock(c Clock) Option {
	return func(s *Sequencer) { s.clock = c }
}

// WithPreloadWindow sets how many cards are preloaded ahead.
func WithPreloadWindow(n int) Option {
	return func(s *Sequencer) {
		if n > 0 {
			s.window = n
		}
	}
}

// WithPoolCapacity caps the number of pooled handles.
func WithPoolCapacity(n int) Option {
	return func(s *Sequencer) { s.capacity = n }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Sequencer) { s.logger = l }
}

// WithFaultHandler is called after every playback fault.
func WithFaultHandler(f func(Fault)) Option {
	return func(s *Sequencer) { s.onFault = f }
}

// Sequencer drives a playlist through its tracks. All methods are safe for
// concurrent use. Change listeners run after the internal lock is released.
type Sequencer struct {
	mu       sync.Mutex
	list     *Playlist
	pool     *Pool
	clock    Clock
	window   int
	capacity int
	logger   zerolog.Logger

	state       State
	current     Handle
	currentKind TrackKind
	timer       Timer
	step        func()
	delay       time.Duration

	// token identifies the one pending timer or track callback. Anything
	// carrying an older token is stale.
	token uint64

	listeners map[int]func(Snapshot)
	nextID    int
	onFault   func(Fault)
	pending   []Snapshot
	faults    []Fault
	preloads  []PreloadJob
}

// NewSequencer creates an idle sequencer with an empty playlist.
func NewSequencer(backend Backend, opts ...Option) *Sequencer {
	s := &Sequencer{
		list:      NewPlaylist(),
		clock:     SystemClock{},
		window:    DefaultPreloadWindow,
		capacity:  DefaultPoolCapacity,
		logger:    zerolog.Nop(),
		state:     StateIdle,
		listeners: make(map[int]func(Snapshot)),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.capacity < s.window*2 {
		s.capacity = s.window * 2
	}
	s.pool = NewPool(backend, s.capacity, s.logger)
	return s
}

// OnChange registers fn for every snapshot. The returned func unregisters it.
func (s *Sequencer) OnChange(fn func(Snapshot)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// Load replaces the playlist, rewinds to the first card and preloads the
// first window of tracks. The preloads are opened after the lock is released.
func (s *Sequencer) Load(cards []Card, label string) {
	s.mu.Lock()
	defer s.unlock()

	s.haltLocked(false)
	s.pool.Clear()
	s.list.Load(cards, label)
	jobs := s.pool.Preload(s.list, 0, s.window)
	s.preloads = append(s.preloads, jobs...)
	s.logger.Info().
		Str("sequence", label).
		Int("cards", len(cards)).
		Int("preloading", len(jobs)).
		Msg("playlist loaded")
	s.emitLocked()
}

// Play starts the current card, or resumes if paused.
func (s *Sequencer) Play() {
	s.mu.Lock()
	defer s.unlock()

	if s.list.Len() == 0 || s.list.Playing() {
		return
	}
	if s.resumeLocked() {
		return
	}
	s.startLocked()
}

// Pause freezes the current track or pending delay. Pausing twice is the
// same as pausing once.
func (s *Sequencer) Pause() {
	s.mu.Lock()
	defer s.unlock()

	if !s.list.Playing() {
		return
	}
	switch {
	case s.state.Playing() && s.current != nil:
		s.current.Pause()
	case s.state == StateInterTrackDelay:
		if s.timer != nil {
			s.timer.Stop()
			s.timer = nil
		}
		s.token++
	}
	s.list.setPlaying(false)
	s.emitLocked()
}

// Resume continues after Pause. It does nothing otherwise.
func (s *Sequencer) Resume() {
	s.mu.Lock()
	defer s.unlock()

	if s.list.Playing() {
		return
	}
	s.resumeLocked()
}

// Stop halts playback and rewinds the current track. The position is kept.
func (s *Sequencer) Stop() {
	s.mu.Lock()
	defer s.unlock()
	s.haltLocked(true)
}

// Next stops and starts the following card. On the last card playback stays
// stopped.
func (s *Sequencer) Next() {
	s.mu.Lock()
	defer s.unlock()

	if s.list.Len() == 0 {
		return
	}
	s.haltLocked(true)
	if !s.list.Advance() {
		s.logger.Debug().Int("position", s.list.Position()).Msg("next at end of playlist")
		return
	}
	s.startLocked()
}

// Previous stops and starts the preceding card. On the first card it
// restarts that card.
func (s *Sequencer) Previous() {
	s.mu.Lock()
	defer s.unlock()

	if s.list.Len() == 0 {
		return
	}
	s.haltLocked(true)
	s.list.Retreat()
	s.startLocked()
}

// GoTo jumps to index and starts it. Out-of-range indexes change nothing.
func (s *Sequencer) GoTo(index int) bool {
	s.mu.Lock()
	defer s.unlock()

	if _, ok := s.list.At(index); !ok {
		return false
	}
	s.haltLocked(true)
	s.list.Seek(index)
	s.startLocked()
	return true
}

// SetMode changes the mode. A playing track is not interrupted; the mode
// applies from the next track transition.
func (s *Sequencer) SetMode(m Mode) {
	s.mu.Lock()
	defer s.unlock()

	if s.list.Mode() == m {
		return
	}
	s.list.SetMode(m)
	s.logger.Debug().Str("mode", string(m)).Msg("playback mode changed")
	s.emitLocked()
}

// Cleanup stops playback and closes every pooled handle. The playlist stays
// loaded and handles are reopened on demand.
func (s *Sequencer) Cleanup() {
	s.mu.Lock()
	defer s.unlock()

	s.haltLocked(true)
	s.pool.Clear()
}

// Snapshot returns the current state without side effects.
func (s *Sequencer) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// PooledHandles returns the number of open handles.
func (s *Sequencer) PooledHandles() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pool.Len()
}

func (s *Sequencer) snapshotLocked() Snapshot {
	snap := Snapshot{
		IsPlaying:    s.list.Playing(),
		CurrentIndex: s.list.Position(),
		TotalCards:   s.list.Len(),
		PlaybackMode: s.list.Mode(),
		Sequence:     s.list.Label(),
		State:        s.state,
	}
	if card, ok := s.list.Current(); ok {
		snap.CurrentCard = &card
	}
	if s.state == StateInterTrackDelay {
		snap.DelayMS = s.delay.Milliseconds()
	}
	return snap
}

// unlock releases the lock, delivers queued faults and snapshots and then
// opens queued preloads.
func (s *Sequencer) unlock() {
	pending, faults, preloads := s.pending, s.faults, s.preloads
	s.pending, s.faults, s.preloads = nil, nil, nil
	var listeners []func(Snapshot)
	if len(pending) > 0 {
		listeners = make([]func(Snapshot), 0, len(s.listeners))
		for _, fn := range s.listeners {
			listeners = append(listeners, fn)
		}
	}
	onFault := s.onFault
	s.mu.Unlock()

	if onFault != nil {
		for _, f := range faults {
			onFault(f)
		}
	}
	for _, snap := range pending {
		for _, fn := range listeners {
			fn(snap)
		}
	}
	s.runPreloads(preloads)
}

// runPreloads opens each job without holding the lock, so a slow backend
// never stalls commands or snapshots.
func (s *Sequencer) runPreloads(jobs []PreloadJob) {
	for _, job := range jobs {
		s.mu.Lock()
		wanted := s.pool.Claim(job)
		s.mu.Unlock()
		if !wanted {
			continue
		}

		h, err := s.pool.Open(job)

		s.mu.Lock()
		s.pool.Fill(job, h, err, s.list.Position())
		s.mu.Unlock()
	}
}

func (s *Sequencer) emitLocked() {
	s.pending = append(s.pending, s.snapshotLocked())
}

func (s *Sequencer) setStateLocked(to State) {
	if !isValidTransition(s.state, to) {
		s.logger.Warn().Str("from", string(s.state)).Str("to", string(to)).Msg("unexpected playback transition")
	}
	s.state = to
	telemetry.PlaybackTransitionsTotal.WithLabelValues(string(to)).Inc()
}

// haltLocked cancels the pending timer and track callback, rewinds the
// current handle and goes idle.
func (s *Sequencer) haltLocked(emit bool) {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.step = nil
	s.delay = 0
	s.token++
	if s.current != nil {
		s.pool.Release(s.current)
		s.current = nil
	}
	s.setStateLocked(StateIdle)
	s.list.setPlaying(false)
	if emit {
		s.emitLocked()
	}
}

func (s *Sequencer) resumeLocked() bool {
	switch {
	case s.state.Playing() && s.current != nil:
		s.current.Resume()
		s.list.setPlaying(true)
		s.emitLocked()
		return true
	case s.state == StateInterTrackDelay && s.step != nil:
		s.list.setPlaying(true)
		s.scheduleLocked(s.delay, s.step)
		return true
	}
	return false
}

// startLocked plays the primary track of the current card, skipping cards
// that have no primary audio or fail to start.
func (s *Sequencer) startLocked() {
	for {
		card, ok := s.list.Current()
		if !ok {
			s.idleLocked()
			return
		}
		if !card.Playable() {
			telemetry.PlaybackSkipsTotal.Inc()
			s.logger.Debug().Int("position", s.list.Position()).Str("card_id", card.ID).Msg("skipping card without audio")
			if !s.list.Advance() {
				s.idleLocked()
				return
			}
			continue
		}
		if err := s.playLocked(card, Primary); err != nil {
			if !s.list.Advance() {
				s.idleLocked()
				return
			}
			continue
		}
		return
	}
}

func (s *Sequencer) playLocked(card Card, kind TrackKind) error {
	pos := s.list.Position()
	h, err := s.pool.Acquire(s.list, pos, kind)
	if err != nil {
		s.faultLocked(pos, kind, card.URL(kind), err)
		return err
	}

	s.token++
	tok := s.token
	if err := h.Play(func(err error) { s.trackDone(tok, err) }); err != nil {
		s.pool.Release(h)
		s.faultLocked(pos, kind, card.URL(kind), err)
		return err
	}

	s.current = h
	s.currentKind = kind
	s.delay = 0
	s.list.setPlaying(true)
	if kind == Secondary {
		s.setStateLocked(StatePlayingSecondary)
	} else {
		s.setStateLocked(StatePlayingPrimary)
	}
	s.preloads = append(s.preloads, s.pool.Preload(s.list, pos, s.window)...)
	s.emitLocked()
	return nil
}

func (s *Sequencer) trackDone(tok uint64, err error) {
	s.mu.Lock()
	defer s.unlock()

	if tok != s.token {
		s.logger.Debug().Msg("dropping stale track callback")
		return
	}
	kind := s.currentKind
	s.current = nil

	if err != nil {
		card, _ := s.list.Current()
		s.faultLocked(s.list.Position(), kind, card.URL(kind), err)
		if !s.list.Playing() {
			// Paused: move on once resumed, like a track that ended.
			s.scheduleLocked(0, s.advanceLocked)
			return
		}
		s.advanceLocked()
		return
	}

	card, _ := s.list.Current()
	if kind == Primary && s.list.Mode() == ModeExpression && card.SecondaryAudioURL != "" {
		s.scheduleLocked(DelayBeforeSecondary, s.playSecondaryLocked)
		return
	}
	s.scheduleLocked(DelayBetweenCards, s.advanceLocked)
}

// scheduleLocked enters the inter-track delay and arms the single timer.
// While paused the step is kept but the timer stays unarmed until resume.
func (s *Sequencer) scheduleLocked(d time.Duration, step func()) {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.token++
	tok := s.token
	s.step = step
	s.delay = d
	s.setStateLocked(StateInterTrackDelay)
	if s.list.Playing() {
		s.timer = s.clock.AfterFunc(d, func() { s.fire(tok) })
	}
	s.emitLocked()
}

func (s *Sequencer) fire(tok uint64) {
	s.mu.Lock()
	defer s.unlock()

	if tok != s.token || s.step == nil {
		return
	}
	step := s.step
	s.step = nil
	s.timer = nil
	s.delay = 0
	step()
}

func (s *Sequencer) playSecondaryLocked() {
	card, ok := s.list.Current()
	if !ok {
		s.idleLocked()
		return
	}
	if err := s.playLocked(card, Secondary); err != nil {
		s.advanceLocked()
	}
}

func (s *Sequencer) advanceLocked() {
	if s.current != nil {
		s.pool.Release(s.current)
		s.current = nil
	}
	if !s.list.Advance() {
		s.logger.Info().Str("sequence", s.list.Label()).Msg("end of playlist")
		s.idleLocked()
		return
	}
	s.startLocked()
}

func (s *Sequencer) idleLocked() {
	s.token++
	s.current = nil
	s.delay = 0
	s.setStateLocked(StateIdle)
	s.list.setPlaying(false)
	s.emitLocked()
}

func (s *Sequencer) faultLocked(pos int, kind TrackKind, url string, err error) {
	telemetry.PlaybackFaultsTotal.WithLabelValues(kind.String()).Inc()
	s.logger.Warn().
		Err(err).
		Int("position", pos).
		Str("track", kind.String()).
		Str("url", url).
		Msg("track failed, moving on")
	s.faults = append(s.faults, Fault{Index: pos, Kind: kind, URL: url, Err: err})
}
