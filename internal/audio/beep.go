/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package audio plays card audio on the local sound device. It backs the
// sequencer when the CLI plays a sequence without a browser.
package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/mp3"
	"github.com/faiface/beep/speaker"
	"github.com/rs/zerolog"

	"github.com/friendsincode/palmcards/internal/playback"
	"github.com/friendsincode/palmcards/internal/telemetry"
)

var errClosed = errors.New("audio: handle closed")

const (
	maxTrackBytes = 20 << 20

	// DefaultSampleRate is the speaker rate every track is resampled to.
	DefaultSampleRate beep.SampleRate = 44100
)

// Decoder turns encoded audio into a stream.
type Decoder func(io.ReadCloser) (beep.StreamSeekCloser, beep.Format, error)

// sink is the output device.
type sink interface {
	Init(sr beep.SampleRate) error
	Play(s beep.Streamer)
	Lock()
	Unlock()
}

type speakerSink struct {
	once sync.Once
	err  error
}

func (s *speakerSink) Init(sr beep.SampleRate) error {
	s.once.Do(func() {
		s.err = speaker.Init(sr, sr.N(time.Second/10))
	})
	return s.err
}

func (s *speakerSink) Play(st beep.Streamer) { speaker.Play(st) }
func (s *speakerSink) Lock()                 { speaker.Lock() }
func (s *speakerSink) Unlock()               { speaker.Unlock() }

// Option configures a Backend.
type Option func(*Backend)

// WithHTTPClient replaces the client used to fetch tracks.
func WithHTTPClient(c *http.Client) Option {
	return func(b *Backend) { b.http = c }
}

// WithDecoder replaces the mp3 decoder.
func WithDecoder(d Decoder) Option {
	return func(b *Backend) { b.decode = d }
}

// Backend is a playback.Backend that renders through the speaker.
type Backend struct {
	http   *http.Client
	decode Decoder
	out    sink
	rate   beep.SampleRate
	logger zerolog.Logger
}

// New creates a speaker backend.
func New(logger zerolog.Logger, opts ...Option) *Backend {
	b := &Backend{
		http:   &http.Client{Timeout: 60 * time.Second, Transport: telemetry.Transport(nil)},
		decode: mp3.Decode,
		out:    &speakerSink{},
		rate:   DefaultSampleRate,
		logger: logger.With().Str("component", "audio").Logger(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Open starts downloading url in the background and returns at once. Play
// waits for the download; a failed download is reported through Play.
func (b *Backend) Open(url string) (playback.Handle, error) {
	if url == "" {
		return nil, playback.ErrNoAudio
	}
	ctx, cancel := context.WithCancel(context.Background())
	h := &handle{backend: b, url: url, ready: make(chan struct{}), cancel: cancel}
	go h.load(ctx)
	return h, nil
}

func (b *Backend) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := b.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: status %d", url, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxTrackBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", url, err)
	}
	if len(data) > maxTrackBytes {
		return nil, fmt.Errorf("track %s exceeds %d bytes", url, maxTrackBytes)
	}
	return data, nil
}

type handle struct {
	backend *Backend
	url     string
	ready   chan struct{}
	cancel  context.CancelFunc

	mu       sync.Mutex
	data     []byte
	loadErr  error
	closed   bool
	gen      uint64
	paused   bool
	done     func(error)
	ctrl     *beep.Ctrl
	streamer beep.StreamSeekCloser
}

func (h *handle) load(ctx context.Context) {
	defer close(h.ready)
	data, err := h.backend.fetch(ctx, h.url)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.data, h.loadErr = data, err
	if err != nil {
		h.backend.logger.Debug().Err(err).Str("url", h.url).Msg("track load failed")
		return
	}
	h.backend.logger.Debug().Str("url", h.url).Int("bytes", len(data)).Msg("track loaded")
}

// Play starts the track once its data is in. If the download is still
// running Play returns nil and the outcome arrives through done.
func (h *handle) Play(done func(error)) error {
	h.stopStream()

	h.mu.Lock()
	h.gen++
	gen := h.gen
	h.done = done
	h.paused = false
	h.mu.Unlock()

	select {
	case <-h.ready:
		if err := h.start(gen); err != nil {
			h.mu.Lock()
			if gen == h.gen {
				h.done = nil
			}
			h.mu.Unlock()
			return err
		}
		return nil
	default:
	}

	go func() {
		<-h.ready
		if err := h.start(gen); err != nil {
			h.fail(gen, err)
		}
	}()
	return nil
}

func (h *handle) start(gen uint64) error {
	b := h.backend

	h.mu.Lock()
	data, loadErr, closed := h.data, h.loadErr, h.closed
	stale := gen != h.gen
	h.mu.Unlock()
	switch {
	case stale:
		return nil
	case closed:
		return errClosed
	case loadErr != nil:
		return loadErr
	}

	streamer, format, err := b.decode(io.NopCloser(bytes.NewReader(data)))
	if err != nil {
		return fmt.Errorf("decode %s: %w", h.url, err)
	}
	if err := b.out.Init(b.rate); err != nil {
		streamer.Close()
		return fmt.Errorf("init speaker: %w", err)
	}

	var src beep.Streamer = streamer
	if format.SampleRate != b.rate {
		src = beep.Resample(4, format.SampleRate, b.rate, streamer)
	}

	h.mu.Lock()
	if gen != h.gen {
		h.mu.Unlock()
		streamer.Close()
		return nil
	}
	h.streamer = streamer
	h.ctrl = &beep.Ctrl{Streamer: src, Paused: h.paused}
	ctrl := h.ctrl
	h.mu.Unlock()

	// The callback runs on the speaker goroutine with the speaker locked.
	b.out.Play(beep.Seq(ctrl, beep.Callback(func() {
		go h.finish(gen, streamer)
	})))
	return nil
}

func (h *handle) fail(gen uint64, err error) {
	h.mu.Lock()
	if gen != h.gen || h.done == nil {
		h.mu.Unlock()
		return
	}
	done := h.done
	h.done = nil
	h.mu.Unlock()

	done(err)
}

func (h *handle) finish(gen uint64, s beep.StreamSeekCloser) {
	h.mu.Lock()
	if gen != h.gen || h.done == nil {
		h.mu.Unlock()
		return
	}
	done := h.done
	h.done = nil
	h.mu.Unlock()

	done(s.Err())
}

func (h *handle) Pause()  { h.setPaused(true) }
func (h *handle) Resume() { h.setPaused(false) }

func (h *handle) setPaused(p bool) {
	h.mu.Lock()
	h.paused = p
	ctrl := h.ctrl
	h.mu.Unlock()
	if ctrl == nil {
		return
	}
	h.backend.out.Lock()
	ctrl.Paused = p
	h.backend.out.Unlock()
}

// Stop silences the track and drops its completion callback.
func (h *handle) Stop() {
	h.stopStream()
}

func (h *handle) Close() {
	h.cancel()
	h.stopStream()
	h.mu.Lock()
	h.closed = true
	h.data = nil
	h.mu.Unlock()
}

func (h *handle) stopStream() {
	h.mu.Lock()
	h.gen++
	h.done = nil
	ctrl, streamer := h.ctrl, h.streamer
	h.ctrl, h.streamer = nil, nil
	h.mu.Unlock()

	if ctrl != nil {
		h.backend.out.Lock()
		ctrl.Streamer = nil
		h.backend.out.Unlock()
	}
	if streamer != nil {
		streamer.Close()
	}
}
