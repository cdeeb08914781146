/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package playback

import (
	"errors"
	"sort"

	"github.com/rs/zerolog"
)

// Default pool sizing.
const (
	DefaultPreloadWindow = 5
	DefaultPoolCapacity  = 32
)

// ErrNoAudio is returned when a card has no URL for the requested track.
var ErrNoAudio = errors.New("playback: no audio for track")

// Handle is one loaded audio track.
type Handle interface {
	// Play starts the track from the beginning. done is called exactly once
	// when the track ends (nil) or fails, and never before Play returns.
	Play(done func(error)) error
	Pause()
	Resume()
	// Stop halts playback and rewinds to zero.
	Stop()
	// Close frees the handle.
	Close()
}

// Backend creates handles. Open should start buffering and return without
// waiting for the data.
type Backend interface {
	Open(url string) (Handle, error)
}

type poolKey struct {
	pos  int
	kind TrackKind
}

// PreloadJob is one handle the pool wants opened.
type PreloadJob struct {
	key poolKey
	url string
	gen uint64
}

// Pool caches handles by playlist position and track kind. Entries far from
// the current position are closed once the pool exceeds its capacity. The
// Sequencer serializes access; only Open may run without its lock.
type Pool struct {
	backend  Backend
	handles  map[poolKey]Handle
	loading  map[poolKey]bool
	gen      uint64
	capacity int
	logger   zerolog.Logger
}

// NewPool creates a pool. capacity <= 0 uses DefaultPoolCapacity.
func NewPool(backend Backend, capacity int, logger zerolog.Logger) *Pool {
	if capacity <= 0 {
		capacity = DefaultPoolCapacity
	}
	return &Pool{
		backend:  backend,
		handles:  make(map[poolKey]Handle),
		loading:  make(map[poolKey]bool),
		capacity: capacity,
		logger:   logger,
	}
}

// Preload reserves the handles missing for the n cards starting at from and
// returns the opens still to run. Each job goes through Open and then Fill.
func (p *Pool) Preload(list *Playlist, from, n int) []PreloadJob {
	end := from + n
	if end > list.Len() {
		end = list.Len()
	}
	var jobs []PreloadJob
	for pos := from; pos < end; pos++ {
		card, _ := list.At(pos)
		if !card.Playable() {
			continue
		}
		jobs = p.reserve(jobs, poolKey{pos, Primary}, card.PrimaryAudioURL)
		if card.SecondaryAudioURL != "" {
			jobs = p.reserve(jobs, poolKey{pos, Secondary}, card.SecondaryAudioURL)
		}
	}
	return jobs
}

func (p *Pool) reserve(jobs []PreloadJob, key poolKey, url string) []PreloadJob {
	if _, ok := p.handles[key]; ok || p.loading[key] {
		return jobs
	}
	p.loading[key] = true
	return append(jobs, PreloadJob{key: key, url: url, gen: p.gen})
}

// Claim reports whether job still needs opening. A job for a cleared pool, or
// for an entry acquired since it was planned, is dropped.
func (p *Pool) Claim(job PreloadJob) bool {
	if job.gen != p.gen || !p.loading[job.key] {
		return false
	}
	if _, ok := p.handles[job.key]; ok {
		delete(p.loading, job.key)
		return false
	}
	return true
}

// Open runs the backend open for job. It does not touch pool state.
func (p *Pool) Open(job PreloadJob) (Handle, error) {
	return p.backend.Open(job.url)
}

// Fill stores the result of a preload and trims the pool around center.
// Results for a cleared pool, or for an entry acquired in the meantime, are
// closed.
func (p *Pool) Fill(job PreloadJob, h Handle, err error, center int) {
	if job.gen == p.gen {
		delete(p.loading, job.key)
	}
	if err != nil {
		p.logger.Debug().Err(err).Int("position", job.key.pos).Str("track", job.key.kind.String()).Msg("preload failed")
		return
	}
	if _, ok := p.handles[job.key]; ok || job.gen != p.gen {
		h.Close()
		return
	}
	p.handles[job.key] = h
	p.evict(center)
}

func (p *Pool) open(key poolKey, url string) (Handle, error) {
	if h, ok := p.handles[key]; ok {
		return h, nil
	}
	h, err := p.backend.Open(url)
	if err != nil {
		return nil, err
	}
	p.handles[key] = h
	return h, nil
}

// Acquire returns the pooled handle for pos/kind, opening it on demand.
func (p *Pool) Acquire(list *Playlist, pos int, kind TrackKind) (Handle, error) {
	card, ok := list.At(pos)
	if !ok || card.URL(kind) == "" {
		return nil, ErrNoAudio
	}
	h, err := p.open(poolKey{pos, kind}, card.URL(kind))
	if err != nil {
		return nil, err
	}
	p.evict(pos)
	return h, nil
}

// Release stops and rewinds h. The pool keeps it.
func (p *Pool) Release(h Handle) {
	if h != nil {
		h.Stop()
	}
}

// Clear stops and closes every handle. Preloads still in flight are
// discarded when they finish.
func (p *Pool) Clear() {
	p.gen++
	p.loading = make(map[poolKey]bool)
	for key, h := range p.handles {
		h.Stop()
		h.Close()
		delete(p.handles, key)
	}
}

// Len returns the number of pooled handles.
func (p *Pool) Len() int {
	return len(p.handles)
}

// Has reports whether pos/kind is pooled.
func (p *Pool) Has(pos int, kind TrackKind) bool {
	_, ok := p.handles[poolKey{pos, kind}]
	return ok
}

// evict closes the handles farthest from center until the pool fits. The
// handles at center are never evicted.
func (p *Pool) evict(center int) {
	if len(p.handles) <= p.capacity {
		return
	}
	keys := make([]poolKey, 0, len(p.handles))
	for k := range p.handles {
		if k.pos != center {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		di, dj := distance(keys[i].pos, center), distance(keys[j].pos, center)
		if di != dj {
			return di > dj
		}
		// Behind the cursor goes first.
		return keys[i].pos < keys[j].pos
	})
	for _, k := range keys {
		if len(p.handles) <= p.capacity {
			break
		}
		h := p.handles[k]
		h.Stop()
		h.Close()
		delete(p.handles, k)
	}
}

func distance(a, b int) int {
	if a > b {
		return a - b
	}
	return b - a
}
