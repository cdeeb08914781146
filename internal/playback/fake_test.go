package playback

import (
	"errors"
	"sync"
	"testing"
)

type fakeHandle struct {
	url     string
	plays   int
	pauses  int
	resumes int
	stops   int
	closed  bool
	playErr error
	done    func(error)
}

func (h *fakeHandle) Play(done func(error)) error {
	if h.playErr != nil {
		return h.playErr
	}
	h.plays++
	h.done = done
	return nil
}

func (h *fakeHandle) Pause()  { h.pauses++ }
func (h *fakeHandle) Resume() { h.resumes++ }
func (h *fakeHandle) Stop()   { h.stops++ }
func (h *fakeHandle) Close()  { h.closed = true }

type fakeBackend struct {
	mu       sync.Mutex
	opened   []*fakeHandle
	byURL    map[string]*fakeHandle
	openErr  map[string]error
	playErr  map[string]error
	gate     map[string]chan struct{}
	blocked  chan string
	lastPlay *fakeHandle
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		byURL:   map[string]*fakeHandle{},
		openErr: map[string]error{},
		playErr: map[string]error{},
		gate:    map[string]chan struct{}{},
		blocked: make(chan string, 8),
	}
}

// Open waits on the url's gate, if any, to simulate a slow fetch.
func (b *fakeBackend) Open(url string) (Handle, error) {
	b.mu.Lock()
	gate := b.gate[url]
	b.mu.Unlock()
	if gate != nil {
		b.blocked <- url
		<-gate
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.openErr[url]; err != nil {
		return nil, err
	}
	h := &fakeHandle{url: url, playErr: b.playErr[url]}
	b.opened = append(b.opened, h)
	b.byURL[url] = h
	return &trackingHandle{fakeHandle: h, b: b}, nil
}

// trackingHandle records which handle played last.
type trackingHandle struct {
	*fakeHandle
	b *fakeBackend
}

func (h *trackingHandle) Play(done func(error)) error {
	if err := h.fakeHandle.Play(done); err != nil {
		return err
	}
	h.b.mu.Lock()
	h.b.lastPlay = h.fakeHandle
	h.b.mu.Unlock()
	return nil
}

func (b *fakeBackend) playing(t *testing.T) *fakeHandle {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.lastPlay == nil {
		t.Fatal("no handle has been played")
	}
	return b.lastPlay
}

// end finishes the most recently played track.
func (b *fakeBackend) end(t *testing.T) {
	t.Helper()
	h := b.playing(t)
	done := h.done
	h.done = nil
	if done == nil {
		t.Fatalf("handle %s already finished", h.url)
	}
	done(nil)
}

func (b *fakeBackend) fail(t *testing.T) {
	t.Helper()
	h := b.playing(t)
	done := h.done
	h.done = nil
	done(errors.New("decode error"))
}

type recorder struct {
	mu    sync.Mutex
	snaps []Snapshot
}

func (r *recorder) record(s Snapshot) {
	r.mu.Lock()
	r.snaps = append(r.snaps, s)
	r.mu.Unlock()
}

func (r *recorder) reset() {
	r.mu.Lock()
	r.snaps = nil
	r.mu.Unlock()
}

func (r *recorder) all() []Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Snapshot(nil), r.snaps...)
}

func cards(urls ...string) []Card {
	out := make([]Card, len(urls))
	for i, u := range urls {
		out[i] = Card{DisplayText: "jp", TranslationText: "kr", PrimaryAudioURL: u}
	}
	return out
}

func newTestSequencer(t *testing.T, opts ...Option) (*Sequencer, *fakeBackend, *ManualClock, *recorder) {
	t.Helper()
	backend := newFakeBackend()
	clock := NewManualClock()
	rec := &recorder{}
	seq := NewSequencer(backend, append([]Option{WithClock(clock)}, opts...)...)
	seq.OnChange(rec.record)
	return seq, backend, clock, rec
}
