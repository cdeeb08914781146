package audio

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/faiface/beep"
	"github.com/rs/zerolog"

	"github.com/friendsincode/palmcards/internal/playback"
)

// tone is a silent stream of fixed length.
type tone struct {
	n, pos int
	closed bool
}

func (t *tone) Stream(samples [][2]float64) (int, bool) {
	if t.pos >= t.n {
		return 0, false
	}
	k := len(samples)
	if rest := t.n - t.pos; rest < k {
		k = rest
	}
	for i := 0; i < k; i++ {
		samples[i] = [2]float64{}
	}
	t.pos += k
	return k, true
}

func (t *tone) Err() error       { return nil }
func (t *tone) Len() int         { return t.n }
func (t *tone) Position() int    { return t.pos }
func (t *tone) Seek(p int) error { t.pos = p; return nil }
func (t *tone) Close() error     { t.closed = true; return nil }

type fakeSink struct {
	mu      sync.Mutex
	inits   int
	playing []beep.Streamer
}

func (s *fakeSink) Lock()   { s.mu.Lock() }
func (s *fakeSink) Unlock() { s.mu.Unlock() }

func (s *fakeSink) Init(beep.SampleRate) error {
	s.mu.Lock()
	s.inits++
	s.mu.Unlock()
	return nil
}

func (s *fakeSink) Play(st beep.Streamer) {
	s.mu.Lock()
	s.playing = append(s.playing, st)
	s.mu.Unlock()
}

// pump streams up to rounds buffers from every queued streamer.
func (s *fakeSink) pump(rounds int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	buf := make([][2]float64, 512)
	for _, st := range s.playing {
		for i := 0; i < rounds; i++ {
			if _, ok := st.Stream(buf); !ok {
				break
			}
		}
	}
}

func newTestBackend(t *testing.T, decode Decoder) (*Backend, *fakeSink, string) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing.mp3" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write([]byte("ID3fake"))
	}))
	t.Cleanup(srv.Close)

	b := New(zerolog.Nop(), WithHTTPClient(srv.Client()), WithDecoder(decode))
	out := &fakeSink{}
	b.out = out
	return b, out, srv.URL
}

func toneDecoder(n int, streams *[]*tone) Decoder {
	return func(rc io.ReadCloser) (beep.StreamSeekCloser, beep.Format, error) {
		rc.Close()
		st := &tone{n: n}
		if streams != nil {
			*streams = append(*streams, st)
		}
		return st, beep.Format{SampleRate: DefaultSampleRate, NumChannels: 2, Precision: 2}, nil
	}
}

func waitDone(t *testing.T, ch <-chan error) error {
	t.Helper()
	select {
	case err := <-ch:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("track never finished")
		return nil
	}
}

func waitLoaded(t *testing.T, h playback.Handle) *handle {
	t.Helper()
	bh := h.(*handle)
	select {
	case <-bh.ready:
	case <-time.After(2 * time.Second):
		t.Fatal("track never loaded")
	}
	return bh
}

func TestOpenFetchesTrack(t *testing.T) {
	b, _, base := newTestBackend(t, toneDecoder(10, nil))

	if _, err := b.Open(""); !errors.Is(err, playback.ErrNoAudio) {
		t.Fatalf("Open(\"\") err = %v", err)
	}

	h, err := b.Open(base + "/a.mp3")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	bh := waitLoaded(t, h)
	bh.mu.Lock()
	got := string(bh.data)
	bh.mu.Unlock()
	if got != "ID3fake" {
		t.Fatalf("data = %q", got)
	}
}

func TestFailedDownloadFailsPlay(t *testing.T) {
	b, out, base := newTestBackend(t, toneDecoder(10, nil))

	h, err := b.Open(base + "/missing.mp3")
	if err != nil {
		t.Fatalf("Open should defer fetch errors, got %v", err)
	}
	waitLoaded(t, h)
	if err := h.Play(func(error) {}); err == nil {
		t.Fatal("expected error for 404")
	}
	if out.inits != 0 {
		t.Fatal("speaker initialized for missing track")
	}
}

func TestOpenDoesNotWaitForDownload(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		if r.URL.Path == "/missing.mp3" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("ID3fake"))
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() {
		select {
		case <-release:
		default:
			close(release)
		}
	})

	b := New(zerolog.Nop(), WithHTTPClient(srv.Client()), WithDecoder(toneDecoder(2048, nil)))
	out := &fakeSink{}
	b.out = out

	opened := make(chan playback.Handle, 2)
	go func() {
		h, _ := b.Open(srv.URL + "/a.mp3")
		opened <- h
		h, _ = b.Open(srv.URL + "/missing.mp3")
		opened <- h
	}()
	var good, bad playback.Handle
	select {
	case good = <-opened:
		bad = <-opened
	case <-time.After(500 * time.Millisecond):
		t.Fatal("Open blocked on the download")
	}

	played := make(chan error, 1)
	if err := good.Play(func(err error) { played <- err }); err != nil {
		t.Fatalf("Play: %v", err)
	}
	failed := make(chan error, 1)
	if err := bad.Play(func(err error) { failed <- err }); err != nil {
		t.Fatalf("Play before load should not fail synchronously: %v", err)
	}
	close(release)

	if err := waitDone(t, failed); err == nil {
		t.Fatal("missing track reported success")
	}
	waitLoaded(t, good)
	deadline := time.Now().Add(2 * time.Second)
	for {
		out.mu.Lock()
		n := len(out.playing)
		out.mu.Unlock()
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("track never reached the speaker")
		}
		time.Sleep(5 * time.Millisecond)
	}
	out.pump(100)
	if err := waitDone(t, played); err != nil {
		t.Fatalf("done err = %v", err)
	}
}

func TestPlayReportsEnd(t *testing.T) {
	var streams []*tone
	b, out, base := newTestBackend(t, toneDecoder(2048, &streams))

	h, err := b.Open(base + "/a.mp3")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	waitLoaded(t, h)

	done := make(chan error, 1)
	if err := h.Play(func(err error) { done <- err }); err != nil {
		t.Fatalf("Play: %v", err)
	}
	if out.inits != 1 {
		t.Fatalf("speaker init = %d, want 1", out.inits)
	}

	out.pump(100)
	if err := waitDone(t, done); err != nil {
		t.Fatalf("done err = %v", err)
	}
}

func TestPauseHoldsTrack(t *testing.T) {
	b, out, base := newTestBackend(t, toneDecoder(2048, nil))

	h, err := b.Open(base + "/a.mp3")
	if err != nil {
		t.Fatal(err)
	}
	waitLoaded(t, h)
	done := make(chan error, 1)
	if err := h.Play(func(err error) { done <- err }); err != nil {
		t.Fatal(err)
	}

	h.Pause()
	out.pump(100)
	select {
	case <-done:
		t.Fatal("paused track finished")
	case <-time.After(50 * time.Millisecond):
	}

	h.Resume()
	out.pump(100)
	if err := waitDone(t, done); err != nil {
		t.Fatal(err)
	}
}

func TestStopDropsCallback(t *testing.T) {
	var streams []*tone
	b, out, base := newTestBackend(t, toneDecoder(2048, &streams))

	h, _ := b.Open(base + "/a.mp3")
	waitLoaded(t, h)
	done := make(chan error, 1)
	if err := h.Play(func(err error) { done <- err }); err != nil {
		t.Fatal(err)
	}
	h.Stop()
	out.pump(100)

	select {
	case err := <-done:
		t.Fatalf("stopped track reported %v", err)
	case <-time.After(50 * time.Millisecond):
	}
	if !streams[0].closed {
		t.Fatal("stream not closed on stop")
	}
}

func TestDecodeErrorSkipsSpeaker(t *testing.T) {
	failing := func(rc io.ReadCloser) (beep.StreamSeekCloser, beep.Format, error) {
		rc.Close()
		return nil, beep.Format{}, errors.New("no frame sync")
	}
	b, out, base := newTestBackend(t, failing)

	h, err := b.Open(base + "/bad.mp3")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	waitLoaded(t, h)
	if err := h.Play(func(error) {}); err == nil {
		t.Fatal("expected decode error")
	}
	if out.inits != 0 {
		t.Fatal("speaker initialized for undecodable track")
	}
}
