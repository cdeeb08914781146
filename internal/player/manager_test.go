package player

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/palmcards/internal/bridge"
	"github.com/friendsincode/palmcards/internal/events"
	"github.com/friendsincode/palmcards/internal/playback"
)

type fakeNow struct {
	mu sync.Mutex
	t  time.Time
}

func (f *fakeNow) now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeNow) add(d time.Duration) {
	f.mu.Lock()
	f.t = f.t.Add(d)
	f.mu.Unlock()
}

func newTestManager(t *testing.T, bus *events.Bus) (*Manager, *playback.ManualClock, *fakeNow) {
	t.Helper()
	clock := playback.NewManualClock()
	now := &fakeNow{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	m := NewManager(Config{IdleTTL: 10 * time.Minute}, bus, zerolog.Nop(),
		WithNow(now.now),
		WithSequencerOptions(playback.WithClock(clock)),
	)
	t.Cleanup(m.Close)
	return m, clock, now
}

func drain(ch <-chan Frame) []Frame {
	var out []Frame
	for {
		select {
		case f, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, f)
		default:
			return out
		}
	}
}

func lastDirective(t *testing.T, frames []Frame, op string) Directive {
	t.Helper()
	for i := len(frames) - 1; i >= 0; i-- {
		if d, ok := frames[i].Payload.(Directive); ok && d.Op == op {
			return d
		}
	}
	t.Fatalf("no %q directive in %d frames", op, len(frames))
	return Directive{}
}

func lastSnapshot(t *testing.T, frames []Frame) playback.Snapshot {
	t.Helper()
	for i := len(frames) - 1; i >= 0; i-- {
		if s, ok := frames[i].Payload.(playback.Snapshot); ok {
			return s
		}
	}
	t.Fatal("no snapshot frame")
	return playback.Snapshot{}
}

// report builds the client's ended or error frame for a play directive.
func report(kind string, play Directive, message string) []byte {
	return []byte(fmt.Sprintf(`{"type":%q,"payload":{"handle":%q,"play":%d,"message":%q}}`, kind, play.Handle, play.Play, message))
}

func twoCards() []playback.Card {
	return []playback.Card{
		{ID: "p1", DisplayText: "はい", TranslationText: "네", PrimaryAudioURL: "https://cdn.test/a.mp3"},
		{ID: "p2", DisplayText: "いいえ", TranslationText: "아니요", PrimaryAudioURL: "https://cdn.test/b.mp3"},
	}
}

func TestManagerLifecycle(t *testing.T) {
	bus := events.NewBus()
	created := bus.Subscribe(events.EventSessionCreated)
	closed := bus.Subscribe(events.EventSessionClosed)
	m, _, _ := newTestManager(t, bus)

	s := m.Create()
	if s.ID == "" || m.Len() != 1 {
		t.Fatalf("session = %+v, len = %d", s, m.Len())
	}
	select {
	case p := <-created:
		if p["session_id"] != s.ID {
			t.Fatalf("created payload = %v", p)
		}
	default:
		t.Fatal("no session.created event")
	}

	got, err := m.Get(s.ID)
	if err != nil || got != s {
		t.Fatalf("Get = %v, %v", got, err)
	}

	if err := m.Delete(s.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := m.Get(s.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("Get after delete err = %v", err)
	}
	if err := m.Delete(s.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("second Delete err = %v", err)
	}
	select {
	case p := <-closed:
		if p["reason"] != "deleted" {
			t.Fatalf("closed payload = %v", p)
		}
	default:
		t.Fatal("no session.closed event")
	}
}

func TestManagerReapsIdleSessions(t *testing.T) {
	m, _, now := newTestManager(t, nil)
	idle := m.Create()
	watched := m.Create()
	active := m.Create()

	_, cancel := watched.Subscribe()
	defer cancel()

	now.add(9 * time.Minute)
	if _, err := m.Get(active.ID); err != nil {
		t.Fatal(err)
	}
	now.add(2 * time.Minute)

	if n := m.Reap(); n != 1 {
		t.Fatalf("reaped %d, want 1", n)
	}
	if _, err := m.Get(idle.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Fatal("idle session survived")
	}
	for _, s := range []*Session{watched, active} {
		if _, err := m.Get(s.ID); err != nil {
			t.Fatalf("session %s reaped: %v", s.ID, err)
		}
	}
}

func TestSessionRemotePlayback(t *testing.T) {
	m, clock, _ := newTestManager(t, nil)
	s := m.Create()
	frames, cancel := s.Subscribe()
	defer cancel()

	s.Bridge().SetPlaylist(twoCards(), "003")
	got := drain(frames)
	if first := got[0]; first.Type != FrameSnapshot {
		t.Fatalf("first frame = %+v, want snapshot", first)
	}
	if load := lastDirective(t, got, OpLoad); load.URL != "https://cdn.test/b.mp3" {
		t.Fatalf("last preload = %+v", load)
	}
	if s.Remote().Len() != 2 {
		t.Fatalf("open handles = %d, want 2", s.Remote().Len())
	}

	reply, ok := s.HandleFrame([]byte(`{"type":"command","payload":{"action":"play"}}`))
	if !ok || reply.Type != FrameAck {
		t.Fatalf("reply = %+v", reply)
	}
	play := lastDirective(t, drain(frames), OpPlay)
	if play.URL != "https://cdn.test/a.mp3" {
		t.Fatalf("play = %+v", play)
	}

	if _, ok := s.HandleFrame(report("ended", play, "")); ok {
		t.Fatal("ended report produced a reply")
	}
	if snap := lastSnapshot(t, drain(frames)); snap.State != playback.StateInterTrackDelay || snap.DelayMS != 1000 {
		t.Fatalf("after ended = %+v", snap)
	}

	clock.Advance(playback.DelayBetweenCards)
	got = drain(frames)
	if next := lastDirective(t, got, OpPlay); next.URL != "https://cdn.test/b.mp3" {
		t.Fatalf("next play = %+v", next)
	}
	if snap := lastSnapshot(t, got); snap.CurrentIndex != 1 || !snap.IsPlaying {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestSessionErrorReportFailsForward(t *testing.T) {
	bus := events.NewBus()
	faults := bus.Subscribe(events.EventPlaybackError)
	m, _, _ := newTestManager(t, bus)
	s := m.Create()
	frames, cancel := s.Subscribe()
	defer cancel()

	s.Bridge().SetPlaylist(twoCards(), "003")
	s.HandleFrame([]byte(`{"type":"command","payload":{"action":"play"}}`))
	play := lastDirective(t, drain(frames), OpPlay)

	s.HandleFrame(report("error", play, "NotAllowedError"))

	if snap := s.Snapshot(); snap.CurrentIndex != 1 || snap.State != playback.StatePlayingPrimary {
		t.Fatalf("snapshot = %+v", snap)
	}
	select {
	case p := <-faults:
		if p["session_id"] != s.ID || p["error"] != "NotAllowedError" || p["index"] != 0 {
			t.Fatalf("fault payload = %v", p)
		}
	default:
		t.Fatal("no playback.error event")
	}
}

func TestSessionHandleFrameErrors(t *testing.T) {
	m, _, _ := newTestManager(t, nil)
	s := m.Create()

	tests := []struct {
		name string
		data string
	}{
		{"malformed", `{"type":`},
		{"unknown type", `{"type":"seek"}`},
		{"report without handle", `{"type":"ended","payload":{}}`},
		{"bad command", `{"type":"command","payload":{"action":"goTo"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reply, ok := s.HandleFrame([]byte(tt.data))
			if !ok || reply.Type != FrameAck {
				t.Fatalf("reply = %+v, %v", reply, ok)
			}
			if ack, ok := reply.Payload.(bridge.Ack); !ok || ack.Success || ack.Message == "" {
				t.Fatalf("ack = %+v", reply.Payload)
			}
		})
	}

	if _, ok := s.HandleFrame([]byte(`{"type":"ended","payload":{"handle":"nope"}}`)); ok {
		t.Fatal("unknown handle produced a reply")
	}
}

func TestSessionLifecycleFrames(t *testing.T) {
	m, _, _ := newTestManager(t, nil)
	s := m.Create()
	frames, cancel := s.Subscribe()
	defer cancel()

	s.Bridge().SetPlaylist(twoCards(), "003")
	s.HandleFrame([]byte(`{"type":"command","payload":{"action":"play"}}`))
	drain(frames)

	if _, ok := s.HandleFrame([]byte(`{"type":"background"}`)); !ok {
		t.Fatal("background produced no ack")
	}
	var sawNowPlaying bool
	for _, f := range drain(frames) {
		if f.Type == FrameNowPlaying {
			sawNowPlaying = true
		}
	}
	if !sawNowPlaying {
		t.Fatal("no now_playing frame on background")
	}
	if !s.Bridge().Background() {
		t.Fatal("bridge not backgrounded")
	}

	s.HandleFrame([]byte(`{"type":"foreground"}`))
	if s.Bridge().Background() {
		t.Fatal("bridge still backgrounded")
	}
	if snap := lastSnapshot(t, drain(frames)); !snap.IsPlaying {
		t.Fatalf("resync snapshot = %+v", snap)
	}
}

func TestDeleteClosesSubscribers(t *testing.T) {
	m, _, _ := newTestManager(t, nil)
	s := m.Create()
	frames, cancel := s.Subscribe()
	defer cancel()

	s.Bridge().SetPlaylist(twoCards(), "003")
	if err := m.Delete(s.ID); err != nil {
		t.Fatal(err)
	}

	for range frames {
	}
	if s.Remote().Len() != 0 {
		t.Fatalf("handles left open: %d", s.Remote().Len())
	}
	late, _ := s.Subscribe()
	if _, ok := <-late; !ok {
		t.Fatal("late subscriber should still get the final snapshot")
	}
}

func TestSessionIgnoresEndedFromEarlierPlay(t *testing.T) {
	m, clock, _ := newTestManager(t, nil)
	s := m.Create()
	frames, cancel := s.Subscribe()
	defer cancel()

	s.Bridge().SetPlaylist(twoCards(), "003")
	s.HandleFrame([]byte(`{"type":"command","payload":{"action":"play"}}`))
	first := lastDirective(t, drain(frames), OpPlay)

	s.HandleFrame([]byte(`{"type":"command","payload":{"action":"previous"}}`))
	restarted := lastDirective(t, drain(frames), OpPlay)
	if restarted.Handle != first.Handle || restarted.Play == first.Play {
		t.Fatalf("restart = %+v, first = %+v", restarted, first)
	}

	s.HandleFrame(report("ended", first, ""))
	clock.Advance(playback.DelayBetweenCards)
	if snap := s.Snapshot(); snap.CurrentIndex != 0 || snap.State != playback.StatePlayingPrimary {
		t.Fatalf("late ended advanced playback: %+v", snap)
	}

	s.HandleFrame(report("ended", restarted, ""))
	if snap := s.Snapshot(); snap.State != playback.StateInterTrackDelay {
		t.Fatalf("current ended not applied: %+v", snap)
	}
}

func TestSlowSubscriberDisconnectedOnAudio(t *testing.T) {
	m, _, _ := newTestManager(t, nil)
	s := m.Create()
	slow, cancel := s.Subscribe()
	defer cancel()

	for i := 0; i < subscriberBuffer; i++ {
		s.UpdatePlaybackState(s.Snapshot())
	}
	if s.Subscribers() != 1 {
		t.Fatal("full subscriber dropped for a snapshot")
	}

	s.Bridge().SetPlaylist(twoCards(), "003")
	if s.Subscribers() != 0 {
		t.Fatalf("subscribers = %d, want slow subscriber disconnected", s.Subscribers())
	}
	n := 0
	for range slow {
		n++
	}
	if n == 0 {
		t.Fatal("queued frames lost on disconnect")
	}
	if s.Closed() {
		t.Fatal("session closed with its subscriber")
	}

	fresh, cancelFresh := s.Subscribe()
	defer cancelFresh()
	var loads int
	for _, f := range drain(fresh) {
		if d, ok := f.Payload.(Directive); ok && d.Op == OpLoad {
			loads++
		}
	}
	if loads != 2 {
		t.Fatalf("replayed %d loads, want 2", loads)
	}
}

func TestSubscribeReplaysOnlyToNewSubscriber(t *testing.T) {
	m, _, _ := newTestManager(t, nil)
	s := m.Create()
	first, cancel := s.Subscribe()
	defer cancel()

	s.Bridge().SetPlaylist(twoCards(), "003")
	s.HandleFrame([]byte(`{"type":"command","payload":{"action":"play"}}`))
	drain(first)

	second, cancelSecond := s.Subscribe()
	defer cancelSecond()
	play := lastDirective(t, drain(second), OpPlay)
	if play.URL != "https://cdn.test/a.mp3" || play.Play != 1 {
		t.Fatalf("replayed play = %+v", play)
	}
	if got := drain(first); len(got) != 0 {
		t.Fatalf("existing subscriber got %d replayed frames", len(got))
	}
}
