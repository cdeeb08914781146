package api

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	ws "nhooyr.io/websocket"

	"github.com/friendsincode/palmcards/internal/bridge"
	"github.com/friendsincode/palmcards/internal/cache"
	"github.com/friendsincode/palmcards/internal/catalog"
	"github.com/friendsincode/palmcards/internal/events"
	"github.com/friendsincode/palmcards/internal/logbuffer"
	"github.com/friendsincode/palmcards/internal/playback"
	"github.com/friendsincode/palmcards/internal/player"
)

type fakeCatalog struct {
	deck        catalog.Deck
	books       []catalog.Book
	dbs         []catalog.DatabaseInfo
	lastLimit   int
	invalidated int
}

func (f *fakeCatalog) Flashcards(ctx context.Context, episode string) (catalog.Deck, error) {
	if episode == "" {
		return f.deck, nil
	}
	cards, ok := f.deck.Cards[episode]
	if !ok {
		return catalog.Deck{Sequences: []string{}, Cards: map[string][]catalog.Card{}}, nil
	}
	return catalog.Deck{Sequences: []string{episode}, Cards: map[string][]catalog.Card{episode: cards}}, nil
}

func (f *fakeCatalog) Playlist(ctx context.Context, sequence string) ([]catalog.Card, error) {
	cards, ok := f.deck.Cards[strings.TrimPrefix(sequence, "#")]
	if !ok {
		return nil, fmt.Errorf("%w: sequence %s", catalog.ErrNotFound, sequence)
	}
	return cards, nil
}

func (f *fakeCatalog) Expression(ctx context.Context, id string) (*catalog.Expression, error) {
	if id != "exp-1" {
		return nil, fmt.Errorf("%w: %s", catalog.ErrNotFound, id)
	}
	return &catalog.Expression{ID: id, Title: "気にする", Examples: []catalog.Example{{Japanese: "気にしないで", Korean: "신경 쓰지 마"}}}, nil
}

func (f *fakeCatalog) Vocabulary(ctx context.Context, id string) (*catalog.Vocabulary, error) {
	if id == "missing" {
		return nil, fmt.Errorf("%w: %s", catalog.ErrNotFound, id)
	}
	return &catalog.Vocabulary{ID: id, Word: "word-" + id}, nil
}

func (f *fakeCatalog) VocabularyMany(ctx context.Context, ids []string) []catalog.Vocabulary {
	out := []catalog.Vocabulary{}
	for _, id := range ids {
		if id == "" || id == "missing" {
			continue
		}
		out = append(out, catalog.Vocabulary{ID: id, Word: "word-" + id})
	}
	return out
}

func (f *fakeCatalog) Books(ctx context.Context) ([]catalog.Book, error) {
	return f.books, nil
}

func (f *fakeCatalog) BookSequences(ctx context.Context, bookID string, limit int) ([]catalog.Sequence, error) {
	f.lastLimit = limit
	if bookID != "book-1" {
		return nil, fmt.Errorf("%w: %s", catalog.ErrUnknownBook, bookID)
	}
	return []catalog.Sequence{{ID: "s1", Sequence: "#197", Title: "出会い"}}, nil
}

func (f *fakeCatalog) DatabaseInfo(ctx context.Context) ([]catalog.DatabaseInfo, error) {
	return f.dbs, nil
}

func (f *fakeCatalog) Invalidate(ctx context.Context) { f.invalidated++ }

func (f *fakeCatalog) CacheStats() cache.Stats { return cache.Stats{} }

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{
		deck: catalog.Deck{
			Sequences: []string{"197", "198"},
			Cards: map[string][]catalog.Card{
				"197": {
					{ID: "c1", Japanese: "おはよう", Korean: "안녕", AudioURL: "https://cdn.test/c1.mp3", KoreanAudioURL: "https://cdn.test/c1-ko.mp3"},
					{ID: "c2", Japanese: "ありがとう", Korean: "고마워", AudioURL: "https://cdn.test/c2.mp3"},
				},
				"198": {
					{ID: "c3", Japanese: "またね", Korean: "또 봐", AudioURL: "https://cdn.test/c3.mp3"},
				},
			},
		},
		books: []catalog.Book{{ID: "book-1", BookTitle: "PALM 1"}},
		dbs:   []catalog.DatabaseInfo{{ID: "db-1", Title: "팜시리즈 대사 DB"}, {ID: "db-2", Title: "일본어 표현"}},
	}
}

type testEnv struct {
	srv     *httptest.Server
	catalog *fakeCatalog
	players *player.Manager
	clock   *playback.ManualClock
	logs    *logbuffer.Buffer
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	clock := playback.NewManualClock()
	bus := events.NewBus()
	players := player.NewManager(player.Config{}, bus, zerolog.Nop(),
		player.WithSequencerOptions(playback.WithClock(clock)),
	)
	t.Cleanup(players.Close)

	cat := newFakeCatalog()
	logs := logbuffer.New(50)
	a := New(cat, players, bus, logs, zerolog.Nop())

	r := chi.NewRouter()
	a.Routes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	return &testEnv{srv: srv, catalog: cat, players: players, clock: clock, logs: logs}
}

func (e *testEnv) do(t *testing.T, method, path, body string) (int, []byte) {
	t.Helper()
	var rd *bytes.Reader
	if body != "" {
		rd = bytes.NewReader([]byte(body))
	} else {
		rd = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, rd)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := e.srv.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp.StatusCode, buf.Bytes()
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	return v
}

func (e *testEnv) createSession(t *testing.T) string {
	t.Helper()
	status, body := e.do(t, http.MethodPost, "/api/v1/player/", "")
	if status != http.StatusCreated {
		t.Fatalf("create status = %d: %s", status, body)
	}
	resp := decode[struct {
		ID       string            `json:"id"`
		Snapshot playback.Snapshot `json:"snapshot"`
	}](t, body)
	if resp.ID == "" || resp.Snapshot.TotalCards != 0 {
		t.Fatalf("create response = %+v", resp)
	}
	return resp.ID
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	env.createSession(t)

	status, body := env.do(t, http.MethodGet, "/healthz", "")
	if status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	resp := decode[map[string]any](t, body)
	if resp["status"] != "ok" || resp["sessions"] != float64(1) {
		t.Fatalf("health = %v", resp)
	}
}

func TestFlashcards(t *testing.T) {
	env := newTestEnv(t)

	status, body := env.do(t, http.MethodGet, "/api/flashcards", "")
	if status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	resp := decode[struct {
		Success        bool                      `json:"success"`
		Data           map[string][]catalog.Card `json:"data"`
		Sequences      []string                  `json:"sequences"`
		TotalSequences int                       `json:"totalSequences"`
		TotalCards     int                       `json:"totalCards"`
	}](t, body)
	if !resp.Success || resp.TotalSequences != 2 || resp.TotalCards != 3 || len(resp.Data["197"]) != 2 {
		t.Fatalf("flashcards = %+v", resp)
	}

	_, body = env.do(t, http.MethodGet, "/api/flashcards?episode=198", "")
	one := decode[map[string]any](t, body)
	if one["totalSequences"] != float64(1) {
		t.Fatalf("filtered flashcards = %v", one)
	}
}

func TestCatalogNotFound(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		path   string
		status int
		error  string
	}{
		{"/api/expression/nope", http.StatusNotFound, "Expression card not found"},
		{"/api/n1-vocabulary/missing", http.StatusNotFound, "N1 vocabulary not found"},
		{"/api/book/other/sequences", http.StatusNotFound, "Book not found"},
		{"/api/book/book-1/sequences?limit=abc", http.StatusBadRequest, "invalid_limit"},
	}
	for _, tt := range tests {
		status, body := env.do(t, http.MethodGet, tt.path, "")
		if status != tt.status {
			t.Errorf("%s status = %d, want %d", tt.path, status, tt.status)
			continue
		}
		if got := decode[map[string]string](t, body)["error"]; got != tt.error {
			t.Errorf("%s error = %q, want %q", tt.path, got, tt.error)
		}
	}
}

func TestCatalogReads(t *testing.T) {
	env := newTestEnv(t)

	status, body := env.do(t, http.MethodGet, "/api/expression/exp-1", "")
	if status != http.StatusOK || decode[catalog.Expression](t, body).Title != "気にする" {
		t.Fatalf("expression = %d %s", status, body)
	}

	_, body = env.do(t, http.MethodGet, "/api/n1-vocabulary-multiple/a,missing,b", "")
	if vocab := decode[[]catalog.Vocabulary](t, body); len(vocab) != 2 {
		t.Fatalf("vocabulary = %+v", vocab)
	}

	_, body = env.do(t, http.MethodGet, "/api/book/book-1/sequences?limit=3", "")
	if seqs := decode[[]catalog.Sequence](t, body); len(seqs) != 1 || env.catalog.lastLimit != 3 {
		t.Fatalf("sequences = %+v limit = %d", seqs, env.catalog.lastLimit)
	}

	_, body = env.do(t, http.MethodGet, "/api/episodes", "")
	if books := decode[[]catalog.Book](t, body); len(books) != 1 || books[0].ID != "book-1" {
		t.Fatalf("episodes = %+v", books)
	}

	_, body = env.do(t, http.MethodGet, "/api/database-info", "")
	info := decode[map[string]any](t, body)
	if info["id"] != "db-1" || info["title"] != "팜시리즈 대사 DB" {
		t.Fatalf("database info = %v", info)
	}

	if status, _ := env.do(t, http.MethodPost, "/api/cache/clear", ""); status != http.StatusOK || env.catalog.invalidated != 1 {
		t.Fatalf("cache clear status = %d invalidated = %d", status, env.catalog.invalidated)
	}
}

func TestPlayerCommands(t *testing.T) {
	env := newTestEnv(t)
	id := env.createSession(t)
	base := "/api/v1/player/" + id

	_, body := env.do(t, http.MethodPost, base+"/playlist", `{"label":"#9","cards":[
		{"japanese":"一","korean":"일","audioUrl":"https://cdn.test/1.mp3"},
		{"japanese":"二","korean":"이","audioUrl":"https://cdn.test/2.mp3"}]}`)
	ack := decode[bridge.Ack](t, body)
	if !ack.Success || ack.Cards == nil || *ack.Cards != 2 {
		t.Fatalf("setPlaylist ack = %+v", ack)
	}

	_, body = env.do(t, http.MethodPost, base+"/commands", `{"action":"play"}`)
	if ack := decode[bridge.Ack](t, body); !ack.Success || ack.Action != bridge.ActionPlay {
		t.Fatalf("play ack = %+v", ack)
	}

	_, body = env.do(t, http.MethodPost, base+"/commands", `{"action":"goTo","index":7}`)
	if ack := decode[bridge.Ack](t, body); ack.Success || ack.Message != "index 7 out of range" {
		t.Fatalf("goTo ack = %+v", ack)
	}

	_, body = env.do(t, http.MethodPost, base+"/commands", `{"action":"setMode","mode":"loud"}`)
	if ack := decode[bridge.Ack](t, body); ack.Success {
		t.Fatalf("invalid mode accepted: %+v", ack)
	}

	_, body = env.do(t, http.MethodPost, base+"/commands", `{not json`)
	if ack := decode[bridge.Ack](t, body); ack.Success || ack.Action != "unknown" {
		t.Fatalf("malformed ack = %+v", ack)
	}

	status, body := env.do(t, http.MethodGet, base+"/state", "")
	state := decode[bridge.Ack](t, body)
	if status != http.StatusOK || state.State == nil {
		t.Fatalf("state = %d %s", status, body)
	}
	if !state.State.IsPlaying || state.State.TotalCards != 2 || state.State.CurrentIndex != 0 {
		t.Fatalf("snapshot = %+v", *state.State)
	}

	if status, _ := env.do(t, http.MethodDelete, base, ""); status != http.StatusOK {
		t.Fatalf("delete status = %d", status)
	}
	if status, _ := env.do(t, http.MethodGet, base+"/state", ""); status != http.StatusNotFound {
		t.Fatalf("state after delete = %d", status)
	}
}

func TestPlayerPlaylistFromCatalog(t *testing.T) {
	env := newTestEnv(t)
	id := env.createSession(t)
	base := "/api/v1/player/" + id

	_, body := env.do(t, http.MethodPost, base+"/playlist", `{"sequence":"197"}`)
	if ack := decode[bridge.Ack](t, body); !ack.Success || *ack.Cards != 2 {
		t.Fatalf("ack = %+v", ack)
	}
	s, err := env.players.Get(id)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if snap := s.Snapshot(); snap.Sequence != "#197" || snap.CurrentCard == nil || snap.CurrentCard.SecondaryAudioURL == "" {
		t.Fatalf("snapshot = %+v", snap)
	}

	if status, _ := env.do(t, http.MethodPost, base+"/playlist", `{"episode":"404"}`); status != http.StatusNotFound {
		t.Fatalf("unknown sequence status = %d", status)
	}
	if status, _ := env.do(t, http.MethodPost, base+"/playlist", `{}`); status != http.StatusBadRequest {
		t.Fatalf("empty body status = %d", status)
	}
	_, body = env.do(t, http.MethodPost, base+"/playlist", `{"cards":[]}`)
	if ack := decode[bridge.Ack](t, body); !ack.Success || *ack.Cards != 0 {
		t.Fatalf("empty playlist ack = %+v", ack)
	}
}

func TestPlayerLifecycle(t *testing.T) {
	env := newTestEnv(t)
	id := env.createSession(t)
	base := "/api/v1/player/" + id

	for _, phase := range []string{"background", "foreground"} {
		status, body := env.do(t, http.MethodPost, base+"/lifecycle/"+phase, "")
		if ack := decode[bridge.Ack](t, body); status != http.StatusOK || !ack.Success || ack.Action != phase {
			t.Fatalf("%s = %d %+v", phase, status, ack)
		}
	}
	s, _ := env.players.Get(id)
	if s.Bridge().Background() {
		t.Fatal("session still backgrounded")
	}

	if status, _ := env.do(t, http.MethodPost, base+"/lifecycle/sleep", ""); status != http.StatusBadRequest {
		t.Fatalf("unknown phase status = %d", status)
	}
	if status, _ := env.do(t, http.MethodPost, "/api/v1/player/nope/lifecycle/background", ""); status != http.StatusNotFound {
		t.Fatalf("unknown session status = %d", status)
	}
}

type wireFrame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func TestPlayerWebSocket(t *testing.T) {
	env := newTestEnv(t)
	id := env.createSession(t)
	base := "/api/v1/player/" + id
	env.do(t, http.MethodPost, base+"/playlist", `{"sequence":"198"}`)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(env.srv.URL, "http") + base + "/ws"
	conn, _, err := ws.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(ws.StatusNormalClosure, "")

	read := func() wireFrame {
		t.Helper()
		_, data, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		return decode[wireFrame](t, data)
	}

	if f := read(); f.Type != player.FrameSnapshot {
		t.Fatalf("first frame = %s", f.Type)
	}

	if err := conn.Write(ctx, ws.MessageText, []byte(`{"type":"command","payload":{"action":"play"}}`)); err != nil {
		t.Fatalf("write: %v", err)
	}

	var acked bool
	var played player.Directive
	for !acked || played.Handle == "" {
		f := read()
		switch f.Type {
		case player.FrameAck:
			ack := decode[bridge.Ack](t, f.Payload)
			if !ack.Success || ack.Action != bridge.ActionPlay {
				t.Fatalf("ack = %+v", ack)
			}
			acked = true
		case player.FrameAudio:
			if d := decode[player.Directive](t, f.Payload); d.Op == player.OpPlay {
				played = d
			}
		}
	}
	if played.URL != "https://cdn.test/c3.mp3" {
		t.Fatalf("played = %+v", played)
	}

	if status, _ := env.do(t, http.MethodDelete, base, ""); status != http.StatusOK {
		t.Fatalf("delete status = %d", status)
	}
	for {
		_, _, err := conn.Read(ctx)
		if err != nil {
			if ws.CloseStatus(err) != ws.StatusNormalClosure {
				t.Fatalf("close status = %v (%v)", ws.CloseStatus(err), err)
			}
			return
		}
	}
}

func TestSystemLogs(t *testing.T) {
	env := newTestEnv(t)
	now := time.Now()
	env.logs.Add(logbuffer.LogEntry{Timestamp: now, Level: "info", Message: "session created", Component: "player-manager"})
	env.logs.Add(logbuffer.LogEntry{Timestamp: now, Level: "error", Message: "track failed", Component: "playback"})

	_, body := env.do(t, http.MethodGet, "/api/v1/system/logs?level=error", "")
	resp := decode[struct {
		Entries []logbuffer.LogEntry `json:"entries"`
		Count   int                  `json:"count"`
	}](t, body)
	if resp.Count != 1 || resp.Entries[0].Message != "track failed" {
		t.Fatalf("logs = %+v", resp)
	}

	if status, _ := env.do(t, http.MethodDelete, "/api/v1/system/logs", ""); status != http.StatusOK {
		t.Fatalf("clear status = %d", status)
	}
	if n := len(env.logs.GetAll()); n != 0 {
		t.Fatalf("entries after clear = %d", n)
	}
}

func TestParseEventTypes(t *testing.T) {
	got := parseEventTypes(" playback.state, ,playback.error")
	if len(got) != 2 || got[0] != events.EventPlaybackState || got[1] != events.EventPlaybackError {
		t.Fatalf("parseEventTypes = %v", got)
	}
}
