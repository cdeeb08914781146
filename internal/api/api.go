/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	ws "nhooyr.io/websocket"

	"github.com/friendsincode/palmcards/internal/cache"
	"github.com/friendsincode/palmcards/internal/catalog"
	"github.com/friendsincode/palmcards/internal/events"
	"github.com/friendsincode/palmcards/internal/logbuffer"
	"github.com/friendsincode/palmcards/internal/player"
	"github.com/friendsincode/palmcards/internal/telemetry"
	"github.com/friendsincode/palmcards/internal/version"
)

// Catalog is the read side of the flashcard catalog.
type Catalog interface {
	Flashcards(ctx context.Context, episode string) (catalog.Deck, error)
	Playlist(ctx context.Context, sequence string) ([]catalog.Card, error)
	Expression(ctx context.Context, id string) (*catalog.Expression, error)
	Vocabulary(ctx context.Context, id string) (*catalog.Vocabulary, error)
	VocabularyMany(ctx context.Context, ids []string) []catalog.Vocabulary
	Books(ctx context.Context) ([]catalog.Book, error)
	BookSequences(ctx context.Context, bookID string, limit int) ([]catalog.Sequence, error)
	DatabaseInfo(ctx context.Context) ([]catalog.DatabaseInfo, error)
	Invalidate(ctx context.Context)
	CacheStats() cache.Stats
}

// API exposes HTTP handlers.
type API struct {
	catalog   Catalog
	players   *player.Manager
	bus       *events.Bus
	logBuffer *logbuffer.Buffer
	logger    zerolog.Logger
}

// New creates the API router wrapper. logBuf may be nil.
func New(cat Catalog, players *player.Manager, bus *events.Bus, logBuf *logbuffer.Buffer, logger zerolog.Logger) *API {
	return &API{
		catalog:   cat,
		players:   players,
		bus:       bus,
		logBuffer: logBuf,
		logger:    logger.With().Str("component", "api").Logger(),
	}
}

// Routes registers every endpoint on r.
func (a *API) Routes(r chi.Router) {
	r.Get("/healthz", a.handleHealth)

	r.Route("/api", func(r chi.Router) {
		// Catalog, under the paths the web player already uses
		r.Get("/flashcards", a.handleFlashcards)
		r.Get("/episodes", a.handleEpisodes)
		r.Get("/database-info", a.handleDatabaseInfo)
		r.Get("/expression/{id}", a.handleExpression)
		r.Get("/n1-vocabulary/{id}", a.handleVocabulary)
		r.Get("/n1-vocabulary-multiple/{ids}", a.handleVocabularyMany)
		r.Get("/books", a.handleBooks)
		r.Get("/book/{bookID}/sequences", a.handleBookSequences)
		r.Get("/cache/stats", a.handleCacheStats)
		r.Post("/cache/clear", a.handleCacheClear)

		r.Route("/v1", func(r chi.Router) {
			r.Get("/health", a.handleHealth)
			r.Get("/events", a.handleEvents)

			r.Route("/player", func(r chi.Router) {
				r.Post("/", a.handlePlayerCreate)
				r.Route("/{sessionID}", func(r chi.Router) {
					r.Delete("/", a.handlePlayerDelete)
					r.Get("/state", a.handlePlayerState)
					r.Post("/playlist", a.handlePlayerPlaylist)
					r.Post("/commands", a.handlePlayerCommand)
					r.Post("/lifecycle/{phase}", a.handlePlayerLifecycle)
					r.Get("/ws", a.handlePlayerWebSocket)
				})
			})

			r.Route("/system", func(r chi.Router) {
				r.Get("/logs", a.handleSystemLogs)
				r.Get("/logs/stats", a.handleLogStats)
				r.Delete("/logs", a.handleClearLogs)
			})
		})
	})
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"version":  version.Version,
		"sessions": a.players.Len(),
	})
}

func (a *API) handleEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	conn, err := ws.Accept(w, r, &ws.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		a.logger.Error().Err(err).Msg("websocket accept failed")
		return
	}
	defer conn.Close(ws.StatusInternalError, "server error")

	telemetry.APIWebSocketConnections.Inc()
	defer telemetry.APIWebSocketConnections.Dec()

	eventTypes := parseEventTypes(r.URL.Query().Get("types"))
	if len(eventTypes) == 0 {
		eventTypes = events.AllTypes
	}

	merged := make(chan eventFrame, 64)
	subscribers := make([]events.Subscriber, 0, len(eventTypes))
	for _, eventType := range eventTypes {
		sub := a.bus.Subscribe(eventType)
		subscribers = append(subscribers, sub)
		go func(t events.EventType, sub events.Subscriber) {
			for payload := range sub {
				select {
				case merged <- eventFrame{Type: t, Payload: payload}:
				case <-ctx.Done():
					return
				}
			}
		}(eventType, sub)
	}
	defer func() {
		for i, eventType := range eventTypes {
			a.bus.Unsubscribe(eventType, subscribers[i])
		}
	}()

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.Close(ws.StatusNormalClosure, "context cancelled")
			return
		case <-ticker.C:
			if err := conn.Write(ctx, ws.MessageText, []byte(`{"type":"ping"}`)); err != nil {
				a.logger.Debug().Err(err).Msg("websocket ping failed")
				return
			}
		case ev := <-merged:
			if err := writeFrame(ctx, conn, ev); err != nil {
				a.logger.Debug().Err(err).Msg("websocket write failed")
				return
			}
		}
	}
}

type eventFrame struct {
	Type    events.EventType `json:"type"`
	Payload events.Payload   `json:"payload"`
}

func writeFrame(ctx context.Context, conn *ws.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return conn.Write(ctx, ws.MessageText, data)
}

func (a *API) handleSystemLogs(w http.ResponseWriter, r *http.Request) {
	if a.logBuffer == nil {
		writeError(w, http.StatusServiceUnavailable, "log_buffer_unavailable")
		return
	}

	q := r.URL.Query()
	params := logbuffer.QueryParams{
		Level:      q.Get("level"),
		Component:  q.Get("component"),
		Session:    q.Get("session"),
		Search:     q.Get("search"),
		Descending: true,
		Limit:      500,
	}
	if seq := q.Get("sequence"); seq != "" && params.Search == "" {
		params.Search = seq
	}
	if since := q.Get("since"); since != "" {
		if t, err := time.Parse(time.RFC3339, since); err == nil {
			params.Since = t
		}
	}
	if limit := q.Get("limit"); limit != "" {
		if n, err := strconv.Atoi(limit); err == nil && n > 0 {
			params.Limit = n
		}
	}
	if q.Get("order") == "asc" {
		params.Descending = false
	}

	entries := a.logBuffer.Query(params)
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"count":   len(entries),
	})
}

func (a *API) handleLogStats(w http.ResponseWriter, r *http.Request) {
	if a.logBuffer == nil {
		writeError(w, http.StatusServiceUnavailable, "log_buffer_unavailable")
		return
	}
	writeJSON(w, http.StatusOK, a.logBuffer.Stats())
}

func (a *API) handleClearLogs(w http.ResponseWriter, r *http.Request) {
	if a.logBuffer == nil {
		writeError(w, http.StatusServiceUnavailable, "log_buffer_unavailable")
		return
	}
	a.logBuffer.Clear()
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func parseEventTypes(raw string) []events.EventType {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]events.EventType, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, events.EventType(part))
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}
