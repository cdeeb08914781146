/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	ws "nhooyr.io/websocket"

	"github.com/friendsincode/palmcards/internal/bridge"
	"github.com/friendsincode/palmcards/internal/catalog"
	"github.com/friendsincode/palmcards/internal/playback"
	"github.com/friendsincode/palmcards/internal/player"
	"github.com/friendsincode/palmcards/internal/telemetry"
	"github.com/friendsincode/palmcards/internal/validation"
)

const maxCommandBytes = 1 << 20

// playlistRequest either carries the cards inline or names a sequence to
// load from the catalog. An empty cards array is a valid, empty playlist.
type playlistRequest struct {
	Label    string          `json:"label"`
	Cards    []playback.Card `json:"cards" validate:"required_without_all=Episode Sequence"`
	Episode  string          `json:"episode"`
	Sequence string          `json:"sequence"`
}

func (a *API) handlePlayerCreate(w http.ResponseWriter, r *http.Request) {
	s := a.players.Create()
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":       s.ID,
		"snapshot": s.Snapshot(),
	})
}

func (a *API) handlePlayerDelete(w http.ResponseWriter, r *http.Request) {
	if err := a.players.Delete(chi.URLParam(r, "sessionID")); err != nil {
		a.sessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (a *API) handlePlayerState(w http.ResponseWriter, r *http.Request) {
	s, ok := a.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.Bridge().HandleCommand(bridge.Command{Action: bridge.ActionGetState}))
}

func (a *API) handlePlayerPlaylist(w http.ResponseWriter, r *http.Request) {
	s, ok := a.session(w, r)
	if !ok {
		return
	}

	var req playlistRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxCommandBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if err := validation.Struct(req); err != nil {
		writeJSON(w, http.StatusBadRequest, bridge.Ack{Action: bridge.ActionSetPlaylist, Message: err.Error()})
		return
	}

	cards, label := req.Cards, req.Label
	if cards == nil {
		sequence := strings.TrimSpace(req.Sequence)
		if sequence == "" {
			sequence = strings.TrimSpace(req.Episode)
		}
		loaded, err := a.catalog.Playlist(r.Context(), sequence)
		if errors.Is(err, catalog.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Sequence not found")
			return
		}
		if err != nil {
			a.catalogError(w, err, "playlist")
			return
		}
		cards = playback.FromCatalog(loaded)
		if label == "" {
			label = catalog.FormatSequence(sequence)
		}
	}

	writeJSON(w, http.StatusOK, s.Bridge().SetPlaylist(cards, label))
}

func (a *API) handlePlayerCommand(w http.ResponseWriter, r *http.Request) {
	s, ok := a.session(w, r)
	if !ok {
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxCommandBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body")
		return
	}
	writeJSON(w, http.StatusOK, s.Bridge().HandleJSON(body))
}

func (a *API) handlePlayerLifecycle(w http.ResponseWriter, r *http.Request) {
	s, ok := a.session(w, r)
	if !ok {
		return
	}

	phase := chi.URLParam(r, "phase")
	switch phase {
	case player.FrameBackground:
		s.Bridge().OnBackgroundEnter()
	case player.FrameForeground:
		s.Bridge().OnForegroundEnter()
	default:
		writeError(w, http.StatusBadRequest, "unknown_phase")
		return
	}
	writeJSON(w, http.StatusOK, bridge.Ack{Success: true, Action: phase})
}

// handlePlayerWebSocket streams session frames to the client and feeds
// client frames back into the session. Replies share the writer loop.
func (a *API) handlePlayerWebSocket(w http.ResponseWriter, r *http.Request) {
	s, ok := a.session(w, r)
	if !ok {
		return
	}

	conn, err := ws.Accept(w, r, &ws.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		a.logger.Error().Err(err).Msg("websocket accept failed")
		return
	}
	defer conn.Close(ws.StatusInternalError, "server error")

	telemetry.APIWebSocketConnections.Inc()
	defer telemetry.APIWebSocketConnections.Dec()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	frames, unsubscribe := s.Subscribe()
	defer unsubscribe()

	replies := make(chan player.Frame, 16)
	readErr := make(chan error, 1)
	go func() {
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				readErr <- err
				return
			}
			reply, ok := s.HandleFrame(data)
			if !ok {
				continue
			}
			select {
			case replies <- reply:
			case <-ctx.Done():
				return
			}
		}
	}()

	logger := a.logger.With().Str("session_id", s.ID).Logger()
	logger.Debug().Msg("player websocket attached")

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.Close(ws.StatusNormalClosure, "context cancelled")
			return
		case err := <-readErr:
			if ws.CloseStatus(err) != ws.StatusNormalClosure && ws.CloseStatus(err) != ws.StatusGoingAway {
				logger.Debug().Err(err).Msg("player websocket read ended")
			}
			return
		case f, open := <-frames:
			if !open {
				if s.Closed() {
					conn.Close(ws.StatusNormalClosure, "session closed")
				} else {
					conn.Close(ws.StatusTryAgainLater, "client too slow")
				}
				return
			}
			if err := writeFrame(ctx, conn, f); err != nil {
				logger.Debug().Err(err).Msg("websocket write failed")
				return
			}
		case f := <-replies:
			if err := writeFrame(ctx, conn, f); err != nil {
				logger.Debug().Err(err).Msg("websocket write failed")
				return
			}
		case <-ticker.C:
			if err := conn.Ping(ctx); err != nil {
				logger.Debug().Err(err).Msg("websocket ping failed")
				return
			}
		}
	}
}

func (a *API) session(w http.ResponseWriter, r *http.Request) (*player.Session, bool) {
	s, err := a.players.Get(chi.URLParam(r, "sessionID"))
	if err != nil {
		a.sessionError(w, err)
		return nil, false
	}
	return s, true
}

func (a *API) sessionError(w http.ResponseWriter, err error) {
	if errors.Is(err, player.ErrSessionNotFound) {
		writeError(w, http.StatusNotFound, "session_not_found")
		return
	}
	a.logger.Error().Err(err).Msg("player session lookup failed")
	writeError(w, http.StatusInternalServerError, "server_error")
}
