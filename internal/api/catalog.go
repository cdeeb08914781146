/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/friendsincode/palmcards/internal/catalog"
	"github.com/friendsincode/palmcards/internal/notion"
)

func (a *API) handleFlashcards(w http.ResponseWriter, r *http.Request) {
	episode := strings.TrimSpace(r.URL.Query().Get("episode"))
	a.logger.Debug().Str("episode", episode).Msg("flashcards requested")

	deck, err := a.catalog.Flashcards(r.Context(), episode)
	if err != nil {
		a.catalogError(w, err, "flashcards")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":        true,
		"data":           deck.Cards,
		"sequences":      deck.Sequences,
		"totalSequences": len(deck.Sequences),
		"totalCards":     deck.Total(),
	})
}

// handleEpisodes is the old name of the books listing.
func (a *API) handleEpisodes(w http.ResponseWriter, r *http.Request) {
	a.handleBooks(w, r)
}

func (a *API) handleDatabaseInfo(w http.ResponseWriter, r *http.Request) {
	dbs, err := a.catalog.DatabaseInfo(r.Context())
	if err != nil {
		a.catalogError(w, err, "database info")
		return
	}

	resp := map[string]any{"title": nil, "id": nil, "databases": dbs}
	if len(dbs) > 0 {
		title := dbs[0].Title
		if title == "" {
			title = "Untitled Database"
		}
		resp["title"] = title
		resp["id"] = dbs[0].ID
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleExpression(w http.ResponseWriter, r *http.Request) {
	exp, err := a.catalog.Expression(r.Context(), chi.URLParam(r, "id"))
	if isNotFound(err) {
		writeError(w, http.StatusNotFound, "Expression card not found")
		return
	}
	if err != nil {
		a.catalogError(w, err, "expression")
		return
	}
	writeJSON(w, http.StatusOK, exp)
}

func (a *API) handleVocabulary(w http.ResponseWriter, r *http.Request) {
	v, err := a.catalog.Vocabulary(r.Context(), chi.URLParam(r, "id"))
	if isNotFound(err) {
		writeError(w, http.StatusNotFound, "N1 vocabulary not found")
		return
	}
	if err != nil {
		a.catalogError(w, err, "vocabulary")
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (a *API) handleVocabularyMany(w http.ResponseWriter, r *http.Request) {
	ids := strings.Split(chi.URLParam(r, "ids"), ",")
	writeJSON(w, http.StatusOK, a.catalog.VocabularyMany(r.Context(), ids))
}

func (a *API) handleBooks(w http.ResponseWriter, r *http.Request) {
	books, err := a.catalog.Books(r.Context())
	if err != nil {
		a.catalogError(w, err, "books")
		return
	}
	writeJSON(w, http.StatusOK, books)
}

func (a *API) handleBookSequences(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid_limit")
			return
		}
		limit = n
	}

	seqs, err := a.catalog.BookSequences(r.Context(), chi.URLParam(r, "bookID"), limit)
	if errors.Is(err, catalog.ErrUnknownBook) {
		writeError(w, http.StatusNotFound, "Book not found")
		return
	}
	if err != nil {
		a.catalogError(w, err, "book sequences")
		return
	}
	writeJSON(w, http.StatusOK, seqs)
}

func (a *API) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.catalog.CacheStats())
}

func (a *API) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	a.catalog.Invalidate(r.Context())
	a.logger.Info().Msg("catalog cache cleared")
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (a *API) catalogError(w http.ResponseWriter, err error, what string) {
	var apiErr *notion.APIError
	switch {
	case isNotFound(err):
		writeError(w, http.StatusNotFound, "not_found")
	case errors.As(err, &apiErr) && apiErr.Status == http.StatusTooManyRequests:
		writeError(w, http.StatusServiceUnavailable, "notion_rate_limited")
	default:
		a.logger.Error().Err(err).Str("resource", what).Msg("catalog request failed")
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, catalog.ErrNotFound) || errors.Is(err, notion.ErrNotFound)
}
