/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package catalog turns the Notion dialogue, character, expression, vocabulary,
// book and sequence databases into flashcard records and caches the results.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/palmcards/internal/cache"
	"github.com/friendsincode/palmcards/internal/config"
	"github.com/friendsincode/palmcards/internal/events"
	"github.com/friendsincode/palmcards/internal/notion"
	"github.com/friendsincode/palmcards/internal/telemetry"
)

var (
	// ErrNotFound is returned for unknown expression, vocabulary or book IDs.
	ErrNotFound = errors.New("catalog: not found")
	// ErrUnknownBook is returned when a book has no sequences relation.
	ErrUnknownBook = errors.New("catalog: unknown book")
)

// Source is the subset of the Notion client the catalog reads through.
type Source interface {
	QueryAll(ctx context.Context, databaseID string, req notion.QueryRequest) ([]notion.Page, error)
	RetrievePage(ctx context.Context, pageID string) (*notion.Page, error)
	SearchDatabases(ctx context.Context, query string) ([]notion.Database, error)
}

// Mirror copies an expiring audio URL somewhere durable and returns the new URL.
type Mirror interface {
	MirrorAudio(ctx context.Context, key, sourceURL string) (string, error)
}

// Service serves catalog reads.
type Service struct {
	src    Source
	dbs    config.Databases
	cache  *cache.Cache
	bus    *events.Bus
	mirror Mirror
	ttl    time.Duration
	logger zerolog.Logger
}

// Option customises a Service.
type Option func(*Service)

// WithMirror rewrites audio URLs through m.
func WithMirror(m Mirror) Option {
	return func(s *Service) { s.mirror = m }
}

// WithBus publishes catalog.refreshed on invalidation.
func WithBus(b *events.Bus) Option {
	return func(s *Service) { s.bus = b }
}

// WithTTL overrides the cache TTL.
func WithTTL(ttl time.Duration) Option {
	return func(s *Service) { s.ttl = ttl }
}

// New creates a catalog service.
func New(src Source, dbs config.Databases, c *cache.Cache, logger zerolog.Logger, opts ...Option) *Service {
	s := &Service{
		src:    src,
		dbs:    dbs,
		cache:  c,
		ttl:    cache.DefaultTTL,
		logger: logger.With().Str("component", "catalog").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// cached loads key from the cache or calls load and stores the result.
func cached[T any](ctx context.Context, s *Service, key string, load func(context.Context) (T, error)) (T, error) {
	var out T
	if s.cache != nil && s.cache.Get(ctx, key, &out) {
		telemetry.CacheRequestsTotal.WithLabelValues("hit").Inc()
		return out, nil
	}
	telemetry.CacheRequestsTotal.WithLabelValues("miss").Inc()

	out, err := load(ctx)
	if err != nil {
		return out, err
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, key, out, s.ttl); err != nil {
			s.logger.Warn().Err(err).Str("key", key).Msg("cache store failed")
		}
	}
	return out, nil
}

// Invalidate drops every cached catalog entry.
func (s *Service) Invalidate(ctx context.Context) {
	if s.cache != nil {
		s.cache.Clear(ctx)
	}
	if s.bus != nil {
		s.bus.Publish(events.EventCatalogRefreshed, events.Payload{"at": time.Now().UTC().Format(time.RFC3339)})
	}
}

// CacheStats exposes the cache counters.
func (s *Service) CacheStats() cache.Stats {
	if s.cache == nil {
		return cache.Stats{HitRate: "0.00%"}
	}
	return s.cache.Stats()
}

// Characters returns every character keyed by page ID.
func (s *Service) Characters(ctx context.Context) (map[string]Character, error) {
	return cached(ctx, s, cache.KeyCharacters, func(ctx context.Context) (map[string]Character, error) {
		pages, err := s.src.QueryAll(ctx, s.dbs.Character, notion.QueryRequest{})
		if err != nil {
			return nil, fmt.Errorf("query characters: %w", err)
		}
		out := make(map[string]Character, len(pages))
		for _, p := range pages {
			name := p.Prop("Name").TitleText()
			if name == "" {
				continue
			}
			out[p.ID] = Character{
				ID:       p.ID,
				Name:     name,
				ImageURL: p.Prop("face").FileURL(),
				Emoji:    characterEmoji(name),
			}
		}
		return out, nil
	})
}

// Expression loads an expression card and its usage examples.
func (s *Service) Expression(ctx context.Context, id string) (*Expression, error) {
	return cached(ctx, s, cache.KeyExpression+id, func(ctx context.Context) (*Expression, error) {
		page, err := s.retrieve(ctx, id)
		if err != nil {
			return nil, err
		}
		exp := &Expression{
			ID:       page.ID,
			Title:    page.TitleProp().Text(),
			Meaning:  page.FirstText("의미", "뜻"),
			Examples: []Example{},
		}
		for i := 1; i <= 5; i++ {
			jp := strings.TrimSpace(page.Prop(fmt.Sprintf("응용%dJ", i)).Text())
			kr := strings.TrimSpace(page.Prop(fmt.Sprintf("응용%dK", i)).Text())
			if jp == "" && kr == "" {
				continue
			}
			exp.Examples = append(exp.Examples, Example{Japanese: jp, Korean: kr})
		}
		return exp, nil
	})
}

// Vocabulary loads one N1 vocabulary entry.
func (s *Service) Vocabulary(ctx context.Context, id string) (*Vocabulary, error) {
	return cached(ctx, s, cache.KeyVocabulary+id, func(ctx context.Context) (*Vocabulary, error) {
		page, err := s.retrieve(ctx, id)
		if err != nil {
			return nil, err
		}
		return &Vocabulary{
			ID:      page.ID,
			Word:    page.TitleProp().Text(),
			Reading: page.FirstText("읽기", "후리가나", "reading"),
			Meaning: page.FirstText("의미", "뜻", "meaning"),
			Example: page.FirstText("예문", "example"),
		}, nil
	})
}

// VocabularyMany loads several entries, skipping IDs that fail.
func (s *Service) VocabularyMany(ctx context.Context, ids []string) []Vocabulary {
	out := make([]Vocabulary, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		v, err := s.Vocabulary(ctx, id)
		if err != nil {
			s.logger.Warn().Err(err).Str("vocabulary_id", id).Msg("skipping vocabulary entry")
			continue
		}
		out = append(out, *v)
	}
	return out
}

// Books lists the book database.
func (s *Service) Books(ctx context.Context) ([]Book, error) {
	return cached(ctx, s, cache.KeyBooks, func(ctx context.Context) ([]Book, error) {
		pages, err := s.src.QueryAll(ctx, s.dbs.Book, notion.QueryRequest{})
		if err != nil {
			return nil, fmt.Errorf("query books: %w", err)
		}
		books := make([]Book, 0, len(pages))
		for _, p := range pages {
			title := p.TitleProp().Text()
			if title == "" {
				continue
			}
			books = append(books, Book{
				ID:        p.ID,
				BookTitle: title,
				Subtitle:  p.FirstText("부제", "Subtitle", "subtitle"),
			})
		}
		sortBooks(books)
		return books, nil
	})
}

// BookSequences lists a book's sequences in order. limit <= 0 returns all.
func (s *Service) BookSequences(ctx context.Context, bookID string, limit int) ([]Sequence, error) {
	key := fmt.Sprintf("%s%s", cache.KeyBookSequences, bookID)
	seqs, err := cached(ctx, s, key, func(ctx context.Context) ([]Sequence, error) {
		pages, err := s.src.QueryAll(ctx, s.dbs.Sequence, notion.QueryRequest{
			Filter: notion.RelationContains(PropSequenceBook, bookID),
		})
		if err != nil {
			var apiErr *notion.APIError
			if errors.As(err, &apiErr) && apiErr.Status == 400 {
				return nil, fmt.Errorf("%w: %s", ErrUnknownBook, bookID)
			}
			return nil, fmt.Errorf("query sequences: %w", err)
		}
		out := make([]Sequence, 0, len(pages))
		for _, p := range pages {
			label := p.Prop(PropSequenceTitle).Text()
			if label == "" {
				continue
			}
			out = append(out, Sequence{
				ID:       p.ID,
				Sequence: FormatSequence(label),
				Title:    p.Prop(PropSequenceName).Text(),
			})
		}
		sortSequences(out)
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(seqs) > limit {
		seqs = seqs[:limit]
	}
	return seqs, nil
}

var databaseKeywords = []string{"팜시리즈", "대사", "DB", "일본어", "표현", "대화"}

// DatabaseInfo lists the shared databases whose titles look like PALM data.
func (s *Service) DatabaseInfo(ctx context.Context) ([]DatabaseInfo, error) {
	return cached(ctx, s, cache.KeyDatabaseInfo, func(ctx context.Context) ([]DatabaseInfo, error) {
		dbs, err := s.src.SearchDatabases(ctx, "")
		if err != nil {
			return nil, fmt.Errorf("search databases: %w", err)
		}
		out := make([]DatabaseInfo, 0, len(dbs))
		for _, db := range dbs {
			title := db.TitleText()
			for _, kw := range databaseKeywords {
				if strings.Contains(title, kw) {
					out = append(out, DatabaseInfo{ID: db.ID, Title: title, URL: db.URL})
					break
				}
			}
		}
		return out, nil
	})
}

func (s *Service) retrieve(ctx context.Context, id string) (*notion.Page, error) {
	page, err := s.src.RetrievePage(ctx, id)
	if errors.Is(err, notion.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("retrieve page %s: %w", id, err)
	}
	return page, nil
}
