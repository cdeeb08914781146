/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package notion is a small client for the parts of the Notion REST API the
// catalog reads: database queries, page and database retrieval, and search.
package notion

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/friendsincode/palmcards/internal/telemetry"
)

const (
	// APIVersion is sent as the Notion-Version header.
	APIVersion     = "2022-06-28"
	DefaultBaseURL = "https://api.notion.com/v1"

	maxPageSize   = 100
	maxErrorBody  = 64 * 1024
	maxRateRetry  = 2
	defaultWait   = time.Second
	tracerName    = "palmcards/notion"
	componentName = "notion"
)

// ErrNotFound is returned when a page or database does not exist or is not
// shared with the integration.
var ErrNotFound = errors.New("notion: object not found")

// APIError is a non-2xx response from Notion.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("notion api %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("notion api %d: %s", e.Status, e.Message)
}

// Temporary reports whether retrying later may succeed.
func (e *APIError) Temporary() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

// Config configures a Client.
type Config struct {
	Secret     string
	BaseURL    string
	RateLimit  float64 // requests per second, Notion allows an average of 3
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Client calls the Notion API.
type Client struct {
	baseURL string
	secret  string
	http    *http.Client
	limiter *rate.Limiter
	breaker *breaker
	logger  zerolog.Logger
}

// New creates a Client. Outgoing requests are traced, rate limited and
// guarded by a circuit breaker.
func New(cfg Config, logger zerolog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 3
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout, Transport: telemetry.Transport(nil)}
	}
	logger = logger.With().Str("component", componentName).Logger()

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		secret:  cfg.Secret,
		http:    hc,
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), int(cfg.RateLimit)+1),
		breaker: newBreaker("notion-api", logger),
		logger:  logger,
	}
}

// QueryDatabase returns one page of results.
func (c *Client) QueryDatabase(ctx context.Context, databaseID string, req QueryRequest) (*QueryResponse, error) {
	if req.PageSize <= 0 || req.PageSize > maxPageSize {
		req.PageSize = maxPageSize
	}
	var out QueryResponse
	if err := c.do(ctx, "query_database", http.MethodPost, "/databases/"+databaseID+"/query", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// QueryAll follows next_cursor until every row is fetched.
func (c *Client) QueryAll(ctx context.Context, databaseID string, req QueryRequest) ([]Page, error) {
	var pages []Page
	for {
		resp, err := c.QueryDatabase(ctx, databaseID, req)
		if err != nil {
			return nil, err
		}
		pages = append(pages, resp.Results...)
		if !resp.HasMore || resp.NextCursor == nil || *resp.NextCursor == "" {
			break
		}
		req.StartCursor = *resp.NextCursor
	}
	c.logger.Debug().Str("database_id", databaseID).Int("pages", len(pages)).Msg("database query complete")
	return pages, nil
}

// RetrievePage fetches one page.
func (c *Client) RetrievePage(ctx context.Context, pageID string) (*Page, error) {
	var out Page
	if err := c.do(ctx, "retrieve_page", http.MethodGet, "/pages/"+pageID, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RetrieveDatabase fetches database metadata.
func (c *Client) RetrieveDatabase(ctx context.Context, databaseID string) (*Database, error) {
	var out Database
	if err := c.do(ctx, "retrieve_database", http.MethodGet, "/databases/"+databaseID, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SearchDatabases lists every database shared with the integration whose
// title matches query (all when query is empty).
func (c *Client) SearchDatabases(ctx context.Context, query string) ([]Database, error) {
	req := searchRequest{
		Query:    query,
		Filter:   map[string]any{"property": "object", "value": "database"},
		PageSize: maxPageSize,
	}
	var all []Database
	for {
		var out searchResponse
		if err := c.do(ctx, "search", http.MethodPost, "/search", req, &out); err != nil {
			return nil, err
		}
		all = append(all, out.Results...)
		if !out.HasMore || out.NextCursor == nil {
			return all, nil
		}
		req.StartCursor = *out.NextCursor
	}
}

func (c *Client) do(ctx context.Context, op, method, path string, body, out any) error {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "notion."+op)
	defer span.End()

	start := time.Now()
	data, err := c.breaker.execute(func() ([]byte, error) {
		return c.send(ctx, method, path, body)
	})
	telemetry.NotionRequestDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	telemetry.NotionRequestsTotal.WithLabelValues(op, statusLabel(err)).Inc()

	if err != nil {
		telemetry.RecordError(span, err)
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s response: %w", op, err)
	}
	return nil
}

// send performs one request, retrying rate-limit responses after Retry-After.
func (c *Client) send(ctx context.Context, method, path string, body any) ([]byte, error) {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
	}

	for attempt := 0; ; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+c.secret)
		req.Header.Set("Notion-Version", APIVersion)
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%s %s: %w", method, path, err)
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			data, err := io.ReadAll(resp.Body)
			resp.Body.Close()
			if err != nil {
				return nil, fmt.Errorf("read response: %w", err)
			}
			return data, nil
		}

		apiErr := decodeError(resp)
		if resp.StatusCode == http.StatusTooManyRequests && attempt < maxRateRetry {
			wait := retryAfter(resp.Header.Get("Retry-After"))
			c.logger.Warn().Str("path", path).Dur("wait", wait).Msg("notion rate limited, backing off")
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
			continue
		}
		if resp.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, apiErr.Message)
		}
		return nil, apiErr
	}
}

func decodeError(resp *http.Response) *APIError {
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	apiErr := &APIError{Status: resp.StatusCode}
	var eb errorBody
	if err := json.Unmarshal(raw, &eb); err == nil && eb.Message != "" {
		apiErr.Code = eb.Code
		apiErr.Message = eb.Message
	} else {
		apiErr.Message = strings.TrimSpace(string(raw))
	}
	return apiErr
}

func retryAfter(header string) time.Duration {
	if secs, err := strconv.ParseFloat(header, 64); err == nil && secs > 0 {
		return time.Duration(secs * float64(time.Second))
	}
	return defaultWait
}

func statusLabel(err error) string {
	var apiErr *APIError
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.As(err, &apiErr):
		return strconv.Itoa(apiErr.Status)
	case errors.Is(err, errBreakerOpen):
		return "rejected"
	default:
		return "error"
	}
}
