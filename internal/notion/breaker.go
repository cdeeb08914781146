/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package notion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/friendsincode/palmcards/internal/telemetry"
)

// errBreakerOpen wraps gobreaker rejections.
var errBreakerOpen = errors.New("notion: circuit open")

// breaker guards the Notion API. It opens when at least 60% of 10 or more
// requests in a one-minute window fail, and probes again after 30s.
type breaker struct {
	cb     *gobreaker.CircuitBreaker[[]byte]
	logger zerolog.Logger
}

func newBreaker(name string, logger zerolog.Logger) *breaker {
	telemetry.NotionBreakerState.Set(0)

	b := &breaker{logger: logger}
	b.cb = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 10 {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return ratio >= 0.6
		},
		// Missing pages and client errors are answers, not outages.
		IsSuccessful: func(err error) bool {
			if err == nil || errors.Is(err, ErrNotFound) || errors.Is(err, context.Canceled) {
				return true
			}
			var apiErr *APIError
			if errors.As(err, &apiErr) {
				return !apiErr.Temporary()
			}
			return false
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
			telemetry.NotionBreakerState.Set(stateValue(to))
		},
	})
	return b
}

func (b *breaker) execute(fn func() ([]byte, error)) ([]byte, error) {
	data, err := b.cb.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %v", errBreakerOpen, err)
	}
	return data, err
}

func (b *breaker) state() gobreaker.State {
	return b.cb.State()
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
