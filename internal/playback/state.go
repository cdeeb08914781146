/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package playback

import (
	"fmt"
	"strings"
	"time"
)

// Fixed delays between tracks.
const (
	DelayBetweenCards    = 1000 * time.Millisecond
	DelayBeforeSecondary = 3000 * time.Millisecond
)

// State is the sequencer's state label.
type State string

const (
	StateIdle             State = "idle"
	StatePlayingPrimary   State = "playing_primary"
	StatePlayingSecondary State = "playing_secondary"
	StateInterTrackDelay  State = "inter_track_delay"
)

// validTransitions lists the edges the sequencer may take. Idle is reachable
// from everywhere because any command may stop playback.
var validTransitions = map[State][]State{
	StateIdle:             {StateIdle, StatePlayingPrimary},
	StatePlayingPrimary:   {StateIdle, StatePlayingPrimary, StateInterTrackDelay},
	StatePlayingSecondary: {StateIdle, StatePlayingPrimary, StateInterTrackDelay},
	StateInterTrackDelay:  {StateIdle, StatePlayingPrimary, StatePlayingSecondary, StateInterTrackDelay},
}

func isValidTransition(from, to State) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Mode selects which tracks of a card are played.
type Mode string

const (
	ModeBasic      Mode = "basic"
	ModeExpression Mode = "expression"
)

// ParseMode accepts "basic" or "expression" in any case.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeBasic:
		return ModeBasic, nil
	case ModeExpression:
		return ModeExpression, nil
	default:
		return "", fmt.Errorf("unknown playback mode %q", s)
	}
}

// TrackKind is the language track of a card.
type TrackKind int

const (
	Primary TrackKind = iota
	Secondary
)

func (k TrackKind) String() string {
	if k == Secondary {
		return "secondary"
	}
	return "primary"
}

// Snapshot is the externally visible playback state.
type Snapshot struct {
	IsPlaying    bool   `json:"isPlaying"`
	CurrentIndex int    `json:"currentIndex"`
	TotalCards   int    `json:"totalCards"`
	CurrentCard  *Card  `json:"currentCard"`
	PlaybackMode Mode   `json:"playbackMode"`
	Sequence     string `json:"sequence,omitempty"`
	State        State  `json:"state"`
	DelayMS      int64  `json:"delayMs,omitempty"`
}

// Playing reports whether s is one of the track-playing states.
func (s State) Playing() bool {
	return s == StatePlayingPrimary || s == StatePlayingSecondary
}
