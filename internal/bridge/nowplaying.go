/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package bridge

import (
	"strings"

	"github.com/friendsincode/palmcards/internal/playback"
)

const (
	defaultTitle    = "일본어 학습"
	defaultArtist   = "PALM 시리즈"
	defaultSequence = "001"
	defaultArtwork  = "/default-icon.png"
)

// Artwork is one media-session image.
type Artwork struct {
	Src   string `json:"src"`
	Sizes string `json:"sizes"`
	Type  string `json:"type"`
}

// NowPlaying is the descriptor handed to host media controls.
type NowPlaying struct {
	Title   string    `json:"title"`
	Artist  string    `json:"artist"`
	Album   string    `json:"album"`
	Artwork []Artwork `json:"artwork"`
}

// Describe builds the now-playing descriptor for a snapshot.
func Describe(s playback.Snapshot) NowPlaying {
	np := NowPlaying{
		Title:  defaultTitle,
		Artist: defaultArtist,
	}

	label := strings.TrimPrefix(strings.TrimSpace(s.Sequence), "#")
	if label == "" {
		label = defaultSequence
	}
	np.Album = "시퀀스 #" + label

	art := defaultArtwork
	if c := s.CurrentCard; c != nil {
		if c.DisplayText != "" {
			np.Title = c.DisplayText
		}
		if c.CharacterImage != "" {
			art = c.CharacterImage
		}
	}
	np.Artwork = []Artwork{{Src: art, Sizes: "512x512", Type: "image/png"}}
	return np
}
