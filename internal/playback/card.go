/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package playback

import "github.com/friendsincode/palmcards/internal/catalog"

// Card is one playable unit. JSON names follow the web player's card shape.
type Card struct {
	ID                string   `json:"id,omitempty"`
	DisplayText       string   `json:"japanese"`
	TranslationText   string   `json:"korean"`
	PrimaryAudioURL   string   `json:"audioUrl,omitempty"`
	SecondaryAudioURL string   `json:"koreanAudioUrl,omitempty"`
	CharacterImage    string   `json:"characterImage,omitempty"`
	Speaker           string   `json:"speaker,omitempty"`
	ExpressionCardIDs []string `json:"expressionCards,omitempty"`
}

// URL returns the audio URL for a track kind.
func (c Card) URL(kind TrackKind) string {
	if kind == Secondary {
		return c.SecondaryAudioURL
	}
	return c.PrimaryAudioURL
}

// Playable reports whether the card has primary audio.
func (c Card) Playable() bool {
	return c.PrimaryAudioURL != ""
}

// FromCatalog converts catalog cards into playlist cards.
func FromCatalog(cards []catalog.Card) []Card {
	out := make([]Card, 0, len(cards))
	for _, c := range cards {
		out = append(out, Card{
			ID:                c.ID,
			DisplayText:       c.Japanese,
			TranslationText:   c.Korean,
			PrimaryAudioURL:   c.AudioURL,
			SecondaryAudioURL: c.KoreanAudioURL,
			CharacterImage:    c.CharacterImage,
			Speaker:           c.Speaker,
			ExpressionCardIDs: c.ExpressionCardIDs,
		})
	}
	return out
}
