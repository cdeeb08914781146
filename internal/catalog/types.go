/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package catalog

// Card is one dialogue line with its audio.
type Card struct {
	ID                string   `json:"id"`
	SentenceID        string   `json:"sentenceId"`
	Japanese          string   `json:"japanese"`
	Korean            string   `json:"korean"`
	Order             float64  `json:"order"`
	Sequence          string   `json:"sequence"`
	Volume            string   `json:"volume,omitempty"`
	Speaker           string   `json:"speaker"`
	Character         string   `json:"character"` // emoji
	CharacterImage    string   `json:"characterImage,omitempty"`
	AudioURL          string   `json:"audioUrl,omitempty"`
	KoreanAudioURL    string   `json:"koreanAudioUrl,omitempty"`
	ExpressionCardIDs []string `json:"expressionCardIds,omitempty"`
	VocabularyIDs     []string `json:"n1VocabularyIds,omitempty"`
	N2Word            string   `json:"n2Word,omitempty"`
	Status            string   `json:"status,omitempty"`
}

// Deck is every card grouped by sequence label.
type Deck struct {
	Sequences []string          `json:"sequences"` // display order
	Cards     map[string][]Card `json:"cards"`
}

// Total returns the number of cards across sequences.
func (d Deck) Total() int {
	n := 0
	for _, cards := range d.Cards {
		n += len(cards)
	}
	return n
}

// Character is a speaker from the character database.
type Character struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	ImageURL string `json:"imageUrl,omitempty"`
	Emoji    string `json:"emoji"`
}

// Example is one Japanese/Korean usage pair.
type Example struct {
	Japanese string `json:"japanese"`
	Korean   string `json:"korean"`
}

// Expression is an expression card.
type Expression struct {
	ID       string    `json:"id"`
	Title    string    `json:"title"`
	Meaning  string    `json:"meaning,omitempty"`
	Examples []Example `json:"examples"`
}

// Vocabulary is an N1 vocabulary entry.
type Vocabulary struct {
	ID      string `json:"id"`
	Word    string `json:"word"`
	Reading string `json:"reading,omitempty"`
	Meaning string `json:"meaning,omitempty"`
	Example string `json:"example,omitempty"`
}

// Book is a volume of the series.
type Book struct {
	ID        string `json:"id"`
	BookTitle string `json:"bookTitle"`
	Subtitle  string `json:"subtitle,omitempty"`
}

// Sequence is one episode of a book.
type Sequence struct {
	ID       string `json:"id"`
	Sequence string `json:"sequence"` // "#197"
	Title    string `json:"title"`
}

// DatabaseInfo describes a Notion database the integration can read.
type DatabaseInfo struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	URL   string `json:"url,omitempty"`
}
