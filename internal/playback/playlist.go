/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package playback

// Playlist holds the loaded cards, the cursor, the mode and the playing flag.
// It is not safe for concurrent use; the Sequencer owns it.
type Playlist struct {
	label    string
	cards    []Card
	position int
	mode     Mode
	playing  bool
}

// NewPlaylist returns an empty Basic-mode playlist.
func NewPlaylist() *Playlist {
	return &Playlist{mode: ModeBasic}
}

// Load replaces the cards wholesale and rewinds to the first card.
func (p *Playlist) Load(cards []Card, label string) {
	p.cards = append([]Card(nil), cards...)
	p.label = label
	p.position = 0
	p.playing = false
}

// Current returns the card under the cursor.
func (p *Playlist) Current() (Card, bool) {
	return p.At(p.position)
}

// At returns the card at index i.
func (p *Playlist) At(i int) (Card, bool) {
	if i < 0 || i >= len(p.cards) {
		return Card{}, false
	}
	return p.cards[i], true
}

// Advance moves to the next card unless already at the last one.
func (p *Playlist) Advance() bool {
	if p.position >= len(p.cards)-1 {
		return false
	}
	p.position++
	return true
}

// Retreat moves to the previous card. At the first card it stays put and
// still reports success so the caller restarts that card.
func (p *Playlist) Retreat() bool {
	if len(p.cards) == 0 {
		return false
	}
	if p.position > 0 {
		p.position--
	}
	return true
}

// Seek moves to index i if it is in range.
func (p *Playlist) Seek(i int) bool {
	if i < 0 || i >= len(p.cards) {
		return false
	}
	p.position = i
	return true
}

func (p *Playlist) Len() int          { return len(p.cards) }
func (p *Playlist) Position() int     { return p.position }
func (p *Playlist) Label() string     { return p.label }
func (p *Playlist) Mode() Mode        { return p.mode }
func (p *Playlist) SetMode(m Mode)    { p.mode = m }
func (p *Playlist) Playing() bool     { return p.playing }
func (p *Playlist) setPlaying(b bool) { p.playing = b }
