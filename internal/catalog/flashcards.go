/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package catalog

import (
	"context"
	"fmt"
	"strings"

	"github.com/friendsincode/palmcards/internal/cache"
	"github.com/friendsincode/palmcards/internal/notion"
)

// Dialogue database property names.
const (
	PropJapanese    = "일본어"
	PropKorean      = "한국어"
	PropSentenceID  = "문장 ID"
	PropOrder       = "순서"
	PropSequence    = "시퀀스"
	PropVolume      = "권"
	PropSpeaker     = "사람"
	PropN2Word      = "N2 단어"
	PropStatus      = "Status"
	PropSequenceRel = "PALM Sequence DB"
	PropAudio       = "mp3file"
	PropExpressions = "일본어 표현카드"
	PropVocabulary  = "일본어 단어공부 N1"

	// Sequence database
	PropSequenceTitle = "시퀀스"
	PropSequenceName  = "시퀀스 제목"
	PropSequenceBook  = "권"

	unsortedSequence = "기타"
)

// Flashcards returns every card grouped by sequence. A non-empty episode
// restricts the result to that sequence label.
func (s *Service) Flashcards(ctx context.Context, episode string) (Deck, error) {
	key := cache.KeyFlashcards + "all"
	if episode != "" {
		key = cache.KeyFlashcards + episode
	}
	return cached(ctx, s, key, func(ctx context.Context) (Deck, error) {
		return s.loadFlashcards(ctx, episode)
	})
}

// Playlist returns the cards of one sequence in play order.
func (s *Service) Playlist(ctx context.Context, sequence string) ([]Card, error) {
	deck, err := s.Flashcards(ctx, "")
	if err != nil {
		return nil, err
	}
	cards, ok := deck.Cards[sequence]
	if !ok {
		cards, ok = deck.Cards[strings.TrimPrefix(sequence, "#")]
	}
	if !ok {
		return nil, fmt.Errorf("%w: sequence %s", ErrNotFound, sequence)
	}
	return cards, nil
}

func (s *Service) loadFlashcards(ctx context.Context, episode string) (Deck, error) {
	req := notion.QueryRequest{}
	if episode != "" {
		req.Filter = notion.SelectEquals(PropSequence, episode)
	}
	pages, err := s.src.QueryAll(ctx, s.dbs.Dialogue, req)
	if err != nil {
		return Deck{}, fmt.Errorf("query dialogue: %w", err)
	}

	characters, err := s.Characters(ctx)
	if err != nil {
		// Cards are still usable without speaker portraits.
		s.logger.Warn().Err(err).Msg("character lookup failed")
		characters = map[string]Character{}
	}

	seqTitles := make(map[string]string)
	deck := Deck{Cards: make(map[string][]Card)}
	dropped := 0

	for _, p := range pages {
		card, ok := cardFromPage(p, characters)
		if !ok {
			dropped++
			continue
		}
		if card.Sequence == "" {
			card.Sequence = s.sequenceFromRelation(ctx, p, seqTitles)
		}
		if s.mirror != nil {
			s.mirrorCard(ctx, &card)
		}
		deck.Cards[card.Sequence] = append(deck.Cards[card.Sequence], card)
	}

	for label, cards := range deck.Cards {
		sortCards(cards)
		deck.Sequences = append(deck.Sequences, label)
	}
	sortLabels(deck.Sequences)

	s.logger.Info().
		Str("episode", episode).
		Int("cards", deck.Total()).
		Int("sequences", len(deck.Sequences)).
		Int("dropped", dropped).
		Msg("flashcards loaded")
	return deck, nil
}

// cardFromPage maps a dialogue row. Rows without both texts are dropped.
func cardFromPage(p notion.Page, characters map[string]Character) (Card, bool) {
	japanese := strings.TrimSpace(p.Prop(PropJapanese).Text())
	korean := strings.TrimSpace(p.Prop(PropKorean).Text())
	if japanese == "" || korean == "" {
		return Card{}, false
	}

	card := Card{
		ID:                p.ID,
		SentenceID:        p.Prop(PropSentenceID).TitleText(),
		Japanese:          japanese,
		Korean:            korean,
		Order:             p.Prop(PropOrder).NumberValue(),
		Sequence:          p.Prop(PropSequence).SelectName(),
		Volume:            p.Prop(PropVolume).SelectName(),
		N2Word:            p.Prop(PropN2Word).Text(),
		Status:            p.Prop(PropStatus).StatusName(),
		ExpressionCardIDs: p.Prop(PropExpressions).RelationIDs(),
		VocabularyIDs:     p.Prop(PropVocabulary).RelationIDs(),
		Character:         defaultEmoji,
	}

	audio := p.Prop(PropAudio).FileURLs()
	if len(audio) > 0 {
		card.AudioURL = audio[0]
	}
	if len(audio) > 1 {
		card.KoreanAudioURL = audio[1]
	}

	if ids := p.Prop(PropSpeaker).RelationIDs(); len(ids) > 0 {
		if ch, ok := characters[ids[0]]; ok {
			card.Speaker = ch.Name
			card.CharacterImage = ch.ImageURL
			card.Character = ch.Emoji
		}
	}
	if card.Speaker == "" {
		card.Speaker = "학습자료"
	}
	return card, true
}

func (s *Service) sequenceFromRelation(ctx context.Context, p notion.Page, seen map[string]string) string {
	ids := p.Prop(PropSequenceRel).RelationIDs()
	if len(ids) == 0 {
		return unsortedSequence
	}
	if label, ok := seen[ids[0]]; ok {
		return label
	}
	label := unsortedSequence
	if page, err := s.src.RetrievePage(ctx, ids[0]); err == nil {
		if t := page.Prop(PropSequenceTitle).Text(); t != "" {
			label = strings.TrimPrefix(t, "#")
		}
	} else {
		s.logger.Debug().Err(err).Str("sequence_page", ids[0]).Msg("sequence relation lookup failed")
	}
	seen[ids[0]] = label
	return label
}

func (s *Service) mirrorCard(ctx context.Context, card *Card) {
	if card.AudioURL != "" {
		if u, err := s.mirror.MirrorAudio(ctx, card.ID+"-jp", card.AudioURL); err == nil {
			card.AudioURL = u
		} else {
			s.logger.Warn().Err(err).Str("card_id", card.ID).Msg("mirror primary audio failed")
		}
	}
	if card.KoreanAudioURL != "" {
		if u, err := s.mirror.MirrorAudio(ctx, card.ID+"-kr", card.KoreanAudioURL); err == nil {
			card.KoreanAudioURL = u
		} else {
			s.logger.Warn().Err(err).Str("card_id", card.ID).Msg("mirror secondary audio failed")
		}
	}
}

const defaultEmoji = "🎭"

var speakerEmoji = map[string]string{
	"남자1":  "👨",
	"번즈":   "🔥",
	"일라이저": "👩",
	"허브":   "🌿",
	"ひなた":  "🌻",
	"れい":   "🦁",
	"あかり":  "🌸",
	"きりやま": "👤",
}

func characterEmoji(name string) string {
	if e, ok := speakerEmoji[name]; ok {
		return e
	}
	return defaultEmoji
}

// FormatSequence renders a sequence label with its "#" prefix.
func FormatSequence(label string) string {
	label = strings.TrimSpace(label)
	if label == "" || strings.HasPrefix(label, "#") {
		return label
	}
	return "#" + label
}
