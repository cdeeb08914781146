/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package catalog

import (
	"sort"
	"strconv"
	"strings"
)

// sentenceKey parses "episode-sentence" IDs; anything else sorts last.
func sentenceKey(id string) (int, int) {
	ep, sent, ok := strings.Cut(strings.TrimSpace(id), "-")
	if !ok {
		return 99, 999
	}
	e, err1 := strconv.Atoi(ep)
	s, err2 := strconv.Atoi(sent)
	if err1 != nil || err2 != nil {
		return 99, 999
	}
	return e, s
}

func sortCards(cards []Card) {
	sort.SliceStable(cards, func(i, j int) bool {
		if cards[i].Order != cards[j].Order {
			return cards[i].Order < cards[j].Order
		}
		ei, si := sentenceKey(cards[i].SentenceID)
		ej, sj := sentenceKey(cards[j].SentenceID)
		if ei != ej {
			return ei < ej
		}
		return si < sj
	})
}

// lessNatural orders numeric labels numerically, numbers before text.
func lessNatural(a, b string) bool {
	a, b = strings.TrimPrefix(a, "#"), strings.TrimPrefix(b, "#")
	na, errA := strconv.Atoi(a)
	nb, errB := strconv.Atoi(b)
	switch {
	case errA == nil && errB == nil:
		return na < nb
	case errA == nil:
		return true
	case errB == nil:
		return false
	default:
		return a < b
	}
}

func sortLabels(labels []string) {
	sort.Slice(labels, func(i, j int) bool {
		// The catch-all group goes last.
		if labels[i] == unsortedSequence || labels[j] == unsortedSequence {
			return labels[j] == unsortedSequence && labels[i] != unsortedSequence
		}
		return lessNatural(labels[i], labels[j])
	})
}

func sortSequences(seqs []Sequence) {
	sort.SliceStable(seqs, func(i, j int) bool {
		return lessNatural(seqs[i].Sequence, seqs[j].Sequence)
	})
}

func sortBooks(books []Book) {
	sort.SliceStable(books, func(i, j int) bool {
		return lessNatural(trailingNumber(books[i].BookTitle), trailingNumber(books[j].BookTitle))
	})
}

// trailingNumber returns the last whitespace-separated token ("PALM 26" -> "26").
func trailingNumber(title string) string {
	fields := strings.Fields(title)
	if len(fields) == 0 {
		return title
	}
	return fields[len(fields)-1]
}
