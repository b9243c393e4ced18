// Package moderation masks censored words in chat content before it is
// persisted or broadcast.
package moderation

import (
	"fmt"
	"unicode"

	goahocorasick "github.com/anknown/ahocorasick"
)

// Moderator is safe for concurrent use once built.
type Moderator struct {
	matcher     *goahocorasick.Machine
	replacement rune
}

// NewModerator builds the matcher over the normalized form of words. Words
// that normalize to nothing are skipped; with none left Censor is a no-op.
func NewModerator(words []string, replacement rune) (*Moderator, error) {
	patterns := make([][]rune, 0, len(words))
	for _, w := range words {
		if p := fold([]rune(w), nil); len(p) > 0 {
			patterns = append(patterns, p)
		}
	}
	m := &Moderator{replacement: replacement}
	if len(patterns) == 0 {
		return m, nil
	}
	m.matcher = new(goahocorasick.Machine)
	if err := m.matcher.Build(patterns); err != nil {
		return nil, fmt.Errorf("build moderation matcher: %w", err)
	}
	return m, nil
}

// Censor replaces every matched word with the replacement rune, including
// the noise characters inside the match. Text outside matches is kept as is.
func (m *Moderator) Censor(text string) string {
	if m == nil || m.matcher == nil || text == "" {
		return text
	}
	orig := []rune(text)
	idx := make([]int, 0, len(orig))
	norm := fold(orig, &idx)
	if len(norm) == 0 {
		return text
	}

	hits := m.matcher.MultiPatternSearch(norm, false)
	if len(hits) == 0 {
		return text
	}
	for _, h := range hits {
		end := h.Pos + len(h.Word)
		if h.Pos < 0 || end > len(idx) {
			continue
		}
		for i := idx[h.Pos]; i <= idx[end-1]; i++ {
			orig[i] = m.replacement
		}
	}
	return string(orig)
}

// fold lowercases in, maps leet characters back to letters and drops
// punctuation, symbols and spaces. When idx is set it receives the
// position in in of every kept rune.
func fold(in []rune, idx *[]int) []rune {
	out := make([]rune, 0, len(in))
	for i, r := range in {
		r = unleet(r)
		if unicode.IsPunct(r) || unicode.IsSpace(r) || unicode.IsSymbol(r) {
			continue
		}
		out = append(out, unicode.ToLower(r))
		if idx != nil {
			*idx = append(*idx, i)
		}
	}
	return out
}

func unleet(r rune) rune {
	switch r {
	case '4', '@':
		return 'a'
	case '3', '€':
		return 'e'
	case '1', '!', '|':
		return 'i'
	case '0':
		return 'o'
	case '5', '$':
		return 's'
	}
	return r
}
