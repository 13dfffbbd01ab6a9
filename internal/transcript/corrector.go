// Package transcript corrects recurring personal vocabulary in shard
// transcripts. Names of people, places and projects that a speaker mentions
// often are exactly the words a general-purpose speech model gets wrong, so
// profiles can carry a vocabulary list and the corrector realigns
// misrecognized tokens to it before the transcript enters analysis.
//
// Matching is two-stage: Double Metaphone codes filter phonetic candidates,
// then Jaro-Winkler similarity ranks them. A candidate that shares a phonetic
// code wins at a lower similarity bar than one that merely looks alike.
package transcript

import (
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85

	// Tokens shorter than this are never corrected. Spanish is dense with
	// two-letter function words that would otherwise collide with vocabulary
	// entries.
	minTokenLen = 3
)

// Correction records one token replacement applied to a transcript.
type Correction struct {
	Original   string  `json:"original"`
	Corrected  string  `json:"corrected"`
	Confidence float64 `json:"confidence"`
}

// Option is a functional option for configuring a Corrector.
type Option func(*Corrector)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score required for a
// phonetically matched entry to be accepted. Default: 0.70.
func WithPhoneticThreshold(threshold float64) Option {
	return func(c *Corrector) {
		c.phoneticThreshold = threshold
	}
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score required when no
// phonetic match exists and the corrector falls back to pure string
// similarity. Default: 0.85.
func WithFuzzyThreshold(threshold float64) Option {
	return func(c *Corrector) {
		c.fuzzyThreshold = threshold
	}
}

// entry is one vocabulary term with its precomputed phonetic codes.
type entry struct {
	term  string
	lower string
	codes map[string]struct{}
}

// Corrector realigns transcript tokens to a fixed vocabulary. It is
// read-only after construction and safe for concurrent use.
type Corrector struct {
	entries           []entry
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// New builds a Corrector over the given vocabulary. Blank entries are
// dropped; phonetic codes are computed once here so Correct stays cheap on
// the request path.
func New(vocabulary []string, opts ...Option) *Corrector {
	c := &Corrector{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(c)
	}

	for _, term := range vocabulary {
		term = strings.TrimSpace(term)
		if term == "" {
			continue
		}
		lower := strings.ToLower(term)
		c.entries = append(c.entries, entry{
			term:  term,
			lower: lower,
			codes: metaphoneCodes(lower),
		})
	}
	return c
}

// Empty reports whether the corrector has no vocabulary and Correct would be
// a no-op.
func (c *Corrector) Empty() bool {
	return len(c.entries) == 0
}

// Correct rewrites tokens of text that phonetically match a vocabulary entry
// and returns the corrected text with the list of applied corrections. Exact
// matches (ignoring case) are left untouched. Surrounding punctuation is
// preserved.
func (c *Corrector) Correct(text string) (string, []Correction) {
	if len(c.entries) == 0 || strings.TrimSpace(text) == "" {
		return text, nil
	}

	tokens := strings.Fields(text)
	var corrections []Correction

	for i, token := range tokens {
		core, prefix, suffix := splitPunct(token)
		if len([]rune(core)) < minTokenLen {
			continue
		}

		lower := strings.ToLower(core)
		if c.isExact(lower) {
			continue
		}

		term, score, ok := c.match(lower)
		if !ok {
			continue
		}

		tokens[i] = prefix + term + suffix
		corrections = append(corrections, Correction{
			Original:   core,
			Corrected:  term,
			Confidence: score,
		})
	}

	if len(corrections) == 0 {
		return text, nil
	}
	return strings.Join(tokens, " "), corrections
}

// isExact reports whether lower already equals a vocabulary entry.
func (c *Corrector) isExact(lower string) bool {
	for _, e := range c.entries {
		if e.lower == lower {
			return true
		}
	}
	return false
}

// match finds the best vocabulary entry for the given lowercase token. A
// phonetic candidate (shared Double Metaphone code) is preferred over a
// purely fuzzy one regardless of score.
func (c *Corrector) match(lower string) (term string, score float64, ok bool) {
	codes := metaphoneCodes(lower)

	var (
		bestTerm     string
		bestScore    float64
		bestPhonetic bool
	)

	for _, e := range c.entries {
		jw := matchr.JaroWinkler(lower, e.lower, false)

		if codesOverlap(codes, e.codes) {
			if jw >= c.phoneticThreshold && (!bestPhonetic || jw > bestScore) {
				bestTerm, bestScore, bestPhonetic = e.term, jw, true
			}
		} else if !bestPhonetic {
			if jw >= c.fuzzyThreshold && jw > bestScore {
				bestTerm, bestScore = e.term, jw
			}
		}
	}

	if bestTerm == "" {
		return "", 0, false
	}
	return bestTerm, bestScore, true
}

// metaphoneCodes returns the non-empty Double Metaphone codes of word.
func metaphoneCodes(word string) map[string]struct{} {
	codes := make(map[string]struct{}, 2)
	p, s := matchr.DoubleMetaphone(word)
	if p != "" {
		codes[p] = struct{}{}
	}
	if s != "" {
		codes[s] = struct{}{}
	}
	return codes
}

// codesOverlap returns true if the two code sets share at least one code.
func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// splitPunct splits a token into leading punctuation, the word core, and
// trailing punctuation.
func splitPunct(token string) (core, prefix, suffix string) {
	runes := []rune(token)

	start := 0
	for start < len(runes) && !unicode.IsLetter(runes[start]) && !unicode.IsNumber(runes[start]) {
		start++
	}
	end := len(runes)
	for end > start && !unicode.IsLetter(runes[end-1]) && !unicode.IsNumber(runes[end-1]) {
		end--
	}

	return string(runes[start:end]), string(runes[:start]), string(runes[end:])
}
