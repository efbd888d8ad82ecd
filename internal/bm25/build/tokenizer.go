package build

import (
	"strings"
	"unicode"
)

// TermFreq is one term and its within-document frequency, matching the
// spec §6 tokenizer contract: `tokenize(text, config_id) -> Vec<(term,
// frequency)>`.
type TermFreq struct {
	Term string
	Freq uint32
}

// Tokenizer turns one document's indexed text into term/frequency pairs.
// configID is recorded in the metapage and must match between build and
// query (spec §6); implementations that support more than one analyzer
// switch on it.
type Tokenizer interface {
	Tokenize(text string, configID uint32) ([]TermFreq, error)
}

// SimpleTokenizer lowercases and splits on non-letter/non-digit runes,
// aggregating repeated terms into one frequency count. It ignores
// configID (a single analyzer), serving as the default for the CLI and
// for tests; a richer analyzer (stemming, stop words) is a config_id-keyed
// Tokenizer the host can swap in without touching build/memtable.
type SimpleTokenizer struct{}

func (SimpleTokenizer) Tokenize(text string, _ uint32) ([]TermFreq, error) {
	freqs := make(map[string]uint32)
	var order []string
	for _, word := range strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		term := strings.ToLower(word)
		if _, ok := freqs[term]; !ok {
			order = append(order, term)
		}
		freqs[term]++
	}
	out := make([]TermFreq, len(order))
	for i, term := range order {
		out[i] = TermFreq{Term: term, Freq: freqs[term]}
	}
	return out, nil
}
