package bayes

import (
	"strings"
	"unicode/utf8"

	"github.com/kljensen/snowball"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// DefaultMinTokenLength is the rune count a token must exceed to be kept.
const DefaultMinTokenLength = 2

// Tokenizer splits text on whitespace and normalizes each word. The zero
// value lower-cases and keeps words longer than DefaultMinTokenLength runes.
type Tokenizer struct {
	// MinLength overrides DefaultMinTokenLength when positive.
	MinLength int
	// Unicode applies NFKC normalization before case folding.
	Unicode bool
	// Stem reduces words to their English snowball stem.
	Stem bool
}

// Tokens returns the normalized words of text in order, repeats included.
func (t Tokenizer) Tokens(text string) []string {
	fields := strings.Fields(text)
	tokens := make([]string, 0, len(fields))
	for _, field := range fields {
		if token, ok := t.Normalize(field); ok {
			tokens = append(tokens, token)
		}
	}
	return tokens
}

// Normalize normalizes a single word and reports whether it is long enough
// to keep.
func (t Tokenizer) Normalize(word string) (string, bool) {
	if t.Unicode {
		word = norm.NFKC.String(word)
	}
	// Casers keep state, so each call gets its own.
	word = cases.Lower(language.Und).String(word)
	if t.Stem {
		if stemmed, err := snowball.Stem(word, "english", true); err == nil && stemmed != "" {
			word = stemmed
		}
	}

	minLength := t.MinLength
	if minLength <= 0 {
		minLength = DefaultMinTokenLength
	}
	if word == "" || utf8.RuneCountInString(word) <= minLength {
		return "", false
	}
	return word, true
}
