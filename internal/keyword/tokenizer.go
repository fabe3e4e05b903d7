package keyword

import (
	"strings"
	"unicode"

	"github.com/surgebase/porter2"
)

// MinTokenLength drops single-character sub-words such as loop variables
const MinTokenLength = 2

// Tokenizer splits source text into lowercased identifier sub-words
type Tokenizer struct {
	stem bool
}

// NewTokenizer creates a tokenizer; stemming reduces sub-words with porter2
func NewTokenizer(stemming bool) *Tokenizer {
	return &Tokenizer{stem: stemming}
}

// Tokens returns the tokens of text in order of appearance, with repeats.
// Identifiers are split on separators, case transitions and letter/digit
// boundaries; a compound identifier also yields its whole lowercased form.
func (t *Tokenizer) Tokens(text string) []string {
	var tokens []string
	for _, word := range words(text) {
		parts := SplitIdentifier(word)
		for _, p := range parts {
			if tok := t.normalize(p); tok != "" {
				tokens = append(tokens, tok)
			}
		}
		if len(parts) > 1 {
			whole := strings.ToLower(strings.Trim(word, "_"))
			if len(whole) >= MinTokenLength {
				tokens = append(tokens, whole)
			}
		}
	}
	return tokens
}

// Unique returns the distinct tokens of text in order of first appearance
func (t *Tokenizer) Unique(text string) []string {
	all := t.Tokens(text)
	seen := make(map[string]bool, len(all))
	out := all[:0]
	for _, tok := range all {
		if !seen[tok] {
			seen[tok] = true
			out = append(out, tok)
		}
	}
	return out
}

func (t *Tokenizer) normalize(part string) string {
	tok := strings.ToLower(part)
	if len(tok) < MinTokenLength {
		return ""
	}
	if t.stem && isAlpha(tok) {
		tok = porter2.Stem(tok)
	}
	return tok
}

// words returns maximal runs of identifier characters
func words(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_')
	})
}

// SplitIdentifier splits an identifier into sub-words:
//
//	get_user_name -> get, user, name
//	parseHTTPRequest2 -> parse, HTTP, Request, 2
func SplitIdentifier(word string) []string {
	runes := []rune(word)
	var parts []string
	start := -1

	flush := func(end int) {
		if start >= 0 && end > start {
			parts = append(parts, string(runes[start:end]))
		}
		start = -1
	}

	for i, r := range runes {
		if r == '_' {
			flush(i)
			continue
		}
		if start < 0 {
			start = i
			continue
		}

		prev := runes[i-1]
		switch {
		case unicode.IsLower(prev) && unicode.IsUpper(r):
			// camelCase
			flush(i)
			start = i
		case unicode.IsUpper(prev) && unicode.IsUpper(r) && i+1 < len(runes) && unicode.IsLower(runes[i+1]):
			// end of an acronym: HTTPRequest -> HTTP, Request
			flush(i)
			start = i
		case unicode.IsDigit(prev) != unicode.IsDigit(r):
			flush(i)
			start = i
		}
	}
	flush(len(runes))

	return parts
}

func isAlpha(s string) bool {
	for _, r := range s {
		if r < 'a' || r > 'z' {
			return false
		}
	}
	return true
}
