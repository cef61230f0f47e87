// Package entityextract recognizes entity mentions (people, technologies,
// projects, organizations, files, concepts) inside memory content and
// reports them with byte offsets into the original text, so callers can
// anchor spans for highlighting or linking.
//
// Entity recognition here is pattern- and dictionary-based only: no model
// call, no network request. The canonicalization and offset-preserving
// tokenizer below are the same transform used for Aho-Corasick dictionary
// matching and for plain whitespace tokenization, so both paths agree on
// what counts as "the same word".
package entityextract

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// isJoiner returns true for punctuation that commonly appears inside a
// name or term and should not split it into separate tokens: "Jean-Luc",
// "O'Brien", "AT&T", "v1.2".
func isJoiner(r rune) bool {
	switch r {
	case '\'', '’', '‘',
		'-', '–', '—',
		'·', '.', '_', '/', '#', '&':
		return true
	default:
		return false
	}
}

func isSeparator(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsDigit(r) || isJoiner(r) {
		return false
	}
	return true
}

// Canonicalize folds text to a normalized form for matching: lowercased,
// curly quotes and en/em dashes normalized to their straight/plain
// equivalents, joiners preserved, everything else collapsed to single
// spaces. Pattern compilation and document scanning both run text through
// this function so they agree on what a "match" means.
func Canonicalize(s string) string {
	var out strings.Builder
	out.Grow(len(s))

	lastWasSpace := true
	for _, ch := range s {
		c := unicode.ToLower(ch)
		if c == '’' || c == '‘' {
			c = '\''
		}
		if c == '–' || c == '—' {
			c = '-'
		}

		if unicode.IsLetter(c) || unicode.IsDigit(c) || isJoiner(c) {
			out.WriteRune(c)
			lastWasSpace = false
		} else if !lastWasSpace {
			out.WriteRune(' ')
			lastWasSpace = true
		}
	}

	result := out.String()
	if len(result) > 0 && result[len(result)-1] == ' ' {
		result = result[:len(result)-1]
	}
	return result
}

// Token is a canonicalized token together with the byte offsets it came
// from in the original, un-canonicalized text.
type Token struct {
	Text  string
	Start int
	End   int
}

// TokenizeWithOffsets splits text on separators while recording each
// token's byte range in the original string.
func TokenizeWithOffsets(s string) []Token {
	out := make([]Token, 0, 64)

	i := 0
	for i < len(s) {
		for i < len(s) {
			r, w := utf8.DecodeRuneInString(s[i:])
			if !isSeparator(r) {
				break
			}
			i += w
		}
		start := i

		for i < len(s) {
			r, w := utf8.DecodeRuneInString(s[i:])
			if isSeparator(r) {
				break
			}
			i += w
		}
		end := i

		if start < end {
			out = append(out, Token{Text: Canonicalize(s[start:end]), Start: start, End: end})
		}
	}
	return out
}

// buildOffsetMap maps each byte position of Canonicalize(original) back to
// the corresponding byte position in original, so matches found against
// canonicalized text can be reported with original-text offsets.
func buildOffsetMap(original string) []int {
	mapping := make([]int, 0, len(original)+1)
	lastWasSpace := true
	origPos := 0

	for _, ch := range original {
		runeLen := utf8.RuneLen(ch)
		c := unicode.ToLower(ch)
		if c == '’' || c == '‘' {
			c = '\''
		}
		if c == '–' || c == '—' {
			c = '-'
		}

		if unicode.IsLetter(c) || unicode.IsDigit(c) || isJoiner(c) {
			canonLen := utf8.RuneLen(c)
			for i := 0; i < canonLen; i++ {
				mapping = append(mapping, origPos)
			}
			lastWasSpace = false
		} else if !lastWasSpace {
			mapping = append(mapping, origPos)
			lastWasSpace = true
		}
		origPos += runeLen
	}

	mapping = append(mapping, origPos)
	return mapping
}

func mapOffset(canonOffset int, mapping []int, originalLen int) int {
	if canonOffset >= len(mapping) {
		return originalLen
	}
	if canonOffset < 0 {
		return 0
	}
	return mapping[canonOffset]
}
