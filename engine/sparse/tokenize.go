// Package sparse implements lexical (BM25) retrieval over the chunk corpus,
// backed by SQLite FTS5.
package sparse

import (
	"strings"
	"unicode"
)

// Tokenize is the single preprocessing function shared by index build and
// query time. Any divergence between the two silently degrades recall, so
// every caller must go through here.
//
// Normalization: lowercase, slash to space, strip characters outside
// [a-z0-9-] (hyphenated clinical terms and numerals survive), split on
// whitespace.
func Tokenize(text string) []string {
	lower := strings.ToLower(text)

	var b strings.Builder
	b.Grow(len(lower))
	for _, r := range lower {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
		case r == '/' || unicode.IsSpace(r):
			b.WriteByte(' ')
		}
	}
	return strings.Fields(b.String())
}
