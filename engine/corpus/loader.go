// Package corpus loads source documents and splits them into retrievable
// chunks. Parsing and chunking strategy are pluggable; the engine only
// depends on stable chunk IDs and non-empty chunk content.
package corpus

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Page is one page of a source document, reduced to normalized text.
type Page struct {
	Content    string
	DocID      string
	PageNumber int
	SourceFile string
}

// Loader turns a source file into an ordered sequence of pages.
// Implementations for richer formats (PDF extraction etc.) plug in here.
type Loader interface {
	Load(path string) ([]Page, error)
}

// TextLoader loads plain-text documents. A form feed (\f) separates pages;
// documents without form feeds load as a single page.
type TextLoader struct{}

// Load reads the file, derives a stable content-hash doc ID, and returns
// whitespace-normalized, 1-indexed pages. Empty pages are dropped.
func (TextLoader) Load(path string) ([]Page, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("corpus: load %s: %w", path, err)
	}

	sum := sha256.Sum256(raw)
	docID := hex.EncodeToString(sum[:])
	name := filepath.Base(path)

	var pages []Page
	for i, pageText := range strings.Split(string(raw), "\f") {
		normalized := normalizeWhitespace(pageText)
		if normalized == "" {
			continue
		}
		pages = append(pages, Page{
			Content:    normalized,
			DocID:      docID,
			PageNumber: i + 1,
			SourceFile: name,
		})
	}
	return pages, nil
}

// normalizeWhitespace collapses all whitespace runs to single spaces.
func normalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
