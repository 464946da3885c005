package corpus

import (
	"strings"

	"github.com/MediqAI/mediq-mvp/engine/domain"
)

// Default size bounds for the semantic splitter, in characters.
const (
	DefaultMaxChars = 1800
	DefaultMinChars = 400
)

// Splitter splits loaded pages into chunks with stable IDs.
type Splitter interface {
	Split(pages []Page) []domain.Chunk
}

// SemanticSplitter merges adjacent text blocks into chunks bounded by
// MaxChars, preferring block and sentence boundaries over hard cuts so
// clinical statements stay intact.
type SemanticSplitter struct {
	MaxChars int
	MinChars int
}

// NewSemanticSplitter returns a splitter with the default size bounds.
func NewSemanticSplitter() *SemanticSplitter {
	return &SemanticSplitter{MaxChars: DefaultMaxChars, MinChars: DefaultMinChars}
}

// Split produces chunks per page. Split indices run continuously across a
// document so chunk IDs stay unique when a page yields several chunks.
func (s *SemanticSplitter) Split(pages []Page) []domain.Chunk {
	var chunks []domain.Chunk
	splitIndex := 0

	for _, page := range pages {
		var buffer strings.Builder

		flush := func() {
			text := strings.TrimSpace(buffer.String())
			if text == "" {
				return
			}
			chunks = append(chunks, domain.Chunk{
				ID:      domain.ChunkID(page.DocID, page.PageNumber, splitIndex),
				Content: text,
				Meta: domain.ChunkMeta{
					DocID:      page.DocID,
					PageNumber: page.PageNumber,
					SourceFile: page.SourceFile,
					SplitIndex: splitIndex,
				},
			})
			splitIndex++
			buffer.Reset()
		}

		for _, block := range splitBlocks(page.Content, s.MaxChars) {
			if buffer.Len() > 0 && buffer.Len()+len(block)+1 > s.MaxChars {
				if buffer.Len() >= s.MinChars {
					flush()
				} else {
					// Undersized buffer: absorb the block anyway rather
					// than emitting a fragment.
					buffer.WriteByte(' ')
					buffer.WriteString(block)
					flush()
					continue
				}
			}
			if buffer.Len() > 0 {
				buffer.WriteByte(' ')
			}
			buffer.WriteString(block)
		}
		flush()
	}
	return chunks
}

// splitBlocks cuts text into sentence-bounded blocks no longer than maxChars.
func splitBlocks(text string, maxChars int) []string {
	sentences := splitSentences(text)

	var blocks []string
	var current strings.Builder
	for _, sent := range sentences {
		if current.Len() > 0 && current.Len()+len(sent)+1 > maxChars {
			blocks = append(blocks, current.String())
			current.Reset()
		}
		if current.Len() > 0 {
			current.WriteByte(' ')
		}
		current.WriteString(sent)
	}
	if current.Len() > 0 {
		blocks = append(blocks, current.String())
	}
	return blocks
}

// splitSentences splits on terminal punctuation followed by a space.
// Deliberately simple: determinism matters more than linguistic precision.
func splitSentences(text string) []string {
	var out []string
	start := 0
	for i := 0; i < len(text)-1; i++ {
		switch text[i] {
		case '.', '?', '!':
			if text[i+1] == ' ' {
				out = append(out, strings.TrimSpace(text[start:i+1]))
				start = i + 2
			}
		}
	}
	if start < len(text) {
		if rest := strings.TrimSpace(text[start:]); rest != "" {
			out = append(out, rest)
		}
	}
	return out
}
