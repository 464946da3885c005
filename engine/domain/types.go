// Package domain defines core domain types, constants, and validation for the
// Mediq engine pipeline. It acts as the validation gate at pipeline entry points.
package domain

import "fmt"

// Status is the terminal outcome of the retrieval pipeline.
type Status string

const (
	// StatusAnswer means retrieval produced evidence good enough to answer.
	StatusAnswer Status = "ANSWER"
	// StatusNoAnswer means the pipeline abstains: no retrieved evidence
	// cleared the confidence bar. This is a data outcome, not an error.
	StatusNoAnswer Status = "NO_ANSWER"
)

// Role identifies the author of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one conversation message, consumed read-only by the pipeline.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ChunkMeta carries the provenance of a chunk.
type ChunkMeta struct {
	DocID      string `json:"doc_id"`
	PageNumber int    `json:"page_number"`
	SourceFile string `json:"source_file"`
	SplitIndex int    `json:"split_index"`
}

// Chunk is a unit of retrievable text extracted from a source document.
// Chunks are immutable once produced and superseded wholesale on rebuild.
type Chunk struct {
	ID      string    `json:"chunk_id"`
	Content string    `json:"content"`
	Meta    ChunkMeta `json:"metadata"`
}

// ChunkID derives the stable chunk identifier from provenance.
// Contract: {doc_id}_p{page_number}_s{split_index}.
func ChunkID(docID string, page, splitIndex int) string {
	return fmt.Sprintf("%s_p%d_s%d", docID, page, splitIndex)
}

// Candidate is a chunk paired with a retrieval score. Score semantics differ
// by retriever (cosine similarity for dense, BM25 for sparse) and are not
// commensurate across sources.
type Candidate struct {
	Chunk Chunk   `json:"chunk"`
	Score float64 `json:"score"`
}
