package sparse

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/MediqAI/mediq-mvp/engine/domain"
)

// Store is the sparse lexical index over the chunk corpus. Chunk tokens are
// preprocessed once at build time and stored in an FTS5 table, so query-time
// scoring uses the exact same token stream. Read-only after Build or Open.
type Store struct {
	db    *sql.DB
	count int
}

const schema = `
CREATE TABLE IF NOT EXISTS chunks (
	id           INTEGER PRIMARY KEY,
	chunk_id     TEXT NOT NULL UNIQUE,
	content      TEXT NOT NULL,
	doc_id       TEXT NOT NULL,
	page_number  INTEGER NOT NULL,
	source_file  TEXT NOT NULL,
	split_index  INTEGER NOT NULL
);
CREATE VIRTUAL TABLE IF NOT EXISTS chunks_fts USING fts5(
	tokens,
	tokenize = "unicode61 tokenchars '-'"
);
`

// Build creates a sparse index at path from the full chunk list.
// Insertion order defines corpus order, which later breaks score ties.
func Build(ctx context.Context, path string, chunks []domain.Chunk) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sparse: open %s: %w", path, err)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sparse: create schema: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("sparse: begin: %w", err)
	}
	for i, c := range chunks {
		rowid := i + 1
		_, err := tx.ExecContext(ctx,
			`INSERT INTO chunks (id, chunk_id, content, doc_id, page_number, source_file, split_index)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			rowid, c.ID, c.Content, c.Meta.DocID, c.Meta.PageNumber, c.Meta.SourceFile, c.Meta.SplitIndex)
		if err != nil {
			tx.Rollback()
			db.Close()
			return nil, fmt.Errorf("sparse: insert chunk %s: %w", c.ID, err)
		}
		tokens := strings.Join(Tokenize(c.Content), " ")
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO chunks_fts (rowid, tokens) VALUES (?, ?)`, rowid, tokens); err != nil {
			tx.Rollback()
			db.Close()
			return nil, fmt.Errorf("sparse: index chunk %s: %w", c.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		db.Close()
		return nil, fmt.Errorf("sparse: commit: %w", err)
	}

	return &Store{db: db, count: len(chunks)}, nil
}

// Open loads an existing sparse index and verifies it is non-empty.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sparse: open %s: %w", path, err)
	}

	var count int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&count); err != nil {
		db.Close()
		return nil, &domain.IndexError{Artifact: "sparse index", Wrapped: err}
	}
	if count == 0 {
		db.Close()
		return nil, &domain.IndexError{Artifact: "sparse index is empty"}
	}
	return &Store{db: db, count: count}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// Count returns the number of indexed chunks.
func (s *Store) Count() int { return s.count }

// Search returns up to k chunks with positive lexical overlap, best first.
// Documents sharing no query token are not returned. Ties break by corpus
// order. There is no score threshold; absolute BM25 magnitudes are only
// meaningful relative to each other.
func (s *Store) Search(ctx context.Context, query string, k int) ([]domain.Candidate, error) {
	tokens := Tokenize(query)
	if len(tokens) == 0 || k <= 0 {
		return nil, nil
	}

	// SQLite's bm25() is negated (lower is better); ORDER BY score ASC
	// yields best-first, rowid breaks ties in corpus order.
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.chunk_id, c.content, c.doc_id, c.page_number, c.source_file, c.split_index,
		       bm25(chunks_fts) AS score
		FROM chunks_fts f
		JOIN chunks c ON c.id = f.rowid
		WHERE chunks_fts MATCH ?
		ORDER BY score ASC, c.id ASC
		LIMIT ?`,
		matchExpr(tokens), k)
	if err != nil {
		return nil, fmt.Errorf("sparse: search: %w", err)
	}
	defer rows.Close()

	var out []domain.Candidate
	for rows.Next() {
		var c domain.Chunk
		var score float64
		if err := rows.Scan(&c.ID, &c.Content, &c.Meta.DocID, &c.Meta.PageNumber,
			&c.Meta.SourceFile, &c.Meta.SplitIndex, &score); err != nil {
			return nil, fmt.Errorf("sparse: scan: %w", err)
		}
		out = append(out, domain.Candidate{Chunk: c, Score: -score})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sparse: rows: %w", err)
	}
	return out, nil
}

// matchExpr builds an OR query over quoted tokens. Quoting keeps hyphenated
// terms intact under FTS5 syntax.
func matchExpr(tokens []string) string {
	quoted := make([]string, len(tokens))
	for i, t := range tokens {
		quoted[i] = `"` + strings.ReplaceAll(t, `"`, `""`) + `"`
	}
	return strings.Join(quoted, " OR ")
}
