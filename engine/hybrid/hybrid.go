// Package hybrid merges dense (vector) and sparse (BM25) retrieval into one
// candidate set. Recall here is deliberately generous: the merge keeps
// everything either leg found, and the reranker downstream makes the real
// relevance judgment.
package hybrid

import (
	"context"
	"log/slog"

	"github.com/MediqAI/mediq-mvp/engine/domain"
	"github.com/MediqAI/mediq-mvp/pkg/fn"
)

// DefaultSparseK is the default sparse candidate count.
const DefaultSparseK = 5

// DenseRetriever is the confidence-gated dense leg.
type DenseRetriever interface {
	Search(ctx context.Context, query string) (domain.Status, []domain.Candidate, error)
}

// SparseRetriever is the lexical leg.
type SparseRetriever interface {
	Search(ctx context.Context, query string, k int) ([]domain.Candidate, error)
}

// Retriever runs both legs and fuses their results.
type Retriever struct {
	dense   DenseRetriever
	sparse  SparseRetriever
	sparseK int
	logger  *slog.Logger
}

// New creates a hybrid retriever.
func New(dense DenseRetriever, sparse SparseRetriever, sparseK int, logger *slog.Logger) *Retriever {
	if sparseK <= 0 {
		sparseK = DefaultSparseK
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{dense: dense, sparse: sparse, sparseK: sparseK, logger: logger}
}

// Search runs dense and sparse retrieval concurrently and merges by chunk ID.
//
// Merge rules:
//   - dense candidates enter first, carrying their raw similarity scores;
//   - sparse candidates fill gaps only; a chunk found by both keeps its
//     dense score, since the two scales are incommensurate and must not be
//     blended;
//   - output keeps insertion order (dense first, then sparse-only); the
//     reranker owns final ordering.
//
// The sparse leg always runs, even when the dense leg abstains: lexical
// overlap can rescue recall when embedding similarity is low. The hybrid
// layer abstains only when the merged set is empty.
func (r *Retriever) Search(ctx context.Context, query string) (domain.Status, []domain.Candidate, error) {
	legs := fn.FanOutResult(
		func() fn.Result[[]domain.Candidate] {
			status, cands, err := r.dense.Search(ctx, query)
			if err != nil {
				return fn.Err[[]domain.Candidate](err)
			}
			if status == domain.StatusNoAnswer {
				return fn.Ok[[]domain.Candidate](nil)
			}
			return fn.Ok(cands)
		},
		func() fn.Result[[]domain.Candidate] {
			cands, err := r.sparse.Search(ctx, query, r.sparseK)
			if err != nil {
				return fn.Err[[]domain.Candidate](err)
			}
			return fn.Ok(cands)
		},
	)

	results, err := legs.Unwrap()
	if err != nil {
		return "", nil, domain.NewRetrievalError("hybrid search", err)
	}
	denseCands, sparseCands := results[0], results[1]

	// Dense first, so a chunk found by both legs keeps its dense score.
	merged := fn.UniqueBy(append(denseCands, sparseCands...),
		func(c domain.Candidate) string { return c.Chunk.ID })

	r.logger.Info("hybrid search merged",
		"dense", len(denseCands), "sparse", len(sparseCands),
		"sparse_only", len(merged)-len(denseCands))

	if len(merged) == 0 {
		return domain.StatusNoAnswer, nil, nil
	}
	return domain.StatusAnswer, merged, nil
}
