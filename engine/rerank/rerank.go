// Package rerank applies second-pass cross-encoder relevance scoring to the
// merged candidate set. This is the step that decides what the generator
// actually sees.
package rerank

import (
	"context"
	"log/slog"
	"sort"

	"github.com/MediqAI/mediq-mvp/engine/domain"
)

// DefaultTopK is the default size of the reranked evidence set.
const DefaultTopK = 5

// Scorer scores (query, document) pairs jointly. Scores are returned in
// input order; higher means more relevant.
type Scorer interface {
	Score(ctx context.Context, query string, documents []string) ([]float64, error)
}

// Reranker orders candidates by cross-encoder score.
type Reranker struct {
	scorer Scorer
	logger *slog.Logger
}

// New creates a Reranker.
func New(scorer Scorer, logger *slog.Logger) *Reranker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reranker{scorer: scorer, logger: logger}
}

// Rerank scores every candidate against the query, sorts descending by
// rerank score (stable, so input order breaks ties), and truncates to topK.
// Returned candidates carry their rerank score, replacing the retrieval
// score. Empty input short-circuits without invoking the model.
func (r *Reranker) Rerank(ctx context.Context, query string, candidates []domain.Candidate, topK int) ([]domain.Candidate, error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	if topK <= 0 {
		topK = DefaultTopK
	}

	docs := make([]string, len(candidates))
	for i, c := range candidates {
		docs[i] = c.Chunk.Content
	}

	scores, err := r.scorer.Score(ctx, query, docs)
	if err != nil {
		return nil, domain.NewRetrievalError("rerank", err)
	}

	ranked := make([]domain.Candidate, len(candidates))
	for i, c := range candidates {
		ranked[i] = domain.Candidate{Chunk: c.Chunk, Score: scores[i]}
	}
	sort.SliceStable(ranked, func(a, b int) bool {
		return ranked[a].Score > ranked[b].Score
	})

	if len(ranked) > topK {
		ranked = ranked[:topK]
	}

	r.logger.Info("rerank complete", "candidates", len(candidates), "kept", len(ranked))
	return ranked, nil
}
