package dense

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/MediqAI/mediq-mvp/engine/domain"
)

// DefaultThreshold is the similarity floor below which the dense retriever
// abstains. Scores are cosine similarities in [-1, 1].
const DefaultThreshold = 0.45

// DefaultTopK is the default dense candidate count.
const DefaultTopK = 5

// Embedder embeds texts into L2-normalized vectors. The same model must be
// used at build and query time; model identity is part of the corpus
// fingerprint, which guarantees vector-space compatibility.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Searcher is the nearest-neighbour backend. The in-process Index is the
// default; a remote backend (Qdrant) can stand in for larger corpora.
type Searcher interface {
	Search(ctx context.Context, vector []float32, topK int) ([]domain.Candidate, error)
}

// LocalSearcher adapts the sealed in-process Index to the Searcher interface.
type LocalSearcher struct {
	Index *Index
}

func (s LocalSearcher) Search(_ context.Context, vector []float32, topK int) ([]domain.Candidate, error) {
	return s.Index.Search(vector, topK)
}

// Retriever embeds a query and searches the dense index, applying the
// confidence floor.
type Retriever struct {
	embed     Embedder
	search    Searcher
	threshold float64
	topK      int
	logger    *slog.Logger
}

// NewRetriever creates a dense retriever. threshold <= 0 selects the default.
func NewRetriever(embed Embedder, search Searcher, threshold float64, topK int, logger *slog.Logger) *Retriever {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if topK <= 0 {
		topK = DefaultTopK
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{embed: embed, search: search, threshold: threshold, topK: topK, logger: logger}
}

// Search embeds the query and returns the top-K candidates, best first.
// The similarity floor is a global gate: it is evaluated once against the
// single best score. If the top score clears it, all candidates are
// returned unfiltered; if not, the retriever abstains with no results.
func (r *Retriever) Search(ctx context.Context, query string) (domain.Status, []domain.Candidate, error) {
	vecs, err := r.embed.Embed(ctx, []string{query})
	if err != nil {
		return "", nil, domain.NewRetrievalError("embed query", err)
	}
	if len(vecs) != 1 {
		return "", nil, domain.NewRetrievalError("embed query",
			fmt.Errorf("embedder returned %d vectors for 1 text", len(vecs)))
	}

	candidates, err := r.search.Search(ctx, vecs[0], r.topK)
	if err != nil {
		return "", nil, domain.NewRetrievalError("dense search", err)
	}

	if len(candidates) == 0 || candidates[0].Score < r.threshold {
		top := 0.0
		if len(candidates) > 0 {
			top = candidates[0].Score
		}
		r.logger.Info("dense retriever abstains", "top_score", top, "threshold", r.threshold)
		return domain.StatusNoAnswer, nil, nil
	}

	return domain.StatusAnswer, candidates, nil
}
