package rerank

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MediqAI/mediq-mvp/engine/domain"
)

type fakeScorer struct {
	scores []float64
	err    error
	calls  int
}

func (f *fakeScorer) Score(_ context.Context, _ string, docs []string) ([]float64, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.scores[:len(docs)], nil
}

func cand(id string, score float64) domain.Candidate {
	return domain.Candidate{Chunk: domain.Chunk{ID: id, Content: "text " + id}, Score: score}
}

func TestRerankOrdersByScore(t *testing.T) {
	scorer := &fakeScorer{scores: []float64{0.1, 0.9, 0.5}}
	r := New(scorer, nil)

	got, err := r.Rerank(context.Background(), "q", []domain.Candidate{
		cand("a", 0.99), cand("b", 0.01), cand("c", 0.5),
	}, 5)
	if err != nil {
		t.Fatal(err)
	}
	if got[0].Chunk.ID != "b" || got[1].Chunk.ID != "c" || got[2].Chunk.ID != "a" {
		t.Fatalf("wrong order: %s, %s, %s", got[0].Chunk.ID, got[1].Chunk.ID, got[2].Chunk.ID)
	}
	// Retrieval scores are replaced, not blended.
	if got[0].Score != 0.9 {
		t.Fatalf("expected rerank score 0.9, got %v", got[0].Score)
	}
}

func TestRerankStableOnTies(t *testing.T) {
	scorer := &fakeScorer{scores: []float64{0.5, 0.5, 0.5}}
	r := New(scorer, nil)

	got, err := r.Rerank(context.Background(), "q", []domain.Candidate{
		cand("a", 0), cand("b", 0), cand("c", 0),
	}, 5)
	if err != nil {
		t.Fatal(err)
	}
	if got[0].Chunk.ID != "a" || got[1].Chunk.ID != "b" || got[2].Chunk.ID != "c" {
		t.Fatal("ties must preserve input order")
	}
}

func TestRerankTruncates(t *testing.T) {
	scorer := &fakeScorer{scores: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7}}
	r := New(scorer, nil)

	cands := make([]domain.Candidate, 7)
	for i := range cands {
		cands[i] = cand(string(rune('a'+i)), 0)
	}
	got, err := r.Rerank(context.Background(), "q", cands, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3, got %d", len(got))
	}
	if got[0].Chunk.ID != "g" {
		t.Fatalf("expected best candidate g, got %s", got[0].Chunk.ID)
	}
}

func TestRerankEmptySkipsModel(t *testing.T) {
	scorer := &fakeScorer{}
	r := New(scorer, nil)

	got, err := r.Rerank(context.Background(), "q", nil, 5)
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Fatal("expected nil for empty input")
	}
	if scorer.calls != 0 {
		t.Fatal("scorer must not be invoked for empty input")
	}
}

func TestRerankScorerError(t *testing.T) {
	scorer := &fakeScorer{err: errors.New("model down")}
	r := New(scorer, nil)

	_, err := r.Rerank(context.Background(), "q", []domain.Candidate{cand("a", 0)}, 5)
	if !errors.Is(err, domain.ErrRetrieval) {
		t.Fatalf("expected ErrRetrieval, got %v", err)
	}
}

func TestCrossEncoderClientScore(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/rerank" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req rerankRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Error(err)
		}
		if len(req.Documents) != 2 {
			t.Errorf("expected 2 documents, got %d", len(req.Documents))
		}
		// Server ordering differs from input order on purpose.
		json.NewEncoder(w).Encode(map[string]any{
			"results": []map[string]any{
				{"index": 1, "relevance_score": 0.8},
				{"index": 0, "relevance_score": 0.2},
			},
		})
	}))
	defer srv.Close()

	c := NewCrossEncoderClient(srv.URL, "reranker", 0)
	scores, err := c.Score(context.Background(), "q", []string{"doc a", "doc b"})
	if err != nil {
		t.Fatal(err)
	}
	if scores[0] != 0.2 || scores[1] != 0.8 {
		t.Fatalf("scores not mapped to input order: %v", scores)
	}
}

func TestCrossEncoderClientIndexOutOfRange(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"results": []map[string]any{{"index": 5, "relevance_score": 0.8}},
		})
	}))
	defer srv.Close()

	c := NewCrossEncoderClient(srv.URL, "reranker", 0)
	if _, err := c.Score(context.Background(), "q", []string{"only doc"}); err == nil {
		t.Fatal("expected error for out-of-range index")
	}
}

func TestCrossEncoderClientServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewCrossEncoderClient(srv.URL, "reranker", 0)
	if _, err := c.Score(context.Background(), "q", []string{"doc"}); err == nil {
		t.Fatal("expected error for 500 response")
	}
}
