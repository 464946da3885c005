package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/MediqAI/mediq-mvp/pkg/resilience"
)

// CrossEncoderClient implements Scorer against a cross-encoder serving
// endpoint speaking the /v1/rerank protocol (llama.cpp server, TEI, and
// compatible rerankers).
type CrossEncoderClient struct {
	baseURL string
	model   string
	client  *http.Client
	limiter *resilience.Limiter
}

// NewCrossEncoderClient creates a reranker client. Cross-encoder scoring is
// the most expensive call per request; rps > 0 caps the request rate.
func NewCrossEncoderClient(baseURL, model string, rps float64) *CrossEncoderClient {
	var limiter *resilience.Limiter
	if rps > 0 {
		limiter = resilience.NewLimiter(resilience.LimiterOpts{Rate: rps, Burst: 1})
	}
	return &CrossEncoderClient{
		baseURL: baseURL,
		model:   model,
		client:  &http.Client{},
		limiter: limiter,
	}
}

type rerankRequest struct {
	Model     string   `json:"model,omitempty"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
}

type rerankResponse struct {
	Results []struct {
		Index int     `json:"index"`
		Score float64 `json:"relevance_score"`
	} `json:"results"`
}

// Score implements Scorer. The server returns (index, score) pairs; they
// are mapped back to input order here so callers never see server ordering.
func (c *CrossEncoderClient) Score(ctx context.Context, query string, documents []string) ([]float64, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	body, _ := json.Marshal(rerankRequest{Model: c.model, Query: query, Documents: documents})
	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/v1/rerank", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rerank: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		return nil, fmt.Errorf("rerank: status %d", resp.StatusCode)
	}

	var result rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("rerank decode: %w", err)
	}

	scores := make([]float64, len(documents))
	for _, r := range result.Results {
		if r.Index < 0 || r.Index >= len(documents) {
			return nil, fmt.Errorf("rerank: result index %d out of range", r.Index)
		}
		scores[r.Index] = r.Score
	}
	return scores, nil
}
