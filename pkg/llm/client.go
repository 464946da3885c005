// Package llm provides HTTP clients for the model-serving collaborators:
// embedding, chat completion, and streaming chat. It speaks the Ollama API
// and is the only place the engine touches a language model.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"

	"golang.org/x/time/rate"
)

// Client talks to an Ollama-compatible server.
type Client struct {
	baseURL    string
	embedModel string
	chatModel  string
	client     *http.Client
	embedLimit *rate.Limiter
}

// Options configures the client.
type Options struct {
	BaseURL    string
	EmbedModel string
	ChatModel  string
	// EmbedRPS rate-limits embedding calls; zero disables limiting.
	EmbedRPS float64
}

// New creates a Client.
func New(opts Options) *Client {
	var limiter *rate.Limiter
	if opts.EmbedRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.EmbedRPS), 1)
	}
	return &Client{
		baseURL:    opts.BaseURL,
		embedModel: opts.EmbedModel,
		chatModel:  opts.ChatModel,
		client:     &http.Client{},
		embedLimit: limiter,
	}
}

type embedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embedResponse struct {
	Embedding []float64 `json:"embedding"`
}

// Embed embeds texts one by one and returns L2-normalized vectors.
// Normalization happens here so inner product downstream always equals
// cosine similarity regardless of the serving model's conventions.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("llm: embed received empty input")
	}

	out := make([][]float32, len(texts))
	for i, text := range texts {
		if c.embedLimit != nil {
			if err := c.embedLimit.Wait(ctx); err != nil {
				return nil, err
			}
		}
		vec, err := c.embedOne(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("llm: embed [%d]: %w", i, err)
		}
		out[i] = vec
	}
	return out, nil
}

func (c *Client) embedOne(ctx context.Context, text string) ([]float32, error) {
	body, _ := json.Marshal(embedRequest{Model: c.embedModel, Prompt: text})
	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var result embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return normalize(result.Embedding), nil
}

// normalize converts to float32 and scales to unit length.
func normalize(v []float64) []float32 {
	var sum float64
	for _, x := range v {
		sum += x * x
	}
	norm := math.Sqrt(sum)
	out := make([]float32, len(v))
	if norm == 0 {
		return out
	}
	for i, x := range v {
		out[i] = float32(x / norm)
	}
	return out
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string         `json:"model"`
	Messages []chatMessage  `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  map[string]any `json:"options,omitempty"`
}

type chatResponse struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Done bool `json:"done"`
}

// Generate produces a single completion for a system+user prompt pair.
func (c *Client) Generate(ctx context.Context, systemPrompt, userPrompt string, temperature float64) (string, error) {
	body, _ := json.Marshal(chatRequest{
		Model: c.chatModel,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		Stream:  false,
		Options: map[string]any{"temperature": temperature},
	})
	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("llm: chat: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		return "", fmt.Errorf("llm: chat: status %d", resp.StatusCode)
	}

	var result chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("llm: chat decode: %w", err)
	}
	return result.Message.Content, nil
}
