package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestEmbedNormalizes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embeddings" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{"embedding": []float64{3, 4}})
	}))
	defer srv.Close()

	c := New(Options{BaseURL: srv.URL, EmbedModel: "embed"})
	vecs, err := c.Embed(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatal(err)
	}
	if len(vecs) != 2 {
		t.Fatalf("expected 2 vectors, got %d", len(vecs))
	}
	var sum float64
	for _, x := range vecs[0] {
		sum += float64(x) * float64(x)
	}
	if math.Abs(sum-1) > 1e-6 {
		t.Fatalf("vector not unit length: |v|^2 = %v", sum)
	}
	if vecs[0][0] != 0.6 || vecs[0][1] != 0.8 {
		t.Fatalf("unexpected vector: %v", vecs[0])
	}
}

func TestEmbedEmptyInput(t *testing.T) {
	c := New(Options{BaseURL: "http://unused"})
	if _, err := c.Embed(context.Background(), nil); err == nil {
		t.Fatal("expected error for empty input")
	}
}

func TestEmbedServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := New(Options{BaseURL: srv.URL})
	if _, err := c.Embed(context.Background(), []string{"a"}); err == nil {
		t.Fatal("expected error for 503 response")
	}
}

func TestNormalizeZeroVector(t *testing.T) {
	out := normalize([]float64{0, 0, 0})
	if len(out) != 3 || out[0] != 0 {
		t.Fatalf("zero vector should stay zero, got %v", out)
	}
}

func TestGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Error(err)
		}
		if req.Stream {
			t.Error("generate must not request streaming")
		}
		if len(req.Messages) != 2 || req.Messages[0].Role != "system" {
			t.Errorf("unexpected messages: %+v", req.Messages)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"message": map[string]string{"content": "the answer"},
			"done":    true,
		})
	}))
	defer srv.Close()

	c := New(Options{BaseURL: srv.URL, ChatModel: "chat"})
	got, err := c.Generate(context.Background(), "sys", "user", 0.2)
	if err != nil {
		t.Fatal(err)
	}
	if got != "the answer" {
		t.Fatalf("unexpected completion: %q", got)
	}
}

func TestStreamEmitsTokens(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lines := []string{
			`{"message":{"content":"hello"},"done":false}`,
			``,
			`not json at all`,
			`{"message":{"content":" world"},"done":false}`,
			`{"message":{"content":""},"done":true}`,
		}
		for _, line := range lines {
			fmt.Fprintln(w, line)
		}
	}))
	defer srv.Close()

	c := New(Options{BaseURL: srv.URL, ChatModel: "chat"})
	var got string
	err := c.Stream(context.Background(), "sys", "user", 0.2, func(token string) error {
		got += token
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if got != "hello world" {
		t.Fatalf("unexpected tokens: %q", got)
	}
}

func TestStreamEmitErrorAborts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"message":{"content":"first"},"done":false}`)
		fmt.Fprintln(w, `{"message":{"content":"second"},"done":false}`)
	}))
	defer srv.Close()

	c := New(Options{BaseURL: srv.URL, ChatModel: "chat"})
	wantErr := errors.New("client gone")
	var calls int
	err := c.Stream(context.Background(), "sys", "user", 0.2, func(string) error {
		calls++
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected emit error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("stream should stop after the failed emit, got %d calls", calls)
	}
}
