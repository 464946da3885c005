package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/MediqAI/mediq-mvp/engine/domain"
	"github.com/MediqAI/mediq-mvp/pkg/fn"
	"github.com/MediqAI/mediq-mvp/pkg/resilience"
)

const answerSystemPrompt = `You are a careful medical information assistant.
Answer the user's question using ONLY the provided reference passages.
Cite the page numbers you used, e.g. (Page 12). If the passages do not
contain enough information to answer, say so honestly. Do not give
diagnoses or treatment advice beyond what the passages state.`

const (
	// maxEvidenceChars bounds the evidence payload handed to the model.
	maxEvidenceChars  = 3000
	answerTemperature = 0.2
)

// NoAnswerMessage is returned to the user when the pipeline abstains.
const NoAnswerMessage = "I could not find reliable information in the medical references to answer that question."

// DegradedMessage is returned when generation stays unavailable after
// retries. The evidence was sound; only the wording step failed.
const DegradedMessage = "I found relevant references but am temporarily unable to compose an answer. Please try again shortly."

// Generator produces text for a system+user prompt pair.
type Generator interface {
	Generate(ctx context.Context, systemPrompt, userPrompt string, temperature float64) (string, error)
}

// StreamGenerator produces text as a token sequence.
type StreamGenerator interface {
	Stream(ctx context.Context, systemPrompt, userPrompt string, temperature float64, emit func(token string) error) error
}

// EvidencePayload formats the reranked chunks as the page-tagged context
// block handed to the generator, truncated to the prompt budget.
func EvidencePayload(evidence []domain.Candidate) string {
	parts := make([]string, len(evidence))
	for i, c := range evidence {
		parts[i] = fmt.Sprintf("[Page %d] %s", c.Chunk.Meta.PageNumber, c.Chunk.Content)
	}
	payload := strings.Join(parts, "\n\n")
	if len(payload) > maxEvidenceChars {
		cut := payload[:maxEvidenceChars]
		if idx := strings.LastIndexByte(cut, ' '); idx > 0 {
			cut = cut[:idx]
		}
		payload = cut
	}
	return payload
}

// userPrompt builds the generation prompt from the question and evidence.
func userPrompt(query string, evidence []domain.Candidate) string {
	return fmt.Sprintf("Reference passages:\n%s\n\nUser question: %s", EvidencePayload(evidence), query)
}

// Answerer runs the generation stage on an ANSWER outcome. Model calls go
// through a circuit breaker and bounded retries with exponential backoff
// and jitter; exhaustion degrades to a placeholder instead of failing the
// request.
type Answerer struct {
	gen     Generator
	stream  StreamGenerator
	breaker *resilience.Breaker
	retry   fn.RetryOpts
	logger  *slog.Logger
}

// NewAnswerer creates an Answerer.
func NewAnswerer(gen Generator, stream StreamGenerator, logger *slog.Logger) *Answerer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Answerer{
		gen:     gen,
		stream:  stream,
		breaker: resilience.NewBreaker(resilience.DefaultBreakerOpts),
		retry: fn.RetryOpts{
			MaxAttempts: 3,
			InitialWait: 500 * time.Millisecond,
			MaxWait:     5 * time.Second,
			Jitter:      true,
		},
		logger: logger,
	}
}

// Answer generates the final answer text for an ANSWER outcome.
func (a *Answerer) Answer(ctx context.Context, query string, outcome Outcome) string {
	if !outcome.IsAnswer() {
		return NoAnswerMessage
	}

	prompt := userPrompt(query, outcome.Evidence())
	result := fn.Retry(ctx, a.retry, func(ctx context.Context) fn.Result[string] {
		var text string
		err := a.breaker.Call(ctx, func(ctx context.Context) error {
			var genErr error
			text, genErr = a.gen.Generate(ctx, answerSystemPrompt, prompt, answerTemperature)
			return genErr
		})
		return fn.FromPair(text, err)
	})

	text, err := result.Unwrap()
	if err != nil {
		a.logger.Warn("generation degraded after retries", "err", err)
		return DegradedMessage
	}
	return text
}

// StreamAnswer streams the final answer tokens for an ANSWER outcome.
// Streaming is not retried: a broken stream surfaces to the transport.
func (a *Answerer) StreamAnswer(ctx context.Context, query string, outcome Outcome, emit func(token string) error) error {
	if !outcome.IsAnswer() {
		return emit(NoAnswerMessage)
	}
	return a.breaker.Call(ctx, func(ctx context.Context) error {
		return a.stream.Stream(ctx, answerSystemPrompt, userPrompt(query, outcome.Evidence()), answerTemperature, emit)
	})
}
