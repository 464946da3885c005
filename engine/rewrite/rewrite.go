// Package rewrite conditionally reformulates a conversationally incomplete
// query into a self-contained one using recent history. It is advisory by
// contract: every failure path resolves to "use the original query" and no
// error ever escapes to the orchestrator.
package rewrite

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"
)

const (
	// minSelfContainedLen is the query length below which a query is
	// assumed to be conversationally terse.
	minSelfContainedLen = 12
	// DefaultTimeout bounds the rewrite model call.
	DefaultTimeout = 15 * time.Second

	rewriteTemperature = 0.1
)

const systemPrompt = `You rewrite follow-up medical questions into standalone questions.
Given the conversation so far and the user's latest question, produce a single
self-contained question that preserves the user's intent. Output only the
rewritten question, nothing else.`

// pronounPattern matches anaphoric pronouns that signal context dependence.
var pronounPattern = regexp.MustCompile(`(?i)\b(it|they|that|this|those|these|he|she)\b`)

// continuationPrefixes are openers that signal a follow-up turn.
var continuationPrefixes = []string{"and ", "also ", "what about", "then "}

// Generator is the model call used to produce the reformulation.
type Generator interface {
	Generate(ctx context.Context, systemPrompt, userPrompt string, temperature float64) (string, error)
}

// Rewriter holds the rewrite gate and the model client.
type Rewriter struct {
	gen     Generator
	timeout time.Duration
	logger  *slog.Logger
}

// New creates a Rewriter. timeout <= 0 selects the default.
func New(gen Generator, timeout time.Duration, logger *slog.Logger) *Rewriter {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Rewriter{gen: gen, timeout: timeout, logger: logger}
}

// needsRewrite is the heuristic gate. Rewriting costs a model round trip,
// so it runs only when the query is likely under-specified relative to the
// conversation: never without history, otherwise on terse queries,
// anaphoric pronouns, or continuation openers.
func needsRewrite(query, history string) bool {
	if history == "" {
		return false
	}
	trimmed := strings.TrimSpace(query)
	if len(trimmed) < minSelfContainedLen {
		return true
	}
	if pronounPattern.MatchString(trimmed) {
		return true
	}
	lower := strings.ToLower(trimmed)
	for _, prefix := range continuationPrefixes {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}

// Rewrite returns the reformulated query, or "" meaning "use the original
// query unchanged". It never returns an error: any failure during the model
// call (timeout, malformed output, unavailability) is logged and absorbed.
func (r *Rewriter) Rewrite(ctx context.Context, query, history string) string {
	if !needsRewrite(query, history) {
		return ""
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	userPrompt := fmt.Sprintf("Conversation so far:\n%s\n\nLatest question: %s", history, query)

	rewritten, err := r.gen.Generate(ctx, systemPrompt, userPrompt, rewriteTemperature)
	if err != nil {
		r.logger.Warn("query rewrite failed, using original query", "err", err)
		return ""
	}

	rewritten = strings.TrimSpace(rewritten)
	if rewritten == "" || strings.EqualFold(rewritten, query) {
		return ""
	}

	r.logger.Info("query rewritten", "original_len", len(query), "rewritten_len", len(rewritten))
	return rewritten
}
