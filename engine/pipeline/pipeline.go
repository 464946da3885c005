package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/MediqAI/mediq-mvp/engine/domain"
	"github.com/MediqAI/mediq-mvp/engine/memory"
	"github.com/MediqAI/mediq-mvp/pkg/metrics"
)

// HistoryProvider reads the bounded recent history of a conversation,
// oldest first.
type HistoryProvider interface {
	RecentTurns(ctx context.Context, conversationID string, limit int) ([]domain.Turn, error)
}

// Rewriter conditionally reformulates the query; "" means no rewrite.
// By contract it never fails.
type Rewriter interface {
	Rewrite(ctx context.Context, query, history string) string
}

// Retriever is the hybrid retrieval entry point.
type Retriever interface {
	Search(ctx context.Context, query string) (domain.Status, []domain.Candidate, error)
}

// Reranker orders the merged candidates and truncates to the evidence set.
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []domain.Candidate, topK int) ([]domain.Candidate, error)
}

// Options configures the pipeline.
type Options struct {
	HistoryWindow int
	TopK          int
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		HistoryWindow: memory.DefaultWindow,
		TopK:          5,
	}
}

// Pipeline sequences MEMORY -> REWRITE -> RETRIEVE for one question.
// It is stateless across requests: every Run constructs fresh State, and
// the only shared collaborators are read-only after startup.
type Pipeline struct {
	history   HistoryProvider
	rewriter  Rewriter
	retriever Retriever
	reranker  Reranker
	opts      Options
	logger    *slog.Logger

	questions   *metrics.Counter
	abstentions *metrics.Counter
	rewrites    *metrics.Counter
	latency     *metrics.Histogram
}

// New creates a Pipeline. reg may be nil to disable metrics.
func New(history HistoryProvider, rewriter Rewriter, retriever Retriever, reranker Reranker, opts Options, logger *slog.Logger, reg *metrics.Registry) *Pipeline {
	if opts.HistoryWindow <= 0 {
		opts.HistoryWindow = memory.DefaultWindow
	}
	if opts.TopK <= 0 {
		opts.TopK = 5
	}
	if logger == nil {
		logger = slog.Default()
	}
	if reg == nil {
		reg = metrics.New()
	}
	return &Pipeline{
		history:   history,
		rewriter:  rewriter,
		retriever: retriever,
		reranker:  reranker,
		opts:      opts,
		logger:    logger,

		questions:   reg.Counter("pipeline_questions_total", "Questions entering the pipeline."),
		abstentions: reg.Counter("pipeline_abstentions_total", "Questions ending in NO_ANSWER."),
		rewrites:    reg.Counter("pipeline_rewrites_total", "Queries reformulated by the rewriter."),
		latency:     reg.Histogram("pipeline_retrieval_seconds", "End-to-end retrieval latency.", nil),
	}
}

// Run executes the pipeline for one question. conversationID may be empty
// for a first turn; the memory stage then yields empty history without
// error. Retrieval-path failures propagate; they are never folded into an
// abstention.
func (p *Pipeline) Run(ctx context.Context, query, conversationID string) (Outcome, *State, error) {
	start := time.Now()
	p.questions.Inc()

	state := &State{Query: query}
	p.logger.Info("pipeline start", "query_len", len(query), "conversation", conversationID != "")

	// MEMORY
	if conversationID != "" {
		turns, err := p.history.RecentTurns(ctx, conversationID, p.opts.HistoryWindow)
		if err != nil {
			return Outcome{}, state, domain.NewRetrievalError("memory", err)
		}
		state.History = memory.FormatHistory(turns)
	}

	// REWRITE is advisory; the rewriter absorbs its own failures.
	state.RewrittenQuery = p.rewriter.Rewrite(ctx, state.Query, state.History)
	if state.RewrittenQuery != "" {
		p.rewrites.Inc()
	}

	// RETRIEVE
	status, merged, err := p.retriever.Search(ctx, state.EffectiveQuery())
	if err != nil {
		return Outcome{}, state, err
	}
	if status == domain.StatusNoAnswer {
		p.abstentions.Inc()
		p.latency.Since(start)
		p.logger.Info("pipeline abstained", "took", time.Since(start).Round(time.Millisecond))
		return Abstained(), state, nil
	}

	ranked, err := p.reranker.Rerank(ctx, state.EffectiveQuery(), merged, p.opts.TopK)
	if err != nil {
		return Outcome{}, state, err
	}
	state.Candidates = ranked

	outcome, err := Answered(ranked)
	if err != nil {
		return Outcome{}, state, domain.NewRetrievalError("rerank", err)
	}

	p.latency.Since(start)
	p.logger.Info("pipeline answered", "evidence", len(ranked),
		"took", time.Since(start).Round(time.Millisecond))
	return outcome, state, nil
}
