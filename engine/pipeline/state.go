// Package pipeline orchestrates one question through memory, rewrite,
// hybrid retrieval, and reranking, ending in either an evidence set or an
// explicit abstention.
package pipeline

import (
	"fmt"

	"github.com/MediqAI/mediq-mvp/engine/domain"
)

// State is the per-request transient record threaded through the stages.
// It is owned by exactly one request execution and never shared.
type State struct {
	Query          string
	History        string
	RewrittenQuery string // "" means the original query is used unchanged
	Candidates     []domain.Candidate
}

// EffectiveQuery is the query retrieval actually runs with.
func (s *State) EffectiveQuery() string {
	if s.RewrittenQuery != "" {
		return s.RewrittenQuery
	}
	return s.Query
}

// Outcome is the pipeline's terminal state. The constructors enforce the
// contract boundary to the generation stage: an ANSWER always carries at
// least one chunk, and a NO_ANSWER never carries any.
type Outcome struct {
	status   domain.Status
	evidence []domain.Candidate
}

// Answered builds the ANSWER terminal state.
func Answered(evidence []domain.Candidate) (Outcome, error) {
	if len(evidence) == 0 {
		return Outcome{}, fmt.Errorf("pipeline: answer outcome requires evidence")
	}
	return Outcome{status: domain.StatusAnswer, evidence: evidence}, nil
}

// Abstained builds the NO_ANSWER terminal state.
func Abstained() Outcome {
	return Outcome{status: domain.StatusNoAnswer}
}

// Status returns the terminal status.
func (o Outcome) Status() domain.Status { return o.status }

// Evidence returns the reranked evidence set; empty for NO_ANSWER.
func (o Outcome) Evidence() []domain.Candidate { return o.evidence }

// IsAnswer reports whether generation may run on this outcome.
func (o Outcome) IsAnswer() bool { return o.status == domain.StatusAnswer }
