package memory

import (
	"strings"

	"github.com/MediqAI/mediq-mvp/engine/domain"
)

// DefaultWindow is the number of recent turns injected into the pipeline.
const DefaultWindow = 6

// FormatHistory renders turns (oldest first) as the text block the query
// rewriter consumes: one "ROLE: content" line per turn.
func FormatHistory(turns []domain.Turn) string {
	if len(turns) == 0 {
		return ""
	}
	lines := make([]string, len(turns))
	for i, t := range turns {
		lines[i] = strings.ToUpper(string(t.Role)) + ": " + t.Content
	}
	return strings.Join(lines, "\n")
}
