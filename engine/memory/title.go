package memory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

const (
	titleMaxLen          = 30
	heuristicTitleMaxLen = 50
	titleTemperature     = 0.2
)

const titlePrompt = `Based on this conversation, generate a short, descriptive title
(maximum 6 words). The title should capture the main topic or question.
Generate only the title, nothing else. No quotes, no punctuation at the end.`

// TitleGenerator is the model call used by the LLM title strategy.
type TitleGenerator interface {
	Generate(ctx context.Context, systemPrompt, userPrompt string, temperature float64) (string, error)
}

// titleStrategy is one way of producing a conversation title.
type titleStrategy struct {
	name string
	run  func(ctx context.Context, query, answer string) (string, error)
}

// Titler produces conversation titles by trying an ordered list of
// strategies. Each failure is logged with its reason and the next strategy
// runs; the final heuristic cannot fail, so Title always returns something.
type Titler struct {
	strategies []titleStrategy
	logger     *slog.Logger
}

// NewTitler creates a Titler. With a nil generator only the heuristic runs.
func NewTitler(gen TitleGenerator, logger *slog.Logger) *Titler {
	if logger == nil {
		logger = slog.Default()
	}
	t := &Titler{logger: logger}
	if gen != nil {
		t.strategies = append(t.strategies, titleStrategy{name: "llm", run: llmTitle(gen)})
	}
	t.strategies = append(t.strategies, titleStrategy{name: "heuristic", run: heuristicTitle})
	return t
}

// Title generates a title from the first exchange of a conversation.
func (t *Titler) Title(ctx context.Context, query, answer string) string {
	for _, s := range t.strategies {
		title, err := s.run(ctx, query, answer)
		if err != nil {
			t.logger.Warn("title strategy failed", "strategy", s.name, "err", err)
			continue
		}
		if title != "" {
			return title
		}
	}
	return "New Chat"
}

func llmTitle(gen TitleGenerator) func(ctx context.Context, query, answer string) (string, error) {
	return func(ctx context.Context, query, answer string) (string, error) {
		userPrompt := "User query: " + query
		if answer != "" {
			if len(answer) > 500 {
				answer = answer[:500]
			}
			userPrompt += "\n\nAssistant response: " + answer
		}

		title, err := gen.Generate(ctx, titlePrompt, userPrompt, titleTemperature)
		if err != nil {
			return "", fmt.Errorf("generate title: %w", err)
		}

		title = strings.Trim(strings.TrimSpace(title), `"'`)
		if title == "" {
			return "", fmt.Errorf("empty title from model")
		}
		if len(title) > titleMaxLen {
			title = title[:titleMaxLen-3] + "..."
		}
		return title, nil
	}
}

// heuristicTitle takes the first sentence of the query, truncated at a word
// boundary. It never returns an error.
func heuristicTitle(_ context.Context, query, _ string) (string, error) {
	query = strings.Join(strings.Fields(query), " ")

	first := query
	for _, sep := range []string{".", "?", "!"} {
		if idx := strings.Index(first, sep); idx != -1 {
			first = first[:idx]
		}
	}
	first = strings.TrimSpace(first)

	if len(first) > heuristicTitleMaxLen {
		cut := first[:heuristicTitleMaxLen]
		if idx := strings.LastIndexByte(cut, ' '); idx > 0 {
			cut = cut[:idx]
		}
		first = cut + "..."
	}
	if first == "" {
		first = "New Chat"
	}
	return first, nil
}
