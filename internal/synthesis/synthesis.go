package synthesis

import (
	"context"
	"fmt"
	"strings"

	"inquest/internal/extract"
	"inquest/internal/fetch"
	"inquest/internal/llm"
	"inquest/internal/logging"
)

// Context is everything the synthesizer needs to compose an answer.
type Context struct {
	Question   string
	Statements []extract.Statement
	Sources    []fetch.Page
}

// Synthesizer composes a cited answer from extracted statements.
type Synthesizer struct {
	client llm.Client
}

// NewSynthesizer creates a synthesizer over the given LLM client.
func NewSynthesizer(client llm.Client) *Synthesizer {
	return &Synthesizer{client: client}
}

const synthesisSystemPrompt = `You are a research assistant composing a final answer.
Rely primarily on facts graded DIRECT_ANSWER or HIGHLY_RELEVANT; use lower
grades only to fill gaps. Cite sources inline by their id, e.g. [1].
If the facts do not answer the question, say what is missing.`

// Synthesize makes a single best-effort completion call. The raw response
// is returned as-is; there is no retry or parsing.
func (s *Synthesizer) Synthesize(ctx context.Context, sc Context) (string, error) {
	timer := logging.StartTimer(logging.CategorySynthesis, "Synthesize")
	defer timer.Stop()

	prompt := buildPrompt(sc)

	answer, err := s.client.CompleteWithSystem(ctx, synthesisSystemPrompt, prompt)
	if err != nil {
		return "", fmt.Errorf("synthesis call failed: %w", err)
	}

	logging.Synthesis("Synthesized answer (%d chars from %d sources)", len(answer), len(sc.Sources))
	return answer, nil
}

func buildPrompt(sc Context) string {
	var sb strings.Builder

	sb.WriteString("Research question:\n")
	sb.WriteString(sc.Question)
	sb.WriteString("\n\nSources:\n")
	for _, src := range sc.Sources {
		fmt.Fprintf(&sb, "[%d] %s (%s)\n", src.ID, src.Title, src.URL)
	}

	sb.WriteString("\nExtracted facts:\n")
	for _, st := range sc.Statements {
		for _, f := range st.Facts {
			fmt.Fprintf(&sb, "[%d] (%s) %s\n", st.SourceID, f.Relevance, f.Statement)
		}
	}

	sb.WriteString("\nCompose the answer now.")
	return sb.String()
}
