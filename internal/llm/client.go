// Package llm defines the text-completion collaborator consumed by the
// research engine, plus a typed JSON parse/repair pipeline for structured
// LLM output.
package llm

import "context"

// Client is the minimal interface components use to call an LLM.
type Client interface {
	Complete(ctx context.Context, prompt string) (string, error)
	CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}
