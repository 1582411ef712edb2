// Package search converts a research question into a structured search
// plan and dispatches it across category-specific backends, collecting
// candidate sources for retrieval.
package search

import "context"

// Candidate is a single link a backend proposes for retrieval.
type Candidate struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"description"`
}

// Backend executes a query against one source category.
type Backend interface {
	Search(ctx context.Context, query string, maxResults int) ([]Candidate, error)
}
