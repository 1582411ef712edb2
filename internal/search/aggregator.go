package search

import (
	"context"
	"fmt"
	"strings"

	"inquest/internal/llm"
	"inquest/internal/logging"
)

// ErrQueryConversion indicates the LLM could not produce a usable search
// plan. This is systemic: without a plan the whole stage fails.
var ErrQueryConversion = fmt.Errorf("query conversion failed")

// Plan is the structured search request the planner derives from the
// enhanced research query.
type Plan struct {
	PreferredCategories []string `json:"preferred_categories"`
	SearchQuery         string   `json:"search_query"`
}

// Result carries the planned query together with the collected candidates,
// so callers can persist the query alongside the stage output.
type Result struct {
	Plan       Plan
	Candidates []Candidate
}

// Aggregator turns a free-text research query into candidate sources.
// Results are concatenated preserving category order, then source order
// within each category; URL dedup is left to the retriever's cap.
type Aggregator struct {
	client    llm.Client
	policy    llm.ParsePolicy
	backends  map[string]Backend
	maxPerCat int
}

// NewAggregator creates an aggregator over the given category backends.
func NewAggregator(client llm.Client, backends map[string]Backend, maxPerCategory int) *Aggregator {
	if maxPerCategory <= 0 {
		maxPerCategory = 10
	}
	return &Aggregator{
		client:    client,
		policy:    llm.DefaultParsePolicy(),
		backends:  backends,
		maxPerCat: maxPerCategory,
	}
}

const planPrompt = `Convert the research query below into a structured search request.

Pick one or more source categories from: web, videos, papers, news, ebooks.
Prefer "web" unless the query clearly calls for a specialized category.
Write a concise search-engine query capturing the core information need.

Respond with ONLY a JSON object of this shape:
{
  "preferred_categories": ["web"],
  "search_query": "..."
}

Research query:
%s`

// Aggregate plans the search and dispatches it to each preferred category's
// backend in order.
func (a *Aggregator) Aggregate(ctx context.Context, query string) (*Result, error) {
	timer := logging.StartTimer(logging.CategorySearch, "Aggregate")
	defer timer.Stop()

	plan, err := a.planQuery(ctx, query)
	if err != nil {
		return nil, err
	}

	logging.Search("Search plan: categories=%v query=%q", plan.PreferredCategories, plan.SearchQuery)

	result := &Result{Plan: plan}
	for _, category := range plan.PreferredCategories {
		backend, ok := a.backends[category]
		if !ok {
			logging.Get(logging.CategorySearch).Warn("No backend for category %q, skipping", category)
			continue
		}

		candidates, err := backend.Search(ctx, plan.SearchQuery, a.maxPerCat)
		if err != nil {
			return nil, fmt.Errorf("search dispatch for category %q: %w", category, err)
		}
		result.Candidates = append(result.Candidates, candidates...)
	}

	logging.Search("Aggregated %d candidates across %d categories",
		len(result.Candidates), len(plan.PreferredCategories))
	return result, nil
}

// planQuery asks the LLM for a structured search plan via the shared parse
// policy (attempt, repair once, fail).
func (a *Aggregator) planQuery(ctx context.Context, query string) (Plan, error) {
	var plan Plan
	if err := a.policy.Decode(ctx, a.client, fmt.Sprintf(planPrompt, query), &plan); err != nil {
		return Plan{}, fmt.Errorf("%w: %v", ErrQueryConversion, err)
	}

	plan.SearchQuery = strings.TrimSpace(plan.SearchQuery)
	if plan.SearchQuery == "" {
		return Plan{}, fmt.Errorf("%w: plan has an empty search query", ErrQueryConversion)
	}
	if len(plan.PreferredCategories) == 0 {
		plan.PreferredCategories = []string{"web"}
	}
	return plan, nil
}
