package search

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

// plannerClient returns scripted responses in order.
type plannerClient struct {
	responses []string
	calls     int
}

func (c *plannerClient) Complete(ctx context.Context, prompt string) (string, error) {
	if c.calls >= len(c.responses) {
		return "", fmt.Errorf("no scripted response for call %d", c.calls)
	}
	resp := c.responses[c.calls]
	c.calls++
	return resp, nil
}

func (c *plannerClient) CompleteWithSystem(ctx context.Context, system, prompt string) (string, error) {
	return c.Complete(ctx, prompt)
}

// recordingBackend captures queries and returns canned candidates.
type recordingBackend struct {
	name    string
	queries []string
	err     error
}

func (b *recordingBackend) Search(ctx context.Context, query string, maxResults int) ([]Candidate, error) {
	b.queries = append(b.queries, query)
	if b.err != nil {
		return nil, b.err
	}
	return []Candidate{{
		Title:   b.name + " result",
		URL:     "https://example.com/" + b.name,
		Snippet: "from " + b.name,
	}}, nil
}

func TestAggregatePreservesCategoryOrder(t *testing.T) {
	client := &plannerClient{responses: []string{
		`{"preferred_categories": ["papers", "web"], "search_query": "go gc latency"}`,
	}}
	papers := &recordingBackend{name: "papers"}
	web := &recordingBackend{name: "web"}

	agg := NewAggregator(client, map[string]Backend{"papers": papers, "web": web}, 5)
	result, err := agg.Aggregate(context.Background(), "how does the Go GC affect tail latency?")
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}

	if result.Plan.SearchQuery != "go gc latency" {
		t.Errorf("Unexpected planned query: %q", result.Plan.SearchQuery)
	}
	if len(result.Candidates) != 2 {
		t.Fatalf("Expected 2 candidates, got %d", len(result.Candidates))
	}
	if result.Candidates[0].Title != "papers result" || result.Candidates[1].Title != "web result" {
		t.Errorf("Category order not preserved: %+v", result.Candidates)
	}
	if len(papers.queries) != 1 || papers.queries[0] != "go gc latency" {
		t.Errorf("Backend received wrong query: %v", papers.queries)
	}
}

func TestAggregateSkipsUnknownCategory(t *testing.T) {
	client := &plannerClient{responses: []string{
		`{"preferred_categories": ["podcasts", "web"], "search_query": "test"}`,
	}}
	web := &recordingBackend{name: "web"}

	agg := NewAggregator(client, map[string]Backend{"web": web}, 5)
	result, err := agg.Aggregate(context.Background(), "anything")
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}
	if len(result.Candidates) != 1 {
		t.Fatalf("Expected 1 candidate from web, got %d", len(result.Candidates))
	}
}

func TestAggregateDefaultsToWeb(t *testing.T) {
	client := &plannerClient{responses: []string{
		`{"preferred_categories": [], "search_query": "test"}`,
	}}
	web := &recordingBackend{name: "web"}

	agg := NewAggregator(client, map[string]Backend{"web": web}, 5)
	result, err := agg.Aggregate(context.Background(), "anything")
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}
	if len(result.Candidates) != 1 {
		t.Fatalf("Expected fallback to web backend, got %d candidates", len(result.Candidates))
	}
}

func TestAggregateQueryConversionFailure(t *testing.T) {
	// Unparseable on the first attempt and after the repair attempt.
	client := &plannerClient{responses: []string{
		"I cannot help with that.",
		"Still not JSON.",
	}}

	agg := NewAggregator(client, map[string]Backend{}, 5)
	_, err := agg.Aggregate(context.Background(), "anything")
	if !errors.Is(err, ErrQueryConversion) {
		t.Fatalf("Expected ErrQueryConversion, got %v", err)
	}
	if client.calls != 2 {
		t.Errorf("Expected 2 LLM attempts, got %d", client.calls)
	}
}

func TestAggregateEmptyPlannedQuery(t *testing.T) {
	client := &plannerClient{responses: []string{
		`{"preferred_categories": ["web"], "search_query": "  "}`,
	}}

	agg := NewAggregator(client, map[string]Backend{}, 5)
	_, err := agg.Aggregate(context.Background(), "anything")
	if !errors.Is(err, ErrQueryConversion) {
		t.Fatalf("Expected ErrQueryConversion, got %v", err)
	}
}

func TestAggregateBackendError(t *testing.T) {
	client := &plannerClient{responses: []string{
		`{"preferred_categories": ["web"], "search_query": "test"}`,
	}}
	web := &recordingBackend{name: "web", err: errors.New("network down")}

	agg := NewAggregator(client, map[string]Backend{"web": web}, 5)
	_, err := agg.Aggregate(context.Background(), "anything")
	if err == nil {
		t.Fatal("Expected error from backend")
	}
}
