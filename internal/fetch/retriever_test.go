package fetch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"inquest/internal/search"
)

// fakeFetcher serves canned markdown per URL and records fetch order.
type fakeFetcher struct {
	content map[string]string
	fetched []string
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) (string, error) {
	f.fetched = append(f.fetched, url)
	content, ok := f.content[url]
	if !ok {
		return "", errors.New("connection refused")
	}
	return content, nil
}

func newTestRetriever(fetcher Fetcher, opts Options) (*Retriever, *[]time.Duration) {
	r := NewRetriever(fetcher, opts)
	var delays []time.Duration
	r.sleep = func(d time.Duration) { delays = append(delays, d) }
	return r, &delays
}

func candidates(urls ...string) []search.Candidate {
	var out []search.Candidate
	for i, u := range urls {
		out = append(out, search.Candidate{Title: fmt.Sprintf("Title %d", i+1), URL: u})
	}
	return out
}

func TestRetrieveAssignsSequentialIDs(t *testing.T) {
	fetcher := &fakeFetcher{content: map[string]string{
		"https://a.example/1": "content one",
		"https://b.example/2": "content two",
	}}
	r, _ := newTestRetriever(fetcher, Options{MaxSources: 5})

	pages, err := r.Retrieve(context.Background(), candidates("https://a.example/1", "https://b.example/2"))
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	if len(pages) != 2 {
		t.Fatalf("Expected 2 pages, got %d", len(pages))
	}
	for i, p := range pages {
		if p.ID != i+1 {
			t.Errorf("Page %d has ID %d", i, p.ID)
		}
	}
	if pages[0].Title != "Title 1" || pages[0].Markdown != "content one" {
		t.Errorf("Unexpected first page: %+v", pages[0])
	}
}

func TestRetrieveSkipsFailures(t *testing.T) {
	fetcher := &fakeFetcher{content: map[string]string{
		"https://ok.example/1": "fine",
		"https://ok.example/2": "also fine",
	}}
	r, _ := newTestRetriever(fetcher, Options{MaxSources: 5})

	pages, err := r.Retrieve(context.Background(),
		candidates("https://ok.example/1", "https://down.example/x", "https://ok.example/2"))
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	if len(pages) != 2 {
		t.Fatalf("Expected 2 pages after skipping the failure, got %d", len(pages))
	}
	// The failure must not leave a gap in the ID sequence.
	if pages[1].ID != 2 || pages[1].URL != "https://ok.example/2" {
		t.Errorf("Unexpected second page: %+v", pages[1])
	}
}

func TestRetrieveStopsAtMaxSources(t *testing.T) {
	fetcher := &fakeFetcher{content: map[string]string{
		"https://a.example/": "a", "https://b.example/": "b", "https://c.example/": "c",
	}}
	r, _ := newTestRetriever(fetcher, Options{MaxSources: 2})

	pages, err := r.Retrieve(context.Background(),
		candidates("https://a.example/", "https://b.example/", "https://c.example/"))
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	if len(pages) != 2 {
		t.Fatalf("Expected cap at 2 pages, got %d", len(pages))
	}
	if len(fetcher.fetched) != 2 {
		t.Errorf("Expected no fetch past the cap, got %v", fetcher.fetched)
	}
}

func TestRetrieveSkipsBlockedDomains(t *testing.T) {
	fetcher := &fakeFetcher{content: map[string]string{
		"https://fine.example/": "ok",
	}}
	r, _ := newTestRetriever(fetcher, Options{
		MaxSources:     5,
		BlockedDomains: []string{"spam.example"},
	})

	pages, err := r.Retrieve(context.Background(),
		candidates("https://spam.example/page", "https://sub.spam.example/page", "https://fine.example/"))
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	if len(pages) != 1 || pages[0].URL != "https://fine.example/" {
		t.Fatalf("Expected only the unblocked page, got %+v", pages)
	}
	if len(fetcher.fetched) != 1 {
		t.Errorf("Blocked domains must not be fetched: %v", fetcher.fetched)
	}
}

func TestRetrieveDelayBounds(t *testing.T) {
	fetcher := &fakeFetcher{content: map[string]string{
		"https://a.example/": "a", "https://b.example/": "b",
	}}
	r, delays := newTestRetriever(fetcher, Options{
		MaxSources: 5,
		MinDelay:   1000 * time.Millisecond,
		MaxDelay:   3000 * time.Millisecond,
	})

	if _, err := r.Retrieve(context.Background(), candidates("https://a.example/", "https://b.example/")); err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	if len(*delays) != 2 {
		t.Fatalf("Expected a delay before each download, got %d", len(*delays))
	}
	for _, d := range *delays {
		if d < 1000*time.Millisecond || d > 3000*time.Millisecond {
			t.Errorf("Delay %v outside [1s, 3s]", d)
		}
	}
}

func TestRetrieveUsesCache(t *testing.T) {
	fetcher := &fakeFetcher{content: map[string]string{
		"https://a.example/": "cached content",
	}}
	r, delays := newTestRetriever(fetcher, Options{MaxSources: 5})

	ctx := context.Background()
	if _, err := r.Retrieve(ctx, candidates("https://a.example/")); err != nil {
		t.Fatalf("First retrieve failed: %v", err)
	}
	pages, err := r.Retrieve(ctx, candidates("https://a.example/"))
	if err != nil {
		t.Fatalf("Second retrieve failed: %v", err)
	}

	if len(fetcher.fetched) != 1 {
		t.Errorf("Expected one live fetch, got %d", len(fetcher.fetched))
	}
	if len(*delays) != 1 {
		t.Errorf("Cache hits must not incur a courtesy delay, got %d delays", len(*delays))
	}
	if pages[0].Markdown != "cached content" {
		t.Errorf("Unexpected cached markdown: %q", pages[0].Markdown)
	}
}

func TestSampleDocumentWithinBudget(t *testing.T) {
	s := "short document"
	if got := sampleDocument(s, 100); got != s {
		t.Errorf("Document under budget must pass through, got %q", got)
	}
}

func TestSampleDocumentOversized(t *testing.T) {
	head := strings.Repeat("H", 10000)
	mid := strings.Repeat("M", 10000)
	tail := strings.Repeat("T", 10000)
	s := head + mid + tail

	budget := 600
	got := sampleDocument(s, budget)

	if len(got) > budget {
		t.Fatalf("Sampled document exceeds budget: %d > %d", len(got), budget)
	}
	if strings.Count(got, strings.TrimSpace(sampleMarker)) != 2 {
		t.Errorf("Expected two ellipsis markers, got %q", got)
	}
	if !strings.HasPrefix(got, "H") || !strings.HasSuffix(got, "T") {
		t.Errorf("Expected head and tail slices, got %q...%q", got[:5], got[len(got)-5:])
	}
	if !strings.Contains(got, "M") {
		t.Errorf("Expected a middle slice, got %q", got)
	}
}

func TestSampleDocumentBarelyOversized(t *testing.T) {
	// Budget too small for three slices plus markers, content just over it.
	s := strings.Repeat("x", 30)
	got := sampleDocument(s, 20)
	if len(got) > 20 {
		t.Fatalf("Sampled document exceeds budget: %d", len(got))
	}
}
