package fetch

import (
	"context"
	"math/rand"
	"net/url"
	"strings"
	"time"

	"inquest/internal/logging"
	"inquest/internal/search"
)

// Page is one successfully retrieved document. IDs are assigned in
// retrieval order starting at 1; downstream prompts and citations use
// them to refer back to the source.
type Page struct {
	ID       int    `json:"id"`
	URL      string `json:"url"`
	Title    string `json:"title"`
	Markdown string `json:"markdown,omitempty"`
}

// Options configures a Retriever.
type Options struct {
	MaxSources     int           // successful downloads per stage
	SizeBudget     int           // character budget per document
	MinDelay       time.Duration // lower bound of the courtesy delay
	MaxDelay       time.Duration // upper bound of the courtesy delay
	BlockedDomains []string
	CacheTTL       time.Duration
}

// Retriever downloads candidate pages strictly sequentially, with a
// random courtesy delay before each live download. Failures and blocked
// domains are skipped; retrieval stops once MaxSources pages succeeded
// or the candidate list is exhausted.
type Retriever struct {
	fetcher Fetcher
	cache   *PageCache
	opts    Options

	// sleep is swapped out in tests.
	sleep func(time.Duration)
}

// NewRetriever creates a retriever over the given fetcher.
func NewRetriever(fetcher Fetcher, opts Options) *Retriever {
	if opts.MaxSources <= 0 {
		opts.MaxSources = 5
	}
	if opts.SizeBudget <= 0 {
		opts.SizeBudget = 20000
	}
	if opts.MinDelay <= 0 {
		opts.MinDelay = 1000 * time.Millisecond
	}
	if opts.MaxDelay < opts.MinDelay {
		opts.MaxDelay = opts.MinDelay + 2000*time.Millisecond
	}
	return &Retriever{
		fetcher: fetcher,
		cache:   NewPageCache(1000, opts.CacheTTL),
		opts:    opts,
		sleep:   time.Sleep,
	}
}

// Retrieve downloads pages for the given candidates in order.
func (r *Retriever) Retrieve(ctx context.Context, candidates []search.Candidate) ([]Page, error) {
	timer := logging.StartTimer(logging.CategoryFetch, "Retrieve")
	defer timer.Stop()

	var pages []Page
	seen := make(map[string]bool)

	for _, candidate := range candidates {
		if len(pages) >= r.opts.MaxSources {
			break
		}
		if candidate.URL == "" || seen[candidate.URL] {
			continue
		}
		seen[candidate.URL] = true

		if r.isBlocked(candidate.URL) {
			logging.FetchDebug("Skipping blocked domain: %s", candidate.URL)
			continue
		}

		markdown, cached := r.cache.Get(candidate.URL)
		if !cached {
			r.courtesyDelay(ctx)
			if err := ctx.Err(); err != nil {
				return pages, err
			}

			var err error
			markdown, err = r.fetcher.Fetch(ctx, candidate.URL)
			if err != nil {
				logging.FetchWarn("Fetch failed for %s: %v", candidate.URL, err)
				continue
			}
			markdown = sampleDocument(markdown, r.opts.SizeBudget)
			r.cache.Set(candidate.URL, markdown)
		}

		pages = append(pages, Page{
			ID:       len(pages) + 1,
			URL:      candidate.URL,
			Title:    candidate.Title,
			Markdown: markdown,
		})
	}

	logging.Fetch("Retrieved %d/%d pages (%d candidates)",
		len(pages), r.opts.MaxSources, len(candidates))
	return pages, nil
}

// isBlocked reports whether the URL's host is on the block-list. A
// blocked domain also blocks its subdomains.
func (r *Retriever) isBlocked(rawURL string) bool {
	if len(r.opts.BlockedDomains) == 0 {
		return false
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	for _, domain := range r.opts.BlockedDomains {
		domain = strings.ToLower(domain)
		if host == domain || strings.HasSuffix(host, "."+domain) {
			return true
		}
	}
	return false
}

// courtesyDelay sleeps a uniformly random duration in [MinDelay, MaxDelay].
func (r *Retriever) courtesyDelay(ctx context.Context) {
	span := r.opts.MaxDelay - r.opts.MinDelay
	delay := r.opts.MinDelay
	if span > 0 {
		delay += time.Duration(rand.Int63n(int64(span) + 1))
	}
	logging.FetchDebug("Courtesy delay: %v", delay)
	r.sleep(delay)
}

const sampleMarker = "\n\n[...]\n\n"

// sampleDocument keeps documents within the character budget. Oversized
// content is sampled as three equal slices from the head, middle, and
// tail, joined by ellipsis markers, so the result never exceeds budget.
func sampleDocument(s string, budget int) string {
	if len(s) <= budget {
		return s
	}

	slice := (budget - 2*len(sampleMarker)) / 3
	if slice <= 0 {
		return s[:budget]
	}

	head := s[:slice]
	midStart := (len(s) - slice) / 2
	mid := s[midStart : midStart+slice]
	tail := s[len(s)-slice:]

	return head + sampleMarker + mid + sampleMarker + tail
}
