package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"inquest/internal/logging"
)

// HTTPFetcher downloads pages with a plain HTTP client and converts HTML
// to markdown. It cannot render JavaScript-heavy pages; use RodFetcher
// for those.
type HTTPFetcher struct {
	client       *http.Client
	userAgent    string
	includeLinks bool
}

// NewHTTPFetcher creates an HTTP fetcher with the given request timeout.
// includeLinks keeps hyperlinks in the converted markdown.
func NewHTTPFetcher(userAgent string, timeout time.Duration, includeLinks bool) *HTTPFetcher {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTPFetcher{
		client:       &http.Client{Timeout: timeout},
		userAgent:    userAgent,
		includeLinks: includeLinks,
	}
}

// Fetch downloads the URL and returns its content as markdown.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) (string, error) {
	logging.FetchDebug("HTTP fetch: %s", url)

	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch URL: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 2<<20)) // 2MB limit
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	contentType := resp.Header.Get("Content-Type")

	// Plain text and markdown pass through unchanged.
	if strings.Contains(contentType, "text/plain") ||
		strings.Contains(contentType, "text/markdown") {
		return string(body), nil
	}

	markdown, err := renderMarkdown(string(body), f.includeLinks)
	if err != nil {
		return "", fmt.Errorf("failed to convert to markdown: %w", err)
	}

	logging.Fetch("HTTP fetch completed: %s (%d chars)", url, len(markdown))
	return markdown, nil
}
