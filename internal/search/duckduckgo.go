package search

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"

	"inquest/internal/logging"
)

// DuckDuckGoBackend searches via the DuckDuckGo HTML interface (no API key
// required). An optional query suffix restricts a backend to one source
// category, e.g. "site:arxiv.org" for papers.
type DuckDuckGoBackend struct {
	client    *http.Client
	userAgent string
	suffix    string
}

// NewDuckDuckGoBackend creates a backend with the given query suffix.
func NewDuckDuckGoBackend(userAgent, suffix string, timeout time.Duration) *DuckDuckGoBackend {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &DuckDuckGoBackend{
		client:    &http.Client{Timeout: timeout},
		userAgent: userAgent,
		suffix:    suffix,
	}
}

// DefaultBackends returns the category-keyed backend set: a general web
// backend plus site-restricted variants for videos, papers, news, and
// ebooks.
func DefaultBackends(userAgent string, timeout time.Duration) map[string]Backend {
	return map[string]Backend{
		"web":    NewDuckDuckGoBackend(userAgent, "", timeout),
		"videos": NewDuckDuckGoBackend(userAgent, "site:youtube.com", timeout),
		"papers": NewDuckDuckGoBackend(userAgent, "site:arxiv.org", timeout),
		"news":   NewDuckDuckGoBackend(userAgent, "site:reuters.com OR site:apnews.com", timeout),
		"ebooks": NewDuckDuckGoBackend(userAgent, "site:archive.org", timeout),
	}
}

// Search performs a search and parses the result list.
func (b *DuckDuckGoBackend) Search(ctx context.Context, query string, maxResults int) ([]Candidate, error) {
	if maxResults <= 0 {
		maxResults = 10
	}
	if maxResults > 30 {
		maxResults = 30
	}

	full := query
	if b.suffix != "" {
		full = query + " " + b.suffix
	}

	searchURL := fmt.Sprintf("https://html.duckduckgo.com/html/?q=%s", url.QueryEscape(full))

	logging.SearchDebug("DuckDuckGo search: query=%q max_results=%d", full, maxResults)

	req, err := http.NewRequestWithContext(ctx, "GET", searchURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("User-Agent", b.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20)) // 1MB limit
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	results, err := parseResults(string(body), maxResults)
	if err != nil {
		return nil, err
	}

	logging.Search("DuckDuckGo search completed: %d results for %q", len(results), full)
	return results, nil
}

// parseResults extracts search results from DuckDuckGo HTML.
func parseResults(htmlContent string, maxResults int) ([]Candidate, error) {
	doc, err := html.Parse(strings.NewReader(htmlContent))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	var results []Candidate

	// DuckDuckGo HTML uses class="result results_links ..." divs.
	var findResults func(*html.Node)
	findResults = func(n *html.Node) {
		if len(results) >= maxResults {
			return
		}

		if n.Type == html.ElementNode && n.Data == "div" {
			for _, attr := range n.Attr {
				if attr.Key == "class" && strings.Contains(attr.Val, "result") && strings.Contains(attr.Val, "results_links") {
					c := extractCandidate(n)
					if c.URL != "" && c.Title != "" {
						results = append(results, c)
					}
					return
				}
			}
		}

		for c := n.FirstChild; c != nil; c = c.NextSibling {
			findResults(c)
		}
	}

	findResults(doc)
	return results, nil
}

// extractCandidate extracts one result from a result div.
func extractCandidate(n *html.Node) Candidate {
	var c Candidate

	var extract func(*html.Node)
	extract = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			for _, attr := range n.Attr {
				if attr.Key == "class" {
					if strings.Contains(attr.Val, "result__a") {
						c.URL = attrValue(n, "href")
						c.Title = textContent(n)
					} else if strings.Contains(attr.Val, "result__snippet") {
						c.Snippet = textContent(n)
					}
				}
			}
		}

		for child := n.FirstChild; child != nil; child = child.NextSibling {
			extract(child)
		}
	}

	extract(n)

	// Unwrap DuckDuckGo redirect URLs.
	if strings.HasPrefix(c.URL, "//duckduckgo.com/l/?uddg=") {
		if decoded, err := url.QueryUnescape(strings.TrimPrefix(c.URL, "//duckduckgo.com/l/?uddg=")); err == nil {
			if idx := strings.Index(decoded, "&"); idx > 0 {
				decoded = decoded[:idx]
			}
			c.URL = decoded
		}
	}

	return c
}

func attrValue(n *html.Node, key string) string {
	for _, attr := range n.Attr {
		if attr.Key == key {
			return attr.Val
		}
	}
	return ""
}

func textContent(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(strings.TrimSpace(n.Data))
			sb.WriteString(" ")
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.TrimSpace(sb.String())
}
