package fetch

import (
	"context"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"inquest/internal/logging"
)

// RodFetcher downloads pages through a headless Chrome instance so
// JavaScript-rendered content is available before conversion.
type RodFetcher struct {
	browser      *rod.Browser
	timeout      time.Duration
	includeLinks bool
}

// NewRodFetcher launches a headless browser and connects to it.
// includeLinks keeps hyperlinks in the converted markdown.
func NewRodFetcher(timeout time.Duration, includeLinks bool) (*RodFetcher, error) {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	controlURL, err := launcher.New().Headless(true).Launch()
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("connect to chrome: %w", err)
	}

	logging.Fetch("Headless browser connected")
	return &RodFetcher{browser: browser, timeout: timeout, includeLinks: includeLinks}, nil
}

// Fetch navigates to the URL in a fresh page, waits for the load event,
// and converts the rendered DOM to markdown.
func (f *RodFetcher) Fetch(ctx context.Context, url string) (string, error) {
	logging.FetchDebug("Browser fetch: %s", url)

	page, err := f.browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		return "", fmt.Errorf("create page: %w", err)
	}
	defer page.Close()

	page = page.Context(ctx).Timeout(f.timeout)
	if err := page.Navigate(url); err != nil {
		return "", fmt.Errorf("navigate to %s: %w", url, err)
	}
	if err := page.WaitLoad(); err != nil {
		return "", fmt.Errorf("wait for load: %w", err)
	}

	rendered, err := page.HTML()
	if err != nil {
		return "", fmt.Errorf("read page HTML: %w", err)
	}

	markdown, err := renderMarkdown(rendered, f.includeLinks)
	if err != nil {
		return "", fmt.Errorf("failed to convert to markdown: %w", err)
	}

	logging.Fetch("Browser fetch completed: %s (%d chars)", url, len(markdown))
	return markdown, nil
}

// Close shuts down the browser.
func (f *RodFetcher) Close() error {
	if f.browser == nil {
		return nil
	}
	return f.browser.Close()
}
