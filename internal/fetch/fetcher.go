package fetch

import "context"

// Fetcher downloads one URL and returns its content as markdown.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}
