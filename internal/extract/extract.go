package extract

import (
	"context"
	"errors"
	"fmt"

	"inquest/internal/fetch"
	"inquest/internal/llm"
	"inquest/internal/logging"
)

// Relevance grades how directly a fact bears on the research question.
type Relevance string

const (
	RelevanceDirectAnswer     Relevance = "DIRECT_ANSWER"
	RelevanceHighlyRelevant   Relevance = "HIGHLY_RELEVANT"
	RelevanceSomewhatRelevant Relevance = "SOMEWHAT_RELEVANT"
	RelevanceTangential       Relevance = "TANGENTIAL"
	RelevanceNotRelevant      Relevance = "NOT_RELEVANT"
)

// Fact is a single graded statement extracted from a source.
type Fact struct {
	Statement string    `json:"statement"`
	Relevance Relevance `json:"relevance"`
}

// Statement is the set of facts extracted from one source page.
type Statement struct {
	SourceID    int    `json:"sourceId"`
	SourceTitle string `json:"sourceTitle"`
	Facts       []Fact `json:"extractedFacts"`
}

// Extractor pulls question-relevant facts out of retrieved pages.
type Extractor struct {
	client llm.Client
	policy llm.ParsePolicy
}

// NewExtractor creates an extractor using the shared parse policy.
func NewExtractor(client llm.Client) *Extractor {
	return &Extractor{
		client: client,
		policy: llm.DefaultParsePolicy(),
	}
}

const extractPrompt = `You are extracting facts from a source document for a research question.

Research question:
%s

Source (id=%d, title=%q, url=%s):
%s

List every fact in the source that bears on the question. Grade each fact's
relevance as one of: DIRECT_ANSWER, HIGHLY_RELEVANT, SOMEWHAT_RELEVANT,
TANGENTIAL, NOT_RELEVANT.

Respond with ONLY a JSON object of this shape:
{
  "facts": [
    {"statement": "...", "relevance": "HIGHLY_RELEVANT"}
  ]
}`

type extractResponse struct {
	Facts []Fact `json:"facts"`
}

// Extract runs one extraction prompt per page, sequentially. A page whose
// response cannot be parsed is skipped; the batch continues. Transport
// errors from the client are systemic and fail the whole batch.
func (e *Extractor) Extract(ctx context.Context, question string, pages []fetch.Page) ([]Statement, error) {
	timer := logging.StartTimer(logging.CategoryExtract, "Extract")
	defer timer.Stop()

	var statements []Statement
	for _, page := range pages {
		prompt := fmt.Sprintf(extractPrompt, question, page.ID, page.Title, page.URL, page.Markdown)

		var resp extractResponse
		if err := e.policy.Decode(ctx, e.client, prompt, &resp); err != nil {
			var parseErr *llm.ParseError
			if !errors.As(err, &parseErr) {
				return nil, fmt.Errorf("extraction for page %d: %w", page.ID, err)
			}
			logging.ExtractWarn("Skipping page %d (%s): %v", page.ID, page.URL, err)
			continue
		}

		statements = append(statements, Statement{
			SourceID:    page.ID,
			SourceTitle: page.Title,
			Facts:       resp.Facts,
		})
		logging.Extract("Extracted %d facts from page %d (%s)", len(resp.Facts), page.ID, page.Title)
	}

	return statements, nil
}
