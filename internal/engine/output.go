package engine

import (
	"inquest/internal/extract"
	"inquest/internal/fetch"
)

// Inputs is one invocation of the state machine.
type Inputs struct {
	Question string
	Feedback string
}

// Output is the result of one invocation: clarifying questions for a new
// session, an intermediate stage result with next topics, or the final
// answer.
type Output struct {
	Response   string              `json:"response"`
	Sources    []fetch.Page        `json:"sources"`
	Statements []extract.Statement `json:"statements"`
	Questions  string              `json:"questions,omitempty"`
	NextTopics string              `json:"nextTopics,omitempty"`
}

// stripMarkdown drops page content from sources before they are returned,
// keeping the payload light. Citations only need id, title, and URL.
func stripMarkdown(pages []fetch.Page) []fetch.Page {
	out := make([]fetch.Page, len(pages))
	for i, p := range pages {
		p.Markdown = ""
		out[i] = p
	}
	return out
}
