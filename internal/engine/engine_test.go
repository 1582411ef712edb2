package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"inquest/internal/extract"
	"inquest/internal/fetch"
	"inquest/internal/search"
	"inquest/internal/store"
	"inquest/internal/synthesis"
)

type fakeLLM struct {
	responses []string
	calls     int
}

func (f *fakeLLM) Complete(ctx context.Context, prompt string) (string, error) {
	if f.calls >= len(f.responses) {
		return "", fmt.Errorf("no scripted response for call %d", f.calls)
	}
	resp := f.responses[f.calls]
	f.calls++
	return resp, nil
}

func (f *fakeLLM) CompleteWithSystem(ctx context.Context, system, prompt string) (string, error) {
	return f.Complete(ctx, prompt)
}

type fakeAggregator struct {
	queries []string
	err     error
}

func (f *fakeAggregator) Aggregate(ctx context.Context, query string) (*search.Result, error) {
	f.queries = append(f.queries, query)
	if f.err != nil {
		return nil, f.err
	}
	return &search.Result{
		Plan: search.Plan{PreferredCategories: []string{"web"}, SearchQuery: fmt.Sprintf("planned query %d", len(f.queries))},
		Candidates: []search.Candidate{
			{Title: "Entanglement primer", URL: "https://physics.example/primer"},
		},
	}, nil
}

type fakeRetriever struct {
	err error
}

func (f *fakeRetriever) Retrieve(ctx context.Context, candidates []search.Candidate) ([]fetch.Page, error) {
	if f.err != nil {
		return nil, f.err
	}
	var pages []fetch.Page
	for i, c := range candidates {
		pages = append(pages, fetch.Page{ID: i + 1, URL: c.URL, Title: c.Title, Markdown: "full page text"})
	}
	return pages, nil
}

type fakeExtractor struct {
	err error
}

func (f *fakeExtractor) Extract(ctx context.Context, question string, pages []fetch.Page) ([]extract.Statement, error) {
	if f.err != nil {
		return nil, f.err
	}
	var statements []extract.Statement
	for _, p := range pages {
		statements = append(statements, extract.Statement{
			SourceID:    p.ID,
			SourceTitle: p.Title,
			Facts: []extract.Fact{
				{Statement: "entangled particles share state", Relevance: extract.RelevanceDirectAnswer},
			},
		})
	}
	return statements, nil
}

type fakeSynthesizer struct {
	answers []string
	calls   int
	err     error
}

func (f *fakeSynthesizer) Synthesize(ctx context.Context, sc synthesis.Context) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	if f.calls >= len(f.answers) {
		return "", fmt.Errorf("no scripted answer for call %d", f.calls)
	}
	answer := f.answers[f.calls]
	f.calls++
	return answer, nil
}

type testRig struct {
	engine      *Engine
	store       *store.Store
	llm         *fakeLLM
	aggregator  *fakeAggregator
	retriever   *fakeRetriever
	extractor   *fakeExtractor
	synthesizer *fakeSynthesizer
}

func newTestRig(t *testing.T, depth int) *testRig {
	t.Helper()

	st, err := store.New(filepath.Join(t.TempDir(), "inquest.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	rig := &testRig{
		store: st,
		llm: &fakeLLM{responses: []string{
			"1. Which aspect interests you?\n2. How technical should the answer be?",
			"next: entanglement applications",
			"final synthesized report [1]",
		}},
		aggregator:  &fakeAggregator{},
		retriever:   &fakeRetriever{},
		extractor:   &fakeExtractor{},
		synthesizer: &fakeSynthesizer{answers: []string{"stage one answer [1]", "stage two answer [1]"}},
	}
	rig.engine = New(st, rig.llm, Collaborators{
		Aggregator:  rig.aggregator,
		Retriever:   rig.retriever,
		Extractor:   rig.extractor,
		Synthesizer: rig.synthesizer,
	}, depth)
	return rig
}

func (r *testRig) sessionState(t *testing.T) (string, string) {
	t.Helper()
	sessions, err := r.store.ListSessions(10)
	require.NoError(t, err)
	require.NotEmpty(t, sessions)
	return sessions[0].ID, sessions[0].State
}

func TestFullSessionScenario(t *testing.T) {
	rig := newTestRig(t, 2)
	ctx := context.Background()
	question := "What is quantum entanglement?"

	// Call 1: new session, clarifying questions, no search.
	out, err := rig.engine.Run(ctx, Inputs{Question: question})
	require.NoError(t, err)
	require.Equal(t, clarifyingResponse, out.Response)
	require.Contains(t, out.Questions, "Which aspect")
	require.Empty(t, out.Sources)
	require.Empty(t, out.Statements)
	require.Empty(t, rig.aggregator.queries)

	sessID, state := rig.sessionState(t)
	require.Equal(t, StateAwaitingFeedback, state)

	results, err := rig.store.ListStageResults(sessID)
	require.NoError(t, err)
	require.Empty(t, results)

	// Call 2 without feedback fails; with feedback it arms stage 1.
	_, err = rig.engine.Run(ctx, Inputs{Question: question})
	require.ErrorIs(t, err, ErrMissingFeedback)

	out, err = rig.engine.Run(ctx, Inputs{Question: question, Feedback: "Focus on practical applications"})
	require.NoError(t, err)
	require.Empty(t, out.Sources)

	_, state = rig.sessionState(t)
	require.Equal(t, "stage:1", state)

	feedback, err := rig.store.ListFeedback(sessID)
	require.NoError(t, err)
	require.Len(t, feedback, 1)
	require.Equal(t, "Focus on practical applications", feedback[0].Answer)

	// Call 3: stage 1 runs, next topics returned, persisted state advances.
	out, err = rig.engine.Run(ctx, Inputs{Question: question})
	require.NoError(t, err)
	require.Equal(t, "stage one answer [1]", out.Response)
	require.Contains(t, out.NextTopics, "entanglement applications")
	require.Len(t, out.Sources, 1)
	require.Empty(t, out.Sources[0].Markdown, "page content must be stripped from returned sources")
	require.Len(t, out.Statements, 1)

	_, state = rig.sessionState(t)
	require.Equal(t, "stage:2", state)

	// The stage 1 query carries the feedback; stage context grows from there.
	require.Contains(t, rig.aggregator.queries[0], question)
	require.Contains(t, rig.aggregator.queries[0], "Focus on practical applications")

	// Call 4: stage 2 runs, final answer, session finished.
	out, err = rig.engine.Run(ctx, Inputs{Question: question})
	require.NoError(t, err)
	require.Equal(t, "final synthesized report [1]", out.Response)
	require.Empty(t, out.NextTopics)

	_, state = rig.sessionState(t)
	require.Equal(t, StateFinished, state)

	results, err = rig.store.ListStageResults(sessID)
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, 1, results[0].Stage)
	require.Equal(t, 2, results[1].Stage)
	require.Equal(t, "planned query 1", results[0].SearchQuery)

	// Stage 2's query mentions what stage 1 already covered.
	require.Contains(t, rig.aggregator.queries[1], "stage one answer")
}

func TestFinishedSessionStartsFresh(t *testing.T) {
	rig := newTestRig(t, 1)
	rig.llm.responses = []string{
		"clarifying?",
		"final [1]",
		"clarifying again?",
	}
	ctx := context.Background()
	question := "q"

	_, err := rig.engine.Run(ctx, Inputs{Question: question})
	require.NoError(t, err)
	_, err = rig.engine.Run(ctx, Inputs{Question: question, Feedback: "f"})
	require.NoError(t, err)
	_, err = rig.engine.Run(ctx, Inputs{Question: question})
	require.NoError(t, err)

	// The session is finished; the same question opens a new one.
	out, err := rig.engine.Run(ctx, Inputs{Question: question})
	require.NoError(t, err)
	require.Equal(t, clarifyingResponse, out.Response)

	sessions, err := rig.store.ListSessions(10)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
}

func TestStageFailureLeavesStageRetryable(t *testing.T) {
	rig := newTestRig(t, 2)
	ctx := context.Background()
	question := "q"

	_, err := rig.engine.Run(ctx, Inputs{Question: question})
	require.NoError(t, err)
	_, err = rig.engine.Run(ctx, Inputs{Question: question, Feedback: "f"})
	require.NoError(t, err)

	rig.synthesizer.err = errors.New("model overloaded")
	_, err = rig.engine.Run(ctx, Inputs{Question: question})

	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	require.Equal(t, 1, stageErr.Stage)
	require.Equal(t, "synthesize", stageErr.Step)

	sessID, state := rig.sessionState(t)
	require.Equal(t, "stage:1", state, "failed stage must not advance")

	// Retry succeeds and leaves exactly one stage 1 result.
	rig.synthesizer.err = nil
	out, err := rig.engine.Run(ctx, Inputs{Question: question})
	require.NoError(t, err)
	require.Equal(t, "stage one answer [1]", out.Response)

	results, err := rig.store.ListStageResults(sessID)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, 1, results[0].Stage)
}

func TestInvalidStateIsFatal(t *testing.T) {
	rig := newTestRig(t, 2)
	ctx := context.Background()

	_, err := rig.store.CreateSession("q", "stage:banana", 2)
	require.NoError(t, err)

	_, err = rig.engine.Run(ctx, Inputs{Question: "q"})
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestStageBeyondDepthIsInvalid(t *testing.T) {
	rig := newTestRig(t, 2)
	ctx := context.Background()

	_, err := rig.store.CreateSession("q", "stage:7", 2)
	require.NoError(t, err)

	_, err = rig.engine.Run(ctx, Inputs{Question: "q"})
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestEmptyQuestionRejected(t *testing.T) {
	rig := newTestRig(t, 2)
	_, err := rig.engine.Run(context.Background(), Inputs{Question: "   "})
	require.Error(t, err)
}
