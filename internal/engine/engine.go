package engine

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"inquest/internal/extract"
	"inquest/internal/fetch"
	"inquest/internal/llm"
	"inquest/internal/logging"
	"inquest/internal/search"
	"inquest/internal/store"
	"inquest/internal/synthesis"
)

// Session states as stored. Stage states are "stage:N" with N in 1..depth.
const (
	StateAwaitingFeedback = "awaiting_feedback"
	StateFinished         = "finished"

	stagePrefix = "stage:"
)

const clarifyingResponse = "To better assist you, please answer these questions:"

// Aggregator plans and runs the search for one stage.
type Aggregator interface {
	Aggregate(ctx context.Context, query string) (*search.Result, error)
}

// Retriever downloads candidate pages.
type Retriever interface {
	Retrieve(ctx context.Context, candidates []search.Candidate) ([]fetch.Page, error)
}

// Extractor pulls question-relevant facts from pages.
type Extractor interface {
	Extract(ctx context.Context, question string, pages []fetch.Page) ([]extract.Statement, error)
}

// Synthesizer composes a cited answer from statements.
type Synthesizer interface {
	Synthesize(ctx context.Context, sc synthesis.Context) (string, error)
}

// Collaborators are the per-stage research components.
type Collaborators struct {
	Aggregator  Aggregator
	Retriever   Retriever
	Extractor   Extractor
	Synthesizer Synthesizer
}

// Engine is the research session state machine. Each Run call loads or
// creates the session for the question and advances it one step:
// clarifying questions, feedback intake, one research stage, or the
// final answer.
type Engine struct {
	store  *store.Store
	client llm.Client
	collab Collaborators
	depth  int
}

// New creates an engine. depth is the number of research stages for new
// sessions.
func New(st *store.Store, client llm.Client, collab Collaborators, depth int) *Engine {
	if depth <= 0 {
		depth = 2
	}
	return &Engine{store: st, client: client, collab: collab, depth: depth}
}

// Run advances the session for in.Question by one step.
func (e *Engine) Run(ctx context.Context, in Inputs) (*Output, error) {
	if strings.TrimSpace(in.Question) == "" {
		return nil, fmt.Errorf("question is required")
	}

	sess, err := e.store.FindActiveSession(in.Question)
	if err != nil {
		return nil, fmt.Errorf("session lookup: %w", err)
	}
	if sess == nil {
		return e.startSession(ctx, in.Question)
	}

	logging.Engine("Session %s state=%s depth=%d", sess.ID, sess.State, sess.Depth)

	switch {
	case sess.State == StateAwaitingFeedback:
		return e.acceptFeedback(ctx, sess, in.Feedback)
	case strings.HasPrefix(sess.State, stagePrefix):
		stage, ok := parseStageState(sess.State)
		if !ok || stage < 1 || stage > sess.Depth {
			return nil, fmt.Errorf("%w: %q", ErrInvalidState, sess.State)
		}
		return e.runStage(ctx, sess, stage)
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidState, sess.State)
	}
}

const clarifyingPrompt = `A user wants to research the question below. Before searching, ask 2-4
short clarifying questions that would narrow the scope or surface the
user's real intent. Return only the questions, one per line.

Question:
%s`

// startSession asks for clarifying questions, then creates the session.
// The LLM call comes first so a failed call leaves no half-open session.
func (e *Engine) startSession(ctx context.Context, question string) (*Output, error) {
	questions, err := e.client.Complete(ctx, fmt.Sprintf(clarifyingPrompt, question))
	if err != nil {
		return nil, fmt.Errorf("clarifying questions: %w", err)
	}

	sess, err := e.store.CreateSession(question, StateAwaitingFeedback, e.depth)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	logging.Engine("New session %s (depth=%d) for %q", sess.ID, sess.Depth, question)

	return &Output{
		Response:   clarifyingResponse,
		Sources:    []fetch.Page{},
		Statements: []extract.Statement{},
		Questions:  questions,
	}, nil
}

// acceptFeedback records the user's answers and arms stage 1.
func (e *Engine) acceptFeedback(ctx context.Context, sess *store.Session, feedback string) (*Output, error) {
	if strings.TrimSpace(feedback) == "" {
		return nil, ErrMissingFeedback
	}

	if err := e.store.SaveFeedback(sess.ID, sess.Question, feedback); err != nil {
		return nil, fmt.Errorf("save feedback: %w", err)
	}
	if err := e.store.UpdateSessionState(sess.ID, StateAwaitingFeedback, stageState(1)); err != nil {
		return nil, fmt.Errorf("advance to stage 1: %w", err)
	}

	logging.Engine("Session %s received feedback, armed for stage 1", sess.ID)

	return &Output{
		Response:   "Feedback recorded. The next call runs research stage 1.",
		Sources:    []fetch.Page{},
		Statements: []extract.Statement{},
	}, nil
}

// runStage executes one full search → retrieve → extract → synthesize
// pass. State only advances after the stage result is persisted, so any
// failure leaves the session retryable at the same stage.
func (e *Engine) runStage(ctx context.Context, sess *store.Session, stage int) (*Output, error) {
	timer := logging.StartTimer(logging.CategoryEngine, fmt.Sprintf("stage %d", stage))
	defer timer.Stop()

	fail := func(step string, err error) (*Output, error) {
		logging.EngineError("Stage %d failed at %s: %v", stage, step, err)
		return nil, &StageError{Stage: stage, Step: step, Err: err}
	}

	feedback, err := e.store.ListFeedback(sess.ID)
	if err != nil {
		return fail("load feedback", err)
	}
	prior, err := e.store.ListStageResults(sess.ID)
	if err != nil {
		return fail("load prior results", err)
	}

	query := buildEnhancedQuery(sess.Question, feedback, prior)

	agg, err := e.collab.Aggregator.Aggregate(ctx, query)
	if err != nil {
		return fail("search", err)
	}
	pages, err := e.collab.Retriever.Retrieve(ctx, agg.Candidates)
	if err != nil {
		return fail("retrieve", err)
	}
	statements, err := e.collab.Extractor.Extract(ctx, sess.Question, pages)
	if err != nil {
		return fail("extract", err)
	}
	response, err := e.collab.Synthesizer.Synthesize(ctx, synthesis.Context{
		Question:   sess.Question,
		Statements: statements,
		Sources:    pages,
	})
	if err != nil {
		return fail("synthesize", err)
	}

	if err := e.store.SaveStageResult(sess.ID, stage, agg.Plan.SearchQuery, response); err != nil {
		return fail("persist result", err)
	}

	if stage < sess.Depth {
		return e.finishIntermediateStage(ctx, sess, stage, response, pages, statements)
	}
	return e.finishFinalStage(ctx, sess, stage, pages, statements)
}

const nextTopicsPrompt = `The research below is one stage of a deeper investigation. Suggest the
most promising topics to explore in the next stage: angles the current
findings open up but do not settle. Return a short list, one per line.

Original question:
%s

Current findings:
%s`

func (e *Engine) finishIntermediateStage(ctx context.Context, sess *store.Session, stage int, response string, pages []fetch.Page, statements []extract.Statement) (*Output, error) {
	topics, err := e.client.Complete(ctx, fmt.Sprintf(nextTopicsPrompt, sess.Question, response))
	if err != nil {
		return nil, &StageError{Stage: stage, Step: "next topics", Err: err}
	}

	if err := e.store.UpdateSessionState(sess.ID, stageState(stage), stageState(stage+1)); err != nil {
		return nil, &StageError{Stage: stage, Step: "advance state", Err: err}
	}

	logging.Engine("Session %s completed stage %d/%d", sess.ID, stage, sess.Depth)

	return &Output{
		Response:   response,
		Sources:    stripMarkdown(pages),
		Statements: statements,
		NextTopics: topics,
	}, nil
}

const finalSynthesisSystemPrompt = `You are a research assistant writing the final report of a staged
investigation. Merge the stage findings into one cohesive, cited answer
to the original question. Keep the [n] source citations intact.`

func (e *Engine) finishFinalStage(ctx context.Context, sess *store.Session, stage int, pages []fetch.Page, statements []extract.Statement) (*Output, error) {
	results, err := e.store.ListStageResults(sess.ID)
	if err != nil {
		return nil, &StageError{Stage: stage, Step: "load results", Err: err}
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Original question:\n%s\n", sess.Question)
	for _, r := range results {
		fmt.Fprintf(&sb, "\n--- Stage %d findings ---\n%s\n", r.Stage, r.Response)
	}

	final, err := e.client.CompleteWithSystem(ctx, finalSynthesisSystemPrompt, sb.String())
	if err != nil {
		return nil, &StageError{Stage: stage, Step: "final synthesis", Err: err}
	}

	if err := e.store.UpdateSessionState(sess.ID, stageState(stage), StateFinished); err != nil {
		return nil, &StageError{Stage: stage, Step: "advance state", Err: err}
	}

	logging.Engine("Session %s finished after %d stages", sess.ID, sess.Depth)

	return &Output{
		Response:   final,
		Sources:    stripMarkdown(pages),
		Statements: statements,
	}, nil
}

// buildEnhancedQuery combines the question with accumulated feedback and
// earlier stage results so each stage explores new angles instead of
// repeating covered ground.
func buildEnhancedQuery(question string, feedback []store.Feedback, prior []store.StageResult) string {
	var sb strings.Builder
	sb.WriteString(question)

	if len(feedback) > 0 {
		sb.WriteString("\n\nUser clarifications:\n")
		for _, f := range feedback {
			fmt.Fprintf(&sb, "- %s\n", f.Answer)
		}
	}

	if len(prior) > 0 {
		sb.WriteString("\nAlready covered in earlier stages (explore new angles):\n")
		for _, r := range prior {
			fmt.Fprintf(&sb, "- Stage %d searched %q and found: %s\n",
				r.Stage, r.SearchQuery, trim(r.Response, 500))
		}
	}

	return sb.String()
}

func trim(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

func stageState(n int) string {
	return stagePrefix + strconv.Itoa(n)
}

func parseStageState(s string) (int, bool) {
	n, err := strconv.Atoi(strings.TrimPrefix(s, stagePrefix))
	if err != nil {
		return 0, false
	}
	return n, true
}
