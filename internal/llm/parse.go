package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"inquest/internal/logging"
)

// ParseError reports a JSON decode failure for an LLM response.
// Callers decide whether a ParseError is fatal or merely skips one item.
type ParseError struct {
	Raw string // the response that failed to decode
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse LLM response: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// RepairPromptFunc builds a follow-up prompt asking the model to fix a
// malformed response. It receives the original prompt, the bad response,
// and the decode error.
type RepairPromptFunc func(original, response string, err error) string

// ParsePolicy decodes structured JSON out of free-form LLM text.
// A response is first stripped of Markdown code fences and surrounding
// prose; if decoding still fails, the policy re-prompts the model with a
// repair prompt up to MaxAttempts total attempts before giving up.
type ParsePolicy struct {
	MaxAttempts int
	Repair      RepairPromptFunc
}

// DefaultParsePolicy allows one repair round-trip.
func DefaultParsePolicy() ParsePolicy {
	return ParsePolicy{
		MaxAttempts: 2,
		Repair:      defaultRepairPrompt,
	}
}

func defaultRepairPrompt(original, response string, err error) string {
	return fmt.Sprintf(`Your previous response could not be parsed as JSON (%v).

Previous response:
%s

Respond again to the original request, this time with ONLY a valid JSON object and no surrounding text or code fences.

Original request:
%s`, err, response, original)
}

// Decode prompts the client and unmarshals the response into out.
// On decode failure it re-prompts with the repair prompt until MaxAttempts
// is exhausted, then returns a *ParseError wrapping the last decode error.
// Transport errors from the client are returned as-is.
func (p ParsePolicy) Decode(ctx context.Context, client Client, prompt string, out interface{}) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	current := prompt
	var lastRaw string
	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		response, err := client.Complete(ctx, current)
		if err != nil {
			return err
		}

		jsonStr := ExtractJSON(response)
		if err := json.Unmarshal([]byte(jsonStr), out); err == nil {
			if attempt > 1 {
				logging.API("JSON repair succeeded on attempt %d", attempt)
			}
			return nil
		} else {
			lastRaw = response
			lastErr = err
			logging.APIDebug("JSON decode attempt %d/%d failed: %v", attempt, attempts, err)
		}

		if attempt < attempts && p.Repair != nil {
			current = p.Repair(prompt, response, lastErr)
		}
	}

	return &ParseError{Raw: lastRaw, Err: lastErr}
}

// ExtractJSON strips Markdown code fences and surrounding prose, returning
// the outermost JSON object or array found in the response. If no JSON
// delimiters are present the trimmed response is returned unchanged so the
// caller's unmarshal produces a useful error.
func ExtractJSON(response string) string {
	s := strings.TrimSpace(response)

	// Strip a leading ```json / ``` fence and its closing fence.
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
		s = strings.TrimSpace(s)
	}

	// The model may still wrap the JSON in prose.
	objStart := strings.Index(s, "{")
	arrStart := strings.Index(s, "[")
	start := objStart
	end := strings.LastIndex(s, "}")
	if objStart == -1 || (arrStart != -1 && arrStart < objStart) {
		start = arrStart
		end = strings.LastIndex(s, "]")
	}
	if start == -1 || end <= start {
		return s
	}
	return s[start : end+1]
}
