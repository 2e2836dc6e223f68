package perception

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/planloop-dev/planloop/llm"
	"github.com/planloop-dev/planloop/sessionloop"
)

// Completer is the slice of the LLM client the perceiver needs.
type Completer interface {
	Complete(ctx context.Context, req llm.Request) (*llm.Response, error)
}

// Perceiver judges goal completion with an LLM. It implements
// sessionloop.Perceiver.
type Perceiver struct {
	client   Completer
	model    string
	provider string
}

// Option configures a Perceiver.
type Option func(*Perceiver)

// WithModel pins the model used for perception calls.
func WithModel(model string) Option {
	return func(p *Perceiver) { p.model = model }
}

// WithProvider pins the provider used for perception calls.
func WithProvider(provider string) Option {
	return func(p *Perceiver) { p.provider = provider }
}

// New creates a Perceiver backed by the given completer.
func New(client Completer, opts ...Option) *Perceiver {
	p := &Perceiver{client: client}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

const systemPrompt = `You judge whether an agent's work has satisfied its goals.

You receive an input snapshot: either the user's original query (before any
work has happened) or the result of one executed plan step, together with
relevant memory excerpts and the current plan.

Respond with exactly one JSON object, no prose, no markdown fences:
{
  "original_goal_achieved": <bool>,  // is the user's overall request fully answered by what is shown?
  "local_goal_achieved": <bool>,     // did this particular input accomplish its own immediate purpose?
  "confidence": <float 0..1>,
  "reasoning": "<one or two sentences>",
  "solution_summary": "<the answer itself if achieved, else 'Not ready yet'>"
}

Rules:
- For a user query snapshot, original_goal_achieved is true only when the
  memory excerpts already contain a complete, reusable answer.
- For a step result snapshot, a result beginning with "Tool failed" means
  local_goal_achieved is false.
- original_goal_achieved implies local_goal_achieved.
- All five fields are mandatory.`

// Perceive implements sessionloop.Perceiver.
func (p *Perceiver) Perceive(ctx context.Context, req sessionloop.PerceptionRequest) (*sessionloop.Snapshot, error) {
	userPrompt, err := buildUserPrompt(req)
	if err != nil {
		return nil, err
	}

	resp, err := p.client.Complete(ctx, llm.Request{
		Model:    p.model,
		Provider: p.provider,
		Messages: []llm.Message{
			llm.SystemMessage(systemPrompt),
			llm.UserMessage(userPrompt),
		},
		JSONOnly: true,
	})
	if err != nil {
		return nil, fmt.Errorf("perception call failed: %w", err)
	}

	snap, err := ParseSnapshot(resp.Text)
	if err != nil {
		return nil, fmt.Errorf("perception response invalid: %w", err)
	}
	return snap, nil
}

func buildUserPrompt(req sessionloop.PerceptionRequest) (string, error) {
	var b strings.Builder

	switch req.Kind {
	case sessionloop.SnapshotUserQuery:
		b.WriteString("Snapshot kind: user query (no work done yet)\n\n")
		b.WriteString("User query:\n")
	case sessionloop.SnapshotStepResult:
		b.WriteString("Snapshot kind: step result\n\n")
		b.WriteString("Step result:\n")
	default:
		return "", fmt.Errorf("unknown snapshot kind %q", req.Kind)
	}
	b.WriteString(req.RawInput)
	b.WriteString("\n")

	if len(req.Memory) > 0 {
		mem, err := json.MarshalIndent(req.Memory, "", "  ")
		if err != nil {
			return "", fmt.Errorf("serialize memory: %w", err)
		}
		b.WriteString("\nMemory excerpts (prior sessions and recent failures):\n")
		b.Write(mem)
		b.WriteString("\n")
	}

	if len(req.CurrentPlan) > 0 {
		b.WriteString("\nCurrent plan:\n")
		for i, line := range req.CurrentPlan {
			fmt.Fprintf(&b, "%d. %s\n", i+1, line)
		}
	}

	return b.String(), nil
}

// rawSnapshot uses pointer fields so absent keys are distinguishable from
// zero values.
type rawSnapshot struct {
	OriginalGoalAchieved *bool    `json:"original_goal_achieved"`
	LocalGoalAchieved    *bool    `json:"local_goal_achieved"`
	Confidence           *float64 `json:"confidence"`
	Reasoning            *string  `json:"reasoning"`
	SolutionSummary      *string  `json:"solution_summary"`
}

// ParseSnapshot parses an LLM reply into a Snapshot. Every field is
// mandatory; missing fields produce an error naming the first absent key.
func ParseSnapshot(text string) (*sessionloop.Snapshot, error) {
	cleaned := StripCodeFences(text)

	var raw rawSnapshot
	if err := json.Unmarshal([]byte(cleaned), &raw); err != nil {
		return nil, fmt.Errorf("not valid JSON: %w", err)
	}

	switch {
	case raw.OriginalGoalAchieved == nil:
		return nil, fmt.Errorf("missing field %q", "original_goal_achieved")
	case raw.LocalGoalAchieved == nil:
		return nil, fmt.Errorf("missing field %q", "local_goal_achieved")
	case raw.Confidence == nil:
		return nil, fmt.Errorf("missing field %q", "confidence")
	case raw.Reasoning == nil:
		return nil, fmt.Errorf("missing field %q", "reasoning")
	case raw.SolutionSummary == nil:
		return nil, fmt.Errorf("missing field %q", "solution_summary")
	}

	return &sessionloop.Snapshot{
		OriginalGoalAchieved: *raw.OriginalGoalAchieved,
		LocalGoalAchieved:    *raw.LocalGoalAchieved,
		Confidence:           *raw.Confidence,
		Reasoning:            *raw.Reasoning,
		SolutionSummary:      *raw.SolutionSummary,
	}, nil
}

// StripCodeFences removes a surrounding markdown code fence, if present.
// Models steered toward JSON-only output still wrap replies in ```json
// fences often enough that parsing must tolerate it.
func StripCodeFences(text string) string {
	s := strings.TrimSpace(text)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	// drop a language tag like "json" on the opening fence line
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		first := strings.TrimSpace(s[:idx])
		if first != "" && !strings.ContainsAny(first, "{[") {
			s = s[idx+1:]
		}
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
