package decision

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/planloop-dev/planloop/llm"
	"github.com/planloop-dev/planloop/perception"
	"github.com/planloop-dev/planloop/sessionloop"
)

// Completer is the slice of the LLM client the decider needs.
type Completer interface {
	Complete(ctx context.Context, req llm.Request) (*llm.Response, error)
}

// Decider plans with an LLM. It implements sessionloop.Decider.
type Decider struct {
	client   Completer
	model    string
	provider string
	toolDocs string
}

// Option configures a Decider.
type Option func(*Decider)

// WithModel pins the model used for decision calls.
func WithModel(model string) Option {
	return func(d *Decider) { d.model = model }
}

// WithProvider pins the provider used for decision calls.
func WithProvider(provider string) Option {
	return func(d *Decider) { d.provider = provider }
}

// WithToolDocs injects a description of the available tools into every
// decision prompt, so CODE steps are written against tools that exist.
func WithToolDocs(docs string) Option {
	return func(d *Decider) { d.toolDocs = docs }
}

// New creates a Decider backed by the given completer.
func New(client Completer, opts ...Option) *Decider {
	d := &Decider{client: client}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

const initialSystemPrompt = `You plan how an agent should answer a user query,
then specify the first step of that plan.

A step is one of:
- CODE: run tool calls. The "code" field holds one JSON tool-call object per
  line: {"tool_name": "<name>", "tool_arguments": {...}}. Later calls may
  reference earlier results by writing "$1", "$2", ... as an argument value,
  meaning the result of that line.
- CONCLUDE: the query can be answered with no tool work; "conclusion" holds
  the final answer.
- NOP: the query is too vague or out of scope to plan; the agent will ask
  the user to clarify.

Respond with exactly one JSON object, no prose, no markdown fences:
{
  "step_index": 0,
  "description": "<what this step does>",
  "type": "CODE" | "CONCLUDE" | "NOP",
  "code": "<tool-call lines, CODE only>",
  "conclusion": "<final answer, CONCLUDE only>",
  "plan_text": ["<step 1>", "<step 2>", ...]
}

plan_text must always be non-empty, even for CONCLUDE and NOP (a one-line
plan is fine). step_index is always 0 for an initial decision.`

const midSessionSystemPrompt = `You are mid-way through executing a plan for
a user query. Given the completed steps and the result of the step that just
finished, produce the updated plan and the single next step.

If the finished step failed, revise the plan to route around the failure; do
not repeat an identical step that already failed. If the remaining work is
only to state the answer, emit a CONCLUDE step. If the session cannot
reasonably continue, emit a NOP step.

A step is one of:
- CODE: run tool calls. The "code" field holds one JSON tool-call object per
  line: {"tool_name": "<name>", "tool_arguments": {...}}. Later calls may
  reference earlier results by writing "$1", "$2", ... as an argument value,
  meaning the result of that line.
- CONCLUDE: "conclusion" holds the final answer.
- NOP: halt for user clarification.

Respond with exactly one JSON object, no prose, no markdown fences:
{
  "step_index": <index of the next step in the updated plan>,
  "description": "<what this step does>",
  "type": "CODE" | "CONCLUDE" | "NOP",
  "code": "<tool-call lines, CODE only>",
  "conclusion": "<final answer, CONCLUDE only>",
  "plan_text": ["<full updated plan>", ...]
}`

// Decide implements sessionloop.Decider.
func (d *Decider) Decide(ctx context.Context, req sessionloop.DecisionRequest) (*sessionloop.DecisionOutput, error) {
	var system, user string
	var err error

	switch req.Mode {
	case sessionloop.PlanModeInitial:
		system = initialSystemPrompt
		user, err = d.buildInitialPrompt(req)
	case sessionloop.PlanModeMidSession:
		system = midSessionSystemPrompt
		user, err = d.buildMidSessionPrompt(req)
	default:
		return nil, fmt.Errorf("unknown plan mode %q", req.Mode)
	}
	if err != nil {
		return nil, err
	}

	resp, err := d.client.Complete(ctx, llm.Request{
		Model:    d.model,
		Provider: d.provider,
		Messages: []llm.Message{
			llm.SystemMessage(system),
			llm.UserMessage(user),
		},
		JSONOnly: true,
	})
	if err != nil {
		return nil, fmt.Errorf("decision call failed: %w", err)
	}

	out, err := ParseOutput(resp.Text)
	if err != nil {
		return nil, fmt.Errorf("decision response invalid: %w", err)
	}
	return out, nil
}

func (d *Decider) buildInitialPrompt(req sessionloop.DecisionRequest) (string, error) {
	var b strings.Builder

	fmt.Fprintf(&b, "User query:\n%s\n", req.Query)
	if req.Strategy != "" {
		fmt.Fprintf(&b, "\nPlanning strategy: %s\n", req.Strategy)
	}
	if req.Perception != nil {
		percJSON, err := json.MarshalIndent(req.Perception, "", "  ")
		if err != nil {
			return "", fmt.Errorf("serialize perception: %w", err)
		}
		b.WriteString("\nOpening perception of the query:\n")
		b.Write(percJSON)
		b.WriteString("\n")
	}
	d.appendToolDocs(&b)
	return b.String(), nil
}

func (d *Decider) buildMidSessionPrompt(req sessionloop.DecisionRequest) (string, error) {
	var b strings.Builder

	fmt.Fprintf(&b, "User query:\n%s\n", req.Query)
	fmt.Fprintf(&b, "\nPlan version: %d\n", req.PlanVersion)

	if len(req.CurrentPlan) > 0 {
		b.WriteString("\nCurrent plan:\n")
		for i, line := range req.CurrentPlan {
			fmt.Fprintf(&b, "%d. %s\n", i+1, line)
		}
	}

	if len(req.CompletedSteps) > 0 {
		steps, err := json.MarshalIndent(req.CompletedSteps, "", "  ")
		if err != nil {
			return "", fmt.Errorf("serialize completed steps: %w", err)
		}
		b.WriteString("\nCompleted steps:\n")
		b.Write(steps)
		b.WriteString("\n")
	}

	if req.CurrentStep != nil {
		step, err := json.MarshalIndent(req.CurrentStep, "", "  ")
		if err != nil {
			return "", fmt.Errorf("serialize current step: %w", err)
		}
		b.WriteString("\nStep that just finished:\n")
		b.Write(step)
		b.WriteString("\n")
	}

	if req.StepFailed {
		b.WriteString("\nThe step above FAILED. Revise the plan around the failure.\n")
	}

	d.appendToolDocs(&b)
	return b.String(), nil
}

func (d *Decider) appendToolDocs(b *strings.Builder) {
	if d.toolDocs == "" {
		return
	}
	b.WriteString("\nAvailable tools:\n")
	b.WriteString(d.toolDocs)
	b.WriteString("\n")
}

// rawOutput mirrors DecisionOutput with pointer fields for presence checks
// on the keys that have meaningful zero values.
type rawOutput struct {
	StepIndex   *int     `json:"step_index"`
	Description string   `json:"description"`
	Type        string   `json:"type"`
	Code        string   `json:"code"`
	Conclusion  string   `json:"conclusion"`
	PlanText    []string `json:"plan_text"`
}

// ParseOutput parses an LLM reply into a validated DecisionOutput.
func ParseOutput(text string) (*sessionloop.DecisionOutput, error) {
	cleaned := perception.StripCodeFences(text)

	var raw rawOutput
	if err := json.Unmarshal([]byte(cleaned), &raw); err != nil {
		return nil, fmt.Errorf("not valid JSON: %w", err)
	}
	if raw.StepIndex == nil {
		return nil, fmt.Errorf("missing field %q", "step_index")
	}

	out := &sessionloop.DecisionOutput{
		StepIndex:   *raw.StepIndex,
		Description: raw.Description,
		Type:        sessionloop.StepType(strings.ToUpper(strings.TrimSpace(raw.Type))),
		Code:        raw.Code,
		Conclusion:  raw.Conclusion,
		PlanText:    raw.PlanText,
	}
	if err := out.Validate(); err != nil {
		return nil, err
	}
	return out, nil
}
