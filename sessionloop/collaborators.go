package sessionloop

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrContract is wrapped by errors arising from a collaborator response that
// violates its contract (missing required fields, unknown step type). The
// loop fails fast on these rather than silently defaulting.
var ErrContract = errors.New("collaborator contract violation")

// MemoryRecord is one prior-session excerpt surfaced as context. Failure
// records from the current session use the same shape so perception receives
// a uniform memory sequence.
type MemoryRecord struct {
	File              string `json:"file,omitempty"`
	Query             string `json:"query"`
	ResultRequirement string `json:"result_requirement"`
	SolutionSummary   string `json:"solution_summary"`
}

// MemorySearcher returns prior-session excerpts relevant to a query, most
// relevant first. An empty result is normal.
type MemorySearcher interface {
	Search(ctx context.Context, query string) ([]MemoryRecord, error)
}

// SnapshotKind tells perception whether it is judging the opening query or
// a step result.
type SnapshotKind string

const (
	SnapshotUserQuery  SnapshotKind = "user_query"
	SnapshotStepResult SnapshotKind = "step_result"
)

// PerceptionRequest is the input to a perception call.
type PerceptionRequest struct {
	RawInput    string
	Memory      []MemoryRecord
	CurrentPlan []string
	Kind        SnapshotKind
}

// Perceiver classifies whether the overall and local goals are satisfied.
type Perceiver interface {
	Perceive(ctx context.Context, req PerceptionRequest) (*Snapshot, error)
}

// PlanMode selects between the two decision request shapes.
type PlanMode string

const (
	PlanModeInitial    PlanMode = "initial"
	PlanModeMidSession PlanMode = "mid_session"
)

// DecisionRequest carries everything the decision component needs. Initial
// requests use Query, Strategy, and Perception; mid-session requests
// additionally carry the plan version number, current plan text, serialized
// completed steps, the just-finished step, and the failure flag.
type DecisionRequest struct {
	Mode           PlanMode
	Strategy       string
	Query          string
	Perception     *Snapshot
	PlanVersion    int
	CurrentPlan    []string
	CompletedSteps []Step
	CurrentStep    *Step
	StepFailed     bool
}

// DecisionOutput is a new or updated plan plus a fully specified next step.
type DecisionOutput struct {
	StepIndex   int      `json:"step_index"`
	Description string   `json:"description"`
	Type        StepType `json:"type"`
	Code        string   `json:"code,omitempty"`
	Conclusion  string   `json:"conclusion,omitempty"`
	PlanText    []string `json:"plan_text"`
}

// Validate checks the decision contract: a known step type, a description,
// non-empty plan text, and the payload matching the type.
func (o *DecisionOutput) Validate() error {
	if o == nil {
		return fmt.Errorf("%w: decision returned no output", ErrContract)
	}
	if !o.Type.Valid() {
		return fmt.Errorf("%w: unknown step type %q", ErrContract, o.Type)
	}
	if strings.TrimSpace(o.Description) == "" {
		return fmt.Errorf("%w: decision step has no description", ErrContract)
	}
	if len(o.PlanText) == 0 {
		return fmt.Errorf("%w: decision returned empty plan text", ErrContract)
	}
	if o.Type == StepCode && strings.TrimSpace(o.Code) == "" {
		return fmt.Errorf("%w: CODE step has no code payload", ErrContract)
	}
	if o.Type == StepConclude && strings.TrimSpace(o.Conclusion) == "" {
		return fmt.Errorf("%w: CONCLUDE step has no conclusion", ErrContract)
	}
	return nil
}

// Step materializes the output as a pending Step.
func (o *DecisionOutput) Step() *Step {
	st := &Step{
		Index:       o.StepIndex,
		Description: o.Description,
		Type:        o.Type,
		Conclusion:  o.Conclusion,
		Status:      StatusPending,
	}
	if o.Type == StepCode {
		st.Call = NewRawCodeBlock(o.Code)
	}
	return st
}

// Decider produces plans and next steps.
type Decider interface {
	Decide(ctx context.Context, req DecisionRequest) (*DecisionOutput, error)
}

// Executor runs a CODE step's payload. Execution failures should be
// reported inside the result where possible; a returned error is converted
// by the loop into a failed result rather than aborting the session.
type Executor interface {
	Execute(ctx context.Context, call ToolCall) (*ExecutionResult, error)
}
