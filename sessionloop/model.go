package sessionloop

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// StepType is the closed set of step behaviors a decision can produce.
type StepType string

const (
	// StepCode executes a tool-call payload and feeds the result to perception.
	StepCode StepType = "CODE"
	// StepConclude ends the session with the step's conclusion as the final answer.
	StepConclude StepType = "CONCLUDE"
	// StepNop halts the session pending external clarification.
	StepNop StepType = "NOP"
)

// Valid reports whether t is one of the known step types.
func (t StepType) Valid() bool {
	switch t {
	case StepCode, StepConclude, StepNop:
		return true
	}
	return false
}

// StepStatus tracks the lifecycle of a single step.
type StepStatus string

const (
	StatusPending             StepStatus = "pending"
	StatusCompleted           StepStatus = "completed"
	StatusClarificationNeeded StepStatus = "clarification_needed"
)

// ToolCall is the code payload of a CODE step: a tool name plus its
// arguments. The decision component emits raw code blocks, which the loop
// wraps as {"raw_code_block", {"code": ...}}.
type ToolCall struct {
	ToolName  string                 `json:"tool_name"`
	Arguments map[string]interface{} `json:"tool_arguments"`
}

// RawCodeBlock is the tool name used for decision-emitted code payloads.
const RawCodeBlock = "raw_code_block"

// NewRawCodeBlock wraps a decision-produced code string as a ToolCall.
func NewRawCodeBlock(code string) *ToolCall {
	return &ToolCall{
		ToolName:  RawCodeBlock,
		Arguments: map[string]interface{}{"code": code},
	}
}

// Code returns the raw code string for a raw_code_block payload.
func (c *ToolCall) Code() string {
	if c == nil {
		return ""
	}
	if s, ok := c.Arguments["code"].(string); ok {
		return s
	}
	return ""
}

// ExecutionResult is what the executor returns for a CODE step. Result is
// mandatory; Extra carries any opaque payload the executor wants perception
// to see.
type ExecutionResult struct {
	Result string                 `json:"result"`
	Extra  map[string]interface{} `json:"extra,omitempty"`
}

// Snapshot is a structured perception judgment attached to a step or to the
// opening query. All fields are required in a collaborator response; the
// perception layer fails fast if any are missing.
//
// OriginalGoalAchieved implying LocalGoalAchieved is expected but not
// enforced here; evaluation gives the original goal strict priority either
// way.
type Snapshot struct {
	OriginalGoalAchieved bool    `json:"original_goal_achieved"`
	LocalGoalAchieved    bool    `json:"local_goal_achieved"`
	Confidence           float64 `json:"confidence"`
	Reasoning            string  `json:"reasoning"`
	SolutionSummary      string  `json:"solution_summary"`
}

// Step is one unit of work within a plan version. Index, Description, Type,
// Call, and Conclusion are fixed at creation by the decision component;
// Result, Status, and Perception are each set exactly once by the loop.
type Step struct {
	Index       int              `json:"index"`
	Description string           `json:"description"`
	Type        StepType         `json:"type"`
	Call        *ToolCall        `json:"code,omitempty"`
	Conclusion  string           `json:"conclusion,omitempty"`
	Result      *ExecutionResult `json:"execution_result,omitempty"`
	Status      StepStatus       `json:"status"`
	Perception  *Snapshot        `json:"perception,omitempty"`
}

// PlanVersion is one snapshot of the plan text plus the steps generated
// while that text was active. Versions are append-only: a new decision call
// always produces a new version, never edits a stored one.
type PlanVersion struct {
	PlanText []string `json:"plan_text"`
	Steps    []*Step  `json:"steps"`
}

// SessionState is the mutable summary record of a session.
type SessionState struct {
	OriginalGoalAchieved bool    `json:"original_goal_achieved"`
	FinalAnswer          string  `json:"final_answer,omitempty"`
	Confidence           float64 `json:"confidence,omitempty"`
	ReasoningNote        string  `json:"reasoning_note,omitempty"`
	SolutionSummary      string  `json:"solution_summary,omitempty"`
}

// Session is one end-to-end run from a user query to a terminal state. It is
// owned and mutated exclusively by the Loop driving it; collaborators only
// ever see copies.
type Session struct {
	ID            string         `json:"session_id"`
	OriginalQuery string         `json:"original_query"`
	CreatedAt     time.Time      `json:"created_at"`
	Perception    *Snapshot      `json:"perception,omitempty"`
	PlanVersions  []*PlanVersion `json:"plan_versions"`
	State         SessionState   `json:"state"`
}

// NewSession creates a session for the given query with a fresh id.
func NewSession(query string) *Session {
	return &Session{
		ID:            uuid.New().String(),
		OriginalQuery: query,
		CreatedAt:     time.Now().UTC(),
	}
}

// AddPlanVersion appends a new plan version holding the given steps and
// returns the first step, which the loop executes next.
func (s *Session) AddPlanVersion(planText []string, steps []*Step) *Step {
	s.PlanVersions = append(s.PlanVersions, &PlanVersion{
		PlanText: planText,
		Steps:    steps,
	})
	if len(steps) == 0 {
		return nil
	}
	return steps[0]
}

// LatestPlan returns the plan text of the most recent version, or nil if no
// version exists yet.
func (s *Session) LatestPlan() []string {
	if len(s.PlanVersions) == 0 {
		return nil
	}
	return s.PlanVersions[len(s.PlanVersions)-1].PlanText
}

// CompletedSteps returns every completed step across all plan versions, in
// creation order. The slice holds copies so callers cannot reach back into
// session state.
func (s *Session) CompletedSteps() []Step {
	var out []Step
	for _, pv := range s.PlanVersions {
		for _, st := range pv.Steps {
			if st.Status == StatusCompleted {
				out = append(out, *st)
			}
		}
	}
	return out
}

// Complete reports whether the session has reached a terminal answered state.
func (s *Session) Complete() bool {
	return s.State.OriginalGoalAchieved
}

// MarkComplete records the terminal snapshot in session state. finalAnswer
// overrides the snapshot's solution summary when non-empty (the CONCLUDE
// path). Calling MarkComplete on an already-complete session is a no-op so
// re-evaluating a terminal snapshot cannot mutate settled state.
func (s *Session) MarkComplete(snap *Snapshot, finalAnswer string) {
	if s.State.OriginalGoalAchieved {
		return
	}
	answer := snap.SolutionSummary
	if finalAnswer != "" {
		answer = finalAnswer
	}
	s.State = SessionState{
		OriginalGoalAchieved: true,
		FinalAnswer:          answer,
		Confidence:           snap.Confidence,
		ReasoningNote:        snap.Reasoning,
		SolutionSummary:      snap.SolutionSummary,
	}
}

// Clone returns a deep copy of the session. Updates published to sinks carry
// clones so a slow or misbehaving sink can never observe later mutations.
func (s *Session) Clone() *Session {
	c := *s
	if s.Perception != nil {
		p := *s.Perception
		c.Perception = &p
	}
	c.PlanVersions = make([]*PlanVersion, len(s.PlanVersions))
	for i, pv := range s.PlanVersions {
		npv := &PlanVersion{
			PlanText: append([]string(nil), pv.PlanText...),
			Steps:    make([]*Step, len(pv.Steps)),
		}
		for j, st := range pv.Steps {
			nst := *st
			if st.Call != nil {
				call := *st.Call
				call.Arguments = cloneMap(st.Call.Arguments)
				nst.Call = &call
			}
			if st.Result != nil {
				res := *st.Result
				res.Extra = cloneMap(st.Result.Extra)
				nst.Result = &res
			}
			if st.Perception != nil {
				snap := *st.Perception
				nst.Perception = &snap
			}
			npv.Steps[j] = &nst
		}
		c.PlanVersions[i] = npv
	}
	return &c
}

func cloneMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// String renders a short human-readable summary, used in CLI traces.
func (s *Session) String() string {
	return fmt.Sprintf("session %s (%d plan versions, complete=%v)",
		s.ID, len(s.PlanVersions), s.Complete())
}
