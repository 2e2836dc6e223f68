package sessionloop

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

type mockMemory struct {
	records []MemoryRecord
	err     error
	queries []string
}

func (m *mockMemory) Search(_ context.Context, query string) ([]MemoryRecord, error) {
	m.queries = append(m.queries, query)
	return m.records, m.err
}

type mockPerceiver struct {
	snaps    []*Snapshot
	err      error
	requests []PerceptionRequest
}

func (m *mockPerceiver) Perceive(_ context.Context, req PerceptionRequest) (*Snapshot, error) {
	m.requests = append(m.requests, req)
	if m.err != nil {
		return nil, m.err
	}
	idx := len(m.requests) - 1
	if idx >= len(m.snaps) {
		idx = len(m.snaps) - 1
	}
	return m.snaps[idx], nil
}

type mockDecider struct {
	outputs  []*DecisionOutput
	err      error
	requests []DecisionRequest
}

func (m *mockDecider) Decide(_ context.Context, req DecisionRequest) (*DecisionOutput, error) {
	m.requests = append(m.requests, req)
	if m.err != nil {
		return nil, m.err
	}
	idx := len(m.requests) - 1
	if idx >= len(m.outputs) {
		idx = len(m.outputs) - 1
	}
	return m.outputs[idx], nil
}

type mockExecutor struct {
	results []*ExecutionResult
	errs    []error
	calls   []ToolCall
}

func (m *mockExecutor) Execute(_ context.Context, call ToolCall) (*ExecutionResult, error) {
	idx := len(m.calls)
	m.calls = append(m.calls, call)
	if idx < len(m.errs) && m.errs[idx] != nil {
		return nil, m.errs[idx]
	}
	if idx >= len(m.results) {
		idx = len(m.results) - 1
	}
	if idx < 0 {
		return nil, nil
	}
	return m.results[idx], nil
}

type recordingSink struct {
	updates []Update
}

func (r *recordingSink) Publish(u Update) { r.updates = append(r.updates, u) }

func (r *recordingSink) kinds() []UpdateKind {
	out := make([]UpdateKind, len(r.updates))
	for i, u := range r.updates {
		out[i] = u.Kind
	}
	return out
}

func snapNotDone() *Snapshot {
	return &Snapshot{Reasoning: "no answer yet", SolutionSummary: "Not ready yet"}
}

func snapLocalDone() *Snapshot {
	return &Snapshot{LocalGoalAchieved: true, Confidence: 0.8, Reasoning: "step ok", SolutionSummary: "Not ready yet"}
}

func snapAllDone(summary string) *Snapshot {
	return &Snapshot{
		OriginalGoalAchieved: true,
		LocalGoalAchieved:    true,
		Confidence:           0.95,
		Reasoning:            "answered",
		SolutionSummary:      summary,
	}
}

func codeOutput(desc, code string, plan ...string) *DecisionOutput {
	return &DecisionOutput{Description: desc, Type: StepCode, Code: code, PlanText: plan}
}

func kindsEqual(got, want []UpdateKind) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func TestRunRejectsEmptyQuery(t *testing.T) {
	loop := New(&mockMemory{}, &mockPerceiver{}, &mockDecider{}, &mockExecutor{}, nil)
	if _, err := loop.Run(context.Background(), "   "); err == nil {
		t.Fatal("expected error for empty query")
	}
}

func TestFastPathSkipsDecisionAndExecution(t *testing.T) {
	memory := &mockMemory{records: []MemoryRecord{{Query: "seen before", SolutionSummary: "42"}}}
	perceiver := &mockPerceiver{snaps: []*Snapshot{snapAllDone("42")}}
	decider := &mockDecider{}
	executor := &mockExecutor{}
	sink := &recordingSink{}

	loop := New(memory, perceiver, decider, executor, nil, sink)
	session, err := loop.Run(context.Background(), "what is the answer?")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if !session.Complete() {
		t.Error("session should be complete via the fast path")
	}
	if session.State.FinalAnswer != "42" {
		t.Errorf("FinalAnswer = %q, want 42", session.State.FinalAnswer)
	}
	if len(session.PlanVersions) != 0 {
		t.Errorf("fast path must not create plan versions, got %d", len(session.PlanVersions))
	}
	if len(decider.requests) != 0 || len(executor.calls) != 0 {
		t.Error("fast path must not invoke decision or execution")
	}
	want := []UpdateKind{UpdateSessionStart, UpdatePerception, UpdateFastPathComplete}
	if !kindsEqual(sink.kinds(), want) {
		t.Errorf("updates = %v, want %v", sink.kinds(), want)
	}
	// memory results reach the opening perception
	if len(perceiver.requests[0].Memory) != 1 {
		t.Error("opening perception did not receive memory records")
	}
	if perceiver.requests[0].Kind != SnapshotUserQuery {
		t.Errorf("opening perception kind = %q", perceiver.requests[0].Kind)
	}
}

func TestSingleCodeStepCompletesSession(t *testing.T) {
	perceiver := &mockPerceiver{snaps: []*Snapshot{snapNotDone(), snapAllDone("the sum is 5")}}
	decider := &mockDecider{outputs: []*DecisionOutput{
		codeOutput("add the numbers", `{"tool_name": "add", "tool_arguments": {"a": 2, "b": 3}}`, "add the numbers"),
	}}
	executor := &mockExecutor{results: []*ExecutionResult{{Result: "5"}}}
	sink := &recordingSink{}

	loop := New(&mockMemory{}, perceiver, decider, executor, nil, sink)
	session, err := loop.Run(context.Background(), "what is 2+3?")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if !session.Complete() {
		t.Fatal("session should be complete")
	}
	if session.State.FinalAnswer != "the sum is 5" {
		t.Errorf("FinalAnswer = %q", session.State.FinalAnswer)
	}
	if len(session.PlanVersions) != 1 {
		t.Errorf("plan versions = %d, want 1", len(session.PlanVersions))
	}
	step := session.PlanVersions[0].Steps[0]
	if step.Status != StatusCompleted || step.Result.Result != "5" {
		t.Errorf("step = %+v", step)
	}
	if decider.requests[0].Mode != PlanModeInitial {
		t.Errorf("first decision mode = %q", decider.requests[0].Mode)
	}
	want := []UpdateKind{UpdateSessionStart, UpdatePerception, UpdatePlanVersionAdded, UpdateStepCompleted, UpdateSessionComplete}
	if !kindsEqual(sink.kinds(), want) {
		t.Errorf("updates = %v, want %v", sink.kinds(), want)
	}
}

func TestFailedStepTriggersReplanThenConclude(t *testing.T) {
	perceiver := &mockPerceiver{snaps: []*Snapshot{
		snapNotDone(),          // opening
		snapNotDone(),          // failed step result
		snapAllDone("it is 7"), // conclusion
	}}
	decider := &mockDecider{outputs: []*DecisionOutput{
		codeOutput("divide by zero", `{"tool_name": "divide", "tool_arguments": {"a": 7, "b": 0}}`, "divide by zero"),
		{Description: "state the answer", Type: StepConclude, Conclusion: "the answer is 7", PlanText: []string{"state the answer"}},
	}}
	executor := &mockExecutor{errs: []error{errors.New("division by zero")}}
	sink := &recordingSink{}

	loop := New(&mockMemory{}, perceiver, decider, executor, nil, sink)
	session, err := loop.Run(context.Background(), "what is 7/0, or failing that, 7?")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	// executor error became a failed result, not a loop error
	failedStep := session.PlanVersions[0].Steps[0]
	if !strings.HasPrefix(failedStep.Result.Result, "Tool failed:") {
		t.Errorf("failed step result = %q", failedStep.Result.Result)
	}
	if failedStep.Status != StatusCompleted {
		t.Errorf("failed step status = %q", failedStep.Status)
	}

	// the replan request carried the failure flag and the finished step
	mid := decider.requests[1]
	if mid.Mode != PlanModeMidSession || !mid.StepFailed {
		t.Errorf("mid-session request = %+v", mid)
	}
	if mid.CurrentStep == nil || mid.CurrentStep.Description != "divide by zero" {
		t.Errorf("CurrentStep = %+v", mid.CurrentStep)
	}
	if mid.PlanVersion != 1 {
		t.Errorf("PlanVersion = %d, want 1", mid.PlanVersion)
	}

	// the conclusion perception saw the failure window
	conclReq := perceiver.requests[2]
	if len(conclReq.Memory) != 1 || conclReq.Memory[0].ResultRequirement != "Tool failed" {
		t.Errorf("conclusion perception memory = %+v", conclReq.Memory)
	}

	if !session.Complete() {
		t.Fatal("session should be complete")
	}
	// the conclusion text overrides the snapshot summary
	if session.State.FinalAnswer != "the answer is 7" {
		t.Errorf("FinalAnswer = %q", session.State.FinalAnswer)
	}
	if len(session.PlanVersions) != 2 {
		t.Errorf("plan versions = %d, want 2", len(session.PlanVersions))
	}
}

func TestLocalSuccessAdvancesWithinPlan(t *testing.T) {
	perceiver := &mockPerceiver{snaps: []*Snapshot{
		snapNotDone(),
		snapLocalDone(),
		snapAllDone("done"),
	}}
	decider := &mockDecider{outputs: []*DecisionOutput{
		codeOutput("step one", `{"tool_name": "add", "tool_arguments": {"a": 1, "b": 1}}`, "step one", "step two"),
		{StepIndex: 1, Description: "step two", Type: StepCode,
			Code:     `{"tool_name": "add", "tool_arguments": {"a": 2, "b": 2}}`,
			PlanText: []string{"step one", "step two"}},
	}}
	executor := &mockExecutor{results: []*ExecutionResult{{Result: "2"}, {Result: "4"}}}

	loop := New(&mockMemory{}, perceiver, decider, executor, nil)
	session, err := loop.Run(context.Background(), "two additions please")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if !session.Complete() {
		t.Fatal("session should be complete")
	}
	// advancing within the plan is not a failure
	if decider.requests[1].StepFailed {
		t.Error("advance request marked StepFailed")
	}
	if len(executor.calls) != 2 {
		t.Errorf("executor calls = %d, want 2", len(executor.calls))
	}
}

func TestPlanExhaustionStopsCleanly(t *testing.T) {
	perceiver := &mockPerceiver{snaps: []*Snapshot{snapNotDone(), snapLocalDone()}}
	decider := &mockDecider{outputs: []*DecisionOutput{
		codeOutput("only step", `{"tool_name": "add", "tool_arguments": {"a": 1, "b": 1}}`, "only step"),
	}}
	executor := &mockExecutor{results: []*ExecutionResult{{Result: "2"}}}
	sink := &recordingSink{}

	loop := New(&mockMemory{}, perceiver, decider, executor, nil, sink)
	session, err := loop.Run(context.Background(), "do the one thing")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if session.Complete() {
		t.Error("exhausted session must not claim completion")
	}
	if len(decider.requests) != 1 {
		t.Errorf("decider calls = %d, want 1 (no replanning after exhaustion)", len(decider.requests))
	}
	got := sink.kinds()
	if got[len(got)-1] != UpdatePlanExhausted {
		t.Errorf("last update = %q, want plan_exhausted", got[len(got)-1])
	}
}

func TestNopHaltsForClarification(t *testing.T) {
	perceiver := &mockPerceiver{snaps: []*Snapshot{snapNotDone()}}
	decider := &mockDecider{outputs: []*DecisionOutput{
		{Description: "ask the user what they meant", Type: StepNop, PlanText: []string{"ask the user what they meant"}},
	}}
	sink := &recordingSink{}

	loop := New(&mockMemory{}, perceiver, decider, &mockExecutor{}, nil, sink)
	session, err := loop.Run(context.Background(), "do the thing with the stuff")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if session.Complete() {
		t.Error("clarification-blocked session must not be complete")
	}
	step := session.PlanVersions[0].Steps[0]
	if step.Status != StatusClarificationNeeded {
		t.Errorf("step status = %q", step.Status)
	}
	got := sink.kinds()
	if got[len(got)-1] != UpdateClarificationNeeded {
		t.Errorf("last update = %q, want clarification_needed", got[len(got)-1])
	}
}

func TestPlanVersionCeilingStopsSession(t *testing.T) {
	perceiver := &mockPerceiver{snaps: []*Snapshot{snapNotDone()}}
	decider := &mockDecider{}
	for i := 0; i < 5; i++ {
		decider.outputs = append(decider.outputs,
			codeOutput(fmt.Sprintf("attempt %d", i),
				fmt.Sprintf(`{"tool_name": "add", "tool_arguments": {"a": %d, "b": 1}}`, i),
				"keep trying"))
	}
	executor := &mockExecutor{results: []*ExecutionResult{{Result: "nope"}}}
	sink := &recordingSink{}
	cfg := DefaultConfig()
	cfg.MaxPlanVersions = 2
	cfg.RepeatLimit = 0

	loop := New(&mockMemory{}, perceiver, decider, executor, &cfg, sink)
	session, err := loop.Run(context.Background(), "an impossible request")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if session.Complete() {
		t.Error("ceiling-stopped session must not be complete")
	}
	if len(session.PlanVersions) != 2 {
		t.Errorf("plan versions = %d, want 2", len(session.PlanVersions))
	}
	got := sink.kinds()
	if got[len(got)-1] != UpdateCeilingReached {
		t.Errorf("last update = %q, want ceiling_reached", got[len(got)-1])
	}
}

func TestRepeatGuardStopsIdenticalProposals(t *testing.T) {
	perceiver := &mockPerceiver{snaps: []*Snapshot{snapNotDone()}}
	same := codeOutput("same step", `{"tool_name": "add", "tool_arguments": {"a": 1, "b": 1}}`, "same step")
	decider := &mockDecider{outputs: []*DecisionOutput{same}}
	executor := &mockExecutor{results: []*ExecutionResult{{Result: "nope"}}}
	sink := &recordingSink{}
	cfg := DefaultConfig()
	cfg.MaxPlanVersions = 0
	cfg.RepeatLimit = 2

	loop := New(&mockMemory{}, perceiver, decider, executor, &cfg, sink)
	session, err := loop.Run(context.Background(), "a stuck request")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if session.Complete() {
		t.Error("guard-stopped session must not be complete")
	}
	// initial proposal + one identical replan = limit 2
	if len(session.PlanVersions) != 2 {
		t.Errorf("plan versions = %d, want 2", len(session.PlanVersions))
	}
	got := sink.kinds()
	if got[len(got)-1] != UpdateCeilingReached {
		t.Errorf("last update = %q, want ceiling_reached", got[len(got)-1])
	}
}

func TestFailureWindowBoundsAndTruncates(t *testing.T) {
	perceiver := &mockPerceiver{snaps: []*Snapshot{snapNotDone()}}
	decider := &mockDecider{}
	for i := 0; i < 6; i++ {
		decider.outputs = append(decider.outputs,
			codeOutput(fmt.Sprintf("distinct attempt %d", i),
				fmt.Sprintf(`{"tool_name": "add", "tool_arguments": {"a": %d, "b": 1}}`, i),
				"keep trying"))
	}
	longResult := strings.Repeat("x", 500)
	executor := &mockExecutor{results: []*ExecutionResult{{Result: longResult}}}
	cfg := DefaultConfig()
	cfg.MaxPlanVersions = 5
	cfg.RepeatLimit = 0
	cfg.FailureWindowSize = 2
	cfg.FailureSummaryLimit = 100

	loop := New(&mockMemory{}, perceiver, decider, executor, &cfg)
	if _, err := loop.Run(context.Background(), "fail repeatedly"); err != nil {
		t.Fatalf("Run: %v", err)
	}

	last := perceiver.requests[len(perceiver.requests)-1]
	if len(last.Memory) != 2 {
		t.Errorf("failure window passed %d records, want 2", len(last.Memory))
	}
	for _, rec := range last.Memory {
		if len(rec.SolutionSummary) > 100 {
			t.Errorf("failure summary not truncated: %d chars", len(rec.SolutionSummary))
		}
	}
	// FIFO: the oldest failures were evicted
	if last.Memory[0].Query == "distinct attempt 0" {
		t.Error("oldest failure was not evicted")
	}
}

func TestEmptyExecutorResultBecomesFailure(t *testing.T) {
	perceiver := &mockPerceiver{snaps: []*Snapshot{snapNotDone(), snapAllDone("ok")}}
	decider := &mockDecider{outputs: []*DecisionOutput{
		codeOutput("do it", `{"tool_name": "add", "tool_arguments": {}}`, "do it"),
	}}
	executor := &mockExecutor{} // returns nil result, nil error

	loop := New(&mockMemory{}, perceiver, decider, executor, nil)
	session, err := loop.Run(context.Background(), "q")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if session.PlanVersions[0].Steps[0].Result.Result != "Tool failed" {
		t.Errorf("result = %q", session.PlanVersions[0].Steps[0].Result.Result)
	}
}

func TestContractViolationFailsFast(t *testing.T) {
	perceiver := &mockPerceiver{snaps: []*Snapshot{snapNotDone()}}
	decider := &mockDecider{outputs: []*DecisionOutput{
		{Description: "", Type: StepCode, Code: "x", PlanText: []string{"p"}},
	}}

	loop := New(&mockMemory{}, perceiver, decider, &mockExecutor{}, nil)
	_, err := loop.Run(context.Background(), "q")
	if !errors.Is(err, ErrContract) {
		t.Errorf("err = %v, want ErrContract", err)
	}
}

func TestMemorySearchErrorAborts(t *testing.T) {
	memory := &mockMemory{err: errors.New("index corrupted")}
	loop := New(memory, &mockPerceiver{snaps: []*Snapshot{snapNotDone()}}, &mockDecider{}, &mockExecutor{}, nil)
	if _, err := loop.Run(context.Background(), "q"); err == nil {
		t.Fatal("expected memory error to propagate")
	}
}

func TestPublishedUpdatesAreIsolatedCopies(t *testing.T) {
	perceiver := &mockPerceiver{snaps: []*Snapshot{snapNotDone(), snapAllDone("5")}}
	decider := &mockDecider{outputs: []*DecisionOutput{
		codeOutput("add", `{"tool_name": "add", "tool_arguments": {"a": 2, "b": 3}}`, "add"),
	}}
	executor := &mockExecutor{results: []*ExecutionResult{{Result: "5"}}}
	sink := &recordingSink{}

	loop := New(&mockMemory{}, perceiver, decider, executor, nil, sink)
	session, err := loop.Run(context.Background(), "what is 2+3?")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	// the plan_version_added snapshot was taken before execution; the live
	// session mutated afterwards, but the published copy must not have.
	var planAdded *Session
	for _, u := range sink.updates {
		if u.Kind == UpdatePlanVersionAdded {
			planAdded = u.Session
		}
	}
	if planAdded == nil {
		t.Fatal("no plan_version_added update")
	}
	if planAdded.PlanVersions[0].Steps[0].Status != StatusPending {
		t.Error("published update observed later mutation of the step")
	}
	if session.PlanVersions[0].Steps[0].Status != StatusCompleted {
		t.Error("live session step should be completed")
	}
}

func TestChannelSinkDropsWhenFull(t *testing.T) {
	sink := NewChannelSink(1)
	sink.Publish(Update{Kind: UpdateSessionStart})
	sink.Publish(Update{Kind: UpdatePerception}) // dropped, must not block

	u := <-sink.Updates()
	if u.Kind != UpdateSessionStart {
		t.Errorf("got %q, want session_start", u.Kind)
	}
	sink.Close()
	sink.Close() // double close is safe
	sink.Publish(Update{Kind: UpdateSessionComplete}) // after close, dropped
	if _, ok := <-sink.Updates(); ok {
		t.Error("channel should be closed and drained")
	}
}
