package sessionloop

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Config holds loop-level settings.
type Config struct {
	// Strategy is passed through to every decision request.
	Strategy string
	// FailureWindowSize bounds the failure-memory window (default 3).
	FailureWindowSize int
	// FailureSummaryLimit truncates execution results recorded as failure
	// context (default 300 characters).
	FailureSummaryLimit int
	// MaxPlanVersions is a safety ceiling on decision calls per session;
	// 0 means unlimited. The natural-language decision component cannot be
	// proven to converge, so the default is bounded.
	MaxPlanVersions int
	// RepeatLimit stops the session once the decision component proposes
	// the same step this many times in a row; 0 disables the guard.
	RepeatLimit int
}

// DefaultConfig returns the default loop configuration.
func DefaultConfig() Config {
	return Config{
		Strategy:            "exploratory",
		FailureWindowSize:   DefaultFailureWindowSize,
		FailureSummaryLimit: 300,
		MaxPlanVersions:     20,
		RepeatLimit:         4,
	}
}

// Loop drives sessions from query to termination. One Loop may run many
// sessions, concurrently or not; all per-session state lives in the Session
// and in locals of Run, so sessions never share mutable state through the
// Loop itself.
type Loop struct {
	memory    MemorySearcher
	perceiver Perceiver
	decider   Decider
	executor  Executor
	sinks     []UpdateSink
	config    Config
}

// New creates a Loop from its collaborators. Pass no sinks to run silently.
func New(memory MemorySearcher, perceiver Perceiver, decider Decider, executor Executor, config *Config, sinks ...UpdateSink) *Loop {
	cfg := DefaultConfig()
	if config != nil {
		cfg = *config
		if cfg.FailureWindowSize <= 0 {
			cfg.FailureWindowSize = DefaultFailureWindowSize
		}
		if cfg.FailureSummaryLimit <= 0 {
			cfg.FailureSummaryLimit = 300
		}
	}
	return &Loop{
		memory:    memory,
		perceiver: perceiver,
		decider:   decider,
		executor:  executor,
		sinks:     sinks,
		config:    cfg,
	}
}

// Run drives one session for the given query until a terminal state is
// reached. The returned session is complete, clarification-blocked, or
// cleanly exhausted; err is non-nil only for contract violations or
// collaborator transport failures, in which case the partially built
// session is returned alongside it.
func (l *Loop) Run(ctx context.Context, query string) (*Session, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("sessionloop: empty query")
	}

	session := NewSession(query)
	l.publish(UpdateSessionStart, session)

	memories, err := l.memory.Search(ctx, query)
	if err != nil {
		return session, fmt.Errorf("memory search: %w", err)
	}

	snap, err := l.perceiver.Perceive(ctx, PerceptionRequest{
		RawInput: query,
		Memory:   memories,
		Kind:     SnapshotUserQuery,
	})
	if err != nil {
		return session, fmt.Errorf("opening perception: %w", err)
	}
	session.Perception = snap
	l.publish(UpdatePerception, session)

	// Fast path: some queries are pure lookups answerable from history
	// alone. Decision and execution are never invoked.
	if snap.OriginalGoalAchieved {
		session.MarkComplete(snap, "")
		l.publish(UpdateFastPathComplete, session)
		return session, nil
	}

	out, err := l.decider.Decide(ctx, DecisionRequest{
		Mode:       PlanModeInitial,
		Strategy:   l.config.Strategy,
		Query:      query,
		Perception: snap,
	})
	if err != nil {
		return session, fmt.Errorf("initial decision: %w", err)
	}
	if err := out.Validate(); err != nil {
		return session, fmt.Errorf("initial decision: %w", err)
	}

	step := session.AddPlanVersion(out.PlanText, []*Step{out.Step()})
	l.publish(UpdatePlanVersionAdded, session)

	window := NewFailureWindow(l.config.FailureWindowSize)
	guard := newRepeatGuard(l.config.RepeatLimit)
	guard.observe(step)

	for step != nil {
		done, err := l.executeStep(ctx, session, step, window)
		if err != nil {
			return session, err
		}
		if done {
			return session, nil
		}
		step, err = l.evaluateStep(ctx, session, step, guard)
		if err != nil {
			return session, err
		}
	}
	return session, nil
}

// executeStep dispatches on the step type. It returns done=true when the
// step self-terminates the session (CONCLUDE, NOP); otherwise the caller
// proceeds to evaluation.
func (l *Loop) executeStep(ctx context.Context, session *Session, step *Step, window *FailureWindow) (done bool, err error) {
	switch step.Type {
	case StepCode:
		return false, l.executeCode(ctx, session, step, window)

	case StepConclude:
		step.Result = &ExecutionResult{Result: step.Conclusion}
		step.Status = StatusCompleted
		snap, err := l.perceiver.Perceive(ctx, PerceptionRequest{
			RawInput:    step.Conclusion,
			Memory:      window.Records(),
			CurrentPlan: session.LatestPlan(),
			Kind:        SnapshotStepResult,
		})
		if err != nil {
			return false, fmt.Errorf("perception on conclusion: %w", err)
		}
		step.Perception = snap
		session.MarkComplete(snap, step.Conclusion)
		l.publish(UpdateSessionComplete, session)
		return true, nil

	case StepNop:
		step.Status = StatusClarificationNeeded
		l.publish(UpdateClarificationNeeded, session)
		return true, nil

	default:
		return false, fmt.Errorf("%w: unknown step type %q", ErrContract, step.Type)
	}
}

// executeCode runs a CODE step's payload, judges the result, and records a
// failure into the window when the local goal was missed. Executor errors
// are recoverable: they become the result text and flow into perception
// like any other tool output.
func (l *Loop) executeCode(ctx context.Context, session *Session, step *Step, window *FailureWindow) error {
	if step.Call == nil {
		return fmt.Errorf("%w: CODE step %d has no payload", ErrContract, step.Index)
	}

	result, execErr := l.executor.Execute(ctx, *step.Call)
	if execErr != nil {
		result = &ExecutionResult{Result: "Tool failed: " + execErr.Error()}
	} else if result == nil || result.Result == "" {
		result = &ExecutionResult{Result: "Tool failed"}
	}
	step.Result = result
	step.Status = StatusCompleted

	snap, err := l.perceiver.Perceive(ctx, PerceptionRequest{
		RawInput:    result.Result,
		Memory:      window.Records(),
		CurrentPlan: session.LatestPlan(),
		Kind:        SnapshotStepResult,
	})
	if err != nil {
		return fmt.Errorf("perception on step %d result: %w", step.Index, err)
	}
	step.Perception = snap

	if !snap.LocalGoalAchieved {
		window.Add(MemoryRecord{
			Query:             step.Description,
			ResultRequirement: "Tool failed",
			SolutionSummary:   truncate(result.Result, l.config.FailureSummaryLimit),
		})
	}

	l.publish(UpdateStepCompleted, session)
	return nil
}

// evaluateStep applies the evaluation policy to a completed CODE step, in
// strict priority order: original goal beats local goal beats failure. It
// returns the next step to execute, or nil when the session has reached a
// terminal state.
func (l *Loop) evaluateStep(ctx context.Context, session *Session, step *Step, guard *repeatGuard) (*Step, error) {
	snap := step.Perception

	if snap.OriginalGoalAchieved {
		session.MarkComplete(snap, "")
		l.publish(UpdateSessionComplete, session)
		return nil, nil
	}

	if snap.LocalGoalAchieved {
		if step.Index+1 >= len(session.LatestPlan()) {
			// Plan exhausted without an explicit conclusion: a clean stop.
			l.publish(UpdatePlanExhausted, session)
			return nil, nil
		}
		return l.nextStep(ctx, session, step, false, guard)
	}

	return l.nextStep(ctx, session, step, true, guard)
}

// nextStep requests a mid-session decision and appends the resulting plan
// version. stepFailed distinguishes advancing from replanning.
func (l *Loop) nextStep(ctx context.Context, session *Session, completed *Step, stepFailed bool, guard *repeatGuard) (*Step, error) {
	if l.config.MaxPlanVersions > 0 && len(session.PlanVersions) >= l.config.MaxPlanVersions {
		l.publish(UpdateCeilingReached, session)
		return nil, nil
	}

	out, err := l.decider.Decide(ctx, DecisionRequest{
		Mode:           PlanModeMidSession,
		Strategy:       l.config.Strategy,
		Query:          session.OriginalQuery,
		PlanVersion:    len(session.PlanVersions),
		CurrentPlan:    session.LatestPlan(),
		CompletedSteps: session.CompletedSteps(),
		CurrentStep:    completed,
		StepFailed:     stepFailed,
	})
	if err != nil {
		return nil, fmt.Errorf("mid-session decision: %w", err)
	}
	if err := out.Validate(); err != nil {
		return nil, fmt.Errorf("mid-session decision: %w", err)
	}

	step := session.AddPlanVersion(out.PlanText, []*Step{out.Step()})
	l.publish(UpdatePlanVersionAdded, session)

	if guard.observe(step) {
		l.publish(UpdateCeilingReached, session)
		return nil, nil
	}
	return step, nil
}

// publish fans an update out to all sinks with a deep session copy. Sinks
// are fire-and-forget and never an error source for the loop.
func (l *Loop) publish(kind UpdateKind, session *Session) {
	if len(l.sinks) == 0 {
		return
	}
	u := Update{
		Kind:      kind,
		Timestamp: time.Now().UTC(),
		Session:   session.Clone(),
	}
	for _, sink := range l.sinks {
		sink.Publish(u)
	}
}

func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max]
}
