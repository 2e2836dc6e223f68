package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/planloop-dev/planloop/sessionloop"
)

// RunREPL reads queries from stdin until EOF or an exit command, driving one
// session per line.
func (a *app) RunREPL(ctx context.Context) error {
	fmt.Println("planloop — type a query, or 'exit' to quit")

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for {
		fmt.Print("\n> ")
		if !scanner.Scan() {
			fmt.Println()
			return scanner.Err()
		}
		query := strings.TrimSpace(scanner.Text())
		switch query {
		case "":
			continue
		case "exit", "quit":
			return nil
		}

		session, err := a.loop.Run(ctx, query)
		if err != nil {
			fmt.Fprintf(os.Stderr, "session failed: %v\n", err)
			if session == nil {
				continue
			}
		}
		a.finishSession(ctx, session)
	}
}

// printUpdate renders a live trace line for one session update.
func printUpdate(u sessionloop.Update) {
	s := u.Session
	switch u.Kind {
	case sessionloop.UpdateSessionStart:
		fmt.Printf("--- session %s ---\n", s.ID)

	case sessionloop.UpdatePerception:
		p := s.Perception
		fmt.Printf("[perception] original=%v local=%v confidence=%.2f\n  %s\n",
			p.OriginalGoalAchieved, p.LocalGoalAchieved, p.Confidence, p.Reasoning)

	case sessionloop.UpdateFastPathComplete:
		fmt.Println("[fast path] answered from memory")

	case sessionloop.UpdatePlanVersionAdded:
		fmt.Printf("[plan v%d]\n", len(s.PlanVersions))
		for i, line := range s.LatestPlan() {
			fmt.Printf("  %d. %s\n", i+1, line)
		}
		if pv := s.PlanVersions[len(s.PlanVersions)-1]; len(pv.Steps) > 0 {
			st := pv.Steps[0]
			fmt.Printf("  next: [%s] %s\n", st.Type, st.Description)
		}

	case sessionloop.UpdateStepCompleted:
		if st := lastCompletedStep(s); st != nil {
			result := ""
			if st.Result != nil {
				result = firstLine(st.Result.Result)
			}
			fmt.Printf("[step %d] %s\n  -> %s\n", st.Index, st.Description, result)
		}

	case sessionloop.UpdateClarificationNeeded:
		fmt.Println("[halt] clarification needed")

	case sessionloop.UpdatePlanExhausted:
		fmt.Println("[halt] plan exhausted without a conclusion")

	case sessionloop.UpdateCeilingReached:
		fmt.Println("[halt] safety ceiling reached")

	case sessionloop.UpdateSessionComplete:
		// the outcome banner follows from finishSession
	}
}

// printOutcome prints the terminal state of a finished session.
func printOutcome(s *sessionloop.Session) {
	if s.Complete() {
		fmt.Printf("\nanswer: %s\n", s.State.FinalAnswer)
		fmt.Printf("(confidence %.2f, %d plan versions)\n", s.State.Confidence, len(s.PlanVersions))
		return
	}
	fmt.Println("\nno answer reached")
}

func lastCompletedStep(s *sessionloop.Session) *sessionloop.Step {
	for i := len(s.PlanVersions) - 1; i >= 0; i-- {
		steps := s.PlanVersions[i].Steps
		for j := len(steps) - 1; j >= 0; j-- {
			if steps[j].Status == sessionloop.StatusCompleted {
				return steps[j]
			}
		}
	}
	return nil
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx] + " ..."
	}
	return s
}
