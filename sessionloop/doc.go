// Package sessionloop implements the session control loop at the heart of
// planloop: the state machine that turns a user query into a sequence of
// append-only plan versions and steps, executes each step, interprets the
// result, and decides whether to continue, advance, replan, or terminate.
//
// The loop orchestrates four collaborators, each specified only at its
// interface boundary:
//
//   - MemorySearcher: prior-session excerpts relevant to the query.
//   - Perceiver: judges whether the overall and local goals are satisfied.
//   - Decider: produces a new plan version plus a fully specified next step.
//   - Executor: runs a CODE step's tool-call payload.
//
// Control flow: query -> memory lookup -> opening perception (fast-path
// exit if already answered) -> initial decision (plan v1 + step 0) ->
// loop { execute step -> perception on result -> done / advance / replan }
// -> terminal session state.
//
// A Session owns its plan versions and steps exclusively; collaborators and
// update sinks only ever receive copies. One Loop can drive many sessions
// concurrently because all per-session state is confined to the Session
// value and locals of Run.
//
// # Quick Start
//
//	loop := sessionloop.New(memory, perceiver, decider, executor, nil, sink)
//	session, err := loop.Run(ctx, "What is 4 + 5?")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(session.State.FinalAnswer)
package sessionloop
