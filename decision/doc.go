// Package decision produces plans and next steps with an LLM.
//
// The decider handles two request shapes: the initial decision, made from
// the user query and the opening perception, and the mid-session decision,
// made after a step completes without finishing the overall goal. Both
// return a full plan text plus exactly one next step; the session loop
// stores each reply as a new plan version.
package decision
