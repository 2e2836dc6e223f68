// Package perception turns raw text, either the opening user query or a
// step's execution result, into a structured goal judgment.
//
// The perceiver sends the input plus any memory excerpts and the current
// plan to an LLM and parses the reply into a sessionloop.Snapshot. Replies
// missing required fields are rejected rather than defaulted, so a
// malformed model response surfaces as an error instead of a silently
// wrong judgment.
package perception
