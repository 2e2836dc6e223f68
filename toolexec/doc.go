// Package toolexec runs the code payloads of CODE steps.
//
// A payload is a script of JSON tool-call lines, one object per line:
//
//	{"tool_name": "add", "tool_arguments": {"a": 2, "b": 3}}
//	{"tool_name": "power", "tool_arguments": {"a": "$1", "b": 2}}
//
// Lines run in order; "$N" argument values reference the result of line N.
// Tools live in a Registry; Builtins returns the arithmetic, string, and
// sequence tools available out of the box.
package toolexec
