package toolexec

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/planloop-dev/planloop/sessionloop"
)

// DefaultResultLimit caps the size of a step result fed back to perception.
const DefaultResultLimit = 4000

// Executor runs tool-call payloads against a registry. It implements
// sessionloop.Executor.
type Executor struct {
	registry    *Registry
	resultLimit int
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithResultLimit overrides the result size cap; 0 disables it.
func WithResultLimit(n int) ExecutorOption {
	return func(e *Executor) { e.resultLimit = n }
}

// NewExecutor creates an Executor over the given registry.
func NewExecutor(registry *Registry, opts ...ExecutorOption) *Executor {
	e := &Executor{registry: registry, resultLimit: DefaultResultLimit}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs a payload. A raw_code_block payload is parsed as a script of
// JSON tool-call lines; any other payload is dispatched as a single direct
// call. The returned result is the final line's output; per-line outputs are
// carried in Extra under "line_results".
func (e *Executor) Execute(ctx context.Context, call sessionloop.ToolCall) (*sessionloop.ExecutionResult, error) {
	if call.ToolName != sessionloop.RawCodeBlock {
		out, err := e.runCall(call.ToolName, call.Arguments)
		if err != nil {
			return nil, err
		}
		return &sessionloop.ExecutionResult{Result: truncateResult(out, e.resultLimit)}, nil
	}

	calls, err := ParseScript(call.Code())
	if err != nil {
		return nil, err
	}

	results := make([]string, 0, len(calls))
	for i, c := range calls {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("script aborted at line %d: %w", i+1, err)
		}
		args, err := resolveRefs(c.Arguments, results)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", i+1, err)
		}
		out, err := e.runCall(c.ToolName, args)
		if err != nil {
			return nil, fmt.Errorf("line %d (%s): %w", i+1, c.ToolName, err)
		}
		results = append(results, out)
	}

	extra := map[string]interface{}{"line_results": results}
	return &sessionloop.ExecutionResult{
		Result: truncateResult(results[len(results)-1], e.resultLimit),
		Extra:  extra,
	}, nil
}

func (e *Executor) runCall(name string, args map[string]interface{}) (string, error) {
	tool := e.registry.Get(name)
	if tool == nil {
		return "", fmt.Errorf("unknown tool %q (available: %s)", name, strings.Join(e.registry.Names(), ", "))
	}
	return tool.Func(args)
}

// ParseScript parses a code payload into its tool calls. Each non-blank,
// non-comment line must be one JSON tool-call object.
func ParseScript(code string) ([]sessionloop.ToolCall, error) {
	var calls []sessionloop.ToolCall
	for i, line := range strings.Split(code, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") || strings.HasPrefix(trimmed, "//") {
			continue
		}
		var c sessionloop.ToolCall
		if err := json.Unmarshal([]byte(trimmed), &c); err != nil {
			return nil, fmt.Errorf("line %d is not a JSON tool call: %w", i+1, err)
		}
		if c.ToolName == "" {
			return nil, fmt.Errorf("line %d has no tool_name", i+1)
		}
		calls = append(calls, c)
	}
	if len(calls) == 0 {
		return nil, fmt.Errorf("code payload contains no tool calls")
	}
	return calls, nil
}

var refPattern = regexp.MustCompile(`^\$(\d+)$`)

// resolveRefs replaces "$N" argument values with the result of script line
// N (1-based). Results that parse as JSON are substituted as their typed
// value, so a numeric result can feed a numeric parameter.
func resolveRefs(args map[string]interface{}, results []string) (map[string]interface{}, error) {
	if args == nil {
		return nil, nil
	}
	out := make(map[string]interface{}, len(args))
	for k, v := range args {
		resolved, err := resolveValue(v, results)
		if err != nil {
			return nil, fmt.Errorf("argument %q: %w", k, err)
		}
		out[k] = resolved
	}
	return out, nil
}

func resolveValue(v interface{}, results []string) (interface{}, error) {
	switch val := v.(type) {
	case string:
		m := refPattern.FindStringSubmatch(val)
		if m == nil {
			return val, nil
		}
		var n int
		fmt.Sscanf(m[1], "%d", &n)
		if n < 1 || n > len(results) {
			return nil, fmt.Errorf("reference %s points past available results (%d so far)", val, len(results))
		}
		raw := results[n-1]
		var typed interface{}
		if err := json.Unmarshal([]byte(raw), &typed); err == nil {
			return typed, nil
		}
		return raw, nil
	case map[string]interface{}:
		return resolveRefs(val, results)
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			resolved, err := resolveValue(item, results)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	default:
		return v, nil
	}
}

// truncateResult keeps the head and tail of an oversized result, noting how
// much was removed.
func truncateResult(s string, maxChars int) string {
	if maxChars <= 0 || len(s) <= maxChars {
		return s
	}
	half := maxChars / 2
	removed := len(s) - maxChars
	return s[:half] +
		fmt.Sprintf("\n[... %d characters omitted ...]\n", removed) +
		s[len(s)-half:]
}
