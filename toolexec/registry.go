package toolexec

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Func is the signature for tool execution. It receives parsed arguments
// and returns the result as a string.
type Func func(args map[string]interface{}) (string, error)

// Definition describes a tool for the decision prompt.
type Definition struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Params      []string `json:"params"`
}

// RegisteredTool pairs a definition with its executor.
type RegisteredTool struct {
	Definition Definition
	Func       Func
}

// Registry manages tool registration and lookup.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*RegisteredTool
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*RegisteredTool)}
}

// Register adds or replaces a tool in the registry.
func (r *Registry) Register(tool RegisteredTool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Definition.Name] = &tool
}

// Unregister removes a tool from the registry.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// Get returns a registered tool by name, or nil if not found.
func (r *Registry) Get(name string) *RegisteredTool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// Names returns the names of all registered tools, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Count returns the number of registered tools.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Docs renders one line per tool for inclusion in a decision prompt.
func (r *Registry) Docs() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var lines []string
	for _, tool := range r.tools {
		d := tool.Definition
		lines = append(lines, fmt.Sprintf("- %s(%s): %s", d.Name, strings.Join(d.Params, ", "), d.Description))
	}
	sort.Strings(lines)
	return strings.Join(lines, "\n")
}

// Argument extraction helpers. JSON numbers arrive as float64; the helpers
// normalize the shapes models actually produce.

// FloatArg extracts a numeric argument.
func FloatArg(args map[string]interface{}, key string) (float64, error) {
	v, ok := args[key]
	if !ok {
		return 0, fmt.Errorf("missing argument %q", key)
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, fmt.Errorf("argument %q is not a number: %v", key, err)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("argument %q is not a number (got %T)", key, v)
	}
}

// IntArg extracts an integer argument, rejecting fractional values.
func IntArg(args map[string]interface{}, key string) (int, error) {
	f, err := FloatArg(args, key)
	if err != nil {
		return 0, err
	}
	n := int(f)
	if float64(n) != f {
		return 0, fmt.Errorf("argument %q must be an integer (got %v)", key, f)
	}
	return n, nil
}

// StringArg extracts a string argument.
func StringArg(args map[string]interface{}, key string) (string, error) {
	v, ok := args[key]
	if !ok {
		return "", fmt.Errorf("missing argument %q", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("argument %q is not a string (got %T)", key, v)
	}
	return s, nil
}

// FloatSliceArg extracts a numeric list argument.
func FloatSliceArg(args map[string]interface{}, key string) ([]float64, error) {
	v, ok := args[key]
	if !ok {
		return nil, fmt.Errorf("missing argument %q", key)
	}
	items, ok := v.([]interface{})
	if !ok {
		return nil, fmt.Errorf("argument %q is not a list (got %T)", key, v)
	}
	out := make([]float64, len(items))
	for i, item := range items {
		f, ok := item.(float64)
		if !ok {
			return nil, fmt.Errorf("argument %q element %d is not a number (got %T)", key, i, item)
		}
		out[i] = f
	}
	return out, nil
}
