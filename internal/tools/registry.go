package tools

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/tenexhq/orchestrator/pkg/models"
)

// fuzzyPrefixes are stripped, in turn, when an exact tool name is not
// registered.
var fuzzyPrefixes = []string{"default_api.", "api.", "tools."}

// Registry manages available tools with thread-safe registration and
// lookup. A registry is per-agent: a default registry plus any per-agent
// tools, which callers compose by cloning a base Registry and registering
// additional tools onto the clone.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
	// onNormalize is invoked whenever fuzzy resolution succeeds, so callers
	// can observe the normalization; the Registry itself does not log it.
	onNormalize func(from, to string)
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// OnNormalize registers a callback invoked whenever fuzzy name resolution
// rewrites an unrecognized name to a registered one.
func (r *Registry) OnNormalize(fn func(from, to string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onNormalize = fn
}

// Register adds or replaces a tool by name.
func (r *Registry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name()] = tool
}

// Unregister removes a tool by name.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// Get resolves name to a Tool, trying an exact match first and then fuzzy
// resolution by stripping each of fuzzyPrefixes in turn.
func (r *Registry) Get(name string) (Tool, string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if t, ok := r.tools[name]; ok {
		return t, name, true
	}
	for _, prefix := range fuzzyPrefixes {
		if strings.HasPrefix(name, prefix) {
			stripped := strings.TrimPrefix(name, prefix)
			if t, ok := r.tools[stripped]; ok {
				if r.onNormalize != nil {
					r.onNormalize(name, stripped)
				}
				return t, stripped, true
			}
		}
	}
	return nil, name, false
}

// Clone returns a new Registry pre-populated with this registry's tools, so
// callers can layer per-agent tools on top of a default registry without
// mutating the shared base.
func (r *Registry) Clone() *Registry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	clone := NewRegistry()
	for name, t := range r.tools {
		clone.tools[name] = t
	}
	return clone
}

// List returns every registered tool, for prompt/schema generation.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	return out
}

// requiredParamNames returns the names of a tool's required parameters.
func requiredParamNames(params []models.Param) []string {
	var out []string
	for _, p := range params {
		if p.Required {
			out = append(out, p.Name)
		}
	}
	return out
}

// validateArgs checks that every required parameter is present in args,
// returning the list of missing names.
func validateArgs(params []models.Param, args json.RawMessage) []string {
	required := requiredParamNames(params)
	if len(required) == 0 {
		return nil
	}
	var parsed map[string]any
	if len(args) > 0 {
		_ = json.Unmarshal(args, &parsed)
	}
	var missing []string
	for _, name := range required {
		if _, ok := parsed[name]; !ok {
			missing = append(missing, name)
		}
	}
	return missing
}

// SystemPromptBlock renders a human-readable tool catalogue for injection
// into an agent's system prompt.
func (r *Registry) SystemPromptBlock() string {
	tools := r.List()
	if len(tools) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("You have access to the following tools:\n\n")
	for _, t := range tools {
		fmt.Fprintf(&b, "- %s: %s\n", t.Name(), t.Description())
		for _, p := range t.Params() {
			req := "optional"
			if p.Required {
				req = "required"
			}
			fmt.Fprintf(&b, "    %s (%s, %s)\n", p.Name, p.Type, req)
		}
	}
	return b.String()
}
