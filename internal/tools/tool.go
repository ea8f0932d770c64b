// Package tools provides the tool framework and the fixed tool surface
// exposed to the model.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/attachebot/attache/internal/llm"
	"github.com/attachebot/attache/internal/store"
)

// Invocation carries the per-call context a tool may need.
type Invocation struct {
	Contact *store.Contact
	IsOwner bool
}

// Tool is the interface all tools implement.
type Tool interface {
	// Name returns the fixed identifier used in function calls.
	Name() string
	// Description is shown to the model.
	Description() string
	// Parameters returns the JSON Schema for the arguments.
	Parameters() map[string]any
	// Execute runs the tool. On error the message is fed back to the model
	// as {"error": ...} so it can recover.
	Execute(ctx context.Context, args map[string]any, inv Invocation) (string, error)
}

// OwnerGated is implemented by tools only the owner may invoke.
type OwnerGated interface {
	OwnerOnly() bool
}

// Registry manages tool registration and dispatch.
type Registry struct {
	tools map[string]Tool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool.
func (r *Registry) Register(t Tool) {
	r.tools[t.Name()] = t
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Definitions returns the declarations passed to the model, sorted by name
// for deterministic prompts.
func (r *Registry) Definitions() []llm.ToolDef {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)

	defs := make([]llm.ToolDef, 0, len(names))
	for _, name := range names {
		t := r.tools[name]
		defs = append(defs, llm.ToolDef{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}
	return defs
}

// Execute dispatches one call and wraps the outcome as the JSON object the
// model sees: {"result": ...} or {"error": ...}.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any, inv Invocation) string {
	t, ok := r.tools[name]
	if !ok {
		return errJSON(fmt.Sprintf("unknown tool %q", name))
	}
	if g, ok := t.(OwnerGated); ok && g.OwnerOnly() && !inv.IsOwner {
		return errJSON("this tool is restricted to the owner")
	}

	result, err := t.Execute(ctx, args, inv)
	if err != nil {
		return errJSON(err.Error())
	}
	out, _ := json.Marshal(map[string]string{"result": result})
	return string(out)
}

func errJSON(msg string) string {
	out, _ := json.Marshal(map[string]string{"error": msg})
	return string(out)
}

// GetString extracts a string argument with a default.
func GetString(args map[string]any, key, defaultVal string) string {
	if v, ok := args[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return defaultVal
}

// GetInt extracts an int argument with a default.
func GetInt(args map[string]any, key string, defaultVal int) int {
	if v, ok := args[key]; ok {
		switch n := v.(type) {
		case int:
			return n
		case float64:
			return int(n)
		}
	}
	return defaultVal
}

// objectSchema builds the common one-level object schema.
func objectSchema(props map[string]any, required ...string) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}
