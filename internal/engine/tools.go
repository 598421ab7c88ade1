package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// ToolFunc executes a tool with already-decoded arguments. Implementations
// report failure through the returned ToolResult, never by panicking; the
// dispatcher still recovers panics as a backstop.
type ToolFunc func(ctx context.Context, args map[string]any) ToolResult

// Tool couples a schema with its implementation.
type Tool struct {
	Name        string
	Description string
	SchemaJSON  string // JSON Schema for the arguments object
	Fn          ToolFunc
}

// ToolResult is the uniform outcome of one tool execution. Result holds the
// tool's structured payload on success (and sometimes on failure, e.g. a
// command that ran but exited non-zero). Summary is a one-line human recap.
type ToolResult struct {
	Success   bool   `json:"success"`
	Result    any    `json:"result,omitempty"`
	Error     string `json:"error,omitempty"`
	ErrorType string `json:"error_type,omitempty"`
	Summary   string `json:"summary,omitempty"`
}

// JSON renders the result for insertion into the conversation as a tool
// message. Marshalling a ToolResult cannot realistically fail; if a tool
// smuggles in an unserialisable payload the error is reported in-band.
func (tr ToolResult) JSON() string {
	b, err := json.Marshal(tr)
	if err != nil {
		fallback, _ := json.Marshal(ToolResult{Success: false, Error: fmt.Sprintf("unserialisable tool result: %v", err)})
		return string(fallback)
	}
	return string(b)
}

// Success builds a successful ToolResult.
func Success(result any, summary string) ToolResult {
	return ToolResult{Success: true, Result: result, Summary: summary}
}

// Failure builds a failed ToolResult with a plain message.
func Failure(msg string) ToolResult {
	return ToolResult{Success: false, Error: msg}
}

// Failuref builds a failed ToolResult with a formatted message.
func Failuref(format string, args ...any) ToolResult {
	return ToolResult{Success: false, Error: fmt.Sprintf(format, args...)}
}

// ValidateArgs validates decoded arguments against the tool's JSON schema.
func (t Tool) ValidateArgs(args map[string]any) error {
	schemaLoader := gojsonschema.NewStringLoader(t.SchemaJSON)
	documentLoader := gojsonschema.NewGoLoader(args)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}

	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, verr := range result.Errors() {
			msgs = append(msgs, verr.String())
		}
		return fmt.Errorf("invalid arguments for %s: %s", t.Name, strings.Join(msgs, "; "))
	}

	return nil
}

// Registry holds the tools available to the model. Registration is
// last-write-wins: re-registering a name replaces the implementation, which
// keeps startup idempotent across reconfigurations.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
	order []string // registration order, for stable schema lists
}

// NewRegistry returns an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds or replaces a tool. It rejects tools whose schema is not
// valid JSON so a broken registration fails at startup, not mid-dispatch.
func (r *Registry) Register(t Tool) error {
	if t.Name == "" {
		return fmt.Errorf("tool has no name")
	}
	if t.Fn == nil {
		return fmt.Errorf("tool %s has no implementation", t.Name)
	}
	var schema map[string]any
	if err := json.Unmarshal([]byte(t.SchemaJSON), &schema); err != nil {
		return fmt.Errorf("tool %s schema: %w", t.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name]; !exists {
		r.order = append(r.order, t.Name)
	}
	r.tools[t.Name] = t
	return nil
}

// Get returns the named tool.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names returns the registered tool names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Schemas returns the provider-facing schema list in registration order.
func (r *Registry) Schemas() []ToolSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ToolSchema, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		var params map[string]any
		if err := json.Unmarshal([]byte(t.SchemaJSON), &params); err != nil {
			continue
		}
		out = append(out, ToolSchema{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  params,
		})
	}
	return out
}

// Execute dispatches one tool call. It never returns an error and never
// panics: unknown tools, undecodable arguments, schema violations and tool
// panics all come back as failed ToolResults so the model can read them and
// correct course.
func (r *Registry) Execute(ctx context.Context, name, argsJSON string) (res ToolResult) {
	tool, ok := r.Get(name)
	if !ok {
		available := r.Names()
		sort.Strings(available)
		return Failuref("Tool '%s' not found. Available: %s", name, strings.Join(available, ", "))
	}

	args := map[string]any{}
	trimmed := strings.TrimSpace(argsJSON)
	if trimmed != "" && trimmed != "null" {
		if err := json.Unmarshal([]byte(trimmed), &args); err != nil {
			return ToolResult{
				Success:   false,
				Error:     fmt.Sprintf("could not decode arguments for %s: %v", name, err),
				ErrorType: "json_decode_error",
			}
		}
	}

	if err := tool.ValidateArgs(args); err != nil {
		return ToolResult{
			Success:   false,
			Error:     err.Error(),
			ErrorType: "validation_error",
		}
	}

	defer func() {
		if rec := recover(); rec != nil {
			res = ToolResult{
				Success:   false,
				Error:     fmt.Sprintf("tool %s panicked: %v", name, rec),
				ErrorType: fmt.Sprintf("%T", rec),
			}
		}
	}()

	return tool.Fn(ctx, args)
}

// Default is the process-wide registry, used by NewAgent when AgentConfig
// names no other. Programs that need isolation (tests, embedded use)
// construct their own with NewRegistry.
var Default = NewRegistry()

// Register adds a tool to the default registry.
func Register(t Tool) error { return Default.Register(t) }
