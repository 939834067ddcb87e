// internal/tool/tool.go
package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/sachiniyer/meal-finder/internal/types"
	"github.com/sachiniyer/meal-finder/pkg/llm"
)

// Tool is something the reasoning engine can call during a run. Execute
// receives the conversation the run belongs to so tools can read and
// write conversation-scoped state.
type Tool interface {
	// Name returns the tool's identifier used in function calls.
	Name() string

	// Description returns a human-readable description for the engine.
	Description() string

	// Notice returns the short progress line shown to the user while
	// the tool runs, e.g. "Searching Google Maps".
	Notice() string

	// Parameters returns the JSON schema for the tool's arguments.
	Parameters() *Schema

	// Execute runs the tool and returns its result as text for the
	// engine. Errors are reported to the caller, not hidden.
	Execute(ctx context.Context, conversationID types.ConversationID, args json.RawMessage) (string, error)
}

// Registry holds the available tools.
type Registry struct {
	tools  map[string]Tool
	logger *slog.Logger
}

// NewRegistry creates an empty tool registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		tools:  make(map[string]Tool),
		logger: logger.With("component", "tools"),
	}
}

// Register adds a tool. Registering a duplicate name is a programming
// error and panics.
func (r *Registry) Register(t Tool) {
	if _, exists := r.tools[t.Name()]; exists {
		panic(fmt.Sprintf("tool already registered: %s", t.Name()))
	}
	r.tools[t.Name()] = t
	r.logger.Debug("registered tool", "name", t.Name())
}

// Get returns the tool with the given name.
func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Notice returns the progress line for the named tool, or a generic one
// for unknown names.
func (r *Registry) Notice(name string) string {
	if t, ok := r.tools[name]; ok {
		return t.Notice()
	}
	return "Working on it"
}

// Definitions returns the tool list in the wire format the reasoning
// engine expects, sorted by name for stable prompts.
func (r *Registry) Definitions() []llm.Tool {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)

	defs := make([]llm.Tool, 0, len(names))
	for _, name := range names {
		t := r.tools[name]
		defs = append(defs, llm.Tool{
			Type: "function",
			Function: llm.Function{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  t.Parameters().MarshalJSONSchema(),
			},
		})
	}
	return defs
}

// Result is the outcome of a single tool call. IsError marks results
// that carry an error message as their payload; those are still handed
// back to the engine as text so it can recover or explain.
type Result struct {
	CallID  string
	Name    string
	Payload string
	Elapsed time.Duration
	IsError bool
}

// Execute runs one requested tool call. Unknown tools, bad arguments,
// and tool failures all produce an error-flavored Result rather than an
// error return: a failed call must not abort the run or its siblings.
func (r *Registry) Execute(ctx context.Context, conversationID types.ConversationID, call llm.ToolCall) Result {
	start := time.Now()
	result := Result{CallID: call.ID, Name: call.Function.Name}

	t, ok := r.tools[call.Function.Name]
	if !ok {
		result.Payload = fmt.Sprintf("error: unknown tool %q", call.Function.Name)
		result.IsError = true
		result.Elapsed = time.Since(start)
		return result
	}

	args := json.RawMessage(call.Function.Arguments)
	if err := t.Parameters().Validate(args); err != nil {
		result.Payload = fmt.Sprintf("error: invalid arguments for %s: %v", t.Name(), err)
		result.IsError = true
		result.Elapsed = time.Since(start)
		return result
	}

	payload, err := t.Execute(ctx, conversationID, args)
	result.Elapsed = time.Since(start)
	if err != nil {
		r.logger.Warn("tool execution failed",
			"tool", t.Name(),
			"conversation_id", conversationID,
			"elapsed", result.Elapsed,
			"error", err)
		result.Payload = fmt.Sprintf("error: %v", err)
		result.IsError = true
		return result
	}

	r.logger.Debug("tool executed",
		"tool", t.Name(),
		"conversation_id", conversationID,
		"elapsed", result.Elapsed)
	result.Payload = payload
	return result
}
