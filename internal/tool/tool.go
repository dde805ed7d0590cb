package tool

import (
	"context"

	"github.com/Morlock52/psscript-sub005/internal/schema"
)

// Tool represents an atomic, stateless analysis operation. Tools are pure
// functions of (script content, arguments) and return a JSON-serializable
// result map. Idempotency for tools that reach external collaborators is the
// tool's own guarantee.
type Tool interface {
	// Name returns the unique identifier for this tool
	Name() string

	// Description returns a human-readable description of what this tool does
	Description() string

	// InputSchema returns the JSON schema for the tool's arguments.
	// Arguments are validated against this schema before execution.
	InputSchema() schema.JSONSchema

	// Execute runs the tool against the script content with validated
	// arguments. Context carries the per-tool deadline and cancellation.
	Execute(ctx context.Context, scriptContent string, args map[string]any) (map[string]any, error)
}

// Func adapts a plain function into a Tool. Builtin tools are registered
// as data (name, schema, handler) rather than as type hierarchies.
type Func struct {
	ToolName        string
	ToolDescription string
	Schema          schema.JSONSchema
	Handler         func(ctx context.Context, scriptContent string, args map[string]any) (map[string]any, error)
}

// Name returns the tool name.
func (f *Func) Name() string { return f.ToolName }

// Description returns the tool description.
func (f *Func) Description() string { return f.ToolDescription }

// InputSchema returns the argument schema.
func (f *Func) InputSchema() schema.JSONSchema { return f.Schema }

// Execute invokes the handler.
func (f *Func) Execute(ctx context.Context, scriptContent string, args map[string]any) (map[string]any, error) {
	return f.Handler(ctx, scriptContent, args)
}
