package llm

import (
	"encoding/json"
	"fmt"

	"github.com/Morlock52/psscript-sub005/internal/schema"
)

// ToolDef defines a tool that the model can call during completion.
type ToolDef struct {
	// Name is the unique identifier for this tool
	Name string `json:"name"`

	// Description explains what the tool does and when to use it
	Description string `json:"description"`

	// Parameters defines the JSON schema for the tool's input parameters
	Parameters schema.JSONSchema `json:"parameters"`
}

// Validate checks if the tool definition is valid
func (t ToolDef) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("tool name is required")
	}

	if t.Description == "" {
		return fmt.Errorf("tool description is required")
	}

	if t.Parameters.Type != "" && t.Parameters.Type != "object" {
		return fmt.Errorf("tool parameters must be an object schema, got %s", t.Parameters.Type)
	}

	return nil
}

// ToolCall represents a tool call made by the model during completion.
// The model specifies which tool to call and what arguments to provide.
type ToolCall struct {
	// ID is a unique identifier for this tool call
	ID string `json:"id"`

	// Name is the name of the tool to call
	Name string `json:"name"`

	// Arguments contains the JSON-encoded arguments for the tool
	Arguments string `json:"arguments"`
}

// ParseArguments deserializes the tool call arguments into the provided type.
func (t ToolCall) ParseArguments(v any) error {
	if t.Arguments == "" {
		return fmt.Errorf("tool call arguments are empty")
	}

	if err := json.Unmarshal([]byte(t.Arguments), v); err != nil {
		return fmt.Errorf("failed to parse tool call arguments: %w", err)
	}

	return nil
}

// ArgumentsMap decodes the arguments into a generic map for schema validation.
// Empty arguments decode to an empty map rather than an error, since a tool
// with no required parameters may legitimately be called with no arguments.
func (t ToolCall) ArgumentsMap() (map[string]any, error) {
	if t.Arguments == "" || t.Arguments == "null" {
		return map[string]any{}, nil
	}

	var m map[string]any
	if err := json.Unmarshal([]byte(t.Arguments), &m); err != nil {
		return nil, fmt.Errorf("failed to decode tool call arguments: %w", err)
	}
	if m == nil {
		m = map[string]any{}
	}
	return m, nil
}
