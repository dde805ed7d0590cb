package schema

// JSONSchema represents a JSON Schema for validation compatible with draft-07.
// Tool input contracts are declared with this type and validated before dispatch.
type JSONSchema struct {
	Type                 string                 `json:"type"`
	Description          string                 `json:"description,omitempty"`
	Properties           map[string]SchemaField `json:"properties,omitempty"`
	Required             []string               `json:"required,omitempty"`
	Items                *SchemaField           `json:"items,omitempty"`
	AdditionalProperties *bool                  `json:"additionalProperties,omitempty"`
}

// SchemaField represents a field within a schema
type SchemaField struct {
	Type        string                 `json:"type"`
	Description string                 `json:"description,omitempty"`
	Enum        []string               `json:"enum,omitempty"`
	Default     any                    `json:"default,omitempty"`
	Minimum     *float64               `json:"minimum,omitempty"`
	Maximum     *float64               `json:"maximum,omitempty"`
	MinLength   *int                   `json:"minLength,omitempty"`
	MaxLength   *int                   `json:"maxLength,omitempty"`
	Pattern     string                 `json:"pattern,omitempty"`
	Items       *SchemaField           `json:"items,omitempty"`
	Properties  map[string]SchemaField `json:"properties,omitempty"`
	Required    []string               `json:"required,omitempty"`
}

// NewObjectSchema creates a new object schema with the given properties and required fields
func NewObjectSchema(properties map[string]SchemaField, required []string) JSONSchema {
	return JSONSchema{
		Type:       "object",
		Properties: properties,
		Required:   required,
	}
}

// NewStringField creates a new string field with the given description
func NewStringField(description string) SchemaField {
	return SchemaField{
		Type:        "string",
		Description: description,
	}
}

// NewIntegerField creates a new integer field with the given description
func NewIntegerField(description string) SchemaField {
	return SchemaField{
		Type:        "integer",
		Description: description,
	}
}

// NewNumberField creates a new number field with the given description
func NewNumberField(description string) SchemaField {
	return SchemaField{
		Type:        "number",
		Description: description,
	}
}

// NewBooleanField creates a new boolean field with the given description
func NewBooleanField(description string) SchemaField {
	return SchemaField{
		Type:        "boolean",
		Description: description,
	}
}

// NewEnumField creates a new string field constrained to the given values
func NewEnumField(description string, values ...string) SchemaField {
	return SchemaField{
		Type:        "string",
		Description: description,
		Enum:        values,
	}
}
