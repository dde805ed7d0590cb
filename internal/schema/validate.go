package schema

import (
	"fmt"
	"regexp"
	"strings"
)

// Validator validates data against a schema
type Validator interface {
	Validate(schema JSONSchema, data map[string]any) []ValidationError
}

// ValidationError represents a schema validation error
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Value   any    `json:"value,omitempty"`
}

// Error implements the error interface
func (e ValidationError) Error() string {
	if e.Value != nil {
		return fmt.Sprintf("%s: %s (value: %v)", e.Field, e.Message, e.Value)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// DefaultValidator implements Validator
type DefaultValidator struct{}

// NewValidator creates a new DefaultValidator
func NewValidator() *DefaultValidator {
	return &DefaultValidator{}
}

// Validate validates data against the provided schema
func (v *DefaultValidator) Validate(schema JSONSchema, data map[string]any) []ValidationError {
	var errors []ValidationError

	if schema.Type != "object" {
		errors = append(errors, ValidationError{
			Message: fmt.Sprintf("root type must be object, got %s", schema.Type),
		})
		return errors
	}

	for _, field := range schema.Required {
		if _, exists := data[field]; !exists {
			errors = append(errors, ValidationError{
				Field:   field,
				Message: "required field is missing",
			})
		}
	}

	for fieldName, value := range data {
		fieldSchema, hasSchema := schema.Properties[fieldName]
		if !hasSchema {
			if schema.AdditionalProperties != nil && !*schema.AdditionalProperties {
				errors = append(errors, ValidationError{
					Field:   fieldName,
					Message: "additional property not allowed",
					Value:   value,
				})
			}
			continue
		}

		errors = append(errors, v.validateField(fieldName, fieldSchema, value)...)
	}

	return errors
}

// validateField validates a single field against its schema
func (v *DefaultValidator) validateField(fieldPath string, schema SchemaField, value any) []ValidationError {
	var errors []ValidationError

	actualType := jsonTypeOf(value)
	if !typeCompatible(schema.Type, actualType, value) {
		errors = append(errors, ValidationError{
			Field:   fieldPath,
			Message: fmt.Sprintf("expected type %s, got %s", schema.Type, actualType),
			Value:   value,
		})
		return errors
	}

	switch schema.Type {
	case "string":
		errors = append(errors, v.validateString(fieldPath, schema, value)...)
	case "number", "integer":
		errors = append(errors, v.validateNumber(fieldPath, schema, value)...)
	case "array":
		errors = append(errors, v.validateArray(fieldPath, schema, value)...)
	case "object":
		errors = append(errors, v.validateObject(fieldPath, schema, value)...)
	}

	if len(schema.Enum) > 0 {
		errors = append(errors, v.validateEnum(fieldPath, schema, value)...)
	}

	return errors
}

func (v *DefaultValidator) validateString(fieldPath string, schema SchemaField, value any) []ValidationError {
	var errors []ValidationError
	str, ok := value.(string)
	if !ok {
		return errors
	}

	if schema.MinLength != nil && len(str) < *schema.MinLength {
		errors = append(errors, ValidationError{
			Field:   fieldPath,
			Message: fmt.Sprintf("string length must be at least %d", *schema.MinLength),
			Value:   value,
		})
	}

	if schema.MaxLength != nil && len(str) > *schema.MaxLength {
		errors = append(errors, ValidationError{
			Field:   fieldPath,
			Message: fmt.Sprintf("string length must be at most %d", *schema.MaxLength),
			Value:   value,
		})
	}

	if schema.Pattern != "" {
		matched, err := regexp.MatchString(schema.Pattern, str)
		if err != nil {
			errors = append(errors, ValidationError{
				Field:   fieldPath,
				Message: fmt.Sprintf("invalid pattern: %v", err),
			})
		} else if !matched {
			errors = append(errors, ValidationError{
				Field:   fieldPath,
				Message: fmt.Sprintf("string does not match pattern %s", schema.Pattern),
				Value:   value,
			})
		}
	}

	return errors
}

func (v *DefaultValidator) validateNumber(fieldPath string, schema SchemaField, value any) []ValidationError {
	var errors []ValidationError
	var num float64

	switch n := value.(type) {
	case float64:
		num = n
	case float32:
		num = float64(n)
	case int:
		num = float64(n)
	case int32:
		num = float64(n)
	case int64:
		num = float64(n)
	default:
		return errors
	}

	if schema.Type == "integer" && num != float64(int64(num)) {
		errors = append(errors, ValidationError{
			Field:   fieldPath,
			Message: "expected integer, got decimal number",
			Value:   value,
		})
	}

	if schema.Minimum != nil && num < *schema.Minimum {
		errors = append(errors, ValidationError{
			Field:   fieldPath,
			Message: fmt.Sprintf("value must be at least %v", *schema.Minimum),
			Value:   value,
		})
	}

	if schema.Maximum != nil && num > *schema.Maximum {
		errors = append(errors, ValidationError{
			Field:   fieldPath,
			Message: fmt.Sprintf("value must be at most %v", *schema.Maximum),
			Value:   value,
		})
	}

	return errors
}

func (v *DefaultValidator) validateArray(fieldPath string, schema SchemaField, value any) []ValidationError {
	var errors []ValidationError
	arr, ok := value.([]any)
	if !ok {
		return errors
	}

	if schema.Items != nil {
		for i, item := range arr {
			itemPath := fmt.Sprintf("%s[%d]", fieldPath, i)
			errors = append(errors, v.validateField(itemPath, *schema.Items, item)...)
		}
	}

	return errors
}

func (v *DefaultValidator) validateObject(fieldPath string, schema SchemaField, value any) []ValidationError {
	var errors []ValidationError
	obj, ok := value.(map[string]any)
	if !ok {
		return errors
	}

	for _, required := range schema.Required {
		if _, exists := obj[required]; !exists {
			errors = append(errors, ValidationError{
				Field:   fmt.Sprintf("%s.%s", fieldPath, required),
				Message: "required field is missing",
			})
		}
	}

	for propName, propValue := range obj {
		propSchema, hasSchema := schema.Properties[propName]
		if !hasSchema {
			continue
		}
		errors = append(errors, v.validateField(fmt.Sprintf("%s.%s", fieldPath, propName), propSchema, propValue)...)
	}

	return errors
}

func (v *DefaultValidator) validateEnum(fieldPath string, schema SchemaField, value any) []ValidationError {
	var errors []ValidationError
	strValue := fmt.Sprintf("%v", value)

	for _, enumValue := range schema.Enum {
		if strValue == enumValue {
			return errors
		}
	}

	errors = append(errors, ValidationError{
		Field:   fieldPath,
		Message: fmt.Sprintf("value must be one of: %s", strings.Join(schema.Enum, ", ")),
		Value:   value,
	})
	return errors
}

// jsonTypeOf returns the JSON type name for a Go value
func jsonTypeOf(value any) string {
	switch value.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case string:
		return "string"
	case float64, float32, int, int32, int64:
		return "number"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return "unknown"
	}
}

// typeCompatible checks whether the actual JSON type satisfies the schema type.
// Integers arrive as float64 after JSON decoding, so "integer" accepts "number".
func typeCompatible(schemaType, actualType string, value any) bool {
	if schemaType == actualType {
		return true
	}
	if schemaType == "integer" && actualType == "number" {
		return true
	}
	return false
}
