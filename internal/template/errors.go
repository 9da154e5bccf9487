package template

import "fmt"

// RequiredVariableMissingError reports a required field absent from the
// input with no declared default. Caller contract violation; never retried.
type RequiredVariableMissingError struct {
	Category string
	Field    string
}

func (e *RequiredVariableMissingError) Error() string {
	return fmt.Sprintf("template: required variable missing: %s.%s", e.Category, e.Field)
}

// VariableTypeMismatchError reports a value whose runtime type does not
// match the declared type, or a non-scalar value embedded in a template.
type VariableTypeMismatchError struct {
	Path     string
	Expected string
	Actual   string
}

func (e *VariableTypeMismatchError) Error() string {
	return fmt.Sprintf("template: type mismatch at %s: expected %s, got %s", e.Path, e.Expected, e.Actual)
}

// VariableNotFoundError reports a template placeholder whose dotted path
// resolved to nothing in the normalized variable map.
type VariableNotFoundError struct {
	Path string
}

func (e *VariableNotFoundError) Error() string {
	return fmt.Sprintf("template: variable not found: %s", e.Path)
}
