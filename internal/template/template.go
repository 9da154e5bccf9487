// Package template holds the prompt template model, variable validation
// against a template's declared schema, and placeholder rendering.
// Everything here is pure and synchronous; persistence of templates is the
// store's job.
package template

import "context"

// FieldType is the declared type of a template variable field. Date values
// are represented as strings at validation time.
type FieldType string

const (
	TypeString  FieldType = "string"
	TypeNumber  FieldType = "number"
	TypeBoolean FieldType = "boolean"
	TypeDate    FieldType = "date"
)

// FieldDef declares one field of a variable category.
type FieldDef struct {
	Type    FieldType `json:"type"`
	Default any       `json:"default,omitempty"`
}

// CategoryDef declares a named group of related fields referenced in a
// template via dotted paths (e.g. "event").
type CategoryDef struct {
	Required []string            `json:"required,omitempty"`
	Fields   map[string]FieldDef `json:"fields"`
}

// VariableDefinition maps category names to their declared schema.
type VariableDefinition map[string]CategoryDef

// ModelParams carries per-template model invocation parameters. An empty
// Model falls back to usecase-based selection.
type ModelParams struct {
	Model       string   `json:"model,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	MaxTokens   int      `json:"max_tokens,omitempty"`
}

// PromptTemplate is one versioned row of a usecase's prompt. Versioning is
// append-only: an update deactivates the current active row and inserts a
// new one with version+1. Exactly one version per usecase is active at any
// time.
type PromptTemplate struct {
	Usecase            string             `json:"usecase"`
	SystemPrompt       string             `json:"system_prompt"`
	UserPromptTemplate string             `json:"user_prompt_template"`
	Variables          VariableDefinition `json:"variable_definition"`
	Model              ModelParams        `json:"model_config"`
	Version            int                `json:"version"`
	IsActive           bool               `json:"is_active"`
}

// Store returns the single active template for a usecase. Implemented by
// the SQLite store; the pipeline depends only on this capability.
type Store interface {
	ActiveTemplate(ctx context.Context, usecase string) (*PromptTemplate, error)
}
