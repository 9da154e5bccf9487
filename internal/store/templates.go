package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/watchout/haishin-puls-hub-sub001/internal/template"
)

// ErrTemplateNotFound is returned when no active template exists for a
// usecase, or a requested version does not exist.
var ErrTemplateNotFound = errors.New("store: template not found")

// SaveTemplate appends a new version of the template for its usecase
// and makes it the active one. The previous active version, if any, is
// deactivated in the same transaction. Existing rows are never updated
// or deleted. Returns the version number assigned to the new row.
func (s *Store) SaveTemplate(ctx context.Context, t *template.PromptTemplate) (int, error) {
	variablesJSON, err := json.Marshal(t.Variables)
	if err != nil {
		return 0, fmt.Errorf("store: encode variables: %w", err)
	}

	tx, err := s.writer.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("store: begin save template: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var current int
	err = tx.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(version), 0) FROM prompt_templates WHERE usecase = ?",
		t.Usecase,
	).Scan(&current)
	if err != nil {
		return 0, fmt.Errorf("store: read current version: %w", err)
	}
	version := current + 1

	_, err = tx.ExecContext(ctx,
		"UPDATE prompt_templates SET is_active = 0 WHERE usecase = ? AND is_active = 1",
		t.Usecase,
	)
	if err != nil {
		return 0, fmt.Errorf("store: deactivate previous version: %w", err)
	}

	var temperature any
	if t.Model.Temperature != nil {
		temperature = *t.Model.Temperature
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO prompt_templates (
			usecase, version, system_prompt, user_prompt_template,
			variables_json, model, temperature, max_tokens,
			is_active, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1, ?)`,
		t.Usecase, version, t.SystemPrompt, t.UserPromptTemplate,
		string(variablesJSON), t.Model.Model, temperature, t.Model.MaxTokens,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return 0, fmt.Errorf("store: insert template version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("store: commit save template: %w", err)
	}
	return version, nil
}

// ActiveTemplate returns the active template version for a usecase.
func (s *Store) ActiveTemplate(ctx context.Context, usecase string) (*template.PromptTemplate, error) {
	return s.queryTemplate(ctx,
		"SELECT usecase, version, system_prompt, user_prompt_template, variables_json, model, temperature, max_tokens, is_active FROM prompt_templates WHERE usecase = ? AND is_active = 1",
		usecase,
	)
}

// TemplateVersion returns a specific version of a usecase's template.
func (s *Store) TemplateVersion(ctx context.Context, usecase string, version int) (*template.PromptTemplate, error) {
	return s.queryTemplate(ctx,
		"SELECT usecase, version, system_prompt, user_prompt_template, variables_json, model, temperature, max_tokens, is_active FROM prompt_templates WHERE usecase = ? AND version = ?",
		usecase, version,
	)
}

func (s *Store) queryTemplate(ctx context.Context, query string, args ...any) (*template.PromptTemplate, error) {
	t := &template.PromptTemplate{}
	var (
		variablesJSON string
		temperature   sql.NullFloat64
		isActive      int
	)
	err := s.reader.QueryRowContext(ctx, query, args...).Scan(
		&t.Usecase, &t.Version, &t.SystemPrompt, &t.UserPromptTemplate,
		&variablesJSON, &t.Model.Model, &temperature, &t.Model.MaxTokens,
		&isActive,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTemplateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: query template: %w", err)
	}

	if err := json.Unmarshal([]byte(variablesJSON), &t.Variables); err != nil {
		return nil, fmt.Errorf("store: decode variables: %w", err)
	}
	if temperature.Valid {
		v := temperature.Float64
		t.Model.Temperature = &v
	}
	t.IsActive = isActive != 0
	return t, nil
}

// ActivateVersion makes an existing version the active one for its
// usecase. Used for rollback; no new row is created.
func (s *Store) ActivateVersion(ctx context.Context, usecase string, version int) error {
	tx, err := s.writer.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin activate: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var exists int
	err = tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM prompt_templates WHERE usecase = ? AND version = ?",
		usecase, version,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("store: check version: %w", err)
	}
	if exists == 0 {
		return ErrTemplateNotFound
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE prompt_templates SET is_active = 0 WHERE usecase = ? AND is_active = 1",
		usecase,
	); err != nil {
		return fmt.Errorf("store: deactivate current: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE prompt_templates SET is_active = 1 WHERE usecase = ? AND version = ?",
		usecase, version,
	); err != nil {
		return fmt.Errorf("store: activate version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit activate: %w", err)
	}
	return nil
}

// TemplateVersionInfo summarises one stored template version.
type TemplateVersionInfo struct {
	Version   int    `json:"version"`
	Model     string `json:"model"`
	IsActive  bool   `json:"is_active"`
	CreatedAt string `json:"created_at"`
}

// ListVersions returns every stored version for a usecase, newest first.
func (s *Store) ListVersions(ctx context.Context, usecase string) ([]TemplateVersionInfo, error) {
	rows, err := s.reader.QueryContext(ctx,
		"SELECT version, model, is_active, created_at FROM prompt_templates WHERE usecase = ? ORDER BY version DESC",
		usecase,
	)
	if err != nil {
		return nil, fmt.Errorf("store: list versions: %w", err)
	}
	defer rows.Close()

	var results []TemplateVersionInfo
	for rows.Next() {
		var (
			info     TemplateVersionInfo
			isActive int
		)
		if err := rows.Scan(&info.Version, &info.Model, &isActive, &info.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan version: %w", err)
		}
		info.IsActive = isActive != 0
		results = append(results, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list versions: %w", err)
	}
	return results, nil
}

// ListUsecases returns every usecase that has at least one stored
// template version.
func (s *Store) ListUsecases(ctx context.Context) ([]string, error) {
	rows, err := s.reader.QueryContext(ctx,
		"SELECT DISTINCT usecase FROM prompt_templates ORDER BY usecase",
	)
	if err != nil {
		return nil, fmt.Errorf("store: list usecases: %w", err)
	}
	defer rows.Close()

	var results []string
	for rows.Next() {
		var usecase string
		if err := rows.Scan(&usecase); err != nil {
			return nil, fmt.Errorf("store: scan usecase: %w", err)
		}
		results = append(results, usecase)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list usecases: %w", err)
	}
	return results, nil
}

var _ template.Store = (*Store)(nil)
