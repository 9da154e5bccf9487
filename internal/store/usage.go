package store

import (
	"context"
	"fmt"
	"time"
)

// UsageRecord is one completed (or failed) AI request for accounting.
type UsageRecord struct {
	RequestID        string
	TenantID         string
	UserID           string
	Usecase          string
	Model            string
	Provider         string
	InputTokens      int64
	OutputTokens     int64
	EstimatedCostJPY int64
	Estimated        bool
	LatencyMs        int64
	Status           string
	ErrorMessage     string
}

// RecordUsage appends one usage record to the log.
func (s *Store) RecordUsage(ctx context.Context, r *UsageRecord) error {
	estimatedInt := 0
	if r.Estimated {
		estimatedInt = 1
	}
	_, err := s.writer.ExecContext(ctx, `
		INSERT INTO ai_usage_log (
			request_id, created_at, tenant_id, user_id, usecase,
			model, provider, input_tokens, output_tokens,
			estimated_cost_jpy, estimated, latency_ms, status, error_message
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RequestID, time.Now().UTC().Format(time.RFC3339),
		r.TenantID, r.UserID, r.Usecase,
		r.Model, r.Provider, r.InputTokens, r.OutputTokens,
		r.EstimatedCostJPY, estimatedInt, r.LatencyMs, r.Status, r.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("store: record usage: %w", err)
	}
	return nil
}

// UsageSummary holds aggregate usage for one tenant.
type UsageSummary struct {
	TenantID     string `json:"tenant_id"`
	Requests     int64  `json:"requests"`
	InputTokens  int64  `json:"input_tokens"`
	OutputTokens int64  `json:"output_tokens"`
	CostJPY      int64  `json:"cost_jpy"`
}

// TenantUsage aggregates usage for a tenant since the given time.
func (s *Store) TenantUsage(ctx context.Context, tenantID string, since time.Time) (*UsageSummary, error) {
	summary := &UsageSummary{TenantID: tenantID}
	err := s.reader.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(input_tokens), 0),
		       COALESCE(SUM(output_tokens), 0),
		       COALESCE(SUM(estimated_cost_jpy), 0)
		FROM ai_usage_log
		WHERE tenant_id = ? AND created_at >= ?`,
		tenantID, since.UTC().Format(time.RFC3339),
	).Scan(&summary.Requests, &summary.InputTokens, &summary.OutputTokens, &summary.CostJPY)
	if err != nil {
		return nil, fmt.Errorf("store: tenant usage: %w", err)
	}
	return summary, nil
}

// RecentUsage returns the newest usage records, most recent first.
func (s *Store) RecentUsage(ctx context.Context, limit int) ([]*UsageRecord, error) {
	rows, err := s.reader.QueryContext(ctx, `
		SELECT request_id, tenant_id, user_id, usecase, model, provider,
		       input_tokens, output_tokens, estimated_cost_jpy, estimated,
		       latency_ms, status, error_message
		FROM ai_usage_log
		ORDER BY id DESC
		LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("store: recent usage: %w", err)
	}
	defer rows.Close()

	var results []*UsageRecord
	for rows.Next() {
		r := &UsageRecord{}
		var estimatedInt int
		if err := rows.Scan(
			&r.RequestID, &r.TenantID, &r.UserID, &r.Usecase, &r.Model, &r.Provider,
			&r.InputTokens, &r.OutputTokens, &r.EstimatedCostJPY, &estimatedInt,
			&r.LatencyMs, &r.Status, &r.ErrorMessage,
		); err != nil {
			return nil, fmt.Errorf("store: scan usage: %w", err)
		}
		r.Estimated = estimatedInt != 0
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: recent usage: %w", err)
	}
	return results, nil
}
