package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"kinforge/internal/model"
)

// SaveDecision upserts a resolution decision.
func (s *Store) SaveDecision(ctx context.Context, d *model.ResolutionDecision) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO decisions (id, fact_id, cluster_id, action, category, is_conflict,
			severity, external_value, extracted_value, resolution, override_value,
			approval_status, approved_by, justification, reason, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			action = excluded.action,
			resolution = excluded.resolution,
			override_value = excluded.override_value,
			approval_status = excluded.approval_status,
			approved_by = excluded.approved_by,
			justification = excluded.justification,
			reason = excluded.reason,
			updated_at = excluded.updated_at`,
		d.ID, d.FactID, d.ClusterID, string(d.Action), string(d.Category), d.Conflict,
		string(d.Severity), d.ExternalValue, d.ExtractedValue, string(d.Resolution), d.OverrideValue,
		string(d.Approval), d.ApprovedBy, d.Justification, d.Reason, d.CreatedAt, d.UpdatedAt)
	if err != nil {
		return fmt.Errorf("saving decision: %w", err)
	}
	return nil
}

// GetDecision loads a decision by id.
func (s *Store) GetDecision(ctx context.Context, id string) (*model.ResolutionDecision, error) {
	row := s.db.QueryRowContext(ctx, decisionColumns+" FROM decisions WHERE id = ?", id)
	return scanDecision(row)
}

// GetDecisionByFact loads the most recent decision for a fact.
func (s *Store) GetDecisionByFact(ctx context.Context, factID string) (*model.ResolutionDecision, error) {
	row := s.db.QueryRowContext(ctx,
		decisionColumns+" FROM decisions WHERE fact_id = ? ORDER BY created_at DESC LIMIT 1", factID)
	return scanDecision(row)
}

// PendingDecisions returns decisions awaiting review joined against their
// facts, least confident first.
func (s *Store) PendingDecisions(ctx context.Context, limit int) ([]*model.ResolutionDecision, error) {
	if limit <= 0 {
		limit = 100
	}
	b := sq.Select(
		"d.id", "d.fact_id", "d.cluster_id", "d.action", "d.category", "d.is_conflict",
		"d.severity", "d.external_value", "d.extracted_value", "d.resolution", "d.override_value",
		"d.approval_status", "d.approved_by", "d.justification", "d.reason", "d.created_at", "d.updated_at",
	).
		From("decisions d").
		Join("facts f ON f.id = d.fact_id").
		Where(sq.Eq{"d.approval_status": string(model.ApprovalPending)}).
		OrderBy("f.confidence_score ASC").
		Limit(uint64(limit))

	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building pending query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing pending decisions: %w", err)
	}
	defer rows.Close()

	var out []*model.ResolutionDecision
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

const decisionColumns = `SELECT id, fact_id, cluster_id, action, category, is_conflict,
	severity, external_value, extracted_value, resolution, override_value,
	approval_status, approved_by, justification, reason, created_at, updated_at`

func scanDecision(row rowScanner) (*model.ResolutionDecision, error) {
	var d model.ResolutionDecision
	var action, category, approval string
	var clusterID, severity, externalValue, resolution, overrideValue sql.NullString
	var approvedBy, justification, reason sql.NullString

	err := row.Scan(&d.ID, &d.FactID, &clusterID, &action, &category, &d.Conflict,
		&severity, &externalValue, &d.ExtractedValue, &resolution, &overrideValue,
		&approval, &approvedBy, &justification, &reason, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scanning decision: %w", err)
	}

	d.ClusterID = clusterID.String
	d.Action = model.DecisionAction(action)
	d.Category = model.Category(category)
	d.Severity = model.Severity(severity.String)
	d.ExternalValue = externalValue.String
	d.Resolution = model.ConflictResolution(resolution.String)
	d.OverrideValue = overrideValue.String
	d.Approval = model.ApprovalStatus(approval)
	d.ApprovedBy = approvedBy.String
	d.Justification = justification.String
	d.Reason = reason.String
	return &d, nil
}
