package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"kinforge/internal/model"
)

// Append writes one audit entry. The audit log is append-only: this package
// deliberately exposes no update or delete for it.
func (s *Store) Append(ctx context.Context, e *model.AuditEntry) error {
	details, err := json.Marshal(e.Detail)
	if err != nil {
		return fmt.Errorf("encoding audit details: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_log (id, action_type, entity_type, entity_id,
			external_record_id, user_action, actor, details, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Action, e.EntityType, e.EntityID,
		e.ExternalRecordID, e.UserAction, e.Actor, string(details), e.Timestamp)
	if err != nil {
		return fmt.Errorf("appending audit entry: %w", err)
	}
	return nil
}

// AuditTrail returns the entries for one entity, oldest first.
func (s *Store) AuditTrail(ctx context.Context, entityType, entityID string) ([]*model.AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, action_type, entity_type, entity_id, external_record_id,
			user_action, actor, details, timestamp
		FROM audit_log WHERE entity_type = ? AND entity_id = ?
		ORDER BY timestamp ASC`, entityType, entityID)
	if err != nil {
		return nil, fmt.Errorf("reading audit trail: %w", err)
	}
	defer rows.Close()
	return collectAudit(rows)
}

// RecentAudit returns the newest entries across all entities.
func (s *Store) RecentAudit(ctx context.Context, limit int) ([]*model.AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, action_type, entity_type, entity_id, external_record_id,
			user_action, actor, details, timestamp
		FROM audit_log ORDER BY timestamp DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("reading audit log: %w", err)
	}
	defer rows.Close()
	return collectAudit(rows)
}

func collectAudit(rows *sql.Rows) ([]*model.AuditEntry, error) {
	var out []*model.AuditEntry
	for rows.Next() {
		var e model.AuditEntry
		var externalID, actor sql.NullString
		var details string
		if err := rows.Scan(&e.ID, &e.Action, &e.EntityType, &e.EntityID, &externalID,
			&e.UserAction, &actor, &details, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scanning audit entry: %w", err)
		}
		e.ExternalRecordID = externalID.String
		e.Actor = actor.String
		if details != "" && details != "null" {
			if err := json.Unmarshal([]byte(details), &e.Detail); err != nil {
				return nil, fmt.Errorf("decoding audit details: %w", err)
			}
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}
