package model

import (
	"time"

	"github.com/google/uuid"
)

// AuditEntry is one append-only, immutable record of a state change. Every
// external-store mutation has exactly one corresponding entry.
type AuditEntry struct {
	ID               string         `json:"id"`
	Action           string         `json:"action_type"`
	EntityType       string         `json:"entity_type"`
	EntityID         string         `json:"entity_id"`
	ExternalRecordID string         `json:"external_record_id,omitempty"`
	UserAction       bool           `json:"user_action"`
	Actor            string         `json:"actor,omitempty"`
	Detail           map[string]any `json:"details,omitempty"`
	Timestamp        time.Time      `json:"timestamp"`
}

// NewAuditEntry creates an audit entry stamped now. Actor is empty for
// automated actions.
func NewAuditEntry(action, entityType, entityID string) *AuditEntry {
	return &AuditEntry{
		ID:         uuid.NewString(),
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Detail:     map[string]any{},
		Timestamp:  time.Now().UTC(),
	}
}

// ByUser marks the entry as a user action.
func (e *AuditEntry) ByUser(actor string) *AuditEntry {
	e.UserAction = true
	e.Actor = actor
	return e
}

// With adds a detail field and returns the entry for chaining.
func (e *AuditEntry) With(key string, value any) *AuditEntry {
	e.Detail[key] = value
	return e
}
