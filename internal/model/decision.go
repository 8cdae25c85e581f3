package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DecisionAction is what applying the decision would do to the external store.
type DecisionAction string

const (
	ActionAdd    DecisionAction = "add"
	ActionUpdate DecisionAction = "update"
	ActionSkip   DecisionAction = "skip"
	ActionReject DecisionAction = "reject"
)

// ApprovalStatus tracks a decision through review.
type ApprovalStatus string

const (
	ApprovalPending   ApprovalStatus = "pending"
	ApprovalApproved  ApprovalStatus = "approved"
	ApprovalRejected  ApprovalStatus = "rejected"
	ApprovalCommitted ApprovalStatus = "committed"
)

// ConflictResolution is the user's choice when resolving a conflict.
type ConflictResolution string

const (
	ResolveKeepExternal ConflictResolution = "keep_external"
	ResolveUseExtracted ConflictResolution = "use_extracted"
	ResolveMergeBoth    ConflictResolution = "merge_both"
	ResolveManualEdit   ConflictResolution = "manual_edit"
)

// ResolutionDecision records, per fact, what should happen to the external
// store and whether a human has signed off on it.
type ResolutionDecision struct {
	ID        string `json:"id"`
	FactID    string `json:"fact_id"`
	ClusterID string `json:"cluster_id,omitempty"`

	Action   DecisionAction `json:"action"`
	Category Category       `json:"category"`
	Conflict bool           `json:"is_conflict"`
	Severity Severity       `json:"severity,omitempty"`

	// ExternalValue is a snapshot of the store's value at detection time,
	// held for the remainder of the run to avoid check/use drift.
	ExternalValue  string `json:"external_value,omitempty"`
	ExtractedValue string `json:"extracted_value"`

	// User override, set only through conflict resolution.
	Resolution    ConflictResolution `json:"resolution,omitempty"`
	OverrideValue string             `json:"override_value,omitempty"`

	Approval      ApprovalStatus `json:"approval_status"`
	ApprovedBy    string         `json:"approved_by,omitempty"`
	Justification string         `json:"justification,omitempty"`
	Reason        string         `json:"reason,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewDecision creates a pending decision for a fact.
func NewDecision(factID, clusterID string, action DecisionAction) *ResolutionDecision {
	now := time.Now().UTC()
	return &ResolutionDecision{
		ID:        uuid.NewString(),
		FactID:    factID,
		ClusterID: clusterID,
		Action:    action,
		Approval:  ApprovalPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// CommitValue is the value the commit engine should write: the user override
// when present, otherwise the extracted value.
func (d *ResolutionDecision) CommitValue() string {
	if d.OverrideValue != "" {
		return d.OverrideValue
	}
	return d.ExtractedValue
}

// CheckCommittable enforces the hard invariant that a conflicting decision
// may reach committed only via an approved, user-authored sign-off.
func (d *ResolutionDecision) CheckCommittable() error {
	if d.Approval == ApprovalCommitted {
		return fmt.Errorf("decision %s is already committed", d.ID)
	}
	if d.Approval != ApprovalApproved {
		return fmt.Errorf("decision %s has approval status %q, want %q", d.ID, d.Approval, ApprovalApproved)
	}
	if d.Conflict && d.ApprovedBy == "" {
		return fmt.Errorf("conflicting decision %s lacks a recorded approver", d.ID)
	}
	return nil
}

// Approve marks the decision approved by the given user.
func (d *ResolutionDecision) Approve(user, justification string) error {
	if d.Approval == ApprovalCommitted {
		return fmt.Errorf("decision %s is already committed", d.ID)
	}
	if d.Conflict && user == "" {
		return fmt.Errorf("approving a conflicting decision requires a user identity")
	}
	d.Approval = ApprovalApproved
	d.ApprovedBy = user
	if justification != "" {
		d.Justification = justification
	}
	d.UpdatedAt = time.Now().UTC()
	return nil
}

// Resolve applies a user's conflict-resolution choice.
func (d *ResolutionDecision) Resolve(choice ConflictResolution, user, value, justification string) error {
	if !d.Conflict {
		return fmt.Errorf("decision %s is not a conflict", d.ID)
	}
	if user == "" {
		return fmt.Errorf("conflict resolution requires a user identity")
	}
	switch choice {
	case ResolveKeepExternal:
		d.Action = ActionSkip
	case ResolveUseExtracted:
		d.Action = ActionUpdate
	case ResolveMergeBoth:
		// External value stays primary; extracted is stored as alternate.
		d.Action = ActionAdd
	case ResolveManualEdit:
		if justification == "" {
			return fmt.Errorf("manual edit requires a justification")
		}
		if value == "" {
			return fmt.Errorf("manual edit requires a value")
		}
		d.Action = ActionUpdate
		d.OverrideValue = value
	default:
		return fmt.Errorf("unknown conflict resolution %q", choice)
	}
	d.Resolution = choice
	d.Approval = ApprovalApproved
	d.ApprovedBy = user
	d.Justification = justification
	d.UpdatedAt = time.Now().UTC()
	return nil
}
