package model

import (
	"time"

	"github.com/google/uuid"
)

// FactType is the closed enumeration of claims the extractor may produce.
type FactType string

const (
	FactName              FactType = "name"
	FactNickname          FactType = "nickname"
	FactMaidenName        FactType = "maiden_name"
	FactBirthDate         FactType = "birth_date"
	FactDeathDate         FactType = "death_date"
	FactBirthAge          FactType = "birth_age"
	FactDeathAge          FactType = "death_age"
	FactGender            FactType = "gender"
	FactRelationship      FactType = "relationship"
	FactMarriage          FactType = "marriage"
	FactLocationBirth     FactType = "location_birth"
	FactLocationDeath     FactType = "location_death"
	FactLocationResidence FactType = "location_residence"
	FactSurvivedBy        FactType = "survived_by"
	FactPrecededInDeath   FactType = "preceded_in_death"
)

// KnownFactType reports whether t is part of the closed enumeration.
func KnownFactType(t FactType) bool {
	switch t {
	case FactName, FactNickname, FactMaidenName, FactBirthDate, FactDeathDate,
		FactBirthAge, FactDeathAge, FactGender, FactRelationship, FactMarriage,
		FactLocationBirth, FactLocationDeath, FactLocationResidence,
		FactSurvivedBy, FactPrecededInDeath:
		return true
	}
	return false
}

// IsRelational reports whether the fact links two persons.
func (t FactType) IsRelational() bool {
	switch t {
	case FactRelationship, FactMarriage, FactSurvivedBy, FactPrecededInDeath:
		return true
	}
	return false
}

// SubjectRole describes how the fact's subject relates to the document's
// primary person.
type SubjectRole string

const (
	RoleDeceasedPrimary SubjectRole = "deceased_primary"
	RoleSpouse          SubjectRole = "spouse"
	RoleChild           SubjectRole = "child"
	RoleParent          SubjectRole = "parent"
	RoleSibling         SubjectRole = "sibling"
	RoleGrandparent     SubjectRole = "grandparent"
	RoleGrandchild      SubjectRole = "grandchild"
	RoleInLaw           SubjectRole = "in_law"
	RoleOther           SubjectRole = "other"
)

// ResolutionStatus tracks a fact through the resolution state machine.
//
// unresolved -> resolved | conflicting | rejected
// conflicting -> resolved (explicit user action only)
type ResolutionStatus string

const (
	StatusUnresolved  ResolutionStatus = "unresolved"
	StatusResolved    ResolutionStatus = "resolved"
	StatusConflicting ResolutionStatus = "conflicting"
	StatusRejected    ResolutionStatus = "rejected"
)

// CanTransition reports whether the status transition is legal. The
// conflicting -> resolved edge exists only for user actions; it can never
// be taken automatically.
func CanTransition(from, to ResolutionStatus, userAction bool) bool {
	if from == to {
		return true
	}
	switch from {
	case StatusUnresolved:
		return to == StatusResolved || to == StatusConflicting || to == StatusRejected
	case StatusConflicting:
		return to == StatusResolved && userAction
	}
	return false
}

// Fact is an atomic, sourced claim extracted from one document about a
// named subject.
type Fact struct {
	ID         string   `json:"id"`
	DocumentID string   `json:"document_id"`
	Type       FactType `json:"fact_type"`

	SubjectName string      `json:"subject_name"`
	SubjectRole SubjectRole `json:"subject_role"`
	Value       string      `json:"value"`

	// Set for relational fact types only.
	RelatedName      string `json:"related_name,omitempty"`
	RelationshipType string `json:"relationship_type,omitempty"`

	Context        string `json:"context,omitempty"`
	Inferred       bool   `json:"is_inferred"`
	InferenceBasis string `json:"inference_basis,omitempty"`

	// RawConfidence is the extractor-reported confidence, if any.
	RawConfidence    *float64 `json:"raw_confidence,omitempty"`
	UncertaintyFlags []string `json:"uncertainty_flags,omitempty"`

	// Confidence is the scored confidence in [0,1].
	Confidence float64 `json:"confidence_score"`

	Status     ResolutionStatus `json:"resolution_status"`
	StatusNote string           `json:"status_note,omitempty"`

	ClusterID        string `json:"cluster_id,omitempty"`
	ExternalRecordID string `json:"external_record_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewFact creates an unresolved fact with a fresh identifier.
func NewFact(documentID string, t FactType, subject, value string) *Fact {
	now := time.Now().UTC()
	return &Fact{
		ID:          uuid.NewString(),
		DocumentID:  documentID,
		Type:        t,
		SubjectName: subject,
		SubjectRole: RoleOther,
		Value:       value,
		Status:      StatusUnresolved,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}
