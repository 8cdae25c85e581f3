package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ClusterStatus tracks the lifecycle of a person cluster.
type ClusterStatus string

const (
	ClusterUnverified  ClusterStatus = "unverified"
	ClusterVerified    ClusterStatus = "verified"
	ClusterConflicting ClusterStatus = "conflicting"
	ClusterResolved    ClusterStatus = "resolved"
)

// PersonCluster is a working hypothesis that a set of subject-name mentions
// refer to one real person, prior to resolution against the record store.
type PersonCluster struct {
	ID            string   `json:"id"`
	CanonicalName string   `json:"canonical_name"`
	NameVariants  []string `json:"name_variants"`
	Nicknames     []string `json:"nicknames,omitempty"`
	MaidenNames   []string `json:"maiden_names,omitempty"`

	// ExternalRecordID links the cluster to at most one record in the
	// external store; one record maps to at most one cluster.
	ExternalRecordID string `json:"external_record_id,omitempty"`

	Confidence  float64       `json:"confidence_score"`
	SourceCount int           `json:"source_count"`
	FactCount   int           `json:"fact_count"`
	Status      ClusterStatus `json:"cluster_status"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewPersonCluster creates an unverified cluster seeded with one name.
func NewPersonCluster(canonicalName string) *PersonCluster {
	now := time.Now().UTC()
	return &PersonCluster{
		ID:            uuid.NewString(),
		CanonicalName: canonicalName,
		NameVariants:  []string{canonicalName},
		Status:        ClusterUnverified,
		SourceCount:   1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// SetExternalRecord assigns the external record id. Once a cluster is
// resolved its identity is immutable except via a logged user override.
func (c *PersonCluster) SetExternalRecord(id string, userOverride bool) error {
	if c.Status == ClusterResolved && c.ExternalRecordID != "" && c.ExternalRecordID != id && !userOverride {
		return fmt.Errorf("cluster %s is resolved to %s; changing the linked record requires an explicit user override", c.ID, c.ExternalRecordID)
	}
	c.ExternalRecordID = id
	c.UpdatedAt = time.Now().UTC()
	return nil
}

// AddVariant records a name variant if not already present.
func (c *PersonCluster) AddVariant(name string) {
	for _, v := range c.NameVariants {
		if v == name {
			return
		}
	}
	c.NameVariants = append(c.NameVariants, name)
}
