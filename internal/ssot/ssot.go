// Package ssot talks to the authoritative external genealogical record
// store. All local state is subordinate to it. The client never issues a
// delete, under any circumstances.
package ssot

import (
	"context"
	"errors"
	"fmt"
)

// PersonAttributes are the attributes the engine reads and writes on a
// person record.
type PersonAttributes struct {
	GivenName      string   `json:"given_name"`
	Surname        string   `json:"surname"`
	Gender         string   `json:"gender,omitempty"`
	BirthDate      string   `json:"birth_date,omitempty"`
	DeathDate      string   `json:"death_date,omitempty"`
	BirthPlace     string   `json:"birth_place,omitempty"`
	DeathPlace     string   `json:"death_place,omitempty"`
	ResidencePlace string   `json:"residence_place,omitempty"`
	AlternateNames []string `json:"alternate_names,omitempty"`
	Deceased       bool     `json:"deceased,omitempty"`
}

// FullName returns "Given Surname" for display and matching.
func (a PersonAttributes) FullName() string {
	if a.GivenName == "" {
		return a.Surname
	}
	if a.Surname == "" {
		return a.GivenName
	}
	return a.GivenName + " " + a.Surname
}

// RelationshipEdge is one edge of the relationship graph, keyed by
// (person, person, type). The graph can be cyclic through step and in-law
// ties, so it stays an explicit edge list traversed by index lookup.
type RelationshipEdge struct {
	Person1 string `json:"person1"`
	Person2 string `json:"person2"`
	Type    string `json:"type"`
}

// Citation records the provenance of an attribute on a record.
type Citation struct {
	SourceURL  string `json:"source_url"`
	SourceName string `json:"source_name,omitempty"`
	Detail     string `json:"detail,omitempty"`
	Confidence string `json:"confidence,omitempty"`
}

// Event is a dated occurrence (birth, death, marriage) attached to a record.
type Event struct {
	Type  string `json:"type"`
	Date  string `json:"date,omitempty"`
	Place string `json:"place,omitempty"`
}

// Record is a person record with its attributes and relationship edges.
type Record struct {
	ID            string             `json:"id"`
	Attributes    PersonAttributes   `json:"attributes"`
	Relationships []RelationshipEdge `json:"relationships,omitempty"`
}

// DateRange constrains a search to records whose dates fall inside it.
type DateRange struct {
	From string `json:"from,omitempty"`
	To   string `json:"to,omitempty"`
}

// Client is the read/write contract the engine requires from the record
// store. There is deliberately no delete operation.
type Client interface {
	Search(ctx context.Context, name string, dates *DateRange, location string) ([]Record, error)
	GetRecord(ctx context.Context, id string) (*Record, error)

	CreatePerson(ctx context.Context, attrs PersonAttributes) (string, error)
	AddAttribute(ctx context.Context, id string, attr string, value string) error
	AddCitation(ctx context.Context, id string, c Citation) (string, error)
	AddEvent(ctx context.Context, id string, e Event) error
	CreateRelationship(ctx context.Context, id1, id2, relType string) error
}

// UnavailableError marks a transient record-store failure. Callers retry it
// with bounded backoff; on exhaustion the operation lands in a terminal
// FAILED state and is surfaced to the operator, never dropped.
type UnavailableError struct {
	Op  string
	Err error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("record store unavailable during %s: %v", e.Op, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// IsUnavailable reports whether err is a transient store failure.
func IsUnavailable(err error) bool {
	var ue *UnavailableError
	return errors.As(err, &ue)
}
