package model

import (
	"fmt"
	"strconv"
	"strings"
)

// ValidationError marks a malformed fact at the ingestion boundary. It is
// rejected outright, never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid fact: %s: %s", e.Field, e.Reason)
}

var validGenders = map[string]bool{
	"male": true, "female": true, "m": true, "f": true, "unknown": true, "u": true,
}

// ValidatePayload checks the fact's value against the shape its type
// requires. Facts are a tagged union keyed by fact type, not an untyped
// blob; each shape is enforced here before anything downstream sees it.
func (f *Fact) ValidatePayload() error {
	if !KnownFactType(f.Type) {
		return &ValidationError{Field: "fact_type", Reason: fmt.Sprintf("unknown type %q", f.Type)}
	}
	if strings.TrimSpace(f.SubjectName) == "" {
		return &ValidationError{Field: "subject_name", Reason: "empty"}
	}
	// Relational facts carry their claim in the related name; the value is
	// free-form and may be empty.
	if strings.TrimSpace(f.Value) == "" && !f.Type.IsRelational() {
		return &ValidationError{Field: "value", Reason: "empty"}
	}
	if f.Inferred && strings.TrimSpace(f.InferenceBasis) == "" {
		return &ValidationError{Field: "inference_basis", Reason: "required when fact is inferred"}
	}
	if f.RawConfidence != nil && (*f.RawConfidence < 0 || *f.RawConfidence > 1) {
		return &ValidationError{Field: "raw_confidence", Reason: "outside [0,1]"}
	}

	switch f.Type {
	case FactBirthDate, FactDeathDate:
		if _, ok := ParseDate(f.Value); !ok {
			return &ValidationError{Field: "value", Reason: fmt.Sprintf("unparseable date %q", f.Value)}
		}
	case FactBirthAge, FactDeathAge:
		age, err := strconv.Atoi(strings.TrimSpace(f.Value))
		if err != nil || age < 0 || age > 130 {
			return &ValidationError{Field: "value", Reason: fmt.Sprintf("age %q not in 0..130", f.Value)}
		}
	case FactGender:
		if !validGenders[strings.ToLower(strings.TrimSpace(f.Value))] {
			return &ValidationError{Field: "value", Reason: fmt.Sprintf("unknown gender %q", f.Value)}
		}
	case FactRelationship, FactMarriage, FactSurvivedBy, FactPrecededInDeath:
		if strings.TrimSpace(f.RelatedName) == "" {
			return &ValidationError{Field: "related_name", Reason: "required for relational facts"}
		}
		if f.Type == FactRelationship && strings.TrimSpace(f.RelationshipType) == "" {
			return &ValidationError{Field: "relationship_type", Reason: "required for relationship facts"}
		}
	}
	return nil
}
