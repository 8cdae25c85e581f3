package model

// Category is the conflict detector's classification for a cluster of facts
// against its matched external record.
type Category string

const (
	CategoryNewEntity              Category = "new_entity"
	CategoryNonConflictingAddition Category = "non_conflicting_addition"
	CategoryConflictingUpdate      Category = "conflicting_update"
	CategoryAmbiguousMatch         Category = "ambiguous_match"
	CategoryRedundant              Category = "redundant"
)

// Severity grades how damaging a conflict would be if applied wrongly.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// AttributeConflict is a material disagreement between an extracted value
// and the external store's value for one attribute.
type AttributeConflict struct {
	Attribute      FactType `json:"attribute"`
	ExtractedValue string   `json:"extracted_value"`
	ExternalValue  string   `json:"external_value"`
	Severity       Severity `json:"severity"`
	Detail         string   `json:"detail,omitempty"`
}

// AttributeAddition is an extracted value absent from the external record.
type AttributeAddition struct {
	Attribute FactType `json:"attribute"`
	Value     string   `json:"value"`
}

// AttributeRedundancy is an extracted value the external record already
// holds. The source citation obligation still applies.
type AttributeRedundancy struct {
	Attribute     FactType `json:"attribute"`
	Value         string   `json:"value"`
	NeedsCitation bool     `json:"needs_citation"`
}

// Classification is the conflict detector's full output for one cluster.
type Classification struct {
	Category   Category              `json:"category"`
	MatchedID  string                `json:"matched_id,omitempty"`
	Conflicts  []AttributeConflict   `json:"conflicts,omitempty"`
	Additions  []AttributeAddition   `json:"additions,omitempty"`
	Redundant  []AttributeRedundancy `json:"redundant,omitempty"`
	Candidates int                   `json:"candidates"`
}

// Route is the resolution router's verdict for a fact.
type Route string

const (
	RouteAutoApply      Route = "auto_apply"
	RouteReviewRequired Route = "review_required"
	RouteReject         Route = "reject"
)
