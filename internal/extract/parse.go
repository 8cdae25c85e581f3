package extract

import (
	"encoding/json"
	"fmt"
	"strings"

	"kinforge/internal/model"
)

// rawFact mirrors the JSON objects the extraction prompt asks for.
type rawFact struct {
	Type             string   `json:"type"`
	Subject          string   `json:"subject"`
	SubjectRole      string   `json:"subject_role"`
	Value            string   `json:"value"`
	RelatedSubject   string   `json:"related_subject"`
	RelationshipType string   `json:"relationship_type"`
	Context          string   `json:"context"`
	IsInferred       bool     `json:"is_inferred"`
	InferenceBasis   string   `json:"inference_basis"`
	Confidence       *float64 `json:"confidence"`
	UncertaintyFlags []string `json:"uncertainty_flags"`
}

type rawEnvelope struct {
	Facts []rawFact `json:"facts"`
}

var knownRoles = map[model.SubjectRole]bool{
	model.RoleDeceasedPrimary: true,
	model.RoleSpouse:          true,
	model.RoleChild:           true,
	model.RoleParent:          true,
	model.RoleSibling:         true,
	model.RoleGrandparent:     true,
	model.RoleGrandchild:      true,
	model.RoleInLaw:           true,
	model.RoleOther:           true,
}

// ParseResponse decodes the extractor's JSON output into facts attached to
// documentID. Entries with unknown types, missing subjects, or missing values
// are dropped and reported back so the caller can log them; a malformed
// envelope is an error.
func ParseResponse(documentID, raw string) ([]*model.Fact, []string, error) {
	body := stripFences(raw)

	var env rawEnvelope
	if err := json.Unmarshal([]byte(body), &env); err != nil {
		// Some models emit a bare array instead of the requested object.
		var list []rawFact
		if arrErr := json.Unmarshal([]byte(body), &list); arrErr != nil {
			return nil, nil, fmt.Errorf("decode extraction response: %w", err)
		}
		env.Facts = list
	}

	var facts []*model.Fact
	var dropped []string
	for i, rf := range env.Facts {
		f, reason := buildFact(documentID, rf)
		if f == nil {
			dropped = append(dropped, fmt.Sprintf("fact %d (%s): %s", i, rf.Type, reason))
			continue
		}
		facts = append(facts, f)
	}
	return facts, dropped, nil
}

func buildFact(documentID string, rf rawFact) (*model.Fact, string) {
	t := model.FactType(strings.TrimSpace(rf.Type))
	if !model.KnownFactType(t) {
		return nil, "unknown fact type"
	}

	subject := strings.TrimSpace(rf.Subject)
	if subject == "" {
		return nil, "missing subject"
	}
	value := strings.TrimSpace(rf.Value)
	if value == "" && !t.IsRelational() {
		return nil, "missing value"
	}

	related := strings.TrimSpace(rf.RelatedSubject)
	if t.IsRelational() && related == "" {
		return nil, "relational fact without related subject"
	}

	if rf.Confidence != nil && (*rf.Confidence < 0 || *rf.Confidence > 1) {
		return nil, "confidence outside [0,1]"
	}

	f := model.NewFact(documentID, t, subject, value)
	if role := model.SubjectRole(strings.TrimSpace(rf.SubjectRole)); knownRoles[role] {
		f.SubjectRole = role
	}
	f.RelatedName = related
	f.RelationshipType = strings.ToLower(strings.TrimSpace(rf.RelationshipType))
	f.Context = strings.TrimSpace(rf.Context)
	f.Inferred = rf.IsInferred
	f.InferenceBasis = strings.TrimSpace(rf.InferenceBasis)
	f.RawConfidence = rf.Confidence
	for _, flag := range rf.UncertaintyFlags {
		if flag = strings.TrimSpace(flag); flag != "" {
			f.UncertaintyFlags = append(f.UncertaintyFlags, flag)
		}
	}

	// Per-type payload shape is the last gate: an unparseable date or an
	// out-of-range age rejects the entry outright, never retried.
	if err := f.ValidatePayload(); err != nil {
		return nil, err.Error()
	}
	return f, ""
}

// stripFences removes a markdown code fence wrapper if the model added one.
func stripFences(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
