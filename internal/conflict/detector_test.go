package conflict

import (
	"testing"

	"kinforge/internal/match"
	"kinforge/internal/model"
	"kinforge/internal/ssot"
)

func newDetector() *Detector {
	return NewDetector(model.DefaultConfig().Thresholds)
}

func singleMatch(rec ssot.Record) *match.Result {
	return &match.Result{
		Outcome:    match.OutcomeSingle,
		Candidates: []match.Candidate{{Record: rec, Score: 0.95}},
	}
}

func fact(t model.FactType, value string) *model.Fact {
	return &model.Fact{Type: t, Value: value}
}

func TestClassifyNewEntity(t *testing.T) {
	facts := []*model.Fact{
		fact(model.FactName, "Harold Finch"),
		fact(model.FactBirthDate, "1952-07-04"),
	}
	c := newDetector().Classify(facts, &match.Result{Outcome: match.OutcomeNone}, false)

	if c.Category != model.CategoryNewEntity {
		t.Fatalf("category = %s, want %s", c.Category, model.CategoryNewEntity)
	}
	if len(c.Additions) != 2 {
		t.Errorf("got %d additions, want 2", len(c.Additions))
	}
	if c.MatchedID != "" {
		t.Errorf("MatchedID = %q, want empty", c.MatchedID)
	}
}

func TestClassifyDateToleranceBoundary(t *testing.T) {
	rec := ssot.Record{ID: "I0001", Attributes: ssot.PersonAttributes{
		GivenName: "Margaret", Surname: "Sullivan", BirthDate: "1950-01-15",
	}}

	// Exactly at tolerance: redundant, not conflicting.
	c := newDetector().Classify([]*model.Fact{fact(model.FactBirthDate, "1950-02-14")}, singleMatch(rec), false)
	if len(c.Conflicts) != 0 {
		t.Fatalf("30 days apart should not conflict, got %+v", c.Conflicts)
	}
	if len(c.Redundant) != 1 || !c.Redundant[0].NeedsCitation {
		t.Errorf("expected one redundant attribute carrying a citation obligation, got %+v", c.Redundant)
	}
	if c.Category != model.CategoryRedundant {
		t.Errorf("category = %s, want %s", c.Category, model.CategoryRedundant)
	}

	// One day past tolerance: high-severity conflict.
	c = newDetector().Classify([]*model.Fact{fact(model.FactBirthDate, "1950-02-15")}, singleMatch(rec), false)
	if len(c.Conflicts) != 1 {
		t.Fatalf("31 days apart should conflict, got %+v", c.Conflicts)
	}
	if c.Conflicts[0].Severity != model.SeverityHigh {
		t.Errorf("severity = %s, want %s", c.Conflicts[0].Severity, model.SeverityHigh)
	}
	if c.Category != model.CategoryConflictingUpdate {
		t.Errorf("category = %s, want %s", c.Category, model.CategoryConflictingUpdate)
	}
}

func TestClassifyBirthDate36DaysApart(t *testing.T) {
	rec := ssot.Record{ID: "I0001", Attributes: ssot.PersonAttributes{
		GivenName: "Walter", Surname: "Briggs", BirthDate: "1950-01-15",
	}}
	c := newDetector().Classify([]*model.Fact{fact(model.FactBirthDate, "1950-02-20")}, singleMatch(rec), false)

	if c.Category != model.CategoryConflictingUpdate {
		t.Fatalf("category = %s, want %s", c.Category, model.CategoryConflictingUpdate)
	}
	if c.Conflicts[0].Severity != model.SeverityHigh {
		t.Errorf("severity = %s, want %s", c.Conflicts[0].Severity, model.SeverityHigh)
	}
}

func TestClassifyContradictoryRelationship(t *testing.T) {
	rec := ssot.Record{
		ID:         "I0002",
		Attributes: ssot.PersonAttributes{GivenName: "Daniel", Surname: "Reyes"},
		Relationships: []ssot.RelationshipEdge{
			{Person1: "Daniel Reyes", Person2: "Marcus Reyes", Type: "father"},
		},
	}
	f := &model.Fact{
		Type:             model.FactRelationship,
		SubjectName:      "Daniel Reyes",
		RelatedName:      "Marcus Reyes",
		RelationshipType: "stepfather",
	}

	c := newDetector().Classify([]*model.Fact{f}, singleMatch(rec), false)
	if c.Category != model.CategoryConflictingUpdate {
		t.Fatalf("category = %s, want %s", c.Category, model.CategoryConflictingUpdate)
	}
	if c.Conflicts[0].Severity != model.SeverityCritical {
		t.Errorf("severity = %s, want %s", c.Conflicts[0].Severity, model.SeverityCritical)
	}
}

func TestClassifyRelationshipDetailIsMedium(t *testing.T) {
	rec := ssot.Record{
		ID:         "I0003",
		Attributes: ssot.PersonAttributes{GivenName: "Daniel", Surname: "Reyes"},
		Relationships: []ssot.RelationshipEdge{
			{Person1: "Daniel Reyes", Person2: "Marcus Reyes", Type: "parent"},
		},
	}
	f := &model.Fact{
		Type:             model.FactRelationship,
		RelatedName:      "Marcus Reyes",
		RelationshipType: "father",
	}

	c := newDetector().Classify([]*model.Fact{f}, singleMatch(rec), false)
	if len(c.Conflicts) != 1 || c.Conflicts[0].Severity != model.SeverityMedium {
		t.Fatalf("expected one medium conflict, got %+v", c.Conflicts)
	}
	// Medium conflicts do not force a conflicting update.
	if c.Category == model.CategoryConflictingUpdate {
		t.Errorf("relationship refinement must not classify as %s", model.CategoryConflictingUpdate)
	}
}

func TestClassifyGenderMismatchIsCritical(t *testing.T) {
	rec := ssot.Record{ID: "I0004", Attributes: ssot.PersonAttributes{
		GivenName: "Pat", Surname: "Murphy", Gender: "M",
	}}
	c := newDetector().Classify([]*model.Fact{fact(model.FactGender, "female")}, singleMatch(rec), false)

	if len(c.Conflicts) != 1 || c.Conflicts[0].Severity != model.SeverityCritical {
		t.Fatalf("expected one critical conflict, got %+v", c.Conflicts)
	}

	// Normalized forms of the same gender are redundant.
	c = newDetector().Classify([]*model.Fact{fact(model.FactGender, "male")}, singleMatch(rec), false)
	if len(c.Conflicts) != 0 || len(c.Redundant) != 1 {
		t.Errorf("normalized gender match should be redundant, got conflicts %+v", c.Conflicts)
	}
}

func TestClassifyLivingSurvivorAgainstDeceasedRecord(t *testing.T) {
	rec := ssot.Record{ID: "I0005", Attributes: ssot.PersonAttributes{
		GivenName: "Eleanor", Surname: "Briggs", Deceased: true,
	}}
	c := newDetector().Classify(nil, singleMatch(rec), true)

	if c.Category != model.CategoryConflictingUpdate {
		t.Fatalf("category = %s, want %s", c.Category, model.CategoryConflictingUpdate)
	}
	if c.Conflicts[0].Severity != model.SeverityCritical {
		t.Errorf("severity = %s, want %s", c.Conflicts[0].Severity, model.SeverityCritical)
	}
}

func TestClassifyAmbiguousOutcomeWinsOverAdditions(t *testing.T) {
	rec := ssot.Record{ID: "I0006", Attributes: ssot.PersonAttributes{
		GivenName: "Robert", Surname: "Chen",
	}}
	result := &match.Result{
		Outcome: match.OutcomeAmbiguous,
		Candidates: []match.Candidate{
			{Record: rec, Score: 0.81},
			{Record: ssot.Record{ID: "I0007"}, Score: 0.78},
		},
	}
	c := newDetector().Classify([]*model.Fact{fact(model.FactBirthDate, "1961-09-30")}, result, false)

	if c.Category != model.CategoryAmbiguousMatch {
		t.Fatalf("category = %s, want %s", c.Category, model.CategoryAmbiguousMatch)
	}
	if len(c.Additions) != 1 {
		t.Errorf("additions still recorded for the reviewer, got %d", len(c.Additions))
	}
}

func TestClassifyNonConflictingAddition(t *testing.T) {
	rec := ssot.Record{ID: "I0008", Attributes: ssot.PersonAttributes{
		GivenName: "Margaret", Surname: "Sullivan",
	}}
	facts := []*model.Fact{
		fact(model.FactBirthDate, "1945-03-12"),
		fact(model.FactLocationDeath, "Columbus, Ohio"),
	}
	c := newDetector().Classify(facts, singleMatch(rec), false)

	if c.Category != model.CategoryNonConflictingAddition {
		t.Fatalf("category = %s, want %s", c.Category, model.CategoryNonConflictingAddition)
	}
	if len(c.Additions) != 2 || len(c.Conflicts) != 0 {
		t.Errorf("got %d additions, %d conflicts", len(c.Additions), len(c.Conflicts))
	}
}

func TestClassifyNameVariants(t *testing.T) {
	rec := ssot.Record{ID: "I0009", Attributes: ssot.PersonAttributes{
		GivenName: "Katherine", Surname: "O'Neill",
		AlternateNames: []string{"Kathy O'Neill"},
	}}

	// Recorded alternate name: redundant.
	c := newDetector().Classify([]*model.Fact{fact(model.FactNickname, "Kathy O'Neill")}, singleMatch(rec), false)
	if len(c.Redundant) != 1 {
		t.Errorf("known alternate should be redundant, got %+v", c)
	}

	// Unknown maiden name: addition.
	c = newDetector().Classify([]*model.Fact{fact(model.FactMaidenName, "Katherine Donahue")}, singleMatch(rec), false)
	if len(c.Additions) != 1 {
		t.Errorf("new maiden name should be an addition, got %+v", c)
	}

	// A materially different primary name is a high-severity conflict.
	c = newDetector().Classify([]*model.Fact{fact(model.FactName, "Howard Jensen")}, singleMatch(rec), false)
	if len(c.Conflicts) != 1 || c.Conflicts[0].Severity != model.SeverityHigh {
		t.Errorf("expected a high name conflict, got %+v", c.Conflicts)
	}
}
