package score

import (
	"math"
	"testing"

	"kinforge/internal/model"
)

func approx(t *testing.T, got, want float64, label string) {
	t.Helper()
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("%s = %.4f, want %.4f", label, got, want)
	}
}

// richDoc is a document context that earns full context quality and avoids
// the short-document penalty.
func richDoc() DocumentContext {
	return DocumentContext{
		WordCount:            600,
		RelationshipMentions: 4,
		Text: "Margaret passed away at age 79. Born in Dayton, she was survived by " +
			"her beloved husband and preceded in death by her parents. Funeral services " +
			"and interment will follow the memorial visitation. She married in 1967 and " +
			"was a resident of Dayton for sixty years.",
	}
}

func fullContext() ClusterContext {
	return ClusterContext{
		BirthDate:            "1945-03-12",
		DeathDate:            "2024-07-18",
		HasBirthLocation:     true,
		HasDeathLocation:     true,
		HasResidenceLocation: true,
	}
}

func TestNameClarity(t *testing.T) {
	cases := []struct {
		name string
		want float64
	}{
		{"", 0},
		{"Margaret", 0.20},
		{"Mrs. Smith", 0.40}, // surname only plus honorific
		{"Margaret Sullivan", 0.50},
		{"Margaret Anne Sullivan", 0.65},
		{"Margaret A. Sullivan", 0.65},
		{`Margaret "Peggy" Sullivan`, 0.60},
		{"Margaret Sullivan (née O'Brien)", 0.70}, // maiden plus parenthesized alternate
		{"Dr. Margaret Anne Sullivan Jr.", 0.80},
	}
	for _, tc := range cases {
		approx(t, nameClarity(tc.name), tc.want, "nameClarity("+tc.name+")")
	}
}

func TestRelationshipClarity(t *testing.T) {
	mk := func(relType, context string, role model.SubjectRole) *model.Fact {
		f := model.NewFact("doc", model.FactRelationship, "John Sullivan", "son")
		f.RelationshipType = relType
		f.Context = context
		f.SubjectRole = role
		return f
	}

	approx(t, relationshipClarity(mk("daughter", "", model.RoleChild)), 1.0, "explicit term")
	approx(t, relationshipClarity(mk("sibling", "", model.RoleSibling)), 0.70, "broad term")
	approx(t, relationshipClarity(mk("companion", "", model.RoleOther)), 0.40, "vague term")
	approx(t, relationshipClarity(mk("daughter", "her daughter Anne", model.RoleChild)), 1.0, "possessive bonus capped")
	approx(t, relationshipClarity(mk("sibling", "his sister and her brother", model.RoleSibling)), 0.90, "broad term with possessive context")

	// A non-relational fact with no term falls back to the subject role.
	primary := model.NewFact("doc", model.FactDeathDate, "Margaret Sullivan", "2024-07-18")
	primary.SubjectRole = model.RoleDeceasedPrimary
	approx(t, relationshipClarity(primary), 1.0, "primary role fallback")

	inLaw := model.NewFact("doc", model.FactName, "Tom Reed", "Tom Reed")
	inLaw.SubjectRole = model.RoleInLaw
	approx(t, relationshipClarity(inLaw), 0.40, "in-law role fallback")
}

func TestDateSpecificity(t *testing.T) {
	approx(t, dateSpecificity(fullContext()), 1.0, "full context")
	approx(t, dateSpecificity(ClusterContext{BirthDate: "circa 1950"}), 0.20, "circa birth")
	approx(t, dateSpecificity(ClusterContext{DeathAge: "79"}), 0.15, "age only")
	approx(t, dateSpecificity(ClusterContext{}), 0, "empty context")
}

func TestScoreFullyAttestedPrimaryFact(t *testing.T) {
	f := model.NewFact("doc", model.FactDeathDate, "Margaret Anne Sullivan", "2024-07-18")
	f.SubjectRole = model.RoleDeceasedPrimary
	conf := 0.9
	f.RawConfidence = &conf

	s := NewScorer()
	b := s.ScoreDetail(f, fullContext(), richDoc())

	// 0.30*0.65 + 0.25*1.0 + 0.20*1.0 + 0.15*0.9 + 0.10*1.0, no penalties.
	approx(t, b.Penalties, 0, "penalties")
	approx(t, b.Final, 0.88, "final")

	if again := s.Score(f, fullContext(), richDoc()); again != b.Final {
		t.Errorf("scoring is not deterministic: %.2f then %.2f", b.Final, again)
	}
}

func TestScoreRelationalOverride(t *testing.T) {
	f := model.NewFact("doc", model.FactSurvivedBy, "Margaret Sullivan", "James Sullivan")
	f.RelatedName = "James Sullivan"
	f.RelationshipType = "son"

	s := NewScorer()
	cc := ClusterContext{
		DeathDate:    "2024-07-18",
		LinkedScores: []float64{0.80, 1.00},
	}
	// 0.70*1.0 + 0.30*0.90 = 0.97
	approx(t, s.Score(f, cc, richDoc()), 0.97, "relational score")

	cc.Bidirectional = true
	cc.SourceDocuments = 2
	approx(t, s.Score(f, cc, richDoc()), 1.0, "bonused relational score caps at 1.0")
}

func TestPenalties(t *testing.T) {
	f := model.NewFact("doc", model.FactBirthDate, "Margaret Sullivan", "1945-03-12")
	f.SubjectRole = model.RoleDeceasedPrimary

	approx(t, penalties(f, ClusterContext{BirthDate: "1945-03-12", DeathDate: "1940-01-01"}, richDoc()),
		0.30, "death before birth")

	approx(t, penalties(f, ClusterContext{BirthDate: "1945-03-12", DeathDate: "2024-07-18", DeathAge: "70"}, richDoc()),
		0.20, "age disagrees with date span")

	approx(t, penalties(f, ClusterContext{BirthDate: "1945-03-12", DeathDate: "2024-07-18", DeathAge: "79"}, richDoc()),
		0, "age within tolerance")

	// Pronoun ambiguity flags draw one deduction, however many there are.
	f.UncertaintyFlags = []string{"ambiguous pronoun reference", "pronoun antecedent unclear"}
	approx(t, penalties(f, ClusterContext{DeathDate: "2024-07-18"}, richDoc()), 0.10, "pronoun flags")
	f.UncertaintyFlags = nil

	approx(t, penalties(f, ClusterContext{DeathDate: "2024-07-18"}, DocumentContext{WordCount: 40, Text: "a short note"}),
		0.15, "thin document")

	// Non-primary subject with a single-token name and no dates at all.
	bare := model.NewFact("doc", model.FactName, "Anne", "Anne")
	bare.SubjectRole = model.RoleChild
	approx(t, penalties(bare, ClusterContext{}, richDoc()), 0.20, "missing identity")
}

func TestScoreNeverLeavesUnitRange(t *testing.T) {
	f := model.NewFact("doc", model.FactName, "X", "X")
	f.UncertaintyFlags = []string{"pronoun"}

	s := NewScorer()
	got := s.Score(f, ClusterContext{BirthDate: "1950-01-01", DeathDate: "1900-01-01"}, DocumentContext{})
	if got != 0 {
		t.Errorf("heavily penalized fact = %.2f, want clamp to 0", got)
	}
}

func TestExtractorConfidenceInferredFromFlags(t *testing.T) {
	f := model.NewFact("doc", model.FactGender, "Margaret Sullivan", "female")
	approx(t, extractorConfidence(f), 0.90, "no flags")

	f.UncertaintyFlags = []string{"a", "b", "c"}
	approx(t, extractorConfidence(f), 0.45, "three flags")

	f.UncertaintyFlags = make([]string, 10)
	approx(t, extractorConfidence(f), 0, "many flags floor at zero")
}
