package match

import (
	"context"
	"testing"

	"kinforge/internal/model"
	"kinforge/internal/ssot"
)

func testThresholds() model.Thresholds {
	return model.DefaultConfig().Thresholds
}

func seedPerson(t *testing.T, client *ssot.MemoryClient, given, surname, birth string) string {
	t.Helper()
	return client.Seed(ssot.Record{Attributes: ssot.PersonAttributes{
		GivenName: given,
		Surname:   surname,
		BirthDate: birth,
	}})
}

func TestFindCandidatesSingleStrongMatch(t *testing.T) {
	client := ssot.NewMemoryClient()
	want := seedPerson(t, client, "Margaret", "Sullivan", "1945-03-12")
	// Same name, wrong generation. The date decay pushes it below the floor.
	seedPerson(t, client, "Margaret", "Sullivan", "1890-01-01")

	m := NewMatcher(client, testThresholds())
	result, err := m.FindCandidates(context.Background(), Profile{
		Names:     []string{"Margaret Sullivan"},
		BirthDate: "1945-03-12",
	})
	if err != nil {
		t.Fatalf("FindCandidates: %v", err)
	}

	if result.Outcome != OutcomeSingle {
		t.Fatalf("outcome = %s, want %s", result.Outcome, OutcomeSingle)
	}
	if len(result.Candidates) != 1 {
		t.Fatalf("got %d candidates, want 1", len(result.Candidates))
	}
	best := result.Best()
	if best.Record.ID != want {
		t.Errorf("best candidate = %s, want %s", best.Record.ID, want)
	}
	if best.Score != 1.0 {
		t.Errorf("score = %.2f, want 1.00", best.Score)
	}
	if !best.Detail.DateIncluded {
		t.Error("date component should be included when both sides have dates")
	}
}

func TestFindCandidatesAmbiguousWithinWindow(t *testing.T) {
	client := ssot.NewMemoryClient()
	seedPerson(t, client, "Robert", "Chen", "")
	seedPerson(t, client, "Robert", "Chen", "")

	m := NewMatcher(client, testThresholds())
	result, err := m.FindCandidates(context.Background(), Profile{
		Names: []string{"Robert Chen"},
	})
	if err != nil {
		t.Fatalf("FindCandidates: %v", err)
	}

	if result.Outcome != OutcomeAmbiguous {
		t.Fatalf("outcome = %s, want %s", result.Outcome, OutcomeAmbiguous)
	}
	if len(result.Candidates) != 2 {
		t.Errorf("got %d candidates, want 2", len(result.Candidates))
	}
}

func TestFindCandidatesNoneBelowFloor(t *testing.T) {
	client := ssot.NewMemoryClient()
	seedPerson(t, client, "Dorothy", "Wheeler", "1930-06-01")

	m := NewMatcher(client, testThresholds())
	result, err := m.FindCandidates(context.Background(), Profile{
		Names: []string{"Harold Finch"},
	})
	if err != nil {
		t.Fatalf("FindCandidates: %v", err)
	}
	if result.Outcome != OutcomeNone {
		t.Errorf("outcome = %s, want %s", result.Outcome, OutcomeNone)
	}
	if result.Best() != nil {
		t.Error("expected no best candidate")
	}
}

func TestFindCandidatesUncertainBelowAutoFloor(t *testing.T) {
	client := ssot.NewMemoryClient()
	// Name matches exactly but the birth date is about seven months off,
	// which lands between the minimum floor and the auto-match floor.
	seedPerson(t, client, "Margaret", "Sullivan", "1945-10-10")

	m := NewMatcher(client, testThresholds())
	result, err := m.FindCandidates(context.Background(), Profile{
		Names:     []string{"Margaret Sullivan"},
		BirthDate: "1945-03-12",
	})
	if err != nil {
		t.Fatalf("FindCandidates: %v", err)
	}

	if result.Outcome != OutcomeUncertain {
		t.Fatalf("outcome = %s, want %s", result.Outcome, OutcomeUncertain)
	}
	best := result.Best()
	if best == nil {
		t.Fatal("expected a candidate")
	}
	if best.Score < testThresholds().MinCandidateScore || best.Score >= testThresholds().FuzzyMatchThreshold {
		t.Errorf("score = %.2f, want within [%.2f, %.2f)", best.Score,
			testThresholds().MinCandidateScore, testThresholds().FuzzyMatchThreshold)
	}
}

func TestScoreRecordExcludesMissingComponents(t *testing.T) {
	m := NewMatcher(ssot.NewMemoryClient(), testThresholds())

	profile := Profile{Names: []string{"Margaret Sullivan"}, BirthDate: "1945-03-12"}
	rec := ssot.Record{Attributes: ssot.PersonAttributes{GivenName: "Margaret", Surname: "Sullivan"}}

	score, detail := m.scoreRecord(profile, rec)
	if detail.DateIncluded {
		t.Error("date component should be excluded when the record has no date")
	}
	if detail.LocIncluded {
		t.Error("location component should be excluded when neither side has one")
	}
	// With only the name component available the weights renormalize, so a
	// perfect name match still scores 1.0.
	if score != 1.0 {
		t.Errorf("score = %.2f, want 1.00", score)
	}
}

func TestProximityToleranceBoundary(t *testing.T) {
	cases := []struct {
		a, b string
		tol  int
		want float64
	}{
		{"1945-03-12", "1945-03-12", 30, 1.0},
		{"1945-03-12", "1945-04-11", 30, 1.0}, // exactly 30 days apart
		{"1945-03-12", "2000-01-01", 30, 0},   // decayed to the floor
	}
	for _, tc := range cases {
		got, ok := proximity(tc.a, tc.b, tc.tol)
		if !ok {
			t.Fatalf("proximity(%q, %q) not computable", tc.a, tc.b)
		}
		if got != tc.want {
			t.Errorf("proximity(%q, %q, %d) = %.4f, want %.4f", tc.a, tc.b, tc.tol, got, tc.want)
		}
	}

	// Just outside tolerance decays, but only slightly.
	got, ok := proximity("1945-03-12", "1945-04-12", 30)
	if !ok {
		t.Fatal("proximity not computable")
	}
	if got >= 1.0 || got < 0.99 {
		t.Errorf("proximity one day over tolerance = %.4f, want just under 1.0", got)
	}

	if _, ok := proximity("1945-03-12", "", 30); ok {
		t.Error("proximity with a missing date should report not computable")
	}
}

func TestLocationOverlapContainment(t *testing.T) {
	profile := Profile{BirthPlace: "Springfield"}
	attrs := ssot.PersonAttributes{BirthPlace: "Springfield, Ohio"}

	score, ok := locationOverlap(profile, attrs)
	if !ok {
		t.Fatal("location overlap should be computable")
	}
	if score != 1.0 {
		t.Errorf("score = %.2f, want 1.00 for containment", score)
	}

	attrs.BirthPlace = "Portland, Oregon"
	score, ok = locationOverlap(profile, attrs)
	if !ok {
		t.Fatal("location overlap should be computable")
	}
	if score != 0 {
		t.Errorf("score = %.2f, want 0 for disjoint locations", score)
	}
}

func TestBuildProfile(t *testing.T) {
	cluster := model.NewPersonCluster("Margaret Anne Sullivan")
	cluster.AddVariant("Peggy Sullivan")

	facts := []*model.Fact{
		{Type: model.FactBirthDate, Value: "1945-03-12"},
		{Type: model.FactBirthDate, Value: "1946-01-01"}, // later duplicate ignored
		{Type: model.FactLocationDeath, Value: "Columbus, Ohio"},
	}

	p := BuildProfile(cluster, facts)
	if p.BirthDate != "1945-03-12" {
		t.Errorf("BirthDate = %q, want first birth-date fact", p.BirthDate)
	}
	if p.DeathPlace != "Columbus, Ohio" {
		t.Errorf("DeathPlace = %q", p.DeathPlace)
	}
	if len(p.Names) < 2 {
		t.Errorf("expected both name variants in profile, got %v", p.Names)
	}
}
