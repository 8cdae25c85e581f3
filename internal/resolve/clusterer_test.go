package resolve

import (
	"testing"

	"kinforge/internal/model"
)

func newClusterer() *Clusterer {
	return NewClusterer(model.DefaultConfig().Thresholds)
}

func mkFact(t model.FactType, subject, value string, confidence float64) *model.Fact {
	f := model.NewFact("doc-1", t, subject, value)
	f.Confidence = confidence
	return f
}

func TestClusterDocumentGroupsBySubject(t *testing.T) {
	facts := []*model.Fact{
		mkFact(model.FactName, "Margaret Sullivan", "Margaret Anne Sullivan", 0.80),
		mkFact(model.FactDeathDate, "Margaret Sullivan", "2024-07-18", 0.90),
		mkFact(model.FactNickname, "Margaret Sullivan", "Peggy", 0.70),
		mkFact(model.FactMaidenName, "Margaret Sullivan", "O'Brien", 0.60),
		mkFact(model.FactName, "James Sullivan", "James Sullivan", 0.50),
	}

	clusters := newClusterer().ClusterDocument(facts)
	if len(clusters) != 2 {
		t.Fatalf("got %d clusters, want 2", len(clusters))
	}

	margaret := clusters[0]
	if margaret.CanonicalName != "Margaret Anne Sullivan" {
		t.Errorf("canonical name = %q, want the longest variant", margaret.CanonicalName)
	}
	if margaret.FactCount != 4 {
		t.Errorf("fact count = %d, want 4", margaret.FactCount)
	}
	// Mean of 0.80, 0.90, 0.70, 0.60.
	if margaret.Confidence != 0.75 {
		t.Errorf("confidence = %.2f, want 0.75", margaret.Confidence)
	}
	if len(margaret.Nicknames) != 1 || margaret.Nicknames[0] != "Peggy" {
		t.Errorf("nicknames = %v", margaret.Nicknames)
	}
	if len(margaret.MaidenNames) != 1 || margaret.MaidenNames[0] != "O'Brien" {
		t.Errorf("maiden names = %v", margaret.MaidenNames)
	}

	for _, f := range facts[:4] {
		if f.ClusterID != margaret.ID {
			t.Errorf("fact %s cluster = %q, want %q", f.Type, f.ClusterID, margaret.ID)
		}
	}
	if facts[4].ClusterID != clusters[1].ID {
		t.Errorf("second subject's fact points at cluster %q, want %q", facts[4].ClusterID, clusters[1].ID)
	}
}

func TestClusterDocumentPreservesFirstMentionOrder(t *testing.T) {
	facts := []*model.Fact{
		mkFact(model.FactName, "B Person", "B Person", 0.5),
		mkFact(model.FactName, "A Person", "A Person", 0.5),
		mkFact(model.FactGender, "B Person", "female", 0.5),
	}
	clusters := newClusterer().ClusterDocument(facts)
	if len(clusters) != 2 || clusters[0].CanonicalName != "B Person" || clusters[1].CanonicalName != "A Person" {
		t.Fatalf("clusters out of mention order: %+v", clusters)
	}
}

func TestProposeMergeExactAndCorroborated(t *testing.T) {
	c := newClusterer()

	source := model.NewPersonCluster("Margaret A. Sullivan")
	target := model.NewPersonCluster("Margaret Sullivan")
	other := model.NewPersonCluster("Walter Brooks")

	sourceFacts := []*model.Fact{mkFact(model.FactBirthDate, "Margaret A. Sullivan", "1945-03-12", 0.8)}
	targetFacts := []*model.Fact{mkFact(model.FactBirthDate, "Margaret Sullivan", "1945-03-12", 0.8)}

	p := c.ProposeMerge(source, sourceFacts, []*model.PersonCluster{other, target},
		map[string][]*model.Fact{target.ID: targetFacts})
	if p == nil {
		t.Fatal("expected a merge proposal")
	}
	if p.TargetID != target.ID {
		t.Errorf("target = %s, want %s", p.TargetID, target.ID)
	}
	// 1.0 name match plus birth-date corroboration, capped at 1.0.
	if p.Score != 1.0 {
		t.Errorf("score = %.2f, want 1.00", p.Score)
	}
	if p.Ambiguous || p.RequiresApproval {
		t.Errorf("proposal flags: ambiguous=%v requires_approval=%v", p.Ambiguous, p.RequiresApproval)
	}
	if !p.AutoMergeable(c.thresholds.FuzzyMatchThreshold) {
		t.Error("clean high-score proposal should be auto-mergeable")
	}
}

func TestProposeMergeAmbiguousTargets(t *testing.T) {
	c := newClusterer()

	source := model.NewPersonCluster("Margaret Sullivan")
	t1 := model.NewPersonCluster("Margaret Sullivan")
	t2 := model.NewPersonCluster("Margaret Sullivan")

	p := c.ProposeMerge(source, nil, []*model.PersonCluster{t1, t2}, nil)
	if p == nil {
		t.Fatal("expected a proposal even when ambiguous")
	}
	if !p.Ambiguous {
		t.Error("two equally plausible targets must be flagged ambiguous")
	}
	if p.AutoMergeable(c.thresholds.FuzzyMatchThreshold) {
		t.Error("ambiguous proposal must never auto-merge")
	}
}

func TestProposeMergeResolvedTargetNeedsApproval(t *testing.T) {
	c := newClusterer()

	source := model.NewPersonCluster("Margaret Sullivan")
	target := model.NewPersonCluster("Margaret Sullivan")
	target.Status = model.ClusterResolved

	p := c.ProposeMerge(source, nil, []*model.PersonCluster{target}, nil)
	if p == nil {
		t.Fatal("expected a proposal")
	}
	if !p.RequiresApproval {
		t.Error("merging into a resolved cluster must require approval")
	}
	if p.AutoMergeable(c.thresholds.FuzzyMatchThreshold) {
		t.Error("approval-gated proposal must never auto-merge")
	}
}

func TestProposeMergeBelowThreshold(t *testing.T) {
	c := newClusterer()
	source := model.NewPersonCluster("Margaret Sullivan")
	target := model.NewPersonCluster("Timothy Sullivan")

	if p := c.ProposeMerge(source, nil, []*model.PersonCluster{target}, nil); p != nil {
		t.Errorf("weak name similarity should yield no proposal, got score %.2f", p.Score)
	}
}

func TestMergeFoldsClusters(t *testing.T) {
	target := model.NewPersonCluster("Margaret Sullivan")
	target.FactCount = 4
	target.Confidence = 0.80

	source := model.NewPersonCluster("Margaret Anne Sullivan")
	source.FactCount = 2
	source.Confidence = 0.50
	source.Nicknames = []string{"Peggy"}
	source.MaidenNames = []string{"O'Brien"}

	Merge(target, source)

	if target.FactCount != 6 {
		t.Errorf("fact count = %d, want 6", target.FactCount)
	}
	// (0.80*4 + 0.50*2) / 6 = 0.70
	if target.Confidence != 0.70 {
		t.Errorf("confidence = %.2f, want 0.70", target.Confidence)
	}
	if target.CanonicalName != "Margaret Anne Sullivan" {
		t.Errorf("canonical name = %q, want the longest variant", target.CanonicalName)
	}
	if len(target.Nicknames) != 1 || target.Nicknames[0] != "Peggy" {
		t.Errorf("nicknames = %v", target.Nicknames)
	}
	if target.SourceCount != 2 {
		t.Errorf("source count = %d, want 2", target.SourceCount)
	}
	if target.Status != model.ClusterVerified {
		t.Errorf("status = %s, want %s after multi-source merge", target.Status, model.ClusterVerified)
	}
}
