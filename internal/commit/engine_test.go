package commit

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"kinforge/internal/model"
	"kinforge/internal/route"
	"kinforge/internal/ssot"
)

type memoryAudit struct {
	mu      sync.Mutex
	entries []*model.AuditEntry
}

func (a *memoryAudit) Append(_ context.Context, entry *model.AuditEntry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, entry)
	return nil
}

func testEngine(client ssot.Client, audit AuditSink) *Engine {
	e := NewEngine(client, audit, model.DefaultConfig().Thresholds,
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	e.backoff = time.Millisecond
	return e
}

func approvedRouted(cluster *model.PersonCluster, t model.FactType, value string) route.Routed {
	f := model.NewFact("doc-1", t, cluster.CanonicalName, value)
	f.ClusterID = cluster.ID
	f.Confidence = 0.92
	d := model.NewDecision(f.ID, cluster.ID, model.ActionAdd)
	d.ExtractedValue = value
	d.Approval = model.ApprovalApproved
	return route.Routed{Fact: f, Decision: d, Route: model.RouteAutoApply}
}

func newEntityPlan(cluster *model.PersonCluster, routed ...route.Routed) *route.Plan {
	return &route.Plan{
		ClusterID: cluster.ID,
		Category:  model.CategoryNewEntity,
		CreateNew: true,
		Routed:    routed,
	}
}

func TestCommitPlanCreatesPersonAndRoundTrips(t *testing.T) {
	client := ssot.NewMemoryClient()
	audit := &memoryAudit{}
	engine := testEngine(client, audit)

	cluster := model.NewPersonCluster("John Michael Smith Jr.")
	routed := []route.Routed{
		approvedRouted(cluster, model.FactBirthDate, "1948-11-02"),
		approvedRouted(cluster, model.FactLocationResidence, "Dayton, Ohio"),
	}
	routed[0].Fact.SubjectRole = model.RoleDeceasedPrimary

	result, err := engine.CommitPlan(context.Background(), newEntityPlan(cluster, routed...), cluster, "https://example.com/obit/1")
	if err != nil {
		t.Fatalf("CommitPlan: %v", err)
	}
	if !result.Created || result.ExternalID == "" {
		t.Fatalf("result = %+v, want a created external id", result)
	}

	// Round-trip: the created record holds the supplied attributes.
	rec, err := client.GetRecord(context.Background(), result.ExternalID)
	if err != nil {
		t.Fatalf("GetRecord: %v", err)
	}
	if rec.Attributes.BirthDate != "1948-11-02" {
		t.Errorf("birth date = %q", rec.Attributes.BirthDate)
	}
	if rec.Attributes.ResidencePlace != "Dayton, Ohio" {
		t.Errorf("residence = %q", rec.Attributes.ResidencePlace)
	}
	if !rec.Attributes.Deceased {
		t.Error("primary subject should be marked deceased")
	}

	// Local state advanced only as part of the whole transaction.
	for _, r := range routed {
		if r.Decision.Approval != model.ApprovalCommitted {
			t.Errorf("decision approval = %s, want %s", r.Decision.Approval, model.ApprovalCommitted)
		}
		if r.Fact.Status != model.StatusResolved {
			t.Errorf("fact status = %s, want %s", r.Fact.Status, model.StatusResolved)
		}
		if r.Fact.ExternalRecordID != result.ExternalID {
			t.Errorf("fact external id = %q", r.Fact.ExternalRecordID)
		}
	}
	if cluster.ExternalRecordID != result.ExternalID || cluster.Status != model.ClusterResolved {
		t.Errorf("cluster = %s/%s", cluster.ExternalRecordID, cluster.Status)
	}

	// One audit entry per external mutation.
	if len(audit.entries) != len(result.Applied) {
		t.Errorf("audit entries = %d, applied steps = %d", len(audit.entries), len(result.Applied))
	}

	// The source citation lands on the record.
	if got := client.Citations(result.ExternalID); len(got) != 1 || got[0].SourceURL != "https://example.com/obit/1" {
		t.Errorf("citations = %+v", got)
	}
}

func TestCommitPlanRecoversFromTransientOutage(t *testing.T) {
	client := ssot.NewMemoryClient()
	client.FailNext = 2 // fewer than the default three attempts
	engine := testEngine(client, &memoryAudit{})

	cluster := model.NewPersonCluster("Dorothy Wheeler")
	plan := newEntityPlan(cluster, approvedRouted(cluster, model.FactBirthDate, "1930-06-01"))

	result, err := engine.CommitPlan(context.Background(), plan, cluster, "")
	if err != nil {
		t.Fatalf("CommitPlan should retry through a transient outage: %v", err)
	}
	if result.ExternalID == "" {
		t.Error("expected a created external id")
	}
}

func TestCommitPlanPermanentFailureAfterRetries(t *testing.T) {
	client := ssot.NewMemoryClient()
	client.FailNext = 10
	engine := testEngine(client, &memoryAudit{})

	cluster := model.NewPersonCluster("Dorothy Wheeler")
	routed := approvedRouted(cluster, model.FactBirthDate, "1930-06-01")
	plan := newEntityPlan(cluster, routed)

	_, err := engine.CommitPlan(context.Background(), plan, cluster, "")
	var pf *PermanentFailure
	if !errors.As(err, &pf) {
		t.Fatalf("err = %v, want PermanentFailure", err)
	}
	if pf.Attempts != model.DefaultConfig().Thresholds.MaxRetryAttempts {
		t.Errorf("attempts = %d", pf.Attempts)
	}

	// Local state did not advance.
	if routed.Decision.Approval != model.ApprovalApproved {
		t.Errorf("decision approval = %s, want unchanged %s", routed.Decision.Approval, model.ApprovalApproved)
	}
	if routed.Fact.Status != model.StatusUnresolved {
		t.Errorf("fact status = %s, want unchanged %s", routed.Fact.Status, model.StatusUnresolved)
	}
	if cluster.ExternalRecordID != "" {
		t.Error("cluster must not link to a record on failure")
	}
}

func TestCommitPlanRefusesUnattributedConflict(t *testing.T) {
	client := ssot.NewMemoryClient()
	engine := testEngine(client, &memoryAudit{})

	cluster := model.NewPersonCluster("Walter Briggs")
	routed := approvedRouted(cluster, model.FactBirthDate, "1950-02-20")
	routed.Decision.Conflict = true // approved but with no recorded approver

	_, err := engine.CommitPlan(context.Background(), newEntityPlan(cluster, routed), cluster, "")
	var iv *IntegrityViolation
	if !errors.As(err, &iv) {
		t.Fatalf("err = %v, want IntegrityViolation", err)
	}
}

func TestCommitPlanSkipsPendingDecisions(t *testing.T) {
	client := ssot.NewMemoryClient()
	engine := testEngine(client, &memoryAudit{})

	cluster := model.NewPersonCluster("Walter Briggs")
	pending := approvedRouted(cluster, model.FactBirthDate, "1950-02-20")
	pending.Decision.Approval = model.ApprovalPending
	pending.Route = model.RouteReviewRequired

	result, err := engine.CommitPlan(context.Background(), newEntityPlan(cluster, pending), cluster, "")
	if err != nil {
		t.Fatalf("CommitPlan: %v", err)
	}
	if result.Skipped != 1 || result.Created {
		t.Errorf("result = %+v, want one skipped and nothing created", result)
	}
	if pending.Fact.Status != model.StatusUnresolved {
		t.Errorf("pending fact status = %s, want unchanged", pending.Fact.Status)
	}
}

func TestCommitPlanLinksExistingRecord(t *testing.T) {
	client := ssot.NewMemoryClient()
	recID := client.Seed(ssot.Record{Attributes: ssot.PersonAttributes{
		GivenName: "Margaret", Surname: "Sullivan",
	}})
	engine := testEngine(client, &memoryAudit{})

	cluster := model.NewPersonCluster("Margaret Sullivan")
	routed := approvedRouted(cluster, model.FactDeathDate, "2024-01-08")
	plan := &route.Plan{
		ClusterID: cluster.ID,
		Category:  model.CategoryNonConflictingAddition,
		MatchedID: recID,
		Routed:    []route.Routed{routed},
	}

	result, err := engine.CommitPlan(context.Background(), plan, cluster, "")
	if err != nil {
		t.Fatalf("CommitPlan: %v", err)
	}
	if result.Created || result.ExternalID != recID {
		t.Fatalf("result = %+v, want link to %s", result, recID)
	}

	events := client.Events(recID)
	if len(events) != 1 || events[0].Type != "death" {
		t.Errorf("events = %+v, want one death event", events)
	}
	if cluster.ExternalRecordID != recID {
		t.Errorf("cluster external id = %q", cluster.ExternalRecordID)
	}
}

func TestConcurrentCommitsSerializePerIdentity(t *testing.T) {
	client := ssot.NewMemoryClient()
	engine := testEngine(client, &memoryAudit{})

	// Two documents about the same person committed concurrently must not
	// create two records: the second commit waits on the identity lock.
	var wg sync.WaitGroup
	ids := make([]string, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			cluster := model.NewPersonCluster("Harold J. Finch")
			plan := newEntityPlan(cluster, approvedRouted(cluster, model.FactBirthDate, "1952-07-04"))
			result, err := engine.CommitPlan(context.Background(), plan, cluster, "")
			if err != nil {
				t.Errorf("CommitPlan: %v", err)
				return
			}
			ids[i] = result.ExternalID
		}(i)
	}
	wg.Wait()

	if ids[0] == "" || ids[1] == "" {
		t.Fatal("both commits should complete")
	}
	// The second commit re-checks under the identity lock and links to the
	// record the first one created instead of duplicating it.
	if ids[0] != ids[1] {
		t.Errorf("commits created two records: %s and %s", ids[0], ids[1])
	}
}
