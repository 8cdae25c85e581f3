// Package commit applies approved resolution decisions to the external
// record store as one logical transaction per cluster.
package commit

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"kinforge/internal/model"
	"kinforge/internal/resolve"
	"kinforge/internal/route"
	"kinforge/internal/ssot"
)

// IntegrityViolation reports an attempt to commit something the state
// machine forbids, such as an unapproved conflict.
type IntegrityViolation struct {
	Reason string
	Err    error
}

func (e *IntegrityViolation) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("integrity violation: %s: %v", e.Reason, e.Err)
	}
	return "integrity violation: " + e.Reason
}

func (e *IntegrityViolation) Unwrap() error { return e.Err }

// PermanentFailure is a commit that exhausted its retries. Applied steps
// are listed so an operator can reconcile; nothing is deleted to undo them.
type PermanentFailure struct {
	Op       string
	Attempts int
	Applied  []string
	Err      error
}

func (e *PermanentFailure) Error() string {
	return fmt.Sprintf("commit permanently failed at %s after %d attempts (applied: %s): %v",
		e.Op, e.Attempts, strings.Join(e.Applied, ", "), e.Err)
}

func (e *PermanentFailure) Unwrap() error { return e.Err }

// AuditSink receives the append-only audit trail. Every external mutation
// produces exactly one entry.
type AuditSink interface {
	Append(ctx context.Context, entry *model.AuditEntry) error
}

// Result reports what a commit applied.
type Result struct {
	ExternalID string   `json:"external_id"`
	Created    bool     `json:"created"`
	Applied    []string `json:"applied"`
	Skipped    int      `json:"skipped"`
}

// Engine serializes and applies commits against the record store.
type Engine struct {
	client     ssot.Client
	audit      AuditSink
	thresholds model.Thresholds
	log        *slog.Logger
	backoff    time.Duration

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewEngine creates a commit engine.
func NewEngine(client ssot.Client, audit AuditSink, thresholds model.Thresholds, log *slog.Logger) *Engine {
	return &Engine{
		client:     client,
		audit:      audit,
		thresholds: thresholds,
		log:        log,
		backoff:    time.Second,
		locks:      map[string]*sync.Mutex{},
	}
}

// lockFor returns the per-identity mutex. Matched records lock on their
// external id; about-to-be-created records lock on the normalized canonical
// name, so two concurrent documents about the same person cannot both
// create them.
func (e *Engine) lockFor(plan *route.Plan, cluster *model.PersonCluster) *sync.Mutex {
	key := plan.MatchedID
	if key == "" {
		key = "new:" + resolve.NormalizeName(cluster.CanonicalName)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.locks[key] == nil {
		e.locks[key] = &sync.Mutex{}
	}
	return e.locks[key]
}

// CommitPlan applies every approved decision in the plan. Pending and
// rejected decisions are skipped, never dropped: they stay in their state
// for the review queue. The external writes plus the local state
// advancement form one logical transaction; local state only moves after
// every external step has succeeded.
func (e *Engine) CommitPlan(ctx context.Context, plan *route.Plan, cluster *model.PersonCluster, sourceURL string) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var committable []route.Routed
	skipped := 0
	for _, r := range plan.Routed {
		if r.Decision.Approval != model.ApprovalApproved {
			skipped++
			continue
		}
		if err := r.Decision.CheckCommittable(); err != nil {
			return nil, &IntegrityViolation{Reason: "decision not committable", Err: err}
		}
		committable = append(committable, r)
	}
	if len(committable) == 0 {
		return &Result{ExternalID: plan.MatchedID, Skipped: skipped}, nil
	}

	lock := e.lockFor(plan, cluster)
	lock.Lock()
	defer lock.Unlock()

	// Once the transaction starts it runs to completion; cancelling the
	// surrounding pipeline run must not abandon it mid-flight.
	ctx = context.WithoutCancel(ctx)

	result := &Result{Skipped: skipped}
	tx := &transaction{engine: e, ctx: ctx, result: result}

	externalID := plan.MatchedID
	if plan.CreateNew && externalID == "" {
		// Re-check under the identity lock: a concurrent commit for the
		// same person may have created the record while we waited.
		if existing, err := tx.findExisting(cluster); err != nil {
			return nil, err
		} else if existing != "" {
			externalID = existing
		} else {
			id, err := tx.createPerson(cluster, committable)
			if err != nil {
				return nil, err
			}
			externalID = id
			result.Created = true
		}
	}
	result.ExternalID = externalID

	for _, r := range committable {
		if err := tx.applyFact(externalID, r); err != nil {
			return nil, err
		}
	}

	if sourceURL != "" {
		if err := tx.addCitation(externalID, sourceURL, cluster); err != nil {
			return nil, err
		}
	}

	// External writes all succeeded; advance local state atomically from
	// the caller's perspective.
	now := time.Now().UTC()
	for _, r := range committable {
		r.Decision.Approval = model.ApprovalCommitted
		r.Decision.UpdatedAt = now
		userAction := r.Decision.ApprovedBy != ""
		if model.CanTransition(r.Fact.Status, model.StatusResolved, userAction) {
			r.Fact.Status = model.StatusResolved
			r.Fact.UpdatedAt = now
		}
		r.Fact.ExternalRecordID = externalID
	}
	if err := cluster.SetExternalRecord(externalID, false); err != nil {
		return nil, &IntegrityViolation{Reason: "cluster identity is frozen", Err: err}
	}
	cluster.Status = model.ClusterResolved
	cluster.UpdatedAt = now

	e.log.Info("commit applied",
		"cluster", cluster.ID,
		"external_id", externalID,
		"created", result.Created,
		"steps", len(result.Applied),
		"skipped", skipped)
	return result, nil
}

// ReviewStore is the slice of local persistence the review surfaces need to
// push an approved decision through the engine.
type ReviewStore interface {
	AuditSink
	GetFact(ctx context.Context, id string) (*model.Fact, error)
	GetCluster(ctx context.Context, id string) (*model.PersonCluster, error)
	GetDocument(ctx context.Context, id string) (*model.Document, error)
	SaveDecision(ctx context.Context, d *model.ResolutionDecision) error
	SaveFacts(ctx context.Context, facts []*model.Fact) error
	SaveCluster(ctx context.Context, c *model.PersonCluster) error
}

// ApplyApproved carries a decision approved in review to completion: add and
// update actions are written to the record store and end committed; skip and
// keep-external choices write nothing externally and only resolve the fact
// locally. The advanced decision, fact, and cluster states are persisted
// before returning.
func (e *Engine) ApplyApproved(ctx context.Context, st ReviewStore, d *model.ResolutionDecision) (*Result, error) {
	if err := d.CheckCommittable(); err != nil {
		return nil, &IntegrityViolation{Reason: "decision not committable", Err: err}
	}

	f, err := st.GetFact(ctx, d.FactID)
	if err != nil {
		return nil, fmt.Errorf("load fact %s: %w", d.FactID, err)
	}

	now := time.Now().UTC()
	if d.Action != model.ActionAdd && d.Action != model.ActionUpdate {
		if model.CanTransition(f.Status, model.StatusResolved, d.ApprovedBy != "") {
			f.Status = model.StatusResolved
			f.UpdatedAt = now
		}
		if err := st.SaveFacts(ctx, []*model.Fact{f}); err != nil {
			return nil, fmt.Errorf("persist fact: %w", err)
		}
		return &Result{Skipped: 1}, nil
	}

	if d.ClusterID == "" {
		return nil, &IntegrityViolation{Reason: fmt.Sprintf("decision %s has no cluster", d.ID)}
	}
	cluster, err := st.GetCluster(ctx, d.ClusterID)
	if err != nil {
		return nil, fmt.Errorf("load cluster %s: %w", d.ClusterID, err)
	}

	sourceURL := ""
	if f.DocumentID != "" {
		if doc, err := st.GetDocument(ctx, f.DocumentID); err == nil {
			sourceURL = doc.URL
		}
	}

	plan := &route.Plan{
		ClusterID: cluster.ID,
		Category:  d.Category,
		MatchedID: cluster.ExternalRecordID,
		CreateNew: cluster.ExternalRecordID == "",
		Routed:    []route.Routed{{Fact: f, Decision: d, Route: model.RouteAutoApply}},
	}
	result, err := e.CommitPlan(ctx, plan, cluster, sourceURL)
	if err != nil {
		return nil, err
	}

	if err := st.SaveDecision(ctx, d); err != nil {
		return nil, fmt.Errorf("persist decision: %w", err)
	}
	if err := st.SaveFacts(ctx, []*model.Fact{f}); err != nil {
		return nil, fmt.Errorf("persist fact: %w", err)
	}
	if err := st.SaveCluster(ctx, cluster); err != nil {
		return nil, fmt.Errorf("persist cluster: %w", err)
	}
	return result, nil
}

// transaction tracks one commit's applied steps for failure reporting.
type transaction struct {
	engine *Engine
	ctx    context.Context
	result *Result
}

// findExisting looks for a record already carrying the cluster's exact
// normalized name. Called only under the identity lock.
func (t *transaction) findExisting(cluster *model.PersonCluster) (string, error) {
	var candidates []ssot.Record
	err := t.engine.withRetry(t.ctx, "search_existing", func() error {
		var err error
		candidates, err = t.engine.client.Search(t.ctx, cluster.CanonicalName, nil, "")
		return err
	}, t.result.Applied)
	if err != nil {
		return "", err
	}
	want := resolve.NormalizeName(cluster.CanonicalName)
	for _, rec := range candidates {
		if resolve.NormalizeName(rec.Attributes.FullName()) == want {
			return rec.ID, nil
		}
	}
	return "", nil
}

func (t *transaction) createPerson(cluster *model.PersonCluster, routed []route.Routed) (string, error) {
	attrs := buildAttributes(cluster, routed)

	var id string
	err := t.engine.withRetry(t.ctx, "create_person", func() error {
		var err error
		id, err = t.engine.client.CreatePerson(t.ctx, attrs)
		return err
	}, t.result.Applied)
	if err != nil {
		return "", err
	}

	t.result.Applied = append(t.result.Applied, "create_person:"+id)
	entry := model.NewAuditEntry("create_person", "cluster", cluster.ID).
		With("name", attrs.FullName())
	entry.ExternalRecordID = id
	if err := t.engine.audit.Append(t.ctx, entry); err != nil {
		return "", fmt.Errorf("audit create_person: %w", err)
	}
	return id, nil
}

func (t *transaction) applyFact(externalID string, r route.Routed) error {
	f := r.Fact
	value := r.Decision.CommitValue()

	var op string
	var call func() error

	switch f.Type {
	case model.FactBirthDate:
		op = "add_event:birth"
		call = func() error {
			return t.engine.client.AddEvent(t.ctx, externalID, ssot.Event{Type: "birth", Date: value})
		}
	case model.FactDeathDate:
		op = "add_event:death"
		call = func() error {
			return t.engine.client.AddEvent(t.ctx, externalID, ssot.Event{Type: "death", Date: value})
		}
	case model.FactMarriage:
		op = "add_event:marriage"
		call = func() error {
			return t.engine.client.AddEvent(t.ctx, externalID, ssot.Event{Type: "marriage", Date: value})
		}
	case model.FactNickname, model.FactMaidenName:
		op = "add_attribute:alternate_name"
		call = func() error {
			return t.engine.client.AddAttribute(t.ctx, externalID, "alternate_name", value)
		}
	case model.FactGender:
		op = "add_attribute:gender"
		call = func() error {
			return t.engine.client.AddAttribute(t.ctx, externalID, "gender", value)
		}
	case model.FactLocationBirth:
		op = "add_attribute:birth_place"
		call = func() error {
			return t.engine.client.AddAttribute(t.ctx, externalID, "birth_place", value)
		}
	case model.FactLocationDeath:
		op = "add_attribute:death_place"
		call = func() error {
			return t.engine.client.AddAttribute(t.ctx, externalID, "death_place", value)
		}
	case model.FactLocationResidence:
		op = "add_attribute:residence_place"
		call = func() error {
			return t.engine.client.AddAttribute(t.ctx, externalID, "residence_place", value)
		}
	case model.FactRelationship, model.FactSurvivedBy, model.FactPrecededInDeath:
		return t.applyRelationship(externalID, r)
	default:
		// Names carry through the created record or its alternates; ages
		// and other contextual facts are evidence, not record attributes.
		return nil
	}

	if err := t.engine.withRetry(t.ctx, op, call, t.result.Applied); err != nil {
		return err
	}
	t.result.Applied = append(t.result.Applied, op)

	entry := model.NewAuditEntry(op, "fact", f.ID).With("value", value)
	entry.ExternalRecordID = externalID
	if r.Decision.ApprovedBy != "" {
		entry.ByUser(r.Decision.ApprovedBy)
	}
	return t.engine.audit.Append(t.ctx, entry)
}

// applyRelationship links the record to the related person when the store
// resolves that person unambiguously; otherwise the tie is preserved as an
// attribute rather than guessing an edge endpoint.
func (t *transaction) applyRelationship(externalID string, r route.Routed) error {
	f := r.Fact
	relType := f.RelationshipType
	if relType == "" {
		relType = "related"
	}

	var candidates []ssot.Record
	err := t.engine.withRetry(t.ctx, "search_related", func() error {
		var err error
		candidates, err = t.engine.client.Search(t.ctx, f.RelatedName, nil, "")
		return err
	}, t.result.Applied)
	if err != nil {
		return err
	}

	var op string
	if len(candidates) == 1 {
		relatedID := candidates[0].ID
		op = "create_relationship:" + relType
		err = t.engine.withRetry(t.ctx, op, func() error {
			return t.engine.client.CreateRelationship(t.ctx, externalID, relatedID, relType)
		}, t.result.Applied)
	} else {
		op = "add_attribute:relationship_note"
		note := fmt.Sprintf("%s: %s", relType, f.RelatedName)
		err = t.engine.withRetry(t.ctx, op, func() error {
			return t.engine.client.AddAttribute(t.ctx, externalID, "relationship_note", note)
		}, t.result.Applied)
	}
	if err != nil {
		return err
	}
	t.result.Applied = append(t.result.Applied, op)

	entry := model.NewAuditEntry(op, "fact", f.ID).
		With("related_name", f.RelatedName).
		With("relationship_type", relType)
	entry.ExternalRecordID = externalID
	if r.Decision.ApprovedBy != "" {
		entry.ByUser(r.Decision.ApprovedBy)
	}
	return t.engine.audit.Append(t.ctx, entry)
}

func (t *transaction) addCitation(externalID, sourceURL string, cluster *model.PersonCluster) error {
	citation := ssot.Citation{
		SourceURL:  sourceURL,
		SourceName: "obituary",
		Confidence: fmt.Sprintf("%.2f", cluster.Confidence),
	}

	var citationID string
	err := t.engine.withRetry(t.ctx, "add_citation", func() error {
		var err error
		citationID, err = t.engine.client.AddCitation(t.ctx, externalID, citation)
		return err
	}, t.result.Applied)
	if err != nil {
		return err
	}
	t.result.Applied = append(t.result.Applied, "add_citation:"+citationID)

	entry := model.NewAuditEntry("add_citation", "cluster", cluster.ID).
		With("source_url", sourceURL)
	entry.ExternalRecordID = externalID
	return t.engine.audit.Append(t.ctx, entry)
}

// withRetry retries transient store failures with exponential backoff up to
// the configured attempt bound, then returns a permanent failure carrying
// the steps already applied.
func (e *Engine) withRetry(ctx context.Context, op string, fn func() error, applied []string) error {
	max := e.thresholds.MaxRetryAttempts
	if max < 1 {
		max = 1
	}

	backoff := e.backoff
	var lastErr error
	for attempt := 1; attempt <= max; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !ssot.IsUnavailable(lastErr) {
			return fmt.Errorf("%s: %w", op, lastErr)
		}
		if attempt == max {
			break
		}
		e.log.Warn("record store unavailable, backing off",
			"op", op, "attempt", attempt, "backoff", backoff)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff *= 2
	}
	return &PermanentFailure{Op: op, Attempts: max, Applied: applied, Err: lastErr}
}

// buildAttributes assembles the creation payload for a new person from the
// cluster and its committable facts.
func buildAttributes(cluster *model.PersonCluster, routed []route.Routed) ssot.PersonAttributes {
	given, surname := resolve.SplitFirstLast(cluster.CanonicalName)
	attrs := ssot.PersonAttributes{GivenName: given, Surname: surname}

	for _, v := range cluster.NameVariants {
		if v != cluster.CanonicalName {
			attrs.AlternateNames = append(attrs.AlternateNames, v)
		}
	}

	for _, r := range routed {
		value := r.Decision.CommitValue()
		switch r.Fact.Type {
		case model.FactGender:
			attrs.Gender = value
		case model.FactBirthDate:
			attrs.BirthDate = value
		case model.FactDeathDate:
			attrs.DeathDate = value
			attrs.Deceased = true
		case model.FactLocationBirth:
			attrs.BirthPlace = value
		case model.FactLocationDeath:
			attrs.DeathPlace = value
		case model.FactLocationResidence:
			attrs.ResidencePlace = value
		}
	}
	for _, r := range routed {
		if r.Fact.SubjectRole == model.RoleDeceasedPrimary {
			attrs.Deceased = true
			break
		}
	}
	return attrs
}
