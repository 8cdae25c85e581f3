package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"kinforge/internal/cache"
	"kinforge/internal/commit"
	"kinforge/internal/conflict"
	"kinforge/internal/extract"
	"kinforge/internal/match"
	"kinforge/internal/model"
	"kinforge/internal/resolve"
	"kinforge/internal/route"
	"kinforge/internal/score"
	"kinforge/internal/ssot"
	"kinforge/internal/store"
)

// Pipeline runs one obituary from URL to committed facts. Every run holds an
// immutable snapshot of config and thresholds; concurrent runs never observe
// each other's tuning.
type Pipeline struct {
	fetcher   *Fetcher
	oracle    extract.Oracle
	scorer    *score.Scorer
	clusterer *resolve.Clusterer
	matcher   *match.Matcher
	detector  *conflict.Detector
	router    *route.Router
	committer *commit.Engine
	store     *store.Store
	cfg       *model.Config
	log       *slog.Logger
}

// New assembles a pipeline. The oracle should already be cache-wrapped; the
// caller owns the store and the SSOT client.
func New(cfg *model.Config, st *store.Store, client ssot.Client, oracle extract.Oracle, log *slog.Logger) *Pipeline {
	var docs cache.Cache
	if cfg.Cache.Enabled {
		docs = cache.NewLayeredCache(cfg.Cache.MemoryTTL, cache.NewDiskCache(cacheDir(cfg.Cache.Dir), cfg.Cache.DocumentTTL()))
	}

	return &Pipeline{
		fetcher:   NewFetcher(cfg.HTTP, docs, cfg.Cache.DocumentTTL()),
		oracle:    oracle,
		scorer:    score.NewScorer(),
		clusterer: resolve.NewClusterer(cfg.Thresholds),
		matcher:   match.NewMatcher(client, cfg.Thresholds),
		detector:  conflict.NewDetector(cfg.Thresholds),
		router:    route.NewRouter(cfg.Thresholds),
		committer: commit.NewEngine(client, st, cfg.Thresholds, log),
		store:     st,
		cfg:       cfg,
		log:       log,
	}
}

// ClusterOutcome summarizes what happened to one person in a run.
type ClusterOutcome struct {
	Cluster  *model.PersonCluster `json:"cluster"`
	Category model.Category       `json:"category"`
	Commit   *commit.Result       `json:"commit,omitempty"`
	Reviews  int                  `json:"reviews"`
	Rejects  int                  `json:"rejects"`
}

// RunResult is the outcome of processing one document.
type RunResult struct {
	Document  *model.Document  `json:"document"`
	Facts     []*model.Fact    `json:"facts"`
	Clusters  []ClusterOutcome `json:"clusters"`
	Cached    bool             `json:"extraction_cached"`
	CostUSD   float64          `json:"cost_usd"`
	Committed int              `json:"committed"`

	// MergeProposals are cross-document merges that could not be applied
	// automatically and need a reviewer.
	MergeProposals []*resolve.MergeProposal `json:"merge_proposals,omitempty"`
}

// ProcessURL runs the full resolution pipeline for one obituary URL. The
// document row is persisted in every case; a returned error means the
// document finished in the failed state.
func (p *Pipeline) ProcessURL(ctx context.Context, rawURL string) (*RunResult, error) {
	if p.cfg.Concurrency.RunCeiling > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.Concurrency.RunCeiling)
		defer cancel()
	}

	doc, err := p.fetcher.Fetch(ctx, rawURL)
	if saveErr := p.store.SaveDocument(ctx, doc); saveErr != nil {
		p.log.Error("saving document", "url", rawURL, "error", saveErr)
	}
	if err != nil {
		return &RunResult{Document: doc}, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	if strings.TrimSpace(doc.ExtractedText) == "" {
		return p.failDocument(ctx, doc, fmt.Errorf("no readable text at %s", rawURL))
	}

	resp, err := p.oracle.Extract(ctx, doc.ExtractedText, p.cfg.Extractor.PromptVersion)
	if err != nil {
		return p.failDocument(ctx, doc, fmt.Errorf("extract: %w", err))
	}

	facts, dropped, err := extract.ParseResponse(doc.ID, resp.Raw)
	if err != nil {
		return p.failDocument(ctx, doc, fmt.Errorf("parse extraction: %w", err))
	}
	for _, d := range dropped {
		p.log.Warn("dropped extracted fact", "document", doc.ID, "reason", d)
	}

	known, err := p.store.ListClusters(ctx, "", 500)
	if err != nil {
		return p.failDocument(ctx, doc, fmt.Errorf("list clusters: %w", err))
	}

	p.scoreFacts(facts, doc, known)
	clusters := p.clusterer.ClusterDocument(facts)
	clusters, proposals, err := p.mergeClusters(ctx, clusters, facts, known)
	if err != nil {
		return p.failDocument(ctx, doc, err)
	}

	// Facts go to disk before anything references them: decisions carry a
	// foreign key to their fact.
	if err := p.store.SaveFacts(ctx, facts); err != nil {
		return p.failDocument(ctx, doc, fmt.Errorf("persist facts: %w", err))
	}

	result := &RunResult{
		Document:       doc,
		Facts:          facts,
		Cached:         resp.Cached,
		CostUSD:        resp.Usage.CostUSD,
		MergeProposals: proposals,
	}

	bySubject := factsByCluster(facts)
	for _, cluster := range clusters {
		outcome, err := p.resolveCluster(ctx, cluster, bySubject[cluster.ID], facts, doc.URL)
		if err != nil {
			return p.failDocument(ctx, doc, err)
		}
		if outcome.Commit != nil {
			result.Committed += len(outcome.Commit.Applied)
		}
		result.Clusters = append(result.Clusters, *outcome)
	}

	// Re-save to capture the status changes the cluster loop made.
	if err := p.store.SaveFacts(ctx, facts); err != nil {
		return p.failDocument(ctx, doc, fmt.Errorf("persist facts: %w", err))
	}

	doc.Status = model.DocumentCompleted
	if err := p.store.UpdateDocumentStatus(ctx, doc.ID, model.DocumentCompleted, ""); err != nil {
		p.log.Error("marking document complete", "document", doc.ID, "error", err)
	}

	p.log.Info("document processed",
		"url", doc.URL,
		"facts", len(facts),
		"clusters", len(clusters),
		"committed", result.Committed,
		"extraction_cached", resp.Cached)
	return result, nil
}

// resolveCluster matches one person cluster against the record store,
// classifies and routes its facts, and commits whatever auto-applies.
func (p *Pipeline) resolveCluster(ctx context.Context, cluster *model.PersonCluster, clusterFacts, allFacts []*model.Fact, sourceURL string) (*ClusterOutcome, error) {
	profile := match.BuildProfile(cluster, clusterFacts)
	matched, err := p.matcher.FindCandidates(ctx, profile)
	if err != nil {
		return nil, fmt.Errorf("match %q: %w", cluster.CanonicalName, err)
	}

	cls := p.detector.Classify(clusterFacts, matched, presumedLiving(cluster, clusterFacts, allFacts))
	plan := p.router.Route(cluster, clusterFacts, cls)

	// A matched record that another stored cluster already claims means this
	// cluster duplicates a known person. Nothing auto-commits until a
	// reviewer merges the two.
	if plan.MatchedID != "" {
		if owner, err := p.store.GetClusterByExternalID(ctx, plan.MatchedID); err == nil && owner.ID != cluster.ID {
			for i := range plan.Routed {
				if plan.Routed[i].Route == model.RouteAutoApply {
					plan.Routed[i].Route = model.RouteReviewRequired
					plan.Routed[i].Decision.Approval = model.ApprovalPending
					plan.Routed[i].Decision.Reason = fmt.Sprintf("record %s is linked to cluster %s", plan.MatchedID, owner.ID)
				}
			}
		}
	}

	outcome := &ClusterOutcome{Cluster: cluster, Category: cls.Category}
	for _, r := range plan.Routed {
		switch r.Route {
		case model.RouteReviewRequired:
			outcome.Reviews++
		case model.RouteReject:
			outcome.Rejects++
		}
		if err := p.store.SaveDecision(ctx, r.Decision); err != nil {
			return nil, fmt.Errorf("persist decision: %w", err)
		}
	}

	if len(plan.AutoAppliable()) > 0 {
		// The run may be cancelled up to this point; CommitPlan takes
		// over cancellation handling once writes start.
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res, err := p.committer.CommitPlan(ctx, plan, cluster, sourceURL)
		if err != nil {
			return nil, fmt.Errorf("commit %q: %w", cluster.CanonicalName, err)
		}
		outcome.Commit = res
		for _, r := range plan.Routed {
			if err := p.store.SaveDecision(ctx, r.Decision); err != nil {
				return nil, fmt.Errorf("persist decision: %w", err)
			}
		}
	}

	if err := p.store.SaveCluster(ctx, cluster); err != nil {
		return nil, fmt.Errorf("persist cluster: %w", err)
	}
	return outcome, nil
}

// mergeClusters folds each of the document's clusters into a stored cluster
// from an earlier document when the proposal is unambiguous and the target
// has not been resolved to an external record. Everything else stays a
// separate cluster with the proposal surfaced for review.
func (p *Pipeline) mergeClusters(ctx context.Context, clusters []*model.PersonCluster, facts []*model.Fact, known []*model.PersonCluster) ([]*model.PersonCluster, []*resolve.MergeProposal, error) {
	if len(known) == 0 {
		return clusters, nil, nil
	}

	knownFacts := make(map[string][]*model.Fact, len(known))
	byID := make(map[string]*model.PersonCluster, len(known))
	for _, c := range known {
		stored, err := p.store.ListFacts(ctx, store.FactFilter{ClusterID: c.ID})
		if err != nil {
			return nil, nil, fmt.Errorf("load cluster facts: %w", err)
		}
		knownFacts[c.ID] = stored
		byID[c.ID] = c
	}

	docFacts := factsByCluster(facts)
	out := make([]*model.PersonCluster, 0, len(clusters))
	var proposals []*resolve.MergeProposal
	for _, cluster := range clusters {
		proposal := p.clusterer.ProposeMerge(cluster, docFacts[cluster.ID], known, knownFacts)
		if proposal == nil {
			out = append(out, cluster)
			continue
		}

		if !proposal.AutoMergeable(p.cfg.Thresholds.FuzzyMatchThreshold) {
			proposals = append(proposals, proposal)
			entry := model.NewAuditEntry("merge_proposed", "cluster", cluster.ID).
				With("target_cluster", proposal.TargetID).
				With("score", proposal.Score).
				With("method", proposal.Method).
				With("ambiguous", proposal.Ambiguous).
				With("requires_approval", proposal.RequiresApproval)
			if err := p.store.Append(ctx, entry); err != nil {
				return nil, nil, fmt.Errorf("audit merge proposal: %w", err)
			}
			p.log.Info("cross-document merge needs review",
				"source", cluster.CanonicalName,
				"target", proposal.TargetID,
				"score", proposal.Score,
				"ambiguous", proposal.Ambiguous)
			out = append(out, cluster)
			continue
		}

		target := byID[proposal.TargetID]
		resolve.Merge(target, cluster)
		for _, f := range docFacts[cluster.ID] {
			f.ClusterID = target.ID
		}
		entry := model.NewAuditEntry("clusters_merged", "cluster", target.ID).
			With("source_cluster", cluster.ID).
			With("score", proposal.Score).
			With("method", proposal.Method)
		if err := p.store.Append(ctx, entry); err != nil {
			return nil, nil, fmt.Errorf("audit merge: %w", err)
		}
		p.log.Info("merged into known person",
			"name", target.CanonicalName,
			"score", proposal.Score,
			"method", proposal.Method)
		out = append(out, target)
	}
	return out, proposals, nil
}

// scoreFacts assigns confidence scores in two passes: independent facts
// first, then relational facts fed the scores of the persons they link.
// Clusters already on disk count as corroborating sources.
func (p *Pipeline) scoreFacts(facts []*model.Fact, doc *model.Document, known []*model.PersonCluster) {
	dc := score.DocumentContext{
		WordCount:            len(strings.Fields(doc.ExtractedText)),
		RelationshipMentions: relationshipMentions(facts),
		Text:                 doc.ExtractedText,
	}

	bySubject := make(map[string][]*model.Fact)
	for _, f := range facts {
		bySubject[f.SubjectName] = append(bySubject[f.SubjectName], f)
	}

	for _, f := range facts {
		if f.Type.IsRelational() {
			continue
		}
		f.Confidence = p.scorer.Score(f, clusterContext(f, bySubject), dc)
	}

	// Average per-subject score over the independent facts just scored.
	subjectScore := make(map[string]float64)
	for subject, group := range bySubject {
		var sum float64
		n := 0
		for _, f := range group {
			if !f.Type.IsRelational() {
				sum += f.Confidence
				n++
			}
		}
		if n > 0 {
			subjectScore[resolve.NormalizeName(subject)] = sum / float64(n)
		}
	}

	knownSources := knownSourceCounts(known)
	for _, f := range facts {
		if !f.Type.IsRelational() {
			continue
		}
		cc := clusterContext(f, bySubject)
		if s, ok := subjectScore[resolve.NormalizeName(f.SubjectName)]; ok {
			cc.LinkedScores = append(cc.LinkedScores, s)
		}
		if s, ok := subjectScore[resolve.NormalizeName(f.RelatedName)]; ok {
			cc.LinkedScores = append(cc.LinkedScores, s)
		}
		cc.Bidirectional = hasReciprocal(f, facts)
		cc.SourceDocuments = 1 + knownSources[resolve.NormalizeName(f.SubjectName)]
		f.Confidence = p.scorer.Score(f, cc, dc)
	}
}

// clusterContext collects what the document says about the fact's subject.
func clusterContext(f *model.Fact, bySubject map[string][]*model.Fact) score.ClusterContext {
	cc := score.ClusterContext{SourceDocuments: 1}
	for _, peer := range bySubject[f.SubjectName] {
		switch peer.Type {
		case model.FactBirthDate:
			cc.BirthDate = peer.Value
		case model.FactDeathDate:
			cc.DeathDate = peer.Value
		case model.FactDeathAge:
			cc.DeathAge = peer.Value
		case model.FactLocationBirth:
			cc.HasBirthLocation = true
		case model.FactLocationDeath:
			cc.HasDeathLocation = true
		case model.FactLocationResidence:
			cc.HasResidenceLocation = true
		}
	}
	return cc
}

// hasReciprocal reports whether the document also states the relationship
// from the other person's side.
func hasReciprocal(f *model.Fact, facts []*model.Fact) bool {
	subject := resolve.NormalizeName(f.SubjectName)
	related := resolve.NormalizeName(f.RelatedName)
	if related == "" {
		return false
	}
	for _, g := range facts {
		if g == f || !g.Type.IsRelational() {
			continue
		}
		if resolve.NormalizeName(g.SubjectName) == related &&
			resolve.NormalizeName(g.RelatedName) == subject {
			return true
		}
	}
	return false
}

// knownSourceCounts maps each stored person's normalized canonical name to
// how many documents already attested them.
func knownSourceCounts(known []*model.PersonCluster) map[string]int {
	m := make(map[string]int, len(known))
	for _, c := range known {
		key := resolve.NormalizeName(c.CanonicalName)
		if c.SourceCount > m[key] {
			m[key] = c.SourceCount
		}
	}
	return m
}

func (p *Pipeline) failDocument(ctx context.Context, doc *model.Document, err error) (*RunResult, error) {
	doc.Status = model.DocumentFailed
	doc.FetchError = err.Error()
	if updErr := p.store.UpdateDocumentStatus(ctx, doc.ID, model.DocumentFailed, err.Error()); updErr != nil {
		p.log.Error("marking document failed", "document", doc.ID, "error", updErr)
	}
	return &RunResult{Document: doc}, err
}

// presumedLiving reports whether the cluster's subject should be treated as
// alive: no death evidence of their own, and they appear in the document
// only as someone's survivor.
func presumedLiving(cluster *model.PersonCluster, clusterFacts, allFacts []*model.Fact) bool {
	for _, f := range clusterFacts {
		if f.SubjectRole == model.RoleDeceasedPrimary {
			return false
		}
		switch f.Type {
		case model.FactDeathDate, model.FactDeathAge, model.FactLocationDeath, model.FactPrecededInDeath:
			return false
		}
	}

	subject := resolve.NormalizeName(cluster.CanonicalName)
	for _, f := range allFacts {
		if f.Type == model.FactSurvivedBy && resolve.NormalizeName(f.RelatedName) == subject {
			return true
		}
	}
	return false
}

func relationshipMentions(facts []*model.Fact) int {
	n := 0
	for _, f := range facts {
		if f.Type.IsRelational() {
			n++
		}
	}
	return n
}

func factsByCluster(facts []*model.Fact) map[string][]*model.Fact {
	m := make(map[string][]*model.Fact)
	for _, f := range facts {
		m[f.ClusterID] = append(m[f.ClusterID], f)
	}
	return m
}

func cacheDir(configured string) string {
	if configured != "" {
		return configured
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".kinforge-cache"
	}
	return filepath.Join(home, ".kinforge", "cache")
}
