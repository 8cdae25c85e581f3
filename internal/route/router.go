// Package route decides, per fact, whether a classification is applied
// automatically, queued for human review, or rejected outright.
package route

import (
	"fmt"
	"time"

	"kinforge/internal/model"
)

// Routed is one fact's routing verdict with the decision that carries it.
type Routed struct {
	Fact     *model.Fact               `json:"fact"`
	Decision *model.ResolutionDecision `json:"decision"`
	Route    model.Route               `json:"route"`
	Reason   string                    `json:"reason"`
}

// Plan is the full routing output for one cluster.
type Plan struct {
	ClusterID string         `json:"cluster_id"`
	Category  model.Category `json:"category"`

	// MatchedID is the external record to write against; CreateNew is set
	// for new entities instead.
	MatchedID string `json:"matched_id,omitempty"`
	CreateNew bool   `json:"create_new"`

	Routed []Routed `json:"routed"`
}

// AutoAppliable returns the routed facts eligible for unattended commit.
func (p *Plan) AutoAppliable() []Routed {
	var out []Routed
	for _, r := range p.Routed {
		if r.Route == model.RouteAutoApply {
			out = append(out, r)
		}
	}
	return out
}

// Router applies the routing rules under one run's threshold snapshot.
type Router struct {
	thresholds model.Thresholds
}

// NewRouter creates a router bound to the run's thresholds.
func NewRouter(thresholds model.Thresholds) *Router {
	return &Router{thresholds: thresholds}
}

// Route builds the commit plan for a cluster from its classification. Facts
// touched by a conflict move to the conflicting state with both competing
// values snapshotted on the decision; rejected facts move to rejected.
func (r *Router) Route(cluster *model.PersonCluster, facts []*model.Fact, cls model.Classification) *Plan {
	plan := &Plan{
		ClusterID: cluster.ID,
		Category:  cls.Category,
		MatchedID: cls.MatchedID,
		CreateNew: cls.Category == model.CategoryNewEntity,
	}

	for _, f := range facts {
		plan.Routed = append(plan.Routed, r.routeFact(f, cls))
	}
	return plan
}

func (r *Router) routeFact(f *model.Fact, cls model.Classification) Routed {
	d := model.NewDecision(f.ID, f.ClusterID, actionFor(cls.Category))
	d.Category = cls.Category
	d.ExtractedValue = f.Value

	if conflict, ok := conflictFor(f, cls); ok {
		d.Conflict = true
		d.Severity = conflict.Severity
		d.ExternalValue = conflict.ExternalValue
	}

	route, reason := r.verdict(f, cls)
	d.Reason = reason

	switch route {
	case model.RouteAutoApply:
		// System sign-off; the hard conflict invariant cannot reach here
		// because conflicting categories always route to review.
		d.Approval = model.ApprovalApproved
	case model.RouteReject:
		d.Approval = model.ApprovalRejected
		d.Action = model.ActionReject
		transition(f, model.StatusRejected, reason)
	case model.RouteReviewRequired:
		if d.Conflict {
			transition(f, model.StatusConflicting, reason)
		}
	}

	return Routed{Fact: f, Decision: d, Route: route, Reason: reason}
}

// verdict implements the routing rules. Conflicting updates and ambiguous
// matches go to review unconditionally, regardless of confidence.
func (r *Router) verdict(f *model.Fact, cls model.Classification) (model.Route, string) {
	switch cls.Category {
	case model.CategoryConflictingUpdate:
		return model.RouteReviewRequired, "conflicting update requires human resolution"
	case model.CategoryAmbiguousMatch:
		return model.RouteReviewRequired, "ambiguous candidate ranking requires human resolution"
	}

	auto := r.thresholds.AutoStoreConfidence
	switch cls.Category {
	case model.CategoryNewEntity, model.CategoryNonConflictingAddition:
		if f.Confidence >= auto && !r.thresholds.AlwaysReview {
			return model.RouteAutoApply, fmt.Sprintf("confidence %.2f meets the auto-store threshold %.2f", f.Confidence, auto)
		}
	}

	if f.Confidence < r.thresholds.ReviewConfidence && cls.Candidates == 0 {
		return model.RouteReject, fmt.Sprintf("confidence %.2f below the review threshold with no plausible candidate", f.Confidence)
	}

	if r.thresholds.AlwaysReview {
		return model.RouteReviewRequired, "force-review flag is set"
	}
	return model.RouteReviewRequired, fmt.Sprintf("confidence %.2f requires review", f.Confidence)
}

func actionFor(category model.Category) model.DecisionAction {
	switch category {
	case model.CategoryNewEntity, model.CategoryNonConflictingAddition:
		return model.ActionAdd
	case model.CategoryConflictingUpdate:
		return model.ActionUpdate
	default:
		return model.ActionSkip
	}
}

func conflictFor(f *model.Fact, cls model.Classification) (model.AttributeConflict, bool) {
	for _, c := range cls.Conflicts {
		if c.Attribute == f.Type {
			return c, true
		}
	}
	return model.AttributeConflict{}, false
}

func transition(f *model.Fact, to model.ResolutionStatus, note string) {
	if !model.CanTransition(f.Status, to, false) {
		return
	}
	f.Status = to
	f.StatusNote = note
	f.UpdatedAt = time.Now().UTC()
}
