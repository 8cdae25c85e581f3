package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"kinforge/internal/model"
	"kinforge/internal/resolve"
	"kinforge/internal/ssot"
	"kinforge/internal/store"
)

// reviewItem pairs a fact with its pending decision for the review queue.
type reviewItem struct {
	Fact     *model.Fact               `json:"fact"`
	Decision *model.ResolutionDecision `json:"decision,omitempty"`
}

// handleReviewQueue returns facts awaiting review, least confident first.
func (s *Server) handleReviewQueue(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.fail(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", raw))
			return
		}
		limit = n
	}

	facts, err := s.st.FactsNeedingReview(r.Context(), limit)
	if err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}

	items := make([]reviewItem, 0, len(facts))
	for _, f := range facts {
		item := reviewItem{Fact: f}
		if d, err := s.st.GetDecisionByFact(r.Context(), f.ID); err == nil {
			item.Decision = d
		} else if !errors.Is(err, store.ErrNotFound) {
			s.fail(w, http.StatusInternalServerError, err)
			return
		}
		items = append(items, item)
	}
	s.respond(w, http.StatusOK, items)
}

type approveRequest struct {
	User          string `json:"user"`
	Justification string `json:"justification,omitempty"`

	// Conflict resolution, required when the decision is a conflict.
	Resolution model.ConflictResolution `json:"resolution,omitempty"`
	Value      string                   `json:"value,omitempty"`
}

// handleApprove approves the pending decision for a fact. Conflicting
// decisions additionally need a resolution choice and a user identity.
func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	factID := chi.URLParam(r, "id")
	req, err := decodeBody[approveRequest](r)
	if err != nil {
		s.fail(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}

	d, err := s.st.GetDecisionByFact(r.Context(), factID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.fail(w, http.StatusNotFound, fmt.Errorf("no decision for fact %s", factID))
			return
		}
		s.fail(w, http.StatusInternalServerError, err)
		return
	}

	if d.Conflict {
		if req.Resolution == "" {
			s.fail(w, http.StatusBadRequest, errors.New("conflicting decision requires a resolution choice"))
			return
		}
		if err := d.Resolve(req.Resolution, req.User, req.Value, req.Justification); err != nil {
			s.fail(w, http.StatusUnprocessableEntity, err)
			return
		}
	}
	if err := d.Approve(req.User, req.Justification); err != nil {
		s.fail(w, http.StatusUnprocessableEntity, err)
		return
	}

	if err := s.st.SaveDecision(r.Context(), d); err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}

	entry := model.NewAuditEntry("decision_approved", "decision", d.ID).ByUser(req.User).
		With("fact_id", factID)
	if d.Conflict {
		entry = entry.With("resolution", string(d.Resolution))
	}
	if err := s.st.Append(r.Context(), entry); err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}

	// Approval is not the end of the line: the decision now goes through
	// the commit engine, which writes add/update actions to the record
	// store and resolves the fact either way.
	if _, err := s.committer.ApplyApproved(r.Context(), s.st, d); err != nil {
		s.fail(w, http.StatusBadGateway, fmt.Errorf("apply decision %s: %w", d.ID, err))
		return
	}

	s.respond(w, http.StatusOK, d)
}

type rejectRequest struct {
	User   string `json:"user"`
	Reason string `json:"reason,omitempty"`
}

// handleReject rejects the pending decision for a fact.
func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	factID := chi.URLParam(r, "id")
	req, err := decodeBody[rejectRequest](r)
	if err != nil {
		s.fail(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}

	d, err := s.st.GetDecisionByFact(r.Context(), factID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.fail(w, http.StatusNotFound, fmt.Errorf("no decision for fact %s", factID))
			return
		}
		s.fail(w, http.StatusInternalServerError, err)
		return
	}
	if d.Approval == model.ApprovalCommitted {
		s.fail(w, http.StatusUnprocessableEntity, fmt.Errorf("decision %s is already committed", d.ID))
		return
	}

	d.Approval = model.ApprovalRejected
	d.ApprovedBy = req.User
	d.Reason = req.Reason
	if err := s.st.SaveDecision(r.Context(), d); err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}
	if err := s.st.UpdateFactStatus(r.Context(), factID, model.StatusRejected, req.Reason, true); err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}

	entry := model.NewAuditEntry("decision_rejected", "decision", d.ID).ByUser(req.User).
		With("fact_id", factID).With("reason", req.Reason)
	if err := s.st.Append(r.Context(), entry); err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}

	s.respond(w, http.StatusOK, d)
}

type bulkStatusRequest struct {
	FactIDs []string               `json:"fact_ids"`
	Status  model.ResolutionStatus `json:"status"`
	Note    string                 `json:"note,omitempty"`
	User    string                 `json:"user"`
}

// handleBulkStatus moves a batch of facts to a new status, all or nothing.
func (s *Server) handleBulkStatus(w http.ResponseWriter, r *http.Request) {
	req, err := decodeBody[bulkStatusRequest](r)
	if err != nil {
		s.fail(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	if len(req.FactIDs) == 0 {
		s.fail(w, http.StatusBadRequest, errors.New("fact_ids is empty"))
		return
	}

	if err := s.st.BulkUpdateFactStatus(r.Context(), req.FactIDs, req.Status, req.Note, req.User != ""); err != nil {
		s.fail(w, http.StatusUnprocessableEntity, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]int{"updated": len(req.FactIDs)})
}

type approveAllRequest struct {
	User string `json:"user"`
}

// handleApproveAll approves every pending non-conflicting decision.
// Conflicts always need individual attention and are left untouched.
func (s *Server) handleApproveAll(w http.ResponseWriter, r *http.Request) {
	req, err := decodeBody[approveAllRequest](r)
	if err != nil {
		s.fail(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}

	pending, err := s.st.PendingDecisions(r.Context(), 0)
	if err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}

	approved, skipped := 0, 0
	for _, d := range pending {
		if d.Conflict {
			skipped++
			continue
		}
		if err := d.Approve(req.User, "bulk approval"); err != nil {
			s.fail(w, http.StatusInternalServerError, err)
			return
		}
		if err := s.st.SaveDecision(r.Context(), d); err != nil {
			s.fail(w, http.StatusInternalServerError, err)
			return
		}
		if _, err := s.committer.ApplyApproved(r.Context(), s.st, d); err != nil {
			s.fail(w, http.StatusBadGateway, fmt.Errorf("apply decision %s: %w", d.ID, err))
			return
		}
		approved++
	}

	if approved > 0 {
		entry := model.NewAuditEntry("decisions_bulk_approved", "decision", "batch").ByUser(req.User).
			With("approved", approved).With("conflicts_skipped", skipped)
		if err := s.st.Append(r.Context(), entry); err != nil {
			s.fail(w, http.StatusInternalServerError, err)
			return
		}
	}
	s.respond(w, http.StatusOK, map[string]int{"approved": approved, "conflicts_skipped": skipped})
}

type clusterSyncRequest struct {
	Action   string `json:"action"` // link | create | skip
	RecordID string `json:"record_id,omitempty"`
	User     string `json:"user"`
}

// handleClusterSync resolves an ambiguous or unmatched cluster the way the
// reviewer chose: link it to an existing record, create a fresh record, or
// skip it entirely.
func (s *Server) handleClusterSync(w http.ResponseWriter, r *http.Request) {
	clusterID := chi.URLParam(r, "id")
	req, err := decodeBody[clusterSyncRequest](r)
	if err != nil {
		s.fail(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	if req.User == "" {
		s.fail(w, http.StatusBadRequest, errors.New("cluster sync requires a user identity"))
		return
	}

	cluster, err := s.st.GetCluster(r.Context(), clusterID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.fail(w, http.StatusNotFound, fmt.Errorf("cluster %s not found", clusterID))
			return
		}
		s.fail(w, http.StatusInternalServerError, err)
		return
	}

	switch req.Action {
	case "link":
		if req.RecordID == "" {
			s.fail(w, http.StatusBadRequest, errors.New("link requires record_id"))
			return
		}
		if _, err := s.client.GetRecord(r.Context(), req.RecordID); err != nil {
			s.fail(w, http.StatusUnprocessableEntity, fmt.Errorf("record %s: %w", req.RecordID, err))
			return
		}
		if err := cluster.SetExternalRecord(req.RecordID, true); err != nil {
			s.fail(w, http.StatusUnprocessableEntity, err)
			return
		}
		cluster.Status = model.ClusterResolved

	case "create":
		first, last := resolve.SplitFirstLast(cluster.CanonicalName)
		id, err := s.client.CreatePerson(r.Context(), personAttributes(first, last, cluster))
		if err != nil {
			s.fail(w, http.StatusBadGateway, fmt.Errorf("create person: %w", err))
			return
		}
		if err := cluster.SetExternalRecord(id, true); err != nil {
			s.fail(w, http.StatusUnprocessableEntity, err)
			return
		}
		cluster.Status = model.ClusterResolved

		entry := model.NewAuditEntry("person_created", "record", id).ByUser(req.User).
			With("cluster_id", cluster.ID)
		if err := s.st.Append(r.Context(), entry); err != nil {
			s.fail(w, http.StatusInternalServerError, err)
			return
		}

	case "skip":
		cluster.Status = model.ClusterUnverified

	default:
		s.fail(w, http.StatusBadRequest, fmt.Errorf("unknown sync action %q", req.Action))
		return
	}

	if err := s.st.SaveCluster(r.Context(), cluster); err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}

	entry := model.NewAuditEntry("cluster_sync", "cluster", cluster.ID).ByUser(req.User).
		With("action", req.Action).With("external_record_id", cluster.ExternalRecordID)
	if err := s.st.Append(r.Context(), entry); err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}

	s.respond(w, http.StatusOK, cluster)
}

// personAttributes builds record attributes from what the cluster knows
// about its person.
func personAttributes(first, last string, cluster *model.PersonCluster) ssot.PersonAttributes {
	attrs := ssot.PersonAttributes{GivenName: first, Surname: last}
	for _, v := range cluster.NameVariants {
		if v != cluster.CanonicalName {
			attrs.AlternateNames = append(attrs.AlternateNames, v)
		}
	}
	attrs.AlternateNames = append(attrs.AlternateNames, cluster.Nicknames...)
	attrs.AlternateNames = append(attrs.AlternateNames, cluster.MaidenNames...)
	return attrs
}

// statsResponse combines store counts with extraction spend.
type statsResponse struct {
	Store *store.Stats      `json:"store"`
	Usage *store.UsageStats `json:"extraction"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.st.Stats(r.Context())
	if err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}
	usage, err := s.st.Usage(r.Context())
	if err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}
	s.respond(w, http.StatusOK, statsResponse{Store: stats, Usage: usage})
}

func (s *Server) handleListSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.st.ListSettings(r.Context())
	if err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}
	s.respond(w, http.StatusOK, settings)
}

func (s *Server) handleGetSetting(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if !store.KnownSetting(key) {
		s.fail(w, http.StatusNotFound, fmt.Errorf("unknown setting %q", key))
		return
	}
	value, err := s.st.GetSetting(r.Context(), key)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.respond(w, http.StatusOK, map[string]string{"key": key, "value": "", "source": "default"})
			return
		}
		s.fail(w, http.StatusInternalServerError, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]string{"key": key, "value": value, "source": "override"})
}

type putSettingRequest struct {
	Value string `json:"value"`
	User  string `json:"user,omitempty"`
}

func (s *Server) handlePutSetting(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	req, err := decodeBody[putSettingRequest](r)
	if err != nil {
		s.fail(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}

	if err := s.st.SetSetting(r.Context(), key, req.Value); err != nil {
		s.fail(w, http.StatusUnprocessableEntity, err)
		return
	}

	entry := model.NewAuditEntry("setting_changed", "setting", key).With("value", req.Value)
	if req.User != "" {
		entry = entry.ByUser(req.User)
	}
	if err := s.st.Append(r.Context(), entry); err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]string{"key": key, "value": req.Value})
}
