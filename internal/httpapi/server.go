// Package httpapi exposes the review surface: what needs a human, the
// approve/reject verbs, cluster sync, statistics, and runtime settings.
package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"kinforge/internal/commit"
	"kinforge/internal/ssot"
	"kinforge/internal/store"
)

// Server is the HTTP review API. It is a thin layer over the store, the
// record-store client, and the commit engine; resolution semantics live in
// their own packages.
type Server struct {
	st        *store.Store
	client    ssot.Client
	committer *commit.Engine
	log       *slog.Logger
}

// NewServer creates the review API server.
func NewServer(st *store.Store, client ssot.Client, committer *commit.Engine, log *slog.Logger) *Server {
	return &Server{st: st, client: client, committer: committer, log: log}
}

// Routes builds the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Get("/facts/review", s.handleReviewQueue)
		r.Post("/facts/{id}/approve", s.handleApprove)
		r.Post("/facts/{id}/reject", s.handleReject)
		r.Post("/facts/bulk-status", s.handleBulkStatus)

		r.Post("/decisions/approve-all", s.handleApproveAll)

		r.Post("/clusters/{id}/sync", s.handleClusterSync)

		r.Get("/stats", s.handleStats)

		r.Get("/settings", s.handleListSettings)
		r.Get("/settings/{key}", s.handleGetSetting)
		r.Put("/settings/{key}", s.handlePutSetting)
	})

	return r
}

func (s *Server) respond(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		if err := json.NewEncoder(w).Encode(v); err != nil {
			s.log.Error("encoding response", "error", err)
		}
	}
}

func (s *Server) fail(w http.ResponseWriter, status int, err error) {
	if status >= 500 {
		s.log.Error("request failed", "status", status, "error", err)
	}
	s.respond(w, status, map[string]string{"error": err.Error()})
}

func decodeBody[T any](r *http.Request) (T, error) {
	var v T
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	err := dec.Decode(&v)
	return v, err
}
