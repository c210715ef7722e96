// Package api exposes the HTTP interface for the discovery service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sitelens/discovery/internal/discovery"
	"github.com/sitelens/discovery/internal/metrics"
)

// JobService submits, retries and reads jobs.
type JobService interface {
	Submit(ctx context.Context, kind discovery.JobKind, siteID string) (discovery.Job, error)
	Retry(ctx context.Context, jobID string) (discovery.Job, error)
	Get(ctx context.Context, jobID string) (discovery.Job, error)
}

// Rollbacker reissues a historical blueprint as the newest version.
type Rollbacker interface {
	Rollback(ctx context.Context, siteID string, toVersion int, actor string) (discovery.Blueprint, error)
}

// Server wires HTTP handlers to the job service and stores.
type Server struct {
	router     chi.Router
	sites      discovery.SiteStore
	blueprints discovery.BlueprintStore
	jobs       JobService
	versioner  Rollbacker
	ids        discovery.IDGenerator
	clock      discovery.Clock
	logger     *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	sites discovery.SiteStore,
	blueprints discovery.BlueprintStore,
	jobs JobService,
	versioner Rollbacker,
	ids discovery.IDGenerator,
	clock discovery.Clock,
	logger *zap.Logger,
) *Server {
	s := &Server{
		sites:      sites,
		blueprints: blueprints,
		jobs:       jobs,
		versioner:  versioner,
		ids:        ids,
		clock:      clock,
		logger:     logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/sites", func(r chi.Router) {
			r.Post("/", s.createSite)
			r.Route("/{site_id}", func(r chi.Router) {
				r.Get("/", s.getSite)
				r.Post("/fingerprint", s.submitJob(discovery.JobKindFingerprint))
				r.Post("/discover", s.submitJob(discovery.JobKindDiscover))
				r.Post("/selectors", s.submitJob(discovery.JobKindSelectorGen))
				r.Route("/blueprint", func(r chi.Router) {
					r.Get("/", s.getLatestBlueprint)
					r.Get("/{version}", s.getBlueprintVersion)
					r.Post("/{version}/rollback", s.rollbackBlueprint)
				})
			})
		})
		r.Route("/jobs", func(r chi.Router) {
			r.Route("/{job_id}", func(r chi.Router) {
				r.Get("/", s.getJob)
				r.Post("/retry", s.retryJob)
			})
		})
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type createSiteRequest struct {
	URL                string  `json:"url"`
	BusinessValueScore float64 `json:"business_value_score"`
	Notes              string  `json:"notes"`
	CreatedBy          string  `json:"created_by"`
}

func (s *Server) createSite(w http.ResponseWriter, r *http.Request) {
	var req createSiteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	normalized, err := discovery.NormalizeURL(req.URL)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid site url")
		return
	}
	if _, err := discovery.Origin(normalized); err != nil {
		writeError(w, http.StatusBadRequest, "site url must include scheme and host")
		return
	}
	id, err := s.ids.NewID()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "generate site id")
		return
	}
	now := s.clock.Now()
	site := discovery.Site{
		ID:                 id,
		Domain:             normalized,
		Status:             discovery.SiteStatusPending,
		BusinessValueScore: req.BusinessValueScore,
		CreatedAt:          now,
		UpdatedAt:          now,
		Notes:              req.Notes,
		CreatedBy:          req.CreatedBy,
	}
	if err := s.sites.CreateSite(r.Context(), site); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, site)
}

func (s *Server) getSite(w http.ResponseWriter, r *http.Request) {
	site, err := s.sites.GetSite(r.Context(), chi.URLParam(r, "site_id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, site)
}

func (s *Server) submitJob(kind discovery.JobKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := s.jobs.Submit(r.Context(), kind, chi.URLParam(r, "site_id"))
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{
			"job_id": job.ID,
			"status": string(job.Status),
		})
	}
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.Get(r.Context(), chi.URLParam(r, "job_id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) retryJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.Retry(r.Context(), chi.URLParam(r, "job_id"))
	if err != nil {
		if errors.Is(err, discovery.ErrNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id":  job.ID,
		"status":  string(job.Status),
		"attempt": job.Attempt,
	})
}

func (s *Server) getLatestBlueprint(w http.ResponseWriter, r *http.Request) {
	bp, err := s.blueprints.Latest(r.Context(), chi.URLParam(r, "site_id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bp)
}

func (s *Server) getBlueprintVersion(w http.ResponseWriter, r *http.Request) {
	version, err := strconv.Atoi(chi.URLParam(r, "version"))
	if err != nil || version < 1 {
		writeError(w, http.StatusBadRequest, "invalid version")
		return
	}
	bp, err := s.blueprints.Get(r.Context(), chi.URLParam(r, "site_id"), version)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bp)
}

type rollbackRequest struct {
	Actor string `json:"actor"`
}

func (s *Server) rollbackBlueprint(w http.ResponseWriter, r *http.Request) {
	version, err := strconv.Atoi(chi.URLParam(r, "version"))
	if err != nil || version < 1 {
		writeError(w, http.StatusBadRequest, "invalid version")
		return
	}
	var req rollbackRequest
	if r.Body != nil {
		// Body is optional; a bare POST rolls back anonymously.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	bp, err := s.versioner.Rollback(r.Context(), chi.URLParam(r, "site_id"), version, req.Actor)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, bp)
}

func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, discovery.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, discovery.ErrConflict):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
