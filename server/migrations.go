package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/c360studio/modernizer/migration"
	"github.com/c360studio/modernizer/report"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

type startRequest struct {
	ProjectPath   string `json:"project_path"`
	ProjectKind   string `json:"project_kind"`
	MaxRetries    *int   `json:"max_retries,omitempty"`
	SourceBranch  string `json:"source_branch,omitempty"`
	CodeHostToken string `json:"code_host_token,omitempty"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	if req.ProjectPath == "" {
		s.writeError(w, http.StatusBadRequest, "project_path is required")
		return
	}
	if !filepath.IsAbs(req.ProjectPath) {
		s.writeError(w, http.StatusBadRequest, "project_path must be absolute")
		return
	}
	kind := migration.ParseProjectKind(req.ProjectKind)
	if kind == "" {
		s.writeError(w, http.StatusBadRequest,
			fmt.Sprintf("unsupported project_kind %q (want nodejs or python)", req.ProjectKind))
		return
	}

	retries := s.opts.DefaultRetries
	if req.MaxRetries != nil {
		if *req.MaxRetries < 0 {
			s.writeError(w, http.StatusBadRequest, "max_retries must not be negative")
			return
		}
		retries = *req.MaxRetries
	}

	st := migration.NewState(uuid.NewString(), req.ProjectPath, kind, req.SourceBranch, retries)
	st.CodeHostToken = s.opts.CodeHostToken
	if req.CodeHostToken != "" {
		st.CodeHostToken = req.CodeHostToken
	}

	s.opts.Registry.Put(st)
	if !s.opts.Pool.Submit(st.ID, s.instrumented(st)) {
		_ = s.opts.Registry.Delete(st.ID)
		s.writeError(w, http.StatusServiceUnavailable, "job queue full")
		return
	}
	s.opts.Metrics.MigrationStarted()
	s.logger.Info("migration accepted",
		"migration_id", st.ID, "project", st.ProjectPath, "kind", st.ProjectKind)

	s.writeJSON(w, http.StatusAccepted, map[string]string{
		"migration_id": st.ID,
		"status":       "accepted",
	})
}

// instrumented wraps the engine job with terminal-status metrics.
func (s *Server) instrumented(st *migration.State) func(ctx context.Context) {
	run := s.opts.Runner.Job(st)
	started := time.Now()
	return func(ctx context.Context) {
		run(ctx)
		if final, ok := s.opts.Registry.Get(st.ID); ok {
			s.opts.Metrics.MigrationFinished(string(final.Status), final.RetryCount, time.Since(started))
		}
	}
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", defaultPageSize)
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	offset := queryInt(r, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	items, total := s.opts.Registry.List(limit, offset)
	s.writeJSON(w, http.StatusOK, map[string]any{
		"items":  items,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	st, ok := s.opts.Registry.Get(id)
	if !ok {
		s.writeError(w, http.StatusNotFound, "migration not found")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"migration": st,
		"reports": map[string]string{
			"json":     reportLink(id, report.TypeJSON),
			"markdown": reportLink(id, report.TypeMarkdown),
			"html":     reportLink(id, report.TypeHTML),
		},
	})
}

func reportLink(id string, typ report.Type) string {
	return fmt.Sprintf("/api/migrations/%s/report?type=%s", id, typ)
}

func (s *Server) renderReport(w http.ResponseWriter, r *http.Request) (*migration.State, report.Type, []byte, bool) {
	typ, err := report.ParseType(r.URL.Query().Get("type"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return nil, "", nil, false
	}
	st, ok := s.opts.Registry.Get(chi.URLParam(r, "id"))
	if !ok {
		s.writeError(w, http.StatusNotFound, "migration not found")
		return nil, "", nil, false
	}
	data, err := report.Render(st, typ)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "report rendering failed")
		return nil, "", nil, false
	}
	return st, typ, data, true
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	st, typ, data, ok := s.renderReport(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", typ.ContentType())
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", typ.FileName(st.ID)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handleReportContent(w http.ResponseWriter, r *http.Request) {
	st, typ, data, ok := s.renderReport(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"migration_id": st.ID,
		"type":         string(typ),
		"content":      string(data),
	})
}

// handleDelete removes a terminal job's record. On a running job it
// requests cancellation instead; the job then terminates with reason
// cancelled and can be deleted afterwards.
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	st, ok := s.opts.Registry.Get(id)
	if !ok {
		s.writeError(w, http.StatusNotFound, "migration not found")
		return
	}

	if !st.Status.Terminal() {
		if s.opts.Pool.Cancel(id) {
			s.logger.Info("cancellation requested", "migration_id", id, "status", st.Status)
			s.writeJSON(w, http.StatusAccepted, map[string]string{
				"migration_id": id,
				"status":       "cancelling",
			})
			return
		}
		s.writeError(w, http.StatusConflict, "migration is queued but not running; retry shortly")
		return
	}

	if err := s.opts.Registry.Delete(id); err != nil {
		s.writeError(w, http.StatusConflict, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	dockerOK := false
	if s.opts.DockerPing != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		dockerOK = s.opts.DockerPing(ctx) == nil
	}

	status := "ok"
	if !dockerOK {
		status = "degraded"
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":               status,
		"docker_ok":            dockerOK,
		"providers_configured": s.opts.ProvidersConfigured,
		"active_jobs":          s.opts.Registry.ActiveCount(),
	})
}

func queryInt(r *http.Request, key string, fallback int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
