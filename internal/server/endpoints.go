package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/henribesnard/novellaforge/internal/export"
	"github.com/henribesnard/novellaforge/internal/pipeline"
)

func (s *Server) endpoints() []Endpoint {
	return []Endpoint{
		&generateEndpoint{s},
		&approveEndpoint{s},
		&exportEndpoint{s},
		&graphEndpoint{s},
		&healthEndpoint{s},
		&readyEndpoint{s},
	}
}

// generateEndpoint runs the chapter pipeline.
type generateEndpoint struct{ s *Server }

func (e *generateEndpoint) Route() (string, string, http.HandlerFunc) {
	return http.MethodPost, "/api/v1/projects/{project_id}/generate", e.handle
}

func (e *generateEndpoint) handle(w http.ResponseWriter, r *http.Request) {
	var req pipeline.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	req.ProjectID = r.PathValue("project_id")

	resp, err := e.s.orchestrator.GenerateChapter(r.Context(), &req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// approveEndpoint promotes a draft chapter.
type approveEndpoint struct{ s *Server }

func (e *approveEndpoint) Route() (string, string, http.HandlerFunc) {
	return http.MethodPost, "/api/v1/chapters/{document_id}/approve", e.handle
}

func (e *approveEndpoint) handle(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UserID string `json:"user_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.UserID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "user_id is required"})
		return
	}

	resp, err := e.s.orchestrator.ApproveChapter(r.Context(), r.PathValue("document_id"), body.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// exportEndpoint streams a zip of the approved chapters.
type exportEndpoint struct{ s *Server }

func (e *exportEndpoint) Route() (string, string, http.HandlerFunc) {
	return http.MethodGet, "/api/v1/projects/{project_id}/export", e.handle
}

func (e *exportEndpoint) handle(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("project_id")

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf(`attachment; filename="%s.zip"`, projectID))

	exp := export.New(e.s.services.Store)
	if _, err := exp.WriteZip(r.Context(), projectID, w); err != nil {
		e.s.logger.Error("export failed", "project_id", projectID, "error", err)
	}
}

// graphEndpoint exports the continuity graph for visualization.
type graphEndpoint struct{ s *Server }

func (e *graphEndpoint) Route() (string, string, http.HandlerFunc) {
	return http.MethodGet, "/api/v1/projects/{project_id}/graph", e.handle
}

func (e *graphEndpoint) handle(w http.ResponseWriter, r *http.Request) {
	exported, err := e.s.services.Graph.ExportGraph(r.Context(), r.PathValue("project_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, exported)
}

// healthEndpoint reports liveness.
type healthEndpoint struct{ s *Server }

func (e *healthEndpoint) Route() (string, string, http.HandlerFunc) {
	return http.MethodGet, "/healthz", e.handle
}

func (e *healthEndpoint) handle(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// readyEndpoint reports readiness: server accepting and store reachable.
type readyEndpoint struct{ s *Server }

func (e *readyEndpoint) Route() (string, string, http.HandlerFunc) {
	return http.MethodGet, "/readyz", e.handle
}

func (e *readyEndpoint) handle(w http.ResponseWriter, r *http.Request) {
	if !e.s.Running() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "starting"})
		return
	}
	if _, err := e.s.services.Store.DB().ExecContext(r.Context(), "SELECT 1"); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "store unavailable",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
