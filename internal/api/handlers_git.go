package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/julienschmidt/httprouter"

	"devsync/internal/apperr"
)

type pathRequest struct {
	Path string `json:"path"`
}

type commitRequest struct {
	Message string `json:"message"`
}

type hunkRequest struct {
	Path  string `json:"path"`
	Index *int   `json:"index"`
	ID    string `json:"id"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	status, err := s.ws.Status(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	summary, err := s.ws.Summary(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleLog(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, r, fmt.Errorf("limit %q: %w", v, apperr.ErrInvalidInput))
			return
		}
		limit = n
	}
	commits, err := s.ws.Log(r.Context(), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, commits)
}

func (s *Server) handleVersions(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	path, err := requiredQuery(r, "path")
	if err != nil {
		writeError(w, r, err)
		return
	}
	versions, err := s.ws.Versions(r.Context(), path)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, versions)
}

func (s *Server) handleHunks(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	path, err := requiredQuery(r, "path")
	if err != nil {
		writeError(w, r, err)
		return
	}
	staged := false
	if v := r.URL.Query().Get("staged"); v != "" {
		staged, err = strconv.ParseBool(v)
		if err != nil {
			writeError(w, r, fmt.Errorf("staged %q: %w", v, apperr.ErrInvalidInput))
			return
		}
	}
	hunks, err := s.ws.Hunks(r.Context(), path, staged)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, hunks)
}

func (s *Server) handleCommit(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req commitRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	hash, err := s.ws.Commit(r.Context(), req.Message)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"hash": hash})
}

// pathMutation adapts a single-path repository operation to a POST handler
// taking {"path": ...}.
func (s *Server) pathMutation(op func(context.Context, string) error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		var req pathRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		if req.Path == "" {
			writeError(w, r, fmt.Errorf("path is required: %w", apperr.ErrInvalidInput))
			return
		}
		if err := op(r.Context(), req.Path); err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"path": req.Path})
	}
}

func (s *Server) repoMutation(op func(context.Context) error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		if err := op(r.Context()); err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// hunkMutation adapts a hunk operation to a POST handler taking
// {"path", "index", "id"}. The id must match the hunk currently at index.
func (s *Server) hunkMutation(op func(context.Context, string, int, string) error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		var req hunkRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		if req.Path == "" || req.Index == nil || *req.Index < 0 {
			writeError(w, r, fmt.Errorf("path and a non-negative index are required: %w", apperr.ErrInvalidInput))
			return
		}
		if err := op(r.Context(), req.Path, *req.Index, req.ID); err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"path": req.Path, "index": *req.Index})
	}
}
