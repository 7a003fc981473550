package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/julienschmidt/httprouter"

	"devsync/internal/apperr"
	"devsync/internal/search"
)

type writeFileRequest struct {
	Path    string  `json:"path"`
	Content *string `json:"content"`
}

func (s *Server) handleTree(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	root, err := s.ws.Tree(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, root)
}

func (s *Server) handleReadFile(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	path, err := requiredQuery(r, "path")
	if err != nil {
		writeError(w, r, err)
		return
	}
	content, err := s.ws.ReadFile(r.Context(), path)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, content)
}

func (s *Server) handleWriteFile(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req writeFileRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Path == "" || req.Content == nil {
		writeError(w, r, fmt.Errorf("path and content are required: %w", apperr.ErrInvalidInput))
		return
	}
	if err := s.ws.WriteFile(r.Context(), req.Path, *req.Content); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"path": req.Path})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	q := r.URL.Query()
	query := search.Query{
		Text:  q.Get("q"),
		Globs: splitList(q.Get("globs")),
	}
	if v := q.Get("maxResults"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, r, fmt.Errorf("maxResults %q: %w", v, apperr.ErrInvalidInput))
			return
		}
		query.MaxResults = n
	}
	result, err := s.ws.Search(r.Context(), query)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// requiredQuery returns the named query parameter or an InvalidInput error.
func requiredQuery(r *http.Request, name string) (string, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return "", fmt.Errorf("query parameter %q is required: %w", name, apperr.ErrInvalidInput)
	}
	return v, nil
}
