package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"devsync/internal/apperr"
)

// maxBodyBytes caps request bodies. File writes carry whole documents.
const maxBodyBytes = 16 << 20

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("[DEBUG-API] failed to encode response", "error", err)
	}
}

func writeMessage(w http.ResponseWriter, status int, msg, kind string) {
	writeJSON(w, status, errorBody{Error: msg, Kind: kind})
}

// writeError maps err onto its error kind and status code. Server-side
// failures are logged; client errors are not.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperr.HTTPStatus(err)
	if !apperr.IsClientError(err) {
		slog.Warn("[DEBUG-API] request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"error", err)
	}
	writeMessage(w, status, err.Error(), apperr.Kind(err))
}

// decodeJSON reads a single JSON object from the request body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			return fmt.Errorf("request body exceeds %d bytes: %w", maxErr.Limit, apperr.ErrInvalidInput)
		case errors.Is(err, io.EOF):
			return fmt.Errorf("request body is empty: %w", apperr.ErrInvalidInput)
		default:
			return fmt.Errorf("invalid request body: %v: %w", err, apperr.ErrInvalidInput)
		}
	}
	if dec.More() {
		return fmt.Errorf("request body has trailing data: %w", apperr.ErrInvalidInput)
	}
	return nil
}
