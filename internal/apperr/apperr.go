// Package apperr defines the error kinds shared by every workspace operation
// and their mapping onto HTTP status codes.
package apperr

import (
	"errors"
	"net/http"
)

var (
	// ErrOutsideWorkspace reports a path that resolves outside the workspace root.
	ErrOutsideWorkspace = errors.New("path is outside the workspace")
	// ErrNotFound reports a resolved path with no corresponding file.
	ErrNotFound = errors.New("not found")
	// ErrInvalidInput reports a malformed request.
	ErrInvalidInput = errors.New("invalid input")
	// ErrRepoUnavailable reports a workspace that is not under version control.
	ErrRepoUnavailable = errors.New("repository unavailable")
	// ErrEmptyCommit reports a commit attempt with nothing staged.
	ErrEmptyCommit = errors.New("nothing staged to commit")
	// ErrInvalidMessage reports an empty commit message.
	ErrInvalidMessage = errors.New("commit message is empty")
	// ErrStaleHunk reports a hunk that no longer matches the current diff.
	ErrStaleHunk = errors.New("hunk no longer matches the current diff")
	// ErrExternalTool reports a failed git or search tool invocation.
	ErrExternalTool = errors.New("external tool failure")
)

type kindInfo struct {
	err    error
	name   string
	status int
}

// Ordered so that the most specific kind wins when an error wraps several.
var kinds = []kindInfo{
	{ErrOutsideWorkspace, "OutsideWorkspace", http.StatusForbidden},
	{ErrInvalidMessage, "InvalidMessage", http.StatusBadRequest},
	{ErrEmptyCommit, "EmptyCommit", http.StatusConflict},
	{ErrStaleHunk, "StaleHunk", http.StatusConflict},
	{ErrInvalidInput, "InvalidInput", http.StatusBadRequest},
	{ErrNotFound, "NotFound", http.StatusNotFound},
	{ErrRepoUnavailable, "RepoUnavailable", http.StatusServiceUnavailable},
	{ErrExternalTool, "ExternalToolFailure", http.StatusBadGateway},
}

// Kind returns the name of the error kind carried by err, or "Internal".
func Kind(err error) string {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	return "Internal"
}

// HTTPStatus maps err onto the status code the API responds with.
func HTTPStatus(err error) int {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.status
		}
	}
	return http.StatusInternalServerError
}

// IsClientError reports whether err is caused by the request rather than the server.
func IsClientError(err error) bool {
	status := HTTPStatus(err)
	return status >= 400 && status < 500
}
