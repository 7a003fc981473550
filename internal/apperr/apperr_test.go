package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestKindAndHTTPStatus(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantKind   string
		wantStatus int
	}{
		{name: "outside workspace", err: ErrOutsideWorkspace, wantKind: "OutsideWorkspace", wantStatus: http.StatusForbidden},
		{name: "wrapped not found", err: fmt.Errorf("read /a.txt: %w", ErrNotFound), wantKind: "NotFound", wantStatus: http.StatusNotFound},
		{name: "invalid input", err: ErrInvalidInput, wantKind: "InvalidInput", wantStatus: http.StatusBadRequest},
		{name: "repo unavailable", err: ErrRepoUnavailable, wantKind: "RepoUnavailable", wantStatus: http.StatusServiceUnavailable},
		{name: "empty commit", err: ErrEmptyCommit, wantKind: "EmptyCommit", wantStatus: http.StatusConflict},
		{name: "invalid message", err: ErrInvalidMessage, wantKind: "InvalidMessage", wantStatus: http.StatusBadRequest},
		{name: "stale hunk", err: ErrStaleHunk, wantKind: "StaleHunk", wantStatus: http.StatusConflict},
		{name: "external tool", err: fmt.Errorf("git apply: %w", ErrExternalTool), wantKind: "ExternalToolFailure", wantStatus: http.StatusBadGateway},
		{name: "unknown", err: errors.New("boom"), wantKind: "Internal", wantStatus: http.StatusInternalServerError},
		{
			name:       "specific kind wins over external tool",
			err:        errors.Join(ErrExternalTool, ErrStaleHunk),
			wantKind:   "StaleHunk",
			wantStatus: http.StatusConflict,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Kind(tt.err); got != tt.wantKind {
				t.Errorf("Kind() = %q, want %q", got, tt.wantKind)
			}
			if got := HTTPStatus(tt.err); got != tt.wantStatus {
				t.Errorf("HTTPStatus() = %d, want %d", got, tt.wantStatus)
			}
		})
	}
}

func TestIsClientError(t *testing.T) {
	if !IsClientError(ErrOutsideWorkspace) {
		t.Error("ErrOutsideWorkspace should be a client error")
	}
	if IsClientError(ErrExternalTool) {
		t.Error("ErrExternalTool should not be a client error")
	}
	if IsClientError(errors.New("boom")) {
		t.Error("unknown errors should not be client errors")
	}
}
