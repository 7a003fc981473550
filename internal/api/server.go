// Package api exposes the workspace engine over HTTP/JSON and mounts the
// WebSocket event endpoint.
package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/julienschmidt/httprouter"

	"devsync/internal/git"
	"devsync/internal/metrics"
	"devsync/internal/search"
	"devsync/internal/tree"
	"devsync/internal/workspace"
)

// Workspace is the engine surface the API serves.
type Workspace interface {
	Tree(ctx context.Context) (*tree.FileNode, error)
	ReadFile(ctx context.Context, virtualPath string) (workspace.FileContent, error)
	WriteFile(ctx context.Context, virtualPath, content string) error
	Search(ctx context.Context, q search.Query) (search.Result, error)

	Status(ctx context.Context) (git.Status, error)
	Summary(ctx context.Context) (git.Summary, error)
	Log(ctx context.Context, limit int) ([]git.Commit, error)
	Versions(ctx context.Context, virtualPath string) (git.FileVersions, error)
	Hunks(ctx context.Context, virtualPath string, staged bool) (git.FileHunks, error)

	Stage(ctx context.Context, virtualPath string) error
	Unstage(ctx context.Context, virtualPath string) error
	Discard(ctx context.Context, virtualPath string) error
	StageAll(ctx context.Context) error
	UnstageAll(ctx context.Context) error
	DiscardAll(ctx context.Context) error
	Commit(ctx context.Context, message string) (string, error)

	StageHunk(ctx context.Context, virtualPath string, index int, id string) error
	UnstageHunk(ctx context.Context, virtualPath string, index int, id string) error
	DiscardHunk(ctx context.Context, virtualPath string, index int, id string) error

	// Subscribers reports live change-event consumers for the health check.
	Subscribers() int
}

// Options configures a Server.
type Options struct {
	Workspace Workspace
	// Events serves GET /ws. Nil disables the route.
	Events http.Handler
	// AllowedOrigins are echoed in CORS responses. "*" allows any origin.
	AllowedOrigins []string
	// Metrics mounts GET /metrics.
	Metrics bool
}

// Server routes API requests to the workspace engine.
type Server struct {
	ws      Workspace
	router  *httprouter.Router
	cors    corsPolicy
	handler http.Handler
}

// New builds the router for opts.
func New(opts Options) *Server {
	s := &Server{
		ws:     opts.Workspace,
		router: httprouter.New(),
		cors:   newCORSPolicy(opts.AllowedOrigins),
	}
	s.router.NotFound = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeMessage(w, http.StatusNotFound, "route not found", "NotFound")
	})
	s.router.MethodNotAllowed = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeMessage(w, http.StatusMethodNotAllowed, "method not allowed", "InvalidInput")
	})
	s.router.PanicHandler = handlePanic

	s.setupRoutes()
	if opts.Events != nil {
		s.router.Handler(http.MethodGet, "/ws", opts.Events)
	}
	if opts.Metrics {
		s.router.Handler(http.MethodGet, "/metrics", metrics.Handler())
	}
	s.handler = s.withCORS(s.router)
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	s.handle(http.MethodGet, "/api/health", s.handleHealth)

	// Filesystem
	s.handle(http.MethodGet, "/api/fs/tree", s.handleTree)
	s.handle(http.MethodGet, "/api/fs/file", s.handleReadFile)
	s.handle(http.MethodPut, "/api/fs/file", s.handleWriteFile)
	s.handle(http.MethodGet, "/api/search", s.handleSearch)

	// Repository queries
	s.handle(http.MethodGet, "/api/git/status", s.handleStatus)
	s.handle(http.MethodGet, "/api/git/summary", s.handleSummary)
	s.handle(http.MethodGet, "/api/git/log", s.handleLog)
	s.handle(http.MethodGet, "/api/git/file-versions", s.handleVersions)
	s.handle(http.MethodGet, "/api/git/hunks", s.handleHunks)

	// Repository mutations
	s.handle(http.MethodPost, "/api/git/stage", s.pathMutation(s.ws.Stage))
	s.handle(http.MethodPost, "/api/git/unstage", s.pathMutation(s.ws.Unstage))
	s.handle(http.MethodPost, "/api/git/discard", s.pathMutation(s.ws.Discard))
	s.handle(http.MethodPost, "/api/git/stage-all", s.repoMutation(s.ws.StageAll))
	s.handle(http.MethodPost, "/api/git/unstage-all", s.repoMutation(s.ws.UnstageAll))
	s.handle(http.MethodPost, "/api/git/discard-all", s.repoMutation(s.ws.DiscardAll))
	s.handle(http.MethodPost, "/api/git/commit", s.handleCommit)
	s.handle(http.MethodPost, "/api/git/hunk/stage", s.hunkMutation(s.ws.StageHunk))
	s.handle(http.MethodPost, "/api/git/hunk/unstage", s.hunkMutation(s.ws.UnstageHunk))
	s.handle(http.MethodPost, "/api/git/hunk/discard", s.hunkMutation(s.ws.DiscardHunk))
}

// handle registers h with request logging and metrics labelled by route.
func (s *Server) handle(method, route string, h httprouter.Handle) {
	s.router.Handle(method, route, instrument(route, h))
}

type healthResponse struct {
	Status      string `json:"status"`
	Subscribers int    `json:"subscribers"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Subscribers: s.ws.Subscribers()})
}

// splitList splits a comma-separated query value, dropping blanks.
func splitList(v string) []string {
	var out []string
	for part := range strings.SplitSeq(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
