package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	"devsync/internal/git"
	"devsync/internal/search"
	"devsync/internal/testutil"
	"devsync/internal/workspace"
)

func newTestServer(t *testing.T, root string, origins ...string) *Server {
	t.Helper()
	e, err := workspace.New(workspace.Options{Root: root, SearchMode: search.ModeFallback})
	if err != nil {
		t.Fatalf("workspace.New() error = %v", err)
	}
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { _ = e.Close() })
	return New(Options{Workspace: e, AllowedOrigins: origins, Metrics: true})
}

func do(t *testing.T, s *Server, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, target, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func assertError(t *testing.T, rec *httptest.ResponseRecorder, status int, kind string) {
	t.Helper()
	if rec.Code != status {
		t.Fatalf("status = %d, want %d (body %s)", rec.Code, status, rec.Body.String())
	}
	body := decode[errorBody](t, rec)
	if body.Kind != kind || body.Error == "" {
		t.Fatalf("error body = %+v, want kind %s", body, kind)
	}
}

func TestHealthAndRequestID(t *testing.T) {
	s := newTestServer(t, t.TempDir())
	rec := do(t, s, http.MethodGet, "/api/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := decode[healthResponse](t, rec); got.Status != "ok" || got.Subscribers != 0 {
		t.Fatalf("health = %+v", got)
	}
	if _, err := uuid.Parse(rec.Header().Get("X-Request-Id")); err != nil {
		t.Fatalf("X-Request-Id = %q: %v", rec.Header().Get("X-Request-Id"), err)
	}

	rec = do(t, s, http.MethodGet, "/api/nope", nil)
	assertError(t, rec, http.StatusNotFound, "NotFound")
}

func TestFileRoundTrip(t *testing.T) {
	root := t.TempDir()
	s := newTestServer(t, root)

	rec := do(t, s, http.MethodPut, "/api/fs/file", map[string]string{"path": "/docs/a.txt", "content": "one\ntwo\n"})
	if rec.Code != http.StatusOK {
		t.Fatalf("PUT status = %d body %s", rec.Code, rec.Body.String())
	}
	if got := testutil.ReadFile(t, root, "docs/a.txt"); got != "one\ntwo\n" {
		t.Fatalf("file on disk = %q", got)
	}

	rec = do(t, s, http.MethodGet, "/api/fs/file?path=/docs/a.txt", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET status = %d body %s", rec.Code, rec.Body.String())
	}
	fc := decode[workspace.FileContent](t, rec)
	if fc.Content != "one\ntwo\n" || fc.Path != "/docs/a.txt" {
		t.Fatalf("content = %+v", fc)
	}

	rec = do(t, s, http.MethodGet, "/api/fs/tree", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"/docs/a.txt"`) {
		t.Fatalf("tree status = %d body %s", rec.Code, rec.Body.String())
	}
}

func TestFileErrors(t *testing.T) {
	s := newTestServer(t, t.TempDir())
	tests := []struct {
		name   string
		method string
		target string
		body   any
		status int
		kind   string
	}{
		{name: "missing path", method: http.MethodGet, target: "/api/fs/file", status: http.StatusBadRequest, kind: "InvalidInput"},
		{name: "not found", method: http.MethodGet, target: "/api/fs/file?path=/nope.txt", status: http.StatusNotFound, kind: "NotFound"},
		{name: "escape", method: http.MethodGet, target: "/api/fs/file?path=/../../etc/passwd", status: http.StatusForbidden, kind: "OutsideWorkspace"},
		{name: "write escape", method: http.MethodPut, target: "/api/fs/file", body: map[string]string{"path": "/../x.txt", "content": "x"}, status: http.StatusForbidden, kind: "OutsideWorkspace"},
		{name: "write without content", method: http.MethodPut, target: "/api/fs/file", body: map[string]string{"path": "/x.txt"}, status: http.StatusBadRequest, kind: "InvalidInput"},
		{name: "malformed body", method: http.MethodPut, target: "/api/fs/file", body: "{", status: http.StatusBadRequest, kind: "InvalidInput"},
		{name: "bad maxResults", method: http.MethodGet, target: "/api/search?q=x&maxResults=abc", status: http.StatusBadRequest, kind: "InvalidInput"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assertError(t, do(t, s, tt.method, tt.target, tt.body), tt.status, tt.kind)
		})
	}
}

func TestSearch(t *testing.T) {
	root := t.TempDir()
	for i := range 8 {
		testutil.WriteFile(t, root, "notes/"+string(rune('a'+i))+".md", "TODO item\n")
	}
	testutil.WriteFile(t, root, "main.go", "// todo in go\n")
	s := newTestServer(t, root)

	rec := do(t, s, http.MethodGet, "/api/search?q=todo&maxResults=5", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body %s", rec.Code, rec.Body.String())
	}
	res := decode[search.Result](t, rec)
	if len(res.Matches) != 5 || !res.Truncated || res.Engine != search.EngineFallback {
		t.Fatalf("result = %+v", res)
	}

	rec = do(t, s, http.MethodGet, "/api/search?q=todo&globs=*.go,%20", nil)
	res = decode[search.Result](t, rec)
	if len(res.Matches) != 1 || res.Matches[0].Path != "/main.go" {
		t.Fatalf("glob result = %+v", res)
	}
}

func TestGitWorkflow(t *testing.T) {
	testutil.SkipIfNoGit(t)
	root := testutil.CreateTempGitRepo(t)
	s := newTestServer(t, root)

	assertError(t, do(t, s, http.MethodPost, "/api/git/commit", map[string]string{"message": "empty"}),
		http.StatusConflict, "EmptyCommit")

	testutil.WriteFile(t, root, "README.md", "# test\nmore\n")
	rec := do(t, s, http.MethodGet, "/api/git/status", nil)
	st := decode[git.Status](t, rec)
	if len(st.Changed) != 1 || st.Changed[0].Path != "/README.md" {
		t.Fatalf("status = %+v", st)
	}

	rec = do(t, s, http.MethodGet, "/api/git/hunks?path=/README.md&staged=false", nil)
	hunks := decode[git.FileHunks](t, rec)
	if len(hunks.Hunks) != 1 {
		t.Fatalf("hunks = %+v", hunks)
	}
	h := hunks.Hunks[0]

	rec = do(t, s, http.MethodPost, "/api/git/hunk/stage", map[string]any{"path": "/README.md", "index": h.Index, "id": "stale"})
	assertError(t, rec, http.StatusConflict, "StaleHunk")

	rec = do(t, s, http.MethodPost, "/api/git/hunk/stage", map[string]any{"path": "/README.md", "index": h.Index, "id": h.ID})
	if rec.Code != http.StatusOK {
		t.Fatalf("hunk stage status = %d body %s", rec.Code, rec.Body.String())
	}

	assertError(t, do(t, s, http.MethodPost, "/api/git/commit", map[string]string{"message": "  "}),
		http.StatusBadRequest, "InvalidMessage")

	rec = do(t, s, http.MethodPost, "/api/git/commit", map[string]string{"message": "update readme"})
	if rec.Code != http.StatusOK {
		t.Fatalf("commit status = %d body %s", rec.Code, rec.Body.String())
	}
	hash := decode[map[string]string](t, rec)["hash"]
	if len(hash) < 7 {
		t.Fatalf("commit hash = %q", hash)
	}

	rec = do(t, s, http.MethodGet, "/api/git/log?limit=1", nil)
	commits := decode[[]git.Commit](t, rec)
	if len(commits) != 1 || commits[0].Hash != hash || commits[0].Subject != "update readme" {
		t.Fatalf("log = %+v", commits)
	}

	rec = do(t, s, http.MethodGet, "/api/git/summary", nil)
	sum := decode[git.Summary](t, rec)
	if sum.LastCommit == nil || sum.LastCommit.Hash != hash {
		t.Fatalf("summary = %+v", sum)
	}

	rec = do(t, s, http.MethodGet, "/api/git/file-versions?path=/README.md", nil)
	v := decode[git.FileVersions](t, rec)
	if v.Head != "# test\nmore\n" {
		t.Fatalf("versions = %+v", v)
	}
}

func TestPathMutations(t *testing.T) {
	testutil.SkipIfNoGit(t)
	root := testutil.CreateTempGitRepo(t)
	s := newTestServer(t, root)
	testutil.WriteFile(t, root, "new.txt", "x\n")

	for _, route := range []string{"/api/git/stage", "/api/git/unstage"} {
		rec := do(t, s, http.MethodPost, route, map[string]string{"path": "/new.txt"})
		if rec.Code != http.StatusOK {
			t.Fatalf("%s status = %d body %s", route, rec.Code, rec.Body.String())
		}
	}
	assertError(t, do(t, s, http.MethodPost, "/api/git/stage", map[string]string{}), http.StatusBadRequest, "InvalidInput")
	assertError(t, do(t, s, http.MethodPost, "/api/git/stage", map[string]string{"path": "/../x"}), http.StatusForbidden, "OutsideWorkspace")

	for _, route := range []string{"/api/git/stage-all", "/api/git/unstage-all", "/api/git/discard-all"} {
		if rec := do(t, s, http.MethodPost, route, nil); rec.Code != http.StatusOK {
			t.Fatalf("%s status = %d body %s", route, rec.Code, rec.Body.String())
		}
	}
	assertError(t, do(t, s, http.MethodGet, "/api/fs/file?path=/new.txt", nil), http.StatusNotFound, "NotFound")
}

func TestRepoUnavailable(t *testing.T) {
	s := newTestServer(t, t.TempDir())
	assertError(t, do(t, s, http.MethodGet, "/api/git/status", nil), http.StatusServiceUnavailable, "RepoUnavailable")
}

func TestCORS(t *testing.T) {
	s := newTestServer(t, t.TempDir(), "http://localhost:5173")

	req := httptest.NewRequest(http.MethodOptions, "/api/fs/file", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodPut)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("preflight status = %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:5173" {
		t.Fatalf("Allow-Origin = %q", got)
	}
	if !strings.Contains(rec.Header().Get("Access-Control-Allow-Methods"), http.MethodPut) {
		t.Fatalf("Allow-Methods = %q", rec.Header().Get("Access-Control-Allow-Methods"))
	}

	req = httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("Origin", "http://evil.example")
	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if rec.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatal("disallowed origin was echoed")
	}

	wildcard := newTestServer(t, t.TempDir(), "*")
	rec = httptest.NewRecorder()
	wildcard.ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://evil.example" {
		t.Fatalf("wildcard Allow-Origin = %q", got)
	}
}

func TestMetricsRoute(t *testing.T) {
	s := newTestServer(t, t.TempDir())
	do(t, s, http.MethodGet, "/api/health", nil)
	rec := do(t, s, http.MethodGet, "/metrics", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "devsync_http_requests_total") {
		t.Fatalf("metrics status = %d", rec.Code)
	}
}
