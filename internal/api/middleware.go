package api

import (
	"log/slog"
	"net/http"
	"net/url"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/julienschmidt/httprouter"

	"devsync/internal/metrics"
)

const (
	corsAllowMethods = "GET, PUT, POST, OPTIONS"
	corsAllowHeaders = "Content-Type, X-Request-Id"
	corsMaxAge       = "600"
)

// corsPolicy decides which browser origins may call the API.
type corsPolicy struct {
	allowAll bool
	origins  map[string]struct{}
}

func newCORSPolicy(allowed []string) corsPolicy {
	p := corsPolicy{origins: make(map[string]struct{})}
	for _, origin := range allowed {
		origin = strings.TrimRight(strings.TrimSpace(origin), "/")
		switch origin {
		case "":
		case "*":
			p.allowAll = true
		default:
			p.origins[strings.ToLower(origin)] = struct{}{}
		}
	}
	return p
}

// allows reports whether origin is permitted.
func (p corsPolicy) allows(origin string) bool {
	if p.allowAll {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}
	_, ok := p.origins[strings.ToLower(u.Scheme+"://"+u.Host)]
	return ok
}

// withCORS echoes allowed origins and answers preflight requests.
func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		allowed := origin != "" && s.cors.allows(origin)
		if allowed {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Add("Vary", "Origin")
			h.Set("Access-Control-Expose-Headers", "X-Request-Id")
		}

		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			if !allowed {
				writeMessage(w, http.StatusForbidden, "origin not allowed", "OutsideWorkspace")
				return
			}
			h := w.Header()
			h.Set("Access-Control-Allow-Methods", corsAllowMethods)
			h.Set("Access-Control-Allow-Headers", corsAllowHeaders)
			h.Set("Access-Control-Max-Age", corsMaxAge)
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// statusRecorder captures the response status for logging and metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// instrument tags the request with an id, then logs and counts it under the
// route pattern rather than the raw URL.
func instrument(route string, h httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		start := time.Now()
		reqID := r.Header.Get("X-Request-Id")
		if _, err := uuid.Parse(reqID); err != nil {
			reqID = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", reqID)

		rec := &statusRecorder{ResponseWriter: w}
		h(rec, r, ps)
		if rec.status == 0 {
			rec.status = http.StatusOK
		}

		duration := time.Since(start)
		metrics.RecordHTTPRequest(r.Method, route, rec.status, duration)
		slog.Debug("[DEBUG-API] request",
			"requestId", reqID,
			"method", r.Method,
			"route", route,
			"status", rec.status,
			"duration_ms", duration.Milliseconds())
	}
}

// handlePanic turns a handler panic into a 500 response.
func handlePanic(w http.ResponseWriter, r *http.Request, rec any) {
	slog.Error("[DEBUG-PANIC] api handler recovered",
		"method", r.Method,
		"path", r.URL.Path,
		"panic", rec,
		"stack", string(debug.Stack()))
	writeMessage(w, http.StatusInternalServerError, "internal server error", "Internal")
}
