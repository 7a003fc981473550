// Package search finds text in workspace files. It prefers ripgrep and falls
// back to a naive recursive scan whenever ripgrep cannot serve a query.
package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"devsync/internal/apperr"
	"devsync/internal/metrics"
	"devsync/internal/tree"
)

// Engine names the implementation that produced a Result.
type Engine string

const (
	EngineRipgrep  Engine = "ripgrep"
	EngineFallback Engine = "fallback"
)

// Mode selects which engines a Service may use.
type Mode string

const (
	// ModeAuto tries ripgrep and falls back to the scan on any failure.
	ModeAuto     Mode = "auto"
	ModeRipgrep  Mode = "ripgrep"
	ModeFallback Mode = "fallback"
)

const (
	DefaultMaxResults = 200
	MaxResultsLimit   = 1000
	DefaultRipgrep    = "rg"

	// maxFileSize skips larger files in the fallback scan.
	maxFileSize = 1 << 20
	// maxLineLength clips reported line text (minified sources).
	maxLineLength = 1000
)

// ParseMode parses a configured mode; "" selects ModeAuto.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return ModeAuto, nil
	case ModeAuto, ModeRipgrep, ModeFallback:
		return m, nil
	default:
		return "", fmt.Errorf("unknown search mode %q: %w", s, apperr.ErrInvalidInput)
	}
}

// Query is one search request. Matching is literal and case-insensitive.
type Query struct {
	Text string
	// Globs restrict the searched files. A glob without "/" matches the base
	// name; otherwise it matches the slash-separated path below the root.
	Globs []string
	// MaxResults <= 0 selects DefaultMaxResults; values above MaxResultsLimit
	// are capped.
	MaxResults int
}

// Match is one matching line.
type Match struct {
	Path string `json:"path"`
	Line int    `json:"line"`
	Text string `json:"text"`
}

// Result is the outcome of a search.
type Result struct {
	Engine    Engine  `json:"engine"`
	Matches   []Match `json:"matches"`
	Truncated bool    `json:"truncated"`
}

// Options configures a Service.
type Options struct {
	// Root is the absolute, symlink-resolved workspace root.
	Root        string
	Excluder    *tree.Excluder
	RipgrepPath string
	Mode        Mode
}

// Service runs searches against one workspace root. It keeps no index;
// every call re-scans.
type Service struct {
	root     string
	excluder *tree.Excluder
	rgPath   string
	mode     Mode
}

// New returns a Service for opts.
func New(opts Options) *Service {
	s := &Service{
		root:     filepath.Clean(opts.Root),
		excluder: opts.Excluder,
		rgPath:   opts.RipgrepPath,
		mode:     opts.Mode,
	}
	if s.excluder == nil {
		s.excluder = tree.NewExcluder(nil)
	}
	if s.rgPath == "" {
		s.rgPath = DefaultRipgrep
	}
	if s.mode == "" {
		s.mode = ModeAuto
	}
	return s
}

// Search runs q. In ModeAuto a ripgrep failure is logged and answered by the
// fallback scan; the Result reports which engine produced it.
func (s *Service) Search(ctx context.Context, q Query) (Result, error) {
	q, err := normalizeQuery(q)
	if err != nil {
		return Result{}, err
	}

	if s.mode == ModeFallback {
		return s.timed(ctx, EngineFallback, q, s.scan)
	}
	res, err := s.timed(ctx, EngineRipgrep, q, s.ripgrep)
	if err == nil || s.mode == ModeRipgrep {
		return res, err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return Result{}, ctxErr
	}
	slog.Debug("[DEBUG-SEARCH] ripgrep failed, using fallback scan", "error", err)
	metrics.RecordSearchFallback()
	return s.timed(ctx, EngineFallback, q, s.scan)
}

func (s *Service) timed(ctx context.Context, engine Engine, q Query,
	run func(context.Context, Query) ([]Match, bool, error),
) (Result, error) {
	start := time.Now()
	matches, truncated, err := run(ctx, q)
	if err != nil {
		return Result{}, err
	}
	metrics.RecordSearch(string(engine), time.Since(start))
	slog.Debug("[DEBUG-SEARCH] search completed",
		"engine", engine,
		"matches", len(matches),
		"truncated", truncated,
		"duration_ms", time.Since(start).Milliseconds())
	return Result{Engine: engine, Matches: matches, Truncated: truncated}, nil
}

func normalizeQuery(q Query) (Query, error) {
	if strings.TrimSpace(q.Text) == "" {
		return Query{}, fmt.Errorf("search text is empty: %w", apperr.ErrInvalidInput)
	}
	if strings.ContainsAny(q.Text, "\x00\n") {
		return Query{}, fmt.Errorf("search text must be a single line: %w", apperr.ErrInvalidInput)
	}
	if q.MaxResults <= 0 {
		q.MaxResults = DefaultMaxResults
	}
	q.MaxResults = min(q.MaxResults, MaxResultsLimit)

	globs := make([]string, 0, len(q.Globs))
	for _, g := range q.Globs {
		g = strings.TrimSpace(g)
		if g == "" {
			continue
		}
		if strings.HasPrefix(g, "!") || !doublestar.ValidatePattern(g) {
			return Query{}, fmt.Errorf("invalid glob %q: %w", g, apperr.ErrInvalidInput)
		}
		globs = append(globs, strings.TrimPrefix(g, "/"))
	}
	q.Globs = globs
	return q, nil
}

// matchGlobs reports whether rel passes the query's glob filter.
func matchGlobs(globs []string, rel string) bool {
	if len(globs) == 0 {
		return true
	}
	for _, g := range globs {
		target := rel
		if !strings.Contains(g, "/") {
			target = pathBase(rel)
		}
		if ok, err := doublestar.Match(g, target); err == nil && ok {
			return true
		}
	}
	return false
}

func pathBase(rel string) string {
	if i := strings.LastIndexByte(rel, '/'); i >= 0 {
		return rel[i+1:]
	}
	return rel
}

func clipLine(line string) string {
	line = strings.TrimRight(line, "\r\n")
	if len(line) <= maxLineLength {
		return line
	}
	cut := maxLineLength
	// Do not split a UTF-8 sequence.
	for cut > 0 && line[cut]&0xC0 == 0x80 {
		cut--
	}
	return line[:cut]
}

var errStopWalk = errors.New("search: result limit reached")
