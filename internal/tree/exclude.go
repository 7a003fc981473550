package tree

import (
	"slices"
	"strings"
)

// DefaultExcludedDirs are directory names never listed, watched or searched:
// VCS internals, dependency caches and build outputs.
var DefaultExcludedDirs = []string{".git", "node_modules", "dist", "build", ".cache"}

// Excluder decides which directory names are hidden from the workspace views.
// It is immutable after construction and safe for concurrent use.
type Excluder struct {
	names map[string]struct{}
}

// NewExcluder returns an Excluder for names. A nil or empty slice selects
// DefaultExcludedDirs. Blank names and names containing separators are ignored.
func NewExcluder(names []string) *Excluder {
	if len(names) == 0 {
		names = DefaultExcludedDirs
	}
	e := &Excluder{names: make(map[string]struct{}, len(names))}
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" || strings.ContainsAny(name, `/\`) {
			continue
		}
		e.names[name] = struct{}{}
	}
	return e
}

// IsExcludedDir reports whether a directory with this base name is excluded.
func (e *Excluder) IsExcludedDir(name string) bool {
	_, ok := e.names[name]
	return ok
}

// InExcludedDir reports whether the slash-separated, root-relative path lies
// below an excluded directory. Only the parent components are checked: the
// final component may be a file that merely shares an excluded name, so
// callers that know it is a directory check it with IsExcludedDir.
func (e *Excluder) InExcludedDir(rel string) bool {
	i := strings.LastIndexByte(rel, '/')
	if i < 0 {
		return false
	}
	for part := range strings.SplitSeq(rel[:i], "/") {
		if _, ok := e.names[part]; ok {
			return true
		}
	}
	return false
}

// Names returns the excluded names in sorted order.
func (e *Excluder) Names() []string {
	out := make([]string, 0, len(e.names))
	for name := range e.names {
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}
