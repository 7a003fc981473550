package git

// Repository wraps git CLI operations for one workspace directory.
// All operations use system git CLI (no embedded git library).
// The workspace may be a subdirectory of the repository; every path the
// Repository accepts or reports is relative to the workspace, slash-separated.
type Repository struct {
	// path is the workspace root; every command runs with it as working directory.
	path string
	// top is the repository's top-level directory.
	top string
	// prefix is the workspace's location inside the repository ("" or "sub/dir/").
	prefix string
}

// TopLevel returns the repository root directory.
func (r *Repository) TopLevel() string {
	return r.top
}

// StatusCode is one side of a ChangeRecord's status pair.
type StatusCode string

const (
	StatusUnmodified StatusCode = "unmodified"
	StatusModified   StatusCode = "modified"
	StatusAdded      StatusCode = "added"
	StatusDeleted    StatusCode = "deleted"
	StatusRenamed    StatusCode = "renamed"
	StatusUntracked  StatusCode = "untracked"
)

// ChangeRecord is one changed path with its index and working-tree status.
type ChangeRecord struct {
	Path       string     `json:"path"`
	OrigPath   string     `json:"origPath,omitempty"`
	Index      StatusCode `json:"index"`
	Working    StatusCode `json:"working"`
	Conflicted bool       `json:"conflicted,omitempty"`
}

// Status summarizes the difference between HEAD, the index and the working tree.
type Status struct {
	Branch     string         `json:"branch"`
	Detached   bool           `json:"detached,omitempty"`
	Upstream   string         `json:"upstream,omitempty"`
	Ahead      int            `json:"ahead"`
	Behind     int            `json:"behind"`
	HasCommits bool           `json:"hasCommits"`
	Changed    []ChangeRecord `json:"changed"`
}

// FileVersions holds one file's content at HEAD, in the index and on disk.
// Absent stages have empty content and a false *Exists flag.
type FileVersions struct {
	Path          string `json:"path"`
	Head          string `json:"head"`
	Index         string `json:"index"`
	Working       string `json:"working"`
	HeadExists    bool   `json:"headExists"`
	IndexExists   bool   `json:"indexExists"`
	WorkingExists bool   `json:"workingExists"`
}

// Commit is one entry of the commit log.
type Commit struct {
	Hash      string   `json:"hash"`
	ShortHash string   `json:"shortHash"`
	Parents   []string `json:"parents,omitempty"`
	Subject   string   `json:"subject"`
	Author    string   `json:"author"`
	Date      string   `json:"date"`
	Refs      []string `json:"refs,omitempty"`
}

// Summary is the short repository overview shown next to the branch name.
type Summary struct {
	Branch     string  `json:"branch"`
	Detached   bool    `json:"detached,omitempty"`
	Ahead      int     `json:"ahead"`
	Behind     int     `json:"behind"`
	LastCommit *Commit `json:"lastCommit,omitempty"`
}

// Hunk is one independently appliable block of a file diff.
type Hunk struct {
	Index    int      `json:"index"`
	ID       string   `json:"id"`
	Header   string   `json:"header"`
	OldStart int32    `json:"oldStart"`
	OldLines int32    `json:"oldLines"`
	NewStart int32    `json:"newStart"`
	NewLines int32    `json:"newLines"`
	Lines    []string `json:"lines"`
}

// FileHunks is the hunk list of one file. Staged hunks diff HEAD against the
// index; unstaged hunks diff the index against the working tree.
type FileHunks struct {
	Path   string `json:"path"`
	Staged bool   `json:"staged"`
	Hunks  []Hunk `json:"hunks"`
}
