package git

import (
	"errors"
	"testing"

	"devsync/internal/apperr"
)

func TestParseStatus(t *testing.T) {
	output := "# branch.oid 1234567890abcdef\x00" +
		"# branch.head main\x00" +
		"# branch.upstream origin/main\x00" +
		"# branch.ab +2 -1\x00" +
		"1 .M N... 100644 100644 100644 aaaa aaaa a.txt\x00" +
		"1 A. N... 000000 100644 100644 0000 bbbb dir/new file.txt\x00" +
		"1 D. N... 100644 000000 000000 cccc 0000 gone.txt\x00" +
		"2 R. N... 100644 100644 100644 dddd dddd R100 renamed.txt\x00orig.txt\x00" +
		"u UU N... 100644 100644 100644 100644 eeee ffff 1111 conflict.txt\x00" +
		"? untracked.txt\x00"

	r := &Repository{}
	st := r.parseStatus([]byte(output))

	if st.Branch != "main" || st.Upstream != "origin/main" || st.Ahead != 2 || st.Behind != 1 {
		t.Fatalf("branch info = %+v", st)
	}
	if !st.HasCommits || st.Detached {
		t.Fatalf("HasCommits=%v Detached=%v, want true false", st.HasCommits, st.Detached)
	}

	want := []ChangeRecord{
		{Path: "/a.txt", Index: StatusUnmodified, Working: StatusModified},
		{Path: "/dir/new file.txt", Index: StatusAdded, Working: StatusUnmodified},
		{Path: "/gone.txt", Index: StatusDeleted, Working: StatusUnmodified},
		{Path: "/renamed.txt", OrigPath: "/orig.txt", Index: StatusRenamed, Working: StatusUnmodified},
		{Path: "/conflict.txt", Index: StatusModified, Working: StatusModified, Conflicted: true},
		{Path: "/untracked.txt", Index: StatusUntracked, Working: StatusUntracked},
	}
	if len(st.Changed) != len(want) {
		t.Fatalf("Changed = %+v, want %d records", st.Changed, len(want))
	}
	for i := range want {
		if st.Changed[i] != want[i] {
			t.Errorf("Changed[%d] = %+v, want %+v", i, st.Changed[i], want[i])
		}
	}
}

func TestParseStatusInitialAndDetached(t *testing.T) {
	r := &Repository{}

	initial := r.parseStatus([]byte("# branch.oid (initial)\x00# branch.head main\x00"))
	if initial.HasCommits {
		t.Fatal("HasCommits = true for (initial), want false")
	}
	if initial.Changed == nil || len(initial.Changed) != 0 {
		t.Fatalf("Changed = %#v, want empty non-nil slice", initial.Changed)
	}

	detached := r.parseStatus([]byte("# branch.oid abc\x00# branch.head (detached)\x00"))
	if !detached.Detached || detached.Branch != "" {
		t.Fatalf("detached status = %+v", detached)
	}
}

func TestParseStatusSkipsMalformedEntries(t *testing.T) {
	r := &Repository{}
	st := r.parseStatus([]byte("1 .M short\x002 R.\x00? \x00"))
	if len(st.Changed) != 0 {
		t.Fatalf("Changed = %+v, want none", st.Changed)
	}
}

func TestParseStatusStripsWorkspacePrefix(t *testing.T) {
	r := &Repository{prefix: "web/"}
	st := r.parseStatus([]byte(
		"1 .M N... 100644 100644 100644 a a web/src/app.ts\x00" +
			"1 .M N... 100644 100644 100644 a a api/main.go\x00" +
			"2 R. N... 100644 100644 100644 d d R90 web/new.ts\x00api/old.ts\x00"))

	if len(st.Changed) != 2 {
		t.Fatalf("Changed = %+v, want 2 records", st.Changed)
	}
	if st.Changed[0].Path != "/src/app.ts" {
		t.Fatalf("Changed[0].Path = %q, want /src/app.ts", st.Changed[0].Path)
	}
	if st.Changed[1].Path != "/new.ts" || st.Changed[1].OrigPath != "" {
		t.Fatalf("renamed record = %+v, want origin outside workspace dropped", st.Changed[1])
	}
}

func TestCharToStatus(t *testing.T) {
	tests := map[byte]StatusCode{
		'.': StatusUnmodified,
		'M': StatusModified,
		'T': StatusModified,
		'A': StatusAdded,
		'C': StatusAdded,
		'D': StatusDeleted,
		'R': StatusRenamed,
		'?': StatusUntracked,
	}
	for c, want := range tests {
		if got := charToStatus(c); got != want {
			t.Errorf("charToStatus(%q) = %q, want %q", c, got, want)
		}
	}
}

func TestValidateRelPath(t *testing.T) {
	tests := []struct {
		name    string
		rel     string
		wantErr bool
	}{
		{name: "root", rel: ".", wantErr: false},
		{name: "file", rel: "a.txt", wantErr: false},
		{name: "nested", rel: "src/pkg/main.go", wantErr: false},
		{name: "dots inside name", rel: "a..b/c", wantErr: false},
		{name: "empty", rel: "", wantErr: true},
		{name: "absolute", rel: "/etc/passwd", wantErr: true},
		{name: "parent segment", rel: "../x", wantErr: true},
		{name: "not clean", rel: "a/./b", wantErr: true},
		{name: "trailing slash", rel: "a/", wantErr: true},
		{name: "null byte", rel: "a\x00b", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRelPath(tt.rel)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateRelPath(%q) error = %v, wantErr %v", tt.rel, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, apperr.ErrInvalidInput) {
				t.Fatalf("ValidateRelPath(%q) error = %v, want ErrInvalidInput", tt.rel, err)
			}
		})
	}
}

func TestNormalizeCommitMessage(t *testing.T) {
	if _, err := NormalizeCommitMessage("  \n\t "); !errors.Is(err, apperr.ErrInvalidMessage) {
		t.Fatalf("blank message error = %v, want ErrInvalidMessage", err)
	}
	got, err := NormalizeCommitMessage("  fix: thing\n\nbody\n")
	if err != nil {
		t.Fatalf("NormalizeCommitMessage() error = %v", err)
	}
	if got != "fix: thing\n\nbody" {
		t.Fatalf("NormalizeCommitMessage() = %q", got)
	}
}

func TestParseLog(t *testing.T) {
	output := "aaaa\x00a1\x00\x00initial\x00Alice\x002024-01-01T00:00:00+00:00\x00\x1e\n" +
		"bbbb\x00b2\x00aaaa cccc\x00merge: x, y\x00Bob\x002024-01-02T00:00:00+00:00\x00HEAD -> main, origin/main, tag: v1\x1e\n"
	commits := parseLog(output)
	if len(commits) != 2 {
		t.Fatalf("parseLog() = %+v, want 2 commits", commits)
	}
	if commits[0].Hash != "aaaa" || len(commits[0].Parents) != 0 || commits[0].Refs != nil {
		t.Fatalf("commits[0] = %+v", commits[0])
	}
	c := commits[1]
	if c.Subject != "merge: x, y" || c.Author != "Bob" || len(c.Parents) != 2 {
		t.Fatalf("commits[1] = %+v", c)
	}
	wantRefs := []string{"main", "origin/main", "tag: v1"}
	if len(c.Refs) != len(wantRefs) {
		t.Fatalf("Refs = %v, want %v", c.Refs, wantRefs)
	}
	for i := range wantRefs {
		if c.Refs[i] != wantRefs[i] {
			t.Fatalf("Refs = %v, want %v", c.Refs, wantRefs)
		}
	}
}
