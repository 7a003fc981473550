package sandbox

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"devsync/internal/apperr"
	"devsync/internal/testutil"
)

func newTestSandbox(t *testing.T) (*Sandbox, string) {
	t.Helper()
	parent := testutil.ResolvePath(t.TempDir())
	root := filepath.Join(parent, "ws")
	if err := os.MkdirAll(filepath.Join(root, "src"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "src", "main.go"), []byte("package main\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	sb, err := New(root)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return sb, parent
}

func TestResolveInsideRoot(t *testing.T) {
	sb, _ := newTestSandbox(t)

	tests := []struct {
		name        string
		path        string
		wantVirtual string
		wantRel     string
	}{
		{name: "root", path: "/", wantVirtual: "/", wantRel: "."},
		{name: "existing file", path: "/src/main.go", wantVirtual: "/src/main.go", wantRel: "src/main.go"},
		{name: "dot segments", path: "/src/./main.go", wantVirtual: "/src/main.go", wantRel: "src/main.go"},
		{name: "dotdot staying inside", path: "/src/../src/main.go", wantVirtual: "/src/main.go", wantRel: "src/main.go"},
		{name: "trailing slash", path: "/src/", wantVirtual: "/src", wantRel: "src"},
		{name: "missing file", path: "/new/dir/file.txt", wantVirtual: "/new/dir/file.txt", wantRel: "new/dir/file.txt"},
		{name: "duplicate slashes", path: "//src//main.go", wantVirtual: "/src/main.go", wantRel: "src/main.go"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := sb.Resolve(tt.path)
			if err != nil {
				t.Fatalf("Resolve(%q) error = %v", tt.path, err)
			}
			if got.Virtual != tt.wantVirtual {
				t.Errorf("Virtual = %q, want %q", got.Virtual, tt.wantVirtual)
			}
			if got.Rel != tt.wantRel {
				t.Errorf("Rel = %q, want %q", got.Rel, tt.wantRel)
			}
			wantReal := filepath.Join(sb.Root(), filepath.FromSlash(tt.wantRel))
			if got.Real != wantReal {
				t.Errorf("Real = %q, want %q", got.Real, wantReal)
			}
		})
	}
}

func TestResolveRejectsTraversal(t *testing.T) {
	sb, parent := newTestSandbox(t)
	if err := os.MkdirAll(filepath.Join(parent, "ws-evil"), 0o755); err != nil {
		t.Fatal(err)
	}

	paths := []string{
		"/..",
		"/../",
		"/../etc/passwd",
		"/src/../../etc/passwd",
		"/src/../../../../../../etc/passwd",
		"/../ws-evil/secret.txt",
		"/../ws-evil",
	}

	for _, p := range paths {
		t.Run(p, func(t *testing.T) {
			_, err := sb.Resolve(p)
			if !errors.Is(err, apperr.ErrOutsideWorkspace) {
				t.Fatalf("Resolve(%q) error = %v, want ErrOutsideWorkspace", p, err)
			}
		})
	}
}

func TestResolveRejectsMalformedInput(t *testing.T) {
	sb, _ := newTestSandbox(t)

	for _, p := range []string{"", "src/main.go", "relative/../x", "/src/\x00main.go"} {
		_, err := sb.Resolve(p)
		if !errors.Is(err, apperr.ErrInvalidInput) {
			t.Errorf("Resolve(%q) error = %v, want ErrInvalidInput", p, err)
		}
	}
}

func TestResolveSymlinks(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlink creation requires elevated privileges on Windows")
	}
	sb, parent := newTestSandbox(t)
	outside := filepath.Join(parent, "outside")
	if err := os.MkdirAll(outside, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(outside, "secret.txt"), []byte("secret"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(outside, filepath.Join(sb.Root(), "escape")); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(filepath.Join(sb.Root(), "src"), filepath.Join(sb.Root(), "alias")); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(filepath.Join(parent, "nowhere"), filepath.Join(sb.Root(), "dangling")); err != nil {
		t.Fatal(err)
	}

	t.Run("link to outside directory", func(t *testing.T) {
		for _, p := range []string{"/escape", "/escape/secret.txt", "/escape/new-file.txt"} {
			if _, err := sb.Resolve(p); !errors.Is(err, apperr.ErrOutsideWorkspace) {
				t.Errorf("Resolve(%q) error = %v, want ErrOutsideWorkspace", p, err)
			}
		}
	})

	t.Run("link staying inside", func(t *testing.T) {
		got, err := sb.Resolve("/alias/main.go")
		if err != nil {
			t.Fatalf("Resolve() error = %v", err)
		}
		want := filepath.Join(sb.Root(), "src", "main.go")
		if got.Real != want {
			t.Fatalf("Real = %q, want %q", got.Real, want)
		}
		if got.Virtual != "/alias/main.go" {
			t.Fatalf("Virtual = %q, want /alias/main.go", got.Virtual)
		}
	})

	t.Run("dangling link", func(t *testing.T) {
		if _, err := sb.Resolve("/dangling"); !errors.Is(err, apperr.ErrOutsideWorkspace) {
			t.Fatalf("Resolve() error = %v, want ErrOutsideWorkspace", err)
		}
	})
}

func TestVirtualPath(t *testing.T) {
	sb, parent := newTestSandbox(t)

	got, err := sb.VirtualPath(filepath.Join(sb.Root(), "src", "main.go"))
	if err != nil {
		t.Fatalf("VirtualPath() error = %v", err)
	}
	if got != "/src/main.go" {
		t.Fatalf("VirtualPath() = %q, want /src/main.go", got)
	}

	root, err := sb.VirtualPath(sb.Root())
	if err != nil || root != "/" {
		t.Fatalf("VirtualPath(root) = %q, %v; want /", root, err)
	}

	if _, err := sb.VirtualPath(filepath.Join(parent, "ws-evil", "x")); !errors.Is(err, apperr.ErrOutsideWorkspace) {
		t.Fatalf("VirtualPath(sibling) error = %v, want ErrOutsideWorkspace", err)
	}
}

func TestNewRejectsInvalidRoot(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "file.txt")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := New(""); !errors.Is(err, apperr.ErrInvalidInput) {
		t.Errorf("New(\"\") error = %v, want ErrInvalidInput", err)
	}
	if _, err := New(file); !errors.Is(err, apperr.ErrInvalidInput) {
		t.Errorf("New(file) error = %v, want ErrInvalidInput", err)
	}
	if _, err := New(filepath.Join(dir, "missing")); err == nil {
		t.Error("New(missing) expected error")
	}
}
