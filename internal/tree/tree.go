// Package tree builds ordered, filtered snapshots of the workspace directory.
package tree

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"devsync/internal/apperr"
)

const (
	// defaultMaxEntriesPerDir bounds the children listed for one directory.
	defaultMaxEntriesPerDir = 5000
	// defaultConcurrency bounds the directories read in parallel.
	defaultConcurrency = 8
	// defaultRootName is used when the root's base name is unusable ("/", ".").
	defaultRootName = "project"
)

// NodeType discriminates FileNode variants.
type NodeType string

const (
	NodeFile NodeType = "file"
	NodeDir  NodeType = "dir"
)

// FileNode is one entry of a snapshot. Children is only set for directories.
type FileNode struct {
	Type     NodeType    `json:"type"`
	Name     string      `json:"name"`
	Path     string      `json:"path"`
	Children []*FileNode `json:"children,omitempty"`
}

// IsDir reports whether the node is a directory.
func (n *FileNode) IsDir() bool {
	return n.Type == NodeDir
}

// Options configures a Builder. Zero values select the defaults.
type Options struct {
	Excluder         *Excluder
	MaxEntriesPerDir int
	Concurrency      int
}

// Builder produces snapshots. It holds no per-snapshot state and is safe
// for concurrent use.
type Builder struct {
	excluder    *Excluder
	maxEntries  int
	concurrency int
	readDir     func(string) ([]os.DirEntry, error)
}

// NewBuilder returns a Builder configured by opts.
func NewBuilder(opts Options) *Builder {
	b := &Builder{
		excluder:    opts.Excluder,
		maxEntries:  opts.MaxEntriesPerDir,
		concurrency: opts.Concurrency,
		readDir:     os.ReadDir,
	}
	if b.excluder == nil {
		b.excluder = NewExcluder(nil)
	}
	if b.maxEntries <= 0 {
		b.maxEntries = defaultMaxEntriesPerDir
	}
	if b.concurrency <= 0 {
		b.concurrency = defaultConcurrency
	}
	return b
}

// Build returns the snapshot rooted at root. The root node's path is "/".
// A failure to read root itself fails the call; unreadable subdirectories are
// listed without children and logged.
func (b *Builder) Build(ctx context.Context, root string) (*FileNode, error) {
	start := time.Now()

	rootNode := &FileNode{Type: NodeDir, Name: rootName(root), Path: "/"}
	entries, err := b.readDir(root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read workspace root: %w", apperr.ErrNotFound)
		}
		return nil, fmt.Errorf("read workspace root: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.concurrency)

	var fill func(node *FileNode, dir string, entries []os.DirEntry)
	fill = func(node *FileNode, dir string, entries []os.DirEntry) {
		node.Children = b.children(node.Path, dir, entries)
		for _, child := range node.Children {
			if !child.IsDir() {
				continue
			}
			childDir := filepath.Join(dir, child.Name)
			task := func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				childEntries, readErr := b.readDir(childDir)
				if readErr != nil {
					slog.Warn("[WARN-TREE] skipping unreadable directory",
						"path", child.Path, "error", readErr)
					return nil
				}
				fill(child, childDir, childEntries)
				return nil
			}
			// Run inline when every slot is taken so parents never block on
			// slots held by their own descendants.
			if !g.TryGo(task) {
				if err := task(); err != nil {
					return
				}
			}
		}
	}
	fill(rootNode, root, entries)

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("build tree: %w", err)
	}

	slog.Debug("[DEBUG-TREE] snapshot built",
		"root", root,
		"duration_ms", time.Since(start).Milliseconds())
	return rootNode, nil
}

// children converts raw entries of dir into ordered child nodes.
func (b *Builder) children(parentPath, dir string, entries []os.DirEntry) []*FileNode {
	nodes := make([]*FileNode, 0, min(len(entries), b.maxEntries))
	for _, entry := range entries {
		if len(nodes) >= b.maxEntries {
			slog.Warn("[WARN-TREE] directory entry limit reached",
				"dir", dir, "limit", b.maxEntries)
			break
		}
		name := entry.Name()
		// Symlinks report IsDir() == false and are listed as files, never followed.
		isDir := entry.IsDir()
		if isDir && b.excluder.IsExcludedDir(name) {
			continue
		}
		node := &FileNode{Type: NodeFile, Name: name, Path: path.Join(parentPath, name)}
		if isDir {
			node.Type = NodeDir
			node.Children = []*FileNode{}
		}
		nodes = append(nodes, node)
	}
	SortNodes(nodes)
	return nodes
}

// SortNodes orders nodes directories first, then case-insensitively by name,
// then by exact name so the order is total.
func SortNodes(nodes []*FileNode) {
	slices.SortFunc(nodes, func(a, b *FileNode) int {
		if a.IsDir() != b.IsDir() {
			if a.IsDir() {
				return -1
			}
			return 1
		}
		if c := cmp.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name)); c != 0 {
			return c
		}
		return cmp.Compare(a.Name, b.Name)
	})
}

func rootName(root string) string {
	name := filepath.Base(filepath.Clean(root))
	if name == "." || name == string(filepath.Separator) || name == "" {
		return defaultRootName
	}
	return name
}
