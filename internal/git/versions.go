package git

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"devsync/internal/apperr"
)

// Versions returns the content of the workspace-relative file rel at HEAD,
// in the index and on disk. Stages where the file is absent yield empty
// content rather than an error. A directory yields apperr.ErrInvalidInput.
func (r *Repository) Versions(ctx context.Context, rel string) (FileVersions, error) {
	if err := ValidateRelPath(rel); err != nil {
		return FileVersions{}, err
	}
	if rel == "." {
		return FileVersions{}, fmt.Errorf("versions of the workspace root: %w", apperr.ErrInvalidInput)
	}

	fv := FileVersions{Path: "/" + rel}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		content, exists, err := r.blobAt(gctx, "HEAD", rel)
		fv.Head, fv.HeadExists = content, exists
		return err
	})
	g.Go(func() error {
		content, exists, err := r.blobAt(gctx, "", rel)
		fv.Index, fv.IndexExists = content, exists
		return err
	})
	g.Go(func() error {
		content, exists, err := readWorkingFile(filepath.Join(r.path, filepath.FromSlash(rel)))
		fv.Working, fv.WorkingExists = content, exists
		return err
	})
	if err := g.Wait(); err != nil {
		return FileVersions{}, fmt.Errorf("file versions for %s: %w", rel, err)
	}
	return fv, nil
}

// blobAt returns the blob stored for rel at rev ("" = index).
// Missing paths, directories and an unborn HEAD all report exists=false.
func (r *Repository) blobAt(ctx context.Context, rev, rel string) (string, bool, error) {
	var oid string
	if rev == "" {
		id, err := r.indexEntry(ctx, rel)
		if err != nil {
			return "", false, err
		}
		oid = id
	} else {
		hasCommits, err := r.HasCommits(ctx)
		if err != nil || !hasCommits {
			return "", false, err
		}
		objType, id, err := r.treeEntry(ctx, rev, rel)
		if err != nil {
			return "", false, err
		}
		if objType == "blob" {
			oid = id
		}
	}
	if oid == "" {
		return "", false, nil
	}

	content, err := r.runGitCommandRaw(ctx, "cat-file", "blob", oid)
	if err != nil {
		return "", false, err
	}
	return string(content), true, nil
}

func readWorkingFile(path string) (string, bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", false, nil
		}
		return "", false, err
	}
	if info.IsDir() {
		return "", false, fmt.Errorf("%s is a directory: %w", path, apperr.ErrInvalidInput)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", false, err
	}
	return string(data), true, nil
}
