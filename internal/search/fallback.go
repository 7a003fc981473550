package search

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// binarySniffSize is how much of a file is checked for NUL bytes.
const binarySniffSize = 8 * 1024

// scan walks the root in lexical order and matches line by line. Excluded
// directories, symlinks, oversized files and binary files are skipped.
func (s *Service) scan(ctx context.Context, q Query) ([]Match, bool, error) {
	needle := strings.ToLower(q.Text)
	matches := make([]Match, 0, min(q.MaxResults, 64))
	truncated := false

	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if walkErr != nil {
			if path == s.root {
				return walkErr
			}
			slog.Debug("[DEBUG-SEARCH] skipping unreadable path", "path", path, "error", walkErr)
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if path != s.root && s.excluder.IsExcludedDir(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if !matchGlobs(q.Globs, rel) {
			return nil
		}

		found, err := scanFile(path, needle, q.MaxResults+1-len(matches))
		if err != nil {
			slog.Debug("[DEBUG-SEARCH] skipping unreadable file", "path", path, "error", err)
			return nil
		}
		for _, m := range found {
			if len(matches) == q.MaxResults {
				truncated = true
				return errStopWalk
			}
			m.Path = "/" + rel
			matches = append(matches, m)
		}
		return nil
	})
	if err != nil && !errors.Is(err, errStopWalk) {
		return nil, false, err
	}
	return matches, truncated, nil
}

// scanFile returns up to limit matching lines of the file at path. Path is
// left empty. Files that look binary or exceed maxFileSize yield nothing.
func scanFile(path, needle string, limit int) ([]Match, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if info.Size() > maxFileSize {
		return nil, nil
	}

	br := bufio.NewReaderSize(f, binarySniffSize)
	head, err := br.Peek(binarySniffSize)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return nil, err
	}
	if bytes.IndexByte(head, 0) >= 0 {
		return nil, nil
	}

	sc := bufio.NewScanner(br)
	sc.Buffer(make([]byte, 0, 64*1024), maxFileSize+1)
	var out []Match
	for lineNo := 1; sc.Scan(); lineNo++ {
		line := sc.Text()
		if !strings.Contains(strings.ToLower(line), needle) {
			continue
		}
		out = append(out, Match{Line: lineNo, Text: clipLine(line)})
		if len(out) >= limit {
			break
		}
	}
	return out, sc.Err()
}
