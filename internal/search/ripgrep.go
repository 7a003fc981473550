package search

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"path/filepath"
	"strings"

	"devsync/internal/apperr"
	"devsync/internal/procutil"
)

// maxJSONLine bounds one ripgrep output record.
const maxJSONLine = 16 << 20

// rgMessage is the subset of ripgrep's --json record used here.
type rgMessage struct {
	Type string `json:"type"`
	Data struct {
		Path       rgText `json:"path"`
		Lines      rgText `json:"lines"`
		LineNumber int    `json:"line_number"`
	} `json:"data"`
}

// rgText holds either UTF-8 text or, for invalid UTF-8, base64 bytes.
type rgText struct {
	Text  *string `json:"text"`
	Bytes *string `json:"bytes"`
}

func (s *Service) ripgrepArgs(q Query) []string {
	args := []string{
		"--json",
		"--no-config",
		"--no-ignore",
		"--hidden",
		"--no-follow",
		"--fixed-strings",
		"--ignore-case",
		"--max-filesize", "1M",
		"--sort", "path",
	}
	for _, name := range s.excluder.Names() {
		args = append(args, "--glob", "!"+name)
	}
	for _, g := range q.Globs {
		args = append(args, "--glob", g)
	}
	return append(args, "--", q.Text, ".")
}

// ripgrep runs rg in the workspace root and streams its JSON output. It stops
// reading once MaxResults+1 matches have been seen.
func (s *Service) ripgrep(ctx context.Context, q Query) ([]Match, bool, error) {
	rgCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	cmd := procutil.Command(rgCtx, s.root, s.rgPath, s.ripgrepArgs(q)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, false, fmt.Errorf("ripgrep stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, false, fmt.Errorf("start ripgrep: %w: %w", apperr.ErrExternalTool, err)
	}

	matches, truncated, parseErr := parseRipgrep(stdout, q.MaxResults)
	if truncated || parseErr != nil {
		cancel()
	}
	waitErr := cmd.Wait()

	if parseErr != nil {
		return nil, false, fmt.Errorf("ripgrep output: %w: %w", apperr.ErrExternalTool, parseErr)
	}
	if truncated {
		return matches, true, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	if waitErr != nil {
		var exitErr *exec.ExitError
		// Exit status 1 means no line matched.
		if errors.As(waitErr, &exitErr) && exitErr.ExitCode() == 1 && len(matches) == 0 {
			return []Match{}, false, nil
		}
		return nil, false, fmt.Errorf("ripgrep failed: %w: %w: %s",
			apperr.ErrExternalTool, waitErr, strings.TrimSpace(stderr.String()))
	}
	return matches, false, nil
}

// parseRipgrep decodes ripgrep's JSON lines into matches. It returns
// truncated=true as soon as more than limit matches were read.
func parseRipgrep(r io.Reader, limit int) ([]Match, bool, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxJSONLine)

	matches := make([]Match, 0, min(limit, 64))
	for sc.Scan() {
		line := sc.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var msg rgMessage
		if err := json.Unmarshal(line, &msg); err != nil {
			return nil, false, fmt.Errorf("decode record: %w", err)
		}
		if msg.Type != "match" {
			continue
		}
		// Non-UTF-8 paths cannot be expressed as virtual paths.
		if msg.Data.Path.Text == nil || msg.Data.Lines.Text == nil {
			continue
		}
		if len(matches) == limit {
			return matches, true, nil
		}
		matches = append(matches, Match{
			Path: "/" + strings.TrimPrefix(filepath.ToSlash(*msg.Data.Path.Text), "./"),
			Line: msg.Data.LineNumber,
			Text: clipLine(*msg.Data.Lines.Text),
		})
	}
	if err := sc.Err(); err != nil {
		return nil, false, err
	}
	return matches, false, nil
}
