package git

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
)

const (
	DefaultLogLimit = 50
	MaxLogLimit     = 500

	// logFieldCount is the number of NUL-separated fields in logFormat.
	logFieldCount = 7
	// %H hash, %h short hash, %P parents, %s subject, %an author, %aI date, %D refs.
	// Records are separated by %x1e so that subjects cannot break framing.
	logFormat = "--format=%H%x00%h%x00%P%x00%s%x00%an%x00%aI%x00%D%x1e"
)

// Log returns up to limit commits reachable from HEAD, newest first.
// A limit <= 0 selects DefaultLogLimit; larger values are capped at MaxLogLimit.
// A repository without commits yields an empty list.
func (r *Repository) Log(ctx context.Context, limit int) ([]Commit, error) {
	if limit <= 0 {
		limit = DefaultLogLimit
	}
	limit = min(limit, MaxLogLimit)

	hasCommits, err := r.HasCommits(ctx)
	if err != nil {
		return nil, err
	}
	if !hasCommits {
		return []Commit{}, nil
	}

	output, err := r.runGitCommandRaw(ctx, "log", logFormat, "-n", strconv.Itoa(limit), "HEAD", "--")
	if err != nil {
		return nil, fmt.Errorf("git log: %w", err)
	}
	return parseLog(string(output)), nil
}

func parseLog(output string) []Commit {
	commits := make([]Commit, 0, strings.Count(output, "\x1e"))
	for record := range strings.SplitSeq(output, "\x1e") {
		record = strings.TrimLeft(record, "\r\n")
		if record == "" {
			continue
		}
		fields := strings.SplitN(record, "\x00", logFieldCount)
		if len(fields) < logFieldCount {
			slog.Debug("[DEBUG-GIT] skipping malformed log record", "fieldCount", len(fields))
			continue
		}
		commits = append(commits, Commit{
			Hash:      fields[0],
			ShortHash: fields[1],
			Parents:   strings.Fields(fields[2]),
			Subject:   fields[3],
			Author:    fields[4],
			Date:      fields[5],
			Refs:      parseRefs(fields[6]),
		})
	}
	return commits
}

// parseRefs splits a %D decoration ("HEAD -> main, origin/main, tag: v1").
func parseRefs(decoration string) []string {
	decoration = strings.TrimSpace(decoration)
	if decoration == "" {
		return nil
	}
	var refs []string
	for part := range strings.SplitSeq(decoration, ", ") {
		part = strings.TrimSpace(strings.TrimPrefix(part, "HEAD -> "))
		if part != "" {
			refs = append(refs, part)
		}
	}
	return refs
}

// Summary returns the branch, its tracking counts and the last commit.
func (r *Repository) Summary(ctx context.Context) (Summary, error) {
	st, err := r.Status(ctx)
	if err != nil {
		return Summary{}, err
	}
	sum := Summary{
		Branch:   st.Branch,
		Detached: st.Detached,
		Ahead:    st.Ahead,
		Behind:   st.Behind,
	}
	if !st.HasCommits {
		return sum, nil
	}
	commits, err := r.Log(ctx, 1)
	if err != nil {
		return Summary{}, err
	}
	if len(commits) > 0 {
		sum.LastCommit = &commits[0]
	}
	return sum, nil
}
