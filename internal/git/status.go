package git

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
)

// Status reports branch tracking information and every changed path of the
// workspace, in the order git lists them.
func (r *Repository) Status(ctx context.Context) (Status, error) {
	output, err := r.runGitCommandRaw(ctx,
		"status", "--porcelain=v2", "--branch", "-z", "--untracked-files=all", "--", ".")
	if err != nil {
		return Status{}, fmt.Errorf("git status: %w", err)
	}
	return r.parseStatus(output), nil
}

// parseStatus parses NUL-terminated porcelain v2 output.
//
//	# branch.oid <commit> | (initial)
//	# branch.head <branch> | (detached)
//	# branch.upstream <upstream>
//	# branch.ab +<ahead> -<behind>
//	1 <XY> <sub> <mH> <mI> <mW> <hH> <hI> <path>
//	2 <XY> <sub> <mH> <mI> <mW> <hH> <hI> <X><score> <path>NUL<origPath>
//	u <XY> <sub> <m1> <m2> <m3> <mW> <h1> <h2> <h3> <path>
//	? <path>
func (r *Repository) parseStatus(output []byte) Status {
	st := Status{HasCommits: true, Changed: []ChangeRecord{}}
	tokens := strings.Split(string(output), "\x00")

	for i := 0; i < len(tokens); i++ {
		token := tokens[i]
		if token == "" {
			continue
		}
		switch token[0] {
		case '#':
			parseBranchHeader(token, &st)
		case '1':
			fields := strings.SplitN(token, " ", 9)
			if len(fields) < 9 || len(fields[1]) != 2 {
				slog.Debug("[DEBUG-GIT] skipping malformed status entry", "entry", token)
				continue
			}
			r.appendRecord(&st, fields[8], "", fields[1], false)
		case '2':
			fields := strings.SplitN(token, " ", 10)
			if len(fields) < 10 || len(fields[1]) != 2 {
				slog.Debug("[DEBUG-GIT] skipping malformed status entry", "entry", token)
				continue
			}
			origPath := ""
			if i+1 < len(tokens) {
				i++
				origPath = tokens[i]
			}
			r.appendRecord(&st, fields[9], origPath, fields[1], false)
		case 'u':
			fields := strings.SplitN(token, " ", 11)
			if len(fields) < 11 || len(fields[1]) != 2 {
				slog.Debug("[DEBUG-GIT] skipping malformed status entry", "entry", token)
				continue
			}
			r.appendRecord(&st, fields[10], "", fields[1], true)
		case '?':
			if len(token) > 2 {
				r.appendRecord(&st, token[2:], "", "??", false)
			}
		case '!':
			// Ignored entries are not requested.
		}
	}
	return st
}

func parseBranchHeader(line string, st *Status) {
	key, value, _ := strings.Cut(strings.TrimPrefix(line, "# "), " ")
	switch key {
	case "branch.oid":
		st.HasCommits = value != "(initial)"
	case "branch.head":
		if value == "(detached)" {
			st.Detached = true
			return
		}
		st.Branch = value
	case "branch.upstream":
		st.Upstream = value
	case "branch.ab":
		for part := range strings.FieldsSeq(value) {
			n, err := strconv.Atoi(strings.TrimLeft(part, "+-"))
			if err != nil {
				continue
			}
			if strings.HasPrefix(part, "+") {
				st.Ahead = n
			} else if strings.HasPrefix(part, "-") {
				st.Behind = n
			}
		}
	}
}

func (r *Repository) appendRecord(st *Status, repoPath, repoOrigPath, xy string, conflicted bool) {
	rel, ok := r.toWorkspaceRel(repoPath)
	if !ok {
		return
	}
	rec := ChangeRecord{
		Path:       "/" + rel,
		Index:      charToStatus(xy[0]),
		Working:    charToStatus(xy[1]),
		Conflicted: conflicted,
	}
	if repoOrigPath != "" {
		if origRel, origOK := r.toWorkspaceRel(repoOrigPath); origOK {
			rec.OrigPath = "/" + origRel
		}
	}
	st.Changed = append(st.Changed, rec)
}

// charToStatus maps a porcelain status letter onto a StatusCode.
// Copies are reported as additions; type changes and conflict markers as
// modifications.
func charToStatus(c byte) StatusCode {
	switch c {
	case '.', ' ':
		return StatusUnmodified
	case 'M', 'T', 'U':
		return StatusModified
	case 'A', 'C':
		return StatusAdded
	case 'D':
		return StatusDeleted
	case 'R':
		return StatusRenamed
	case '?':
		return StatusUntracked
	default:
		return StatusModified
	}
}
