// Package git reads repository state for the git panel
package git

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
)

// ErrNotRepo is returned when the directory is not inside a git repository
var ErrNotRepo = errors.New("git: not a repository")

// FileStatus is one changed path from `git status --porcelain`
type FileStatus struct {
	Path     string `json:"path"`
	OrigPath string `json:"origPath,omitempty"` // Source of a rename or copy
	Index    byte   `json:"index"`              // Staged state (X column)
	Worktree byte   `json:"worktree"`           // Unstaged state (Y column)
}

// Staged reports whether the change is in the index
func (f FileStatus) Staged() bool {
	return f.Index != ' ' && f.Index != '?' && f.Index != '!'
}

// Untracked reports whether the path is not tracked
func (f FileStatus) Untracked() bool {
	return f.Index == '?'
}

// Status is the working tree state of one repository
type Status struct {
	Branch   string       `json:"branch"`
	Upstream string       `json:"upstream,omitempty"`
	Ahead    int          `json:"ahead"`
	Behind   int          `json:"behind"`
	Detached bool         `json:"detached"`
	Files    []FileStatus `json:"files"`
}

// Clean reports whether there is nothing to commit
func (s *Status) Clean() bool {
	return len(s.Files) == 0
}

// IsGitRepo checks if the given directory is inside a git repository
func IsGitRepo(ctx context.Context, dir string) bool {
	cmd := exec.CommandContext(ctx, "git", "-C", dir, "rev-parse", "--git-dir")
	return cmd.Run() == nil
}

// CLI reads repository state through the git binary
type CLI struct{}

// Status implements the git panel's status source
func (CLI) Status(ctx context.Context, dir string) (*Status, error) {
	return GetStatus(ctx, dir)
}

// GetStatus runs `git status --porcelain --branch` in dir
func GetStatus(ctx context.Context, dir string) (*Status, error) {
	if !IsGitRepo(ctx, dir) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s", ErrNotRepo, dir)
	}
	cmd := exec.CommandContext(ctx, "git", "-C", dir, "status", "--porcelain", "--branch", "--untracked-files=all")
	output, err := cmd.CombinedOutput()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("failed to get git status: %s: %w", strings.TrimSpace(string(output)), err)
	}
	return parseStatus(string(output)), nil
}

var trackingPattern = regexp.MustCompile(`\[(?:ahead (\d+))?(?:, )?(?:behind (\d+))?\]`)

// parseStatus parses the output of `git status --porcelain --branch`
func parseStatus(output string) *Status {
	st := &Status{Files: []FileStatus{}}

	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "## ") {
			parseBranchLine(st, strings.TrimPrefix(line, "## "))
			continue
		}
		if len(line) < 4 {
			continue
		}

		fs := FileStatus{Index: line[0], Worktree: line[1], Path: unquote(line[3:])}
		// Renames and copies are reported as "orig -> new"
		if fs.Index == 'R' || fs.Index == 'C' {
			if orig, path, ok := strings.Cut(line[3:], " -> "); ok {
				fs.OrigPath = unquote(orig)
				fs.Path = unquote(path)
			}
		}
		st.Files = append(st.Files, fs)
	}
	return st
}

func parseBranchLine(st *Status, line string) {
	// "No commits yet on main" for an unborn branch
	if rest, ok := strings.CutPrefix(line, "No commits yet on "); ok {
		st.Branch = rest
		return
	}
	if strings.HasPrefix(line, "HEAD (no branch)") {
		st.Detached = true
		return
	}

	head, tracking, _ := strings.Cut(line, " ")
	branch, upstream, _ := strings.Cut(head, "...")
	st.Branch = branch
	st.Upstream = upstream

	if m := trackingPattern.FindStringSubmatch(tracking); m != nil {
		st.Ahead, _ = strconv.Atoi(m[1])
		st.Behind, _ = strconv.Atoi(m[2])
	}
}

// unquote undoes git's C-style quoting of paths with special characters
func unquote(path string) string {
	if len(path) >= 2 && path[0] == '"' && path[len(path)-1] == '"' {
		if s, err := strconv.Unquote(path); err == nil {
			return s
		}
	}
	return path
}
