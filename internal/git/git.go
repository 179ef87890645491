// Package git shells out to git for the few pieces of repo state fuel
// cares about: whether a repo exists, the current HEAD, and the diff that
// review prompts embed.
package git

import (
	"fmt"
	"os/exec"
	"strings"
)

// Repo points git commands at a working directory.
type Repo struct {
	workDir string
}

// New creates a Repo for the given working directory.
func New(workDir string) *Repo {
	return &Repo{workDir: workDir}
}

// IsRepo checks if the working directory is inside a git repository.
func (r *Repo) IsRepo() bool {
	cmd := exec.Command("git", "rev-parse", "--is-inside-work-tree")
	cmd.Dir = r.workDir
	out, err := cmd.Output()
	return err == nil && strings.TrimSpace(string(out)) == "true"
}

// Head returns the current commit hash.
func (r *Repo) Head() (string, error) {
	cmd := exec.Command("git", "rev-parse", "HEAD")
	cmd.Dir = r.workDir
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("resolve HEAD: %w", err)
	}
	return strings.TrimSpace(string(out)), nil
}

// HasUncommittedChanges checks for uncommitted changes in the working tree.
func (r *Repo) HasUncommittedChanges() bool {
	cmd := exec.Command("git", "status", "--porcelain")
	cmd.Dir = r.workDir
	out, err := cmd.Output()
	if err != nil {
		return false
	}
	return strings.TrimSpace(string(out)) != ""
}

// Diff returns the current uncommitted changes, falling back to staged
// changes and then the last commit. Bounded so prompts stay sane.
func (r *Repo) Diff() string {
	for _, args := range [][]string{
		{"diff"},
		{"diff", "--cached"},
		{"diff", "HEAD~1"},
	} {
		cmd := exec.Command("git", args...)
		cmd.Dir = r.workDir
		out, err := cmd.Output()
		if err == nil && len(out) > 0 {
			return truncateDiff(string(out))
		}
	}
	return ""
}

// truncateDiff limits diff size to avoid blowing up the prompt.
func truncateDiff(diff string) string {
	const maxLen = 8000
	if len(diff) <= maxLen {
		return diff
	}
	return diff[:maxLen] + fmt.Sprintf("\n\n... (diff truncated, %d bytes total)", len(diff))
}
