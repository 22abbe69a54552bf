// Package workspace wraps the git operations performed against a project's
// working tree. Git runs as a subprocess; the workspace holds a lock so
// snapshots and restores never interleave with task artifact writes.
package workspace

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
)

// validRef accepts commit SHAs, branch and tag names. Anything else is
// refused before it reaches a git command line.
var validRef = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._/\-]*$`)

// Workspace is one project working tree.
type Workspace struct {
	dir string
	mu  sync.Mutex
}

// New returns a Workspace rooted at dir.
func New(dir string) *Workspace {
	return &Workspace{dir: dir}
}

// Dir returns the workspace root.
func (w *Workspace) Dir() string {
	return w.dir
}

// Lock takes the workspace lock. Task execution and restore both hold it so
// a restore never clobbers files a worker is writing.
func (w *Workspace) Lock() {
	w.mu.Lock()
}

// Unlock releases the workspace lock.
func (w *Workspace) Unlock() {
	w.mu.Unlock()
}

// git runs one git command in the workspace and returns trimmed stdout.
func (w *Workspace) git(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = w.dir
	// Identity must exist for commits regardless of host config.
	cmd.Env = append(os.Environ(),
		"GIT_AUTHOR_NAME=codeframe",
		"GIT_AUTHOR_EMAIL=codeframe@localhost",
		"GIT_COMMITTER_NAME=codeframe",
		"GIT_COMMITTER_EMAIL=codeframe@localhost",
	)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("git %s: %w: %s", args[0], err, strings.TrimSpace(string(out)))
	}
	return strings.TrimSpace(string(out)), nil
}

// Init initializes a repository in the workspace (no-op when one exists)
// and creates an empty root commit so snapshots always have a parent.
func (w *Workspace) Init(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := os.Stat(filepath.Join(w.dir, ".git")); err == nil {
		return nil
	}
	if _, err := w.git(ctx, "init", "-q"); err != nil {
		return err
	}
	if _, err := w.git(ctx, "commit", "-q", "--allow-empty", "-m", "workspace initialized"); err != nil {
		return err
	}
	return nil
}

// Clone populates the workspace from a remote. The workspace must be empty.
func (w *Workspace) Clone(ctx context.Context, url, branch string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	args := []string{"clone", "-q"}
	if branch != "" {
		if !validRef.MatchString(branch) {
			return fmt.Errorf("invalid branch name %q", branch)
		}
		args = append(args, "--branch", branch)
	}
	args = append(args, url, ".")

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = w.dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("git clone: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

// Head returns the current commit SHA.
func (w *Workspace) Head(ctx context.Context) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.git(ctx, "rev-parse", "HEAD")
}

// Snapshot stages everything and commits, returning the new HEAD. A clean
// tree commits empty so every snapshot yields a distinct, restorable SHA.
func (w *Workspace) Snapshot(ctx context.Context, message string) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := w.git(ctx, "add", "-A"); err != nil {
		return "", err
	}
	if _, err := w.git(ctx, "commit", "-q", "--allow-empty", "-m", message); err != nil {
		return "", err
	}
	return w.git(ctx, "rev-parse", "HEAD")
}

// Restore hard-resets the working tree to the given commit and drops
// untracked files, returning the tree to exactly the snapshot state.
func (w *Workspace) Restore(ctx context.Context, sha string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !validRef.MatchString(sha) {
		return fmt.Errorf("invalid git ref %q", sha)
	}
	if _, err := w.git(ctx, "reset", "--hard", sha); err != nil {
		return err
	}
	if _, err := w.git(ctx, "clean", "-fd", "-q"); err != nil {
		return err
	}
	return nil
}

// Diff returns the patch between a commit and the current HEAD.
func (w *Workspace) Diff(ctx context.Context, sha string) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !validRef.MatchString(sha) {
		return "", fmt.Errorf("invalid git ref %q", sha)
	}
	return w.git(ctx, "diff", sha, "HEAD")
}

// ChangedFiles lists paths touched between a commit and HEAD.
func (w *Workspace) ChangedFiles(ctx context.Context, sha string) ([]string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !validRef.MatchString(sha) {
		return nil, fmt.Errorf("invalid git ref %q", sha)
	}
	out, err := w.git(ctx, "diff", "--name-only", sha, "HEAD")
	if err != nil {
		return nil, err
	}
	if out == "" {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}
