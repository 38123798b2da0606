// Package workspace provisions disposable, isolated checkouts of a repository.
//
// Every dry-run or apply gets its own Workspace: a fresh directory on its own
// branch. Two strategies implement the same contract:
//
//   - WorktreeProvisioner uses `git worktree add` on a new branch based on HEAD.
//   - CopyProvisioner recursively copies the repository, skipping VCS metadata,
//     dependency directories and build output.
//
// FallbackProvisioner probes for git support at runtime and falls back to the
// copy strategy when worktrees are unavailable. Destroy is best-effort and
// idempotent for all strategies.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Strategy names how a Workspace was created.
type Strategy string

const (
	// StrategyWorktree is a git worktree on its own branch
	StrategyWorktree Strategy = "worktree"
	// StrategyCopy is a plain recursive copy without VCS metadata
	StrategyCopy Strategy = "copy"
)

var (
	// ErrInvalidBranch is returned for branch names git would refuse.
	ErrInvalidBranch = errors.New("invalid branch name")
	// ErrBranchInUse is returned when the branch is checked out in another worktree.
	ErrBranchInUse = errors.New("branch is checked out in another worktree")
)

// Workspace is one isolated checkout. It is owned by exactly one operation.
type Workspace struct {
	// Root is the absolute directory holding the checkout.
	Root string `json:"root"`
	// Branch is the branch the checkout is on (informational for copies).
	Branch string `json:"branch"`
	// Strategy records which provisioner created it.
	Strategy Strategy `json:"strategy"`
	// RepoRoot is the repository the workspace was provisioned from.
	RepoRoot string `json:"repo_root"`

	branchCreated bool
	mu            sync.Mutex
	destroyed     bool
	keepBranch    bool
}

// HasVCS reports whether the workspace can commit and push.
func (w *Workspace) HasVCS() bool {
	return w != nil && w.Strategy == StrategyWorktree
}

// KeepBranch leaves the branch in place on Destroy, even when the
// provisioner created it. Call it once the branch holds a commit that
// exists nowhere else.
func (w *Workspace) KeepBranch() {
	if w == nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.keepBranch = true
}

func (w *Workspace) branchKept() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.keepBranch
}

// markDestroyed returns false when the workspace was already torn down.
func (w *Workspace) markDestroyed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.destroyed {
		return false
	}
	w.destroyed = true
	return true
}

// Provisioner creates and destroys workspaces.
type Provisioner interface {
	// Provision creates a new workspace checked out on branch.
	Provision(ctx context.Context, branch string) (*Workspace, error)

	// Destroy tears the workspace down. It never fails: problems are logged.
	// It must tolerate nil and partially created workspaces and repeated calls.
	Destroy(ctx context.Context, ws *Workspace)
}

// Config controls provisioning.
type Config struct {
	// Strategy is auto, worktree or copy.
	Strategy string `yaml:"strategy" json:"strategy"`
	// TempDir is the parent of workspace directories. Defaults to os.TempDir().
	TempDir string `yaml:"temp_dir" json:"temp_dir"`
	// Prefix names workspace directories: <prefix>-<timestamp>-<random>.
	Prefix string `yaml:"prefix" json:"prefix"`
	// GitTimeout bounds each git subprocess.
	GitTimeout time.Duration `yaml:"git_timeout" json:"git_timeout"`
	// Exclude lists extra directory names skipped by the copy strategy.
	Exclude []string `yaml:"exclude" json:"exclude"`
}

// DefaultConfig returns provisioning defaults.
func DefaultConfig() Config {
	return Config{
		Strategy:   "auto",
		Prefix:     "patchgate-ws",
		GitTimeout: 60 * time.Second,
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	switch c.Strategy {
	case "", "auto", string(StrategyWorktree), string(StrategyCopy):
	default:
		return fmt.Errorf("invalid workspace strategy: %s (must be 'auto', 'worktree' or 'copy')", c.Strategy)
	}
	if c.GitTimeout < 0 {
		return fmt.Errorf("git_timeout cannot be negative")
	}
	return nil
}

// makeTempDir creates a fresh, empty, uniquely named directory for a
// workspace. It refuses to hand out the repository root.
func makeTempDir(cfg Config, repoRoot string) (string, error) {
	base := cfg.TempDir
	if base == "" {
		base = os.TempDir()
	}
	if err := os.MkdirAll(base, 0755); err != nil {
		return "", fmt.Errorf("failed to create workspace base directory: %w", err)
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "patchgate-ws"
	}
	pattern := fmt.Sprintf("%s-%s-%s-*", prefix, time.Now().Format("20060102-150405"), shortID())

	dir, err := os.MkdirTemp(base, pattern)
	if err != nil {
		return "", fmt.Errorf("failed to create workspace directory: %w", err)
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		_ = os.RemoveAll(dir)
		return "", fmt.Errorf("failed to resolve workspace directory: %w", err)
	}
	if samePath(abs, repoRoot) {
		_ = os.RemoveAll(dir)
		return "", fmt.Errorf("workspace directory resolves to the repository root")
	}
	return abs, nil
}

// GenerateBranchName generates a collision-resistant branch name.
func GenerateBranchName(prefix string) string {
	timestamp := time.Now().Format("20060102-150405")
	return fmt.Sprintf("%s-%s-%s", prefix, timestamp, shortID())
}

func shortID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

func samePath(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	ea, erra := filepath.EvalSymlinks(a)
	eb, errb := filepath.EvalSymlinks(b)
	if erra == nil && errb == nil {
		return ea == eb
	}
	return filepath.Clean(a) == filepath.Clean(b)
}

// removeDir deletes a workspace directory, refusing the repository root.
func removeDir(ws *Workspace) error {
	if ws.Root == "" {
		return nil
	}
	if samePath(ws.Root, ws.RepoRoot) {
		return fmt.Errorf("workspace path %q is the repository root; refusing removal", ws.Root)
	}
	return os.RemoveAll(ws.Root)
}
