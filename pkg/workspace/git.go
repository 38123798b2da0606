package workspace

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

var errGitTimeout = errors.New("timed out")

// runGit executes git in dir with a bounded lifetime and returns its combined output.
func runGit(ctx context.Context, dir string, timeout time.Duration, args ...string) (string, error) {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, "git", args...)
	cmd.Dir = dir
	cmd.WaitDelay = 5 * time.Second

	output, err := cmd.CombinedOutput()
	if err != nil {
		if execCtx.Err() == context.DeadlineExceeded {
			return string(output), fmt.Errorf("git %s %w after %s", args[0], errGitTimeout, timeout)
		}
		return string(output), fmt.Errorf("git %s failed: %w\nOutput: %s", args[0], err, strings.TrimSpace(string(output)))
	}
	return string(output), nil
}

// probeGit reports whether repoRoot is inside a git work tree with at least one commit.
func probeGit(ctx context.Context, repoRoot string, timeout time.Duration) error {
	if _, err := exec.LookPath("git"); err != nil {
		return fmt.Errorf("git executable not found: %w", err)
	}
	out, err := runGit(ctx, repoRoot, timeout, "rev-parse", "--is-inside-work-tree")
	if err != nil {
		return err
	}
	if strings.TrimSpace(out) != "true" {
		return fmt.Errorf("%s is not inside a git work tree", repoRoot)
	}
	if _, err := runGit(ctx, repoRoot, timeout, "rev-parse", "--verify", "HEAD"); err != nil {
		return fmt.Errorf("repository has no commits: %w", err)
	}
	return nil
}

// branchExists checks for a local branch.
func branchExists(ctx context.Context, repoRoot, branch string, timeout time.Duration) bool {
	_, err := runGit(ctx, repoRoot, timeout, "show-ref", "--verify", "--quiet", "refs/heads/"+branch)
	return err == nil
}

// ValidateBranchName rejects names git would refuse. Errors wrap ErrInvalidBranch.
func ValidateBranchName(ctx context.Context, branch string, timeout time.Duration) error {
	if strings.TrimSpace(branch) == "" {
		return fmt.Errorf("%w: branch name cannot be empty", ErrInvalidBranch)
	}
	if strings.HasPrefix(branch, "-") {
		return fmt.Errorf("%w: %q", ErrInvalidBranch, branch)
	}
	if _, err := exec.LookPath("git"); err != nil {
		// nothing more to check without git
		return nil
	}
	out, err := runGit(ctx, ".", timeout, "check-ref-format", "--branch", branch)
	if err != nil {
		if errors.Is(err, errGitTimeout) {
			return err
		}
		return fmt.Errorf("%w: %q: %s", ErrInvalidBranch, branch, strings.TrimSpace(out))
	}
	return nil
}

// checkedOutIn reports whether branch is the checked-out branch of any
// worktree of repoRoot, the main one included.
func checkedOutIn(ctx context.Context, repoRoot, branch string, timeout time.Duration) (bool, error) {
	out, err := runGit(ctx, repoRoot, timeout, "worktree", "list", "--porcelain")
	if err != nil {
		return false, err
	}
	want := "branch refs/heads/" + branch
	for _, line := range strings.Split(out, "\n") {
		if strings.TrimSpace(line) == want {
			return true, nil
		}
	}
	return false, nil
}
