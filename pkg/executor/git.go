package executor

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/entrhq/patchgate/pkg/config"
)

// ErrNoChanges is returned by Commit when the workspace has nothing staged.
var ErrNoChanges = errors.New("patch produced no changes to commit")

// GitError reports a failed git invocation.
type GitError struct {
	Args   []string
	Output string
	Err    error
}

func (e *GitError) Error() string {
	out := strings.TrimSpace(e.Output)
	if out == "" {
		return fmt.Sprintf("git %s failed: %v", strings.Join(e.Args, " "), e.Err)
	}
	return fmt.Sprintf("git %s failed: %v\nOutput: %s", strings.Join(e.Args, " "), e.Err, out)
}

func (e *GitError) Unwrap() error {
	return e.Err
}

// GitManager runs the commit and push steps inside one workspace.
type GitManager struct {
	workspaceDir string
	config       config.GitConfig
	log          strings.Builder
}

// NewGitManager creates a git manager for workspaceDir.
func NewGitManager(workspaceDir string, cfg config.GitConfig) *GitManager {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	if cfg.Remote == "" {
		cfg.Remote = "origin"
	}
	return &GitManager{workspaceDir: workspaceDir, config: cfg}
}

// Log returns the combined output of every git command run so far.
func (g *GitManager) Log() string {
	return g.log.String()
}

// CommitMessage renders the configured message for branch. The result
// always names the branch.
func (g *GitManager) CommitMessage(branch string) string {
	msg := g.config.CommitMessage
	if msg == "" {
		msg = "chore: apply automated patch to {branch}"
	}
	msg = strings.ReplaceAll(msg, "{branch}", branch)
	if !strings.Contains(msg, branch) {
		msg = fmt.Sprintf("%s\n\nBranch: %s", msg, branch)
	}
	return msg
}

// Commit stages everything, commits with the configured identity and
// returns the new HEAD sha.
func (g *GitManager) Commit(ctx context.Context, branch string) (string, error) {
	if _, err := g.execGit(ctx, "add", "-A"); err != nil {
		return "", fmt.Errorf("failed to stage changes: %w", err)
	}

	status, err := g.execGit(ctx, "status", "--porcelain")
	if err != nil {
		return "", fmt.Errorf("failed to check git status: %w", err)
	}
	if strings.TrimSpace(status) == "" {
		return "", ErrNoChanges
	}

	identity := fmt.Sprintf("%s <%s>", g.config.AuthorName, g.config.AuthorEmail)
	args := []string{
		"-c", "user.name=" + g.config.AuthorName,
		"-c", "user.email=" + g.config.AuthorEmail,
		"commit",
		"-m", g.CommitMessage(branch),
		"--author", identity,
	}
	if _, err := g.execGit(ctx, args...); err != nil {
		return "", fmt.Errorf("failed to create commit: %w", err)
	}

	sha, err := g.execGit(ctx, "rev-parse", "HEAD")
	if err != nil {
		return "", fmt.Errorf("failed to resolve commit: %w", err)
	}
	return strings.TrimSpace(sha), nil
}

// Push pushes branch to the configured remote.
func (g *GitManager) Push(ctx context.Context, branch string) error {
	if _, err := g.execGit(ctx, "push", g.config.Remote, branch); err != nil {
		return fmt.Errorf("failed to push branch '%s': %w", branch, err)
	}
	return nil
}

// execGit executes a git command and returns its output
func (g *GitManager) execGit(ctx context.Context, args ...string) (string, error) {
	execCtx, cancel := context.WithTimeout(ctx, g.config.Timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, "git", args...)
	cmd.Dir = g.workspaceDir
	cmd.WaitDelay = 5 * time.Second

	output, err := cmd.CombinedOutput()
	fmt.Fprintf(&g.log, "$ git %s\n%s", strings.Join(args, " "), output)

	if err != nil {
		if errors.Is(execCtx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("timed out after %s", g.config.Timeout)
		}
		return "", &GitError{Args: args, Output: string(output), Err: err}
	}
	return string(output), nil
}
