package workspace

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/entrhq/patchgate/pkg/logging"
)

// WorktreeProvisioner creates workspaces with `git worktree add`.
type WorktreeProvisioner struct {
	repoRoot string
	config   Config
	logger   *logging.Logger
}

// NewWorktreeProvisioner creates a worktree-based provisioner for repoRoot.
func NewWorktreeProvisioner(repoRoot string, config Config, logger *logging.Logger) (*WorktreeProvisioner, error) {
	abs, err := filepath.Abs(repoRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve repository root: %w", err)
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &WorktreeProvisioner{repoRoot: abs, config: config, logger: logger}, nil
}

// Provision adds a worktree on branch. A new branch is created from HEAD;
// an existing branch is checked out as is and left in place on Destroy.
func (p *WorktreeProvisioner) Provision(ctx context.Context, branch string) (*Workspace, error) {
	if err := ValidateBranchName(ctx, branch, p.config.GitTimeout); err != nil {
		return nil, err
	}
	if branchExists(ctx, p.repoRoot, branch, p.config.GitTimeout) {
		inUse, err := checkedOutIn(ctx, p.repoRoot, branch, p.config.GitTimeout)
		if err != nil {
			return nil, fmt.Errorf("failed to list worktrees: %w", err)
		}
		if inUse {
			return nil, fmt.Errorf("%w: %s", ErrBranchInUse, branch)
		}
	}

	dir, err := makeTempDir(p.config, p.repoRoot)
	if err != nil {
		return nil, err
	}

	ws := &Workspace{
		Root:     dir,
		Branch:   branch,
		Strategy: StrategyWorktree,
		RepoRoot: p.repoRoot,
	}

	args := []string{"worktree", "add"}
	if branchExists(ctx, p.repoRoot, branch, p.config.GitTimeout) {
		args = append(args, dir, branch)
	} else {
		args = append(args, "-b", branch, dir, "HEAD")
		ws.branchCreated = true
	}

	if _, err := runGit(ctx, p.repoRoot, p.config.GitTimeout, args...); err != nil {
		// The branch may or may not exist at this point; only claim it if we made it.
		ws.branchCreated = ws.branchCreated && branchExists(ctx, p.repoRoot, branch, p.config.GitTimeout)
		p.Destroy(ctx, ws)
		return nil, fmt.Errorf("failed to add worktree: %w", err)
	}

	p.logger.Infof("provisioned worktree %s on branch %s", dir, branch)
	return ws, nil
}

// Destroy removes the worktree registration, the branch if this provisioner
// created it and nobody asked to keep it, and finally the directory itself.
func (p *WorktreeProvisioner) Destroy(ctx context.Context, ws *Workspace) {
	if ws == nil || !ws.markDestroyed() {
		return
	}
	// cleanup must run even when the caller's context is already done
	ctx = context.WithoutCancel(ctx)

	if _, err := runGit(ctx, p.repoRoot, p.config.GitTimeout, "worktree", "remove", "--force", ws.Root); err != nil {
		p.logger.Warnf("worktree remove failed for %s: %v", ws.Root, err)
	}

	if ws.branchCreated && !ws.branchKept() {
		if _, err := runGit(ctx, p.repoRoot, p.config.GitTimeout, "branch", "-D", ws.Branch); err != nil {
			p.logger.Warnf("branch delete failed for %s: %v", ws.Branch, err)
		}
	}

	if err := removeDir(ws); err != nil {
		p.logger.Warnf("directory removal failed for %s: %v", ws.Root, err)
	}

	if _, err := runGit(ctx, p.repoRoot, p.config.GitTimeout, "worktree", "prune"); err != nil {
		p.logger.Warnf("worktree prune failed: %v", err)
	}

	p.logger.Infof("destroyed worktree %s", ws.Root)
}
