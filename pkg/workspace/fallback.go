package workspace

import (
	"context"
	"errors"
	"fmt"

	"github.com/entrhq/patchgate/pkg/logging"
)

// FallbackProvisioner prefers git worktrees and falls back to a plain copy
// when git is absent, the directory is not a repository, or the worktree
// command fails. Tooling unavailability is logged, never returned. A bad or
// busy target branch is the caller's problem and is returned as is.
type FallbackProvisioner struct {
	repoRoot string
	config   Config
	worktree *WorktreeProvisioner
	copier   *CopyProvisioner
	logger   *logging.Logger
}

// NewFallbackProvisioner creates a provisioner that selects a strategy per call.
func NewFallbackProvisioner(repoRoot string, config Config, logger *logging.Logger) (*FallbackProvisioner, error) {
	if logger == nil {
		logger = logging.Discard()
	}
	wt, err := NewWorktreeProvisioner(repoRoot, config, logger)
	if err != nil {
		return nil, err
	}
	cp, err := NewCopyProvisioner(repoRoot, config, logger)
	if err != nil {
		return nil, err
	}
	return &FallbackProvisioner{
		repoRoot: wt.repoRoot,
		config:   config,
		worktree: wt,
		copier:   cp,
		logger:   logger,
	}, nil
}

// Provision tries a worktree first, then a copy.
func (p *FallbackProvisioner) Provision(ctx context.Context, branch string) (*Workspace, error) {
	if err := probeGit(ctx, p.repoRoot, p.config.GitTimeout); err != nil {
		p.logger.Warnf("worktree isolation unavailable, using copy: %v", err)
		return p.copier.Provision(ctx, branch)
	}

	ws, err := p.worktree.Provision(ctx, branch)
	if err == nil {
		return ws, nil
	}
	if errors.Is(err, ErrInvalidBranch) || errors.Is(err, ErrBranchInUse) {
		return nil, err
	}
	p.logger.Warnf("worktree provisioning failed, using copy: %v", err)
	return p.copier.Provision(ctx, branch)
}

// Destroy dispatches on the strategy that created ws.
func (p *FallbackProvisioner) Destroy(ctx context.Context, ws *Workspace) {
	if ws == nil {
		return
	}
	switch ws.Strategy {
	case StrategyWorktree:
		p.worktree.Destroy(ctx, ws)
	default:
		p.copier.Destroy(ctx, ws)
	}
}

// New builds the provisioner named by config.Strategy.
func New(repoRoot string, config Config, logger *logging.Logger) (Provisioner, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	switch config.Strategy {
	case string(StrategyWorktree):
		return NewWorktreeProvisioner(repoRoot, config, logger)
	case string(StrategyCopy):
		return NewCopyProvisioner(repoRoot, config, logger)
	case "", "auto":
		return NewFallbackProvisioner(repoRoot, config, logger)
	default:
		return nil, fmt.Errorf("unknown workspace strategy: %s", config.Strategy)
	}
}
