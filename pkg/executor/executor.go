// Package executor runs patches through the dry-run and apply pipelines.
//
// Both pipelines provision an isolated workspace, apply the patch under the
// allowlist, and run preflight gates. Apply then commits and pushes the
// target branch when no critical gate failed. The workspace is destroyed on
// every exit path, and every failure, including panics, is reported as a
// Result with OK false.
package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/entrhq/patchgate/pkg/audit"
	"github.com/entrhq/patchgate/pkg/config"
	"github.com/entrhq/patchgate/pkg/logging"
	"github.com/entrhq/patchgate/pkg/patch"
	"github.com/entrhq/patchgate/pkg/preflight"
	"github.com/entrhq/patchgate/pkg/security/allowlist"
	"github.com/entrhq/patchgate/pkg/workspace"
)

// Executor is safe for concurrent use; runs share no mutable state.
type Executor struct {
	config      *config.Config
	provisioner workspace.Provisioner
	applier     patch.Applier
	preflight   *preflight.Runner
	audit       *audit.Client
	artifacts   *ArtifactWriter
	guard       *allowlist.Guard
	logger      *logging.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithProvisioner replaces the provisioner built from the workspace config.
func WithProvisioner(p workspace.Provisioner) Option {
	return func(e *Executor) { e.provisioner = p }
}

// WithApplier replaces the default patch applier.
func WithApplier(a patch.Applier) Option {
	return func(e *Executor) { e.applier = a }
}

// WithAuditClient replaces the client built by DefaultAuditClient.
func WithAuditClient(c *audit.Client) Option {
	return func(e *Executor) { e.audit = c }
}

// WithLogger sets the logger shared by every collaborator. Nil is ignored.
func WithLogger(l *logging.Logger) Option {
	return func(e *Executor) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewExecutor validates cfg and wires the default collaborators for anything
// not supplied through options.
func NewExecutor(cfg *config.Config, opts ...Option) (*Executor, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	e := &Executor{config: cfg, logger: logging.Discard()}
	for _, opt := range opts {
		opt(e)
	}

	guard, err := cfg.Guard()
	if err != nil {
		return nil, err
	}
	e.guard = guard

	if e.provisioner == nil {
		p, err := workspace.New(cfg.RepoRoot, cfg.Workspace, e.logger.With("workspace"))
		if err != nil {
			return nil, fmt.Errorf("failed to create workspace provisioner: %w", err)
		}
		e.provisioner = p
	}
	if e.applier == nil {
		e.applier = patch.NewApplier(e.logger.With("patch"))
	}

	runner, err := preflight.NewRunner(cfg.Preflight, e.logger.With("preflight"))
	if err != nil {
		return nil, err
	}
	e.preflight = runner

	if e.audit == nil {
		e.audit = DefaultAuditClient(cfg, e.logger)
	}
	if cfg.Artifacts.Enabled {
		e.artifacts = NewArtifactWriter(cfg.Artifacts.OutputDir)
	}
	return e, nil
}

// DefaultAuditSinks builds the log and file sinks named by cfg.
func DefaultAuditSinks(cfg *config.Config, logger *logging.Logger) []audit.Sink {
	var sinks []audit.Sink
	if cfg.Audit.Log {
		sinks = append(sinks, audit.NewLogSink(logger.With("audit")))
	}
	if cfg.Audit.File != "" {
		sinks = append(sinks, audit.NewFileSink(cfg.Audit.File))
	}
	return sinks
}

// DefaultAuditClient wraps DefaultAuditSinks in a client.
func DefaultAuditClient(cfg *config.Config, logger *logging.Logger) *audit.Client {
	return audit.NewClient(DefaultAuditSinks(cfg, logger), audit.WithLogger(logger.With("audit")))
}

// Audit returns the audit client so callers can Wait for delivery.
func (e *Executor) Audit() *audit.Client {
	return e.audit
}

// DryRun applies and gates req.Patch on a throwaway branch. It never
// commits or pushes. OK is true whenever the patch applied, regardless of
// gate outcomes.
func (e *Executor) DryRun(ctx context.Context, req Request) *Result {
	branch := workspace.GenerateBranchName(e.config.BranchPrefix + "-dryrun")
	return e.execute(ctx, OperationDryRun, req, branch)
}

// Apply applies and gates req.Patch on req.Branch, then commits and pushes
// when no critical gate failed.
func (e *Executor) Apply(ctx context.Context, req Request) *Result {
	return e.execute(ctx, OperationApply, req, strings.TrimSpace(req.Branch))
}

func (e *Executor) execute(ctx context.Context, op Operation, req Request, branch string) (res *Result) {
	// callers cannot abort a run halfway; subprocess timeouts bound it instead
	ctx = context.WithoutCancel(ctx)

	res = &Result{
		ExecutionID: uuid.New().String(),
		ProposalID:  req.ProposalID,
		Operation:   op,
		BranchName:  branch,
		StartTime:   time.Now(),
	}
	res.transition(StateIdle)
	logger := e.logger.With("executor")

	e.audit.ExecutionStarted(ctx, req.ProposalID, res.ExecutionID, string(op))
	logger.Infof("%s %s started (proposal=%s branch=%s)", op, res.ExecutionID, req.ProposalID, branch)

	defer e.finish(ctx, res, logger)
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("%s %s panicked: %v", op, res.ExecutionID, r)
			res.fail("internal error: %v", r)
		}
	}()

	if op == OperationApply && branch == "" {
		return res.fail("target branch is required for apply")
	}
	if err := req.Patch.Validate(); err != nil {
		return res.fail("%v", err)
	}

	guard := req.Allowlist
	if guard == nil {
		guard = e.guard
	}

	ws, err := e.provisioner.Provision(ctx, branch)
	if err != nil {
		return res.fail("workspace provisioning failed: %v", err)
	}
	defer e.provisioner.Destroy(ctx, ws)
	res.Strategy = ws.Strategy
	res.transition(StateProvisioned)
	if op == OperationApply && !ws.HasVCS() {
		return res.fail("workspace provisioning failed: %s workspace has no version control metadata; cannot commit", ws.Strategy)
	}

	changes, err := e.applier.Apply(ctx, req.Patch, ws.Root, guard)
	if err != nil {
		return res.fail("%v", err)
	}
	res.Changes = changes
	res.addLog("apply", describeChanges(changes))
	res.transition(StatePatchApplied)

	checklist := e.preflight.Run(ctx, ws.Root)
	res.Checklist = checklist
	for check, log := range checklist.Logs {
		res.addLog(string(check), log)
	}
	res.transition(StateGated)
	e.audit.PreflightCompleted(ctx, req.ProposalID, res.ExecutionID, string(op), checklist)
	logger.Infof("%s %s preflight: %s", op, res.ExecutionID, checklist.Summary())

	if op == OperationDryRun {
		res.OK = true
		return res
	}

	if failed := checklist.CriticalFailures(e.preflight.Critical()); len(failed) > 0 {
		return res.fail("critical preflight gates failed: %s", preflight.JoinChecks(failed))
	}
	return e.commitAndPush(ctx, res, ws, req.ProposalID, logger)
}

func (e *Executor) commitAndPush(ctx context.Context, res *Result, ws *workspace.Workspace, proposalID string, logger *logging.Logger) *Result {
	git := NewGitManager(ws.Root, e.config.Git)

	sha, err := git.Commit(ctx, res.BranchName)
	res.addLog("git", git.Log())
	if err != nil {
		e.audit.ApplyCompleted(ctx, proposalID, res.ExecutionID, audit.ApplyInfo{
			Branch: res.BranchName, ApplyLog: git.Log(),
		})
		return res.fail("%v", err)
	}
	res.CommitSHA = sha
	res.transition(StateCommitted)
	logger.Infof("apply %s committed %s on %s", res.ExecutionID, sha, res.BranchName)

	if !e.config.Git.Push {
		ws.KeepBranch()
		logger.Infof("apply %s: push disabled, branch %s kept locally", res.ExecutionID, res.BranchName)
	} else {
		err = git.Push(ctx, res.BranchName)
		res.addLog("git", git.Log())
		if err != nil {
			// the local branch is the only ref left holding the commit
			ws.KeepBranch()
			e.audit.ApplyCompleted(ctx, proposalID, res.ExecutionID, audit.ApplyInfo{
				Branch: res.BranchName, CommitSHA: sha, ApplyLog: git.Log(),
			})
			return res.fail("%v", err)
		}
	}

	res.OK = true
	if e.config.Git.Push {
		res.Rollback = BuildRollback(e.config.Git.Remote, res.BranchName, sha)
	} else {
		res.Rollback = BuildLocalRollback(res.BranchName, sha)
	}
	e.audit.ApplyCompleted(ctx, proposalID, res.ExecutionID, audit.ApplyInfo{
		Branch: res.BranchName, CommitSHA: sha, ApplyLog: git.Log(), Success: true,
	})
	return res
}

// finish runs after the workspace is destroyed.
func (e *Executor) finish(ctx context.Context, res *Result, logger *logging.Logger) {
	if res.State != StateCommitted {
		res.transition(StateDiscarded)
	}
	res.EndTime = time.Now()
	res.Duration = res.EndTime.Sub(res.StartTime)

	if res.OK {
		logger.Infof("%s %s succeeded in %s", res.Operation, res.ExecutionID, res.Duration.Round(time.Millisecond))
	} else {
		logger.Warnf("%s %s failed: %s", res.Operation, res.ExecutionID, res.Reason)
	}

	if e.artifacts != nil {
		if err := e.artifacts.WriteAll(res); err != nil {
			logger.Warnf("failed to write artifacts: %v", err)
		}
	}
	e.audit.ExecutionEnded(ctx, res.ProposalID, res.ExecutionID, string(res.Operation), res.Status(), res.Reason)
}

func describeChanges(r *patch.Report) string {
	if r == nil || len(r.Files) == 0 {
		return ""
	}
	var b strings.Builder
	for _, f := range r.Files {
		fmt.Fprintf(&b, "%s %s (+%d -%d)\n", f.Action, f.Path, f.LinesAdded, f.LinesRemoved)
	}
	return b.String()
}
