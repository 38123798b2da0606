package executor

import (
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/patchgate/pkg/audit"
	"github.com/entrhq/patchgate/pkg/config"
	"github.com/entrhq/patchgate/pkg/patch"
	"github.com/entrhq/patchgate/pkg/preflight"
	"github.com/entrhq/patchgate/pkg/security/allowlist"
	"github.com/entrhq/patchgate/pkg/workspace"
)

// testRepo is a repository with a bare "origin" remote.
type testRepo struct {
	dir    string
	remote string
}

func setupTestRepo(t *testing.T) testRepo {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}

	base := t.TempDir()
	remote := filepath.Join(base, "remote.git")
	dir := filepath.Join(base, "repo")
	require.NoError(t, os.MkdirAll(dir, 0755))

	runGitT(t, base, "init", "-q", "--bare", remote)
	runGitT(t, dir, "init", "-q")
	runGitT(t, dir, "config", "user.email", "test@example.com")
	runGitT(t, dir, "config", "user.name", "Test User")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("# Test Repository\n"), 0644))
	runGitT(t, dir, "add", "README.md")
	runGitT(t, dir, "commit", "-q", "-m", "Initial commit")
	runGitT(t, dir, "remote", "add", "origin", remote)

	return testRepo{dir: dir, remote: remote}
}

func runGitT(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("git %s failed: %v (%s)", strings.Join(args, " "), err, out)
	}
	return string(out)
}

func remoteHasBranch(t *testing.T, remote, branch string) (string, bool) {
	t.Helper()
	cmd := exec.Command("git", "--git-dir", remote, "rev-parse", "--verify", "refs/heads/"+branch)
	out, err := cmd.Output()
	if err != nil {
		return "", false
	}
	return strings.TrimSpace(string(out)), true
}

func testConfig(t *testing.T, repo string) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.RepoRoot = repo
	cfg.Workspace.TempDir = t.TempDir()
	cfg.Preflight.Profile = "node"
	cfg.Audit.Log = false
	return cfg
}

func gateOverride(cfg *config.Config, check, script string) {
	if cfg.Preflight.Gates == nil {
		cfg.Preflight.Gates = map[string]preflight.GateOverride{}
	}
	cfg.Preflight.Gates[check] = preflight.GateOverride{Command: []string{"sh", "-c", script}}
}

// spyProvisioner records workspaces and lets tests inspect them before teardown.
type spyProvisioner struct {
	workspace.Provisioner

	mu          sync.Mutex
	provisioned []*workspace.Workspace
	beforeClean func(ws *workspace.Workspace)
}

func (s *spyProvisioner) Provision(ctx context.Context, branch string) (*workspace.Workspace, error) {
	ws, err := s.Provisioner.Provision(ctx, branch)
	if err == nil {
		s.mu.Lock()
		s.provisioned = append(s.provisioned, ws)
		s.mu.Unlock()
	}
	return ws, err
}

func (s *spyProvisioner) Destroy(ctx context.Context, ws *workspace.Workspace) {
	if s.beforeClean != nil {
		s.beforeClean(ws)
	}
	s.Provisioner.Destroy(ctx, ws)
}

func newSpy(t *testing.T, cfg *config.Config) *spyProvisioner {
	t.Helper()
	p, err := workspace.New(cfg.RepoRoot, cfg.Workspace, nil)
	require.NoError(t, err)
	return &spyProvisioner{Provisioner: p}
}

type memorySink struct {
	mu    sync.Mutex
	kinds []audit.Kind
}

func (s *memorySink) Name() string { return "memory" }
func (s *memorySink) Record(_ context.Context, e audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.kinds = append(s.kinds, e.Kind)
	return nil
}

func readmePatch() patch.Patch {
	return patch.Operations(patch.Operation{Path: "readme.md", Op: patch.OpAdd, Content: "hello"})
}

func assertNoWorkspacesLeft(t *testing.T, cfg *config.Config) {
	t.Helper()
	entries, err := os.ReadDir(cfg.Workspace.TempDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "workspace directories must be removed")
}

func TestDryRun_AppliesAndNeverCommits(t *testing.T) {
	repo := setupTestRepo(t)
	cfg := testConfig(t, repo.dir)

	spy := newSpy(t, cfg)
	var content string
	spy.beforeClean = func(ws *workspace.Workspace) {
		data, _ := os.ReadFile(filepath.Join(ws.Root, "readme.md"))
		content = string(data)
	}

	e, err := NewExecutor(cfg, WithProvisioner(spy))
	require.NoError(t, err)

	res := e.DryRun(context.Background(), Request{
		ProposalID: "p-1",
		Patch:      readmePatch(),
		Allowlist:  allowlist.MustNew("*.md"),
	})

	require.True(t, res.OK, res.Reason)
	assert.Equal(t, "hello", content)
	require.NotNil(t, res.Checklist)
	assert.Equal(t, preflight.StatusPass, res.Checklist.Tests)
	assert.Empty(t, res.CommitSHA)
	assert.Nil(t, res.Rollback)
	assert.Equal(t, []State{StateIdle, StateProvisioned, StatePatchApplied, StateGated, StateDiscarded}, res.Transitions)
	assert.True(t, strings.HasPrefix(res.BranchName, "patchgate-dryrun-"))
	assert.Contains(t, res.Logs["apply"], "readme.md")

	_, pushed := remoteHasBranch(t, repo.remote, res.BranchName)
	assert.False(t, pushed)
	_, err = os.Stat(filepath.Join(repo.dir, "readme.md"))
	assert.True(t, os.IsNotExist(err), "primary tree must not change")
	assertNoWorkspacesLeft(t, cfg)
}

func TestDryRun_ReportsGateFailuresWithoutBlocking(t *testing.T) {
	repo := setupTestRepo(t)
	cfg := testConfig(t, repo.dir)
	gateOverride(cfg, "tsc", "echo 'type error'; exit 1")

	e, err := NewExecutor(cfg)
	require.NoError(t, err)

	res := e.DryRun(context.Background(), Request{Patch: readmePatch()})
	require.True(t, res.OK, res.Reason)
	assert.Equal(t, preflight.StatusFail, res.Checklist.TSC)
	assert.Contains(t, res.Logs["tsc"], "type error")
}

func TestApply_DisallowedPath(t *testing.T) {
	repo := setupTestRepo(t)
	cfg := testConfig(t, repo.dir)

	e, err := NewExecutor(cfg)
	require.NoError(t, err)

	res := e.Apply(context.Background(), Request{
		Patch:     readmePatch(),
		Allowlist: allowlist.MustNew("src/**/*.ts"),
		Branch:    "demo-denied",
	})

	assert.False(t, res.OK)
	assert.Contains(t, res.Reason, "readme.md")
	assert.Nil(t, res.Checklist, "gating is skipped when the patch fails")
	assert.Empty(t, res.CommitSHA)

	_, pushed := remoteHasBranch(t, repo.remote, "demo-denied")
	assert.False(t, pushed)
	assertNoWorkspacesLeft(t, cfg)
}

func TestApply_CommitsAndPushes(t *testing.T) {
	repo := setupTestRepo(t)
	cfg := testConfig(t, repo.dir)

	mem := &memorySink{}
	client := audit.NewClient([]audit.Sink{mem})
	e, err := NewExecutor(cfg, WithAuditClient(client))
	require.NoError(t, err)

	res := e.Apply(context.Background(), Request{
		ProposalID: "p-demo",
		Patch:      readmePatch(),
		Allowlist:  allowlist.MustNew("*.md"),
		Branch:     "demo-1",
	})
	client.Wait()

	require.True(t, res.OK, res.Reason)
	assert.Equal(t, "demo-1", res.BranchName)
	assert.NotEmpty(t, res.CommitSHA)
	assert.Equal(t, StateCommitted, res.State)

	require.NotNil(t, res.Rollback)
	assert.Equal(t, res.CommitSHA, res.Rollback.CommitSHA)
	assert.Contains(t, res.Rollback.Text, res.CommitSHA)
	assert.Contains(t, res.Rollback.Commands, []string{"git", "revert", "--no-edit", res.CommitSHA})

	sha, pushed := remoteHasBranch(t, repo.remote, "demo-1")
	require.True(t, pushed)
	assert.Equal(t, res.CommitSHA, sha)

	show := exec.Command("git", "--git-dir", repo.remote, "show", "demo-1:readme.md")
	out, err := show.Output()
	require.NoError(t, err)
	assert.Equal(t, "hello", string(out))

	msg := exec.Command("git", "--git-dir", repo.remote, "log", "-1", "--format=%an%n%B", "demo-1")
	out, err = msg.Output()
	require.NoError(t, err)
	assert.Contains(t, string(out), "patchgate[bot]")
	assert.Contains(t, string(out), "demo-1")

	assert.ElementsMatch(t, []audit.Kind{
		audit.KindExecutionStarted,
		audit.KindPreflightCompleted,
		audit.KindApplyCompleted,
		audit.KindExecutionEnded,
	}, mem.kinds)
	assertNoWorkspacesLeft(t, cfg)
}

func TestApply_CriticalGateBlocksCommit(t *testing.T) {
	repo := setupTestRepo(t)

	for _, check := range []string{"tsc", "eslint", "build"} {
		t.Run(check, func(t *testing.T) {
			cfg := testConfig(t, repo.dir)
			gateOverride(cfg, check, "exit 1")

			e, err := NewExecutor(cfg)
			require.NoError(t, err)

			branch := "blocked-" + check
			res := e.Apply(context.Background(), Request{Patch: readmePatch(), Branch: branch})

			assert.False(t, res.OK)
			assert.Equal(t, "critical preflight gates failed: "+check, res.Reason)
			assert.Empty(t, res.CommitSHA)
			require.NotNil(t, res.Checklist)

			_, pushed := remoteHasBranch(t, repo.remote, branch)
			assert.False(t, pushed)
		})
	}
}

func TestApply_FailingTestsDoNotBlockByDefault(t *testing.T) {
	repo := setupTestRepo(t)
	cfg := testConfig(t, repo.dir)
	gateOverride(cfg, "tests", "exit 1")

	e, err := NewExecutor(cfg)
	require.NoError(t, err)

	res := e.Apply(context.Background(), Request{Patch: readmePatch(), Branch: "tests-red"})
	require.True(t, res.OK, res.Reason)
	assert.Equal(t, preflight.StatusFail, res.Checklist.Tests)

	t.Run("unless configured critical", func(t *testing.T) {
		cfg := testConfig(t, repo.dir)
		gateOverride(cfg, "tests", "exit 1")
		cfg.Preflight.CriticalGates = []string{"tsc", "eslint", "build", "tests"}

		e, err := NewExecutor(cfg)
		require.NoError(t, err)

		res := e.Apply(context.Background(), Request{Patch: readmePatch(), Branch: "tests-red-strict"})
		assert.False(t, res.OK)
		assert.Contains(t, res.Reason, "tests")
	})
}

func TestApply_PushFailureKeepsChecklistAndSha(t *testing.T) {
	repo := setupTestRepo(t)
	cfg := testConfig(t, repo.dir)
	cfg.Git.Remote = "nowhere"

	e, err := NewExecutor(cfg)
	require.NoError(t, err)

	res := e.Apply(context.Background(), Request{Patch: readmePatch(), Branch: "push-fails"})

	assert.False(t, res.OK)
	assert.Contains(t, res.Reason, "failed to push branch 'push-fails'")
	assert.NotEmpty(t, res.CommitSHA)
	assert.NotNil(t, res.Checklist)
	assert.Nil(t, res.Rollback)
	assertNoWorkspacesLeft(t, cfg)

	local := strings.TrimSpace(runGitT(t, repo.dir, "rev-parse", "refs/heads/push-fails"))
	assert.Equal(t, res.CommitSHA, local, "unpushed commit must stay reachable")
}

func TestApply_NoPushKeepsLocalBranch(t *testing.T) {
	repo := setupTestRepo(t)
	cfg := testConfig(t, repo.dir)
	cfg.Git.Push = false

	e, err := NewExecutor(cfg)
	require.NoError(t, err)

	res := e.Apply(context.Background(), Request{Patch: readmePatch(), Branch: "demo-1"})
	require.True(t, res.OK, res.Reason)
	require.NotEmpty(t, res.CommitSHA)

	local := strings.TrimSpace(runGitT(t, repo.dir, "rev-parse", "refs/heads/demo-1"))
	assert.Equal(t, res.CommitSHA, local)
	_, pushed := remoteHasBranch(t, repo.remote, "demo-1")
	assert.False(t, pushed)

	require.NotNil(t, res.Rollback)
	assert.Contains(t, res.Rollback.Text, "git revert --no-edit "+res.CommitSHA)
	assert.Contains(t, res.Rollback.Text, "git branch -D demo-1")
	assert.NotContains(t, res.Rollback.Text, "git fetch")
	assertNoWorkspacesLeft(t, cfg)
}

func TestApply_BranchProblemsFailBeforePatching(t *testing.T) {
	repo := setupTestRepo(t)
	current := strings.TrimSpace(runGitT(t, repo.dir, "rev-parse", "--abbrev-ref", "HEAD"))

	tests := []struct {
		name   string
		branch string
		want   string
	}{
		{name: "invalid name", branch: "bad..name", want: "invalid branch name"},
		{name: "checked out in repository", branch: current, want: "checked out in another worktree"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t, repo.dir)
			e, err := NewExecutor(cfg)
			require.NoError(t, err)

			res := e.Apply(context.Background(), Request{Patch: readmePatch(), Branch: tt.branch})
			assert.False(t, res.OK)
			assert.Contains(t, res.Reason, "workspace provisioning failed")
			assert.Contains(t, res.Reason, tt.want)
			assert.Empty(t, res.Strategy)
			assert.Nil(t, res.Checklist)
			assert.Equal(t, []State{StateIdle, StateDiscarded}, res.Transitions)
			assertNoWorkspacesLeft(t, cfg)
		})
	}
}

func TestApply_CopyWorkspaceCannotCommit(t *testing.T) {
	repo := setupTestRepo(t)
	cfg := testConfig(t, repo.dir)
	cfg.Workspace.Strategy = "copy"

	e, err := NewExecutor(cfg)
	require.NoError(t, err)

	res := e.Apply(context.Background(), Request{Patch: readmePatch(), Branch: "copy-branch"})
	assert.False(t, res.OK)
	assert.Contains(t, res.Reason, "no version control")
	assert.Equal(t, workspace.StrategyCopy, res.Strategy)
	assert.Nil(t, res.Checklist, "nothing is applied or gated in a workspace that cannot commit")
	assert.Nil(t, res.Changes)
	assert.Equal(t, []State{StateIdle, StateProvisioned, StateDiscarded}, res.Transitions)
	assertNoWorkspacesLeft(t, cfg)
}

func TestApply_NoChanges(t *testing.T) {
	repo := setupTestRepo(t)
	cfg := testConfig(t, repo.dir)

	e, err := NewExecutor(cfg)
	require.NoError(t, err)

	p := patch.Operations(patch.Operation{Path: "README.md", Op: patch.OpReplace, Content: "# Test Repository\n"})
	res := e.Apply(context.Background(), Request{Patch: p, Branch: "no-op"})
	assert.False(t, res.OK)
	assert.Contains(t, res.Reason, ErrNoChanges.Error())
}

func TestApply_RequiresBranch(t *testing.T) {
	repo := setupTestRepo(t)
	cfg := testConfig(t, repo.dir)
	spy := newSpy(t, cfg)

	e, err := NewExecutor(cfg, WithProvisioner(spy))
	require.NoError(t, err)

	res := e.Apply(context.Background(), Request{Patch: readmePatch(), Branch: "  "})
	assert.False(t, res.OK)
	assert.Contains(t, res.Reason, "target branch is required")
	assert.Empty(t, spy.provisioned)
}

func TestExecute_InvalidPatchFailsFast(t *testing.T) {
	repo := setupTestRepo(t)
	cfg := testConfig(t, repo.dir)
	spy := newSpy(t, cfg)

	e, err := NewExecutor(cfg, WithProvisioner(spy))
	require.NoError(t, err)

	res := e.DryRun(context.Background(), Request{Patch: patch.Patch{Kind: "tarball"}})
	assert.False(t, res.OK)
	assert.Contains(t, res.Reason, "invalid patch format")
	assert.Empty(t, spy.provisioned, "no workspace is created for a malformed patch")
}

type panickingApplier struct{}

func (panickingApplier) Apply(context.Context, patch.Patch, string, *allowlist.Guard) (*patch.Report, error) {
	panic("boom")
}

func TestExecute_PanicBecomesFailure(t *testing.T) {
	repo := setupTestRepo(t)
	cfg := testConfig(t, repo.dir)

	e, err := NewExecutor(cfg, WithApplier(panickingApplier{}))
	require.NoError(t, err)

	res := e.DryRun(context.Background(), Request{Patch: readmePatch()})
	assert.False(t, res.OK)
	assert.Equal(t, "internal error: boom", res.Reason)
	assert.Equal(t, StateDiscarded, res.State)
	assertNoWorkspacesLeft(t, cfg)
}

func TestExecute_CancelledContextStillRuns(t *testing.T) {
	repo := setupTestRepo(t)
	cfg := testConfig(t, repo.dir)

	e, err := NewExecutor(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := e.DryRun(ctx, Request{Patch: readmePatch()})
	assert.True(t, res.OK, res.Reason)
}

func TestDryRun_ConcurrentRunsAreIndependent(t *testing.T) {
	repo := setupTestRepo(t)
	cfg := testConfig(t, repo.dir)

	e, err := NewExecutor(cfg)
	require.NoError(t, err)

	const n = 4
	results := make([]*Result, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p := patch.Operations(patch.Operation{
				Path:    "notes.md",
				Op:      patch.OpAdd,
				Content: strings.Repeat("x", i+1),
			})
			results[i] = e.DryRun(context.Background(), Request{Patch: p})
		}(i)
	}
	wg.Wait()

	branches := map[string]bool{}
	ids := map[string]bool{}
	for _, res := range results {
		require.True(t, res.OK, res.Reason)
		branches[res.BranchName] = true
		ids[res.ExecutionID] = true
		assert.Equal(t, 1, len(res.Changes.Files))
		assert.Equal(t, patch.ActionCreated, res.Changes.Files[0].Action)
	}
	assert.Len(t, branches, n)
	assert.Len(t, ids, n)
	assertNoWorkspacesLeft(t, cfg)

	leftover := runGitT(t, repo.dir, "branch", "--list", "patchgate-dryrun-*")
	assert.Empty(t, strings.TrimSpace(leftover))
}

func TestExecute_WritesArtifacts(t *testing.T) {
	repo := setupTestRepo(t)
	cfg := testConfig(t, repo.dir)
	cfg.Artifacts.Enabled = true
	cfg.Artifacts.OutputDir = t.TempDir()

	e, err := NewExecutor(cfg)
	require.NoError(t, err)

	res := e.DryRun(context.Background(), Request{ProposalID: "p-art", Patch: readmePatch()})
	require.True(t, res.OK, res.Reason)

	dir := filepath.Join(cfg.Artifacts.OutputDir, res.ExecutionID)
	data, err := os.ReadFile(filepath.Join(dir, "execution.json"))
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, true, decoded["ok"])
	assert.Equal(t, "dry-run", decoded["operation"])
	assert.Equal(t, "p-art", decoded["proposalId"])

	summary, err := os.ReadFile(filepath.Join(dir, "summary.md"))
	require.NoError(t, err)
	assert.Contains(t, string(summary), "# Patchgate Execution Summary")
	assert.Contains(t, string(summary), "`readme.md` created")
}
