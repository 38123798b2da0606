package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), DefaultFileName)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestDefaultConfig_Valid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "origin", cfg.Git.Remote)
	assert.True(t, cfg.Git.Push)
	assert.Equal(t, 5*time.Minute, cfg.Preflight.Timeout)
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
repo_root: repo
branch_prefix: bot
allowlist:
  patterns: ["*.md", "src/"]
preflight:
  profile: node
  timeout: 90s
  critical_gates: [tsc, build]
  gates:
    tests:
      command: ["sh", "-c", "true"]
git:
  push: false
audit:
  file: audit.jsonl
  redis:
    addr: localhost:6379
logging:
  verbosity: verbose
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(filepath.Dir(path), "repo"), cfg.RepoRoot)
	assert.Equal(t, "bot", cfg.BranchPrefix)
	assert.Equal(t, []string{"*.md", "src/"}, cfg.Allowlist.Patterns)
	assert.Equal(t, "node", cfg.Preflight.Profile)
	assert.Equal(t, 90*time.Second, cfg.Preflight.Timeout)
	assert.Equal(t, []string{"tsc", "build"}, cfg.Preflight.CriticalGates)
	assert.Equal(t, []string{"sh", "-c", "true"}, cfg.Preflight.Gates["tests"].Command)
	assert.False(t, cfg.Git.Push)
	assert.Equal(t, "origin", cfg.Git.Remote, "unset fields keep defaults")
	assert.Equal(t, "patchgate[bot]", cfg.Git.AuthorName)
	assert.Equal(t, "audit.jsonl", cfg.Audit.File)
	assert.Equal(t, "localhost:6379", cfg.Audit.Redis.Addr)
	assert.Equal(t, "verbose", cfg.Logging.Verbosity)
	assert.Equal(t, "auto", cfg.Workspace.Strategy)

	guard, err := cfg.Guard()
	require.NoError(t, err)
	assert.True(t, guard.IsAllowed("readme.md"))
	assert.False(t, guard.IsAllowed("lib/x.ts"))
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "malformed yaml", content: "repo_root: [unclosed"},
		{name: "bad verbosity", content: "logging:\n  verbosity: loud\n"},
		{name: "bad strategy", content: "workspace:\n  strategy: rsync\n"},
		{name: "bad profile", content: "preflight:\n  profile: cobol\n"},
		{name: "bad pattern", content: "allowlist:\n  patterns: [\"src/[a-\"]\n"},
		{name: "bad critical gate", content: "preflight:\n  critical_gates: [deploy]\n"},
		{name: "empty prefix", content: "branch_prefix: \"\"\n"},
		{name: "scanner without command", content: "discovery:\n  scanners:\n    - name: lint\n"},
		{name: "artifacts without dir", content: "artifacts:\n  enabled: true\n  output_dir: \"\"\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			assert.Error(t, err)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
