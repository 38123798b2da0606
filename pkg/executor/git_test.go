package executor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/patchgate/pkg/config"
)

func gitConfig(message string) config.GitConfig {
	return config.GitConfig{
		Remote:        "origin",
		CommitMessage: message,
		AuthorName:    "patchgate[bot]",
		AuthorEmail:   "patchgate@localhost",
		Timeout:       30 * time.Second,
	}
}

func TestGitManager_CommitNoChanges(t *testing.T) {
	repo := setupTestRepo(t)

	g := NewGitManager(repo.dir, gitConfig(""))
	_, err := g.Commit(context.Background(), "main")
	assert.True(t, errors.Is(err, ErrNoChanges))
	assert.Contains(t, g.Log(), "$ git status --porcelain")
}

func TestGitManager_CommitAndPush(t *testing.T) {
	repo := setupTestRepo(t)
	runGitT(t, repo.dir, "checkout", "-q", "-b", "feature")
	require.NoError(t, os.WriteFile(filepath.Join(repo.dir, "a.md"), []byte("a\n"), 0644))

	g := NewGitManager(repo.dir, gitConfig("docs: {branch}"))
	sha, err := g.Commit(context.Background(), "feature")
	require.NoError(t, err)
	assert.Len(t, sha, 40)

	require.NoError(t, g.Push(context.Background(), "feature"))
	remoteSha, ok := remoteHasBranch(t, repo.remote, "feature")
	require.True(t, ok)
	assert.Equal(t, sha, remoteSha)

	subject := runGitT(t, repo.dir, "log", "-1", "--format=%s|%ae")
	assert.Equal(t, "docs: feature|patchgate@localhost", strings.TrimSpace(subject))
}

func TestGitManager_PushFailure(t *testing.T) {
	repo := setupTestRepo(t)

	cfg := gitConfig("")
	cfg.Remote = "missing-remote"
	g := NewGitManager(repo.dir, cfg)

	err := g.Push(context.Background(), "main")
	require.Error(t, err)

	var gitErr *GitError
	require.True(t, errors.As(err, &gitErr))
	assert.Equal(t, []string{"push", "missing-remote", "main"}, gitErr.Args)
	assert.Contains(t, err.Error(), "failed to push branch 'main'")
}
