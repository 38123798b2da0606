package patch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/patchgate/pkg/security/allowlist"
)

func writeT(t *testing.T, root, rel, content string) {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0644))
}

func readT(t *testing.T, root, rel string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
	require.NoError(t, err)
	return string(data)
}

func TestApply_OperationAddAllowed(t *testing.T) {
	root := t.TempDir()
	guard := allowlist.MustNew("*.md")

	p := Operations(Operation{Path: "readme.md", Op: OpAdd, Content: "hello"})
	report, err := NewApplier(nil).Apply(context.Background(), p, root, guard)
	require.NoError(t, err)

	assert.Equal(t, "hello", readT(t, root, "readme.md"))
	require.Len(t, report.Files, 1)
	assert.Equal(t, ActionCreated, report.Files[0].Action)
	assert.Equal(t, []string{"readme.md"}, report.Paths())
}

func TestApply_OperationDisallowed(t *testing.T) {
	root := t.TempDir()
	guard := allowlist.MustNew("*.ts")

	p := Operations(Operation{Path: "readme.md", Op: OpAdd, Content: "hello"})
	_, err := NewApplier(nil).Apply(context.Background(), p, root, guard)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "readme.md")

	var denied *allowlist.DeniedError
	assert.True(t, errors.As(err, &denied))

	_, statErr := os.Stat(filepath.Join(root, "readme.md"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestApply_DisallowedPathMutatesNothing(t *testing.T) {
	root := t.TempDir()
	writeT(t, root, "docs/a.md", "original\n")
	guard := allowlist.MustNew("docs/")

	t.Run("operations", func(t *testing.T) {
		p := Operations(
			Operation{Path: "docs/a.md", Op: OpReplace, Content: "changed\n"},
			Operation{Path: "src/secret.go", Op: OpAdd, Content: "package x\n"},
		)
		_, err := NewApplier(nil).Apply(context.Background(), p, root, guard)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "src/secret.go")
		assert.Equal(t, "original\n", readT(t, root, "docs/a.md"))
	})

	t.Run("unified", func(t *testing.T) {
		diff := "--- a/docs/a.md\n+++ b/docs/a.md\n@@ -1 +1 @@\n-original\n+changed\n" +
			"--- a/src/main.go\n+++ b/src/main.go\n@@ -1 +1 @@\n+x\n"
		_, err := NewApplier(nil).Apply(context.Background(), Unified(diff), root, guard)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "src/main.go")
		assert.Equal(t, "original\n", readT(t, root, "docs/a.md"))
	})
}

func TestApply_OperationVariants(t *testing.T) {
	root := t.TempDir()
	writeT(t, root, "src/a.ts", "old\n")
	writeT(t, root, "src/b.ts", "bye\n")
	guard := allowlist.MustNew("src/")

	p := Operations(
		Operation{Path: "src/a.ts", Op: OpReplace, Content: "new\n"},
		Operation{Path: "src/b.ts", Op: OpRemove},
		Operation{Path: "src/nested/c.ts", Op: OpAdd, Content: "c\n"},
		Operation{Path: "src/d.ts", Op: "rename"},
	)
	report, err := NewApplier(nil).Apply(context.Background(), p, root, guard)
	require.NoError(t, err)

	assert.Equal(t, "new\n", readT(t, root, "src/a.ts"))
	assert.Equal(t, "c\n", readT(t, root, "src/nested/c.ts"))
	_, err = os.Stat(filepath.Join(root, "src", "b.ts"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(root, "src", "d.ts"))
	assert.True(t, os.IsNotExist(err), "unknown operations are skipped")

	require.Len(t, report.Files, 4)
	assert.Equal(t, ActionModified, report.Files[0].Action)
	assert.Equal(t, ActionDeleted, report.Files[1].Action)
	assert.Equal(t, ActionCreated, report.Files[2].Action)
	assert.Equal(t, ActionSkipped, report.Files[3].Action)
	assert.Equal(t, []string{"src/a.ts", "src/b.ts", "src/nested/c.ts"}, report.Paths())
}

func TestApply_UnifiedDiff(t *testing.T) {
	root := t.TempDir()
	writeT(t, root, "src/list.txt", "a\nb\nc\n")
	writeT(t, root, "src/old.txt", "gone\n")
	guard := allowlist.MustNew("src/")

	diff := `diff --git a/src/list.txt b/src/list.txt
--- a/src/list.txt
+++ b/src/list.txt
@@ -1,3 +1,3 @@
 a
-b
 c
+B
--- a/src/old.txt
+++ /dev/null
@@ -1 +0,0 @@
-gone
--- /dev/null
+++ b/src/new.txt
@@ -0,0 +1 @@
+fresh
`
	report, err := NewApplier(nil).Apply(context.Background(), Unified(diff), root, guard)
	require.NoError(t, err)

	assert.Equal(t, "a\nc\nB\n", readT(t, root, "src/list.txt"))
	assert.Equal(t, "fresh\n", readT(t, root, "src/new.txt"))
	_, err = os.Stat(filepath.Join(root, "src", "old.txt"))
	assert.True(t, os.IsNotExist(err))

	require.Len(t, report.Files, 3)
	assert.Equal(t, FileChange{Path: "src/list.txt", Action: ActionModified, LinesAdded: 1, LinesRemoved: 1}, report.Files[0])
	assert.Equal(t, ActionDeleted, report.Files[1].Action)
	assert.Equal(t, ActionCreated, report.Files[2].Action)
}

func TestApply_InvalidPatch(t *testing.T) {
	root := t.TempDir()
	guard := allowlist.MustNew()

	_, err := NewApplier(nil).Apply(context.Background(), Patch{Kind: "zip"}, root, guard)
	assert.ErrorIs(t, err, ErrInvalidFormat)

	_, err = NewApplier(nil).Apply(context.Background(), Unified("not a diff"), root, guard)
	assert.ErrorIs(t, err, ErrInvalidFormat)

	_, err = NewApplier(nil).Apply(context.Background(), Operations(Operation{Path: "a.md", Op: OpAdd}), root, nil)
	assert.Error(t, err)
}

func TestApply_SymlinkEscapeRefused(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	require.NoError(t, os.Symlink(outside, filepath.Join(root, "link")))

	p := Operations(Operation{Path: "link/pwned.md", Op: OpAdd, Content: "x"})
	_, err := NewApplier(nil).Apply(context.Background(), p, root, allowlist.MustNew())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "escapes workspace")

	_, statErr := os.Stat(filepath.Join(outside, "pwned.md"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestApply_ConcurrentWorkspaces(t *testing.T) {
	applier := NewApplier(nil)
	guard := allowlist.MustNew("*.txt")
	diff := "+++ b/out.txt\n@@ -0,0 +1 @@\n+line\n"

	roots := make([]string, 8)
	for i := range roots {
		roots[i] = t.TempDir()
	}

	var wg sync.WaitGroup
	errs := make([]error, len(roots))
	for i, root := range roots {
		wg.Add(1)
		go func(i int, root string) {
			defer wg.Done()
			_, errs[i] = applier.Apply(context.Background(), Unified(diff), root, guard)
		}(i, root)
	}
	wg.Wait()

	for i, root := range roots {
		require.NoError(t, errs[i])
		assert.Equal(t, "line\n", readT(t, root, "out.txt"))
	}
}
