package allowlist

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ResolveWithin joins a repository-relative path onto root and verifies that
// the result, after symlink evaluation, still lives under root. Paths that do
// not exist yet are resolved through their closest existing ancestor.
func ResolveWithin(root, rel string) (string, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("failed to resolve root: %w", err)
	}
	evalRoot := resolveSymlinks(filepath.Clean(absRoot))

	joined := filepath.Join(absRoot, filepath.FromSlash(rel))
	evalPath := resolveSymlinks(joined)

	sep := string(filepath.Separator)
	if evalPath == evalRoot || !strings.HasPrefix(evalPath+sep, evalRoot+sep) {
		return "", fmt.Errorf("path escapes workspace: %s", rel)
	}
	return evalPath, nil
}

// resolveSymlinks evaluates symlinks in p. For non-existent paths it walks up
// to the nearest existing ancestor, resolves that, and re-appends the rest.
func resolveSymlinks(p string) string {
	if resolved, err := filepath.EvalSymlinks(p); err == nil {
		return resolved
	}

	var components []string
	current := p
	for {
		if resolved, err := filepath.EvalSymlinks(current); err == nil {
			result := resolved
			for i := len(components) - 1; i >= 0; i-- {
				result = filepath.Join(result, components[i])
			}
			return result
		}

		dir := filepath.Dir(current)
		if dir == current || dir == "." {
			return filepath.Clean(p)
		}
		components = append(components, filepath.Base(current))
		current = dir
	}
}
