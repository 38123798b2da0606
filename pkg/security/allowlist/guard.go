// Package allowlist decides which repository paths a patch may mutate.
//
// A Guard combines an optional set of positive patterns with a fixed deny list
// of sensitive locations (version control internals, dependency and build
// output directories, environment and key files). The deny list always wins.
package allowlist

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/gobwas/glob"
)

// Guard answers membership questions for repository-relative paths.
// A Guard is immutable after construction and safe for concurrent use.
type Guard struct {
	root     string // optional absolute root used to relativize absolute paths
	patterns []matcher
	raw      []string
}

// Option configures a Guard.
type Option func(*Guard)

// WithRoot lets the guard accept absolute paths that live under root.
// Without a root every absolute path is rejected.
func WithRoot(root string) Option {
	return func(g *Guard) {
		if root == "" {
			return
		}
		if abs, err := filepath.Abs(root); err == nil {
			g.root = filepath.ToSlash(filepath.Clean(abs))
		}
	}
}

// New compiles the allow patterns. An empty pattern list allows every path
// that is not independently denied.
func New(patterns []string, opts ...Option) (*Guard, error) {
	g := &Guard{}
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		m, err := compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid allow pattern '%s': %w", p, err)
		}
		g.patterns = append(g.patterns, m)
		g.raw = append(g.raw, p)
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// MustNew is New for patterns known at compile time.
func MustNew(patterns ...string) *Guard {
	g, err := New(patterns)
	if err != nil {
		panic(err)
	}
	return g
}

// Patterns returns a copy of the configured allow patterns.
func (g *Guard) Patterns() []string {
	out := make([]string, len(g.raw))
	copy(out, g.raw)
	return out
}

// IsAllowed reports whether path may be mutated.
func (g *Guard) IsAllowed(p string) bool {
	return g.Check(p) == nil
}

// Check is IsAllowed with a reason. The returned error is a *DeniedError.
func (g *Guard) Check(p string) error {
	rel, err := g.Normalize(p)
	if err != nil {
		return &DeniedError{Path: p, Reason: err.Error()}
	}

	if reason, denied := denied(rel); denied {
		return &DeniedError{Path: p, Reason: reason}
	}

	if len(g.patterns) == 0 {
		return nil
	}
	for _, m := range g.patterns {
		if m.match(rel) {
			return nil
		}
	}
	return &DeniedError{Path: p, Reason: "no allow pattern matches"}
}

// Normalize converts p into a clean, slash-separated, repository-relative
// path. It rejects empty paths, traversal segments and absolute paths that do
// not live under the guard root.
func (g *Guard) Normalize(p string) (string, error) {
	if strings.TrimSpace(p) == "" {
		return "", fmt.Errorf("path cannot be empty")
	}

	slashed := strings.ReplaceAll(p, "\\", "/")
	if hasTraversal(slashed) {
		return "", fmt.Errorf("path traversal is not allowed")
	}

	if path.IsAbs(slashed) || filepath.IsAbs(p) || isDriveLetter(slashed) {
		if g.root == "" {
			return "", fmt.Errorf("absolute paths are not allowed")
		}
		cleaned := path.Clean(slashed)
		if cleaned != g.root && !strings.HasPrefix(cleaned, g.root+"/") {
			return "", fmt.Errorf("path is outside the workspace root")
		}
		slashed = strings.TrimPrefix(strings.TrimPrefix(cleaned, g.root), "/")
	}

	cleaned := path.Clean(slashed)
	if cleaned == "." || cleaned == "/" {
		return "", fmt.Errorf("path does not name a file")
	}
	if hasTraversal(cleaned) {
		return "", fmt.Errorf("path traversal is not allowed")
	}
	return strings.TrimPrefix(cleaned, "./"), nil
}

// DeniedError reports why a path was refused.
type DeniedError struct {
	Path   string
	Reason string
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("file not in allowlist: %s (%s)", e.Path, e.Reason)
}

func hasTraversal(p string) bool {
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return true
		}
	}
	return false
}

func isDriveLetter(p string) bool {
	return len(p) >= 3 && p[1] == ':' && p[2] == '/' &&
		((p[0] >= 'a' && p[0] <= 'z') || (p[0] >= 'A' && p[0] <= 'Z'))
}

// matcher is one compiled allow pattern.
type matcher struct {
	raw      string
	glob     glob.Glob
	baseOnly bool // slash-less globs also match the basename
	prefix   bool
}

func compile(p string) (matcher, error) {
	p = strings.TrimPrefix(strings.ReplaceAll(p, "\\", "/"), "./")
	m := matcher{raw: p}
	switch {
	case strings.ContainsAny(p, "*?[{"):
		g, err := glob.Compile(p, '/')
		if err != nil {
			return m, err
		}
		m.glob = g
		m.baseOnly = !strings.Contains(p, "/")
	case strings.HasSuffix(p, "/"):
		m.prefix = true
	}
	return m, nil
}

func (m matcher) match(rel string) bool {
	switch {
	case m.glob != nil:
		if m.glob.Match(rel) {
			return true
		}
		return m.baseOnly && m.glob.Match(path.Base(rel))
	case m.prefix:
		return strings.HasPrefix(rel+"/", m.raw)
	default:
		return rel == m.raw || strings.Contains(rel, m.raw)
	}
}
