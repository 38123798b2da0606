package workspace

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/entrhq/patchgate/pkg/logging"
)

// DefaultCopyExclusions are directory names never copied into a workspace.
var DefaultCopyExclusions = []string{
	".git", ".hg", ".svn",
	"node_modules", "vendor", "bower_components",
	"dist", "build", ".next", "out", "coverage", ".turbo", ".cache",
}

// CopyProvisioner creates workspaces by copying the repository tree.
type CopyProvisioner struct {
	repoRoot string
	config   Config
	exclude  map[string]bool
	logger   *logging.Logger
}

// NewCopyProvisioner creates a copy-based provisioner for repoRoot.
func NewCopyProvisioner(repoRoot string, config Config, logger *logging.Logger) (*CopyProvisioner, error) {
	abs, err := filepath.Abs(repoRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve repository root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("repository root not accessible: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("repository root %s is not a directory", abs)
	}
	if logger == nil {
		logger = logging.Discard()
	}

	exclude := make(map[string]bool)
	for _, name := range DefaultCopyExclusions {
		exclude[name] = true
	}
	for _, name := range config.Exclude {
		exclude[name] = true
	}

	return &CopyProvisioner{repoRoot: abs, config: config, exclude: exclude, logger: logger}, nil
}

// Provision copies the repository into a fresh directory. The branch name
// is recorded on the workspace but no VCS state exists in the copy.
func (p *CopyProvisioner) Provision(ctx context.Context, branch string) (*Workspace, error) {
	dir, err := makeTempDir(p.config, p.repoRoot)
	if err != nil {
		return nil, err
	}

	ws := &Workspace{
		Root:     dir,
		Branch:   branch,
		Strategy: StrategyCopy,
		RepoRoot: p.repoRoot,
	}

	if err := p.copyTree(ctx, dir); err != nil {
		p.Destroy(ctx, ws)
		return nil, fmt.Errorf("failed to copy repository: %w", err)
	}

	p.logger.Infof("provisioned copy %s for branch %s", dir, branch)
	return ws, nil
}

// Destroy removes the copied directory.
func (p *CopyProvisioner) Destroy(_ context.Context, ws *Workspace) {
	if ws == nil || !ws.markDestroyed() {
		return
	}
	if err := removeDir(ws); err != nil {
		p.logger.Warnf("directory removal failed for %s: %v", ws.Root, err)
		return
	}
	p.logger.Infof("destroyed copy %s", ws.Root)
}

func (p *CopyProvisioner) copyTree(ctx context.Context, dst string) error {
	// A temp base nested in the repository may hold other live workspaces.
	skip := dst
	if base := filepath.Dir(dst); base != p.repoRoot && isWithin(base, p.repoRoot) {
		skip = base
	}

	return filepath.WalkDir(p.repoRoot, func(src string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		rel, err := filepath.Rel(p.repoRoot, src)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}

		if d.IsDir() {
			if p.exclude[d.Name()] || isWithin(src, skip) {
				return filepath.SkipDir
			}
			info, err := d.Info()
			if err != nil {
				return err
			}
			return os.MkdirAll(filepath.Join(dst, rel), info.Mode().Perm()|0700)
		}

		// .git is a file inside worktrees and submodules
		if p.exclude[d.Name()] {
			return nil
		}

		target := filepath.Join(dst, rel)
		switch {
		case d.Type()&fs.ModeSymlink != 0:
			link, err := os.Readlink(src)
			if err != nil {
				return err
			}
			return os.Symlink(link, target)
		case d.Type().IsRegular():
			return copyFile(src, target)
		default:
			// sockets, devices and pipes are not part of a source tree
			return nil
		}
	})
}

func copyFile(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// isWithin reports whether path is dir or below it.
func isWithin(path, dir string) bool {
	sep := string(filepath.Separator)
	return path == dir || strings.HasPrefix(path+sep, dir+sep)
}
