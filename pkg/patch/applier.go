package patch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/entrhq/patchgate/pkg/logging"
	"github.com/entrhq/patchgate/pkg/security/allowlist"
)

// Action names what happened to a file.
type Action string

const (
	ActionCreated  Action = "created"
	ActionModified Action = "modified"
	ActionDeleted  Action = "deleted"
	ActionSkipped  Action = "skipped"
)

// FileChange is one entry in a Report.
type FileChange struct {
	Path         string `json:"path"`
	Action       Action `json:"action"`
	LinesAdded   int    `json:"linesAdded"`
	LinesRemoved int    `json:"linesRemoved"`
	Note         string `json:"note,omitempty"`
}

// Report summarizes an applied patch.
type Report struct {
	Kind  Kind         `json:"kind"`
	Files []FileChange `json:"files"`
}

// Paths returns the paths touched, in application order.
func (r *Report) Paths() []string {
	if r == nil {
		return nil
	}
	out := make([]string, 0, len(r.Files))
	for _, f := range r.Files {
		if f.Action != ActionSkipped {
			out = append(out, f.Path)
		}
	}
	return out
}

// Applier mutates files under root according to a patch. Every target path
// is checked against guard before any file is written; a single refused path
// means nothing is mutated.
type Applier interface {
	Apply(ctx context.Context, p Patch, root string, guard *allowlist.Guard) (*Report, error)
}

// DefaultApplier applies both patch variants with the simple line model.
type DefaultApplier struct {
	logger *logging.Logger
}

// NewApplier creates the default applier. A nil logger discards output.
func NewApplier(logger *logging.Logger) *DefaultApplier {
	if logger == nil {
		logger = logging.Discard()
	}
	return &DefaultApplier{logger: logger}
}

// target is a validated, resolved file to mutate.
type target struct {
	rel string
	abs string
}

// Apply implements Applier.
func (a *DefaultApplier) Apply(ctx context.Context, p Patch, root string, guard *allowlist.Guard) (*Report, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if guard == nil {
		return nil, errors.New("allowlist guard is required")
	}

	switch p.Kind {
	case KindUnified:
		return a.applyUnified(ctx, p.Diff, root, guard)
	case KindOperations:
		return a.applyOperations(ctx, p.Operations, root, guard)
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidFormat, p.Kind)
	}
}

// authorize checks and resolves every path up front.
func authorize(root string, guard *allowlist.Guard, paths []string) ([]target, error) {
	targets := make([]target, 0, len(paths))
	for _, p := range paths {
		if err := guard.Check(p); err != nil {
			return nil, err
		}
		rel, err := guard.Normalize(p)
		if err != nil {
			return nil, err
		}
		abs, err := allowlist.ResolveWithin(root, rel)
		if err != nil {
			return nil, err
		}
		targets = append(targets, target{rel: rel, abs: abs})
	}
	return targets, nil
}

func (a *DefaultApplier) applyUnified(ctx context.Context, diff, root string, guard *allowlist.Guard) (*Report, error) {
	files, err := ParseUnified(diff)
	if err != nil {
		return nil, err
	}

	paths := make([]string, len(files))
	for i, f := range files {
		paths[i] = f.Path
	}
	targets, err := authorize(root, guard, paths)
	if err != nil {
		return nil, err
	}

	report := &Report{Kind: KindUnified}
	for i, f := range files {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		t := targets[i]

		if f.Delete {
			if err := os.Remove(t.abs); err != nil && !os.IsNotExist(err) {
				return report, fmt.Errorf("failed to delete %s: %w", t.rel, err)
			}
			a.logger.Debugf("deleted %s", t.rel)
			report.Files = append(report.Files, FileChange{Path: t.rel, Action: ActionDeleted, LinesRemoved: f.Removed()})
			continue
		}

		existing, exists, err := readIfExists(t.abs)
		if err != nil {
			return report, fmt.Errorf("failed to read %s: %w", t.rel, err)
		}
		if err := writeFile(t.abs, applyLines(existing, f.ops)); err != nil {
			return report, fmt.Errorf("failed to write %s: %w", t.rel, err)
		}

		action := ActionModified
		if !exists {
			action = ActionCreated
		}
		a.logger.Debugf("%s %s (+%d -%d)", action, t.rel, f.Added(), f.Removed())
		report.Files = append(report.Files, FileChange{
			Path:         t.rel,
			Action:       action,
			LinesAdded:   f.Added(),
			LinesRemoved: f.Removed(),
		})
	}
	return report, nil
}

func (a *DefaultApplier) applyOperations(ctx context.Context, ops []Operation, root string, guard *allowlist.Guard) (*Report, error) {
	paths := make([]string, len(ops))
	for i, op := range ops {
		paths[i] = op.Path
	}
	targets, err := authorize(root, guard, paths)
	if err != nil {
		return nil, err
	}

	report := &Report{Kind: KindOperations}
	for i, op := range ops {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		t := targets[i]

		switch op.Op {
		case OpAdd, OpReplace:
			_, exists, err := readIfExists(t.abs)
			if err != nil {
				return report, fmt.Errorf("failed to read %s: %w", t.rel, err)
			}
			if err := writeFile(t.abs, op.Content); err != nil {
				return report, fmt.Errorf("failed to write %s: %w", t.rel, err)
			}
			action := ActionModified
			if !exists {
				action = ActionCreated
			}
			report.Files = append(report.Files, FileChange{Path: t.rel, Action: action, LinesAdded: countLines(op.Content)})
			a.logger.Debugf("%s %s via %s", action, t.rel, op.Op)
		case OpRemove:
			if err := os.Remove(t.abs); err != nil && !os.IsNotExist(err) {
				return report, fmt.Errorf("failed to remove %s: %w", t.rel, err)
			}
			report.Files = append(report.Files, FileChange{Path: t.rel, Action: ActionDeleted})
			a.logger.Debugf("removed %s", t.rel)
		default:
			a.logger.Warnf("skipping unknown operation %q for %s", op.Op, t.rel)
			report.Files = append(report.Files, FileChange{
				Path:   t.rel,
				Action: ActionSkipped,
				Note:   fmt.Sprintf("unknown operation %q", op.Op),
			})
		}
	}
	return report, nil
}

func readIfExists(path string) (string, bool, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return string(data), true, nil
}

func writeFile(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	mode := os.FileMode(0644)
	if info, err := os.Stat(path); err == nil {
		mode = info.Mode().Perm()
	}
	return os.WriteFile(path, []byte(content), mode)
}

func countLines(s string) int {
	if s == "" {
		return 0
	}
	n := 0
	for _, c := range s {
		if c == '\n' {
			n++
		}
	}
	if s[len(s)-1] != '\n' {
		n++
	}
	return n
}
