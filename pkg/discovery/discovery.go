// Package discovery runs read-only scanners over a repository and reports
// findings as evidence entries. Nothing in this package writes to the
// scanned tree.
package discovery

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/entrhq/patchgate/pkg/logging"
	"github.com/entrhq/patchgate/pkg/security/allowlist"
)

// Evidence is one finding.
type Evidence struct {
	File    string `json:"file"`
	Line    int    `json:"line"`
	Rule    string `json:"rule"`
	Note    string `json:"note"`
	Scanner string `json:"scanner"`
}

// Scanner produces evidence for root.
type Scanner interface {
	Name() string
	Scan(ctx context.Context, root string) ([]Evidence, error)
}

// Report aggregates scanner output.
type Report struct {
	Root       string            `json:"root"`
	Evidence   []Evidence        `json:"evidence"`
	Suppressed int               `json:"suppressed"`
	Errors     map[string]string `json:"errors,omitempty"`
	Generated  time.Time         `json:"generated"`
}

// Run executes every scanner and keeps only evidence about paths the guard
// allows. Scanner failures are recorded in the report and do not stop the
// remaining scanners.
func Run(ctx context.Context, root string, guard *allowlist.Guard, scanners []Scanner, logger *logging.Logger) *Report {
	if logger == nil {
		logger = logging.Discard()
	}
	report := &Report{Root: root, Evidence: []Evidence{}, Generated: time.Now().UTC()}

	for _, s := range scanners {
		found, err := s.Scan(ctx, root)
		if err != nil {
			if report.Errors == nil {
				report.Errors = make(map[string]string)
			}
			report.Errors[s.Name()] = err.Error()
			logger.Warnf("scanner %s failed: %v", s.Name(), err)
		}

		for _, e := range found {
			e.File = relativeTo(root, e.File)
			if guard != nil && !guard.IsAllowed(e.File) {
				report.Suppressed++
				continue
			}
			if e.Scanner == "" {
				e.Scanner = s.Name()
			}
			report.Evidence = append(report.Evidence, e)
		}
		logger.Debugf("scanner %s: %d findings", s.Name(), len(found))
	}

	sort.SliceStable(report.Evidence, func(i, j int) bool {
		a, b := report.Evidence[i], report.Evidence[j]
		if a.File != b.File {
			return a.File < b.File
		}
		return a.Line < b.Line
	})
	return report
}

// ByRule groups evidence counts by rule.
func (r *Report) ByRule() map[string]int {
	out := make(map[string]int)
	for _, e := range r.Evidence {
		out[e.Rule]++
	}
	return out
}

// relativeTo rewrites absolute paths under root into slash-separated
// relative paths.
func relativeTo(root, file string) string {
	if filepath.IsAbs(file) {
		if rel, err := filepath.Rel(root, file); err == nil && !strings.HasPrefix(rel, "..") {
			return filepath.ToSlash(rel)
		}
	}
	return filepath.ToSlash(strings.TrimPrefix(file, "./"))
}

func (e Evidence) String() string {
	return fmt.Sprintf("%s:%d: [%s] %s", e.File, e.Line, e.Rule, e.Note)
}
