package executor

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/entrhq/patchgate/pkg/preflight"
)

// ArtifactWriter writes per-execution reports under outputDir/<execution id>.
type ArtifactWriter struct {
	outputDir string
}

// NewArtifactWriter creates a new artifact writer
func NewArtifactWriter(outputDir string) *ArtifactWriter {
	return &ArtifactWriter{outputDir: outputDir}
}

// Dir returns the artifact directory for a result.
func (w *ArtifactWriter) Dir(res *Result) string {
	return filepath.Join(w.outputDir, res.ExecutionID)
}

// WriteAll writes execution.json and summary.md.
func (w *ArtifactWriter) WriteAll(res *Result) error {
	dir := w.Dir(res)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	if err := w.WriteExecutionJSON(dir, res); err != nil {
		return err
	}
	return w.WriteSummaryMarkdown(dir, res)
}

// WriteExecutionJSON writes the full result as JSON
func (w *ArtifactWriter) WriteExecutionJSON(dir string, res *Result) error {
	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal execution result: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "execution.json"), data, 0600); err != nil {
		return fmt.Errorf("failed to write execution JSON: %w", err)
	}
	return nil
}

// WriteSummaryMarkdown writes a human-readable markdown summary
func (w *ArtifactWriter) WriteSummaryMarkdown(dir string, res *Result) error {
	if err := os.WriteFile(filepath.Join(dir, "summary.md"), []byte(RenderSummary(res)), 0600); err != nil {
		return fmt.Errorf("failed to write summary markdown: %w", err)
	}
	return nil
}

// RenderSummary renders res as markdown.
func RenderSummary(res *Result) string {
	var md strings.Builder

	md.WriteString("# Patchgate Execution Summary\n\n")
	md.WriteString(fmt.Sprintf("**Operation:** %s\n\n", res.Operation))
	if res.ProposalID != "" {
		md.WriteString(fmt.Sprintf("**Proposal:** %s\n\n", res.ProposalID))
	}
	md.WriteString(fmt.Sprintf("**Status:** %s\n\n", res.Status()))
	md.WriteString(fmt.Sprintf("**Started:** %s\n\n", res.StartTime.Format(time.RFC3339)))
	md.WriteString(fmt.Sprintf("**Duration:** %s\n\n", res.Duration.Round(time.Millisecond)))

	md.WriteString("## Result\n\n")
	if res.OK {
		md.WriteString("✅ **Success**\n\n")
	} else {
		md.WriteString(fmt.Sprintf("❌ **Error:** %s\n\n", res.Reason))
	}

	if res.Changes != nil && len(res.Changes.Files) > 0 {
		md.WriteString("## Files Changed\n\n")
		for _, f := range res.Changes.Files {
			md.WriteString(fmt.Sprintf("- `%s` %s (+%d/-%d lines)\n", f.Path, f.Action, f.LinesAdded, f.LinesRemoved))
		}
		md.WriteString("\n")
	}

	if res.Checklist != nil {
		md.WriteString("## Preflight\n\n")
		for _, check := range preflight.Checks {
			status := res.Checklist.Get(check)
			icon := "⏭️"
			switch status {
			case preflight.StatusPass:
				icon = "✅"
			case preflight.StatusFail:
				icon = "❌"
			}
			md.WriteString(fmt.Sprintf("%s **%s**: %s\n", icon, check, status))
		}
		md.WriteString("\n")
	}

	if res.CommitSHA != "" {
		md.WriteString("## Git\n\n")
		md.WriteString(fmt.Sprintf("- **Branch:** %s\n", res.BranchName))
		md.WriteString(fmt.Sprintf("- **Commit:** %s\n\n", res.CommitSHA))
	}

	if res.Rollback != nil {
		md.WriteString("## Rollback\n\n```\n")
		md.WriteString(res.Rollback.Text)
		md.WriteString("```\n")
	}

	return md.String()
}
