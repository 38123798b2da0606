// Package report renders pipeline results for people reading a terminal.
package report

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/entrhq/patchgate/pkg/discovery"
	"github.com/entrhq/patchgate/pkg/executor"
	"github.com/entrhq/patchgate/pkg/preflight"
)

// Level represents the console verbosity level
type Level int

const (
	// LevelQuiet shows only errors, warnings and the final summary
	LevelQuiet Level = iota
	// LevelNormal shows standard progress (default)
	LevelNormal
	// LevelVerbose adds gate output and file lists
	LevelVerbose
	// LevelDebug shows everything, including raw git logs
	LevelDebug
)

// ParseLevel converts a verbosity name to a Level. Unknown names map to normal.
func ParseLevel(level string) Level {
	switch level {
	case "quiet":
		return LevelQuiet
	case "verbose":
		return LevelVerbose
	case "debug":
		return LevelDebug
	default:
		return LevelNormal
	}
}

var (
	salmonPink  = lipgloss.Color("#FFB3BA")
	mintGreen   = lipgloss.Color("#A8E6CF")
	warnYellow  = lipgloss.Color("#FDE68A")
	mutedGray   = lipgloss.Color("#6B7280")
	brightWhite = lipgloss.Color("#F9FAFB")
	errorRed    = lipgloss.Color("#F87171")
)

type styles struct {
	header  lipgloss.Style
	section lipgloss.Style
	rule    lipgloss.Style
	success lipgloss.Style
	info    lipgloss.Style
	warn    lipgloss.Style
	failure lipgloss.Style
	muted   lipgloss.Style
	box     lipgloss.Style
}

func newStyles(r *lipgloss.Renderer) styles {
	return styles{
		header:  r.NewStyle().Foreground(brightWhite).Bold(true),
		section: r.NewStyle().Foreground(salmonPink).Bold(true),
		rule:    r.NewStyle().Foreground(mutedGray),
		success: r.NewStyle().Foreground(mintGreen).Bold(true),
		info:    r.NewStyle().Foreground(salmonPink),
		warn:    r.NewStyle().Foreground(warnYellow),
		failure: r.NewStyle().Foreground(errorRed).Bold(true),
		muted:   r.NewStyle().Foreground(mutedGray),
		box: r.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(mutedGray).
			Padding(0, 1),
	}
}

// Console writes styled progress and summaries. Color is dropped
// automatically when the writer is not a terminal.
type Console struct {
	level  Level
	writer io.Writer
	style  styles
}

// NewConsole creates a console writing to w, or stdout when w is nil.
func NewConsole(level Level, w io.Writer) *Console {
	if w == nil {
		w = os.Stdout
	}
	return &Console{
		level:  level,
		writer: w,
		style:  newStyles(lipgloss.NewRenderer(w)),
	}
}

// Level reports the configured verbosity.
func (c *Console) Level() Level {
	return c.level
}

func (c *Console) println(s string) {
	fmt.Fprintln(c.writer, s)
}

// Header prints a prominent header message
func (c *Console) Header(message string) {
	if c.level < LevelNormal {
		return
	}
	rule := c.style.rule.Render(strings.Repeat("=", 70))
	c.println("")
	c.println(rule)
	c.println(c.style.header.Render("  " + message))
	c.println(rule)
}

// Section prints a section divider
func (c *Console) Section(title string) {
	if c.level < LevelNormal {
		return
	}
	c.println("")
	c.println(c.style.section.Render("▶ " + title))
	c.println(c.style.rule.Render(strings.Repeat("─", 50)))
}

func (c *Console) Successf(format string, args ...interface{}) {
	if c.level >= LevelNormal {
		c.println(c.style.success.Render("✓ " + fmt.Sprintf(format, args...)))
	}
}

func (c *Console) Infof(format string, args ...interface{}) {
	if c.level >= LevelNormal {
		c.println(c.style.info.Render(fmt.Sprintf(format, args...)))
	}
}

func (c *Console) Warningf(format string, args ...interface{}) {
	c.println(c.style.warn.Render("⚠ Warning: " + fmt.Sprintf(format, args...)))
}

func (c *Console) Errorf(format string, args ...interface{}) {
	c.println(c.style.failure.Render("✗ Error: " + fmt.Sprintf(format, args...)))
}

// Verbosef prints detailed information (only in verbose mode)
func (c *Console) Verbosef(format string, args ...interface{}) {
	if c.level >= LevelVerbose {
		c.println(c.style.muted.Render("→ " + fmt.Sprintf(format, args...)))
	}
}

// Debugf prints debug information (only in debug mode)
func (c *Console) Debugf(format string, args ...interface{}) {
	if c.level >= LevelDebug {
		c.println(c.style.muted.Render("[DEBUG] " + fmt.Sprintf(format, args...)))
	}
}

// Block prints pre-rendered text such as a highlighted diff.
func (c *Console) Block(text string) {
	if c.level < LevelNormal || text == "" {
		return
	}
	fmt.Fprint(c.writer, text)
	if !strings.HasSuffix(text, "\n") {
		c.println("")
	}
}

// Result prints the summary of one dry-run or apply.
func (c *Console) Result(res *executor.Result) {
	if res == nil {
		return
	}

	rule := c.style.header.Render(strings.Repeat("=", 70))
	c.println("")
	c.println(rule)
	c.println(c.style.header.Render(fmt.Sprintf("  %s SUMMARY", strings.ToUpper(string(res.Operation)))))
	c.println(rule)

	status := c.style.success.Render("✓ SUCCESS")
	if !res.OK {
		status = c.style.failure.Render("✗ FAILED")
	}
	c.println("  Status: " + status)
	c.println(fmt.Sprintf("  Execution: %s", res.ExecutionID))
	if res.ProposalID != "" {
		c.println(fmt.Sprintf("  Proposal: %s", res.ProposalID))
	}
	if res.Strategy != "" {
		c.println(fmt.Sprintf("  Workspace: %s", res.Strategy))
	}
	c.println(fmt.Sprintf("  Duration: %s", res.Duration.Round(time.Millisecond)))

	c.printChanges(res)
	c.printChecklist(res.Checklist)
	c.printGit(res)

	if res.Reason != "" {
		c.println("")
		c.println(c.style.failure.Render("  Error Details:"))
		c.println(c.style.failure.UnsetBold().Render("    " + res.Reason))
	}
	if c.level >= LevelDebug && res.Logs["git"] != "" {
		c.println("")
		c.println(c.style.muted.Render(indent(res.Logs["git"], "    ")))
	}
	c.println(rule)
	c.println("")
}

func (c *Console) printChanges(res *executor.Result) {
	if res.Changes == nil || len(res.Changes.Files) == 0 {
		return
	}
	c.println("")
	c.println(fmt.Sprintf("  📝 Files: %d", len(res.Changes.Files)))
	if c.level < LevelVerbose {
		return
	}
	for _, f := range res.Changes.Files {
		line := fmt.Sprintf("    • %s %s (+%d/-%d)", f.Path, f.Action, f.LinesAdded, f.LinesRemoved)
		if f.Note != "" {
			line += " " + c.style.muted.Render(f.Note)
		}
		c.println(line)
	}
}

func (c *Console) printChecklist(cl *preflight.Checklist) {
	if cl == nil {
		return
	}
	c.println("")
	c.println("  🎯 Preflight:")
	for _, check := range preflight.Checks {
		switch cl.Get(check) {
		case preflight.StatusPass:
			c.println(c.style.success.Render(fmt.Sprintf("    ✓ %s", check)))
		case preflight.StatusFail:
			c.println(c.style.failure.Render(fmt.Sprintf("    ✗ %s", check)))
			if c.level >= LevelVerbose && cl.Logs[check] != "" {
				c.println(c.style.muted.Render(indent(lastLines(cl.Logs[check], 20), "      ")))
			}
		default:
			line := fmt.Sprintf("    - %s skipped", check)
			if reason := firstLine(cl.Logs[check]); reason != "" {
				line += " (" + reason + ")"
			}
			c.println(c.style.muted.Render(line))
		}
	}
}

func (c *Console) printGit(res *executor.Result) {
	if res.BranchName == "" && res.CommitSHA == "" {
		return
	}
	c.println("")
	c.println("  🔀 Git:")
	if res.BranchName != "" {
		c.println(fmt.Sprintf("    Branch: %s", res.BranchName))
	}
	if res.CommitSHA != "" {
		c.println(fmt.Sprintf("    Commit: %s", res.CommitSHA))
	}
	if res.Rollback != nil {
		c.println("")
		c.println(c.style.box.Render(strings.TrimRight(res.Rollback.Text, "\n")))
	}
}

// Discovery prints scanner findings grouped by rule.
func (c *Console) Discovery(rep *discovery.Report) {
	if rep == nil {
		return
	}
	c.Section(fmt.Sprintf("Discovery: %d findings in %s", len(rep.Evidence), rep.Root))

	for _, e := range rep.Evidence {
		c.println(fmt.Sprintf("  %s:%d %s %s", e.File, e.Line, c.style.info.Render("["+e.Rule+"]"), e.Note))
	}
	if len(rep.Evidence) > 0 {
		counts := rep.ByRule()
		parts := make([]string, 0, len(counts))
		for _, rule := range sortedKeys(counts) {
			parts = append(parts, fmt.Sprintf("%s=%d", rule, counts[rule]))
		}
		c.println("")
		c.println(c.style.muted.Render("  " + strings.Join(parts, " ")))
	}
	if rep.Suppressed > 0 {
		c.Verbosef("%d findings outside the allowlist were suppressed", rep.Suppressed)
	}
	for _, name := range sortedKeys(rep.Errors) {
		c.Warningf("scanner %s failed: %s", name, rep.Errors[name])
	}
}
