package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/alecthomas/chroma/v2/quick"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/entrhq/patchgate/pkg/executor"
	"github.com/entrhq/patchgate/pkg/patch"
)

// runOptions holds flags shared by dry-run and apply.
type runOptions struct {
	PatchFile  string
	ProposalID string
	Branch     string
	ShowPatch  bool
}

// NewDryRunCommand creates the dry-run command.
func NewDryRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "dry-run",
		Short: "Apply and gate a patch in a throwaway workspace",
		Long: `Apply a patch inside an isolated workspace and run the preflight gates.

Nothing is committed or pushed. The command succeeds whenever the patch
applies; gate failures are reported in the checklist.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(cmd, rootOpts, opts, executor.OperationDryRun)
		},
	}
	addRunFlags(cmd, opts)
	return cmd
}

// NewApplyCommand creates the apply command.
func NewApplyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Apply, gate, commit and push a patch to a branch",
		Long: `Apply a patch inside an isolated workspace checked out on --branch, run
the preflight gates and, when no critical gate failed, commit and push the
branch. Rollback instructions are printed for every landed commit.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(cmd, rootOpts, opts, executor.OperationApply)
		},
	}
	addRunFlags(cmd, opts)
	cmd.Flags().StringVarP(&opts.Branch, "branch", "b", "", "target branch (required)")
	_ = cmd.MarkFlagRequired("branch")
	return cmd
}

func addRunFlags(cmd *cobra.Command, opts *runOptions) {
	cmd.Flags().StringVarP(&opts.PatchFile, "patch", "p", "", "patch file: unified diff, YAML or JSON operations (- for stdin)")
	cmd.Flags().StringVar(&opts.ProposalID, "proposal", "", "proposal id recorded in audit events")
	cmd.Flags().BoolVar(&opts.ShowPatch, "show-patch", false, "print the highlighted patch before running")
	_ = cmd.MarkFlagRequired("patch")
}

func runPipeline(cmd *cobra.Command, rootOpts *RootOptions, opts *runOptions, op executor.Operation) error {
	data, err := readPatch(cmd.InOrStdin(), opts.PatchFile)
	if err != nil {
		return err
	}
	p, err := patch.Decode(data)
	if err != nil {
		return err
	}

	s, err := newSession(cmd, rootOpts)
	if err != nil {
		return err
	}
	defer s.close()

	s.console.Header(fmt.Sprintf("patchgate %s", op))
	if opts.ShowPatch {
		s.console.Section("Patch")
		s.console.Block(highlightPatch(p))
	}

	client := s.auditClient(cmd.Context())
	ex, err := executor.NewExecutor(s.cfg,
		executor.WithLogger(s.logger),
		executor.WithAuditClient(client),
	)
	if err != nil {
		return err
	}

	req := executor.Request{ProposalID: opts.ProposalID, Patch: p, Branch: opts.Branch}
	s.console.Infof("Repository: %s", s.cfg.RepoRoot)

	var res *executor.Result
	if op == executor.OperationApply {
		res = ex.Apply(cmd.Context(), req)
	} else {
		res = ex.DryRun(cmd.Context(), req)
	}
	client.Wait()

	if s.json() {
		enc := json.NewEncoder(s.out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			return fmt.Errorf("failed to encode result: %w", err)
		}
	} else {
		s.console.Result(res)
	}

	if !res.OK {
		return errExecutionFailed
	}
	return nil
}

func readPatch(stdin io.Reader, path string) ([]byte, error) {
	if path == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("failed to read patch from stdin: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read patch file: %w", err)
	}
	return data, nil
}

// highlightPatch renders a diff with the diff lexer and operation lists as
// YAML. NO_COLOR disables escape codes.
func highlightPatch(p patch.Patch) string {
	source, lexer := p.Diff, "diff"
	if p.Kind == patch.KindOperations {
		data, err := yaml.Marshal(p.Operations)
		if err != nil {
			return ""
		}
		source, lexer = string(data), "yaml"
	}

	formatter := "terminal256"
	if os.Getenv("NO_COLOR") != "" {
		formatter = "noop"
	}

	var buf bytes.Buffer
	if err := quick.Highlight(&buf, source, lexer, formatter, "monokai"); err != nil {
		return source
	}
	return strings.TrimRight(buf.String(), "\n") + "\n"
}
