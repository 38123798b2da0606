package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"

	"github.com/spf13/cobra"

	"github.com/entrhq/patchgate/pkg/audit"
	"github.com/entrhq/patchgate/pkg/config"
	"github.com/entrhq/patchgate/pkg/executor"
	"github.com/entrhq/patchgate/pkg/logging"
	"github.com/entrhq/patchgate/pkg/report"
)

// errExecutionFailed is returned after a failed result was already printed.
var errExecutionFailed = errors.New("execution failed")

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigFile string
	RepoRoot   string
	Allow      []string
	Verbosity  string
	Format     string // "json" | "text"
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the patchgate CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:           "patchgate",
		Short:         "Apply patches safely behind an allowlist and preflight gates",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigFile, "config", "c", "", "path to configuration file (default <repo>/"+config.DefaultFileName+")")
	cmd.PersistentFlags().StringVarP(&opts.RepoRoot, "repo", "C", "", "repository root (overrides repo_root)")
	cmd.PersistentFlags().StringSliceVar(&opts.Allow, "allow", nil, "allowlist glob, repeatable (overrides allowlist.patterns)")
	cmd.PersistentFlags().StringVar(&opts.Verbosity, "verbosity", "", "console verbosity: quiet, normal, verbose, debug")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewDryRunCommand(opts))
	cmd.AddCommand(NewApplyCommand(opts))
	cmd.AddCommand(NewRollbackCommand(opts))
	cmd.AddCommand(NewScanCommand(opts))
	cmd.AddCommand(NewWatchCommand(opts))
	cmd.AddCommand(NewVersionCommand())

	return cmd
}

// loadConfig reads the config file, when there is one, and applies flag
// overrides on top.
func loadConfig(opts *RootOptions) (*config.Config, error) {
	path := opts.ConfigFile
	if path == "" {
		root := opts.RepoRoot
		if root == "" {
			root = "."
		}
		candidate := filepath.Join(root, config.DefaultFileName)
		if _, err := os.Stat(candidate); err == nil {
			path = candidate
		}
	}

	cfg := config.DefaultConfig()
	if path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if opts.RepoRoot != "" {
		cfg.RepoRoot = opts.RepoRoot
	}
	if len(opts.Allow) > 0 {
		cfg.Allowlist.Patterns = opts.Allow
	}
	if opts.Verbosity != "" {
		cfg.Logging.Verbosity = opts.Verbosity
	}

	abs, err := filepath.Abs(cfg.RepoRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve repo root: %w", err)
	}
	cfg.RepoRoot = abs
	if cfg.Artifacts.OutputDir != "" && !filepath.IsAbs(cfg.Artifacts.OutputDir) {
		cfg.Artifacts.OutputDir = filepath.Join(abs, cfg.Artifacts.OutputDir)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// session bundles what every command needs after configuration is loaded.
type session struct {
	cfg     *config.Config
	opts    *RootOptions
	logger  *logging.Logger
	console *report.Console
	out     io.Writer
	closers []func() error
}

func newSession(cmd *cobra.Command, opts *RootOptions) (*session, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}

	// JSON goes to stdout, so progress moves to stderr
	consoleOut := cmd.OutOrStdout()
	if opts.Format == "json" {
		consoleOut = cmd.ErrOrStderr()
	}

	logger, logErr := logging.NewFileLogger("patchgate", cfg.Logging.Dir)
	s := &session{
		cfg:     cfg,
		opts:    opts,
		logger:  logger,
		console: report.NewConsole(report.ParseLevel(cfg.Logging.Verbosity), consoleOut),
		out:     cmd.OutOrStdout(),
		closers: []func() error{logger.Close},
	}
	if logErr != nil {
		s.console.Warningf("session log unavailable: %v", logErr)
	}
	s.console.Debugf("session log: %s", logger.LogPath())
	return s, nil
}

// auditClient combines the configured sinks. A redis sink that cannot be
// reached is reported and left out.
func (s *session) auditClient(ctx context.Context) *audit.Client {
	sinks := executor.DefaultAuditSinks(s.cfg, s.logger)

	if r := s.cfg.Audit.Redis; r.Addr != "" {
		rdb, err := audit.DialRedis(ctx, r.Addr, r.Password, r.DB)
		if err != nil {
			s.console.Warningf("redis audit sink disabled: %v", err)
		} else {
			sinks = append(sinks, audit.NewRedisSink(rdb, r.Channel))
			s.closers = append(s.closers, rdb.Close)
		}
	}
	return audit.NewClient(sinks, audit.WithLogger(s.logger.With("audit")))
}

func (s *session) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		_ = s.closers[i]()
	}
}

func (s *session) json() bool {
	return s.opts.Format == "json"
}

// NewVersionCommand prints the build version.
func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the patchgate version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "patchgate v%s\n", version)
		},
	}
}
