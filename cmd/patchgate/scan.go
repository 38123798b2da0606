package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/entrhq/patchgate/pkg/config"
	"github.com/entrhq/patchgate/pkg/discovery"
)

type scanOptions struct {
	Watch bool
}

// NewScanCommand runs the read-only discovery scanners.
func NewScanCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &scanOptions{}
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Report findings from read-only scanners",
		Long: `Run the marker scanner and any configured analyzers over the repository
and report their findings. Findings about paths outside the allowlist are
suppressed. With --watch the scan repeats after every burst of file changes.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScan(cmd, rootOpts, opts)
		},
	}
	cmd.Flags().BoolVarP(&opts.Watch, "watch", "w", false, "rescan when files change")
	return cmd
}

func runScan(cmd *cobra.Command, rootOpts *RootOptions, opts *scanOptions) error {
	s, err := newSession(cmd, rootOpts)
	if err != nil {
		return err
	}
	defer s.close()

	guard, err := s.cfg.Guard()
	if err != nil {
		return err
	}
	scanners := buildScanners(s.cfg)
	logger := s.logger.With("discovery")
	ctx := cmd.Context()

	var outErr error
	scan := func() {
		rep := discovery.Run(ctx, s.cfg.RepoRoot, guard, scanners, logger)
		if s.json() {
			outErr = json.NewEncoder(s.out).Encode(rep)
			return
		}
		s.console.Discovery(rep)
	}

	scan()
	if outErr != nil || !opts.Watch {
		return outErr
	}

	s.console.Infof("Watching %s (Ctrl+C to stop)", s.cfg.RepoRoot)
	return discovery.Watch(ctx, s.cfg.RepoRoot, s.cfg.Discovery.Debounce, logger, scan)
}

func buildScanners(cfg *config.Config) []discovery.Scanner {
	var scanners []discovery.Scanner
	if cfg.Discovery.Markers {
		scanners = append(scanners, discovery.NewMarkerScanner())
	}
	for _, sc := range cfg.Discovery.Scanners {
		scanners = append(scanners, discovery.NewCommandScanner(sc.Name, sc.Command, sc.Rule, cfg.Discovery.Timeout))
	}
	return scanners
}

// NewWatchCommand is scan --watch.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Rescan the repository whenever files change",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScan(cmd, rootOpts, &scanOptions{Watch: true})
		},
	}
}
