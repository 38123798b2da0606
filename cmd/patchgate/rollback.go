package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/entrhq/patchgate/pkg/executor"
)

type rollbackOptions struct {
	Branch string
	SHA    string
	Remote string
}

// NewRollbackCommand prints revert instructions for a landed commit. It
// never runs git itself.
func NewRollbackCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &rollbackOptions{}
	cmd := &cobra.Command{
		Use:   "rollback",
		Short: "Print instructions to revert an applied patch",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			remote := opts.Remote
			if remote == "" {
				cfg, err := loadConfig(rootOpts)
				if err != nil {
					return err
				}
				remote = cfg.Git.Remote
			}

			rb := executor.BuildRollback(remote, opts.Branch, opts.SHA)
			if rootOpts.Format == "json" {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(rb)
			}
			_, err := fmt.Fprint(cmd.OutOrStdout(), rb.Text)
			return err
		},
	}
	cmd.Flags().StringVarP(&opts.Branch, "branch", "b", "", "branch the commit landed on (required)")
	cmd.Flags().StringVar(&opts.SHA, "sha", "", "commit to revert (required)")
	cmd.Flags().StringVar(&opts.Remote, "remote", "", "remote name (default from configuration)")
	_ = cmd.MarkFlagRequired("branch")
	_ = cmd.MarkFlagRequired("sha")
	return cmd
}
