package root

import (
	"github.com/spf13/cobra"

	"github.com/tjfontaine/polyglot-pipe/cmd/pipegate/keygen"
	"github.com/tjfontaine/polyglot-pipe/cmd/pipegate/serve"
	"github.com/tjfontaine/polyglot-pipe/cmd/pipegate/version"
)

// NewRootCmd creates the root command for pipegate.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pipegate",
		Short: "HTTP gateway that runs requests through a configurable stage pipeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			// Show help when no subcommand is provided.
			return cmd.Help()
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(serve.NewCmd())
	cmd.AddCommand(keygen.NewCmd())
	cmd.AddCommand(version.NewCmd())

	return cmd
}

// Execute runs the root command with provided args.
func Execute(args []string) error {
	cmd := NewRootCmd()
	cmd.SetArgs(args)
	return cmd.Execute()
}
