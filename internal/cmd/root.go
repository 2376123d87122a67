// Package cmd defines the lookout-hub command line interface.
package cmd

import (
	"github.com/spf13/cobra"
)

var version = "dev"

// NewRootCmd creates the root cobra command for lookout-hub. A bare
// invocation without a subcommand behaves as "run".
func NewRootCmd(v string) *cobra.Command {
	version = v

	root := &cobra.Command{
		Use:   "lookout-hub",
		Short: "Lookout hub: fleet management for remote desktop support",
		Long:  "Lookout hub mediates between desktop agents and admin consoles: presence, consent, screen streaming, and compliance, scoped per tenant.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(cmd, args)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newRunCmd())
	root.AddCommand(newInitCmd())
	root.AddCommand(newConsoleCmd())
	root.AddCommand(newVersionCmd())

	root.PersistentFlags().StringP("config", "c", "", "path to config file")

	return root
}
