package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version information
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// NewRootCommand creates the root command for the opscore binary
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "opscore",
		Short: "Opscore - module registry and event bus for restaurant operations",
		Long: `Opscore runs the core infrastructure of the restaurant operations suite:
the module registry, the event bus and the performance monitor.`,
		Version:       PrintVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.AddCommand(NewServeCommand())
	cmd.AddCommand(NewModulesCommand())
	cmd.AddCommand(NewConfigCommand())

	return cmd
}

// PrintVersion prints version information
func PrintVersion() string {
	return fmt.Sprintf("%s (commit: %s, built on: %s)", Version, Commit, Date)
}
