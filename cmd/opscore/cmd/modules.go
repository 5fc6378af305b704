package cmd

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/GoCodeAlone/opscore/internal/catalog"
)

// NewModulesCommand creates the command that lists the built-in business modules
func NewModulesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "modules",
		Short: "List the built-in business modules",
		RunE: func(cmd *cobra.Command, args []string) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tPRIORITY\tLAZY\tDEPENDENCIES")
			for _, d := range catalog.Descriptors() {
				deps := strings.Join(d.Dependencies, ",")
				if deps == "" {
					deps = "-"
				}
				fmt.Fprintf(w, "%s\t%s\t%d\t%t\t%s\n", d.ID, d.Name, d.Priority, d.Lazy, deps)
			}
			return w.Flush()
		},
	}
}
