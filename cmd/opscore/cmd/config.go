package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/GoCodeAlone/opscore"
)

// NewConfigCommand creates the config command
func NewConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the core configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.AddCommand(newConfigSampleCommand())
	cmd.AddCommand(newConfigDescribeCommand())
	cmd.AddCommand(newConfigValidateCommand())

	return cmd
}

func newConfigSampleCommand() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "sample",
		Short: "Print a sample config file with default values",
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := opscore.GenerateSampleConfig(format)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "yaml", "Output format (yaml, toml, json)")
	return cmd
}

func newConfigDescribeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "describe",
		Short: "List every config field with its environment variable and default",
		RunE: func(cmd *cobra.Command, args []string) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "FIELD\tENV\tDEFAULT\tDESCRIPTION")
			for _, f := range opscore.DescribeConfig() {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", f.Path, f.Env, f.Default, f.Description)
			}
			return w.Flush()
		},
	}
}

func newConfigValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>",
		Short: "Load a config file with environment overrides and validate it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := opscore.LoadConfig(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s is valid\n", args[0])
			return nil
		},
	}
}
