package cmd

import (
	"io"

	"github.com/spf13/cobra"

	"github.com/mickamy/rockscope/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration helpers",
	}

	var output string
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write the active configuration as YAML",
		Long:  "Write the active configuration as YAML. Without --config this is the built-in default.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withOutput(cmd, output, func(w io.Writer) error {
				return config.Write(w, config.Active())
			})
		},
	}
	initCmd.Flags().StringVarP(&output, "output", "o", "", "Output path (stdout if omitted)")

	cmd.AddCommand(initCmd)
	return cmd
}
