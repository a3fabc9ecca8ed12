package cmd

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/mickamy/rockscope/internal/diff"
)

func newDiffCmd(a *app) *cobra.Command {
	var (
		basePath   string
		targetPath string
		format     string
		output     string
		opts       diff.Options
	)
	cmd := &cobra.Command{
		Use:   "diff",
		Short: "Compare two profiles of the same query",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if basePath == "" || targetPath == "" {
				return fmt.Errorf("--base and --target are required")
			}
			base, err := readInput(cmd, basePath)
			if err != nil {
				return fmt.Errorf("load base: %w", err)
			}
			target, err := readInput(cmd, targetPath)
			if err != nil {
				return fmt.Errorf("load target: %w", err)
			}

			report, err := diff.CompareText(cmd.Context(), a.analyzer(), base, target, opts)
			if err != nil {
				return err
			}

			return withOutput(cmd, output, func(w io.Writer) error {
				switch format {
				case "md", "markdown":
					_, err := io.WriteString(w, report.Markdown())
					return err
				case "json":
					payload, err := report.JSON()
					if err != nil {
						return err
					}
					_, err = fmt.Fprintf(w, "%s\n", payload)
					return err
				default:
					return fmt.Errorf("unsupported format %q", format)
				}
			})
		},
	}
	cmd.Flags().StringVar(&basePath, "base", "", "Baseline profile text file")
	cmd.Flags().StringVar(&targetPath, "target", "", "Target profile text file")
	cmd.Flags().StringVarP(&format, "format", "f", "markdown", "Output format: markdown or json")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output path (stdout if omitted)")
	cmd.Flags().DurationVar(&opts.MinDeltaTime, "min-delta", time.Duration(0), "Minimum time delta to report (default from config)")
	cmd.Flags().Float64Var(&opts.MinPercentChange, "min-percent", 0, "Minimum percent change to report (default from config)")
	cmd.Flags().Float64Var(&opts.MinDeltaPercent, "min-share", 0, "Minimum change in share of operator time, in points (default from config)")
	cmd.Flags().IntVar(&opts.MaxItems, "limit", 0, "Maximum rows per section (default from config)")
	return cmd
}
