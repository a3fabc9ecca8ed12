package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/mickamy/rockscope/internal/config"
	"github.com/mickamy/rockscope/internal/model"
	"github.com/mickamy/rockscope/internal/render/tui"
)

func newAnalyzeCmd(a *app) *cobra.Command {
	var (
		input  string
		format string
		output string
	)
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Analyze a profile and print the result",
		Example: `  rockscope analyze --input profile.txt
  cat profile.txt | rockscope analyze --input - --format tui`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			text, err := readInput(cmd, input)
			if err != nil {
				return err
			}
			result, err := a.analyzer().Analyze(cmd.Context(), text)
			if err != nil {
				return err
			}
			return withOutput(cmd, output, func(w io.Writer) error {
				return writeResult(w, result, format, false)
			})
		},
	}
	cmd.Flags().StringVarP(&input, "input", "i", "", "Profile text file, or - for stdin")
	cmd.Flags().StringVarP(&format, "format", "f", "json", "Output format: json or tui")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output path (stdout if omitted)")
	return cmd
}

func writeResult(w io.Writer, result *model.AnalysisResult, format string, color bool) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	case "tui":
		r := config.Active().Render
		return tui.Render(w, result, tui.Options{
			EnableColor:  color,
			MaxDepth:     r.MaxDepth,
			BarWidth:     r.BarWidth,
			ShowHotspots: true,
		})
	default:
		return fmt.Errorf("unknown format %q (expected json or tui)", format)
	}
}
