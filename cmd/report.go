package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/mickamy/rockscope/internal/config"
	"github.com/mickamy/rockscope/internal/render/html"
	"github.com/mickamy/rockscope/internal/render/tui"
)

func newReportCmd(a *app) *cobra.Command {
	var (
		input      string
		format     string
		output     string
		title      string
		color      bool
		maxDepth   int
		hotspots   bool
		includeCSS bool
	)
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Render a profile report (TUI, HTML or JSON)",
		Args:  cobra.NoArgs,
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
				switch format {
				case "html":
					return html.Render(w, result, html.Options{Title: title, IncludeStyles: includeCSS})
				case "tui":
					depth := maxDepth
					if !cmd.Flags().Changed("max-depth") {
						depth = config.Active().Render.MaxDepth
					}
					return tui.Render(w, result, tui.Options{
						EnableColor:  color,
						MaxDepth:     depth,
						BarWidth:     config.Active().Render.BarWidth,
						ShowHotspots: hotspots,
					})
				case "json":
					return writeResult(w, result, format, false)
				default:
					return fmt.Errorf("unknown format %q (expected tui, html or json)", format)
				}
			})
		},
	}
	cmd.Flags().StringVarP(&input, "input", "i", "", "Profile text file, or - for stdin")
	cmd.Flags().StringVarP(&format, "format", "f", "tui", "Output format: tui, html or json")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output path (stdout if omitted)")
	cmd.Flags().StringVar(&title, "title", "rockscope report", "Report title (HTML)")
	cmd.Flags().BoolVar(&color, "color", true, "Enable ANSI colors (TUI)")
	cmd.Flags().IntVar(&maxDepth, "max-depth", 0, "Limit tree depth (TUI, default from config)")
	cmd.Flags().BoolVar(&hotspots, "hotspots", true, "Show the hotspot table (TUI)")
	cmd.Flags().BoolVar(&includeCSS, "css", true, "Include inline styles (HTML)")
	return cmd
}
