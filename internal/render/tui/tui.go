package tui

import (
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"

	"github.com/mickamy/rockscope/internal/insight"
	"github.com/mickamy/rockscope/internal/model"
	"github.com/mickamy/rockscope/internal/value"
)

// Options controls how the TUI renderer behaves.
type Options struct {
	EnableColor  bool
	MaxDepth     int
	ShowHotspots bool
	BarWidth     int
}

// Render prints an ASCII tree that highlights hot nodes, followed by the
// top-node and hotspot tables.
func Render(w io.Writer, result *model.AnalysisResult, opts Options) error {
	if w == nil {
		return errors.New("tui: writer is nil")
	}
	if result == nil || result.ExecutionTree == nil {
		return errors.New("tui: empty analysis")
	}

	if opts.BarWidth <= 0 {
		opts.BarWidth = 20
	}

	renderHeader(w, result)
	renderInsights(w, result, opts)

	t := result.ExecutionTree
	root, ok := t.Node(t.Root.ID)
	if !ok {
		root = &t.Root
	}
	_, _ = fmt.Fprintf(w, "%s\n", renderLine(root, opts))
	printChildren(w, t, root, "", opts)

	renderTopNodes(w, result)
	if opts.ShowHotspots {
		renderHotspots(w, result)
	}
	renderConclusion(w, result)
	return nil
}

func renderHeader(w io.Writer, result *model.AnalysisResult) {
	s := result.Summary
	if s == nil {
		s = &model.Summary{}
	}
	_, _ = fmt.Fprintf(w, "Query %s | total %s | state %s", s.QueryID, s.TotalTime, s.QueryState)
	if s.StarRocksVersion != "" {
		_, _ = fmt.Fprintf(w, " | StarRocks %s", s.StarRocksVersion)
	}
	_, _ = fmt.Fprintln(w)
	_, _ = fmt.Fprintf(w, "Nodes %d | Hotspots %d | Score %.0f\n",
		len(result.ExecutionTree.Nodes), len(result.Hotspots), result.PerformanceScore)
	for _, warning := range result.Warnings {
		_, _ = fmt.Fprintf(w, "warning: %s\n", warning)
	}
	_, _ = fmt.Fprintln(w)
}

func printChildren(w io.Writer, t *model.ExecutionTree, parent *model.ExecutionTreeNode, prefix string, opts Options) {
	children := childrenOf(t, parent)
	for i, child := range children {
		renderBranch(w, t, child, prefix, i == len(children)-1, opts)
	}
}

func childrenOf(t *model.ExecutionTree, n *model.ExecutionTreeNode) []*model.ExecutionTreeNode {
	out := make([]*model.ExecutionTreeNode, 0, len(n.Children))
	for _, id := range n.Children {
		if child, ok := t.Node(id); ok {
			out = append(out, child)
		}
	}
	return out
}

func renderBranch(w io.Writer, t *model.ExecutionTree, node *model.ExecutionTreeNode, prefix string, isLast bool, opts Options) {
	connector := "|-- "
	childPrefix := prefix + "|   "
	if isLast {
		connector = "`-- "
		childPrefix = prefix + "    "
	}

	_, _ = fmt.Fprintf(w, "%s%s%s\n", prefix, connector, renderLine(node, opts))

	if opts.MaxDepth > 0 && node.Depth >= opts.MaxDepth {
		if len(node.Children) > 0 {
			_, _ = fmt.Fprintf(w, "%s`-- ... (%d more nodes)\n", childPrefix, countDescendants(t, node))
		}
		return
	}

	printChildren(w, t, node, childPrefix, opts)
}

func renderLine(node *model.ExecutionTreeNode, opts Options) string {
	label := insight.NodeLabel(node)
	ratio := node.Percentage() / 100

	bar := drawBar(ratio, opts.BarWidth)
	if opts.EnableColor {
		bar = applyColor(bar, pickColor(ratio))
	}

	parts := []string{label, fmt.Sprintf("%5.1f%%", node.Percentage()), bar}
	if node.Metrics.OperatorTotalTime > 0 {
		parts = append(parts, "time "+value.FormatDuration(node.Metrics.OperatorTotalTime))
	}
	if rows := max(node.Metrics.PushRowNum, node.Metrics.PullRowNum); rows > 0 {
		parts = append(parts, "rows "+strconv.FormatUint(rows, 10))
	}
	if node.Metrics.MemoryUsage > 0 {
		parts = append(parts, "mem "+insight.HumanizeBytes(node.Metrics.MemoryUsage))
	}

	line := strings.Join(parts, " | ")
	switch {
	case node.IsMostConsuming:
		line += " [most]"
	case node.IsSecondMostConsuming:
		line += " [second]"
	}
	return line
}

func renderInsights(w io.Writer, result *model.AnalysisResult, opts Options) {
	messages := insight.BuildMessages(result)
	if len(messages) == 0 {
		return
	}
	_, _ = fmt.Fprintln(w, "Insights:")
	for _, msg := range messages {
		text := msg.Text
		if opts.EnableColor && msg.Severity == insight.SeverityCritical {
			text = applyColor(text, "red")
		}
		_, _ = fmt.Fprintf(w, "  - %s %s\n", severityIcon(msg.Severity), text)
	}
	_, _ = fmt.Fprintln(w)
}

func renderTopNodes(w io.Writer, result *model.AnalysisResult) {
	if len(result.TopNodes) == 0 {
		return
	}
	_, _ = fmt.Fprintln(w, "\nTop nodes:")
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"#", "Operator", "Plan node", "Time", "Share"})
	table.SetAutoFormatHeaders(false)
	for _, n := range result.TopNodes {
		table.Append([]string{
			strconv.Itoa(n.Rank),
			n.OperatorName,
			strconv.Itoa(int(n.PlanNodeID)),
			n.TotalTime,
			fmt.Sprintf("%.2f%%", n.TimePercentage),
		})
	}
	table.Render()
}

func renderHotspots(w io.Writer, result *model.AnalysisResult) {
	_, _ = fmt.Fprintln(w, "\nHotspots:")
	if len(result.Hotspots) == 0 {
		_, _ = fmt.Fprintln(w, "  none")
		return
	}
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Severity", "Issue", "Where", "Description"})
	table.SetAutoFormatHeaders(false)
	table.SetColWidth(60)
	for _, h := range result.Hotspots {
		table.Append([]string{string(h.Severity), h.IssueType, h.NodePath, h.Description})
	}
	table.Render()
}

func renderConclusion(w io.Writer, result *model.AnalysisResult) {
	if result.Conclusion == "" {
		return
	}
	_, _ = fmt.Fprintf(w, "\n%s (score %.0f)\n", result.Conclusion, result.PerformanceScore)
	for _, s := range result.Suggestions {
		_, _ = fmt.Fprintf(w, "  * %s\n", s)
	}
}

func drawBar(ratio float64, width int) string {
	if width <= 0 {
		return ""
	}
	clamped := math.Max(0, math.Min(1, ratio))
	fill := int(math.Round(clamped * float64(width)))
	if clamped > 0 && fill == 0 {
		fill = 1
	}
	return strings.Repeat("#", fill) + strings.Repeat("-", width-fill)
}

func pickColor(ratio float64) string {
	switch {
	case ratio >= 0.40:
		return "red"
	case ratio >= 0.20:
		return "yellow"
	case ratio >= 0.10:
		return "cyan"
	default:
		return ""
	}
}

func applyColor(text, color string) string {
	code := ""
	switch color {
	case "red":
		code = "\033[31m"
	case "yellow":
		code = "\033[33m"
	case "cyan":
		code = "\033[36m"
	default:
		return text
	}
	return code + text + "\033[0m"
}

func countDescendants(t *model.ExecutionTree, node *model.ExecutionTreeNode) int {
	total := 0
	seen := map[string]bool{node.ID: true}
	var walk func(*model.ExecutionTreeNode)
	walk = func(n *model.ExecutionTreeNode) {
		for _, child := range childrenOf(t, n) {
			if seen[child.ID] {
				continue
			}
			seen[child.ID] = true
			total++
			walk(child)
		}
	}
	walk(node)
	return total
}

func severityIcon(sev insight.Severity) string {
	switch sev {
	case insight.SeverityCritical:
		return "🔥"
	case insight.SeverityWarning:
		return "⚠️"
	default:
		return "ℹ️"
	}
}
