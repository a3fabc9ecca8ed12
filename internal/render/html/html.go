package html

import (
	"fmt"
	"html/template"
	"io"
	"math"
	"strconv"

	"github.com/mickamy/rockscope/internal/insight"
	"github.com/mickamy/rockscope/internal/model"
	"github.com/mickamy/rockscope/internal/value"
)

// Options configures the HTML renderer.
type Options struct {
	Title         string
	IncludeStyles bool
}

var reportTpl = template.Must(template.New("report").Parse(reportTemplate))

// Render writes an HTML report containing the query summary, hotspots and
// the annotated execution tree.
func Render(w io.Writer, result *model.AnalysisResult, opts Options) error {
	if result == nil || result.ExecutionTree == nil {
		return fmt.Errorf("html render: empty analysis")
	}
	if opts.Title == "" {
		opts.Title = "rockscope report"
	}
	if err := reportTpl.Execute(w, buildTemplateData(result, opts)); err != nil {
		return fmt.Errorf("html render: execute template: %w", err)
	}
	return nil
}

type templateData struct {
	Title         string
	IncludeStyles bool
	Summary       summaryView
	Root          *nodeView
	Hotspots      []hotspotView
	TopNodes      []listView
	Slowest       []listView
	Insights      []insightView
	Warnings      []string
	Conclusion    string
	Suggestions   []string
}

type summaryView struct {
	QueryID      string
	State        string
	Version      string
	Total        string
	OperatorTime string
	PeakMemory   string
	NodeCount    int
	HotspotCount int
	Score        string
	SQL          string
}

type listView struct {
	Label  string
	Anchor string
	Time   string
	Share  string
}

type hotspotView struct {
	Severity    string
	Issue       string
	Path        string
	Description string
	Suggestions []string
}

type insightView struct {
	Icon     string
	Severity string
	Text     string
	Anchor   string
}

type nodeView struct {
	Label    string
	Anchor   string
	Time     string
	Share    string
	BarWidth float64
	Heat     float64
	Meta     []string
	Marker   string
	Children []*nodeView
}

func buildTemplateData(result *model.AnalysisResult, opts Options) templateData {
	messages := insight.BuildMessages(result)
	insights := make([]insightView, 0, len(messages))
	for _, msg := range messages {
		insights = append(insights, insightView{
			Icon:     severityIcon(msg.Severity),
			Severity: string(msg.Severity),
			Text:     msg.Text,
			Anchor:   msg.Anchor,
		})
	}

	hotspots := make([]hotspotView, 0, len(result.Hotspots))
	for _, h := range result.Hotspots {
		hotspots = append(hotspots, hotspotView{
			Severity:    string(h.Severity),
			Issue:       h.IssueType,
			Path:        h.NodePath,
			Description: insight.NormalizeWhitespace(h.Description),
			Suggestions: h.Suggestions,
		})
	}

	top := make([]listView, 0, len(result.TopNodes))
	for _, n := range result.TopNodes {
		node, _ := result.ExecutionTree.Node(fmt.Sprintf("node_%d", n.PlanNodeID))
		top = append(top, listView{
			Label:  fmt.Sprintf("%d. %s #%d", n.Rank, n.OperatorName, n.PlanNodeID),
			Anchor: insight.AnchorID(node),
			Time:   n.TotalTime,
			Share:  fmt.Sprintf("%.2f%%", n.TimePercentage),
		})
	}

	slowest := make([]listView, 0, len(result.SlowestOperators))
	for _, op := range result.SlowestOperators {
		slowest = append(slowest, listView{
			Label: fmt.Sprintf("%s (fragment %s, pipeline %s)", op.OperatorName, op.FragmentID, op.PipelineID),
			Time:  value.FormatDuration(op.TotalTime),
			Share: fmt.Sprintf("%.2f%%", op.TimePercentage),
		})
	}

	return templateData{
		Title:         opts.Title,
		IncludeStyles: opts.IncludeStyles,
		Summary:       buildSummary(result),
		Root:          buildRoot(result.ExecutionTree),
		Hotspots:      hotspots,
		TopNodes:      top,
		Slowest:       slowest,
		Insights:      insights,
		Warnings:      result.Warnings,
		Conclusion:    result.Conclusion,
		Suggestions:   result.Suggestions,
	}
}

func buildSummary(result *model.AnalysisResult) summaryView {
	view := summaryView{
		NodeCount:    len(result.ExecutionTree.Nodes),
		HotspotCount: len(result.Hotspots),
		Score:        strconv.FormatFloat(result.PerformanceScore, 'f', 0, 64),
	}
	s := result.Summary
	if s == nil {
		return view
	}
	view.QueryID = s.QueryID
	view.State = s.QueryState
	view.Version = s.StarRocksVersion
	view.Total = s.TotalTime
	view.OperatorTime = s.QueryCumulativeOperatorTime
	view.SQL = s.SQLStatement
	if s.QueryPeakMemory != nil {
		view.PeakMemory = insight.HumanizeBytes(*s.QueryPeakMemory)
	}
	return view
}

func buildRoot(t *model.ExecutionTree) *nodeView {
	root, ok := t.Node(t.Root.ID)
	if !ok {
		root = &t.Root
	}
	return buildNodeView(t, root, map[string]bool{})
}

func buildNodeView(t *model.ExecutionTree, node *model.ExecutionTreeNode, seen map[string]bool) *nodeView {
	seen[node.ID] = true
	pct := node.Percentage()
	view := &nodeView{
		Label:    insight.NodeLabel(node),
		Anchor:   insight.AnchorID(node),
		Share:    fmt.Sprintf("%.2f%%", pct),
		BarWidth: math.Min(100, math.Max(0, pct)),
		Heat:     math.Min(1, math.Max(0, pct/100*2.5)),
		Meta:     nodeMeta(node),
	}
	if node.Metrics.OperatorTotalTime > 0 {
		view.Time = value.FormatDuration(node.Metrics.OperatorTotalTime)
	}
	switch {
	case node.IsMostConsuming:
		view.Marker = "most time consuming"
	case node.IsSecondMostConsuming:
		view.Marker = "second most time consuming"
	}
	for _, id := range node.Children {
		child, ok := t.Node(id)
		if !ok || seen[id] {
			continue
		}
		view.Children = append(view.Children, buildNodeView(t, child, seen))
	}
	return view
}

func nodeMeta(node *model.ExecutionTreeNode) []string {
	var meta []string
	if node.FragmentID != "" {
		meta = append(meta, fmt.Sprintf("fragment %s / pipeline %s", node.FragmentID, node.PipelineID))
	}
	if rows := max(node.Metrics.PushRowNum, node.Metrics.PullRowNum); rows > 0 {
		meta = append(meta, "rows "+strconv.FormatUint(rows, 10))
	}
	if node.Metrics.MemoryUsage > 0 {
		meta = append(meta, "memory "+insight.HumanizeBytes(node.Metrics.MemoryUsage))
	}
	if node.Metrics.OutputChunkBytes > 0 {
		meta = append(meta, "output "+insight.HumanizeBytes(node.Metrics.OutputChunkBytes))
	}
	switch m := node.Metrics.Specialized.(type) {
	case model.ConnectorScanMetrics:
		if m.ScanTime > 0 {
			meta = append(meta, "scan "+value.FormatDuration(m.ScanTime))
		}
		if m.IOTime > 0 {
			meta = append(meta, "io "+value.FormatDuration(m.IOTime))
		}
	case model.OlapScanMetrics:
		if m.ScanTime > 0 {
			meta = append(meta, "scan "+value.FormatDuration(m.ScanTime))
		}
	case model.ExchangeSinkMetrics:
		if m.NetworkTime > 0 {
			meta = append(meta, "network "+value.FormatDuration(m.NetworkTime))
		}
	case model.AggregateMetrics:
		if m.AggMode != "" {
			meta = append(meta, "agg "+m.AggMode)
		}
	}
	return meta
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

const reportTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
	<meta charset="utf-8">
	<title>{{.Title}}</title>
	{{- if .IncludeStyles }}
	<style>
		body { font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Helvetica, Arial, sans-serif; margin: 0; padding: 0; background: #f7f7f8; color: #202124; }
		main { max-width: 1040px; margin: 0 auto; padding: 32px 24px 48px; }
		header { background: #1d2b3a; color: #f7f7f8; padding: 32px 24px; }
		header h1 { margin: 0 0 8px; font-size: 28px; }
		header p { margin: 4px 0; opacity: 0.8; }
		section { margin-top: 32px; }
		section h2 { margin-bottom: 12px; font-size: 20px; }
		pre.sql { background: #fff; border-radius: 10px; padding: 16px; overflow-x: auto; font-size: 13px; box-shadow: 0 4px 12px rgba(13,28,39,0.10); }
		.summary-grid { display: grid; grid-template-columns: repeat(auto-fit, minmax(180px, 1fr)); gap: 12px; }
		.summary-tile { background: #fff; border-radius: 10px; padding: 16px; box-shadow: 0 6px 18px rgba(13,28,39,0.12); }
		.summary-tile strong { display: block; font-size: 14px; text-transform: uppercase; letter-spacing: 0.04em; color: #5b7083; margin-bottom: 6px; }
		.summary-tile span { font-size: 18px; font-weight: 600; }
		.list-card { background: #fff; border-radius: 12px; padding: 16px; box-shadow: 0 4px 12px rgba(13,28,39,0.10); margin-bottom: 12px; }
		.list-card ul { list-style: none; padding: 0; margin: 0; }
		.list-card li { display: grid; grid-template-columns: 1fr auto auto; gap: 12px; font-size: 14px; padding: 8px 0; border-bottom: 1px solid rgba(91,112,131,0.16); }
		.list-card li:last-child { border-bottom: none; }
		.hotspot { background: #fff; border-radius: 12px; padding: 14px 16px; margin-bottom: 10px; box-shadow: 0 4px 12px rgba(13,28,39,0.10); border-left: 4px solid rgba(33,42,59,0.15); }
		.hotspot h3 { margin: 0 0 6px; font-size: 15px; }
		.hotspot p { margin: 4px 0; font-size: 14px; }
		.hotspot ul { margin: 6px 0 0; padding-left: 20px; font-size: 13px; color: #364a63; }
		.hotspot.severity-Critical { border-left-color: #f44747; }
		.hotspot.severity-High, .hotspot.severity-Severe { border-left-color: #faae32; }
		.plan-tree { list-style: none; margin: 0; padding: 0; }
		.node-card { background: #fff; border-radius: 12px; margin-bottom: 12px; position: relative; padding: 16px 18px 14px 18px; box-shadow: 0 8px 20px rgba(16,37,58,0.12); border-left: 6px solid rgba(33,42,59,0.1); }
		.node-card::after { content: ""; position: absolute; inset: 0; border-radius: inherit; background: linear-gradient(90deg, rgba(244,71,71,var(--heat)) 0%, rgba(244,71,71,0) 72%); opacity: 0.35; pointer-events: none; }
		.node-header { position: relative; z-index: 1; display: flex; justify-content: space-between; gap: 12px; align-items: baseline; }
		.node-label { font-weight: 600; font-size: 15px; }
		.node-metrics { font-size: 13px; color: #5b7083; }
		.node-marker { color: #b25600; font-weight: 600; }
		.node-bar { position: relative; z-index: 1; margin-top: 10px; background: rgba(33,42,59,0.08); border-radius: 999px; height: 8px; overflow: hidden; }
		.node-bar span { display: block; height: 100%; border-radius: inherit; background: linear-gradient(90deg, #f44747 0%, #faae32 100%); width: calc(var(--width) * 1%); }
		.node-meta { position: relative; z-index: 1; margin-top: 10px; font-size: 13px; color: #364a63; display: flex; flex-wrap: wrap; gap: 12px 18px; }
		.node-children { margin-left: 24px; border-left: 1px dashed rgba(33,42,59,0.15); padding-left: 20px; list-style: none; }
		.insight-list { list-style: none; margin: 0; padding: 0; display: flex; flex-direction: column; gap: 10px; }
		.insight-list li { background: #fff; border-radius: 12px; padding: 14px 16px; box-shadow: 0 4px 12px rgba(13,28,39,0.10); font-size: 14px; color: #253043; display: flex; align-items: center; gap: 10px; }
		.insight-list li a { color: inherit; }
		.insight-list li.severity-critical { border-left: 4px solid #f44747; }
		.insight-list li.severity-warning { border-left: 4px solid #faae32; }
		.insight-list li.severity-info { border-left: 4px solid rgba(33,42,59,0.15); }
		.warnings { color: #b25600; }
	</style>
	{{- end }}
</head>
<body>
	<header>
		<h1>{{.Title}}</h1>
		<p>Query {{.Summary.QueryID}}{{if .Summary.State}} · {{.Summary.State}}{{end}}{{if .Summary.Version}} · StarRocks {{.Summary.Version}}{{end}}</p>
		<p>Total {{.Summary.Total}} · Nodes {{.Summary.NodeCount}} · Hotspots {{.Summary.HotspotCount}} · Score {{.Summary.Score}}</p>
	</header>
	<main>
		<section>
			<h2>Highlights</h2>
			<div class="summary-grid">
				<div class="summary-tile"><strong>Total time</strong><span>{{.Summary.Total}}</span></div>
				<div class="summary-tile"><strong>Operator time</strong><span>{{.Summary.OperatorTime}}</span></div>
				{{- if .Summary.PeakMemory }}
				<div class="summary-tile"><strong>Peak memory per node</strong><span>{{.Summary.PeakMemory}}</span></div>
				{{- end }}
				<div class="summary-tile"><strong>Performance score</strong><span>{{.Summary.Score}}</span></div>
			</div>
			{{- if .Warnings }}
			<ul class="warnings">
				{{- range .Warnings }}<li>{{.}}</li>{{- end }}
			</ul>
			{{- end }}
		</section>

		<section>
			<h2>Conclusion</h2>
			<p>{{.Conclusion}}</p>
			<ul>
				{{- range .Suggestions }}<li>{{.}}</li>{{- end }}
			</ul>
		</section>

		{{- if .Insights }}
		<section>
			<h2>Insights</h2>
			<ul class="insight-list">
				{{- range .Insights }}
				<li class="severity-{{.Severity}}"><span class="icon">{{.Icon}}</span><span class="insight-text">
					{{- if .Anchor -}}
						<a href="#{{.Anchor}}">{{.Text}}</a>
					{{- else -}}
						{{.Text}}
					{{- end -}}
				</span></li>
				{{- end }}
			</ul>
		</section>
		{{- end }}

		<section>
			<h2>Hotspots</h2>
			{{- if .Hotspots }}
				{{- range .Hotspots }}
				<div class="hotspot severity-{{.Severity}}">
					<h3>{{.Severity}} · {{.Issue}}</h3>
					<p><code>{{.Path}}</code></p>
					<p>{{.Description}}</p>
					{{- if .Suggestions }}
					<ul>{{- range .Suggestions }}<li>{{.}}</li>{{- end }}</ul>
					{{- end }}
				</div>
				{{- end }}
			{{- else }}
				<p>No hotspots detected</p>
			{{- end }}
		</section>

		<section>
			<h2>Time consumers</h2>
			<div class="list-card">
				<ul>
					{{- range .TopNodes }}
					<li><span>{{if .Anchor}}<a href="#{{.Anchor}}">{{.Label}}</a>{{else}}{{.Label}}{{end}}</span><span>{{.Time}}</span><span>{{.Share}}</span></li>
					{{- else }}
					<li><span>No plan node timings</span></li>
					{{- end }}
				</ul>
			</div>
			<div class="list-card">
				<ul>
					{{- range .Slowest }}
					<li><span>{{.Label}}</span><span>{{.Time}}</span><span>{{.Share}}</span></li>
					{{- else }}
					<li><span>No operator timings</span></li>
					{{- end }}
				</ul>
			</div>
		</section>

		<section>
			<h2>Execution Tree</h2>
			<ul class="plan-tree">
				{{ template "node" .Root }}
			</ul>
		</section>

		{{- if .Summary.SQL }}
		<section>
			<h2>SQL</h2>
			<pre class="sql">{{.Summary.SQL}}</pre>
		</section>
		{{- end }}
	</main>

	{{ define "node" }}
	<li>
		<div class="node-card" id="{{.Anchor}}" style="--heat: {{printf "%.3f" .Heat}};">
			<div class="node-header">
				<span class="node-label">{{.Label}}</span>
				<span class="node-metrics">{{if .Time}}{{.Time}} · {{end}}{{.Share}}</span>
			</div>
			<div class="node-bar"><span style="--width: {{printf "%.2f" .BarWidth}};"></span></div>
			<div class="node-meta">
				{{- if .Marker }}<span class="node-marker">{{.Marker}}</span>{{- end }}
				{{- range .Meta }}<span>{{.}}</span>{{- end }}
			</div>
		</div>
		{{- if .Children }}
		<ul class="node-children">
			{{- range .Children }}
				{{ template "node" . }}
			{{- end }}
		</ul>
		{{- end }}
	</li>
	{{ end }}
</body>
</html>
`
