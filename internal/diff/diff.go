// Package diff compares two analyses of the same query and reports which plan
// nodes regressed or improved.
package diff

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/olekukonko/tablewriter"
	"golang.org/x/sync/errgroup"

	"github.com/mickamy/rockscope/internal/analyzer"
	"github.com/mickamy/rockscope/internal/config"
	"github.com/mickamy/rockscope/internal/model"
	"github.com/mickamy/rockscope/internal/value"
)

// Options configures the diff sensitivity. Zero values fall back to the
// active configuration.
type Options struct {
	MinDeltaTime     time.Duration
	MinDeltaPercent  float64
	MinPercentChange float64
	MaxItems         int
}

// Report summarises the delta between two analyses.
type Report struct {
	Summary          SummaryDiff     `json:"summary"`
	Regressions      []Entry         `json:"regressions"`
	Improvements     []Entry         `json:"improvements"`
	NewHotspots      []model.HotSpot `json:"new_hotspots"`
	ResolvedHotspots []model.HotSpot `json:"resolved_hotspots"`
	Insights         []Insight       `json:"insights"`
	Options          Options         `json:"-"`
}

// SummaryDiff covers query level differences.
type SummaryDiff struct {
	BaseQueryID        string        `json:"base_query_id"`
	TargetQueryID      string        `json:"target_query_id"`
	BaseTotal          time.Duration `json:"base_total"`
	TargetTotal        time.Duration `json:"target_total"`
	DeltaTotal         time.Duration `json:"delta_total"`
	PercentTotal       float64       `json:"percent_total"`
	BaseOperatorMs     float64       `json:"base_operator_ms"`
	TargetOperatorMs   float64       `json:"target_operator_ms"`
	PercentOperator    float64       `json:"percent_operator"`
	BaseScore          float64       `json:"base_score"`
	TargetScore        float64       `json:"target_score"`
	BaseHotspotCount   int           `json:"base_hotspot_count"`
	TargetHotspotCount int           `json:"target_hotspot_count"`
}

// Entry captures the delta of the nodes sharing one signature.
type Entry struct {
	Signature     string        `json:"signature"`
	Fingerprint   string        `json:"fingerprint"`
	BaseTime      time.Duration `json:"base_time"`
	TargetTime    time.Duration `json:"target_time"`
	DeltaTime     time.Duration `json:"delta_time"`
	PercentChange float64       `json:"percent_change"`
	BaseShare     float64       `json:"base_share"`
	TargetShare   float64       `json:"target_share"`
	DeltaShare    float64       `json:"delta_share"`
	BaseRows      uint64        `json:"base_rows"`
	TargetRows    uint64        `json:"target_rows"`
}

// Insight is a one line reading of the report.
type Insight struct {
	Severity string `json:"severity"`
	Message  string `json:"message"`
}

// ErrMissingTree is returned when either side has no execution tree.
var ErrMissingTree = errors.New("diff: analysis has no execution tree")

// CompareText analyzes base and target concurrently and compares them.
func CompareText(ctx context.Context, a *analyzer.Analyzer, baseText, targetText string, opts Options) (*Report, error) {
	var base, target *model.AnalysisResult
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		r, err := a.Analyze(ctx, baseText)
		if err != nil {
			return fmt.Errorf("base: %w", err)
		}
		base = r
		return nil
	})
	g.Go(func() error {
		r, err := a.Analyze(ctx, targetText)
		if err != nil {
			return fmt.Errorf("target: %w", err)
		}
		target = r
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return Compare(base, target, opts)
}

// Compare builds a diff report for two analyses.
func Compare(base, target *model.AnalysisResult, opts Options) (*Report, error) {
	if base == nil || base.ExecutionTree == nil {
		return nil, fmt.Errorf("base: %w", ErrMissingTree)
	}
	if target == nil || target.ExecutionTree == nil {
		return nil, fmt.Errorf("target: %w", ErrMissingTree)
	}

	opts = applyDefaults(opts)

	baseAgg := aggregate(base.ExecutionTree)
	targetAgg := aggregate(target.ExecutionTree)

	var regressions, improvements []Entry
	for _, key := range unionKeys(baseAgg, targetAgg) {
		entry := buildEntry(baseAgg[key], targetAgg[key])
		if passesRegression(entry, opts) {
			regressions = append(regressions, entry)
		} else if passesImprovement(entry, opts) {
			improvements = append(improvements, entry)
		}
	}

	sort.SliceStable(regressions, func(i, j int) bool {
		return regressions[i].DeltaTime > regressions[j].DeltaTime
	})
	sort.SliceStable(improvements, func(i, j int) bool {
		return improvements[i].DeltaTime < improvements[j].DeltaTime
	})

	if opts.MaxItems > 0 {
		if len(regressions) > opts.MaxItems {
			regressions = regressions[:opts.MaxItems]
		}
		if len(improvements) > opts.MaxItems {
			improvements = improvements[:opts.MaxItems]
		}
	}

	report := &Report{
		Summary:          summarize(base, target),
		Regressions:      regressions,
		Improvements:     improvements,
		NewHotspots:      hotspotsOnlyIn(target.Hotspots, base.Hotspots),
		ResolvedHotspots: hotspotsOnlyIn(base.Hotspots, target.Hotspots),
		Options:          opts,
	}
	report.Insights = synthesizeInsights(report)
	return report, nil
}

func summarize(base, target *model.AnalysisResult) SummaryDiff {
	s := SummaryDiff{
		BaseScore:          base.PerformanceScore,
		TargetScore:        target.PerformanceScore,
		BaseHotspotCount:   len(base.Hotspots),
		TargetHotspotCount: len(target.Hotspots),
	}
	if base.Summary != nil {
		s.BaseQueryID = base.Summary.QueryID
		s.BaseTotal = totalOf(base.Summary)
		s.BaseOperatorMs = deref(base.Summary.QueryCumulativeOperatorTimeMs)
	}
	if target.Summary != nil {
		s.TargetQueryID = target.Summary.QueryID
		s.TargetTotal = totalOf(target.Summary)
		s.TargetOperatorMs = deref(target.Summary.QueryCumulativeOperatorTimeMs)
	}
	s.DeltaTotal = s.TargetTotal - s.BaseTotal
	s.PercentTotal = percentChange(float64(s.BaseTotal), float64(s.TargetTotal))
	s.PercentOperator = percentChange(s.BaseOperatorMs, s.TargetOperatorMs)
	return s
}

func totalOf(s *model.Summary) time.Duration {
	d, err := value.ParseDuration(s.TotalTime)
	if err != nil {
		return 0
	}
	return d
}

func deref(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}

// Markdown renders the report as a Markdown document.
func (r *Report) Markdown() string {
	var b strings.Builder
	b.WriteString("# rockscope diff\n\n")
	b.WriteString("## Summary\n")
	_, _ = fmt.Fprintf(&b, "- Total: %s → %s (%+.1f%%)\n",
		value.FormatDuration(r.Summary.BaseTotal), value.FormatDuration(r.Summary.TargetTotal), r.Summary.PercentTotal)
	_, _ = fmt.Fprintf(&b, "- Operator time: %.3f ms → %.3f ms (%+.1f%%)\n",
		r.Summary.BaseOperatorMs, r.Summary.TargetOperatorMs, r.Summary.PercentOperator)
	_, _ = fmt.Fprintf(&b, "- Score: %.0f → %.0f\n", r.Summary.BaseScore, r.Summary.TargetScore)
	_, _ = fmt.Fprintf(&b, "- Hotspots: %d → %d\n\n", r.Summary.BaseHotspotCount, r.Summary.TargetHotspotCount)

	b.WriteString("### Insights\n")
	if len(r.Insights) == 0 {
		b.WriteString("- No notable plan changes detected\n")
	} else {
		for _, in := range r.Insights {
			_, _ = fmt.Fprintf(&b, "- [%s] %s\n", in.Severity, in.Message)
		}
	}

	b.WriteString("\n### Regressions\n")
	writeEntries(&b, r.Regressions)
	b.WriteString("\n### Improvements\n")
	writeEntries(&b, r.Improvements)
	return b.String()
}

func writeEntries(b *strings.Builder, entries []Entry) {
	if len(entries) == 0 {
		b.WriteString("- None above threshold\n")
		return
	}
	table := tablewriter.NewWriter(b)
	table.SetHeader([]string{"Node", "Base", "Target", "Δ time", "Δ %", "Share (base → target)"})
	table.SetBorders(tablewriter.Border{Left: true, Top: false, Right: true, Bottom: false})
	table.SetCenterSeparator("|")
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	for _, e := range entries {
		table.Append([]string{
			e.Signature,
			value.FormatDuration(e.BaseTime),
			value.FormatDuration(e.TargetTime),
			signedDuration(e.DeltaTime),
			fmt.Sprintf("%+.1f%%", e.PercentChange),
			fmt.Sprintf("%.2f%% → %.2f%%", e.BaseShare, e.TargetShare),
		})
	}
	table.Render()
}

func signedDuration(d time.Duration) string {
	if d < 0 {
		return "-" + value.FormatDuration(-d)
	}
	return "+" + value.FormatDuration(d)
}

// JSON marshals the diff report into an indented JSON document.
func (r *Report) JSON() ([]byte, error) {
	if r == nil {
		return nil, fmt.Errorf("nil report")
	}
	type alias Report
	return json.MarshalIndent((*alias)(r), "", "  ")
}

func synthesizeInsights(r *Report) []Insight {
	const maxItems = 3
	cfg := config.Active().Diff
	var out []Insight

	for i, e := range r.Regressions {
		if i >= maxItems {
			break
		}
		level := "info"
		switch {
		case e.DeltaShare >= cfg.CriticalDelta:
			level = "critical"
		case e.DeltaShare >= cfg.WarningDelta:
			level = "warning"
		}
		out = append(out, Insight{
			Severity: level,
			Message: fmt.Sprintf("%s %s (%+.1f%%), share %.1f%% → %.1f%%",
				e.Signature, signedDuration(e.DeltaTime), e.PercentChange, e.BaseShare, e.TargetShare),
		})
	}

	for i, e := range r.Improvements {
		if i >= maxItems {
			break
		}
		out = append(out, Insight{
			Severity: "improvement",
			Message:  fmt.Sprintf("%s %s (%.1f%%)", e.Signature, signedDuration(e.DeltaTime), e.PercentChange),
		})
	}

	for _, h := range r.NewHotspots {
		if h.Severity.Rank() < model.SeveritySevere.Rank() {
			continue
		}
		out = append(out, Insight{
			Severity: "warning",
			Message:  fmt.Sprintf("new %s hotspot %s at %s", h.Severity, h.IssueType, h.NodePath),
		})
	}
	return out
}

type aggregated struct {
	signature string
	time      time.Duration
	share     float64
	rows      uint64
}

// aggregate groups nodes by signature. The map is keyed by the signature's
// xxhash so the union below sorts on a stable fixed width key.
func aggregate(t *model.ExecutionTree) map[uint64]aggregated {
	out := map[uint64]aggregated{}
	for i := range t.Nodes {
		n := &t.Nodes[i]
		sig := Signature(n)
		key := xxhash.Sum64String(sig)
		a := out[key]
		a.signature = sig
		a.time += n.Metrics.OperatorTotalTime
		a.share += n.Percentage()
		a.rows += max(n.Metrics.PushRowNum, n.Metrics.PullRowNum)
		out[key] = a
	}
	return out
}

// Signature identifies a plan node across two runs of the same query.
func Signature(n *model.ExecutionTreeNode) string {
	if n.PlanNodeID != nil && *n.PlanNodeID >= 0 {
		return fmt.Sprintf("%s #%d", n.OperatorName, *n.PlanNodeID)
	}
	return n.OperatorName
}

func unionKeys(base, target map[uint64]aggregated) []uint64 {
	keys := mapset.NewThreadUnsafeSet[uint64]()
	for k := range base {
		keys.Add(k)
	}
	for k := range target {
		keys.Add(k)
	}
	all := keys.ToSlice()
	sort.Slice(all, func(i, j int) bool { return all[i] < all[j] })
	return all
}

func buildEntry(base, target aggregated) Entry {
	sig := base.signature
	if sig == "" {
		sig = target.signature
	}
	return Entry{
		Signature:     sig,
		Fingerprint:   fmt.Sprintf("%016x", xxhash.Sum64String(sig)),
		BaseTime:      base.time,
		TargetTime:    target.time,
		DeltaTime:     target.time - base.time,
		PercentChange: percentChange(float64(base.time), float64(target.time)),
		BaseShare:     base.share,
		TargetShare:   target.share,
		DeltaShare:    target.share - base.share,
		BaseRows:      base.rows,
		TargetRows:    target.rows,
	}
}

// A node regresses when it got slower by both time thresholds, or when it got
// slower and its share of operator time grew by at least MinDeltaPercent.
func passesRegression(e Entry, opts Options) bool {
	if e.DeltaTime <= 0 {
		return false
	}
	return (e.DeltaTime >= opts.MinDeltaTime && e.PercentChange >= opts.MinPercentChange) ||
		e.DeltaShare >= opts.MinDeltaPercent
}

func passesImprovement(e Entry, opts Options) bool {
	if e.DeltaTime >= 0 {
		return false
	}
	return (-e.DeltaTime >= opts.MinDeltaTime && e.PercentChange <= -opts.MinPercentChange) ||
		e.DeltaShare <= -opts.MinDeltaPercent
}

func hotspotsOnlyIn(a, b []model.HotSpot) []model.HotSpot {
	seen := mapset.NewThreadUnsafeSet[string]()
	for _, h := range b {
		seen.Add(h.IssueType + "@" + h.NodePath)
	}
	out := []model.HotSpot{}
	for _, h := range a {
		if !seen.Contains(h.IssueType + "@" + h.NodePath) {
			out = append(out, h)
		}
	}
	return out
}

func percentChange(base, target float64) float64 {
	const eps = 1e-9
	if math.Abs(base) <= eps {
		if math.Abs(target) <= eps {
			return 0
		}
		if target > 0 {
			return 100
		}
		return -100
	}
	return (target - base) / base * 100
}

func applyDefaults(opts Options) Options {
	cfg := config.Active().Diff
	if opts.MinDeltaTime <= 0 {
		opts.MinDeltaTime = cfg.MinDeltaTime
	}
	if opts.MinDeltaPercent <= 0 {
		opts.MinDeltaPercent = cfg.MinDeltaPercent
	}
	if opts.MinPercentChange <= 0 {
		opts.MinPercentChange = cfg.MinPercentChange
	}
	if opts.MaxItems <= 0 {
		opts.MaxItems = cfg.MaxItems
	}
	return opts
}
