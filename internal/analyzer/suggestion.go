package analyzer

import (
	"fmt"
	"slices"
	"time"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/mickamy/rockscope/internal/model"
)

// SlowestLimit is how many operators SlowestOperators keeps.
const SlowestLimit = 10

var generalSuggestions = []string{
	"Enable the query cache to speed up repeated queries",
	"Check that CPU, memory and storage on the backends are sufficient",
	"Keep table statistics up to date so the planner picks good plans",
	"Use query queues to avoid resource contention",
}

var severityPenalty = map[model.Severity]float64{
	model.SeverityCritical: 25,
	model.SeveritySevere:   15,
	model.SeverityHigh:     12,
	model.SeverityModerate: 8,
	model.SeverityMild:     3,
}

// Conclusion summarizes spots in one sentence.
func Conclusion(spots []model.HotSpot, summary model.Summary) string {
	if len(spots) == 0 {
		return "The query ran well, no notable performance problems were found."
	}

	var severe, moderate int
	for _, s := range spots {
		switch s.Severity {
		case model.SeveritySevere, model.SeverityCritical:
			severe++
		case model.SeverityModerate:
			moderate++
		}
	}
	total, _ := totalTime(summary)

	switch {
	case severe > 0:
		return fmt.Sprintf("The query has %d severe performance problems and ran for %s. The main issue is %s. Address the severe problems first.",
			severe, humanDuration(total), spots[0].IssueType)
	case moderate > 2:
		return fmt.Sprintf("The query has %d moderate performance problems and needs tuning. It ran for %s.",
			moderate, humanDuration(total))
	case total > 5*time.Minute:
		return fmt.Sprintf("The query ran for %s, review the hotspots.", humanDuration(total))
	default:
		return fmt.Sprintf("The query has %d minor issues, overall performance is acceptable.", len(spots))
	}
}

func humanDuration(d time.Duration) string {
	switch {
	case d >= time.Hour:
		return fmt.Sprintf("%.1f hours", d.Hours())
	case d >= time.Minute:
		return fmt.Sprintf("%.0f minutes", d.Minutes())
	default:
		return fmt.Sprintf("%.1f seconds", d.Seconds())
	}
}

// Suggestions flattens the suggestions of spots in order, drops duplicates
// and appends the general advice.
func Suggestions(spots []model.HotSpot) []string {
	seen := mapset.NewThreadUnsafeSet[string]()
	out := make([]string, 0, len(generalSuggestions))
	add := func(s string) {
		if seen.Add(s) {
			out = append(out, s)
		}
	}
	for _, spot := range spots {
		for _, s := range spot.Suggestions {
			add(s)
		}
	}
	for _, s := range generalSuggestions {
		add(s)
	}
	return out
}

// Score rates the query from 0 to 100.
func Score(spots []model.HotSpot, summary model.Summary) float64 {
	score := 100.0
	for _, s := range spots {
		score -= severityPenalty[s.Severity]
	}
	if total, ok := totalTime(summary); ok {
		switch {
		case total > time.Hour:
			score -= 20
		case total > 30*time.Minute:
			score -= 10
		case total > 5*time.Minute:
			score -= 5
		}
	}
	return max(score, 0)
}

// Recipes returns the documented tuning steps for an issue type.
func Recipes(issue string) []string {
	switch issue {
	case "cold_storage":
		return []string{
			"Move hot data to NVMe or SSD storage",
			"Point storage_root_path at an SSD to enable the data cache",
			"Raise remote_cache_capacity",
			"Check that the storage system has enough IOPS",
		}
	case "missing_predicate_pushdown":
		return []string{
			"Rewrite predicates as simple comparisons (avoid LIKE '%xxx%')",
			"Add a zonemap index for range filters",
			"Add a Bloom filter index for equality filters",
			"Create a materialized view so predicates can be pushed down",
		}
	case "thread_pool_starvation":
		return []string{
			"Raise max_io_threads_per_disk on the backends",
			"Raise num_io_threads_backlog",
			"Enable the data cache to relieve IO pressure",
			"Warm up data to reduce cold reads",
		}
	case "data_skew":
		return []string{
			"Pick a more evenly distributed bucketing key",
			"Increase the bucket count",
			"Enable enable_skew_optimization",
			"Refresh table statistics",
		}
	case "fragmented_rowsets":
		return []string{
			"Trigger a manual compaction (ALTER TABLE ... COMPACT)",
			"Batch small loads together",
			"Tune cumulative_compaction_num_deltas",
			"Enable automatic compaction scheduling",
		}
	case "suboptimal_aggregation":
		return []string{
			"Avoid one-phase aggregation on large datasets",
			"Enable distributed pre-aggregation",
			"Enable spillable aggregation",
			"Choose better GROUP BY keys",
		}
	default:
		return []string{
			"Check the operator's metrics against the tuning guide",
			"Prioritize by the operator's share of query time",
		}
	}
}

// SlowestOperators ranks physical operators by OperatorTotalTime, relative to
// the query's total time.
func SlowestOperators(p *model.Profile, limit int) []model.SlowOperator {
	total, _ := totalTime(p.Summary)

	var ops []model.SlowOperator
	for _, f := range p.Fragments {
		for _, pl := range f.Pipelines {
			for _, op := range pl.Operators {
				t, ok := durationMetric(op.CommonMetrics, "OperatorTotalTime")
				if !ok {
					continue
				}
				so := model.SlowOperator{
					OperatorName: op.Name,
					FragmentID:   f.ID,
					PipelineID:   pl.ID,
					TotalTime:    t,
				}
				if total > 0 {
					so.TimePercentage = float64(t) / float64(total) * 100
				}
				ops = append(ops, so)
			}
		}
	}

	slices.SortStableFunc(ops, func(a, b model.SlowOperator) int {
		switch {
		case a.TotalTime > b.TotalTime:
			return -1
		case a.TotalTime < b.TotalTime:
			return 1
		}
		return 0
	})
	if limit > 0 && len(ops) > limit {
		ops = ops[:limit]
	}
	return ops
}
