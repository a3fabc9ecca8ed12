package analyzer

import (
	"fmt"
	"slices"
	"time"

	"github.com/mickamy/rockscope/internal/config"
	"github.com/mickamy/rockscope/internal/model"
	"github.com/mickamy/rockscope/internal/parser"
	"github.com/mickamy/rockscope/internal/value"
)

const (
	pathQuery    = "Query"
	pathOverview = "Execution.Overview"
)

// detector applies the hotspot rules to one profile.
type detector struct {
	rules config.HotspotConfig
}

func spot(path string, severity model.Severity, issue, description string, suggestions ...string) model.HotSpot {
	return model.HotSpot{
		NodePath:    path,
		Severity:    severity,
		IssueType:   issue,
		Description: description,
		Suggestions: suggestions,
	}
}

// Detect returns every hotspot of p, most severe first. Ties keep detection
// order: query, tree nodes, execution overview, then fragments.
func (d detector) Detect(p *model.Profile) []model.HotSpot {
	var spots []model.HotSpot

	if total, ok := totalTime(p.Summary); ok && total > d.rules.LongRunning {
		spots = append(spots, spot(pathQuery, model.SeveritySevere, "LongRunning",
			fmt.Sprintf("Query ran for %.0fs", total.Seconds()),
			"Check the query for data skew",
			"Review the query plan for cheaper alternatives",
			"Look for hardware bottlenecks on the backends",
		))
	}

	hasTree := p.ExecutionTree != nil
	if hasTree {
		for i := range p.ExecutionTree.Nodes {
			spots = append(spots, d.node(&p.ExecutionTree.Nodes[i])...)
		}
	}

	spots = append(spots, d.overview(p.Execution.Metrics)...)

	for _, f := range p.Fragments {
		for _, pl := range f.Pipelines {
			for _, op := range pl.Operators {
				path := fmt.Sprintf("Fragment%s.Pipeline%s.%s", f.ID, pl.ID, op.Name)
				if !hasTree {
					spots = append(spots, d.operator(path, op)...)
				}
				switch parser.KindOf(op.Name) {
				case model.NodeTypeConnectorScan:
					spots = append(spots, d.connectorScan(path, op)...)
				case model.NodeTypeHashJoin:
					spots = append(spots, d.join(path, op)...)
				case model.NodeTypeAggregate:
					spots = append(spots, d.aggregate(path, op)...)
				}
			}
		}
	}

	slices.SortStableFunc(spots, func(a, b model.HotSpot) int {
		return b.Severity.Rank() - a.Severity.Rank()
	})
	return spots
}

func (d detector) node(n *model.ExecutionTreeNode) []model.HotSpot {
	var spots []model.HotSpot
	path := fmt.Sprintf("%s (%s)", n.OperatorName, n.ID)

	total := n.Metrics.OperatorTotalTime
	var severity model.Severity
	switch {
	case total > d.rules.NodeCriticalLatency:
		severity = model.SeverityCritical
	case total > d.rules.NodeSevereLatency:
		severity = model.SeveritySevere
	case total > d.rules.NodeHighLatency:
		severity = model.SeverityHigh
	}
	if severity != "" {
		var suggestions []string
		switch {
		case n.NodeType.IsScan():
			suggestions = []string{
				"Check the scanned table for data skew",
				"Consider adding a suitable index",
				"Verify that predicates are pushed down to the scan",
			}
		case n.NodeType == model.NodeTypeHashJoin:
			suggestions = []string{
				"Check the data distribution on both join sides",
				"Consider reordering the joins",
				"Enable runtime filters",
			}
		default:
			suggestions = []string{
				"Inspect the input volume of this operator",
				"Check that the backends have enough resources",
			}
		}
		spots = append(spots, spot(path, severity, "HighLatency",
			fmt.Sprintf("%s took %.2fs", n.OperatorName, total.Seconds()), suggestions...))
	}

	if scan, ok := n.Metrics.Specialized.(model.ConnectorScanMetrics); ok && scan.IOTime > 0 && scan.ScanTime > 0 {
		ratio := float64(scan.IOTime.Milliseconds()) / float64(max(scan.ScanTime.Milliseconds(), 1))
		if ratio > d.rules.IORatioSevere {
			severity := model.SeveritySevere
			if ratio > d.rules.IORatioCritical {
				severity = model.SeverityCritical
			}
			spots = append(spots, spot(path, severity, "IOBottleneck",
				fmt.Sprintf("IO accounts for %.1f%% of the scan", ratio*100),
				"Check for heavy remote IO reads",
				"Consider a better data distribution or replica placement",
				"Increase local storage capacity",
			))
		}
	}

	if out := n.Metrics.OutputChunkBytes; out > d.rules.NodeOutputBytes {
		spots = append(spots, spot(path, model.SeverityMild, "HighDataOutput",
			fmt.Sprintf("Large output: %.2fMB", float64(out)/(1<<20)),
			"Filter rows earlier at this operator",
			"Aggregate or deduplicate before this operator",
		))
	}
	return spots
}

func (d detector) overview(metrics map[string]string) []model.HotSpot {
	var spots []model.HotSpot

	if raw, ok := metrics["QueryPeakMemoryUsagePerNode"]; ok && d.rules.NodeMemoryLimitBytes > 0 {
		if b, err := value.ParseBytes(raw); err == nil {
			pct := float64(b) / float64(d.rules.NodeMemoryLimitBytes) * 100
			if pct > d.rules.MemoryUsagePercent {
				spots = append(spots, spot(pathOverview, model.SeverityCritical, "MemoryUsage",
					fmt.Sprintf("Peak memory per node at %.1f%% (threshold %.0f%%)", pct, d.rules.MemoryUsagePercent),
					"Check the backend mem_limit setting",
					"Enable spillable operators",
					"Reduce memory pressure with smaller joins or partitioning",
					"Add backend memory or scale out the cluster",
				))
			}
		}
	}

	if raw, ok := metrics["QuerySpillBytes"]; ok {
		if b, err := value.ParseBytes(raw); err == nil && b > d.rules.SpillBytes {
			spots = append(spots, spot(pathOverview, model.SeverityHigh, "DiskSpill",
				fmt.Sprintf("Query spilled %s to disk (threshold %s)", value.FormatBytes(b), value.FormatBytes(d.rules.SpillBytes)),
				"Allocate more memory to the query",
				"Check for data skew causing memory shortage",
				"Enable adaptive sink degree of parallelism",
				"Reorder joins to reduce memory usage",
			))
		}
	}
	return spots
}

// operator runs the generic per-operator checks used when no execution tree
// could be built.
func (d detector) operator(path string, op model.Operator) []model.HotSpot {
	var spots []model.HotSpot

	if t, ok := durationMetric(op.CommonMetrics, "OperatorTotalTime"); ok && t > d.rules.OperatorTime {
		spots = append(spots, spot(path, model.SeveritySevere, "HighTimeCost",
			fmt.Sprintf("Operator %s took %.0fs", op.Name, t.Seconds()),
			"Check whether the operator processes too much data",
			"Consider adding an index",
			"Look for data skew",
		))
	}
	if b, ok := bytesMetric(op.CommonMetrics, "MemoryUsage"); ok && b > d.rules.OperatorMemoryBytes {
		spots = append(spots, spot(path, model.SeverityModerate, "HighMemoryUsage",
			fmt.Sprintf("Operator %s uses %s of memory", op.Name, value.FormatBytes(b)),
			"Check for memory leaks",
			"Tune the memory configuration",
			"Use leaner data structures",
		))
	}
	if b, ok := bytesMetric(op.CommonMetrics, "OutputChunkBytes"); ok && b > d.rules.OperatorOutputBytes {
		spots = append(spots, spot(path, model.SeverityModerate, "LargeDataOutput",
			fmt.Sprintf("Operator %s emitted %s", op.Name, value.FormatBytes(b)),
			"Drop unneeded columns from the select list",
			"Add filter conditions",
			"Check that data is evenly distributed",
		))
	}
	return spots
}

func (d detector) connectorScan(path string, op model.Operator) []model.HotSpot {
	var spots []model.HotSpot
	r := d.rules
	unique := op.UniqueMetrics

	if t, ok := durationMetric(unique, "CreateSegmentIter"); ok {
		switch {
		case t > r.SegmentIterCritical:
			spots = append(spots, spot(path, model.SeverityCritical, "fragmented_rowsets",
				fmt.Sprintf("Segment iterator creation took %.0fs, the table is heavily fragmented", t.Seconds()),
				"Trigger a manual compaction (ALTER TABLE ... COMPACT)",
				"Review cumulative_compaction_num_deltas",
				"Rebuild the table to reduce small files",
				"Monitor tablet metadata size regularly",
			))
		case t > r.SegmentIterSevere:
			spots = append(spots, spot(path, model.SeveritySevere, "fragmented_rowsets",
				fmt.Sprintf("Segment iterator creation took %.0fs, check compaction status", t.Seconds()),
				"Check compaction status and parameters",
				"Consider compacting more frequently",
				"Monitor the segment count trend",
			))
		}
	}

	if n, ok := countMetric(unique, "SegmentsReadCount"); ok {
		switch {
		case n > r.SegmentsCritical:
			spots = append(spots, spot(path, model.SeverityCritical, "fragmented_rowsets",
				fmt.Sprintf("%d segments read, the table is severely fragmented", n),
				"Run a table compaction urgently",
				"Change the load strategy to produce fewer small files",
				"Lower the compaction trigger thresholds",
				"Repartition to spread segments of hot partitions",
			))
		case n > r.SegmentsSevere:
			spots = append(spots, spot(path, model.SeveritySevere, "fragmented_rowsets",
				fmt.Sprintf("%d segments read, the table is fragmented", n),
				"Prioritize a compaction",
				"Tune load parameters to produce fewer segments",
				"Review cumulative_compaction_num_deltas",
			))
		case n > r.SegmentsModerate:
			spots = append(spots, spot(path, model.SeverityModerate, "fragmented_rowsets",
				fmt.Sprintf("%d segments read, watch table fragmentation", n),
				"Schedule compaction maintenance",
				"Monitor the table's segment count",
			))
		}
	}

	scanTime, hasScanTime := durationMetric(op.CommonMetrics, "ScanTime")
	if !hasScanTime {
		scanTime, hasScanTime = durationMetric(unique, "ScanTime")
	}

	if remote, ok := durationMetric(unique, "IOTimeRemote"); ok && hasScanTime && float64(remote) > float64(scanTime)*r.RemoteIOScanRatio {
		share := 100.0
		if scanTime > 0 {
			share = float64(remote) / float64(scanTime) * 100
		}
		spots = append(spots, spot(path, model.SeveritySevere, "cold_storage_overhead",
			fmt.Sprintf("Remote IO takes %.1f%% of the scan time, the network is the bottleneck", share),
			"Improve network bandwidth and latency to remote storage",
			"Warm up data to reduce cold reads",
			"Move hot data to local storage",
			"Evaluate IOPS and bandwidth of the storage system",
		))
	}

	if hasScanTime {
		switch {
		case scanTime > r.ScanCritical:
			spots = append(spots, spot(path, model.SeverityCritical, "excessive_scan_time",
				fmt.Sprintf("Scan took %.0fs", scanTime.Seconds()),
				"Narrow the scan range with tighter predicates",
				"Check index integrity",
				"Review the bucketing strategy",
				"Use partition pruning and predicate pushdown",
			))
		case scanTime > r.ScanSevere:
			spots = append(spots, spot(path, model.SeveritySevere, "high_scan_time",
				fmt.Sprintf("Scan took %.0fs", scanTime.Seconds()),
				"Tighten the WHERE clause",
				"Add a suitable index",
				"Review the partition key",
			))
		}
	}

	if t, ok := durationMetric(unique, "IOTime"); ok && t > r.IOTimeSevere {
		spots = append(spots, spot(path, model.SeveritySevere, "high_io_time",
			fmt.Sprintf("IO took %.0fs", t.Seconds()),
			"Check storage system performance",
			"Tune IO related parameters",
			"Check data locality",
		))
	}

	remote, hasRemote := countMetric(unique, "IOCountRemote")
	local, hasLocal := countMetric(unique, "IOCountLocalDisk")
	if hasRemote && hasLocal {
		switch {
		case remote > 0 && local == 0:
			spots = append(spots, spot(path, model.SeverityHigh, "cold_storage",
				"Every read went to remote storage, the local cache was not used",
				"Point storage_root_path at an SSD to enable the data cache",
				"Raise remote_cache_capacity",
				"Check that the storage system has enough IOPS",
				"Revisit the storage tiering policy",
			))
		case remote > local*r.RemoteIOMultiplier:
			spots = append(spots, spot(path, model.SeverityModerate, "high_remote_io_ratio",
				fmt.Sprintf("Too much remote IO: remote=%d, local=%d", remote, local),
				"Warm up data to reduce cold reads",
				"Improve the data distribution",
				"Increase local cache capacity",
			))
		}
	}

	filtered := false
	if n, ok := countMetric(unique, "ShortKeyFilterRows"); ok && n > 0 {
		filtered = true
	}
	if rows, ok := countMetric(unique, "RawRowsRead"); ok && !filtered {
		switch {
		case rows > r.RawRowsHigh:
			spots = append(spots, spot(path, model.SeverityHigh, "missing_predicate_pushdown",
				fmt.Sprintf("Read %d raw rows without effective predicate filtering", rows),
				"Add WHERE conditions to filter data",
				"Create an index for fast lookups",
				"Prune with the partition key",
				"Create a materialized view so predicates can be pushed down",
			))
		case rows > r.RawRowsModerate:
			spots = append(spots, spot(path, model.SeverityModerate, "missing_predicate_pushdown",
				fmt.Sprintf("Read %d raw rows without predicate filtering", rows),
				"Consider adding filter conditions",
				"Check whether a full table scan is really needed",
			))
		}
	}

	if q, ok := countMetric(unique, "PeakScanTaskQueueSize"); ok {
		switch {
		case q > r.ScanQueueSevere:
			spots = append(spots, spot(path, model.SeveritySevere, "thread_pool_starvation",
				fmt.Sprintf("%d scan tasks queued, IO threads are exhausted", q),
				"Raise max_io_threads_per_disk on the backends",
				"Raise num_io_threads_backlog",
				"Reduce concurrent query load",
				"Check whether the IO subsystem is overloaded",
			))
		case q > r.ScanQueueModerate:
			spots = append(spots, spot(path, model.SeverityModerate, "thread_pool_starvation",
				fmt.Sprintf("%d scan tasks queued", q),
				"Consider a larger IO thread pool",
				"Monitor concurrent query pressure",
			))
		}
	}

	if dop, ok := countMetric(op.CommonMetrics, "DegreeOfParallelism"); ok && dop == 1 {
		if _, scans := op.CommonMetrics["ScanTime"]; scans {
			spots = append(spots, spot(path, model.SeverityModerate, "insufficient_parallelism",
				"The scan ran on a single thread",
				"Raise parallel_fragment_exec_instance_num",
				"Check the pipeline_dop setting",
				"Verify that the plan is parallelized as expected",
			))
		}
	}
	return spots
}

func (d detector) join(path string, op model.Operator) []model.HotSpot {
	build, okBuild := countMetric(op.UniqueMetrics, "BuildRows")
	probe, okProbe := countMetric(op.UniqueMetrics, "ProbeRows")
	if !okBuild || !okProbe {
		return nil
	}

	var spots []model.HotSpot
	skew := d.rules.JoinSkewFactor
	if build > probe*skew || probe > build*skew {
		spots = append(spots, spot(path, model.SeverityHigh, "data_skew",
			fmt.Sprintf("Join sides are skewed: build=%d, probe=%d", build, probe),
			"Pick a more evenly distributed bucketing key",
			"Increase the bucket count",
			"Enable enable_skew_optimization",
			"Refresh table statistics",
		))
	}

	if mem, ok := bytesMetric(op.CommonMetrics, "MemoryUsage"); ok {
		expected := (build + probe) * d.rules.JoinBytesPerRow
		if mem > expected*2 {
			spots = append(spots, spot(path, model.SeverityModerate, "HighJoinMemory",
				fmt.Sprintf("Join uses %s, about %s expected", value.FormatBytes(mem), value.FormatBytes(expected)),
				"Consider a broadcast join instead of a shuffle join",
				"Join on fewer columns",
				"Shrink the join inputs",
			))
		}
	}
	return spots
}

func (d detector) aggregate(path string, op model.Operator) []model.HotSpot {
	var spots []model.HotSpot

	if op.UniqueMetrics["AggMode"] == "two_phase" && op.UniqueMetrics["ChunkByChunk"] == "false" {
		spots = append(spots, spot(path, model.SeverityMild, "suboptimal_aggregation",
			"Aggregation does not run chunk by chunk",
			"Check whether streaming aggregation applies",
			"Tune the aggregation parameters",
		))
	}

	in, okIn := countMetric(op.UniqueMetrics, "InputRows")
	out, okOut := countMetric(op.CommonMetrics, "PushRowNum")
	if okIn && okOut && in > 0 && out > 0 {
		ratio := float64(in) / float64(out)
		if ratio < d.rules.MinAggregateRatio {
			spots = append(spots, spot(path, model.SeverityMild, "LowAggregationRatio",
				fmt.Sprintf("Aggregation reduced %d rows to %d (ratio %.2f)", in, out, ratio),
				"Review the GROUP BY columns",
				"Consider pre-aggregation",
				"Check whether the data distribution defeats aggregation",
			))
		}
	}
	return spots
}

// totalTime parses the summary's Total field.
func totalTime(s model.Summary) (time.Duration, bool) {
	if s.TotalTime == "" {
		return 0, false
	}
	d, err := value.ParseDuration(s.TotalTime)
	if err != nil {
		return 0, false
	}
	return d, true
}

func durationMetric(m map[string]string, key string) (time.Duration, bool) {
	raw, ok := m[key]
	if !ok {
		return 0, false
	}
	d, err := value.ParseDuration(raw)
	return d, err == nil
}

func bytesMetric(m map[string]string, key string) (uint64, bool) {
	raw, ok := m[key]
	if !ok {
		return 0, false
	}
	b, err := value.ParseBytes(raw)
	return b, err == nil
}

func countMetric(m map[string]string, key string) (uint64, bool) {
	raw, ok := m[key]
	if !ok {
		return 0, false
	}
	n, err := value.ParseNumber[uint64](raw)
	return n, err == nil
}
