package analyzer_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/mickamy/rockscope/internal/analyzer"
	"github.com/mickamy/rockscope/internal/config"
	"github.com/mickamy/rockscope/internal/model"
	"github.com/mickamy/rockscope/test"
)

func issues(spots []model.HotSpot) map[string][]model.HotSpot {
	out := map[string][]model.HotSpot{}
	for _, s := range spots {
		out[s.IssueType] = append(out[s.IssueType], s)
	}
	return out
}

func TestAnalyzeHealthyProfile(t *testing.T) {
	t.Parallel()

	result := test.LoadSampleResult(t, "schema_scan.txt")

	assert.NotEmpty(t, result.ID)
	assert.Empty(t, result.Hotspots)
	assert.NotNil(t, result.Hotspots)
	assert.InDelta(t, 100.0, result.PerformanceScore, 1e-9)
	assert.Equal(t, "The query ran well, no notable performance problems were found.", result.Conclusion)
	assert.Len(t, result.Suggestions, 4)
	require.NotNil(t, result.Summary)
	assert.Equal(t, "8f0c2a4e-5b1d-11ef-9c2b-0242ac110002", result.Summary.QueryID)
	require.NotEmpty(t, result.TopNodes)
	assert.Equal(t, "SCHEMA_SCAN", result.TopNodes[0].OperatorName)
	assert.Equal(t, "SCHEMA_SCAN", result.SlowestOperators[0].OperatorName)
}

func TestAnalyzeLakeScan(t *testing.T) {
	t.Parallel()

	result := test.LoadSampleResult(t, "lake_scan.txt")
	got := issues(result.Hotspots)

	require.NotEmpty(t, result.Hotspots)
	first := result.Hotspots[0]
	assert.Equal(t, "MemoryUsage", first.IssueType)
	assert.Equal(t, model.SeverityCritical, first.Severity)
	assert.Equal(t, "Execution.Overview", first.NodePath)

	for i := 1; i < len(result.Hotspots); i++ {
		assert.GreaterOrEqual(t, result.Hotspots[i-1].Severity.Rank(), result.Hotspots[i].Severity.Rank())
	}

	require.Len(t, got["HighLatency"], 2)
	assert.Equal(t, "HASH_JOIN (node_2)", got["HighLatency"][0].NodePath)
	assert.Equal(t, model.SeverityHigh, got["HighLatency"][0].Severity)
	assert.Equal(t, "OLAP_SCAN (node_0)", got["HighLatency"][1].NodePath)

	require.Len(t, got["IOBottleneck"], 1)
	assert.Equal(t, model.SeveritySevere, got["IOBottleneck"][0].Severity)
	assert.Contains(t, got["IOBottleneck"][0].Description, "88.9%")

	require.Len(t, got["HighDataOutput"], 1)
	assert.Equal(t, model.SeverityMild, got["HighDataOutput"][0].Severity)

	require.Len(t, got["DiskSpill"], 1)
	assert.Equal(t, model.SeverityHigh, got["DiskSpill"][0].Severity)

	scanPath := "Fragment1.Pipeline1.CONNECTOR_SCAN"
	for issue, severity := range map[string]model.Severity{
		"cold_storage_overhead":      model.SeveritySevere,
		"cold_storage":               model.SeverityHigh,
		"missing_predicate_pushdown": model.SeverityHigh,
		"fragmented_rowsets":         model.SeverityModerate,
		"thread_pool_starvation":     model.SeverityModerate,
	} {
		require.Len(t, got[issue], 1, issue)
		assert.Equal(t, scanPath, got[issue][0].NodePath, issue)
		assert.Equal(t, severity, got[issue][0].Severity, issue)
	}

	require.Len(t, got["data_skew"], 1)
	assert.Equal(t, "Fragment1.Pipeline1.HASH_JOIN_PROBE", got["data_skew"][0].NodePath)
	require.Len(t, got["HighJoinMemory"], 1)
	assert.Equal(t, model.SeverityModerate, got["HighJoinMemory"][0].Severity)

	require.Len(t, got["suboptimal_aggregation"], 1)
	require.Len(t, got["LowAggregationRatio"], 1)
	assert.Contains(t, got["LowAggregationRatio"][0].Description, "ratio 1.33")

	// a tree was built, so the generic per-operator rules stay silent
	assert.Empty(t, got["HighMemoryUsage"])
	assert.Empty(t, got["LongRunning"])
	assert.Empty(t, got["insufficient_parallelism"])

	assert.Contains(t, result.Conclusion, "3 severe performance problems")
	assert.Contains(t, result.Conclusion, "The main issue is MemoryUsage")
	assert.InDelta(t, 0.0, result.PerformanceScore, 1e-9)

	require.Len(t, result.TopNodes, 3)
	assert.Equal(t, "OLAP_SCAN", result.TopNodes[0].OperatorName)
	assert.True(t, result.TopNodes[0].IsMostConsuming)
	assert.InDelta(t, 65.0, result.TopNodes[0].TimePercentage, 0.01)
	assert.Equal(t, "HASH_JOIN", result.TopNodes[1].OperatorName)
	assert.True(t, result.TopNodes[1].IsSecondMostConsuming)
}

func TestAnalyzeFragmentFallback(t *testing.T) {
	t.Parallel()

	result := test.LoadSampleResult(t, "no_topology.txt")

	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0], "BROKEN_OP")

	got := issues(result.Hotspots)
	require.Len(t, got["HighLatency"], 2)
	assert.Equal(t, model.SeverityCritical, got["HighLatency"][0].Severity)
	assert.Equal(t, "OLAP_TABLE_SINK (node_-1)", got["HighLatency"][0].NodePath)
	assert.Equal(t, model.SeveritySevere, got["HighLatency"][1].Severity)

	// 100 - 25 - 15 - 3 for the spots, 5 more for a total above five minutes
	assert.InDelta(t, 52.0, result.PerformanceScore, 1e-9)
}

func TestAnalyzeProfileWithoutTreeRunsOperatorRules(t *testing.T) {
	t.Parallel()

	profile := &model.Profile{
		Summary: model.Summary{TotalTime: "2h"},
		Fragments: []model.Fragment{{
			ID: "3",
			Pipelines: []model.Pipeline{{
				ID: "1",
				Operators: []model.Operator{{
					Name:       "OLAP_SCAN",
					PlanNodeID: model.Int32(0),
					CommonMetrics: map[string]string{
						"OperatorTotalTime":   "6m",
						"MemoryUsage":         "2.000 GB",
						"OutputChunkBytes":    "11.000 GB",
						"DegreeOfParallelism": "1",
					},
				}},
			}},
		}},
	}

	a := analyzer.New(zaptest.NewLogger(t), config.Default())
	result := a.AnalyzeProfile(profile)
	got := issues(result.Hotspots)

	require.Len(t, got["LongRunning"], 1)
	assert.Equal(t, "Query", got["LongRunning"][0].NodePath)
	require.Len(t, got["HighTimeCost"], 1)
	assert.Equal(t, "Fragment3.Pipeline1.OLAP_SCAN", got["HighTimeCost"][0].NodePath)
	require.Len(t, got["HighMemoryUsage"], 1)
	require.Len(t, got["LargeDataOutput"], 1)

	// Severe, Severe, Moderate, Moderate and the one hour penalty
	assert.InDelta(t, 100.0-15-15-8-8-20, result.PerformanceScore, 1e-9)
	assert.Contains(t, result.Conclusion, "2.0 hours")
}

func TestAnalyzeRespectsConfiguredThresholds(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.Hotspots.NodeHighLatency = time.Hour
	cfg.Hotspots.NodeSevereLatency = time.Hour
	cfg.Hotspots.NodeCriticalLatency = time.Hour
	cfg.Hotspots.NodeMemoryLimitBytes = 64 << 30

	a := analyzer.New(zaptest.NewLogger(t), cfg)
	result, err := a.Analyze(context.Background(), test.LoadSample(t, "lake_scan.txt"))
	require.NoError(t, err)

	got := issues(result.Hotspots)
	assert.Empty(t, got["HighLatency"])
	assert.Empty(t, got["MemoryUsage"])
	assert.NotEmpty(t, got["DiskSpill"])
}

func TestAnalyzeHonorsCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := analyzer.New(nil, config.Default()).Analyze(ctx, test.LoadSample(t, "schema_scan.txt"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAnalyzeRejectsTextWithoutSections(t *testing.T) {
	t.Parallel()

	_, err := analyzer.Analyze(context.Background(), "not a profile")
	assert.Error(t, err)
}

func TestFlattenVisitsRootFirst(t *testing.T) {
	t.Parallel()

	result := test.LoadSampleResult(t, "lake_scan.txt")
	nodes := analyzer.Flatten(result.ExecutionTree)

	require.Len(t, nodes, len(result.ExecutionTree.Nodes))
	assert.Equal(t, result.ExecutionTree.Root.ID, nodes[0].ID)
	for i := 1; i < len(nodes); i++ {
		assert.GreaterOrEqual(t, nodes[i].Depth, 1)
	}
}
