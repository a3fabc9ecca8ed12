package composer_test

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/mickamy/rockscope/internal/composer"
	"github.com/mickamy/rockscope/internal/model"
	"github.com/mickamy/rockscope/internal/parser"
	"github.com/mickamy/rockscope/test"
)

type shape struct {
	ID       string
	Name     string
	Type     model.NodeType
	Depth    int
	Children []string
}

func shapes(nodes []model.ExecutionTreeNode) []shape {
	out := make([]shape, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, shape{n.ID, n.OperatorName, n.NodeType, n.Depth, n.Children})
	}
	return out
}

func TestParseSchemaScan(t *testing.T) {
	t.Parallel()

	c := composer.New(zaptest.NewLogger(t))
	profile, err := c.Parse(test.LoadSample(t, "schema_scan.txt"))
	require.NoError(t, err)
	require.NotNil(t, profile.ExecutionTree)
	assert.Empty(t, profile.Warnings)

	want := []shape{
		{"node_1", "EXCHANGE", model.NodeTypeExchangeSource, 1, []string{"node_0"}},
		{"node_0", "SCHEMA_SCAN", model.NodeTypeUnknown, 2, []string{}},
		{"node_-1", "RESULT_SINK", model.NodeTypeResultSink, 0, []string{"node_1"}},
	}
	if diff := cmp.Diff(want, shapes(profile.ExecutionTree.Nodes)); diff != "" {
		t.Errorf("tree mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, "node_-1", profile.ExecutionTree.Root.ID)

	pct := map[string]float64{}
	for _, n := range profile.ExecutionTree.Nodes {
		pct[n.ID] = n.Percentage()
	}
	assert.InDelta(t, 45.73, pct["node_1"], 0.01)
	assert.InDelta(t, 50.75, pct["node_0"], 0.01)
	assert.InDelta(t, 3.56, pct["node_-1"], 0.01)

	exchange, ok := profile.ExecutionTree.Node("node_1")
	require.True(t, ok)
	assert.InDelta(t, float64(15730*time.Microsecond), float64(exchange.Metrics.OperatorTotalTime), float64(time.Microsecond))
	assert.True(t, exchange.IsMostConsuming)
	assert.Equal(t, "0", exchange.FragmentID)

	sink, ok := profile.ExecutionTree.Node("node_-1")
	require.True(t, ok)
	spec, ok := sink.Metrics.Specialized.(model.ResultSinkMetrics)
	require.True(t, ok)
	assert.Equal(t, "MYSQL_PROTOCAL", spec.SinkType)

	s := profile.Summary
	require.NotNil(t, s.QueryCumulativeOperatorTimeMs)
	assert.InDelta(t, 100.0, *s.QueryCumulativeOperatorTimeMs, 1e-9)
	require.NotNil(t, s.QueryPeakMemory)
	assert.Equal(t, uint64(512*1024), *s.QueryPeakMemory)
	assert.Equal(t, "30.000ms", s.QueryCumulativeNetworkTime)

	require.Len(t, s.TopTimeConsumingNodes, 3)
	top := s.TopTimeConsumingNodes[0]
	assert.Equal(t, 1, top.Rank)
	assert.Equal(t, "SCHEMA_SCAN", top.OperatorName)
	assert.Equal(t, int32(0), top.PlanNodeID)
	assert.Equal(t, "30.75ms", top.TotalTime)
	assert.Equal(t, "RESULT_SINK", s.TopTimeConsumingNodes[2].OperatorName)
}

func TestParseLakeScanAggregatesOperators(t *testing.T) {
	t.Parallel()

	profile, err := composer.New(zaptest.NewLogger(t)).Parse(test.LoadSample(t, "lake_scan.txt"))
	require.NoError(t, err)
	tr := profile.ExecutionTree

	join, ok := tr.Node("node_2")
	require.True(t, ok)
	assert.Equal(t, model.NodeTypeHashJoin, join.NodeType)
	assert.Equal(t, 16*time.Second, join.Metrics.OperatorTotalTime)
	assert.Equal(t, 3, join.Depth)
	assert.ElementsMatch(t, []string{"node_0", "node_1"}, join.Children)

	agg, ok := tr.Node("node_3")
	require.True(t, ok)
	assert.Equal(t, 5*time.Second, agg.Metrics.OperatorTotalTime)
	am, ok := agg.Metrics.Specialized.(model.AggregateMetrics)
	require.True(t, ok)
	assert.Equal(t, "two_phase", am.AggMode)

	lake, ok := tr.Node("node_0")
	require.True(t, ok)
	assert.Equal(t, model.NodeTypeConnectorScan, lake.NodeType)
	cs, ok := lake.Metrics.Specialized.(model.ConnectorScanMetrics)
	require.True(t, ok)
	assert.Equal(t, "orders", cs.Table)
	assert.Equal(t, 38*time.Second, cs.IOTimeRemote)
	// 20s operator time plus 45s scan time over 1m40s.
	assert.InDelta(t, 65.0, lake.Percentage(), 0.01)

	assert.Equal(t, "node_-1", tr.Root.ID)
	assert.Equal(t, 0, tr.Root.Depth)
}

func TestParseWithoutTopologyFallsBackToFragments(t *testing.T) {
	t.Parallel()

	profile, err := composer.New(zaptest.NewLogger(t)).Parse(test.LoadSample(t, "no_topology.txt"))
	require.NoError(t, err)

	require.Len(t, profile.Warnings, 1)
	assert.Contains(t, profile.Warnings[0], "BROKEN_OP")

	want := []shape{
		{"node_-1", "OLAP_TABLE_SINK", model.NodeTypeOlapTableSink, 0, []string{"node_0"}},
		{"node_0", "OLAP_SCAN", model.NodeTypeOlapScan, 1, []string{}},
	}
	if diff := cmp.Diff(want, shapes(profile.ExecutionTree.Nodes)); diff != "" {
		t.Errorf("tree mismatch (-want +got):\n%s", diff)
	}
	// 6m and 4m plus 3m scan over 10m.
	assert.InDelta(t, 60.0, profile.ExecutionTree.Nodes[0].Percentage(), 0.01)
	assert.InDelta(t, 70.0, profile.ExecutionTree.Nodes[1].Percentage(), 0.01)
}

func TestParseFallbackSharesPlanNodeTime(t *testing.T) {
	t.Parallel()

	text := `Query:
  Summary:
     - Query ID: shared
  Planner:
     - Total: 1ms
  Execution:
     - QueryCumulativeOperatorTime: 10s
    Fragment 0:
      Pipeline (id=0):
        RESULT_SINK (plan_node_id=-1):
          CommonMetrics:
             - OperatorTotalTime: 1s
        AGGREGATE_BLOCKING_SOURCE (plan_node_id=2):
          CommonMetrics:
             - OperatorTotalTime: 2s
      Pipeline (id=1):
        AGGREGATE_BLOCKING_SINK (plan_node_id=2):
          CommonMetrics:
             - OperatorTotalTime: 3s
        OLAP_SCAN (plan_node_id=0):
          CommonMetrics:
             - OperatorTotalTime: 4s
`
	profile, err := composer.New(zaptest.NewLogger(t)).Parse(text)
	require.NoError(t, err)
	assert.Empty(t, profile.Warnings)

	pct := map[string]float64{}
	for _, n := range profile.ExecutionTree.Nodes {
		pct[n.ID] = n.Percentage()
	}
	assert.InDelta(t, 10.0, pct["node_-1"], 0.01)
	assert.InDelta(t, 50.0, pct["node_2"], 0.01)
	assert.InDelta(t, 50.0, pct["node_2_1"], 0.01)
	assert.InDelta(t, 40.0, pct["node_0"], 0.01)
}

func TestParseKeepsGoingOnMalformedTopology(t *testing.T) {
	t.Parallel()

	text := `Query:
  Summary:
     - Query ID: broken
  Planner:
     - Total: 1ms
  Execution:
     - QueryCumulativeOperatorTime: 10s
     - Topology: {"rootId":0,"nodes":[}
    Fragment 0:
      Pipeline (id=0):
        RESULT_SINK (plan_node_id=-1):
          CommonMetrics:
             - OperatorTotalTime: 1s
        OLAP_SCAN (plan_node_id=0):
          CommonMetrics:
             - OperatorTotalTime: 4s
`
	profile, err := composer.New(zaptest.NewLogger(t)).Parse(text)
	require.NoError(t, err)

	require.Len(t, profile.Warnings, 1)
	assert.Contains(t, profile.Warnings[0], "invalid JSON")
	want := []shape{
		{"node_-1", "RESULT_SINK", model.NodeTypeResultSink, 0, []string{"node_0"}},
		{"node_0", "OLAP_SCAN", model.NodeTypeOlapScan, 1, []string{}},
	}
	if diff := cmp.Diff(want, shapes(profile.ExecutionTree.Nodes)); diff != "" {
		t.Errorf("tree mismatch (-want +got):\n%s", diff)
	}
}

func TestParseErrors(t *testing.T) {
	t.Parallel()

	c := composer.New(nil)

	_, err := c.Parse("nothing useful")
	assert.ErrorIs(t, err, parser.ErrSectionNotFound)

	cyclic := `Query:
  Summary:
     - Query ID: x
  Planner:
     - Total: 1ms
  Execution:
     - Topology: {"rootId":0,"nodes":[{"id":0,"name":"PROJECT","children":[1]},{"id":1,"name":"SORT","children":[0]}]}
    Fragment 0:
      Pipeline (id=0):
        PROJECT (plan_node_id=0):
          CommonMetrics:
             - OperatorTotalTime: 1ms
`
	_, err = c.Parse(cyclic)
	require.ErrorIs(t, err, parser.ErrTopology)
	assert.Contains(t, err.Error(), "validate topology")
}

func TestWithTopNodes(t *testing.T) {
	t.Parallel()

	c := composer.New(zaptest.NewLogger(t), composer.WithTopNodes(1), composer.WithThresholds(60, 50))
	profile, err := c.Parse(test.LoadSample(t, "schema_scan.txt"))
	require.NoError(t, err)

	require.Len(t, profile.Summary.TopTimeConsumingNodes, 1)
	top := profile.Summary.TopTimeConsumingNodes[0]
	assert.Equal(t, "SCHEMA_SCAN", top.OperatorName)
	assert.False(t, top.IsMostConsuming)
	assert.True(t, top.IsSecondMostConsuming)
}

func TestAggregateOperators(t *testing.T) {
	t.Parallel()

	ops := []model.Operator{
		{
			Name:          "AGGREGATE_BLOCKING_SINK",
			PlanNodeID:    model.Int32(3),
			CommonMetrics: map[string]string{"OperatorTotalTime": "4s", "PushRowNum": "10", "MemoryUsage": "1 KB"},
			UniqueMetrics: map[string]string{"AggMode": "first", "__MAX_OF_InputRows": "7"},
		},
		{
			Name:          "AGGREGATE_BLOCKING_SOURCE",
			PlanNodeID:    model.Int32(3),
			CommonMetrics: map[string]string{"OperatorTotalTime": "1s", "PushRowNum": "5"},
			UniqueMetrics: map[string]string{"AggMode": "second", "__MAX_OF_InputRows": "9"},
		},
		{
			Name:          "LOCAL_EXCHANGE_SOURCE",
			PlanNodeID:    model.Int32(3),
			CommonMetrics: map[string]string{"OperatorTotalTime": "100s"},
		},
	}

	got := composer.AggregateOperators(ops, "AGGREGATION")
	want := model.Operator{
		Name:       "AGGREGATE_BLOCKING_SINK",
		PlanNodeID: model.Int32(3),
		CommonMetrics: map[string]string{
			"OperatorTotalTime": "5s",
			"PushRowNum":        "15",
			"MemoryUsage":       "1 KB",
		},
		UniqueMetrics: map[string]string{"AggMode": "second", "__MAX_OF_InputRows": "7"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("AggregateOperators mismatch (-want +got):\n%s", diff)
	}

	scan := composer.AggregateOperators([]model.Operator{
		{Name: "PROJECT", CommonMetrics: map[string]string{}},
		{Name: "CONNECTOR_SCAN", CommonMetrics: map[string]string{"OperatorTotalTime": "2s"}},
	}, "OLAP_SCAN")
	assert.Equal(t, "CONNECTOR_SCAN", scan.Name)

	lone := composer.AggregateOperators([]model.Operator{{Name: "A"}, {Name: "B"}}, "SORT")
	assert.Equal(t, "A", lone.Name)

	empty := composer.AggregateOperators(nil, "SORT")
	assert.Equal(t, "SORT", empty.Name)
}

func TestMetricsFromPrefersMax(t *testing.T) {
	t.Parallel()

	m := composer.MetricsFrom(map[string]string{
		"OperatorTotalTime":          "1s",
		"__MAX_OF_OperatorTotalTime": "3s",
		"PullTotalTime":              "200ms",
		"PullRowNum":                 "1,200",
		"OutputChunkBytes":           "2.000 KB",
	})
	assert.Equal(t, 3*time.Second, m.OperatorTotalTime)
	assert.Equal(t, "3s", m.OperatorTotalTimeRaw)
	assert.Equal(t, 200*time.Millisecond, m.PullTotalTime)
	assert.Equal(t, uint64(1200), m.PullRowNum)
	assert.Equal(t, uint64(2048), m.OutputChunkBytes)

	cpu := composer.MetricsFrom(map[string]string{"OperatorTotalTime": "1s", "CPUTime": "2s"})
	assert.Equal(t, 2*time.Second, cpu.OperatorTotalTime)
}

func TestTopNodes(t *testing.T) {
	t.Parallel()

	mk := func(name string, id *int32, pct float64) model.ExecutionTreeNode {
		return model.ExecutionTreeNode{OperatorName: name, PlanNodeID: id, TimePercentage: model.Float64(pct)}
	}
	nodes := []model.ExecutionTreeNode{
		mk("A", model.Int32(0), 10),
		mk("B", model.Int32(1), 50),
		mk("C", nil, 90),
		mk("D", model.Int32(2), 0),
		mk("E", model.Int32(3), 20),
	}
	top := composer.TopNodes(nodes, 2)

	require.Len(t, top, 2)
	assert.Equal(t, "B", top[0].OperatorName)
	assert.Equal(t, "E", top[1].OperatorName)
	assert.Equal(t, 2, top[1].Rank)
	assert.Equal(t, "N/A", top[1].TotalTime)
}
