package parser_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mickamy/rockscope/internal/model"
	"github.com/mickamy/rockscope/internal/parser"
	"github.com/mickamy/rockscope/test"
)

func TestParseSummary(t *testing.T) {
	t.Parallel()

	s, err := parser.ParseSummary(test.LoadSample(t, "schema_scan.txt"))
	require.NoError(t, err)

	assert.Equal(t, "8f0c2a4e-5b1d-11ef-9c2b-0242ac110002", s.QueryID)
	assert.Equal(t, "2024-08-14 10:21:07", s.StartTime)
	assert.Equal(t, "142ms", s.TotalTime)
	require.NotNil(t, s.TotalTimeMs)
	assert.InDelta(t, 142.0, *s.TotalTimeMs, 1e-9)
	assert.Equal(t, "Finished", s.QueryState)
	assert.Equal(t, "3.3.2-857dd73", s.StarRocksVersion)
	assert.Equal(t, "root", s.User)
	assert.Equal(t, "information_schema", s.DefaultDB)
	assert.True(t, strings.HasPrefix(s.SQLStatement, "select table_name"))
	assert.Contains(t, s.Variables, "NonDefaultSessionVariables")
	assert.Nil(t, s.QueryCumulativeOperatorTimeMs)
}

func TestParseSummaryLongTotal(t *testing.T) {
	t.Parallel()

	text := `Query:
  Summary:
     - Query ID: long-running
     - Total: 1h30m
     - Query State: Finished
  Planner:
     - Total: 1ms
  Execution:
     - QueryExecutionWallTime: 1h29m59s
`
	s, err := parser.ParseSummary(text)
	require.NoError(t, err)
	assert.Equal(t, "1h30m", s.TotalTime)
	require.NotNil(t, s.TotalTimeMs)
	assert.InDelta(t, 5400.0*1000, *s.TotalTimeMs, 1e-6)
	assert.Equal(t, "Finished", s.QueryState)
}

func TestParseSectionsMissing(t *testing.T) {
	t.Parallel()

	_, err := parser.ParseSummary("Query:\n  Planner:\n")
	require.ErrorIs(t, err, parser.ErrSectionNotFound)
	assert.Contains(t, err.Error(), "Summary")

	_, err = parser.ParsePlanner("Summary:\n")
	assert.ErrorIs(t, err, parser.ErrSectionNotFound)

	_, err = parser.ParseExecution("Summary:\n")
	assert.ErrorIs(t, err, parser.ErrSectionNotFound)
}

func TestParseExecutionKeepsOnlyQueryCounters(t *testing.T) {
	t.Parallel()

	exec, err := parser.ParseExecution(test.LoadSample(t, "schema_scan.txt"))
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(exec.Topology, `{"rootId":1`))
	assert.True(t, strings.HasSuffix(exec.Topology, "}"))
	assert.Equal(t, "100.000ms", exec.Metrics["QueryCumulativeOperatorTime"])
	assert.Equal(t, "120.000ms", exec.Metrics["QueryExecutionWallTime"])
	assert.NotContains(t, exec.Metrics, "Topology")
	assert.NotContains(t, exec.Metrics, "BackendNum")
	assert.NotContains(t, exec.Metrics, "DegreeOfParallelism")
}

func TestExtractTopology(t *testing.T) {
	t.Parallel()

	block := `  - Topology: {"rootId":0,"nodes":[{"id":0,"name":"X","children":[]}]} trailing
  - Other: 1`
	assert.Equal(t, `{"rootId":0,"nodes":[{"id":0,"name":"X","children":[]}]}`, parser.ExtractTopology(block))
	assert.Empty(t, parser.ExtractTopology("- Other: 1"))
	assert.Empty(t, parser.ExtractTopology(`- Topology: {"rootId":0`))
}

func TestExtractFragments(t *testing.T) {
	t.Parallel()

	fragments, warnings := parser.ExtractFragments(test.LoadSample(t, "schema_scan.txt"))
	require.Empty(t, warnings)
	require.Len(t, fragments, 2)

	f0 := fragments[0]
	assert.Equal(t, "0", f0.ID)
	assert.Equal(t, []string{"172.26.0.2:9060"}, f0.BackendAddresses)
	assert.Equal(t, []string{"8f0c2a4e-5b1d-11ef-9c2b-0242ac110003"}, f0.InstanceIDs)
	require.Len(t, f0.Pipelines, 1)
	assert.Equal(t, "12.004ms", f0.Pipelines[0].Metrics["DriverTotalTime"])

	ops := f0.Pipelines[0].Operators
	require.Len(t, ops, 2)
	assert.Equal(t, "RESULT_SINK", ops[0].Name)
	require.NotNil(t, ops[0].PlanNodeID)
	assert.Equal(t, int32(-1), *ops[0].PlanNodeID)
	assert.Equal(t, "3.560ms", ops[0].CommonMetrics["OperatorTotalTime"])
	assert.Equal(t, "MYSQL_PROTOCAL", ops[0].UniqueMetrics["SinkType"])
	assert.NotContains(t, ops[0].CommonMetrics, "SinkType")
	assert.Equal(t, "EXCHANGE_SOURCE", ops[1].Name)

	ops = fragments[1].Pipelines[0].Operators
	require.Len(t, ops, 2)
	sink := ops[0]
	assert.Equal(t, "EXCHANGE_SINK", sink.Name)
	assert.Equal(t, "10.000ms", sink.CommonMetrics[parser.MaxPrefix+"OperatorTotalTime"])
	for _, f := range fragments {
		for _, p := range f.Pipelines {
			for _, op := range p.Operators {
				for k := range op.CommonMetrics {
					assert.NotContains(t, k, parser.MinPrefix)
				}
			}
		}
	}

	scan := ops[1]
	assert.Equal(t, "17.900ms", scan.UniqueMetrics["IOTaskExecTime.IOTime"])
	assert.Equal(t, "17.900ms", scan.UniqueMetrics["IOTime"])
	assert.Equal(t, "18.200ms", scan.UniqueMetrics["IOTaskExecTime"])
	assert.Equal(t, "12", scan.UniqueMetrics["RowsRead"])
}

func TestExtractFragmentsSkipsMalformedOperator(t *testing.T) {
	t.Parallel()

	fragments, warnings := parser.ExtractFragments(test.LoadSample(t, "no_topology.txt"))
	require.Len(t, warnings, 1)
	assert.ErrorIs(t, warnings[0], parser.ErrOperator)
	assert.Contains(t, warnings[0].Error(), "BROKEN_OP")

	require.Len(t, fragments, 1)
	ops := fragments[0].Pipelines[0].Operators
	require.Len(t, ops, 2)
	assert.Equal(t, "OLAP_TABLE_SINK", ops[0].Name)
	assert.Equal(t, "OLAP_SCAN", ops[1].Name)
	assert.Equal(t, "4m", ops[1].CommonMetrics["OperatorTotalTime"])
	assert.Equal(t, "events", ops[1].UniqueMetrics["Table"])
}

func TestParseMetricLines(t *testing.T) {
	t.Parallel()

	block := `
   - OperatorTotalTime: 3s
   - __MIN_OF_OperatorTotalTime: 1s
   - __MAX_OF_OperatorTotalTime: 4s
   - IsFinal
   - ScanTime: 2s
     - IOTime: 1s
       - ReadTime: 500ms
   - IOTime: 9s
   - Filters:
     - Pushed: 3
   not a metric
`
	got := parser.ParseMetricLines(block)

	assert.Equal(t, map[string]string{
		"OperatorTotalTime":          "3s",
		"__MAX_OF_OperatorTotalTime": "4s",
		"IsFinal":                    "true",
		"ScanTime":                   "2s",
		"ScanTime.IOTime":            "1s",
		"IOTime.ReadTime":            "500ms",
		"ReadTime":                   "500ms",
		"IOTime":                     "9s",
		"Filters.Pushed":             "3",
		"Pushed":                     "3",
	}, got)
}

func TestParseMetricLinesDropsMinSubtrees(t *testing.T) {
	t.Parallel()

	block := `
   - IOTaskExecTime: 5ms
   - __MIN_OF_IOTaskExecTime:
     - IOTime: 1ms
       - ReadTime: 300us
   - __MIN_OF_ScanTime: 2ms
     - SegmentInit: 1ms
   - ScanTime: 7ms
`
	got := parser.ParseMetricLines(block)

	assert.Equal(t, map[string]string{
		"IOTaskExecTime": "5ms",
		"ScanTime":       "7ms",
	}, got)
	for key := range got {
		assert.NotContains(t, key, parser.MinPrefix)
	}
}

func TestParseOperatorHeader(t *testing.T) {
	t.Parallel()

	h, err := parser.ParseOperatorHeader("  CONNECTOR_SCAN (plan_node_id=0) (operator id=5):")
	require.NoError(t, err)
	assert.Equal(t, "CONNECTOR_SCAN", h.Name)
	assert.Equal(t, int32(0), h.PlanNodeID)
	require.NotNil(t, h.OperatorID)
	assert.Equal(t, int32(5), *h.OperatorID)

	h, err = parser.ParseOperatorHeader("RESULT_SINK (plan_node_id=-1):")
	require.NoError(t, err)
	assert.Equal(t, int32(-1), h.PlanNodeID)
	assert.Nil(t, h.OperatorID)

	for _, bad := range []string{"BROKEN_OP (plan_node_id=abc):", "lower (plan_node_id=1):", "Pipeline (id=0):"} {
		_, err := parser.ParseOperatorHeader(bad)
		assert.ErrorIs(t, err, parser.ErrOperator, bad)
	}

	assert.True(t, parser.IsOperatorHeader("X (plan_node_id=abc):"))
	assert.False(t, parser.IsOperatorHeader("Pipeline (id=0):"))
}

func TestOperatorNames(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "HASH_JOIN", parser.PureName("HASH_JOIN (plan_node_id=3)"))
	assert.Equal(t, "AGGREGATE", parser.NormalizeName("agg"))
	assert.Equal(t, "CONNECTOR_SCAN", parser.NormalizeName("ES_SCAN"))
	assert.Equal(t, "OLAP_SCAN", parser.NormalizeName("olap_scan"))

	canonical := map[string]string{
		"EXCHANGE_SOURCE":            "EXCHANGE",
		"EXCHANGE_SINK":              "EXCHANGE",
		"AGGREGATE_BLOCKING_SINK":    "AGGREGATION",
		"AGGREGATE_STREAMING_SOURCE": "AGGREGATION",
		"HASH_JOIN_PROBE":            "HASH_JOIN",
		"LOCAL_SORT":                 "SORT",
		"ES_SCAN":                    "CONNECTOR_SCAN",
		"OLAP_SCAN":                  "OLAP_SCAN",
	}
	for in, want := range canonical {
		assert.Equal(t, want, parser.CanonicalTopologyName(in), in)
	}

	kinds := map[string]model.NodeType{
		"OLAP_SCAN":                       model.NodeTypeOlapScan,
		"CONNECTOR_SCAN (plan_node_id=0)": model.NodeTypeConnectorScan,
		"HASH_JOIN_BUILD":                 model.NodeTypeHashJoin,
		"AGGREGATE_BLOCKING_SOURCE":       model.NodeTypeAggregate,
		"EXCHANGE_SINK":                   model.NodeTypeExchangeSink,
		"MERGE_EXCHANGE":                  model.NodeTypeExchangeSource,
		"RESULT_SINK":                     model.NodeTypeResultSink,
		"OLAP_TABLE_SINK":                 model.NodeTypeOlapTableSink,
		"LOCAL_SORT":                      model.NodeTypeSort,
		"SCHEMA_SCAN":                     model.NodeTypeUnknown,
	}
	for in, want := range kinds {
		assert.Equal(t, want, parser.KindOf(in), in)
	}
}
