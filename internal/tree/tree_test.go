package tree_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mickamy/rockscope/internal/model"
	"github.com/mickamy/rockscope/internal/parser"
	"github.com/mickamy/rockscope/internal/tree"
)

func timed(name string, planID int32, total string) model.Operator {
	return model.Operator{
		Name:          name,
		PlanNodeID:    model.Int32(planID),
		CommonMetrics: map[string]string{"OperatorTotalTime": total},
	}
}

func node(name string, planID int32) model.ExecutionTreeNode {
	return model.ExecutionTreeNode{
		ID:           fmt.Sprintf("node_%d", planID),
		PlanNodeID:   model.Int32(planID),
		OperatorName: name,
		NodeType:     parser.KindOf(name),
		Children:     []string{},
	}
}

func byID(t *testing.T, tr *model.ExecutionTree, id string) *model.ExecutionTreeNode {
	t.Helper()
	n, ok := tr.Node(id)
	require.True(t, ok, id)
	return n
}

func TestBuildHangsTopologyUnderSink(t *testing.T) {
	t.Parallel()

	topo := model.Topology{RootID: 1, Nodes: []model.TopologyNode{
		{ID: 1, Name: "EXCHANGE", Children: []int32{0}},
		{ID: 0, Name: "OLAP_SCAN", Children: []int32{}},
		{ID: -1, Name: "RESULT_SINK", Children: []int32{}},
	}}
	fragments := []model.Fragment{{ID: "0", Pipelines: []model.Pipeline{{ID: "0", Operators: []model.Operator{
		timed("RESULT_SINK", -1, "10ms"),
		timed("EXCHANGE_SOURCE", 1, "20ms"),
		timed("OLAP_SCAN", 0, "40ms"),
	}}}}}
	nodes := []model.ExecutionTreeNode{node("EXCHANGE", 1), node("OLAP_SCAN", 0), node("RESULT_SINK", -1)}
	summary := model.Summary{QueryCumulativeOperatorTimeMs: model.Float64(100)}

	tr, err := tree.Build(topo, nodes, fragments, summary, tree.DefaultOptions())
	require.NoError(t, err)
	require.NoError(t, tree.Validate(tr))

	assert.Equal(t, "node_-1", tr.Root.ID)
	assert.Equal(t, []string{"node_1"}, tr.Root.Children)

	exchange := byID(t, tr, "node_1")
	assert.Equal(t, 1, exchange.Depth)
	assert.Equal(t, []string{"node_0"}, exchange.Children)
	require.NotNil(t, exchange.ParentPlanNodeID)
	assert.Equal(t, int32(-1), *exchange.ParentPlanNodeID)
	assert.InDelta(t, 20.0, exchange.Percentage(), 1e-9)
	assert.False(t, exchange.IsMostConsuming)
	assert.True(t, exchange.IsSecondMostConsuming)

	scan := byID(t, tr, "node_0")
	assert.Equal(t, 2, scan.Depth)
	assert.InDelta(t, 40.0, scan.Percentage(), 1e-9)
	assert.True(t, scan.IsMostConsuming)
	assert.False(t, scan.IsSecondMostConsuming)

	sink := byID(t, tr, "node_-1")
	assert.Equal(t, 0, sink.Depth)
	assert.InDelta(t, 10.0, sink.Percentage(), 1e-9)
	assert.False(t, sink.IsMostConsuming || sink.IsSecondMostConsuming)
}

func TestBuildThresholdsAreConfigurable(t *testing.T) {
	t.Parallel()

	topo := model.Topology{RootID: 0, Nodes: []model.TopologyNode{{ID: 0, Name: "OLAP_SCAN", Children: []int32{}}}}
	fragments := []model.Fragment{{ID: "0", Pipelines: []model.Pipeline{{ID: "0", Operators: []model.Operator{
		timed("OLAP_SCAN", 0, "20ms"),
	}}}}}
	summary := model.Summary{QueryExecutionWallTimeMs: model.Float64(100)}

	tr, err := tree.Build(topo, []model.ExecutionTreeNode{node("OLAP_SCAN", 0)}, fragments, summary,
		tree.Options{MostConsumingPct: 10, SecondConsumingPct: 5})
	require.NoError(t, err)

	assert.Equal(t, "node_0", tr.Root.ID)
	assert.InDelta(t, 20.0, tr.Root.Percentage(), 1e-9)
	assert.True(t, tr.Root.IsMostConsuming)
}

func TestBuildMissingRoot(t *testing.T) {
	t.Parallel()

	topo := model.Topology{RootID: 9, Nodes: []model.TopologyNode{{ID: 0, Name: "OLAP_SCAN"}}}
	_, err := tree.Build(topo, []model.ExecutionTreeNode{node("OLAP_SCAN", 0)}, nil, model.Summary{}, tree.DefaultOptions())
	require.ErrorIs(t, err, parser.ErrTree)
	assert.Contains(t, err.Error(), "Root node 9 not found")
}

func TestBuildFromFragmentsChainsNodes(t *testing.T) {
	t.Parallel()

	fragments := []model.Fragment{{ID: "0", Pipelines: []model.Pipeline{{ID: "0", Operators: []model.Operator{
		timed("OLAP_TABLE_SINK", -1, "6m"),
		timed("OLAP_SCAN", 0, "4m"),
	}}}}}
	nodes := []model.ExecutionTreeNode{node("OLAP_TABLE_SINK", -1), node("OLAP_SCAN", 0)}

	tr, err := tree.BuildFromFragments(nodes, fragments, model.Summary{}, tree.DefaultOptions())
	require.NoError(t, err)
	require.NoError(t, tree.Validate(tr))

	assert.Equal(t, "node_-1", tr.Root.ID)
	assert.Equal(t, []string{"node_0"}, tr.Root.Children)
	assert.InDelta(t, 60.0, tr.Root.Percentage(), 1e-9)

	scan := byID(t, tr, "node_0")
	assert.Equal(t, 1, scan.Depth)
	assert.InDelta(t, 40.0, scan.Percentage(), 1e-9)
	assert.True(t, scan.IsMostConsuming)

	_, err = tree.BuildFromFragments(nil, nil, model.Summary{}, tree.DefaultOptions())
	assert.ErrorIs(t, err, parser.ErrTree)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	a, b := node("PROJECT", 0), node("SORT", 1)
	a.Children = []string{"node_1"}
	b.Children = []string{"node_0"}
	cyclic := &model.ExecutionTree{Root: a, Nodes: []model.ExecutionTreeNode{a, b}}
	err := tree.Validate(cyclic)
	require.ErrorIs(t, err, parser.ErrTree)
	assert.Contains(t, err.Error(), "Cycle")

	b.Children = []string{"node_7"}
	dangling := &model.ExecutionTree{Root: a, Nodes: []model.ExecutionTreeNode{a, b}}
	err = tree.Validate(dangling)
	require.ErrorIs(t, err, parser.ErrTree)
	assert.Contains(t, err.Error(), "node_7")
}
