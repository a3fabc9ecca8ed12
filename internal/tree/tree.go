// Package tree assembles the execution tree of a profile from its topology
// (or, lacking one, from the fragment operator order) and annotates every
// node with its share of the query time.
package tree

import (
	"fmt"
	"slices"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/mickamy/rockscope/internal/model"
	"github.com/mickamy/rockscope/internal/nodeinfo"
	"github.com/mickamy/rockscope/internal/parser"
)

const (
	// MostConsumingPct flags a node as the dominant cost.
	MostConsumingPct = 30.0
	// SecondConsumingPct flags a node as a secondary cost.
	SecondConsumingPct = 15.0
)

// Options holds the percentage thresholds used to flag expensive nodes.
type Options struct {
	MostConsumingPct   float64
	SecondConsumingPct float64
}

// DefaultOptions returns the stock thresholds.
func DefaultOptions() Options {
	return Options{MostConsumingPct: MostConsumingPct, SecondConsumingPct: SecondConsumingPct}
}

// Build wires nodes according to topo, hangs the topology under the query's
// final sink and computes depths and time percentages.
func Build(topo model.Topology, nodes []model.ExecutionTreeNode, fragments []model.Fragment, summary model.Summary, opts Options) (*model.ExecutionTree, error) {
	byPlan := map[int32]int{}
	for i, n := range nodes {
		if n.PlanNodeID != nil {
			byPlan[*n.PlanNodeID] = i
		}
	}

	for _, tn := range topo.Nodes {
		idx, ok := byPlan[tn.ID]
		if !ok {
			continue
		}
		nodes[idx].Children = nodes[idx].Children[:0]
		for _, c := range tn.Children {
			ci, ok := byPlan[c]
			if !ok {
				continue
			}
			nodes[idx].Children = append(nodes[idx].Children, nodes[ci].ID)
			nodes[ci].ParentPlanNodeID = model.Int32(tn.ID)
		}
	}

	root, err := rootIndex(topo, nodes, byPlan, fragments)
	if err != nil {
		return nil, err
	}

	assignDepths(nodes, root)
	assignPercentages(nodes, fragments, summary, opts)

	return &model.ExecutionTree{Root: nodes[root], Nodes: nodes}, nil
}

// rootIndex picks the node the tree hangs from: the final sink when one can
// be found, else the topology root.
func rootIndex(topo model.Topology, nodes []model.ExecutionTreeNode, byPlan map[int32]int, fragments []model.Fragment) (int, error) {
	topoRoot, hasTopoRoot := byPlan[topo.RootID]

	sinkName, ok := parser.SelectSink(fragments)
	if !ok {
		if !hasTopoRoot {
			return 0, fmt.Errorf("%w: Root node %d not found", parser.ErrTree, topo.RootID)
		}
		return topoRoot, nil
	}

	sink := -1
	for i := range nodes {
		if nodes[i].OperatorName == sinkName {
			sink = i
			break
		}
	}
	if sink < 0 {
		for i := range nodes {
			if strings.HasSuffix(nodes[i].OperatorName, "_SINK") {
				sink = i
				break
			}
		}
	}
	if sink < 0 {
		if hasTopoRoot {
			return topoRoot, nil
		}
		return 0, nil
	}

	if hasTopoRoot && topoRoot != sink {
		rootID := nodes[topoRoot].ID
		if !slices.Contains(nodes[sink].Children, rootID) {
			nodes[sink].Children = append(nodes[sink].Children, rootID)
		}
		nodes[topoRoot].ParentPlanNodeID = nodes[sink].PlanNodeID
	}
	return sink, nil
}

// BuildFromFragments chains nodes linearly in the order given. It is used
// when the profile carries no usable topology.
func BuildFromFragments(nodes []model.ExecutionTreeNode, fragments []model.Fragment, summary model.Summary, opts Options) (*model.ExecutionTree, error) {
	if len(nodes) == 0 {
		return nil, fmt.Errorf("%w: No nodes to build tree", parser.ErrTree)
	}
	for i := 0; i+1 < len(nodes); i++ {
		nodes[i].Children = append(nodes[i].Children, nodes[i+1].ID)
		nodes[i+1].ParentPlanNodeID = nodes[i].PlanNodeID
	}

	root, err := firstUnparented(nodes)
	if err != nil {
		return nil, err
	}
	assignDepths(nodes, root)
	assignPercentages(nodes, fragments, summary, opts)

	return &model.ExecutionTree{Root: nodes[root], Nodes: nodes}, nil
}

func firstUnparented(nodes []model.ExecutionTreeNode) (int, error) {
	children := mapset.NewThreadUnsafeSet[string]()
	for _, n := range nodes {
		children.Append(n.Children...)
	}
	for i, n := range nodes {
		if !children.Contains(n.ID) {
			return i, nil
		}
	}
	return 0, fmt.Errorf("%w: No root node found", parser.ErrTree)
}

// assignDepths walks breadth-first from root. Unreachable nodes get depth 0.
func assignDepths(nodes []model.ExecutionTreeNode, root int) {
	byID := make(map[string]int, len(nodes))
	for i, n := range nodes {
		byID[n.ID] = i
	}

	visited := make([]bool, len(nodes))
	for i := range nodes {
		nodes[i].Depth = 0
	}
	visited[root] = true
	queue := []int{root}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, c := range nodes[cur].Children {
			ci, ok := byID[c]
			if !ok || visited[ci] {
				continue
			}
			visited[ci] = true
			nodes[ci].Depth = nodes[cur].Depth + 1
			queue = append(queue, ci)
		}
	}
}

// assignPercentages computes each node's share of the cumulative operator
// time. The base is QueryCumulativeOperatorTime, then QueryExecutionWallTime,
// then the sum of every node's own total.
func assignPercentages(nodes []model.ExecutionTreeNode, fragments []model.Fragment, summary model.Summary, opts Options) {
	var topo []model.TopologyNode
	for _, n := range nodes {
		if n.PlanNodeID == nil {
			continue
		}
		topo = append(topo, model.TopologyNode{
			ID:    *n.PlanNodeID,
			Name:  n.OperatorName,
			Class: model.ClassOf(n.OperatorName),
		})
	}
	infos := nodeinfo.Build(topo, fragments)

	var cumulative uint64
	switch {
	case summary.QueryCumulativeOperatorTimeMs != nil:
		cumulative = uint64(*summary.QueryCumulativeOperatorTimeMs * 1e6)
	case summary.QueryExecutionWallTimeMs != nil:
		cumulative = uint64(*summary.QueryExecutionWallTimeMs * 1e6)
	default:
		for _, info := range infos {
			info.ComputeTime(1)
			if info.TotalTime != nil {
				cumulative += info.TotalTime.Value
			}
		}
	}

	for _, info := range infos {
		info.ComputeTime(cumulative)
		info.ComputeMemory()
	}

	for i := range nodes {
		n := &nodes[i]
		if n.PlanNodeID == nil {
			continue
		}
		info, ok := infos[*n.PlanNodeID]
		if !ok {
			continue
		}
		pct := info.TimePercentage
		n.TimePercentage = model.Float64(pct)
		n.IsMostConsuming = pct > opts.MostConsumingPct
		n.IsSecondMostConsuming = !n.IsMostConsuming && pct > opts.SecondConsumingPct
	}
}

// Validate checks that every child reference resolves and that the tree is
// acyclic from its root.
func Validate(t *model.ExecutionTree) error {
	children := make(map[string][]string, len(t.Nodes))
	for _, n := range t.Nodes {
		children[n.ID] = n.Children
	}
	for _, n := range t.Nodes {
		for _, c := range n.Children {
			if _, ok := children[c]; !ok {
				return fmt.Errorf("%w: Child %s not found", parser.ErrTree, c)
			}
		}
	}

	visited := mapset.NewThreadUnsafeSet[string]()
	onStack := mapset.NewThreadUnsafeSet[string]()
	var cyclic func(id string) bool
	cyclic = func(id string) bool {
		visited.Add(id)
		onStack.Add(id)
		for _, c := range children[id] {
			if onStack.Contains(c) {
				return true
			}
			if !visited.Contains(c) && cyclic(c) {
				return true
			}
		}
		onStack.Remove(id)
		return false
	}
	if cyclic(t.Root.ID) {
		return fmt.Errorf("%w: Cycle detected in tree", parser.ErrTree)
	}
	return nil
}
