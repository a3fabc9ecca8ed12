package parser

import (
	"fmt"
	"sort"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/tidwall/gjson"

	"github.com/mickamy/rockscope/internal/model"
)

// FinalSinkID is the plan id given to a synthesized sink whose operator
// carries no plan_node_id.
const FinalSinkID int32 = -1

// ParseTopology decodes the topology JSON and appends the query's final sink
// as an extra node when fragments name one the topology lacks.
func ParseTopology(raw string, fragments []model.Fragment) (model.Topology, error) {
	raw = balancedObject(raw)
	if raw == "" || !gjson.Valid(raw) {
		return model.Topology{}, fmt.Errorf("%w: invalid JSON", ErrTopology)
	}
	doc := gjson.Parse(raw)

	root := doc.Get("rootId")
	if !root.Exists() || root.Type != gjson.Number {
		return model.Topology{}, fmt.Errorf("%w: Missing rootId", ErrTopology)
	}
	nodes := doc.Get("nodes")
	if !nodes.IsArray() {
		return model.Topology{}, fmt.Errorf("%w: Missing nodes array", ErrTopology)
	}

	topo := model.Topology{RootID: int32(root.Int())}
	for _, n := range nodes.Array() {
		node, err := parseTopologyNode(n)
		if err != nil {
			return model.Topology{}, err
		}
		topo.Nodes = append(topo.Nodes, node)
	}

	if name, ok := SelectSink(fragments); ok {
		id := FinalSinkID
		if planID, ok := sinkPlanID(fragments, name); ok {
			id = planID
		}
		if _, exists := topo.Node(id); !exists {
			topo.Nodes = append(topo.Nodes, model.TopologyNode{
				ID:       id,
				Name:     name,
				Class:    model.ClassOf(name),
				Children: []int32{},
			})
		}
	}
	return topo, nil
}

func parseTopologyNode(n gjson.Result) (model.TopologyNode, error) {
	id := n.Get("id")
	if id.Type != gjson.Number {
		return model.TopologyNode{}, fmt.Errorf("%w: Node missing id", ErrTopology)
	}
	name := n.Get("name")
	if name.Type != gjson.String {
		return model.TopologyNode{}, fmt.Errorf("%w: Node missing name", ErrTopology)
	}

	node := model.TopologyNode{
		ID:       int32(id.Int()),
		Name:     name.String(),
		Class:    model.ClassOf(name.String()),
		Children: []int32{},
	}
	if props := n.Get("properties"); props.IsObject() {
		node.Properties = map[string]string{}
		props.ForEach(func(k, v gjson.Result) bool {
			node.Properties[k.String()] = v.String()
			return true
		})
	}
	for _, c := range n.Get("children").Array() {
		node.Children = append(node.Children, int32(c.Int()))
	}
	return node, nil
}

// SelectSink picks the operator that delivers the query's output. Final
// sinks win over exchange and multicast sinks; ties fall back to priority and
// then to the order operators appear in.
func SelectSink(fragments []model.Fragment) (string, bool) {
	type candidate struct {
		name     string
		final    bool
		priority int
	}
	var candidates []candidate
	for _, f := range fragments {
		for _, p := range f.Pipelines {
			for _, op := range p.Operators {
				name := PureName(op.Name)
				if !strings.HasSuffix(name, "_SINK") {
					continue
				}
				candidates = append(candidates, candidate{
					name:     name,
					final:    isFinalSink(name),
					priority: sinkPriority(name),
				})
			}
		}
	}
	if len(candidates) == 0 {
		return "", false
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].final != candidates[j].final {
			return candidates[i].final
		}
		return candidates[i].priority < candidates[j].priority
	})
	return candidates[0].name, true
}

func isFinalSink(name string) bool {
	return !strings.Contains(name, "EXCHANGE_SINK") && !strings.Contains(name, "MULTI_CAST")
}

func sinkPriority(name string) int {
	switch {
	case name == "RESULT_SINK":
		return 1
	case name == "OLAP_TABLE_SINK":
		return 2
	case strings.Contains(name, "TABLE_SINK"):
		return 3
	case strings.Contains(name, "LOCAL_EXCHANGE_SINK"):
		return 5
	case strings.Contains(name, "EXCHANGE_SINK"):
		return 4
	}
	return 6
}

func sinkPlanID(fragments []model.Fragment, name string) (int32, bool) {
	for _, f := range fragments {
		for _, p := range f.Pipelines {
			for _, op := range p.Operators {
				if op.Name == name && op.PlanNodeID != nil {
					return *op.PlanNodeID, true
				}
			}
		}
	}
	return 0, false
}

// ValidateTopology checks that the root exists, every child resolves and the
// graph is acyclic.
func ValidateTopology(t model.Topology) error {
	if _, ok := t.Node(t.RootID); !ok {
		return fmt.Errorf("%w: Root node %d not found", ErrTopology, t.RootID)
	}

	ids := mapset.NewThreadUnsafeSet[int32]()
	for _, n := range t.Nodes {
		ids.Add(n.ID)
	}
	for _, n := range t.Nodes {
		for _, c := range n.Children {
			if !ids.Contains(c) {
				return fmt.Errorf("%w: Child node %d referenced but not found", ErrTopology, c)
			}
		}
	}

	rel := t.Relationships()
	visited := mapset.NewThreadUnsafeSet[int32]()
	onStack := mapset.NewThreadUnsafeSet[int32]()
	var cyclic func(id int32) bool
	cyclic = func(id int32) bool {
		visited.Add(id)
		onStack.Add(id)
		for _, c := range rel[id] {
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
	for _, n := range t.Nodes {
		if !visited.Contains(n.ID) && cyclic(n.ID) {
			return fmt.Errorf("%w: Cycle detected in topology graph", ErrTopology)
		}
	}
	return nil
}
