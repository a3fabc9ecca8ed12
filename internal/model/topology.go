package model

import "strings"

// NodeClass is the coarse family of a topology node, inferred from its name.
type NodeClass string

const (
	NodeClassExchange      NodeClass = "Exchange"
	NodeClassScan          NodeClass = "Scan"
	NodeClassJoin          NodeClass = "Join"
	NodeClassAggregation   NodeClass = "Aggregation"
	NodeClassSort          NodeClass = "Sort"
	NodeClassProject       NodeClass = "Project"
	NodeClassResultSink    NodeClass = "ResultSink"
	NodeClassOlapTableSink NodeClass = "OlapTableSink"
	NodeClassUnknown       NodeClass = "Unknown"
)

// ClassOf infers the class of a topology node name.
func ClassOf(name string) NodeClass {
	switch {
	case name == "EXCHANGE" || name == "MERGE_EXCHANGE":
		return NodeClassExchange
	case strings.Contains(name, "SCAN"):
		return NodeClassScan
	case strings.Contains(name, "JOIN"):
		return NodeClassJoin
	case name == "AGGREGATE" || name == "AGGREGATION":
		return NodeClassAggregation
	case name == "SORT":
		return NodeClassSort
	case name == "PROJECT":
		return NodeClassProject
	case name == "RESULT_SINK":
		return NodeClassResultSink
	case name == "OLAP_TABLE_SINK":
		return NodeClassOlapTableSink
	}
	return NodeClassUnknown
}

// Topology is the logical plan graph embedded in the execution section.
type Topology struct {
	RootID int32          `json:"root_id"`
	Nodes  []TopologyNode `json:"nodes"`
}

type TopologyNode struct {
	ID         int32             `json:"id"`
	Name       string            `json:"name"`
	Class      NodeClass         `json:"class"`
	Properties map[string]string `json:"properties,omitempty"`
	Children   []int32           `json:"children"`
}

// Node returns the node with the given plan id.
func (t *Topology) Node(id int32) (*TopologyNode, bool) {
	for i := range t.Nodes {
		if t.Nodes[i].ID == id {
			return &t.Nodes[i], true
		}
	}
	return nil, false
}

// Relationships maps every node id to its children.
func (t *Topology) Relationships() map[int32][]int32 {
	rel := make(map[int32][]int32, len(t.Nodes))
	for _, n := range t.Nodes {
		rel[n.ID] = n.Children
	}
	return rel
}

// Leaves returns the ids of childless nodes in declaration order.
func (t *Topology) Leaves() []int32 {
	var out []int32
	for _, n := range t.Nodes {
		if len(n.Children) == 0 {
			out = append(out, n.ID)
		}
	}
	return out
}

// Ancestors returns the path from the root down to id, inclusive, or nil
// when id is unreachable.
func (t *Topology) Ancestors(id int32) []int32 {
	rel := t.Relationships()
	var path []int32
	var walk func(cur int32, depth int) bool
	walk = func(cur int32, depth int) bool {
		if depth > len(t.Nodes) {
			return false
		}
		path = append(path, cur)
		if cur == id {
			return true
		}
		for _, c := range rel[cur] {
			if walk(c, depth+1) {
				return true
			}
		}
		path = path[:len(path)-1]
		return false
	}
	if walk(t.RootID, 0) {
		return path
	}
	return nil
}
