package model

import (
	"encoding/json"
	"time"
)

// NodeType is the closed set of operator families the analyzer recognizes.
type NodeType string

const (
	NodeTypeOlapScan        NodeType = "OlapScan"
	NodeTypeConnectorScan   NodeType = "ConnectorScan"
	NodeTypeHashJoin        NodeType = "HashJoin"
	NodeTypeAggregate       NodeType = "Aggregate"
	NodeTypeLimit           NodeType = "Limit"
	NodeTypeExchangeSink    NodeType = "ExchangeSink"
	NodeTypeExchangeSource  NodeType = "ExchangeSource"
	NodeTypeResultSink      NodeType = "ResultSink"
	NodeTypeOlapTableSink   NodeType = "OlapTableSink"
	NodeTypeChunkAccumulate NodeType = "ChunkAccumulate"
	NodeTypeSort            NodeType = "Sort"
	NodeTypeProject         NodeType = "Project"
	NodeTypeUnknown         NodeType = "Unknown"
)

// IsScan reports whether t reads from storage.
func (t NodeType) IsScan() bool {
	return t == NodeTypeOlapScan || t == NodeTypeConnectorScan
}

// ExecutionTree is the reconstructed plan. Nodes live in a flat slice and
// reference each other by ID.
type ExecutionTree struct {
	Root  ExecutionTreeNode   `json:"root"`
	Nodes []ExecutionTreeNode `json:"nodes"`
}

// Node returns the node with the given ID.
func (t *ExecutionTree) Node(id string) (*ExecutionTreeNode, bool) {
	for i := range t.Nodes {
		if t.Nodes[i].ID == id {
			return &t.Nodes[i], true
		}
	}
	return nil, false
}

// ExecutionTreeNode is one logical plan node with its aggregated metrics.
type ExecutionTreeNode struct {
	ID                    string            `json:"id"`
	PlanNodeID            *int32            `json:"plan_node_id,omitempty"`
	OperatorName          string            `json:"operator_name"`
	NodeType              NodeType          `json:"node_type"`
	Children              []string          `json:"children"`
	ParentPlanNodeID      *int32            `json:"parent_plan_node_id,omitempty"`
	Depth                 int               `json:"depth"`
	Metrics               OperatorMetrics   `json:"metrics"`
	TimePercentage        *float64          `json:"time_percentage,omitempty"`
	IsMostConsuming       bool              `json:"is_most_consuming"`
	IsSecondMostConsuming bool              `json:"is_second_most_consuming"`
	FragmentID            string            `json:"fragment_id,omitempty"`
	PipelineID            string            `json:"pipeline_id,omitempty"`
	UniqueMetrics         map[string]string `json:"unique_metrics,omitempty"`
}

// Percentage returns the node's time share, or 0 when none was computed.
func (n *ExecutionTreeNode) Percentage() float64 {
	if n.TimePercentage == nil {
		return 0
	}
	return *n.TimePercentage
}

// OperatorMetrics are the common metrics of a node after aggregation across
// its physical instances. Times are nanoseconds.
type OperatorMetrics struct {
	OperatorTotalTime    time.Duration      `json:"operator_total_time,omitempty"`
	OperatorTotalTimeRaw string             `json:"operator_total_time_raw,omitempty"`
	PushChunkNum         uint64             `json:"push_chunk_num,omitempty"`
	PushRowNum           uint64             `json:"push_row_num,omitempty"`
	PullChunkNum         uint64             `json:"pull_chunk_num,omitempty"`
	PullRowNum           uint64             `json:"pull_row_num,omitempty"`
	PushTotalTime        time.Duration      `json:"push_total_time,omitempty"`
	PullTotalTime        time.Duration      `json:"pull_total_time,omitempty"`
	MemoryUsage          uint64             `json:"memory_usage,omitempty"`
	OutputChunkBytes     uint64             `json:"output_chunk_bytes,omitempty"`
	Specialized          SpecializedMetrics `json:"-"`
}

type specializedEnvelope struct {
	Kind    string             `json:"kind"`
	Metrics SpecializedMetrics `json:"metrics"`
}

// MarshalJSON tags the specialized variant with its kind.
func (m OperatorMetrics) MarshalJSON() ([]byte, error) {
	type alias OperatorMetrics
	var spec *specializedEnvelope
	if m.Specialized != nil {
		spec = &specializedEnvelope{Kind: m.Specialized.Kind(), Metrics: m.Specialized}
	}
	return json.Marshal(struct {
		alias
		Specialized *specializedEnvelope `json:"specialized,omitempty"`
	}{alias: alias(m), Specialized: spec})
}
