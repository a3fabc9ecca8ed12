// Package model holds the parsed representation of a StarRocks query profile
// and the analysis derived from it.
package model

// Profile is the fully parsed query profile. It is built once per analysis
// and never mutated afterwards.
type Profile struct {
	Summary       Summary        `json:"summary"`
	Planner       Planner        `json:"planner"`
	Execution     Execution      `json:"execution"`
	Fragments     []Fragment     `json:"fragments"`
	ExecutionTree *ExecutionTree `json:"execution_tree,omitempty"`
	// Warnings lists recovered parse problems (malformed operator headers,
	// undecodable literals) that did not abort the analysis.
	Warnings []string `json:"warnings,omitempty"`
}

// Summary mirrors the "Summary:" section, backfilled with the execution
// overview counters.
type Summary struct {
	QueryID          string            `json:"query_id"`
	StartTime        string            `json:"start_time"`
	EndTime          string            `json:"end_time"`
	TotalTime        string            `json:"total_time"`
	TotalTimeMs      *float64          `json:"total_time_ms,omitempty"`
	QueryState       string            `json:"query_state"`
	StarRocksVersion string            `json:"starrocks_version"`
	SQLStatement     string            `json:"sql_statement"`
	QueryType        string            `json:"query_type,omitempty"`
	User             string            `json:"user,omitempty"`
	DefaultDB        string            `json:"default_db,omitempty"`
	Variables        map[string]string `json:"variables,omitempty"`

	QueryCumulativeOperatorTime   string   `json:"query_cumulative_operator_time,omitempty"`
	QueryCumulativeOperatorTimeMs *float64 `json:"query_cumulative_operator_time_ms,omitempty"`
	QueryExecutionWallTime        string   `json:"query_execution_wall_time,omitempty"`
	QueryExecutionWallTimeMs      *float64 `json:"query_execution_wall_time_ms,omitempty"`

	QueryAllocatedMemory         *uint64  `json:"query_allocated_memory,omitempty"`
	QueryPeakMemory              *uint64  `json:"query_peak_memory,omitempty"`
	QuerySumMemoryUsage          string   `json:"query_sum_memory_usage,omitempty"`
	QueryDeallocatedMemoryUsage  string   `json:"query_deallocated_memory_usage,omitempty"`
	QueryCumulativeCPUTime       string   `json:"query_cumulative_cpu_time,omitempty"`
	QueryCumulativeCPUTimeMs     *float64 `json:"query_cumulative_cpu_time_ms,omitempty"`
	QueryCumulativeScanTime      string   `json:"query_cumulative_scan_time,omitempty"`
	QueryCumulativeScanTimeMs    *float64 `json:"query_cumulative_scan_time_ms,omitempty"`
	QueryCumulativeNetworkTime   string   `json:"query_cumulative_network_time,omitempty"`
	QueryCumulativeNetworkTimeMs *float64 `json:"query_cumulative_network_time_ms,omitempty"`
	QueryPeakScheduleTime        string   `json:"query_peak_schedule_time,omitempty"`
	QueryPeakScheduleTimeMs      *float64 `json:"query_peak_schedule_time_ms,omitempty"`
	ResultDeliverTime            string   `json:"result_deliver_time,omitempty"`
	ResultDeliverTimeMs          *float64 `json:"result_deliver_time_ms,omitempty"`
	QuerySpillBytes              string   `json:"query_spill_bytes,omitempty"`

	TopTimeConsumingNodes []TopNode `json:"top_time_consuming_nodes,omitempty"`
}

// Planner holds the key/value lines of the "Planner:" section.
type Planner struct {
	Details map[string]string `json:"details"`
}

// Execution holds the "Execution:" section: the raw topology JSON and the
// query-level counters that precede the first fragment.
type Execution struct {
	Topology string            `json:"topology"`
	Metrics  map[string]string `json:"metrics"`
}

// Fragment is one "Fragment N:" block.
type Fragment struct {
	ID               string     `json:"id"`
	BackendAddresses []string   `json:"backend_addresses"`
	InstanceIDs      []string   `json:"instance_ids"`
	Pipelines        []Pipeline `json:"pipelines"`
}

// Pipeline is one "Pipeline (id=N):" block inside a fragment.
type Pipeline struct {
	ID        string            `json:"id"`
	Metrics   map[string]string `json:"metrics"`
	Operators []Operator        `json:"operators"`
}

// Operator is one physical operator instance as it appears in a pipeline.
type Operator struct {
	Name          string            `json:"name"`
	PlanNodeID    *int32            `json:"plan_node_id,omitempty"`
	OperatorID    *int32            `json:"operator_id,omitempty"`
	CommonMetrics map[string]string `json:"common_metrics"`
	UniqueMetrics map[string]string `json:"unique_metrics"`
}

// Int32 returns a pointer to v.
func Int32(v int32) *int32 { return &v }

// Float64 returns a pointer to v.
func Float64(v float64) *float64 { return &v }
