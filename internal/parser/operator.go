package parser

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/mickamy/rockscope/internal/model"
)

var operatorHeaderRe = regexp.MustCompile(`^([A-Z_]+)\s*\(plan_node_id=(-?\d+)\)(?:\s*\(operator\s+id=(\d+)\))?:?`)

// OperatorHeader is the decoded "NAME (plan_node_id=N) (operator id=M):" line.
type OperatorHeader struct {
	Name       string
	PlanNodeID int32
	OperatorID *int32
}

// IsOperatorHeader reports whether line looks like an operator header. A
// candidate may still fail ParseOperatorHeader.
func IsOperatorHeader(line string) bool {
	return strings.Contains(line, "(plan_node_id=")
}

// ParseOperatorHeader decodes an operator header line.
func ParseOperatorHeader(line string) (OperatorHeader, error) {
	trimmed := strings.TrimSpace(line)
	m := operatorHeaderRe.FindStringSubmatch(trimmed)
	if m == nil {
		return OperatorHeader{}, fmt.Errorf("%w: invalid operator header %q", ErrOperator, trimmed)
	}
	planID, err := strconv.ParseInt(m[2], 10, 32)
	if err != nil {
		return OperatorHeader{}, fmt.Errorf("%w: plan_node_id in %q: %v", ErrOperator, trimmed, err)
	}
	h := OperatorHeader{Name: m[1], PlanNodeID: int32(planID)}
	if m[3] != "" {
		opID, err := strconv.ParseInt(m[3], 10, 32)
		if err != nil {
			return OperatorHeader{}, fmt.Errorf("%w: operator id in %q: %v", ErrOperator, trimmed, err)
		}
		h.OperatorID = model.Int32(int32(opID))
	}
	return h, nil
}

// PureName strips a " (plan_node_id=...)" suffix from an operator name.
func PureName(name string) string {
	if i := strings.Index(name, " (plan_node_id="); i >= 0 {
		name = name[:i]
	}
	return strings.TrimSpace(name)
}

// NormalizeName folds operator aliases onto one spelling.
func NormalizeName(name string) string {
	upper := strings.ToUpper(strings.TrimSpace(name))
	switch upper {
	case "ES_SCAN":
		return "CONNECTOR_SCAN"
	case "AGG", "AGGREGATION":
		return "AGGREGATE"
	case "NL_JOIN", "NEST_LOOP_JOIN", "CROSS_JOIN":
		return "HASH_JOIN"
	}
	return upper
}

// CanonicalTopologyName maps a physical operator name onto the name the
// topology JSON uses for the same plan node.
func CanonicalTopologyName(name string) string {
	upper := strings.ToUpper(strings.TrimSpace(name))
	switch upper {
	case "CONNECTOR_SCAN", "ES_SCAN":
		return "CONNECTOR_SCAN"
	case "EXCHANGE_SOURCE", "EXCHANGE_SINK", "EXCHANGE", "MERGE_EXCHANGE":
		return "EXCHANGE"
	case "COLLECT_STATS_SOURCE", "COLLECT_STATS_SINK":
		return "COLLECT_STATS"
	case "AGG", "AGGREGATION", "AGGREGATE", "AGGREGATE_BLOCKING_SINK", "AGGREGATE_BLOCKING_SOURCE",
		"AGGREGATE_STREAMING_SINK", "AGGREGATE_STREAMING_SOURCE":
		return "AGGREGATION"
	case "LOCAL_SORT", "SORT":
		return "SORT"
	case "HASH_JOIN", "NL_JOIN", "NEST_LOOP_JOIN", "CROSS_JOIN", "HASH_JOIN_BUILD", "HASH_JOIN_PROBE":
		return "HASH_JOIN"
	}
	return upper
}

// kinds is the single name-to-family table.
var kinds = map[string]model.NodeType{
	"OLAP_SCAN":                  model.NodeTypeOlapScan,
	"CONNECTOR_SCAN":             model.NodeTypeConnectorScan,
	"ES_SCAN":                    model.NodeTypeConnectorScan,
	"HASH_JOIN":                  model.NodeTypeHashJoin,
	"HASH_JOIN_BUILD":            model.NodeTypeHashJoin,
	"HASH_JOIN_PROBE":            model.NodeTypeHashJoin,
	"JOIN":                       model.NodeTypeHashJoin,
	"NL_JOIN":                    model.NodeTypeHashJoin,
	"NEST_LOOP_JOIN":             model.NodeTypeHashJoin,
	"CROSS_JOIN":                 model.NodeTypeHashJoin,
	"AGGREGATE":                  model.NodeTypeAggregate,
	"AGG":                        model.NodeTypeAggregate,
	"AGGREGATION":                model.NodeTypeAggregate,
	"AGGREGATE_BLOCKING_SINK":    model.NodeTypeAggregate,
	"AGGREGATE_BLOCKING_SOURCE":  model.NodeTypeAggregate,
	"AGGREGATE_STREAMING_SINK":   model.NodeTypeAggregate,
	"AGGREGATE_STREAMING_SOURCE": model.NodeTypeAggregate,
	"LIMIT":                      model.NodeTypeLimit,
	"EXCHANGE_SINK":              model.NodeTypeExchangeSink,
	"EXCHANGE_SOURCE":            model.NodeTypeExchangeSource,
	"EXCHANGE":                   model.NodeTypeExchangeSource,
	"MERGE_EXCHANGE":             model.NodeTypeExchangeSource,
	"RESULT_SINK":                model.NodeTypeResultSink,
	"OLAP_TABLE_SINK":            model.NodeTypeOlapTableSink,
	"CHUNK_ACCUMULATE":           model.NodeTypeChunkAccumulate,
	"SORT":                       model.NodeTypeSort,
	"LOCAL_SORT":                 model.NodeTypeSort,
	"PROJECT":                    model.NodeTypeProject,
}

// KindOf returns the operator family for name, or NodeTypeUnknown.
func KindOf(name string) model.NodeType {
	if k, ok := kinds[strings.ToUpper(PureName(name))]; ok {
		return k
	}
	return model.NodeTypeUnknown
}
