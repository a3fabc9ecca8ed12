// Package composer turns a profile dump into a model.Profile: it runs the
// section, fragment and topology parsers, aggregates operators into plan
// nodes and hands them to the tree builder.
package composer

import (
	"fmt"
	"sort"
	"strings"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/mickamy/rockscope/internal/model"
	"github.com/mickamy/rockscope/internal/parser"
	"github.com/mickamy/rockscope/internal/tree"
	"github.com/mickamy/rockscope/internal/value"
)

// DefaultTopNodes is the length of Summary.TopTimeConsumingNodes.
const DefaultTopNodes = 3

// Composer parses profiles. It holds no per-profile state and is safe for
// concurrent use.
type Composer struct {
	logger   *zap.Logger
	topNodes int
	tree     tree.Options
}

// Option customizes a Composer.
type Option func(*Composer)

// WithTopNodes sets how many nodes Summary.TopTimeConsumingNodes keeps.
func WithTopNodes(n int) Option {
	return func(c *Composer) {
		if n > 0 {
			c.topNodes = n
		}
	}
}

// WithThresholds sets the percentages above which a node is flagged as the
// most or second most time consuming.
func WithThresholds(most, second float64) Option {
	return func(c *Composer) {
		if most > 0 {
			c.tree.MostConsumingPct = most
		}
		if second > 0 {
			c.tree.SecondConsumingPct = second
		}
	}
}

// New returns a Composer that logs through logger. A nil logger discards.
func New(logger *zap.Logger, opts ...Option) *Composer {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Composer{logger: logger.Named("composer"), topNodes: DefaultTopNodes, tree: tree.DefaultOptions()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Parse builds the profile for text. Missing sections, an invalid topology
// graph and an unbuildable tree are fatal; malformed operators are skipped
// and reported in Profile.Warnings.
func (c *Composer) Parse(text string) (*model.Profile, error) {
	summary, err := parser.ParseSummary(text)
	if err != nil {
		return nil, fmt.Errorf("parse summary: %w", err)
	}
	planner, err := parser.ParsePlanner(text)
	if err != nil {
		return nil, fmt.Errorf("parse planner: %w", err)
	}
	execution, err := parser.ParseExecution(text)
	if err != nil {
		return nil, fmt.Errorf("parse execution: %w", err)
	}

	backfillSummary(&summary, execution.Metrics)

	fragments, diagnostics := parser.ExtractFragments(text)
	var warnings *multierror.Error
	for _, d := range diagnostics {
		warnings = multierror.Append(warnings, d)
	}

	var execTree *model.ExecutionTree
	topo, topoErr := parser.ParseTopology(execution.Topology, fragments)
	if topoErr == nil {
		if err := parser.ValidateTopology(topo); err != nil {
			return nil, fmt.Errorf("validate topology: %w", err)
		}
		execTree, err = tree.Build(topo, c.nodesFromTopology(topo, fragments), fragments, summary, c.tree)
	} else {
		c.logger.Debug("falling back to fragment order", zap.Error(topoErr))
		if execution.Topology != "" {
			warnings = multierror.Append(warnings, topoErr)
		}
		execTree, err = tree.BuildFromFragments(nodesFromFragments(fragments), fragments, summary, c.tree)
	}
	if err != nil {
		return nil, fmt.Errorf("build tree: %w", err)
	}
	if err := tree.Validate(execTree); err != nil {
		return nil, fmt.Errorf("validate tree: %w", err)
	}

	summary.TopTimeConsumingNodes = TopNodes(execTree.Nodes, c.topNodes)

	profile := &model.Profile{
		Summary:       summary,
		Planner:       planner,
		Execution:     execution,
		Fragments:     fragments,
		ExecutionTree: execTree,
	}
	if err := warnings.ErrorOrNil(); err != nil {
		c.logger.Warn("recovered profile errors", zap.Int("count", len(warnings.Errors)), zap.Error(err))
		for _, w := range warnings.Errors {
			profile.Warnings = append(profile.Warnings, w.Error())
		}
	}
	c.logger.Debug("profile parsed",
		zap.String("query_id", summary.QueryID),
		zap.Int("fragments", len(fragments)),
		zap.Int("nodes", len(execTree.Nodes)),
	)
	return profile, nil
}

type placedOperator struct {
	op         model.Operator
	fragmentID string
	pipelineID string
}

func (c *Composer) nodesFromTopology(topo model.Topology, fragments []model.Fragment) []model.ExecutionTreeNode {
	byPlan := map[int32][]placedOperator{}
	for _, f := range fragments {
		for _, p := range f.Pipelines {
			for _, op := range p.Operators {
				if op.PlanNodeID == nil {
					continue
				}
				byPlan[*op.PlanNodeID] = append(byPlan[*op.PlanNodeID], placedOperator{op, f.ID, p.ID})
			}
		}
	}

	nodes := make([]model.ExecutionTreeNode, 0, len(topo.Nodes))
	for _, tn := range topo.Nodes {
		node := model.ExecutionTreeNode{
			ID:           fmt.Sprintf("node_%d", tn.ID),
			PlanNodeID:   model.Int32(tn.ID),
			OperatorName: tn.Name,
			NodeType:     parser.KindOf(tn.Name),
			Children:     []string{},
		}
		if placed, ok := byPlan[tn.ID]; ok {
			ops := make([]model.Operator, len(placed))
			for i, p := range placed {
				ops[i] = p.op
			}
			agg := AggregateOperators(ops, tn.Name)
			node.Metrics = MetricsFrom(agg.CommonMetrics)
			if len(agg.UniqueMetrics) > 0 {
				node.Metrics.Specialized = parser.ParseSpecialized(agg.Name, agg.CommonMetrics, agg.UniqueMetrics)
			}
			if kind := parser.KindOf(agg.Name); kind != model.NodeTypeUnknown {
				node.NodeType = kind
			}
			node.FragmentID = placed[0].fragmentID
			node.PipelineID = placed[0].pipelineID
			node.UniqueMetrics = agg.UniqueMetrics
		}
		c.logger.Debug("topology node",
			zap.Int32("plan_node_id", tn.ID),
			zap.String("name", tn.Name),
			zap.Int("operators", len(byPlan[tn.ID])),
		)
		nodes = append(nodes, node)
	}

	return append(nodes, sinkNodes(topo, fragments)...)
}

// sinkNodes returns one node per sink operator whose plan id the topology
// does not know. Operators without a plan id get decreasing negative ids.
func sinkNodes(topo model.Topology, fragments []model.Fragment) []model.ExecutionTreeNode {
	known := mapset.NewThreadUnsafeSet[int32]()
	for _, n := range topo.Nodes {
		known.Add(n.ID)
	}

	var (
		out  []model.ExecutionTreeNode
		next int32 = -1
	)
	for _, f := range fragments {
		for _, p := range f.Pipelines {
			for _, op := range p.Operators {
				name := parser.PureName(op.Name)
				if !strings.HasSuffix(name, "_SINK") {
					continue
				}
				id := next
				if op.PlanNodeID != nil {
					id = *op.PlanNodeID
				} else {
					next--
				}
				if known.Contains(id) {
					continue
				}
				known.Add(id)

				metrics := MetricsFrom(op.CommonMetrics)
				if len(op.UniqueMetrics) > 0 {
					metrics.Specialized = parser.ParseSpecialized(name, op.CommonMetrics, op.UniqueMetrics)
				}
				abs := id
				if abs < 0 {
					abs = -abs
				}
				out = append(out, model.ExecutionTreeNode{
					ID:            fmt.Sprintf("sink_%d", abs),
					PlanNodeID:    model.Int32(id),
					OperatorName:  name,
					NodeType:      parser.KindOf(name),
					Children:      []string{},
					Metrics:       metrics,
					FragmentID:    f.ID,
					PipelineID:    p.ID,
					UniqueMetrics: op.UniqueMetrics,
				})
			}
		}
	}
	return out
}

// nodesFromFragments turns every operator into a node in enumeration order.
// Repeated plan ids get a numeric suffix so node ids stay unique.
func nodesFromFragments(fragments []model.Fragment) []model.ExecutionTreeNode {
	var (
		nodes   []model.ExecutionTreeNode
		counter int32
	)
	seen := map[string]int{}
	for _, f := range fragments {
		for _, p := range f.Pipelines {
			for _, op := range p.Operators {
				planID := counter
				if op.PlanNodeID != nil {
					planID = *op.PlanNodeID
				}
				counter++

				id := fmt.Sprintf("node_%d", planID)
				if n := seen[id]; n > 0 {
					seen[id] = n + 1
					id = fmt.Sprintf("%s_%d", id, n)
				} else {
					seen[id] = 1
				}

				name := parser.PureName(op.Name)
				metrics := MetricsFrom(op.CommonMetrics)
				metrics.Specialized = parser.ParseSpecialized(name, op.CommonMetrics, op.UniqueMetrics)
				nodes = append(nodes, model.ExecutionTreeNode{
					ID:            id,
					PlanNodeID:    model.Int32(planID),
					OperatorName:  name,
					NodeType:      parser.KindOf(name),
					Children:      []string{},
					Metrics:       metrics,
					FragmentID:    f.ID,
					PipelineID:    p.ID,
					UniqueMetrics: op.UniqueMetrics,
				})
			}
		}
	}
	return nodes
}

// AggregateOperators merges the physical operators that implement the
// topology node called topologyName. Operators are matched by canonical name,
// then by normalized name, then OLAP_SCAN falls back to CONNECTOR_SCAN; with
// no match the first operator stands in alone. Times and counts are summed;
// unique metrics merge with later values winning, except __MAX_OF_ and
// __MIN_OF_ keys which keep the first value seen.
func AggregateOperators(ops []model.Operator, topologyName string) model.Operator {
	if len(ops) == 0 {
		return model.Operator{Name: topologyName}
	}

	matched := matchOperators(ops, topologyName)
	base := matched[0]
	common := make(map[string]string, len(base.CommonMetrics))
	for k, v := range base.CommonMetrics {
		common[k] = v
	}

	for _, key := range []string{"OperatorTotalTime", "PushTotalTime", "PullTotalTime"} {
		var sum time.Duration
		for _, op := range matched {
			if d, err := value.ParseDuration(op.CommonMetrics[key]); err == nil {
				sum += d
			}
		}
		if sum > 0 {
			common[key] = sum.String()
		}
	}
	for _, key := range []string{"PushChunkNum", "PushRowNum", "PullChunkNum", "PullRowNum"} {
		var sum uint64
		for _, op := range matched {
			if n, err := value.ParseNumber[uint64](op.CommonMetrics[key]); err == nil {
				sum += n
			}
		}
		if sum > 0 {
			common[key] = fmt.Sprintf("%d", sum)
		}
	}

	unique := map[string]string{}
	for _, op := range matched {
		for k, v := range op.UniqueMetrics {
			if strings.HasPrefix(k, parser.MaxPrefix) || strings.HasPrefix(k, parser.MinPrefix) {
				if _, ok := unique[k]; ok {
					continue
				}
			}
			unique[k] = v
		}
	}

	return model.Operator{
		Name:          base.Name,
		PlanNodeID:    base.PlanNodeID,
		OperatorID:    base.OperatorID,
		CommonMetrics: common,
		UniqueMetrics: unique,
	}
}

func matchOperators(ops []model.Operator, topologyName string) []model.Operator {
	var out []model.Operator
	for _, op := range ops {
		if parser.CanonicalTopologyName(parser.PureName(op.Name)) == topologyName {
			out = append(out, op)
		}
	}
	if len(out) > 0 {
		return out
	}

	normalize := func(s string) string { return strings.ReplaceAll(strings.ToUpper(s), "-", "_") }
	want := normalize(topologyName)
	for _, op := range ops {
		if normalize(parser.PureName(op.Name)) == want {
			out = append(out, op)
		}
	}
	if len(out) > 0 {
		return out
	}

	if topologyName == "OLAP_SCAN" {
		for _, op := range ops {
			if parser.CanonicalTopologyName(parser.PureName(op.Name)) == "CONNECTOR_SCAN" {
				out = append(out, op)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return ops[:1]
}

// MetricsFrom decodes the common metrics of an operator. __MAX_OF_ values
// override the plain ones; CPUTime stands in for OperatorTotalTime when no
// maximum is reported.
func MetricsFrom(common map[string]string) model.OperatorMetrics {
	var m model.OperatorMetrics

	total := func(key string) {
		raw, ok := common[key]
		if !ok {
			return
		}
		if d, err := value.ParseDuration(raw); err == nil {
			m.OperatorTotalTime = d
			m.OperatorTotalTimeRaw = raw
		}
	}
	total("OperatorTotalTime")
	total("CPUTime")
	total(parser.MaxPrefix + "OperatorTotalTime")

	duration := func(dst *time.Duration, keys ...string) {
		for _, key := range keys {
			if d, err := value.ParseDuration(common[key]); err == nil {
				*dst = d
			}
		}
	}
	duration(&m.PushTotalTime, "PushTotalTime", parser.MaxPrefix+"PushTotalTime")
	duration(&m.PullTotalTime, "PullTotalTime", parser.MaxPrefix+"PullTotalTime")

	number := func(key string) uint64 {
		n, _ := value.ParseNumber[uint64](common[key])
		return n
	}
	m.PushChunkNum = number("PushChunkNum")
	m.PushRowNum = number("PushRowNum")
	m.PullChunkNum = number("PullChunkNum")
	m.PullRowNum = number("PullRowNum")

	m.MemoryUsage, _ = value.ParseBytes(common["MemoryUsage"])
	m.OutputChunkBytes, _ = value.ParseBytes(common["OutputChunkBytes"])
	return m
}

// TopNodes ranks nodes by time percentage and keeps the first limit. Nodes
// without a plan id or a positive percentage are ignored.
func TopNodes(nodes []model.ExecutionTreeNode, limit int) []model.TopNode {
	var ranked []model.ExecutionTreeNode
	for _, n := range nodes {
		if n.PlanNodeID != nil && n.Percentage() > 0 {
			ranked = append(ranked, n)
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Percentage() > ranked[j].Percentage()
	})
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}

	out := make([]model.TopNode, 0, len(ranked))
	for i, n := range ranked {
		pct := n.Percentage()
		total := n.Metrics.OperatorTotalTimeRaw
		if total == "" {
			total = "N/A"
		}
		out = append(out, model.TopNode{
			Rank:                  i + 1,
			OperatorName:          n.OperatorName,
			PlanNodeID:            *n.PlanNodeID,
			TotalTime:             total,
			TimePercentage:        pct,
			IsMostConsuming:       n.IsMostConsuming,
			IsSecondMostConsuming: n.IsSecondMostConsuming,
		})
	}
	return out
}

// backfillSummary copies the execution overview counters into s.
func backfillSummary(s *model.Summary, metrics map[string]string) {
	if raw, ok := metrics["QueryCumulativeOperatorTime"]; ok && s.QueryCumulativeOperatorTimeMs == nil {
		if ms, err := value.ParseTimeMs(raw); err == nil {
			s.QueryCumulativeOperatorTime = raw
			s.QueryCumulativeOperatorTimeMs = &ms
		}
	}
	if raw, ok := metrics["QueryExecutionWallTime"]; ok && s.QueryExecutionWallTimeMs == nil {
		if ms, err := value.ParseTimeMs(raw); err == nil {
			s.QueryExecutionWallTime = raw
			s.QueryExecutionWallTimeMs = &ms
		}
	}

	if raw, ok := metrics["QueryAllocatedMemoryUsage"]; ok {
		if b, err := value.ParseBytes(raw); err == nil {
			s.QueryAllocatedMemory = &b
		}
	}
	if raw, ok := metrics["QueryPeakMemoryUsagePerNode"]; ok {
		if b, err := value.ParseBytes(raw); err == nil {
			s.QueryPeakMemory = &b
		}
	}
	s.QuerySumMemoryUsage = metrics["QuerySumMemoryUsage"]
	s.QueryDeallocatedMemoryUsage = metrics["QueryDeallocatedMemoryUsage"]
	s.QuerySpillBytes = metrics["QuerySpillBytes"]

	timed := []struct {
		key string
		raw *string
		ms  **float64
	}{
		{"QueryCumulativeCpuTime", &s.QueryCumulativeCPUTime, &s.QueryCumulativeCPUTimeMs},
		{"QueryCumulativeScanTime", &s.QueryCumulativeScanTime, &s.QueryCumulativeScanTimeMs},
		{"QueryCumulativeNetworkTime", &s.QueryCumulativeNetworkTime, &s.QueryCumulativeNetworkTimeMs},
		{"QueryPeakScheduleTime", &s.QueryPeakScheduleTime, &s.QueryPeakScheduleTimeMs},
		{"ResultDeliverTime", &s.ResultDeliverTime, &s.ResultDeliverTimeMs},
	}
	for _, t := range timed {
		raw, ok := metrics[t.key]
		if !ok {
			continue
		}
		*t.raw = raw
		if ms, err := value.ParseTimeMs(raw); err == nil {
			*t.ms = &ms
		}
	}
}
