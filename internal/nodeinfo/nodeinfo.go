// Package nodeinfo groups the physical operators of a profile by plan node
// and derives each node's time and memory usage.
package nodeinfo

import (
	"strings"

	"github.com/mickamy/rockscope/internal/model"
	"github.com/mickamy/rockscope/internal/parser"
	"github.com/mickamy/rockscope/internal/value"
)

// ConsumingMetricRatio is the share of a node's total time above which a
// single time metric counts as time consuming.
const ConsumingMetricRatio = 0.3

// Unit is the measurement unit of a Counter.
type Unit int

const (
	UnitNone Unit = iota
	UnitTimeNs
	UnitBytes
	UnitRows
)

// Counter is a decoded metric value.
type Counter struct {
	Value uint64
	Unit  Unit
}

// SearchMode selects which operator profiles a lookup visits.
type SearchMode int

const (
	NativeOnly SearchMode = iota
	SubordinateOnly
	Both
)

// Section names the metric map of an operator.
type Section int

const (
	Common Section = iota
	Unique
)

// Path addresses one metric of an operator.
type Path struct {
	Section Section
	Name    string
}

// NodeInfo is the set of operators that belong to one plan node together with
// the usage derived from them.
type NodeInfo struct {
	PlanNodeID   int32
	Class        model.NodeClass
	Native       []model.Operator
	Subordinates []model.Operator

	TotalTime       *Counter
	CPUTime         *Counter
	NetworkTime     *Counter
	ScanTime        *Counter
	PeakMemory      *Counter
	AllocatedMemory *Counter
	TimePercentage  float64
}

// Build groups the operators of fragments by plan id. Nodes named by the
// topology take its class; plan ids the topology does not know become
// NodeClassUnknown.
func Build(topology []model.TopologyNode, fragments []model.Fragment) map[int32]*NodeInfo {
	type group struct {
		native, sub []model.Operator
	}
	groups := map[int32]*group{}
	for _, f := range fragments {
		for _, p := range f.Pipelines {
			for _, op := range p.Operators {
				if op.PlanNodeID == nil {
					continue
				}
				g, ok := groups[*op.PlanNodeID]
				if !ok {
					g = &group{}
					groups[*op.PlanNodeID] = g
				}
				if IsSubordinate(op.Name) {
					g.sub = append(g.sub, op)
				} else {
					g.native = append(g.native, op)
				}
			}
		}
	}

	infos := make(map[int32]*NodeInfo, len(groups)+len(topology))
	for _, n := range topology {
		// Nodes sharing a plan id keep the info adopted first.
		if _, ok := infos[n.ID]; ok {
			continue
		}
		info := &NodeInfo{PlanNodeID: n.ID, Class: n.Class}
		if g, ok := groups[n.ID]; ok {
			info.Native, info.Subordinates = g.native, g.sub
			delete(groups, n.ID)
		}
		infos[n.ID] = info
	}
	for id, g := range groups {
		infos[id] = &NodeInfo{
			PlanNodeID:   id,
			Class:        model.NodeClassUnknown,
			Native:       g.native,
			Subordinates: g.sub,
		}
	}
	return infos
}

// IsSubordinate reports whether an operator only supports the plan node it
// belongs to rather than doing its work.
func IsSubordinate(name string) bool {
	return strings.Contains(name, "LOCAL_EXCHANGE") ||
		strings.Contains(name, "CHUNK_ACCUMULATE") ||
		strings.Contains(name, "CACHE") ||
		strings.Contains(name, "COLLECT_STATS")
}

// ComputeTime derives the node's total time and its share of cumulative
// (nanoseconds). Exchange nodes add their network time and scans their scan
// time on top of the operator time.
func (n *NodeInfo) ComputeTime(cumulative uint64) {
	n.CPUTime = n.SumUp(Both, true, Path{Common, "OperatorTotalTime"})
	if n.CPUTime != nil {
		total := *n.CPUTime
		n.TotalTime = &total
	} else {
		n.TotalTime = nil
	}

	switch n.Class {
	case model.NodeClassExchange:
		n.NetworkTime = n.Search(NativeOnly, "", true, Path{Unique, "NetworkTime"})
		if n.TotalTime != nil && n.NetworkTime != nil {
			n.TotalTime.Value += n.NetworkTime.Value
		}
	case model.NodeClassScan:
		n.ScanTime = n.Search(NativeOnly, "", true, Path{Unique, "ScanTime"})
		if n.TotalTime != nil && n.ScanTime != nil {
			n.TotalTime.Value += n.ScanTime.Value
		}
	}

	if n.TotalTime != nil && cumulative > 0 {
		n.TimePercentage = float64(n.TotalTime.Value) * 100 / float64(cumulative)
	}
}

// ComputeMemory derives peak and allocated memory from native operators.
func (n *NodeInfo) ComputeMemory() {
	n.PeakMemory = n.SumUp(NativeOnly, true, Path{Common, "OperatorPeakMemoryUsage"})
	n.AllocatedMemory = n.SumUp(NativeOnly, false, Path{Common, "OperatorAllocatedMemoryUsage"})
}

// IsTimeConsumingMetric reports whether the time metric name accounts for
// more than ConsumingMetricRatio of the node's total time.
func (n *NodeInfo) IsTimeConsumingMetric(name string) bool {
	share, ok := n.MetricShare(name)
	return ok && share > ConsumingMetricRatio
}

// MetricShare returns the time metric name as a fraction of the node's total
// time. The common section is consulted before the unique one.
func (n *NodeInfo) MetricShare(name string) (float64, bool) {
	if n.TotalTime == nil || n.TotalTime.Value == 0 {
		return 0, false
	}
	for _, sec := range []Section{Common, Unique} {
		c := n.Search(Both, "", true, Path{sec, name})
		if c != nil && c.Unit == UnitTimeNs {
			return float64(c.Value) / float64(n.TotalTime.Value), true
		}
	}
	return 0, false
}

// SumUp adds the metric over every operator selected by mode. With useMax the
// "__MAX_OF_" variant is preferred per operator. It returns nil when no
// operator carries the metric.
func (n *NodeInfo) SumUp(mode SearchMode, useMax bool, path Path) *Counter {
	var (
		sum   Counter
		found bool
	)
	for _, op := range n.profiles(mode) {
		if c, ok := metricOf(op, path, useMax); ok {
			sum.Value += c.Value
			sum.Unit = c.Unit
			found = true
		}
	}
	if !found {
		return nil
	}
	return &sum
}

// Search returns the metric of the first operator selected by mode that
// carries it. A non-empty pattern restricts the search to operators whose
// name contains it.
func (n *NodeInfo) Search(mode SearchMode, pattern string, useMax bool, path Path) *Counter {
	for _, op := range n.profiles(mode) {
		if pattern != "" && !strings.Contains(op.Name, pattern) {
			continue
		}
		if c, ok := metricOf(op, path, useMax); ok {
			return &c
		}
	}
	return nil
}

func (n *NodeInfo) profiles(mode SearchMode) []model.Operator {
	switch mode {
	case NativeOnly:
		return n.Native
	case SubordinateOnly:
		return n.Subordinates
	}
	out := make([]model.Operator, 0, len(n.Native)+len(n.Subordinates))
	out = append(out, n.Native...)
	return append(out, n.Subordinates...)
}

func metricOf(op model.Operator, path Path, useMax bool) (Counter, bool) {
	metrics := op.CommonMetrics
	if path.Section == Unique {
		metrics = op.UniqueMetrics
	}

	raw, ok := "", false
	if useMax {
		raw, ok = metrics[parser.MaxPrefix+path.Name]
	}
	if !ok {
		raw, ok = metrics[path.Name]
	}
	if !ok {
		return Counter{}, false
	}
	return parseCounter(raw, path.Name)
}

func parseCounter(raw, name string) (Counter, bool) {
	switch {
	case strings.Contains(name, "Time"):
		d, err := value.ParseDuration(raw)
		if err != nil {
			return Counter{}, false
		}
		return Counter{Value: uint64(d), Unit: UnitTimeNs}, true
	case strings.Contains(name, "Memory") || strings.Contains(name, "Bytes"):
		b, err := value.ParseBytes(raw)
		if err != nil {
			return Counter{}, false
		}
		return Counter{Value: b, Unit: UnitBytes}, true
	case strings.Contains(name, "Rows") || strings.Contains(name, "RowNum"):
		v, err := value.ParseNumber[uint64](raw)
		if err != nil {
			return Counter{}, false
		}
		return Counter{Value: v, Unit: UnitRows}, true
	}
	v, err := value.ParseNumber[uint64](raw)
	if err != nil {
		return Counter{}, false
	}
	return Counter{Value: v, Unit: UnitNone}, true
}
