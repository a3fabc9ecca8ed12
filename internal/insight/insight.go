package insight

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/mickamy/rockscope/internal/config"
	"github.com/mickamy/rockscope/internal/model"
	"github.com/mickamy/rockscope/internal/nodeinfo"
	"github.com/mickamy/rockscope/internal/value"
)

// Severity expresses the urgency of an insight message.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Message represents an actionable observation about a profile.
type Message struct {
	Severity Severity
	Text     string
	Anchor   string
}

// maxMetricMessages caps the time-consuming metric messages.
const maxMetricMessages = 3

// BuildMessages derives human-readable insight messages for an analysis.
func BuildMessages(result *model.AnalysisResult) []Message {
	if result == nil || result.ExecutionTree == nil {
		return nil
	}
	var out []Message

	if msg := hotspotMessage(result); msg != nil {
		out = append(out, *msg)
	}

	if msg := issueMessage(result); msg != nil {
		out = append(out, *msg)
	}

	out = append(out, metricMessages(result)...)

	if msg := networkMessage(result); msg != nil {
		out = append(out, *msg)
	}

	if msg := spillMessage(result); msg != nil {
		out = append(out, *msg)
	}

	return out
}

func hotspotMessage(result *model.AnalysisResult) *Message {
	hot := hottestNode(result.ExecutionTree)
	if hot == nil {
		return nil
	}
	text := fmt.Sprintf("Hot spot: %s took %.1f%% of operator time", CompactLabel(hot), hot.Percentage())
	if hot.Metrics.OperatorTotalTime > 0 {
		text += fmt.Sprintf(" (%s)", value.FormatDuration(hot.Metrics.OperatorTotalTime))
	}
	if hot.NodeType.IsScan() {
		text += ", check partition pruning and predicate pushdown"
	}
	return &Message{Severity: severityForNode(hot), Text: text, Anchor: AnchorID(hot)}
}

func hottestNode(t *model.ExecutionTree) *model.ExecutionTreeNode {
	var hot *model.ExecutionTreeNode
	for i := range t.Nodes {
		n := &t.Nodes[i]
		if n.Percentage() <= 0 {
			continue
		}
		if hot == nil || n.Percentage() > hot.Percentage() {
			hot = n
		}
	}
	return hot
}

func severityForNode(node *model.ExecutionTreeNode) Severity {
	switch {
	case node == nil:
		return SeverityInfo
	case node.IsMostConsuming:
		return SeverityCritical
	case node.IsSecondMostConsuming:
		return SeverityWarning
	default:
		return SeverityInfo
	}
}

// FromHotspot maps a hotspot severity onto a message severity.
func FromHotspot(s model.Severity) Severity {
	switch s {
	case model.SeverityCritical:
		return SeverityCritical
	case model.SeveritySevere, model.SeverityHigh:
		return SeverityWarning
	default:
		return SeverityInfo
	}
}

func issueMessage(result *model.AnalysisResult) *Message {
	if len(result.Hotspots) == 0 {
		return nil
	}
	top := result.Hotspots[0]
	text := fmt.Sprintf("%s at %s: %s", top.IssueType, top.NodePath, top.Description)
	if n := len(result.Hotspots) - 1; n > 0 {
		text += fmt.Sprintf(" (+%d more)", n)
	}
	return &Message{Severity: FromHotspot(top.Severity), Text: NormalizeWhitespace(text)}
}

// metricMessages names the single time metrics that dominate the most
// expensive nodes.
func metricMessages(result *model.AnalysisResult) []Message {
	if result.Profile == nil {
		return nil
	}
	ratio := config.Active().Analysis.MetricConsumingRatio
	infos := nodeInfos(result)

	nodes := make([]*model.ExecutionTreeNode, 0, len(result.ExecutionTree.Nodes))
	for i := range result.ExecutionTree.Nodes {
		if result.ExecutionTree.Nodes[i].Percentage() > 0 {
			nodes = append(nodes, &result.ExecutionTree.Nodes[i])
		}
	}
	slices.SortStableFunc(nodes, func(a, b *model.ExecutionTreeNode) int {
		switch {
		case a.Percentage() > b.Percentage():
			return -1
		case a.Percentage() < b.Percentage():
			return 1
		}
		return 0
	})

	var msgs []Message
	for _, node := range nodes {
		if len(msgs) >= maxMetricMessages {
			break
		}
		if node.PlanNodeID == nil {
			continue
		}
		info, ok := infos[*node.PlanNodeID]
		if !ok {
			continue
		}
		name, share := dominantMetric(info, node.UniqueMetrics)
		if share <= ratio {
			continue
		}
		msgs = append(msgs, Message{
			Severity: severityForNode(node),
			Text:     fmt.Sprintf("%s spends %.0f%% of its time in %s", CompactLabel(node), share*100, name),
			Anchor:   AnchorID(node),
		})
	}
	return msgs
}

func nodeInfos(result *model.AnalysisResult) map[int32]*nodeinfo.NodeInfo {
	var topo []model.TopologyNode
	for _, n := range result.ExecutionTree.Nodes {
		if n.PlanNodeID == nil {
			continue
		}
		topo = append(topo, model.TopologyNode{
			ID:    *n.PlanNodeID,
			Name:  n.OperatorName,
			Class: model.ClassOf(n.OperatorName),
		})
	}
	infos := nodeinfo.Build(topo, result.Profile.Fragments)
	for _, info := range infos {
		info.ComputeTime(0)
	}
	return infos
}

// dominantMetric returns the unique time metric with the largest share of the
// node's time. Nested keys are skipped in favour of their parents.
func dominantMetric(info *nodeinfo.NodeInfo, unique map[string]string) (string, float64) {
	keys := make([]string, 0, len(unique))
	for k := range unique {
		if strings.Contains(k, ".") || strings.HasPrefix(k, "__") || !strings.Contains(k, "Time") {
			continue
		}
		keys = append(keys, k)
	}
	slices.Sort(keys)

	var (
		best  string
		share float64
	)
	for _, k := range keys {
		s, ok := info.MetricShare(k)
		if ok && s > share {
			best, share = k, s
		}
	}
	return best, share
}

func networkMessage(result *model.AnalysisResult) *Message {
	if result.Summary == nil {
		return nil
	}
	network := result.Summary.QueryCumulativeNetworkTimeMs
	operator := result.Summary.QueryCumulativeOperatorTimeMs
	if network == nil || operator == nil || *operator <= 0 {
		return nil
	}
	share := *network / *operator
	if share < 0.2 {
		return nil
	}
	severity := SeverityWarning
	if share >= 0.5 {
		severity = SeverityCritical
	}
	text := fmt.Sprintf("Network: exchanges took %s, %.0f%% of operator time, consider colocate or bucket shuffle joins",
		value.FormatDuration(time.Duration(*network*float64(time.Millisecond))), share*100)
	return &Message{Severity: severity, Text: text}
}

func spillMessage(result *model.AnalysisResult) *Message {
	if result.Summary == nil || result.Summary.QuerySpillBytes == "" {
		return nil
	}
	b, err := value.ParseBytes(result.Summary.QuerySpillBytes)
	if err != nil || b == 0 {
		return nil
	}
	severity := SeverityWarning
	if b >= 1<<30 {
		severity = SeverityCritical
	}
	return &Message{
		Severity: severity,
		Text:     fmt.Sprintf("Query spilled %s to disk, consider raising query_mem_limit", HumanizeBytes(b)),
	}
}

// NodeLabel builds a descriptive label for a plan node.
func NodeLabel(node *model.ExecutionTreeNode) string {
	if node == nil {
		return ""
	}
	label := node.OperatorName
	if node.PlanNodeID != nil {
		label = fmt.Sprintf("%s #%d", label, *node.PlanNodeID)
	}
	switch m := node.Metrics.Specialized.(type) {
	case model.ConnectorScanMetrics:
		if m.Table != "" {
			label = fmt.Sprintf("%s %s", label, m.Table)
		}
	case model.OlapScanMetrics:
		if m.Table != "" {
			label = fmt.Sprintf("%s %s", label, m.Table)
		}
	case model.JoinMetrics:
		if m.JoinType != "" {
			label = fmt.Sprintf("%s (%s)", label, m.JoinType)
		}
	}
	return label
}

// CompactLabel shortens long labels for inline summaries.
func CompactLabel(node *model.ExecutionTreeNode) string {
	label := NodeLabel(node)
	if len(label) > 60 {
		return label[:57] + "..."
	}
	return label
}

// HumanizeBytes renders b with a binary unit.
func HumanizeBytes(b uint64) string {
	switch {
	case b >= 1<<30:
		return fmt.Sprintf("%.2f GiB", float64(b)/(1<<30))
	case b >= 1<<20:
		return fmt.Sprintf("%.2f MiB", float64(b)/(1<<20))
	case b >= 1<<10:
		return fmt.Sprintf("%.2f KiB", float64(b)/(1<<10))
	default:
		return fmt.Sprintf("%d B", b)
	}
}

// NormalizeWhitespace collapses whitespace for use in HTML or text.
func NormalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func AnchorID(node *model.ExecutionTreeNode) string {
	if node == nil {
		return ""
	}
	id := strings.ReplaceAll(node.ID, "-", "neg")
	label := strings.ToLower(node.OperatorName + "-" + id)
	label = strings.ReplaceAll(label, " ", "-")
	return strings.ReplaceAll(label, "_", "-")
}
