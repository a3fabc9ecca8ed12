package parser

import (
	"regexp"
	"strings"
)

const (
	// MaxPrefix marks the maximum of a metric across merged instances.
	MaxPrefix = "__MAX_OF_"
	// MinPrefix marks the minimum; such lines are discarded.
	MinPrefix = "__MIN_OF_"
)

var (
	metricLineRe = regexp.MustCompile(`^\s*-\s+([A-Za-z_][A-Za-z0-9_]*)(?::\s+(.+))?$`)
	identRe      = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
)

// ParseMetricLines converts "- Key: Value" lines into a map. A bare "- Key"
// becomes "true" and __MIN_OF_ lines are dropped together with everything
// indented beneath them.
//
// Lines nested under another metric are also stored as "Parent.Key". The
// bare key of a nested line never overrides a top-level line of the same
// name.
func ParseMetricLines(block string) map[string]string {
	type parent struct {
		indent int
		name   string
	}

	metrics := map[string]string{}
	var stack []parent
	skipBelow := -1

	for _, line := range strings.Split(block, "\n") {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "-") {
			continue
		}
		indent := indentOf(line)
		if skipBelow >= 0 {
			if indent > skipBelow {
				continue
			}
			skipBelow = -1
		}
		if strings.HasPrefix(strings.TrimSpace(strings.TrimPrefix(trimmed, "-")), MinPrefix) {
			skipBelow = indent
			continue
		}
		for len(stack) > 0 && stack[len(stack)-1].indent >= indent {
			stack = stack[:len(stack)-1]
		}

		m := metricLineRe.FindStringSubmatch(line)
		if m == nil {
			name := strings.TrimSpace(strings.TrimSuffix(strings.TrimPrefix(trimmed, "-"), ":"))
			if strings.HasSuffix(trimmed, ":") && identRe.MatchString(name) {
				stack = append(stack, parent{indent: indent, name: name})
			}
			continue
		}

		key, val := m[1], strings.TrimSpace(m[2])
		if val == "" {
			val = "true"
		}

		if len(stack) == 0 {
			metrics[key] = val
		} else {
			metrics[stack[len(stack)-1].name+"."+key] = val
			if _, ok := metrics[key]; !ok {
				metrics[key] = val
			}
		}
		stack = append(stack, parent{indent: indent, name: key})
	}
	return metrics
}

// extractSectionBlock returns the lines of a "CommonMetrics:" or
// "UniqueMetrics:" sub-block of an operator.
func extractSectionBlock(text, marker string) string {
	start := strings.Index(text, marker)
	if start < 0 {
		return ""
	}
	lines := strings.Split(text[start+len(marker):], "\n")

	base := 0
	for _, line := range lines {
		if strings.TrimSpace(line) != "" {
			base = indentOf(line)
			break
		}
	}

	out := make([]string, 0, len(lines))
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasSuffix(trimmed, "Metrics:") {
			break
		}
		if trimmed != "" && indentOf(line) <= base && !strings.HasPrefix(trimmed, "-") &&
			(strings.HasSuffix(trimmed, ":") || strings.Contains(trimmed, "(plan_node_id")) {
			break
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}
