// Package parser slices a StarRocks query profile dump into its sections,
// fragments, pipelines and operators, and decodes the embedded topology.
package parser

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/mickamy/rockscope/internal/model"
	"github.com/mickamy/rockscope/internal/value"
)

var summaryLineRe = regexp.MustCompile(`^\s*-\s+([^:]+):\s*(.*)$`)

// ParseSummary decodes the "Summary:" section.
func ParseSummary(text string) (model.Summary, error) {
	block, err := extractBlock(text, "Summary:")
	if err != nil {
		return model.Summary{}, err
	}

	var s model.Summary
	for key, val := range summaryFields(block) {
		switch key {
		case "Query ID":
			s.QueryID = val
		case "Start Time":
			s.StartTime = val
		case "End Time":
			s.EndTime = val
		case "Total":
			s.TotalTime = val
			s.TotalTimeMs = parseMs(val)
		case "Query State":
			s.QueryState = val
		case "StarRocks Version":
			s.StarRocksVersion = val
		case "Sql Statement":
			s.SQLStatement = val
		case "Query Type":
			s.QueryType = val
		case "User":
			s.User = val
		case "Default Db":
			s.DefaultDB = val
		case "QueryCumulativeOperatorTime":
			s.QueryCumulativeOperatorTime = val
			s.QueryCumulativeOperatorTimeMs = parseMs(val)
		case "QueryExecutionWallTime":
			s.QueryExecutionWallTime = val
			s.QueryExecutionWallTimeMs = parseMs(val)
		default:
			if s.Variables == nil {
				s.Variables = map[string]string{}
			}
			s.Variables[key] = val
		}
	}
	return s, nil
}

// ParsePlanner decodes the "Planner:" section into a flat map.
func ParsePlanner(text string) (model.Planner, error) {
	block, err := extractBlock(text, "Planner:")
	if err != nil {
		return model.Planner{}, err
	}
	return model.Planner{Details: summaryFields(block)}, nil
}

// ParseExecution decodes the "Execution:" section. Only the query-level
// counters that precede the first fragment are kept as metrics.
func ParseExecution(text string) (model.Execution, error) {
	block, err := extractBlock(text, "Execution:")
	if err != nil {
		return model.Execution{}, err
	}

	metrics := map[string]string{}
	for _, line := range strings.Split(block, "\n") {
		if fragmentRe.MatchString(strings.TrimSpace(line)) {
			break
		}
		m := summaryLineRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		key, val := strings.TrimSpace(m[1]), strings.TrimSpace(m[2])
		if key == "" || val == "" || key == "Topology" {
			continue
		}
		metrics[key] = val
	}

	return model.Execution{
		Topology: ExtractTopology(block),
		Metrics:  metrics,
	}, nil
}

// ExtractTopology returns the brace-balanced JSON object following the
// "- Topology:" marker, or "" when there is none.
func ExtractTopology(block string) string {
	const marker = "- Topology:"
	start := strings.Index(block, marker)
	if start < 0 {
		return ""
	}
	return balancedObject(block[start+len(marker):])
}

// balancedObject returns the first brace-balanced "{...}" in s.
func balancedObject(s string) string {
	open := strings.IndexByte(s, '{')
	if open < 0 {
		return ""
	}
	rest := s[open:]

	depth := 0
	for i := 0; i < len(rest); i++ {
		switch rest[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return rest[:i+1]
			}
		}
	}
	return ""
}

// extractBlock returns the text after marker up to the first following line
// that is indented no deeper than the marker line and ends with ':'.
func extractBlock(text, marker string) (string, error) {
	start := strings.Index(text, marker)
	if start < 0 {
		return "", fmt.Errorf("%w: %s", ErrSectionNotFound, strings.TrimSuffix(marker, ":"))
	}
	lineStart := strings.LastIndexByte(text[:start], '\n') + 1
	markerIndent := indentOf(text[lineStart:start])

	lines := strings.Split(text[start+len(marker):], "\n")
	end := len(lines)
	for i := 1; i < len(lines); i++ {
		trimmed := strings.TrimSpace(lines[i])
		if trimmed == "" {
			continue
		}
		if indentOf(lines[i]) <= markerIndent && strings.HasSuffix(trimmed, ":") {
			end = i
			break
		}
	}
	return strings.Join(lines[:end], "\n"), nil
}

func summaryFields(block string) map[string]string {
	fields := map[string]string{}
	for _, line := range strings.Split(block, "\n") {
		if m := summaryLineRe.FindStringSubmatch(line); m != nil {
			fields[strings.TrimSpace(m[1])] = strings.TrimSpace(m[2])
		}
	}
	return fields
}

func parseMs(s string) *float64 {
	ms, err := value.ParseTimeMs(s)
	if err != nil {
		return nil
	}
	return &ms
}

// indentOf counts leading whitespace characters.
func indentOf(line string) int {
	n := 0
	for _, r := range line {
		if r != ' ' && r != '\t' {
			break
		}
		n++
	}
	return n
}
