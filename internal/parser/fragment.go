package parser

import (
	"regexp"
	"strings"

	"github.com/mickamy/rockscope/internal/model"
)

var (
	fragmentRe = regexp.MustCompile(`^\s*Fragment\s+(\d+):`)
	pipelineRe = regexp.MustCompile(`^\s*Pipeline\s+\(id=(\d+)\):`)
)

// ExtractFragments slices every "Fragment N:" block out of text. Operators
// with an undecodable header are skipped and reported in the returned
// warnings; their siblings still parse.
func ExtractFragments(text string) ([]model.Fragment, []error) {
	lines := strings.Split(text, "\n")

	var (
		fragments []model.Fragment
		warnings  []error
	)
	for i := 0; i < len(lines); {
		m := fragmentRe.FindStringSubmatch(strings.TrimSpace(lines[i]))
		if m == nil {
			i++
			continue
		}
		end := blockEnd(lines, i, fragmentRe)
		frag, warns := parseFragment(m[1], lines[i:end])
		fragments = append(fragments, frag)
		warnings = append(warnings, warns...)
		i = end
	}
	return fragments, warnings
}

func parseFragment(id string, lines []string) (model.Fragment, []error) {
	frag := model.Fragment{
		ID:               id,
		BackendAddresses: listField(lines, "- BackendAddresses:"),
		InstanceIDs:      listField(lines, "- InstanceIds:"),
	}

	var warnings []error
	for i := 0; i < len(lines); {
		m := pipelineRe.FindStringSubmatch(strings.TrimSpace(lines[i]))
		if m == nil {
			i++
			continue
		}
		end := blockEnd(lines, i, pipelineRe, fragmentRe)
		pipe, warns := parsePipeline(m[1], lines[i+1:end])
		frag.Pipelines = append(frag.Pipelines, pipe)
		warnings = append(warnings, warns...)
		i = end
	}
	return frag, warnings
}

func parsePipeline(id string, lines []string) (model.Pipeline, []error) {
	pipe := model.Pipeline{ID: id}

	first := len(lines)
	for i, line := range lines {
		if IsOperatorHeader(line) {
			first = i
			break
		}
	}
	pipe.Metrics = ParseMetricLines(strings.Join(lines[:first], "\n"))

	var warnings []error
	for i := first; i < len(lines); {
		if !IsOperatorHeader(lines[i]) {
			i++
			continue
		}
		header := lines[i]
		indent := indentOf(header)
		j := i + 1
		for ; j < len(lines); j++ {
			if strings.TrimSpace(lines[j]) == "" {
				continue
			}
			if indentOf(lines[j]) <= indent {
				break
			}
		}
		body := strings.Join(lines[i:j], "\n")
		i = j

		h, err := ParseOperatorHeader(header)
		if err != nil {
			warnings = append(warnings, err)
			continue
		}
		pipe.Operators = append(pipe.Operators, model.Operator{
			Name:          h.Name,
			PlanNodeID:    model.Int32(h.PlanNodeID),
			OperatorID:    h.OperatorID,
			CommonMetrics: ParseMetricLines(extractSectionBlock(body, "CommonMetrics:")),
			UniqueMetrics: ParseMetricLines(extractSectionBlock(body, "UniqueMetrics:")),
		})
	}
	return pipe, warnings
}

// blockEnd returns the index of the first line after start that matches one
// of the headers at an indent no deeper than lines[start].
func blockEnd(lines []string, start int, headers ...*regexp.Regexp) int {
	indent := indentOf(lines[start])
	for j := start + 1; j < len(lines); j++ {
		if indentOf(lines[j]) > indent {
			continue
		}
		trimmed := strings.TrimSpace(lines[j])
		for _, re := range headers {
			if re.MatchString(trimmed) {
				return j
			}
		}
	}
	return len(lines)
}

func listField(lines []string, prefix string) []string {
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, prefix) {
			continue
		}
		parts := strings.Split(strings.TrimSpace(strings.TrimPrefix(trimmed, prefix)), ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	return nil
}
