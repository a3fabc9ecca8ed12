package model

import "time"

// Severity grades a hotspot.
type Severity string

const (
	SeverityNormal   Severity = "Normal"
	SeverityMild     Severity = "Mild"
	SeverityModerate Severity = "Moderate"
	SeveritySevere   Severity = "Severe"
	SeverityHigh     Severity = "High"
	SeverityCritical Severity = "Critical"
)

// Rank orders severities for sorting. High and Severe share a rank.
func (s Severity) Rank() int {
	switch s {
	case SeverityMild:
		return 1
	case SeverityModerate:
		return 2
	case SeveritySevere, SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	default:
		return 0
	}
}

// HotSpot is one detected performance problem.
type HotSpot struct {
	NodePath    string   `json:"node_path"`
	Severity    Severity `json:"severity"`
	IssueType   string   `json:"issue_type"`
	Description string   `json:"description"`
	Suggestions []string `json:"suggestions"`
}

// TopNode is one entry of the most time-consuming node ranking.
type TopNode struct {
	Rank                  int     `json:"rank"`
	OperatorName          string  `json:"operator_name"`
	PlanNodeID            int32   `json:"plan_node_id"`
	TotalTime             string  `json:"total_time"`
	TimePercentage        float64 `json:"time_percentage"`
	IsMostConsuming       bool    `json:"is_most_consuming"`
	IsSecondMostConsuming bool    `json:"is_second_most_consuming"`
}

// SlowOperator is one physical operator ranked by its own total time.
type SlowOperator struct {
	OperatorName   string        `json:"operator_name"`
	FragmentID     string        `json:"fragment_id"`
	PipelineID     string        `json:"pipeline_id"`
	TotalTime      time.Duration `json:"total_time"`
	TimePercentage float64       `json:"time_percentage"`
}

// AnalysisResult is everything the analyzer derives from one profile.
type AnalysisResult struct {
	ID               string         `json:"id"`
	ExecutionTree    *ExecutionTree `json:"execution_tree,omitempty"`
	Summary          *Summary       `json:"summary,omitempty"`
	Hotspots         []HotSpot      `json:"hotspots"`
	Conclusion       string         `json:"conclusion"`
	Suggestions      []string       `json:"suggestions"`
	PerformanceScore float64        `json:"performance_score"`
	TopNodes         []TopNode      `json:"top_nodes,omitempty"`
	SlowestOperators []SlowOperator `json:"slowest_operators,omitempty"`
	Warnings         []string       `json:"warnings,omitempty"`
	Profile          *Profile       `json:"-"`
}
