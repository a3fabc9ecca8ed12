package parser

import "errors"

var (
	// ErrSectionNotFound reports a missing Summary, Planner or Execution block.
	ErrSectionNotFound = errors.New("section not found")
	// ErrTopology reports a malformed, dangling or cyclic topology graph.
	ErrTopology = errors.New("topology error")
	// ErrOperator reports an operator header that could not be decoded.
	ErrOperator = errors.New("operator error")
	// ErrTree reports an execution tree that cannot be assembled.
	ErrTree = errors.New("tree error")
)
