package engine

import "fmt"

// ExecutionError reports a node whose action failed irrecoverably after
// exhausting retries, timed out, or could not be routed onward.
type ExecutionError struct {
	NodeID string
	Reason string
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execution failed at node %q: %s", e.NodeID, e.Reason)
}

// GateUnsatisfiedError reports a goal gate whose condition was not met by
// the latest relevant node outcome.
type GateUnsatisfiedError struct {
	NodeID string
	Goal   string
}

func (e *GateUnsatisfiedError) Error() string {
	if e.Goal != "" {
		return fmt.Sprintf("goal gate unsatisfied at node %q: goal %q not met", e.NodeID, e.Goal)
	}
	return fmt.Sprintf("goal gate unsatisfied at node %q", e.NodeID)
}

// LoopBoundExceeded reports a loop guard tripping: max_visits on a node
// or max_cycles on a manager loop, without a stop signal.
type LoopBoundExceeded struct {
	NodeID string
	Bound  string // "max_visits" or "max_cycles"
	Limit  int
}

func (e *LoopBoundExceeded) Error() string {
	return fmt.Sprintf("node %q exceeded %s=%d", e.NodeID, e.Bound, e.Limit)
}
