// Package validate runs the structural lint rules a pipeline graph must
// pass before execution, and classifies valid pipelines.
package validate

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/danshapiro/attractor/internal/attractor/cond"
	"github.com/danshapiro/attractor/internal/attractor/model"
	"github.com/danshapiro/attractor/internal/attractor/runtime"
)

type Severity string

const (
	SeverityError   Severity = "ERROR"
	SeverityWarning Severity = "WARNING"
	SeverityInfo    Severity = "INFO"
)

type Diagnostic struct {
	Rule     string   `json:"rule"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
	NodeID   string   `json:"node_id,omitempty"`
	EdgeFrom string   `json:"edge_from,omitempty"`
	EdgeTo   string   `json:"edge_to,omitempty"`
	Fix      string   `json:"fix,omitempty"`
}

// LintRule is the interface for custom rules appended after the built-in
// sequence.
type LintRule interface {
	Name() string
	Apply(g *model.Graph) []Diagnostic
}

// Validate runs the built-in rule sequence and any extra rules. Rules
// accumulate every violation in their category; ordering is deterministic.
func Validate(g *model.Graph, extraRules ...LintRule) []Diagnostic {
	if g == nil {
		return []Diagnostic{{Rule: "graph_nil", Severity: SeverityError, Message: "graph is nil"}}
	}
	var diags []Diagnostic
	diags = append(diags, lintStartNode(g)...)
	diags = append(diags, lintExitNode(g)...)
	diags = append(diags, lintStartNoIncoming(g)...)
	diags = append(diags, lintExitNoOutgoing(g)...)
	diags = append(diags, lintReachability(g)...)
	diags = append(diags, lintPathToExit(g)...)
	diags = append(diags, lintKnownTypeOverrides(g)...)
	diags = append(diags, lintConditionSyntax(g)...)
	diags = append(diags, lintFidelityValid(g)...)
	diags = append(diags, lintToolCommandRequired(g)...)
	diags = append(diags, lintNumericBounds(g)...)
	diags = append(diags, lintRetryTargetsExist(g)...)
	diags = append(diags, lintGoalGateHasRetry(g)...)
	diags = append(diags, lintAllConditionalEdges(g)...)
	diags = append(diags, lintClassificationAdvisory(g)...)

	for _, rule := range extraRules {
		if rule != nil {
			diags = append(diags, rule.Apply(g)...)
		}
	}
	return diags
}

// ValidateOrError joins every ERROR diagnostic into a single validation
// error, or returns nil when the graph is structurally sound.
func ValidateOrError(g *model.Graph, extraRules ...LintRule) error {
	var errs []string
	for _, d := range Validate(g, extraRules...) {
		if d.Severity == SeverityError {
			errs = append(errs, d.Rule+": "+d.Message)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Classification tags (advisory, never blocks execution).
const (
	ClassPlanning = "PLANNING"
	ClassHybrid   = "HYBRID"
)

// Classify tags a pipeline PLANNING when it has no tool-role nodes, and
// HYBRID when LLM and tool stages mix.
func Classify(g *model.Graph) string {
	for _, n := range g.Nodes {
		if n != nil && n.Role() == model.RoleTool {
			return ClassHybrid
		}
	}
	return ClassPlanning
}

func sortedNodeIDs(g *model.Graph, keep func(*model.Node) bool) []string {
	var ids []string
	for id, n := range g.Nodes {
		if n == nil {
			continue
		}
		if keep == nil || keep(n) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

func lintStartNode(g *model.Graph) []Diagnostic {
	ids := sortedNodeIDs(g, func(n *model.Node) bool { return n.Role() == model.RoleStart })
	if len(ids) != 1 {
		return []Diagnostic{{
			Rule:     "start_node",
			Severity: SeverityError,
			Message:  fmt.Sprintf("pipeline must have exactly one start node (shape=Mdiamond); found %d: %v", len(ids), ids),
			Fix:      "declare exactly one node with shape=Mdiamond",
		}}
	}
	return nil
}

func lintExitNode(g *model.Graph) []Diagnostic {
	ids := sortedNodeIDs(g, func(n *model.Node) bool { return n.Role() == model.RoleExit })
	switch len(ids) {
	case 1:
		return nil
	case 0:
		return []Diagnostic{{
			Rule:     "exit_node",
			Severity: SeverityError,
			Message:  "missing exit node (shape=Msquare)",
			Fix:      "declare exactly one node with shape=Msquare",
		}}
	default:
		return []Diagnostic{{
			Rule:     "exit_node",
			Severity: SeverityError,
			Message:  fmt.Sprintf("pipeline must have exactly one exit node (shape=Msquare); found %d: %v", len(ids), ids),
		}}
	}
}

// FindStartNodeID returns the single start node id, or "" when the rule
// does not hold.
func FindStartNodeID(g *model.Graph) string {
	ids := sortedNodeIDs(g, func(n *model.Node) bool { return n.Role() == model.RoleStart })
	if len(ids) == 1 {
		return ids[0]
	}
	return ""
}

// FindExitNodeID returns the single exit node id, or "" when absent.
func FindExitNodeID(g *model.Graph) string {
	ids := sortedNodeIDs(g, func(n *model.Node) bool { return n.Role() == model.RoleExit })
	if len(ids) == 1 {
		return ids[0]
	}
	return ""
}

func lintStartNoIncoming(g *model.Graph) []Diagnostic {
	start := FindStartNodeID(g)
	if start == "" {
		return nil
	}
	if len(g.Incoming(start)) > 0 {
		return []Diagnostic{{
			Rule:     "start_no_incoming",
			Severity: SeverityError,
			Message:  "start node must have no incoming edges",
			NodeID:   start,
		}}
	}
	return nil
}

func lintExitNoOutgoing(g *model.Graph) []Diagnostic {
	var diags []Diagnostic
	for _, id := range sortedNodeIDs(g, func(n *model.Node) bool { return n.Role() == model.RoleExit }) {
		if len(g.Outgoing(id)) > 0 {
			diags = append(diags, Diagnostic{
				Rule:     "exit_no_outgoing",
				Severity: SeverityError,
				Message:  "exit node must have no outgoing edges",
				NodeID:   id,
			})
		}
	}
	return diags
}

func lintReachability(g *model.Graph) []Diagnostic {
	start := FindStartNodeID(g)
	if start == "" {
		return nil
	}
	reached := forwardReachable(g, start)
	var diags []Diagnostic
	for _, id := range sortedNodeIDs(g, nil) {
		if !reached[id] {
			diags = append(diags, Diagnostic{
				Rule:     "reachability",
				Severity: SeverityError,
				Message:  "node is not reachable from start (orphan)",
				NodeID:   id,
			})
		}
	}
	return diags
}

func lintPathToExit(g *model.Graph) []Diagnostic {
	exit := FindExitNodeID(g)
	if exit == "" {
		return nil
	}
	// Reverse BFS from the exit node.
	canReach := map[string]bool{exit: true}
	queue := []string{exit}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, e := range g.Incoming(cur) {
			if !canReach[e.From] {
				canReach[e.From] = true
				queue = append(queue, e.From)
			}
		}
	}
	var diags []Diagnostic
	for _, id := range sortedNodeIDs(g, nil) {
		if !canReach[id] {
			diags = append(diags, Diagnostic{
				Rule:     "path_to_exit",
				Severity: SeverityError,
				Message:  "node has no path to the exit node (Msquare); dead end cannot reach the terminal",
				NodeID:   id,
			})
		}
	}
	return diags
}

func forwardReachable(g *model.Graph, start string) map[string]bool {
	reached := map[string]bool{start: true}
	queue := []string{start}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, e := range g.Outgoing(cur) {
			if !reached[e.To] {
				reached[e.To] = true
				queue = append(queue, e.To)
			}
		}
	}
	return reached
}

func lintKnownTypeOverrides(g *model.Graph) []Diagnostic {
	var diags []Diagnostic
	for _, id := range sortedNodeIDs(g, nil) {
		n := g.Nodes[id]
		t := strings.TrimSpace(n.TypeOverride())
		if t == "" {
			continue
		}
		if !model.KnownRole(t) {
			diags = append(diags, Diagnostic{
				Rule:     "type_known",
				Severity: SeverityError,
				Message:  fmt.Sprintf("unknown node type %q", t),
				NodeID:   id,
			})
		}
	}
	return diags
}

func lintConditionSyntax(g *model.Graph) []Diagnostic {
	var diags []Diagnostic
	for _, e := range g.Edges {
		c := strings.TrimSpace(e.Condition())
		if c == "" {
			continue
		}
		if _, err := cond.Parse(c); err != nil {
			diags = append(diags, Diagnostic{
				Rule:     "condition_syntax",
				Severity: SeverityError,
				Message:  err.Error(),
				EdgeFrom: e.From,
				EdgeTo:   e.To,
			})
		}
	}
	return diags
}

func lintFidelityValid(g *model.Graph) []Diagnostic {
	var diags []Diagnostic
	for _, id := range sortedNodeIDs(g, nil) {
		f := strings.TrimSpace(g.Nodes[id].Attr("fidelity", ""))
		if f != "" && !runtime.ValidFidelity(f) {
			diags = append(diags, Diagnostic{
				Rule:     "fidelity_valid",
				Severity: SeverityWarning,
				Message:  fmt.Sprintf("invalid fidelity value %q", f),
				NodeID:   id,
			})
		}
	}
	for _, e := range g.Edges {
		f := strings.TrimSpace(e.Fidelity())
		if f != "" && !runtime.ValidFidelity(f) {
			diags = append(diags, Diagnostic{
				Rule:     "fidelity_valid",
				Severity: SeverityWarning,
				Message:  fmt.Sprintf("invalid fidelity value %q", f),
				EdgeFrom: e.From,
				EdgeTo:   e.To,
			})
		}
	}
	return diags
}

func lintToolCommandRequired(g *model.Graph) []Diagnostic {
	var diags []Diagnostic
	for _, id := range sortedNodeIDs(g, func(n *model.Node) bool { return n.Role() == model.RoleTool }) {
		n := g.Nodes[id]
		if strings.TrimSpace(n.Attr("tool_command", "")) == "" {
			diags = append(diags, Diagnostic{
				Rule:     "tool_command_required",
				Severity: SeverityError,
				Message:  "tool node missing tool_command",
				NodeID:   id,
				Fix:      "set tool_command=\"<shell command>\" on the node",
			})
		}
	}
	return diags
}

// lintNumericBounds rejects malformed retry/visit/cycle bounds before the
// engine can misread them.
func lintNumericBounds(g *model.Graph) []Diagnostic {
	var diags []Diagnostic
	keys := []string{"max_retries", "max_visits", "max_cycles"}
	for _, id := range sortedNodeIDs(g, nil) {
		n := g.Nodes[id]
		for _, k := range keys {
			v := strings.TrimSpace(n.Attr(k, ""))
			if v == "" {
				continue
			}
			i, err := strconv.Atoi(v)
			if err != nil || i < 0 {
				diags = append(diags, Diagnostic{
					Rule:     "numeric_bounds",
					Severity: SeverityError,
					Message:  fmt.Sprintf("%s must be a non-negative integer, got %q", k, v),
					NodeID:   id,
				})
			}
		}
	}
	return diags
}

func lintRetryTargetsExist(g *model.Graph) []Diagnostic {
	var diags []Diagnostic
	for _, id := range sortedNodeIDs(g, nil) {
		n := g.Nodes[id]
		for _, k := range []string{"retry_target", "fallback_retry_target"} {
			t := strings.TrimSpace(n.Attr(k, ""))
			if t == "" {
				continue
			}
			if _, ok := g.Nodes[t]; !ok {
				diags = append(diags, Diagnostic{
					Rule:     "retry_target_exists",
					Severity: SeverityWarning,
					Message:  fmt.Sprintf("%s references missing node %q", k, t),
					NodeID:   id,
				})
			}
		}
	}
	return diags
}

func lintGoalGateHasRetry(g *model.Graph) []Diagnostic {
	var diags []Diagnostic
	graphHasTarget := strings.TrimSpace(g.Attrs["retry_target"]) != "" ||
		strings.TrimSpace(g.Attrs["fallback_retry_target"]) != ""
	for _, id := range sortedNodeIDs(g, func(n *model.Node) bool { return n.IsGoalGate() }) {
		n := g.Nodes[id]
		hasTarget := strings.TrimSpace(n.Attr("retry_target", "")) != "" ||
			strings.TrimSpace(n.Attr("fallback_retry_target", "")) != ""
		if !hasTarget && !graphHasTarget {
			diags = append(diags, Diagnostic{
				Rule:     "goal_gate_retry",
				Severity: SeverityWarning,
				Message:  "goal_gate node has no retry_target/fallback_retry_target (node or graph); an unsatisfied gate will fail the run",
				NodeID:   id,
			})
		}
	}
	return diags
}

// lintAllConditionalEdges warns when every outgoing edge is conditional;
// if no condition matches at runtime the run halts with a routing error.
func lintAllConditionalEdges(g *model.Graph) []Diagnostic {
	var diags []Diagnostic
	for _, id := range sortedNodeIDs(g, func(n *model.Node) bool { return n.Role() != model.RoleExit }) {
		edges := g.Outgoing(id)
		if len(edges) == 0 {
			continue
		}
		all := true
		for _, e := range edges {
			if strings.TrimSpace(e.Condition()) == "" {
				all = false
				break
			}
		}
		if all {
			diags = append(diags, Diagnostic{
				Rule:     "all_conditional_edges",
				Severity: SeverityWarning,
				Message:  "every outgoing edge is conditional; add an unconditional fallback edge",
				NodeID:   id,
			})
		}
	}
	return diags
}

// lintClassificationAdvisory surfaces the PLANNING tag as a non-fatal
// advisory; classification never blocks execution.
func lintClassificationAdvisory(g *model.Graph) []Diagnostic {
	if Classify(g) == ClassPlanning {
		return []Diagnostic{{
			Rule:     "classification",
			Severity: SeverityInfo,
			Message:  "pipeline has no tool nodes; classified PLANNING (LLM-only)",
		}}
	}
	return nil
}
