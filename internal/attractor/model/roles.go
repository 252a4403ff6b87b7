package model

import "strings"

// Node roles, derived from the DOT shape marker (or an explicit type
// attribute override). Each role has its own execution strategy.
const (
	RoleStart       = "start"
	RoleExit        = "exit"
	RoleLLM         = "llm"
	RoleTool        = "tool"
	RoleHumanGate   = "human_gate"
	RoleConditional = "conditional"
	RoleFanOut      = "parallel.fan_out"
	RoleFanIn       = "parallel.fan_in"
	RoleManager     = "manager"
)

// roleForShape maps DOT shapes to roles. Unknown shapes and the default
// (shapeless) node resolve to the LLM role.
func roleForShape(shape string) string {
	switch shape {
	case "Mdiamond", "circle":
		return RoleStart
	case "Msquare", "doublecircle":
		return RoleExit
	case "box", "":
		return RoleLLM
	case "parallelogram":
		return RoleTool
	case "hexagon":
		return RoleHumanGate
	case "diamond":
		return RoleConditional
	case "component":
		return RoleFanOut
	case "tripleoctagon":
		return RoleFanIn
	case "house":
		return RoleManager
	}
	return RoleLLM
}

// Role resolves the node's role: explicit type attribute first, then the
// shape marker, then the conventional start/exit ids.
func (n *Node) Role() string {
	if t := strings.TrimSpace(n.TypeOverride()); t != "" {
		return t
	}
	if n.Shape() == "" {
		switch {
		case strings.EqualFold(n.ID, "start"):
			return RoleStart
		case strings.EqualFold(n.ID, "exit"), strings.EqualFold(n.ID, "end"):
			return RoleExit
		}
	}
	return roleForShape(n.Shape())
}

// IsGoalGate reports whether the node carries the goal_gate marker. Goal
// gating composes with any role.
func (n *Node) IsGoalGate() bool {
	return n.AttrBool("goal_gate", false)
}

// KnownRole reports whether a type override names a role the engine can
// execute.
func KnownRole(role string) bool {
	switch role {
	case RoleStart, RoleExit, RoleLLM, RoleTool, RoleHumanGate,
		RoleConditional, RoleFanOut, RoleFanIn, RoleManager:
		return true
	}
	return false
}
