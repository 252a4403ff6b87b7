package model

import "testing"

func TestRole_ShapeMapping(t *testing.T) {
	cases := map[string]string{
		"Mdiamond":      RoleStart,
		"circle":        RoleStart,
		"Msquare":       RoleExit,
		"doublecircle":  RoleExit,
		"box":           RoleLLM,
		"parallelogram": RoleTool,
		"hexagon":       RoleHumanGate,
		"diamond":       RoleConditional,
		"component":     RoleFanOut,
		"tripleoctagon": RoleFanIn,
		"house":         RoleManager,
		"trapezium":     RoleLLM, // unknown shape defaults to llm
	}
	for shape, want := range cases {
		n := NewNode("n")
		n.Attrs["shape"] = shape
		if got := n.Role(); got != want {
			t.Fatalf("shape %q: got %q want %q", shape, got, want)
		}
	}
}

func TestRole_TypeOverrideWins(t *testing.T) {
	n := NewNode("n")
	n.Attrs["shape"] = "box"
	n.Attrs["type"] = RoleTool
	if got := n.Role(); got != RoleTool {
		t.Fatalf("type override: got %q", got)
	}
}

func TestRole_ConventionalIDs(t *testing.T) {
	start := NewNode("start")
	if start.Role() != RoleStart {
		t.Fatalf("bare start id: got %q", start.Role())
	}
	exit := NewNode("exit")
	if exit.Role() != RoleExit {
		t.Fatalf("bare exit id: got %q", exit.Role())
	}
	// An explicit shape beats the id convention.
	shaped := NewNode("start")
	shaped.Attrs["shape"] = "box"
	if shaped.Role() != RoleLLM {
		t.Fatalf("shaped start id: got %q", shaped.Role())
	}
}

func TestIsGoalGate(t *testing.T) {
	n := NewNode("gate")
	if n.IsGoalGate() {
		t.Fatal("no marker, not a gate")
	}
	n.Attrs["goal_gate"] = "true"
	if !n.IsGoalGate() {
		t.Fatal("goal_gate=true should mark the gate")
	}
}

func TestGraph_DuplicateDeclarationAndImplicitNodes(t *testing.T) {
	g := NewGraph("G")
	if err := g.AddEdge(NewEdge("a", "b")); err != nil {
		t.Fatalf("AddEdge: %v", err)
	}
	// b exists implicitly; declaring it once attaches attrs.
	b := NewNode("b")
	b.Attrs["shape"] = "Msquare"
	if err := g.AddNode(b); err != nil {
		t.Fatalf("declare implicit node: %v", err)
	}
	if g.Nodes["b"].Shape() != "Msquare" {
		t.Fatal("declaration attrs did not merge onto implicit node")
	}
	if err := g.AddNode(NewNode("b")); err == nil {
		t.Fatal("second declaration must fail")
	}
}

func TestGraph_OutgoingDeclarationOrder(t *testing.T) {
	g := NewGraph("G")
	_ = g.AddEdge(NewEdge("a", "x"))
	_ = g.AddEdge(NewEdge("a", "y"))
	_ = g.AddEdge(NewEdge("b", "z"))
	out := g.Outgoing("a")
	if len(out) != 2 || out[0].To != "x" || out[1].To != "y" {
		t.Fatalf("outgoing order: %v", out)
	}
}
