package dot

import (
	"strings"
	"testing"
)

func TestParse_NodesEdgesAndGraphAttrs(t *testing.T) {
	g, err := Parse([]byte(`
digraph Pipeline {
  goal = "ship the feature"
  start [shape=Mdiamond]
  plan  [shape=box, label="Plan the work", max_retries=2]
  done  [shape=Msquare]
  start -> plan
  plan -> done [condition="outcome=success", weight=10]
}
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if g.Name != "Pipeline" {
		t.Fatalf("name: got %q", g.Name)
	}
	if got := g.Attrs["goal"]; got != "ship the feature" {
		t.Fatalf("goal attr: got %q", got)
	}
	if len(g.Nodes) != 3 {
		t.Fatalf("nodes: got %d want 3", len(g.Nodes))
	}
	plan := g.Nodes["plan"]
	if plan == nil || plan.Label() != "Plan the work" || plan.AttrInt("max_retries", 0) != 2 {
		t.Fatalf("plan node attrs: %+v", plan)
	}
	if len(g.Edges) != 2 {
		t.Fatalf("edges: got %d want 2", len(g.Edges))
	}
	e := g.Edges[1]
	if e.From != "plan" || e.To != "done" {
		t.Fatalf("edge endpoints: %s -> %s", e.From, e.To)
	}
	if e.Condition() != "outcome=success" || e.Weight() != 10 {
		t.Fatalf("edge attrs: condition=%q weight=%v", e.Condition(), e.Weight())
	}
}

func TestParse_EdgeChainExpansion(t *testing.T) {
	g, err := Parse([]byte(`
digraph G {
  a -> b -> c [weight=3]
}
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(g.Edges) != 2 {
		t.Fatalf("edges: got %d want 2", len(g.Edges))
	}
	for _, e := range g.Edges {
		if e.Weight() != 3 {
			t.Fatalf("chain edge %s->%s missing shared attrs", e.From, e.To)
		}
	}
	if g.Edges[0].From != "a" || g.Edges[0].To != "b" || g.Edges[1].From != "b" || g.Edges[1].To != "c" {
		t.Fatalf("chain order: %v", g.Edges)
	}
}

func TestParse_CommentsStripped(t *testing.T) {
	g, err := Parse([]byte(`
// line comment
digraph G {
  # hash comment
  a [label="keep // this"] /* block
     comment */
  a -> b
}
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got := g.Nodes["a"].Label(); got != "keep // this" {
		t.Fatalf("comment marker inside string was stripped: %q", got)
	}
	if len(g.Edges) != 1 {
		t.Fatalf("edges: got %d", len(g.Edges))
	}
}

func TestParse_NodeAndEdgeDefaults(t *testing.T) {
	g, err := Parse([]byte(`
digraph G {
  node [shape=box, auto_status=false]
  edge [fidelity="truncate:100"]
  a
  b [auto_status=true]
  a -> b
}
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if g.Nodes["a"].Shape() != "box" || g.Nodes["a"].AttrBool("auto_status", true) {
		t.Fatalf("node defaults not applied: %+v", g.Nodes["a"].Attrs)
	}
	if !g.Nodes["b"].AttrBool("auto_status", false) {
		t.Fatalf("explicit attr should override default")
	}
	if g.Edges[0].Fidelity() != "truncate:100" {
		t.Fatalf("edge defaults not applied: %q", g.Edges[0].Fidelity())
	}
}

func TestParse_SubgraphLabelBecomesClass(t *testing.T) {
	g, err := Parse([]byte(`
digraph G {
  subgraph cluster_review {
    label = "Code Review"
    r1 [shape=box]
    r2 [shape=box]
  }
  r1 -> r2
}
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	for _, id := range []string{"r1", "r2"} {
		n := g.Nodes[id]
		found := false
		for _, c := range n.Classes {
			if c == "code-review" {
				found = true
			}
		}
		if !found {
			t.Fatalf("node %s classes: %v", id, n.Classes)
		}
	}
}

func TestParse_DuplicateNodeIDRejected(t *testing.T) {
	_, err := Parse([]byte(`
digraph G {
  a [shape=box]
  a [shape=parallelogram]
}
`))
	if err == nil || !strings.Contains(err.Error(), "duplicate node id") {
		t.Fatalf("want duplicate node error, got %v", err)
	}
}

func TestParse_DeclarationAfterEdgeEndpointAllowed(t *testing.T) {
	g, err := Parse([]byte(`
digraph G {
  a -> b
  b [shape=Msquare]
}
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if g.Nodes["b"].Shape() != "Msquare" {
		t.Fatalf("late declaration attrs lost: %+v", g.Nodes["b"].Attrs)
	}
}

func TestParse_DottedAttrKeys(t *testing.T) {
	g, err := Parse([]byte(`
digraph G {
  a [retry.backoff.initial_delay_ms=500, retry.backoff.jitter=true]
}
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got := g.Nodes["a"].Attr("retry.backoff.initial_delay_ms", ""); got != "500" {
		t.Fatalf("dotted key: got %q", got)
	}
}

func TestParse_UnquotedValueJoins(t *testing.T) {
	g, err := Parse([]byte(`
digraph G {
  a [fidelity=truncate:200, timeout=5m]
}
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got := g.Nodes["a"].Attr("fidelity", ""); got != "truncate:200" {
		t.Fatalf("unquoted value: got %q", got)
	}
	if got := g.Nodes["a"].Attr("timeout", ""); got != "5m" {
		t.Fatalf("unquoted value: got %q", got)
	}
}

func TestParse_TrailingTokensRejected(t *testing.T) {
	_, err := Parse([]byte(`digraph G { a -> b } digraph H { c -> d }`))
	if err == nil {
		t.Fatal("want error for trailing tokens")
	}
}

func TestParse_StringEscapes(t *testing.T) {
	g, err := Parse([]byte(`
digraph G {
  a [label="line one\nline \"two\""]
}
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := "line one\nline \"two\""
	if got := g.Nodes["a"].Label(); got != want {
		t.Fatalf("escapes: got %q want %q", got, want)
	}
}
