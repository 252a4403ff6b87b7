package engine

import (
	"testing"

	"github.com/danshapiro/attractor/internal/attractor/dot"
	"github.com/danshapiro/attractor/internal/attractor/runtime"
)

func TestSelectNextEdge_SuggestedNextIDsWin(t *testing.T) {
	g, err := dot.Parse([]byte(`
digraph G {
  a -> b [weight=100]
  a -> c [weight=0]
}
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	out := runtime.Outcome{Status: runtime.StatusSuccess, SuggestedNextIDs: []string{"c"}}
	e, err := selectNextEdge(g, "a", out, runtime.NewContext())
	if err != nil {
		t.Fatalf("selectNextEdge: %v", err)
	}
	if e == nil || e.To != "c" {
		t.Fatalf("got %+v want to=c", e)
	}
}

func TestSelectNextEdge_PreferredLabelMatchesAccelerator(t *testing.T) {
	g, err := dot.Parse([]byte(`
digraph G {
  a -> b [label="[A] Approve"]
  a -> c [label="[R] Reject", weight=50]
}
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	out := runtime.Outcome{Status: runtime.StatusSuccess, PreferredLabel: "approve"}
	e, err := selectNextEdge(g, "a", out, runtime.NewContext())
	if err != nil {
		t.Fatalf("selectNextEdge: %v", err)
	}
	if e == nil || e.To != "b" {
		t.Fatalf("got %+v want to=b", e)
	}
}

func TestSelectNextEdge_ConditionScanInDeclarationOrder(t *testing.T) {
	g, err := dot.Parse([]byte(`
digraph G {
  a -> b [condition="outcome=fail"]
  a -> c [condition="outcome=success"]
  a -> d
}
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	out := runtime.Outcome{Status: runtime.StatusSuccess}
	e, err := selectNextEdge(g, "a", out, runtime.NewContext())
	if err != nil {
		t.Fatalf("selectNextEdge: %v", err)
	}
	if e == nil || e.To != "c" {
		t.Fatalf("got %+v want to=c", e)
	}

	out.Status = runtime.StatusRetry
	e, err = selectNextEdge(g, "a", out, runtime.NewContext())
	if err != nil {
		t.Fatalf("selectNextEdge: %v", err)
	}
	if e == nil || e.To != "d" {
		t.Fatalf("unconditional fallback: got %+v want to=d", e)
	}
}

func TestSelectNextEdge_WeightOrdersTheScan(t *testing.T) {
	g, err := dot.Parse([]byte(`
digraph G {
  a -> b [weight=1]
  a -> c [weight=10]
}
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	out := runtime.Outcome{Status: runtime.StatusSuccess}
	e, err := selectNextEdge(g, "a", out, runtime.NewContext())
	if err != nil {
		t.Fatalf("selectNextEdge: %v", err)
	}
	if e == nil || e.To != "c" {
		t.Fatalf("heaviest first: got %+v want to=c", e)
	}
}

func TestSelectNextEdge_NoMatchReturnsNil(t *testing.T) {
	g, err := dot.Parse([]byte(`
digraph G {
  a -> b [condition="outcome=success"]
}
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	out := runtime.Outcome{Status: runtime.StatusFail, FailureReason: "boom"}
	e, err := selectNextEdge(g, "a", out, runtime.NewContext())
	if err != nil {
		t.Fatalf("selectNextEdge: %v", err)
	}
	if e != nil {
		t.Fatalf("want nil, got %+v", e)
	}
}

func TestSelectNextEdge_ContextCondition(t *testing.T) {
	g, err := dot.Parse([]byte(`
digraph G {
  a -> b [condition="context.approved=yes"]
  a -> c
}
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	ctx := runtime.NewContext()
	ctx.Set("approved", "yes")
	out := runtime.Outcome{Status: runtime.StatusSuccess}
	e, err := selectNextEdge(g, "a", out, ctx)
	if err != nil {
		t.Fatalf("selectNextEdge: %v", err)
	}
	if e == nil || e.To != "b" {
		t.Fatalf("got %+v want to=b", e)
	}
}

func TestResolveRetryTarget(t *testing.T) {
	g, err := dot.Parse([]byte(`
digraph G {
  retry_target = "plan"
  plan [shape=box]
  gate [shape=box, goal_gate=true, retry_target=fix]
  fix  [shape=box]
  other [shape=box, goal_gate=true]
  plan -> gate
  gate -> fix
  fix -> other
}
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got := resolveRetryTarget(g, "gate"); got != "fix" {
		t.Fatalf("node target: got %q", got)
	}
	if got := resolveRetryTarget(g, "other"); got != "plan" {
		t.Fatalf("graph fallback: got %q", got)
	}
}
