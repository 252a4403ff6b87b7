package engine

import (
	"sort"
	"strings"

	"github.com/danshapiro/attractor/internal/attractor/cond"
	"github.com/danshapiro/attractor/internal/attractor/model"
	"github.com/danshapiro/attractor/internal/attractor/runtime"
)

// selectNextEdge picks the outgoing edge to follow after a node
// completes:
//
//  1. a stage that names its successors wins: the first edge whose
//     target is in suggested_next_ids, then the edge whose label matches
//     preferred_label (gate selections route this way);
//  2. otherwise edges are scanned in declaration order (weighted edges
//     sort ahead, heaviest first) and the first edge whose condition
//     matches the outcome/context, or which is unconditional, is taken.
//
// A nil return from a non-exit node is a routing error the caller
// escalates.
func selectNextEdge(g *model.Graph, from string, out runtime.Outcome, ctx *runtime.Context) (*model.Edge, error) {
	edges := g.Outgoing(from)
	if len(edges) == 0 {
		return nil, nil
	}

	for _, want := range out.SuggestedNextIDs {
		for _, e := range edges {
			if e.To == want {
				return e, nil
			}
		}
	}

	if want := normalizeLabel(out.PreferredLabel); want != "" {
		for _, e := range edges {
			if normalizeLabel(e.Label()) == want {
				return e, nil
			}
		}
	}

	scan := append([]*model.Edge(nil), edges...)
	sort.SliceStable(scan, func(i, j int) bool { return scan[i].Weight() > scan[j].Weight() })
	for _, e := range scan {
		c := strings.TrimSpace(e.Condition())
		if c == "" {
			return e, nil
		}
		ok, err := cond.Evaluate(c, out, ctx)
		if err != nil {
			return nil, err
		}
		if ok {
			return e, nil
		}
	}
	return nil, nil
}

// normalizeLabel strips an "[A] " accelerator prefix and lowercases, so
// a preferred label "Approve" matches the edge label "[A] Approve".
func normalizeLabel(label string) string {
	label = strings.TrimSpace(label)
	if rest, _, ok := cutAccelerator(label); ok {
		label = rest
	}
	return strings.ToLower(strings.TrimSpace(label))
}

// resolveRetryTarget finds where an unsatisfied goal gate or exhausted
// node should jump: node retry_target, node fallback_retry_target, then
// the graph-level equivalents.
func resolveRetryTarget(g *model.Graph, nodeID string) string {
	n := g.Nodes[nodeID]
	if n != nil {
		if t := strings.TrimSpace(n.Attr("retry_target", "")); t != "" {
			return t
		}
		if t := strings.TrimSpace(n.Attr("fallback_retry_target", "")); t != "" {
			return t
		}
	}
	if t := strings.TrimSpace(g.Attrs["retry_target"]); t != "" {
		return t
	}
	return strings.TrimSpace(g.Attrs["fallback_retry_target"])
}
