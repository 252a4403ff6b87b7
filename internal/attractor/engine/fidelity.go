package engine

import (
	"strings"

	"github.com/danshapiro/attractor/internal/attractor/model"
)

// resolveFidelity picks the fidelity policy for a node's materialized
// context view: incoming edge attr, then node attr, then the graph
// default, then full (identity).
func resolveFidelity(g *model.Graph, incoming *model.Edge, n *model.Node) string {
	if incoming != nil {
		if f := strings.TrimSpace(incoming.Fidelity()); f != "" {
			return f
		}
	}
	if n != nil {
		if f := strings.TrimSpace(n.Attr("fidelity", "")); f != "" {
			return f
		}
	}
	if g != nil {
		if f := strings.TrimSpace(g.Attrs["default_fidelity"]); f != "" {
			return f
		}
	}
	return "full"
}
