// Package model defines the typed pipeline graph produced by the DOT
// loader and consumed by the validator and engine. Graphs are immutable
// once parsed; the engine never mutates nodes or edges during a run.
package model

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Graph is a directed pipeline graph: uniquely-identified nodes, directed
// edges in declaration order, and graph-level attributes.
type Graph struct {
	Name  string
	Attrs map[string]string
	Nodes map[string]*Node
	Edges []*Edge

	declared map[string]bool // ids that appeared as explicit node statements
}

func NewGraph(name string) *Graph {
	return &Graph{
		Name:     name,
		Attrs:    map[string]string{},
		Nodes:    map[string]*Node{},
		declared: map[string]bool{},
	}
}

// AddNode registers an explicit node statement. Declaring the same id
// twice is an error; a node first seen as an edge endpoint may still be
// declared once afterwards (its attributes land on the implicit node).
func (g *Graph) AddNode(n *Node) error {
	if n == nil || strings.TrimSpace(n.ID) == "" {
		return fmt.Errorf("node id must not be empty")
	}
	if g.declared[n.ID] {
		return fmt.Errorf("duplicate node id %q", n.ID)
	}
	g.declared[n.ID] = true
	if existing, ok := g.Nodes[n.ID]; ok {
		for k, v := range n.Attrs {
			existing.Attrs[k] = v
		}
		existing.Classes = append(existing.Classes, n.Classes...)
		return nil
	}
	g.Nodes[n.ID] = n
	return nil
}

// AddEdge appends a directed edge. Endpoints that were never declared as
// node statements are materialized as bare nodes, matching DOT.
func (g *Graph) AddEdge(e *Edge) error {
	if e == nil {
		return fmt.Errorf("edge must not be nil")
	}
	if strings.TrimSpace(e.From) == "" || strings.TrimSpace(e.To) == "" {
		return fmt.Errorf("edge endpoints must not be empty")
	}
	for _, id := range []string{e.From, e.To} {
		if _, ok := g.Nodes[id]; !ok {
			n := NewNode(id)
			n.Order = len(g.Nodes)
			g.Nodes[id] = n
		}
	}
	e.Order = len(g.Edges)
	g.Edges = append(g.Edges, e)
	return nil
}

// Outgoing returns the edges leaving a node, in declaration order.
func (g *Graph) Outgoing(id string) []*Edge {
	var out []*Edge
	for _, e := range g.Edges {
		if e.From == id {
			out = append(out, e)
		}
	}
	return out
}

// Incoming returns the edges entering a node, in declaration order.
func (g *Graph) Incoming(id string) []*Edge {
	var in []*Edge
	for _, e := range g.Edges {
		if e.To == id {
			in = append(in, e)
		}
	}
	return in
}

// NodesInOrder returns nodes sorted by declaration order.
func (g *Graph) NodesInOrder() []*Node {
	out := make([]*Node, 0, len(g.Nodes))
	for _, n := range g.Nodes {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}

// Node is one pipeline stage. Role is derived from the shape attribute
// (or an explicit type override); everything else lives in Attrs.
type Node struct {
	ID      string
	Order   int
	Attrs   map[string]string
	Classes []string
}

func NewNode(id string) *Node {
	return &Node{ID: id, Attrs: map[string]string{}}
}

// Attr returns a node attribute, or def when absent/blank.
func (n *Node) Attr(key, def string) string {
	if n == nil {
		return def
	}
	if v, ok := n.Attrs[key]; ok && strings.TrimSpace(v) != "" {
		return v
	}
	return def
}

func (n *Node) Shape() string        { return n.Attr("shape", "") }
func (n *Node) Label() string        { return n.Attr("label", "") }
func (n *Node) TypeOverride() string { return n.Attr("type", "") }

// AttrBool interprets a node attribute as a boolean flag.
func (n *Node) AttrBool(key string, def bool) bool {
	v := strings.ToLower(strings.TrimSpace(n.Attr(key, "")))
	if v == "" {
		return def
	}
	switch v {
	case "true", "yes", "1", "on":
		return true
	case "false", "no", "0", "off":
		return false
	}
	return def
}

// AttrInt interprets a node attribute as an integer, falling back to def
// on absence or parse failure.
func (n *Node) AttrInt(key string, def int) int {
	v := strings.TrimSpace(n.Attr(key, ""))
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

// Edge is a directed transition. Condition, label, fidelity, and weight
// are attribute-backed.
type Edge struct {
	From  string
	To    string
	Order int
	Attrs map[string]string
}

func NewEdge(from, to string) *Edge {
	return &Edge{From: from, To: to, Attrs: map[string]string{}}
}

// Attr returns an edge attribute, or def when absent/blank.
func (e *Edge) Attr(key, def string) string {
	if e == nil {
		return def
	}
	if v, ok := e.Attrs[key]; ok && strings.TrimSpace(v) != "" {
		return v
	}
	return def
}

func (e *Edge) Condition() string { return e.Attr("condition", "") }
func (e *Edge) Label() string     { return e.Attr("label", "") }
func (e *Edge) Fidelity() string  { return e.Attr("fidelity", "") }

// Weight returns the edge weight used for tie-breaking, 0 when unset.
func (e *Edge) Weight() float64 {
	v := strings.TrimSpace(e.Attr("weight", ""))
	if v == "" {
		return 0
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0
	}
	return f
}
