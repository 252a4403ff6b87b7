// Package dot parses the constrained DOT digraph subset used to describe
// attractor pipelines. Parsing is a pure function from source text to the
// typed graph model; anything outside the subset is a parse error.
package dot

import (
	"fmt"
	"strings"

	"github.com/danshapiro/attractor/internal/attractor/model"
)

// Parse parses a single `digraph Name { ... }` into the graph model. It
// strips comments, flattens subgraphs, applies scoped node/edge defaults,
// expands chained edges, and derives classes from subgraph labels.
func Parse(dotSource []byte) (*model.Graph, error) {
	clean, err := stripComments(dotSource)
	if err != nil {
		return nil, err
	}
	p := &parser{lx: newLexer(clean)}
	return p.parseGraph()
}

type parser struct {
	lx   *lexer
	peek token
	has  bool
}

func (p *parser) read() error {
	if p.has {
		return nil
	}
	tok, err := p.lx.next()
	if err != nil {
		return err
	}
	p.peek = tok
	p.has = true
	return nil
}

func (p *parser) next() (token, error) {
	if err := p.read(); err != nil {
		return token{}, err
	}
	p.has = false
	return p.peek, nil
}

func (p *parser) peekIs(typ tokenType, lit string) bool {
	if err := p.read(); err != nil {
		return false
	}
	return p.peek.typ == typ && p.peek.lit == lit
}

func (p *parser) expectSymbol(sym string) error {
	tok, err := p.next()
	if err != nil {
		return err
	}
	if tok.typ != tokenSymbol || tok.lit != sym {
		return fmt.Errorf("dot parse: expected %q, got %q at %d", sym, tok.lit, tok.pos)
	}
	return nil
}

func (p *parser) parseGraph() (*model.Graph, error) {
	tok, err := p.next()
	if err != nil {
		return nil, err
	}
	if tok.typ != tokenIdent || tok.lit != "digraph" {
		return nil, fmt.Errorf("dot parse: expected \"digraph\", got %q at %d", tok.lit, tok.pos)
	}
	nameTok, err := p.next()
	if err != nil {
		return nil, err
	}
	if nameTok.typ != tokenIdent && nameTok.typ != tokenString {
		return nil, fmt.Errorf("dot parse: expected graph identifier, got %q at %d", nameTok.lit, nameTok.pos)
	}
	g := model.NewGraph(nameTok.lit)
	if err := p.expectSymbol("{"); err != nil {
		return nil, err
	}
	if err := p.parseStatements(g, newScope(nil)); err != nil {
		return nil, err
	}
	if err := p.expectSymbol("}"); err != nil {
		return nil, err
	}
	// One digraph per file: optional trailing semicolon, then EOF.
	p.skipSemicolons()
	if err := p.read(); err != nil {
		return nil, err
	}
	if p.peek.typ != tokenEOF {
		return nil, fmt.Errorf("dot parse: trailing tokens after graph end at %d", p.peek.pos)
	}
	return g, nil
}

// scope carries the DOT `node [...]` / `edge [...]` defaults that apply to
// statements in the current (sub)graph, plus the ids declared inside it so
// a subgraph label can be projected onto them as a class.
type scope struct {
	parent       *scope
	nodeDefaults map[string]string
	edgeDefaults map[string]string

	subgraphLabel string
	nodeIDs       map[string]struct{}
}

func newScope(parent *scope) *scope {
	s := &scope{
		parent:       parent,
		nodeDefaults: map[string]string{},
		edgeDefaults: map[string]string{},
		nodeIDs:      map[string]struct{}{},
	}
	if parent != nil {
		for k, v := range parent.nodeDefaults {
			s.nodeDefaults[k] = v
		}
		for k, v := range parent.edgeDefaults {
			s.edgeDefaults[k] = v
		}
	}
	return s
}

func (s *scope) recordNode(id string) {
	for cur := s; cur != nil; cur = cur.parent {
		cur.nodeIDs[id] = struct{}{}
	}
}

func (p *parser) parseStatements(g *model.Graph, sc *scope) error {
	for {
		if err := p.read(); err != nil {
			return err
		}
		switch {
		case p.peek.typ == tokenEOF:
			return fmt.Errorf("dot parse: unexpected EOF (missing '}')")
		case p.peekIs(tokenSymbol, "}"):
			return nil
		case p.peekIs(tokenSymbol, ";"):
			_, _ = p.next()
			continue
		}

		tok, err := p.next()
		if err != nil {
			return err
		}
		if tok.typ != tokenIdent && tok.typ != tokenString {
			return fmt.Errorf("dot parse: expected identifier, got %q at %d", tok.lit, tok.pos)
		}

		switch tok.lit {
		case "graph", "node", "edge":
			attrs, err := p.parseAttrBlock()
			if err != nil {
				return err
			}
			dst := g.Attrs
			switch tok.lit {
			case "node":
				dst = sc.nodeDefaults
			case "edge":
				dst = sc.edgeDefaults
			}
			for k, v := range attrs {
				dst[k] = v
			}
		case "subgraph":
			if err := p.parseSubgraph(g, sc); err != nil {
				return err
			}
		default:
			if err := p.parseNodeOrEdgeStatement(g, sc, tok); err != nil {
				return err
			}
		}
		p.skipSemicolons()
	}
}

func (p *parser) parseSubgraph(g *model.Graph, sc *scope) error {
	if err := p.read(); err != nil {
		return err
	}
	if p.peek.typ == tokenIdent {
		// optional subgraph id, ignored
		if _, err := p.next(); err != nil {
			return err
		}
	}
	if err := p.expectSymbol("{"); err != nil {
		return err
	}
	sub := newScope(sc)
	if err := p.parseStatements(g, sub); err != nil {
		return err
	}
	if err := p.expectSymbol("}"); err != nil {
		return err
	}
	applySubgraphLabelClass(g, sub)
	return nil
}

func (p *parser) parseNodeOrEdgeStatement(g *model.Graph, sc *scope, tok token) error {
	if err := p.read(); err != nil {
		return err
	}

	// key = value at statement level is a graph attribute, except a
	// subgraph label which becomes the derived class source.
	if p.peekIs(tokenSymbol, "=") {
		if _, err := p.next(); err != nil {
			return err
		}
		valTok, err := p.next()
		if err != nil {
			return err
		}
		if valTok.typ != tokenIdent && valTok.typ != tokenString {
			return fmt.Errorf("dot parse: expected value after '=', got %q at %d", valTok.lit, valTok.pos)
		}
		if sc.parent != nil && tok.lit == "label" {
			sc.subgraphLabel = valTok.lit
		} else {
			g.Attrs[tok.lit] = valTok.lit
		}
		return nil
	}

	if p.peekIs(tokenSymbol, "->") {
		return p.parseEdgeChain(g, sc, tok.lit)
	}

	// Node statement.
	attrs := map[string]string{}
	if p.peekIs(tokenSymbol, "[") {
		var err error
		attrs, err = p.parseAttrBlock()
		if err != nil {
			return err
		}
	}
	n := model.NewNode(tok.lit)
	n.Order = len(g.Nodes)
	for k, v := range sc.nodeDefaults {
		n.Attrs[k] = v
	}
	for k, v := range attrs {
		n.Attrs[k] = v
	}
	if err := g.AddNode(n); err != nil {
		return fmt.Errorf("dot parse: %w", err)
	}
	sc.recordNode(n.ID)
	return nil
}

// parseEdgeChain expands `a -> b -> c [attrs]` into pairwise edges that
// each receive the scope defaults overlaid with the explicit attrs.
func (p *parser) parseEdgeChain(g *model.Graph, sc *scope, from string) error {
	chain := []string{from}
	for {
		if _, err := p.next(); err != nil { // consume ->
			return err
		}
		toTok, err := p.next()
		if err != nil {
			return err
		}
		if toTok.typ != tokenIdent && toTok.typ != tokenString {
			return fmt.Errorf("dot parse: expected edge target identifier, got %q at %d", toTok.lit, toTok.pos)
		}
		chain = append(chain, toTok.lit)
		if !p.peekIs(tokenSymbol, "->") {
			break
		}
	}

	attrs := map[string]string{}
	if p.peekIs(tokenSymbol, "[") {
		var err error
		attrs, err = p.parseAttrBlock()
		if err != nil {
			return err
		}
	}

	for i := 0; i+1 < len(chain); i++ {
		e := model.NewEdge(chain[i], chain[i+1])
		for k, v := range sc.edgeDefaults {
			e.Attrs[k] = v
		}
		for k, v := range attrs {
			e.Attrs[k] = v
		}
		if err := g.AddEdge(e); err != nil {
			return fmt.Errorf("dot parse: %w", err)
		}
	}
	return nil
}

func (p *parser) skipSemicolons() {
	for p.peekIs(tokenSymbol, ";") {
		_, _ = p.next()
	}
}

func (p *parser) parseAttrBlock() (map[string]string, error) {
	if err := p.expectSymbol("["); err != nil {
		return nil, err
	}
	attrs := map[string]string{}
	for {
		if err := p.read(); err != nil {
			return nil, err
		}
		if p.peekIs(tokenSymbol, "]") {
			_, _ = p.next()
			return attrs, nil
		}

		key, err := p.parseQualifiedKey()
		if err != nil {
			return nil, err
		}
		if err := p.expectSymbol("="); err != nil {
			return nil, err
		}
		val, err := p.parseAttrValue()
		if err != nil {
			return nil, err
		}
		attrs[key] = val

		if p.peekIs(tokenSymbol, ",") {
			_, _ = p.next()
			continue
		}
		if p.peekIs(tokenSymbol, "]") {
			continue
		}
		if err := p.read(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("dot parse: expected ',' or ']', got %q at %d", p.peek.lit, p.peek.pos)
	}
}

// parseQualifiedKey reads an attribute key, allowing dotted segments like
// retry.backoff.initial_delay_ms.
func (p *parser) parseQualifiedKey() (string, error) {
	first, err := p.next()
	if err != nil {
		return "", err
	}
	if first.typ != tokenIdent {
		return "", fmt.Errorf("dot parse: expected identifier key, got %q at %d", first.lit, first.pos)
	}
	key := first.lit
	for p.peekIs(tokenSymbol, ".") {
		_, _ = p.next()
		part, err := p.next()
		if err != nil {
			return "", err
		}
		if part.typ != tokenIdent {
			return "", fmt.Errorf("dot parse: expected identifier after '.', got %q at %d", part.lit, part.pos)
		}
		key += "." + part.lit
	}
	return key, nil
}

// parseAttrValue accepts a quoted string or a run of unquoted tokens
// (identifiers plus limited punctuation) up to the next ',' or ']'.
func (p *parser) parseAttrValue() (string, error) {
	if err := p.read(); err != nil {
		return "", err
	}
	if p.peek.typ == tokenString {
		tok, err := p.next()
		if err != nil {
			return "", err
		}
		return tok.lit, nil
	}
	var parts []string
	for {
		if err := p.read(); err != nil {
			return "", err
		}
		if p.peekIs(tokenSymbol, ",") || p.peekIs(tokenSymbol, "]") {
			break
		}
		tok, err := p.next()
		if err != nil {
			return "", err
		}
		switch tok.typ {
		case tokenIdent:
			parts = append(parts, tok.lit)
		case tokenSymbol:
			switch tok.lit {
			case "-", ".", ":", "/":
				parts = append(parts, tok.lit)
			default:
				return "", fmt.Errorf("dot parse: unexpected token in value: %q at %d", tok.lit, tok.pos)
			}
		default:
			return "", fmt.Errorf("dot parse: unexpected token in value: %q at %d", tok.lit, tok.pos)
		}
	}
	val := strings.TrimSpace(strings.Join(parts, ""))
	if val == "" {
		return "", fmt.Errorf("dot parse: empty attr value")
	}
	return val, nil
}

func applySubgraphLabelClass(g *model.Graph, sc *scope) {
	lbl := strings.TrimSpace(sc.subgraphLabel)
	if lbl == "" {
		return
	}
	class := deriveClassFromLabel(lbl)
	if class == "" {
		return
	}
	for id := range sc.nodeIDs {
		if n := g.Nodes[id]; n != nil {
			n.Classes = append(n.Classes, class)
		}
	}
}

func deriveClassFromLabel(label string) string {
	label = strings.ToLower(label)
	label = strings.ReplaceAll(label, " ", "-")
	var b strings.Builder
	for _, r := range label {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
			b.WriteRune(r)
		}
	}
	return strings.Trim(b.String(), "-")
}
