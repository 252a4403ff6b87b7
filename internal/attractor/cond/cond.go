// Package cond evaluates edge condition expressions against the latest
// stage outcome and the run context.
//
// Grammar: clauses joined by "&&"; each clause is `key == value`,
// `key = value`, `key != value`, or a bare key (truthy test). Keys resolve
// against the outcome (`outcome`, `preferred_label`) or the context
// (`context.<key>`, or any raw context key).
package cond

import (
	"fmt"
	"strings"

	"github.com/danshapiro/attractor/internal/attractor/runtime"
)

type op int

const (
	opTruthy op = iota
	opEqual
	opNotEqual
)

type clause struct {
	key   string
	op    op
	value string
}

// Parse validates and compiles a condition expression. The validator uses
// it to reject malformed conditions before any execution happens.
func Parse(condition string) ([]clause, error) {
	raw := strings.TrimSpace(condition)
	if raw == "" {
		return nil, nil
	}
	var out []clause
	for _, part := range strings.Split(raw, "&&") {
		part = strings.TrimSpace(part)
		if part == "" {
			return nil, fmt.Errorf("condition %q: empty clause", condition)
		}
		c, err := parseClause(part)
		if err != nil {
			return nil, fmt.Errorf("condition %q: %w", condition, err)
		}
		out = append(out, c)
	}
	return out, nil
}

func parseClause(part string) (clause, error) {
	if i := strings.Index(part, "!="); i >= 0 {
		key := strings.TrimSpace(part[:i])
		val := strings.TrimSpace(part[i+2:])
		if key == "" {
			return clause{}, fmt.Errorf("missing key before %q", "!=")
		}
		return clause{key: key, op: opNotEqual, value: val}, nil
	}
	if i := strings.Index(part, "="); i >= 0 {
		key := strings.TrimSpace(part[:i])
		val := part[i+1:]
		if strings.HasPrefix(val, "=") { // key == value
			val = val[1:]
		}
		val = strings.TrimSpace(val)
		if key == "" {
			return clause{}, fmt.Errorf("missing key before %q", "=")
		}
		return clause{key: key, op: opEqual, value: val}, nil
	}
	return clause{key: part, op: opTruthy}, nil
}

// Evaluate reports whether every clause of the condition holds. An empty
// condition evaluates to true.
func Evaluate(condition string, out runtime.Outcome, ctx *runtime.Context) (bool, error) {
	clauses, err := Parse(condition)
	if err != nil {
		return false, err
	}
	for _, c := range clauses {
		val, present := resolveKey(c.key, out, ctx)
		switch c.op {
		case opTruthy:
			if !truthy(val) {
				return false, nil
			}
		case opEqual:
			if !present || !compareEqual(c.key, val, c.value) {
				return false, nil
			}
		case opNotEqual:
			if present && compareEqual(c.key, val, c.value) {
				return false, nil
			}
		}
	}
	return true, nil
}

func resolveKey(key string, out runtime.Outcome, ctx *runtime.Context) (string, bool) {
	switch key {
	case "outcome", "status":
		return string(out.Status), true
	case "preferred_label":
		return out.PreferredLabel, out.PreferredLabel != ""
	}
	if rest, ok := strings.CutPrefix(key, "context."); ok {
		if ctx == nil {
			return "", false
		}
		return ctx.Get(rest)
	}
	if ctx != nil {
		if v, ok := ctx.Get(key); ok {
			return v, true
		}
	}
	return "", false
}

// compareEqual matches case-insensitively and canonicalizes the familiar
// outcome aliases so `outcome=ok` matches a success status.
func compareEqual(key, actual, expected string) bool {
	a := strings.ToLower(strings.TrimSpace(actual))
	e := strings.ToLower(strings.TrimSpace(expected))
	if key == "outcome" || key == "status" {
		a = canonicalStatusAlias(a)
		e = canonicalStatusAlias(e)
	}
	return a == e
}

func canonicalStatusAlias(s string) string {
	switch s {
	case "ok", "succeeded", "success":
		return "success"
	case "failure", "error", "failed", "fail":
		return "fail"
	case "partial", "partial_success":
		return "partial_success"
	case "skip", "skipped":
		return "skipped"
	}
	return s
}

func truthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "false", "0", "no", "off":
		return false
	}
	return true
}
