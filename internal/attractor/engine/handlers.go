package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/danshapiro/attractor/internal/attractor/model"
	"github.com/danshapiro/attractor/internal/attractor/runtime"
)

// Execution is the per-node execution context handed to handlers.
type Execution struct {
	Engine   *Engine
	StageDir string
	Incoming *model.Edge
	Fidelity string
	Attempt  int

	// Store overrides the engine context for parallel branches, which
	// each run over an isolated clone.
	Store *runtime.Context
}

// Context returns the context store this execution reads and writes.
func (x *Execution) Context() *runtime.Context {
	if x == nil {
		return nil
	}
	if x.Store != nil {
		return x.Store
	}
	if x.Engine == nil {
		return nil
	}
	return x.Engine.Context
}

// ContextView returns the context snapshot as this node observes it,
// with the edge's fidelity projection applied.
func (x *Execution) ContextView() map[string]string {
	ctx := x.Context()
	if ctx == nil {
		return map[string]string{}
	}
	return runtime.ProjectSnapshot(ctx.Snapshot(), x.Fidelity)
}

// Handler executes one node role.
type Handler interface {
	Execute(ctx context.Context, exec *Execution, node *model.Node) (runtime.Outcome, error)
}

// HandlerRegistry maps node roles to handlers.
type HandlerRegistry struct {
	byRole map[string]Handler
}

// NewHandlerRegistry builds the default registry. The manager, fan-out,
// and fan-in roles are driven by the run loop itself; their registered
// handlers cover the standalone parts (cycle bookkeeping, aggregation).
func NewHandlerRegistry() *HandlerRegistry {
	r := &HandlerRegistry{byRole: map[string]Handler{}}
	r.Register(model.RoleStart, StartHandler{})
	r.Register(model.RoleExit, ExitHandler{})
	r.Register(model.RoleLLM, CodergenHandler{})
	r.Register(model.RoleTool, ToolHandler{})
	r.Register(model.RoleHumanGate, WaitHumanHandler{})
	r.Register(model.RoleConditional, ConditionalHandler{})
	r.Register(model.RoleManager, ManagerLoopHandler{})
	r.Register(model.RoleFanIn, FanInHandler{})
	return r
}

func (r *HandlerRegistry) Register(role string, h Handler) {
	r.byRole[role] = h
}

// Resolve returns the handler for a node's role.
func (r *HandlerRegistry) Resolve(node *model.Node) (Handler, error) {
	role := node.Role()
	if h, ok := r.byRole[role]; ok {
		return h, nil
	}
	return nil, fmt.Errorf("no handler registered for node type %q (node %q)", role, node.ID)
}

// KnownRoles lists registered roles, for diagnostics.
func (r *HandlerRegistry) KnownRoles() []string {
	var out []string
	for role := range r.byRole {
		out = append(out, role)
	}
	return out
}

// StartHandler marks the entry point; it does no work.
type StartHandler struct{}

func (StartHandler) Execute(ctx context.Context, exec *Execution, node *model.Node) (runtime.Outcome, error) {
	return runtime.Outcome{Status: runtime.StatusSuccess}, nil
}

// ExitHandler marks the terminal; it does no work.
type ExitHandler struct{}

func (ExitHandler) Execute(ctx context.Context, exec *Execution, node *model.Node) (runtime.Outcome, error) {
	return runtime.Outcome{Status: runtime.StatusSuccess}, nil
}

// ConditionalHandler is a pass-through router: the previous stage's
// outcome flows onward so this node's conditional edges can see it.
type ConditionalHandler struct{}

func (ConditionalHandler) Execute(ctx context.Context, exec *Execution, node *model.Node) (runtime.Outcome, error) {
	prev := exec.Engine.lastOutcome
	out := runtime.Outcome{
		Status:         runtime.StatusSuccess,
		PreferredLabel: prev.PreferredLabel,
	}
	if prev.Status != "" {
		out.Status = prev.Status
	}
	out.FailureReason = prev.FailureReason
	out.Canonicalize()
	return out, nil
}

// CodergenBackend runs an LLM stage. The engine never talks to a live
// provider itself; the surrounding platform supplies a backend, and
// --simulate wires the deterministic stand-in.
type CodergenBackend interface {
	Run(ctx context.Context, exec *Execution, node *model.Node, prompt string) (string, *runtime.Outcome, error)
}

// SimulatedBackend is the deterministic stand-in used by --simulate and
// by tests.
type SimulatedBackend struct{}

func (SimulatedBackend) Run(ctx context.Context, exec *Execution, node *model.Node, prompt string) (string, *runtime.Outcome, error) {
	resp := "[simulated] response for stage: " + node.ID
	return resp, &runtime.Outcome{Status: runtime.StatusSuccess}, nil
}

// CodergenHandler runs an LLM node: renders the prompt, invokes the
// backend, and writes prompt.md / response.md. status.json, when the
// backend or stage writes one, is read back by the engine and wins.
type CodergenHandler struct{}

func (CodergenHandler) Execute(ctx context.Context, exec *Execution, node *model.Node) (runtime.Outcome, error) {
	backend := exec.Engine.Backend
	if backend == nil {
		return runtime.Outcome{}, fmt.Errorf("no codergen backend configured")
	}

	prompt, err := renderPrompt(exec, node)
	if err != nil {
		return runtime.Outcome{
			Status:        runtime.StatusFail,
			FailureReason: err.Error(),
		}, nil
	}
	if err := os.WriteFile(filepath.Join(exec.StageDir, "prompt.md"), []byte(prompt), 0o644); err != nil {
		return runtime.Outcome{}, err
	}

	resp, out, err := backend.Run(ctx, exec, node, prompt)
	if resp != "" {
		if werr := os.WriteFile(filepath.Join(exec.StageDir, "response.md"), []byte(resp), 0o644); werr != nil {
			return runtime.Outcome{}, werr
		}
	}
	if err != nil {
		return runtime.Outcome{
			Status:        runtime.StatusFail,
			FailureReason: err.Error(),
		}, nil
	}
	if out == nil {
		out = &runtime.Outcome{Status: runtime.StatusSuccess}
	}
	out.Canonicalize()
	return *out, nil
}

// renderPrompt assembles the stage prompt: explicit prompt attr, else an
// external prompt file (copied into the stage dir as prompt.txt), else
// the node label; the graph goal and the projected context view are
// appended so the backend sees what the stage sees.
func renderPrompt(exec *Execution, node *model.Node) (string, error) {
	base := strings.TrimSpace(node.Attr("prompt", ""))
	if pf := strings.TrimSpace(node.Attr("prompt_file", "")); pf != "" {
		b, err := os.ReadFile(pf)
		if err != nil {
			return "", fmt.Errorf("prompt_file %s: %w", pf, err)
		}
		if err := os.WriteFile(filepath.Join(exec.StageDir, "prompt.txt"), b, 0o644); err != nil {
			return "", err
		}
		base = strings.TrimSpace(string(b))
	}
	if base == "" {
		base = strings.TrimSpace(node.Label())
	}
	if base == "" {
		base = node.ID
	}

	var b strings.Builder
	b.WriteString(base)
	if goal := strings.TrimSpace(exec.Engine.Graph.Attrs["goal"]); goal != "" {
		b.WriteString("\n\nGoal: ")
		b.WriteString(goal)
	}
	view := exec.ContextView()
	if len(view) > 0 {
		b.WriteString("\n\nContext:\n")
		for _, k := range sortedKeys(view) {
			fmt.Fprintf(&b, "- %s: %s\n", k, view[k])
		}
	}
	return b.String(), nil
}

// truncate cuts s to at most n bytes.
func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	return s[:n]
}
