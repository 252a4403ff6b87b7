package engine

import (
	"context"
	"fmt"

	"github.com/danshapiro/attractor/internal/attractor/model"
	"github.com/danshapiro/attractor/internal/attractor/runtime"
)

// defaultMaxCycles bounds a manager loop that declares no max_cycles.
const defaultMaxCycles = 10

// ManagerLoopHandler implements the bounded control loop. Each arrival at
// the manager node is one cycle: if the reserved manager.stop context key
// is truthy the loop exits successfully (preferred label "stop");
// otherwise the cycle count is checked against max_cycles and the loop
// continues (preferred label "continue").
//
// Exceeding max_cycles without a stop signal is fatal. The stop key can
// be injected externally by editing checkpoint.json between runs; resume
// honors it on the next arrival.
type ManagerLoopHandler struct{}

func (ManagerLoopHandler) Execute(ctx context.Context, exec *Execution, node *model.Node) (runtime.Outcome, error) {
	e := exec.Engine

	if exec.Context().TruthyKey("manager.stop") {
		cycles := e.managerCycleCount(node.ID)
		return runtime.Outcome{
			Status:         runtime.StatusSuccess,
			PreferredLabel: "stop",
			ContextUpdates: map[string]string{
				"manager." + node.ID + ".cycles": fmt.Sprint(cycles),
			},
			Notes: fmt.Sprintf("manager.stop set after %d cycle(s)", cycles),
		}, nil
	}

	cycles := e.managerCycleNext(node.ID)

	maxCycles := node.AttrInt("max_cycles", defaultMaxCycles)
	if cycles > maxCycles {
		return runtime.Outcome{}, &LoopBoundExceeded{
			NodeID: node.ID,
			Bound:  "max_cycles",
			Limit:  maxCycles,
		}
	}

	return runtime.Outcome{
		Status:         runtime.StatusSuccess,
		PreferredLabel: "continue",
		ContextUpdates: map[string]string{
			"manager.cycle":                  fmt.Sprint(cycles),
			"manager." + node.ID + ".cycles": fmt.Sprint(cycles),
		},
	}, nil
}

func (e *Engine) managerCycleNext(nodeID string) int {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	e.managerCycles[nodeID]++
	return e.managerCycles[nodeID]
}

func (e *Engine) managerCycleCount(nodeID string) int {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	return e.managerCycles[nodeID]
}
