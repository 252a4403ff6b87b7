package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/danshapiro/attractor/internal/attractor/runtime"
	"github.com/danshapiro/attractor/internal/attractor/validate"
)

// Resume restarts an interrupted run from its logs directory. The graph
// snapshot and checkpoint on disk are authoritative: completed nodes are
// skipped with their artifacts untouched, and execution picks up at the
// checkpointed node. Editing checkpoint.json before resuming (for
// example injecting "manager.stop": "true" into the context) is the
// supported way to steer a stuck run.
func Resume(ctx context.Context, logsRoot string, opts RunOptions) (*Result, error) {
	dotSource, err := os.ReadFile(filepath.Join(logsRoot, "graph.dot"))
	if err != nil {
		return nil, fmt.Errorf("resume: read graph snapshot: %w", err)
	}

	activeRoot := latestRestartRoot(logsRoot)
	cp, err := runtime.LoadCheckpoint(filepath.Join(activeRoot, "checkpoint.json"))
	if err != nil {
		return nil, fmt.Errorf("resume: read checkpoint: %w", err)
	}

	if strings.TrimSpace(opts.RunID) == "" {
		opts.RunID = filepath.Base(logsRoot)
	}
	opts.LogsRoot = logsRoot
	if opts.Config == nil {
		// YAML being a JSON superset, the mirrored run_config.json
		// parses with the same loader.
		if cfg, cerr := LoadRunConfigFile(filepath.Join(logsRoot, "run_config.json")); cerr == nil {
			opts.Config = cfg
		}
	}
	opts.applyDefaults()

	g, diags, err := Prepare(dotSource)
	if err != nil {
		return nil, err
	}
	e := newEngine(g, opts)
	for _, d := range diags {
		if d.Severity != validate.SeverityInfo {
			e.Warn(fmt.Sprintf("%s: %s", d.Rule, d.Message))
		}
	}

	e.logsRoot = activeRoot
	e.restoreCheckpoint(cp)

	if err := e.guardSingleInstance(); err != nil {
		return nil, err
	}
	if err := os.WriteFile(filepath.Join(e.baseLogsRoot, "run.pid"), []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		return nil, err
	}

	e.appendProgress(map[string]any{
		"event":        "run_resume",
		"current_node": cp.CurrentNode,
		"completed":    len(cp.CompletedNodes),
	})
	e.Logf("resuming at %s (%d node(s) already complete)", cp.CurrentNode, len(cp.CompletedNodes))
	return e.run(ctx)
}

// restoreCheckpoint loads persisted run state into a fresh engine. The
// checkpoint context replaces the graph-seeded one wholesale; whatever
// the checkpoint says is what the resumed run believes.
func (e *Engine) restoreCheckpoint(cp *runtime.Checkpoint) {
	e.Checkpoint = cp
	e.restartIndex = cp.RestartIndex
	if len(cp.Context) > 0 {
		e.Context.Replace(cp.Context)
	}
	e.visits = map[string]int{}
	for id, n := range cp.NodeVisits {
		e.visits[id] = n
	}
	e.resumeSkip = map[string]bool{}
	for _, id := range cp.CompletedNodes {
		e.resumeSkip[id] = true
	}
}

// latestRestartRoot returns the newest restart-<n> subtree holding a
// checkpoint, or the base root when the run never restarted.
func latestRestartRoot(base string) string {
	entries, err := os.ReadDir(base)
	if err != nil {
		return base
	}
	var indices []int
	for _, ent := range entries {
		if !ent.IsDir() {
			continue
		}
		n, ok := restartIndexOf(ent.Name())
		if !ok {
			continue
		}
		if _, err := os.Stat(filepath.Join(base, ent.Name(), "checkpoint.json")); err == nil {
			indices = append(indices, n)
		}
	}
	if len(indices) == 0 {
		return base
	}
	sort.Ints(indices)
	return filepath.Join(base, fmt.Sprintf("restart-%d", indices[len(indices)-1]))
}

func restartIndexOf(name string) (int, bool) {
	rest, ok := strings.CutPrefix(name, "restart-")
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(rest)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}
