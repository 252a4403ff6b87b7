// Package engine executes a validated pipeline graph as a resumable,
// checkpointed state machine: sequential along the critical path, with
// retries, timeouts, visit bounds, parallel fan-out/fan-in, gating, and
// crash-safe resume from the on-disk checkpoint.
package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/danshapiro/attractor/internal/attractor/dot"
	"github.com/danshapiro/attractor/internal/attractor/model"
	"github.com/danshapiro/attractor/internal/attractor/procutil"
	"github.com/danshapiro/attractor/internal/attractor/runtime"
	"github.com/danshapiro/attractor/internal/attractor/validate"
)

// DefaultStageTimeout bounds a single node attempt when neither the node
// nor the run config declares a timeout.
const DefaultStageTimeout = 30 * time.Minute

// defaultMaxRestarts bounds loop_restart cycles per run.
const defaultMaxRestarts = 50

// RunOptions configures a run.
type RunOptions struct {
	RunID       string
	LogsRoot    string
	Config      *RunConfigFile
	Simulate    bool
	AutoApprove bool
	Quiet       bool

	StageTimeout time.Duration
	MaxParallel  int

	Backend     CodergenBackend
	Interviewer Interviewer
	Registry    *HandlerRegistry
}

func (o *RunOptions) applyDefaults() {
	if strings.TrimSpace(o.RunID) == "" {
		o.RunID = ulid.Make().String()
	}
	if strings.TrimSpace(o.LogsRoot) == "" {
		if o.Config != nil && strings.TrimSpace(o.Config.Logs.Root) != "" {
			o.LogsRoot = o.Config.Logs.Root
		} else {
			o.LogsRoot = filepath.Join("logs", o.RunID)
		}
	}
	if o.StageTimeout <= 0 {
		o.StageTimeout = DefaultStageTimeout
		if o.Config != nil && o.Config.Runtime.StageTimeoutMS != nil {
			o.StageTimeout = time.Duration(*o.Config.Runtime.StageTimeoutMS) * time.Millisecond
		}
	}
	if o.MaxParallel <= 0 {
		o.MaxParallel = 4
		if o.Config != nil && o.Config.Runtime.MaxParallel != nil && *o.Config.Runtime.MaxParallel > 0 {
			o.MaxParallel = *o.Config.Runtime.MaxParallel
		}
	}
	if o.Backend == nil {
		o.Backend = SimulatedBackend{}
	}
	if o.Interviewer == nil && (o.AutoApprove || o.Simulate) {
		o.Interviewer = AutoApproveInterviewer{}
	}
	if o.Registry == nil {
		o.Registry = NewHandlerRegistry()
	}
}

// Result is what a finished (or failed) run reports back to the CLI.
type Result struct {
	RunID          string
	Status         runtime.FinalStatus
	FinalNode      string
	FailureReason  string
	LogsRoot       string
	Classification string
	Context        map[string]string
}

// Engine is one pipeline run in flight. It owns the context store and
// the checkpoint; nothing else writes to them.
type Engine struct {
	Graph       *model.Graph
	Opts        RunOptions
	Context     *runtime.Context
	Checkpoint  *runtime.Checkpoint
	Backend     CodergenBackend
	Interviewer Interviewer
	Registry    *HandlerRegistry

	runID          string
	logsRoot       string // current logs tree (restart-<n> after a loop_restart)
	baseLogsRoot   string
	classification string

	visits        map[string]int
	managerCycles map[string]int
	resumeSkip    map[string]bool
	restartIndex  int
	lastOutcome   runtime.Outcome

	progressMu sync.Mutex
	stateMu    sync.Mutex // guards checkpoint records and cycle counters during parallel branches
	quiet      bool
}

// Prepare parses and validates a graph. ERROR diagnostics abort before
// any execution; the full diagnostic list is returned either way.
func Prepare(dotSource []byte) (*model.Graph, []validate.Diagnostic, error) {
	g, err := dot.Parse(dotSource)
	if err != nil {
		return nil, nil, err
	}
	diags := validate.Validate(g)
	for _, d := range diags {
		if d.Severity == validate.SeverityError {
			return g, diags, fmt.Errorf("validation failed: %s: %s", d.Rule, d.Message)
		}
	}
	return g, diags, nil
}

// Run executes a pipeline from DOT source.
func Run(ctx context.Context, dotSource []byte, opts RunOptions) (*Result, error) {
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
	if err := e.initRunDir(dotSource); err != nil {
		return nil, err
	}
	return e.run(ctx)
}

func newEngine(g *model.Graph, opts RunOptions) *Engine {
	e := &Engine{
		Graph:          g,
		Opts:           opts,
		Context:        runtime.NewContext(),
		Checkpoint:     runtime.NewCheckpoint(),
		Backend:        opts.Backend,
		Interviewer:    opts.Interviewer,
		Registry:       opts.Registry,
		runID:          opts.RunID,
		logsRoot:       opts.LogsRoot,
		baseLogsRoot:   opts.LogsRoot,
		classification: validate.Classify(g),
		visits:         map[string]int{},
		managerCycles:  map[string]int{},
		resumeSkip:     map[string]bool{},
		quiet:          opts.Quiet,
	}
	e.seedContextFromGraph()
	return e
}

// seedContextFromGraph mirrors graph attributes into the reserved
// graph.* namespace, the only namespace a loop_restart preserves.
func (e *Engine) seedContextFromGraph() {
	keys := make([]string, 0, len(e.Graph.Attrs))
	for k := range e.Graph.Attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		e.Context.Set("graph."+k, e.Graph.Attrs[k])
	}
}

// initRunDir prepares the logs root: manifest, graph snapshot, pid file.
func (e *Engine) initRunDir(dotSource []byte) error {
	if err := os.MkdirAll(e.logsRoot, 0o755); err != nil {
		return err
	}
	if err := e.guardSingleInstance(); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(e.logsRoot, "graph.dot"), dotSource, 0o644); err != nil {
		return err
	}
	if err := e.writeManifest(); err != nil {
		return err
	}
	if e.Opts.Config != nil {
		if err := runtime.WriteJSONFile(filepath.Join(e.logsRoot, "run_config.json"), e.Opts.Config); err != nil {
			return err
		}
	}
	return os.WriteFile(filepath.Join(e.logsRoot, "run.pid"), []byte(strconv.Itoa(os.Getpid())), 0o644)
}

// guardSingleInstance refuses to start when a live process already owns
// this logs root. Two writers to one run directory is undefined.
func (e *Engine) guardSingleInstance() error {
	b, err := os.ReadFile(filepath.Join(e.baseLogsRoot, "run.pid"))
	if err != nil {
		return nil
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil {
		return nil
	}
	if pid != os.Getpid() && procutil.PIDAlive(pid) {
		return fmt.Errorf("logs root %s is owned by running pid %d", e.baseLogsRoot, pid)
	}
	return nil
}

func (e *Engine) writeManifest() error {
	name := e.Graph.Name
	if name == "" {
		name = "pipeline"
	}
	return runtime.WriteJSONFile(filepath.Join(e.logsRoot, "manifest.json"), map[string]any{
		"name":           name,
		"goal":           e.Graph.Attrs["goal"],
		"start_time":     time.Now().UTC().Format(time.RFC3339),
		"classification": e.classification,
	})
}

// run drives the traversal and finalizes the run record.
func (e *Engine) run(ctx context.Context) (*Result, error) {
	e.appendProgress(map[string]any{"event": "run_start", "classification": e.classification})
	res, err := e.runLoop(ctx)
	e.finalize(res, err)
	return res, err
}

func (e *Engine) finalize(res *Result, runErr error) {
	fo := &runtime.FinalOutcome{RunID: e.runID, Status: runtime.FinalFail}
	if runErr == nil && res != nil {
		fo.Status = res.Status
		fo.FinalNode = res.FinalNode
		fo.FailureReason = res.FailureReason
	} else if runErr != nil {
		fo.FailureReason = runErr.Error()
	}
	// The final record and pid file always live at the base root, even
	// when loop_restart rotated the active tree.
	if err := fo.Save(filepath.Join(e.baseLogsRoot, "final.json")); err != nil {
		e.Warn("write final.json: " + err.Error())
	}
	_ = os.Remove(filepath.Join(e.baseLogsRoot, "run.pid"))
	e.appendProgress(map[string]any{
		"event":  "run_complete",
		"status": string(fo.Status),
		"reason": fo.FailureReason,
	})
}

func (e *Engine) startNodeID() string {
	return validate.FindStartNodeID(e.Graph)
}

func (e *Engine) isTerminal(n *model.Node) bool {
	return n.Role() == model.RoleExit
}

// runLoop walks the graph from startAt (or the start node) until the
// exit node completes or a fatal condition halts the run. The checkpoint
// is saved after every node completion, so a crash at any point resumes
// without re-running completed work.
func (e *Engine) runLoop(ctx context.Context) (*Result, error) {
	currentID := e.Checkpoint.CurrentNode
	if currentID == "" {
		currentID = e.startNodeID()
	}
	if currentID == "" {
		return nil, fmt.Errorf("no start node (shape=Mdiamond) in graph")
	}

	var incoming *model.Edge
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		node := e.Graph.Nodes[currentID]
		if node == nil {
			return nil, &ExecutionError{NodeID: currentID, Reason: "node not found in graph"}
		}

		e.Context.Set("current_node", currentID)

		var out runtime.Outcome
		var skipped bool

		if e.resumeSkip[currentID] {
			// Completed in a prior run: skip entirely, artifacts
			// untouched, recorded routing replayed.
			delete(e.resumeSkip, currentID)
			rec := e.Checkpoint.NodeOutcomes[currentID]
			out = runtime.Outcome{
				Status:           rec.Status,
				Notes:            rec.Notes,
				PreferredLabel:   rec.PreferredLabel,
				SuggestedNextIDs: rec.SuggestedNextIDs,
			}
			out.Canonicalize()
			skipped = true
			e.appendProgress(map[string]any{"event": "node_skipped", "node_id": currentID})
		} else {
			// Skipped resume passes do not count against max_visits.
			e.visits[currentID]++
			if mv := node.AttrInt("max_visits", 0); mv > 0 && e.visits[currentID] > mv {
				return nil, &LoopBoundExceeded{NodeID: currentID, Bound: "max_visits", Limit: mv}
			}
			var err error
			if node.Role() == model.RoleFanOut {
				out, err = e.runParallel(ctx, node)
			} else {
				out, err = e.executeWithRetry(ctx, node, incoming, nil)
			}
			if err != nil {
				return nil, err
			}
		}

		if !skipped {
			e.applyOutcome(node, out)
		}
		e.lastOutcome = out
		e.Context.Set("last_stage", currentID)

		if err := e.recordAndCheckpoint(node, out); err != nil {
			return nil, err
		}

		// An unsatisfied goal gate jumps to its retry target or halts.
		if node.IsGoalGate() && !out.Status.IsSuccess() && !skipped {
			if target := resolveRetryTarget(e.Graph, currentID); target != "" {
				e.Logf("goal gate %s unsatisfied; retrying from %s", currentID, target)
				e.appendProgress(map[string]any{"event": "gate_retry", "node_id": currentID, "target": target})
				currentID = target
				incoming = nil
				continue
			}
			return nil, &GateUnsatisfiedError{NodeID: currentID, Goal: node.Attr("goal", e.Graph.Attrs["goal"])}
		}

		if e.isTerminal(node) {
			if err := e.checkGoalGates(); err != nil {
				var gate *GateUnsatisfiedError
				if errors.As(err, &gate) {
					if target := resolveRetryTarget(e.Graph, gate.NodeID); target != "" {
						e.appendProgress(map[string]any{"event": "gate_retry", "node_id": gate.NodeID, "target": target})
						currentID = target
						incoming = nil
						continue
					}
				}
				return nil, err
			}
			return &Result{
				RunID:          e.runID,
				Status:         runtime.FinalSuccess,
				FinalNode:      currentID,
				LogsRoot:       e.baseLogsRoot,
				Classification: e.classification,
				Context:        e.Context.Snapshot(),
			}, nil
		}

		// After a fan-out, control jumps straight to the join node the
		// coordinator picked; branch-head edges are not followed again.
		if node.Role() == model.RoleFanOut && len(out.SuggestedNextIDs) > 0 {
			e.Context.Set("previous_node", currentID)
			currentID = out.SuggestedNextIDs[0]
			incoming = nil
			continue
		}

		// A stage that failed with no matching edge halts the run.
		next, err := selectNextEdge(e.Graph, currentID, out, e.Context)
		if err != nil {
			return nil, &ExecutionError{NodeID: currentID, Reason: err.Error()}
		}
		if next == nil {
			if !out.Status.IsSuccess() {
				reason := out.FailureReason
				if reason == "" {
					reason = fmt.Sprintf("stage failed with status %q", out.Status)
				}
				return nil, &ExecutionError{NodeID: currentID, Reason: reason}
			}
			return nil, &ExecutionError{NodeID: currentID, Reason: "no outgoing edge matched the outcome"}
		}

		if next.Attr("loop_restart", "") == "true" {
			if err := e.loopRestart(); err != nil {
				return nil, err
			}
		}

		e.Context.Set("previous_node", currentID)
		incoming = next
		currentID = next.To
	}
}

// applyOutcome folds a stage's context updates into the store.
func (e *Engine) applyOutcome(node *model.Node, out runtime.Outcome) {
	keys := make([]string, 0, len(out.ContextUpdates))
	for k := range out.ContextUpdates {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		e.Context.Set(k, out.ContextUpdates[k])
	}
}

// recordAndCheckpoint stores the node outcome and persists the
// checkpoint. Completion is monotonic: at-least-once durability means a
// crash right here re-runs the node on resume, which must be tolerated.
func (e *Engine) recordAndCheckpoint(node *model.Node, out runtime.Outcome) error {
	rec := runtime.NodeOutcome{
		Status:           out.Status,
		Attempt:          e.Checkpoint.NodeOutcomes[node.ID].Attempt,
		Notes:            out.Notes,
		FailureReason:    out.FailureReason,
		PreferredLabel:   out.PreferredLabel,
		SuggestedNextIDs: out.SuggestedNextIDs,
		Timestamp:        time.Now().UTC(),
	}
	if rec.Attempt == 0 {
		rec.Attempt = 1
	}
	e.Checkpoint.NodeOutcomes[node.ID] = rec
	if out.Status.IsSuccess() || out.Status == runtime.StatusSkipped {
		e.Checkpoint.MarkCompleted(node.ID)
	}
	e.Checkpoint.CurrentNode = node.ID
	e.Checkpoint.Context = e.Context.Snapshot()
	e.Checkpoint.NodeVisits = e.visits
	e.Checkpoint.RestartIndex = e.restartIndex
	if err := e.Checkpoint.Save(filepath.Join(e.logsRoot, "checkpoint.json")); err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	e.appendProgress(map[string]any{
		"event":   "node_complete",
		"node_id": node.ID,
		"status":  string(out.Status),
	})
	return nil
}

// checkGoalGates verifies every goal gate that executed recorded a
// satisfying outcome (success or partial_success).
func (e *Engine) checkGoalGates() error {
	ids := make([]string, 0, len(e.Graph.Nodes))
	for id, n := range e.Graph.Nodes {
		if n != nil && n.IsGoalGate() {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	for _, id := range ids {
		rec, ok := e.Checkpoint.NodeOutcomes[id]
		if !ok {
			continue // gate was never reached on this path
		}
		if !rec.Status.IsSuccess() {
			return &GateUnsatisfiedError{
				NodeID: id,
				Goal:   e.Graph.Nodes[id].Attr("goal", e.Graph.Attrs["goal"]),
			}
		}
	}
	return nil
}

// executeWithRetry runs a node attempt-by-attempt: max_retries=R means
// R+1 attempts, with exponential backoff between failures. The recorded
// outcome is always the final attempt's.
func (e *Engine) executeWithRetry(ctx context.Context, node *model.Node, incoming *model.Edge, store *runtime.Context) (runtime.Outcome, error) {
	maxAttempts := node.AttrInt("max_retries", 0) + 1
	var out runtime.Outcome
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		var err error
		out, err = e.executeOnce(ctx, node, incoming, attempt, store)
		if err != nil {
			return runtime.Outcome{}, err
		}
		e.stateMu.Lock()
		rec := e.Checkpoint.NodeOutcomes[node.ID]
		rec.Attempt = attempt
		e.Checkpoint.NodeOutcomes[node.ID] = rec
		e.stateMu.Unlock()

		if out.Status != runtime.StatusFail && out.Status != runtime.StatusRetry {
			return out, nil
		}
		if attempt == maxAttempts {
			break
		}
		delay := backoffDelayForNode(e.runID, e.Opts.Config, e.Graph, node, attempt)
		e.appendProgress(map[string]any{
			"event":    "retry",
			"node_id":  node.ID,
			"attempt":  attempt,
			"delay_ms": delay.Milliseconds(),
			"reason":   out.FailureReason,
		})
		e.Logf("retry %d/%d for %s in %s: %s", attempt, maxAttempts-1, node.ID, delay, out.FailureReason)
		if err := sleepWithContext(ctx, delay); err != nil {
			return runtime.Outcome{}, err
		}
	}

	if node.AttrBool("allow_partial", false) {
		out.Status = runtime.StatusPartialSuccess
		out.Notes = strings.TrimSpace(out.Notes + "\nretries exhausted, partial accepted")
		out.FailureReason = ""
		return out, nil
	}
	if out.FailureReason == "" {
		out.FailureReason = "max retries exceeded"
	} else if maxAttempts > 1 {
		out.FailureReason = "max retries exceeded: " + out.FailureReason
	}
	out.Status = runtime.StatusFail
	return out, nil
}

// executeOnce runs a single attempt: stage dir setup, timeout, panic
// recovery, handler dispatch, then the status.json read-back (a stage
// that writes its own status is authoritative).
func (e *Engine) executeOnce(ctx context.Context, node *model.Node, incoming *model.Edge, attempt int, store *runtime.Context) (out runtime.Outcome, err error) {
	stageDir := filepath.Join(e.logsRoot, node.ID)
	if mkErr := os.MkdirAll(stageDir, 0o755); mkErr != nil {
		return runtime.Outcome{}, mkErr
	}
	statusPath := filepath.Join(stageDir, "status.json")
	_ = os.Remove(statusPath) // stale status from a previous attempt

	exec := &Execution{
		Engine:   e,
		StageDir: stageDir,
		Incoming: incoming,
		Fidelity: resolveFidelity(e.Graph, incoming, node),
		Attempt:  attempt,
		Store:    store,
	}

	timeout := e.stageTimeoutFor(node)
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	e.appendProgress(map[string]any{"event": "node_start", "node_id": node.ID, "attempt": attempt})
	e.Logf("-> %s (%s, attempt %d)", node.ID, node.Role(), attempt)

	handler, hErr := e.Registry.Resolve(node)
	if hErr != nil {
		return runtime.Outcome{}, hErr
	}

	func() {
		defer func() {
			if r := recover(); r != nil {
				out = runtime.Outcome{
					Status:        runtime.StatusFail,
					FailureReason: fmt.Sprintf("handler panic: %v", r),
				}
				err = nil
			}
		}()
		out, err = handler.Execute(cctx, exec, node)
	}()
	if err != nil {
		var loop *LoopBoundExceeded
		if errors.As(err, &loop) {
			return runtime.Outcome{}, err // run-fatal, not routable
		}
		out = runtime.Outcome{Status: runtime.StatusFail, FailureReason: err.Error()}
		err = nil
	}
	out.Canonicalize()

	if cctx.Err() == context.DeadlineExceeded && !out.Status.IsSuccess() {
		out.Status = runtime.StatusFail
		if !strings.Contains(out.FailureReason, "timed out") {
			out.FailureReason = strings.TrimSpace(fmt.Sprintf("stage timed out after %s: %s", timeout, out.FailureReason))
		}
		out.Meta["timeout"] = "true"
	}

	out = e.reconcileStatusArtifact(node, stageDir, out)
	if shapeAllowsArtifacts(node) {
		e.indexStageArtifacts(node.ID, stageDir)
	}
	return out, nil
}

// reconcileStatusArtifact applies the status.json contract: when the
// stage wrote one it wins; when it didn't, auto_status decides whether
// the engine synthesizes or rejects.
func (e *Engine) reconcileStatusArtifact(node *model.Node, stageDir string, out runtime.Outcome) runtime.Outcome {
	statusPath := filepath.Join(stageDir, "status.json")
	if b, err := os.ReadFile(statusPath); err == nil {
		decoded, derr := runtime.DecodeValidatedOutcome(b)
		if derr != nil {
			return runtime.Outcome{
				Status:        runtime.StatusFail,
				FailureReason: derr.Error(),
			}
		}
		return decoded
	}

	switch node.Role() {
	case model.RoleTool:
		if out.Status == runtime.StatusSuccess && node.AttrBool("auto_status", true) {
			out.Notes = strings.TrimSpace(out.Notes + "\nauto_status synthesized success")
			_ = runtime.WriteJSONFile(statusPath, out)
		}
	case model.RoleLLM:
		if !node.AttrBool("auto_status", true) {
			return runtime.Outcome{
				Status:        runtime.StatusFail,
				FailureReason: fmt.Sprintf("node %q produced no status.json (auto_status=false)", node.ID),
			}
		}
	}
	return out
}

// stageTimeoutFor resolves the attempt timeout: node timeout attr, then
// the run-level stage timeout.
func (e *Engine) stageTimeoutFor(node *model.Node) time.Duration {
	if v := strings.TrimSpace(node.Attr("timeout", "")); v != "" {
		if d, err := parseDuration(v); err == nil && d > 0 {
			return d
		}
		e.Warn(fmt.Sprintf("node %s: unparseable timeout %q, using default", node.ID, v))
	}
	return e.Opts.StageTimeout
}

// loopRestart rotates to a fresh restart-<n> logs tree and wipes the
// context except the reserved graph.* namespace (plus any keys listed in
// the graph's loop_restart_persist_keys).
func (e *Engine) loopRestart() error {
	maxRestarts := defaultMaxRestarts
	if e.Opts.Config != nil && e.Opts.Config.Runtime.MaxRestarts != nil {
		maxRestarts = *e.Opts.Config.Runtime.MaxRestarts
	}
	e.restartIndex++
	if e.restartIndex > maxRestarts {
		return &LoopBoundExceeded{NodeID: "loop_restart", Bound: "max_restarts", Limit: maxRestarts}
	}

	newRoot := filepath.Join(e.baseLogsRoot, fmt.Sprintf("restart-%d", e.restartIndex))
	if err := os.MkdirAll(newRoot, 0o755); err != nil {
		return err
	}

	persist := map[string]string{}
	persistKeys := strings.Split(e.Graph.Attrs["loop_restart_persist_keys"], ",")
	for k, v := range e.Context.Snapshot() {
		if strings.HasPrefix(k, "graph.") {
			persist[k] = v
			continue
		}
		for _, pk := range persistKeys {
			if pk = strings.TrimSpace(pk); pk != "" && pk == k {
				persist[k] = v
			}
		}
	}

	e.logsRoot = newRoot
	e.Context = runtime.NewContext()
	e.Context.Replace(persist)
	e.Checkpoint = runtime.NewCheckpoint()
	e.Checkpoint.RestartIndex = e.restartIndex
	e.visits = map[string]int{}
	e.managerCycles = map[string]int{}
	e.resumeSkip = map[string]bool{}

	e.appendProgress(map[string]any{"event": "loop_restart", "restart_index": e.restartIndex})
	e.Logf("loop_restart -> %s", newRoot)
	return nil
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// parseDuration accepts Go durations plus bare integers (seconds) and a
// "d" suffix (days).
func parseDuration(v string) (time.Duration, error) {
	v = strings.TrimSpace(v)
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	if strings.HasSuffix(v, "d") {
		if n, err := strconv.Atoi(strings.TrimSuffix(v, "d")); err == nil {
			return time.Duration(n) * 24 * time.Hour, nil
		}
	}
	return time.ParseDuration(v)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
