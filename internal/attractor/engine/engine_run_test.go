package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/danshapiro/attractor/internal/attractor/runtime"
)

func runGraph(t *testing.T, dotSource string, opts RunOptions) (*Result, error) {
	t.Helper()
	if opts.LogsRoot == "" {
		opts.LogsRoot = filepath.Join(t.TempDir(), "run")
	}
	opts.Quiet = true
	return Run(context.Background(), []byte(dotSource), opts)
}

func countLines(t *testing.T, path string) int {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return len(strings.Fields(string(b)))
}

func TestRun_LinearSimulatedPipeline(t *testing.T) {
	logs := filepath.Join(t.TempDir(), "run")
	res, err := runGraph(t, `
digraph Demo {
  goal = "demo run"
  start [shape=Mdiamond]
  plan  [shape=box, label="Plan the work"]
  done  [shape=Msquare]
  start -> plan
  plan -> done
}
`, RunOptions{Simulate: true, LogsRoot: logs})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Status != runtime.FinalSuccess || res.FinalNode != "done" {
		t.Fatalf("result: %+v", res)
	}
	if res.Classification != "PLANNING" {
		t.Fatalf("classification: %q", res.Classification)
	}

	for _, f := range []string{"graph.dot", "manifest.json", "checkpoint.json", "final.json", "progress.ndjson"} {
		if _, err := os.Stat(filepath.Join(logs, f)); err != nil {
			t.Fatalf("missing run artifact %s: %v", f, err)
		}
	}
	if _, err := os.Stat(filepath.Join(logs, "run.pid")); !errors.Is(err, os.ErrNotExist) {
		t.Fatal("run.pid must be removed after the run")
	}
	for _, f := range []string{"prompt.md", "response.md"} {
		if _, err := os.Stat(filepath.Join(logs, "plan", f)); err != nil {
			t.Fatalf("missing stage artifact %s: %v", f, err)
		}
	}

	cp, err := runtime.LoadCheckpoint(filepath.Join(logs, "checkpoint.json"))
	if err != nil {
		t.Fatalf("load checkpoint: %v", err)
	}
	for _, id := range []string{"start", "plan", "done"} {
		if !cp.Completed(id) {
			t.Fatalf("node %s not completed in checkpoint", id)
		}
	}

	fo, err := runtime.LoadFinalOutcome(filepath.Join(logs, "final.json"))
	if err != nil {
		t.Fatalf("load final: %v", err)
	}
	if fo.Status != runtime.FinalSuccess || fo.RunID != res.RunID {
		t.Fatalf("final outcome: %+v", fo)
	}
}

func TestRun_ToolStatusJSONIsAuthoritative(t *testing.T) {
	res, err := runGraph(t, `
digraph G {
  start  [shape=Mdiamond]
  review [shape=parallelogram, tool_command="printf '{\"status\":\"success\",\"context_updates\":{\"review.grade\":\"A\"}}' > status.json"]
  done   [shape=Msquare]
  start -> review
  review -> done
}
`, RunOptions{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Status != runtime.FinalSuccess {
		t.Fatalf("status: %+v", res)
	}
	if res.Classification != "HYBRID" {
		t.Fatalf("classification: %q", res.Classification)
	}
	if res.Context["review.grade"] != "A" {
		t.Fatalf("context updates from status.json not applied: %v", res.Context["review.grade"])
	}
}

func TestRun_ToolAutoStatusSynthesized(t *testing.T) {
	logs := filepath.Join(t.TempDir(), "run")
	res, err := runGraph(t, `
digraph G {
  start [shape=Mdiamond]
  build [shape=parallelogram, tool_command="echo hello"]
  done  [shape=Msquare]
  start -> build
  build -> done
}
`, RunOptions{LogsRoot: logs})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(res.Context["tool.output"], "hello") {
		t.Fatalf("tool.output: %q", res.Context["tool.output"])
	}
	if _, err := os.Stat(filepath.Join(logs, "build", "status.json")); err != nil {
		t.Fatalf("synthesized status.json missing: %v", err)
	}
	cp, err := runtime.LoadCheckpoint(filepath.Join(logs, "checkpoint.json"))
	if err != nil {
		t.Fatalf("load checkpoint: %v", err)
	}
	if !strings.Contains(cp.NodeOutcomes["build"].Notes, "auto_status synthesized success") {
		t.Fatalf("notes: %q", cp.NodeOutcomes["build"].Notes)
	}
}

func TestRun_RetryExhaustionFailsTheRun(t *testing.T) {
	logs := filepath.Join(t.TempDir(), "run")
	_, err := runGraph(t, `
digraph G {
  graph [retry.backoff.initial_delay_ms=1]
  start [shape=Mdiamond]
  flaky [shape=parallelogram, tool_command="echo x >> tries.txt; exit 1", max_retries=2]
  done  [shape=Msquare]
  start -> flaky
  flaky -> done [condition="outcome=success"]
}
`, RunOptions{LogsRoot: logs})
	if err == nil {
		t.Fatal("want run failure")
	}
	var execErr *ExecutionError
	if !errors.As(err, &execErr) || execErr.NodeID != "flaky" {
		t.Fatalf("want ExecutionError at flaky, got %v", err)
	}
	if !strings.Contains(execErr.Reason, "max retries exceeded") {
		t.Fatalf("reason: %q", execErr.Reason)
	}
	if got := countLines(t, filepath.Join(logs, "flaky", "tries.txt")); got != 3 {
		t.Fatalf("attempts: got %d want 3 (max_retries=2 means 3 attempts)", got)
	}
}

func TestRun_RetryRecoversWithinBudget(t *testing.T) {
	logs := filepath.Join(t.TempDir(), "run")
	res, err := runGraph(t, `
digraph G {
  graph [retry.backoff.initial_delay_ms=1]
  start [shape=Mdiamond]
  flaky [shape=parallelogram, tool_command="echo x >> tries.txt; test $(wc -l < tries.txt) -ge 3", max_retries=2]
  done  [shape=Msquare]
  start -> flaky
  flaky -> done [condition="outcome=success"]
}
`, RunOptions{LogsRoot: logs})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Status != runtime.FinalSuccess || res.FinalNode != "done" {
		t.Fatalf("result: %+v", res)
	}

	// Two failed attempts, success on the third; the record carries the
	// winning attempt number.
	if got := countLines(t, filepath.Join(logs, "flaky", "tries.txt")); got != 3 {
		t.Fatalf("attempts: got %d want 3", got)
	}
	cp, err := runtime.LoadCheckpoint(filepath.Join(logs, "checkpoint.json"))
	if err != nil {
		t.Fatalf("load checkpoint: %v", err)
	}
	rec := cp.NodeOutcomes["flaky"]
	if rec.Status != runtime.StatusSuccess || rec.Attempt != 3 {
		t.Fatalf("flaky record: status=%q attempt=%d", rec.Status, rec.Attempt)
	}
}

func TestRun_AllowPartialAcceptsExhaustedRetries(t *testing.T) {
	logs := filepath.Join(t.TempDir(), "run")
	res, err := runGraph(t, `
digraph G {
  graph [retry.backoff.initial_delay_ms=1]
  start [shape=Mdiamond]
  flaky [shape=parallelogram, tool_command="exit 1", max_retries=1, allow_partial=true]
  done  [shape=Msquare]
  start -> flaky
  flaky -> done
}
`, RunOptions{LogsRoot: logs})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Status != runtime.FinalSuccess {
		t.Fatalf("status: %+v", res)
	}
	cp, err := runtime.LoadCheckpoint(filepath.Join(logs, "checkpoint.json"))
	if err != nil {
		t.Fatalf("load checkpoint: %v", err)
	}
	rec := cp.NodeOutcomes["flaky"]
	if rec.Status != runtime.StatusPartialSuccess {
		t.Fatalf("flaky status: %q", rec.Status)
	}
	if !strings.Contains(rec.Notes, "retries exhausted, partial accepted") {
		t.Fatalf("notes: %q", rec.Notes)
	}
}

func TestRun_MaxVisitsTripsLoopGuard(t *testing.T) {
	_, err := runGraph(t, `
digraph G {
  start [shape=Mdiamond]
  spin  [shape=box, max_visits=2]
  done  [shape=Msquare]
  start -> spin
  spin -> spin
  spin -> done [condition="outcome=fail"]
}
`, RunOptions{Simulate: true})
	if err == nil {
		t.Fatal("want loop bound failure")
	}
	var loop *LoopBoundExceeded
	if !errors.As(err, &loop) || loop.NodeID != "spin" || loop.Bound != "max_visits" || loop.Limit != 2 {
		t.Fatalf("got %v", err)
	}
}

func TestRun_HumanGateAutoApprove(t *testing.T) {
	res, err := runGraph(t, `
digraph G {
  start  [shape=Mdiamond]
  gate   [shape=hexagon, label="Ship it?"]
  rework [shape=box]
  done   [shape=Msquare]
  start -> gate
  gate -> done   [label="[A] Approve"]
  gate -> rework [label="[R] Rework"]
  rework -> gate
}
`, RunOptions{Simulate: true, AutoApprove: true})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Status != runtime.FinalSuccess {
		t.Fatalf("status: %+v", res)
	}
	if res.Context["human.gate.label"] != "Approve" || res.Context["human.gate.selected"] != "done" {
		t.Fatalf("gate context: label=%q selected=%q",
			res.Context["human.gate.label"], res.Context["human.gate.selected"])
	}
}

func TestRun_HumanGateWithoutInterviewerFails(t *testing.T) {
	_, err := runGraph(t, `
digraph G {
  start [shape=Mdiamond]
  gate  [shape=hexagon]
  done  [shape=Msquare]
  start -> gate
  gate -> done [condition="outcome=success"]
}
`, RunOptions{})
	if err == nil {
		t.Fatal("want failure without an interviewer")
	}
	if !strings.Contains(err.Error(), "without an interviewer") {
		t.Fatalf("error: %v", err)
	}
}

func TestRun_EdgeFidelityProjectsContextView(t *testing.T) {
	long := strings.Repeat("g", 600)
	logs := filepath.Join(t.TempDir(), "run")
	src := fmt.Sprintf(`
digraph G {
  goal = "%s"
  start   [shape=Mdiamond]
  inspect [shape=parallelogram, tool_command="true"]
  done    [shape=Msquare]
  start -> inspect [fidelity="truncate:10"]
  inspect -> done
}
`, long)
	res, err := runGraph(t, src, RunOptions{LogsRoot: logs})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	b, err := os.ReadFile(filepath.Join(logs, "inspect", "context.json"))
	if err != nil {
		t.Fatalf("read context.json: %v", err)
	}
	var view map[string]string
	if err := json.Unmarshal(b, &view); err != nil {
		t.Fatalf("decode context.json: %v", err)
	}
	if got := view["graph.goal"]; len(got) != 10 {
		t.Fatalf("projected view: %d bytes, want 10", len(got))
	}
	if got := res.Context["graph.goal"]; len(got) != 600 {
		t.Fatalf("canonical store must stay full fidelity: %d bytes", len(got))
	}
}

func TestRun_GoalGateJumpsToRetryTarget(t *testing.T) {
	logs := filepath.Join(t.TempDir(), "run")
	res, err := runGraph(t, `
digraph G {
  start [shape=Mdiamond]
  gate  [shape=parallelogram, goal_gate=true, retry_target=fix,
         tool_command="test -f \"$ATTRACTOR_LOGS_ROOT/done.marker\""]
  fix   [shape=parallelogram, tool_command="touch \"$ATTRACTOR_LOGS_ROOT/done.marker\""]
  done  [shape=Msquare]
  start -> gate
  fix -> gate
  gate -> done
}
`, RunOptions{LogsRoot: logs})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Status != runtime.FinalSuccess {
		t.Fatalf("status: %+v", res)
	}
	cp, err := runtime.LoadCheckpoint(filepath.Join(logs, "checkpoint.json"))
	if err != nil {
		t.Fatalf("load checkpoint: %v", err)
	}
	if cp.NodeVisits["gate"] != 2 {
		t.Fatalf("gate visits: %d want 2", cp.NodeVisits["gate"])
	}
	if cp.NodeOutcomes["gate"].Status != runtime.StatusSuccess {
		t.Fatalf("gate final status: %q", cp.NodeOutcomes["gate"].Status)
	}
}

func TestRun_LoopRestartRotatesTreeAndWipesContext(t *testing.T) {
	logs := filepath.Join(t.TempDir(), "run")
	res, err := runGraph(t, `
digraph G {
  goal = "restart demo"
  loop_restart_persist_keys = "keep.me"
  start [shape=Mdiamond]
  once  [shape=parallelogram, tool_command="printf '{\"status\":\"success\",\"context_updates\":{\"once.flag\":\"1\",\"keep.me\":\"yes\"}}' > status.json"]
  final [shape=box]
  done  [shape=Msquare]
  start -> once
  once -> final [loop_restart=true]
  final -> done
}
`, RunOptions{Simulate: true, LogsRoot: logs})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Status != runtime.FinalSuccess {
		t.Fatalf("status: %+v", res)
	}
	if _, err := os.Stat(filepath.Join(logs, "restart-1", "checkpoint.json")); err != nil {
		t.Fatalf("restart tree: %v", err)
	}
	if _, err := os.Stat(filepath.Join(logs, "restart-1", "final")); err != nil {
		t.Fatalf("post-restart stage dir: %v", err)
	}
	if _, ok := res.Context["once.flag"]; ok {
		t.Fatal("loop_restart must wipe non-reserved context keys")
	}
	if res.Context["keep.me"] != "yes" {
		t.Fatalf("persist keys: %q", res.Context["keep.me"])
	}
	if res.Context["graph.goal"] != "restart demo" {
		t.Fatalf("graph namespace must survive: %q", res.Context["graph.goal"])
	}
}

func TestRun_PreHookRunsAndRequiredHookBlocks(t *testing.T) {
	logs := filepath.Join(t.TempDir(), "run")
	_, err := runGraph(t, `
digraph G {
  start [shape=Mdiamond]
  build [shape=parallelogram, tool_command="true", hooks.pre="touch pre_ran.txt"]
  done  [shape=Msquare]
  start -> build
  build -> done
}
`, RunOptions{LogsRoot: logs})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	for _, f := range []string{"pre_ran.txt", "hook_pre.json"} {
		if _, err := os.Stat(filepath.Join(logs, "build", f)); err != nil {
			t.Fatalf("missing %s: %v", f, err)
		}
	}

	_, err = runGraph(t, `
digraph G {
  start [shape=Mdiamond]
  build [shape=parallelogram, tool_command="true", hooks.pre="exit 3", hooks.required=true]
  done  [shape=Msquare]
  start -> build
  build -> done [condition="outcome=success"]
}
`, RunOptions{})
	if err == nil {
		t.Fatal("required failing pre-hook must fail the node")
	}
	if !strings.Contains(err.Error(), "required pre-hook exited 3") {
		t.Fatalf("error: %v", err)
	}
}
