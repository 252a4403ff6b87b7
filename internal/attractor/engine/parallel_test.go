package engine

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/danshapiro/attractor/internal/attractor/dot"
	"github.com/danshapiro/attractor/internal/attractor/runtime"
)

func TestRun_ParallelBranchesAllSucceed(t *testing.T) {
	logs := filepath.Join(t.TempDir(), "run")
	res, err := runGraph(t, `
digraph G {
  start [shape=Mdiamond]
  fan   [shape=component]
  b1    [shape=parallelogram, tool_command="echo one"]
  b2    [shape=parallelogram, tool_command="echo two"]
  join  [shape=tripleoctagon]
  done  [shape=Msquare]
  start -> fan
  fan -> b1
  fan -> b2
  b1 -> join
  b2 -> join
  join -> done
}
`, RunOptions{LogsRoot: logs})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Status != runtime.FinalSuccess {
		t.Fatalf("result: %+v", res)
	}
	if res.Context["parallel.fail_count"] != "0" {
		t.Fatalf("fail_count: %q", res.Context["parallel.fail_count"])
	}
	for _, key := range []string{"parallel.branch.b1.status", "parallel.branch.b2.status"} {
		if res.Context[key] != "success" {
			t.Fatalf("%s: %q", key, res.Context[key])
		}
	}

	b, err := os.ReadFile(filepath.Join(logs, "join", "branch_results.json"))
	if err != nil {
		t.Fatalf("branch_results.json: %v", err)
	}
	var results []branchResult
	if err := json.Unmarshal(b, &results); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("results: %d", len(results))
	}
	if results[0].BranchKey != "b1" || results[1].BranchKey != "b2" {
		t.Fatalf("branch order must be deterministic: %s, %s", results[0].BranchKey, results[1].BranchKey)
	}
}

func TestRun_ParallelOneBranchFailsRunContinues(t *testing.T) {
	res, err := runGraph(t, `
digraph G {
  start [shape=Mdiamond]
  fan   [shape=component]
  good  [shape=parallelogram, tool_command="echo fine"]
  bad   [shape=parallelogram, tool_command="exit 1"]
  join  [shape=tripleoctagon]
  done  [shape=Msquare]
  start -> fan
  fan -> good
  fan -> bad
  good -> join
  bad -> join
  join -> done
}
`, RunOptions{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Status != runtime.FinalSuccess {
		t.Fatalf("result: %+v", res)
	}
	if res.Context["parallel.fail_count"] != "1" {
		t.Fatalf("fail_count: %q", res.Context["parallel.fail_count"])
	}
	if res.Context["parallel.branch.bad.status"] != "fail" {
		t.Fatalf("bad branch status: %q", res.Context["parallel.branch.bad.status"])
	}
}

func TestRun_ParallelAllBranchesFailFailsTheRun(t *testing.T) {
	_, err := runGraph(t, `
digraph G {
  start [shape=Mdiamond]
  fan   [shape=component]
  b1    [shape=parallelogram, tool_command="exit 1"]
  b2    [shape=parallelogram, tool_command="exit 2"]
  join  [shape=tripleoctagon]
  done  [shape=Msquare]
  start -> fan
  fan -> b1
  fan -> b2
  b1 -> join
  b2 -> join
  join -> done [condition="outcome=success"]
}
`, RunOptions{})
	if err == nil {
		t.Fatal("want run failure")
	}
	var execErr *ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("got %v", err)
	}
	if !strings.Contains(execErr.Reason, "all parallel branches failed") {
		t.Fatalf("reason: %q", execErr.Reason)
	}
}

func TestRun_ParallelWinnerContextMerges(t *testing.T) {
	res, err := runGraph(t, `
digraph G {
  start [shape=Mdiamond]
  fan   [shape=component]
  win   [shape=parallelogram, tool_command="printf '{\"status\":\"success\",\"context_updates\":{\"branch.note\":\"from-win\"}}' > status.json"]
  lose  [shape=parallelogram, tool_command="exit 1"]
  join  [shape=tripleoctagon]
  done  [shape=Msquare]
  start -> fan
  fan -> win
  fan -> lose
  win -> join
  lose -> join
  join -> done
}
`, RunOptions{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Context["branch.note"] != "from-win" {
		t.Fatalf("winner context not merged: %q", res.Context["branch.note"])
	}
}

func TestRun_ParallelDuplicateLabelsKeepDistinctKeys(t *testing.T) {
	res, err := runGraph(t, `
digraph G {
  start [shape=Mdiamond]
  fan   [shape=component]
  b1    [shape=parallelogram, tool_command="echo one"]
  b2    [shape=parallelogram, tool_command="exit 1"]
  join  [shape=tripleoctagon]
  done  [shape=Msquare]
  start -> fan
  fan -> b1 [label="work"]
  fan -> b2 [label="work"]
  b1 -> join
  b2 -> join
  join -> done
}
`, RunOptions{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	// The second "work" edge gets a head-id suffix so neither branch
	// shadows the other.
	if res.Context["parallel.branch.work.status"] != "success" {
		t.Fatalf("first branch: %q", res.Context["parallel.branch.work.status"])
	}
	if res.Context["parallel.branch.work.b2.status"] != "fail" {
		t.Fatalf("second branch: %q", res.Context["parallel.branch.work.b2.status"])
	}
	if res.Context["parallel.fail_count"] != "1" {
		t.Fatalf("fail_count: %q", res.Context["parallel.fail_count"])
	}
}

func TestFindJoinNode(t *testing.T) {
	g, err := dot.Parse([]byte(`
digraph G {
  fan  [shape=component]
  a    [shape=box]
  b    [shape=box]
  join [shape=tripleoctagon]
  tail [shape=box]
  fan -> a
  fan -> b
  a -> join
  b -> join
  join -> tail
}
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got := findJoinNode(g, g.Nodes["fan"]); got != "join" {
		t.Fatalf("join: got %q", got)
	}
}

func TestFindJoinNode_CommonDescendantWithoutExplicitFanIn(t *testing.T) {
	g, err := dot.Parse([]byte(`
digraph G {
  fan [shape=component]
  a   [shape=box]
  b   [shape=box]
  c   [shape=box]
  fan -> a
  fan -> b
  a -> c
  b -> c
}
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got := findJoinNode(g, g.Nodes["fan"]); got != "c" {
		t.Fatalf("join: got %q", got)
	}
}

func TestSelectWinner_Ranking(t *testing.T) {
	results := []branchResult{
		{BranchKey: "x", Status: runtime.StatusFail},
		{BranchKey: "y", Status: runtime.StatusPartialSuccess},
		{BranchKey: "z", Status: runtime.StatusSuccess},
	}
	w := selectWinner(results)
	if w == nil || w.BranchKey != "z" {
		t.Fatalf("winner: %+v", w)
	}
	allFail := []branchResult{
		{BranchKey: "x", Status: runtime.StatusFail},
		{BranchKey: "y", Status: runtime.StatusFail},
	}
	if selectWinner(allFail) != nil {
		t.Fatal("no winner when every branch failed")
	}
}
