package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/danshapiro/attractor/internal/attractor/model"
	"github.com/danshapiro/attractor/internal/attractor/runtime"
)

// branchResult is one branch's terminal state, persisted to the fan-in
// stage's branch_results.json.
type branchResult struct {
	BranchKey      string              `json:"branch_key"`
	StartNode      string              `json:"start_node"`
	Status         runtime.StageStatus `json:"status"`
	FailureReason  string              `json:"failure_reason,omitempty"`
	CompletedNodes []string            `json:"completed_nodes,omitempty"`
	Context        map[string]string   `json:"context,omitempty"`
}

// runParallel is the fan-out coordinator: each outgoing edge spawns a
// branch that runs to the join node over a cloned context. Branches run
// concurrently through a worker pool bounded by max_parallel, and fan-in
// admission never depends on completion order. A branch failure is
// recorded, tallied into parallel.fail_count, and recovered locally; the
// run only fails here when every branch fails.
func (e *Engine) runParallel(ctx context.Context, node *model.Node) (runtime.Outcome, error) {
	edges := e.Graph.Outgoing(node.ID)
	if len(edges) == 0 {
		return runtime.Outcome{
			Status:        runtime.StatusFail,
			FailureReason: fmt.Sprintf("parallel node %q has no outgoing branches", node.ID),
		}, nil
	}

	joinID := findJoinNode(e.Graph, node)
	if joinID == "" {
		return runtime.Outcome{
			Status:        runtime.StatusFail,
			FailureReason: fmt.Sprintf("parallel node %q has no reachable fan-in (join) node", node.ID),
		}, nil
	}

	type job struct {
		idx  int
		key  string
		head string
	}
	var jobs []job
	seenKeys := map[string]bool{}
	for _, edge := range edges {
		if edge.To == joinID {
			continue // a direct edge to the join is not a branch
		}
		key := strings.TrimSpace(edge.Label())
		if key == "" {
			key = edge.To
		}
		// Duplicate labels would collide in the branch context keys and
		// the winner tie-break; suffix with the head node id.
		if seenKeys[key] {
			key = key + "." + edge.To
		}
		seenKeys[key] = true
		jobs = append(jobs, job{idx: len(jobs), key: key, head: edge.To})
	}
	if len(jobs) == 0 {
		return runtime.Outcome{
			Status:           runtime.StatusSuccess,
			SuggestedNextIDs: []string{joinID},
			Notes:            "no branches to run",
		}, nil
	}

	e.appendProgress(map[string]any{
		"event":    "parallel_start",
		"node_id":  node.ID,
		"branches": len(jobs),
		"join":     joinID,
	})

	results := make([]branchResult, len(jobs))
	jobCh := make(chan job)
	workers := e.Opts.MaxParallel
	if workers > len(jobs) {
		workers = len(jobs)
	}
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobCh {
				results[j.idx] = e.walkBranch(ctx, j.key, j.head, joinID)
			}
		}()
	}
	for _, j := range jobs {
		jobCh <- j
	}
	close(jobCh)
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return runtime.Outcome{}, err
	}

	// Aggregate deterministically regardless of completion order.
	sort.SliceStable(results, func(i, j int) bool { return results[i].BranchKey < results[j].BranchKey })

	failCount := 0
	updates := map[string]string{}
	for _, r := range results {
		updates["parallel.branch."+r.BranchKey+".status"] = string(r.Status)
		if !r.Status.IsSuccess() {
			failCount++
		}
		e.appendProgress(map[string]any{
			"event":      "parallel_branch",
			"node_id":    node.ID,
			"branch_key": r.BranchKey,
			"status":     string(r.Status),
		})
	}
	updates["parallel.fail_count"] = fmt.Sprint(failCount)

	// The winning branch's context carries forward into the main store.
	if winner := selectWinner(results); winner != nil {
		for _, k := range sortedKeys(winner.Context) {
			if cur, ok := e.Context.Get(k); !ok || cur != winner.Context[k] {
				updates[k] = winner.Context[k]
			}
		}
	}

	joinStage := filepath.Join(e.logsRoot, joinID)
	if err := os.MkdirAll(joinStage, 0o755); err != nil {
		return runtime.Outcome{}, err
	}
	if err := runtime.WriteJSONFile(filepath.Join(joinStage, "branch_results.json"), results); err != nil {
		return runtime.Outcome{}, err
	}

	out := runtime.Outcome{
		Status:           runtime.StatusSuccess,
		SuggestedNextIDs: []string{joinID},
		ContextUpdates:   updates,
		Notes:            fmt.Sprintf("%d branch(es), %d failed", len(results), failCount),
	}
	if failCount == len(results) {
		out.Status = runtime.StatusFail
		out.FailureReason = "all parallel branches failed"
	}
	return out, nil
}

// walkBranch runs one branch from its head to (exclusive) the join node
// over an isolated context clone.
func (e *Engine) walkBranch(ctx context.Context, key, headID, joinID string) branchResult {
	store := e.Context.Clone()
	store.Set("parallel.branch", key)

	res := branchResult{BranchKey: key, StartNode: headID, Status: runtime.StatusSuccess}
	currentID := headID
	visited := map[string]int{}

	for currentID != joinID {
		node := e.Graph.Nodes[currentID]
		if node == nil {
			res.Status = runtime.StatusFail
			res.FailureReason = fmt.Sprintf("branch node %q not found", currentID)
			break
		}
		visited[currentID]++
		if mv := node.AttrInt("max_visits", 0); mv > 0 && visited[currentID] > mv {
			res.Status = runtime.StatusFail
			res.FailureReason = fmt.Sprintf("branch node %q exceeded max_visits=%d", currentID, mv)
			break
		}

		out, err := e.executeWithRetry(ctx, node, nil, store)
		if err != nil {
			res.Status = runtime.StatusFail
			res.FailureReason = err.Error()
			break
		}
		for _, k := range sortedKeys(out.ContextUpdates) {
			store.Set(k, out.ContextUpdates[k])
		}
		res.CompletedNodes = append(res.CompletedNodes, currentID)

		if !out.Status.IsSuccess() {
			res.Status = out.Status
			res.FailureReason = out.FailureReason
			break
		}

		next, err := selectNextEdge(e.Graph, currentID, out, store)
		if err != nil || next == nil {
			res.Status = runtime.StatusFail
			if err != nil {
				res.FailureReason = err.Error()
			} else {
				res.FailureReason = fmt.Sprintf("branch stalled at %q: no outgoing edge matched", currentID)
			}
			break
		}
		currentID = next.To
	}

	res.Context = store.Snapshot()
	return res
}

// selectWinner ranks branch results success > partial_success > retry >
// fail, tie-broken by branch key, and returns the best.
func selectWinner(results []branchResult) *branchResult {
	rank := func(s runtime.StageStatus) int {
		switch s {
		case runtime.StatusSuccess:
			return 0
		case runtime.StatusPartialSuccess:
			return 1
		case runtime.StatusRetry:
			return 2
		default:
			return 3
		}
	}
	best := -1
	for i := range results {
		if best < 0 {
			best = i
			continue
		}
		ri, rb := rank(results[i].Status), rank(results[best].Status)
		if ri < rb || (ri == rb && results[i].BranchKey < results[best].BranchKey) {
			best = i
		}
	}
	if best < 0 {
		return nil
	}
	if rank(results[best].Status) >= 3 {
		return nil // nothing succeeded; no context carries forward
	}
	return &results[best]
}

// findJoinNode locates where a fan-out's branches converge: an explicit
// fan-in role node reachable from every branch, else the closest common
// descendant (BFS depth, lexical tiebreak).
func findJoinNode(g *model.Graph, fanOut *model.Node) string {
	edges := g.Outgoing(fanOut.ID)
	if len(edges) == 0 {
		return ""
	}
	heads := make([]string, 0, len(edges))
	for _, e := range edges {
		heads = append(heads, e.To)
	}

	depths := make([]map[string]int, len(heads))
	for i, h := range heads {
		depths[i] = bfsDepths(g, h)
	}

	type candidate struct {
		id    string
		depth int
	}
	var cands []candidate
	for id := range depths[0] {
		total := 0
		common := true
		for _, dm := range depths {
			d, ok := dm[id]
			if !ok {
				common = false
				break
			}
			total += d
		}
		if !common || id == fanOut.ID {
			continue
		}
		cands = append(cands, candidate{id: id, depth: total})
	}
	if len(cands) == 0 {
		return ""
	}

	// An explicit fan-in node wins over depth.
	sort.Slice(cands, func(i, j int) bool {
		ni, nj := g.Nodes[cands[i].id], g.Nodes[cands[j].id]
		fi := ni != nil && ni.Role() == model.RoleFanIn
		fj := nj != nil && nj.Role() == model.RoleFanIn
		if fi != fj {
			return fi
		}
		if cands[i].depth != cands[j].depth {
			return cands[i].depth < cands[j].depth
		}
		return cands[i].id < cands[j].id
	})
	return cands[0].id
}

func bfsDepths(g *model.Graph, start string) map[string]int {
	depths := map[string]int{start: 0}
	queue := []string{start}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, e := range g.Outgoing(cur) {
			if _, ok := depths[e.To]; !ok {
				depths[e.To] = depths[cur] + 1
				queue = append(queue, e.To)
			}
		}
	}
	return depths
}

// FanInHandler aggregates the branch results the coordinator persisted
// into this node's stage directory.
type FanInHandler struct{}

func (FanInHandler) Execute(ctx context.Context, exec *Execution, node *model.Node) (runtime.Outcome, error) {
	b, err := os.ReadFile(filepath.Join(exec.StageDir, "branch_results.json"))
	if err != nil {
		// Fan-in reached without a coordinator run (e.g. direct edge):
		// pass through.
		return runtime.Outcome{Status: runtime.StatusSuccess, Notes: "no branch results"}, nil
	}
	var results []branchResult
	if jerr := json.Unmarshal(b, &results); jerr != nil {
		return runtime.Outcome{
			Status:        runtime.StatusFail,
			FailureReason: fmt.Sprintf("decode branch_results.json: %v", jerr),
		}, nil
	}

	failCount := 0
	var lines []string
	for _, r := range results {
		if !r.Status.IsSuccess() {
			failCount++
		}
		lines = append(lines, fmt.Sprintf("%s=%s", r.BranchKey, r.Status))
	}
	if len(results) > 0 && failCount == len(results) {
		return runtime.Outcome{
			Status:        runtime.StatusFail,
			FailureReason: "all parallel branches failed",
			Notes:         strings.Join(lines, ", "),
		}, nil
	}
	return runtime.Outcome{
		Status: runtime.StatusSuccess,
		Notes:  strings.Join(lines, ", "),
	}, nil
}
