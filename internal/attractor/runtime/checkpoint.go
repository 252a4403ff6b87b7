package runtime

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// NodeOutcome is the durable per-node record kept in the checkpoint.
// One record per node per run; the latest attempt wins. The routing
// fields let a resume replay the node's recorded edge selection (a gate
// choice, a fan-out join) instead of re-deriving it from scratch.
type NodeOutcome struct {
	Status           StageStatus `json:"status"`
	Attempt          int         `json:"attempt"`
	Notes            string      `json:"notes,omitempty"`
	FailureReason    string      `json:"failure_reason,omitempty"`
	PreferredLabel   string      `json:"preferred_label,omitempty"`
	SuggestedNextIDs []string    `json:"suggested_next_ids,omitempty"`
	DurationMS       int64       `json:"duration_ms,omitempty"`
	Timestamp        time.Time   `json:"timestamp"`
}

// Checkpoint is the durable run snapshot written after every node
// completion. A crash between completion and the write is tolerated on
// resume by re-running the node (at-least-once execution).
type Checkpoint struct {
	Timestamp      time.Time              `json:"timestamp"`
	CurrentNode    string                 `json:"current_node,omitempty"`
	CompletedNodes []string               `json:"completed_nodes"`
	Context        map[string]string      `json:"context"`
	NodeOutcomes   map[string]NodeOutcome `json:"node_outcomes"`
	NodeVisits     map[string]int         `json:"node_visits,omitempty"`
	RestartIndex   int                    `json:"restart_index,omitempty"`
}

func NewCheckpoint() *Checkpoint {
	return &Checkpoint{
		Timestamp:      time.Now().UTC(),
		CompletedNodes: []string{},
		Context:        map[string]string{},
		NodeOutcomes:   map[string]NodeOutcome{},
		NodeVisits:     map[string]int{},
	}
}

// MarkCompleted appends a node to the completed list exactly once.
func (cp *Checkpoint) MarkCompleted(nodeID string) {
	for _, id := range cp.CompletedNodes {
		if id == nodeID {
			return
		}
	}
	cp.CompletedNodes = append(cp.CompletedNodes, nodeID)
}

// Completed reports whether a node finished with a successful outcome in
// this checkpoint. Resume skips such nodes entirely.
func (cp *Checkpoint) Completed(nodeID string) bool {
	if cp == nil {
		return false
	}
	found := false
	for _, id := range cp.CompletedNodes {
		if id == nodeID {
			found = true
			break
		}
	}
	if !found {
		return false
	}
	out, ok := cp.NodeOutcomes[nodeID]
	if !ok {
		return false
	}
	return out.Status.IsSuccess() || out.Status == StatusSkipped
}

// Save writes the checkpoint atomically (temp file + rename) so a crash
// mid-write never leaves a torn checkpoint.json.
func (cp *Checkpoint) Save(path string) error {
	if cp == nil {
		return fmt.Errorf("checkpoint is nil")
	}
	cp.Timestamp = time.Now().UTC()
	b, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(path, b)
}

// LoadCheckpoint reads a checkpoint.json written by Save.
func LoadCheckpoint(path string) (*Checkpoint, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cp := NewCheckpoint()
	if err := json.Unmarshal(b, cp); err != nil {
		return nil, fmt.Errorf("load checkpoint %s: %w", path, err)
	}
	if cp.Context == nil {
		cp.Context = map[string]string{}
	}
	if cp.NodeOutcomes == nil {
		cp.NodeOutcomes = map[string]NodeOutcome{}
	}
	if cp.NodeVisits == nil {
		cp.NodeVisits = map[string]int{}
	}
	return cp, nil
}
