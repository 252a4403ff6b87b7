// Package runstate summarizes a run's on-disk artifacts into a compact
// snapshot for status reporting, without touching the engine.
package runstate

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/danshapiro/attractor/internal/attractor/procutil"
)

// State is the coarse lifecycle of a run as read from its logs root.
type State string

const (
	StateUnknown State = "unknown"
	StateRunning State = "running"
	StateStalled State = "stalled" // pid file present but process gone
	StateSuccess State = "success"
	StateFail    State = "fail"
)

// Snapshot is what `attractor status` prints.
type Snapshot struct {
	LogsRoot       string    `json:"logs_root"`
	RunID          string    `json:"run_id,omitempty"`
	State          State     `json:"state"`
	CurrentNodeID  string    `json:"current_node,omitempty"`
	LastEvent      string    `json:"last_event,omitempty"`
	LastEventAt    time.Time `json:"last_event_at,omitempty"`
	FailureReason  string    `json:"failure_reason,omitempty"`
	CompletedNodes int       `json:"completed_nodes"`
	RestartIndex   int       `json:"restart_index,omitempty"`
	PID            int       `json:"pid,omitempty"`
	PIDAlive       bool      `json:"pid_alive,omitempty"`
}

// Load reads the run artifacts under logsRoot. final.json, when present
// and terminal, is authoritative; the progress stream and pid file only
// refine a run that has not finished.
func Load(logsRoot string) (*Snapshot, error) {
	root := strings.TrimSpace(logsRoot)
	if root == "" {
		return nil, fmt.Errorf("logs root is required")
	}
	s := &Snapshot{LogsRoot: root, State: StateUnknown}

	active := activeRoot(root)
	s.RestartIndex = restartIndex(root, active)

	if err := s.readFinal(root); err != nil {
		return nil, err
	}
	terminal := s.State == StateSuccess || s.State == StateFail

	if !terminal {
		if err := s.readProgressTail(filepath.Join(active, "progress.ndjson")); err != nil {
			return nil, err
		}
	}
	s.readCheckpointSummary(filepath.Join(active, "checkpoint.json"))

	pidPath := filepath.Join(root, "run.pid")
	if pid := procutil.ReadPIDFile(pidPath); pid > 0 {
		s.PID = pid
		s.PIDAlive = procutil.PIDAlive(pid)
	}
	if !terminal {
		switch {
		case s.PIDAlive:
			s.State = StateRunning
		case s.PID > 0:
			s.State = StateStalled
		}
	}
	return s, nil
}

func (s *Snapshot) readFinal(root string) error {
	b, err := os.ReadFile(filepath.Join(root, "final.json"))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	var doc struct {
		Status        string `json:"status"`
		RunID         string `json:"run_id"`
		FinalNode     string `json:"final_node"`
		FailureReason string `json:"failure_reason"`
	}
	if err := json.Unmarshal(b, &doc); err != nil {
		return fmt.Errorf("decode final.json: %w", err)
	}
	s.RunID = strings.TrimSpace(doc.RunID)
	s.CurrentNodeID = strings.TrimSpace(doc.FinalNode)
	switch strings.ToLower(strings.TrimSpace(doc.Status)) {
	case "success":
		s.State = StateSuccess
	case "fail":
		s.State = StateFail
		s.FailureReason = strings.TrimSpace(doc.FailureReason)
	}
	return nil
}

// readProgressTail scans progress.ndjson for its last event.
func (s *Snapshot) readProgressTail(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 2*1024*1024)
	last := ""
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			last = line
		}
	}
	if err := sc.Err(); err != nil {
		return err
	}
	if last == "" {
		return nil
	}

	var ev map[string]any
	if err := json.Unmarshal([]byte(last), &ev); err != nil {
		return fmt.Errorf("decode progress tail: %w", err)
	}
	if s.RunID == "" {
		s.RunID = fieldString(ev, "run_id")
	}
	s.LastEvent = fieldString(ev, "event")
	s.CurrentNodeID = fieldString(ev, "node_id")
	if reason := fieldString(ev, "reason"); reason != "" {
		s.FailureReason = reason
	}
	if raw := fieldString(ev, "ts"); raw != "" {
		if ts, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			s.LastEventAt = ts
		}
	}
	return nil
}

func (s *Snapshot) readCheckpointSummary(path string) {
	b, err := os.ReadFile(path)
	if err != nil {
		return
	}
	var doc struct {
		CurrentNode    string   `json:"current_node"`
		CompletedNodes []string `json:"completed_nodes"`
	}
	if json.Unmarshal(b, &doc) != nil {
		return
	}
	s.CompletedNodes = len(doc.CompletedNodes)
	if s.CurrentNodeID == "" {
		s.CurrentNodeID = doc.CurrentNode
	}
}

// activeRoot resolves the logs tree currently in use: the highest
// restart-<n> subdirectory holding a checkpoint, else the base.
func activeRoot(base string) string {
	entries, err := os.ReadDir(base)
	if err != nil {
		return base
	}
	var indices []int
	for _, ent := range entries {
		if !ent.IsDir() || !strings.HasPrefix(ent.Name(), "restart-") {
			continue
		}
		n, err := strconv.Atoi(strings.TrimPrefix(ent.Name(), "restart-"))
		if err != nil || n < 0 {
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

func restartIndex(base, active string) int {
	if base == active {
		return 0
	}
	n, err := strconv.Atoi(strings.TrimPrefix(filepath.Base(active), "restart-"))
	if err != nil {
		return 0
	}
	return n
}

func fieldString(ev map[string]any, key string) string {
	switch t := ev[key].(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	default:
		return strings.TrimSpace(fmt.Sprint(t))
	}
}
