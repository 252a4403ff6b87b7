package engine

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// appendProgress appends one event to {logs_root}/progress.ndjson. The
// stream is the machine-readable run log; `attractor status` tails it.
// Best-effort: a failed write never fails the run.
func (e *Engine) appendProgress(fields map[string]any) {
	if e == nil || e.logsRoot == "" {
		return
	}
	e.progressMu.Lock()
	defer e.progressMu.Unlock()

	fields["ts"] = time.Now().UTC().Format(time.RFC3339Nano)
	fields["run_id"] = e.runID
	b, err := json.Marshal(fields)
	if err != nil {
		return
	}
	f, err := os.OpenFile(filepath.Join(e.logsRoot, "progress.ndjson"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return
	}
	defer f.Close()
	_, _ = f.Write(append(b, '\n'))
}

// Logf writes a human line to stderr unless the run is quiet.
func (e *Engine) Logf(format string, args ...any) {
	if e != nil && e.quiet {
		return
	}
	fmt.Fprintf(os.Stderr, format+"\n", args...)
}

// Warn logs a warning line and mirrors it into the progress stream.
func (e *Engine) Warn(msg string) {
	e.Logf("warn: %s", msg)
	e.appendProgress(map[string]any{"event": "warning", "message": msg})
}
