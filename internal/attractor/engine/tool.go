package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/danshapiro/attractor/internal/attractor/model"
	"github.com/danshapiro/attractor/internal/attractor/runtime"
)

// ToolHandler runs a tool node: the configured shell command, executed in
// the stage directory with the current context serialized alongside it.
//
// Artifact contract: context.json (the projected context view the command
// may read), tool_output.txt (stdout), stderr.log, tool_invocation.json
// (command, exit code, timing), and optionally status.json written by the
// command itself (authoritative when present).
type ToolHandler struct{}

func (ToolHandler) Execute(ctx context.Context, exec *Execution, node *model.Node) (runtime.Outcome, error) {
	cmdStr := strings.TrimSpace(node.Attr("tool_command", ""))
	if cmdStr == "" {
		return runtime.Outcome{
			Status:        runtime.StatusFail,
			FailureReason: fmt.Sprintf("tool node %q missing tool_command", node.ID),
		}, nil
	}

	if err := runtime.WriteJSONFile(filepath.Join(exec.StageDir, "context.json"), exec.ContextView()); err != nil {
		return runtime.Outcome{}, err
	}

	hook := exec.Engine.hookConfigFor(node)
	if out, blocked := runPreHook(ctx, exec, node, hook, cmdStr); blocked != nil {
		return *blocked, nil
	} else if out != 0 {
		exec.Engine.Warn(fmt.Sprintf("pre-hook exit %d for node %s (not required, continuing)", out, node.ID))
	}

	start := time.Now()
	exitCode, runErr := runToolCommand(ctx, exec, node, cmdStr)
	elapsed := time.Since(start)

	_ = runtime.WriteJSONFile(filepath.Join(exec.StageDir, "tool_invocation.json"), map[string]any{
		"command":     cmdStr,
		"exit_code":   exitCode,
		"duration_ms": elapsed.Milliseconds(),
		"timed_out":   errors.Is(ctx.Err(), context.DeadlineExceeded),
	})

	runPostHook(ctx, exec, node, hook, exitCode)

	if runErr != nil {
		reason := runErr.Error()
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			reason = fmt.Sprintf("tool command timed out: %s", reason)
		}
		return runtime.Outcome{
			Status:        runtime.StatusFail,
			FailureReason: reason,
			Meta:          map[string]string{"exit_code": fmt.Sprint(exitCode)},
		}, nil
	}

	// Exit 0 with no status.json: auto_status (default on for tools)
	// synthesizes success; the engine attaches the note.
	outBytes, err := os.ReadFile(filepath.Join(exec.StageDir, "tool_output.txt"))
	out := runtime.Outcome{Status: runtime.StatusSuccess}
	if err == nil && len(outBytes) > 0 {
		out.ContextUpdates = map[string]string{
			"tool.output": truncate(string(outBytes), 8000),
		}
	}
	return out, nil
}

// runToolCommand executes `bash -c <cmd>` in the stage dir, streaming
// stdout to tool_output.txt and stderr to stderr.log. The context
// deadline terminates the subprocess, not the engine.
func runToolCommand(ctx context.Context, exec *Execution, node *model.Node, cmdStr string) (int, error) {
	stdout, err := os.Create(filepath.Join(exec.StageDir, "tool_output.txt"))
	if err != nil {
		return -1, err
	}
	defer stdout.Close()
	stderr, err := os.Create(filepath.Join(exec.StageDir, "stderr.log"))
	if err != nil {
		return -1, err
	}
	defer stderr.Close()

	cmd := toolCommandContext(ctx, cmdStr)
	cmd.Dir = exec.StageDir
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.Env = append(os.Environ(),
		"ATTRACTOR_NODE_ID="+node.ID,
		"ATTRACTOR_RUN_ID="+exec.Engine.runID,
		"ATTRACTOR_LOGS_ROOT="+exec.Engine.logsRoot,
		"ATTRACTOR_STAGE_DIR="+exec.StageDir,
	)

	runErr := cmd.Run()
	exitCode := -1
	if cmd.ProcessState != nil {
		exitCode = cmd.ProcessState.ExitCode()
	}
	if runErr != nil {
		return exitCode, fmt.Errorf("tool command failed (exit %d): %w", exitCode, runErr)
	}
	return exitCode, nil
}

func toolCommandContext(ctx context.Context, cmdStr string) *exec.Cmd {
	return exec.CommandContext(ctx, "bash", "-c", cmdStr)
}
