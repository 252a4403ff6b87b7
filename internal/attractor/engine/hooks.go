package engine

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/danshapiro/attractor/internal/attractor/model"
	"github.com/danshapiro/attractor/internal/attractor/runtime"
)

// hookConfig is the resolved pre/post hook pair for one node.
type hookConfig struct {
	Pre      string
	Post     string
	Required bool
}

// hookConfigFor resolves hook commands: node attrs, then graph attrs,
// then the run config.
func (e *Engine) hookConfigFor(node *model.Node) hookConfig {
	pick := func(nodeKey string, cfgVal string) string {
		if v := strings.TrimSpace(node.Attr(nodeKey, "")); v != "" {
			return v
		}
		if v := strings.TrimSpace(e.Graph.Attrs[nodeKey]); v != "" {
			return v
		}
		return strings.TrimSpace(cfgVal)
	}
	hc := hookConfig{}
	var cfgPre, cfgPost string
	var cfgRequired bool
	if e.Opts.Config != nil {
		cfgPre = e.Opts.Config.Hooks.Pre
		cfgPost = e.Opts.Config.Hooks.Post
		cfgRequired = e.Opts.Config.Hooks.Required
	}
	hc.Pre = pick("hooks.pre", cfgPre)
	hc.Post = pick("hooks.post", cfgPost)
	hc.Required = node.AttrBool("hooks.required", cfgRequired)
	return hc
}

// runPreHook runs the pre-execution hook. Environment contract: the hook
// sees the tool name and node id. A non-zero exit only fails the node
// when hooks.required is set; the returned outcome is non-nil in that
// case.
func runPreHook(ctx context.Context, exec *Execution, node *model.Node, hc hookConfig, toolName string) (int, *runtime.Outcome) {
	if hc.Pre == "" {
		return 0, nil
	}
	callID := ulid.Make().String()
	env := []string{
		"ATTRACTOR_TOOL_NAME=" + toolName,
		"ATTRACTOR_NODE_ID=" + node.ID,
		"ATTRACTOR_CALL_ID=" + callID,
	}
	code, err := runHookCommand(ctx, exec, hc.Pre, env, "pre", callID)
	if code != 0 && hc.Required {
		reason := fmt.Sprintf("required pre-hook exited %d for node %s", code, node.ID)
		if err != nil {
			reason += ": " + err.Error()
		}
		return code, &runtime.Outcome{Status: runtime.StatusFail, FailureReason: reason}
	}
	return code, nil
}

// runPostHook runs the post-execution hook, which additionally receives
// the main command's exit code. Post-hook failures are logged, never
// escalated.
func runPostHook(ctx context.Context, exec *Execution, node *model.Node, hc hookConfig, exitCode int) {
	if hc.Post == "" {
		return
	}
	callID := ulid.Make().String()
	env := []string{
		"ATTRACTOR_TOOL_NAME=" + strings.TrimSpace(node.Attr("tool_command", "")),
		"ATTRACTOR_NODE_ID=" + node.ID,
		"ATTRACTOR_EXIT_CODE=" + fmt.Sprint(exitCode),
		"ATTRACTOR_CALL_ID=" + callID,
	}
	if code, err := runHookCommand(ctx, exec, hc.Post, env, "post", callID); err != nil {
		exec.Engine.Warn(fmt.Sprintf("post-hook exit %d for node %s: %v", code, node.ID, err))
	}
}

// runHookCommand executes a hook shell command with a 30s bound and logs
// the result to a hook marker file in the stage directory.
func runHookCommand(ctx context.Context, execCtx *Execution, hookCmd string, extraEnv []string, hookType, callID string) (int, error) {
	cctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	cmd := exec.CommandContext(cctx, "bash", "-c", hookCmd)
	cmd.Dir = execCtx.StageDir
	cmd.Env = append(os.Environ(), extraEnv...)

	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	exitCode := -1
	if cmd.ProcessState != nil {
		exitCode = cmd.ProcessState.ExitCode()
	}

	_ = runtime.WriteJSONFile(filepath.Join(execCtx.StageDir, "hook_"+hookType+".json"), map[string]any{
		"hook_type": hookType,
		"hook_cmd":  hookCmd,
		"call_id":   callID,
		"exit_code": exitCode,
		"stdout":    truncate(stdout.String(), 4000),
		"stderr":    truncate(stderr.String(), 4000),
		"timed_out": cctx.Err() == context.DeadlineExceeded,
	})

	execCtx.Engine.appendProgress(map[string]any{
		"event":     "hook_" + hookType,
		"node_id":   execCtx.currentNodeID(),
		"exit_code": exitCode,
	})

	return exitCode, runErr
}

func (x *Execution) currentNodeID() string {
	if x == nil || x.Engine == nil {
		return ""
	}
	return x.Engine.Context.GetDefault("current_node", "")
}
