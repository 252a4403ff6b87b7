// Command attractor runs, resumes, validates, and inspects pipeline
// graphs.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/danshapiro/attractor/internal/attractor/engine"
	"github.com/danshapiro/attractor/internal/attractor/runstate"
	"github.com/danshapiro/attractor/internal/attractor/validate"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}
	switch os.Args[1] {
	case "run":
		cmdRun(os.Args[2:])
	case "resume":
		cmdResume(os.Args[2:])
	case "validate":
		cmdValidate(os.Args[2:])
	case "status":
		cmdStatus(os.Args[2:])
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage:")
	fmt.Fprintln(os.Stderr, "  attractor run --graph <file.dot> [--config <run.yaml>] [--run-id <id>] [--logs-root <dir>] [--resume <dir>] [--simulate] [--auto-approve] [--quiet]")
	fmt.Fprintln(os.Stderr, "  attractor resume --logs-root <dir> [--simulate] [--auto-approve] [--quiet]")
	fmt.Fprintln(os.Stderr, "  attractor validate --graph <file.dot>")
	fmt.Fprintln(os.Stderr, "  attractor status --logs-root <dir>")
}

// flagValue pulls the value following args[i], failing fast when absent.
func flagValue(args []string, i int) string {
	if i+1 >= len(args) {
		fmt.Fprintf(os.Stderr, "%s requires a value\n", args[i])
		os.Exit(1)
	}
	return args[i+1]
}

func cmdRun(args []string) {
	var graphPath, configPath, resumeRoot string
	opts := engine.RunOptions{}

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--graph":
			graphPath = flagValue(args, i)
			i++
		case "--config":
			configPath = flagValue(args, i)
			i++
		case "--resume":
			resumeRoot = flagValue(args, i)
			i++
		case "--run-id":
			opts.RunID = flagValue(args, i)
			i++
		case "--logs-root":
			opts.LogsRoot = flagValue(args, i)
			i++
		case "--simulate":
			opts.Simulate = true
		case "--auto-approve":
			opts.AutoApprove = true
		case "--quiet":
			opts.Quiet = true
		default:
			fmt.Fprintf(os.Stderr, "unknown arg: %s\n", args[i])
			os.Exit(1)
		}
	}
	if configPath != "" {
		cfg, err := engine.LoadRunConfigFile(configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		opts.Config = cfg
	}

	// `run --resume <dir>` is an accepted spelling of the resume
	// subcommand.
	if resumeRoot != "" {
		res, err := engine.Resume(context.Background(), resumeRoot, opts)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		reportResult(res)
		return
	}
	if graphPath == "" {
		usage()
		os.Exit(1)
	}

	dotSource, err := os.ReadFile(graphPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	// No deadline: interactive gates and long stages can take hours.
	res, err := engine.Run(context.Background(), dotSource, opts)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	reportResult(res)
}

func cmdResume(args []string) {
	var logsRoot string
	opts := engine.RunOptions{}

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--logs-root":
			logsRoot = flagValue(args, i)
			i++
		case "--simulate":
			opts.Simulate = true
		case "--auto-approve":
			opts.AutoApprove = true
		case "--quiet":
			opts.Quiet = true
		default:
			fmt.Fprintf(os.Stderr, "unknown arg: %s\n", args[i])
			os.Exit(1)
		}
	}
	if logsRoot == "" {
		usage()
		os.Exit(1)
	}

	res, err := engine.Resume(context.Background(), logsRoot, opts)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	reportResult(res)
}

func reportResult(res *engine.Result) {
	fmt.Printf("run_id=%s\n", res.RunID)
	fmt.Printf("logs_root=%s\n", res.LogsRoot)
	fmt.Printf("status=%s\n", res.Status)
	if res.FailureReason != "" {
		fmt.Printf("failure_reason=%s\n", res.FailureReason)
	}
	if string(res.Status) == "success" {
		os.Exit(0)
	}
	os.Exit(1)
}

func cmdValidate(args []string) {
	var graphPath string
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--graph":
			graphPath = flagValue(args, i)
			i++
		default:
			fmt.Fprintf(os.Stderr, "unknown arg: %s\n", args[i])
			os.Exit(1)
		}
	}
	if graphPath == "" {
		usage()
		os.Exit(1)
	}

	dotSource, err := os.ReadFile(graphPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	g, diags, err := engine.Prepare(dotSource)
	for _, d := range diags {
		fmt.Printf("%s: %s (%s)\n", d.Severity, d.Message, d.Rule)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Printf("ok: %s (%s)\n", filepath.Base(graphPath), validate.Classify(g))
	os.Exit(0)
}

func cmdStatus(args []string) {
	var logsRoot string
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--logs-root":
			logsRoot = flagValue(args, i)
			i++
		default:
			fmt.Fprintf(os.Stderr, "unknown arg: %s\n", args[i])
			os.Exit(1)
		}
	}
	if logsRoot == "" {
		usage()
		os.Exit(1)
	}

	s, err := runstate.Load(logsRoot)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Printf("state=%s\n", s.State)
	if s.RunID != "" {
		fmt.Printf("run_id=%s\n", s.RunID)
	}
	if s.CurrentNodeID != "" {
		fmt.Printf("current_node=%s\n", s.CurrentNodeID)
	}
	if s.LastEvent != "" {
		fmt.Printf("last_event=%s\n", s.LastEvent)
	}
	if !s.LastEventAt.IsZero() {
		fmt.Printf("last_event_at=%s\n", s.LastEventAt.Format("2006-01-02T15:04:05Z07:00"))
	}
	fmt.Printf("completed_nodes=%d\n", s.CompletedNodes)
	if s.RestartIndex > 0 {
		fmt.Printf("restart_index=%d\n", s.RestartIndex)
	}
	if s.FailureReason != "" {
		fmt.Printf("failure_reason=%s\n", s.FailureReason)
	}
	if s.PID > 0 {
		fmt.Printf("pid=%d alive=%v\n", s.PID, s.PIDAlive)
	}
	os.Exit(0)
}
