package engine

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "attractor.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadRunConfigFile(t *testing.T) {
	cfg, err := LoadRunConfigFile(writeConfig(t, `
version: 1
logs:
  root: /tmp/runs
runtime:
  stage_timeout_ms: 120000
  max_parallel: 8
retry:
  initial_delay_ms: 50
  backoff_factor: 1.5
hooks:
  pre: "echo pre"
  required: true
artifacts:
  exclude_globs:
    - "**/*.log"
`))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Logs.Root != "/tmp/runs" {
		t.Fatalf("logs root: %q", cfg.Logs.Root)
	}
	if cfg.Runtime.StageTimeoutMS == nil || *cfg.Runtime.StageTimeoutMS != 120000 {
		t.Fatalf("stage timeout: %v", cfg.Runtime.StageTimeoutMS)
	}
	if cfg.Runtime.MaxParallel == nil || *cfg.Runtime.MaxParallel != 8 {
		t.Fatalf("max parallel: %v", cfg.Runtime.MaxParallel)
	}
	if cfg.Retry.BackoffFactor == nil || *cfg.Retry.BackoffFactor != 1.5 {
		t.Fatalf("backoff factor: %v", cfg.Retry.BackoffFactor)
	}
	if cfg.Hooks.Pre != "echo pre" || !cfg.Hooks.Required {
		t.Fatalf("hooks: %+v", cfg.Hooks)
	}
	if len(cfg.Artifacts.ExcludeGlobs) != 1 || cfg.Artifacts.ExcludeGlobs[0] != "**/*.log" {
		t.Fatalf("exclude globs: %v", cfg.Artifacts.ExcludeGlobs)
	}
}

func TestLoadRunConfigFile_DefaultExcludeGlobs(t *testing.T) {
	cfg, err := LoadRunConfigFile(writeConfig(t, "version: 1\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.Artifacts.ExcludeGlobs) != 2 {
		t.Fatalf("default globs: %v", cfg.Artifacts.ExcludeGlobs)
	}
	if cfg.Artifacts.ExcludeGlobs[0] != "**/*.tmp" {
		t.Fatalf("default globs: %v", cfg.Artifacts.ExcludeGlobs)
	}
}

func TestLoadRunConfigFile_RejectsBadValues(t *testing.T) {
	cases := []struct {
		name string
		yaml string
		want string
	}{
		{"negative timeout", "runtime:\n  stage_timeout_ms: -1\n", "stage_timeout_ms"},
		{"negative delay", "retry:\n  initial_delay_ms: -5\n", "initial_delay_ms"},
		{"shrinking backoff", "retry:\n  backoff_factor: 0.5\n", "backoff_factor"},
		{"malformed yaml", "runtime: [\n", "parse run config"},
	}
	for _, tc := range cases {
		_, err := LoadRunConfigFile(writeConfig(t, tc.yaml))
		if err == nil {
			t.Fatalf("%s: want error", tc.name)
		}
		if !strings.Contains(err.Error(), tc.want) {
			t.Fatalf("%s: got %v", tc.name, err)
		}
	}
}
