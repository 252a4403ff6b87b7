package engine

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// RunConfigFile is the optional YAML run configuration. Everything has a
// working default; the file exists so operators can pin runtime policy
// without editing the graph.
type RunConfigFile struct {
	Version int `json:"version" yaml:"version"`

	Logs struct {
		Root string `json:"root,omitempty" yaml:"root,omitempty"`
	} `json:"logs,omitempty" yaml:"logs,omitempty"`

	Runtime struct {
		StageTimeoutMS *int `json:"stage_timeout_ms,omitempty" yaml:"stage_timeout_ms,omitempty"`
		MaxParallel    *int `json:"max_parallel,omitempty" yaml:"max_parallel,omitempty"`
		MaxRestarts    *int `json:"max_restarts,omitempty" yaml:"max_restarts,omitempty"`
	} `json:"runtime,omitempty" yaml:"runtime,omitempty"`

	Retry struct {
		InitialDelayMS *int     `json:"initial_delay_ms,omitempty" yaml:"initial_delay_ms,omitempty"`
		BackoffFactor  *float64 `json:"backoff_factor,omitempty" yaml:"backoff_factor,omitempty"`
		MaxDelayMS     *int     `json:"max_delay_ms,omitempty" yaml:"max_delay_ms,omitempty"`
		Jitter         *bool    `json:"jitter,omitempty" yaml:"jitter,omitempty"`
	} `json:"retry,omitempty" yaml:"retry,omitempty"`

	Hooks struct {
		Pre      string `json:"pre,omitempty" yaml:"pre,omitempty"`
		Post     string `json:"post,omitempty" yaml:"post,omitempty"`
		Required bool   `json:"required,omitempty" yaml:"required,omitempty"`
	} `json:"hooks,omitempty" yaml:"hooks,omitempty"`

	Artifacts struct {
		ExcludeGlobs []string `json:"exclude_globs,omitempty" yaml:"exclude_globs,omitempty"`
	} `json:"artifacts,omitempty" yaml:"artifacts,omitempty"`
}

// LoadRunConfigFile parses a YAML (or JSON, YAML being a superset here)
// run config from disk.
func LoadRunConfigFile(path string) (*RunConfigFile, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg RunConfigFile
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse run config %s: %w", path, err)
	}
	applyRunConfigDefaults(&cfg)
	if err := validateRunConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// defaultArtifactExcludes keeps scratch files out of the artifact index.
var defaultArtifactExcludes = []string{
	"**/*.tmp",
	"**/.tmpbuild/**",
}

func applyRunConfigDefaults(cfg *RunConfigFile) {
	if cfg == nil {
		return
	}
	cfg.Artifacts.ExcludeGlobs = trimNonEmpty(cfg.Artifacts.ExcludeGlobs)
	if len(cfg.Artifacts.ExcludeGlobs) == 0 {
		cfg.Artifacts.ExcludeGlobs = append([]string(nil), defaultArtifactExcludes...)
	}
}

func validateRunConfig(cfg *RunConfigFile) error {
	if cfg == nil {
		return nil
	}
	check := func(name string, v *int) error {
		if v != nil && *v < 0 {
			return fmt.Errorf("run config: %s must be non-negative", name)
		}
		return nil
	}
	if err := check("runtime.stage_timeout_ms", cfg.Runtime.StageTimeoutMS); err != nil {
		return err
	}
	if err := check("runtime.max_parallel", cfg.Runtime.MaxParallel); err != nil {
		return err
	}
	if err := check("runtime.max_restarts", cfg.Runtime.MaxRestarts); err != nil {
		return err
	}
	if err := check("retry.initial_delay_ms", cfg.Retry.InitialDelayMS); err != nil {
		return err
	}
	if err := check("retry.max_delay_ms", cfg.Retry.MaxDelayMS); err != nil {
		return err
	}
	if cfg.Retry.BackoffFactor != nil && *cfg.Retry.BackoffFactor < 1.0 {
		return fmt.Errorf("run config: retry.backoff_factor must be >= 1.0")
	}
	return nil
}

func trimNonEmpty(in []string) []string {
	var out []string
	for _, s := range in {
		if t := strings.TrimSpace(s); t != "" {
			out = append(out, t)
		}
	}
	return out
}
