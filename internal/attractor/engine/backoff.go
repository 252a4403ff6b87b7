package engine

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/danshapiro/attractor/internal/attractor/model"
)

// BackoffConfig controls the delay between retry attempts.
type BackoffConfig struct {
	InitialDelayMS int
	BackoffFactor  float64
	MaxDelayMS     int
	Jitter         bool
}

func defaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		InitialDelayMS: 200,
		BackoffFactor:  2.0,
		MaxDelayMS:     60_000,
		Jitter:         false,
	}
}

// backoffConfigFor resolves backoff settings: run config, then graph
// attrs, then node attrs, most specific last.
func backoffConfigFor(cfg *RunConfigFile, g *model.Graph, n *model.Node) BackoffConfig {
	bc := defaultBackoffConfig()
	if cfg != nil {
		if cfg.Retry.InitialDelayMS != nil {
			bc.InitialDelayMS = *cfg.Retry.InitialDelayMS
		}
		if cfg.Retry.BackoffFactor != nil {
			bc.BackoffFactor = *cfg.Retry.BackoffFactor
		}
		if cfg.Retry.MaxDelayMS != nil {
			bc.MaxDelayMS = *cfg.Retry.MaxDelayMS
		}
		if cfg.Retry.Jitter != nil {
			bc.Jitter = *cfg.Retry.Jitter
		}
	}
	read := func(get func(string) string) {
		if v := get("retry.backoff.initial_delay_ms"); v != "" {
			if i, err := strconv.Atoi(v); err == nil && i >= 0 {
				bc.InitialDelayMS = i
			}
		}
		if v := get("retry.backoff.backoff_factor"); v != "" {
			if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 1.0 {
				bc.BackoffFactor = f
			}
		}
		if v := get("retry.backoff.max_delay_ms"); v != "" {
			if i, err := strconv.Atoi(v); err == nil && i >= 0 {
				bc.MaxDelayMS = i
			}
		}
		if v := get("retry.backoff.jitter"); v != "" {
			if b, ok := parseBool(v); ok {
				bc.Jitter = b
			}
		}
	}
	if g != nil {
		read(func(k string) string { return strings.TrimSpace(g.Attrs[k]) })
	}
	if n != nil {
		read(func(k string) string { return strings.TrimSpace(n.Attr(k, "")) })
	}
	return bc
}

// DelayForAttempt computes the backoff before retry attempt N (1-based):
// initial * factor^(attempt-1), capped, then an optional deterministic
// jitter multiplier in [0.5, 1.5) derived from the seed.
func DelayForAttempt(attempt int, cfg BackoffConfig, seed string) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(cfg.InitialDelayMS) * math.Pow(cfg.BackoffFactor, float64(attempt-1))
	if cfg.MaxDelayMS > 0 && delay > float64(cfg.MaxDelayMS) {
		delay = float64(cfg.MaxDelayMS)
	}
	if cfg.Jitter {
		delay *= jitterMultiplier(seed)
	}
	return time.Duration(delay) * time.Millisecond
}

// jitterMultiplier maps a seed to [0.5, 1.5) so retries spread out but a
// given run/node/attempt always waits the same amount.
func jitterMultiplier(seed string) float64 {
	sum := sha256.Sum256([]byte(seed))
	u := binary.BigEndian.Uint64(sum[:8])
	frac := float64(u) / float64(math.MaxUint64)
	return 0.5 + frac
}

func backoffDelayForNode(runID string, cfg *RunConfigFile, g *model.Graph, n *model.Node, attempt int) time.Duration {
	bc := backoffConfigFor(cfg, g, n)
	seed := fmt.Sprintf("%s:%s:%d", runID, n.ID, attempt)
	return DelayForAttempt(attempt, bc, seed)
}

func parseBool(v string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "yes", "1", "on":
		return true, true
	case "false", "no", "0", "off":
		return false, true
	}
	return false, false
}
