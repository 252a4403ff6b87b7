package runtime

import (
	"sort"
	"strconv"
	"strings"
	"sync"
)

// Context is the run's key/value state, the sole channel of information
// between nodes. Keys keep their first-set order so snapshots and
// context.json artifacts are stable across runs.
//
// The engine owns the context; handlers mutate it only through the
// outcome's context_updates. The mutex exists for the parallel
// coordinator, which clones per branch and merges on fan-in.
type Context struct {
	mu     sync.RWMutex
	order  []string
	values map[string]string
}

func NewContext() *Context {
	return &Context{values: map[string]string{}}
}

// Get returns the value for key and whether it is present.
func (c *Context) Get(key string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.values[key]
	return v, ok
}

// GetDefault returns the value for key, or def when absent.
func (c *Context) GetDefault(key, def string) string {
	if v, ok := c.Get(key); ok {
		return v
	}
	return def
}

// Set stores key=value, preserving first-set ordering.
func (c *Context) Set(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.values[key]; !ok {
		c.order = append(c.order, key)
	}
	c.values[key] = value
}

// Delete removes a key.
func (c *Context) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.values[key]; !ok {
		return
	}
	delete(c.values, key)
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

// Keys returns all keys in first-set order.
func (c *Context) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.order...)
}

// Snapshot returns a copy of the current values.
func (c *Context) Snapshot() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]string, len(c.values))
	for k, v := range c.values {
		out[k] = v
	}
	return out
}

// Clone returns an independent copy, order included. Parallel branches
// each run over a clone.
func (c *Context) Clone() *Context {
	c.mu.RLock()
	defer c.mu.RUnlock()
	nc := NewContext()
	nc.order = append([]string(nil), c.order...)
	for k, v := range c.values {
		nc.values[k] = v
	}
	return nc
}

// Replace swaps the entire contents for the given snapshot, with keys
// ordered lexically for determinism. Used by checkpoint restore.
func (c *Context) Replace(values map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values = make(map[string]string, len(values))
	c.order = c.order[:0]
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		c.order = append(c.order, k)
		c.values[k] = values[k]
	}
}

// TruthyKey reports whether a context key holds a truthy value
// (anything but empty, "false", "0", "no", "off").
func (c *Context) TruthyKey(key string) bool {
	v, ok := c.Get(key)
	if !ok {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "false", "0", "no", "off":
		return false
	}
	return true
}

// FidelityTruncate is the only implemented fidelity projection policy.
const FidelityTruncate = "truncate"

// DefaultTruncateLimit bounds truncate-projected values when the edge
// does not carry an explicit limit.
const DefaultTruncateLimit = 500

// ValidFidelity reports whether a fidelity attribute value is known.
// "full" is the identity projection; "truncate" may carry a limit suffix
// as in "truncate:200".
func ValidFidelity(v string) bool {
	s := strings.ToLower(strings.TrimSpace(v))
	if s == "" || s == "full" {
		return true
	}
	policy, arg, _ := strings.Cut(s, ":")
	if policy != FidelityTruncate {
		return false
	}
	if arg == "" {
		return true
	}
	n, err := strconv.Atoi(arg)
	return err == nil && n > 0
}

// Project applies a fidelity policy to a single value. The projection is
// edge-scoped: it shapes what the downstream node observes, never the
// canonical stored value.
func Project(value, fidelity string) string {
	s := strings.ToLower(strings.TrimSpace(fidelity))
	if s == "" || s == "full" {
		return value
	}
	policy, arg, _ := strings.Cut(s, ":")
	if policy != FidelityTruncate {
		return value
	}
	limit := DefaultTruncateLimit
	if arg != "" {
		if n, err := strconv.Atoi(arg); err == nil && n > 0 {
			limit = n
		}
	}
	if len(value) <= limit {
		return value
	}
	return value[:limit]
}

// ProjectSnapshot applies a fidelity policy to every value of a snapshot.
func ProjectSnapshot(values map[string]string, fidelity string) map[string]string {
	out := make(map[string]string, len(values))
	for k, v := range values {
		out[k] = Project(v, fidelity)
	}
	return out
}
