// Package runtime holds the run-scoped state shared between the engine
// and its handlers: stage outcomes, the context store, checkpoints, and
// the final run record. Everything here persists as plain JSON under the
// logs root.
package runtime

import (
	"encoding/json"
	"fmt"
	"strings"
)

// StageStatus is the canonical per-stage result status.
type StageStatus string

const (
	StatusSuccess        StageStatus = "success"
	StatusPartialSuccess StageStatus = "partial_success"
	StatusRetry          StageStatus = "retry"
	StatusFail           StageStatus = "fail"
	StatusSkipped        StageStatus = "skipped"
)

// ParseStageStatus normalizes a raw status string. Known aliases map to
// canonical statuses; unknown non-empty statuses pass through lowercased
// so custom statuses remain routable by conditional edges. Empty is fail.
func ParseStageStatus(raw string) StageStatus {
	s := strings.ToLower(strings.TrimSpace(raw))
	switch s {
	case "success", "ok", "succeeded":
		return StatusSuccess
	case "partial_success", "partial":
		return StatusPartialSuccess
	case "retry":
		return StatusRetry
	case "fail", "failure", "error", "failed":
		return StatusFail
	case "skipped", "skip":
		return StatusSkipped
	case "":
		return StatusFail
	}
	return StageStatus(s)
}

// IsCanonical reports whether the status is one of the five canonical values.
func (s StageStatus) IsCanonical() bool {
	switch s {
	case StatusSuccess, StatusPartialSuccess, StatusRetry, StatusFail, StatusSkipped:
		return true
	}
	return false
}

// IsSuccess reports whether the status counts as success for routing and
// goal-gate purposes (partial_success does).
func (s StageStatus) IsSuccess() bool {
	return s == StatusSuccess || s == StatusPartialSuccess
}

// Outcome is the structured result a stage reports back to the engine,
// either in-process or via its status.json artifact (which, when present,
// is authoritative).
type Outcome struct {
	Status           StageStatus       `json:"status"`
	PreferredLabel   string            `json:"preferred_label,omitempty"`
	SuggestedNextIDs []string          `json:"suggested_next_ids,omitempty"`
	ContextUpdates   map[string]string `json:"context_updates,omitempty"`
	Notes            string            `json:"notes,omitempty"`
	FailureReason    string            `json:"failure_reason,omitempty"`
	Meta             map[string]string `json:"meta,omitempty"`
}

// Canonicalize normalizes the status and materializes nil maps/slices so
// callers can mutate the outcome without nil checks.
func (o *Outcome) Canonicalize() {
	o.Status = ParseStageStatus(string(o.Status))
	if o.ContextUpdates == nil {
		o.ContextUpdates = map[string]string{}
	}
	if o.Meta == nil {
		o.Meta = map[string]string{}
	}
	if o.SuggestedNextIDs == nil {
		o.SuggestedNextIDs = []string{}
	}
}

// Validate enforces the outcome contract: fail and retry must say why.
func (o *Outcome) Validate() error {
	if o.Status == StatusFail || o.Status == StatusRetry {
		if strings.TrimSpace(o.FailureReason) == "" {
			return fmt.Errorf("outcome with status %q requires failure_reason", o.Status)
		}
	}
	return nil
}

// DecodeOutcomeJSON decodes a status.json payload. Both the canonical
// shape and the legacy wrapper {"outcome": {...}} are accepted.
func DecodeOutcomeJSON(data []byte) (Outcome, error) {
	var out Outcome
	if err := json.Unmarshal(data, &out); err != nil {
		return Outcome{}, fmt.Errorf("decode status.json: %w", err)
	}
	if strings.TrimSpace(string(out.Status)) == "" {
		var wrapper struct {
			Outcome *Outcome `json:"outcome"`
		}
		if err := json.Unmarshal(data, &wrapper); err == nil && wrapper.Outcome != nil {
			out = *wrapper.Outcome
		}
	}
	if strings.TrimSpace(string(out.Status)) == "" {
		return Outcome{}, fmt.Errorf("status.json missing status field")
	}
	out.Canonicalize()
	return out, nil
}
