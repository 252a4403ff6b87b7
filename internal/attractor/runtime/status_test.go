package runtime

import (
	"path/filepath"
	"testing"
)

func TestParseStageStatus_Aliases(t *testing.T) {
	cases := map[string]StageStatus{
		"success": StatusSuccess,
		"OK":      StatusSuccess,
		"partial": StatusPartialSuccess,
		"retry":   StatusRetry,
		"error":   StatusFail,
		"failed":  StatusFail,
		"skip":    StatusSkipped,
		"":        StatusFail,
		"blocked": StageStatus("blocked"), // custom statuses pass through
	}
	for raw, want := range cases {
		if got := ParseStageStatus(raw); got != want {
			t.Fatalf("ParseStageStatus(%q): got %q want %q", raw, got, want)
		}
	}
}

func TestIsSuccess_CoversPartial(t *testing.T) {
	if !StatusSuccess.IsSuccess() || !StatusPartialSuccess.IsSuccess() {
		t.Fatal("success and partial_success both count as success")
	}
	for _, s := range []StageStatus{StatusRetry, StatusFail, StatusSkipped} {
		if s.IsSuccess() {
			t.Fatalf("%q must not count as success", s)
		}
	}
}

func TestOutcome_ValidateRequiresReason(t *testing.T) {
	o := Outcome{Status: StatusFail}
	if err := o.Validate(); err == nil {
		t.Fatal("fail without failure_reason must be rejected")
	}
	o.FailureReason = "compile error"
	if err := o.Validate(); err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	ok := Outcome{Status: StatusSuccess}
	if err := ok.Validate(); err != nil {
		t.Fatalf("success needs no reason: %v", err)
	}
}

func TestDecodeOutcomeJSON_CanonicalAndLegacy(t *testing.T) {
	out, err := DecodeOutcomeJSON([]byte(`{"status":"OK","notes":"done"}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Status != StatusSuccess || out.Notes != "done" {
		t.Fatalf("decoded: %+v", out)
	}

	out, err = DecodeOutcomeJSON([]byte(`{"outcome":{"status":"partial","failure_reason":""}}`))
	if err != nil {
		t.Fatalf("legacy decode: %v", err)
	}
	if out.Status != StatusPartialSuccess {
		t.Fatalf("legacy wrapper: %+v", out)
	}

	if _, err := DecodeOutcomeJSON([]byte(`{"notes":"no status"}`)); err == nil {
		t.Fatal("missing status must be rejected")
	}
}

func TestDecodeValidatedOutcome_SchemaRejectsGarbage(t *testing.T) {
	if _, err := DecodeValidatedOutcome([]byte(`{"status": 42}`)); err == nil {
		t.Fatal("non-string status must fail schema validation")
	}
	if _, err := DecodeValidatedOutcome([]byte(`[1,2,3]`)); err == nil {
		t.Fatal("non-object must fail schema validation")
	}
	out, err := DecodeValidatedOutcome([]byte(`{"status":"success","context_updates":{"k":"v"}}`))
	if err != nil {
		t.Fatalf("valid payload: %v", err)
	}
	if out.ContextUpdates["k"] != "v" {
		t.Fatalf("context updates: %+v", out.ContextUpdates)
	}
}

func TestCheckpoint_SaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "checkpoint.json")

	cp := NewCheckpoint()
	cp.CurrentNode = "build"
	cp.MarkCompleted("plan")
	cp.MarkCompleted("plan") // idempotent
	cp.Context["k"] = "v"
	cp.NodeOutcomes["plan"] = NodeOutcome{Status: StatusSuccess, Attempt: 1}
	cp.NodeVisits["plan"] = 1
	cp.RestartIndex = 2

	if err := cp.Save(path); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := LoadCheckpoint(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.CurrentNode != "build" || got.RestartIndex != 2 {
		t.Fatalf("roundtrip: %+v", got)
	}
	if len(got.CompletedNodes) != 1 || got.CompletedNodes[0] != "plan" {
		t.Fatalf("completed: %v", got.CompletedNodes)
	}
	if !got.Completed("plan") {
		t.Fatal("plan completed with success")
	}
	if got.Completed("build") {
		t.Fatal("build has no outcome record")
	}
}

func TestCheckpoint_CompletedRequiresSuccessfulOutcome(t *testing.T) {
	cp := NewCheckpoint()
	cp.MarkCompleted("n")
	cp.NodeOutcomes["n"] = NodeOutcome{Status: StatusFail}
	if cp.Completed("n") {
		t.Fatal("failed outcome is not completed")
	}
	cp.NodeOutcomes["n"] = NodeOutcome{Status: StatusSkipped}
	if !cp.Completed("n") {
		t.Fatal("skipped counts as completed")
	}
}
