package runtime

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

type FinalStatus string

const (
	FinalSuccess FinalStatus = "success"
	FinalFail    FinalStatus = "fail"
)

// FinalOutcome is the terminal run record written once when a run ends,
// whatever the reason. Status inspection treats it as authoritative.
type FinalOutcome struct {
	Timestamp time.Time   `json:"timestamp"`
	Status    FinalStatus `json:"status"`

	RunID         string `json:"run_id"`
	FinalNode     string `json:"final_node,omitempty"`
	FailureReason string `json:"failure_reason,omitempty"`
}

func (fo *FinalOutcome) Save(path string) error {
	if fo == nil {
		return fmt.Errorf("final outcome is nil")
	}
	if fo.Timestamp.IsZero() {
		fo.Timestamp = time.Now().UTC()
	}
	return WriteJSONFile(path, fo)
}

func LoadFinalOutcome(path string) (*FinalOutcome, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var fo FinalOutcome
	if err := json.Unmarshal(b, &fo); err != nil {
		return nil, fmt.Errorf("load final outcome %s: %w", path, err)
	}
	return &fo, nil
}
