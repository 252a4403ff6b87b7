package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/danshapiro/attractor/internal/attractor/model"
	"github.com/danshapiro/attractor/internal/attractor/runtime"
)

// GateOption is one choice offered by a human gate, built from an
// outgoing edge.
type GateOption struct {
	Key      string // accelerator key, e.g. "A" from a "[A] Approve" label
	Label    string
	TargetID string
}

// GateQuestion is what an Interviewer is asked to resolve.
type GateQuestion struct {
	NodeID  string
	Prompt  string
	Options []GateOption
}

// Interviewer resolves human gates. Under autonomous operation the
// auto-approve interviewer answers; an interactive caller can supply its
// own implementation.
type Interviewer interface {
	Ask(ctx context.Context, q GateQuestion) (GateOption, error)
}

// AutoApproveInterviewer picks the first offered option.
type AutoApproveInterviewer struct{}

func (AutoApproveInterviewer) Ask(ctx context.Context, q GateQuestion) (GateOption, error) {
	if len(q.Options) == 0 {
		return GateOption{}, fmt.Errorf("human gate %q has no options", q.NodeID)
	}
	return q.Options[0], nil
}

// WaitHumanHandler pauses for an operator choice. Options come from the
// outgoing edge labels; the selection and its label are recorded in the
// context under reserved keys and routing follows the chosen edge.
type WaitHumanHandler struct{}

func (WaitHumanHandler) Execute(ctx context.Context, exec *Execution, node *model.Node) (runtime.Outcome, error) {
	iv := exec.Engine.Interviewer
	if iv == nil {
		return runtime.Outcome{
			Status:        runtime.StatusFail,
			FailureReason: fmt.Sprintf("human gate %q reached without an interviewer (run with --auto-approve for autonomous operation)", node.ID),
		}, nil
	}

	q := GateQuestion{
		NodeID:  node.ID,
		Prompt:  gatePrompt(node),
		Options: gateOptions(exec.Engine.Graph, node),
	}
	choice, err := iv.Ask(ctx, q)
	if err != nil {
		return runtime.Outcome{
			Status:        runtime.StatusFail,
			FailureReason: err.Error(),
		}, nil
	}

	return runtime.Outcome{
		Status:           runtime.StatusSuccess,
		PreferredLabel:   choice.Label,
		SuggestedNextIDs: []string{choice.TargetID},
		ContextUpdates: map[string]string{
			"human.gate.selected": choice.TargetID,
			"human.gate.label":    choice.Label,
		},
		Notes: fmt.Sprintf("gate resolved: %s", choice.Label),
	}, nil
}

func gatePrompt(node *model.Node) string {
	if p := strings.TrimSpace(node.Attr("prompt", "")); p != "" {
		return p
	}
	if l := strings.TrimSpace(node.Label()); l != "" {
		return l
	}
	return node.ID
}

// gateOptions builds the gate's choices from its outgoing edges in
// declaration order. A label like "[A] Approve" yields accelerator "A";
// unlabeled edges get positional accelerators.
func gateOptions(g *model.Graph, node *model.Node) []GateOption {
	var opts []GateOption
	for i, e := range g.Outgoing(node.ID) {
		label := strings.TrimSpace(e.Label())
		key := ""
		if rest, k, ok := cutAccelerator(label); ok {
			key = k
			label = rest
		}
		if label == "" {
			label = e.To
		}
		if key == "" {
			key = fmt.Sprintf("%d", i+1)
		}
		opts = append(opts, GateOption{Key: key, Label: label, TargetID: e.To})
	}
	return opts
}

// cutAccelerator splits "[A] Approve" into ("Approve", "A", true).
func cutAccelerator(label string) (rest, key string, ok bool) {
	if !strings.HasPrefix(label, "[") {
		return label, "", false
	}
	end := strings.Index(label, "]")
	if end <= 1 {
		return label, "", false
	}
	key = strings.TrimSpace(label[1:end])
	rest = strings.TrimSpace(label[end+1:])
	if key == "" {
		return label, "", false
	}
	return rest, key, true
}
