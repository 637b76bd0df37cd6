package pipeline

import (
	"fmt"

	"github.com/zen-systems/stageloop/pkg/completion"
)

// NextKind classifies a routing decision.
type NextKind int

const (
	NextGoto NextKind = iota
	NextPause
	NextTerminate
)

// Next is the router's decision for one completed stage.
type Next struct {
	Kind   NextKind
	Stage  string // set for NextGoto
	Reason string // set for NextPause
}

// Route decides the next state for a stage's completion signal. Global end
// signals always win over per-stage table entries; then the transition
// table; then the stage's designated pause signal. Anything else is an
// UnexpectedSignalError. The router does no cycle detection: a table may
// legally route a stage back to itself or an earlier stage, and the
// run-wide turn budget is the only loop guard.
func Route(stageName string, signal completion.Signal, cfg *Config) (Next, error) {
	if cfg.IsEndSignal(signal.Name) {
		return Next{Kind: NextTerminate}, nil
	}

	stage, ok := cfg.Stages[stageName]
	if !ok {
		return Next{}, configErrorf("routing from undeclared stage %q", stageName)
	}

	if target, ok := stage.Transitions[signal.Name]; ok {
		if target == "" {
			return Next{Kind: NextTerminate}, nil
		}
		return Next{Kind: NextGoto, Stage: target}, nil
	}

	if stage.PauseSignal != "" && stage.PauseSignal == signal.Name {
		return Next{Kind: NextPause, Reason: pauseReason(stage, signal)}, nil
	}

	return Next{}, &UnexpectedSignalError{Stage: stageName, Signal: signal.Name}
}

func pauseReason(stage StageSpec, signal completion.Signal) string {
	if reason := signal.Payload["reason"]; reason != "" {
		return reason
	}
	if stage.PauseMessage != "" {
		return stage.PauseMessage
	}
	return fmt.Sprintf("stage %q paused on %s, awaiting external input", stage.Name, signal.Name)
}
