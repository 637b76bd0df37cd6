package agent

import (
	"context"
	"fmt"
)

// MockRunner replays scripted turns for local runs and tests. Each turn is a
// sequence of chunks, delivered in order through emit.
type MockRunner struct {
	turns [][]string
	index int

	// Prompts and Policies record what each turn received, in order.
	Prompts  []string
	Policies []ToolPolicy

	// Err, when set, is returned once the scripted turns are exhausted.
	Err error

	// UsagePerTurn, when set, is reported as every turn's usage.
	UsagePerTurn *Usage
}

// NewMockRunner creates a mock runner that replays the given turns.
func NewMockRunner(turns ...[]string) *MockRunner {
	return &MockRunner{turns: turns}
}

// NewMockRunnerFromOutputs creates a mock runner emitting each output as a
// single-chunk turn.
func NewMockRunnerFromOutputs(outputs ...string) *MockRunner {
	turns := make([][]string, len(outputs))
	for i, out := range outputs {
		turns[i] = []string{out}
	}
	return &MockRunner{turns: turns}
}

// Name returns the runner identifier.
func (r *MockRunner) Name() string {
	return "mock"
}

// RunTurn replays the next scripted turn.
func (r *MockRunner) RunTurn(_ context.Context, turn Turn, emit func(chunk string)) (*TurnResult, error) {
	r.Prompts = append(r.Prompts, turn.Prompt)
	r.Policies = append(r.Policies, turn.Policy)

	if r.index >= len(r.turns) {
		if r.Err != nil {
			return nil, r.Err
		}
		return nil, fmt.Errorf("mock runner: no scripted turn %d", r.index+1)
	}

	for _, chunk := range r.turns[r.index] {
		emit(chunk)
	}
	r.index++

	return &TurnResult{Usage: r.UsagePerTurn}, nil
}

// TurnsRun reports how many scripted turns have been consumed.
func (r *MockRunner) TurnsRun() int {
	return r.index
}
