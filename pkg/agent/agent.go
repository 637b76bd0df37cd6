package agent

import "context"

// Runner executes agent turns. One call to RunTurn is one turn: the runner
// sends the rendered prompt, streams output chunks to emit in arrival order,
// and returns once the agent judges its turn complete. How the text is
// produced is the runner's business.
type Runner interface {
	// Name returns the runner's identifier.
	Name() string

	// RunTurn executes a single turn. emit is called for each output chunk;
	// chunks may be of any size and may split tokens arbitrarily.
	RunTurn(ctx context.Context, turn Turn, emit func(chunk string)) (*TurnResult, error)
}

// Turn carries everything a runner needs for one invocation.
type Turn struct {
	Prompt string
	Model  string
	Policy ToolPolicy
}

// TurnResult reports per-turn metadata once the turn is complete.
type TurnResult struct {
	Usage *Usage
}

// Usage captures normalized token usage for a turn.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Add accumulates another usage record into u.
func (u *Usage) Add(other *Usage) {
	if other == nil {
		return
	}
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	total := other.TotalTokens
	if total == 0 {
		total = other.PromptTokens + other.CompletionTokens
	}
	u.TotalTokens += total
}
