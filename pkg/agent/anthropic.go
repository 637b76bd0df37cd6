package agent

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicRunner streams turns from Claude models.
type AnthropicRunner struct {
	client anthropic.Client
}

// NewAnthropicRunner creates a new Anthropic runner.
func NewAnthropicRunner(apiKey string) (*AnthropicRunner, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic API key is required")
	}

	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &AnthropicRunner{client: client}, nil
}

// Name returns the runner identifier.
func (r *AnthropicRunner) Name() string {
	return "anthropic"
}

// RunTurn streams one turn from Claude, emitting text deltas as they arrive.
func (r *AnthropicRunner) RunTurn(ctx context.Context, turn Turn, emit func(chunk string)) (*TurnResult, error) {
	stream := r.client.Messages.NewStreaming(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(turn.Model),
		MaxTokens: 8192,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(turn.Prompt)),
		},
	})

	message := anthropic.Message{}
	for stream.Next() {
		event := stream.Current()
		if err := message.Accumulate(event); err != nil {
			return nil, fmt.Errorf("anthropic stream accumulate: %w", err)
		}
		switch eventVariant := event.AsAny().(type) {
		case anthropic.ContentBlockDeltaEvent:
			switch delta := eventVariant.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				if delta.Text != "" {
					emit(delta.Text)
				}
			}
		}
	}
	if err := stream.Err(); err != nil {
		return nil, &RunnerError{Provider: "anthropic", Err: err}
	}

	return &TurnResult{
		Usage: &Usage{
			PromptTokens:     int(message.Usage.InputTokens),
			CompletionTokens: int(message.Usage.OutputTokens),
		},
	}, nil
}
