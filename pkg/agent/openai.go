package agent

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIRunner streams turns from OpenAI models.
type OpenAIRunner struct {
	client openai.Client
}

// NewOpenAIRunner creates a new OpenAI runner.
func NewOpenAIRunner(apiKey string) (*OpenAIRunner, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai API key is required")
	}

	client := openai.NewClient(option.WithAPIKey(apiKey))
	return &OpenAIRunner{client: client}, nil
}

// Name returns the runner identifier.
func (r *OpenAIRunner) Name() string {
	return "openai"
}

// RunTurn streams one turn from OpenAI, emitting content deltas as they arrive.
func (r *OpenAIRunner) RunTurn(ctx context.Context, turn Turn, emit func(chunk string)) (*TurnResult, error) {
	stream := r.client.Chat.Completions.NewStreaming(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(turn.Model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(turn.Prompt),
		},
		StreamOptions: openai.ChatCompletionStreamOptionsParam{
			IncludeUsage: openai.Bool(true),
		},
	})

	acc := openai.ChatCompletionAccumulator{}
	for stream.Next() {
		chunk := stream.Current()
		acc.AddChunk(chunk)
		if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
			emit(chunk.Choices[0].Delta.Content)
		}
	}
	if err := stream.Err(); err != nil {
		return nil, &RunnerError{Provider: "openai", Err: err}
	}

	return &TurnResult{
		Usage: &Usage{
			PromptTokens:     int(acc.Usage.PromptTokens),
			CompletionTokens: int(acc.Usage.CompletionTokens),
			TotalTokens:      int(acc.Usage.TotalTokens),
		},
	}, nil
}
