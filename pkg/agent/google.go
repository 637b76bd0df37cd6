package agent

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// GoogleRunner streams turns from Gemini models.
type GoogleRunner struct {
	client *genai.Client
}

// NewGoogleRunner creates a new Google Gemini runner.
func NewGoogleRunner(apiKey string) (*GoogleRunner, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("google API key is required")
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create google client: %w", err)
	}

	return &GoogleRunner{client: client}, nil
}

// Name returns the runner identifier.
func (r *GoogleRunner) Name() string {
	return "google"
}

// RunTurn streams one turn from Gemini, emitting candidate text as it arrives.
func (r *GoogleRunner) RunTurn(ctx context.Context, turn Turn, emit func(chunk string)) (*TurnResult, error) {
	var usage *genai.GenerateContentResponseUsageMetadata
	for resp, err := range r.client.Models.GenerateContentStream(ctx, turn.Model, genai.Text(turn.Prompt), nil) {
		if err != nil {
			return nil, &RunnerError{Provider: "google", Err: err}
		}
		if text := resp.Text(); text != "" {
			emit(text)
		}
		if resp.UsageMetadata != nil {
			usage = resp.UsageMetadata
		}
	}

	result := &TurnResult{}
	if usage != nil {
		result.Usage = &Usage{
			PromptTokens:     int(usage.PromptTokenCount),
			CompletionTokens: int(usage.CandidatesTokenCount),
			TotalTokens:      int(usage.TotalTokenCount),
		}
	}
	return result, nil
}
