package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestRunnerErrorMessageIncludesProviderAndStatus(t *testing.T) {
	err := &RunnerError{Provider: "openai", Status: 429, Err: errors.New("rate limited")}
	got := err.Error()
	if !strings.Contains(got, "openai") {
		t.Errorf("message %q missing provider name", got)
	}
	if !strings.Contains(got, "429") {
		t.Errorf("message %q missing status", got)
	}
	if !strings.Contains(got, "rate limited") {
		t.Errorf("message %q missing cause", got)
	}
}

func TestRunnerErrorMessageWithoutProvider(t *testing.T) {
	err := &RunnerError{Err: errors.New("boom")}
	if got := err.Error(); !strings.HasPrefix(got, "agent turn failed") {
		t.Errorf("message = %q, want generic agent prefix", got)
	}
}

func TestRunnerErrorUnwrap(t *testing.T) {
	cause := errors.New("connection reset")
	err := fmt.Errorf("turn 3: %w", &RunnerError{Provider: "anthropic", Err: cause})
	if !errors.Is(err, cause) {
		t.Error("wrapped cause not found via errors.Is")
	}
	var runnerErr *RunnerError
	if !errors.As(err, &runnerErr) {
		t.Fatal("RunnerError not found via errors.As")
	}
	if runnerErr.Provider != "anthropic" {
		t.Errorf("Provider = %q, want anthropic", runnerErr.Provider)
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"deadline", context.DeadlineExceeded, true},
		{"canceled", context.Canceled, false},
		{"rate limit", &RunnerError{Provider: "openai", Status: 429}, true},
		{"server error", &RunnerError{Provider: "anthropic", Status: 503}, true},
		{"bad request", &RunnerError{Provider: "anthropic", Status: 400}, false},
		{"temporary flag", &RunnerError{Provider: "google", Temporary: true}, true},
		{"plain error", errors.New("parse failure"), false},
		{"wrapped server error", fmt.Errorf("turn 2: %w", &RunnerError{Status: 500}), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.want {
				t.Errorf("IsTransient(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestRunnerConstructorsRejectEmptyKey(t *testing.T) {
	if _, err := NewAnthropicRunner(""); err == nil {
		t.Error("NewAnthropicRunner accepted empty key")
	}
	if _, err := NewOpenAIRunner(""); err == nil {
		t.Error("NewOpenAIRunner accepted empty key")
	}
	if _, err := NewGoogleRunner(""); err == nil {
		t.Error("NewGoogleRunner accepted empty key")
	}
}

func TestRunnerConstructorsAcceptConfiguredKey(t *testing.T) {
	anth, err := NewAnthropicRunner("sk-ant-test")
	if err != nil {
		t.Fatalf("NewAnthropicRunner: %v", err)
	}
	if anth.Name() != "anthropic" {
		t.Errorf("Name() = %q, want anthropic", anth.Name())
	}

	oai, err := NewOpenAIRunner("sk-test")
	if err != nil {
		t.Fatalf("NewOpenAIRunner: %v", err)
	}
	if oai.Name() != "openai" {
		t.Errorf("Name() = %q, want openai", oai.Name())
	}
}
