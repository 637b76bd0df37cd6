package agent

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// RunnerError reports a failed agent turn with enough metadata for the
// caller to decide whether a later resume is worth attempting.
type RunnerError struct {
	Provider  string // runner name ("anthropic", "openai", ...)
	Status    int    // provider HTTP status when known, 0 otherwise
	Temporary bool   // provider marked the failure retryable
	Err       error
}

func (e *RunnerError) Error() string {
	name := e.Provider
	if name == "" {
		name = "agent"
	}
	switch {
	case e.Err != nil && e.Status != 0:
		return fmt.Sprintf("%s turn failed (status %d): %v", name, e.Status, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s turn failed: %v", name, e.Err)
	default:
		return fmt.Sprintf("%s turn failed (status %d)", name, e.Status)
	}
}

func (e *RunnerError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether an error is safe to retry on a later resume.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var runnerErr *RunnerError
	if errors.As(err, &runnerErr) {
		if runnerErr.Temporary {
			return true
		}
		if runnerErr.Status == 429 || (runnerErr.Status >= 500 && runnerErr.Status <= 599) {
			return true
		}
	}
	return false
}
