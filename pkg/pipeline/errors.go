package pipeline

import "fmt"

// ErrorKind labels terminal failure causes for events and exit reporting.
type ErrorKind string

const (
	ErrorKindConfig            ErrorKind = "config"
	ErrorKindUnexpectedSignal  ErrorKind = "unexpected_signal"
	ErrorKindIterationExceeded ErrorKind = "iteration_exceeded"
	ErrorKindHook              ErrorKind = "hook"
	ErrorKindAgent             ErrorKind = "agent"
	ErrorKindAgentTransient    ErrorKind = "agent_transient"
	ErrorKindPersist           ErrorKind = "persist"
	ErrorKindInternal          ErrorKind = "internal"
)

// ConfigError reports a malformed or incomplete pipeline configuration.
// It is raised at construction time, before any stage executes.
type ConfigError struct {
	Detail string
}

func (e *ConfigError) Error() string {
	return "pipeline config: " + e.Detail
}

func configErrorf(format string, args ...any) *ConfigError {
	return &ConfigError{Detail: fmt.Sprintf(format, args...)}
}

// UnexpectedSignalError reports a completion signal with neither a
// transition entry nor end-signal membership.
type UnexpectedSignalError struct {
	Stage  string
	Signal string
}

func (e *UnexpectedSignalError) Error() string {
	return fmt.Sprintf("stage %q produced signal %q with no declared transition", e.Stage, e.Signal)
}

// IterationExceededError reports an exhausted turn budget. Stage is empty
// when the run-wide budget was the one exhausted.
type IterationExceededError struct {
	Stage string
	Limit int
}

func (e *IterationExceededError) Error() string {
	if e.Stage == "" {
		return fmt.Sprintf("run budget of %d turns exhausted", e.Limit)
	}
	return fmt.Sprintf("stage %q exhausted %d turns without a completion signal", e.Stage, e.Limit)
}

// HookError reports a failed before/after-stage hook. Hook failures are
// fatal: a silently skipped context mutation would corrupt every
// downstream stage.
type HookError struct {
	Stage string
	Phase string // "before" or "after"
	Err   error
}

func (e *HookError) Error() string {
	return fmt.Sprintf("%s-stage hook failed for %q: %v", e.Phase, e.Stage, e.Err)
}

func (e *HookError) Unwrap() error {
	return e.Err
}
