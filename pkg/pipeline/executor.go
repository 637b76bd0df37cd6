package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zen-systems/stageloop/pkg/agent"
	"github.com/zen-systems/stageloop/pkg/completion"
)

// Renderer resolves a stage's prompt reference against the current context.
// Templates and substitution syntax are opaque to the executor.
type Renderer interface {
	Render(ref string, ctx *Context) (string, error)
}

// Runner drives a pipeline: it renders prompts, streams agent turns into the
// stage's completion detector, fires hooks, routes on the resulting signal,
// and persists the session after every transition. One Runner executes one
// run at a time; a run is strictly sequential.
type Runner struct {
	Agent  agent.Runner
	Render Renderer
	Store  SessionStore
	Hooks  Hooks
	Events EventSink
	Logger func(format string, args ...any)

	// Model is the default model handed to the agent; a stage may override it.
	Model string

	// MaxIterations is the run-wide turn budget, independent of per-stage
	// max_turns. Zero means DefaultMaxIterations.
	MaxIterations int
}

// Run executes the pipeline from session.CurrentStage until it terminates,
// pauses, or fails. The returned status is always one of completed, paused,
// or failed, and the session has been persisted with that status before Run
// returns. Resuming a paused session re-enters here with the paused stage as
// the current stage; that is the only non-start entry point.
func (r *Runner) Run(ctx context.Context, cfg *Config, session *Session) (Status, error) {
	if cfg == nil {
		return StatusFailed, configErrorf("pipeline config is required")
	}
	if err := cfg.Validate(); err != nil {
		// Config problems surface before any stage executes and before
		// anything is persisted.
		return StatusFailed, err
	}
	if session == nil {
		return StatusFailed, fmt.Errorf("session is required")
	}
	if r.Agent == nil {
		return StatusFailed, fmt.Errorf("agent runner is required")
	}
	if r.Store == nil {
		return StatusFailed, fmt.Errorf("session store is required")
	}

	hooks := r.Hooks
	if hooks == nil {
		hooks = NopHooks{}
	}
	budget := r.MaxIterations
	if budget <= 0 {
		budget = DefaultMaxIterations
	}

	session.Status = StatusRunning
	session.PauseReason = ""
	if err := r.persist(session); err != nil {
		return StatusFailed, err
	}
	r.logf("pipeline %s: starting at stage %s (session %s)", cfg.Name, session.CurrentStage, session.ID)

	for {
		stage, ok := cfg.Stages[session.CurrentStage]
		if !ok {
			// Unreachable after Validate, but never worth crashing over.
			err := configErrorf("stage %q is not declared", session.CurrentStage)
			return r.fail(session, err, ErrorKindConfig)
		}

		if err := hooks.BeforeStage(session.CurrentStage, session.Context); err != nil {
			hookErr := &HookError{Stage: session.CurrentStage, Phase: "before", Err: err}
			return r.fail(session, hookErr, ErrorKindHook)
		}

		r.emit(Event{Kind: EventStageStarted, Stage: session.CurrentStage, Turn: session.TotalTurns})

		signal, stageUsage, err := r.runStage(ctx, cfg, stage, session, budget)
		if err != nil {
			return r.fail(session, err, errorKind(err))
		}

		session.Context.Merge(signal.Payload)
		if err := hooks.AfterStage(session.CurrentStage, *signal, session.Context); err != nil {
			hookErr := &HookError{Stage: session.CurrentStage, Phase: "after", Err: err}
			return r.fail(session, hookErr, ErrorKindHook)
		}

		session.StageHistory = append(session.StageHistory, StageVisit{Stage: session.CurrentStage, Signal: signal.Name})
		session.addArtifactPaths(signal.Payload)
		session.Usage.Add(stageUsage)

		r.emit(Event{
			Kind:   EventStageCompleted,
			Stage:  session.CurrentStage,
			Turn:   session.TotalTurns,
			Signal: signal.Name,
			Usage:  stageUsage,
		})

		next, err := Route(session.CurrentStage, *signal, cfg)
		if err != nil {
			return r.fail(session, err, errorKind(err))
		}

		switch next.Kind {
		case NextTerminate:
			session.Status = StatusCompleted
			if err := r.persist(session); err != nil {
				return StatusFailed, err
			}
			r.emit(Event{Kind: EventRunCompleted, Stage: session.CurrentStage, Turn: session.TotalTurns, Signal: signal.Name})
			r.logf("pipeline %s: completed on %s after %d turns", cfg.Name, signal.Name, session.TotalTurns)
			return StatusCompleted, nil

		case NextPause:
			session.Status = StatusPaused
			session.PauseReason = next.Reason
			if err := r.persist(session); err != nil {
				return StatusFailed, err
			}
			r.emit(Event{Kind: EventPaused, Stage: session.CurrentStage, Turn: session.TotalTurns, Reason: next.Reason})
			r.logf("pipeline %s: paused at %s: %s", cfg.Name, session.CurrentStage, next.Reason)
			return StatusPaused, nil

		default:
			r.logf("pipeline %s: %s -> %s on %s", cfg.Name, session.CurrentStage, next.Stage, signal.Name)
			session.CurrentStage = next.Stage
			if err := r.persist(session); err != nil {
				return StatusFailed, err
			}
		}
	}
}

// runStage drives agent turns for one stage invocation until its completion
// detector accepts a signal or a turn budget runs out. The detector spans
// turns: a stage-run produces exactly one signal.
func (r *Runner) runStage(ctx context.Context, cfg *Config, stage StageSpec, session *Session, budget int) (*completion.Signal, *agent.Usage, error) {
	detector, err := stage.Completion.NewDetector(cfg.accepts(stage))
	if err != nil {
		return nil, nil, configErrorf("stage %q: %v", stage.Name, err)
	}

	policy := stage.Tools
	if policy.IsEmpty() {
		policy = agent.DefaultToolPolicy()
	}
	model := stage.Model
	if model == "" {
		model = r.Model
	}

	stageUsage := &agent.Usage{}
	maxTurns := stage.maxTurns()

	var signal *completion.Signal
	for turn := 1; turn <= maxTurns; turn++ {
		if session.TotalTurns >= budget {
			return nil, stageUsage, &IterationExceededError{Limit: budget}
		}

		prompt, err := r.renderPrompt(stage.PromptRef, session.Context)
		if err != nil {
			return nil, stageUsage, fmt.Errorf("render prompt for stage %q: %w", stage.Name, err)
		}

		r.logf("stage %s: turn %d/%d", stage.Name, turn, maxTurns)
		result, err := r.Agent.RunTurn(ctx, agent.Turn{Prompt: prompt, Model: model, Policy: policy}, func(chunk string) {
			if signal != nil {
				return
			}
			if sig, ok := detector.Feed(chunk); ok {
				signal = sig
			}
		})
		if err != nil {
			return nil, stageUsage, fmt.Errorf("stage %q agent error: %w", stage.Name, err)
		}

		session.TotalTurns++
		if result != nil {
			stageUsage.Add(result.Usage)
		}
		if signal != nil {
			r.logf("stage %s: signal %s", stage.Name, signal.Name)
			return signal, stageUsage, nil
		}
	}

	return nil, stageUsage, &IterationExceededError{Stage: stage.Name, Limit: maxTurns}
}

func (r *Runner) renderPrompt(ref string, ctx *Context) (string, error) {
	if r.Render == nil {
		return ref, nil
	}
	return r.Render.Render(ref, ctx)
}

// fail persists the failed session before returning, so the store never
// holds an ambiguous "still running" record for a dead run. Context is
// preserved as-is for postmortem.
func (r *Runner) fail(session *Session, cause error, kind ErrorKind) (Status, error) {
	session.Status = StatusFailed
	session.UpdatedAt = time.Now().UTC()
	if err := r.Store.Save(session); err != nil {
		return StatusFailed, fmt.Errorf("persist failed session (%s): %w", cause, err)
	}
	r.emit(Event{Kind: EventRunFailed, Stage: session.CurrentStage, Turn: session.TotalTurns, ErrorKind: kind})
	r.logf("pipeline run failed at %s: %v", session.CurrentStage, cause)
	return StatusFailed, cause
}

func (r *Runner) persist(session *Session) error {
	session.UpdatedAt = time.Now().UTC()
	if err := r.Store.Save(session); err != nil {
		return fmt.Errorf("persist session %s: %w", session.ID, err)
	}
	return nil
}

func (r *Runner) emit(event Event) {
	if r.Events != nil {
		r.Events(event)
	}
}

func (r *Runner) logf(format string, args ...any) {
	if r.Logger != nil {
		r.Logger(format, args...)
	}
}

// errorKind classifies an executor error for the run_failed event.
func errorKind(err error) ErrorKind {
	switch {
	case isA[*ConfigError](err):
		return ErrorKindConfig
	case isA[*UnexpectedSignalError](err):
		return ErrorKindUnexpectedSignal
	case isA[*IterationExceededError](err):
		return ErrorKindIterationExceeded
	case isA[*HookError](err):
		return ErrorKindHook
	case agent.IsTransient(err):
		return ErrorKindAgentTransient
	default:
		return ErrorKindAgent
	}
}

func isA[T error](err error) bool {
	var target T
	return errors.As(err, &target)
}
