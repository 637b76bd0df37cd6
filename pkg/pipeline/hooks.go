package pipeline

import "github.com/zen-systems/stageloop/pkg/completion"

// Hooks are before/after-stage side-effect points. They may derive or
// summarize context values; they cannot influence the routing decision. A
// hook error aborts the run.
type Hooks interface {
	BeforeStage(stage string, ctx *Context) error
	AfterStage(stage string, signal completion.Signal, ctx *Context) error
}

// NopHooks performs no side effects.
type NopHooks struct{}

func (NopHooks) BeforeStage(string, *Context) error { return nil }

func (NopHooks) AfterStage(string, completion.Signal, *Context) error { return nil }
