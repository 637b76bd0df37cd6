// Package hooks provides before/after-stage side effects for pipeline runs:
// chaining, function adapters, and the hook sets shipped with the built-in
// pipelines.
package hooks

import (
	"github.com/zen-systems/stageloop/pkg/completion"
	"github.com/zen-systems/stageloop/pkg/pipeline"
)

// Funcs adapts plain functions to the pipeline hook interface. Nil fields
// are no-ops.
type Funcs struct {
	Before func(stage string, ctx *pipeline.Context) error
	After  func(stage string, signal completion.Signal, ctx *pipeline.Context) error
}

func (f Funcs) BeforeStage(stage string, ctx *pipeline.Context) error {
	if f.Before == nil {
		return nil
	}
	return f.Before(stage, ctx)
}

func (f Funcs) AfterStage(stage string, signal completion.Signal, ctx *pipeline.Context) error {
	if f.After == nil {
		return nil
	}
	return f.After(stage, signal, ctx)
}

// Chain runs hooks in order and stops at the first error. Before hooks run
// first-to-last; after hooks run in the same order.
type Chain []pipeline.Hooks

func (c Chain) BeforeStage(stage string, ctx *pipeline.Context) error {
	for _, h := range c {
		if err := h.BeforeStage(stage, ctx); err != nil {
			return err
		}
	}
	return nil
}

func (c Chain) AfterStage(stage string, signal completion.Signal, ctx *pipeline.Context) error {
	for _, h := range c {
		if err := h.AfterStage(stage, signal, ctx); err != nil {
			return err
		}
	}
	return nil
}
