package hooks

import (
	"fmt"
	"os"
	"strings"

	"github.com/zen-systems/stageloop/pkg/completion"
	"github.com/zen-systems/stageloop/pkg/pipeline"
)

// PlanHooks carries the context plumbing for the planning pipeline: it
// defaults the planning depth, records the assessed depth for later stages,
// and feeds answered clarifications back in when a paused run resumes.
type PlanHooks struct{}

func (PlanHooks) BeforeStage(stage string, ctx *pipeline.Context) error {
	switch stage {
	case "create_plan":
		if _, ok := ctx.Get("depth"); !ok {
			ctx.Set("depth", "standard")
		}

	case "req_validate":
		// On resume after a clarification pause, the user has edited the
		// questions file in place; surface its content so the stage can
		// re-validate against the answers.
		path, ok := ctx.Get("clarifications_path")
		if !ok || path == "" {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return fmt.Errorf("read clarifications %s: %w", path, err)
		}
		ctx.Set("clarification_answers", string(data))
	}
	return nil
}

func (PlanHooks) AfterStage(stage string, signal completion.Signal, ctx *pipeline.Context) error {
	if stage == "assess" {
		switch signal.Name {
		case "LIGHT", "STANDARD", "COMPREHENSIVE":
			ctx.Set("depth", strings.ToLower(signal.Name))
		}
	}
	return nil
}

// ForPipeline returns the hook set shipped with a built-in pipeline kind.
// Unknown kinds get no-op hooks.
func ForPipeline(kind string) pipeline.Hooks {
	switch kind {
	case "plan":
		return PlanHooks{}
	default:
		return pipeline.NopHooks{}
	}
}
