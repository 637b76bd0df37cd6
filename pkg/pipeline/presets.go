package pipeline

import (
	"fmt"

	"github.com/zen-systems/stageloop/pkg/agent"
	"github.com/zen-systems/stageloop/pkg/completion"
)

// Builtin returns the named built-in pipeline, or an error listing the
// available kinds.
func Builtin(kind string) (*Config, error) {
	switch kind {
	case "build":
		return BuildPipeline(), nil
	case "plan":
		return PlanPipeline(), nil
	default:
		return nil, fmt.Errorf("unknown pipeline kind %q (available: build, plan)", kind)
	}
}

// BuildPipeline implements the task-by-task build loop: the build stage loops
// on itself until a phase is done, review gates the phase, and validation
// either sends gaps back to build or ends the run.
func BuildPipeline() *Config {
	stages := []StageSpec{
		{
			Name:       "build",
			PromptRef:  "prompts/build/build.md",
			Completion: completion.Spec{Type: completion.TypeJSON},
			Transitions: map[string]string{
				"TASK_COMPLETE":  "build",
				"PHASE_COMPLETE": "code_review",
			},
		},
		{
			Name:       "code_review",
			PromptRef:  "prompts/build/code_review.md",
			Completion: completion.Spec{Type: completion.TypeJSON},
			Transitions: map[string]string{
				"APPROVED":          "validate",
				"CHANGES_REQUESTED": "build",
			},
		},
		{
			Name:       "validate",
			PromptRef:  "prompts/build/validate.md",
			Completion: completion.Spec{Type: completion.TypeJSON},
			Transitions: map[string]string{
				"GAPS_FOUND": "build",
				"VALIDATED":  "build",
			},
		},
	}

	cfg, err := NewConfig("build", "build", stages, []string{"ALL_VALIDATED"})
	if err != nil {
		panic(err)
	}
	cfg.Description = "Execute phased tasks with per-phase review and final validation"
	return cfg
}

// PlanPipeline implements the planning flow: research, assess how much
// planning the work needs, draft the plan (skipped for light work), break it
// into tasks, review, and validate requirements. Requirement validation may
// pause the run for human clarification.
func PlanPipeline() *Config {
	webPolicy := agent.DefaultToolPolicy()
	webPolicy.Allowed = append(webPolicy.Allowed, "WebSearch", "WebFetch")
	webPolicy.Denied = []string{"AskUserQuestion", "EnterPlanMode"}

	stages := []StageSpec{
		{
			Name:       "research",
			PromptRef:  "prompts/planning/research.md",
			Completion: completion.Spec{Type: completion.TypeJSON},
			Transitions: map[string]string{
				"RESEARCH_COMPLETE": "assess",
			},
			Tools: webPolicy,
		},
		{
			Name:       "assess",
			PromptRef:  "prompts/planning/assess.md",
			Completion: completion.Spec{Type: completion.TypeJSON},
			Transitions: map[string]string{
				"LIGHT":         "create_tasks",
				"STANDARD":      "create_plan",
				"COMPREHENSIVE": "create_plan",
			},
		},
		{
			Name:       "create_plan",
			PromptRef:  "prompts/planning/create_plan.md",
			Completion: completion.Spec{Type: completion.TypeJSON},
			Transitions: map[string]string{
				"PLAN_CREATED": "create_tasks",
			},
		},
		{
			Name:       "create_tasks",
			PromptRef:  "prompts/planning/create_tasks.md",
			Completion: completion.Spec{Type: completion.TypeJSON},
			Transitions: map[string]string{
				"TASKS_CREATED": "plan_review",
			},
		},
		{
			Name:       "plan_review",
			PromptRef:  "prompts/planning/plan_review.md",
			Completion: completion.Spec{Type: completion.TypeJSON},
			Transitions: map[string]string{
				"APPROVED":         "req_validate",
				"REVISIONS_NEEDED": "create_plan",
			},
		},
		{
			Name:         "req_validate",
			PromptRef:    "prompts/planning/req_validate.md",
			Completion:   completion.Spec{Type: completion.TypeJSON},
			PauseSignal:  "CLARIFICATIONS_NEEDED",
			PauseMessage: "requirement clarifications needed before the plan can be validated",
		},
	}

	cfg, err := NewConfig("plan", "research", stages, []string{"PLAN_VALIDATED", "PLAN_READY"})
	if err != nil {
		panic(err)
	}
	cfg.Description = "Research, plan, and validate work before building"
	return cfg
}
