package stats

// ModelPricing is the per-1K-token rate for one model.
type ModelPricing struct {
	PromptPer1K     float64 `yaml:"prompt_per_1k" json:"prompt_per_1k"`
	CompletionPer1K float64 `yaml:"completion_per_1k" json:"completion_per_1k"`
}

// PricingConfig maps agent name to model name to rates. The "default" model
// entry is the fallback for unlisted models of that agent.
type PricingConfig map[string]map[string]ModelPricing

// DefaultPricing carries rough list prices so cost summaries work out of the
// box. Callers with exact rates override via config.
func DefaultPricing() PricingConfig {
	return PricingConfig{
		"anthropic": {
			"default": {PromptPer1K: 0.003, CompletionPer1K: 0.015},
		},
		"openai": {
			"default": {PromptPer1K: 0.0025, CompletionPer1K: 0.010},
		},
		"google": {
			"default": {PromptPer1K: 0.00125, CompletionPer1K: 0.005},
		},
	}
}

// Rate looks up the pricing entry for an agent/model pair, falling back to
// the agent's default entry.
func (p PricingConfig) Rate(agentName, model string) (ModelPricing, bool) {
	if p == nil {
		return ModelPricing{}, false
	}
	agentPricing, ok := p[agentName]
	if !ok {
		return ModelPricing{}, false
	}
	if entry, ok := agentPricing[model]; ok {
		return entry, true
	}
	entry, ok := agentPricing["default"]
	return entry, ok
}
