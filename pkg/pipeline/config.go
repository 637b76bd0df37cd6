package pipeline

import (
	"github.com/zen-systems/stageloop/pkg/agent"
	"github.com/zen-systems/stageloop/pkg/completion"
)

// Default turn budgets.
const (
	DefaultMaxTurns      = 10
	DefaultMaxIterations = 50
)

// StageSpec declares one named unit of pipeline work: a prompt, a completion
// strategy, and a transition table. An empty transition target is the
// recognized terminal marker.
type StageSpec struct {
	Name         string            `yaml:"name" json:"name"`
	PromptRef    string            `yaml:"prompt" json:"prompt"`
	Completion   completion.Spec   `yaml:"completion" json:"completion"`
	Transitions  map[string]string `yaml:"transitions,omitempty" json:"transitions,omitempty"`
	MaxTurns     int               `yaml:"max_turns,omitempty" json:"max_turns,omitempty"`
	PauseSignal  string            `yaml:"pause_signal,omitempty" json:"pause_signal,omitempty"`
	PauseMessage string            `yaml:"pause_message,omitempty" json:"pause_message,omitempty"`
	Model        string            `yaml:"model,omitempty" json:"model,omitempty"`
	Tools        agent.ToolPolicy  `yaml:"tools,omitempty" json:"tools,omitempty"`
}

func (s StageSpec) maxTurns() int {
	if s.MaxTurns > 0 {
		return s.MaxTurns
	}
	return DefaultMaxTurns
}

// Config declares a complete pipeline: a stage graph, a start stage, and the
// global end signals. A Config is validated once at construction and treated
// as immutable afterwards; the executor never re-checks references at
// dispatch time except defensively.
type Config struct {
	Name        string               `yaml:"name" json:"name"`
	Description string               `yaml:"description,omitempty" json:"description,omitempty"`
	Stages      map[string]StageSpec `yaml:"-" json:"stages"`
	StartStage  string               `yaml:"start_stage" json:"start_stage"`
	EndSignals  []string             `yaml:"end_signals,omitempty" json:"end_signals,omitempty"`
}

// NewConfig builds a validated Config from a stage list.
func NewConfig(name, startStage string, stages []StageSpec, endSignals []string) (*Config, error) {
	byName := make(map[string]StageSpec, len(stages))
	for _, stage := range stages {
		if stage.Name == "" {
			return nil, configErrorf("stage name is required")
		}
		if _, ok := byName[stage.Name]; ok {
			return nil, configErrorf("duplicate stage name %q", stage.Name)
		}
		byName[stage.Name] = stage
	}
	cfg := &Config{
		Name:       name,
		Stages:     byName,
		StartStage: startStage,
		EndSignals: endSignals,
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the stage graph: declared start stage, resolvable
// transition targets, well-formed completion strategies, sentinel signals
// that are actually routable, and no unreachable stages.
func (c *Config) Validate() error {
	if c.Name == "" {
		return configErrorf("pipeline name is required")
	}
	if len(c.Stages) == 0 {
		return configErrorf("pipeline must declare at least one stage")
	}
	if c.StartStage == "" {
		return configErrorf("start stage is required")
	}
	if _, ok := c.Stages[c.StartStage]; !ok {
		return configErrorf("start stage %q is not declared", c.StartStage)
	}

	for name, stage := range c.Stages {
		if stage.Name != "" && stage.Name != name {
			return configErrorf("stage keyed %q declares name %q", name, stage.Name)
		}
		if stage.PromptRef == "" {
			return configErrorf("stage %q must declare a prompt", name)
		}
		if stage.MaxTurns < 0 {
			return configErrorf("stage %q has negative max_turns", name)
		}
		if err := stage.Completion.Validate(); err != nil {
			return configErrorf("stage %q: %v", name, err)
		}

		for signal, target := range stage.Transitions {
			if signal == "" {
				return configErrorf("stage %q has an empty transition signal", name)
			}
			if target == "" {
				continue // terminal marker
			}
			if _, ok := c.Stages[target]; !ok {
				return configErrorf("stage %q transition %q targets undeclared stage %q", name, signal, target)
			}
		}

		if stage.Completion.Type == completion.TypeSentinel {
			signal := stage.Completion.SentinelSignal()
			if !c.routable(stage, signal) {
				return configErrorf("stage %q sentinel signal %q has no transition, pause, or end-signal entry", name, signal)
			}
		}
	}

	return c.checkReachability()
}

// routable reports whether a signal produced in stage has somewhere to go.
func (c *Config) routable(stage StageSpec, signal string) bool {
	if c.IsEndSignal(signal) {
		return true
	}
	if _, ok := stage.Transitions[signal]; ok {
		return true
	}
	return stage.PauseSignal != "" && stage.PauseSignal == signal
}

func (c *Config) checkReachability() error {
	reached := map[string]bool{c.StartStage: true}
	frontier := []string{c.StartStage}
	for len(frontier) > 0 {
		name := frontier[0]
		frontier = frontier[1:]
		for _, target := range c.Stages[name].Transitions {
			if target == "" || reached[target] {
				continue
			}
			reached[target] = true
			frontier = append(frontier, target)
		}
	}
	for name := range c.Stages {
		if !reached[name] {
			return configErrorf("stage %q is unreachable from start stage %q", name, c.StartStage)
		}
	}
	return nil
}

// IsEndSignal reports global end-signal membership.
func (c *Config) IsEndSignal(name string) bool {
	for _, signal := range c.EndSignals {
		if signal == name {
			return true
		}
	}
	return false
}

// accepts returns the signal filter for one stage's completion detector:
// declared transition keys, global end signals, and the pause signal.
func (c *Config) accepts(stage StageSpec) func(string) bool {
	return func(name string) bool {
		return c.routable(stage, name)
	}
}
