package agent

// ToolPolicy is the tool-access policy handed to a runner for one stage.
// The executor core treats it as opaque data; runners that drive tool-using
// agents enforce it, chat-only runners ignore it.
type ToolPolicy struct {
	Allowed []string `yaml:"allowed,omitempty" json:"allowed,omitempty"`
	Denied  []string `yaml:"denied,omitempty" json:"denied,omitempty"`
}

// DefaultToolPolicy returns the policy applied when a stage declares none:
// file and shell tools allowed, anything that blocks an unattended run denied.
func DefaultToolPolicy() ToolPolicy {
	return ToolPolicy{
		Allowed: []string{
			"Bash", "Read", "Write", "Edit", "Glob", "Grep",
			"TodoRead", "TodoWrite", "Task",
		},
		Denied: []string{
			"AskUserQuestion", "WebFetch", "WebSearch", "EnterPlanMode",
		},
	}
}

// IsEmpty reports whether the policy declares nothing.
func (p ToolPolicy) IsEmpty() bool {
	return len(p.Allowed) == 0 && len(p.Denied) == 0
}

// Allows reports whether a tool may be used under this policy. Denials win;
// an empty allowlist permits any tool not denied.
func (p ToolPolicy) Allows(tool string) bool {
	for _, denied := range p.Denied {
		if denied == tool {
			return false
		}
	}
	if len(p.Allowed) == 0 {
		return true
	}
	for _, allowed := range p.Allowed {
		if allowed == tool {
			return true
		}
	}
	return false
}
