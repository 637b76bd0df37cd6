package completion

import "fmt"

// Strategy type tags.
const (
	TypeJSON     = "json"
	TypeSentinel = "sentinel"
)

// DefaultSignalKey is the reserved JSON key holding the signal value.
const DefaultSignalKey = "signal"

// Signal is the terminal token a stage-run reports. Exactly one signal is
// produced per stage invocation; it is the sole basis for routing.
type Signal struct {
	Name    string            `json:"name"`
	Payload map[string]string `json:"payload,omitempty"`
}

// Detector consumes streamed agent output for one stage-run. Feed appends a
// chunk and reports the accepted signal on the chunk that completes it.
// After the first accept the detector is inert: further chunks are discarded.
type Detector interface {
	Feed(chunk string) (*Signal, bool)
}

// Spec declares a stage's completion strategy in pipeline configuration.
type Spec struct {
	Type   string `yaml:"type" json:"type"`
	Key    string `yaml:"key,omitempty" json:"key,omitempty"`       // json: signal key (default "signal")
	Marker string `yaml:"marker,omitempty" json:"marker,omitempty"` // sentinel: exact literal to match
	Signal string `yaml:"signal,omitempty" json:"signal,omitempty"` // sentinel: signal name (default: marker)
}

// Validate checks the spec is well formed.
func (s Spec) Validate() error {
	switch s.Type {
	case TypeJSON:
		return nil
	case TypeSentinel:
		if s.Marker == "" {
			return fmt.Errorf("sentinel completion requires a marker")
		}
		return nil
	case "":
		return fmt.Errorf("completion type is required")
	default:
		return fmt.Errorf("unknown completion type %q", s.Type)
	}
}

// SentinelSignal returns the signal name a sentinel spec produces.
func (s Spec) SentinelSignal() string {
	if s.Signal != "" {
		return s.Signal
	}
	return s.Marker
}

// NewDetector builds a fresh detector for one stage-run. accept reports
// whether a signal name is declared for the stage; the JSON detector skips
// objects whose signal value is not accepted, tolerating an agent echoing
// unrelated JSON.
func (s Spec) NewDetector(accept func(string) bool) (Detector, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	if accept == nil {
		accept = func(string) bool { return true }
	}
	switch s.Type {
	case TypeJSON:
		key := s.Key
		if key == "" {
			key = DefaultSignalKey
		}
		return &jsonDetector{key: key, accept: accept}, nil
	default:
		return &sentinelDetector{marker: s.Marker, signal: s.SentinelSignal()}, nil
	}
}
