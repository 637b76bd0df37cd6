package pipeline

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// definitionFile is the on-disk shape of a pipeline definition. Stages are
// declared as a list so authors control ordering; NewConfig converts them to
// the keyed form the executor works with.
type definitionFile struct {
	Name        string      `yaml:"name"`
	Description string      `yaml:"description"`
	StartStage  string      `yaml:"start_stage"`
	EndSignals  []string    `yaml:"end_signals"`
	Stages      []StageSpec `yaml:"stages"`
}

// LoadDefinition reads a pipeline definition from a YAML file and validates
// it. The returned config is ready to run.
func LoadDefinition(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseDefinition(data)
}

// ParseDefinition builds a validated Config from YAML definition bytes.
func ParseDefinition(data []byte) (*Config, error) {
	var def definitionFile
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("parse pipeline definition: %w", err)
	}
	if def.Name == "" {
		return nil, configErrorf("pipeline name is required")
	}

	cfg, err := NewConfig(def.Name, def.StartStage, def.Stages, def.EndSignals)
	if err != nil {
		return nil, err
	}
	cfg.Description = def.Description
	return cfg, nil
}
