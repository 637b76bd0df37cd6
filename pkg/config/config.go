package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/zen-systems/stageloop/pkg/stats"
)

// Defaults applied when neither file nor flags say otherwise.
const (
	DefaultAgent = "anthropic"
	DefaultModel = "default"
)

// Config holds the resolved application configuration. Environment
// variables take precedence over ~/.stageloop/config.yaml.
type Config struct {
	AnthropicAPIKey string
	OpenAIAPIKey    string
	GoogleAPIKey    string

	Agent         string
	Model         string
	PromptDir     string
	SessionDir    string
	MaxIterations int
	Pricing       stats.PricingConfig

	ConfigDir string
}

// FileConfig represents the structure of ~/.stageloop/config.yaml.
type FileConfig struct {
	APIKeys  APIKeysConfig       `yaml:"api_keys"`
	Defaults DefaultsConfig      `yaml:"defaults"`
	Pricing  stats.PricingConfig `yaml:"pricing"`
}

// APIKeysConfig holds API key configuration from file.
type APIKeysConfig struct {
	Anthropic string `yaml:"anthropic"`
	OpenAI    string `yaml:"openai"`
	Google    string `yaml:"google"`
}

// DefaultsConfig holds run defaults from file.
type DefaultsConfig struct {
	Agent         string `yaml:"agent"`
	Model         string `yaml:"model"`
	PromptDir     string `yaml:"prompt_dir"`
	SessionDir    string `yaml:"session_dir"`
	MaxIterations int    `yaml:"max_iterations"`
}

// Load reads configuration from the config file and environment variables.
// Environment variables take precedence over file configuration.
func Load() (*Config, error) {
	configDir, err := getConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get config directory: %w", err)
	}

	fileConfig := loadFileConfig(filepath.Join(configDir, "config.yaml"))

	pricing := stats.DefaultPricing()
	for agentName, models := range fileConfig.Pricing {
		pricing[agentName] = models
	}

	cfg := &Config{
		AnthropicAPIKey: getEnvOrDefault("ANTHROPIC_API_KEY", fileConfig.APIKeys.Anthropic),
		OpenAIAPIKey:    getEnvOrDefault("OPENAI_API_KEY", fileConfig.APIKeys.OpenAI),
		GoogleAPIKey:    getEnvOrDefault("GOOGLE_API_KEY", fileConfig.APIKeys.Google),
		Agent:           getEnvOrDefault("STAGELOOP_AGENT", fileConfig.Defaults.Agent),
		Model:           getEnvOrDefault("STAGELOOP_MODEL", fileConfig.Defaults.Model),
		PromptDir:       fileConfig.Defaults.PromptDir,
		SessionDir:      fileConfig.Defaults.SessionDir,
		MaxIterations:   fileConfig.Defaults.MaxIterations,
		Pricing:         pricing,
		ConfigDir:       configDir,
	}
	if cfg.Agent == "" {
		cfg.Agent = DefaultAgent
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}

	return cfg, nil
}

// APIKey returns the configured key for an agent name, empty if none.
func (c *Config) APIKey(name string) string {
	switch name {
	case "anthropic":
		return c.AnthropicAPIKey
	case "openai":
		return c.OpenAIAPIKey
	case "google":
		return c.GoogleAPIKey
	default:
		return ""
	}
}

// HasAgent returns true if the API key for the given agent is configured.
// The mock agent needs no key.
func (c *Config) HasAgent(name string) bool {
	if name == "mock" {
		return true
	}
	return c.APIKey(name) != ""
}

// loadFileConfig reads the config file, returning empty config if not found.
func loadFileConfig(path string) *FileConfig {
	cfg := &FileConfig{}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg // Return empty config if file doesn't exist
	}

	_ = yaml.Unmarshal(data, cfg) // Ignore parse errors, use defaults
	return cfg
}

// getEnvOrDefault returns the environment variable value if set,
// otherwise returns the default value.
func getEnvOrDefault(envVar, defaultValue string) string {
	if val := os.Getenv(envVar); val != "" {
		return val
	}
	return defaultValue
}

func getConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	configDir := filepath.Join(home, ".stageloop")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return "", err
	}
	return configDir, nil
}
