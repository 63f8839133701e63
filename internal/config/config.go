package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"agencyops/internal/assistant"
)

const FileName = "agencyops.yml"

// Config models agencyops.yml.
type Config struct {
	Agency struct {
		Name string `yaml:"name"`
	} `yaml:"agency"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	// Dataset overrides the embedded catalog. Relative paths resolve against the workspace.
	Dataset   string          `yaml:"dataset"`
	Assistant AssistantConfig `yaml:"assistant"`
	Webhooks  []WebhookConfig `yaml:"webhooks"`
}

type AssistantConfig struct {
	Persona   string           `yaml:"persona"`
	Seed      uint64           `yaml:"seed"`
	DelayMS   int              `yaml:"delay_ms"`
	Rules     []assistant.Rule `yaml:"rules"`
	Fallbacks []string         `yaml:"fallbacks"`
}

// Options converts the config block into provider options.
func (a AssistantConfig) Options() assistant.Options {
	return assistant.Options{
		Persona:   a.Persona,
		Seed:      a.Seed,
		Delay:     time.Duration(a.DelayMS) * time.Millisecond,
		Rules:     a.Rules,
		Fallbacks: a.Fallbacks,
	}
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events"`
	Secret         string   `yaml:"secret"`
	Enabled        *bool    `yaml:"enabled"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create it with aops init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Log.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("config.log.level %q is not one of debug, info, warn, error", c.Log.Level)
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("config.log.format must be text or json")
	}
	if c.Assistant.DelayMS < 0 {
		return fmt.Errorf("config.assistant.delay_ms must not be negative")
	}
	for i, r := range c.Assistant.Rules {
		if strings.TrimSpace(r.Reply) == "" {
			return fmt.Errorf("assistant rule %d has empty reply", i)
		}
		if len(r.Keywords) == 0 {
			return fmt.Errorf("assistant rule %d has no keywords", i)
		}
	}
	for i, hook := range c.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("webhook %d url is required", i)
		}
		if !strings.HasPrefix(hook.URL, "http://") && !strings.HasPrefix(hook.URL, "https://") {
			return fmt.Errorf("webhook %d url must be http or https", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("webhook %d timeout_seconds must not be negative", i)
		}
	}
	return nil
}

// DatasetPath resolves the dataset override against workspace. Empty means embedded.
func (c *Config) DatasetPath(workspace string) string {
	if c.Dataset == "" || filepath.IsAbs(c.Dataset) {
		return c.Dataset
	}
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, c.Dataset)
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, FileName)
}

// GenerateDefault returns default config YAML.
func GenerateDefault(agency string) string {
	return fmt.Sprintf(defaultTemplate, agency)
}

// Default returns the config used when no file is present.
func Default() *Config {
	cfg, err := FromYAML([]byte(GenerateDefault("Northlight Studio")))
	if err != nil {
		panic(err)
	}
	return cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `agency:
  name: %q

log:
  level: info
  format: text

# dataset: dataset.yml

assistant:
  persona: Docket
  seed: 1
  delay_ms: 0

webhooks: []
`
