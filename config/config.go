package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nshkrdotcom/mcpflow/mcpconn"
)

// ErrInvalidConfig is returned when configuration validation fails.
var ErrInvalidConfig = errors.New("config: invalid configuration")

// Config is the complete mcpflow configuration: the MCP servers available
// to workflows, and the workflows themselves.
type Config struct {
	// DefaultProvider is the fallback LLM provider when a workflow does
	// not name one and the model is not in the catalog.
	DefaultProvider string `yaml:"default_provider,omitempty"`

	// LogLevel is the console verbosity: quiet, user, normal, verbose.
	LogLevel string `yaml:"log_level,omitempty"`

	// LLM tunes the shared LLM client.
	LLM LLMConfig `yaml:"llm,omitempty"`

	// Servers maps server names to their connection settings.
	Servers map[string]ServerConfig `yaml:"servers"`

	// Workflows maps workflow names to their run settings.
	Workflows map[string]WorkflowConfig `yaml:"workflows"`
}

// Default LLM client settings.
const (
	DefaultRateRPS   = 2.0
	DefaultRateBurst = 4
)

// LLMConfig tunes the shared LLM client: backend request throttling and the
// per-call deadline.
type LLMConfig struct {
	// RateRPS is the sustained backend request rate (0 = DefaultRateRPS).
	RateRPS float64 `yaml:"rate_rps,omitempty"`

	// RateBurst is the burst allowance (0 = DefaultRateBurst).
	RateBurst int `yaml:"rate_burst,omitempty"`

	// RequestTimeout bounds each individual backend call (0 = the gateway
	// default).
	RequestTimeout time.Duration `yaml:"request_timeout,omitempty"`
}

// RateLimit returns the configured rate and burst, with defaults applied.
func (l LLMConfig) RateLimit() (float64, int) {
	rps := l.RateRPS
	if rps == 0 {
		rps = DefaultRateRPS
	}
	burst := l.RateBurst
	if burst == 0 {
		burst = DefaultRateBurst
	}
	return rps, burst
}

// ServerConfig describes one MCP server. Exactly one of Command or URL
// must be set.
type ServerConfig struct {
	Command     string            `yaml:"command,omitempty"`
	Args        []string          `yaml:"args,omitempty"`
	Env         map[string]string `yaml:"env,omitempty"`
	URL         string            `yaml:"url,omitempty"`
	CallTimeout time.Duration     `yaml:"call_timeout,omitempty"`
	IdleTimeout time.Duration     `yaml:"idle_timeout,omitempty"`
}

// WorkflowConfig describes one named workflow.
type WorkflowConfig struct {
	Description string `yaml:"description,omitempty"`

	// Model is the LLM model identifier.
	Model string `yaml:"model"`

	// Provider overrides provider inference from the model name.
	Provider string `yaml:"provider,omitempty"`

	// Servers lists the MCP servers this workflow uses, by name.
	Servers []string `yaml:"servers"`

	// InstructionTemplate seeds the conversation; {query} is substituted
	// with the user's query.
	InstructionTemplate string `yaml:"instruction_template"`

	// MaxTurns bounds the number of model calls per query.
	MaxTurns int `yaml:"max_turns"`

	Temperature *float64 `yaml:"temperature,omitempty"`
}

// Load reads and validates a configuration file. Unknown fields are
// rejected.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)

	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	if c.LLM.RateRPS < 0 {
		return fmt.Errorf("%w: llm.rate_rps must not be negative", ErrInvalidConfig)
	}
	if c.LLM.RateBurst < 0 {
		return fmt.Errorf("%w: llm.rate_burst must not be negative", ErrInvalidConfig)
	}
	if c.LLM.RequestTimeout < 0 {
		return fmt.Errorf("%w: llm.request_timeout must not be negative", ErrInvalidConfig)
	}

	for name, server := range c.Servers {
		if server.Command == "" && server.URL == "" {
			return fmt.Errorf("%w: server %s: either command or url is required", ErrInvalidConfig, name)
		}
		if server.Command != "" && server.URL != "" {
			return fmt.Errorf("%w: server %s: command and url are mutually exclusive", ErrInvalidConfig, name)
		}
	}

	for name, wf := range c.Workflows {
		if wf.Model == "" {
			return fmt.Errorf("%w: workflow %s: model is required", ErrInvalidConfig, name)
		}
		if wf.InstructionTemplate == "" {
			return fmt.Errorf("%w: workflow %s: instruction_template is required", ErrInvalidConfig, name)
		}
		if wf.MaxTurns <= 0 {
			return fmt.Errorf("%w: workflow %s: max_turns must be positive", ErrInvalidConfig, name)
		}
		for _, server := range wf.Servers {
			if _, ok := c.Servers[server]; !ok {
				return fmt.Errorf("%w: workflow %s references unknown server %s", ErrInvalidConfig, name, server)
			}
		}
	}
	return nil
}

// Workflow returns a workflow by name.
func (c *Config) Workflow(name string) (WorkflowConfig, error) {
	wf, ok := c.Workflows[name]
	if !ok {
		return WorkflowConfig{}, fmt.Errorf("workflow not found: %s", name)
	}
	return wf, nil
}

// WorkflowNames returns the workflow names, sorted.
func (c *Config) WorkflowNames() []string {
	names := make([]string, 0, len(c.Workflows))
	for name := range c.Workflows {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ServerNames returns the server names, sorted.
func (c *Config) ServerNames() []string {
	names := make([]string, 0, len(c.Servers))
	for name := range c.Servers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ConnConfig translates a named server into a connection config.
func (c *Config) ConnConfig(name string) (mcpconn.Config, error) {
	server, ok := c.Servers[name]
	if !ok {
		return mcpconn.Config{}, fmt.Errorf("server not found: %s", name)
	}

	env := make([]string, 0, len(server.Env))
	for k, v := range server.Env {
		env = append(env, k+"="+v)
	}
	sort.Strings(env)

	return mcpconn.Config{
		Name:        name,
		Command:     server.Command,
		Args:        server.Args,
		Env:         env,
		URL:         server.URL,
		CallTimeout: server.CallTimeout,
		IdleTimeout: server.IdleTimeout,
	}, nil
}

// DefaultFileName is the config file searched for in the working directory.
const DefaultFileName = "mcpflow.yaml"

// Discover locates the configuration file. An explicit path wins; otherwise
// mcpflow.yaml in the working directory, then config.yaml under the user
// config directory.
func Discover(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config: %w", err)
		}
		return explicit, nil
	}

	if _, err := os.Stat(DefaultFileName); err == nil {
		return DefaultFileName, nil
	}

	dir, err := ConfigDir()
	if err != nil {
		return "", fmt.Errorf("config: %w", err)
	}
	candidate := filepath.Join(dir, "config.yaml")
	if _, err := os.Stat(candidate); err == nil {
		return candidate, nil
	}

	return "", fmt.Errorf("config: no %s in the working directory and no %s", DefaultFileName, candidate)
}

// ConfigDir returns the user config directory for mcpflow, honoring
// XDG_CONFIG_HOME.
func ConfigDir() (string, error) {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "mcpflow"), nil
}
