// Package config loads the .fuel/config.yaml describing agents, the
// complexity -> agent mapping, review policy, and consume daemon settings.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for a fuel workspace.
type Config struct {
	Agents     map[string]Agent         `yaml:"agents"`
	Complexity map[string]ComplexityMap `yaml:"complexity,omitempty"`
	Primary    string                   `yaml:"primary,omitempty"`
	Review     Review                   `yaml:"review,omitempty"`
	Consume    Consume                  `yaml:"consume,omitempty"`
}

// Agent describes one external agent executable.
type Agent struct {
	Command           string   `yaml:"command"`
	Args              []string `yaml:"args,omitempty"`
	MaxConcurrent     int      `yaml:"max_concurrent,omitempty"`
	SessionResumeFlag string   `yaml:"session_resume_flag,omitempty"`
}

// MaxConcurrentOrDefault returns the per-agent concurrency cap,
// defaulting to 2 when unset.
func (a Agent) MaxConcurrentOrDefault() int {
	if a.MaxConcurrent > 0 {
		return a.MaxConcurrent
	}
	return 2
}

// ComplexityMap maps one complexity level to an agent and optional model.
// In YAML it is either a bare agent name or {agent, model}.
type ComplexityMap struct {
	Agent string `yaml:"agent"`
	Model string `yaml:"model,omitempty"`
}

// UnmarshalYAML accepts both the scalar and the mapping form.
func (m *ComplexityMap) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		m.Agent = node.Value
		return nil
	}
	type plain ComplexityMap
	var p plain
	if err := node.Decode(&p); err != nil {
		return err
	}
	*m = ComplexityMap(p)
	return nil
}

// Review configures the automatic post-success review.
type Review struct {
	Agent string `yaml:"agent,omitempty"`
	Model string `yaml:"model,omitempty"`
	Skip  bool   `yaml:"skip,omitempty"`
}

// Consume configures the daemon.
type Consume struct {
	Port             int `yaml:"port,omitempty"`
	MaxAgentAttempts int `yaml:"max_agent_attempts,omitempty"`
	CooldownSeconds  int `yaml:"cooldown_seconds,omitempty"`
}

// PortOrDefault returns the IPC port, defaulting to 4333.
func (c Consume) PortOrDefault() int {
	if c.Port > 0 {
		return c.Port
	}
	return 4333
}

// MaxAgentAttemptsOrDefault returns the consecutive-failure count that
// triggers cooldown, defaulting to 3.
func (c Consume) MaxAgentAttemptsOrDefault() int {
	if c.MaxAgentAttempts > 0 {
		return c.MaxAgentAttempts
	}
	return 3
}

// CooldownOrDefault returns the cooldown length, defaulting to 5 minutes.
func (c Consume) CooldownOrDefault() time.Duration {
	if c.CooldownSeconds > 0 {
		return time.Duration(c.CooldownSeconds) * time.Second
	}
	return 300 * time.Second
}

// AgentFor resolves a task complexity to (agent name, agent, model).
// Falls back to the primary agent when the level has no mapping.
func (c *Config) AgentFor(complexity string) (string, Agent, string, error) {
	if m, ok := c.Complexity[complexity]; ok && m.Agent != "" {
		agent, ok := c.Agents[m.Agent]
		if !ok {
			return "", Agent{}, "", fmt.Errorf("complexity %q maps to unknown agent %q", complexity, m.Agent)
		}
		return m.Agent, agent, m.Model, nil
	}
	if c.Primary == "" {
		return "", Agent{}, "", fmt.Errorf("no agent mapped for complexity %q and no primary agent set", complexity)
	}
	agent, ok := c.Agents[c.Primary]
	if !ok {
		return "", Agent{}, "", fmt.Errorf("primary agent %q is not defined", c.Primary)
	}
	return c.Primary, agent, "", nil
}

// ReviewAgent resolves the configured review agent, or ok=false when
// review is skipped or unconfigured.
func (c *Config) ReviewAgent() (string, Agent, string, bool) {
	if c.Review.Skip || c.Review.Agent == "" {
		return "", Agent{}, "", false
	}
	agent, ok := c.Agents[c.Review.Agent]
	if !ok {
		return "", Agent{}, "", false
	}
	return c.Review.Agent, agent, c.Review.Model, true
}

// Load reads and parses the config file at the given path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes the config to the given path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// DefaultConfig returns a starter config written on init.
func DefaultConfig() *Config {
	return &Config{
		Agents: map[string]Agent{
			"claude": {
				Command:           "claude",
				Args:              []string{"--print", "--dangerously-skip-permissions"},
				MaxConcurrent:     2,
				SessionResumeFlag: "--resume",
			},
		},
		Primary: "claude",
		Review:  Review{Agent: "claude"},
	}
}

func (c *Config) validate() error {
	for name, agent := range c.Agents {
		if agent.Command == "" {
			return fmt.Errorf("agent %q: command is required", name)
		}
		if agent.MaxConcurrent < 0 {
			return fmt.Errorf("agent %q: max_concurrent must be >= 0", name)
		}
	}
	for level, m := range c.Complexity {
		if m.Agent == "" {
			return fmt.Errorf("complexity %q: agent is required", level)
		}
		if _, ok := c.Agents[m.Agent]; !ok {
			return fmt.Errorf("complexity %q: unknown agent %q", level, m.Agent)
		}
	}
	if c.Primary != "" {
		if _, ok := c.Agents[c.Primary]; !ok {
			return fmt.Errorf("primary: unknown agent %q", c.Primary)
		}
	}
	if c.Review.Agent != "" {
		if _, ok := c.Agents[c.Review.Agent]; !ok {
			return fmt.Errorf("review: unknown agent %q", c.Review.Agent)
		}
	}
	return nil
}
