package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// writeConfig writes raw YAML into a temp file and loads it.
func writeConfig(t *testing.T, yaml string) (*Config, error) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return Load(path)
}

func TestLoad_ComplexityScalarForm(t *testing.T) {
	cfg, err := writeConfig(t, `
agents:
  claude:
    command: claude
complexity:
  trivial: claude
`)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	m := cfg.Complexity["trivial"]
	if m.Agent != "claude" || m.Model != "" {
		t.Errorf("scalar form: got %+v", m)
	}
}

func TestLoad_ComplexityMappingForm(t *testing.T) {
	cfg, err := writeConfig(t, `
agents:
  claude:
    command: claude
complexity:
  complex:
    agent: claude
    model: opus
`)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	m := cfg.Complexity["complex"]
	if m.Agent != "claude" || m.Model != "opus" {
		t.Errorf("mapping form: got %+v", m)
	}
}

func TestLoad_RejectsMissingCommand(t *testing.T) {
	_, err := writeConfig(t, `
agents:
  broken: {}
`)
	if err == nil {
		t.Fatal("expected error for agent without command")
	}
}

func TestLoad_RejectsUnknownComplexityAgent(t *testing.T) {
	_, err := writeConfig(t, `
agents:
  claude:
    command: claude
complexity:
  simple: ghost
`)
	if err == nil {
		t.Fatal("expected error for unknown agent in complexity map")
	}
}

func TestAgentFor_MappedAndFallback(t *testing.T) {
	cfg, err := writeConfig(t, `
agents:
  claude:
    command: claude
  cheap:
    command: cheap-agent
primary: claude
complexity:
  trivial:
    agent: cheap
    model: mini
`)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	name, agent, model, err := cfg.AgentFor("trivial")
	if err != nil {
		t.Fatalf("AgentFor(trivial): %v", err)
	}
	if name != "cheap" || agent.Command != "cheap-agent" || model != "mini" {
		t.Errorf("mapped level: got %s %s %s", name, agent.Command, model)
	}

	// Unmapped level falls back to primary with no model.
	name, agent, model, err = cfg.AgentFor("complex")
	if err != nil {
		t.Fatalf("AgentFor(complex): %v", err)
	}
	if name != "claude" || model != "" {
		t.Errorf("fallback: got %s %s", name, model)
	}
}

func TestAgentFor_NoPrimary(t *testing.T) {
	cfg := &Config{Agents: map[string]Agent{"a": {Command: "a"}}}
	if _, _, _, err := cfg.AgentFor("simple"); err == nil {
		t.Fatal("expected error with no mapping and no primary")
	}
}

func TestReviewAgent_SkipAndUnset(t *testing.T) {
	cfg := &Config{
		Agents: map[string]Agent{"claude": {Command: "claude"}},
		Review: Review{Agent: "claude"},
	}
	if _, _, _, ok := cfg.ReviewAgent(); !ok {
		t.Error("expected review agent when configured")
	}

	cfg.Review.Skip = true
	if _, _, _, ok := cfg.ReviewAgent(); ok {
		t.Error("expected no review agent when skip is set")
	}

	cfg.Review = Review{}
	if _, _, _, ok := cfg.ReviewAgent(); ok {
		t.Error("expected no review agent when unset")
	}
}

func TestDefaults(t *testing.T) {
	var a Agent
	if got := a.MaxConcurrentOrDefault(); got != 2 {
		t.Errorf("max_concurrent default: got %d", got)
	}
	var c Consume
	if got := c.PortOrDefault(); got != 4333 {
		t.Errorf("port default: got %d", got)
	}
	if got := c.MaxAgentAttemptsOrDefault(); got != 3 {
		t.Errorf("max_agent_attempts default: got %d", got)
	}
	if got := c.CooldownOrDefault(); got != 5*time.Minute {
		t.Errorf("cooldown default: got %s", got)
	}
}

func TestSaveLoad_DefaultConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := Save(path, DefaultConfig()); err != nil {
		t.Fatalf("Save: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Primary != "claude" {
		t.Errorf("primary: got %q", cfg.Primary)
	}
	if _, ok := cfg.Agents["claude"]; !ok {
		t.Error("claude agent missing after round trip")
	}
}
