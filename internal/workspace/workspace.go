// Package workspace locates the .fuel/ directory inside an operator's
// project and scaffolds it on init. Everything that needs a path gets a
// FuelContext instead of reaching for globals.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const fuelDirName = ".fuel"

// FuelContext holds the paths for one fuel workspace.
type FuelContext struct {
	Root string // Project root (where AGENTS.md and .gitignore live).
}

// New creates a context rooted at the given project directory.
func New(root string) FuelContext {
	return FuelContext{Root: root}
}

// Dir returns the .fuel/ directory path.
func (c FuelContext) Dir() string { return filepath.Join(c.Root, fuelDirName) }

// DBPath returns the path to the task store database.
func (c FuelContext) DBPath() string { return filepath.Join(c.Dir(), "agent.db") }

// ConfigPath returns the path to the agent + policy config.
func (c FuelContext) ConfigPath() string { return filepath.Join(c.Dir(), "config.yaml") }

// PIDPath returns the consume daemon's PID file path.
func (c FuelContext) PIDPath() string { return filepath.Join(c.Dir(), "consume.pid") }

// LockPath returns the advisory lock file guarding the PID file.
func (c FuelContext) LockPath() string { return filepath.Join(c.Dir(), "consume.pid.lock") }

// RealityPath returns the operator-authored context file injected into prompts.
func (c FuelContext) RealityPath() string { return filepath.Join(c.Dir(), "reality.md") }

// PlansDir returns the operator plan documents directory.
func (c FuelContext) PlansDir() string { return filepath.Join(c.Dir(), "plans") }

// PromptsDir returns the prompt templates directory.
func (c FuelContext) PromptsDir() string { return filepath.Join(c.Dir(), "prompts") }

// ProcessesDir returns the per-child transient output directory.
func (c FuelContext) ProcessesDir() string { return filepath.Join(c.Dir(), "processes") }

// GuidelinesPath returns the AGENTS.md path at the project root.
func (c FuelContext) GuidelinesPath() string { return filepath.Join(c.Root, "AGENTS.md") }

// Initialized reports whether the workspace has been set up.
func (c FuelContext) Initialized() bool {
	_, err := os.Stat(c.DBPath())
	return err == nil
}

// gitignoreEntries are appended to the project .gitignore on init.
// reality.md, plans, and prompt templates stay tracked; transient
// daemon state and generated *.new prompts do not.
var gitignoreEntries = []string{
	".fuel/*",
	"!.fuel/reality.md",
	"!.fuel/plans/",
	"!.fuel/prompts/",
	".fuel/prompts/*.new",
}

// EnsureDirs creates the .fuel directory tree. Safe to call repeatedly.
func (c FuelContext) EnsureDirs() error {
	for _, dir := range []string{c.Dir(), c.PlansDir(), c.PromptsDir(), c.ProcessesDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

// UpdateGitignore appends the fuel entries to .gitignore, skipping any that
// are already present. Creates the file if it does not exist.
func (c FuelContext) UpdateGitignore() error {
	path := filepath.Join(c.Root, ".gitignore")

	existing := map[string]bool{}
	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("read .gitignore: %w", err)
	}
	for _, line := range strings.Split(string(data), "\n") {
		existing[strings.TrimSpace(line)] = true
	}

	var missing []string
	for _, entry := range gitignoreEntries {
		if !existing[entry] {
			missing = append(missing, entry)
		}
	}
	if len(missing) == 0 {
		return nil
	}

	var sb strings.Builder
	sb.Write(data)
	if len(data) > 0 && !strings.HasSuffix(string(data), "\n") {
		sb.WriteString("\n")
	}
	for _, entry := range missing {
		sb.WriteString(entry + "\n")
	}
	return os.WriteFile(path, []byte(sb.String()), 0o644)
}

// WriteGuidelines writes AGENTS.md at the project root if it does not
// already contain the fuel section.
func (c FuelContext) WriteGuidelines() error {
	path := c.GuidelinesPath()
	data, err := os.ReadFile(path)
	if err == nil && strings.Contains(string(data), guidelinesMarker) {
		return nil
	}

	var sb strings.Builder
	sb.Write(data)
	if len(data) > 0 && !strings.HasSuffix(string(data), "\n") {
		sb.WriteString("\n")
	}
	sb.WriteString(guidelines)
	return os.WriteFile(path, []byte(sb.String()), 0o644)
}

const guidelinesMarker = "## Working with fuel"

const guidelines = `## Working with fuel

This project uses fuel to queue and execute engineering tasks.

- List ready work: ` + "`fuel ready`" + `
- Claim a task before working on it: ` + "`fuel start <id>`" + `
- When finished, close it: ` + "`fuel done <id> --reason \"what you did\"`" + `
- If you discover follow-up work, create it: ` + "`fuel add \"title\"`" + `
- If a task depends on another: ` + "`fuel dep add <task> <blocker>`" + `
- Never work on a task whose blockers are still open.
`
