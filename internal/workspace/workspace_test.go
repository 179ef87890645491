package workspace

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestEnsureDirs_Idempotent(t *testing.T) {
	c := New(t.TempDir())

	if err := c.EnsureDirs(); err != nil {
		t.Fatalf("EnsureDirs: %v", err)
	}
	if err := c.EnsureDirs(); err != nil {
		t.Fatalf("second EnsureDirs: %v", err)
	}

	for _, dir := range []string{c.Dir(), c.PlansDir(), c.PromptsDir(), c.ProcessesDir()} {
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			t.Errorf("missing dir %s: %v", dir, err)
		}
	}
}

func TestInitialized(t *testing.T) {
	c := New(t.TempDir())
	if c.Initialized() {
		t.Error("fresh workspace should not be initialized")
	}

	if err := c.EnsureDirs(); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(c.DBPath(), []byte{}, 0o644); err != nil {
		t.Fatal(err)
	}
	if !c.Initialized() {
		t.Error("workspace with database should be initialized")
	}
}

func TestUpdateGitignore_NeverDuplicates(t *testing.T) {
	c := New(t.TempDir())

	if err := c.UpdateGitignore(); err != nil {
		t.Fatalf("UpdateGitignore: %v", err)
	}
	if err := c.UpdateGitignore(); err != nil {
		t.Fatalf("second UpdateGitignore: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(c.Root, ".gitignore"))
	if err != nil {
		t.Fatalf("read .gitignore: %v", err)
	}
	content := string(data)
	for _, entry := range []string{".fuel/*", "!.fuel/reality.md", ".fuel/prompts/*.new"} {
		if got := strings.Count(content, entry+"\n"); got != 1 {
			t.Errorf("entry %q appears %d times", entry, got)
		}
	}
}

func TestUpdateGitignore_PreservesExisting(t *testing.T) {
	c := New(t.TempDir())
	path := filepath.Join(c.Root, ".gitignore")
	if err := os.WriteFile(path, []byte("node_modules/\n.fuel/*\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := c.UpdateGitignore(); err != nil {
		t.Fatalf("UpdateGitignore: %v", err)
	}
	data, _ := os.ReadFile(path)
	content := string(data)
	if !strings.HasPrefix(content, "node_modules/\n") {
		t.Error("existing entries not preserved")
	}
	if got := strings.Count(content, "\n.fuel/*\n"); got != 1 {
		t.Errorf(".fuel/* should appear once, got %d:\n%s", got, content)
	}
}

func TestWriteGuidelines_AppendsOnceAndKeepsContent(t *testing.T) {
	c := New(t.TempDir())
	path := c.GuidelinesPath()
	if err := os.WriteFile(path, []byte("# My project\n\nHand-written notes.\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := c.WriteGuidelines(); err != nil {
		t.Fatalf("WriteGuidelines: %v", err)
	}
	if err := c.WriteGuidelines(); err != nil {
		t.Fatalf("second WriteGuidelines: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	content := string(data)
	if !strings.Contains(content, "Hand-written notes.") {
		t.Error("existing content lost")
	}
	if got := strings.Count(content, guidelinesMarker); got != 1 {
		t.Errorf("guidelines section appears %d times", got)
	}
	if !strings.Contains(content, "fuel done <id>") {
		t.Error("guidelines body missing")
	}
}
