package consume

import (
	"reflect"
	"testing"

	"github.com/ashleyhindle/fuel/internal/config"
	"github.com/ashleyhindle/fuel/internal/store"
)

func TestAgentArgv(t *testing.T) {
	agent := config.Agent{
		Command:           "claude",
		Args:              []string{"--print"},
		SessionResumeFlag: "--resume",
	}

	got := agentArgv(agent, "", "")
	if want := []string{"claude", "--print"}; !reflect.DeepEqual(got, want) {
		t.Errorf("plain argv: %v, want %v", got, want)
	}

	got = agentArgv(agent, "opus", "")
	if want := []string{"claude", "--print", "--model", "opus"}; !reflect.DeepEqual(got, want) {
		t.Errorf("model argv: %v, want %v", got, want)
	}

	got = agentArgv(agent, "", "abc123def456")
	if want := []string{"claude", "--print", "--resume", "abc123def456"}; !reflect.DeepEqual(got, want) {
		t.Errorf("resume argv: %v, want %v", got, want)
	}
}

func TestResumeSessionFor(t *testing.T) {
	d, st := testDaemon(t)
	resumable := config.Agent{Command: "claude", SessionResumeFlag: "--resume"}

	task, err := st.CreateTask(store.NewTask{Title: "Long-running effort"})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	// No prior run: start fresh.
	if got := d.resumeSessionFor(task.ID, "claude", resumable); got != "" {
		t.Errorf("fresh task: %q, want empty", got)
	}

	run, err := st.CreateRun(task.ID, "claude", "")
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	if err := st.SetRunSession(run.ID, "sess-0011223344"); err != nil {
		t.Fatalf("SetRunSession: %v", err)
	}

	if got := d.resumeSessionFor(task.ID, "claude", resumable); got != "sess-0011223344" {
		t.Errorf("recorded session: %q, want sess-0011223344", got)
	}

	// Agents without a resume flag never resume.
	if got := d.resumeSessionFor(task.ID, "claude", config.Agent{Command: "claude"}); got != "" {
		t.Errorf("no resume flag: %q, want empty", got)
	}

	// A different agent cannot pick up another agent's session.
	if got := d.resumeSessionFor(task.ID, "codex", resumable); got != "" {
		t.Errorf("other agent: %q, want empty", got)
	}
}
