package cli

import (
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ashleyhindle/fuel/internal/git"
	"github.com/ashleyhindle/fuel/internal/store"
	"github.com/ashleyhindle/fuel/internal/workspace"
)

// initWorkspace builds an initialized fuel workspace and chdirs into it.
func initWorkspace(t *testing.T) *store.Store {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)

	fctx := workspace.New(dir)
	if err := fctx.EnsureDirs(); err != nil {
		t.Fatalf("EnsureDirs: %v", err)
	}
	st, err := store.New(fctx.DBPath())
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

// initTestRepo creates a temporary git repo with an initial commit.
func initTestRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	run := func(args ...string) {
		t.Helper()
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		cmd.Env = append(os.Environ(),
			"GIT_AUTHOR_NAME=test",
			"GIT_AUTHOR_EMAIL=test@test.com",
			"GIT_COMMITTER_NAME=test",
			"GIT_COMMITTER_EMAIL=test@test.com",
		)
		out, err := cmd.CombinedOutput()
		if err != nil {
			t.Fatalf("git %s failed: %s\n%s", strings.Join(args, " "), err, out)
		}
	}

	run("init", "-b", "main")
	run("config", "user.email", "test@test.com")
	run("config", "user.name", "test")

	os.WriteFile(filepath.Join(dir, "README.md"), []byte("# test\n"), 0644)
	run("add", ".")
	run("commit", "-m", "initial commit")

	return dir
}

func TestHeadCommit_CleanRepoRecordsHead(t *testing.T) {
	dir := initTestRepo(t)

	head, err := git.New(dir).Head()
	if err != nil {
		t.Fatalf("Head: %v", err)
	}
	if got := headCommit(dir); got != head {
		t.Errorf("headCommit: %q, want %q", got, head)
	}
}

func TestHeadCommit_DirtyTreeRecordsNothing(t *testing.T) {
	dir := initTestRepo(t)
	os.WriteFile(filepath.Join(dir, "README.md"), []byte("# edited\n"), 0644)

	if got := headCommit(dir); got != "" {
		t.Errorf("dirty tree: %q, want empty", got)
	}
}

func TestHeadCommit_NotARepo(t *testing.T) {
	if got := headCommit(t.TempDir()); got != "" {
		t.Errorf("non-repo: %q, want empty", got)
	}
}

func TestRunDone_JSONPartialFailureIsSingleDocument(t *testing.T) {
	st := initWorkspace(t)
	task, err := st.CreateTask(store.NewTask{Title: "Closable"})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	jsonOut = true
	t.Cleanup(func() { jsonOut = false })

	// One good id, one bad: the {closed, failed} document is the whole
	// output, so Execute must not print a second error document.
	err = runDone(doneCmd, []string{task.ID, "f-000000"})
	if !errors.Is(err, errReported) {
		t.Fatalf("got %v, want errReported", err)
	}

	got, err := st.Find(task.ID)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if got.Status != store.StatusClosed {
		t.Errorf("status: %s, want closed", got.Status)
	}
}

func TestRunDone_PlainPartialFailureListsIDs(t *testing.T) {
	st := initWorkspace(t)
	task, err := st.CreateTask(store.NewTask{Title: "Closable"})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	err = runDone(doneCmd, []string{task.ID, "f-000000"})
	if err == nil || errors.Is(err, errReported) {
		t.Fatalf("got %v, want a printable error", err)
	}
	if !strings.Contains(err.Error(), "f-000000") {
		t.Errorf("error does not name the failed id: %v", err)
	}
}
