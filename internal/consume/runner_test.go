package consume

import (
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/ashleyhindle/fuel/internal/config"
	"github.com/ashleyhindle/fuel/internal/ipc"
	"github.com/ashleyhindle/fuel/internal/store"
	"github.com/ashleyhindle/fuel/internal/workspace"
)

// testDaemon builds a daemon over a throwaway workspace without running
// the loop.
func testDaemon(t *testing.T) (*Daemon, *store.Store) {
	t.Helper()
	fctx := workspace.New(t.TempDir())
	if err := fctx.EnsureDirs(); err != nil {
		t.Fatalf("EnsureDirs: %v", err)
	}
	st, err := store.New(fctx.DBPath())
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	d := New(fctx, st, config.DefaultConfig(), log, Options{})
	return d, st
}

func TestExecIPC_Ping(t *testing.T) {
	d, _ := testDaemon(t)

	resp := d.execIPC(ipc.Request{Cmd: "ping"})
	if !resp.OK {
		t.Fatalf("ping failed: %+v", resp)
	}
	var pong string
	if err := json.Unmarshal(resp.Data, &pong); err != nil || pong != "pong" {
		t.Errorf("data: %s", resp.Data)
	}
}

func TestExecIPC_UnknownCommand(t *testing.T) {
	d, _ := testDaemon(t)

	resp := d.execIPC(ipc.Request{Cmd: "self-destruct"})
	if resp.OK {
		t.Fatal("unknown command should fail")
	}
}

func TestExecIPC_BrowserNotConnected(t *testing.T) {
	d, _ := testDaemon(t)

	resp := d.execIPC(ipc.Request{Cmd: "browser.navigate"})
	if resp.OK {
		t.Fatal("browser commands should fail without a co-daemon")
	}
}

func TestExecIPC_StopSetsShutdown(t *testing.T) {
	d, _ := testDaemon(t)

	args, _ := json.Marshal(map[string]bool{"graceful": true})
	resp := d.execIPC(ipc.Request{Cmd: "stop", Args: args})
	if !resp.OK {
		t.Fatalf("stop failed: %+v", resp)
	}
	if !d.procs.IsShuttingDown() {
		t.Error("shutdown flag not set")
	}
	if d.hardStop {
		t.Error("graceful stop marked as hard stop")
	}

	d2, _ := testDaemon(t)
	resp = d2.execIPC(ipc.Request{Cmd: "stop"})
	if !resp.OK {
		t.Fatalf("argless stop failed: %+v", resp)
	}
	if !d2.hardStop {
		t.Error("default stop should be a hard stop")
	}
}

func TestExecIPC_Stuck(t *testing.T) {
	d, st := testDaemon(t)

	task, err := st.CreateTask(store.NewTask{Title: "Jammed"})
	if err != nil {
		t.Fatal(err)
	}
	st.Start(task.ID)
	st.MarkConsumed(task.ID, 1, "boom")

	resp := d.execIPC(ipc.Request{Cmd: "stuck"})
	if !resp.OK {
		t.Fatalf("stuck failed: %+v", resp)
	}
	var tasks []store.Task
	if err := json.Unmarshal(resp.Data, &tasks); err != nil {
		t.Fatal(err)
	}
	if len(tasks) != 1 || tasks[0].ID != task.ID {
		t.Errorf("stuck: %v", tasks)
	}
}

func TestBuildSnapshot_Groups(t *testing.T) {
	d, st := testDaemon(t)

	ready, _ := st.CreateTask(store.NewTask{Title: "Ready"})
	working, _ := st.CreateTask(store.NewTask{Title: "Working"})
	st.Start(working.ID)
	st.CreateRun(working.ID, "claude", "")

	reviewing, _ := st.CreateTask(store.NewTask{Title: "Reviewing"})
	st.Start(reviewing.ID)
	st.CreateReview(reviewing.ID, "claude")
	st.SetStatus(reviewing.ID, store.StatusReview)

	blocker, _ := st.CreateTask(store.NewTask{Title: "Blocker"})
	blocked, _ := st.CreateTask(store.NewTask{Title: "Blocked"})
	st.AddDependency(blocked.ID, blocker.ID)

	human, _ := st.CreateTask(store.NewTask{Title: "Needs a person", Labels: []string{"needs-human"}})
	closedHuman, _ := st.CreateTask(store.NewTask{Title: "Was human", Labels: []string{"needs-human"}})
	st.Done(closedHuman.ID, "", "")

	snap, err := d.BuildSnapshot()
	if err != nil {
		t.Fatalf("BuildSnapshot: %v", err)
	}

	if !containsTask(snap.Ready, ready.ID) {
		t.Error("ready task missing")
	}
	if len(snap.InProgress) != 1 || snap.InProgress[0].Task.ID != working.ID {
		t.Errorf("in_progress: %+v", snap.InProgress)
	}
	if snap.InProgress[0].Run == nil {
		t.Error("live run not attached")
	}
	if len(snap.Review) != 1 || snap.Review[0].Task.ID != reviewing.ID {
		t.Errorf("review: %+v", snap.Review)
	}
	if snap.Review[0].Review == nil {
		t.Error("review row not attached")
	}
	if len(snap.Blocked) != 1 || snap.Blocked[0].ID != blocked.ID {
		t.Errorf("blocked: %+v", snap.Blocked)
	}
	if len(snap.Human) != 1 || snap.Human[0].Task.ID != human.ID {
		t.Errorf("closed needs-human task leaked into human column: %+v", snap.Human)
	}
	if !containsTask(snap.Done, closedHuman.ID) {
		t.Error("closed task missing from done")
	}
}

func TestBuildSnapshot_ReadyOmitsAgentsAtCap(t *testing.T) {
	d, st := testDaemon(t)
	task, err := st.CreateTask(store.NewTask{Title: "Waiting on a slot"})
	if err != nil {
		t.Fatal(err)
	}

	// Fill the default cap of 2 for the primary agent.
	for i := 0; i < 2; i++ {
		if _, err := d.procs.Spawn("claude", []string{"sleep", "5"}, nil, t.TempDir(), ""); err != nil {
			t.Fatalf("spawn: %v", err)
		}
	}
	t.Cleanup(func() { d.procs.Shutdown(0) })

	snap, err := d.BuildSnapshot()
	if err != nil {
		t.Fatalf("BuildSnapshot: %v", err)
	}
	if containsTask(snap.Ready, task.ID) {
		t.Error("ready list shows a task its agent has no slot for")
	}
}

func containsTask(tasks []store.Task, id string) bool {
	for i := range tasks {
		if tasks[i].ID == id {
			return true
		}
	}
	return false
}
