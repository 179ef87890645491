package consume

import (
	"errors"
	"strings"
	"testing"

	"github.com/ashleyhindle/fuel/internal/proc"
	"github.com/ashleyhindle/fuel/internal/store"
)

// startedRun seeds an in-progress task with a live run, the state an
// agent child completion arrives in.
func startedRun(t *testing.T, st *store.Store, title string) childRef {
	t.Helper()
	task, err := st.CreateTask(store.NewTask{Title: title})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if _, err := st.Start(task.ID); err != nil {
		t.Fatalf("Start: %v", err)
	}
	run, err := st.CreateRun(task.ID, "claude", "")
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	return childRef{RunID: run.ID, TaskID: task.ID, Agent: "claude"}
}

func TestClassify_SuccessAndFailure(t *testing.T) {
	if got := Classify(0, "All done, closing the task."); got != ClassSuccess {
		t.Errorf("clean exit 0: got %v", got)
	}
	if got := Classify(1, "panic: something broke"); got != ClassFailure {
		t.Errorf("exit 1: got %v", got)
	}
	if got := Classify(137, ""); got != ClassFailure {
		t.Errorf("killed child: got %v", got)
	}
}

func TestClassify_PermissionPatterns(t *testing.T) {
	cases := []string{
		"Error: commands are being rejected by the user",
		"terminal commands are being rejected in this session",
		"I cannot proceed, please manually complete this step",
	}
	for _, output := range cases {
		if got := Classify(0, output); got != ClassPermissionBlocked {
			t.Errorf("%q: got %v, want permission blocked", output, got)
		}
	}
}

func TestClassify_PermissionOutranksExitCode(t *testing.T) {
	// A blocked agent that also exits non-zero is still blocked, not a
	// plain failure.
	if got := Classify(1, "Commands Are Being Rejected"); got != ClassPermissionBlocked {
		t.Errorf("got %v, want permission blocked", got)
	}
	// Exit 0 with the pattern is blocked too.
	if got := Classify(0, "PLEASE MANUALLY COMPLETE the merge"); got != ClassPermissionBlocked {
		t.Errorf("got %v, want permission blocked", got)
	}
}

func TestOutputTail_Bounded(t *testing.T) {
	short := "brief output"
	if got := outputTail(short); got != short {
		t.Errorf("short output modified: %q", got)
	}

	long := strings.Repeat("x", outputTailLimit*2) + "END"
	got := outputTail(long)
	if !strings.HasPrefix(got, proc.TruncationMarker) {
		t.Error("truncated output missing marker")
	}
	if !strings.HasSuffix(got, "END") {
		t.Error("tail of output not preserved")
	}
	if len(got) > outputTailLimit+len(proc.TruncationMarker) {
		t.Errorf("tail too long: %d bytes", len(got))
	}
}

func TestExtractSessionID(t *testing.T) {
	cases := []struct {
		output string
		want   string
	}{
		{`{"result":"done","session_id":"3f2a9b1c-77aa-4f0e-9d2c-0123456789ab"}`, "3f2a9b1c-77aa-4f0e-9d2c-0123456789ab"},
		{"Session ID: abcdef123456\ngoodbye", "abcdef123456"},
		{"no identifiers here", ""},
		{"session_id: short", ""},
	}
	for _, c := range cases {
		if got := extractSessionID(c.output); got != c.want {
			t.Errorf("extractSessionID(%q) = %q, want %q", c.output, got, c.want)
		}
	}
}

func TestExtractCostUSD(t *testing.T) {
	cost, ok := extractCostUSD(`{"total_cost_usd":0.42,"session_id":"x"}`)
	if !ok || cost != 0.42 {
		t.Errorf("got %v %v, want 0.42", cost, ok)
	}
	if _, ok := extractCostUSD("nothing about money"); ok {
		t.Error("matched output with no cost")
	}
}

func TestHandleCompletion_SuccessQueuesReview(t *testing.T) {
	d, st := testDaemon(t)
	ref := startedRun(t, st, "Build the widget")

	d.handleCompletion(ref, proc.Completion{ChildID: 1, Agent: "claude", ExitCode: 0, Stdout: "all done"})

	task, err := st.Find(ref.TaskID)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if task.Status != store.StatusReview {
		t.Errorf("status: %s, want review", task.Status)
	}
	review, err := st.LatestReview(ref.TaskID)
	if err != nil {
		t.Fatalf("LatestReview: %v", err)
	}
	if review.Status != store.ReviewPending {
		t.Errorf("review status: %s, want pending", review.Status)
	}
	if len(d.reviewQueue) != 1 || d.reviewQueue[0].TaskID != ref.TaskID {
		t.Errorf("review queue: %+v", d.reviewQueue)
	}
	run, err := st.LatestRun(ref.TaskID)
	if err != nil {
		t.Fatalf("LatestRun: %v", err)
	}
	if run.ExitCode == nil || *run.ExitCode != 0 {
		t.Errorf("run not ended: %+v", run)
	}
}

func TestHandleCompletion_SuccessAutoClosesWithoutReview(t *testing.T) {
	d, st := testDaemon(t)
	d.cfg.Review.Skip = true
	ref := startedRun(t, st, "Quick fix")

	d.handleCompletion(ref, proc.Completion{ExitCode: 0, Stdout: "done"})

	task, err := st.Find(ref.TaskID)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if task.Status != store.StatusClosed {
		t.Errorf("status: %s, want closed", task.Status)
	}
	if task.Reason != "Auto-completed by consume (agent exit 0)" {
		t.Errorf("reason: %q", task.Reason)
	}
	if !hasLabel(task, "auto-closed") {
		t.Errorf("labels: %v, want auto-closed", task.Labels)
	}
	if len(d.reviewQueue) != 0 {
		t.Errorf("review queued with review disabled: %+v", d.reviewQueue)
	}
}

func TestHandleCompletion_PermissionBlockedFilesHumanTask(t *testing.T) {
	d, st := testDaemon(t)
	ref := startedRun(t, st, "Touch production")

	d.handleCompletion(ref, proc.Completion{
		ExitCode: 0,
		Stdout:   "I tried, but terminal commands are being rejected.",
	})

	task, err := st.Find(ref.TaskID)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if task.Status != store.StatusOpen {
		t.Errorf("status: %s, want open", task.Status)
	}
	if len(task.BlockedBy) != 1 {
		t.Fatalf("blocked_by: %v, want one blocker", task.BlockedBy)
	}
	blocker, err := st.Find(task.BlockedBy[0])
	if err != nil {
		t.Fatalf("Find blocker: %v", err)
	}
	if !hasLabel(blocker, "needs-human") {
		t.Errorf("blocker labels: %v", blocker.Labels)
	}
	if !strings.Contains(blocker.Title, "claude") {
		t.Errorf("blocker title: %q", blocker.Title)
	}

	ready, err := st.Ready()
	if err != nil {
		t.Fatalf("Ready: %v", err)
	}
	for i := range ready {
		if ready[i].ID == ref.TaskID {
			t.Error("blocked task still in ready list")
		}
	}
}

func TestHandleCompletion_FailureMarksConsumed(t *testing.T) {
	d, st := testDaemon(t)
	ref := startedRun(t, st, "Doomed work")

	d.handleCompletion(ref, proc.Completion{ExitCode: 2, Stdout: "boom"})

	task, err := st.Find(ref.TaskID)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if task.Status != store.StatusInProgress {
		t.Errorf("status: %s, want in_progress", task.Status)
	}
	if !task.Consumed || task.ConsumedExitCode == nil || *task.ConsumedExitCode != 2 {
		t.Errorf("consumed fields not recorded: %+v", task)
	}

	stuck, err := st.Stuck()
	if err != nil {
		t.Fatalf("Stuck: %v", err)
	}
	if len(stuck) != 1 || stuck[0].ID != ref.TaskID {
		t.Errorf("stuck: %v", stuck)
	}
}

func TestHandleCompletion_AgentClosedTaskItself(t *testing.T) {
	d, st := testDaemon(t)
	ref := startedRun(t, st, "Self-sufficient")
	if _, err := st.Done(ref.TaskID, "closed it myself", ""); err != nil {
		t.Fatalf("Done: %v", err)
	}

	d.handleCompletion(ref, proc.Completion{ExitCode: 0, Stdout: "ran fuel done"})

	task, err := st.Find(ref.TaskID)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if task.Status != store.StatusClosed || task.Reason != "closed it myself" {
		t.Errorf("task disturbed: %+v", task)
	}
	if _, err := st.LatestReview(ref.TaskID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("review created for an already-closed task: %v", err)
	}
}

func TestHandleCompletion_RecordsSessionAndCost(t *testing.T) {
	d, st := testDaemon(t)
	d.cfg.Review.Skip = true
	ref := startedRun(t, st, "Track the spend")

	d.handleCompletion(ref, proc.Completion{
		ExitCode: 0,
		Stdout:   `{"result":"ok","session_id":"3f2a9b1c-77aa-4f0e-9d2c-0123456789ab","total_cost_usd":1.25}`,
	})

	run, err := st.LatestRun(ref.TaskID)
	if err != nil {
		t.Fatalf("LatestRun: %v", err)
	}
	if run.SessionID != "3f2a9b1c-77aa-4f0e-9d2c-0123456789ab" {
		t.Errorf("session_id: %q", run.SessionID)
	}
	if run.CostUSD == nil || *run.CostUSD != 1.25 {
		t.Errorf("cost_usd: %v", run.CostUSD)
	}
}

func hasLabel(t *store.Task, label string) bool {
	for _, l := range t.Labels {
		if l == label {
			return true
		}
	}
	return false
}
