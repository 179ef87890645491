package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/ashleyhindle/fuel/internal/git"
	"github.com/ashleyhindle/fuel/internal/store"
	"github.com/spf13/cobra"
)

var (
	addDescription string
	addPriority    int
	addType        string
	addComplexity  string
	addSize        string
	addLabels      []string
	addEpic        string
	addBlockedBy   []string

	lsStatus   string
	lsType     string
	lsPriority int
	lsLabels   []string
	lsSize     string

	doneReason string
	doneCommit string

	archiveDays int
	archiveAll  bool
)

var addCmd = &cobra.Command{
	Use:   "add [title]",
	Short: "Create a new task",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAdd,
}

var lsCmd = &cobra.Command{
	Use:     "ls",
	Aliases: []string{"list"},
	Short:   "List tasks",
	RunE:    runLs,
}

var showCmd = &cobra.Command{
	Use:   "show [id]",
	Short: "Show task details, runs and reviews",
	Args:  cobra.ExactArgs(1),
	RunE:  runShow,
}

var readyCmd = &cobra.Command{
	Use:   "ready",
	Short: "List tasks ready to be worked on",
	RunE:  runReady,
}

var blockedCmd = &cobra.Command{
	Use:   "blocked",
	Short: "List open tasks waiting on blockers",
	RunE:  runBlocked,
}

var startCmd = &cobra.Command{
	Use:   "start [id]",
	Short: "Move an open task to in_progress",
	Args:  cobra.ExactArgs(1),
	RunE:  runStart,
}

var doneCmd = &cobra.Command{
	Use:   "done [id]...",
	Short: "Close one or more tasks",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runDone,
}

var reopenCmd = &cobra.Command{
	Use:   "reopen [id]",
	Short: "Reopen a closed, in-progress or in-review task",
	Args:  cobra.ExactArgs(1),
	RunE:  runReopen,
}

var retryCmd = &cobra.Command{
	Use:   "retry [id]",
	Short: "Requeue a task whose agent run failed",
	Args:  cobra.ExactArgs(1),
	RunE:  runRetry,
}

var rmCmd = &cobra.Command{
	Use:   "rm [id]",
	Short: "Delete a task and its runs, reviews and dependency edges",
	Args:  cobra.ExactArgs(1),
	RunE:  runRm,
}

var archiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Remove old closed tasks",
	RunE:  runArchive,
}

var stuckCmd = &cobra.Command{
	Use:   "stuck",
	Short: "List in-progress tasks whose last agent run failed",
	RunE:  runStuck,
}

func init() {
	addCmd.Flags().StringVarP(&addDescription, "description", "d", "", "Task description")
	addCmd.Flags().IntVarP(&addPriority, "priority", "p", 2, "Priority 0 (highest) to 4")
	addCmd.Flags().StringVarP(&addType, "type", "t", "task", "Type: task, bug, feature, chore")
	addCmd.Flags().StringVarP(&addComplexity, "complexity", "c", "simple", "Complexity: trivial, simple, moderate, complex")
	addCmd.Flags().StringVarP(&addSize, "size", "s", "", "Size: xs, s, m, l, xl")
	addCmd.Flags().StringSliceVarP(&addLabels, "label", "l", nil, "Label (repeatable)")
	addCmd.Flags().StringVarP(&addEpic, "epic", "e", "", "Epic id to link the task to")
	addCmd.Flags().StringSliceVarP(&addBlockedBy, "blocked-by", "b", nil, "Blocker task id (repeatable)")

	lsCmd.Flags().StringVar(&lsStatus, "status", "", "Filter by status")
	lsCmd.Flags().StringVar(&lsType, "type", "", "Filter by type")
	lsCmd.Flags().IntVar(&lsPriority, "priority", -1, "Filter by priority")
	lsCmd.Flags().StringSliceVar(&lsLabels, "label", nil, "Filter by label, any match (repeatable)")
	lsCmd.Flags().StringVar(&lsSize, "size", "", "Filter by size")

	doneCmd.Flags().StringVarP(&doneReason, "reason", "r", "", "Completion reason")
	doneCmd.Flags().StringVar(&doneCommit, "commit", "", "Commit hash for the completed work")

	archiveCmd.Flags().IntVar(&archiveDays, "days", 30, "Archive closed tasks older than this many days")
	archiveCmd.Flags().BoolVar(&archiveAll, "all", false, "Archive every closed task")
}

func runAdd(cmd *cobra.Command, args []string) error {
	st, _, err := mustStore()
	if err != nil {
		return err
	}
	defer st.Close()

	if addType != "" && !store.ValidTaskType(addType) {
		return fmt.Errorf("invalid type %q", addType)
	}
	if addComplexity != "" && !store.ValidComplexity(addComplexity) {
		return fmt.Errorf("invalid complexity %q", addComplexity)
	}
	if addSize != "" && !store.ValidSize(addSize) {
		return fmt.Errorf("invalid size %q", addSize)
	}

	task, err := st.CreateTask(store.NewTask{
		Title:       strings.Join(args, " "),
		Description: addDescription,
		Type:        store.TaskType(addType),
		Priority:    addPriority,
		Complexity:  store.Complexity(addComplexity),
		Size:        store.Size(addSize),
		Labels:      addLabels,
		EpicID:      addEpic,
	})
	if err != nil {
		return err
	}

	for _, blocker := range addBlockedBy {
		if err := st.AddDependency(task.ID, blocker); err != nil {
			return fmt.Errorf("created %s but blocked-by %s: %w", task.ID, blocker, err)
		}
	}
	if len(addBlockedBy) > 0 {
		if task, err = st.Find(task.ID); err != nil {
			return err
		}
	}

	if jsonOut {
		return printJSON(task)
	}
	fmt.Printf("Created %s: %s [p%d %s]\n", task.ID, task.Title, task.Priority, task.Complexity)
	return nil
}

func runLs(cmd *cobra.Command, args []string) error {
	st, _, err := mustStore()
	if err != nil {
		return err
	}
	defer st.Close()

	if lsStatus != "" && !store.ValidStatus(lsStatus) {
		return fmt.Errorf("invalid status %q", lsStatus)
	}
	f := store.TaskFilter{
		Status: store.TaskStatus(lsStatus),
		Type:   store.TaskType(lsType),
		Labels: lsLabels,
		Size:   store.Size(lsSize),
	}
	if lsPriority >= 0 {
		f.Priority = &lsPriority
	}

	tasks, err := st.All(f)
	if err != nil {
		return err
	}
	return printTasks(tasks)
}

func runShow(cmd *cobra.Command, args []string) error {
	st, _, err := mustStore()
	if err != nil {
		return err
	}
	defer st.Close()

	task, err := st.Find(args[0])
	if err != nil {
		return err
	}
	runs, err := st.RunsForTask(task.ID)
	if err != nil {
		return err
	}
	reviews, err := st.ReviewsForTask(task.ID)
	if err != nil {
		return err
	}

	if jsonOut {
		return printJSON(map[string]any{
			"task":    task,
			"runs":    runs,
			"reviews": reviews,
		})
	}

	fmt.Printf("%s  %s\n", task.ID, task.Title)
	fmt.Printf("  status:     %s\n", task.Status)
	fmt.Printf("  priority:   %d\n", task.Priority)
	fmt.Printf("  type:       %s\n", task.Type)
	fmt.Printf("  complexity: %s\n", task.Complexity)
	if task.Size != "" {
		fmt.Printf("  size:       %s\n", task.Size)
	}
	if task.Description != "" {
		fmt.Printf("  description: %s\n", task.Description)
	}
	if len(task.Labels) > 0 {
		fmt.Printf("  labels:     %s\n", strings.Join(task.Labels, ", "))
	}
	if len(task.BlockedBy) > 0 {
		fmt.Printf("  blocked by: %s\n", strings.Join(task.BlockedBy, ", "))
	}
	if task.EpicID != "" {
		fmt.Printf("  epic:       %s\n", task.EpicID)
	}
	if task.Reason != "" {
		fmt.Printf("  reason:     %s\n", task.Reason)
	}
	if task.CommitHash != "" {
		fmt.Printf("  commit:     %s\n", task.CommitHash)
	}
	fmt.Printf("  created:    %s\n", ago(task.CreatedAt))
	fmt.Printf("  updated:    %s\n", ago(task.UpdatedAt))

	for i := range runs {
		r := &runs[i]
		exit := "running"
		if r.ExitCode != nil {
			exit = fmt.Sprintf("exit %d", *r.ExitCode)
		}
		fmt.Printf("  run %s  %s  %s  %s\n", r.ID, r.Agent, exit, r.Duration().Round(time.Second))
	}
	for i := range reviews {
		v := &reviews[i]
		fmt.Printf("  review %s  %s  %s\n", v.ID, v.Agent, v.Status)
		for _, issue := range v.Issues {
			fmt.Printf("    - %s\n", issue)
		}
	}
	return nil
}

func runReady(cmd *cobra.Command, args []string) error {
	st, _, err := mustStore()
	if err != nil {
		return err
	}
	defer st.Close()

	tasks, err := st.Ready()
	if err != nil {
		return err
	}
	return printTasks(tasks)
}

func runBlocked(cmd *cobra.Command, args []string) error {
	st, _, err := mustStore()
	if err != nil {
		return err
	}
	defer st.Close()

	tasks, err := st.Blocked()
	if err != nil {
		return err
	}
	return printTasks(tasks)
}

func runStart(cmd *cobra.Command, args []string) error {
	st, _, err := mustStore()
	if err != nil {
		return err
	}
	defer st.Close()

	task, err := st.Start(args[0])
	if err != nil {
		return err
	}
	if jsonOut {
		return printJSON(task)
	}
	fmt.Printf("Started %s: %s\n", task.ID, task.Title)
	return nil
}

// runDone closes every id it can and fails at the end if any could not
// be closed, so one bad id never blocks the rest of the batch.
func runDone(cmd *cobra.Command, args []string) error {
	st, fctx, err := mustStore()
	if err != nil {
		return err
	}
	defer st.Close()

	commit := doneCommit
	if commit == "" {
		commit = headCommit(fctx.Root)
	}

	var closed []*store.Task
	var failures []string
	for _, id := range args {
		task, err := st.Done(id, doneReason, commit)
		if err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", id, err))
			continue
		}
		closed = append(closed, task)
	}

	if jsonOut {
		if err := printJSON(map[string]any{"closed": closed, "failed": failures}); err != nil {
			return err
		}
		if len(failures) > 0 {
			return errReported
		}
		return nil
	}
	for _, t := range closed {
		fmt.Printf("Closed %s: %s\n", t.ID, t.Title)
	}
	if len(failures) > 0 {
		return fmt.Errorf("could not close: %s", strings.Join(failures, "; "))
	}
	return nil
}

// headCommit returns HEAD when the workspace is a clean git repo, so a
// bare `fuel done` records the commit the finished work landed in. A
// dirty tree records nothing: HEAD would not contain the work.
func headCommit(root string) string {
	repo := git.New(root)
	if !repo.IsRepo() || repo.HasUncommittedChanges() {
		return ""
	}
	head, err := repo.Head()
	if err != nil {
		return ""
	}
	return head
}

func runReopen(cmd *cobra.Command, args []string) error {
	st, _, err := mustStore()
	if err != nil {
		return err
	}
	defer st.Close()

	task, err := st.Reopen(args[0])
	if err != nil {
		return err
	}
	if jsonOut {
		return printJSON(task)
	}
	fmt.Printf("Reopened %s: %s\n", task.ID, task.Title)
	return nil
}

func runRetry(cmd *cobra.Command, args []string) error {
	st, _, err := mustStore()
	if err != nil {
		return err
	}
	defer st.Close()

	task, err := st.Retry(args[0])
	if err != nil {
		return err
	}
	if jsonOut {
		return printJSON(task)
	}
	fmt.Printf("Requeued %s: %s\n", task.ID, task.Title)
	return nil
}

func runRm(cmd *cobra.Command, args []string) error {
	st, _, err := mustStore()
	if err != nil {
		return err
	}
	defer st.Close()

	task, err := st.Find(args[0])
	if err != nil {
		return err
	}
	if err := st.Delete(task.ID); err != nil {
		return err
	}
	if jsonOut {
		return printJSON(map[string]string{"deleted": task.ID})
	}
	fmt.Printf("Deleted %s: %s\n", task.ID, task.Title)
	return nil
}

func runArchive(cmd *cobra.Command, args []string) error {
	st, _, err := mustStore()
	if err != nil {
		return err
	}
	defer st.Close()

	olderThan := time.Duration(archiveDays) * 24 * time.Hour
	if archiveAll {
		olderThan = 0
	}
	removed, err := st.Archive(olderThan)
	if err != nil {
		return err
	}
	if jsonOut {
		return printJSON(removed)
	}
	fmt.Printf("Archived %d closed task(s)\n", len(removed))
	for i := range removed {
		fmt.Printf("  %s  %s\n", removed[i].ID, removed[i].Title)
	}
	return nil
}

func runStuck(cmd *cobra.Command, args []string) error {
	st, _, err := mustStore()
	if err != nil {
		return err
	}
	defer st.Close()

	tasks, err := st.Stuck()
	if err != nil {
		return err
	}
	if jsonOut {
		return printJSON(tasks)
	}
	if len(tasks) == 0 {
		fmt.Println("Nothing stuck.")
		return nil
	}
	for i := range tasks {
		t := &tasks[i]
		exit := "?"
		if t.ConsumedExitCode != nil {
			exit = fmt.Sprintf("%d", *t.ConsumedExitCode)
		}
		fmt.Printf("%s  exit %s  %s\n", t.ID, exit, t.Title)
	}
	return nil
}
