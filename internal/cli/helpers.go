package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ashleyhindle/fuel/internal/config"
	"github.com/ashleyhindle/fuel/internal/store"
	"github.com/ashleyhindle/fuel/internal/workspace"
)

// fuelContext locates the workspace rooted at the current directory.
func fuelContext() (workspace.FuelContext, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return workspace.FuelContext{}, err
	}
	fctx := workspace.New(cwd)
	if !fctx.Initialized() {
		return workspace.FuelContext{}, fmt.Errorf("fuel not initialized. Run: fuel init")
	}
	return fctx, nil
}

// mustStore opens the store for an initialized workspace.
func mustStore() (*store.Store, workspace.FuelContext, error) {
	fctx, err := fuelContext()
	if err != nil {
		return nil, fctx, err
	}
	st, err := store.New(fctx.DBPath())
	if err != nil {
		return nil, fctx, err
	}
	return st, fctx, nil
}

// mustConfig loads config.yaml for an initialized workspace.
func mustConfig(fctx workspace.FuelContext) (*config.Config, error) {
	return config.Load(fctx.ConfigPath())
}

// printJSON writes v as indented JSON to stdout.
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// taskLine is the one-line list rendering of a task.
func taskLine(t *store.Task) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s  p%d  [%s]  %s", t.ID, t.Priority, t.Status, t.Title)
	if len(t.Labels) > 0 {
		fmt.Fprintf(&b, "  (%s)", strings.Join(t.Labels, ", "))
	}
	if len(t.BlockedBy) > 0 {
		fmt.Fprintf(&b, "  blocked-by: %s", strings.Join(t.BlockedBy, ", "))
	}
	return b.String()
}

// printTasks renders a task list as JSON or one line each.
func printTasks(tasks []store.Task) error {
	if jsonOut {
		return printJSON(tasks)
	}
	if len(tasks) == 0 {
		fmt.Println("No tasks.")
		return nil
	}
	for i := range tasks {
		fmt.Println(taskLine(&tasks[i]))
	}
	return nil
}

// printTask renders a single task as JSON or one line.
func printTask(t *store.Task) error {
	if jsonOut {
		return printJSON(t)
	}
	fmt.Println(taskLine(t))
	return nil
}

// ago formats a timestamp as a rough relative age.
func ago(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds ago", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}
