package consume

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/ashleyhindle/fuel/internal/proc"
	"github.com/ashleyhindle/fuel/internal/store"
)

// Classification is the verdict on one finished agent subprocess.
type Classification int

const (
	// ClassSuccess is a clean zero exit with no blocking pattern.
	ClassSuccess Classification = iota
	// ClassFailure is any non-zero exit.
	ClassFailure
	// ClassPermissionBlocked means the agent reported that its commands
	// were being rejected, regardless of exit code.
	ClassPermissionBlocked
)

// permissionPatterns are matched case-insensitively against the combined
// output, in this order. First match wins.
var permissionPatterns = []string{
	"commands are being rejected",
	"terminal commands are being rejected",
	"please manually complete",
}

// Classify turns an exit code and combined output into a classification.
// Permission blocks outrank the exit code.
func Classify(exitCode int, output string) Classification {
	lower := strings.ToLower(output)
	for _, pattern := range permissionPatterns {
		if strings.Contains(lower, pattern) {
			return ClassPermissionBlocked
		}
	}
	if exitCode != 0 {
		return ClassFailure
	}
	return ClassSuccess
}

// outputTailLimit bounds what gets persisted on a run.
const outputTailLimit = 8 * 1024

// outputTail returns the last few KiB of output.
func outputTail(s string) string {
	if len(s) <= outputTailLimit {
		return s
	}
	return proc.TruncationMarker + s[len(s)-outputTailLimit:]
}

// Agents report their session id either as a JSON field or as a plain
// "Session ID: ..." line, and their spend as a cost_usd field.
var (
	sessionIDRe = regexp.MustCompile(`(?i)session[_\- ]?id"?\s*[:=]\s*"?([0-9a-zA-Z-]{8,})`)
	costUSDRe   = regexp.MustCompile(`(?i)"?(?:total_)?cost_usd"?\s*[:=]\s*"?([0-9]+(?:\.[0-9]+)?)`)
)

// extractSessionID pulls the agent's session id out of its output, or ""
// when none was reported.
func extractSessionID(output string) string {
	m := sessionIDRe.FindStringSubmatch(output)
	if m == nil {
		return ""
	}
	return m[1]
}

// extractCostUSD pulls the reported run cost out of agent output.
func extractCostUSD(output string) (float64, bool) {
	m := costUSDRe.FindStringSubmatch(output)
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// handleCompletion converts one reaped agent child into task-store
// mutations per its classification.
func (d *Daemon) handleCompletion(ref childRef, c proc.Completion) {
	combined := c.Stdout
	if c.Stderr != "" {
		combined += "\n" + c.Stderr
	}
	tail := outputTail(combined)

	if err := d.st.EndRun(ref.RunID, c.ExitCode, tail); err != nil {
		d.log.Error("record run end", "run", ref.RunID, "error", err)
	}
	if sid := extractSessionID(combined); sid != "" {
		if err := d.st.SetRunSession(ref.RunID, sid); err != nil {
			d.log.Error("record session id", "run", ref.RunID, "error", err)
		}
	}
	if cost, ok := extractCostUSD(combined); ok {
		if err := d.st.SetRunCost(ref.RunID, cost); err != nil {
			d.log.Error("record run cost", "run", ref.RunID, "error", err)
		}
	}
	d.st.SetConsumePID(ref.TaskID, 0)

	switch Classify(c.ExitCode, combined) {
	case ClassPermissionBlocked:
		d.handlePermissionBlocked(ref, tail)

	case ClassFailure:
		d.log.Warn("agent failed", "task", ref.TaskID, "agent", ref.Agent, "exit_code", c.ExitCode)
		task, err := d.st.Find(ref.TaskID)
		if err == nil && task.Status == store.StatusInProgress {
			if err := d.st.MarkConsumed(ref.TaskID, c.ExitCode, tail); err != nil {
				d.log.Error("mark consumed", "task", ref.TaskID, "error", err)
			}
		}
		d.health.RecordFailure(ref.Agent)

	case ClassSuccess:
		d.handleSuccess(ref, tail)
	}
}

// handlePermissionBlocked files a needs-human task describing the
// blockage, blocks the original task on it, and requeues the original.
func (d *Daemon) handlePermissionBlocked(ref childRef, tail string) {
	d.log.Warn("agent permission-blocked", "task", ref.TaskID, "agent", ref.Agent)

	blocker, err := d.st.CreateTask(store.NewTask{
		Title: fmt.Sprintf("Configure agent permissions for %s", ref.Agent),
		Description: fmt.Sprintf(
			"The %s agent could not act on task %s because its commands were being rejected.\n"+
				"Grant the agent the permissions it needs, then close this task.\n\nAgent output tail:\n%s",
			ref.Agent, ref.TaskID, tail),
		Priority: 1,
		Labels:   []string{"needs-human"},
	})
	if err != nil {
		d.log.Error("create needs-human task", "task", ref.TaskID, "error", err)
	} else if err := d.st.AddDependency(ref.TaskID, blocker.ID); err != nil {
		d.log.Error("block task on permissions", "task", ref.TaskID, "blocker", blocker.ID, "error", err)
	}

	if _, err := d.st.Reopen(ref.TaskID); err != nil {
		d.log.Error("reopen permission-blocked task", "task", ref.TaskID, "error", err)
	}
	d.health.RecordFailure(ref.Agent)
}

// handleSuccess routes a clean exit: hand off to review when enabled,
// auto-close otherwise. If the agent already closed the task itself, the
// run record is all that's left to keep.
func (d *Daemon) handleSuccess(ref childRef, tail string) {
	d.health.RecordSuccess(ref.Agent)

	task, err := d.st.Find(ref.TaskID)
	if err != nil {
		d.log.Error("load completed task", "task", ref.TaskID, "error", err)
		return
	}
	if task.Status != store.StatusInProgress {
		// The agent ran `fuel done` itself; nothing more to do.
		d.log.Info("agent closed task itself", "task", ref.TaskID, "status", task.Status)
		return
	}

	if _, _, _, ok := d.cfg.ReviewAgent(); ok {
		if err := d.triggerReview(task); err != nil {
			d.log.Error("trigger review, falling back to auto-close", "task", ref.TaskID, "error", err)
			d.autoClose(ref.TaskID, "Auto-completed by consume (agent exit 0)")
			return
		}
		if err := d.st.SetStatus(ref.TaskID, store.StatusReview); err != nil {
			d.log.Error("move task to review", "task", ref.TaskID, "error", err)
		}
		return
	}

	d.autoClose(ref.TaskID, "Auto-completed by consume (agent exit 0)")
}

// autoClose closes a task the supervision loop decided is finished.
func (d *Daemon) autoClose(taskID, reason string) {
	if _, err := d.st.AddLabel(taskID, "auto-closed"); err != nil {
		d.log.Error("label auto-closed", "task", taskID, "error", err)
	}
	if _, err := d.st.Done(taskID, reason, ""); err != nil {
		d.log.Error("auto-close task", "task", taskID, "error", err)
		return
	}
	d.log.Info("auto-closed task", "task", taskID, "reason", reason)
}
