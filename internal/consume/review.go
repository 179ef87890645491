package consume

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/ashleyhindle/fuel/internal/git"
	"github.com/ashleyhindle/fuel/internal/proc"
	"github.com/ashleyhindle/fuel/internal/store"
)

// reviewRef correlates a reviewer child with its review row and subject
// task.
type reviewRef struct {
	ReviewID string
	TaskID   string
	Agent    string
}

// reviewPrefix namespaces reviewer children in the process manager so
// review concurrency is capped separately from regular agent work.
const reviewPrefix = "review:"

// queuedReview is a pending review waiting for a reviewer slot.
type queuedReview struct {
	ReviewID string
	TaskID   string
}

// triggerReview records a pending review and queues the reviewer spawn.
// The spawn happens on the next processReviews pass so the per-reviewer
// cap is enforced in one place.
func (d *Daemon) triggerReview(task *store.Task) error {
	agentName, _, _, ok := d.cfg.ReviewAgent()
	if !ok {
		return fmt.Errorf("review agent not configured")
	}

	review, err := d.st.CreateReview(task.ID, agentName)
	if err != nil {
		return fmt.Errorf("record review: %w", err)
	}

	d.reviewQueue = append(d.reviewQueue, queuedReview{ReviewID: review.ID, TaskID: task.ID})
	d.log.Info("queued review", "task", task.ID, "review", review.ID)
	return nil
}

// requeueOrphanedReviews rebuilds the review queue from the store: tasks
// a previous instance left in review with a pending review row and no
// reviewer running. Called once on daemon start.
func (d *Daemon) requeueOrphanedReviews() {
	tasks, err := d.st.All(store.TaskFilter{Status: store.StatusReview})
	if err != nil {
		d.log.Error("load in-review tasks", "error", err)
		return
	}
	for i := range tasks {
		review, err := d.st.LatestReview(tasks[i].ID)
		if err != nil || review.Status != store.ReviewPending {
			continue
		}
		d.reviewQueue = append(d.reviewQueue, queuedReview{ReviewID: review.ID, TaskID: tasks[i].ID})
		d.log.Info("requeued orphaned review", "task", tasks[i].ID, "review", review.ID)
	}
}

// processReviews spawns queued reviewers while slots are free. Called
// once per tick, after completions are routed.
func (d *Daemon) processReviews() {
	if len(d.reviewQueue) == 0 || d.draining {
		return
	}

	agentName, agentCfg, model, ok := d.cfg.ReviewAgent()
	if !ok {
		// Review was disabled mid-flight; close out the queue.
		for _, q := range d.reviewQueue {
			d.reviewFallback(q.ReviewID, q.TaskID)
		}
		d.reviewQueue = nil
		return
	}

	var rest []queuedReview
	for i, q := range d.reviewQueue {
		if d.procs.AgentCount(reviewPrefix+agentName) >= agentCfg.MaxConcurrentOrDefault() {
			rest = append(rest, d.reviewQueue[i:]...)
			break
		}

		task, err := d.st.Find(q.TaskID)
		if err != nil {
			// The subject is gone; fail the row so it never sits
			// pending forever.
			d.log.Error("load review subject", "task", q.TaskID, "error", err)
			if cerr := d.st.CompleteReview(q.ReviewID, false, []string{"subject_missing"}, nil); cerr != nil {
				d.log.Error("mark review failed", "review", q.ReviewID, "error", cerr)
			}
			continue
		}

		promptText := d.prompts.BuildReview(task, git.New(d.fctx.Root).Diff())
		argv := agentArgv(agentCfg, model, "")

		child, err := d.procs.Spawn(reviewPrefix+agentName, argv, nil, d.fctx.Root, promptText)
		if err != nil {
			d.log.Error("spawn reviewer", "task", q.TaskID, "error", err)
			d.reviewFallback(q.ReviewID, q.TaskID)
			continue
		}

		d.reviewChildren[child.ID] = reviewRef{ReviewID: q.ReviewID, TaskID: q.TaskID, Agent: agentName}
		d.log.Info("launched reviewer", "task", q.TaskID, "review", q.ReviewID, "pid", child.PID)
	}
	d.reviewQueue = rest
}

// handleReviewCompletion parses a finished reviewer's verdict and drives
// the subject task accordingly.
func (d *Daemon) handleReviewCompletion(ref reviewRef, c proc.Completion) {
	combined := c.Stdout
	if c.Stderr != "" {
		combined += "\n" + c.Stderr
	}

	if c.ExitCode != 0 {
		d.log.Warn("reviewer failed to run", "task", ref.TaskID, "exit_code", c.ExitCode)
		d.reviewFallback(ref.ReviewID, ref.TaskID)
		return
	}

	verdict := ParseVerdict(combined)
	if !verdict.Found {
		d.log.Warn("reviewer gave no verdict", "task", ref.TaskID)
		d.reviewFallback(ref.ReviewID, ref.TaskID)
		return
	}

	if err := d.st.CompleteReview(ref.ReviewID, verdict.Passed, verdict.Issues, verdict.FollowupIDs); err != nil {
		d.log.Error("complete review", "review", ref.ReviewID, "error", err)
	}

	if verdict.Passed {
		if _, err := d.st.Done(ref.TaskID, "Review passed", ""); err != nil {
			d.log.Error("close reviewed task", "task", ref.TaskID, "error", err)
			return
		}
		d.log.Info("review passed", "task", ref.TaskID, "review", ref.ReviewID)
		return
	}

	// Failed review: the task stays in review. Follow-up tasks the
	// reviewer created already block it; an operator can reopen later.
	d.log.Warn("review failed", "task", ref.TaskID, "review", ref.ReviewID, "issues", verdict.Issues)
}

// reviewFallback handles a review that never produced a verdict: mark
// the row failed and auto-close the subject, since the work itself
// succeeded.
func (d *Daemon) reviewFallback(reviewID, taskID string) {
	if err := d.st.CompleteReview(reviewID, false, []string{"reviewer_failed"}, nil); err != nil {
		d.log.Error("mark review failed", "review", reviewID, "error", err)
	}
	d.autoClose(taskID, "Auto-completed (review failed to run)")
}

// Verdict is a parsed reviewer response.
type Verdict struct {
	Found       bool
	Passed      bool
	Issues      []string
	FollowupIDs []string
}

var followupIDRe = regexp.MustCompile(`f-[0-9a-f]{6}`)

// ParseVerdict extracts the REVIEW/ISSUES/FOLLOWUPS block from reviewer
// output. Expected format:
//
//	REVIEW: PASS
//	ISSUES:
//	- tests_failing
//	FOLLOWUPS: f-1a2b3c, f-4d5e6f
//
// The last REVIEW line wins so reviewers can think out loud first.
func ParseVerdict(output string) Verdict {
	var v Verdict

	lines := strings.Split(output, "\n")
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		upper := strings.ToUpper(trimmed)

		switch {
		case strings.HasPrefix(upper, "REVIEW:"):
			rest := strings.ToUpper(strings.TrimSpace(trimmed[len("REVIEW:"):]))
			if strings.Contains(rest, "PASS") {
				v.Found = true
				v.Passed = true
			} else if strings.Contains(rest, "FAIL") {
				v.Found = true
				v.Passed = false
			}

		case strings.HasPrefix(upper, "ISSUES:"):
			for j := i + 1; j < len(lines); j++ {
				item := strings.TrimSpace(lines[j])
				if item == "" {
					continue
				}
				if !strings.HasPrefix(item, "-") && !strings.HasPrefix(item, "*") {
					break
				}
				issue := strings.TrimSpace(strings.TrimLeft(item, "-* "))
				if issue != "" {
					v.Issues = append(v.Issues, issue)
				}
			}

		case strings.HasPrefix(upper, "FOLLOWUPS:"):
			v.FollowupIDs = append(v.FollowupIDs,
				followupIDRe.FindAllString(strings.ToLower(trimmed), -1)...)
		}
	}
	return v
}
