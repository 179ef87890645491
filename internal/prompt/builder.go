// Package prompt assembles the text handed to agent subprocesses. The
// output is deterministic for a given (task, epic, reality notes,
// preamble) so runs are reproducible; consumers assert on substrings, not
// exact bytes.
package prompt

import (
	"fmt"
	"os"
	"strings"

	"github.com/ashleyhindle/fuel/internal/store"
)

// Builder constructs prompts from task data plus workspace context.
type Builder struct {
	realityPath string
}

// New creates a builder. realityPath points at the operator-authored
// .fuel/reality.md; a missing file simply omits that block.
func New(realityPath string) *Builder {
	return &Builder{realityPath: realityPath}
}

// BuildTask creates the prompt for an agent working on a task. The epic
// block, when present, is injected verbatim before the task block.
func (b *Builder) BuildTask(task *store.Task, epic *store.Epic, preamble string) string {
	var parts []string

	if preamble != "" {
		parts = append(parts, preamble)
	}
	if reality := b.realityNotes(); reality != "" {
		parts = append(parts, reality)
	}
	if epic != nil {
		parts = append(parts, epicSection(epic))
	}
	parts = append(parts, taskSection(task))
	parts = append(parts, taskInstructions(task))

	return strings.Join(parts, "\n\n")
}

// BuildReview creates the prompt for a reviewer checking a completed
// task. The diff is embedded when available; the response-format block
// tells the reviewer how to report its verdict.
func (b *Builder) BuildReview(task *store.Task, diff string) string {
	var parts []string

	parts = append(parts, "# You are reviewing completed work\nAnother agent claims to have finished the task below. Verify the work is actually done, committed, and tested.")
	if reality := b.realityNotes(); reality != "" {
		parts = append(parts, reality)
	}
	parts = append(parts, taskSection(task))
	if diff != "" {
		parts = append(parts, "## Changes (git diff)\n```diff\n"+diff+"\n```")
	}
	parts = append(parts, reviewInstructions(task))

	return strings.Join(parts, "\n\n")
}

func (b *Builder) realityNotes() string {
	data, err := os.ReadFile(b.realityPath)
	if err != nil || len(strings.TrimSpace(string(data))) == 0 {
		return ""
	}
	return "## Project reality\n" + strings.TrimSpace(string(data))
}

func epicSection(epic *store.Epic) string {
	var sb strings.Builder
	sb.WriteString("## Epic (for context)\n")
	sb.WriteString(fmt.Sprintf("**%s: %s**\n", epic.ID, epic.Title))
	if epic.Description != "" {
		sb.WriteString(epic.Description + "\n")
	}
	return sb.String()
}

func taskSection(task *store.Task) string {
	var sb strings.Builder
	sb.WriteString("## Task\n")
	sb.WriteString(fmt.Sprintf("**%s: %s**\n", task.ID, task.Title))
	sb.WriteString(fmt.Sprintf("Type: %s | Priority: %d | Complexity: %s\n", task.Type, task.Priority, task.Complexity))
	if task.Description != "" {
		sb.WriteString("\n### Description\n" + task.Description + "\n")
	}
	return sb.String()
}

func taskInstructions(task *store.Task) string {
	return fmt.Sprintf(`## Instructions
- Complete the task above, then commit your work.
- When finished, close it: fuel done %s --reason "what you did"
- If you discover follow-up work, create tasks: fuel add "title"
- Focus on this task only; don't refactor unrelated code.`, task.ID)
}

func reviewInstructions(task *store.Task) string {
	return fmt.Sprintf(`## Response format
End your response with exactly this block:

REVIEW: PASS or FAIL
ISSUES:
- issue token or description (e.g. uncommitted_changes, tests_failing)
FOLLOWUPS: comma-separated task ids

If the work is incomplete, create follow-up tasks first
(fuel add "title", then fuel dep add <followup> %s) and list their ids
under FOLLOWUPS. Omit ISSUES and FOLLOWUPS when passing.`, task.ID)
}
