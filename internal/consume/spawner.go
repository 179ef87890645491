package consume

import (
	"fmt"

	"github.com/ashleyhindle/fuel/internal/config"
	"github.com/ashleyhindle/fuel/internal/store"
)

// LaunchResult reports what tryLaunch did with a ready task.
type LaunchResult struct {
	Spawned bool
	RunID   string
	Reason  string // "cooldown", "at_cap", "lost_claim", "spawn_failed", or a config error
}

// childRef correlates a process-manager child with its run and task.
type childRef struct {
	RunID  string
	TaskID string
	Agent  string
}

// tryLaunch admits one ready task: resolve its agent from the complexity
// mapping, check health and the per-agent cap, claim the task, and spawn.
func (d *Daemon) tryLaunch(task *store.Task) LaunchResult {
	agentName, agentCfg, model, err := d.cfg.AgentFor(string(task.Complexity))
	if err != nil {
		return LaunchResult{Reason: err.Error()}
	}

	if !d.health.CanSpawn(agentName) {
		return LaunchResult{Reason: "cooldown"}
	}
	if d.procs.AgentCount(agentName) >= agentCfg.MaxConcurrentOrDefault() {
		return LaunchResult{Reason: "at_cap"}
	}

	resumeSession := d.resumeSessionFor(task.ID, agentName, agentCfg)
	promptText := d.buildPrompt(task)

	run, err := d.st.CreateRun(task.ID, agentName, model)
	if err != nil {
		d.log.Error("create run failed", "task", task.ID, "error", err)
		return LaunchResult{Reason: "store_error"}
	}

	// Atomic open -> in_progress; losing this race means someone else
	// (another CLI invocation) already claimed the task.
	if _, err := d.st.Start(task.ID); err != nil {
		d.st.EndRun(run.ID, -1, "task was claimed elsewhere before spawn")
		return LaunchResult{Reason: "lost_claim"}
	}

	argv := agentArgv(agentCfg, model, resumeSession)

	child, err := d.procs.Spawn(agentName, argv, nil, d.fctx.Root, promptText)
	if err != nil {
		d.log.Error("spawn failed", "agent", agentName, "task", task.ID, "error", err)
		d.st.EndRun(run.ID, -1, fmt.Sprintf("spawn failed: %v", err))
		if _, rerr := d.st.Reopen(task.ID); rerr != nil {
			d.log.Error("reopen after spawn failure", "task", task.ID, "error", rerr)
		}
		d.health.RecordFailure(agentName)
		return LaunchResult{Reason: "spawn_failed"}
	}

	d.health.RecordSpawn(agentName)
	d.st.SetConsumePID(task.ID, child.PID)
	if resumeSession != "" {
		// Carry the session forward so the chain survives even when the
		// agent does not print the id again on this run.
		if err := d.st.SetRunSession(run.ID, resumeSession); err != nil {
			d.log.Error("carry session id", "run", run.ID, "error", err)
		}
	}
	d.agentChildren[child.ID] = childRef{RunID: run.ID, TaskID: task.ID, Agent: agentName}

	d.log.Info("launched task", "task", task.ID, "agent", agentName,
		"run", run.ID, "pid", child.PID, "resumed", resumeSession != "")
	return LaunchResult{Spawned: true, RunID: run.ID}
}

// agentArgv builds the command line for one agent invocation.
func agentArgv(agentCfg config.Agent, model, resumeSession string) []string {
	argv := append([]string{agentCfg.Command}, agentCfg.Args...)
	if model != "" {
		argv = append(argv, "--model", model)
	}
	if resumeSession != "" {
		argv = append(argv, agentCfg.SessionResumeFlag, resumeSession)
	}
	return argv
}

// resumeSessionFor finds a previous session to pick back up: the same
// agent ran this task before, recorded a session id, and supports a
// resume flag. Returns "" when the task should start fresh.
func (d *Daemon) resumeSessionFor(taskID, agentName string, agentCfg config.Agent) string {
	if agentCfg.SessionResumeFlag == "" {
		return ""
	}
	run, err := d.st.LatestRun(taskID)
	if err != nil || run.Agent != agentName {
		return ""
	}
	return run.SessionID
}

// buildPrompt assembles the agent prompt, including the epic block when
// the task belongs to one.
func (d *Daemon) buildPrompt(task *store.Task) string {
	var epic *store.Epic
	if task.EpicID != "" {
		if e, err := d.st.FindEpic(task.EpicID); err == nil {
			epic = e
		}
	}
	return d.prompts.BuildTask(task, epic, "")
}
