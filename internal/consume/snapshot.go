package consume

import (
	"time"

	"github.com/ashleyhindle/fuel/internal/health"
	"github.com/ashleyhindle/fuel/internal/store"
)

// Snapshot is the cross-component view of daemon state served to the
// board and every --json consumer. One struct, one source of truth.
type Snapshot struct {
	Ready      []store.Task         `json:"ready"`
	InProgress []InProgressEntry    `json:"in_progress"`
	Review     []ReviewEntry        `json:"review"`
	Blocked    []store.Task         `json:"blocked"`
	Human      []HumanEntry         `json:"human"`
	Done       []store.Task         `json:"done"`
	Health     []health.AgentHealth `json:"health"`
	InstanceID string               `json:"instance_id"`
	Uptime     string               `json:"uptime"`
}

// InProgressEntry pairs a running task with its live run.
type InProgressEntry struct {
	Task     store.Task `json:"task"`
	Run      *store.Run `json:"run,omitempty"`
	PID      int        `json:"pid,omitempty"`
	Duration string     `json:"duration,omitempty"`
}

// ReviewEntry pairs a task in review with its latest review row.
type ReviewEntry struct {
	Task   store.Task    `json:"task"`
	Review *store.Review `json:"review,omitempty"`
}

// HumanEntry is a task waiting on a person.
type HumanEntry struct {
	Task   store.Task `json:"task"`
	Reason string     `json:"reason"`
}

// snapshot limits keep the payload bounded for display consumers.
const (
	snapshotReadyLimit = 20
	snapshotDoneLimit  = 10
)

// BuildSnapshot aggregates the current cross-component state.
func (d *Daemon) BuildSnapshot() (*Snapshot, error) {
	snap := &Snapshot{
		Health:     d.health.All(),
		InstanceID: d.life.InstanceID,
		Uptime:     time.Since(d.life.StartedAt).Round(time.Second).String(),
	}

	ready, err := d.st.Ready()
	if err != nil {
		return nil, err
	}
	// Filter to what admission would actually accept right now.
	for _, t := range ready {
		if len(snap.Ready) >= snapshotReadyLimit {
			break
		}
		agentName, agentCfg, _, err := d.cfg.AgentFor(string(t.Complexity))
		if err != nil || !d.health.CanSpawn(agentName) {
			continue
		}
		if d.procs.AgentCount(agentName) >= agentCfg.MaxConcurrentOrDefault() {
			continue
		}
		snap.Ready = append(snap.Ready, t)
	}

	inProgress, err := d.st.All(store.TaskFilter{Status: store.StatusInProgress})
	if err != nil {
		return nil, err
	}
	for _, t := range inProgress {
		entry := InProgressEntry{Task: t}
		if run, err := d.st.LatestRun(t.ID); err == nil {
			entry.Run = run
			entry.Duration = run.Duration().Round(time.Second).String()
		}
		if t.ConsumePID != nil {
			entry.PID = *t.ConsumePID
		}
		snap.InProgress = append(snap.InProgress, entry)
	}

	inReview, err := d.st.All(store.TaskFilter{Status: store.StatusReview})
	if err != nil {
		return nil, err
	}
	for _, t := range inReview {
		entry := ReviewEntry{Task: t}
		if review, err := d.st.LatestReview(t.ID); err == nil {
			entry.Review = review
		}
		snap.Review = append(snap.Review, entry)
	}

	snap.Blocked, err = d.st.Blocked()
	if err != nil {
		return nil, err
	}

	humans, err := d.st.All(store.TaskFilter{Labels: []string{"needs-human"}})
	if err != nil {
		return nil, err
	}
	for _, t := range humans {
		if t.Status == store.StatusClosed {
			continue
		}
		snap.Human = append(snap.Human, HumanEntry{Task: t, Reason: t.Description})
	}

	snap.Done, err = d.st.RecentClosed(snapshotDoneLimit)
	if err != nil {
		return nil, err
	}
	return snap, nil
}
