// Package proc owns the fleet of live agent subprocesses for the consume
// daemon. Children get the prompt on stdin, run in their own process
// group, and have stdout/stderr captured into bounded buffers. The
// manager itself never blocks: Poll drains a completion channel fed by
// per-child wait goroutines, and the scheduling loop stays the only
// caller that mutates manager state.
package proc

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

// Child is one live (or just-reaped) agent subprocess.
type Child struct {
	ID        int64
	Agent     string
	PID       int
	StartedAt time.Time

	cmd    *exec.Cmd
	stdout *boundedBuffer
	stderr *boundedBuffer
}

// ChildView is the read-only child summary handed to snapshots.
type ChildView struct {
	ID        int64     `json:"id"`
	Agent     string    `json:"agent"`
	PID       int       `json:"pid"`
	StartedAt time.Time `json:"started_at"`
}

// Completion describes one reaped child.
type Completion struct {
	ChildID   int64
	Agent     string
	ExitCode  int
	Stdout    string
	Stderr    string
	StartedAt time.Time
	EndedAt   time.Time
}

// OutputLine is a single streamed line of child output.
type OutputLine struct {
	ChildID int64
	Agent   string
	Stderr  bool
	Line    string
}

// Manager spawns, tracks, and reaps agent subprocesses.
type Manager struct {
	log *slog.Logger

	mu       sync.Mutex
	children map[int64]*Child
	nextID   int64
	outputCB func(OutputLine)

	completions chan Completion
	shutdown    atomic.Bool
}

// NewManager creates an empty manager.
func NewManager(log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		log:         log,
		children:    map[int64]*Child{},
		completions: make(chan Completion, 64),
	}
}

// Spawn starts one agent subprocess: argv[0] is the executable, the
// prompt goes to stdin, stdout/stderr land in bounded buffers. The child
// gets its own process group so terminal signals don't reach it and
// Signal can address the whole group.
func (m *Manager) Spawn(agent string, argv []string, env []string, cwd, stdinPayload string) (*Child, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("spawn %s: empty argv", agent)
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = cwd
	cmd.Env = append(os.Environ(), env...)
	cmd.Stdin = strings.NewReader(stdinPayload)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	stdout := newBoundedBuffer(DefaultBufferSize)
	stderr := newBoundedBuffer(DefaultBufferSize)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	m.mu.Lock()
	m.nextID++
	id := m.nextID
	if cb := m.outputCB; cb != nil {
		stdout.setLineCallback(func(line string) {
			cb(OutputLine{ChildID: id, Agent: agent, Line: line})
		})
		stderr.setLineCallback(func(line string) {
			cb(OutputLine{ChildID: id, Agent: agent, Stderr: true, Line: line})
		})
	}
	m.mu.Unlock()

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("spawn %s: %w", agent, err)
	}

	child := &Child{
		ID:        id,
		Agent:     agent,
		PID:       cmd.Process.Pid,
		StartedAt: time.Now().UTC(),
		cmd:       cmd,
		stdout:    stdout,
		stderr:    stderr,
	}

	m.mu.Lock()
	m.children[id] = child
	m.mu.Unlock()

	m.log.Info("spawned agent", "agent", agent, "pid", child.PID, "child_id", id)

	// Wait returns only after the stdout/stderr copies finish, so every
	// byte read precedes EndedAt.
	go func() {
		err := cmd.Wait()
		m.completions <- Completion{
			ChildID:   id,
			Agent:     agent,
			ExitCode:  exitCode(err),
			Stdout:    stdout.String(),
			Stderr:    stderr.String(),
			StartedAt: child.StartedAt,
			EndedAt:   time.Now().UTC(),
		}
	}()

	return child, nil
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return exitErr.ExitCode()
	}
	return -1
}

// Poll returns the children reaped since the last call, in reap order.
// Never blocks.
func (m *Manager) Poll() []Completion {
	var done []Completion
	for {
		select {
		case c := <-m.completions:
			m.mu.Lock()
			delete(m.children, c.ChildID)
			m.mu.Unlock()
			m.log.Info("reaped agent", "agent", c.Agent, "child_id", c.ChildID, "exit_code", c.ExitCode)
			done = append(done, c)
		default:
			return done
		}
	}
}

// ActiveProcesses returns a view of all live children.
func (m *Manager) ActiveProcesses() []ChildView {
	m.mu.Lock()
	defer m.mu.Unlock()

	views := make([]ChildView, 0, len(m.children))
	for _, c := range m.children {
		views = append(views, ChildView{ID: c.ID, Agent: c.Agent, PID: c.PID, StartedAt: c.StartedAt})
	}
	return views
}

// AgentCount returns the number of live children for one agent.
func (m *Manager) AgentCount(agent string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, c := range m.children {
		if c.Agent == agent {
			n++
		}
	}
	return n
}

// Signal delivers a signal to a child's process group without blocking.
func (m *Manager) Signal(childID int64, sig syscall.Signal) error {
	m.mu.Lock()
	child, ok := m.children[childID]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("no such child %d", childID)
	}
	// Negative pid addresses the process group (Setsid at spawn).
	return syscall.Kill(-child.PID, sig)
}

// SetOutputCallback installs a per-line streaming hook for children
// spawned after this call.
func (m *Manager) SetOutputCallback(fn func(OutputLine)) {
	m.mu.Lock()
	m.outputCB = fn
	m.mu.Unlock()
}

// RegisterSignalHandlers installs SIGINT/SIGTERM handlers that only set
// the shutdown flag. All real work happens on the next loop tick.
func (m *Manager) RegisterSignalHandlers() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		for range ch {
			m.shutdown.Store(true)
		}
	}()
}

// RequestShutdown sets the shutdown flag (IPC stop path).
func (m *Manager) RequestShutdown() {
	m.shutdown.Store(true)
}

// IsShuttingDown reports whether shutdown has been requested.
func (m *Manager) IsShuttingDown() bool {
	return m.shutdown.Load()
}

// Shutdown soft-terminates all children, waits until everything is reaped
// or the grace deadline passes, then force-kills the rest. Returns the
// completions collected while draining.
func (m *Manager) Shutdown(grace time.Duration) []Completion {
	m.mu.Lock()
	for _, c := range m.children {
		syscall.Kill(-c.PID, syscall.SIGTERM)
	}
	remaining := len(m.children)
	m.mu.Unlock()

	var drained []Completion
	deadline := time.Now().Add(grace)
	for remaining > 0 && time.Now().Before(deadline) {
		done := m.Poll()
		drained = append(drained, done...)
		remaining -= len(done)
		if remaining > 0 {
			time.Sleep(100 * time.Millisecond)
		}
	}

	m.mu.Lock()
	for _, c := range m.children {
		m.log.Warn("force-killing agent", "agent", c.Agent, "pid", c.PID)
		syscall.Kill(-c.PID, syscall.SIGKILL)
	}
	m.mu.Unlock()

	// Collect the kills; SIGKILL reaps promptly.
	deadline = time.Now().Add(2 * time.Second)
	for remaining > 0 && time.Now().Before(deadline) {
		done := m.Poll()
		drained = append(drained, done...)
		remaining -= len(done)
		if remaining > 0 {
			time.Sleep(50 * time.Millisecond)
		}
	}
	return drained
}
