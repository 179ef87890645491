// Package consume is the fuel daemon: the scheduling loop that admits
// ready tasks, supervises agent subprocesses, drives reviews, and serves
// the local control protocol.
package consume

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/google/uuid"
)

// ErrAlreadyRunning means another daemon holds the PID lock for this
// workspace.
var ErrAlreadyRunning = errors.New("consume daemon already running")

// PIDFile is the JSON written to .fuel/consume.pid.
type PIDFile struct {
	PID        int       `json:"pid"`
	StartedAt  time.Time `json:"started_at"`
	InstanceID string    `json:"instance_id"`
	Port       int       `json:"port"`
}

// Lifecycle owns the PID file and its advisory lock for one daemon
// instance.
type Lifecycle struct {
	pidPath  string
	lockPath string

	lockFile   *os.File
	InstanceID string
	StartedAt  time.Time
}

// NewLifecycle creates a lifecycle manager over the given paths.
func NewLifecycle(pidPath, lockPath string) *Lifecycle {
	return &Lifecycle{pidPath: pidPath, lockPath: lockPath}
}

// Start acquires the advisory lock, clears any stale PID file, and
// writes a fresh one with this process's pid and a new instance id.
func (l *Lifecycle) Start(port int) error {
	lock, err := os.OpenFile(l.lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}

	if err := syscall.Flock(int(lock.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		lock.Close()
		if prev, perr := ReadPIDFile(l.pidPath); perr == nil && pidAlive(prev.PID) {
			return fmt.Errorf("pid %d holds %s: %w", prev.PID, l.pidPath, ErrAlreadyRunning)
		}
		return fmt.Errorf("lock %s: %w", l.lockPath, ErrAlreadyRunning)
	}
	l.lockFile = lock

	// The lock was free; any existing PID file is from a dead daemon.
	if _, err := os.Stat(l.pidPath); err == nil {
		if stalePIDFile(l.pidPath) {
			os.Remove(l.pidPath)
		}
	}

	l.InstanceID = uuid.NewString()
	l.StartedAt = time.Now().UTC()

	pf := PIDFile{
		PID:        os.Getpid(),
		StartedAt:  l.StartedAt,
		InstanceID: l.InstanceID,
		Port:       port,
	}
	data, err := json.MarshalIndent(pf, "", "  ")
	if err != nil {
		return fmt.Errorf("encode pid file: %w", err)
	}
	if err := os.WriteFile(l.pidPath, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	return nil
}

// stalePIDFile reports whether the file should be treated as absent:
// invalid JSON, missing pid field, or a pid that no longer exists.
func stalePIDFile(path string) bool {
	pf, err := ReadPIDFile(path)
	if err != nil {
		return true
	}
	return !pidAlive(pf.PID)
}

// ReadPIDFile parses a consume.pid file. Errors on invalid JSON or a
// missing pid field.
func ReadPIDFile(path string) (*PIDFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var pf PIDFile
	if err := json.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("parse pid file: %w", err)
	}
	if pf.PID == 0 {
		return nil, fmt.Errorf("pid file has no pid field")
	}
	return &pf, nil
}

// pidAlive checks whether a process with the given pid exists. Signal 0
// probes without delivering anything.
func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	return err == nil || errors.Is(err, syscall.EPERM)
}

// Cleanup removes the PID file and releases and removes the lock file.
// Idempotent.
func (l *Lifecycle) Cleanup() {
	os.Remove(l.pidPath)
	if l.lockFile != nil {
		syscall.Flock(int(l.lockFile.Fd()), syscall.LOCK_UN)
		l.lockFile.Close()
		l.lockFile = nil
	}
	os.Remove(l.lockPath)
}
