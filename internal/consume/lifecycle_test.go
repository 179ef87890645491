package consume

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func testLifecycle(t *testing.T) (*Lifecycle, string) {
	t.Helper()
	dir := t.TempDir()
	pidPath := filepath.Join(dir, "consume.pid")
	lockPath := filepath.Join(dir, "consume.pid.lock")
	return NewLifecycle(pidPath, lockPath), pidPath
}

func TestLifecycle_StartWritesPIDFile(t *testing.T) {
	l, pidPath := testLifecycle(t)

	if err := l.Start(4333); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer l.Cleanup()

	pf, err := ReadPIDFile(pidPath)
	if err != nil {
		t.Fatalf("ReadPIDFile: %v", err)
	}
	if pf.PID != os.Getpid() {
		t.Errorf("pid: got %d, want %d", pf.PID, os.Getpid())
	}
	if pf.Port != 4333 {
		t.Errorf("port: got %d", pf.Port)
	}
	if pf.InstanceID == "" || pf.InstanceID != l.InstanceID {
		t.Errorf("instance id mismatch: file %q, lifecycle %q", pf.InstanceID, l.InstanceID)
	}
}

func TestLifecycle_SecondStartFails(t *testing.T) {
	l1, pidPath := testLifecycle(t)
	if err := l1.Start(4333); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	defer l1.Cleanup()

	l2 := NewLifecycle(pidPath, filepath.Join(filepath.Dir(pidPath), "consume.pid.lock"))
	err := l2.Start(4333)
	if !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}
}

func TestLifecycle_StalePIDFileReplaced(t *testing.T) {
	l, pidPath := testLifecycle(t)

	// A pid that cannot exist on Linux (max is well below this).
	stale := `{"pid": 99999999, "started_at": "2026-01-01T00:00:00Z", "instance_id": "dead", "port": 4333}`
	if err := os.WriteFile(pidPath, []byte(stale), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := l.Start(4333); err != nil {
		t.Fatalf("Start over stale pid file: %v", err)
	}
	defer l.Cleanup()

	pf, err := ReadPIDFile(pidPath)
	if err != nil {
		t.Fatalf("ReadPIDFile: %v", err)
	}
	if pf.PID != os.Getpid() || pf.InstanceID == "dead" {
		t.Errorf("stale file not replaced: %+v", pf)
	}
}

func TestLifecycle_BadJSONTreatedAsStale(t *testing.T) {
	l, pidPath := testLifecycle(t)

	if err := os.WriteFile(pidPath, []byte("not json at all"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := l.Start(4333); err != nil {
		t.Fatalf("Start over corrupt pid file: %v", err)
	}
	l.Cleanup()
}

func TestReadPIDFile_MissingPID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "consume.pid")
	if err := os.WriteFile(path, []byte(`{"port": 4333}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadPIDFile(path); err == nil {
		t.Fatal("expected error for pid file without pid")
	}
}

func TestLifecycle_CleanupReleasesEverything(t *testing.T) {
	l, pidPath := testLifecycle(t)
	if err := l.Start(4333); err != nil {
		t.Fatalf("Start: %v", err)
	}

	l.Cleanup()
	l.Cleanup() // idempotent

	if _, err := os.Stat(pidPath); !os.IsNotExist(err) {
		t.Error("pid file survived cleanup")
	}

	// A fresh lifecycle can start again.
	l2 := NewLifecycle(pidPath, filepath.Join(filepath.Dir(pidPath), "consume.pid.lock"))
	if err := l2.Start(4334); err != nil {
		t.Fatalf("restart after cleanup: %v", err)
	}
	l2.Cleanup()
}
