package lockfile

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLockAcquisition(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "lockfile_test_")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tempDir)

	lock, err := AcquireLock(tempDir, "full")
	if err != nil {
		t.Fatalf("Failed to acquire lock: %v", err)
	}
	defer lock.Release()

	content, err := os.ReadFile(filepath.Join(tempDir, LockFileName))
	if err != nil {
		t.Fatalf("Failed to read lock file: %v", err)
	}
	owner := ParseOwner(string(content))
	if owner.PID != os.Getpid() || owner.Mode != "full" || owner.Started.IsZero() {
		t.Errorf("unexpected lock owner: %+v", owner)
	}
}

func TestLockConflictKeepsOwnerInfo(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "lockfile_test_")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tempDir)

	lock1, err := AcquireLock(tempDir, "full")
	if err != nil {
		t.Fatalf("Failed to acquire first lock: %v", err)
	}
	defer lock1.Release()

	lock2, err := AcquireLock(tempDir, "backfill-only")
	if err == nil {
		lock2.Release()
		t.Fatalf("Second lock acquisition should have failed")
	}

	var lockErr *LockError
	if !errors.As(err, &lockErr) {
		t.Fatalf("Expected LockError, got: %T", err)
	}
	if lockErr.Owner.PID != os.Getpid() || lockErr.Owner.Mode != "full" {
		t.Errorf("failed attempt should report the first owner, got %+v", lockErr.Owner)
	}
	msg := err.Error()
	if !strings.Contains(msg, "another LeadPipe instance") || !strings.Contains(msg, "(running)") {
		t.Errorf("unhelpful error message: %s", msg)
	}

	// The holder's file content must be intact after the failed attempt.
	content, _ := os.ReadFile(filepath.Join(tempDir, LockFileName))
	if ParseOwner(string(content)).Mode != "full" {
		t.Errorf("lock file clobbered: %q", content)
	}
}

func TestLockRelease(t *testing.T) {
	tempDir := t.TempDir()

	lock, err := AcquireLock(tempDir, "full")
	if err != nil {
		t.Fatalf("Failed to acquire lock: %v", err)
	}
	if err := lock.Release(); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if err := lock.Release(); err != nil {
		t.Errorf("second Release should be a no-op: %v", err)
	}
	if _, err := os.Stat(filepath.Join(tempDir, LockFileName)); !os.IsNotExist(err) {
		t.Errorf("lock file should be removed after release")
	}

	lock2, err := AcquireLock(tempDir, "full")
	if err != nil {
		t.Fatalf("Failed to re-acquire lock: %v", err)
	}
	lock2.Release()
}

func TestLockCreatesStateDir(t *testing.T) {
	stateDir := filepath.Join(t.TempDir(), "nested", "state")
	lock, err := AcquireLock(stateDir, "full")
	if err != nil {
		t.Fatalf("Failed to acquire lock: %v", err)
	}
	defer lock.Release()
	if _, err := os.Stat(stateDir); err != nil {
		t.Errorf("state dir not created: %v", err)
	}
}

func TestParseOwner(t *testing.T) {
	started := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	tests := []struct {
		name    string
		content string
		want    Owner
	}{
		{"full", "pid=42\nmode=full\nstarted=2025-01-02T03:04:05Z\n", Owner{PID: 42, Mode: "full", Started: started}},
		{"pid only", "pid=7\n", Owner{PID: 7}},
		{"garbage", "hello\npid=abc\n", Owner{}},
		{"empty", "", Owner{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseOwner(tt.content)
			if got.PID != tt.want.PID || got.Mode != tt.want.Mode || !got.Started.Equal(tt.want.Started) {
				t.Errorf("ParseOwner = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestOwnerStringRoundTrip(t *testing.T) {
	o := Owner{PID: 99, Mode: "backfill-only", Started: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)}
	got := ParseOwner(o.String())
	if got.PID != o.PID || got.Mode != o.Mode || !got.Started.Equal(o.Started) {
		t.Errorf("round trip mismatch: %+v", got)
	}
}

func TestIsProcessRunning(t *testing.T) {
	if !IsProcessRunning(os.Getpid()) {
		t.Error("current process should be running")
	}
}
