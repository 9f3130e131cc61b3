// Package lockfile keeps two LeadPipe processes from sharing one state
// directory, and with it one dedup store.
//
// The lock is a flock on a file inside the directory, so the kernel drops it
// when the process exits for any reason.
package lockfile

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// LockFileName is the name of the lock file created in the state directory
const LockFileName = "leadpipe.lock"

// Owner describes the process holding a lock, as written in the lock file.
type Owner struct {
	PID     int
	Mode    string
	Started time.Time
}

func (o Owner) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "pid=%d\n", o.PID)
	if o.Mode != "" {
		fmt.Fprintf(&b, "mode=%s\n", o.Mode)
	}
	if !o.Started.IsZero() {
		fmt.Fprintf(&b, "started=%s\n", o.Started.UTC().Format(time.RFC3339))
	}
	return b.String()
}

// ParseOwner reads the key=value lines of a lock file. Unknown keys and
// malformed values are ignored.
func ParseOwner(content string) Owner {
	var o Owner
	sc := bufio.NewScanner(strings.NewReader(content))
	for sc.Scan() {
		key, value, ok := strings.Cut(strings.TrimSpace(sc.Text()), "=")
		if !ok {
			continue
		}
		switch key {
		case "pid":
			o.PID, _ = strconv.Atoi(value)
		case "mode":
			o.Mode = value
		case "started":
			o.Started, _ = time.Parse(time.RFC3339, value)
		}
	}
	return o
}

// Lock represents an active directory lock
type Lock struct {
	file *os.File
	path string
}

// AcquireLock takes an exclusive lock on stateDir for a process running mode.
// When another process holds it, the returned *LockError describes that owner.
func AcquireLock(stateDir, mode string) (*Lock, error) {
	lockPath := filepath.Join(stateDir, LockFileName)
	slog.Debug("Attempting to acquire lock", "lock_path", lockPath)

	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state directory %s: %w", stateDir, err)
	}

	// No O_TRUNC: the current owner's details must survive a failed attempt.
	file, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file %s: %w", lockPath, err)
	}

	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		file.Close()
		lockErr := &LockError{LockPath: lockPath, Cause: err}
		if data, rerr := os.ReadFile(lockPath); rerr == nil {
			lockErr.Owner = ParseOwner(string(data))
		}
		slog.Error("Failed to acquire lock - another LeadPipe instance is running",
			"lock_path", lockPath, "owner_pid", lockErr.Owner.PID, "owner_mode", lockErr.Owner.Mode)
		return nil, lockErr
	}

	owner := Owner{PID: os.Getpid(), Mode: mode, Started: time.Now()}
	if err := writeOwner(file, owner); err != nil {
		syscall.Flock(int(file.Fd()), syscall.LOCK_UN)
		file.Close()
		return nil, fmt.Errorf("failed to write lock information to %s: %w", lockPath, err)
	}

	slog.Info("Acquired state directory lock", "lock_path", lockPath, "pid", owner.PID, "mode", mode)
	return &Lock{file: file, path: lockPath}, nil
}

func writeOwner(file *os.File, owner Owner) error {
	if err := file.Truncate(0); err != nil {
		return err
	}
	if _, err := file.WriteAt([]byte(owner.String()), 0); err != nil {
		return err
	}
	if err := file.Sync(); err != nil {
		slog.Warn("Failed to sync lock file", "error", err, "lock_path", file.Name())
	}
	return nil
}

// Release drops the lock and removes the lock file. Safe to call more than once.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	// Remove while still holding the lock so a waiting process never sees our stale content.
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		slog.Warn("Failed to remove lock file", "error", err, "lock_path", l.path)
	}
	if err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN); err != nil {
		slog.Error("Failed to release flock", "error", err, "lock_path", l.path)
	}
	err := l.file.Close()
	l.file = nil
	slog.Info("Released state directory lock", "lock_path", l.path)
	if err != nil {
		return fmt.Errorf("failed to close lock file: %w", err)
	}
	return nil
}

// LockError reports that another process holds the state directory lock.
type LockError struct {
	LockPath string
	Owner    Owner
	Cause    error
}

func (e *LockError) Error() string {
	msg := fmt.Sprintf("another LeadPipe instance is using this state directory (lock file %s)", e.LockPath)
	if e.Owner.PID > 0 {
		state := "running"
		if !IsProcessRunning(e.Owner.PID) {
			state = "not running, stale lock"
		}
		msg += fmt.Sprintf("; owner pid %d (%s)", e.Owner.PID, state)
		if e.Owner.Mode != "" {
			msg += ", mode " + e.Owner.Mode
		}
		if !e.Owner.Started.IsZero() {
			msg += ", started " + e.Owner.Started.Format(time.RFC3339)
		}
	}
	return msg + fmt.Sprintf(". Remove %s only if no other instance is running.", e.LockPath)
}

func (e *LockError) Unwrap() error {
	return e.Cause
}

// IsProcessRunning reports whether a process with pid exists.
func IsProcessRunning(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// Signal 0 only checks for existence.
	return process.Signal(syscall.Signal(0)) == nil
}
