// Package lockfile guards an OTAI state directory against a second process.
//
// The guard is an advisory flock on a file inside the directory. The kernel
// drops it when the process exits, so a crash never leaves the directory
// locked; a leftover file only carries stale owner information.
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

// LockFileName is the file created in the state directory.
const LockFileName = "otai.lock"

// Info describes the process holding a lock, as written to the lock file.
type Info struct {
	PID     int
	Started time.Time
}

func (i Info) String() string {
	if i.PID == 0 {
		return "unknown process"
	}
	state := "running"
	if !isProcessRunning(i.PID) {
		state = "not running, stale lock"
	}
	if i.Started.IsZero() {
		return fmt.Sprintf("PID %d (%s)", i.PID, state)
	}
	return fmt.Sprintf("PID %d started %s (%s)", i.PID, i.Started.Format(time.RFC3339), state)
}

func (i Info) encode() string {
	return fmt.Sprintf("pid=%d\nstarted=%s\n", i.PID, i.Started.UTC().Format(time.RFC3339))
}

// parseInfo reads key=value lines. Unknown keys and malformed values are ignored.
func parseInfo(content string) Info {
	var info Info
	sc := bufio.NewScanner(strings.NewReader(content))
	for sc.Scan() {
		key, value, ok := strings.Cut(strings.TrimSpace(sc.Text()), "=")
		if !ok {
			continue
		}
		switch key {
		case "pid":
			if pid, err := strconv.Atoi(value); err == nil && pid > 0 {
				info.PID = pid
			}
		case "started":
			if t, err := time.Parse(time.RFC3339, value); err == nil {
				info.Started = t
			}
		}
	}
	return info
}

// Lock is a held state directory lock.
type Lock struct {
	file *os.File
	path string
}

// Acquire takes the lock on stateDir, creating the directory if needed. If
// another process holds it, the error is a *LockError naming that process.
func Acquire(stateDir string) (*Lock, error) {
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state directory %s: %w", stateDir, err)
	}
	path := filepath.Join(stateDir, LockFileName)

	// O_TRUNC would wipe the owner's info before we know we hold the lock.
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file %s: %w", path, err)
	}
	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		file.Close()
		holder := readInfo(path)
		slog.Error("Lockfile.Acquire: state directory is locked", "lockPath", path, "holder", holder.String(), "error", err)
		return nil, &LockError{LockPath: path, Holder: holder, Cause: err}
	}

	info := Info{PID: os.Getpid(), Started: time.Now()}
	if err := writeInfo(file, info); err != nil {
		syscall.Flock(int(file.Fd()), syscall.LOCK_UN)
		file.Close()
		return nil, fmt.Errorf("failed to write lock file %s: %w", path, err)
	}

	slog.Info("Lockfile.Acquire: state directory locked", "lockPath", path, "pid", info.PID)
	return &Lock{file: file, path: path}, nil
}

func writeInfo(file *os.File, info Info) error {
	if err := file.Truncate(0); err != nil {
		return err
	}
	if _, err := file.WriteAt([]byte(info.encode()), 0); err != nil {
		return err
	}
	if err := file.Sync(); err != nil {
		slog.Warn("Lockfile.Acquire: failed to sync lock file", "error", err)
	}
	return nil
}

func readInfo(path string) Info {
	data, err := os.ReadFile(path)
	if err != nil {
		return Info{}
	}
	return parseInfo(string(data))
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.path
}

// Release drops the lock and removes the file. Calling it again is a no-op.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	// Remove while still holding the lock so no other process can lock a
	// file that is about to disappear.
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		slog.Warn("Lockfile.Release: failed to remove lock file", "lockPath", l.path, "error", err)
	}
	if err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN); err != nil {
		slog.Warn("Lockfile.Release: failed to unlock", "lockPath", l.path, "error", err)
	}
	err := l.file.Close()
	l.file = nil
	slog.Info("Lockfile.Release: state directory unlocked", "lockPath", l.path)
	return err
}

// LockError reports that another process holds the state directory.
type LockError struct {
	LockPath string
	Holder   Info
	Cause    error
}

func (e *LockError) Error() string {
	return fmt.Sprintf("another OTAI instance is using the state directory (lock file %s, held by %s); "+
		"if that process is gone, remove the lock file and start again", e.LockPath, e.Holder)
}

func (e *LockError) Unwrap() error {
	return e.Cause
}

// isProcessRunning sends signal 0, which checks for existence without
// delivering anything.
func isProcessRunning(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
