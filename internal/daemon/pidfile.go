package daemon

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/gofrs/flock"

	ferrors "github.com/larroy/fusearch/internal/errors"
)

// ErrPIDFileNotFound is returned when the PID file doesn't exist.
var ErrPIDFileNotFound = errors.New("PID file not found")

// PIDFile manages the daemon process ID file. The file is guarded by an
// exclusive flock on a sibling ".lock" file, so two daemons sharing a PID
// path cannot both run even when a stale PID file is left behind.
type PIDFile struct {
	path   string
	flock  *flock.Flock
	locked bool
}

// NewPIDFile creates a new PIDFile manager for the given path.
func NewPIDFile(path string) *PIDFile {
	return &PIDFile{
		path:  path,
		flock: flock.New(path + ".lock"),
	}
}

// Path returns the PID file path.
func (p *PIDFile) Path() string {
	return p.path
}

// LockPath returns the path of the lock file.
func (p *PIDFile) LockPath() string {
	return p.flock.Path()
}

// Acquire takes the lock without blocking and writes the current PID.
// It fails with ERR_303_ALREADY_RUNNING when another process holds the lock.
func (p *PIDFile) Acquire() error {
	if err := os.MkdirAll(filepath.Dir(p.path), 0755); err != nil {
		return fmt.Errorf("failed to create PID directory: %w", err)
	}

	acquired, err := p.flock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !acquired {
		e := ferrors.New(ferrors.ErrCodeAlreadyRunning, "daemon already running", nil).
			WithDetail("pid_file", p.path).
			WithSuggestion("Stop the running daemon or use a different daemon.pid_file")
		if pid, err := p.Read(); err == nil {
			e = e.WithDetail("pid", strconv.Itoa(pid))
		}
		return e
	}
	p.locked = true

	if err := p.Write(); err != nil {
		_ = p.flock.Unlock()
		p.locked = false
		return err
	}
	return nil
}

// Release removes the PID file and drops the lock. It is safe to call on
// a PIDFile that was never acquired.
func (p *PIDFile) Release() error {
	if !p.locked {
		return nil
	}
	removeErr := p.Remove()
	p.locked = false
	if err := p.flock.Unlock(); err != nil {
		return errors.Join(removeErr, fmt.Errorf("failed to release lock: %w", err))
	}
	return removeErr
}

// Locked reports whether this PIDFile holds the lock.
func (p *PIDFile) Locked() bool {
	return p.locked
}

// Write writes the current process's PID to the file.
// Creates the directory if it doesn't exist.
func (p *PIDFile) Write() error {
	if err := os.MkdirAll(filepath.Dir(p.path), 0755); err != nil {
		return fmt.Errorf("failed to create PID directory: %w", err)
	}

	data := []byte(strconv.Itoa(os.Getpid()))
	if err := os.WriteFile(p.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}
	return nil
}

// Read reads the PID from the file.
func (p *PIDFile) Read() (int, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, ErrPIDFileNotFound
		}
		return 0, fmt.Errorf("failed to read PID file: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid PID in file: %w", err)
	}
	return pid, nil
}

// Remove deletes the PID file.
// Returns nil if the file doesn't exist.
func (p *PIDFile) Remove() error {
	err := os.Remove(p.path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove PID file: %w", err)
	}
	return nil
}

// IsRunning checks if a process with the stored PID is running.
// Returns false if the PID file doesn't exist or the process isn't running.
func (p *PIDFile) IsRunning() bool {
	pid, err := p.Read()
	if err != nil {
		return false
	}
	return processExists(pid)
}

// Signal sends a signal to the process with the stored PID.
func (p *PIDFile) Signal(sig syscall.Signal) error {
	pid, err := p.Read()
	if err != nil {
		return fmt.Errorf("failed to read PID: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("failed to find process %d: %w", pid, err)
	}

	if err := process.Signal(sig); err != nil {
		return fmt.Errorf("failed to signal process %d: %w", pid, err)
	}
	return nil
}

func processExists(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	// FindProcess always succeeds on Unix; signal 0 probes existence.
	return process.Signal(syscall.Signal(0)) == nil
}
