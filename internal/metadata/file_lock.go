//go:build unix

package metadata

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sys/unix"
	"gopkg.in/yaml.v3"
)

const lockPollInterval = 50 * time.Millisecond

// FileLock guards the run state file against overlapping ETL processes with
// flock(2) on a sibling ".<state>.lock" file.
type FileLock struct {
	path string
	file *os.File
	mu   sync.Mutex
}

func NewFileLock(statePath string) *FileLock {
	dir, base := filepath.Split(statePath)
	return &FileLock{path: filepath.Join(dir, "."+base+".lock")}
}

func (fl *FileLock) Path() string {
	return fl.path
}

// Lock blocks until the lock is held or ctx is done. On timeout the error
// names the current holder when the lock file says who it is.
func (fl *FileLock) Lock(ctx context.Context, holder LockHolder) error {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(fl.path), 0o755); err != nil {
		return fmt.Errorf("create lock directory: %w", err)
	}
	file, err := os.OpenFile(fl.path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}

	ticker := time.NewTicker(lockPollInterval)
	defer ticker.Stop()
	for {
		if err := unix.Flock(int(file.Fd()), unix.LOCK_EX|unix.LOCK_NB); err == nil {
			break
		}
		select {
		case <-ctx.Done():
			file.Close()
			current, _ := ReadLockHolder(fl.path)
			return &LockBusyError{Path: fl.path, Holder: current, Err: ctx.Err()}
		case <-ticker.C:
		}
	}

	fl.file = file
	if holder.PID == 0 {
		holder.PID = os.Getpid()
	}
	if holder.Since.IsZero() {
		holder.Since = time.Now().UTC()
	}
	if err := writeHolder(file, holder); err != nil {
		fl.release()
		return fmt.Errorf("record lock holder: %w", err)
	}
	return nil
}

// Unlock releases the lock. The file stays so every process locks the same
// inode.
func (fl *FileLock) Unlock() error {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	return fl.release()
}

func (fl *FileLock) release() error {
	if fl.file == nil {
		return nil
	}
	file := fl.file
	fl.file = nil

	if err := unix.Flock(int(file.Fd()), unix.LOCK_UN); err != nil {
		file.Close()
		return fmt.Errorf("unlock: %w", err)
	}
	return file.Close()
}

func writeHolder(file *os.File, holder LockHolder) error {
	data, err := yaml.Marshal(&holder)
	if err != nil {
		return err
	}
	if err := file.Truncate(0); err != nil {
		return err
	}
	if _, err := file.WriteAt(data, 0); err != nil {
		return err
	}
	return file.Sync()
}
