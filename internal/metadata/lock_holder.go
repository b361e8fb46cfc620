package metadata

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// LockHolder describes the run that holds the state lock. It is written
// into the lock file so a blocked run can say what it is waiting on.
type LockHolder struct {
	RunID string    `yaml:"run_id,omitempty"`
	Day   string    `yaml:"day,omitempty"`
	PID   int       `yaml:"pid"`
	Since time.Time `yaml:"since"`
}

func (h LockHolder) String() string {
	if h.RunID == "" {
		return fmt.Sprintf("pid %d", h.PID)
	}
	return fmt.Sprintf("run %s (day %s, pid %d)", h.RunID, h.Day, h.PID)
}

// ReadLockHolder reads the holder recorded in the lock file at path. The
// record outlives the lock, so it names the last holder once released.
func ReadLockHolder(path string) (*LockHolder, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var h LockHolder
	if err := yaml.Unmarshal(data, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// LockBusyError is returned when the state lock could not be taken before
// the context ended.
type LockBusyError struct {
	Path   string
	Holder *LockHolder
	Err    error
}

func (e *LockBusyError) Error() string {
	if e.Holder != nil {
		return fmt.Sprintf("run state lock %s held by %s: %v", e.Path, e.Holder, e.Err)
	}
	return fmt.Sprintf("run state lock %s: %v", e.Path, e.Err)
}

func (e *LockBusyError) Unwrap() error { return e.Err }
