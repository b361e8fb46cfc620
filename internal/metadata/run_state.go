package metadata

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

const dayLayout = "2006-01-02"

// DayRecord is what is remembered about one processed day. A day with
// FailedListings is still pending.
type DayRecord struct {
	RunID          string
	Listings       int
	FilesWritten   int
	FailedListings []string
	CompletedAt    time.Time
}

// Complete reports whether every listing of the day was written.
func (d DayRecord) Complete() bool {
	return len(d.FailedListings) == 0
}

// RunState tracks which days the ETL has completed, so a range run can pick
// up after the last one.
type RunState struct {
	mu        sync.RWMutex
	LastRunID string
	LastRunAt time.Time
	Days      map[string]DayRecord
}

// runStateFileModel is a YAML-friendly representation of RunState.
type runStateFileModel struct {
	LastRunID string                        `yaml:"last_run_id,omitempty"`
	LastRunAt string                        `yaml:"last_run_at,omitempty"`
	Days      map[string]dayRecordFileModel `yaml:"days"`
}

type dayRecordFileModel struct {
	RunID          string   `yaml:"run_id"`
	Listings       int      `yaml:"listings"`
	FilesWritten   int      `yaml:"files_written"`
	FailedListings []string `yaml:"failed_listings,omitempty"`
	CompletedAt    string   `yaml:"completed_at"`
}

// LoadRunState loads the run state from the given YAML file. If the file
// does not exist it returns an empty state without error.
func LoadRunState(path string) (*RunState, error) {
	rs := &RunState{Days: make(map[string]DayRecord)}

	if path == "" {
		return rs, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return rs, nil
	}
	if err != nil {
		return nil, err
	}

	var fileModel runStateFileModel
	if err := yaml.Unmarshal(data, &fileModel); err != nil {
		return nil, err
	}

	rs.LastRunID = fileModel.LastRunID
	if ts, err := time.Parse(time.RFC3339, fileModel.LastRunAt); err == nil {
		rs.LastRunAt = ts
	}
	for day, rec := range fileModel.Days {
		if _, err := time.Parse(dayLayout, day); err != nil {
			continue
		}
		completed, _ := time.Parse(time.RFC3339, rec.CompletedAt)
		rs.Days[day] = DayRecord{
			RunID:          rec.RunID,
			Listings:       rec.Listings,
			FilesWritten:   rec.FilesWritten,
			FailedListings: rec.FailedListings,
			CompletedAt:    completed,
		}
	}

	return rs, nil
}

// Save writes the run state to the provided path in YAML format.
func (rs *RunState) Save(path string) error {
	if path == "" {
		return errors.New("state path is empty")
	}

	rs.mu.RLock()
	defer rs.mu.RUnlock()

	fileModel := runStateFileModel{
		LastRunID: rs.LastRunID,
		Days:      make(map[string]dayRecordFileModel, len(rs.Days)),
	}
	if !rs.LastRunAt.IsZero() {
		fileModel.LastRunAt = rs.LastRunAt.UTC().Format(time.RFC3339)
	}
	for day, rec := range rs.Days {
		fileModel.Days[day] = dayRecordFileModel{
			RunID:          rec.RunID,
			Listings:       rec.Listings,
			FilesWritten:   rec.FilesWritten,
			FailedListings: rec.FailedListings,
			CompletedAt:    rec.CompletedAt.UTC().Format(time.RFC3339),
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	data, err := yaml.Marshal(&fileModel)
	if err != nil {
		return err
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Record stores the outcome of a run over day, replacing any earlier one.
func (rs *RunState) Record(day time.Time, rec DayRecord) {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.Days == nil {
		rs.Days = make(map[string]DayRecord)
	}
	rec.CompletedAt = rec.CompletedAt.UTC()
	rs.Days[day.Format(dayLayout)] = rec
	rs.LastRunID = rec.RunID
	rs.LastRunAt = rec.CompletedAt
}

// LastDay returns the latest completed day. The boolean is false when no
// day has been recorded.
func (rs *RunState) LastDay() (time.Time, bool) {
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	var latest string
	for day := range rs.Days {
		if day > latest {
			latest = day
		}
	}
	if latest == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(dayLayout, latest)
	return t, err == nil
}

// ResumeDay is where an incremental run should start: the earliest day
// that still has failed listings, else the day after LastDay. The boolean
// is false when nothing has been recorded.
func (rs *RunState) ResumeDay() (time.Time, bool) {
	rs.mu.RLock()
	var pending string
	for day, rec := range rs.Days {
		if !rec.Complete() && (pending == "" || day < pending) {
			pending = day
		}
	}
	rs.mu.RUnlock()

	if pending != "" {
		if t, err := time.Parse(dayLayout, pending); err == nil {
			return t, true
		}
	}
	last, ok := rs.LastDay()
	if !ok {
		return time.Time{}, false
	}
	return last.AddDate(0, 0, 1), true
}

// CompletedDays returns every recorded day in ascending order.
func (rs *RunState) CompletedDays() []string {
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	days := make([]string, 0, len(rs.Days))
	for day := range rs.Days {
		days = append(days, day)
	}
	sort.Strings(days)
	return days
}

// UpdateRunState loads the state at path, applies fn and saves it, holding
// the state lock throughout. ctx bounds the wait for the lock.
func UpdateRunState(ctx context.Context, path string, holder LockHolder, fn func(*RunState)) error {
	lock := NewFileLock(path)
	if err := lock.Lock(ctx, holder); err != nil {
		return err
	}
	defer lock.Unlock()

	rs, err := LoadRunState(path)
	if err != nil {
		return err
	}
	fn(rs)
	return rs.Save(path)
}
