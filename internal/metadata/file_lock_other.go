//go:build !unix

package metadata

import (
	"context"
	"path/filepath"
)

// FileLock is process-local on platforms without flock(2).
type FileLock struct {
	path string
	sem  chan struct{}
}

func NewFileLock(statePath string) *FileLock {
	dir, base := filepath.Split(statePath)
	return &FileLock{path: filepath.Join(dir, "."+base+".lock"), sem: make(chan struct{}, 1)}
}

func (fl *FileLock) Path() string {
	return fl.path
}

func (fl *FileLock) Lock(ctx context.Context, holder LockHolder) error {
	select {
	case fl.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return &LockBusyError{Path: fl.path, Err: ctx.Err()}
	}
}

func (fl *FileLock) Unlock() error {
	select {
	case <-fl.sem:
	default:
	}
	return nil
}
