// Package statefile persists small JSON documents across CLI invocations.
// Reads and writes hold an exclusive file lock so concurrent staybook
// processes do not interleave read-modify-write cycles.
package statefile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/gofrs/flock"
)

// LockTimeout is the maximum time to wait for acquiring the file lock.
// If exceeded, operations proceed without locking (fail-open) to avoid CLI hangs.
const LockTimeout = 100 * time.Millisecond

// File is a JSON document of type T stored at a fixed path.
type File[T any] struct {
	path string
}

// New returns a File stored at dir/name.
func New[T any](dir, name string) *File[T] {
	return &File[T]{path: filepath.Join(dir, name)}
}

// Path returns the full path to the document.
func (f *File[T]) Path() string {
	return f.path
}

func (f *File[T]) lockPath() string {
	return f.path + ".lock"
}

// acquireLock obtains an exclusive lock next to the document.
//
// Returns a nil lock (and no error) if the lock cannot be acquired within
// LockTimeout. Callers treat that as proceed-unlocked: last write wins.
func (f *File[T]) acquireLock() (*flock.Flock, error) {
	if err := os.MkdirAll(filepath.Dir(f.path), 0700); err != nil {
		return nil, err
	}

	fl := flock.New(f.lockPath())

	ctx, cancel := context.WithTimeout(context.Background(), LockTimeout)
	defer cancel()

	locked, err := fl.TryLockContext(ctx, 10*time.Millisecond)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, nil
		}
		return nil, err
	}
	if !locked {
		return nil, nil
	}
	return fl, nil
}

func release(fl *flock.Flock) {
	if fl != nil {
		_ = fl.Unlock()
	}
}

// Load reads the document. A missing or corrupt file yields the zero value.
func (f *File[T]) Load() (T, error) {
	fl, err := f.acquireLock()
	if err != nil {
		var zero T
		return zero, err
	}
	defer release(fl)

	return f.loadUnsafe()
}

func (f *File[T]) loadUnsafe() (T, error) {
	var v T
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return v, nil
		}
		return v, err
	}
	if err := json.Unmarshal(data, &v); err != nil {
		var zero T
		return zero, nil
	}
	return v, nil
}

// Save replaces the document atomically.
func (f *File[T]) Save(v T) error {
	fl, err := f.acquireLock()
	if err != nil {
		return err
	}
	defer release(fl)

	return f.saveUnsafe(v)
}

func (f *File[T]) saveUnsafe(v T) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	// Unique temp name so fail-open writers never share a temp file.
	tmpPath := fmt.Sprintf("%s.%d.%d.tmp", f.path, os.Getpid(), time.Now().UnixNano())
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return err
	}
	if runtime.GOOS == "windows" {
		_ = os.Remove(f.path)
	}
	if err := os.Rename(tmpPath, f.path); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return nil
}

// Update loads, modifies and saves the document while holding the lock.
func (f *File[T]) Update(fn func(*T) error) error {
	fl, err := f.acquireLock()
	if err != nil {
		return err
	}
	defer release(fl)

	v, err := f.loadUnsafe()
	if err != nil {
		return err
	}
	if err := fn(&v); err != nil {
		return err
	}
	return f.saveUnsafe(v)
}

// Clear removes the document.
func (f *File[T]) Clear() error {
	fl, err := f.acquireLock()
	if err != nil {
		return err
	}
	defer release(fl)

	err = os.Remove(f.path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// Exists reports whether the document is on disk.
func (f *File[T]) Exists() bool {
	_, err := os.Stat(f.path)
	return err == nil
}
