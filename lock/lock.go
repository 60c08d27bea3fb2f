// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package lock implements the cross-process exclusivity guard that
// keeps two engines from ever driving the same (PCI address, channel)
// pair at once.
package lock // import "github.com/go-lpc/roc/lock"

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/go-lpc/roc/rocerr"
)

// Lock is an advisory, named file lock held for the lifetime of one
// engine's ownership of a channel. It is not a mutex: two Lock values
// in the same process referring to the same name do not exclude each
// other, only flock(2) does.
type Lock struct {
	f    *os.File
	path string
}

// Path returns the lock file path under dir for the given PCI address
// and DMA channel number.
func Path(dir, pciAddr string, channel int) string {
	name := fmt.Sprintf("%s.ch%d.lock", sanitize(pciAddr), channel)
	return filepath.Join(dir, name)
}

func sanitize(s string) string {
	return strings.ReplaceAll(s, ":", "_")
}

// Acquire takes the named lock at path, creating it if necessary. If
// the lock is already held, Acquire reads the PID recorded by the
// current holder; if that process is no longer alive, the stale lock
// file is removed and acquisition is retried exactly once. A lock
// still held by a live process is reported as a *rocerr.Error of Kind
// LockBusy; a lock whose holder was stale but the retry itself failed
// is reported as Kind LockStale, so callers can tell the two apart.
func Acquire(path string) (*Lock, error) {
	l, err := tryAcquire(path)
	if err == nil {
		return l, nil
	}
	if !isWouldBlock(err) {
		return nil, fmt.Errorf("lock: could not acquire %q: %w", path, err)
	}

	if staleErr := clearIfStale(path); staleErr != nil {
		return nil, rocerr.Wrap(rocerr.LockBusy, "lock.Acquire",
			fmt.Errorf("%q held and not stale: %w", path, err))
	}

	l, err = tryAcquire(path)
	if err != nil {
		return nil, rocerr.Wrap(rocerr.LockStale, "lock.Acquire",
			fmt.Errorf("could not acquire %q after stale-lock retry: %w", path, err))
	}
	return l, nil
}

func tryAcquire(path string) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("lock: could not open %q: %w", path, err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		_ = f.Close()
		return nil, err
	}

	if err := f.Truncate(0); err != nil {
		_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
		_ = f.Close()
		return nil, fmt.Errorf("lock: could not truncate %q: %w", path, err)
	}
	if _, err := f.WriteString(strconv.Itoa(os.Getpid())); err != nil {
		_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
		_ = f.Close()
		return nil, fmt.Errorf("lock: could not record pid in %q: %w", path, err)
	}

	return &Lock{f: f, path: path}, nil
}

func isWouldBlock(err error) bool {
	return err == unix.EWOULDBLOCK || err == unix.EAGAIN
}

// clearIfStale removes path if the PID recorded in it no longer
// refers to a live process. It returns an error if the lock holder
// is still alive, or if the PID could not be determined.
func clearIfStale(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("lock: could not read %q to check staleness: %w", path, err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		return fmt.Errorf("lock: could not parse pid from %q: %w", path, err)
	}

	err = unix.Kill(pid, 0)
	switch err {
	case unix.ESRCH:
		// holder is gone.
	case nil:
		return fmt.Errorf("lock: pid %d still alive, holds %q", pid, path)
	default:
		return fmt.Errorf("lock: could not signal pid %d: %w", pid, err)
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("lock: could not remove stale lock %q: %w", path, err)
	}
	return nil
}

// Release drops the lock and closes the underlying file. Release does
// not remove the lock file: the next Acquire simply re-locks it.
func (l *Lock) Release() error {
	err := unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
	if cerr := l.f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("lock: could not release %q: %w", l.path, err)
	}
	return nil
}

// Path returns the filesystem path backing this lock.
func (l *Lock) Path() string { return l.path }
