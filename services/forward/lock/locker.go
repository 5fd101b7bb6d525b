// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package lock provides advisory locks that keep two vdypforward processes
// from projecting into the same output directory or draining the same
// watch directory.
package lock

import (
	"errors"
	"fmt"
	"os"
	"time"
)

var (
	// ErrLocked indicates another process holds the lock.
	ErrLocked = errors.New("path is locked by another process")

	// ErrNotHeld indicates a release of a lock this manager does not hold.
	ErrNotHeld = errors.New("lock not held")
)

// fileLocker abstracts the platform lock call.
//
// # Description
//
// Lock is non-blocking and returns ErrLocked when another open file
// description holds the lock. Unix uses flock(2), Windows LockFileEx.
type fileLocker interface {
	Lock(f *os.File) error
	Unlock(f *os.File) error
}

// Info describes a lock holder. It is written next to the lock for
// operators and for error messages.
type Info struct {
	Path     string    `json:"path"`
	PID      int       `json:"pid"`
	Reason   string    `json:"reason"`
	LockedAt time.Time `json:"locked_at"`
}

// LockedError reports who holds a contested lock.
type LockedError struct {
	Path   string
	Holder *Info
}

// Error implements the error interface.
func (e *LockedError) Error() string {
	if e.Holder != nil {
		return fmt.Sprintf("%s is locked by pid %d (%s) since %s", e.Path, e.Holder.PID, e.Holder.Reason, e.Holder.LockedAt.Format(time.RFC3339))
	}
	return fmt.Sprintf("%s is locked", e.Path)
}

// Unwrap returns ErrLocked.
func (e *LockedError) Unwrap() error {
	return ErrLocked
}

// IsProcessAlive reports whether a process with pid exists.
func IsProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	return isProcessAlive(pid)
}
