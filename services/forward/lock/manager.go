// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package lock

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Manager acquires and releases path locks.
//
// # Description
//
// Each locked path has a lock file in the manager's directory, named by
// a hash of the absolute path. The OS lock on that file is the lock; its
// JSON body records the holder. The OS releases the lock when the process
// exits, so a crashed holder never blocks later runs.
//
// # Thread Safety
//
// Safe for concurrent use.
type Manager struct {
	dir    string
	locker fileLocker
	logger *slog.Logger

	mu    sync.Mutex
	locks map[string]*os.File
}

// NewManager creates a manager whose lock files live in dir, created with
// 0750 permissions when missing.
func NewManager(dir string, logger *slog.Logger) (*Manager, error) {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "vdypforward-locks")
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("create lock directory %s: %w", dir, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		dir:    dir,
		locker: newPlatformLocker(),
		logger: logger.With(slog.String("component", "forward.lock")),
		locks:  make(map[string]*os.File),
	}, nil
}

func (m *Manager) lockPath(absPath string) string {
	sum := sha256.Sum256([]byte(absPath))
	return filepath.Join(m.dir, hex.EncodeToString(sum[:8])+".lock")
}

// Acquire locks path without blocking.
//
// # Inputs
//
//   - path: The directory or file being claimed. Need not exist.
//   - reason: Recorded for whoever finds the lock held.
//
// # Outputs
//
//   - error: nil when acquired or already held by this manager, a
//     *LockedError when another holder has it.
func (m *Manager) Acquire(path, reason string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", path, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.locks[abs]; ok {
		return nil
	}

	lp := m.lockPath(abs)
	f, err := os.OpenFile(lp, os.O_RDWR|os.O_CREATE, 0640)
	if err != nil {
		return fmt.Errorf("open lock file %s: %w", lp, err)
	}
	if err := m.locker.Lock(f); err != nil {
		f.Close()
		if errors.Is(err, ErrLocked) {
			holder, _ := readInfo(lp)
			return &LockedError{Path: abs, Holder: holder}
		}
		return fmt.Errorf("lock %s: %w", abs, err)
	}

	info := Info{Path: abs, PID: os.Getpid(), Reason: reason, LockedAt: time.Now().UTC()}
	if err := writeInfo(f, info); err != nil {
		_ = m.locker.Unlock(f)
		f.Close()
		return fmt.Errorf("write lock info: %w", err)
	}
	m.locks[abs] = f
	m.logger.Debug("acquired lock", slog.String("path", abs), slog.String("reason", reason))
	return nil
}

// Release unlocks path. It returns ErrNotHeld when this manager does not
// hold it.
func (m *Manager) Release(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", path, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.locks[abs]
	if !ok {
		return ErrNotHeld
	}
	return m.release(abs, f)
}

// ReleaseAll unlocks everything this manager holds and returns the first
// failure.
func (m *Manager) ReleaseAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var first error
	for abs, f := range m.locks {
		if err := m.release(abs, f); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// release must be called with mu held. The lock file is truncated rather
// than removed so a waiting opener never locks an unlinked inode.
func (m *Manager) release(abs string, f *os.File) error {
	delete(m.locks, abs)
	_ = f.Truncate(0)
	unlockErr := m.locker.Unlock(f)
	closeErr := f.Close()
	m.logger.Debug("released lock", slog.String("path", abs))
	return errors.Join(unlockErr, closeErr)
}

// Holder returns who holds path, or nil when it is free.
func (m *Manager) Holder(path string) (*Info, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", path, err)
	}
	info, err := readInfo(m.lockPath(abs))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	if info == nil || !IsProcessAlive(info.PID) {
		return nil, nil
	}
	return info, nil
}

func writeInfo(f *os.File, info Info) error {
	data, err := json.Marshal(info)
	if err != nil {
		return err
	}
	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.WriteAt(data, 0); err != nil {
		return err
	}
	return f.Sync()
}

// readInfo returns nil without error for an empty lock file.
func readInfo(path string) (*Info, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}
	var info Info
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("parse lock info %s: %w", path, err)
	}
	return &info, nil
}
