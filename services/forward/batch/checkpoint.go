// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package batch

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"
)

// CheckpointVersion is the checkpoint format version.
const CheckpointVersion = "1.0.0"

// Checkpoint records which polygons of a batch have finished, so an
// interrupted batch can resume without reprojecting them.
type Checkpoint struct {
	// BatchKey identifies the batch inputs; see BatchKey.
	BatchKey string `json:"batch_key"`

	// Completed maps a polygon key to the run that projected it.
	Completed map[string]string `json:"completed"`

	// Failed maps a polygon key to its last error. Failed polygons are
	// retried on resume.
	Failed map[string]string `json:"failed,omitempty"`

	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
	Checksum  string    `json:"checksum"`
}

// NewCheckpoint returns an empty checkpoint for a batch.
func NewCheckpoint(batchKey string) *Checkpoint {
	return &Checkpoint{
		BatchKey:  batchKey,
		Completed: make(map[string]string),
		Failed:    make(map[string]string),
		Version:   CheckpointVersion,
	}
}

// BatchKey hashes the sorted polygon keys of a batch.
func BatchKey(polygonKeys []string) string {
	keys := slices.Clone(polygonKeys)
	slices.Sort(keys)
	h := sha256.New()
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// IsDone reports whether key has been projected.
func (c *Checkpoint) IsDone(key string) bool {
	_, ok := c.Completed[key]
	return ok
}

func (c *Checkpoint) markDone(key, runID string) {
	c.Completed[key] = runID
	delete(c.Failed, key)
}

func (c *Checkpoint) markFailed(key string, err error) {
	c.Failed[key] = err.Error()
}

// computeChecksum hashes everything but the checksum field.
func (c *Checkpoint) computeChecksum() (string, error) {
	data := struct {
		BatchKey  string            `json:"batch_key"`
		Completed map[string]string `json:"completed"`
		Failed    map[string]string `json:"failed,omitempty"`
		Timestamp time.Time         `json:"timestamp"`
		Version   string            `json:"version"`
	}{c.BatchKey, c.Completed, c.Failed, c.Timestamp, c.Version}

	// encoding/json sorts map keys, so the encoding is deterministic.
	raw, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("marshal for checksum: %w", err)
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

// Verify reports whether the checksum matches the contents.
func (c *Checkpoint) Verify() bool {
	if c == nil {
		return false
	}
	want, err := c.computeChecksum()
	return err == nil && want == c.Checksum
}

// SaveCheckpoint writes c to path atomically.
//
// Description:
//
//	Stamps the checkpoint, computes its checksum, and writes it through a
//	temporary file in the same directory followed by a rename, so a crash
//	leaves either the old checkpoint or the new one.
//
// Inputs:
//
//	c - The checkpoint. Must not be nil.
//	path - Destination file. Its directory is created if missing.
//
// Outputs:
//
//	error - Non-nil if serialization or the write fails.
//
// Thread Safety:
//
//	Not safe for concurrent use on the same checkpoint.
func SaveCheckpoint(c *Checkpoint, path string) error {
	if c == nil {
		return fmt.Errorf("%w: checkpoint must not be nil", ErrInvalidInput)
	}
	if path == "" {
		return fmt.Errorf("%w: path must not be empty", ErrInvalidInput)
	}

	c.Timestamp = time.Now().UTC()
	c.Version = CheckpointVersion
	sum, err := c.computeChecksum()
	if err != nil {
		return err
	}
	c.Checksum = sum

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("create checkpoint directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".checkpoint-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close checkpoint: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename checkpoint: %w", err)
	}
	success = true
	return nil
}

// LoadCheckpoint reads and verifies a checkpoint. A missing file yields
// an error satisfying errors.Is(err, os.ErrNotExist).
func LoadCheckpoint(path string) (*Checkpoint, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: path must not be empty", ErrInvalidInput)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}
	var c Checkpoint
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCheckpointCorrupt, err)
	}
	if c.Version != CheckpointVersion {
		return nil, fmt.Errorf("%w: got %s, want %s", ErrCheckpointVersionMismatch, c.Version, CheckpointVersion)
	}
	if !c.Verify() {
		return nil, ErrCheckpointCorrupt
	}
	if c.Completed == nil {
		c.Completed = make(map[string]string)
	}
	if c.Failed == nil {
		c.Failed = make(map[string]string)
	}
	return &c, nil
}

// loadOrCreate resumes the checkpoint at path when it belongs to batchKey
// and starts a new one when the file is missing.
func loadOrCreate(path, batchKey string) (*Checkpoint, error) {
	c, err := LoadCheckpoint(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return NewCheckpoint(batchKey), nil
	case err != nil:
		return nil, err
	case c.BatchKey != batchKey:
		return nil, fmt.Errorf("%w: %s has key %s, batch is %s", ErrCheckpointMismatch, path, c.BatchKey, batchKey)
	}
	return c, nil
}
