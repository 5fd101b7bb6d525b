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
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckpoint_SaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cp.json")
	cp := NewCheckpoint(BatchKey([]string{"A 2000", "B 2000"}))
	cp.markDone("A 2000", "run-1")
	cp.markFailed("B 2000", assert.AnError)

	require.NoError(t, SaveCheckpoint(cp, path))
	assert.True(t, cp.Verify())

	loaded, err := LoadCheckpoint(path)
	require.NoError(t, err)
	assert.Equal(t, cp.BatchKey, loaded.BatchKey)
	assert.Equal(t, "run-1", loaded.Completed["A 2000"])
	assert.Equal(t, assert.AnError.Error(), loaded.Failed["B 2000"])

	loaded.markDone("B 2000", "run-2")
	assert.Empty(t, loaded.Failed)
	assert.False(t, loaded.Verify(), "mutation invalidates the checksum until saved")

	matches, err := filepath.Glob(filepath.Join(filepath.Dir(path), ".checkpoint-*.tmp"))
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestCheckpoint_Tampered(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cp.json")
	cp := NewCheckpoint("k")
	cp.markDone("A 2000", "run-1")
	require.NoError(t, SaveCheckpoint(cp, path))

	var raw map[string]any
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &raw))
	raw["completed"] = map[string]string{"A 2000": "run-1", "B 2000": "forged"}
	data, err = json.Marshal(raw)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0600))

	_, err = LoadCheckpoint(path)
	assert.ErrorIs(t, err, ErrCheckpointCorrupt)
}

func TestLoadCheckpoint_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadCheckpoint("")
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = LoadCheckpoint(filepath.Join(dir, "missing"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	garbage := filepath.Join(dir, "garbage")
	require.NoError(t, os.WriteFile(garbage, []byte("{not json"), 0600))
	_, err = LoadCheckpoint(garbage)
	assert.ErrorIs(t, err, ErrCheckpointCorrupt)

	old := filepath.Join(dir, "old")
	require.NoError(t, os.WriteFile(old, []byte(`{"version":"0.1.0"}`), 0600))
	_, err = LoadCheckpoint(old)
	assert.ErrorIs(t, err, ErrCheckpointVersionMismatch)
}

func TestSaveCheckpoint_Errors(t *testing.T) {
	assert.ErrorIs(t, SaveCheckpoint(nil, "x"), ErrInvalidInput)
	assert.ErrorIs(t, SaveCheckpoint(NewCheckpoint("k"), ""), ErrInvalidInput)
}

func TestBatchKey_OrderIndependent(t *testing.T) {
	a := BatchKey([]string{"A 2000", "B 2000"})
	b := BatchKey([]string{"B 2000", "A 2000"})
	c := BatchKey([]string{"A 2000"})
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 16)
	assert.NotEqual(t, BatchKey([]string{"AB", "C"}), BatchKey([]string{"A", "BC"}))
}
